package tabular

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ExportCSV writes the handle to outPath as comma-separated text with a
// header row, creating parent directories. Column and row order follow the
// source; missing values become empty fields.
func ExportCSV(h *Handle, outPath string) error {
	if dir := filepath.Dir(outPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	file, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer file.Close()

	bw := bufio.NewWriter(file)
	w := csv.NewWriter(bw)

	if err := writeRecord(w, bw, h.ColumnNames()); err != nil {
		return err
	}

	dateOnly := make([]bool, len(h.Columns))
	for i, c := range h.Columns {
		dateOnly[i] = c.DType == Datetime && allMidnight(c)
	}

	record := make([]string, len(h.Columns))
	for r := 0; r < h.Rows(); r++ {
		for i, c := range h.Columns {
			record[i] = csvField(c.Values[r], dateOnly[i])
		}
		if err := writeRecord(w, bw, record); err != nil {
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return file.Close()
}

// writeRecord quotes a record made of one empty field, which would otherwise
// be written as a blank line and skipped when the file is read back.
func writeRecord(w *csv.Writer, bw *bufio.Writer, record []string) error {
	if len(record) == 1 && record[0] == "" {
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
		_, err := bw.WriteString("\"\"\n")
		return err
	}
	return w.Write(record)
}

func csvField(v any, dateOnly bool) string {
	switch x := v.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(x, 10)
	case time.Time:
		if dateOnly {
			return x.Format(dateLayout)
		}
		return formatTime(x)
	default:
		return formatPlain(x)
	}
}

func allMidnight(c *Column) bool {
	for _, v := range c.Values {
		if t, ok := v.(time.Time); ok && !isMidnight(t) {
			return false
		}
	}
	return true
}
