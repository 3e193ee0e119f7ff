package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

type format int

const (
	formatWorkbook format = iota + 1
	formatCSV
)

func detectFormat(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return formatWorkbook, nil
	case ".csv":
		return formatCSV, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
}

// Load reads one sheet into a Handle. An empty sheet name selects the first
// worksheet; CSV files have a single table and ignore the sheet name.
func Load(path, sheet string) (*Handle, error) {
	kind, err := detectFormat(path)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		grid [][]any
		name string
	)
	switch kind {
	case formatCSV:
		grid, err = readCSV(path)
	default:
		name, grid, err = readWorkbook(path, sheet)
	}
	if err != nil {
		return nil, err
	}

	h := newHandle(path, name, grid)
	log.Debug().
		Str("path", path).
		Str("sheet", name).
		Int("rows", h.Rows()).
		Int("columns", len(h.Columns)).
		Dur("duration", time.Since(start)).
		Msg("Sheet loaded")
	return h, nil
}

// Sheets lists the worksheet names of a workbook. A CSV file reports a
// single unnamed sheet.
func Sheets(path string) ([]string, error) {
	kind, err := detectFormat(path)
	if err != nil {
		return nil, err
	}
	if kind == formatCSV {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		return []string{""}, nil
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

func readCSV(path string) ([][]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%s is not valid UTF-8 text", path)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	grid := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, len(rec))
		for j, field := range rec {
			row[j] = field
		}
		grid[i] = row
	}
	return grid, nil
}

func readWorkbook(path, sheet string) (string, [][]any, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", nil, ErrNoSheets
	}
	name := sheets[0]
	if sheet != "" {
		if !slices.Contains(sheets, sheet) {
			return "", nil, fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
		}
		name = sheet
	}

	raw, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return "", nil, fmt.Errorf("read sheet %q: %w", name, err)
	}

	cr := &cellReader{f: f, sheet: name, dateStyles: make(map[int]bool)}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		cr.date1904 = *props.Date1904
	}

	grid := make([][]any, 0, len(raw))
	for r, row := range raw {
		if blankRow(row) {
			continue
		}
		cells := make([]any, len(row))
		for c, text := range row {
			if text == "" {
				continue
			}
			cells[c] = cr.value(c+1, r+1, text)
		}
		grid = append(grid, cells)
	}
	return name, grid, nil
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if cell != "" {
			return false
		}
	}
	return true
}

// cellReader types raw workbook cells: booleans and date-formatted numbers
// become bool and time.Time, everything else stays text for parseCell.
type cellReader struct {
	f          *excelize.File
	sheet      string
	date1904   bool
	dateStyles map[int]bool
}

func (cr *cellReader) value(col, row int, text string) any {
	ref, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return text
	}
	typ, err := cr.f.GetCellType(cr.sheet, ref)
	if err != nil {
		return text
	}

	switch typ {
	case excelize.CellTypeBool:
		return text == "1" || strings.EqualFold(text, "true")
	case excelize.CellTypeDate:
		if t, ok := parseISOTime(text); ok {
			return t
		}
		return text
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		if !cr.dateStyled(ref) {
			return text
		}
		serial, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return text
		}
		t, err := excelize.ExcelDateToTime(serial, cr.date1904)
		if err != nil {
			return text
		}
		return t.Round(time.Millisecond)
	default:
		return text
	}
}

func (cr *cellReader) dateStyled(ref string) bool {
	id, err := cr.f.GetCellStyle(cr.sheet, ref)
	if err != nil || id == 0 {
		return false
	}
	if known, ok := cr.dateStyles[id]; ok {
		return known
	}
	isDate := false
	if style, err := cr.f.GetStyle(id); err == nil && style != nil {
		isDate = isDateNumFmt(style.NumFmt)
		if style.CustomNumFmt != nil {
			isDate = isDateFormatCode(*style.CustomNumFmt)
		}
	}
	cr.dateStyles[id] = isDate
	return isDate
}

// isDateNumFmt reports whether a built-in number format id renders dates or
// times, including the East Asian locale ids.
func isDateNumFmt(id int) bool {
	switch {
	case id >= 14 && id <= 22, id >= 45 && id <= 47:
		return true
	case id >= 27 && id <= 36, id >= 50 && id <= 58:
		return true
	}
	return false
}

// isDateFormatCode inspects a custom number format for date or time tokens,
// ignoring quoted literals, escaped characters and bracketed sections other
// than elapsed-time markers.
func isDateFormatCode(code string) bool {
	section := code
	if i := strings.IndexByte(section, ';'); i >= 0 {
		section = section[:i]
	}

	var b, bracket strings.Builder
	inQuote, inBracket := false, false
	for i := 0; i < len(section); i++ {
		ch := section[i]
		switch {
		case inQuote:
			inQuote = ch != '"'
		case inBracket:
			if ch != ']' {
				bracket.WriteByte(ch)
				continue
			}
			inBracket = false
			if elapsed := strings.ToLower(bracket.String()); elapsed != "" && strings.Trim(elapsed, "hms") == "" {
				b.WriteString(elapsed)
			}
			bracket.Reset()
		case ch == '"':
			inQuote = true
		case ch == '[':
			inBracket = true
		case ch == '\\' || ch == '_' || ch == '*':
			i++
		default:
			b.WriteByte(ch)
		}
	}
	return strings.ContainsAny(strings.ToLower(b.String()), "ymdhs")
}

func parseISOTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", dateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
