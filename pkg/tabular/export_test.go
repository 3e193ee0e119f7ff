package tabular

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportCSV(t *testing.T) {
	h := loadSales(t)
	out := filepath.Join(t.TempDir(), "sales.csv")

	require.NoError(t, ExportCSV(h, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	want := "Region,Product,Units,Price,Shipped\n" +
		"North,A,10,2.5,2024-01-05\n" +
		"South,B,7,3.25,2024-01-06\n" +
		"North,B,5,,2024-02-01\n" +
		"South,A,3,1.5,2024-02-03\n" +
		"North,A,2,4.0,2024-03-01\n"
	assert.Equal(t, want, string(data))
}

func TestExportCSV_RoundTrip(t *testing.T) {
	h := loadSales(t)
	out := filepath.Join(t.TempDir(), "sales.csv")
	require.NoError(t, ExportCSV(h, out))

	back, err := Load(out, "")
	require.NoError(t, err)

	assert.Equal(t, h.ColumnNames(), back.ColumnNames())
	assert.Equal(t, h.Rows(), back.Rows())

	for _, name := range []string{"Region", "Product", "Units", "Price"} {
		orig, _ := h.Column(name)
		got, _ := back.Column(name)
		assert.Equal(t, orig.DType, got.DType, name)
		assert.Equal(t, orig.Values, got.Values, name)
	}
}

func TestExportCSV_CreatesDirectories(t *testing.T) {
	out := filepath.Join(t.TempDir(), "a", "b", "c", "out.csv")
	h := handleOf(&Column{Name: "n", DType: Int64, Values: []any{int64(1)}})

	require.NoError(t, ExportCSV(h, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "n\n1\n", string(data))
}

func TestExportCSV_Overwrites(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(out, []byte("stale,content\n1,2\n3,4\n"), 0644))

	h := handleOf(&Column{Name: "n", DType: Int64, Values: []any{int64(7)}})
	require.NoError(t, ExportCSV(h, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "n\n7\n", string(data))
}

func TestExportCSV_Fields(t *testing.T) {
	h := handleOf(
		&Column{Name: "text", DType: Object, Values: []any{"a,b", "say \"hi\"", nil}},
		&Column{Name: "flag", DType: Bool, Values: []any{true, false, true}},
		&Column{Name: "at", DType: Datetime, Values: []any{
			time.Date(2024, 5, 1, 13, 30, 0, 0, time.UTC),
			time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
			nil,
		}},
	)
	out := filepath.Join(t.TempDir(), "fields.csv")
	require.NoError(t, ExportCSV(h, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	want := "text,flag,at\n" +
		"\"a,b\",True,2024-05-01 13:30:00\n" +
		"\"say \"\"hi\"\"\",False,2024-05-02 00:00:00\n" +
		",True,\n"
	assert.Equal(t, want, string(data))
}

func TestExportCSV_LoneEmptyField(t *testing.T) {
	h := handleOf(&Column{Name: "x", DType: Float64, Values: []any{nil, 1.0}})
	out := filepath.Join(t.TempDir(), "lone.csv")
	require.NoError(t, ExportCSV(h, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "x\n\"\"\n1.0\n", string(data))

	back, err := Load(out, "")
	require.NoError(t, err)
	assert.Equal(t, 2, back.Rows())
	x, _ := back.Column("x")
	assert.Equal(t, []any{nil, 1.0}, x.Values)
}

func TestExportCSV_UnwritableTarget(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	h := handleOf(&Column{Name: "n", DType: Int64, Values: []any{int64(1)}})
	assert.Error(t, ExportCSV(h, filepath.Join(blocker, "out.csv")))
}
