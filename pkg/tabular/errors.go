package tabular

import "errors"

var (
	// ErrUnsupportedFormat is returned for files that are neither workbooks nor CSV
	ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")

	// ErrSheetNotFound is returned when the named worksheet does not exist
	ErrSheetNotFound = errors.New("worksheet not found")

	// ErrNoSheets is returned for a workbook without worksheets
	ErrNoSheets = errors.New("workbook has no worksheets")

	// ErrColumnNotFound is returned when a referenced column is missing
	ErrColumnNotFound = errors.New("column not found")

	// ErrUnknownAggregation is returned for aggregation names outside the supported set
	ErrUnknownAggregation = errors.New("unknown aggregation")

	// ErrNotNumeric is returned when a numeric aggregation meets a non-numeric column
	ErrNotNumeric = errors.New("aggregation requires a numeric column")

	// ErrIncomparable is returned when min/max meet values of different kinds
	ErrIncomparable = errors.New("values are not comparable")
)
