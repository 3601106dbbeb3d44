package sheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	appLog "ttcatalog/internal/log"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither xlsx nor csv.
	ErrUnsupportedFormat = errors.New("sheet: unsupported file format")
	// ErrMissingHeader is returned when a required column cannot be resolved.
	ErrMissingHeader = errors.New("sheet: missing header")
	// ErrEmpty is returned for a sheet without a header row.
	ErrEmpty = errors.New("sheet: no header row")
)

// Table is a tabular data source: a header row followed by data rows.
type Table struct {
	// Name identifies the source in diagnostics (usually the file name).
	Name    string
	Headers []string
	Rows    []Row

	index map[string]int
}

// Row is one data row. Cells are addressed by position; see Table.Index.
type Row struct {
	// Line is the 1-based row number in the source (the header is line 1).
	Line  int
	cells []string
}

// byteOrderMark prefixes files saved as Excel "CSV UTF-8".
const byteOrderMark = "\ufeff"

// NewTable builds a Table from raw records; records[0] is the header row.
// Header cells are trimmed and a leading UTF-8 byte order mark is removed.
// Rows where every cell is blank are dropped.
func NewTable(name string, records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmpty, name)
	}

	t := &Table{
		Name:    name,
		Headers: make([]string, len(records[0])),
		index:   make(map[string]int, len(records[0])),
	}
	for i, h := range records[0] {
		if i == 0 {
			h = strings.TrimPrefix(h, byteOrderMark)
		}
		h = strings.TrimSpace(h)
		t.Headers[i] = h
		// First occurrence wins for duplicated headers.
		if _, ok := t.index[h]; !ok {
			t.index[h] = i
		}
	}

	t.Rows = make([]Row, 0, len(records)-1)
	for i, rec := range records[1:] {
		if blank(rec) {
			appLog.Debug("sheet: skipping blank row", "source", name, "line", i+2)
			continue
		}
		t.Rows = append(t.Rows, Row{Line: i + 2, cells: rec})
	}
	return t, nil
}

// Index returns the position of the named column.
func (t *Table) Index(name string) (int, error) {
	i, ok := t.index[name]
	if !ok {
		return -1, fmt.Errorf("%w %q in %s", ErrMissingHeader, name, t.Name)
	}
	return i, nil
}

// Cell returns the raw cell at position i; ok is false when absent or empty.
func (r Row) Cell(i int) (string, bool) {
	if i < 0 || i >= len(r.cells) {
		return "", false
	}
	v := r.cells[i]
	if v == "" {
		return "", false
	}
	return v, true
}

// Read loads a table from path, choosing the decoder by file extension.
// For workbooks the active sheet is used.
func Read(path string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(path)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ReadCSV(filepath.Base(path), f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// ReadXLSX reads the active worksheet of an Excel workbook.
func ReadXLSX(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("sheet: open %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			appLog.Error("sheet: close workbook failed", cerr, "path", path)
		}
	}()

	name := f.GetSheetName(f.GetActiveSheetIndex())
	rows, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("sheet: read %s!%s: %w", path, name, err)
	}

	appLog.Debug("sheet: workbook loaded", "path", path, "sheet", name, "rows", len(rows))
	return NewTable(filepath.Base(path), rows)
}

// ReadCSV reads comma-separated records from r. Rows may have a varying
// number of fields; short rows simply have absent trailing cells.
func ReadCSV(name string, r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("sheet: read %s: %w", name, err)
	}
	return NewTable(name, records)
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
