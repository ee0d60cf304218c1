// Package sheet writes and reads the tabular stage outputs: xlsx
// workbooks (excelize) and CSV.
package sheet

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/tiroq/audiopipe/internal/fileutil"
)

// Table is one worksheet: a header row followed by data rows.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// WriteXLSX writes tables as worksheets of one workbook. The first table is
// the active sheet. The file is replaced atomically.
func WriteXLSX(path string, tables ...Table) error {
	if len(tables) == 0 {
		return fmt.Errorf("sheet: no tables to write")
	}
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	for i, t := range tables {
		name := t.Name
		if name == "" {
			name = fmt.Sprintf("Sheet%d", i+1)
		}
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
				return fmt.Errorf("sheet: rename %q: %w", name, err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("sheet: add %q: %w", name, err)
		}
		if err := writeRows(f, name, t); err != nil {
			return fmt.Errorf("sheet: %s: %w", name, err)
		}
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return fmt.Errorf("sheet: encode: %w", err)
	}
	if err := fileutil.AtomicWriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("sheet: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, name string, t Table) error {
	header := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return err
	}
	for r, row := range t.Rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(name, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

// ReadXLSX loads every worksheet. Cell values come back as strings; the
// first row of each sheet becomes Columns.
func ReadXLSX(path string) ([]Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("sheet: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var tables []Table
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("sheet: read %s: %w", name, err)
		}
		t := Table{Name: name}
		for i, row := range rows {
			if i == 0 {
				t.Columns = row
				continue
			}
			vals := make([]any, len(row))
			for j, v := range row {
				vals[j] = v
			}
			t.Rows = append(t.Rows, vals)
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// WriteCSV writes one table as CSV with a header row.
func WriteCSV(path string, t Table) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Columns); err != nil {
		return fmt.Errorf("sheet: csv: %w", err)
	}
	for _, row := range t.Rows {
		rec := make([]string, len(row))
		for i, v := range row {
			rec[i] = fmt.Sprint(v)
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("sheet: csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("sheet: csv: %w", err)
	}
	if err := fileutil.AtomicWriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("sheet: %w", err)
	}
	return nil
}
