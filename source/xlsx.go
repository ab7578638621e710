package source

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/xuri/excelize/v2"
)

// DecodeXLSX reads every sheet of a workbook into its own table. Cell values
// come back unformatted so dates arrive as day serials and percentages as
// fractions. Sheets matched by skip, and sheets with no header, are left out.
func DecodeXLSX(r io.Reader, skip Skip) ([]Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var tables []Table
	for _, sheet := range f.GetSheetList() {
		if skip != nil && skip(sheet) {
			continue
		}
		rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		table, err := newTable(sheet, rows)
		if errors.Is(err, ErrNoHeader) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("workbook: %w", ErrNoHeader)
	}
	return tables, nil
}

// OpenXLSX reads a workbook file.
func OpenXLSX(path string, skip Skip) ([]Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()
	return DecodeXLSX(file, skip)
}
