package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ReadCSV decodes one CSV document into a table called name. Rows may have
// differing lengths.
func ReadCSV(r io.Reader, name string) (Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("read csv %s: %w", name, err)
	}
	table, err := newTable(name, records)
	if err != nil {
		return Table{}, fmt.Errorf("csv %s: %w", name, err)
	}
	return table, nil
}

// OpenCSV reads a CSV file. The table is named after the file without its
// extension, which is what a blank subject falls back to.
func OpenCSV(path string) (Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	base := filepath.Base(path)
	return ReadCSV(file, strings.TrimSuffix(base, filepath.Ext(base)))
}
