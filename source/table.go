// Package source decodes spreadsheets into header/row tables the importer
// normalizes. Every adapter yields the same Table shape.
package source

import (
	"errors"
	"strings"
)

// ErrNoHeader is returned for a sheet without any non-empty row.
var ErrNoHeader = errors.New("no header row")

// Table is one sheet of raw cells. FirstRow is the 1-based source row number
// of Rows[0].
type Table struct {
	Name     string
	Header   []string
	Rows     [][]string
	FirstRow int
}

// newTable takes the first non-empty record as the header and the records
// after it as data rows.
func newTable(name string, records [][]string) (Table, error) {
	for i, rec := range records {
		if blankRecord(rec) {
			continue
		}
		header := make([]string, len(rec))
		for j, h := range rec {
			header[j] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		}
		return Table{
			Name:     name,
			Header:   header,
			Rows:     records[i+1:],
			FirstRow: i + 2,
		}, nil
	}
	return Table{}, ErrNoHeader
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Skip reports whether a sheet should be left out of an import.
type Skip func(name string) bool

// SkipNames returns a Skip matching the given names case-insensitively.
func SkipNames(names []string) Skip {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[strings.ToLower(strings.TrimSpace(n))] = true
	}
	return func(name string) bool {
		return set[strings.ToLower(strings.TrimSpace(name))]
	}
}
