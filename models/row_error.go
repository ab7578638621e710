package models

import "fmt"

// ErrorKind tags where in the pipeline a row error was raised
type ErrorKind string

const (
	// ErrorKindParse is a row dropped by the normalizer.
	ErrorKindParse ErrorKind = "parse"
	// ErrorKindWrite is a single record whose update call failed.
	ErrorKindWrite ErrorKind = "write"
	// ErrorKindBatch is a fatal error that failed a whole batch.
	ErrorKindBatch ErrorKind = "batch"
)

// RowError is a row-tagged failure reported back to the caller. Row is the
// 1-based source row number within Sheet; batch errors carry the first row
// of the batch.
type RowError struct {
	Kind    ErrorKind `json:"kind"`
	Sheet   string    `json:"sheet,omitempty"`
	Row     int       `json:"row"`
	Field   string    `json:"field,omitempty"`
	Message string    `json:"message"`
}

func (e RowError) Error() string {
	loc := fmt.Sprintf("row %d", e.Row)
	if e.Sheet != "" {
		loc = fmt.Sprintf("%s row %d", e.Sheet, e.Row)
	}
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (%s): %s", e.Kind, loc, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, loc, e.Message)
}
