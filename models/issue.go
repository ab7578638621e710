package models

import (
	"time"

	"github.com/google/uuid"
)

// Severity of a validation issue
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue represents a validation finding attached to one stored problem.
// Unresolved issues are replaced wholesale whenever the problem is written;
// resolved ones are kept for audit.
type Issue struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ProblemID uuid.UUID `db:"problem_id" json:"problem_id"`
	Code      string    `db:"code" json:"code"`
	Severity  Severity  `db:"severity" json:"severity"`
	Field     string    `db:"field" json:"field,omitempty"`
	Message   string    `db:"message" json:"message"`
	Resolved  bool      `db:"resolved" json:"resolved"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
