package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/models"
)

// Dialect captures the few places Postgres and SQLite disagree.
type Dialect struct {
	Name string
	// DriverName is the database/sql driver the dialect is registered under.
	DriverName string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// IsUniqueViolation reports whether err came from a unique constraint.
	IsUniqueViolation func(err error) bool
}

// Postgres uses lib/pq.
var Postgres = Dialect{
	Name:       "postgres",
	DriverName: "postgres",
	Placeholder: func(n int) string {
		return fmt.Sprintf("$%d", n)
	},
	IsUniqueViolation: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == "23505"
	},
}

// SQLite uses the pure-Go modernc driver.
var SQLite = Dialect{
	Name:       "sqlite",
	DriverName: "sqlite",
	Placeholder: func(int) string {
		return "?"
	},
	IsUniqueViolation: func(err error) bool {
		var sqErr *sqlite.Error
		if !errors.As(err, &sqErr) {
			return false
		}
		switch code := sqErr.Code(); {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case code&0xff == sqlite3.SQLITE_CONSTRAINT:
			// primary result code only, when extended codes are off
			return strings.Contains(sqErr.Error(), "UNIQUE")
		default:
			return false
		}
	},
}

// DialectFor returns the dialect for a DB_DRIVER value.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "postgres", "postgresql", "pg":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// args accumulates bind parameters and renders their placeholders.
type args struct {
	d    Dialect
	vals []interface{}
}

func (a *args) add(v interface{}) string {
	a.vals = append(a.vals, driverValue(v))
	return a.d.Placeholder(len(a.vals))
}

// driverValue flattens optional and named types into plain driver values so
// neither driver has to know about them.
func driverValue(v interface{}) interface{} {
	switch t := v.(type) {
	case int:
		return int64(t)
	case *int:
		if t == nil {
			return nil
		}
		return int64(*t)
	case *string:
		if t == nil {
			return nil
		}
		return *t
	case *float64:
		if t == nil {
			return nil
		}
		return *t
	case *time.Time:
		if t == nil {
			return nil
		}
		return *t
	case uuid.UUID:
		return t.String()
	case models.QuestionKind:
		return string(t)
	case models.Severity:
		return string(t)
	default:
		return v
	}
}
