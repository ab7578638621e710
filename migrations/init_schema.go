package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// Tables the importer reads and writes
var requiredTables = []string{"problems", "problem_issues"}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS problems (
		id                 UUID PRIMARY KEY,
		seq_index          INTEGER NOT NULL,
		exam_code          TEXT,
		problem_number     INTEGER,
		organization       TEXT NOT NULL,
		subject            TEXT NOT NULL,
		sub_category       TEXT,
		exam_year          INTEGER NOT NULL,
		question_kind      TEXT NOT NULL,
		answer             TEXT,
		difficulty         TEXT,
		score              DOUBLE PRECISION,
		correct_rate       DOUBLE PRECISION,
		choice_rate_1      DOUBLE PRECISION,
		choice_rate_2      DOUBLE PRECISION,
		choice_rate_3      DOUBLE PRECISION,
		choice_rate_4      DOUBLE PRECISION,
		choice_rate_5      DOUBLE PRECISION,
		problem_posted     BOOLEAN NOT NULL DEFAULT FALSE,
		problem_worker     TEXT,
		problem_work_date  TIMESTAMPTZ,
		solution_posted    BOOLEAN NOT NULL DEFAULT FALSE,
		solution_worker    TEXT,
		solution_work_date TIMESTAMPTZ,
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL,
		UNIQUE (subject, seq_index),
		UNIQUE (exam_code, problem_number)
	)`,
	`CREATE TABLE IF NOT EXISTS problem_issues (
		id         UUID PRIMARY KEY,
		problem_id UUID NOT NULL REFERENCES problems(id),
		code       TEXT NOT NULL,
		severity   TEXT NOT NULL,
		field      TEXT NOT NULL DEFAULT '',
		message    TEXT NOT NULL,
		resolved   BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		ordinal    INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_problem_issues_problem ON problem_issues (problem_id, resolved)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS problems (
		id                 TEXT PRIMARY KEY,
		seq_index          INTEGER NOT NULL,
		exam_code          TEXT,
		problem_number     INTEGER,
		organization       TEXT NOT NULL,
		subject            TEXT NOT NULL,
		sub_category       TEXT,
		exam_year          INTEGER NOT NULL,
		question_kind      TEXT NOT NULL,
		answer             TEXT,
		difficulty         TEXT,
		score              REAL,
		correct_rate       REAL,
		choice_rate_1      REAL,
		choice_rate_2      REAL,
		choice_rate_3      REAL,
		choice_rate_4      REAL,
		choice_rate_5      REAL,
		problem_posted     BOOLEAN NOT NULL DEFAULT 0,
		problem_worker     TEXT,
		problem_work_date  DATETIME,
		solution_posted    BOOLEAN NOT NULL DEFAULT 0,
		solution_worker    TEXT,
		solution_work_date DATETIME,
		created_at         DATETIME NOT NULL,
		updated_at         DATETIME NOT NULL,
		UNIQUE (subject, seq_index),
		UNIQUE (exam_code, problem_number)
	)`,
	`CREATE TABLE IF NOT EXISTS problem_issues (
		id         TEXT PRIMARY KEY,
		problem_id TEXT NOT NULL REFERENCES problems(id),
		code       TEXT NOT NULL,
		severity   TEXT NOT NULL,
		field      TEXT NOT NULL DEFAULT '',
		message    TEXT NOT NULL,
		resolved   BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		ordinal    INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_problem_issues_problem ON problem_issues (problem_id, resolved)`,
}

// InitSchema creates the problem tables if they are missing and verifies
// that all required tables exist afterwards.
func InitSchema(ctx context.Context, db *sql.DB, driver string) error {
	var stmts []string
	var existsQuery string
	switch driver {
	case "postgres":
		stmts = postgresSchema
		existsQuery = `
			SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_schema = 'public'
				AND table_name = $1
			)`
	case "sqlite":
		stmts = sqliteSchema
		existsQuery = `SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?)`
	default:
		return fmt.Errorf("no schema for driver %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	for _, table := range requiredTables {
		var exists bool
		if err := db.QueryRowContext(ctx, existsQuery, table).Scan(&exists); err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}
