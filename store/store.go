// Package store persists problems and their validation issues.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/models"
)

var (
	// ErrNotFound is returned when no problem matches the given key.
	ErrNotFound = errors.New("problem not found")
	// ErrConflict is returned when a write would break a uniqueness constraint.
	ErrConflict = errors.New("uniqueness constraint violated")
)

// Store is the persistence surface the importer works against.
type Store interface {
	// FindBySeqKeys returns the stored problems matching any of keys.
	FindBySeqKeys(ctx context.Context, keys []models.SeqKey) ([]models.StoredProblem, error)
	// FindExamKeys returns the subset of keys already held by a stored problem.
	FindExamKeys(ctx context.Context, keys []models.ExamKey) ([]models.ExamKey, error)
	// InsertIgnoreDuplicates inserts problems, silently dropping any row that
	// collides with an existing one on either key. It returns the number of
	// rows actually inserted.
	InsertIgnoreDuplicates(ctx context.Context, problems []models.Problem) (int, error)
	// UpdateBySeqKey overwrites every mutable field of the problem at key.
	UpdateBySeqKey(ctx context.Context, key models.SeqKey, p models.Problem) (models.StoredProblem, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.StoredProblem, error)
	// ListIDs pages through problem identities in a stable order.
	ListIDs(ctx context.Context, offset, limit int) ([]uuid.UUID, error)
	// DeleteUnresolvedIssues removes unresolved issues of exactly these problems.
	DeleteUnresolvedIssues(ctx context.Context, problemIDs []uuid.UUID) error
	InsertIssues(ctx context.Context, issues []models.Issue) error

	SubjectSummaries(ctx context.Context) ([]SubjectSummary, error)
	IssueCounts(ctx context.Context) ([]IssueCount, error)
}

// SubjectSummary is one row of the per-subject progress report.
type SubjectSummary struct {
	Subject        string
	Total          int
	ProblemPosted  int
	SolutionPosted int
	OpenErrors     int
	OpenWarnings   int
}

// IssueCount is the number of unresolved issues for one rule code.
type IssueCount struct {
	Code     string
	Severity models.Severity
	Count    int
}
