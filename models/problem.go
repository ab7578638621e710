package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QuestionKind is the answer format of a problem
type QuestionKind string

const (
	KindMultipleChoice QuestionKind = "multiple_choice"
	KindFreeResponse   QuestionKind = "free_response"
)

// ChoiceCount is the number of options on a multiple-choice problem
const ChoiceCount = 5

// Problem represents one exam problem as it comes out of ingestion.
// (Subject, Index) identifies it; (ExamCode, ProblemNumber) is a second,
// independent uniqueness scope that only applies when ExamCode is set.
type Problem struct {
	Index         int          `db:"seq_index" json:"index"`
	ExamCode      *string      `db:"exam_code" json:"exam_code,omitempty"`
	ProblemNumber *int         `db:"problem_number" json:"problem_number,omitempty"`
	Organization  string       `db:"organization" json:"organization"`
	Subject       string       `db:"subject" json:"subject"`
	SubCategory   *string      `db:"sub_category" json:"sub_category,omitempty"`
	ExamYear      int          `db:"exam_year" json:"exam_year"`
	Kind          QuestionKind `db:"question_kind" json:"question_kind"`
	Answer        *string      `db:"answer" json:"answer,omitempty"`
	Difficulty    *string      `db:"difficulty" json:"difficulty,omitempty"`
	Score         *float64     `db:"score" json:"score,omitempty"`
	CorrectRate   *float64     `db:"correct_rate" json:"correct_rate,omitempty"`

	ChoiceRates [ChoiceCount]*float64 `db:"-" json:"choice_rates"`

	ProblemPosted    bool       `db:"problem_posted" json:"problem_posted"`
	ProblemWorker    *string    `db:"problem_worker" json:"problem_worker,omitempty"`
	ProblemWorkDate  *time.Time `db:"problem_work_date" json:"problem_work_date,omitempty"`
	SolutionPosted   bool       `db:"solution_posted" json:"solution_posted"`
	SolutionWorker   *string    `db:"solution_worker" json:"solution_worker,omitempty"`
	SolutionWorkDate *time.Time `db:"solution_work_date" json:"solution_work_date,omitempty"`
}

// StoredProblem is a persisted Problem with its generated identity
type StoredProblem struct {
	ID uuid.UUID `db:"id" json:"id"`
	Problem
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SeqKey is the (subject, index) uniqueness scope.
type SeqKey struct {
	Subject string
	Index   int
}

func (k SeqKey) String() string {
	return fmt.Sprintf("%s|%d", k.Subject, k.Index)
}

// ExamKey is the (exam code, problem number) uniqueness scope.
type ExamKey struct {
	ExamCode      string
	ProblemNumber int
}

func (k ExamKey) String() string {
	return fmt.Sprintf("%s|%d", k.ExamCode, k.ProblemNumber)
}

// SeqKey returns the (subject, index) key of the problem.
func (p Problem) SeqKey() SeqKey {
	return SeqKey{Subject: p.Subject, Index: p.Index}
}

// ExamKey returns the exam-code key and whether the problem has one. A
// problem without both an exam code and a problem number does not occupy the
// exam-code scope.
func (p Problem) ExamKey() (ExamKey, bool) {
	if p.ExamCode == nil || p.ProblemNumber == nil {
		return ExamKey{}, false
	}
	return ExamKey{ExamCode: *p.ExamCode, ProblemNumber: *p.ProblemNumber}, true
}

// Equal reports whether every mutable attribute of p and o matches. Dates are
// equal when both are nil or both hold the same instant.
func (p Problem) Equal(o Problem) bool {
	if p.Index != o.Index ||
		p.Organization != o.Organization ||
		p.Subject != o.Subject ||
		p.ExamYear != o.ExamYear ||
		p.Kind != o.Kind ||
		p.ProblemPosted != o.ProblemPosted ||
		p.SolutionPosted != o.SolutionPosted {
		return false
	}
	if !eqPtr(p.ExamCode, o.ExamCode) ||
		!eqPtr(p.ProblemNumber, o.ProblemNumber) ||
		!eqPtr(p.SubCategory, o.SubCategory) ||
		!eqPtr(p.Answer, o.Answer) ||
		!eqPtr(p.Difficulty, o.Difficulty) ||
		!eqPtr(p.Score, o.Score) ||
		!eqPtr(p.CorrectRate, o.CorrectRate) ||
		!eqPtr(p.ProblemWorker, o.ProblemWorker) ||
		!eqPtr(p.SolutionWorker, o.SolutionWorker) {
		return false
	}
	for i := range p.ChoiceRates {
		if !eqPtr(p.ChoiceRates[i], o.ChoiceRates[i]) {
			return false
		}
	}
	return eqTime(p.ProblemWorkDate, o.ProblemWorkDate) &&
		eqTime(p.SolutionWorkDate, o.SolutionWorkDate)
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func eqTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
