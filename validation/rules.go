// Package validation holds the declarative rule set run against every stored
// problem after it is created or updated.
package validation

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/models"
)

// Rule codes
const (
	CodeMissingSubject         = "MISSING_SUBJECT"
	CodeMissingOrganization    = "MISSING_ORGANIZATION"
	CodeMissingProblemNumber   = "MISSING_PROBLEM_NUMBER"
	CodeMissingExamCode        = "MISSING_EXAM_CODE"
	CodePostedWithoutAnswer    = "POSTED_WITHOUT_ANSWER"
	CodePostedWithoutScore     = "POSTED_WITHOUT_SCORE"
	CodeSolutionNoDifficulty   = "SOLUTION_WITHOUT_DIFFICULTY"
	CodeInvalidAnswerRange     = "INVALID_ANSWER_RANGE"
	CodeInvalidExamYear        = "INVALID_EXAM_YEAR"
	CodeInvalidCorrectRate     = "INVALID_CORRECT_RATE"
	CodeInvalidChoiceRateSum   = "INVALID_CHOICE_RATE_SUM"
	CodeChoiceRatesMissing     = "CHOICE_RATES_MISSING"
	CodeUnexpectedChoiceRate   = "UNEXPECTED_CHOICE_RATE"
	CodeIncompletePosted       = "INCOMPLETE_POSTED_PROBLEM"
	CodeSolutionWithoutProblem = "SOLUTION_WITHOUT_PROBLEM"
)

const (
	minExamYear         = 1900
	maxExamYear         = 2100
	choiceRateTolerance = 0.5
)

// Rule is one check over a stored problem. Fires reports whether the rule
// produces an issue; Message renders it.
type Rule struct {
	Code     string
	Severity models.Severity
	Field    string
	Fires    func(p models.StoredProblem) bool
	Message  func(p models.StoredProblem) string
}

// Rules is the rule set in declaration order. Issues come out in this order.
var Rules = []Rule{
	{
		Code:     CodeMissingSubject,
		Severity: models.SeverityError,
		Field:    "subject",
		Fires:    func(p models.StoredProblem) bool { return blank(p.Subject) },
		Message:  fixed("subject is missing"),
	},
	{
		Code:     CodeMissingOrganization,
		Severity: models.SeverityError,
		Field:    "organization",
		Fires:    func(p models.StoredProblem) bool { return blank(p.Organization) },
		Message:  fixed("organization is missing"),
	},
	{
		Code:     CodeMissingProblemNumber,
		Severity: models.SeverityError,
		Field:    "problem_number",
		Fires:    func(p models.StoredProblem) bool { return p.ProblemNumber == nil },
		Message:  fixed("problem number is missing"),
	},
	{
		Code:     CodeMissingExamCode,
		Severity: models.SeverityWarning,
		Field:    "exam_code",
		Fires:    func(p models.StoredProblem) bool { return blankPtr(p.ExamCode) },
		Message:  fixed("exam code is missing"),
	},
	{
		Code:     CodePostedWithoutAnswer,
		Severity: models.SeverityError,
		Field:    "answer",
		Fires:    func(p models.StoredProblem) bool { return p.ProblemPosted && blankPtr(p.Answer) },
		Message:  fixed("problem is posted but has no answer"),
	},
	{
		Code:     CodePostedWithoutScore,
		Severity: models.SeverityError,
		Field:    "score",
		Fires:    func(p models.StoredProblem) bool { return p.ProblemPosted && p.Score == nil },
		Message:  fixed("problem is posted but has no score"),
	},
	{
		Code:     CodeSolutionNoDifficulty,
		Severity: models.SeverityWarning,
		Field:    "difficulty",
		Fires:    func(p models.StoredProblem) bool { return p.SolutionPosted && blankPtr(p.Difficulty) },
		Message:  fixed("solution is posted but difficulty is missing"),
	},
	{
		Code:     CodeInvalidAnswerRange,
		Severity: models.SeverityError,
		Field:    "answer",
		Fires: func(p models.StoredProblem) bool {
			if p.Kind != models.KindMultipleChoice || blankPtr(p.Answer) {
				return false
			}
			n, err := strconv.Atoi(strings.TrimSpace(*p.Answer))
			return err != nil || n < 1 || n > models.ChoiceCount
		},
		Message: func(p models.StoredProblem) string {
			return fmt.Sprintf("multiple-choice answer %q is outside 1-%d", *p.Answer, models.ChoiceCount)
		},
	},
	{
		Code:     CodeInvalidExamYear,
		Severity: models.SeverityError,
		Field:    "exam_year",
		Fires:    func(p models.StoredProblem) bool { return p.ExamYear < minExamYear || p.ExamYear > maxExamYear },
		Message: func(p models.StoredProblem) string {
			return fmt.Sprintf("exam year %d is outside %d-%d", p.ExamYear, minExamYear, maxExamYear)
		},
	},
	{
		Code:     CodeInvalidCorrectRate,
		Severity: models.SeverityError,
		Field:    "correct_rate",
		Fires: func(p models.StoredProblem) bool {
			return p.CorrectRate != nil && (*p.CorrectRate < 0 || *p.CorrectRate > 100)
		},
		Message: func(p models.StoredProblem) string {
			return fmt.Sprintf("correct rate %.2f is outside 0-100", *p.CorrectRate)
		},
	},
	{
		Code:     CodeInvalidChoiceRateSum,
		Severity: models.SeverityWarning,
		Field:    "choice_rates",
		Fires: func(p models.StoredProblem) bool {
			if p.Kind != models.KindMultipleChoice {
				return false
			}
			sum, n := choiceRateSum(p)
			return n > 0 && math.Abs(sum-100) > choiceRateTolerance
		},
		Message: func(p models.StoredProblem) string {
			sum, _ := choiceRateSum(p)
			return fmt.Sprintf("choice rates sum to %.2f instead of 100", sum)
		},
	},
	{
		Code:     CodeChoiceRatesMissing,
		Severity: models.SeverityWarning,
		Field:    "choice_rates",
		Fires: func(p models.StoredProblem) bool {
			_, n := choiceRateSum(p)
			return p.Kind == models.KindMultipleChoice && p.ProblemPosted && n == 0
		},
		Message: fixed("choice rates missing"),
	},
	{
		Code:     CodeUnexpectedChoiceRate,
		Severity: models.SeverityInfo,
		Field:    "choice_rates",
		Fires: func(p models.StoredProblem) bool {
			_, n := choiceRateSum(p)
			return p.Kind == models.KindFreeResponse && n > 0
		},
		Message: fixed("unexpected choice rate on a free-response problem"),
	},
	{
		Code:     CodeIncompletePosted,
		Severity: models.SeverityError,
		Fires: func(p models.StoredProblem) bool {
			return p.ProblemPosted && (blankPtr(p.Answer) || blank(p.Organization) || blank(p.Subject))
		},
		Message: func(p models.StoredProblem) string {
			var missing []string
			if blankPtr(p.Answer) {
				missing = append(missing, "answer")
			}
			if blank(p.Organization) {
				missing = append(missing, "organization")
			}
			if blank(p.Subject) {
				missing = append(missing, "subject")
			}
			return "posted problem is missing " + strings.Join(missing, ", ")
		},
	},
	{
		Code:     CodeSolutionWithoutProblem,
		Severity: models.SeverityWarning,
		Fires:    func(p models.StoredProblem) bool { return p.SolutionPosted && !p.ProblemPosted },
		Message:  fixed("solution is posted but the problem is not"),
	},
}

// Evaluate runs every rule against p and returns the issues in rule order.
// It has no side effects; issue IDs and timestamps are left for the writer.
func Evaluate(p models.StoredProblem) []models.Issue {
	return EvaluateRules(Rules, p)
}

// EvaluateRules is Evaluate over an explicit rule set.
func EvaluateRules(rules []Rule, p models.StoredProblem) []models.Issue {
	var issues []models.Issue
	for _, r := range rules {
		if !r.Fires(p) {
			continue
		}
		issues = append(issues, models.Issue{
			ProblemID: p.ID,
			Code:      r.Code,
			Severity:  r.Severity,
			Field:     r.Field,
			Message:   r.Message(p),
		})
	}
	return issues
}

func choiceRateSum(p models.StoredProblem) (float64, int) {
	var sum float64
	var n int
	for _, r := range p.ChoiceRates {
		if r != nil {
			sum += *r
			n++
		}
	}
	return sum, n
}

func fixed(msg string) func(models.StoredProblem) string {
	return func(models.StoredProblem) string { return msg }
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func blankPtr(s *string) bool {
	return s == nil || blank(*s)
}
