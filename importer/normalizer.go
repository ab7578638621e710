package importer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/models"
)

// Field names a header can map to.
const (
	FieldIndex            = "index"
	FieldExamCode         = "exam_code"
	FieldProblemNumber    = "problem_number"
	FieldOrganization     = "organization"
	FieldSubject          = "subject"
	FieldSubCategory      = "sub_category"
	FieldExamYear         = "exam_year"
	FieldQuestionKind     = "question_kind"
	FieldAnswer           = "answer"
	FieldDifficulty       = "difficulty"
	FieldScore            = "score"
	FieldCorrectRate      = "correct_rate"
	FieldProblemPosted    = "problem_posted"
	FieldProblemWorker    = "problem_worker"
	FieldProblemWorkDate  = "problem_work_date"
	FieldSolutionPosted   = "solution_posted"
	FieldSolutionWorker   = "solution_worker"
	FieldSolutionWorkDate = "solution_work_date"

	// fieldWorker and fieldWorkDate are repeated headers whose meaning
	// depends on the posting flag column before them.
	fieldWorker   = "worker"
	fieldWorkDate = "work_date"
)

// FieldChoiceRate returns the field name of the n-th (1-based) choice rate.
func FieldChoiceRate(n int) string {
	return fmt.Sprintf("choice_rate_%d", n)
}

// ColumnMapping maps one source header spelling onto a field
type ColumnMapping struct {
	SourceColumn string
	Field        string
}

// DefaultColumnMappings is the header table used when the caller gives none.
func DefaultColumnMappings() []ColumnMapping {
	mappings := []ColumnMapping{
		{"Index", FieldIndex},
		{"No", FieldIndex},
		{"Seq", FieldIndex},
		{"Exam Code", FieldExamCode},
		{"Code", FieldExamCode},
		{"Problem Number", FieldProblemNumber},
		{"Problem No", FieldProblemNumber},
		{"Question Number", FieldProblemNumber},
		{"Number", FieldProblemNumber},
		{"Organization", FieldOrganization},
		{"Org", FieldOrganization},
		{"Institution", FieldOrganization},
		{"Subject", FieldSubject},
		{"Sub Category", FieldSubCategory},
		{"Category", FieldSubCategory},
		{"Exam Year", FieldExamYear},
		{"Year", FieldExamYear},
		{"Question Type", FieldQuestionKind},
		{"Type", FieldQuestionKind},
		{"Answer", FieldAnswer},
		{"Difficulty", FieldDifficulty},
		{"Level", FieldDifficulty},
		{"Score", FieldScore},
		{"Points", FieldScore},
		{"Correct Rate", FieldCorrectRate},
		{"Correct Answer Rate", FieldCorrectRate},
		{"Accuracy", FieldCorrectRate},
		{"Problem Posted", FieldProblemPosted},
		{"Problem Uploaded", FieldProblemPosted},
		{"Problem Worker", FieldProblemWorker},
		{"Problem Work Date", FieldProblemWorkDate},
		{"Solution Posted", FieldSolutionPosted},
		{"Solution Uploaded", FieldSolutionPosted},
		{"Solution Worker", FieldSolutionWorker},
		{"Solution Work Date", FieldSolutionWorkDate},
		{"Worker", fieldWorker},
		{"Assignee", fieldWorker},
		{"Work Date", fieldWorkDate},
		{"Date", fieldWorkDate},

		{"순번", FieldIndex},
		{"시험코드", FieldExamCode},
		{"문항번호", FieldProblemNumber},
		{"출제기관", FieldOrganization},
		{"과목", FieldSubject},
		{"세부과목", FieldSubCategory},
		{"연도", FieldExamYear},
		{"문항유형", FieldQuestionKind},
		{"정답", FieldAnswer},
		{"난이도", FieldDifficulty},
		{"배점", FieldScore},
		{"정답률", FieldCorrectRate},
		{"문제 업로드", FieldProblemPosted},
		{"해설 업로드", FieldSolutionPosted},
		{"작업자", fieldWorker},
		{"작업일", fieldWorkDate},
	}
	for n := 1; n <= models.ChoiceCount; n++ {
		mappings = append(mappings,
			ColumnMapping{fmt.Sprintf("Choice %d Rate", n), FieldChoiceRate(n)},
			ColumnMapping{fmt.Sprintf("Choice %d", n), FieldChoiceRate(n)},
			ColumnMapping{fmt.Sprintf("Option %d Rate", n), FieldChoiceRate(n)},
		)
	}
	return mappings
}

// fuzzyThreshold is the minimum similarity for a header with no exact alias.
const fuzzyThreshold = 0.9

// freeResponseMarkers mark a question-type cell as free response.
var freeResponseMarkers = []string{"free", "subjective", "short answer", "essay", "주관식", "서술"}

// MissingFieldError reports a required field that is absent or not numeric.
type MissingFieldError struct {
	Field string
	Value string
}

func (e *MissingFieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("missing required field %s", e.Field)
	}
	return fmt.Sprintf("invalid value %q for required field %s", e.Value, e.Field)
}

// RawRow is one data row as delivered by a source adapter.
type RawRow struct {
	Sheet  string
	Number int
	Values []string
	// DefaultSubject is used when the subject cell is blank.
	DefaultSubject string
}

// Normalizer turns raw rows that share one header row into candidates.
// The column plan is computed once from the header.
type Normalizer struct {
	columns []string // field per column, "" when unmapped
}

// NewNormalizer plans the columns of header using the default mappings.
func NewNormalizer(header []string) *Normalizer {
	return NewNormalizerWithMappings(header, DefaultColumnMappings())
}

func NewNormalizerWithMappings(header []string, mappings []ColumnMapping) *Normalizer {
	return &Normalizer{columns: planColumns(header, mappings)}
}

// Fields returns the field each header column was bound to.
func (n *Normalizer) Fields() []string {
	out := make([]string, len(n.columns))
	copy(out, n.columns)
	return out
}

// MissingColumns lists required fields no header maps to. Subject is left
// out since it can come from the row's default.
func (n *Normalizer) MissingColumns() []string {
	bound := make(map[string]bool, len(n.columns))
	for _, f := range n.columns {
		bound[f] = true
	}
	var missing []string
	for _, f := range []string{FieldIndex, FieldOrganization, FieldExamYear, FieldProblemNumber} {
		if !bound[f] {
			missing = append(missing, f)
		}
	}
	return missing
}

// planColumns binds every header to a field. Exact alias matches win; the
// remaining headers are tried by similarity against fields nothing bound
// exactly. Repeated worker/date headers take the posting context of the
// nearest flag column to their left.
func planColumns(header []string, mappings []ColumnMapping) []string {
	exact := make(map[string]string, len(mappings))
	for _, m := range mappings {
		key := normalizeHeader(m.SourceColumn)
		if _, ok := exact[key]; !ok {
			exact[key] = m.Field
		}
	}

	columns := make([]string, len(header))
	boundExactly := make(map[string]bool)
	for i, h := range header {
		if f, ok := exact[normalizeHeader(h)]; ok {
			columns[i] = f
			boundExactly[f] = true
		}
	}
	for i, h := range header {
		if columns[i] != "" || strings.TrimSpace(h) == "" {
			continue
		}
		if f := fuzzyField(h, mappings, boundExactly); f != "" {
			columns[i] = f
		}
	}

	context := "problem"
	seen := make(map[string]bool)
	for i, f := range columns {
		switch f {
		case FieldProblemPosted:
			context = "problem"
		case FieldSolutionPosted:
			context = "solution"
		case fieldWorker:
			f = context + "_worker"
		case fieldWorkDate:
			f = context + "_work_date"
		}
		// first column wins when two resolve to the same field
		if f != "" && seen[f] {
			f = ""
		}
		if f != "" {
			seen[f] = true
		}
		columns[i] = f
	}
	return columns
}

// fuzzyField returns the field whose alias is most similar to h, or "" when
// no alias reaches the threshold or the best score is shared by two fields.
func fuzzyField(h string, mappings []ColumnMapping, boundExactly map[string]bool) string {
	source := normalizeHeader(h)
	best, bestField, tied := 0.0, "", false
	for _, m := range mappings {
		dest := normalizeHeader(m.SourceColumn)
		maxLen := float64(max(len(source), len(dest)))
		if maxLen == 0 {
			continue
		}
		confidence := 1.0 - float64(levenshteinDistance(source, dest))/maxLen
		switch {
		case confidence > best:
			best, bestField, tied = confidence, m.Field, false
		case confidence == best && m.Field != bestField:
			tied = true
		}
	}
	if best < fuzzyThreshold || tied || boundExactly[bestField] {
		return ""
	}
	return bestField
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, "_", "")
	h = strings.ReplaceAll(h, "-", "")
	h = strings.ReplaceAll(h, " ", "")
	return h
}

func levenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(s2)]
}

// Normalize converts one row into a candidate. Only required fields fail
// the row; optional cells that do not parse are left empty.
func (n *Normalizer) Normalize(row RawRow) (Candidate, error) {
	cells := make(map[string]string, len(n.columns))
	for i, f := range n.columns {
		if f == "" || i >= len(row.Values) {
			continue
		}
		cells[f] = strings.TrimSpace(row.Values[i])
	}

	c := Candidate{Sheet: row.Sheet, Row: row.Number}
	p := &c.Problem

	var err error
	if p.Index, err = requiredInt(cells, FieldIndex, 0); err != nil {
		return Candidate{}, err
	}
	if p.Organization = cells[FieldOrganization]; p.Organization == "" {
		return Candidate{}, &MissingFieldError{Field: FieldOrganization}
	}
	p.Subject = cells[FieldSubject]
	if p.Subject == "" {
		p.Subject = strings.TrimSpace(row.DefaultSubject)
	}
	if p.Subject == "" {
		return Candidate{}, &MissingFieldError{Field: FieldSubject}
	}
	if p.ExamYear, err = requiredInt(cells, FieldExamYear, math.MinInt32); err != nil {
		return Candidate{}, err
	}
	number, err := requiredInt(cells, FieldProblemNumber, 0)
	if err != nil {
		return Candidate{}, err
	}
	p.ProblemNumber = &number

	p.ExamCode = optionalString(cells[FieldExamCode])
	p.SubCategory = optionalString(cells[FieldSubCategory])
	p.Kind = parseKind(cells[FieldQuestionKind])
	p.Answer = optionalString(cells[FieldAnswer])
	p.Difficulty = optionalString(cells[FieldDifficulty])
	p.Score = parseNumber(cells[FieldScore])
	p.CorrectRate = parseRate(cells[FieldCorrectRate])
	for i := range p.ChoiceRates {
		p.ChoiceRates[i] = parseRate(cells[FieldChoiceRate(i+1)])
	}

	p.ProblemPosted = parseBool(cells[FieldProblemPosted])
	p.ProblemWorker = optionalString(cells[FieldProblemWorker])
	p.ProblemWorkDate = parseDate(cells[FieldProblemWorkDate])
	p.SolutionPosted = parseBool(cells[FieldSolutionPosted])
	p.SolutionWorker = optionalString(cells[FieldSolutionWorker])
	p.SolutionWorkDate = parseDate(cells[FieldSolutionWorkDate])

	return c, nil
}

// requiredInt reads a required integer column. Values below lo are rejected
// along with anything that does not fit the INTEGER columns it is stored in.
func requiredInt(cells map[string]string, field string, lo int) (int, error) {
	raw := cells[field]
	if raw == "" {
		return 0, &MissingFieldError{Field: field}
	}
	v, ok := parseInt(raw)
	if !ok || v < lo {
		return 0, &MissingFieldError{Field: field, Value: raw}
	}
	return v, nil
}

// parseInt accepts integral floats since spreadsheet numbers often arrive as
// "3.0".
func parseInt(s string) (int, bool) {
	s = strings.ReplaceAll(s, ",", "")
	if v, err := strconv.ParseInt(s, 10, 32); err == nil {
		return int(v), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func parseNumber(s string) *float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	s = strings.TrimSuffix(s, "%")
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// parseRate reads a percentage. Values up to and including 1 are fractions
// and are scaled to percent, rounded to two decimals.
func parseRate(s string) *float64 {
	v := parseNumber(s)
	if v == nil {
		return nil
	}
	if *v <= 1 {
		scaled := math.Round(*v*100*100) / 100
		return &scaled
	}
	return v
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "true", "1":
		return true
	default:
		return false
	}
}

func parseKind(s string) models.QuestionKind {
	lower := strings.ToLower(s)
	for _, marker := range freeResponseMarkers {
		if strings.Contains(lower, marker) {
			return models.KindFreeResponse
		}
	}
	return models.KindMultipleChoice
}

// spreadsheet serial day zero
var serialEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"2006. 1. 2.",
	"2006. 1. 2",
	"01/02/2006",
	"1/2/2006",
	"01-02-06",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// parseDate accepts a date string in any known layout or a spreadsheet day
// serial. Anything else is nil.
func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		// serial 1 is 1900-01-01; 2958465 is 9999-12-31
		if serial < 1 || serial > 2958465 {
			return nil
		}
		days := math.Floor(serial)
		t := serialEpoch.AddDate(0, 0, int(days)).
			Add(time.Duration(math.Round((serial - days) * 24 * 60 * 60)) * time.Second)
		return &t
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
