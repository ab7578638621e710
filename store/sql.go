package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/models"
)

// keysPerQuery bounds how many keys go into one statement so the bind
// parameter count stays well under both drivers' limits.
const keysPerQuery = 500

const problemColumns = `id, seq_index, exam_code, problem_number, organization, subject, sub_category,
	exam_year, question_kind, answer, difficulty, score, correct_rate,
	choice_rate_1, choice_rate_2, choice_rate_3, choice_rate_4, choice_rate_5,
	problem_posted, problem_worker, problem_work_date,
	solution_posted, solution_worker, solution_work_date, created_at, updated_at`

// writableColumns are the columns overwritten by an update, in the order
// problemValues emits them.
var writableColumns = []string{
	"seq_index", "exam_code", "problem_number", "organization", "subject", "sub_category",
	"exam_year", "question_kind", "answer", "difficulty", "score", "correct_rate",
	"choice_rate_1", "choice_rate_2", "choice_rate_3", "choice_rate_4", "choice_rate_5",
	"problem_posted", "problem_worker", "problem_work_date",
	"solution_posted", "solution_worker", "solution_work_date",
}

// SQL is a Store backed by database/sql.
type SQL struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewSQL(db *sql.DB, d Dialect) *SQL {
	return &SQL{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}
}

// Open connects and pings the database for the given dialect.
func Open(ctx context.Context, d Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(d.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name, err)
	}
	if d.Name == SQLite.Name {
		// a single connection serialises writers and keeps :memory: databases shared
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name, err)
	}
	return db, nil
}

func (s *SQL) DB() *sql.DB { return s.db }

func (s *SQL) Dialect() Dialect { return s.dialect }

func (s *SQL) newArgs() *args { return &args{d: s.dialect} }

func problemValues(p models.Problem) []interface{} {
	return []interface{}{
		p.Index, p.ExamCode, p.ProblemNumber, p.Organization, p.Subject, p.SubCategory,
		p.ExamYear, p.Kind, p.Answer, p.Difficulty, p.Score, p.CorrectRate,
		p.ChoiceRates[0], p.ChoiceRates[1], p.ChoiceRates[2], p.ChoiceRates[3], p.ChoiceRates[4],
		p.ProblemPosted, p.ProblemWorker, p.ProblemWorkDate,
		p.SolutionPosted, p.SolutionWorker, p.SolutionWorkDate,
	}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProblem(row scanner) (models.StoredProblem, error) {
	var sp models.StoredProblem
	p := &sp.Problem
	err := row.Scan(
		&sp.ID, &p.Index, &p.ExamCode, &p.ProblemNumber, &p.Organization, &p.Subject, &p.SubCategory,
		&p.ExamYear, &p.Kind, &p.Answer, &p.Difficulty, &p.Score, &p.CorrectRate,
		&p.ChoiceRates[0], &p.ChoiceRates[1], &p.ChoiceRates[2], &p.ChoiceRates[3], &p.ChoiceRates[4],
		&p.ProblemPosted, &p.ProblemWorker, &p.ProblemWorkDate,
		&p.SolutionPosted, &p.SolutionWorker, &p.SolutionWorkDate, &sp.CreatedAt, &sp.UpdatedAt,
	)
	return sp, err
}

func (s *SQL) queryProblems(ctx context.Context, query string, vals []interface{}) ([]models.StoredProblem, error) {
	rows, err := s.db.QueryContext(ctx, query, vals...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.StoredProblem
	for rows.Next() {
		sp, err := scanProblem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan problem: %w", err)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (s *SQL) FindBySeqKeys(ctx context.Context, keys []models.SeqKey) ([]models.StoredProblem, error) {
	var out []models.StoredProblem
	for _, chunk := range chunks(keys, keysPerQuery) {
		a := s.newArgs()
		conds := make([]string, 0, len(chunk))
		for _, k := range chunk {
			conds = append(conds, fmt.Sprintf("(subject = %s AND seq_index = %s)", a.add(k.Subject), a.add(k.Index)))
		}
		query := fmt.Sprintf("SELECT %s FROM problems WHERE %s", problemColumns, strings.Join(conds, " OR "))
		found, err := s.queryProblems(ctx, query, a.vals)
		if err != nil {
			return nil, fmt.Errorf("find problems by subject/index: %w", err)
		}
		out = append(out, found...)
	}
	return out, nil
}

func (s *SQL) FindExamKeys(ctx context.Context, keys []models.ExamKey) ([]models.ExamKey, error) {
	var out []models.ExamKey
	for _, chunk := range chunks(keys, keysPerQuery) {
		a := s.newArgs()
		conds := make([]string, 0, len(chunk))
		for _, k := range chunk {
			conds = append(conds, fmt.Sprintf("(exam_code = %s AND problem_number = %s)", a.add(k.ExamCode), a.add(k.ProblemNumber)))
		}
		query := "SELECT exam_code, problem_number FROM problems WHERE " + strings.Join(conds, " OR ")
		rows, err := s.db.QueryContext(ctx, query, a.vals...)
		if err != nil {
			return nil, fmt.Errorf("find exam codes: %w", err)
		}
		for rows.Next() {
			var k models.ExamKey
			if err := rows.Scan(&k.ExamCode, &k.ProblemNumber); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan exam code: %w", err)
			}
			out = append(out, k)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("find exam codes: %w", err)
		}
	}
	return out, nil
}

func (s *SQL) InsertIgnoreDuplicates(ctx context.Context, problems []models.Problem) (int, error) {
	cols := "id, " + strings.Join(writableColumns, ", ") + ", created_at, updated_at"
	inserted := 0
	for _, chunk := range chunks(problems, keysPerQuery/2) {
		a := s.newArgs()
		now := s.now()
		tuples := make([]string, 0, len(chunk))
		for _, p := range chunk {
			ph := []string{a.add(uuid.New())}
			for _, v := range problemValues(p) {
				ph = append(ph, a.add(v))
			}
			ph = append(ph, a.add(now), a.add(now))
			tuples = append(tuples, "("+strings.Join(ph, ", ")+")")
		}
		query := fmt.Sprintf("INSERT INTO problems (%s) VALUES %s ON CONFLICT DO NOTHING", cols, strings.Join(tuples, ", "))
		res, err := s.db.ExecContext(ctx, query, a.vals...)
		if err != nil {
			return inserted, fmt.Errorf("insert problems: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("insert problems: rows affected: %w", err)
		}
		inserted += int(n)
	}
	return inserted, nil
}

func (s *SQL) UpdateBySeqKey(ctx context.Context, key models.SeqKey, p models.Problem) (models.StoredProblem, error) {
	a := s.newArgs()
	sets := make([]string, 0, len(writableColumns)+1)
	for i, v := range problemValues(p) {
		sets = append(sets, fmt.Sprintf("%s = %s", writableColumns[i], a.add(v)))
	}
	sets = append(sets, "updated_at = "+a.add(s.now()))
	query := fmt.Sprintf("UPDATE problems SET %s WHERE subject = %s AND seq_index = %s RETURNING %s",
		strings.Join(sets, ", "), a.add(key.Subject), a.add(key.Index), problemColumns)

	sp, err := scanProblem(s.db.QueryRowContext(ctx, query, a.vals...))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.StoredProblem{}, fmt.Errorf("update %s: %w", key, ErrNotFound)
	case err != nil && s.dialect.IsUniqueViolation(err):
		return models.StoredProblem{}, fmt.Errorf("update %s: %w: %v", key, ErrConflict, err)
	case err != nil:
		return models.StoredProblem{}, fmt.Errorf("update %s: %w", key, err)
	}
	return sp, nil
}

func (s *SQL) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.StoredProblem, error) {
	var out []models.StoredProblem
	for _, chunk := range chunks(ids, keysPerQuery) {
		a := s.newArgs()
		query := fmt.Sprintf("SELECT %s FROM problems WHERE id IN (%s)", problemColumns, placeholders(a, chunk))
		found, err := s.queryProblems(ctx, query, a.vals)
		if err != nil {
			return nil, fmt.Errorf("find problems by id: %w", err)
		}
		out = append(out, found...)
	}
	return out, nil
}

func (s *SQL) ListIDs(ctx context.Context, offset, limit int) ([]uuid.UUID, error) {
	a := s.newArgs()
	query := fmt.Sprintf("SELECT id FROM problems ORDER BY subject, seq_index LIMIT %s OFFSET %s", a.add(limit), a.add(offset))
	rows, err := s.db.QueryContext(ctx, query, a.vals...)
	if err != nil {
		return nil, fmt.Errorf("list problem ids: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan problem id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQL) DeleteUnresolvedIssues(ctx context.Context, problemIDs []uuid.UUID) error {
	for _, chunk := range chunks(problemIDs, keysPerQuery) {
		a := s.newArgs()
		query := fmt.Sprintf("DELETE FROM problem_issues WHERE resolved = %s AND problem_id IN (%s)", a.add(false), placeholders(a, chunk))
		if _, err := s.db.ExecContext(ctx, query, a.vals...); err != nil {
			return fmt.Errorf("delete unresolved issues: %w", err)
		}
	}
	return nil
}

func (s *SQL) InsertIssues(ctx context.Context, issues []models.Issue) error {
	ordinal := 0
	for _, chunk := range chunks(issues, keysPerQuery/2) {
		a := s.newArgs()
		now := s.now()
		tuples := make([]string, 0, len(chunk))
		for _, is := range chunk {
			if is.ID == uuid.Nil {
				is.ID = uuid.New()
			}
			if is.CreatedAt.IsZero() {
				is.CreatedAt = now
			}
			ordinal++
			tuples = append(tuples, fmt.Sprintf("(%s, %s, %s, %s, %s, %s, %s, %s, %s)",
				a.add(is.ID), a.add(is.ProblemID), a.add(is.Code), a.add(is.Severity),
				a.add(is.Field), a.add(is.Message), a.add(is.Resolved), a.add(is.CreatedAt), a.add(ordinal)))
		}
		query := "INSERT INTO problem_issues (id, problem_id, code, severity, field, message, resolved, created_at, ordinal) VALUES " +
			strings.Join(tuples, ", ")
		if _, err := s.db.ExecContext(ctx, query, a.vals...); err != nil {
			return fmt.Errorf("insert issues: %w", err)
		}
	}
	return nil
}

// UnresolvedIssues returns the unresolved issues of one problem in insertion order.
func (s *SQL) UnresolvedIssues(ctx context.Context, problemID uuid.UUID) ([]models.Issue, error) {
	a := s.newArgs()
	query := fmt.Sprintf(`SELECT id, problem_id, code, severity, field, message, resolved, created_at
		FROM problem_issues WHERE problem_id = %s AND resolved = %s ORDER BY created_at, ordinal`,
		a.add(problemID), a.add(false))
	rows, err := s.db.QueryContext(ctx, query, a.vals...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()
	var out []models.Issue
	for rows.Next() {
		var is models.Issue
		if err := rows.Scan(&is.ID, &is.ProblemID, &is.Code, &is.Severity, &is.Field, &is.Message, &is.Resolved, &is.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		out = append(out, is)
	}
	return out, rows.Err()
}

func (s *SQL) SubjectSummaries(ctx context.Context) ([]SubjectSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject, COUNT(*),
			SUM(CASE WHEN problem_posted THEN 1 ELSE 0 END),
			SUM(CASE WHEN solution_posted THEN 1 ELSE 0 END)
		FROM problems
		GROUP BY subject
		ORDER BY subject`)
	if err != nil {
		return nil, fmt.Errorf("subject summaries: %w", err)
	}
	var out []SubjectSummary
	index := make(map[string]int)
	for rows.Next() {
		var s SubjectSummary
		if err := rows.Scan(&s.Subject, &s.Total, &s.ProblemPosted, &s.SolutionPosted); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan subject summary: %w", err)
		}
		index[s.Subject] = len(out)
		out = append(out, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("subject summaries: %w", err)
	}

	a := s.newArgs()
	query := fmt.Sprintf(`
		SELECT p.subject, i.severity, COUNT(*)
		FROM problem_issues i
		JOIN problems p ON p.id = i.problem_id
		WHERE i.resolved = %s
		GROUP BY p.subject, i.severity`, a.add(false))
	irows, err := s.db.QueryContext(ctx, query, a.vals...)
	if err != nil {
		return nil, fmt.Errorf("subject issue counts: %w", err)
	}
	defer irows.Close()
	for irows.Next() {
		var subject string
		var sev models.Severity
		var n int
		if err := irows.Scan(&subject, &sev, &n); err != nil {
			return nil, fmt.Errorf("scan subject issue count: %w", err)
		}
		i, ok := index[subject]
		if !ok {
			continue
		}
		switch sev {
		case models.SeverityError:
			out[i].OpenErrors = n
		case models.SeverityWarning:
			out[i].OpenWarnings = n
		}
	}
	return out, irows.Err()
}

func (s *SQL) IssueCounts(ctx context.Context) ([]IssueCount, error) {
	a := s.newArgs()
	query := fmt.Sprintf(`SELECT code, severity, COUNT(*) FROM problem_issues WHERE resolved = %s GROUP BY code, severity`, a.add(false))
	rows, err := s.db.QueryContext(ctx, query, a.vals...)
	if err != nil {
		return nil, fmt.Errorf("issue counts: %w", err)
	}
	defer rows.Close()
	var out []IssueCount
	for rows.Next() {
		var c IssueCount
		if err := rows.Scan(&c.Code, &c.Severity, &c.Count); err != nil {
			return nil, fmt.Errorf("scan issue count: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("issue counts: %w", err)
	}
	sortIssueCounts(out)
	return out, nil
}

func placeholders(a *args, ids []uuid.UUID) string {
	ph := make([]string, 0, len(ids))
	for _, id := range ids {
		ph = append(ph, a.add(id))
	}
	return strings.Join(ph, ", ")
}

func chunks[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		out = append(out, items[start:min(start+size, len(items))])
	}
	return out
}
