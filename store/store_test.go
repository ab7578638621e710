package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/migrations"
	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/models"
	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/store"
)

func ptr[T any](v T) *T { return &v }

func newSQLite(tb testing.TB) *store.SQL {
	tb.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, store.SQLite, ":memory:")
	require.NoError(tb, err)
	tb.Cleanup(func() { db.Close() })
	require.NoError(tb, migrations.InitSchema(ctx, db, store.SQLite.Name))
	return store.NewSQL(db, store.SQLite)
}

func backends() map[string]func(testing.TB) store.Store {
	return map[string]func(testing.TB) store.Store{
		"memory": func(testing.TB) store.Store { return store.NewMemory() },
		"sqlite": func(tb testing.TB) store.Store { return newSQLite(tb) },
	}
}

func problem(subject string, index int, examCode string, number int) models.Problem {
	p := models.Problem{
		Index:         index,
		Organization:  "KICE",
		Subject:       subject,
		ExamYear:      2024,
		Kind:          models.KindMultipleChoice,
		Answer:        ptr("2"),
		Score:         ptr(3.0),
		ProblemNumber: ptr(number),
	}
	if examCode != "" {
		p.ExamCode = ptr(examCode)
	}
	return p
}

func TestStoreContract(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Run("insert ignores duplicates on both keys", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				n, err := s.InsertIgnoreDuplicates(ctx, []models.Problem{
					problem("Math", 1, "EX1", 1),
					problem("Math", 2, "EX1", 2),
				})
				require.NoError(t, err)
				assert.Equal(t, 2, n)

				n, err = s.InsertIgnoreDuplicates(ctx, []models.Problem{
					problem("Math", 1, "EX9", 9), // same subject/index
					problem("Math", 3, "EX1", 2), // same exam key
					problem("Math", 4, "", 2),    // no exam code, no collision
				})
				require.NoError(t, err)
				assert.Equal(t, 1, n)
			})

			t.Run("find by keys", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				_, err := s.InsertIgnoreDuplicates(ctx, []models.Problem{
					problem("Math", 1, "EX1", 1),
					problem("Physics", 1, "EX2", 1),
				})
				require.NoError(t, err)

				found, err := s.FindBySeqKeys(ctx, []models.SeqKey{{Subject: "Math", Index: 1}, {Subject: "Math", Index: 7}})
				require.NoError(t, err)
				require.Len(t, found, 1)
				assert.Equal(t, "Math", found[0].Subject)
				assert.NotEqual(t, uuid.Nil, found[0].ID)
				assert.True(t, found[0].Problem.Equal(problem("Math", 1, "EX1", 1)))

				keys, err := s.FindExamKeys(ctx, []models.ExamKey{{ExamCode: "EX2", ProblemNumber: 1}, {ExamCode: "EX2", ProblemNumber: 2}})
				require.NoError(t, err)
				assert.Equal(t, []models.ExamKey{{ExamCode: "EX2", ProblemNumber: 1}}, keys)

				byID, err := s.FindByIDs(ctx, []uuid.UUID{found[0].ID, uuid.New()})
				require.NoError(t, err)
				require.Len(t, byID, 1)
				assert.Equal(t, found[0].ID, byID[0].ID)
			})

			t.Run("update overwrites every field", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				_, err := s.InsertIgnoreDuplicates(ctx, []models.Problem{problem("Math", 1, "EX1", 1)})
				require.NoError(t, err)

				next := problem("Math", 1, "EX1", 5)
				next.Answer = nil
				next.ProblemPosted = true
				next.ProblemWorker = ptr("kim")
				next.ProblemWorkDate = ptr(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
				next.ChoiceRates[2] = ptr(33.3)
				next.CorrectRate = ptr(75.6)

				got, err := s.UpdateBySeqKey(ctx, models.SeqKey{Subject: "Math", Index: 1}, next)
				require.NoError(t, err)
				assert.True(t, got.Problem.Equal(next), "returned row should match the update")

				found, err := s.FindBySeqKeys(ctx, []models.SeqKey{{Subject: "Math", Index: 1}})
				require.NoError(t, err)
				require.Len(t, found, 1)
				assert.True(t, found[0].Problem.Equal(next), "stored row should match the update")
				assert.Equal(t, got.ID, found[0].ID)
			})

			t.Run("update errors", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				_, err := s.InsertIgnoreDuplicates(ctx, []models.Problem{
					problem("Math", 1, "EX1", 1),
					problem("Math", 2, "EX1", 2),
				})
				require.NoError(t, err)

				_, err = s.UpdateBySeqKey(ctx, models.SeqKey{Subject: "Math", Index: 9}, problem("Math", 9, "", 1))
				assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)

				_, err = s.UpdateBySeqKey(ctx, models.SeqKey{Subject: "Math", Index: 2}, problem("Math", 2, "EX1", 1))
				assert.True(t, errors.Is(err, store.ErrConflict), "got %v", err)
			})

			t.Run("issues are replaced only for the given problems", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				_, err := s.InsertIgnoreDuplicates(ctx, []models.Problem{
					problem("Math", 1, "EX1", 1),
					problem("Math", 2, "EX1", 2),
				})
				require.NoError(t, err)
				found, err := s.FindBySeqKeys(ctx, []models.SeqKey{{Subject: "Math", Index: 1}, {Subject: "Math", Index: 2}})
				require.NoError(t, err)
				require.Len(t, found, 2)
				a, b := found[0].ID, found[1].ID

				require.NoError(t, s.InsertIssues(ctx, []models.Issue{
					{ProblemID: a, Code: "X", Severity: models.SeverityError, Message: "x"},
					{ProblemID: a, Code: "Y", Severity: models.SeverityWarning, Message: "y"},
					{ProblemID: b, Code: "X", Severity: models.SeverityError, Message: "x"},
				}))
				require.NoError(t, s.DeleteUnresolvedIssues(ctx, []uuid.UUID{a}))

				counts, err := s.IssueCounts(ctx)
				require.NoError(t, err)
				assert.Equal(t, []store.IssueCount{{Code: "X", Severity: models.SeverityError, Count: 1}}, counts)

				summaries, err := s.SubjectSummaries(ctx)
				require.NoError(t, err)
				require.Len(t, summaries, 1)
				assert.Equal(t, store.SubjectSummary{Subject: "Math", Total: 2, OpenErrors: 1}, summaries[0])
			})

			t.Run("list ids pages in subject order", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				_, err := s.InsertIgnoreDuplicates(ctx, []models.Problem{
					problem("Physics", 1, "", 1),
					problem("Math", 2, "", 1),
					problem("Math", 1, "", 1),
				})
				require.NoError(t, err)

				first, err := s.ListIDs(ctx, 0, 2)
				require.NoError(t, err)
				rest, err := s.ListIDs(ctx, 2, 2)
				require.NoError(t, err)
				require.Len(t, first, 2)
				require.Len(t, rest, 1)

				got, err := s.FindByIDs(ctx, rest)
				require.NoError(t, err)
				assert.Equal(t, "Physics", got[0].Subject)

				none, err := s.ListIDs(ctx, 3, 2)
				require.NoError(t, err)
				assert.Empty(t, none)
			})
		})
	}
}

func TestMemoryResolvedIssuesSurviveDelete(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	_, err := s.InsertIgnoreDuplicates(ctx, []models.Problem{problem("Math", 1, "", 1)})
	require.NoError(t, err)
	sp, ok := s.Get(models.SeqKey{Subject: "Math", Index: 1})
	require.True(t, ok)

	require.NoError(t, s.InsertIssues(ctx, []models.Issue{
		{ProblemID: sp.ID, Code: "A", Severity: models.SeverityError},
		{ProblemID: sp.ID, Code: "B", Severity: models.SeverityWarning},
	}))
	issues := s.Issues(sp.ID)
	require.Len(t, issues, 2)
	require.NoError(t, s.ResolveIssue(issues[0].ID))

	require.NoError(t, s.DeleteUnresolvedIssues(ctx, []uuid.UUID{sp.ID}))
	left := s.Issues(sp.ID)
	require.Len(t, left, 1)
	assert.Equal(t, "A", left[0].Code)
	assert.True(t, left[0].Resolved)
}

func TestSQLiteUnresolvedIssuesKeepInsertOrder(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	_, err := s.InsertIgnoreDuplicates(ctx, []models.Problem{problem("Math", 1, "", 1)})
	require.NoError(t, err)
	found, err := s.FindBySeqKeys(ctx, []models.SeqKey{{Subject: "Math", Index: 1}})
	require.NoError(t, err)
	id := found[0].ID

	require.NoError(t, s.InsertIssues(ctx, []models.Issue{
		{ProblemID: id, Code: "C", Severity: models.SeverityInfo, Message: "c"},
		{ProblemID: id, Code: "A", Severity: models.SeverityError, Message: "a", Field: "answer"},
		{ProblemID: id, Code: "B", Severity: models.SeverityWarning, Message: "b"},
	}))
	issues, err := s.UnresolvedIssues(ctx, id)
	require.NoError(t, err)
	require.Len(t, issues, 3)
	assert.Equal(t, []string{"C", "A", "B"}, []string{issues[0].Code, issues[1].Code, issues[2].Code})
	assert.Equal(t, "answer", issues[1].Field)
}

func TestDialectFor(t *testing.T) {
	d, err := store.DialectFor("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name)
	assert.Equal(t, "$3", d.Placeholder(3))

	d, err = store.DialectFor("SQLite")
	require.NoError(t, err)
	assert.Equal(t, "?", d.Placeholder(3))

	_, err = store.DialectFor("oracle")
	assert.Error(t, err)
}
