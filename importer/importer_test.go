package importer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/logger"
	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/models"
	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/source"
	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/store"
	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/validation"
)

func newTestImporter(s store.Store, cfg ImportConfig) *Importer {
	return NewImporter(s, cfg, logger.Nop())
}

func issueIDs(m *store.Memory, key models.SeqKey) []uuid.UUID {
	sp, ok := m.Get(key)
	if !ok {
		return nil
	}
	var ids []uuid.UUID
	for _, is := range m.Issues(sp.ID) {
		ids = append(ids, is.ID)
	}
	return ids
}

func TestIngestIsIdempotent(t *testing.T) {
	mem := store.NewMemory()
	im := newTestImporter(mem, ImportConfig{BatchSize: 3, MaxConcurrency: 2})

	var batch []Candidate
	for i := 1; i <= 7; i++ {
		batch = append(batch, cand("Math", i, "", i))
	}
	first := im.Ingest(context.Background(), batch, nil)
	assert.Equal(t, 7, first.Created)
	assert.Equal(t, 0, first.Failed)

	key := models.SeqKey{Subject: "Math", Index: 4}
	before := issueIDs(mem, key)
	require.NotEmpty(t, before, "missing exam code should raise a warning")

	second := im.Ingest(context.Background(), batch, nil)
	assert.Equal(t, 0, second.Success())
	assert.Equal(t, 7, second.Skipped)
	assert.Equal(t, 0, second.Failed)
	assert.Equal(t, 0, second.Conflicts)
	assert.Equal(t, before, issueIDs(mem, key), "skipped records keep their issues")
}

func TestIngestExamCodeConflictOnCreate(t *testing.T) {
	mem := store.NewMemory()
	im := newTestImporter(mem, ImportConfig{})

	out := im.Ingest(context.Background(), []Candidate{
		cand("Math", 1, "EX1", 3),
		cand("Physics", 9, "EX1", 3),
	}, nil)

	assert.Equal(t, 1, out.Created)
	assert.Equal(t, 1, out.Skipped)
	assert.Equal(t, 1, out.Conflicts)
	assert.Equal(t, 0, out.Failed)
	assert.Equal(t, 1, mem.Len())
	_, ok := mem.Get(models.SeqKey{Subject: "Physics", Index: 9})
	assert.False(t, ok)
}

func TestIngestDualKeyExclusivityAcrossBatches(t *testing.T) {
	mem := store.NewMemory()
	im := newTestImporter(mem, ImportConfig{BatchSize: 1, MaxConcurrency: 1})

	out := im.Ingest(context.Background(), []Candidate{
		cand("Math", 1, "EX1", 3),
		cand("Physics", 2, "EX1", 3),
		cand("Chemistry", 3, "EX1", 3),
	}, nil)
	assert.Equal(t, 1, out.Created)
	assert.Equal(t, 2, out.Conflicts)
}

func TestIngestBatchFatalIsolation(t *testing.T) {
	mem := store.NewMemory()
	lookupErr := errors.New("connection reset")
	mem.SetHooks(store.Hooks{
		FindBySeqKeys: func(keys []models.SeqKey) error {
			if len(keys) > 0 && keys[0].Subject == "S3" {
				return lookupErr
			}
			return nil
		},
	})
	im := newTestImporter(mem, ImportConfig{BatchSize: 3, MaxConcurrency: 5})

	var batch []Candidate
	for b := 1; b <= 5; b++ {
		for i := 1; i <= 3; i++ {
			batch = append(batch, cand(fmt.Sprintf("S%d", b), i, "", i))
		}
	}

	var events []Progress
	out := im.Ingest(context.Background(), batch, func(p Progress) { events = append(events, p) })

	assert.Equal(t, 12, out.Created)
	assert.Equal(t, 3, out.Failed)
	assert.Equal(t, 0, out.Skipped)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, models.ErrorKindBatch, out.Errors[0].Kind)
	assert.Equal(t, "S3", out.Errors[0].Sheet)
	assert.Contains(t, out.Errors[0].Message, "connection reset")

	require.Len(t, events, 1)
	assert.Equal(t, Progress{Processed: 15, Total: 15, Success: 12, Failed: 3, BatchIndex: 5, TotalBatches: 5}, events[0])

	for b := 1; b <= 5; b++ {
		_, ok := mem.Get(models.SeqKey{Subject: fmt.Sprintf("S%d", b), Index: 1})
		assert.Equal(t, b != 3, ok, "batch %d", b)
	}
}

func TestIngestBatchPanicIsIsolated(t *testing.T) {
	mem := store.NewMemory()
	mem.SetHooks(store.Hooks{
		FindBySeqKeys: func(keys []models.SeqKey) error {
			if len(keys) > 0 && keys[0].Subject == "S2" {
				panic("driver bug")
			}
			return nil
		},
	})
	im := newTestImporter(mem, ImportConfig{BatchSize: 2, MaxConcurrency: 3})

	var batch []Candidate
	for b := 1; b <= 3; b++ {
		for i := 1; i <= 2; i++ {
			batch = append(batch, cand(fmt.Sprintf("S%d", b), i, "", i))
		}
	}
	out := im.Ingest(context.Background(), batch, nil)

	assert.Equal(t, 4, out.Created)
	assert.Equal(t, 2, out.Failed)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, models.ErrorKindBatch, out.Errors[0].Kind)
	assert.Equal(t, "S2", out.Errors[0].Sheet)
	assert.Contains(t, out.Errors[0].Message, "driver bug")
}

func TestIngestUpdatePanicFailsOnlyItsRecord(t *testing.T) {
	mem := store.NewMemory()
	im := newTestImporter(mem, ImportConfig{})
	ctx := context.Background()

	original := []Candidate{cand("Math", 1, "", 1), cand("Math", 2, "", 2)}
	require.Equal(t, 2, im.Ingest(ctx, original, nil).Created)

	mem.SetHooks(store.Hooks{
		UpdateBySeqKey: func(key models.SeqKey) error {
			if key.Index == 1 {
				panic("nil row")
			}
			return nil
		},
	})
	changed := make([]Candidate, len(original))
	for i, c := range original {
		c.Answer = ptr("4")
		changed[i] = c
	}
	out := im.Ingest(ctx, changed, nil)

	assert.Equal(t, 1, out.Updated)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, models.ErrorKindWrite, out.Errors[0].Kind)
	assert.Equal(t, 2, out.Errors[0].Row)
	assert.Contains(t, out.Errors[0].Message, "nil row")
}

func TestIngestUpdateFailureIsIsolated(t *testing.T) {
	mem := store.NewMemory()
	im := newTestImporter(mem, ImportConfig{})
	ctx := context.Background()

	original := []Candidate{cand("Math", 1, "", 1), cand("Math", 2, "", 2), cand("Math", 3, "", 3)}
	require.Equal(t, 3, im.Ingest(ctx, original, nil).Created)

	mem.SetHooks(store.Hooks{
		UpdateBySeqKey: func(key models.SeqKey) error {
			if key.Index == 2 {
				return errors.New("deadlock detected")
			}
			return nil
		},
	})
	changed := make([]Candidate, len(original))
	for i, c := range original {
		c.Answer = ptr("5")
		changed[i] = c
	}
	out := im.Ingest(ctx, changed, nil)

	assert.Equal(t, 2, out.Updated)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, models.ErrorKindWrite, out.Errors[0].Kind)
	assert.Equal(t, 3, out.Errors[0].Row)

	sp, _ := mem.Get(models.SeqKey{Subject: "Math", Index: 3})
	assert.Equal(t, "5", *sp.Answer)
	sp, _ = mem.Get(models.SeqKey{Subject: "Math", Index: 2})
	assert.Equal(t, "3", *sp.Answer)
}

func TestIngestSameKeyTwiceInBatchGetsIssues(t *testing.T) {
	mem := store.NewMemory()
	im := newTestImporter(mem, ImportConfig{})

	out := im.Ingest(context.Background(), []Candidate{
		cand("Math", 1, "", 1),
		cand("Math", 1, "", 2),
	}, nil)

	assert.Equal(t, 1, out.Created)
	assert.Equal(t, 1, out.Skipped)
	assert.Equal(t, 0, out.Failed)

	sp := mustGet(t, mem, models.SeqKey{Subject: "Math", Index: 1})
	assert.Equal(t, 1, *sp.ProblemNumber, "first row wins")
	var codes []string
	for _, is := range mem.Issues(sp.ID) {
		codes = append(codes, is.Code)
	}
	assert.Contains(t, codes, validation.CodeMissingExamCode)
}

func TestIngestRegeneratesIssuesOnlyForTouchedRecords(t *testing.T) {
	mem := store.NewMemory()
	im := newTestImporter(mem, ImportConfig{})
	ctx := context.Background()

	a, b := cand("Math", 1, "", 1), cand("Math", 2, "", 2)
	require.Equal(t, 2, im.Ingest(ctx, []Candidate{a, b}, nil).Created)

	keyA, keyB := a.SeqKey(), b.SeqKey()
	issuesA := mem.Issues(mustGet(t, mem, keyA).ID)
	require.Len(t, issuesA, 1)
	require.NoError(t, mem.ResolveIssue(issuesA[0].ID))
	beforeB := issueIDs(mem, keyB)

	a.Answer = ptr("9") // out of range
	out := im.Ingest(ctx, []Candidate{a}, nil)
	require.Equal(t, 1, out.Updated)

	var got []string
	for _, is := range mem.Issues(mustGet(t, mem, keyA).ID) {
		got = append(got, fmt.Sprintf("%s resolved=%t", is.Code, is.Resolved))
	}
	want := []string{
		validation.CodeMissingExamCode + " resolved=true",
		validation.CodeMissingExamCode + " resolved=false",
		validation.CodeInvalidAnswerRange + " resolved=false",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("issues for updated record (-want +got):\n%s", diff)
	}
	assert.Equal(t, beforeB, issueIDs(mem, keyB), "untouched record keeps its issues")
}

func mustGet(t *testing.T, m *store.Memory, key models.SeqKey) models.StoredProblem {
	t.Helper()
	sp, ok := m.Get(key)
	require.True(t, ok, "no problem stored for %s", key)
	return sp
}

func TestIngestIssueWriteFailureFailsNothingAlreadyCounted(t *testing.T) {
	mem := store.NewMemory()
	mem.SetHooks(store.Hooks{
		InsertIssues: func([]models.Issue) error { return errors.New("disk full") },
	})
	im := newTestImporter(mem, ImportConfig{})

	out := im.Ingest(context.Background(), []Candidate{cand("Math", 1, "", 1)}, nil)
	assert.Equal(t, 1, out.Created)
	assert.Equal(t, 0, out.Failed)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, models.ErrorKindBatch, out.Errors[0].Kind)
	assert.Contains(t, out.Errors[0].Message, "disk full")
}

func TestIngestProgressPerChunk(t *testing.T) {
	im := newTestImporter(store.NewMemory(), ImportConfig{BatchSize: 2, MaxConcurrency: 2})
	var batch []Candidate
	for i := 1; i <= 7; i++ {
		batch = append(batch, cand("Math", i, "", i))
	}

	var events []Progress
	im.Ingest(context.Background(), batch, func(p Progress) { events = append(events, p) })

	require.Len(t, events, 2)
	assert.Equal(t, Progress{Processed: 4, Total: 7, Success: 4, BatchIndex: 2, TotalBatches: 4}, events[0])
	assert.Equal(t, Progress{Processed: 7, Total: 7, Success: 7, BatchIndex: 4, TotalBatches: 4}, events[1])
}

func TestIngestBoundsErrorList(t *testing.T) {
	mem := store.NewMemory()
	mem.SetHooks(store.Hooks{
		FindBySeqKeys: func([]models.SeqKey) error { return errors.New("down") },
	})
	im := newTestImporter(mem, ImportConfig{BatchSize: 1, MaxConcurrency: 3, MaxErrors: 2})

	var batch []Candidate
	for i := 1; i <= 5; i++ {
		batch = append(batch, cand("Math", i, "", i))
	}
	out := im.Ingest(context.Background(), batch, nil)
	assert.Equal(t, 5, out.Failed)
	assert.Len(t, out.Errors, 2)
	assert.Equal(t, 3, out.DroppedErrors)
}

func TestIngestDryRunWritesNothing(t *testing.T) {
	mem := store.NewMemory()
	im := newTestImporter(mem, ImportConfig{DryRun: true})
	inv := &countingInvalidator{}
	im.WithInvalidator(inv)

	out := im.Ingest(context.Background(), []Candidate{cand("Math", 1, "EX1", 1), cand("Math", 2, "EX1", 1)}, nil)
	assert.Equal(t, 1, out.Created)
	assert.Equal(t, 1, out.Conflicts)
	assert.Equal(t, 0, mem.Len())
	assert.Equal(t, int32(0), inv.calls.Load())
}

type countingInvalidator struct {
	calls atomic.Int32
}

func (c *countingInvalidator) MarkStale() { c.calls.Add(1) }

func TestIngestInvalidatesAfterWrites(t *testing.T) {
	inv := &countingInvalidator{}
	im := newTestImporter(store.NewMemory(), ImportConfig{}).WithInvalidator(inv)
	batch := []Candidate{cand("Math", 1, "", 1)}

	im.Ingest(context.Background(), batch, nil)
	assert.Equal(t, int32(1), inv.calls.Load())

	// nothing written the second time
	im.Ingest(context.Background(), batch, nil)
	assert.Equal(t, int32(1), inv.calls.Load())
}

func TestIngestIgnoresCallerCancellation(t *testing.T) {
	mem := store.NewMemory()
	im := newTestImporter(mem, ImportConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := im.Ingest(ctx, []Candidate{cand("Math", 1, "", 1)}, nil)
	assert.Equal(t, 1, out.Created)
	assert.Equal(t, 1, mem.Len())
}

func TestIngestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	im := newTestImporter(store.NewMemory(), ImportConfig{BatchSize: 2}).WithMetrics(m)

	im.Ingest(context.Background(), []Candidate{
		cand("Math", 1, "EX1", 1),
		cand("Math", 2, "EX1", 1),
		cand("Math", 3, "", 1),
	}, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.recordsTotal.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordsTotal.WithLabelValues("conflict")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.batchesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.batchDuration))
}

func TestRun(t *testing.T) {
	mem := store.NewMemory()
	im := newTestImporter(mem, ImportConfig{})
	tables := []source.Table{{
		Name:     "math-2024",
		Header:   []string{"Index", "Organization", "Subject", "Exam Year", "Problem Number", "Correct Rate"},
		FirstRow: 2,
		Rows: [][]string{
			{"1", "KICE", "", "2024", "1", "0.756"},
			{"", "", "", "", "", ""},
			{"x", "KICE", "Math", "2024", "2", ""},
			{"3", "KICE", "Physics", "2024", "3", "80"},
		},
	}}
	aliases := map[string]string{"math-2024": "Math"}

	var last Progress
	out := im.Run(context.Background(), tables, func(sheet string) string { return aliases[sheet] }, func(p Progress) { last = p })

	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 2, out.Created)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, models.RowError{
		Kind:    models.ErrorKindParse,
		Sheet:   "math-2024",
		Row:     4,
		Field:   FieldIndex,
		Message: `invalid value "x" for required field index`,
	}, out.Errors[0])
	assert.Equal(t, 3, last.Total)
	assert.Equal(t, 1, last.Failed)

	sp := mustGet(t, mem, models.SeqKey{Subject: "Math", Index: 1})
	assert.InDelta(t, 75.6, *sp.CorrectRate, 1e-9)
	sp = mustGet(t, mem, models.SeqKey{Subject: "Physics", Index: 3})
	assert.InDelta(t, 80.0, *sp.CorrectRate, 1e-9)
}

func TestRunSkipsWhitespaceRows(t *testing.T) {
	mem := store.NewMemory()
	im := newTestImporter(mem, ImportConfig{})
	tables := []source.Table{{
		Name:     "Math",
		Header:   []string{"Index", "Organization", "Subject", "Exam Year", "Problem Number"},
		FirstRow: 2,
		Rows: [][]string{
			{"1", "KICE", "Math", "2024", "1"},
			{" ", "\t", "", "  ", ""},
		},
	}}

	out := im.Run(context.Background(), tables, nil, nil)
	assert.Equal(t, 1, out.Total)
	assert.Equal(t, 1, out.Created)
	assert.Equal(t, 0, out.Failed)
	assert.Empty(t, out.Errors)
}

func TestRunReportsProgressWhenEveryRowFails(t *testing.T) {
	im := newTestImporter(store.NewMemory(), ImportConfig{})
	tables := []source.Table{{
		Name:     "Math",
		Header:   []string{"Index", "Organization", "Subject", "Exam Year", "Problem Number"},
		FirstRow: 2,
		Rows: [][]string{
			{"x", "KICE", "Math", "2024", "1"},
			{"2", "", "Math", "2024", "2"},
		},
	}}

	var events []Progress
	out := im.Run(context.Background(), tables, nil, func(p Progress) { events = append(events, p) })

	assert.Equal(t, 2, out.Failed)
	require.Len(t, events, 1)
	assert.Equal(t, Progress{Processed: 2, Total: 2, Failed: 2}, events[0])
}

func TestRevalidateAll(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	var problems []models.Problem
	for i := 1; i <= 5; i++ {
		problems = append(problems, cand("Math", i, "", i).Problem)
	}
	n, err := mem.InsertIgnoreDuplicates(ctx, problems)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	inv := &countingInvalidator{}
	im := newTestImporter(mem, ImportConfig{BatchSize: 2}).WithInvalidator(inv)
	total, err := im.RevalidateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Equal(t, int32(1), inv.calls.Load())

	counts, err := mem.IssueCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []store.IssueCount{{Code: validation.CodeMissingExamCode, Severity: models.SeverityWarning, Count: 5}}, counts)

	// running it again replaces rather than duplicates
	_, err = im.RevalidateAll(ctx)
	require.NoError(t, err)
	counts, err = mem.IssueCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, counts[0].Count)
}

func TestRevalidateStopsOnStoreError(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	_, err := mem.InsertIgnoreDuplicates(ctx, []models.Problem{cand("Math", 1, "", 1).Problem})
	require.NoError(t, err)
	mem.SetHooks(store.Hooks{InsertIssues: func([]models.Issue) error { return errors.New("read only") }})

	im := newTestImporter(mem, ImportConfig{})
	sp := mustGet(t, mem, models.SeqKey{Subject: "Math", Index: 1})
	err = im.Revalidate(ctx, []uuid.UUID{sp.ID})
	assert.ErrorContains(t, err, "read only")
}

func TestIngestEmpty(t *testing.T) {
	im := newTestImporter(store.NewMemory(), ImportConfig{})
	called := false
	out := im.Ingest(context.Background(), nil, func(Progress) { called = true })
	assert.Equal(t, Outcome{}, out)
	assert.False(t, called)
}
