package importer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/models"
	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/validation"
)

// batchResult is the outcome of one reconcile-and-persist pass
type batchResult struct {
	created   int
	updated   int
	skipped   int
	conflicts int
	failed    int
	errors    []models.RowError
}

func (r batchResult) accounted() int {
	return r.created + r.updated + r.skipped + r.failed
}

// processBatch reconciles one batch against the store, writes the plan and
// regenerates issues for every problem it wrote. Any error outside the
// individual update calls fails the records not yet accounted for, and so
// does a panic.
func (im *Importer) processBatch(ctx context.Context, batch []Candidate) (res batchResult) {
	if len(batch) == 0 {
		return res
	}

	fatal := func(step string, err error) batchResult {
		im.log.Error("Batch failed", "step", step, "first_row", batch[0].Row, "size", len(batch), "error", err)
		res.failed += len(batch) - res.accounted()
		res.errors = append(res.errors, models.RowError{
			Kind:    models.ErrorKindBatch,
			Sheet:   batch[0].Sheet,
			Row:     batch[0].Row,
			Message: fmt.Sprintf("%s: %v", step, err),
		})
		return res
	}
	defer func() {
		if r := recover(); r != nil {
			res = fatal("panic", fmt.Errorf("%v", r))
		}
	}()

	existing, occupied, err := im.lookup(ctx, batch)
	if err != nil {
		return fatal("lookup", err)
	}
	plan := Reconcile(batch, existing, occupied)
	res.skipped = len(plan.Skip)
	res.conflicts = plan.Conflicts()

	if im.config.DryRun {
		res.created = len(plan.Create)
		res.updated = len(plan.Update)
		return res
	}

	var touched []uuid.UUID
	if len(plan.Create) > 0 {
		ids, inserted, err := im.create(ctx, plan.Create)
		res.created = inserted
		if err != nil {
			return fatal("create", err)
		}
		// the store ignored the rest as duplicates
		res.skipped += len(plan.Create) - inserted
		touched = append(touched, ids...)
	}

	if len(plan.Update) > 0 {
		ids, errs := im.update(ctx, plan.Update)
		res.updated = len(ids)
		res.failed += len(errs)
		res.errors = append(res.errors, errs...)
		touched = append(touched, ids...)
	}

	if len(touched) > 0 {
		if err := im.regenerateIssues(ctx, touched); err != nil {
			return fatal("regenerate issues", err)
		}
	}
	return res
}

// lookup loads the stored problems sharing a (subject, index) with the
// batch and the exam keys of the batch that are already taken.
func (im *Importer) lookup(ctx context.Context, batch []Candidate) (map[models.SeqKey]models.StoredProblem, map[models.ExamKey]struct{}, error) {
	seqKeys := make([]models.SeqKey, 0, len(batch))
	var examKeys []models.ExamKey
	for _, c := range batch {
		seqKeys = append(seqKeys, c.SeqKey())
		if k, ok := c.ExamKey(); ok {
			examKeys = append(examKeys, k)
		}
	}

	stored, err := im.store.FindBySeqKeys(ctx, seqKeys)
	if err != nil {
		return nil, nil, err
	}
	existing := make(map[models.SeqKey]models.StoredProblem, len(stored))
	for _, sp := range stored {
		existing[sp.SeqKey()] = sp
	}

	occupied := make(map[models.ExamKey]struct{})
	if len(examKeys) > 0 {
		taken, err := im.store.FindExamKeys(ctx, examKeys)
		if err != nil {
			return nil, nil, err
		}
		for _, k := range taken {
			occupied[k] = struct{}{}
		}
	}
	return existing, occupied, nil
}

// create inserts the candidates and returns the ids of the rows this call
// actually wrote. The insert does not return rows, so they are read back by
// key and matched on content. A batch may hold several rows for one key;
// the store keeps one of them, so a stored row matches any of them.
func (im *Importer) create(ctx context.Context, creates []Candidate) ([]uuid.UUID, int, error) {
	problems := make([]models.Problem, len(creates))
	keys := make([]models.SeqKey, len(creates))
	wanted := make(map[models.SeqKey][]models.Problem, len(creates))
	for i, c := range creates {
		problems[i] = c.Problem
		keys[i] = c.SeqKey()
		wanted[keys[i]] = append(wanted[keys[i]], c.Problem)
	}

	inserted, err := im.store.InsertIgnoreDuplicates(ctx, problems)
	if err != nil {
		return nil, 0, err
	}
	if inserted == 0 {
		return nil, 0, nil
	}

	stored, err := im.store.FindBySeqKeys(ctx, keys)
	if err != nil {
		return nil, inserted, err
	}
	ids := make([]uuid.UUID, 0, inserted)
	for _, sp := range stored {
		for _, p := range wanted[sp.SeqKey()] {
			if sp.Problem.Equal(p) {
				ids = append(ids, sp.ID)
				break
			}
		}
	}
	return ids, inserted, nil
}

// update overwrites each stored row concurrently. A failed call only fails
// its own record.
func (im *Importer) update(ctx context.Context, updates []Candidate) ([]uuid.UUID, []models.RowError) {
	type result struct {
		id  uuid.UUID
		err error
	}
	results := make([]result, len(updates))

	var g errgroup.Group
	g.SetLimit(im.config.UpdateConcurrency)
	for i, c := range updates {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = result{err: fmt.Errorf("panic: %v", r)}
				}
			}()
			sp, err := im.store.UpdateBySeqKey(ctx, c.SeqKey(), c.Problem)
			results[i] = result{id: sp.ID, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var ids []uuid.UUID
	var errs []models.RowError
	for i, r := range results {
		if r.err != nil {
			c := updates[i]
			im.log.Warn("Update failed", "sheet", c.Sheet, "row", c.Row, "key", c.SeqKey().String(), "error", r.err)
			errs = append(errs, models.RowError{
				Kind:    models.ErrorKindWrite,
				Sheet:   c.Sheet,
				Row:     c.Row,
				Message: r.err.Error(),
			})
			continue
		}
		ids = append(ids, r.id)
	}
	return ids, errs
}

// regenerateIssues re-reads the problems, evaluates the rules against them
// and replaces their unresolved issues. Nothing outside ids is touched.
func (im *Importer) regenerateIssues(ctx context.Context, ids []uuid.UUID) error {
	problems, err := im.store.FindByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("reload problems: %w", err)
	}
	var issues []models.Issue
	for _, p := range problems {
		issues = append(issues, validation.EvaluateRules(im.rules, p)...)
	}
	if err := im.store.DeleteUnresolvedIssues(ctx, ids); err != nil {
		return fmt.Errorf("delete unresolved issues: %w", err)
	}
	if len(issues) == 0 {
		return nil
	}
	if err := im.store.InsertIssues(ctx, issues); err != nil {
		return fmt.Errorf("insert issues: %w", err)
	}
	return nil
}
