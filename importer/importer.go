package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/logger"
	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/models"
	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/source"
	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/store"
	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/validation"
)

// Defaults applied to zero ImportConfig fields
const (
	DefaultBatchSize         = 100
	DefaultMaxConcurrency    = 5
	DefaultUpdateConcurrency = 10
	DefaultMaxErrors         = 100
)

// ImportConfig holds the knobs of an ingestion run
type ImportConfig struct {
	BatchSize int
	// MaxConcurrency bounds how many batches run at once.
	MaxConcurrency int
	// UpdateConcurrency bounds the update calls in flight within one batch.
	UpdateConcurrency int
	// MaxErrors bounds Outcome.Errors. Counts are never truncated.
	MaxErrors int
	// DryRun classifies candidates without writing anything.
	DryRun bool
}

func (c ImportConfig) withDefaults() ImportConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.UpdateConcurrency <= 0 {
		c.UpdateConcurrency = DefaultUpdateConcurrency
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = DefaultMaxErrors
	}
	return c
}

// Invalidator is told when stored problems changed. The report cache
// implements it.
type Invalidator interface {
	MarkStale()
}

// Progress is emitted after every chunk of concurrent batches.
type Progress struct {
	Processed    int
	Total        int
	Success      int
	Skipped      int
	Failed       int
	BatchIndex   int
	TotalBatches int
}

// Outcome aggregates an ingestion run.
type Outcome struct {
	Total     int
	Created   int
	Updated   int
	Skipped   int
	Conflicts int // skips caused by exam code collisions
	Failed    int
	Errors    []models.RowError
	// DroppedErrors counts errors left out of Errors once it was full.
	DroppedErrors int
}

// Success is the number of records written.
func (o Outcome) Success() int {
	return o.Created + o.Updated
}

func (o *Outcome) add(r batchResult, maxErrors int) {
	o.Created += r.created
	o.Updated += r.updated
	o.Skipped += r.skipped
	o.Conflicts += r.conflicts
	o.Failed += r.failed
	for _, e := range r.errors {
		o.addError(e, maxErrors)
	}
}

func (o *Outcome) addError(e models.RowError, maxErrors int) {
	if len(o.Errors) >= maxErrors {
		o.DroppedErrors++
		return
	}
	o.Errors = append(o.Errors, e)
}

// Importer reconciles candidates into a store and keeps their validation
// issues current.
type Importer struct {
	store       store.Store
	config      ImportConfig
	log         *logger.Logger
	metrics     *Metrics
	invalidator Invalidator
	rules       []validation.Rule
}

func NewImporter(s store.Store, config ImportConfig, log *logger.Logger) *Importer {
	if log == nil {
		log = logger.Nop()
	}
	return &Importer{
		store:  s,
		config: config.withDefaults(),
		log:    log,
		rules:  validation.Rules,
	}
}

// WithMetrics records batch outcomes into m.
func (im *Importer) WithMetrics(m *Metrics) *Importer {
	im.metrics = m
	return im
}

// WithInvalidator marks inv stale after any run that wrote something.
func (im *Importer) WithInvalidator(inv Invalidator) *Importer {
	im.invalidator = inv
	return im
}

func (im *Importer) Config() ImportConfig {
	return im.config
}

// Ingest reconciles candidates in batches of BatchSize, running at most
// MaxConcurrency batches at a time. Chunks of batches run one after the
// other and onProgress, if set, is called after each. Failures are counted
// in the outcome and never returned. Store calls are not cancelled with ctx
// so batches already started always finish.
func (im *Importer) Ingest(ctx context.Context, candidates []Candidate, onProgress func(Progress)) Outcome {
	cfg := im.config
	storeCtx := context.WithoutCancel(ctx)
	outcome := Outcome{Total: len(candidates)}

	batches := partition(candidates, cfg.BatchSize)
	processed := 0
	for start := 0; start < len(batches); start += cfg.MaxConcurrency {
		chunk := batches[start:min(start+cfg.MaxConcurrency, len(batches))]
		results := make([]batchResult, len(chunk))

		var g errgroup.Group
		for i, batch := range chunk {
			g.Go(func() error {
				begin := time.Now()
				results[i] = im.processBatch(storeCtx, batch)
				im.metrics.observeBatch(results[i], time.Since(begin))
				return nil
			})
		}
		_ = g.Wait()

		for i, r := range results {
			outcome.add(r, cfg.MaxErrors)
			processed += len(chunk[i])
		}
		batchIndex := start + len(chunk)
		im.log.Info("Chunk processed",
			"batch", batchIndex,
			"total_batches", len(batches),
			"processed", processed,
			"total", len(candidates),
			"created", outcome.Created,
			"updated", outcome.Updated,
			"skipped", outcome.Skipped,
			"failed", outcome.Failed,
		)
		if onProgress != nil {
			onProgress(Progress{
				Processed:    processed,
				Total:        len(candidates),
				Success:      outcome.Success(),
				Skipped:      outcome.Skipped,
				Failed:       outcome.Failed,
				BatchIndex:   batchIndex,
				TotalBatches: len(batches),
			})
		}
	}

	if outcome.Success() > 0 && !cfg.DryRun && im.invalidator != nil {
		im.invalidator.MarkStale()
	}
	return outcome
}

// SubjectResolver maps a sheet name to the subject used for rows with a
// blank subject cell.
type SubjectResolver func(sheet string) string

// Run normalizes every table and ingests the resulting candidates in one
// pass. Rows that fail to normalize are counted as failed parse errors.
func (im *Importer) Run(ctx context.Context, tables []source.Table, subjectFor SubjectResolver, onProgress func(Progress)) Outcome {
	var candidates []Candidate
	var parseErrors []models.RowError
	for _, table := range tables {
		n := NewNormalizer(table.Header)
		if missing := n.MissingColumns(); len(missing) > 0 {
			im.log.Warn("Sheet is missing required columns", "sheet", table.Name, "missing", missing)
		}
		defaultSubject := table.Name
		if subjectFor != nil {
			defaultSubject = subjectFor(table.Name)
		}
		for i, values := range table.Rows {
			if isBlank(values) {
				continue
			}
			row := RawRow{
				Sheet:          table.Name,
				Number:         table.FirstRow + i,
				Values:         values,
				DefaultSubject: defaultSubject,
			}
			c, err := n.Normalize(row)
			if err != nil {
				re := models.RowError{Kind: models.ErrorKindParse, Sheet: row.Sheet, Row: row.Number, Message: err.Error()}
				var mf *MissingFieldError
				if errors.As(err, &mf) {
					re.Field = mf.Field
				}
				parseErrors = append(parseErrors, re)
				continue
			}
			candidates = append(candidates, c)
		}
	}

	im.metrics.observeParseFailures(len(parseErrors))
	outcome := Outcome{}
	for _, e := range parseErrors {
		outcome.addError(e, im.config.MaxErrors)
	}
	ingested := im.Ingest(ctx, candidates, func(p Progress) {
		if onProgress != nil {
			p.Total += len(parseErrors)
			p.Processed += len(parseErrors)
			p.Failed += len(parseErrors)
			onProgress(p)
		}
	})

	if len(candidates) == 0 && len(parseErrors) > 0 && onProgress != nil {
		onProgress(Progress{Processed: len(parseErrors), Total: len(parseErrors), Failed: len(parseErrors)})
	}

	outcome.Total = len(candidates) + len(parseErrors)
	outcome.Created = ingested.Created
	outcome.Updated = ingested.Updated
	outcome.Skipped = ingested.Skipped
	outcome.Conflicts = ingested.Conflicts
	outcome.Failed = ingested.Failed + len(parseErrors)
	outcome.DroppedErrors += ingested.DroppedErrors
	for _, e := range ingested.Errors {
		outcome.addError(e, im.config.MaxErrors)
	}
	return outcome
}

func isBlank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Revalidate regenerates the unresolved issues of the given problems.
func (im *Importer) Revalidate(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := im.regenerateIssues(ctx, ids); err != nil {
		return err
	}
	if im.invalidator != nil {
		im.invalidator.MarkStale()
	}
	return nil
}

// RevalidateAll walks every stored problem in pages of BatchSize and
// regenerates its issues. It returns how many problems were revalidated.
func (im *Importer) RevalidateAll(ctx context.Context) (int, error) {
	total := 0
	for offset := 0; ; offset += im.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		ids, err := im.store.ListIDs(ctx, offset, im.config.BatchSize)
		if err != nil {
			return total, fmt.Errorf("list problems: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		if err := im.regenerateIssues(ctx, ids); err != nil {
			return total, err
		}
		total += len(ids)
		im.log.Debug("Revalidated page", "offset", offset, "count", len(ids))
		if len(ids) < im.config.BatchSize {
			break
		}
	}
	if total > 0 && im.invalidator != nil {
		im.invalidator.MarkStale()
	}
	return total, nil
}

func partition(candidates []Candidate, size int) [][]Candidate {
	var batches [][]Candidate
	for start := 0; start < len(candidates); start += size {
		batches = append(batches, candidates[start:min(start+size, len(candidates))])
	}
	return batches
}
