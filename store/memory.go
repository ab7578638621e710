package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/models"
)

// Hooks let callers inject failures into a Memory store. A non-nil error
// returned by a hook aborts the operation before it touches any state.
type Hooks struct {
	FindBySeqKeys  func(keys []models.SeqKey) error
	UpdateBySeqKey func(key models.SeqKey) error
	InsertIssues   func(issues []models.Issue) error
}

// Memory is a Store kept entirely in process. It enforces both uniqueness
// scopes the same way the SQL schema does.
type Memory struct {
	mu       sync.RWMutex
	problems map[uuid.UUID]models.StoredProblem
	bySeq    map[models.SeqKey]uuid.UUID
	byExam   map[models.ExamKey]uuid.UUID
	issues   map[uuid.UUID]models.Issue
	order    map[uuid.UUID]int
	seq      int
	hooks    Hooks
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		problems: make(map[uuid.UUID]models.StoredProblem),
		bySeq:    make(map[models.SeqKey]uuid.UUID),
		byExam:   make(map[models.ExamKey]uuid.UUID),
		issues:   make(map[uuid.UUID]models.Issue),
		order:    make(map[uuid.UUID]int),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetHooks replaces the failure hooks.
func (m *Memory) SetHooks(h Hooks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = h
}

func (m *Memory) FindBySeqKeys(_ context.Context, keys []models.SeqKey) ([]models.StoredProblem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.hooks.FindBySeqKeys != nil {
		if err := m.hooks.FindBySeqKeys(keys); err != nil {
			return nil, err
		}
	}
	var out []models.StoredProblem
	seen := make(map[uuid.UUID]bool)
	for _, k := range keys {
		id, ok := m.bySeq[k]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, m.problems[id])
	}
	return out, nil
}

func (m *Memory) FindExamKeys(_ context.Context, keys []models.ExamKey) ([]models.ExamKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ExamKey
	seen := make(map[models.ExamKey]bool)
	for _, k := range keys {
		if _, ok := m.byExam[k]; ok && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *Memory) InsertIgnoreDuplicates(_ context.Context, problems []models.Problem) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, p := range problems {
		if _, ok := m.bySeq[p.SeqKey()]; ok {
			continue
		}
		ek, hasExam := p.ExamKey()
		if hasExam {
			if _, ok := m.byExam[ek]; ok {
				continue
			}
		}
		now := m.now()
		sp := models.StoredProblem{ID: uuid.New(), Problem: p, CreatedAt: now, UpdatedAt: now}
		m.problems[sp.ID] = sp
		m.bySeq[p.SeqKey()] = sp.ID
		if hasExam {
			m.byExam[ek] = sp.ID
		}
		inserted++
	}
	return inserted, nil
}

func (m *Memory) UpdateBySeqKey(_ context.Context, key models.SeqKey, p models.Problem) (models.StoredProblem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hooks.UpdateBySeqKey != nil {
		if err := m.hooks.UpdateBySeqKey(key); err != nil {
			return models.StoredProblem{}, err
		}
	}
	id, ok := m.bySeq[key]
	if !ok {
		return models.StoredProblem{}, fmt.Errorf("update %s: %w", key, ErrNotFound)
	}
	cur := m.problems[id]
	if newKey := p.SeqKey(); newKey != key {
		if _, taken := m.bySeq[newKey]; taken {
			return models.StoredProblem{}, fmt.Errorf("update %s: subject/index %s: %w", key, newKey, ErrConflict)
		}
	}
	newExam, hasNew := p.ExamKey()
	if hasNew {
		if owner, taken := m.byExam[newExam]; taken && owner != id {
			return models.StoredProblem{}, fmt.Errorf("update %s: exam code %s: %w", key, newExam, ErrConflict)
		}
	}

	delete(m.bySeq, key)
	if oldExam, hadOld := cur.ExamKey(); hadOld {
		delete(m.byExam, oldExam)
	}
	cur.Problem = p
	cur.UpdatedAt = m.now()
	m.problems[id] = cur
	m.bySeq[p.SeqKey()] = id
	if hasNew {
		m.byExam[newExam] = id
	}
	return cur, nil
}

func (m *Memory) FindByIDs(_ context.Context, ids []uuid.UUID) ([]models.StoredProblem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.StoredProblem, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.problems[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) ListIDs(_ context.Context, offset, limit int) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]models.StoredProblem, 0, len(m.problems))
	for _, p := range m.problems {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Subject != all[j].Subject {
			return all[i].Subject < all[j].Subject
		}
		return all[i].Index < all[j].Index
	})
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	ids := make([]uuid.UUID, 0, end-offset)
	for _, p := range all[offset:end] {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (m *Memory) DeleteUnresolvedIssues(_ context.Context, problemIDs []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	targets := make(map[uuid.UUID]bool, len(problemIDs))
	for _, id := range problemIDs {
		targets[id] = true
	}
	for id, is := range m.issues {
		if !is.Resolved && targets[is.ProblemID] {
			delete(m.issues, id)
			delete(m.order, id)
		}
	}
	return nil
}

func (m *Memory) InsertIssues(_ context.Context, issues []models.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hooks.InsertIssues != nil {
		if err := m.hooks.InsertIssues(issues); err != nil {
			return err
		}
	}
	for _, is := range issues {
		if is.ID == uuid.Nil {
			is.ID = uuid.New()
		}
		if is.CreatedAt.IsZero() {
			is.CreatedAt = m.now()
		}
		m.seq++
		m.issues[is.ID] = is
		m.order[is.ID] = m.seq
	}
	return nil
}

// Issues returns the issues attached to problemID in insertion order.
func (m *Memory) Issues(problemID uuid.UUID) []models.Issue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Issue
	for _, is := range m.issues {
		if is.ProblemID == problemID {
			out = append(out, is)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] < m.order[out[j].ID] })
	return out
}

// ResolveIssue marks an issue resolved, the way the manual review workflow does.
func (m *Memory) ResolveIssue(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	is, ok := m.issues[id]
	if !ok {
		return fmt.Errorf("issue %s: %w", id, ErrNotFound)
	}
	is.Resolved = true
	m.issues[id] = is
	return nil
}

// Get returns the stored problem at key.
func (m *Memory) Get(key models.SeqKey) (models.StoredProblem, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bySeq[key]
	if !ok {
		return models.StoredProblem{}, false
	}
	return m.problems[id], true
}

// Len returns the number of stored problems.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.problems)
}

func (m *Memory) SubjectSummaries(_ context.Context) ([]SubjectSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bySubject := make(map[string]*SubjectSummary)
	for _, p := range m.problems {
		s := bySubject[p.Subject]
		if s == nil {
			s = &SubjectSummary{Subject: p.Subject}
			bySubject[p.Subject] = s
		}
		s.Total++
		if p.ProblemPosted {
			s.ProblemPosted++
		}
		if p.SolutionPosted {
			s.SolutionPosted++
		}
	}
	for _, is := range m.issues {
		if is.Resolved {
			continue
		}
		p, ok := m.problems[is.ProblemID]
		if !ok {
			continue
		}
		switch is.Severity {
		case models.SeverityError:
			bySubject[p.Subject].OpenErrors++
		case models.SeverityWarning:
			bySubject[p.Subject].OpenWarnings++
		}
	}
	out := make([]SubjectSummary, 0, len(bySubject))
	for _, s := range bySubject {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out, nil
}

func (m *Memory) IssueCounts(_ context.Context) ([]IssueCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type key struct {
		code string
		sev  models.Severity
	}
	counts := make(map[key]int)
	for _, is := range m.issues {
		if !is.Resolved {
			counts[key{is.Code, is.Severity}]++
		}
	}
	out := make([]IssueCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, IssueCount{Code: k.code, Severity: k.sev, Count: n})
	}
	sortIssueCounts(out)
	return out, nil
}

func sortIssueCounts(out []IssueCount) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Code < out[j].Code
	})
}
