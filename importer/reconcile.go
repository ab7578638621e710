package importer

import (
	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/models"
)

// Candidate is a normalized row that has not been persisted yet. Sheet and
// Row locate it in the source for error reporting.
type Candidate struct {
	Sheet string
	Row   int
	models.Problem
}

// SkipReason says why reconciliation left a candidate alone
type SkipReason string

const (
	// SkipUnchanged means the stored row already holds identical values.
	SkipUnchanged SkipReason = "unchanged"
	// SkipExamCodeConflict means the candidate's exam code and problem
	// number already belong to another problem.
	SkipExamCodeConflict SkipReason = "exam_code_conflict"
)

// Skipped is a candidate reconciliation decided not to write.
type Skipped struct {
	Candidate
	Reason SkipReason
}

// Plan is the create/update/skip split of one batch. Each list keeps the
// input order.
type Plan struct {
	Create []Candidate
	Update []Candidate
	Skip   []Skipped
}

// Conflicts counts skips caused by exam code collisions.
func (p Plan) Conflicts() int {
	n := 0
	for _, s := range p.Skip {
		if s.Reason == SkipExamCodeConflict {
			n++
		}
	}
	return n
}

// Reconcile classifies batch against the stored rows sharing its
// (subject, index) keys and the set of exam keys already taken. Candidates
// are decided in order and every exam key a create or update keeps is
// added to occupied, so a later candidate in the same batch cannot take it
// again. occupied is modified.
func Reconcile(batch []Candidate, existing map[models.SeqKey]models.StoredProblem, occupied map[models.ExamKey]struct{}) Plan {
	var plan Plan
	for _, c := range batch {
		examKey, hasExamKey := c.ExamKey()
		_, taken := occupied[examKey]
		taken = hasExamKey && taken

		stored, found := existing[c.SeqKey()]
		if found {
			if stored.Problem.Equal(c.Problem) {
				plan.Skip = append(plan.Skip, Skipped{Candidate: c, Reason: SkipUnchanged})
				continue
			}
			storedKey, storedHasKey := stored.ExamKey()
			moved := hasExamKey && (!storedHasKey || storedKey != examKey)
			if moved && taken {
				plan.Skip = append(plan.Skip, Skipped{Candidate: c, Reason: SkipExamCodeConflict})
				continue
			}
			plan.Update = append(plan.Update, c)
		} else {
			if taken {
				plan.Skip = append(plan.Skip, Skipped{Candidate: c, Reason: SkipExamCodeConflict})
				continue
			}
			plan.Create = append(plan.Create, c)
		}
		if hasExamKey {
			occupied[examKey] = struct{}{}
		}
	}
	return plan
}
