package engine

import "rush_engine/internal/model"

// Queue is the ordered set of targets still eligible in the current run.
// Entries point into the run's catalog, so counter updates are visible to
// Prune. It is owned by the worker and is not safe for concurrent use.
type Queue struct {
	entries []*model.Target
}

// BuildQueue selects the active targets of catalog, in catalog order.
func BuildQueue(catalog []model.Target) (*Queue, error) {
	q := &Queue{}
	for i := range catalog {
		if catalog[i].Active() {
			q.entries = append(q.entries, &catalog[i])
		}
	}
	if len(q.entries) == 0 {
		return nil, ErrNoEligibleTargets
	}
	return q, nil
}

func (q *Queue) Len() int {
	return len(q.entries)
}

// Entries returns a copy of the current order. Iterating it is safe while
// the queue is modified.
func (q *Queue) Entries() []*model.Target {
	return append([]*model.Target(nil), q.entries...)
}

func (q *Queue) Names() []string {
	out := make([]string, 0, len(q.entries))
	for _, t := range q.entries {
		out = append(out, t.Name)
	}
	return out
}

// Prune drops every exhausted target and returns them.
func (q *Queue) Prune() []*model.Target {
	var removed []*model.Target
	kept := q.entries[:0]
	for _, t := range q.entries {
		if t.Exhausted() {
			removed = append(removed, t)
			continue
		}
		kept = append(kept, t)
	}
	clear(q.entries[len(kept):])
	q.entries = kept
	return removed
}

// Advance applies the result of an attempt. Outside loop mode a target is
// bought at most once per run, even if it is still under its goal.
func (q *Queue) Advance(t *model.Target, out Outcome, loopMode bool) bool {
	if out.Kind != OutcomeSuccess || loopMode {
		return false
	}
	return q.remove(t)
}

func (q *Queue) remove(t *model.Target) bool {
	for i, e := range q.entries {
		if e == t {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}
