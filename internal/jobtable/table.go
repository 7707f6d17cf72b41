package jobtable

import "sync"

// Table is the ordered collection of live jobs, keyed by job id.
//
// All operations are synchronous and non-blocking. The table's own mutex
// protects its internal bookkeeping from concurrent callers, but it does
// NOT by itself serialize against internal/reaper's asynchronous
// reconciliation path: a caller that needs a multi-step read-modify-write
// sequence to be atomic with respect to SIGCHLD delivery must additionally
// block the child-status signal around that sequence (internal/sigutil).
type Table struct {
	mu    sync.Mutex
	order []*Job
}

// New returns an empty job table.
func New() *Table {
	return &Table{}
}

// NextJID returns the id that Append would assign to a new job right now:
// one past the current maximum, or 1 if the table is empty.
func (t *Table) NextJID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextJIDLocked()
}

func (t *Table) nextJIDLocked() int {
	if len(t.order) == 0 {
		return 1
	}
	return t.order[len(t.order)-1].JID + 1
}

// Append adds job to the table. If job.JID is zero, it is assigned
// NextJID() first.
func (t *Table) Append(job *Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if job.JID == 0 {
		job.JID = t.nextJIDLocked()
	}
	t.order = append(t.order, job)
}

// Remove deletes the job with the given id, if present.
func (t *Table) Remove(jid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, j := range t.order {
		if j.JID == jid {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

// Find returns the job with the given id, or nil.
func (t *Table) Find(jid int) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, j := range t.order {
		if j.JID == jid {
			return j
		}
	}
	return nil
}

// FindByPgrp returns the job whose process group is pgrp, or nil.
func (t *Table) FindByPgrp(pgrp int) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, j := range t.order {
		if j.Pgrp == pgrp {
			return j
		}
	}
	return nil
}

// RemoveByPgrp removes and returns the job whose process group is pgrp, or
// nil if none matches.
func (t *Table) RemoveByPgrp(pgrp int) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, j := range t.order {
		if j.Pgrp == pgrp {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return j
		}
	}
	return nil
}

// IsEmpty reports whether the table currently holds no jobs.
func (t *Table) IsEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order) == 0
}

// Snapshot returns a copy of the table's jobs in insertion order. The
// returned slice is safe to range over without holding the table's lock,
// but the *Job pointers it contains alias live state and may be mutated
// concurrently by the reaper; callers that need a stable read should copy
// the fields they care about while the child-status signal is blocked.
func (t *Table) Snapshot() []*Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Job, len(t.order))
	copy(out, t.order)
	return out
}

// ForegroundJob returns the job currently marked FOREGROUND, or nil. At
// most one job may hold this status at a time (invariant 4).
func (t *Table) ForegroundJob() *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, j := range t.order {
		if j.Status == Foreground {
			return j
		}
	}
	return nil
}
