// Package txlog is an undo journal for in-memory stores.
//
// A Journal travels in the context of a unit of work. Stores that mutate
// in-memory state record the inverse operation; rolling back replays the
// inverses newest first. Without a journal in the context, writes are final.
package txlog

import (
	"context"
	"sync"
)

type ctxKey struct{}

// Journal records undo operations.
type Journal struct {
	mu   sync.Mutex
	undo []func()
}

// New returns an empty journal.
func New() *Journal {
	return &Journal{}
}

// WithJournal returns a context carrying j.
func WithJournal(ctx context.Context, j *Journal) context.Context {
	return context.WithValue(ctx, ctxKey{}, j)
}

// FromContext returns the journal in ctx, or nil.
func FromContext(ctx context.Context) *Journal {
	j, _ := ctx.Value(ctxKey{}).(*Journal)
	return j
}

// Record registers fn as the inverse of a write that just happened. A nil
// journal ignores the call.
func (j *Journal) Record(fn func()) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.undo = append(j.undo, fn)
	j.mu.Unlock()
}

// Mark returns a savepoint position.
func (j *Journal) Mark() int {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.undo)
}

// RollbackTo undoes every write recorded after mark.
func (j *Journal) RollbackTo(mark int) {
	if j == nil {
		return
	}
	j.mu.Lock()
	pending := j.undo[mark:]
	j.undo = j.undo[:mark]
	j.mu.Unlock()
	for i := len(pending) - 1; i >= 0; i-- {
		pending[i]()
	}
}

// Rollback undoes every recorded write.
func (j *Journal) Rollback() {
	j.RollbackTo(0)
}

// Len returns the number of recorded writes.
func (j *Journal) Len() int {
	return j.Mark()
}
