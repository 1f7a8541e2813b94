package syncer

import "sync/atomic"

// Budget is the global new-download allowance shared across all bucket
// workers in one sync. Slots are taken before a download starts and
// credited back when the download fails, so a failure frees its slot for
// the next file. A zero or negative initial limit means unlimited.
type Budget struct {
	remaining atomic.Int64
	unlimited bool
}

// NewBudget creates a budget with the given limit. limit <= 0 disables
// budget accounting entirely.
func NewBudget(limit int64) *Budget {
	b := &Budget{unlimited: limit <= 0}
	b.remaining.Store(limit)

	return b
}

// Acquire takes one download slot. Returns false when the budget is
// exhausted.
func (b *Budget) Acquire() bool {
	if b.unlimited {
		return true
	}

	for {
		cur := b.remaining.Load()
		if cur <= 0 {
			return false
		}

		if b.remaining.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

// Release credits a slot back after a failed download.
func (b *Budget) Release() {
	if b.unlimited {
		return
	}

	b.remaining.Add(1)
}

// Remaining returns the current slot count. Meaningless when unlimited.
func (b *Budget) Remaining() int64 {
	return b.remaining.Load()
}

// Unlimited reports whether budget accounting is disabled.
func (b *Budget) Unlimited() bool {
	return b.unlimited
}
