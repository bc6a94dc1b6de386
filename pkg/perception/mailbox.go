package perception

import (
	"sync/atomic"
	"time"
)

// Mailbox is a single-slot, latest-value-wins hand-off from one perception
// producer to the control loop. Put overwrites any unread report; Take empties
// the slot. Reports are never queued.
type Mailbox struct {
	slot    atomic.Pointer[Report]
	dropped atomic.Uint64
	now     func() time.Time
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{now: time.Now}
}

// Put publishes a report, replacing any report the loop has not taken yet.
func (m *Mailbox) Put(r Report) {
	if r.At.IsZero() {
		r.At = m.now()
	}
	if prev := m.slot.Swap(&r); prev != nil {
		m.dropped.Add(1)
	}
}

// Take removes and returns the latest report. It returns false when the slot
// is empty or the report is older than maxAge (a zero maxAge disables the
// age check). A stale report is discarded.
func (m *Mailbox) Take(now time.Time, maxAge time.Duration) (Report, bool) {
	r := m.slot.Swap(nil)
	if r == nil {
		return Report{}, false
	}
	if maxAge > 0 && now.Sub(r.At) > maxAge {
		m.dropped.Add(1)
		return Report{}, false
	}
	return *r, true
}

// Dropped returns how many reports were overwritten or discarded as stale.
func (m *Mailbox) Dropped() uint64 {
	return m.dropped.Load()
}
