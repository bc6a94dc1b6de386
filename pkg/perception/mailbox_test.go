package perception

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailbox_EmptyTake(t *testing.T) {
	m := NewMailbox()

	_, ok := m.Take(time.Now(), time.Second)
	assert.False(t, ok)
}

func TestMailbox_LatestValueWins(t *testing.T) {
	m := NewMailbox()
	now := time.Now()

	m.Put(Report{Position: &Point{X: 1, Y: 1}, At: now})
	m.Put(Report{Position: &Point{X: 2, Y: 2}, At: now})
	m.Put(Report{Position: &Point{X: 3, Y: 3}, At: now})

	r, ok := m.Take(now, time.Second)
	require.True(t, ok)
	assert.Equal(t, Point{X: 3, Y: 3}, *r.Position)
	assert.Equal(t, uint64(2), m.Dropped())

	// Slot is empty after a take
	_, ok = m.Take(now, time.Second)
	assert.False(t, ok)
}

func TestMailbox_StaleReportDiscarded(t *testing.T) {
	m := NewMailbox()
	now := time.Now()

	m.Put(Report{Position: &Point{X: 5, Y: 5}, At: now.Add(-500 * time.Millisecond)})

	_, ok := m.Take(now, 100*time.Millisecond)
	assert.False(t, ok, "stale report must not be delivered")
	assert.Equal(t, uint64(1), m.Dropped())

	// A stale report is not re-delivered later
	_, ok = m.Take(now, 0)
	assert.False(t, ok)
}

func TestMailbox_ZeroMaxAgeDisablesCheck(t *testing.T) {
	m := NewMailbox()
	now := time.Now()

	m.Put(Report{At: now.Add(-time.Hour)})
	_, ok := m.Take(now, 0)
	assert.True(t, ok)
}

func TestMailbox_StampsReceiptTime(t *testing.T) {
	m := NewMailbox()
	fixed := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	m.Put(Report{})
	r, ok := m.Take(fixed, time.Second)
	require.True(t, ok)
	assert.Equal(t, fixed, r.At)
}

func TestMailbox_ConcurrentProducer(t *testing.T) {
	m := NewMailbox()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			m.Put(Report{Position: &Point{X: i}})
		}
	}()

	last := -1
	for i := 0; i < 1000; i++ {
		if r, ok := m.Take(time.Now(), 0); ok {
			// Values only move forward
			assert.Greater(t, r.Position.X, last)
			last = r.Position.X
		}
	}
	wg.Wait()
}

func TestReport_Observation(t *testing.T) {
	id := uint32(7)

	tests := []struct {
		name   string
		report Report
		want   Observation
	}{
		{name: "absent", report: Report{}, want: Absent()},
		{name: "position only", report: Report{Position: &Point{X: 10, Y: 20}}, want: At(10, 20)},
		{name: "with identity", report: Report{Position: &Point{X: 10, Y: 20}, Identity: &id}, want: At(10, 20).WithIdentity(7)},
		{name: "identity without position", report: Report{Identity: &id}, want: Absent()},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.report.Observation())
		})
	}
}

func TestObservation_String(t *testing.T) {
	assert.Equal(t, "absent", Absent().String())
	assert.Equal(t, "(1,2)", At(1, 2).String())
	assert.Equal(t, "(1,2) id=3", At(1, 2).WithIdentity(3).String())
}
