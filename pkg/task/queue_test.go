package task

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-pantilt/pkg/perception"
)

type mapResolver map[string]uint32

func (m mapResolver) Resolve(target string) (uint32, bool) {
	id, ok := m[target]
	return id, ok
}

func seconds(s float64) *float64 { return &s }
func target(s string) *string    { return &s }

func TestQueue_EmptyReturnsIdleGoal(t *testing.T) {
	q := NewQueue(DefaultConfig(), nil)

	for i := 0; i < 3; i++ {
		res := q.Step(perception.At(10, 10))
		assert.False(t, res.Active)
		assert.False(t, res.Popped)
		assert.Equal(t, KindIdle, res.Kind)
		assert.Equal(t, Goal{X: 320, Y: 240}, res.Goal)
		assert.Empty(t, res.ID)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_EnqueueUnknownKindLeavesQueueUnchanged(t *testing.T) {
	q := NewQueue(DefaultConfig(), nil)
	_, err := q.Enqueue(Request{Kind: "track"})
	require.NoError(t, err)

	id, err := q.Enqueue(Request{Kind: "dance"})
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Empty(t, id)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_EnqueueValidation(t *testing.T) {
	resolver := mapResolver{"dad": 3}

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{name: "search default duration", req: Request{Kind: "search"}},
		{name: "scan alias", req: Request{Kind: "scan", Duration: seconds(2)}},
		{name: "track anyone", req: Request{Kind: "track"}},
		{name: "track numeric target", req: Request{Kind: "track", Target: target("12")}},
		{name: "track label", req: Request{Kind: "track", Target: target("dad")}},
		{name: "negative duration", req: Request{Kind: "search", Duration: seconds(-1)}, wantErr: ErrInvalidDuration},
		{name: "unknown label", req: Request{Kind: "track", Target: target("mom")}, wantErr: ErrUnknownTarget},
		{name: "zero target", req: Request{Kind: "track", Target: target("0")}, wantErr: ErrUnknownTarget},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := NewQueue(DefaultConfig(), resolver)
			id, err := q.Enqueue(tc.req)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Empty(t, id)
				assert.Equal(t, 0, q.Len())
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, id)
			assert.Equal(t, 1, q.Len())
		})
	}
}

func TestQueue_LabelTargetBindsIdentity(t *testing.T) {
	q := NewQueue(DefaultConfig(), mapResolver{"dad": 3})
	_, err := q.Enqueue(Request{Kind: "track", Target: target("dad")})
	require.NoError(t, err)

	snap, ok := q.Active()
	require.True(t, ok)
	assert.Equal(t, uint32(3), snap.Identity)
}

func TestQueue_SearchDefaultsToConfiguredDuration(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig(clock)
	cfg.SearchDuration = 3 * time.Second
	q := NewQueue(cfg, nil)

	_, err := q.Enqueue(Request{Kind: "search"})
	require.NoError(t, err)

	snap, _ := q.Active()
	assert.Equal(t, 3*time.Second, snap.Duration)
}

func TestQueue_PopsAtMostOncePerStep(t *testing.T) {
	clock := newFakeClock()
	q := NewQueue(testConfig(clock), nil)

	// Three zero-length searches: each finishes on its first cycle
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(Request{Kind: "search", Duration: seconds(0)})
		require.NoError(t, err)
	}

	for want := 2; want >= 0; want-- {
		res := q.Step(perception.Absent())
		assert.True(t, res.Active)
		assert.True(t, res.Popped)
		assert.Equal(t, want, q.Len())
	}

	res := q.Step(perception.Absent())
	assert.False(t, res.Active)
}

func TestQueue_FIFOOrder(t *testing.T) {
	clock := newFakeClock()
	q := NewQueue(testConfig(clock), nil)

	first, err := q.Enqueue(Request{Kind: "search", Duration: seconds(0)})
	require.NoError(t, err)
	second, err := q.Enqueue(Request{Kind: "track"})
	require.NoError(t, err)

	res := q.Step(perception.Absent())
	assert.Equal(t, first, res.ID)
	assert.Equal(t, KindSearch, res.Kind)

	res = q.Step(perception.At(5, 5))
	assert.Equal(t, second, res.ID)
	assert.Equal(t, KindTrack, res.Kind)
	assert.True(t, res.Started)

	res = q.Step(perception.At(6, 6))
	assert.False(t, res.Started)
}

// Track, then a 2 second search: the track gives up after 30 empty cycles,
// the search sweeps until its time is up, then the queue goes idle.
func TestQueue_TrackThenSearchScenario(t *testing.T) {
	clock := newFakeClock()
	q := NewQueue(testConfig(clock), nil)

	trackID, err := q.Enqueue(Request{Kind: "track"})
	require.NoError(t, err)
	searchID, err := q.Enqueue(Request{Kind: "search", Duration: seconds(2)})
	require.NoError(t, err)

	// Person visible for 10 cycles
	for i := 0; i < 10; i++ {
		res := q.Step(perception.At(300+i, 200))
		assert.Equal(t, trackID, res.ID)
		assert.Equal(t, Goal{X: float64(300 + i), Y: 200}, res.Goal)
		clock.Advance(33 * time.Millisecond)
	}

	// Person leaves: 29 misses keep the track, the 30th pops it
	for i := 1; i <= 30; i++ {
		res := q.Step(perception.Absent())
		assert.Equal(t, trackID, res.ID)
		assert.Equal(t, Goal{X: 309, Y: 200}, res.Goal)
		assert.Equal(t, i == 30, res.Popped, "miss %d", i)
		clock.Advance(33 * time.Millisecond)
	}

	// Search runs for two seconds of clock time
	cycles := 0
	for {
		res := q.Step(perception.Absent())
		require.Equal(t, searchID, res.ID)
		require.Equal(t, KindSearch, res.Kind)
		assert.GreaterOrEqual(t, res.Goal.X, 10.0)
		assert.LessOrEqual(t, res.Goal.X, 170.0)
		cycles++
		if res.Popped {
			break
		}
		clock.Advance(100 * time.Millisecond)
		require.Less(t, cycles, 100)
	}
	assert.Equal(t, 21, cycles)

	res := q.Step(perception.Absent())
	assert.False(t, res.Active)
	assert.Equal(t, KindIdle, res.Kind)
}

func TestQueue_Clear(t *testing.T) {
	q := NewQueue(DefaultConfig(), nil)
	_, _ = q.Enqueue(Request{Kind: "track"})
	_, _ = q.Enqueue(Request{Kind: "search"})

	assert.Equal(t, 2, q.Clear())
	assert.Equal(t, 0, q.Len())
	_, ok := q.Active()
	assert.False(t, ok)
}

func TestQueue_Replace(t *testing.T) {
	q := NewQueue(DefaultConfig(), nil)
	_, _ = q.Enqueue(Request{Kind: "search"})
	_, _ = q.Enqueue(Request{Kind: "search"})

	_, err := q.Replace(Request{Kind: "dance"})
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Equal(t, 2, q.Len())

	id, err := q.Replace(NewTrackRequest(7))
	require.NoError(t, err)
	require.Equal(t, 1, q.Len())

	active, ok := q.Active()
	require.True(t, ok)
	assert.Equal(t, id, active.ID)
	assert.Equal(t, KindTrack, active.Kind)
	assert.Equal(t, uint32(7), active.Identity)
}

func TestQueue_Snapshot(t *testing.T) {
	q := NewQueue(DefaultConfig(), nil)
	_, _ = q.Enqueue(Request{Kind: "track"})
	_, _ = q.Enqueue(Request{Kind: "search", Duration: seconds(1.5)})

	snaps := q.Snapshot()
	require.Len(t, snaps, 2)
	assert.Equal(t, KindTrack, snaps[0].Kind)
	assert.Equal(t, KindSearch, snaps[1].Kind)
	assert.Equal(t, 1500*time.Millisecond, snaps[1].Duration)
}

func TestRequest_UnmarshalAliases(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"kind", `{"kind":"track"}`, "track"},
		{"task", `{"task":"search","duration":3}`, "search"},
		{"mode", `{"mode":"scan"}`, "scan"},
		{"kind wins", `{"kind":"track","task":"search"}`, "track"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var req Request
			require.NoError(t, json.Unmarshal([]byte(tc.json), &req))
			assert.Equal(t, tc.want, req.Kind)
		})
	}
}

func TestNewTrackRequest(t *testing.T) {
	req := NewTrackRequest(0)
	assert.Nil(t, req.Target)

	req = NewTrackRequest(42)
	require.NotNil(t, req.Target)
	assert.Equal(t, "42", *req.Target)

	q := NewQueue(DefaultConfig(), nil)
	_, err := q.Enqueue(req)
	require.NoError(t, err)
}
