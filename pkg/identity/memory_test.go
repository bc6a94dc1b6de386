package identity

import (
	"errors"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemory(t *testing.T, opts ...Option) *Memory {
	t.Helper()
	m, err := New(opts...)
	require.NoError(t, err)
	return m
}

func TestMatchOrAdd_FirstEmbeddingGetsIDOne(t *testing.T) {
	m := newMemory(t)

	match, err := m.MatchOrAdd([]float64{1, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), match.ID)
	assert.True(t, match.New)
	assert.Equal(t, 1, m.Len())
}

func TestMatchOrAdd_SimilarEmbeddingMatches(t *testing.T) {
	m := newMemory(t)

	first, err := m.MatchOrAdd([]float64{1, 0, 0})
	require.NoError(t, err)

	// cos = 0.9/sqrt(0.81+0.01) ~ 0.994
	second, err := m.MatchOrAdd([]float64{0.9, 0.1, 0})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.False(t, second.New)
	assert.Greater(t, second.Similarity, 0.99)
	assert.Equal(t, 1, m.Len())
}

func TestMatchOrAdd_OrthogonalEmbeddingIsNew(t *testing.T) {
	m := newMemory(t)

	a, _ := m.MatchOrAdd([]float64{1, 0, 0})
	b, err := m.MatchOrAdd([]float64{0, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), a.ID)
	assert.Equal(t, uint32(2), b.ID)
	assert.True(t, b.New)
}

func TestMatchOrAdd_ThresholdIsStrict(t *testing.T) {
	// cos(a, b) = 3/5, exactly the default threshold
	a := []float64{1, 0}
	b := []float64{3, 4}

	m := newMemory(t)
	_, _ = m.MatchOrAdd(a)
	match, err := m.MatchOrAdd(b)
	require.NoError(t, err)
	assert.True(t, match.New, "similarity equal to the threshold must not match")

	m = newMemory(t, WithThreshold(0.59))
	_, _ = m.MatchOrAdd(a)
	match, err = m.MatchOrAdd(b)
	require.NoError(t, err)
	assert.False(t, match.New)
}

func TestMatchOrAdd_PicksBestMatch(t *testing.T) {
	m := newMemory(t)

	_, _ = m.MatchOrAdd([]float64{1, 0, 0})
	_, _ = m.MatchOrAdd([]float64{0, 1, 0})

	// Closer to id 2 than id 1, above threshold for both
	match, err := m.MatchOrAdd([]float64{0.7, 0.72, 0})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), match.ID)
}

func TestMatchOrAdd_ScaleInvariant(t *testing.T) {
	m := newMemory(t)
	a, _ := m.MatchOrAdd([]float64{1, 2, 3})
	b, err := m.MatchOrAdd([]float64{10, 20, 30})
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.InDelta(t, 1.0, b.Similarity, 1e-12)
}

func TestMatchOrAdd_RefreshesLastSeen(t *testing.T) {
	m := newMemory(t)
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return t0 }
	_, _ = m.MatchOrAdd([]float64{1, 0})

	m.now = func() time.Time { return t0.Add(time.Minute) }
	_, _ = m.MatchOrAdd([]float64{1, 0.01})

	recs := m.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, t0.Add(time.Minute), recs[0].LastSeen)
}

func TestMatchOrAdd_InvalidEmbeddings(t *testing.T) {
	m := newMemory(t)
	_, _ = m.MatchOrAdd([]float64{1, 0, 0})

	_, err := m.MatchOrAdd(nil)
	assert.ErrorIs(t, err, ErrEmptyEmbedding)

	_, err = m.MatchOrAdd([]float64{0, 0, 0})
	assert.ErrorIs(t, err, ErrZeroEmbedding)

	_, err = m.MatchOrAdd([]float64{1, 0})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	assert.Equal(t, 1, m.Len(), "failed calls must not add identities")
}

func TestMatchOrAdd_IDsStrictlyIncrease(t *testing.T) {
	m := newMemory(t, WithThreshold(0.99))
	rng := rand.New(rand.NewSource(7))

	var last uint32
	for i := 0; i < 200; i++ {
		v := make([]float64, 16)
		for j := range v {
			v[j] = rng.NormFloat64()
		}
		match, err := m.MatchOrAdd(v)
		require.NoError(t, err)
		if match.New {
			assert.Greater(t, match.ID, last)
			last = match.ID
		} else {
			assert.LessOrEqual(t, match.ID, last)
		}
	}
}

func TestMatchOrAdd_StoresCopyOfEmbedding(t *testing.T) {
	m := newMemory(t)
	v := []float64{1, 0}
	_, _ = m.MatchOrAdd(v)
	v[0], v[1] = 0, 1

	recs := m.Records()
	assert.Equal(t, []float64{1, 0}, recs[0].Embedding)

	// Records is a copy too
	recs[0].Embedding[0] = 42
	assert.Equal(t, []float64{1, 0}, m.Records()[0].Embedding)
}

func TestLabels(t *testing.T) {
	m := newMemory(t)
	a, _ := m.MatchOrAdd([]float64{1, 0})
	b, _ := m.MatchOrAdd([]float64{0, 1})

	label, ok := m.Label(a.ID)
	require.True(t, ok)
	assert.Equal(t, "unknown_1", label)

	id, ok := m.Resolve("unknown_2")
	require.True(t, ok)
	assert.Equal(t, b.ID, id)

	require.NoError(t, m.SetLabel(a.ID, " Dad "))
	id, ok = m.Lookup("DAD")
	require.True(t, ok)
	assert.Equal(t, a.ID, id)

	// Relabel to the same label is fine
	require.NoError(t, m.SetLabel(a.ID, "dad"))

	assert.ErrorIs(t, m.SetLabel(b.ID, "dad"), ErrLabelTaken)
	assert.ErrorIs(t, m.SetLabel(99, "mom"), ErrUnknownIdentity)
	assert.ErrorIs(t, m.SetLabel(b.ID, "  "), ErrEmptyLabel)

	// Default labels belong to their own ids, present or future
	assert.ErrorIs(t, m.SetLabel(a.ID, "unknown_3"), ErrReservedLabel)
	assert.ErrorIs(t, m.SetLabel(a.ID, "Unknown_2"), ErrReservedLabel)
	require.NoError(t, m.SetLabel(b.ID, "unknown_2"))
	require.NoError(t, m.SetLabel(b.ID, "unknown_twin"))

	_, ok = m.Label(99)
	assert.False(t, ok)
	_, ok = m.Lookup("mom")
	assert.False(t, ok)
}

func TestRestore_NeverReusesIDs(t *testing.T) {
	m := newMemory(t)
	m.Restore(Snapshot{
		NextID: 3, // stale counter; the records say otherwise
		Records: []Record{
			{ID: 5, Label: "dad", Embedding: []float64{1, 0}},
			{ID: 2, Embedding: []float64{0, 1}},
			{ID: 0, Embedding: []float64{1, 1}}, // invalid id
			{ID: 9, Embedding: []float64{0, 0}}, // zero norm
			{ID: 10, Embedding: nil},            // empty
		},
	})

	recs := m.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, uint32(2), recs[0].ID)
	assert.Equal(t, "unknown_2", recs[0].Label)
	assert.Equal(t, uint32(5), recs[1].ID)

	match, err := m.MatchOrAdd([]float64{-1, -1})
	require.NoError(t, err)
	assert.True(t, match.New)
	assert.Equal(t, uint32(6), match.ID)
}

func TestJSONStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "identities.json")
	testStoreRoundTrip(t, NewJSONStore(path))
}

func TestJSONStore_MissingFile(t *testing.T) {
	s := NewJSONStore(filepath.Join(t.TempDir(), "missing.json"))
	snap, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, Snapshot{}, snap)
}

func TestJSONStore_EmptyPathIsNoop(t *testing.T) {
	s := NewJSONStore("")
	require.NoError(t, s.Save(Snapshot{NextID: 4}))
	snap, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, Snapshot{}, snap)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "identities.db"))
	require.NoError(t, err)
	testStoreRoundTrip(t, s)
}

func TestSQLiteStore_DefaultLabelsStayUnique(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)

	m := newMemory(t, WithStore(s))
	_, err = m.MatchOrAdd([]float64{1, 0, 0})
	require.NoError(t, err)
	_, err = m.MatchOrAdd([]float64{0, 1, 0})
	require.NoError(t, err)

	require.ErrorIs(t, m.SetLabel(1, "unknown_3"), ErrReservedLabel)

	third, err := m.MatchOrAdd([]float64{0, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), third.ID)
	require.NoError(t, m.Save())
	require.NoError(t, m.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	reopened := newMemory(t, WithStore(s))
	defer reopened.Close()

	id, ok := reopened.Lookup("unknown_3")
	require.True(t, ok)
	assert.Equal(t, uint32(3), id)

	fourth, err := reopened.MatchOrAdd([]float64{-1, -1, -1})
	require.NoError(t, err)
	assert.True(t, fourth.New)
	assert.Equal(t, uint32(4), fourth.ID)
}

func TestJSONStore_ConcurrentSavesKeepNewest(t *testing.T) {
	const workers, perWorker = 8, 5
	const dim = workers * perWorker

	path := filepath.Join(t.TempDir(), "identities.json")
	m := newMemory(t, WithStore(NewJSONStore(path)))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				// Unit vectors are mutually orthogonal, so each one is new
				v := make([]float64, dim)
				v[w*perWorker+i] = 1
				match, err := m.MatchOrAdd(v)
				if err != nil {
					t.Errorf("MatchOrAdd() error = %v", err)
					return
				}
				if err := m.SetLabel(match.ID, DefaultLabel(match.ID)); err != nil {
					t.Errorf("SetLabel() error = %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	reopened := newMemory(t, WithStore(NewJSONStore(path)))
	snap := reopened.Snapshot()
	assert.Equal(t, uint32(dim+1), snap.NextID)
	assert.Len(t, snap.Records, dim)
}

type brokenStore struct {
	closed bool
}

func (s *brokenStore) Save(Snapshot) error {
	return nil
}

func (s *brokenStore) Load() (Snapshot, error) {
	return Snapshot{}, errBroken
}

func (s *brokenStore) Close() error {
	s.closed = true
	return nil
}

var errBroken = errors.New("broken store")

func TestNew_ClosesStoreWhenLoadFails(t *testing.T) {
	store := &brokenStore{}
	_, err := New(WithStore(store))
	require.ErrorIs(t, err, errBroken)
	assert.True(t, store.closed)
}

func TestSQLiteStore_Empty(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "identities.db"))
	require.NoError(t, err)
	defer s.Close()

	snap, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), snap.NextID)
	assert.Empty(t, snap.Records)
}

func TestEmbeddingBlob(t *testing.T) {
	v := []float64{0, -1.5, 3.25, 1e-300}
	got, err := decodeEmbedding(encodeEmbedding(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)
}

// testStoreRoundTrip checks that a memory reopened on the same store keeps
// its identities, labels, and id counter.
func testStoreRoundTrip(t *testing.T, store Store) {
	t.Helper()

	m := newMemory(t, WithStore(store))
	a, err := m.MatchOrAdd([]float64{1, 0, 0})
	require.NoError(t, err)
	_, err = m.MatchOrAdd([]float64{0, 1, 0})
	require.NoError(t, err)
	require.NoError(t, m.SetLabel(a.ID, "dad"))
	want := m.Snapshot()

	// Reload from the store through a fresh memory
	reopened := newMemory(t, WithStore(store))
	got := reopened.Snapshot()

	if diff := cmp.Diff(want, got,
		cmpopts.IgnoreUnexported(Record{}),
		cmpopts.EquateApproxTime(time.Microsecond),
	); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	id, ok := reopened.Lookup("dad")
	require.True(t, ok)
	assert.Equal(t, a.ID, id)

	c, err := reopened.MatchOrAdd([]float64{0, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), c.ID)

	require.NoError(t, reopened.Close())
}
