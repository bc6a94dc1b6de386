// Package identity assigns stable integer ids to face embeddings.
//
// Every embedding is compared against every known record by cosine
// similarity. A close enough match refreshes that record; anything else
// becomes a new identity. Ids start at 1, only ever increase, and are never
// reused, including across restarts when a Store is configured.
//
// Matching is brute force and linear in the number of identities. That is
// fine for a household-sized population.
package identity

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
)

// DefaultThreshold is the cosine similarity a match must exceed.
const DefaultThreshold = 0.6

// Errors returned by Memory.
var (
	ErrEmptyEmbedding    = errors.New("empty embedding")
	ErrZeroEmbedding     = errors.New("zero-norm embedding")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrUnknownIdentity   = errors.New("unknown identity")
	ErrLabelTaken        = errors.New("label already in use")
	ErrEmptyLabel        = errors.New("empty label")
	ErrReservedLabel     = errors.New("label reserved for another identity")
)

// Record is one remembered person.
type Record struct {
	ID        uint32    `json:"id"`
	Label     string    `json:"label"`
	Embedding []float64 `json:"embedding"`
	LastSeen  time.Time `json:"last_seen"`

	norm float64
}

// Match is the result of MatchOrAdd.
type Match struct {
	ID         uint32  `json:"id"`
	Similarity float64 `json:"similarity"` // Best similarity found; 0 for the first identity
	New        bool    `json:"new"`
}

// Snapshot is the persisted form of a Memory.
type Snapshot struct {
	NextID  uint32   `json:"next_id"`
	Records []Record `json:"records"`
}

// Memory is the identity store. It is safe for concurrent use.
type Memory struct {
	threshold float64
	store     Store
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	records []Record
	nextID  uint32

	// saveMu orders snapshots with their writes so an older snapshot never
	// lands after a newer one.
	saveMu sync.Mutex
}

// Option configures a Memory.
type Option func(*Memory)

// WithThreshold sets the similarity a match must exceed.
func WithThreshold(threshold float64) Option {
	return func(m *Memory) {
		m.threshold = threshold
	}
}

// WithStore enables persistence. New identities and label changes are saved
// immediately; LastSeen refreshes are saved by Save.
func WithStore(store Store) Option {
	return func(m *Memory) {
		m.store = store
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Memory) {
		m.logger = logger.With("component", "identity")
	}
}

// New creates an identity memory. If a store is configured its snapshot is
// loaded first; when that fails the store is closed.
func New(opts ...Option) (*Memory, error) {
	m := &Memory{
		threshold: DefaultThreshold,
		logger:    slog.Default().With("component", "identity"),
		now:       time.Now,
		nextID:    1,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.store != nil {
		snap, err := m.store.Load()
		if err != nil {
			return nil, errors.Join(fmt.Errorf("load identities: %w", err), m.store.Close())
		}
		m.Restore(snap)
	}
	return m, nil
}

// MatchOrAdd returns the identity of the closest record whose similarity
// exceeds the threshold, refreshing its LastSeen. Otherwise it allocates a
// new identity for the embedding.
func (m *Memory) MatchOrAdd(embedding []float64) (Match, error) {
	if len(embedding) == 0 {
		return Match{}, ErrEmptyEmbedding
	}
	norm := floats.Norm(embedding, 2)
	if norm == 0 {
		return Match{}, ErrZeroEmbedding
	}

	m.mu.Lock()

	best, bestSim := -1, 0.0
	for i := range m.records {
		r := &m.records[i]
		if len(r.Embedding) != len(embedding) {
			m.mu.Unlock()
			return Match{}, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), len(r.Embedding))
		}
		sim := floats.Dot(embedding, r.Embedding) / (norm * r.norm)
		if best < 0 || sim > bestSim {
			best, bestSim = i, sim
		}
	}

	now := m.now()
	if best >= 0 && bestSim > m.threshold {
		m.records[best].LastSeen = now
		id := m.records[best].ID
		m.mu.Unlock()
		return Match{ID: id, Similarity: bestSim}, nil
	}

	id := m.nextID
	m.nextID++
	m.records = append(m.records, Record{
		ID:        id,
		Label:     DefaultLabel(id),
		Embedding: append([]float64(nil), embedding...),
		LastSeen:  now,
		norm:      norm,
	})
	m.mu.Unlock()

	m.logger.Info("new identity", "id", id, "best_similarity", bestSim)
	m.persist()

	return Match{ID: id, Similarity: bestSim, New: true}, nil
}

// DefaultLabel is the label given to a new identity.
func DefaultLabel(id uint32) string {
	return "unknown_" + strconv.FormatUint(uint64(id), 10)
}

// NormalizeLabel is the stored form of a label.
func NormalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// defaultLabelID reports whether label has the unknown_<n> form.
func defaultLabelID(label string) (uint32, bool) {
	rest, ok := strings.CutPrefix(label, "unknown_")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// Label returns the label of an identity.
func (m *Memory) Label(id uint32) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if i := m.index(id); i >= 0 {
		return m.records[i].Label, true
	}
	return "", false
}

// SetLabel names an identity ("dad"). Labels are case-insensitive and unique.
// Default labels of other identities, allocated or not, are reserved.
func (m *Memory) SetLabel(id uint32, label string) error {
	label = NormalizeLabel(label)
	if label == "" {
		return ErrEmptyLabel
	}
	if n, ok := defaultLabelID(label); ok && n != id {
		return fmt.Errorf("%w: %q", ErrReservedLabel, label)
	}

	m.mu.Lock()
	i := m.index(id)
	if i < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownIdentity, id)
	}
	if other, ok := m.lookup(label); ok && other != id {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q belongs to %d", ErrLabelTaken, label, other)
	}
	m.records[i].Label = label
	m.mu.Unlock()

	m.persist()
	return nil
}

// Lookup finds the identity with the given label.
func (m *Memory) Lookup(label string) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookup(NormalizeLabel(label))
}

// Resolve maps a task target to an identity. It accepts labels.
func (m *Memory) Resolve(target string) (uint32, bool) {
	return m.Lookup(target)
}

// Records returns a copy of every record, in id order.
func (m *Memory) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyRecords()
}

func (m *Memory) copyRecords() []Record {
	out := make([]Record, len(m.records))
	for i, r := range m.records {
		r.Embedding = append([]float64(nil), r.Embedding...)
		out[i] = r
	}
	return out
}

// Len returns the number of identities.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Snapshot returns the persisted form of the memory.
func (m *Memory) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{NextID: m.nextID, Records: m.copyRecords()}
}

// Restore replaces the memory contents with a snapshot. The next id is never
// lowered below one past the largest restored id.
func (m *Memory) Restore(snap Snapshot) {
	records := make([]Record, 0, len(snap.Records))
	next := snap.NextID
	for _, r := range snap.Records {
		if r.ID == 0 || len(r.Embedding) == 0 {
			continue
		}
		r.norm = floats.Norm(r.Embedding, 2)
		if r.norm == 0 {
			continue
		}
		if r.Label == "" {
			r.Label = DefaultLabel(r.ID)
		}
		if r.ID >= next {
			next = r.ID + 1
		}
		records = append(records, r)
	}
	if next == 0 {
		next = 1
	}
	slices.SortFunc(records, func(a, b Record) int { return cmp.Compare(a.ID, b.ID) })

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
	if next > m.nextID {
		m.nextID = next
	}
}

// Save persists the current snapshot. It is a no-op without a store.
func (m *Memory) Save() error {
	if m.store == nil {
		return nil
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	return m.store.Save(m.Snapshot())
}

// Close saves and releases the store.
func (m *Memory) Close() error {
	if m.store == nil {
		return nil
	}
	if err := m.Save(); err != nil {
		m.store.Close()
		return err
	}
	return m.store.Close()
}

func (m *Memory) persist() {
	if err := m.Save(); err != nil {
		m.logger.Warn("failed to save identities", "error", err)
	}
}

func (m *Memory) index(id uint32) int {
	for i := range m.records {
		if m.records[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Memory) lookup(label string) (uint32, bool) {
	for _, r := range m.records {
		if r.Label == label {
			return r.ID, true
		}
	}
	return 0, false
}
