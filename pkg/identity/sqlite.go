package identity

import (
	"database/sql"
	_ "embed"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"
)

// schema.sql creates the identity tables. Embeddings are stored as
// little-endian float64 blobs.
//
//go:embed schema.sql
var schemaSQL string

const nextIDKey = "next_id"

// SQLiteStore implements Store on a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open identity db: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create identity schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save replaces the stored snapshot in one transaction.
func (s *SQLiteStore) Save(snap Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM identities`); err != nil {
		return fmt.Errorf("clear identities: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO identities (id, label, embedding, last_seen_ns)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range snap.Records {
		if _, err := stmt.Exec(r.ID, r.Label, encodeEmbedding(r.Embedding), r.LastSeen.UnixNano()); err != nil {
			return fmt.Errorf("insert identity %d: %w", r.ID, err)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO identity_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, nextIDKey, snap.NextID)
	if err != nil {
		return fmt.Errorf("store next id: %w", err)
	}

	return tx.Commit()
}

// Load reads the stored snapshot.
func (s *SQLiteStore) Load() (Snapshot, error) {
	var snap Snapshot

	err := s.db.QueryRow(`SELECT value FROM identity_meta WHERE key = ?`, nextIDKey).Scan(&snap.NextID)
	if err != nil && err != sql.ErrNoRows {
		return Snapshot{}, fmt.Errorf("read next id: %w", err)
	}

	rows, err := s.db.Query(`SELECT id, label, embedding, last_seen_ns FROM identities ORDER BY id`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r      Record
			blob   []byte
			seenNs int64
		)
		if err := rows.Scan(&r.ID, &r.Label, &blob, &seenNs); err != nil {
			return Snapshot{}, fmt.Errorf("scan identity: %w", err)
		}
		emb, err := decodeEmbedding(blob)
		if err != nil {
			return Snapshot{}, fmt.Errorf("identity %d: %w", r.ID, err)
		}
		r.Embedding = emb
		r.LastSeen = time.Unix(0, seenNs).UTC()
		snap.Records = append(snap.Records, r)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("read identities: %w", err)
	}

	return snap, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)

func encodeEmbedding(v []float64) []byte {
	buf := make([]byte, 0, 8*len(v))
	for _, f := range v {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 8", len(b))
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return v, nil
}
