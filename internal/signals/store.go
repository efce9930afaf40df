package signals

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
)

// NetworkScoreStore looks up the precomputed fraud-graph score of an
// identity. Unknown identities score 0.
type NetworkScoreStore interface {
	Score(ctx context.Context, identity string) (float64, error)
}

// MemoryStore is a read-mostly in-memory score table.
type MemoryStore struct {
	mu     sync.RWMutex
	scores map[string]float64
}

// NewMemoryStore creates a store seeded with scores.
func NewMemoryStore(scores map[string]float64) *MemoryStore {
	m := &MemoryStore{scores: make(map[string]float64, len(scores))}
	for k, v := range scores {
		m.scores[k] = v
	}
	return m
}

// Score implements NetworkScoreStore.
func (m *MemoryStore) Score(_ context.Context, identity string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scores[identity], nil
}

// Set stores one score.
func (m *MemoryStore) Set(identity string, score float64) {
	m.mu.Lock()
	m.scores[identity] = score
	m.mu.Unlock()
}

// Len returns the number of identities with a score.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.scores)
}

// LoadNetworkScoresCSV reads a user_id,network_risk_score table with a
// header row. Columns may appear in any order.
func LoadNetworkScoresCSV(r io.Reader) (*MemoryStore, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read network score header: %w", err)
	}
	idCol, scoreCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(strings.ToLower(h)) {
		case "user_id":
			idCol = i
		case "network_risk_score":
			scoreCol = i
		}
	}
	if idCol < 0 || scoreCol < 0 {
		return nil, errors.New("network score csv needs user_id and network_risk_score columns")
	}

	store := NewMemoryStore(nil)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("network score csv line %d: %w", line, err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[scoreCol]), 64)
		if err != nil || math.IsNaN(v) || v < 0 || v > 1 {
			return nil, fmt.Errorf("network score csv line %d: invalid score %q", line, rec[scoreCol])
		}
		store.Set(strings.TrimSpace(rec[idCol]), v)
	}
	return store, nil
}

// LoadNetworkScoresFile opens path and parses it with LoadNetworkScoresCSV.
func LoadNetworkScoresFile(path string) (*MemoryStore, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("open network scores: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadNetworkScoresCSV(f)
}

const upsertScoreSQL = `
	INSERT INTO network_risk_scores (user_id, score, updated_at)
	VALUES ($1, $2, NOW())
	ON CONFLICT (user_id) DO UPDATE SET score = EXCLUDED.score, updated_at = NOW()`

// PostgresStore reads scores from the network_risk_scores table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Score implements NetworkScoreStore.
func (s *PostgresStore) Score(ctx context.Context, identity string) (float64, error) {
	var v float64
	err := s.db.QueryRowContext(ctx,
		`SELECT score FROM network_risk_scores WHERE user_id = $1`, identity,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query network score: %w", err)
	}
	return v, nil
}

// Upsert writes one score.
func (s *PostgresStore) Upsert(ctx context.Context, identity string, score float64) error {
	_, err := s.db.ExecContext(ctx, upsertScoreSQL, identity, score)
	if err != nil {
		return fmt.Errorf("upsert network score: %w", err)
	}
	return nil
}

// Import copies every score from src into the table in one transaction.
func (s *PostgresStore) Import(ctx context.Context, src *MemoryStore) (int, error) {
	src.mu.RLock()
	defer src.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertScoreSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare import: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for id, v := range src.scores {
		if _, err := stmt.ExecContext(ctx, id, v); err != nil {
			return 0, fmt.Errorf("import %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return len(src.scores), nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
