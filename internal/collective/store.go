package collective

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists decisions. Rows are insert-only; a decision is
// never updated after it is written.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const decisionSchema = `
CREATE TABLE IF NOT EXISTS collective_decisions (
	id              TEXT PRIMARY KEY,
	topic           TEXT NOT NULL,
	participants    JSONB NOT NULL,
	responded       JSONB NOT NULL,
	consensus_level DOUBLE PRECISION NOT NULL,
	outcome         TEXT NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL,
	reasoning       JSONB NOT NULL,
	context         JSONB,
	created_at      TIMESTAMPTZ NOT NULL
)`

// EnsureSchema creates the decisions table if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, decisionSchema)
	return err
}

// Save inserts one decision.
func (s *PostgresStore) Save(ctx context.Context, d *Decision) error {
	participants, _ := json.Marshal(d.Participants)
	responded, _ := json.Marshal(d.Responded)
	reasoning, _ := json.Marshal(d.ReasoningChain)
	decisionCtx, _ := json.Marshal(d.Context)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO collective_decisions
		 (id, topic, participants, responded, consensus_level, outcome, confidence, reasoning, context, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		d.ID, d.Topic, participants, responded, d.ConsensusLevel,
		d.Outcome, d.Confidence, reasoning, decisionCtx, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// List returns the latest decisions, newest first.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Decision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, topic, participants, responded, consensus_level, outcome, confidence, reasoning, context, created_at
		 FROM collective_decisions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*Decision
	for rows.Next() {
		var d Decision
		var participants, responded, reasoning, decisionCtx []byte
		if err := rows.Scan(&d.ID, &d.Topic, &participants, &responded, &d.ConsensusLevel,
			&d.Outcome, &d.Confidence, &reasoning, &decisionCtx, &d.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(participants, &d.Participants)
		_ = json.Unmarshal(responded, &d.Responded)
		_ = json.Unmarshal(reasoning, &d.ReasoningChain)
		if len(decisionCtx) > 0 {
			_ = json.Unmarshal(decisionCtx, &d.Context)
		}
		decisions = append(decisions, &d)
	}
	return decisions, rows.Err()
}
