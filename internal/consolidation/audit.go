package consolidation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditStore persists acted-upon predictions and their outcomes to Postgres.
// The trail is append-only; predictions themselves stay ephemeral.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an audit store over an existing connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS consolidation_runs (
	id            BIGSERIAL PRIMARY KEY,
	prediction_id TEXT NOT NULL,
	strategy      TEXT NOT NULL,
	candidates    JSONB NOT NULL,
	benefit       DOUBLE PRECISION NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL,
	processed     INT NOT NULL,
	skipped       INT NOT NULL,
	associations  INT NOT NULL,
	quality       DOUBLE PRECISION NOT NULL,
	impact        DOUBLE PRECISION NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// EnsureSchema creates the audit table if missing.
func (s *AuditStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, auditSchema)
	return err
}

// RecordRun appends one batch outcome to the trail.
func (s *AuditStore) RecordRun(ctx context.Context, p *Prediction, res *Result) error {
	candidates, _ := json.Marshal(p.Candidates)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO consolidation_runs
		 (prediction_id, strategy, candidates, benefit, confidence,
		  processed, skipped, associations, quality, impact)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, res.Strategy.String(), candidates, p.PredictedBenefit, p.Confidence,
		res.Processed, res.Skipped, res.NewAssociations, res.Quality, res.ConsciousnessImpact)
	return err
}

// RunRecord is one row of the audit trail.
type RunRecord struct {
	PredictionID string    `json:"prediction_id"`
	Strategy     string    `json:"strategy"`
	Processed    int       `json:"processed"`
	Skipped      int       `json:"skipped"`
	Quality      float64   `json:"quality"`
	CreatedAt    time.Time `json:"created_at"`
}

// RecentRuns returns the latest audit rows, newest first.
func (s *AuditStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT prediction_id, strategy, processed, skipped, quality, created_at
		 FROM consolidation_runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.PredictionID, &r.Strategy, &r.Processed, &r.Skipped, &r.Quality, &r.CreatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
