package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// Scan queries are read-only pattern-match-and-aggregate lookups used by the
// consolidation predictor and the lifecycle sweep. They never mutate records.

// Trailing returns non-archived records whose consciousness level trails the
// given level by more than gap, importance at least minImportance.
func (r *Repository) Trailing(ctx context.Context, level, gap, minImportance float64, limit int) ([]*Record, error) {
	return r.scan(ctx,
		`MATCH (m:Memory)
		 WHERE m.archived = false
		   AND $level - m.consciousness_level > $gap
		   AND m.importance >= $minImportance
		 RETURN m ORDER BY m.importance DESC LIMIT $limit`,
		map[string]interface{}{
			"level": level, "gap": gap,
			"minImportance": minImportance, "limit": limit,
		})
}

// Decayed returns records with both low importance and low access counts.
func (r *Repository) Decayed(ctx context.Context, maxImportance float64, maxAccess, limit int) ([]*Record, error) {
	return r.scan(ctx,
		`MATCH (m:Memory)
		 WHERE m.archived = false
		   AND m.importance < $maxImportance
		   AND m.access_count <= $maxAccess
		 RETURN m ORDER BY m.importance ASC LIMIT $limit`,
		map[string]interface{}{
			"maxImportance": maxImportance, "maxAccess": maxAccess, "limit": limit,
		})
}

// BroadlyRelevant returns records whose maximum cross-agent relevance
// exceeds the threshold.
func (r *Repository) BroadlyRelevant(ctx context.Context, minRelevance float64, limit int) ([]*Record, error) {
	return r.scan(ctx,
		`MATCH (m:Memory)
		 WHERE m.archived = false AND m.max_relevance > $minRelevance
		 RETURN m ORDER BY m.max_relevance DESC LIMIT $limit`,
		map[string]interface{}{"minRelevance": minRelevance, "limit": limit})
}

// ArchiveCandidates returns records old, unimportant, and rarely accessed
// enough to soft-archive. Already archived records are excluded, which keeps
// the sweep idempotent.
func (r *Repository) ArchiveCandidates(ctx context.Context, maxImportance float64, maxAccess int, minAge time.Duration, limit int) ([]*Record, error) {
	return r.scan(ctx,
		`MATCH (m:Memory)
		 WHERE m.archived = false
		   AND m.importance < $maxImportance
		   AND m.access_count <= $maxAccess
		   AND timestamp() - m.created_at > $minAgeMS
		 RETURN m LIMIT $limit`,
		map[string]interface{}{
			"maxImportance": maxImportance,
			"maxAccess":     maxAccess,
			"minAgeMS":      minAge.Milliseconds(),
			"limit":         limit,
		})
}

// StrongTrailing returns high-importance records strictly below the given
// level. Raising them to the level empties the result set, so re-running a
// strengthen pass changes nothing.
func (r *Repository) StrongTrailing(ctx context.Context, minImportance, level float64, limit int) ([]*Record, error) {
	return r.scan(ctx,
		`MATCH (m:Memory)
		 WHERE m.archived = false
		   AND m.importance >= $minImportance
		   AND m.consciousness_level < $level
		 RETURN m ORDER BY m.importance DESC LIMIT $limit`,
		map[string]interface{}{
			"minImportance": minImportance, "level": level, "limit": limit,
		})
}

// UnlinkedPairs returns same-type, high-importance record pairs that have no
// association edge yet, up to limit pairs.
func (r *Repository) UnlinkedPairs(ctx context.Context, minImportance float64, limit int) ([][2]*Record, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	res, err := session.Run(ctx,
		`MATCH (a:Memory), (b:Memory)
		 WHERE a.archived = false AND b.archived = false
		   AND a.type = b.type AND a.id < b.id
		   AND a.importance >= $minImportance AND b.importance >= $minImportance
		   AND NOT (a)-[:ASSOCIATED]->(b)
		 RETURN a, b LIMIT $limit`,
		map[string]interface{}{"minImportance": minImportance, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("%w: unlinked pairs: %v", ErrStorage, err)
	}

	var pairs [][2]*Record
	for res.Next(ctx) {
		aVal, _ := res.Record().Get("a")
		bVal, _ := res.Record().Get("b")
		pairs = append(pairs, [2]*Record{
			recordFromNode(aVal.(dbtype.Node)),
			recordFromNode(bVal.(dbtype.Node)),
		})
	}
	return pairs, nil
}

// Archive sets the soft-delete flag. Archived records stay in the store and
// are simply excluded from retrieval.
func (r *Repository) Archive(ctx context.Context, id string) error {
	return r.write(ctx,
		`MATCH (m:Memory {id: $id}) SET m.archived = true`,
		map[string]interface{}{"id": id})
}

// BoostImportance raises a record's importance by amount, clamped to 1.0.
func (r *Repository) BoostImportance(ctx context.Context, id string, amount float64) error {
	return r.write(ctx,
		`MATCH (m:Memory {id: $id})
		 SET m.importance = CASE
		   WHEN m.importance + $amount > 1.0 THEN 1.0
		   ELSE m.importance + $amount
		 END`,
		map[string]interface{}{"id": id, "amount": amount})
}

// Weaken lowers a record's importance by amount, floored at 0, and returns
// the new value.
func (r *Repository) Weaken(ctx context.Context, id string, amount float64) (float64, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	res, err := session.Run(ctx,
		`MATCH (m:Memory {id: $id})
		 SET m.importance = CASE
		   WHEN m.importance - $amount < 0.0 THEN 0.0
		   ELSE m.importance - $amount
		 END
		 RETURN m.importance AS importance`,
		map[string]interface{}{"id": id, "amount": amount})
	if err != nil {
		return 0, fmt.Errorf("%w: weaken %s: %v", ErrStorage, id, err)
	}
	if !res.Next(ctx) {
		return 0, fmt.Errorf("weaken %s: %w", id, ErrNotFound)
	}
	v, _ := res.Record().Get("importance")
	return v.(float64), nil
}

func (r *Repository) scan(ctx context.Context, query string, params map[string]interface{}) ([]*Record, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	res, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("%w: scan: %v", ErrStorage, err)
	}

	var records []*Record
	for res.Next(ctx) {
		if v, ok := res.Record().Get("m"); ok {
			records = append(records, recordFromNode(v.(dbtype.Node)))
		}
	}
	return records, nil
}

func (r *Repository) write(ctx context.Context, query string, params map[string]interface{}) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	if _, err := session.Run(ctx, query, params); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}
