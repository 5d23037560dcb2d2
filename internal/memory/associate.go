package memory

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Associate creates a bidirectional association edge between two records.
// Returns true when a new edge was created, false when one already existed.
// Existing edges are left untouched, so repeated calls are idempotent.
func (r *Repository) Associate(ctx context.Context, a, b string, strength float64) (bool, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	res, err := session.Run(ctx,
		`MATCH (a:Memory {id: $a}), (b:Memory {id: $b})
		 OPTIONAL MATCH (a)-[existing:ASSOCIATED]->(b)
		 WITH a, b, existing IS NOT NULL AS had
		 MERGE (a)-[r1:ASSOCIATED]->(b)
		   ON CREATE SET r1.strength = $strength, r1.created_at = timestamp()
		 MERGE (b)-[r2:ASSOCIATED]->(a)
		   ON CREATE SET r2.strength = $strength, r2.created_at = timestamp()
		 RETURN had`,
		map[string]interface{}{"a": a, "b": b, "strength": strength})
	if err != nil {
		return false, fmt.Errorf("%w: associate %s<->%s: %v", ErrStorage, a, b, err)
	}
	if !res.Next(ctx) {
		return false, fmt.Errorf("associate %s<->%s: %w", a, b, ErrNotFound)
	}
	had, _ := res.Record().Get("had")
	created := !had.(bool)
	if created {
		r.logger.Debug("association created",
			zap.String("a", a), zap.String("b", b), zap.Float64("strength", strength))
	}
	return created, nil
}

// SimilarTo returns the top-k records of the same type whose embeddings are
// within minScore of the given record's. The record itself is excluded.
// Returns nil when no vector index is configured.
func (r *Repository) SimilarTo(ctx context.Context, id string, topK int, minScore float64) ([]Neighbor, error) {
	if r.vectors == nil {
		return nil, nil
	}

	rec, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	vec, err := r.vectors.GetVector(ctx, r.cfg.Collection, id)
	if err != nil {
		return nil, fmt.Errorf("%w: similar to %s: %v", ErrStorage, id, err)
	}
	if vec == nil {
		return nil, nil
	}

	// +1 because the query point matches itself.
	hits, err := r.vectors.Search(ctx, r.cfg.Collection, vec, uint64(topK+1), rec.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: similar to %s: %v", ErrStorage, id, err)
	}

	var neighbors []Neighbor
	for _, h := range hits {
		if h.ID == id || float64(h.Score) < minScore {
			continue
		}
		neighbors = append(neighbors, Neighbor{ID: h.ID, Score: float64(h.Score)})
		if len(neighbors) == topK {
			break
		}
	}
	return neighbors, nil
}

// SimilarClusters groups recent records with their near-duplicate neighbors.
// Each cluster holds a seed record plus every same-type record within
// minScore similarity. A record appears in at most one cluster.
func (r *Repository) SimilarClusters(ctx context.Context, minScore float64, maxClusters int) ([][]*Record, error) {
	if r.vectors == nil {
		return nil, nil
	}

	seeds, err := r.scan(ctx,
		`MATCH (m:Memory)
		 WHERE m.archived = false AND m.consolidated_into = ''
		 RETURN m ORDER BY m.created_at DESC LIMIT $limit`,
		map[string]interface{}{"limit": maxClusters * 4})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var clusters [][]*Record
	for _, seed := range seeds {
		if seen[seed.ID] {
			continue
		}
		neighbors, err := r.SimilarTo(ctx, seed.ID, 5, minScore)
		if err != nil {
			r.logger.Warn("similarity lookup failed",
				zap.String("id", seed.ID), zap.Error(err))
			continue
		}

		cluster := []*Record{seed}
		for _, n := range neighbors {
			if seen[n.ID] {
				continue
			}
			rec, err := r.Get(ctx, n.ID)
			if err != nil || rec.Archived || rec.ConsolidatedInto != "" {
				continue
			}
			cluster = append(cluster, rec)
		}
		if len(cluster) < 2 {
			continue
		}
		for _, rec := range cluster {
			seen[rec.ID] = true
		}
		clusters = append(clusters, cluster)
		if len(clusters) == maxClusters {
			break
		}
	}
	return clusters, nil
}

// Synthesize creates one consolidated record from a cluster and marks every
// original with consolidated_into. Originals are never removed from the
// store; the reference is soft.
func (r *Repository) Synthesize(ctx context.Context, cluster []*Record) (*Record, error) {
	if len(cluster) < 2 {
		return nil, fmt.Errorf("synthesize: cluster needs at least 2 records, got %d", len(cluster))
	}

	var levelSum, maxImportance, maxEmotional float64
	summaries := make([]string, 0, len(cluster))
	relevance := map[string]float64{}
	for _, rec := range cluster {
		levelSum += rec.ConsciousnessLevel
		if rec.Importance > maxImportance {
			maxImportance = rec.Importance
		}
		if rec.EmotionalIntensity > maxEmotional {
			maxEmotional = rec.EmotionalIntensity
		}
		for agent, score := range rec.CrossAgentRelevance {
			if score > relevance[agent] {
				relevance[agent] = score
			}
		}
		summaries = append(summaries, truncate(rec.Content, 120))
	}

	merged, err := r.Store(ctx, StoreInput{
		Content: fmt.Sprintf("Consolidated from %d records: %s",
			len(cluster), strings.Join(summaries, " | ")),
		Type:          cluster[0].Type,
		Consciousness: ConsciousnessContext{Level: levelSum / float64(len(cluster))},
		Emotional:     EmotionalContext{Intensity: maxEmotional},
		Producer: ProducerContext{
			Agent:              "consolidation",
			Critical:           maxImportance > 0.7,
			RelevanceOverrides: relevance,
		},
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(cluster))
	for i, rec := range cluster {
		ids[i] = rec.ID
	}
	err = r.write(ctx,
		`MATCH (m:Memory) WHERE m.id IN $ids
		 SET m.consolidated_into = $newID
		 WITH m
		 MATCH (c:Memory {id: $newID})
		 MERGE (c)-[:CONSOLIDATES]->(m)`,
		map[string]interface{}{"ids": ids, "newID": merged.ID})
	if err != nil {
		return nil, err
	}

	r.logger.Info("cluster synthesized",
		zap.String("id", merged.ID),
		zap.Int("originals", len(cluster)))
	return merged, nil
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
