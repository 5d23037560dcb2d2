package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"go.uber.org/zap"

	"github.com/nidhogg/noosphere/internal/embedding"
	"github.com/nidhogg/noosphere/internal/vectorstore"
)

// Config tunes consciousness-aware retrieval.
type Config struct {
	Epsilon           float64 // retrieval level window, default 0.1
	RelevanceMinScore float64 // cross-agent enhancement floor, default 0.5
	Collection        string  // qdrant collection for record embeddings
}

// DefaultConfig returns the standard retrieval tuning.
func DefaultConfig() Config {
	return Config{
		Epsilon:           0.1,
		RelevanceMinScore: 0.5,
		Collection:        "noosphere_memories",
	}
}

// Repository provides typed CRUD and consciousness-aware retrieval over the
// graph store, with embedding upkeep in the vector index.
type Repository struct {
	driver   neo4j.DriverWithContext
	vectors  *vectorstore.Client
	embedder embedding.Provider
	cfg      Config
	logger   *zap.Logger
}

// NewRepository connects to Neo4j and wraps the given vector and embedding
// clients. The vector client may be nil; similarity features then degrade.
func NewRepository(uri, user, password string, vectors *vectorstore.Client, embedder embedding.Provider, cfg Config, logger *zap.Logger) (*Repository, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	def := DefaultConfig()
	if cfg.Epsilon == 0 {
		cfg.Epsilon = def.Epsilon
	}
	if cfg.RelevanceMinScore == 0 {
		cfg.RelevanceMinScore = def.RelevanceMinScore
	}
	if cfg.Collection == "" {
		cfg.Collection = def.Collection
	}
	return &Repository{driver: driver, vectors: vectors, embedder: embedder, cfg: cfg, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (r *Repository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// Ping verifies the Neo4j connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.driver.VerifyConnectivity(ctx)
}

// Store creates a new memory record. Importance and cross-agent relevance
// come from the v1 scoring tables; the content embedding is written to the
// vector index before the graph node is created.
func (r *Repository) Store(ctx context.Context, in StoreInput) (*Record, error) {
	rec := &Record{
		ID:                  uuid.New().String(),
		Content:             in.Content,
		Type:                in.Type,
		ConsciousnessLevel:  clamp01(in.Consciousness.Level),
		EmotionalIntensity:  clamp01(in.Emotional.Intensity),
		Importance:          importanceScoreV1(in.Consciousness.Level, in.Emotional.Intensity, in.Producer.Critical, len(in.Content)),
		CrossAgentRelevance: crossAgentRelevanceV1(in.Type, in.Producer.RelevanceOverrides),
	}

	if r.embedder != nil && r.vectors != nil {
		vec, err := embedding.One(ctx, r.embedder, in.Content)
		if err != nil {
			return nil, fmt.Errorf("embed content: %w", err)
		}
		if err := r.vectors.Upsert(ctx, r.cfg.Collection, rec.ID, vec, map[string]string{"type": in.Type}); err != nil {
			return nil, fmt.Errorf("%w: upsert embedding: %v", ErrStorage, err)
		}
	}

	relevanceJSON, _ := json.Marshal(rec.CrossAgentRelevance)

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`CREATE (m:Memory {
			id: $id, content: $content, type: $type,
			consciousness_level: $level, importance: $importance,
			emotional_intensity: $emotional, access_count: 0,
			max_relevance: $maxRelevance, relevance_json: $relevance,
			archived: false, consolidated_into: '',
			created_at: timestamp(), last_accessed: timestamp()
		})`,
		map[string]interface{}{
			"id":           rec.ID,
			"content":      rec.Content,
			"type":         rec.Type,
			"level":        rec.ConsciousnessLevel,
			"importance":   rec.Importance,
			"emotional":    rec.EmotionalIntensity,
			"maxRelevance": rec.MaxRelevance(),
			"relevance":    string(relevanceJSON),
		})
	if err != nil {
		return nil, fmt.Errorf("%w: create node: %v", ErrStorage, err)
	}

	r.logger.Debug("memory stored",
		zap.String("id", rec.ID),
		zap.String("type", rec.Type),
		zap.Float64("importance", rec.Importance),
		zap.String("producer", in.Producer.Agent))
	return rec, nil
}

// Retrieve returns records whose consciousness level lies within epsilon of
// the caller's, ordered by (importance, consciousness_level) descending.
// Access counts and last_accessed are written back on every returned record
// in the same query. Archived records are excluded.
func (r *Repository) Retrieve(ctx context.Context, q RetrieveQuery) (*RetrieveResult, error) {
	if q.Limit <= 0 {
		q.Limit = 10
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	params := map[string]interface{}{
		"level":   q.Consciousness.Level,
		"epsilon": r.cfg.Epsilon,
		"type":    q.Type,
		"query":   strings.ToLower(q.Query),
		"limit":   q.Limit,
	}

	// Candidate and in-window counts first, so the diagnostics report only
	// the records the consciousness window excluded, not limit truncation.
	countRes, err := session.Run(ctx,
		`MATCH (m:Memory)
		 WHERE m.archived = false
		   AND ($type = '' OR m.type = $type)
		   AND ($query = '' OR toLower(m.content) CONTAINS $query)
		 RETURN count(m) AS total,
		        count(CASE WHEN abs(m.consciousness_level - $level) <= $epsilon THEN 1 END) AS windowed`,
		params)
	if err != nil {
		return nil, fmt.Errorf("%w: count candidates: %v", ErrStorage, err)
	}
	var total, windowed int
	if countRes.Next(ctx) {
		if v, ok := countRes.Record().Get("total"); ok {
			total = int(v.(int64))
		}
		if v, ok := countRes.Record().Get("windowed"); ok {
			windowed = int(v.(int64))
		}
	}

	result, err := session.Run(ctx,
		`MATCH (m:Memory)
		 WHERE m.archived = false
		   AND ($type = '' OR m.type = $type)
		   AND ($query = '' OR toLower(m.content) CONTAINS $query)
		   AND abs(m.consciousness_level - $level) <= $epsilon
		 WITH m ORDER BY m.importance DESC, m.consciousness_level DESC
		 LIMIT $limit
		 SET m.access_count = m.access_count + 1,
		     m.last_accessed = timestamp()
		 RETURN m`,
		params)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve: %v", ErrStorage, err)
	}

	out := &RetrieveResult{}
	for result.Next(ctx) {
		if v, ok := result.Record().Get("m"); ok {
			rec := recordFromNode(v.(dbtype.Node))
			out.Records = append(out.Records, rec)
			if rec.CrossAgentRelevance[q.RequestingAgent] >= r.cfg.RelevanceMinScore {
				out.CrossAgentEnhanced++
			}
		}
	}
	out.ConsciousnessFiltered = total - windowed
	if out.ConsciousnessFiltered < 0 {
		out.ConsciousnessFiltered = 0
	}

	r.logger.Debug("memory retrieved",
		zap.String("agent", q.RequestingAgent),
		zap.Int("returned", len(out.Records)),
		zap.Int("filtered", out.ConsciousnessFiltered),
		zap.Int("enhanced", out.CrossAgentEnhanced))
	return out, nil
}

// Evolve applies a consciousness delta to a record: the level is clamped to
// [0,1], importance moves monotonically with the delta sign, and exactly one
// evolution history entry is appended. Returns ErrNotFound for unknown ids.
func (r *Repository) Evolve(ctx context.Context, id string, delta float64, cause string) (*Record, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx,
			`MATCH (m:Memory {id: $id})
			 OPTIONAL MATCH (m)-[:EVOLUTION]->(e:Evolution)
			 RETURN m, count(e) AS history`,
			map[string]interface{}{"id": id})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return nil, ErrNotFound
		}
		nodeVal, _ := res.Record().Get("m")
		histVal, _ := res.Record().Get("history")
		rec := recordFromNode(nodeVal.(dbtype.Node))
		seq := int(histVal.(int64))

		newLevel := clamp01(rec.ConsciousnessLevel + delta)
		newImportance := evolvedImportanceV1(rec.Importance, delta)

		_, err = tx.Run(ctx,
			`MATCH (m:Memory {id: $id})
			 SET m.consciousness_level = $level, m.importance = $importance
			 CREATE (m)-[:EVOLUTION]->(:Evolution {
				seq: $seq, at: timestamp(), delta: $delta, cause: $cause
			 })`,
			map[string]interface{}{
				"id":         id,
				"level":      newLevel,
				"importance": newImportance,
				"seq":        seq,
				"delta":      delta,
				"cause":      cause,
			})
		if err != nil {
			return nil, err
		}

		rec.ConsciousnessLevel = newLevel
		rec.Importance = newImportance
		return rec, nil
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, fmt.Errorf("evolve %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("%w: evolve %s: %v", ErrStorage, id, err)
	}

	rec := out.(*Record)
	r.logger.Debug("memory evolved",
		zap.String("id", id),
		zap.Float64("delta", delta),
		zap.String("cause", cause),
		zap.Float64("level", rec.ConsciousnessLevel))
	return rec, nil
}

// Get fetches one record with its full evolution history.
func (r *Repository) Get(ctx context.Context, id string) (*Record, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	res, err := session.Run(ctx,
		`MATCH (m:Memory {id: $id})
		 OPTIONAL MATCH (m)-[:EVOLUTION]->(e:Evolution)
		 WITH m, e ORDER BY e.seq
		 RETURN m, collect(e) AS history`,
		map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrStorage, id, err)
	}
	if !res.Next(ctx) {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}

	nodeVal, _ := res.Record().Get("m")
	rec := recordFromNode(nodeVal.(dbtype.Node))

	if histVal, ok := res.Record().Get("history"); ok && histVal != nil {
		for _, ev := range histVal.([]interface{}) {
			node, ok := ev.(dbtype.Node)
			if !ok {
				continue
			}
			rec.History = append(rec.History, EvolutionEntry{
				Seq:   int(int64Prop(node.Props, "seq")),
				At:    millisToTime(int64Prop(node.Props, "at")),
				Delta: floatProp(node.Props, "delta"),
				Cause: stringProp(node.Props, "cause"),
			})
		}
	}
	return rec, nil
}

// recordFromNode parses a Memory node's properties into a Record.
func recordFromNode(node dbtype.Node) *Record {
	p := node.Props
	rec := &Record{
		ID:                 stringProp(p, "id"),
		Content:            stringProp(p, "content"),
		Type:               stringProp(p, "type"),
		ConsciousnessLevel: floatProp(p, "consciousness_level"),
		Importance:         floatProp(p, "importance"),
		EmotionalIntensity: floatProp(p, "emotional_intensity"),
		AccessCount:        int(int64Prop(p, "access_count")),
		LastAccessed:       millisToTime(int64Prop(p, "last_accessed")),
		CreatedAt:          millisToTime(int64Prop(p, "created_at")),
		Archived:           boolProp(p, "archived"),
		ConsolidatedInto:   stringProp(p, "consolidated_into"),
	}
	if raw := stringProp(p, "relevance_json"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &rec.CrossAgentRelevance)
	}
	if rec.CrossAgentRelevance == nil {
		rec.CrossAgentRelevance = map[string]float64{}
	}
	return rec
}

func stringProp(props map[string]interface{}, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func floatProp(props map[string]interface{}, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func int64Prop(props map[string]interface{}, key string) int64 {
	if v, ok := props[key].(int64); ok {
		return v
	}
	return 0
}

func boolProp(props map[string]interface{}, key string) bool {
	if v, ok := props[key].(bool); ok {
		return v
	}
	return false
}
