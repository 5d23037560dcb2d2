package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	Embedding     EmbeddingConfig     `json:"embedding"`
	Memory        MemoryConfig        `json:"memory"`
	Consolidation ConsolidationConfig `json:"consolidation"`
	Lifecycle     LifecycleConfig     `json:"lifecycle"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	Consensus     ConsensusConfig     `json:"consensus"`
	Announce      AnnounceConfig      `json:"announce"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type DatabaseConfig struct {
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"` // "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// MemoryConfig tunes consciousness-aware retrieval.
type MemoryConfig struct {
	Epsilon           float64 `json:"epsilon"`             // retrieval level window
	RelevanceMinScore float64 `json:"relevance_min_score"` // cross-agent enhancement floor
}

// ConsolidationConfig tunes the predictor and executor.
type ConsolidationConfig struct {
	MaxPredictions      int     `json:"max_predictions"`
	TrailingGap         float64 `json:"trailing_gap"` // level gap below global
	DecayMaxImportance  float64 `json:"decay_max_importance"`
	DecayMaxAccess      int     `json:"decay_max_access"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	RelevanceThreshold  float64 `json:"relevance_threshold"`
	ExecuteThreshold    float64 `json:"execute_threshold"` // min benefit*confidence per tick
	HistoryWindow       int     `json:"history_window"`    // adaptive rolling window
	AssociationTopK     int     `json:"association_top_k"`
}

// LifecycleConfig tunes the periodic sweep.
type LifecycleConfig struct {
	IntervalMinutes       int     `json:"interval_minutes"`
	ArchiveMaxImportance  float64 `json:"archive_max_importance"`
	ArchiveMaxAccess      int     `json:"archive_max_access"`
	ArchiveMinAgeHours    int     `json:"archive_min_age_hours"`
	StrengthMinImportance float64 `json:"strength_min_importance"`
	ImportanceStep        float64 `json:"importance_step"`
	EvolveMinImportance   float64 `json:"evolve_min_importance"`
	EvolveGap             float64 `json:"evolve_gap"`
	MaxAssociations       int     `json:"max_associations"` // cap per sweep
}

// SchedulerConfig tunes the integration tick loop.
type SchedulerConfig struct {
	TickSeconds     int `json:"tick_seconds"`
	BackoffAfter    int `json:"backoff_after"` // consecutive failures before backoff
	MaxBackoffTicks int `json:"max_backoff_ticks"`
}

// ConsensusConfig holds the collective decision thresholds and the agents
// solicited over Redis Streams.
type ConsensusConfig struct {
	ProceedThreshold float64  `json:"proceed_threshold"`
	CautionThreshold float64  `json:"caution_threshold"`
	SolicitTimeoutMS int      `json:"solicit_timeout_ms"`
	Agents           []string `json:"agents"`
}

type AnnounceConfig struct {
	Slack   SlackAnnounceConfig   `json:"slack"`
	Discord DiscordAnnounceConfig `json:"discord"`
}

type SlackAnnounceConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

type DiscordAnnounceConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable references,
// and fills unset tuning values with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with all tuning values at their defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Memory.Epsilon == 0 {
		c.Memory.Epsilon = 0.1
	}
	if c.Memory.RelevanceMinScore == 0 {
		c.Memory.RelevanceMinScore = 0.5
	}
	if c.Consolidation.MaxPredictions == 0 {
		c.Consolidation.MaxPredictions = 10
	}
	if c.Consolidation.TrailingGap == 0 {
		c.Consolidation.TrailingGap = 0.2
	}
	if c.Consolidation.DecayMaxImportance == 0 {
		c.Consolidation.DecayMaxImportance = 0.3
	}
	if c.Consolidation.DecayMaxAccess == 0 {
		c.Consolidation.DecayMaxAccess = 2
	}
	if c.Consolidation.SimilarityThreshold == 0 {
		c.Consolidation.SimilarityThreshold = 0.85
	}
	if c.Consolidation.RelevanceThreshold == 0 {
		c.Consolidation.RelevanceThreshold = 0.7
	}
	if c.Consolidation.ExecuteThreshold == 0 {
		c.Consolidation.ExecuteThreshold = 0.4
	}
	if c.Consolidation.HistoryWindow == 0 {
		c.Consolidation.HistoryWindow = 100
	}
	if c.Consolidation.AssociationTopK == 0 {
		c.Consolidation.AssociationTopK = 3
	}
	if c.Lifecycle.IntervalMinutes == 0 {
		c.Lifecycle.IntervalMinutes = 60
	}
	if c.Lifecycle.ArchiveMaxImportance == 0 {
		c.Lifecycle.ArchiveMaxImportance = 0.25
	}
	if c.Lifecycle.ArchiveMaxAccess == 0 {
		c.Lifecycle.ArchiveMaxAccess = 2
	}
	if c.Lifecycle.ArchiveMinAgeHours == 0 {
		c.Lifecycle.ArchiveMinAgeHours = 72
	}
	if c.Lifecycle.StrengthMinImportance == 0 {
		c.Lifecycle.StrengthMinImportance = 0.7
	}
	if c.Lifecycle.ImportanceStep == 0 {
		c.Lifecycle.ImportanceStep = 0.05
	}
	if c.Lifecycle.EvolveMinImportance == 0 {
		c.Lifecycle.EvolveMinImportance = 0.4
	}
	if c.Lifecycle.EvolveGap == 0 {
		c.Lifecycle.EvolveGap = 0.2
	}
	if c.Lifecycle.MaxAssociations == 0 {
		c.Lifecycle.MaxAssociations = 20
	}
	if c.Scheduler.TickSeconds == 0 {
		c.Scheduler.TickSeconds = 1
	}
	if c.Scheduler.BackoffAfter == 0 {
		c.Scheduler.BackoffAfter = 3
	}
	if c.Scheduler.MaxBackoffTicks == 0 {
		c.Scheduler.MaxBackoffTicks = 30
	}
	if c.Consensus.ProceedThreshold == 0 {
		c.Consensus.ProceedThreshold = 0.8
	}
	if c.Consensus.CautionThreshold == 0 {
		c.Consensus.CautionThreshold = 0.6
	}
	if c.Consensus.SolicitTimeoutMS == 0 {
		c.Consensus.SolicitTimeoutMS = 5000
	}
	if c.Database.Qdrant.Collection == "" {
		c.Database.Qdrant.Collection = "noosphere_memories"
	}
}

// LifecycleInterval returns the sweep interval as a duration.
func (c *Config) LifecycleInterval() time.Duration {
	return time.Duration(c.Lifecycle.IntervalMinutes) * time.Minute
}

// SchedulerTick returns the integration tick as a duration.
func (c *Config) SchedulerTick() time.Duration {
	return time.Duration(c.Scheduler.TickSeconds) * time.Second
}

// ArchiveMinAge returns the minimum record age before archiving.
func (c *Config) ArchiveMinAge() time.Duration {
	return time.Duration(c.Lifecycle.ArchiveMinAgeHours) * time.Hour
}

// SolicitTimeout returns the per-agent perspective timeout.
func (c *Config) SolicitTimeout() time.Duration {
	return time.Duration(c.Consensus.SolicitTimeoutMS) * time.Millisecond
}
