package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/noosphere/internal/announce"
	"github.com/nidhogg/noosphere/internal/api"
	"github.com/nidhogg/noosphere/internal/collective"
	"github.com/nidhogg/noosphere/internal/config"
	"github.com/nidhogg/noosphere/internal/consolidation"
	"github.com/nidhogg/noosphere/internal/embedding"
	"github.com/nidhogg/noosphere/internal/memory"
	"github.com/nidhogg/noosphere/internal/scheduler"
	"github.com/nidhogg/noosphere/internal/statebus"
	"github.com/nidhogg/noosphere/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Noosphere...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/noosphere.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	ctx := context.Background()

	// Embedding provider
	embedder, err := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		logger.Fatal("failed to build embedding provider", zap.Error(err))
	}

	// Vector index
	var vectors *vectorstore.Client
	if cfg.Database.Qdrant.Host != "" {
		vc, vErr := vectorstore.NewClient(vectorstore.QdrantConfig{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		})
		if vErr != nil {
			logger.Warn("Qdrant unavailable, similarity features disabled", zap.Error(vErr))
		} else {
			if cErr := vc.EnsureCollection(ctx, cfg.Database.Qdrant.Collection, uint64(embedder.Dimension())); cErr != nil {
				logger.Warn("Qdrant collection setup failed", zap.Error(cErr))
			}
			vectors = vc
		}
	}

	// Memory repository over Neo4j
	var repo *memory.Repository
	r, err := memory.NewRepository(
		cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password,
		vectors, embedder,
		memory.Config{
			Epsilon:           cfg.Memory.Epsilon,
			RelevanceMinScore: cfg.Memory.RelevanceMinScore,
			Collection:        cfg.Database.Qdrant.Collection,
		},
		logger,
	)
	if err != nil {
		logger.Warn("Neo4j unavailable, running without memory", zap.Error(err))
	} else if pingErr := r.Ping(ctx); pingErr != nil {
		logger.Warn("Neo4j unreachable, running without memory", zap.Error(pingErr))
	} else {
		repo = r
	}

	// PostgreSQL pool for the decision and audit trails
	var pool *pgxpool.Pool
	if cfg.Database.Postgres.DSN != "" {
		p, pgErr := pgxpool.New(ctx, cfg.Database.Postgres.DSN)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else if pingErr := p.Ping(ctx); pingErr != nil {
			logger.Warn("PostgreSQL unreachable, running without persistence", zap.Error(pingErr))
			p.Close()
		} else {
			pool = p
		}
	}

	// State bus with Redis Streams fan-out
	var notifier statebus.Notifier
	var streams *statebus.StreamNotifier
	if cfg.Database.Redis.URL != "" {
		sn, snErr := statebus.NewStreamNotifier(cfg.Database.Redis.URL, logger)
		if snErr != nil {
			logger.Warn("Redis unavailable, state fan-out disabled", zap.Error(snErr))
		} else {
			notifier = sn
			streams = sn
		}
	}
	bus := statebus.New(notifier, 8, 100, logger)

	// Consolidation engine and lifecycle over the memory repository
	var engine *consolidation.Engine
	var lifecycle *consolidation.Lifecycle
	if repo != nil {
		var audit consolidation.AuditLog
		if pool != nil {
			as := consolidation.NewAuditStore(pool)
			if sErr := as.EnsureSchema(ctx); sErr != nil {
				logger.Warn("audit schema setup failed", zap.Error(sErr))
			} else {
				audit = as
			}
		}
		conCfg := consolidation.Config{
			MaxPredictions:      cfg.Consolidation.MaxPredictions,
			ScanLimit:           50,
			TrailingGap:         cfg.Consolidation.TrailingGap,
			DecayMaxImportance:  cfg.Consolidation.DecayMaxImportance,
			DecayMaxAccess:      cfg.Consolidation.DecayMaxAccess,
			SimilarityThreshold: cfg.Consolidation.SimilarityThreshold,
			RelevanceThreshold:  cfg.Consolidation.RelevanceThreshold,
			HistoryWindow:       cfg.Consolidation.HistoryWindow,
			AssociationTopK:     cfg.Consolidation.AssociationTopK,
			EvolveStep:          0.1,
			WeakenStep:          0.1,
			ArchiveFloor:        0.05,
			EmotionalGain:       0.2,
		}
		engine = consolidation.NewEngine(repo, conCfg, audit, logger)

		lcCfg := consolidation.LifecycleConfig{
			ArchiveMaxImportance:  cfg.Lifecycle.ArchiveMaxImportance,
			ArchiveMaxAccess:      cfg.Lifecycle.ArchiveMaxAccess,
			ArchiveMinAge:         cfg.ArchiveMinAge(),
			StrengthMinImportance: cfg.Lifecycle.StrengthMinImportance,
			ImportanceStep:        cfg.Lifecycle.ImportanceStep,
			EvolveMinImportance:   cfg.Lifecycle.EvolveMinImportance,
			EvolveGap:             cfg.Lifecycle.EvolveGap,
			MaxAssociations:       cfg.Lifecycle.MaxAssociations,
			ScanLimit:             100,
		}
		lifecycle = consolidation.NewLifecycle(repo, lcCfg, logger)
	}

	// Decision coordinator
	var decisionStore *collective.PostgresStore
	if pool != nil {
		ds := collective.NewPostgresStore(pool)
		if sErr := ds.EnsureSchema(ctx); sErr != nil {
			logger.Warn("decision schema setup failed", zap.Error(sErr))
		} else {
			decisionStore = ds
		}
	}

	var announcers []announce.Announcer
	if cfg.Announce.Slack.Enabled && cfg.Announce.Slack.BotToken != "" {
		announcers = append(announcers,
			announce.NewSlackAnnouncer(cfg.Announce.Slack.BotToken, cfg.Announce.Slack.Channel, logger))
	}
	if cfg.Announce.Discord.Enabled && cfg.Announce.Discord.BotToken != "" {
		da, dErr := announce.NewDiscordAnnouncer(cfg.Announce.Discord.BotToken, cfg.Announce.Discord.ChannelID, logger)
		if dErr != nil {
			logger.Warn("Discord announcer unavailable", zap.Error(dErr))
		} else {
			announcers = append(announcers, da)
		}
	}

	var store collective.DecisionStore
	if decisionStore != nil {
		store = decisionStore
	}
	coordinator := collective.NewCoordinator(collective.Config{
		ProceedThreshold: cfg.Consensus.ProceedThreshold,
		CautionThreshold: cfg.Consensus.CautionThreshold,
		SolicitTimeout:   cfg.SolicitTimeout(),
	}, store, bus, announcers, logger)

	// Configured agents answer perspective requests over Redis Streams.
	if streams != nil {
		for _, agent := range cfg.Consensus.Agents {
			coordinator.Register(collective.NewStreamSource(streams.Client(), agent, logger))
		}
		if len(cfg.Consensus.Agents) > 0 {
			logger.Info("decision sources registered",
				zap.Strings("agents", cfg.Consensus.Agents))
		}
	} else if len(cfg.Consensus.Agents) > 0 {
		logger.Warn("consensus agents configured but Redis is unavailable, decisions will defer")
	}

	// Integration scheduler
	listenCtx, stopListeners := context.WithCancel(ctx)
	defer stopListeners()
	var sched *scheduler.Scheduler
	if engine != nil {
		var sweeper scheduler.Sweeper
		if lifecycle != nil {
			sweeper = lifecycle
		}
		// Agents push state deltas onto the shared inbound stream; the queue
		// buffers them for tick-time propagation.
		queue := scheduler.NewDeltaQueue()
		if streams != nil {
			go streams.ListenInbound(listenCtx, func(source string, d statebus.Delta) {
				queue.Push(scheduler.PendingDelta{Delta: d, Source: source})
			})
		}
		sched = scheduler.New(scheduler.Config{
			Tick:             cfg.SchedulerTick(),
			SweepInterval:    cfg.LifecycleInterval(),
			ExecuteThreshold: cfg.Consolidation.ExecuteThreshold,
			BackoffAfter:     cfg.Scheduler.BackoffAfter,
			MaxBackoffTicks:  cfg.Scheduler.MaxBackoffTicks,
		}, bus, engine, queue, sweeper, logger)
		sched.Start(ctx)
	}

	// Build HTTP handler
	var memories api.MemoryService
	if repo != nil {
		memories = repo
	}
	var lister api.DecisionLister
	if decisionStore != nil {
		lister = decisionStore
	}
	handler := api.NewHandler(memories, bus, engine, coordinator, lister, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Noosphere listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Noosphere...")
	stopListeners()
	if sched != nil {
		sched.Stop()
	}
	srv.Shutdown(ctx)
	if repo != nil {
		repo.Close(ctx)
	}
	if streams != nil {
		streams.Close()
	}
	if pool != nil {
		pool.Close()
	}
	if vectors != nil {
		vectors.Close()
	}
}
