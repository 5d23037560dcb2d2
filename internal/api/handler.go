package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/noosphere/internal/collective"
	"github.com/nidhogg/noosphere/internal/consolidation"
	"github.com/nidhogg/noosphere/internal/memory"
	"github.com/nidhogg/noosphere/internal/statebus"
)

// MemoryService is the slice of the memory repository the API consumes.
type MemoryService interface {
	Store(ctx context.Context, in memory.StoreInput) (*memory.Record, error)
	Retrieve(ctx context.Context, q memory.RetrieveQuery) (*memory.RetrieveResult, error)
	Evolve(ctx context.Context, id string, delta float64, cause string) (*memory.Record, error)
	Get(ctx context.Context, id string) (*memory.Record, error)
}

// DecisionLister reads back persisted decisions.
type DecisionLister interface {
	List(ctx context.Context, limit int) ([]*collective.Decision, error)
}

// Handler holds dependencies for HTTP handlers. Memory, engine, coordinator,
// and decisions may each be nil; their routes then answer 503.
type Handler struct {
	memories    MemoryService
	bus         *statebus.Bus
	engine      *consolidation.Engine
	coordinator *collective.Coordinator
	decisions   DecisionLister
	logger      *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	memories MemoryService,
	bus *statebus.Bus,
	engine *consolidation.Engine,
	coordinator *collective.Coordinator,
	decisions DecisionLister,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		memories:    memories,
		bus:         bus,
		engine:      engine,
		coordinator: coordinator,
		decisions:   decisions,
		logger:      logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		// Memory routes
		r.Post("/memories", h.storeMemory)
		r.Get("/memories/{id}", h.getMemory)
		r.Post("/memories/{id}/evolve", h.evolveMemory)
		r.Post("/memories/retrieve", h.retrieveMemories)

		// State bus routes
		r.Post("/state/propagate", h.propagateState)
		r.Get("/state/global", h.globalState)
		r.Get("/state/context/{agent}", h.agentContext)
		r.Get("/state/diagnostics", h.stateDiagnostics)

		// Consolidation routes
		r.Get("/consolidation/predictions", h.listPredictions)

		// Decision routes
		r.Post("/decisions", h.makeDecision)
		r.Get("/decisions", h.listDecisions)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) storeMemory(w http.ResponseWriter, r *http.Request) {
	if h.memories == nil {
		writeError(w, http.StatusServiceUnavailable, "memory store not configured")
		return
	}
	var in memory.StoreInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	rec, err := h.memories.Store(r.Context(), in)
	if err != nil {
		h.logger.Error("store memory failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) getMemory(w http.ResponseWriter, r *http.Request) {
	if h.memories == nil {
		writeError(w, http.StatusServiceUnavailable, "memory store not configured")
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := h.memories.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			writeError(w, http.StatusNotFound, "memory not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type evolveRequest struct {
	Delta float64 `json:"consciousness_delta"`
	Cause string  `json:"cause"`
}

func (h *Handler) evolveMemory(w http.ResponseWriter, r *http.Request) {
	if h.memories == nil {
		writeError(w, http.StatusServiceUnavailable, "memory store not configured")
		return
	}
	id := chi.URLParam(r, "id")
	var req evolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Cause == "" {
		req.Cause = "api"
	}

	rec, err := h.memories.Evolve(r.Context(), id, req.Delta, req.Cause)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			writeError(w, http.StatusNotFound, "memory not found")
			return
		}
		h.logger.Error("evolve memory failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) retrieveMemories(w http.ResponseWriter, r *http.Request) {
	if h.memories == nil {
		writeError(w, http.StatusServiceUnavailable, "memory store not configured")
		return
	}
	var q memory.RetrieveQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.memories.Retrieve(r.Context(), q)
	if err != nil {
		h.logger.Error("retrieve memories failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type propagateRequest struct {
	Source string         `json:"source"`
	Delta  statebus.Delta `json:"delta"`
}

func (h *Handler) propagateState(w http.ResponseWriter, r *http.Request) {
	var req propagateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}

	report, err := h.bus.Propagate(r.Context(), req.Delta, req.Source)
	if err != nil {
		h.logger.Error("state propagation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) globalState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bus.Global())
}

func (h *Handler) agentContext(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	writeJSON(w, http.StatusOK, h.bus.Context(agent))
}

func (h *Handler) stateDiagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bus.Diagnostics())
}

func (h *Handler) listPredictions(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "consolidation engine not configured")
		return
	}
	global := h.bus.Global()
	predictions, err := h.engine.Predict(r.Context(), global.ConsciousnessLevel)
	if err != nil {
		h.logger.Error("prediction failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, predictions)
}

type decisionRequest struct {
	Topic   string            `json:"topic"`
	Context map[string]string `json:"context,omitempty"`
}

func (h *Handler) makeDecision(w http.ResponseWriter, r *http.Request) {
	if h.coordinator == nil {
		writeError(w, http.StatusServiceUnavailable, "decision coordinator not configured")
		return
	}
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}

	d, err := h.coordinator.Decide(r.Context(), req.Topic, req.Context)
	if err != nil {
		h.logger.Error("decision failed", zap.String("topic", req.Topic), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *Handler) listDecisions(w http.ResponseWriter, r *http.Request) {
	if h.decisions == nil {
		writeError(w, http.StatusServiceUnavailable, "decision store not configured")
		return
	}
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	decisions, err := h.decisions.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("list decisions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if decisions == nil {
		decisions = []*collective.Decision{}
	}
	writeJSON(w, http.StatusOK, decisions)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
