// Command orchestrator is the reference deployment of the deliberation
// engine: it wires the pipeline stages to Redis, Postgres, and Chroma
// collaborators, exposes the per-request event stream over a WebSocket
// endpoint, and serves Prometheus metrics. Transport policy (the wall-clock
// ceiling) lives here, not in the pipeline itself; the endpoint performs no
// authentication and accepts every origin.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"dev.helix.agent/internal/apperrors"
	"dev.helix.agent/internal/config"
	"dev.helix.agent/internal/critique"
	"dev.helix.agent/internal/debate"
	"dev.helix.agent/internal/embedder"
	"dev.helix.agent/internal/eventbus"
	"dev.helix.agent/internal/invoker"
	"dev.helix.agent/internal/models"
	"dev.helix.agent/internal/prefetch"
	"dev.helix.agent/internal/retrieval"
	"dev.helix.agent/internal/selector"
	"dev.helix.agent/internal/synthesizer"
	"dev.helix.agent/internal/verifier"
	"dev.helix.agent/internal/workflow"

	clockpkg "dev.helix.agent/internal/clock"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to optional YAML config override")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: %v\n", err)
		os.Exit(1)
	}
	log := config.NewLogger(cfg)

	srv, err := newServer(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("orchestrator: startup failed")
	}

	if configPath != "" {
		stopWatch, err := config.Watch(configPath, log, srv.swapConfig)
		if err != nil {
			log.WithError(err).Warn("orchestrator: config hot-reload unavailable")
		} else {
			defer stopWatch()
		}
	}

	if err := srv.listenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("orchestrator: server failed")
	}
}

type server struct {
	cfg      atomic.Pointer[config.Config]
	log      *logrus.Logger
	metrics  *config.Metrics
	embedSvc *embedder.Service
	driver   *workflow.Driver
	upgrader websocket.Upgrader

	api     *http.Server
	metricsAPI *http.Server
}

func newServer(cfg *config.Config, log *logrus.Logger) (*server, error) {
	s := &server{log: log}
	s.cfg.Store(cfg)

	registry := prometheus.NewRegistry()
	s.metrics = config.NewMetrics(registry)

	s.embedSvc = embedder.NewService(func() (embedder.Embedder, error) {
		return localEmbedder{}, nil
	})
	if cfg.EmbedderWarmOnStart {
		if err := s.embedSvc.Warm(); err != nil {
			return nil, fmt.Errorf("embedder warm-up: %w", err)
		}
	}

	cache := config.NewRedisClient(cfg)

	startupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var retriever *retrieval.Retriever
	if index, err := retrieval.NewChromaIndex(startupCtx, cfg.ChromaURL, "corpus"); err != nil {
		log.WithError(err).Warn("orchestrator: vector index unavailable, retrieval will return empty contexts")
	} else {
		retriever = retrieval.New(index, s.embedSvc, cache, retrieval.DefaultConfig(), log)
	}

	var audit workflow.AuditSink
	if pool, err := config.NewPostgresPool(startupCtx, cfg); err != nil {
		log.WithError(err).Warn("orchestrator: audit sink unavailable")
	} else if pool != nil {
		audit = workflow.NewPostgresAudit(pool)
	}

	agents := builtinAgents()
	agentIDs := make([]string, 0, len(agents))
	for id := range agents {
		agentIDs = append(agentIDs, id)
	}
	sort.Strings(agentIDs)

	s.driver = workflow.New(workflow.Deps{
		Prefetch: prefetch.New(nil, nil, prefetch.Config{
			MaxConcurrency: cfg.MaxPrefetchConcurrency,
			SourceTimeout:  10 * time.Second,
		}, cache, log),
		Retrieval: retriever,
		Selector: selector.NewRegistry(agentIDs, map[models.Intent][]string{
			models.IntentPolicy:     agentIDs,
			models.IntentComparison: agentIDs,
		}, agentIDs[:1]),
		Invoker:           invoker.New(agents, invoker.Config{PerAgentTimeout: cfg.PerAgentTimeout}, log),
		Debate:            debate.New(debate.Config{Profiles: s.debateProfiles(cfg), MetaDebateVocabulary: cfg.MetaDebateVocabulary}, log),
		Critic:            critique.New(critique.ReviewerFunc(critique.HeuristicReview), log),
		Verifier:          verifier.New(clockpkg.Real{}, cfg.VerifierFreshnessHorizons),
		Synthesizer:       synthesizer.New(synthesizer.Config{ClusteringThreshold: cfg.ClusteringThreshold, LexicalFallbackThreshold: cfg.LexicalFallbackThreshold}, s.embedSvc, log),
		Metrics:           s.metrics,
		Audit:             audit,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Log:               log,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/analyze", s.handleAnalyze)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.api = &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s.metricsAPI = &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return s, nil
}

func (s *server) debateProfiles(cfg *config.Config) map[models.Complexity]debate.Profile {
	profiles := map[models.Complexity]debate.Profile{}
	for tag, p := range cfg.DebateProfiles {
		profiles[models.Complexity(tag)] = debate.Profile{
			MaxTotalTurns:        p.MaxTotalTurns,
			PerPhaseTurnCap:      p.PerPhaseTurnCap,
			ConvergenceThreshold: p.ConvergenceThreshold,
		}
	}
	return profiles
}

// swapConfig applies a hot-reloaded configuration. Only the transport
// ceiling, read per request, takes effect without a restart; the debate
// profiles, vocabulary and other stage settings are fixed when the driver is
// built at startup, and listen addresses and collaborator endpoints need a
// new process.
func (s *server) swapConfig(cfg *config.Config) {
	s.cfg.Store(cfg)
}

func (s *server) listenAndServe() error {
	errCh := make(chan error, 2)
	go func() { errCh <- s.metricsAPI.ListenAndServe() }()
	go func() { errCh <- s.api.ListenAndServe() }()
	s.log.WithFields(logrus.Fields{
		"listen":  s.api.Addr,
		"metrics": s.metricsAPI.Addr,
	}).Info("orchestrator: listening")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sig:
		s.log.Info("orchestrator: shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = s.metricsAPI.Shutdown(ctx)
		return s.api.Shutdown(ctx)
	}
}

// analyzeRequest is the transport-level request envelope.
type analyzeRequest struct {
	Question string `json:"question"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// wireEvent is the streamed response envelope.
type wireEvent struct {
	Stage     string         `json:"stage"`
	Status    string         `json:"status"`
	Payload   map[string]any `json:"payload"`
	LatencyMs int64          `json:"latency_ms,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// handleAnalyze upgrades to a WebSocket, reads one request, and streams
// events until the terminal done event. Client disconnect cancels the
// request scope; the transport ceiling bounds the whole run.
func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var req analyzeRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = conn.WriteJSON(wireEvent{Stage: "done", Status: "error", Payload: map[string]any{
			"error_kind": "validation", "message": "malformed request",
		}, Timestamp: time.Now().UTC().Format(time.RFC3339)})
		return
	}

	cfg := s.cfg.Load()
	ctx, cancel := context.WithTimeout(r.Context(), cfg.TransportCeiling)
	defer cancel()

	// Reads after the request only signal disconnect; a read error means
	// the client went away and the request scope must be torn down.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	bus := eventbus.New(4096, func(depth int) {
		s.metrics.QueueWatermarkTrips.Inc()
		s.log.WithField("depth", depth).Warn("orchestrator: event queue past watermark")
	})

	runErr := make(chan error, 1)
	go func() {
		_, err := s.driver.Run(ctx, req.Question, req.Provider, bus)
		if err != nil {
			// A validation failure returns before any event is enqueued;
			// closing here ends the subscriber loop below.
			bus.Close()
		}
		runErr <- err
	}()

	for ev := range bus.Subscribe() {
		if err := conn.WriteJSON(toWire(ev)); err != nil {
			cancel()
			break
		}
	}

	if err := <-runErr; err != nil && apperrors.IsValidation(err) {
		// Validation failures never open the stream; every other failure
		// has already been surfaced as a terminal event on the bus.
		_ = conn.WriteJSON(wireEvent{Stage: "done", Status: "error", Payload: map[string]any{
			"error_kind": "validation", "message": err.Error(),
		}, Timestamp: time.Now().UTC().Format(time.RFC3339)})
	}
}

func toWire(ev models.Event) wireEvent {
	return wireEvent{
		Stage:     ev.Stage,
		Status:    string(ev.Status),
		Payload:   ev.Payload,
		LatencyMs: ev.LatencyMs,
		Timestamp: ev.Timestamp.Format(time.RFC3339),
	}
}

// localEmbedder is the in-process fallback embedding model used when no
// provider-backed embedder is configured. Deterministic by construction.
type localEmbedder struct{}

func (localEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, 64)
	for i, r := range text {
		vec[(i+int(r))%64] += float64(r%31) + 1
	}
	return vec, nil
}

// builtinAgents are deterministic stand-ins registered until real
// analytical collaborators are wired; each derives a narrative from the
// prefetched facts it is handed.
func builtinAgents() map[string]invoker.Agent {
	perspective := func(id, angle string) invoker.Agent {
		return agentFunc(func(_ context.Context, query models.Query, _ models.Classification, facts []models.PrefetchFact, _ *models.RetrievalContext) (models.AgentReport, error) {
			narrative := fmt.Sprintf("From a %s standpoint, %q needs further evidence.", angle, query.Text)
			if len(facts) > 0 {
				narrative = fmt.Sprintf("From a %s standpoint, the strongest signal is %s from %s.", angle, facts[0].Metric, facts[0].SourceID)
			}
			return models.AgentReport{
				AgentID:    id,
				Narrative:  narrative,
				Confidence: 0.5,
				Findings:   []models.Finding{{Text: narrative, Confidence: 0.5}},
			}, nil
		})
	}
	return map[string]invoker.Agent{
		"macro": perspective("macro", "macroeconomic"),
		"micro": perspective("micro", "microeconomic"),
	}
}

type agentFunc func(ctx context.Context, query models.Query, classification models.Classification, facts []models.PrefetchFact, rc *models.RetrievalContext) (models.AgentReport, error)

func (f agentFunc) Analyze(ctx context.Context, query models.Query, classification models.Classification, facts []models.PrefetchFact, rc *models.RetrievalContext) (models.AgentReport, error) {
	return f(ctx, query, classification, facts, rc)
}
