// Package config loads the orchestrator's configuration surface from
// environment variables and an optional YAML override file, and
// constructs the process-wide logger, metrics registry, and storage
// clients used by the rest of the pipeline.
package config

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DebateProfile is one row of the complexity-keyed adaptive budget table.
type DebateProfile struct {
	MaxTotalTurns          int     `yaml:"max_total_turns" json:"max_total_turns"`
	PerPhaseTurnCap        int     `yaml:"per_phase_turn_cap" json:"per_phase_turn_cap"`
	ConvergenceThreshold   float64 `yaml:"convergence_threshold" json:"convergence_threshold"`
}

// Config is the full recognized configuration surface.
type Config struct {
	MaxPrefetchConcurrency int                      `yaml:"max_prefetch_concurrency" json:"max_prefetch_concurrency"`
	PerAgentTimeout        time.Duration            `yaml:"per_agent_timeout_ms" json:"per_agent_timeout_ms"`
	DebateProfiles         map[string]DebateProfile `yaml:"debate_complexity_profiles" json:"debate_complexity_profiles"`
	MetaDebateVocabulary   []string                 `yaml:"meta_debate_vocabulary" json:"meta_debate_vocabulary"`
	ClusteringThreshold    float64                  `yaml:"clustering_threshold" json:"clustering_threshold"`
	LexicalFallbackThreshold float64                `yaml:"lexical_fallback_threshold" json:"lexical_fallback_threshold"`
	VerifierFreshnessHorizons map[string]int        `yaml:"verifier_freshness_horizons" json:"verifier_freshness_horizons"`
	HeartbeatInterval      time.Duration            `yaml:"heartbeat_interval_ms" json:"heartbeat_interval_ms"`
	EmbedderWarmOnStart    bool                     `yaml:"embedder_warm_on_start" json:"embedder_warm_on_start"`
	TransportCeiling       time.Duration            `yaml:"transport_ceiling_ms" json:"transport_ceiling_ms"`

	RedisAddr    string `yaml:"redis_addr" json:"redis_addr"`
	PostgresDSN  string `yaml:"postgres_dsn" json:"postgres_dsn"`
	ChromaURL    string `yaml:"chroma_url" json:"chroma_url"`
	ListenAddr   string `yaml:"listen_addr" json:"listen_addr"`
	MetricsAddr  string `yaml:"metrics_addr" json:"metrics_addr"`
	LogLevel     string `yaml:"log_level" json:"log_level"`
	LogJSON      bool   `yaml:"log_json" json:"log_json"`
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getDurationMsEnv(key string, defMs int) time.Duration {
	n := getIntEnv(key, defMs)
	return time.Duration(n) * time.Millisecond
}

func getFloatEnv(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvSlice(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DefaultMetaDebateVocabulary is the built-in ≥21 entry phrase catalog used
// by the meta-debate detector when no override is configured.
var DefaultMetaDebateVocabulary = []string{
	"framework", "analytical approach", "epistemically", "epistemic frame",
	"performative contradiction", "meta-level", "discourse itself",
	"nature of the question", "what we mean by", "ontological",
	"first-order vs second-order", "recursive framing", "shape of the argument",
	"methodological stance", "paradigm", "reflexivity", "underlying assumptions",
	"category error", "semantics of", "framing problem", "meta-analysis of the debate",
	"talking past each other",
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MaxPrefetchConcurrency: 8,
		PerAgentTimeout:        120 * time.Second,
		DebateProfiles: map[string]DebateProfile{
			"simple":   {MaxTotalTurns: 15, PerPhaseTurnCap: 4, ConvergenceThreshold: 0.80},
			"standard": {MaxTotalTurns: 40, PerPhaseTurnCap: 10, ConvergenceThreshold: 0.75},
			"complex":  {MaxTotalTurns: 125, PerPhaseTurnCap: 30, ConvergenceThreshold: 0.70},
		},
		MetaDebateVocabulary:     append([]string(nil), DefaultMetaDebateVocabulary...),
		ClusteringThreshold:      0.65,
		LexicalFallbackThreshold: 0.40,
		VerifierFreshnessHorizons: map[string]int{
			"macroeconomic": 24,
			"labor":         12,
			"news":          3,
		},
		HeartbeatInterval:   15 * time.Second,
		EmbedderWarmOnStart: true,
		TransportCeiling:    60 * time.Minute,
		RedisAddr:           "localhost:6379",
		PostgresDSN:         "",
		ChromaURL:           "http://localhost:8000",
		ListenAddr:          ":8080",
		MetricsAddr:         ":9090",
		LogLevel:            "info",
		LogJSON:             false,
	}
}

// Load builds a Config from the process environment, applying overrides
// from an optional YAML file at yamlPath (ignored if empty or missing). A
// local .env file is loaded first so operators can keep secrets out of
// the shell.
func Load(yamlPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	cfg.MaxPrefetchConcurrency = getIntEnv("MAX_PREFETCH_CONCURRENCY", cfg.MaxPrefetchConcurrency)
	cfg.PerAgentTimeout = getDurationMsEnv("PER_AGENT_TIMEOUT_MS", int(cfg.PerAgentTimeout/time.Millisecond))
	cfg.ClusteringThreshold = getFloatEnv("CLUSTERING_THRESHOLD", cfg.ClusteringThreshold)
	cfg.LexicalFallbackThreshold = getFloatEnv("LEXICAL_FALLBACK_THRESHOLD", cfg.LexicalFallbackThreshold)
	cfg.HeartbeatInterval = getDurationMsEnv("HEARTBEAT_INTERVAL_MS", int(cfg.HeartbeatInterval/time.Millisecond))
	cfg.EmbedderWarmOnStart = getBoolEnv("EMBEDDER_WARM_ON_START", cfg.EmbedderWarmOnStart)
	cfg.TransportCeiling = getDurationMsEnv("TRANSPORT_CEILING_MS", int(cfg.TransportCeiling/time.Millisecond))
	cfg.MetaDebateVocabulary = getEnvSlice("META_DEBATE_VOCABULARY", cfg.MetaDebateVocabulary)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.PostgresDSN = getEnv("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.ChromaURL = getEnv("CHROMA_URL", cfg.ChromaURL)
	cfg.ListenAddr = getEnv("LISTEN_ADDR", cfg.ListenAddr)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogJSON = getBoolEnv("LOG_JSON", cfg.LogJSON)

	return cfg, nil
}

// NewLogger builds the process-wide logrus logger per the configured level
// and format.
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if cfg.LogJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// Metrics bundles the Prometheus collectors shared across stages.
type Metrics struct {
	StageLatency       *prometheus.HistogramVec
	DebateTurnsTotal    prometheus.Counter
	ContradictionsTotal prometheus.Counter
	QueueWatermarkTrips prometheus.Counter
}

// NewMetrics registers and returns the shared collectors against reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		StageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "orchestrator_stage_latency_seconds",
			Help: "Latency of each pipeline stage.",
		}, []string{"stage"}),
		DebateTurnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_debate_turns_total",
			Help: "Total debate turns recorded across all requests.",
		}),
		ContradictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_contradictions_total",
			Help: "Total contradictions detected across all requests.",
		}),
		QueueWatermarkTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_event_queue_watermark_trips_total",
			Help: "Times the event bus queue crossed its watermark.",
		}),
	}
	reg.MustRegister(m.StageLatency, m.DebateTurnsTotal, m.ContradictionsTotal, m.QueueWatermarkTrips)
	return m
}

// NewRedisClient constructs the shared Redis client used by prefetch and
// retrieval caching.
func NewRedisClient(cfg *Config) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
}

// NewPostgresPool constructs the audit-sink connection pool. Returns nil,
// nil when no DSN is configured so callers can treat persistence as
// optional, matching "Persisted state at the boundary: none owned by the
// core."
func NewPostgresPool(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	if cfg.PostgresDSN == "" {
		return nil, nil
	}
	return pgxpool.New(ctx, cfg.PostgresDSN)
}

// ProfileFor returns the DebateProfile for a complexity tag, falling back
// to the standard profile if the tag is unrecognized.
func (c *Config) ProfileFor(complexity string) DebateProfile {
	if p, ok := c.DebateProfiles[complexity]; ok {
		return p
	}
	return c.DebateProfiles["standard"]
}
