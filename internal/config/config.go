// Package config provides configuration loading for recalld.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables. Every component receives an immutable *Config (or a sub-struct)
// at construction time; there is no ambient global state.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/memory"
	"go.uber.org/zap"
)

// Config holds the complete recalld configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Ingest        IngestConfig        `koanf:"ingest"`
	Queue         QueueConfig         `koanf:"queue"`
	Classify      ClassifyConfig      `koanf:"classify"`
	Decay         DecayConfig         `koanf:"decay"`
	Injection     InjectionConfig     `koanf:"injection"`
}

// ServerConfig holds daemon configuration.
type ServerConfig struct {
	// MetricsPort serves the Prometheus /metrics endpoint.
	MetricsPort int `koanf:"metrics_port"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
}

// VectorStoreConfig holds Qdrant connection configuration.
type VectorStoreConfig struct {
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	CollectionName string `koanf:"collection_name"`
	VectorSize     int    `koanf:"vector_size"`
	UseTLS         bool   `koanf:"use_tls"`

	// SharedScope is an additional scope searched by every query when set.
	// Records in the shared scope are visible across projects.
	SharedScope string `koanf:"shared_scope"`

	// SearchTimeout bounds retrieval round trips. On timeout the query
	// path returns an empty result set rather than an error.
	SearchTimeout time.Duration `koanf:"search_timeout"`

	MaxRetries   int           `koanf:"max_retries"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`

	// SearchOverfetch multiplies the requested limit on the vector query
	// so decay re-ranking has enough candidates to reorder.
	SearchOverfetch int `koanf:"search_overfetch"`
}

// EmbeddingRouteConfig configures one embedding route.
type EmbeddingRouteConfig struct {
	// Provider is "tei" (HTTP service) or "fastembed" (local ONNX).
	Provider string        `koanf:"provider"`
	BaseURL  string        `koanf:"base_url"`
	Model    string        `koanf:"model"`
	CacheDir string        `koanf:"cache_dir"`
	Timeout  time.Duration `koanf:"timeout"`
}

// EmbeddingsConfig holds the two independent embedding routes.
// Prose and code content are never mixed onto the same route.
type EmbeddingsConfig struct {
	Prose EmbeddingRouteConfig `koanf:"prose"`
	Code  EmbeddingRouteConfig `koanf:"code"`

	// BackfillInterval schedules the pending-embedding backfill pass.
	BackfillInterval time.Duration `koanf:"backfill_interval"`

	// BackfillBatchSize bounds records re-embedded per pass.
	BackfillBatchSize int `koanf:"backfill_batch_size"`
}

// IngestConfig holds validation, dedup and chunking configuration.
type IngestConfig struct {
	MinContentChars int `koanf:"min_content_chars"`
	MaxContentChars int `koanf:"max_content_chars"`

	// DedupThreshold is the cosine similarity above which same-scope,
	// same-type content is treated as a semantic duplicate.
	DedupThreshold float64 `koanf:"dedup_threshold"`

	// DedupWindow bounds the recent-record window consulted for semantic
	// dedup, per scope+type. Count-bounded; see DESIGN.md.
	DedupWindow int `koanf:"dedup_window"`

	// Chunking bounds, in tokens (~4 chars each).
	ChunkMinTokens int `koanf:"chunk_min_tokens"`
	ChunkMaxTokens int `koanf:"chunk_max_tokens"`

	// ChunkOverlapPct is the overlap between adjacent chunks as a
	// fraction of chunk size, clamped to [0.10, 0.20].
	ChunkOverlapPct float64 `koanf:"chunk_overlap_pct"`
}

// QueueConfig holds the durable storage queue configuration.
type QueueConfig struct {
	// Dir is the spool directory for deferred writes.
	Dir string `koanf:"dir"`

	// MaxRetries is the retry ceiling; beyond it entries become exhausted
	// and are retained for operator attention.
	MaxRetries int `koanf:"max_retries"`

	// Backoff is the retry schedule. Attempts beyond its length reuse the
	// final (capped) interval.
	Backoff []time.Duration `koanf:"backoff"`

	// DrainInterval is the periodic drain tick. fsnotify events on the
	// spool directory wake the drainer earlier.
	DrainInterval time.Duration `koanf:"drain_interval"`

	// ScrubSecrets redacts secret-like content before payloads hit disk.
	ScrubSecrets bool `koanf:"scrub_secrets"`
}

// ProviderConfig holds one LLM provider's configuration.
type ProviderConfig struct {
	// Name is "anthropic" or "openai".
	Name    string        `koanf:"name"`
	Model   string        `koanf:"model"`
	APIKey  string        `koanf:"api_key"`
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

// ClassifyConfig holds the reclassification worker configuration.
type ClassifyConfig struct {
	Enabled bool `koanf:"enabled"`

	// SkipTypes are never reclassified.
	SkipTypes []string `koanf:"skip_types"`

	// MinContentChars skips reclassification for short content.
	MinContentChars int `koanf:"min_content_chars"`

	// ConfidenceThreshold gates applying a proposed type.
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`

	// RuleConfidence is the fixed confidence assigned to rule matches.
	RuleConfidence float64 `koanf:"rule_confidence"`

	// MaxPromptChars truncates content for the classification prompt only;
	// stored content is never truncated.
	MaxPromptChars int `koanf:"max_prompt_chars"`

	// Providers is the ordered chain: primary first, fallbacks after.
	Providers []ProviderConfig `koanf:"providers"`

	// Breaker configures the per-provider circuit breaker.
	Breaker BreakerConfig `koanf:"breaker"`

	// RateLimit is requests per minute across the chain; Burst is the
	// token-bucket burst allowance.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`

	// Interval schedules the background reclassification scan.
	Interval time.Duration `koanf:"interval"`

	// BatchSize bounds candidates per scan.
	BatchSize int `koanf:"batch_size"`
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold opens the breaker after this many consecutive failures.
	FailureThreshold int `koanf:"failure_threshold"`

	// ResetTimeout is how long the breaker stays open before half-open.
	ResetTimeout time.Duration `koanf:"reset_timeout"`

	// HalfOpenMax bounds trial requests allowed through while half-open.
	HalfOpenMax int `koanf:"half_open_max"`
}

// DecayConfig holds the decay policy: a global semantic/temporal weight
// split plus per-type half-lives in days.
type DecayConfig struct {
	// SemanticWeight is w in final = w*s + (1-w)*temporal.
	SemanticWeight float64 `koanf:"semantic_weight"`

	// TemporalWeight is 1-w. Stored separately so misconfiguration
	// (weights not summing to 1) can be detected and normalized.
	TemporalWeight float64 `koanf:"temporal_weight"`

	// HalfLifeDays maps record type to half-life. Types not listed use
	// DefaultHalfLifeDays.
	HalfLifeDays map[string]float64 `koanf:"half_life_days"`

	DefaultHalfLifeDays float64 `koanf:"default_half_life_days"`
}

// HalfLifeFor returns the half-life in days for a record type.
func (d DecayConfig) HalfLifeFor(t memory.RecordType) float64 {
	if h, ok := d.HalfLifeDays[string(t)]; ok && h > 0 {
		return h
	}
	return d.DefaultHalfLifeDays
}

// BudgetConfig holds one injection budget tier.
type BudgetConfig struct {
	FloorTokens   int `koanf:"floor_tokens"`
	CeilingTokens int `koanf:"ceiling_tokens"`

	// ConfidenceThreshold applies to the per-turn tier only: when the top
	// candidate's blended score is below it, injection is skipped.
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`
}

// SlotConfig holds one bootstrap slot's sub-budget.
type SlotConfig struct {
	Name   string `koanf:"name"`
	Tokens int    `koanf:"tokens"`
}

// InjectionConfig holds the two context injection budget profiles.
type InjectionConfig struct {
	Bootstrap BudgetConfig `koanf:"bootstrap"`
	PerTurn   BudgetConfig `koanf:"per_turn"`

	// Slots subdivide the bootstrap budget. Slot token sums must not
	// exceed the bootstrap ceiling.
	Slots []SlotConfig `koanf:"slots"`

	// TokenEncoding names the tiktoken encoding used for counting.
	TokenEncoding string `koanf:"token_encoding"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9180
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "recalld"
	}

	if cfg.VectorStore.Host == "" {
		cfg.VectorStore.Host = "localhost"
	}
	if cfg.VectorStore.Port == 0 {
		cfg.VectorStore.Port = 6334
	}
	if cfg.VectorStore.CollectionName == "" {
		cfg.VectorStore.CollectionName = "recalld_memories"
	}
	if cfg.VectorStore.VectorSize == 0 {
		cfg.VectorStore.VectorSize = 384 // bge-small-en-v1.5 dimensions
	}
	if cfg.VectorStore.SearchTimeout == 0 {
		cfg.VectorStore.SearchTimeout = 3 * time.Second
	}
	if cfg.VectorStore.MaxRetries == 0 {
		cfg.VectorStore.MaxRetries = 3
	}
	if cfg.VectorStore.RetryBackoff == 0 {
		cfg.VectorStore.RetryBackoff = time.Second
	}
	if cfg.VectorStore.SearchOverfetch == 0 {
		cfg.VectorStore.SearchOverfetch = 3
	}

	if cfg.Embeddings.Prose.Provider == "" {
		cfg.Embeddings.Prose.Provider = "tei"
	}
	if cfg.Embeddings.Prose.BaseURL == "" {
		cfg.Embeddings.Prose.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Prose.Model == "" {
		cfg.Embeddings.Prose.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.Code.Provider == "" {
		cfg.Embeddings.Code.Provider = "tei"
	}
	if cfg.Embeddings.Code.BaseURL == "" {
		cfg.Embeddings.Code.BaseURL = "http://localhost:8081"
	}
	if cfg.Embeddings.Code.Model == "" {
		cfg.Embeddings.Code.Model = "jinaai/jina-embeddings-v2-base-code"
	}
	if cfg.Embeddings.Prose.Timeout == 0 {
		cfg.Embeddings.Prose.Timeout = 10 * time.Second
	}
	if cfg.Embeddings.Code.Timeout == 0 {
		cfg.Embeddings.Code.Timeout = 10 * time.Second
	}
	if cfg.Embeddings.BackfillInterval == 0 {
		cfg.Embeddings.BackfillInterval = 5 * time.Minute
	}
	if cfg.Embeddings.BackfillBatchSize == 0 {
		cfg.Embeddings.BackfillBatchSize = 64
	}

	if cfg.Ingest.MinContentChars == 0 {
		cfg.Ingest.MinContentChars = 50
	}
	if cfg.Ingest.MaxContentChars == 0 {
		cfg.Ingest.MaxContentChars = 50000
	}
	if cfg.Ingest.DedupThreshold == 0 {
		cfg.Ingest.DedupThreshold = 0.88
	}
	if cfg.Ingest.DedupWindow == 0 {
		cfg.Ingest.DedupWindow = 256
	}
	if cfg.Ingest.ChunkMinTokens == 0 {
		cfg.Ingest.ChunkMinTokens = 256
	}
	if cfg.Ingest.ChunkMaxTokens == 0 {
		cfg.Ingest.ChunkMaxTokens = 1024
	}
	if cfg.Ingest.ChunkOverlapPct == 0 {
		cfg.Ingest.ChunkOverlapPct = 0.15
	}

	if cfg.Queue.Dir == "" {
		cfg.Queue.Dir = "~/.config/recalld/queue"
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 5
	}
	if len(cfg.Queue.Backoff) == 0 {
		cfg.Queue.Backoff = []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}
	}
	if cfg.Queue.DrainInterval == 0 {
		cfg.Queue.DrainInterval = 30 * time.Second
	}

	if cfg.Classify.MinContentChars == 0 {
		cfg.Classify.MinContentChars = 80
	}
	if cfg.Classify.ConfidenceThreshold == 0 {
		cfg.Classify.ConfidenceThreshold = 0.7
	}
	if cfg.Classify.RuleConfidence == 0 {
		cfg.Classify.RuleConfidence = 0.85
	}
	if cfg.Classify.MaxPromptChars == 0 {
		cfg.Classify.MaxPromptChars = 4000
	}
	if len(cfg.Classify.SkipTypes) == 0 {
		cfg.Classify.SkipTypes = []string{string(memory.TypeHandoff), string(memory.TypePreference)}
	}
	if cfg.Classify.Breaker.FailureThreshold == 0 {
		cfg.Classify.Breaker.FailureThreshold = 5
	}
	if cfg.Classify.Breaker.ResetTimeout == 0 {
		cfg.Classify.Breaker.ResetTimeout = 30 * time.Second
	}
	if cfg.Classify.Breaker.HalfOpenMax == 0 {
		cfg.Classify.Breaker.HalfOpenMax = 2
	}
	if cfg.Classify.RateLimit == 0 {
		cfg.Classify.RateLimit = 30 // requests per minute
	}
	if cfg.Classify.Burst == 0 {
		cfg.Classify.Burst = 5
	}
	if cfg.Classify.Interval == 0 {
		cfg.Classify.Interval = time.Minute
	}
	if cfg.Classify.BatchSize == 0 {
		cfg.Classify.BatchSize = 20
	}

	if cfg.Decay.SemanticWeight == 0 && cfg.Decay.TemporalWeight == 0 {
		cfg.Decay.SemanticWeight = 0.7
		cfg.Decay.TemporalWeight = 0.3
	}
	if cfg.Decay.DefaultHalfLifeDays == 0 {
		cfg.Decay.DefaultHalfLifeDays = 30
	}
	if cfg.Decay.HalfLifeDays == nil {
		cfg.Decay.HalfLifeDays = map[string]float64{
			string(memory.TypeConversation):   7,
			string(memory.TypeImplementation): 14,
			string(memory.TypeInsight):        60,
			string(memory.TypeDecision):       90,
			string(memory.TypeHandoff):        3,
			string(memory.TypeExternalChange): 7,
			string(memory.TypePreference):     180,
		}
	}

	if cfg.Injection.Bootstrap.CeilingTokens == 0 {
		cfg.Injection.Bootstrap.CeilingTokens = 3000
	}
	if cfg.Injection.PerTurn.CeilingTokens == 0 {
		cfg.Injection.PerTurn.CeilingTokens = 1200
	}
	if cfg.Injection.PerTurn.FloorTokens == 0 {
		cfg.Injection.PerTurn.FloorTokens = 200
	}
	if cfg.Injection.PerTurn.ConfidenceThreshold == 0 {
		cfg.Injection.PerTurn.ConfidenceThreshold = 0.55
	}
	if len(cfg.Injection.Slots) == 0 {
		cfg.Injection.Slots = []SlotConfig{
			{Name: "recent_handoff", Tokens: 1200},
			{Name: "top_insights", Tokens: 1200},
			{Name: "external_changes", Tokens: 600},
		}
	}
	if cfg.Injection.TokenEncoding == "" {
		cfg.Injection.TokenEncoding = "cl100k_base"
	}
}

// Normalize repairs safe-to-repair misconfiguration, logging a warning for
// each repair. Called after defaults, before Validate.
func (c *Config) Normalize(logger *zap.Logger) {
	sum := c.Decay.SemanticWeight + c.Decay.TemporalWeight
	if sum > 0 && (sum < 0.999 || sum > 1.001) {
		logger.Warn("decay weights do not sum to 1.0, normalizing",
			zap.Float64("semantic_weight", c.Decay.SemanticWeight),
			zap.Float64("temporal_weight", c.Decay.TemporalWeight))
		c.Decay.SemanticWeight /= sum
		c.Decay.TemporalWeight /= sum
	}

	if c.Ingest.ChunkOverlapPct < 0.10 || c.Ingest.ChunkOverlapPct > 0.20 {
		logger.Warn("chunk overlap outside [0.10, 0.20], clamping",
			zap.Float64("chunk_overlap_pct", c.Ingest.ChunkOverlapPct))
		if c.Ingest.ChunkOverlapPct < 0.10 {
			c.Ingest.ChunkOverlapPct = 0.10
		} else {
			c.Ingest.ChunkOverlapPct = 0.20
		}
	}

	if c.Injection.PerTurn.FloorTokens > c.Injection.PerTurn.CeilingTokens {
		logger.Warn("per-turn floor exceeds ceiling, swapping",
			zap.Int("floor", c.Injection.PerTurn.FloorTokens),
			zap.Int("ceiling", c.Injection.PerTurn.CeilingTokens))
		c.Injection.PerTurn.FloorTokens, c.Injection.PerTurn.CeilingTokens =
			c.Injection.PerTurn.CeilingTokens, c.Injection.PerTurn.FloorTokens
	}
}

// Validate validates the configuration. Called at startup after Normalize;
// anything that fails here is a genuine misconfiguration with no safe repair.
func (c *Config) Validate() error {
	if c.Server.MetricsPort < 1 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d (must be 1-65535)", c.Server.MetricsPort)
	}
	if c.VectorStore.Port < 1 || c.VectorStore.Port > 65535 {
		return fmt.Errorf("invalid vectorstore port: %d", c.VectorStore.Port)
	}
	if c.VectorStore.VectorSize <= 0 {
		return fmt.Errorf("vector size must be positive, got %d", c.VectorStore.VectorSize)
	}
	if c.Ingest.MinContentChars >= c.Ingest.MaxContentChars {
		return fmt.Errorf("min content chars (%d) must be below max (%d)",
			c.Ingest.MinContentChars, c.Ingest.MaxContentChars)
	}
	if c.Ingest.DedupThreshold <= 0 || c.Ingest.DedupThreshold >= 1 {
		return fmt.Errorf("dedup threshold must be in (0,1), got %f", c.Ingest.DedupThreshold)
	}
	if c.Ingest.ChunkMinTokens >= c.Ingest.ChunkMaxTokens {
		return fmt.Errorf("chunk min tokens (%d) must be below max (%d)",
			c.Ingest.ChunkMinTokens, c.Ingest.ChunkMaxTokens)
	}
	if c.Queue.MaxRetries < 1 {
		return fmt.Errorf("queue max retries must be at least 1, got %d", c.Queue.MaxRetries)
	}
	for i, b := range c.Queue.Backoff {
		if b <= 0 {
			return fmt.Errorf("queue backoff[%d] must be positive", i)
		}
	}
	if c.Classify.ConfidenceThreshold < 0 || c.Classify.ConfidenceThreshold > 1 {
		return fmt.Errorf("classify confidence threshold must be in [0,1], got %f",
			c.Classify.ConfidenceThreshold)
	}
	if c.Classify.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker failure threshold must be at least 1")
	}
	if c.Classify.Breaker.HalfOpenMax < 1 {
		return fmt.Errorf("breaker half-open max must be at least 1")
	}
	if c.Classify.RateLimit <= 0 {
		return fmt.Errorf("classify rate limit must be positive, got %f", c.Classify.RateLimit)
	}
	for _, p := range c.Classify.Providers {
		if p.Name != "anthropic" && p.Name != "openai" {
			return fmt.Errorf("unknown classification provider: %q", p.Name)
		}
	}
	if c.Decay.DefaultHalfLifeDays <= 0 {
		return fmt.Errorf("default half-life must be positive, got %f", c.Decay.DefaultHalfLifeDays)
	}
	for t, h := range c.Decay.HalfLifeDays {
		if h <= 0 {
			return fmt.Errorf("half-life for type %q must be positive, got %f", t, h)
		}
	}
	slotSum := 0
	for _, s := range c.Injection.Slots {
		if s.Name == "" {
			return fmt.Errorf("bootstrap slot name cannot be empty")
		}
		if s.Tokens <= 0 {
			return fmt.Errorf("bootstrap slot %q must have a positive token budget", s.Name)
		}
		slotSum += s.Tokens
	}
	if slotSum > c.Injection.Bootstrap.CeilingTokens {
		return fmt.Errorf("bootstrap slot budgets (%d tokens) exceed ceiling (%d)",
			slotSum, c.Injection.Bootstrap.CeilingTokens)
	}
	return nil
}
