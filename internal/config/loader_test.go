package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadAppliesDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 9180, cfg.Server.MetricsPort)
	assert.Equal(t, "recalld_memories", cfg.VectorStore.CollectionName)
	assert.Equal(t, 384, cfg.VectorStore.VectorSize)
	assert.Equal(t, 50, cfg.Ingest.MinContentChars)
	assert.Equal(t, 0.88, cfg.Ingest.DedupThreshold)
	assert.Equal(t, 256, cfg.Ingest.DedupWindow)
	assert.Equal(t, 0.7, cfg.Decay.SemanticWeight)
	assert.Equal(t, 0.3, cfg.Decay.TemporalWeight)
	assert.Equal(t, []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}, cfg.Queue.Backoff)
	assert.Equal(t, 3000, cfg.Injection.Bootstrap.CeilingTokens)
	assert.Equal(t, "cl100k_base", cfg.Injection.TokenEncoding)
	assert.Len(t, cfg.Injection.Slots, 3)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  metrics_port: 9999
ingest:
  min_content_chars: 25
decay:
  semantic_weight: 0.6
  temporal_weight: 0.4
`)

	cfg, err := Load(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.MetricsPort)
	assert.Equal(t, 25, cfg.Ingest.MinContentChars)
	assert.Equal(t, 0.6, cfg.Decay.SemanticWeight)
}

func TestLoadRejectsInsecureFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  metrics_port: 9999\n"), 0644))

	_, err := Load(path, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "server:\n  metrics_port: 9999\n")
	t.Setenv("RECALLD_SERVER_METRICS_PORT", "9555")
	t.Setenv("RECALLD_VECTORSTORE_COLLECTION_NAME", "custom_collection")

	cfg, err := Load(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 9555, cfg.Server.MetricsPort)
	assert.Equal(t, "custom_collection", cfg.VectorStore.CollectionName)
}

func TestEnvTransformer(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"RECALLD_SERVER_METRICS_PORT", "server.metrics_port"},
		{"RECALLD_VECTORSTORE_HOST", "vectorstore.host"},
		{"RECALLD_DECAY_SEMANTIC_WEIGHT", "decay.semantic_weight"},
		{"RECALLD_QUEUE_MAX_RETRIES", "queue.max_retries"},
		{"RECALLD_DEBUG", "debug"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, envTransformer(tt.in), tt.in)
	}
}

func TestNormalizeRepairsDecayWeights(t *testing.T) {
	var cfg Config
	cfg.Decay.SemanticWeight = 0.9
	cfg.Decay.TemporalWeight = 0.3

	cfg.Normalize(zap.NewNop())
	assert.InDelta(t, 0.75, cfg.Decay.SemanticWeight, 1e-9)
	assert.InDelta(t, 0.25, cfg.Decay.TemporalWeight, 1e-9)
	assert.InDelta(t, 1.0, cfg.Decay.SemanticWeight+cfg.Decay.TemporalWeight, 1e-9)
}

func TestNormalizeClampsChunkOverlap(t *testing.T) {
	var cfg Config
	cfg.Ingest.ChunkOverlapPct = 0.5
	cfg.Normalize(zap.NewNop())
	assert.Equal(t, 0.20, cfg.Ingest.ChunkOverlapPct)

	cfg.Ingest.ChunkOverlapPct = 0.01
	cfg.Normalize(zap.NewNop())
	assert.Equal(t, 0.10, cfg.Ingest.ChunkOverlapPct)
}

func TestNormalizeSwapsInvertedPerTurnBudget(t *testing.T) {
	var cfg Config
	cfg.Ingest.ChunkOverlapPct = 0.15
	cfg.Injection.PerTurn.FloorTokens = 1200
	cfg.Injection.PerTurn.CeilingTokens = 200

	cfg.Normalize(zap.NewNop())
	assert.Equal(t, 200, cfg.Injection.PerTurn.FloorTokens)
	assert.Equal(t, 1200, cfg.Injection.PerTurn.CeilingTokens)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), zap.NewNop())
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"metrics port", func(c *Config) { c.Server.MetricsPort = 70000 }},
		{"vector size", func(c *Config) { c.VectorStore.VectorSize = -1 }},
		{"content bounds inverted", func(c *Config) { c.Ingest.MinContentChars = 60000 }},
		{"dedup threshold", func(c *Config) { c.Ingest.DedupThreshold = 1.5 }},
		{"chunk bounds inverted", func(c *Config) { c.Ingest.ChunkMinTokens = 2048 }},
		{"queue retries", func(c *Config) { c.Queue.MaxRetries = -1 }},
		{"negative backoff", func(c *Config) { c.Queue.Backoff = []time.Duration{-time.Second} }},
		{"unknown provider", func(c *Config) {
			c.Classify.Providers = []ProviderConfig{{Name: "cohere"}}
		}},
		{"negative half-life", func(c *Config) {
			c.Decay.HalfLifeDays = map[string]float64{"insight": -1}
		}},
		{"empty slot name", func(c *Config) { c.Injection.Slots[0].Name = "" }},
		{"slots exceed ceiling", func(c *Config) { c.Injection.Bootstrap.CeilingTokens = 100 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestHalfLifeFor(t *testing.T) {
	d := DecayConfig{
		HalfLifeDays:        map[string]float64{string(memory.TypeInsight): 60},
		DefaultHalfLifeDays: 30,
	}

	assert.Equal(t, 60.0, d.HalfLifeFor(memory.TypeInsight))
	assert.Equal(t, 30.0, d.HalfLifeFor(memory.TypeConversation))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".config", "recalld"), ExpandPath("~/.config/recalld"))
	assert.Equal(t, "/var/lib/recalld", ExpandPath("/var/lib/recalld"))
	assert.Equal(t, "relative/path", ExpandPath("relative/path"))
}
