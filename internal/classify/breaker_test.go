package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/config"
)

func testBreakerConfig() config.BreakerConfig {
	return config.BreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     25 * time.Millisecond,
		HalfOpenMax:      2,
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(testBreakerConfig())

	require.NoError(t, b.Allow())
	assert.Equal(t, "closed", b.State())

	b.Failure()
	b.Failure()
	require.NoError(t, b.Allow(), "below threshold must stay closed")

	b.Failure()
	assert.Equal(t, "open", b.State())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(testBreakerConfig())

	b.Failure()
	b.Failure()
	b.Success()

	// The counter restarts: two more failures must not open.
	b.Failure()
	b.Failure()
	assert.Equal(t, "closed", b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerHalfOpenProbeAndClose(t *testing.T) {
	cfg := testBreakerConfig()
	b := NewBreaker(cfg)
	for i := 0; i < cfg.FailureThreshold; i++ {
		b.Failure()
	}
	require.ErrorIs(t, b.Allow(), ErrBreakerOpen)

	time.Sleep(cfg.ResetTimeout + 10*time.Millisecond)

	// HalfOpenMax trial calls pass, then the breaker rejects again.
	require.NoError(t, b.Allow())
	assert.Equal(t, "half_open", b.State())
	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)

	b.Success()
	assert.Equal(t, "closed", b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cfg := testBreakerConfig()
	b := NewBreaker(cfg)
	for i := 0; i < cfg.FailureThreshold; i++ {
		b.Failure()
	}

	time.Sleep(cfg.ResetTimeout + 10*time.Millisecond)
	require.NoError(t, b.Allow())

	// One failed probe reopens immediately, no threshold counting.
	b.Failure()
	assert.Equal(t, "open", b.State())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
}

func TestBreakerDefaults(t *testing.T) {
	b := NewBreaker(config.BreakerConfig{})

	for i := 0; i < 4; i++ {
		b.Failure()
	}
	assert.Equal(t, "closed", b.State())

	b.Failure()
	assert.Equal(t, "open", b.State())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
}
