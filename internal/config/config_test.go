package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxAttemptsPerAlert)
	assert.Equal(t, 300*time.Second, cfg.FingerprintCooldown)
	assert.Equal(t, 2*time.Hour, cfg.AttemptWindow)
	assert.Equal(t, 2, cfg.CrashLoopThreshold)
	assert.Equal(t, 120*time.Second, cfg.VerificationMaxWait)
	assert.Equal(t, 500, cfg.QueueCapacity)
	assert.Equal(t, 2, cfg.MaxRestarts)
}

func TestSelfRestartTimeoutClamped(t *testing.T) {
	t.Setenv("SELF_RESTART_TIMEOUT_MINUTES", "1")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.SelfRestartTimeout, "below minimum should clamp up")

	t.Setenv("SELF_RESTART_TIMEOUT_MINUTES", "120")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 60*time.Minute, cfg.SelfRestartTimeout, "above maximum should clamp down")
}

func TestStaleHandoffCleanupClamped(t *testing.T) {
	t.Setenv("STALE_HANDOFF_CLEANUP_MINUTES", "5")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.StaleHandoffCleanup)
}

func TestMaxAttemptsClamped(t *testing.T) {
	t.Setenv("MAX_ATTEMPTS_PER_ALERT", "50")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.MaxAttemptsPerAlert)
}

func TestInvalidZScoreBands(t *testing.T) {
	t.Setenv("ANOMALY_Z_WARNING", "5.0")
	t.Setenv("ANOMALY_Z_CRITICAL", "4.0")
	_, err := Load()
	require.Error(t, err, "z_critical must exceed z_warning")
}

func TestIgnoresMalformedInt(t *testing.T) {
	t.Setenv("MAX_ATTEMPTS_PER_ALERT", "not-a-number")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxAttemptsPerAlert, "malformed value falls back to default")
}
