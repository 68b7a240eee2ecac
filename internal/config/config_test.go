package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "saga-orchestrator", cfg.ServiceName)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 30*time.Second, cfg.Sweeper.Interval)
	assert.Equal(t, 2*time.Minute, cfg.Sweeper.StepTimeout)
	assert.Equal(t, 5, cfg.Sweeper.MaxStepRetries)
	assert.Equal(t, 3, cfg.Dispatch.MaxSendAttempts)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("SWEEPER_MAX_STEP_RETRIES", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 10, cfg.Sweeper.MaxStepRetries)
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("HTTP_PORT", "70000")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP_PORT")
}

func TestLoad_InvalidSweeperRetries(t *testing.T) {
	t.Setenv("SWEEPER_MAX_STEP_RETRIES", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SWEEPER_MAX_STEP_RETRIES")
}

func TestPostgresPoolConfig(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_PASSWORD", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	pool := cfg.PostgresPoolConfig()
	assert.Equal(t, "db.internal", pool.Host)
	assert.Contains(t, pool.DSN(), "db.internal:5432/saga_orchestrator")
}
