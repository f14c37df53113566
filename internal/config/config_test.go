package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("QUEUE_BACKEND", "")
	t.Setenv("ARCHIVE_BACKEND", "")

	cfg := Load()

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, BackendPostgres, cfg.QueueBackend)
	assert.Equal(t, BackendNone, cfg.ArchiveBackend)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 25, cfg.DBMaxOpenConns)
	assert.Equal(t, 5*time.Minute, cfg.DBConnMaxIdleTime)
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("QUEUE_BACKEND", "Redis")
	t.Setenv("MIGRATE_ON_START", "true")
	t.Setenv("MATCHMAKER_POLL_SECONDS", "5")
	t.Setenv("CASSANDRA_HOSTS", "c1:9042, c2:9042,,")
	t.Setenv("REQUEST_TIMEOUT_SECONDS", "not-a-number")

	cfg := Load()

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, BackendRedis, cfg.QueueBackend)
	assert.True(t, cfg.MigrateOnStart)
	assert.Equal(t, 5, cfg.MatchmakerPollSeconds)
	assert.Equal(t, []string{"c1:9042", "c2:9042"}, cfg.Cassandra.Hosts)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
}
