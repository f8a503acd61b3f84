package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "be-form-workflows", cfg.Service.Name)
	assert.Equal(t, 8086, cfg.Server.Port)
	assert.Equal(t, 9086, cfg.GRPC.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "noop", cfg.Notify.Backend)
	assert.Equal(t, "deny", cfg.Workflow.EmptyFlowPolicy)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("NOTIFY_BACKEND", "kafka")
	t.Setenv("NOTIFY_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("WORKFLOW_EMPTY_FLOW_POLICY", "open")
	t.Setenv("SERVER_READ_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "kafka", cfg.Notify.Backend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Notify.KafkaBrokers)
	assert.Equal(t, "open", cfg.Workflow.EmptyFlowPolicy)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service:\n  name: forms-test\nnotify:\n  backend: redis\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "forms-test", cfg.Service.Name)
	assert.Equal(t, "redis", cfg.Notify.Backend)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("NOTIFY_BACKEND", "carrier-pigeon")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_ShortAliases(t *testing.T) {
	t.Setenv("HTTP_PORT", "8181")
	t.Setenv("EMPTY_FLOW_POLICY", "open")
	t.Setenv("NATS_URL", "nats://broker:4222")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, "open", cfg.Workflow.EmptyFlowPolicy)
	assert.Equal(t, "nats://broker:4222", cfg.Notify.NATSURL)
}
