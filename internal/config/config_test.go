package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, envLoaded, err := LoadConfig()
	require.NoError(t, err)
	assert.False(t, envLoaded)
	assert.Equal(t, "5000", cfg.Port)
	assert.Equal(t, EngineNative, cfg.PTTEngine)
	assert.Equal(t, 30*time.Second, cfg.PTTEngineTimeout)
	assert.Equal(t, time.Minute, cfg.HousekeepingInterval)
	assert.Equal(t, 5*time.Minute, cfg.StaleSlotAfter)
	assert.Equal(t, "vitalsync", cfg.MQTTTopicPrefix)
	assert.False(t, cfg.KafkaEnabled)
}

func TestLoadConfig_Overrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PTT_ENGINE", "Process")
	t.Setenv("PTT_ENGINE_COMMAND", "python3")
	t.Setenv("PTT_ENGINE_ARGS", "ptt.py, --json ,")
	t.Setenv("PTT_ENGINE_TIMEOUT", "45s")
	t.Setenv("KAFKA_ENABLED", "TRUE")
	t.Setenv("MQTT_TOPIC_PREFIX", "/clinic-3/")

	cfg, _, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, EngineProcess, cfg.PTTEngine)
	assert.Equal(t, []string{"ptt.py", "--json"}, cfg.PTTEngineArgs)
	assert.Equal(t, 45*time.Second, cfg.PTTEngineTimeout)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, "clinic-3", cfg.MQTTTopicPrefix)
}

func TestLoadConfig_Rejects(t *testing.T) {
	chdir(t, t.TempDir())

	t.Run("process without command", func(t *testing.T) {
		t.Setenv("PTT_ENGINE", "process")
		_, _, err := LoadConfig()
		assert.Error(t, err)
	})
	t.Run("unknown engine", func(t *testing.T) {
		t.Setenv("PTT_ENGINE", "matlab")
		_, _, err := LoadConfig()
		assert.Error(t, err)
	})
	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("STALE_SLOT_AFTER", "five minutes")
		_, _, err := LoadConfig()
		assert.Error(t, err)
	})
}

// chdir changes the working directory for the duration of the test
// (stands in for testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
