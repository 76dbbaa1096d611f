package logging_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalsync/internal/logging"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "vitalsync.log")
	log, err := logging.New(logging.Options{File: file, Level: "info"})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("Measurement armed")
	require.NoError(t, log.Sync())

	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"message":"Measurement armed"`)
	assert.NotContains(t, string(raw), "hidden")
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := logging.New(logging.Options{File: filepath.Join(t.TempDir(), "x.log"), Level: "loud"})
	assert.Error(t, err)
}
