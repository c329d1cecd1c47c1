package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/joke-server/internal/logging"
)

func TestNew_jsonFormat_writesJSON(t *testing.T) {
	t.Parallel()

	buf := new(bytes.Buffer)
	logger, err := logging.New(buf, "info", "json")
	require.NoError(t, err)

	logger.Info("database connected", "profile", "test")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "database connected", record["msg"])
	assert.Equal(t, "test", record["profile"])
}

func TestNew_levelFiltersDebug(t *testing.T) {
	t.Parallel()

	buf := new(bytes.Buffer)
	logger, err := logging.New(buf, "warn", "text")
	require.NoError(t, err)

	logger.Info("ignored")
	logger.Warn("kept")

	assert.NotContains(t, buf.String(), "ignored")
	assert.Contains(t, buf.String(), "kept")
}

func TestNew_invalidInput_returnsError(t *testing.T) {
	t.Parallel()

	_, err := logging.New(new(bytes.Buffer), "loud", "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log level")

	_, err = logging.New(new(bytes.Buffer), "info", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log format")
}
