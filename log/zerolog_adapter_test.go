package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/pilab-dev/datelink/log"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterAdapter_StructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWriterAdapter(&buf, zerolog.DebugLevel).With(log.Fields{"component": "session"})

	logger.Error(context.Background(), "sign in failed", errors.New("denied"), log.Fields{"user_id": "u1"})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "sign in failed", entry["message"])
	assert.Equal(t, "denied", entry["error"])
	assert.Equal(t, "session", entry["component"])
	assert.Equal(t, "u1", entry["user_id"])
}

func TestWriterAdapter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWriterAdapter(&buf, zerolog.WarnLevel)

	logger.Info(context.Background(), "dropped")
	assert.Zero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, log.ParseLevel("debug"))
	assert.Equal(t, zerolog.InfoLevel, log.ParseLevel("nonsense"))
	assert.Equal(t, zerolog.InfoLevel, log.ParseLevel(""))
}
