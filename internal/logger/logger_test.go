package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, logrus.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, logrus.ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("verbose"))
}

func TestNewWithOutput_FieldNames(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("info", &buf)

	log.WithField("source", "feed").Info("feed parsed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "feed parsed", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "feed", entry["source"])
	assert.Contains(t, entry, "timestamp")
}

func TestNewWithOutput_LevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")

	var buf bytes.Buffer
	log := NewWithOutput("", &buf)
	log.Info("hidden")

	assert.Equal(t, logrus.ErrorLevel, log.GetLevel())
	assert.Zero(t, buf.Len())
}
