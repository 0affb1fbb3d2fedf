package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel_DefaultsToInfoForUnknownString(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestParseLevel_RecognizesCaseInsensitiveNames(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLevel("Error"))
}

func TestNew_ReturnsUsableLogger(t *testing.T) {
	logger := New("DEBUG", "queue")
	assert.NotNil(t, logger)
	logger.Info("test message", "key", "value")
}
