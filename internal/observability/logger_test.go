package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		debug   bool
		wantErr bool
	}{
		{name: "production default", format: "json"},
		{name: "empty format is json", level: "warn"},
		{name: "console debug", level: "debug", format: "console", debug: true},
		{name: "bad level", level: "loud", wantErr: true},
		{name: "bad format", format: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.debug, logger.Core().Enabled(zapcore.DebugLevel))
		})
	}
}

func TestWithRun(t *testing.T) {
	var buf bytes.Buffer
	runID := NewRunID()
	_, err := uuid.Parse(runID)
	require.NoError(t, err)

	logger := WithRun(NewWriterLogger(&buf, zapcore.InfoLevel), runID)
	logger.Info("pass finished", zap.Int("completed", 3))
	logger.Debug("dropped")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, runID, entry["run_id"])
	assert.Equal(t, "pass finished", entry["msg"])
	assert.EqualValues(t, 3, entry["completed"])
}
