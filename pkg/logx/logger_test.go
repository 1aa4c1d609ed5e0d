package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriter_Fields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "scheduler"))

	log.Debug("hidden")
	log.Info("tick", Int("fired", 2), Duration("took", 1500*time.Millisecond), Err(errors.New("boom")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &m))
	assert.Equal(t, "tick", m["message"])
	assert.Equal(t, "scheduler", m["comp"])
	assert.EqualValues(t, 2, m["fired"])
	assert.Equal(t, "boom", m["err"])
	assert.Contains(t, m["caller"], "logger_test.go")
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var log Logger
	assert.True(t, log.IsZero())
	assert.NotPanics(t, func() { log.Error("nothing", String("k", "v")) })
	assert.False(t, Nop().IsZero())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "warn", ParseLevel("WARNING", 0).String())
	assert.Equal(t, "error", ParseLevel("bogus", ParseLevel("error", 0)).String())
}

func TestFormatChatJSON(t *testing.T) {
	out := formatChatJSON([]byte(`{"level":"error","time":"x","message":"write failed","minute":"09:30","err":"disk full"}`))
	assert.Equal(t, "[ERROR] write failed\n- err=disk full\n- minute=09:30", out)

	assert.Equal(t, "not json", formatChatJSON([]byte("not json\n")))
}
