package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestNoticesLimit(t *testing.T) {
	var buf bytes.Buffer
	n := NewNotices(New(&buf, "debug", "text"))
	n.Limit = 2

	for i := 0; i < 5; i++ {
		n.Warn(TagMaxGOR, "GOR limit is not supported", "well", "PROD1")
	}
	n.Warn(TagEndRun, "end run is not supported")

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, TagMaxGOR))
	assert.Equal(t, 1, strings.Count(out, TagEndRun))
	assert.Contains(t, out, "suppressing=true")
	assert.Equal(t, 5, n.Count(TagMaxGOR))
}

func TestNilNoticesIsSilent(t *testing.T) {
	var n *Notices
	assert.NotPanics(t, func() { n.Warn(TagVFPALQ, "ignored") })
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info", "json").Info("hello", "k", 1)
	assert.True(t, strings.HasPrefix(buf.String(), "{"))
}
