// Package logger configures structured logging and rate limited, tagged
// warnings for features the well model accepts but does not implement.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Init configures the default slog logger from the environment.
// WELLSIM_LOG_LEVEL: debug, info, warn, error (default: info)
// WELLSIM_LOG_FORMAT: text, json (default: text)
func Init() {
	slog.SetDefault(New(os.Stderr, os.Getenv("WELLSIM_LOG_LEVEL"), os.Getenv("WELLSIM_LOG_FORMAT")))
}

// New builds a logger writing to w
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// OrDefault returns l, or the default logger when l is nil
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Tags for warnings about accepted but unimplemented behaviour
const (
	TagPotentialLimit     = "NOT_SUPPORTING_POTN"
	TagMinReservoirRate   = "NOT_SUPPORTING_MIN_RESERVOIR_FLUID_RATE"
	TagMaxGOR             = "NOT_SUPPORTING_MAX_GOR"
	TagMaxWGR             = "NOT_SUPPORTING_MAX_WGR"
	TagMaxGLR             = "NOT_SUPPORTING_MAX_GLR"
	TagEndRun             = "NOT_SUPPORTING_ENDRUN"
	TagFollowonWell       = "NOT_SUPPORTING_FOLLOWONWELL"
	TagDefaultWellRadius  = "DEFAULT_WELL_RADIUS"
	TagMultipleRatioLimit = "NOT_SUPPORTING_MULTIPLE_RATIO"
	TagVFPALQ             = "NOT_SUPPORTING_VFP_ALQ"
)

// DefaultNoticeLimit is the number of warnings emitted per tag
const DefaultNoticeLimit = 10

// Notices emits tagged warnings, suppressing a tag once it has been reported
// Limit times. It is safe for concurrent use.
type Notices struct {
	Log   *slog.Logger
	Limit int

	mu   sync.Mutex
	seen map[string]int
}

// NewNotices returns a notice sink writing to l
func NewNotices(l *slog.Logger) *Notices {
	return &Notices{Log: OrDefault(l), Limit: DefaultNoticeLimit, seen: make(map[string]int)}
}

// Warn emits msg under tag unless the tag's limit has been reached
func (n *Notices) Warn(tag, msg string, args ...any) {
	if n == nil {
		return
	}
	n.mu.Lock()
	if n.seen == nil {
		n.seen = make(map[string]int)
	}
	n.seen[tag]++
	count := n.seen[tag]
	n.mu.Unlock()

	if n.Limit > 0 && count > n.Limit {
		return
	}
	if n.Limit > 0 && count == n.Limit {
		args = append(args, "suppressing", true)
	}
	OrDefault(n.Log).Warn(msg, append([]any{"tag", tag}, args...)...)
}

// Count returns how many times tag has been raised, including suppressed ones
func (n *Notices) Count(tag string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.seen[tag]
}
