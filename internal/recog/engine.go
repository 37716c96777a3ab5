// Package recog abstracts the speech-recognition collaborator: a
// start/stop lifecycle around a stream of finalized transcript events.
package recog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dictalabs/dicta-core/internal/config"
)

// ErrEngineUnavailable reports that no recognition capability exists in
// the current environment.
var ErrEngineUnavailable = errors.New("recognition engine unavailable")

// Event carries one recognizer delivery: a finalized transcript phrase,
// or a terminal error. Err non-nil ends the stream.
type Event struct {
	Text string
	At   time.Time
	Err  error
}

// Engine abstracts recognition backends.
type Engine interface {
	// Available reports whether recognition can run in this environment.
	Available() bool
	// Start begins recognition and returns the event stream. The stream
	// closes after Stop, context cancellation, or a terminal error event.
	Start(ctx context.Context) (<-chan Event, error)
	// Stop ends recognition. No events are delivered after it returns.
	Stop()
}

// New selects an engine backend from config.
func New(cfg config.RecognizerConfig, log *slog.Logger) (Engine, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockEngine(cfg), nil
	case "exec":
		return NewExecEngine(cfg, log)
	default:
		return nil, fmt.Errorf("unknown recognizer mode %q", cfg.Mode)
	}
}
