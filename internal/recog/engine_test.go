package recog

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func recvEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "stream closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func requireClosed(t *testing.T, events <-chan Event) {
	t.Helper()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			require.NoError(t, ev.Err, "unexpected error event while draining")
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for stream close")
		}
	}
}

func TestNewSelectsBackend(t *testing.T) {
	t.Parallel()

	engine, err := New(config.RecognizerConfig{Mode: "mock"}, newTestLogger())
	require.NoError(t, err)
	require.True(t, engine.Available())

	_, err = New(config.RecognizerConfig{Mode: "telepathy"}, newTestLogger())
	require.Error(t, err)
}

func TestMockEngineReplaysPhrases(t *testing.T) {
	t.Parallel()

	engine := NewMockEngine(config.RecognizerConfig{
		MockPhrases:    []string{"hello world", "period"},
		MockIntervalMS: 10,
	})
	events, err := engine.Start(context.Background())
	require.NoError(t, err)
	defer engine.Stop()

	require.Equal(t, "hello world", recvEvent(t, events).Text)
	require.Equal(t, "period", recvEvent(t, events).Text)
	require.Equal(t, "hello world", recvEvent(t, events).Text)
}

func TestMockEngineStartIsIdempotent(t *testing.T) {
	t.Parallel()

	engine := NewMockEngine(config.RecognizerConfig{MockIntervalMS: 10})
	first, err := engine.Start(context.Background())
	require.NoError(t, err)
	defer engine.Stop()

	second, err := engine.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, (<-chan Event)(first), second)
}

func TestMockEngineStopClosesStream(t *testing.T) {
	t.Parallel()

	engine := NewMockEngine(config.RecognizerConfig{
		MockPhrases:    []string{"hello"},
		MockIntervalMS: 5,
	})
	events, err := engine.Start(context.Background())
	require.NoError(t, err)

	recvEvent(t, events)
	engine.Stop()
	requireClosed(t, events)

	// A second Stop is a no-op.
	engine.Stop()
}

func TestNewExecEngineRejectsBadCommands(t *testing.T) {
	t.Parallel()

	_, err := NewExecEngine(config.RecognizerConfig{Command: ""}, newTestLogger())
	require.Error(t, err)

	_, err = NewExecEngine(config.RecognizerConfig{Command: `asr --flag "unterminated`}, newTestLogger())
	require.Error(t, err)
}

func TestExecEngineAvailability(t *testing.T) {
	t.Parallel()

	engine, err := NewExecEngine(config.RecognizerConfig{Command: "definitely-not-a-real-recognizer"}, newTestLogger())
	require.NoError(t, err)
	require.False(t, engine.Available())

	_, err = engine.Start(context.Background())
	require.ErrorIs(t, err, ErrEngineUnavailable)
}

func TestExecEngineStreamsLinesAndSurfacesExit(t *testing.T) {
	t.Parallel()

	cmd := `sh -c 'printf "{\"text\":\"hello world\"}\nperiod\n"'`
	engine, err := NewExecEngine(config.RecognizerConfig{Command: cmd}, newTestLogger())
	require.NoError(t, err)

	events, err := engine.Start(context.Background())
	require.NoError(t, err)
	defer engine.Stop()

	// JSON lines yield the text field; bare lines pass through.
	require.Equal(t, "hello world", recvEvent(t, events).Text)
	require.Equal(t, "period", recvEvent(t, events).Text)

	// The process exiting is a terminal error, not a clean stop.
	ev := recvEvent(t, events)
	require.Error(t, ev.Err)
}

func TestExecEngineStopKillsProcessWithoutErrorEvent(t *testing.T) {
	t.Parallel()

	cmd := `sh -c 'echo listening; exec sleep 30'`
	engine, err := NewExecEngine(config.RecognizerConfig{Command: cmd}, newTestLogger())
	require.NoError(t, err)

	events, err := engine.Start(context.Background())
	require.NoError(t, err)

	require.Equal(t, "listening", recvEvent(t, events).Text)
	engine.Stop()
	requireClosed(t, events)
}
