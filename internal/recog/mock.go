package recog

import (
	"context"
	"sync"
	"time"

	"github.com/dictalabs/dicta-core/internal/config"
)

// mockEngine replays a scripted phrase list on a fixed interval. With no
// phrases configured it stays silent, which is handy for exercising the
// silence watchdog.
type mockEngine struct {
	phrases  []string
	interval time.Duration

	mu     sync.Mutex
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
}

func NewMockEngine(cfg config.RecognizerConfig) Engine {
	return &mockEngine{
		phrases:  cfg.MockPhrases,
		interval: time.Duration(cfg.MockIntervalMS) * time.Millisecond,
	}
}

func (m *mockEngine) Available() bool { return true }

func (m *mockEngine) Start(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.events != nil {
		return m.events, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	events := make(chan Event, 16)
	done := make(chan struct{})
	m.events = events
	m.cancel = cancel
	m.done = done

	go m.run(runCtx, events, done)
	return events, nil
}

func (m *mockEngine) run(ctx context.Context, events chan<- Event, done chan struct{}) {
	defer close(done)
	defer close(events)

	if len(m.phrases) == 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	next := 0
	for {
		select {
		case <-ticker.C:
			phrase := m.phrases[next%len(m.phrases)]
			next++
			select {
			case events <- Event{Text: phrase, At: time.Now()}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *mockEngine) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.events = nil
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
