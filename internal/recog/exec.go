package recog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/mattn/go-shellwords"
)

// execEngine streams transcripts from an external recognizer process.
// The process writes one utterance per stdout line, either as a JSON
// object with a "text" field or as a bare line.
type execEngine struct {
	argv []string
	log  *slog.Logger

	mu     sync.Mutex
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
}

type execUtterance struct {
	Text string `json:"text"`
}

func NewExecEngine(cfg config.RecognizerConfig, log *slog.Logger) (Engine, error) {
	parser := shellwords.NewParser()
	argv, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse recognizer command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("recognizer command is empty")
	}
	return &execEngine{argv: argv, log: log}, nil
}

func (e *execEngine) Available() bool {
	_, err := exec.LookPath(e.argv[0])
	return err == nil
}

func (e *execEngine) Start(ctx context.Context) (<-chan Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.events != nil {
		return e.events, nil
	}
	if !e.Available() {
		return nil, ErrEngineUnavailable
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, e.argv[0], e.argv[1:]...)
	// Force the stdout pipe closed if a child of the recognizer keeps it
	// open after the kill.
	cmd.WaitDelay = 2 * time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("recognizer stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start recognizer: %w", err)
	}

	events := make(chan Event, 16)
	done := make(chan struct{})
	e.events = events
	e.cancel = cancel
	e.done = done

	e.log.Info("recognizer process started", slog.String("command", e.argv[0]))
	go e.run(runCtx, cmd, stdout, events, done)

	return events, nil
}

func (e *execEngine) run(ctx context.Context, cmd *exec.Cmd, stdout io.ReadCloser, events chan<- Event, done chan struct{}) {
	defer close(done)
	defer close(events)

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		text := line
		var payload execUtterance
		if err := json.Unmarshal([]byte(line), &payload); err == nil && payload.Text != "" {
			text = payload.Text
		}
		select {
		case events <- Event{Text: text, At: time.Now()}:
		case <-ctx.Done():
			cmd.Wait()
			return
		}
	}

	err := cmd.Wait()
	if ctx.Err() != nil {
		// Stopped by the caller; process death is expected.
		return
	}
	if scanErr := scanner.Err(); scanErr != nil && err == nil {
		err = scanErr
	}
	if err == nil {
		err = errors.New("recognizer stream ended")
	}
	e.log.Warn("recognizer process failed", slog.String("error", err.Error()))
	select {
	case events <- Event{Err: err, At: time.Now()}:
	case <-ctx.Done():
	}
}

func (e *execEngine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.events = nil
	e.cancel = nil
	e.done = nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
