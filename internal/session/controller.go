// Package session owns the listening lifecycle: starting and stopping
// the recognition engine, broadcasting its utterances, and running the
// silence watchdog while a session is active.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/protocol"
	"github.com/dictalabs/dicta-core/internal/recog"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Publisher is the bus-facing subset the controller needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Recorder keeps the dictation history informed of session starts.
type Recorder interface {
	AppendSession(ctx context.Context, sessionID string) error
}

// Controller is the state machine around the recognition engine. States
// are idle and listening; every transition is announced on the bus.
type Controller struct {
	cfg    config.SessionConfig
	engine recog.Engine
	pub    Publisher
	hist   Recorder
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.Mutex
	listening       bool
	sessionID       string
	lastUtteranceAt time.Time
	silenceActive   bool
	stopListen      context.CancelFunc
	silenceClear    *time.Timer

	warnCount metric.Int64Counter
	clock     func() time.Time
}

func NewController(parent context.Context, cfg config.SessionConfig, engine recog.Engine, pub Publisher, hist Recorder, logger *slog.Logger) *Controller {
	ctx, cancel := context.WithCancel(parent)
	c := &Controller{
		cfg:    cfg,
		engine: engine,
		pub:    pub,
		hist:   hist,
		logger: logger.With(slog.String("component", "session")),
		ctx:    ctx,
		cancel: cancel,
		clock:  time.Now,
	}

	meter := otel.Meter("github.com/dictalabs/dicta-core/session")
	warnCount, err := meter.Int64Counter("dicta.silence.warnings.total",
		metric.WithDescription("Silence warnings raised by the watchdog"))
	if err != nil {
		c.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	} else {
		c.warnCount = warnCount
	}

	return c
}

// Listening reports whether a session is active.
func (c *Controller) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

// SilenceActive reports whether the no-speech warning is currently raised.
func (c *Controller) SilenceActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.silenceActive
}

// EngineAvailable reports whether recognition can run at all.
func (c *Controller) EngineAvailable() bool {
	return c.engine.Available()
}

// StartListening transitions idle to listening. It fails with
// recog.ErrEngineUnavailable when no recognition capability exists;
// starting an already-listening controller is a no-op.
func (c *Controller) StartListening() error {
	c.mu.Lock()
	if c.listening {
		c.mu.Unlock()
		return nil
	}
	if !c.engine.Available() {
		c.mu.Unlock()
		return recog.ErrEngineUnavailable
	}

	listenCtx, stopListen := context.WithCancel(c.ctx)
	events, err := c.engine.Start(listenCtx)
	if err != nil {
		stopListen()
		c.mu.Unlock()
		return err
	}

	c.listening = true
	c.sessionID = uuid.NewString()
	c.lastUtteranceAt = c.clock()
	c.silenceActive = false
	c.stopListen = stopListen
	sessionID := c.sessionID
	c.mu.Unlock()

	if c.hist != nil {
		if err := c.hist.AppendSession(c.ctx, sessionID); err != nil {
			c.logger.Warn("record session start failed", slog.String("error", err.Error()))
		}
	}

	c.publish(protocol.SubjectSessionState, protocol.SessionState{
		SessionID: sessionID,
		Listening: true,
		At:        c.clock(),
	})

	c.wg.Add(2)
	go c.consume(listenCtx, sessionID, events)
	go c.watch(listenCtx, sessionID)

	c.logger.Info("listening started", slog.String("session_id", sessionID))
	return nil
}

// StopListening transitions listening to idle. Stopping an idle
// controller is a no-op.
func (c *Controller) StopListening() {
	c.stop("")
}

// Toggle flips the listening state and reports the resulting state.
func (c *Controller) Toggle() (bool, error) {
	if c.Listening() {
		c.stop("")
		return false, nil
	}
	if err := c.StartListening(); err != nil {
		return false, err
	}
	return true, nil
}

// Close stops any active session and waits for the worker goroutines.
func (c *Controller) Close() {
	c.stop("")
	c.cancel()
	c.wg.Wait()
}

func (c *Controller) stop(errMsg string) {
	c.mu.Lock()
	if !c.listening {
		c.mu.Unlock()
		return
	}
	c.listening = false
	sessionID := c.sessionID
	stopListen := c.stopListen
	c.stopListen = nil
	if c.silenceClear != nil {
		c.silenceClear.Stop()
		c.silenceClear = nil
	}
	wasWarning := c.silenceActive
	c.silenceActive = false
	c.mu.Unlock()

	stopListen()
	c.engine.Stop()

	if wasWarning {
		c.publish(protocol.SubjectSessionSilence, protocol.SilenceSignal{
			SessionID: sessionID,
			Active:    false,
			At:        c.clock(),
		})
	}
	c.publish(protocol.SubjectSessionState, protocol.SessionState{
		SessionID: sessionID,
		Listening: false,
		Error:     errMsg,
		At:        c.clock(),
	})

	if errMsg != "" {
		c.logger.Warn("listening stopped on engine error", slog.String("session_id", sessionID), slog.String("error", errMsg))
	} else {
		c.logger.Info("listening stopped", slog.String("session_id", sessionID))
	}
}

func (c *Controller) consume(ctx context.Context, sessionID string, events <-chan recog.Event) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Err != nil {
				c.stop(ev.Err.Error())
				return
			}
			c.handleUtterance(sessionID, ev)
		}
	}
}

func (c *Controller) handleUtterance(sessionID string, ev recog.Event) {
	c.mu.Lock()
	if !c.listening || c.sessionID != sessionID {
		c.mu.Unlock()
		return
	}
	c.lastUtteranceAt = c.clock()
	wasWarning := c.silenceActive
	c.silenceActive = false
	if c.silenceClear != nil {
		c.silenceClear.Stop()
		c.silenceClear = nil
	}
	c.mu.Unlock()

	if wasWarning {
		c.publish(protocol.SubjectSessionSilence, protocol.SilenceSignal{
			SessionID: sessionID,
			Active:    false,
			At:        c.clock(),
		})
	}

	at := ev.At
	if at.IsZero() {
		at = c.clock()
	}
	c.publish(protocol.SubjectUtterance, protocol.Utterance{
		SessionID:  sessionID,
		Text:       ev.Text,
		CapturedAt: at,
	})
}

func (c *Controller) watch(ctx context.Context, sessionID string) {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Duration(c.cfg.WatchdogIntervalMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkSilence(sessionID)
		}
	}
}

func (c *Controller) checkSilence(sessionID string) {
	threshold := time.Duration(c.cfg.SilenceWarnAfterMS) * time.Millisecond

	c.mu.Lock()
	if !c.listening || c.sessionID != sessionID || c.silenceActive {
		c.mu.Unlock()
		return
	}
	if c.clock().Sub(c.lastUtteranceAt) <= threshold {
		c.mu.Unlock()
		return
	}
	c.silenceActive = true
	// The clear is scheduled once and fires independent of further
	// ticks; an utterance cancels it.
	duration := time.Duration(c.cfg.SilenceWarnDurationMS) * time.Millisecond
	c.silenceClear = time.AfterFunc(duration, func() { c.clearSilence(sessionID) })
	c.mu.Unlock()

	if c.warnCount != nil {
		c.warnCount.Add(c.ctx, 1)
	}
	c.publish(protocol.SubjectSessionSilence, protocol.SilenceSignal{
		SessionID: sessionID,
		Active:    true,
		At:        c.clock(),
	})
}

func (c *Controller) clearSilence(sessionID string) {
	c.mu.Lock()
	if !c.listening || c.sessionID != sessionID || !c.silenceActive {
		c.mu.Unlock()
		return
	}
	c.silenceActive = false
	c.silenceClear = nil
	c.mu.Unlock()

	c.publish(protocol.SubjectSessionSilence, protocol.SilenceSignal{
		SessionID: sessionID,
		Active:    false,
		At:        c.clock(),
	})
}

func (c *Controller) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("marshal bus message failed", slog.String("error", err.Error()))
		return
	}
	if err := c.pub.Publish(subject, data); err != nil {
		c.logger.Warn("publish failed", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}
