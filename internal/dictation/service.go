// Package dictation consumes utterances from the bus and merges them
// into the active document. One subscription with a serial handler keeps
// utterances in delivery order.
package dictation

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/dictalabs/dicta-core/internal/bus"
	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/docstore"
	"github.com/dictalabs/dicta-core/internal/history"
	"github.com/dictalabs/dicta-core/internal/protocol"
	"github.com/dictalabs/dicta-core/internal/transcript"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type Service struct {
	cfg        config.DictationConfig
	bus        *bus.Client
	store      *docstore.Store
	hist       *history.Store
	logger     *slog.Logger
	classifier *transcript.Classifier
	sub        *nats.Subscription
	ctx        context.Context
	cancel     context.CancelFunc

	tracer         trace.Tracer
	meter          metric.Meter
	utteranceCount metric.Int64Counter
	commandCount   metric.Int64Counter
}

func NewService(parent context.Context, cfg config.DictationConfig, busClient *bus.Client, store *docstore.Store, hist *history.Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:        cfg,
		bus:        busClient,
		store:      store,
		hist:       hist,
		logger:     logger.With(slog.String("component", "dictation")),
		classifier: transcript.NewClassifier(cfg.ExtraCommands),
		ctx:        ctx,
		cancel:     cancel,
		tracer:     otel.Tracer("github.com/dictalabs/dicta-core/dictation"),
		meter:      otel.Meter("github.com/dictalabs/dicta-core/dictation"),
	}
	if err := s.initMetrics(); err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return s
}

func (s *Service) initMetrics() error {
	var err error
	s.utteranceCount, err = s.meter.Int64Counter("dicta.utterances.total",
		metric.WithDescription("Utterances processed by the merge pipeline"))
	if err != nil {
		return err
	}
	s.commandCount, err = s.meter.Int64Counter("dicta.commands.total",
		metric.WithDescription("Utterances classified as spoken commands"))
	return err
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectUtterance, s.handleMessage)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
}

func (s *Service) Healthy() bool {
	return s.sub != nil
}

func (s *Service) handleMessage(msg *nats.Msg) {
	var utt protocol.Utterance
	if err := json.Unmarshal(msg.Data, &utt); err != nil {
		s.logger.Warn("failed to decode utterance", slogError(err))
		return
	}
	s.HandleUtterance(s.ctx, utt)
}

// HandleUtterance runs the merge pipeline for one utterance: normalize,
// classify, and merge into whichever document is active right now. An
// utterance that normalizes to nothing leaves every document untouched.
func (s *Service) HandleUtterance(ctx context.Context, utt protocol.Utterance) {
	ctx, span := s.tracer.Start(ctx, "dictation.merge")
	defer span.End()

	normalized := transcript.Normalize(utt.Text)
	result := s.classifier.Classify(normalized)

	kind := "dictation"
	if result.Kind == transcript.Command {
		kind = "command"
	}
	span.SetAttributes(attribute.String("utterance.kind", kind))

	if result.Kind == transcript.Dictated && result.Text == "" {
		if s.utteranceCount != nil {
			s.utteranceCount.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "empty")))
		}
		return
	}

	doc := s.store.UpdateActive(func(previous string) string {
		return transcript.Merge(previous, result)
	})

	if s.utteranceCount != nil {
		s.utteranceCount.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
	if result.Kind == transcript.Command && s.commandCount != nil {
		s.commandCount.Add(ctx, 1)
	}

	if s.hist != nil {
		// Utterances can arrive from publishers that never opened a
		// session (manual injection via the CLI); make sure the session
		// row exists before the append.
		_ = s.hist.AppendSession(ctx, utt.SessionID)
		if err := s.hist.AppendUtterance(ctx, history.Utterance{
			SessionID: utt.SessionID,
			Kind:      kind,
			Text:      normalized,
			CreatedAt: utt.CapturedAt,
		}); err != nil {
			s.logger.Warn("failed to record utterance", slogError(err))
		}
	}

	s.logger.Debug("utterance merged",
		slog.String("session_id", utt.SessionID),
		slog.String("kind", kind),
		slog.String("document_id", doc.ID))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
