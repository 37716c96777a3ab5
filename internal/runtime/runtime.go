// Package runtime assembles the dictation daemon: embedded transport,
// document and history stores, the recognition engine, the merge
// pipeline, and the control surface, with telemetry and health
// endpoints around them.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dictalabs/dicta-core/internal/bus"
	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/control"
	"github.com/dictalabs/dicta-core/internal/dictation"
	"github.com/dictalabs/dicta-core/internal/docstore"
	"github.com/dictalabs/dicta-core/internal/history"
	"github.com/dictalabs/dicta-core/internal/natsserver"
	"github.com/dictalabs/dicta-core/internal/protocol"
	"github.com/dictalabs/dicta-core/internal/recog"
	"github.com/dictalabs/dicta-core/internal/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	embedded   *natsserver.EmbeddedServer
	bus        *bus.Client
	persister  *docstore.Persister
	store      *docstore.Store
	history    *history.Store
	controller *session.Controller
	dictation  *dictation.Service
	control    *control.Service

	drainCancel context.CancelFunc
	drainDone   chan struct{}

	httpServer    *http.Server
	metricsServer *http.Server
	tel           *telemetry
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up every component and blocks until ctx is cancelled.
// Shutdown order: control surface and pipeline first, then transport,
// then stores, telemetry last.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tel = tel

	if err := r.startComponents(ctx); err != nil {
		r.stop()
		return err
	}

	r.startHTTP(tel.metrics)

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)),
		slog.Bool("engine_available", r.controller.EngineAvailable()))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.stop()
	return nil
}

func (r *Runtime) startComponents(ctx context.Context) error {
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.embedded = embedded

	busCfg := r.cfg.Bus
	if embedded != nil {
		// The embedded server may sit on a random port; always dial
		// whatever it actually bound.
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	busClient, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.bus = busClient

	persister, err := docstore.OpenPersister(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}
	r.persister = persister
	r.store = r.restoreDocuments(ctx)

	hist, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	r.history = hist

	engine, err := recog.New(r.cfg.Recognizer, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create recognition engine: %w", err)
	}
	if !engine.Available() {
		// Surfaced once here; session starts keep failing with
		// ErrEngineUnavailable and status reports engine_available=false.
		r.logger.Warn("recognition engine unavailable, listening disabled",
			slog.String("mode", r.cfg.Recognizer.Mode))
	}

	r.controller = session.NewController(ctx, r.cfg.Session, engine, busClient.Conn(), hist, r.logger)

	r.dictation = dictation.NewService(ctx, r.cfg.Dictation, busClient, r.store, hist, r.logger)
	if err := r.dictation.Start(); err != nil {
		return fmt.Errorf("failed to start dictation service: %w", err)
	}

	r.control = control.NewService(ctx, r.cfg.Clipboard, busClient, r.store, r.controller, r.logger)
	if err := r.control.Start(); err != nil {
		return fmt.Errorf("failed to start control service: %w", err)
	}

	drainCtx, drainCancel := context.WithCancel(ctx)
	r.drainCancel = drainCancel
	r.drainDone = make(chan struct{})
	go r.drainChanges(drainCtx)

	if err := r.initMetrics(); err != nil {
		r.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	return nil
}

// restoreDocuments loads the persisted snapshot. Unreadable saved state
// falls back to the default single-document store and is never fatal.
func (r *Runtime) restoreDocuments(ctx context.Context) *docstore.Store {
	docs, activeID, err := r.persister.Load(ctx)
	switch {
	case err == nil:
		r.logger.Info("documents restored", slog.Int("count", len(docs)))
		return docstore.NewFromSnapshot(docs, activeID, r.logger)
	case errors.Is(err, docstore.ErrNoSnapshot):
		return docstore.New(r.logger)
	default:
		r.logger.Warn("document snapshot unreadable, starting fresh", slog.String("error", err.Error()))
		return docstore.New(r.logger)
	}
}

// drainChanges is the single writer behind the store's change channel:
// it publishes every mutation event and persists snapshots, coalescing
// bursts into one write.
func (r *Runtime) drainChanges(ctx context.Context) {
	defer close(r.drainDone)
	for {
		select {
		case <-ctx.Done():
			r.flushChanges()
			return
		case change := <-r.store.Changes():
			r.publishChange(change)
			r.flushChanges()
			r.persistSnapshot(ctx)
		}
	}
}

// flushChanges publishes whatever else is already queued without blocking.
func (r *Runtime) flushChanges() {
	for {
		select {
		case change := <-r.store.Changes():
			r.publishChange(change)
		default:
			return
		}
	}
}

func (r *Runtime) publishChange(change protocol.DocumentChange) {
	data, err := json.Marshal(change)
	if err != nil {
		r.logger.Warn("failed to marshal document change", slog.String("error", err.Error()))
		return
	}
	if err := r.bus.Conn().Publish(protocol.SubjectDocumentChange, data); err != nil {
		r.logger.Warn("failed to publish document change", slog.String("error", err.Error()))
	}
}

func (r *Runtime) persistSnapshot(ctx context.Context) {
	saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	docs, activeID := r.store.Snapshot()
	if err := r.persister.Save(saveCtx, docs, activeID); err != nil {
		r.logger.Warn("failed to persist document snapshot", slog.String("error", err.Error()))
	}
}

func (r *Runtime) initMetrics() error {
	meter := otel.Meter("github.com/dictalabs/dicta-core/runtime")
	docGauge, err := meter.Int64ObservableGauge("dicta.documents.open",
		metric.WithDescription("Number of open documents"))
	if err != nil {
		return err
	}
	listenGauge, err := meter.Int64ObservableGauge("dicta.session.listening",
		metric.WithDescription("1 while a listening session is active"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		docs, _ := r.store.Snapshot()
		obs.ObserveInt64(docGauge, int64(len(docs)))
		var listening int64
		if r.controller.Listening() {
			listening = 1
		}
		obs.ObserveInt64(listenGauge, listening)
		return nil
	}, docGauge, listenGauge)
	return err
}

func (r *Runtime) startHTTP(metricsHandler http.Handler) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricsHandler == nil {
		return
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metricsHandler)
	r.metricsServer = &http.Server{
		Addr:              r.cfg.Telemetry.PrometheusBind,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) stop() {
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if r.control != nil {
		r.control.Close()
	}
	if r.dictation != nil {
		r.dictation.Close()
	}
	if r.controller != nil {
		r.controller.Close()
	}

	// Voice input has stopped; flush remaining change events, then write
	// the last snapshot before the stores close.
	if r.drainCancel != nil {
		r.drainCancel()
		<-r.drainDone
	}
	if r.persister != nil && r.store != nil {
		docs, activeID := r.store.Snapshot()
		if err := r.persister.Save(shutdownCtx, docs, activeID); err != nil {
			r.logger.Error("final snapshot save failed", slog.String("error", err.Error()))
		}
	}

	r.bus.Close()
	r.embedded.Shutdown()

	if r.persister != nil {
		_ = r.persister.Close()
	}
	if r.history != nil {
		_ = r.history.Close()
	}

	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.tel != nil {
		if err := r.tel.Close(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
		r.tel = nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.bus.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
