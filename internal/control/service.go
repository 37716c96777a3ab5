// Package control exposes the runtime's request/reply surface on the
// bus: document operations, session toggling, status, and clipboard
// copy of the active document.
package control

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/dictalabs/dicta-core/internal/bus"
	"github.com/dictalabs/dicta-core/internal/clipboard"
	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/docstore"
	"github.com/dictalabs/dicta-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Session is the controller subset the control surface drives.
type Session interface {
	StartListening() error
	StopListening()
	Toggle() (bool, error)
	Listening() bool
	SilenceActive() bool
	EngineAvailable() bool
}

type Service struct {
	bus     *bus.Client
	store   *docstore.Store
	session Session
	logger  *slog.Logger
	subs    []*nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc

	copy func(ctx context.Context, value string) error
}

func NewService(parent context.Context, cfg config.ClipboardConfig, busClient *bus.Client, store *docstore.Store, sess Session, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:     busClient,
		store:   store,
		session: sess,
		logger:  logger.With(slog.String("component", "control")),
		ctx:     ctx,
		cancel:  cancel,
		copy: func(ctx context.Context, value string) error {
			return clipboard.CopyText(ctx, cfg, value)
		},
	}
}

func (s *Service) Start() error {
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectCtlStatus, s.onStatus},
		{protocol.SubjectCtlSessionToggle, s.onSessionToggle},
		{protocol.SubjectCtlSessionStart, s.onSessionStart},
		{protocol.SubjectCtlSessionStop, s.onSessionStop},
		{protocol.SubjectCtlDocCreate, s.onDocCreate},
		{protocol.SubjectCtlDocClose, s.onDocClose},
		{protocol.SubjectCtlDocRename, s.onDocRename},
		{protocol.SubjectCtlDocSelect, s.onDocSelect},
		{protocol.SubjectCtlDocWrite, s.onDocWrite},
		{protocol.SubjectCtlDocList, s.onDocList},
		{protocol.SubjectCtlCopy, s.onCopy},
	}
	for _, h := range handlers {
		sub, err := s.bus.Conn().Subscribe(h.subject, h.handler)
		if err != nil {
			s.Close()
			return err
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
}

func (s *Service) Healthy() bool {
	return len(s.subs) > 0
}

func (s *Service) onStatus(msg *nats.Msg) {
	s.respond(msg, s.statusReply())
}

func (s *Service) onSessionToggle(msg *nats.Msg) {
	s.respond(msg, s.toggleReply())
}

func (s *Service) onSessionStart(msg *nats.Msg) {
	s.respond(msg, s.startReply())
}

func (s *Service) onSessionStop(msg *nats.Msg) {
	s.respond(msg, s.stopReply())
}

func (s *Service) onDocCreate(msg *nats.Msg) {
	s.respond(msg, s.createReply())
}

func (s *Service) onDocClose(msg *nats.Msg) {
	var req protocol.CloseDocumentRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respond(msg, protocol.DocumentReply{Error: "invalid request"})
		return
	}
	s.respond(msg, s.closeReply(req))
}

func (s *Service) onDocRename(msg *nats.Msg) {
	var req protocol.RenameDocumentRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respond(msg, protocol.DocumentReply{Error: "invalid request"})
		return
	}
	s.respond(msg, s.renameReply(req))
}

func (s *Service) onDocSelect(msg *nats.Msg) {
	var req protocol.SelectDocumentRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respond(msg, protocol.DocumentReply{Error: "invalid request"})
		return
	}
	s.respond(msg, s.selectReply(req))
}

func (s *Service) onDocWrite(msg *nats.Msg) {
	var req protocol.WriteDocumentRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respond(msg, protocol.DocumentReply{Error: "invalid request"})
		return
	}
	s.respond(msg, s.writeReply(req))
}

func (s *Service) onDocList(msg *nats.Msg) {
	s.respond(msg, s.listReply())
}

func (s *Service) onCopy(msg *nats.Msg) {
	s.respond(msg, s.copyReply(s.ctx))
}

func (s *Service) statusReply() protocol.StatusReply {
	docs, activeID := s.store.Snapshot()
	return protocol.StatusReply{
		OK:              true,
		Documents:       docs,
		ActiveID:        activeID,
		Listening:       s.session.Listening(),
		SilenceWarning:  s.session.SilenceActive(),
		EngineAvailable: s.session.EngineAvailable(),
	}
}

func (s *Service) toggleReply() protocol.SessionReply {
	listening, err := s.session.Toggle()
	if err != nil {
		return protocol.SessionReply{Error: err.Error(), Listening: s.session.Listening()}
	}
	return protocol.SessionReply{OK: true, Listening: listening}
}

func (s *Service) startReply() protocol.SessionReply {
	if err := s.session.StartListening(); err != nil {
		return protocol.SessionReply{Error: err.Error()}
	}
	return protocol.SessionReply{OK: true, Listening: true}
}

func (s *Service) stopReply() protocol.SessionReply {
	s.session.StopListening()
	return protocol.SessionReply{OK: true, Listening: false}
}

func (s *Service) createReply() protocol.DocumentReply {
	doc := s.store.Create()
	return protocol.DocumentReply{OK: true, Document: &doc, ActiveID: doc.ID}
}

func (s *Service) closeReply(req protocol.CloseDocumentRequest) protocol.DocumentReply {
	if err := s.store.Close(req.ID); err != nil {
		return protocol.DocumentReply{Error: err.Error()}
	}
	docs, activeID := s.store.Snapshot()
	return protocol.DocumentReply{OK: true, ActiveID: activeID, List: docs}
}

func (s *Service) renameReply(req protocol.RenameDocumentRequest) protocol.DocumentReply {
	doc, err := s.store.Rename(req.ID, req.Title)
	if err != nil {
		return protocol.DocumentReply{Error: err.Error()}
	}
	_, activeID := s.store.Snapshot()
	return protocol.DocumentReply{OK: true, Document: &doc, ActiveID: activeID}
}

func (s *Service) selectReply(req protocol.SelectDocumentRequest) protocol.DocumentReply {
	if err := s.store.Select(req.ID); err != nil {
		return protocol.DocumentReply{Error: err.Error()}
	}
	doc, _ := s.store.Get(req.ID)
	return protocol.DocumentReply{OK: true, Document: &doc, ActiveID: doc.ID}
}

func (s *Service) writeReply(req protocol.WriteDocumentRequest) protocol.DocumentReply {
	if !s.store.UpdateContent(req.ID, func(string) string { return req.Content }) {
		return protocol.DocumentReply{Error: docstore.ErrNotFound.Error()}
	}
	doc, _ := s.store.Get(req.ID)
	_, activeID := s.store.Snapshot()
	return protocol.DocumentReply{OK: true, Document: &doc, ActiveID: activeID}
}

func (s *Service) listReply() protocol.DocumentReply {
	docs, activeID := s.store.Snapshot()
	return protocol.DocumentReply{OK: true, ActiveID: activeID, List: docs}
}

func (s *Service) copyReply(ctx context.Context) protocol.CopyReply {
	doc := s.store.Active()
	if err := s.copy(ctx, doc.Content); err != nil {
		return protocol.CopyReply{Error: err.Error()}
	}
	return protocol.CopyReply{OK: true, Bytes: len(doc.Content)}
}

func (s *Service) respond(msg *nats.Msg, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("marshal reply failed", slog.String("error", err.Error()))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("respond failed", slog.String("subject", msg.Subject), slog.String("error", err.Error()))
	}
}
