// Package docstore owns the ordered set of open documents (tabs) and the
// active-document selection. It is the single shared mutable resource of
// the runtime; every mutation happens under one lock and is announced on
// a change channel so bus publication and persistence stay ordered.
package docstore

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dictalabs/dicta-core/internal/protocol"
	"github.com/google/uuid"
)

// ErrNotFound reports an operation against a document id that is not in
// the store.
var ErrNotFound = errors.New("document not found")

const changeBuffer = 64

// Store holds the ordered documents and the active id. At least one
// document always exists.
type Store struct {
	mu       sync.Mutex
	docs     []protocol.Document
	activeID string

	changes chan protocol.DocumentChange
	log     *slog.Logger
	clock   func() time.Time
}

// New creates a store seeded with a single empty document.
func New(log *slog.Logger) *Store {
	s := &Store{
		changes: make(chan protocol.DocumentChange, changeBuffer),
		log:     log,
		clock:   time.Now,
	}
	doc := s.newDocument()
	s.docs = []protocol.Document{doc}
	s.activeID = doc.ID
	return s
}

// NewFromSnapshot restores a store from persisted state. Invalid state
// (no documents, or an active id that resolves to nothing) falls back to
// the default single-document store.
func NewFromSnapshot(docs []protocol.Document, activeID string, log *slog.Logger) *Store {
	if len(docs) == 0 {
		return New(log)
	}
	s := &Store{
		docs:    append([]protocol.Document(nil), docs...),
		changes: make(chan protocol.DocumentChange, changeBuffer),
		log:     log,
		clock:   time.Now,
	}
	s.activeID = activeID
	if s.indexOf(activeID) < 0 {
		s.activeID = s.docs[0].ID
	}
	return s
}

// Changes delivers one event per mutation, in mutation order. The
// channel is buffered; if no consumer keeps up, events are dropped with
// a warning rather than blocking dictation.
func (s *Store) Changes() <-chan protocol.DocumentChange {
	return s.changes
}

// Create appends a new empty document, makes it active, and returns it.
// The default title numbers off the current count, so re-using a number
// after closes is acceptable.
func (s *Store) Create() protocol.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.newDocument()
	s.docs = append(s.docs, doc)
	s.activeID = doc.ID
	s.emit(protocol.ChangeCreated, &doc)
	return doc
}

// Close removes one document. Closing the last remaining document is a
// no-op. If the closed document was active, the previous neighbor
// becomes active, or the next when there is no previous.
func (s *Store) Close(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.docs) == 1 {
		return nil
	}
	idx := s.indexOf(id)
	if idx < 0 {
		return ErrNotFound
	}

	closed := s.docs[idx]
	s.docs = append(s.docs[:idx], s.docs[idx+1:]...)
	if s.activeID == id {
		fallback := idx - 1
		if fallback < 0 {
			fallback = 0 // next neighbor now occupies the closed slot
		}
		s.activeID = s.docs[fallback].ID
	}
	s.emit(protocol.ChangeClosed, &closed)
	return nil
}

// Rename sets a document's title to the trimmed value, or "Untitled"
// when the trimmed value is empty.
func (s *Store) Rename(id, title string) (protocol.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return protocol.Document{}, ErrNotFound
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled"
	}
	s.docs[idx].Title = title
	doc := s.docs[idx]
	s.emit(protocol.ChangeRenamed, &doc)
	return doc, nil
}

// Select makes the given document active.
func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return ErrNotFound
	}
	s.activeID = id
	doc := s.docs[idx]
	s.emit(protocol.ChangeSelected, &doc)
	return nil
}

// UpdateContent replaces one document's content through update, which
// receives the previous content. A stale id is a silent no-op so racing
// writers cannot corrupt a neighboring document.
func (s *Store) UpdateContent(id string, update func(previous string) string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return false
	}
	s.docs[idx].Content = update(s.docs[idx].Content)
	doc := s.docs[idx]
	s.emit(protocol.ChangeUpdated, &doc)
	return true
}

// UpdateActive applies update to whichever document is active at call
// time. The active id resolves under the store lock, never from a value
// captured earlier, so switching tabs mid-session redirects subsequent
// utterances.
func (s *Store) UpdateActive(update func(previous string) string) protocol.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(s.activeID)
	s.docs[idx].Content = update(s.docs[idx].Content)
	doc := s.docs[idx]
	s.emit(protocol.ChangeUpdated, &doc)
	return doc
}

// Get returns a copy of one document.
func (s *Store) Get(id string) (protocol.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return protocol.Document{}, false
	}
	return s.docs[idx], true
}

// Active returns a copy of the active document.
func (s *Store) Active() protocol.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[s.indexOf(s.activeID)]
}

// Snapshot returns the ordered document list and the active id.
func (s *Store) Snapshot() ([]protocol.Document, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Document(nil), s.docs...), s.activeID
}

func (s *Store) newDocument() protocol.Document {
	return protocol.Document{
		ID:    uuid.NewString(),
		Title: fmt.Sprintf("Untitled %d", len(s.docs)+1),
	}
}

// indexOf must be called with the lock held.
func (s *Store) indexOf(id string) int {
	for i := range s.docs {
		if s.docs[i].ID == id {
			return i
		}
	}
	return -1
}

// emit must be called with the lock held; it never blocks.
func (s *Store) emit(kind string, doc *protocol.Document) {
	change := protocol.DocumentChange{
		Kind:     kind,
		ActiveID: s.activeID,
		At:       s.clock(),
	}
	if doc != nil {
		copied := *doc
		change.Document = &copied
	}
	select {
	case s.changes <- change:
	default:
		s.log.Warn("document change dropped", slog.String("kind", kind))
	}
}
