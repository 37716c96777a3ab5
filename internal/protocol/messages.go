package protocol

import "time"

// Utterance is one finalized transcript phrase broadcast on the bus.
type Utterance struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	CapturedAt time.Time `json:"captured_at"`
}

// SessionState reports the listening lifecycle to presentation consumers.
type SessionState struct {
	SessionID string    `json:"session_id,omitempty"`
	Listening bool      `json:"listening"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// SilenceSignal raises or clears the transient no-speech warning.
type SilenceSignal struct {
	SessionID string    `json:"session_id"`
	Active    bool      `json:"active"`
	At        time.Time `json:"at"`
}

// Document mirrors one open tab for the wire.
type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// DocumentChange announces a store mutation together with the resulting
// active id so consumers never have to re-query after an event.
type DocumentChange struct {
	Kind     string    `json:"kind"`
	Document *Document `json:"document,omitempty"`
	ActiveID string    `json:"active_id"`
	At       time.Time `json:"at"`
}

const (
	ChangeCreated  = "created"
	ChangeClosed   = "closed"
	ChangeRenamed  = "renamed"
	ChangeSelected = "selected"
	ChangeUpdated  = "updated"
)

type CloseDocumentRequest struct {
	ID string `json:"id"`
}

type RenameDocumentRequest struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type SelectDocumentRequest struct {
	ID string `json:"id"`
}

// WriteDocumentRequest replaces content verbatim (a manual edit; it does not
// pass through the merge engine).
type WriteDocumentRequest struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type DocumentReply struct {
	OK       bool       `json:"ok"`
	Error    string     `json:"error,omitempty"`
	Document *Document  `json:"document,omitempty"`
	ActiveID string     `json:"active_id,omitempty"`
	List     []Document `json:"list,omitempty"`
}

type SessionReply struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Listening bool   `json:"listening"`
}

type StatusReply struct {
	OK              bool       `json:"ok"`
	Error           string     `json:"error,omitempty"`
	Documents       []Document `json:"documents"`
	ActiveID        string     `json:"active_id"`
	Listening       bool       `json:"listening"`
	SilenceWarning  bool       `json:"silence_warning"`
	EngineAvailable bool       `json:"engine_available"`
}

type CopyReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Bytes int    `json:"bytes"`
}

const (
	SubjectUtterance      = "dicta.utterance"
	SubjectSessionState   = "dicta.session.state"
	SubjectSessionSilence = "dicta.session.silence"
	SubjectDocumentChange = "dicta.doc.changed"

	SubjectCtlStatus        = "dicta.ctl.status"
	SubjectCtlSessionToggle = "dicta.ctl.session.toggle"
	SubjectCtlSessionStart  = "dicta.ctl.session.start"
	SubjectCtlSessionStop   = "dicta.ctl.session.stop"
	SubjectCtlDocCreate     = "dicta.ctl.doc.create"
	SubjectCtlDocClose      = "dicta.ctl.doc.close"
	SubjectCtlDocRename     = "dicta.ctl.doc.rename"
	SubjectCtlDocSelect     = "dicta.ctl.doc.select"
	SubjectCtlDocWrite      = "dicta.ctl.doc.write"
	SubjectCtlDocList       = "dicta.ctl.doc.list"
	SubjectCtlCopy          = "dicta.ctl.copy"
)
