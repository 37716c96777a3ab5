package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/docstore"
	"github.com/dictalabs/dicta-core/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	tmp := t.TempDir()

	cfg := config.Default()
	cfg.HTTP.Bind = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	cfg.Telemetry.PrometheusBind = fmt.Sprintf("127.0.0.1:%d", freePort(t))
	cfg.Bus.Embedded = true
	cfg.Bus.Port = freePort(t)
	cfg.Store.Path = filepath.Join(tmp, "documents.db")
	cfg.History.Path = filepath.Join(tmp, "history.db")
	cfg.History.RetentionMode = "session"
	cfg.Recognizer.Mode = "mock"
	cfg.Recognizer.MockPhrases = []string{"integration test", "period"}
	cfg.Recognizer.MockIntervalMS = 20
	cfg.Session.WatchdogIntervalMS = 20
	cfg.Session.SilenceWarnAfterMS = 60_000
	return cfg
}

func request[T any](t *testing.T, conn *nats.Conn, subject string, payload any) T {
	t.Helper()
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		require.NoError(t, err)
	}
	msg, err := conn.Request(subject, data, 5*time.Second)
	require.NoError(t, err, "request %s", subject)

	var reply T
	require.NoError(t, json.Unmarshal(msg.Data, &reply))
	return reply
}

func TestRuntimeEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	busURL := fmt.Sprintf("nats://127.0.0.1:%d", cfg.Bus.Port)
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

	rt := New(cfg, logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()

	// The broker comes up before the services; retry until both answer.
	var conn *nats.Conn
	require.Eventually(t, func() bool {
		c, err := nats.Connect(busURL)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 10*time.Second, 100*time.Millisecond)
	defer conn.Close()

	var status protocol.StatusReply
	require.Eventually(t, func() bool {
		msg, err := conn.Request(protocol.SubjectCtlStatus, nil, time.Second)
		if err != nil {
			return false
		}
		return json.Unmarshal(msg.Data, &status) == nil && status.OK
	}, 10*time.Second, 100*time.Millisecond)

	require.Len(t, status.Documents, 1)
	require.Equal(t, "Untitled 1", status.Documents[0].Title)
	require.Equal(t, status.Documents[0].ID, status.ActiveID)
	require.True(t, status.EngineAvailable)
	require.False(t, status.Listening)

	// Start listening; the mock recognizer dictates into the active
	// document through the full bus pipeline.
	started := request[protocol.SessionReply](t, conn, protocol.SubjectCtlSessionStart, nil)
	require.True(t, started.OK)
	require.True(t, started.Listening)

	require.Eventually(t, func() bool {
		st := request[protocol.StatusReply](t, conn, protocol.SubjectCtlStatus, nil)
		return st.Listening && len(st.Documents) == 1 &&
			strings.Contains(st.Documents[0].Content, "Integration test.")
	}, 10*time.Second, 50*time.Millisecond)

	stopped := request[protocol.SessionReply](t, conn, protocol.SubjectCtlSessionStop, nil)
	require.True(t, stopped.OK)
	require.False(t, stopped.Listening)

	// Document operations round-trip over the control surface.
	created := request[protocol.DocumentReply](t, conn, protocol.SubjectCtlDocCreate, nil)
	require.True(t, created.OK)
	require.NotNil(t, created.Document)
	require.Equal(t, "Untitled 2", created.Document.Title)
	require.Equal(t, created.Document.ID, created.ActiveID)

	renamed := request[protocol.DocumentReply](t, conn, protocol.SubjectCtlDocRename,
		protocol.RenameDocumentRequest{ID: created.Document.ID, Title: "Meeting"})
	require.True(t, renamed.OK)
	require.Equal(t, "Meeting", renamed.Document.Title)

	missing := request[protocol.DocumentReply](t, conn, protocol.SubjectCtlDocSelect,
		protocol.SelectDocumentRequest{ID: "no-such-id"})
	require.False(t, missing.OK)
	require.NotEmpty(t, missing.Error)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("runtime did not shut down")
	}

	// The final snapshot survives to disk with order and active id.
	p, err := docstore.OpenPersister(context.Background(), cfg.Store, logger)
	require.NoError(t, err)
	defer p.Close()

	docs, activeID, err := p.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, created.Document.ID, activeID)
	require.Equal(t, "Meeting", docs[1].Title)
	require.Contains(t, docs[0].Content, "Integration test.")
}
