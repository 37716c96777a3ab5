package docstore

import (
	"io"
	"log/slog"
	"testing"

	"github.com/dictalabs/dicta-core/internal/protocol"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func drainChanges(s *Store) []protocol.DocumentChange {
	var out []protocol.DocumentChange
	for {
		select {
		case change := <-s.Changes():
			out = append(out, change)
		default:
			return out
		}
	}
}

func TestNewSeedsOneActiveDocument(t *testing.T) {
	t.Parallel()

	s := New(newTestLogger())
	docs, activeID := s.Snapshot()
	require.Len(t, docs, 1)
	require.Equal(t, "Untitled 1", docs[0].Title)
	require.Empty(t, docs[0].Content)
	require.Equal(t, docs[0].ID, activeID)
}

func TestCreateAppendsAndActivates(t *testing.T) {
	t.Parallel()

	s := New(newTestLogger())
	doc := s.Create()
	require.Equal(t, "Untitled 2", doc.Title)

	docs, activeID := s.Snapshot()
	require.Len(t, docs, 2)
	require.Equal(t, doc.ID, docs[1].ID)
	require.Equal(t, doc.ID, activeID)
}

func TestCloseLastDocumentIsNoOp(t *testing.T) {
	t.Parallel()

	s := New(newTestLogger())
	docs, _ := s.Snapshot()

	require.NoError(t, s.Close(docs[0].ID))

	after, activeID := s.Snapshot()
	require.Len(t, after, 1)
	require.Equal(t, docs[0].ID, after[0].ID)
	require.Equal(t, docs[0].ID, activeID)
}

func TestCloseActiveFallsBackToPreviousNeighbor(t *testing.T) {
	t.Parallel()

	s := New(newTestLogger())
	second := s.Create()
	third := s.Create()

	require.NoError(t, s.Close(third.ID))

	docs, activeID := s.Snapshot()
	require.Len(t, docs, 2)
	require.Equal(t, second.ID, activeID)
}

func TestCloseActiveHeadFallsBackToNextNeighbor(t *testing.T) {
	t.Parallel()

	s := New(newTestLogger())
	first, _ := s.Snapshot()
	second := s.Create()
	require.NoError(t, s.Select(first[0].ID))

	require.NoError(t, s.Close(first[0].ID))

	docs, activeID := s.Snapshot()
	require.Len(t, docs, 1)
	require.Equal(t, second.ID, docs[0].ID)
	require.Equal(t, second.ID, activeID)
}

func TestCloseInactiveKeepsActive(t *testing.T) {
	t.Parallel()

	s := New(newTestLogger())
	first, _ := s.Snapshot()
	second := s.Create()

	require.NoError(t, s.Close(first[0].ID))

	_, activeID := s.Snapshot()
	require.Equal(t, second.ID, activeID)
}

func TestCloseUnknownID(t *testing.T) {
	t.Parallel()

	s := New(newTestLogger())
	s.Create()
	require.ErrorIs(t, s.Close("nope"), ErrNotFound)
}

func TestRenameTrimsAndDefaultsEmpty(t *testing.T) {
	t.Parallel()

	s := New(newTestLogger())
	docs, _ := s.Snapshot()
	id := docs[0].ID

	doc, err := s.Rename(id, "  Meeting Notes  ")
	require.NoError(t, err)
	require.Equal(t, "Meeting Notes", doc.Title)

	doc, err = s.Rename(id, "   ")
	require.NoError(t, err)
	require.Equal(t, "Untitled", doc.Title)

	_, err = s.Rename("nope", "x")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSelectSwitchesActive(t *testing.T) {
	t.Parallel()

	s := New(newTestLogger())
	first, _ := s.Snapshot()
	s.Create()

	require.NoError(t, s.Select(first[0].ID))
	_, activeID := s.Snapshot()
	require.Equal(t, first[0].ID, activeID)

	require.ErrorIs(t, s.Select("nope"), ErrNotFound)
}

func TestUpdateContentStaleIDIsNoOp(t *testing.T) {
	t.Parallel()

	s := New(newTestLogger())
	called := false
	applied := s.UpdateContent("stale", func(previous string) string {
		called = true
		return "x"
	})
	require.False(t, applied)
	require.False(t, called)
}

func TestUpdateActiveResolvesFreshActive(t *testing.T) {
	t.Parallel()

	s := New(newTestLogger())
	first, _ := s.Snapshot()
	second := s.Create()

	s.UpdateActive(func(previous string) string { return previous + "two " })
	require.NoError(t, s.Select(first[0].ID))
	s.UpdateActive(func(previous string) string { return previous + "one " })

	firstDoc, ok := s.Get(first[0].ID)
	require.True(t, ok)
	require.Equal(t, "one ", firstDoc.Content)

	secondDoc, ok := s.Get(second.ID)
	require.True(t, ok)
	require.Equal(t, "two ", secondDoc.Content)
}

func TestSnapshotReturnsCopies(t *testing.T) {
	t.Parallel()

	s := New(newTestLogger())
	docs, _ := s.Snapshot()
	docs[0].Content = "scribbled over"

	fresh, _ := s.Snapshot()
	require.Empty(t, fresh[0].Content)
}

func TestChangesCarryKindAndActiveID(t *testing.T) {
	t.Parallel()

	s := New(newTestLogger())
	doc := s.Create()
	_, err := s.Rename(doc.ID, "Renamed")
	require.NoError(t, err)
	s.UpdateActive(func(string) string { return "text " })
	require.NoError(t, s.Close(doc.ID))

	changes := drainChanges(s)
	require.Len(t, changes, 4)

	kinds := make([]string, len(changes))
	for i, c := range changes {
		kinds[i] = c.Kind
	}
	require.Equal(t, []string{
		protocol.ChangeCreated,
		protocol.ChangeRenamed,
		protocol.ChangeUpdated,
		protocol.ChangeClosed,
	}, kinds)

	// The closed event already names the fallback active document.
	_, activeID := s.Snapshot()
	require.Equal(t, activeID, changes[3].ActiveID)
}

func TestNewFromSnapshotRestoresState(t *testing.T) {
	t.Parallel()

	docs := []protocol.Document{
		{ID: "a", Title: "First", Content: "one "},
		{ID: "b", Title: "Second", Content: "two "},
	}
	s := NewFromSnapshot(docs, "b", newTestLogger())

	restored, activeID := s.Snapshot()
	require.Equal(t, docs, restored)
	require.Equal(t, "b", activeID)
}

func TestNewFromSnapshotRepairsBadActiveID(t *testing.T) {
	t.Parallel()

	docs := []protocol.Document{{ID: "a", Title: "First"}}
	s := NewFromSnapshot(docs, "missing", newTestLogger())

	_, activeID := s.Snapshot()
	require.Equal(t, "a", activeID)
}

func TestNewFromSnapshotEmptyFallsBackToDefault(t *testing.T) {
	t.Parallel()

	s := NewFromSnapshot(nil, "", newTestLogger())
	docs, activeID := s.Snapshot()
	require.Len(t, docs, 1)
	require.Equal(t, docs[0].ID, activeID)
}
