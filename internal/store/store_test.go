package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/northlight-ai/corex/internal/datatypes"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := Open(db)
	require.NoError(t, err)
	return s
}

type fakeFindingDeleter struct{ calledFor string }

func (f *fakeFindingDeleter) DeleteSessionFindings(ctx context.Context, sessionID string) error {
	f.calledFor = sessionID
	return nil
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess, err := s.CreateSession(ctx, "research", true, datatypes.SourceModeAuto, now)
	require.NoError(t, err)

	got, err := s.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "research", got.Name)
	require.True(t, got.ResearchMode)
}

func TestAppendAndLoadHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess, err := s.CreateSession(ctx, "", false, datatypes.SourceModeAuto, now)
	require.NoError(t, err)

	require.NoError(t, s.AppendMessage(ctx, datatypes.Message{SessionID: sess.SessionID, Role: "user", Content: "hi", Timestamp: now}))
	require.NoError(t, s.AppendMessage(ctx, datatypes.Message{SessionID: sess.SessionID, Role: "assistant", Content: "hello", Timestamp: now.Add(time.Second)}))

	history, err := s.History(ctx, sess.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "user", history[0].Role)
	require.Equal(t, "assistant", history[1].Role)
}

func TestReplaceHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	sess, err := s.CreateSession(ctx, "", false, datatypes.SourceModeAuto, now)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendMessage(ctx, datatypes.Message{SessionID: sess.SessionID, Role: "user", Content: "x", Timestamp: now.Add(time.Duration(i) * time.Second)}))
	}
	kept := []datatypes.Message{{Role: "system", Content: "summary", Timestamp: now}}
	require.NoError(t, s.ReplaceHistory(ctx, sess.SessionID, kept))

	history, err := s.History(ctx, sess.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "summary", history[0].Content)
}

func TestDeleteSessionCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	sess, err := s.CreateSession(ctx, "", true, datatypes.SourceModeAuto, now)
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, datatypes.Message{SessionID: sess.SessionID, Role: "user", Content: "hi", Timestamp: now}))

	finder := &fakeFindingDeleter{}
	require.NoError(t, s.DeleteSession(ctx, sess.SessionID, finder))
	require.Equal(t, sess.SessionID, finder.calledFor)

	got, err := s.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	require.Nil(t, got)

	history, err := s.History(ctx, sess.SessionID)
	require.NoError(t, err)
	require.Empty(t, history)
}
