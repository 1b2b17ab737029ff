package store_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Chanpoe/ModelHub/pkg/chats/chat"
	"github.com/Chanpoe/ModelHub/pkg/chats/content"
	"github.com/Chanpoe/ModelHub/pkg/chats/message"
	"github.com/Chanpoe/ModelHub/pkg/chats/role"
	"github.com/Chanpoe/ModelHub/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "nested", "conversations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

// fixedClock returns a clock that advances one second per call.
func fixedClock() func() time.Time {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func sampleRecord(t *testing.T, userText string) chat.Record {
	t.Helper()

	c := chat.New()
	require.NoError(t, c.Append(
		message.NewText(role.System, "You are terse."),
		message.New(role.User, content.Text{Text: userText}, content.Image{Data: []byte{1, 2, 3}, MediaType: "image/jpeg"}),
		message.NewText(role.Assistant, "ok"),
	))
	require.NoError(t, c.AccumulateUsage(12, 3))

	return c.Record()
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := openStore(t)
	s.SetNowFunc(fixedClock())
	ctx := context.Background()

	conv := &store.Conversation{
		Provider: "volc",
		Model:    "doubao",
		Record:   sampleRecord(t, "Describe this picture"),
	}

	require.NoError(t, s.Save(ctx, conv))
	require.NotEmpty(t, conv.ID)
	assert.Equal(t, "Describe this picture", conv.Title)
	assert.False(t, conv.CreatedAt.IsZero())

	got, err := s.Load(ctx, conv.ID)
	require.NoError(t, err)

	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, "volc", got.Provider)
	assert.Equal(t, "doubao", got.Model)
	assert.Equal(t, conv.Record, got.Record)
	assert.True(t, conv.CreatedAt.Equal(got.CreatedAt))

	restored, err := chat.FromRecord(got.Record)
	require.NoError(t, err)
	assert.Equal(t, 3, restored.Len())
	assert.Equal(t, 15, restored.Usage().Total())
}

func TestSave_UpdatesExisting(t *testing.T) {
	s := openStore(t)
	s.SetNowFunc(fixedClock())
	ctx := context.Background()

	conv := &store.Conversation{Record: sampleRecord(t, "first")}
	require.NoError(t, s.Save(ctx, conv))
	created := conv.CreatedAt

	conv.Record = sampleRecord(t, "second")
	conv.Model = "gpt-4o"
	require.NoError(t, s.Save(ctx, conv))

	got, err := s.Load(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", got.Model)
	assert.Equal(t, "first", got.Title, "title is kept once set")
	assert.True(t, created.Equal(got.CreatedAt))
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestList_MostRecentFirst(t *testing.T) {
	s := openStore(t)
	s.SetNowFunc(fixedClock())
	ctx := context.Background()

	a := &store.Conversation{Provider: "openai", Record: sampleRecord(t, "a")}
	b := &store.Conversation{Provider: "gemini", Record: sampleRecord(t, "b")}
	require.NoError(t, s.Save(ctx, a))
	require.NoError(t, s.Save(ctx, b))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, b.ID, list[0].ID)
	assert.Equal(t, a.ID, list[1].ID)
	assert.Equal(t, 3, list[0].Messages)
	assert.Equal(t, "gemini", list[0].Provider)
}

func TestList_Empty(t *testing.T) {
	s := openStore(t)

	list, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLoad_NotFound(t *testing.T) {
	s := openStore(t)

	_, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	conv := &store.Conversation{Record: sampleRecord(t, "bye")}
	require.NoError(t, s.Save(ctx, conv))

	require.NoError(t, s.Delete(ctx, conv.ID))

	_, err := s.Load(ctx, conv.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, conv.ID), store.ErrNotFound)
}

func TestSave_LongTitleTruncated(t *testing.T) {
	s := openStore(t)

	conv := &store.Conversation{Record: sampleRecord(t, strings.Repeat("é", 80))}
	require.NoError(t, s.Save(context.Background(), conv))

	assert.Equal(t, strings.Repeat("é", 60)+"…", conv.Title)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.db")
	ctx := context.Background()

	s, err := store.Open(path)
	require.NoError(t, err)

	conv := &store.Conversation{Record: sampleRecord(t, "persist me")}
	require.NoError(t, s.Save(ctx, conv))
	require.NoError(t, s.Close())

	s, err = store.Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := s.Load(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "persist me", got.Title)
}
