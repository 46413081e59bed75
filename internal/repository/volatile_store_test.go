package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/condohub/condochat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolatileStore_SaveAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestVolatileStore(t)

	session := newTestSession("s1")
	session.ContextMode = domain.ContextModeSector
	session.Sector = ptr("financeiro")
	session.UpdatedAt = t0.Add(2 * time.Second)
	session.Messages = []domain.ChatMessage{
		*newTestMessage("m1", domain.RoleUser, "qual o saldo?", t0),
		{
			ID:   "m2",
			Role: domain.RoleAssistant,
			Content: domain.BlockContent(
				domain.ContentBlock{Type: domain.BlockTypeText, Text: "segue o balancete"},
				domain.ContentBlock{Type: domain.BlockTypeImage, ImageURL: "https://cdn.example.com/b.png"},
			),
			Timestamp: t0.Add(time.Second),
			Model:     ptr("gpt-4o"),
			Tokens:    ptr(42),
			Favorite:  ptr(true),
		},
	}

	require.NoError(t, store.SaveSession(ctx, session))

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session, got)
}

func TestVolatileStore_GetUnknownSessionIsAbsent(t *testing.T) {
	store := newTestVolatileStore(t)

	got, err := store.GetSession(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestVolatileStore_SaveSessionIsUpsert(t *testing.T) {
	ctx := context.Background()
	store := newTestVolatileStore(t)

	session := newTestSession("s1")
	require.NoError(t, store.SaveSession(ctx, session))

	session.Title = "Renamed"
	session.Model = "claude-3-5-sonnet"
	session.UpdatedAt = t0.Add(time.Minute)
	require.NoError(t, store.SaveSession(ctx, session))

	sessions, err := store.GetUserSessions(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "Renamed", sessions[0].Title)
	assert.Equal(t, "claude-3-5-sonnet", sessions[0].Model)
	assert.Equal(t, t0.Add(time.Minute), sessions[0].UpdatedAt)
}

func TestVolatileStore_MessagesOrderedByTimestamp(t *testing.T) {
	ctx := context.Background()
	store := newTestVolatileStore(t)
	require.NoError(t, store.SaveSession(ctx, newTestSession("s1")))

	require.NoError(t, store.AddMessage(ctx, "s1", newTestMessage("late", domain.RoleAssistant, "c", t0.Add(3*time.Second))))
	require.NoError(t, store.AddMessage(ctx, "s1", newTestMessage("early", domain.RoleUser, "a", t0.Add(time.Second))))
	require.NoError(t, store.AddMessage(ctx, "s1", newTestMessage("middle", domain.RoleUser, "b", t0.Add(2*time.Second))))

	messages, err := store.GetMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "early", messages[0].ID)
	assert.Equal(t, "middle", messages[1].ID)
	assert.Equal(t, "late", messages[2].ID)
}

func TestVolatileStore_AddMessageMovesUpdatedAt(t *testing.T) {
	ctx := context.Background()
	store := newTestVolatileStore(t)
	require.NoError(t, store.SaveSession(ctx, newTestSession("s1")))

	require.NoError(t, store.AddMessage(ctx, "s1", newTestMessage("m1", domain.RoleUser, "hi", t0.Add(5*time.Second))))

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(5*time.Second), got.UpdatedAt)
}

func TestVolatileStore_DuplicateMessageIsError(t *testing.T) {
	ctx := context.Background()
	store := newTestVolatileStore(t)
	require.NoError(t, store.SaveSession(ctx, newTestSession("s1")))
	require.NoError(t, store.SaveSession(ctx, newTestSession("s2")))

	require.NoError(t, store.AddMessage(ctx, "s1", newTestMessage("m1", domain.RoleUser, "hi", t0)))
	err := store.AddMessage(ctx, "s1", newTestMessage("m1", domain.RoleUser, "again", t0))
	require.Error(t, err)

	var storeErr *StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, StoreVolatile, storeErr.Store)
	assert.Equal(t, "AddMessage", storeErr.Op)

	// ids are only unique per session
	assert.NoError(t, store.AddMessage(ctx, "s2", newTestMessage("m1", domain.RoleUser, "hi", t0)))

	messages, err := store.GetMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestVolatileStore_OrphanMessageIsError(t *testing.T) {
	store := newTestVolatileStore(t)

	err := store.AddMessage(context.Background(), "nope", newTestMessage("m1", domain.RoleUser, "hi", t0))
	assert.Error(t, err)
}

func TestVolatileStore_GetUserSessions(t *testing.T) {
	ctx := context.Background()
	store := newTestVolatileStore(t)

	older := newTestSession("older")
	newer := newTestSession("newer")
	newer.UpdatedAt = t0.Add(time.Hour)
	other := newTestSession("other-company")
	other.CompanyID = "c2"
	for _, s := range []*domain.ChatSession{older, newer, other} {
		require.NoError(t, store.SaveSession(ctx, s))
	}
	require.NoError(t, store.AddMessage(ctx, "older", newTestMessage("m1", domain.RoleUser, "hi", t0)))

	sessions, err := store.GetUserSessions(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "newer", sessions[0].ID)
	assert.Equal(t, "older", sessions[1].ID)
	for _, s := range sessions {
		assert.Empty(t, s.Messages)
	}

	empty, err := store.GetUserSessions(ctx, "nobody", "c1")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestVolatileStore_UpdateSession(t *testing.T) {
	ctx := context.Background()
	store := newTestVolatileStore(t)
	require.NoError(t, store.SaveSession(ctx, newTestSession("s1")))

	mode := domain.ContextModeSector
	got, err := store.UpdateSession(ctx, "s1", domain.SessionUpdate{
		ContextMode: &mode,
		Sector:      ptr("manutencao"),
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Assembleia de maio", got.Title)
	assert.Equal(t, domain.ContextModeSector, got.ContextMode)
	assert.Equal(t, "manutencao", *got.Sector)
	assert.Equal(t, t0.Add(time.Hour), got.UpdatedAt)

	stored, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, got.Sector, stored.Sector)
	assert.Equal(t, got.UpdatedAt, stored.UpdatedAt)

	missing, err := store.UpdateSession(ctx, "missing", domain.SessionUpdate{Title: ptr("x")})
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestVolatileStore_DeleteSessionCascades(t *testing.T) {
	ctx := context.Background()
	store := newTestVolatileStore(t)
	require.NoError(t, store.SaveSession(ctx, newTestSession("s1")))
	require.NoError(t, store.AddMessage(ctx, "s1", newTestMessage("m1", domain.RoleUser, "hi", t0)))

	deleted, err := store.DeleteSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, deleted)

	messages, err := store.GetMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, messages)

	deleted, err = store.DeleteSession(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestVolatileStore_UpdateMessage(t *testing.T) {
	ctx := context.Background()
	store := newTestVolatileStore(t)
	require.NoError(t, store.SaveSession(ctx, newTestSession("s1")))
	require.NoError(t, store.AddMessage(ctx, "s1", newTestMessage("m1", domain.RoleAssistant, "ok", t0)))

	got, err := store.UpdateMessage(ctx, "s1", "m1", domain.MessageUpdate{Favorite: ptr(true)})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, *got.Favorite)
	assert.Nil(t, got.Tokens)
	assert.Equal(t, "ok", got.Content.Text)

	got, err = store.UpdateMessage(ctx, "s1", "m1", domain.MessageUpdate{Tokens: ptr(17)})
	require.NoError(t, err)
	assert.Equal(t, 17, *got.Tokens)
	assert.True(t, *got.Favorite, "favorite must survive a tokens-only update")

	missing, err := store.UpdateMessage(ctx, "s1", "nope", domain.MessageUpdate{Tokens: ptr(1)})
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestVolatileStore_ClearMessagesResetsStats(t *testing.T) {
	ctx := context.Background()
	store := newTestVolatileStore(t)
	require.NoError(t, store.SaveSession(ctx, newTestSession("s1")))
	msg := newTestMessage("m1", domain.RoleAssistant, "ok", t0)
	msg.Tokens = ptr(10)
	require.NoError(t, store.AddMessage(ctx, "s1", msg))

	require.NoError(t, store.ClearMessages(ctx, "s1"))

	stats, err := store.GetSessionStats(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 0, stats.MessageCount)
	assert.Equal(t, 0, stats.TotalTokens)

	session, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), session.UpdatedAt)
}

func TestVolatileStore_SearchSessions(t *testing.T) {
	ctx := context.Background()
	store := newTestVolatileStore(t)

	a := newTestSession("a")
	a.Title = "Orçamento da PISCINA"
	b := newTestSession("b")
	b.Title = "Reunião de síndicos"
	require.NoError(t, store.SaveSession(ctx, a))
	require.NoError(t, store.SaveSession(ctx, b))

	found, err := store.SearchSessions(ctx, "u1", "c1", "piscina")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "a", found[0].ID)

	found, err = store.SearchSessions(ctx, "u1", "c1", "ORÇAMENTO")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	found, err = store.SearchSessions(ctx, "u1", "c1", "elevador")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestVolatileStore_SessionStatsScenario(t *testing.T) {
	ctx := context.Background()
	store := newTestVolatileStore(t)
	require.NoError(t, store.SaveSession(ctx, newTestSession("s1")))

	require.NoError(t, store.AddMessage(ctx, "s1", newTestMessage("m1", domain.RoleUser, "hi", t0)))
	reply := newTestMessage("m2", domain.RoleAssistant, "hello", t0.Add(time.Second))
	reply.Tokens = ptr(5)
	require.NoError(t, store.AddMessage(ctx, "s1", reply))

	stats, err := store.GetSessionStats(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.MessageCount)
	assert.Equal(t, 5, stats.TotalTokens)
	assert.GreaterOrEqual(t, stats.DurationMs, int64(1000))

	missing, err := store.GetSessionStats(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestVolatileStore_InstancesAreIsolated(t *testing.T) {
	ctx := context.Background()
	a := newTestVolatileStore(t)
	b := newTestVolatileStore(t)

	require.NoError(t, a.SaveSession(ctx, newTestSession("s1")))

	got, err := b.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
