package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/condohub/condochat/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testDatabaseEnv = "CONDOCHAT_TEST_DATABASE_URL"

func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv(testDatabaseEnv)
	if url == "" {
		t.Skipf("%s not set", testDatabaseEnv)
	}

	ctx := context.Background()
	require.NoError(t, RunMigrations(url, MigrationsFS(), zap.NewNop()))

	pool, err := NewPool(ctx, PoolConfig{URL: url, MaxConns: 4, ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Ping(ctx, pool, 5*time.Second))

	store := NewPostgresStore(pool)
	store.now = func() time.Time { return t0.Add(time.Hour) }
	return store
}

// uniqueSession avoids collisions with rows left by earlier runs
func uniqueSession(t *testing.T, store *PostgresStore) *domain.ChatSession {
	session := newTestSession(uuid.NewString())
	session.UserID = uuid.NewString()
	t.Cleanup(func() {
		_, _ = store.DeleteSession(context.Background(), session.ID)
	})
	return session
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestPostgresStore(t)

	session := uniqueSession(t, store)
	session.Messages = []domain.ChatMessage{
		*newTestMessage("m1", domain.RoleUser, "qual o saldo?", t0),
		{
			ID:        "m2",
			Role:      domain.RoleAssistant,
			Content:   domain.BlockContent(domain.ContentBlock{Type: domain.BlockTypeText, Text: "segue"}),
			Timestamp: t0.Add(time.Second),
			Tokens:    ptr(3),
		},
	}
	require.NoError(t, store.SaveSession(ctx, session))

	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, session.Title, got.Title)
	assert.True(t, session.CreatedAt.Equal(got.CreatedAt))
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "qual o saldo?", got.Messages[0].Content.Text)
	assert.True(t, got.Messages[1].Content.IsStructured())
	assert.Equal(t, 3, *got.Messages[1].Tokens)

	missing, err := store.GetSession(ctx, uuid.NewString())
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPostgresStore_MessagesAndStats(t *testing.T) {
	ctx := context.Background()
	store := newTestPostgresStore(t)

	session := uniqueSession(t, store)
	require.NoError(t, store.SaveSession(ctx, session))

	reply := newTestMessage("m2", domain.RoleAssistant, "hello", t0.Add(time.Second))
	reply.Tokens = ptr(5)
	require.NoError(t, store.AddMessage(ctx, session.ID, reply))
	require.NoError(t, store.AddMessage(ctx, session.ID, newTestMessage("m1", domain.RoleUser, "hi", t0)))

	assert.Error(t, store.AddMessage(ctx, session.ID, newTestMessage("m1", domain.RoleUser, "dup", t0)))
	assert.Error(t, store.AddMessage(ctx, uuid.NewString(), newTestMessage("m9", domain.RoleUser, "orphan", t0)))

	messages, err := store.GetMessages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "m1", messages[0].ID)

	stats, err := store.GetSessionStats(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.MessageCount)
	assert.Equal(t, 5, stats.TotalTokens)
	assert.GreaterOrEqual(t, stats.DurationMs, int64(1000))

	updated, err := store.UpdateMessage(ctx, session.ID, "m1", domain.MessageUpdate{Favorite: ptr(true)})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.True(t, *updated.Favorite)

	require.NoError(t, store.ClearMessages(ctx, session.ID))
	stats, err = store.GetSessionStats(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.MessageCount)
	assert.Equal(t, 0, stats.TotalTokens)
}

func TestPostgresStore_UpdateSearchDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestPostgresStore(t)

	session := uniqueSession(t, store)
	session.Title = "Orçamento da PISCINA"
	require.NoError(t, store.SaveSession(ctx, session))

	found, err := store.SearchSessions(ctx, session.UserID, session.CompanyID, "piscina")
	require.NoError(t, err)
	require.Len(t, found, 1)

	got, err := store.UpdateSession(ctx, session.ID, domain.SessionUpdate{Title: ptr("Portaria")})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Portaria", got.Title)
	assert.True(t, got.UpdatedAt.Equal(t0.Add(time.Hour)))

	list, err := store.GetUserSessions(ctx, session.UserID, session.CompanyID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	deleted, err := store.DeleteSession(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.DeleteSession(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}
