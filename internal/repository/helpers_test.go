package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/condohub/condochat/internal/domain"
	"github.com/stretchr/testify/require"
)

// Interface compliance (compile-time assertions)
var (
	_ ChatStore = (*PostgresStore)(nil)
	_ ChatStore = (*VolatileStore)(nil)
	_ ChatStore = (*HybridStore)(nil)
	_ ChatStore = (*stubStore)(nil)
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func newTestVolatileStore(t *testing.T) *VolatileStore {
	t.Helper()
	store, err := OpenVolatileStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	store.now = func() time.Time { return t0.Add(time.Hour) }
	return store
}

func newTestSession(id string) *domain.ChatSession {
	return &domain.ChatSession{
		ID:          id,
		Title:       "Assembleia de maio",
		Model:       "gpt-4o-mini",
		ContextMode: domain.ContextModeGeneral,
		CompanyID:   "c1",
		UserID:      "u1",
		CreatedAt:   t0,
		UpdatedAt:   t0,
	}
}

func newTestMessage(id string, role domain.Role, text string, at time.Time) *domain.ChatMessage {
	return &domain.ChatMessage{
		ID:        id,
		Role:      role,
		Content:   domain.TextContent(text),
		Timestamp: at,
	}
}

var errPrimaryDown = errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")

// stubStore wraps a real store, counts calls per operation and fails the
// operations listed in fail ("*" fails everything).
type stubStore struct {
	inner ChatStore

	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func newStubStore(inner ChatStore) *stubStore {
	return &stubStore{inner: inner, calls: map[string]int{}, fail: map[string]error{}}
}

func (s *stubStore) failOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = err
}

func (s *stubStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *stubStore) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *stubStore) hit(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	if err, ok := s.fail[op]; ok {
		return &StoreError{Store: "stub", Op: op, Err: err}
	}
	if err, ok := s.fail["*"]; ok {
		return &StoreError{Store: "stub", Op: op, Err: err}
	}
	return nil
}

func (s *stubStore) SaveSession(ctx context.Context, session *domain.ChatSession) error {
	if err := s.hit("SaveSession"); err != nil {
		return err
	}
	return s.inner.SaveSession(ctx, session)
}

func (s *stubStore) GetSession(ctx context.Context, id string) (*domain.ChatSession, error) {
	if err := s.hit("GetSession"); err != nil {
		return nil, err
	}
	return s.inner.GetSession(ctx, id)
}

func (s *stubStore) GetUserSessions(ctx context.Context, userID, companyID string) ([]*domain.ChatSession, error) {
	if err := s.hit("GetUserSessions"); err != nil {
		return nil, err
	}
	return s.inner.GetUserSessions(ctx, userID, companyID)
}

func (s *stubStore) UpdateSession(ctx context.Context, id string, update domain.SessionUpdate) (*domain.ChatSession, error) {
	if err := s.hit("UpdateSession"); err != nil {
		return nil, err
	}
	return s.inner.UpdateSession(ctx, id, update)
}

func (s *stubStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	if err := s.hit("DeleteSession"); err != nil {
		return false, err
	}
	return s.inner.DeleteSession(ctx, id)
}

func (s *stubStore) AddMessage(ctx context.Context, sessionID string, message *domain.ChatMessage) error {
	if err := s.hit("AddMessage"); err != nil {
		return err
	}
	return s.inner.AddMessage(ctx, sessionID, message)
}

func (s *stubStore) GetMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	if err := s.hit("GetMessages"); err != nil {
		return nil, err
	}
	return s.inner.GetMessages(ctx, sessionID)
}

func (s *stubStore) UpdateMessage(ctx context.Context, sessionID, messageID string, update domain.MessageUpdate) (*domain.ChatMessage, error) {
	if err := s.hit("UpdateMessage"); err != nil {
		return nil, err
	}
	return s.inner.UpdateMessage(ctx, sessionID, messageID, update)
}

func (s *stubStore) ClearMessages(ctx context.Context, sessionID string) error {
	if err := s.hit("ClearMessages"); err != nil {
		return err
	}
	return s.inner.ClearMessages(ctx, sessionID)
}

func (s *stubStore) SearchSessions(ctx context.Context, userID, companyID, query string) ([]*domain.ChatSession, error) {
	if err := s.hit("SearchSessions"); err != nil {
		return nil, err
	}
	return s.inner.SearchSessions(ctx, userID, companyID, query)
}

func (s *stubStore) GetSessionStats(ctx context.Context, sessionID string) (*domain.SessionStats, error) {
	if err := s.hit("GetSessionStats"); err != nil {
		return nil, err
	}
	return s.inner.GetSessionStats(ctx, sessionID)
}
