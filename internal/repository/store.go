package repository

import (
	"context"

	"github.com/condohub/condochat/internal/domain"
)

// ChatStore is the persistence contract shared by every session backend.
//
// Lookups of unknown sessions or messages return a nil result and a nil
// error; errors are reserved for the store itself failing and are always
// *StoreError values.
type ChatStore interface {
	// SaveSession upserts the session and any messages it carries.
	SaveSession(ctx context.Context, session *domain.ChatSession) error
	// GetSession returns the session with its messages in timestamp order.
	GetSession(ctx context.Context, id string) (*domain.ChatSession, error)
	// GetUserSessions lists sessions newest-updated first, without messages.
	GetUserSessions(ctx context.Context, userID, companyID string) ([]*domain.ChatSession, error)
	// UpdateSession applies the supplied fields and refreshes UpdatedAt.
	UpdateSession(ctx context.Context, id string, update domain.SessionUpdate) (*domain.ChatSession, error)
	// DeleteSession removes the session and its messages.
	DeleteSession(ctx context.Context, id string) (bool, error)
	// AddMessage appends a message. A duplicate id within the session is an error.
	AddMessage(ctx context.Context, sessionID string, message *domain.ChatMessage) error
	GetMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)
	// UpdateMessage changes favorite and tokens only.
	UpdateMessage(ctx context.Context, sessionID, messageID string, update domain.MessageUpdate) (*domain.ChatMessage, error)
	// ClearMessages drops every message of the session and refreshes UpdatedAt.
	ClearMessages(ctx context.Context, sessionID string) error
	// SearchSessions matches query case-insensitively against titles.
	SearchSessions(ctx context.Context, userID, companyID, query string) ([]*domain.ChatSession, error)
	GetSessionStats(ctx context.Context, sessionID string) (*domain.SessionStats, error)
}
