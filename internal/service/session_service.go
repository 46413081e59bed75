package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/condohub/condochat/internal/config"
	"github.com/condohub/condochat/internal/domain"
	"github.com/condohub/condochat/internal/export"
	"github.com/condohub/condochat/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Owner identifies the tenant a request acts for
type Owner struct {
	CompanyID string
	UserID    string
}

// ExportResult is a rendered session export
type ExportResult struct {
	Filename    string
	ContentType string
	Body        []byte
}

// SessionService handles chat session operations
type SessionService struct {
	cfg    *config.Config
	store  repository.ChatStore
	logger *zap.Logger
}

// NewSessionService creates a new session service
func NewSessionService(cfg *config.Config, store repository.ChatStore, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		cfg:    cfg,
		store:  store,
		logger: logger,
	}
}

// Degraded reports whether the store is running on its fallback
func (s *SessionService) Degraded() bool {
	d, ok := s.store.(interface{ Degraded() bool })
	return ok && d.Degraded()
}

// CreateSession opens and persists a new session
func (s *SessionService) CreateSession(ctx context.Context, owner Owner, req *domain.CreateSessionRequest) (*domain.ChatSession, error) {
	now := domain.Now()
	session := &domain.ChatSession{
		ID:          uuid.New().String(),
		Title:       strings.TrimSpace(req.Title),
		Model:       req.Model,
		ContextMode: req.ContextMode,
		Sector:      req.Sector,
		CompanyID:   owner.CompanyID,
		UserID:      owner.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Messages:    []domain.ChatMessage{},
	}
	if session.Title == "" {
		session.Title = s.cfg.Session.DefaultTitle
	}
	if session.Model == "" {
		session.Model = s.cfg.Session.DefaultModel
	}
	if session.ContextMode == "" {
		session.ContextMode = domain.ContextModeGeneral
	}

	if err := session.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	s.logger.Debug("session created",
		zap.String("session_id", session.ID),
		zap.String("company_id", owner.CompanyID),
	)
	return session, nil
}

// GetSession returns a session with its messages
func (s *SessionService) GetSession(ctx context.Context, owner Owner, id string) (*domain.ChatSession, error) {
	return s.ownedSession(ctx, owner, id)
}

// ownedSession loads a session, reporting sessions of other tenants as absent.
// Per-id operations call it before touching the store.
func (s *SessionService) ownedSession(ctx context.Context, owner Owner, id string) (*domain.ChatSession, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil || session.CompanyID != owner.CompanyID || session.UserID != owner.UserID {
		return nil, domain.ErrNotFound
	}
	return session, nil
}

// ListSessions lists the owner's sessions, most recently updated first
func (s *SessionService) ListSessions(ctx context.Context, owner Owner) ([]*domain.ChatSession, error) {
	return s.store.GetUserSessions(ctx, owner.UserID, owner.CompanyID)
}

// SearchSessions finds the owner's sessions whose title contains query
func (s *SessionService) SearchSessions(ctx context.Context, owner Owner, query string) ([]*domain.ChatSession, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query is required", domain.ErrInvalidRequest)
	}
	return s.store.SearchSessions(ctx, owner.UserID, owner.CompanyID, query)
}

// UpdateSession changes title, sector, context mode or model
func (s *SessionService) UpdateSession(ctx context.Context, owner Owner, id string, update domain.SessionUpdate) (*domain.ChatSession, error) {
	if update.IsEmpty() {
		return nil, fmt.Errorf("%w: nothing to update", domain.ErrInvalidRequest)
	}
	if update.ContextMode != nil && !update.ContextMode.Valid() {
		return nil, fmt.Errorf("%w: unknown context mode %q", domain.ErrInvalidRequest, *update.ContextMode)
	}
	if update.Title != nil && strings.TrimSpace(*update.Title) == "" {
		return nil, fmt.Errorf("%w: title cannot be empty", domain.ErrInvalidRequest)
	}

	if update.Sector != nil && *update.Sector == "" && (update.ContextMode == nil || *update.ContextMode == domain.ContextModeSector) {
		return nil, fmt.Errorf("%w: sector cannot be empty", domain.ErrInvalidRequest)
	}

	current, err := s.ownedSession(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	// Switching to sector mode needs a sector, either supplied now or already set
	if update.ContextMode != nil && *update.ContextMode == domain.ContextModeSector && update.Sector == nil {
		if current.Sector == nil || *current.Sector == "" {
			return nil, fmt.Errorf("%w: sector is required in sector context mode", domain.ErrInvalidRequest)
		}
	}

	session, err := s.store.UpdateSession(ctx, id, update)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrNotFound
	}
	return session, nil
}

// DeleteSession removes a session and its messages
func (s *SessionService) DeleteSession(ctx context.Context, owner Owner, id string) error {
	if _, err := s.ownedSession(ctx, owner, id); err != nil {
		return err
	}
	deleted, err := s.store.DeleteSession(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrNotFound
	}
	return nil
}

// AddMessage appends a message to a session
func (s *SessionService) AddMessage(ctx context.Context, owner Owner, sessionID string, req *domain.AddMessageRequest) (*domain.ChatMessage, error) {
	if !req.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidRequest, req.Role)
	}
	if err := req.Content.Validate(); err != nil {
		return nil, err
	}
	if req.Tokens != nil && *req.Tokens < 0 {
		return nil, fmt.Errorf("%w: tokens cannot be negative", domain.ErrInvalidRequest)
	}

	session, err := s.ownedSession(ctx, owner, sessionID)
	if err != nil {
		return nil, err
	}
	if req.ID != "" {
		for _, existing := range session.Messages {
			if existing.ID == req.ID {
				return nil, fmt.Errorf("%w: message %q already exists", domain.ErrInvalidRequest, req.ID)
			}
		}
	}

	message := &domain.ChatMessage{
		ID:       req.ID,
		Role:     req.Role,
		Content:  req.Content,
		Model:    req.Model,
		Tokens:   req.Tokens,
		Favorite: req.Favorite,
	}
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		message.Timestamp = domain.NormalizeTime(*req.Timestamp)
	} else {
		message.Timestamp = domain.Now()
	}

	if err := s.store.AddMessage(ctx, sessionID, message); err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}
	return message, nil
}

// GetMessages returns a session's messages in timestamp order
func (s *SessionService) GetMessages(ctx context.Context, owner Owner, sessionID string) ([]domain.ChatMessage, error) {
	if _, err := s.ownedSession(ctx, owner, sessionID); err != nil {
		return nil, err
	}
	return s.store.GetMessages(ctx, sessionID)
}

// UpdateMessage sets favorite and/or tokens on a message
func (s *SessionService) UpdateMessage(ctx context.Context, owner Owner, sessionID, messageID string, update domain.MessageUpdate) (*domain.ChatMessage, error) {
	if update.Favorite == nil && update.Tokens == nil {
		return nil, fmt.Errorf("%w: nothing to update", domain.ErrInvalidRequest)
	}
	if update.Tokens != nil && *update.Tokens < 0 {
		return nil, fmt.Errorf("%w: tokens cannot be negative", domain.ErrInvalidRequest)
	}

	if _, err := s.ownedSession(ctx, owner, sessionID); err != nil {
		return nil, err
	}

	message, err := s.store.UpdateMessage(ctx, sessionID, messageID, update)
	if err != nil {
		return nil, err
	}
	if message == nil {
		return nil, domain.ErrNotFound
	}
	return message, nil
}

// ClearSession drops all messages and returns the emptied session
func (s *SessionService) ClearSession(ctx context.Context, owner Owner, sessionID string) (*domain.ChatSession, error) {
	if _, err := s.ownedSession(ctx, owner, sessionID); err != nil {
		return nil, err
	}
	if err := s.store.ClearMessages(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("clear messages: %w", err)
	}
	return s.ownedSession(ctx, owner, sessionID)
}

// GetStats returns message count, token total and duration of a session
func (s *SessionService) GetStats(ctx context.Context, owner Owner, sessionID string) (*domain.SessionStats, error) {
	if _, err := s.ownedSession(ctx, owner, sessionID); err != nil {
		return nil, err
	}
	stats, err := s.store.GetSessionStats(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		return nil, domain.ErrNotFound
	}
	return stats, nil
}

// ExportSession renders a session in the given format (json, yaml or md)
func (s *SessionService) ExportSession(ctx context.Context, owner Owner, sessionID, format string) (*ExportResult, error) {
	exporter, err := export.NewExporter(format)
	if err != nil {
		return nil, err
	}

	session, err := s.ownedSession(ctx, owner, sessionID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := exporter.Export(export.NewDocument(session, domain.Now()), &buf); err != nil {
		return nil, fmt.Errorf("export session %s: %w", sessionID, err)
	}

	return &ExportResult{
		Filename:    fmt.Sprintf("chat-%s.%s", session.ID, exporter.Extension()),
		ContentType: exporter.ContentType(),
		Body:        buf.Bytes(),
	}, nil
}
