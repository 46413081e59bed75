package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/condohub/condochat/internal/domain"
)

// VolatileStore is a ChatStore kept in an in-process SQLite database.
// Nothing it holds survives a restart.
type VolatileStore struct {
	db  *DB
	now func() time.Time
}

// NewVolatileStore creates a volatile store on db
func NewVolatileStore(db *DB) *VolatileStore {
	return &VolatileStore{db: db, now: domain.Now}
}

// OpenVolatileStore opens a fresh in-memory database and wraps it
func OpenVolatileStore() (*VolatileStore, error) {
	db, err := NewDB(MemoryDSN)
	if err != nil {
		return nil, err
	}
	return NewVolatileStore(db), nil
}

// Close releases the underlying database
func (s *VolatileStore) Close() error {
	return s.db.Close()
}

const sqliteSessionColumns = `id, title, model, context_mode, sector, company_id, user_id, created_at, updated_at`

const sqliteMessageColumns = `id, role, content, created_at, model, tokens, favorite`

// SaveSession upserts a session and the messages it carries
func (s *VolatileStore) SaveSession(ctx context.Context, session *domain.ChatSession) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chat_sessions (`+sqliteSessionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				title = excluded.title,
				model = excluded.model,
				context_mode = excluded.context_mode,
				sector = excluded.sector,
				company_id = excluded.company_id,
				user_id = excluded.user_id,
				updated_at = excluded.updated_at
		`, session.ID, session.Title, session.Model, string(session.ContextMode), nullString(session.Sector),
			session.CompanyID, session.UserID, session.CreatedAt.UnixMicro(), session.UpdatedAt.UnixMicro())
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}

		for i := range session.Messages {
			msg := &session.Messages[i]
			content, err := json.Marshal(msg.Content)
			if err != nil {
				return fmt.Errorf("encode content of message %s: %w", msg.ID, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO chat_messages (session_id, `+sqliteMessageColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (session_id, id) DO UPDATE SET
					tokens = excluded.tokens,
					favorite = excluded.favorite
			`, session.ID, msg.ID, string(msg.Role), string(content), msg.Timestamp.UnixMicro(),
				nullString(msg.Model), nullInt(msg.Tokens), nullBool(msg.Favorite)); err != nil {
				return fmt.Errorf("upsert message %s: %w", msg.ID, err)
			}
		}
		return nil
	})
	return storeErr(StoreVolatile, "SaveSession", err)
}

// GetSession returns the session with its messages
func (s *VolatileStore) GetSession(ctx context.Context, id string) (*domain.ChatSession, error) {
	session, err := s.getSession(ctx, s.db, id)
	if err != nil || session == nil {
		return nil, storeErr(StoreVolatile, "GetSession", err)
	}

	messages, err := s.queryMessages(ctx, id)
	if err != nil {
		return nil, storeErr(StoreVolatile, "GetSession", err)
	}
	session.Messages = messages
	return session, nil
}

// GetUserSessions lists a user's sessions within a company, newest first
func (s *VolatileStore) GetUserSessions(ctx context.Context, userID, companyID string) ([]*domain.ChatSession, error) {
	sessions, err := s.userSessions(ctx, userID, companyID)
	return sessions, storeErr(StoreVolatile, "GetUserSessions", err)
}

// UpdateSession applies the supplied fields and refreshes updated_at
func (s *VolatileStore) UpdateSession(ctx context.Context, id string, update domain.SessionUpdate) (*domain.ChatSession, error) {
	var session *domain.ChatSession
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		session, err = s.getSession(ctx, tx, id)
		if err != nil || session == nil {
			return err
		}

		update.Apply(session)
		session.UpdatedAt = laterOf(session.CreatedAt, s.now())

		_, err = tx.ExecContext(ctx, `
			UPDATE chat_sessions
			SET title = ?, model = ?, context_mode = ?, sector = ?, updated_at = ?
			WHERE id = ?
		`, session.Title, session.Model, string(session.ContextMode), nullString(session.Sector),
			session.UpdatedAt.UnixMicro(), id)
		return err
	})
	if err != nil {
		return nil, storeErr(StoreVolatile, "UpdateSession", err)
	}
	return session, nil
}

// DeleteSession deletes a session and, through the cascade, its messages
func (s *VolatileStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id)
	if err != nil {
		return false, storeErr(StoreVolatile, "DeleteSession", err)
	}

	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// AddMessage inserts a message; the parent session must exist
func (s *VolatileStore) AddMessage(ctx context.Context, sessionID string, message *domain.ChatMessage) error {
	content, err := json.Marshal(message.Content)
	if err != nil {
		return storeErr(StoreVolatile, "AddMessage", fmt.Errorf("encode content: %w", err))
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_messages (session_id, `+sqliteMessageColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, sessionID, message.ID, string(message.Role), string(content), message.Timestamp.UnixMicro(),
			nullString(message.Model), nullInt(message.Tokens), nullBool(message.Favorite)); err != nil {
			return fmt.Errorf("insert message %s: %w", message.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE chat_sessions SET updated_at = MAX(updated_at, ?) WHERE id = ?
		`, message.Timestamp.UnixMicro(), sessionID); err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		return nil
	})
	return storeErr(StoreVolatile, "AddMessage", err)
}

// GetMessages returns a session's messages in timestamp order
func (s *VolatileStore) GetMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	messages, err := s.queryMessages(ctx, sessionID)
	return messages, storeErr(StoreVolatile, "GetMessages", err)
}

// UpdateMessage changes favorite and tokens of one message
func (s *VolatileStore) UpdateMessage(ctx context.Context, sessionID, messageID string, update domain.MessageUpdate) (*domain.ChatMessage, error) {
	var msg *domain.ChatMessage
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE chat_messages SET
				favorite = COALESCE(?, favorite),
				tokens = COALESCE(?, tokens)
			WHERE session_id = ? AND id = ?
		`, nullBool(update.Favorite), nullInt(update.Tokens), sessionID, messageID)
		if err != nil {
			return err
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return nil
		}

		msg, err = scanSqliteMessage(tx.QueryRowContext(ctx, `
			SELECT `+sqliteMessageColumns+` FROM chat_messages WHERE session_id = ? AND id = ?
		`, sessionID, messageID))
		return err
	})
	if err != nil {
		return nil, storeErr(StoreVolatile, "UpdateMessage", err)
	}
	return msg, nil
}

// ClearMessages deletes every message of a session
func (s *VolatileStore) ClearMessages(ctx context.Context, sessionID string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE chat_sessions SET updated_at = MAX(created_at, ?) WHERE id = ?
		`, s.now().UnixMicro(), sessionID); err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		return nil
	})
	return storeErr(StoreVolatile, "ClearMessages", err)
}

// SearchSessions matches query against session titles ignoring case.
// Filtering happens in Go because SQLite's lower() only folds ASCII.
func (s *VolatileStore) SearchSessions(ctx context.Context, userID, companyID, query string) ([]*domain.ChatSession, error) {
	sessions, err := s.userSessions(ctx, userID, companyID)
	if err != nil {
		return nil, storeErr(StoreVolatile, "SearchSessions", err)
	}

	needle := strings.ToLower(query)
	matches := []*domain.ChatSession{}
	for _, session := range sessions {
		if strings.Contains(strings.ToLower(session.Title), needle) {
			matches = append(matches, session)
		}
	}
	return matches, nil
}

// GetSessionStats aggregates message count and tokens
func (s *VolatileStore) GetSessionStats(ctx context.Context, sessionID string) (*domain.SessionStats, error) {
	var createdAt, updatedAt, count, tokens int64
	err := s.db.QueryRowContext(ctx, `
		SELECT s.created_at, s.updated_at, COUNT(m.id), COALESCE(SUM(m.tokens), 0)
		FROM chat_sessions s
		LEFT JOIN chat_messages m ON m.session_id = s.id
		WHERE s.id = ?
		GROUP BY s.id
	`, sessionID).Scan(&createdAt, &updatedAt, &count, &tokens)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(StoreVolatile, "GetSessionStats", err)
	}

	return &domain.SessionStats{
		MessageCount: int(count),
		TotalTokens:  int(tokens),
		DurationMs:   (updatedAt - createdAt) / 1000,
	}, nil
}

type sqliteQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *VolatileStore) getSession(ctx context.Context, q sqliteQuerier, id string) (*domain.ChatSession, error) {
	session, err := scanSqliteSession(q.QueryRowContext(ctx,
		`SELECT `+sqliteSessionColumns+` FROM chat_sessions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return session, err
}

func (s *VolatileStore) userSessions(ctx context.Context, userID, companyID string) ([]*domain.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteSessionColumns+`
		FROM chat_sessions
		WHERE user_id = ? AND company_id = ?
		ORDER BY updated_at DESC
	`, userID, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []*domain.ChatSession{}
	for rows.Next() {
		session, err := scanSqliteSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *VolatileStore) queryMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteMessageColumns+`
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.ChatMessage{}
	for rows.Next() {
		msg, err := scanSqliteMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func (s *VolatileStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

func scanSqliteSession(row sqliteScanner) (*domain.ChatSession, error) {
	session := &domain.ChatSession{}
	var (
		contextMode          string
		sector               sql.NullString
		createdAt, updatedAt int64
	)

	if err := row.Scan(&session.ID, &session.Title, &session.Model, &contextMode, &sector,
		&session.CompanyID, &session.UserID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	session.ContextMode = domain.ContextMode(contextMode)
	if sector.Valid {
		session.Sector = &sector.String
	}
	session.CreatedAt = time.UnixMicro(createdAt).UTC()
	session.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return session, nil
}

func scanSqliteMessage(row sqliteScanner) (*domain.ChatMessage, error) {
	msg := &domain.ChatMessage{}
	var (
		role, content string
		createdAt     int64
		model         sql.NullString
		tokens        sql.NullInt64
		favorite      sql.NullBool
	)

	if err := row.Scan(&msg.ID, &role, &content, &createdAt, &model, &tokens, &favorite); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(content), &msg.Content); err != nil {
		return nil, fmt.Errorf("decode content of message %s: %w", msg.ID, err)
	}

	msg.Role = domain.Role(role)
	msg.Timestamp = time.UnixMicro(createdAt).UTC()
	if model.Valid {
		msg.Model = &model.String
	}
	if tokens.Valid {
		n := int(tokens.Int64)
		msg.Tokens = &n
	}
	if favorite.Valid {
		msg.Favorite = &favorite.Bool
	}
	return msg, nil
}

// Optional columns are bound as plain values or nil

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullBool(v *bool) any {
	if v == nil {
		return nil
	}
	if *v {
		return int64(1)
	}
	return int64(0)
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
