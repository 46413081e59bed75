package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/condohub/condochat/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// pgQuerier is satisfied by both the pool and a transaction
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the durable ChatStore backed by PostgreSQL.
// It does not retry and does not cache; every call is a round-trip.
type PostgresStore struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewPostgresStore creates a durable store on top of pool
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool, now: domain.Now}
}

const pgSessionColumns = `id, title, model, context_mode, sector, company_id, user_id, created_at, updated_at`

const pgMessageColumns = `id, role, content, created_at, model, tokens, favorite`

// SaveSession upserts a session and the messages it carries
func (s *PostgresStore) SaveSession(ctx context.Context, session *domain.ChatSession) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO chat_sessions (`+pgSessionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				title = EXCLUDED.title,
				model = EXCLUDED.model,
				context_mode = EXCLUDED.context_mode,
				sector = EXCLUDED.sector,
				company_id = EXCLUDED.company_id,
				user_id = EXCLUDED.user_id,
				updated_at = EXCLUDED.updated_at
		`, session.ID, session.Title, session.Model, string(session.ContextMode), session.Sector,
			session.CompanyID, session.UserID, session.CreatedAt, session.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}

		for i := range session.Messages {
			msg := &session.Messages[i]
			content, err := json.Marshal(msg.Content)
			if err != nil {
				return fmt.Errorf("encode content of message %s: %w", msg.ID, err)
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO chat_messages (session_id, `+pgMessageColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (session_id, id) DO UPDATE SET
					tokens = EXCLUDED.tokens,
					favorite = EXCLUDED.favorite
			`, session.ID, msg.ID, string(msg.Role), content, msg.Timestamp,
				msg.Model, msg.Tokens, msg.Favorite); err != nil {
				return fmt.Errorf("upsert message %s: %w", msg.ID, err)
			}
		}
		return nil
	})
	return storeErr(StorePostgres, "SaveSession", err)
}

// GetSession reads the session row and its messages concurrently
func (s *PostgresStore) GetSession(ctx context.Context, id string) (*domain.ChatSession, error) {
	var (
		session  *domain.ChatSession
		messages []domain.ChatMessage
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		session, err = scanPgSession(s.db.QueryRow(gctx,
			`SELECT `+pgSessionColumns+` FROM chat_sessions WHERE id = $1`, id))
		return err
	})
	g.Go(func() error {
		var err error
		messages, err = s.queryMessages(gctx, s.db, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, storeErr(StorePostgres, "GetSession", err)
	}

	if session == nil {
		return nil, nil
	}
	session.Messages = messages
	return session, nil
}

// GetUserSessions lists a user's sessions within a company, newest first
func (s *PostgresStore) GetUserSessions(ctx context.Context, userID, companyID string) ([]*domain.ChatSession, error) {
	sessions, err := s.querySessions(ctx, `
		SELECT `+pgSessionColumns+`
		FROM chat_sessions
		WHERE user_id = $1 AND company_id = $2
		ORDER BY updated_at DESC
	`, userID, companyID)
	return sessions, storeErr(StorePostgres, "GetUserSessions", err)
}

// UpdateSession applies the supplied fields and refreshes updated_at
func (s *PostgresStore) UpdateSession(ctx context.Context, id string, update domain.SessionUpdate) (*domain.ChatSession, error) {
	sets := []string{}
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Title != nil {
		add("title", *update.Title)
	}
	if update.Sector != nil {
		add("sector", *update.Sector)
	}
	if update.ContextMode != nil {
		add("context_mode", string(*update.ContextMode))
	}
	if update.Model != nil {
		add("model", *update.Model)
	}
	args = append(args, s.now())
	sets = append(sets, fmt.Sprintf("updated_at = GREATEST(created_at, $%d)", len(args)))

	session, err := scanPgSession(s.db.QueryRow(ctx, `
		UPDATE chat_sessions SET `+strings.Join(sets, ", ")+`
		WHERE id = $1
		RETURNING `+pgSessionColumns, args...))
	return session, storeErr(StorePostgres, "UpdateSession", err)
}

// DeleteSession deletes a session; messages go with it through the cascade
func (s *PostgresStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM chat_sessions WHERE id = $1`, id)
	if err != nil {
		return false, storeErr(StorePostgres, "DeleteSession", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AddMessage inserts a message and moves the session's updated_at forward
func (s *PostgresStore) AddMessage(ctx context.Context, sessionID string, message *domain.ChatMessage) error {
	content, err := json.Marshal(message.Content)
	if err != nil {
		return storeErr(StorePostgres, "AddMessage", fmt.Errorf("encode content: %w", err))
	}

	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO chat_messages (session_id, `+pgMessageColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, sessionID, message.ID, string(message.Role), content, message.Timestamp,
			message.Model, message.Tokens, message.Favorite); err != nil {
			return fmt.Errorf("insert message %s: %w", message.ID, err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE chat_sessions SET updated_at = GREATEST(updated_at, $2) WHERE id = $1
		`, sessionID, message.Timestamp); err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		return nil
	})
	return storeErr(StorePostgres, "AddMessage", err)
}

// GetMessages returns a session's messages in timestamp order
func (s *PostgresStore) GetMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	messages, err := s.queryMessages(ctx, s.db, sessionID)
	return messages, storeErr(StorePostgres, "GetMessages", err)
}

// UpdateMessage changes favorite and tokens of one message
func (s *PostgresStore) UpdateMessage(ctx context.Context, sessionID, messageID string, update domain.MessageUpdate) (*domain.ChatMessage, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE chat_messages SET
			favorite = COALESCE($3, favorite),
			tokens = COALESCE($4, tokens)
		WHERE session_id = $1 AND id = $2
		RETURNING `+pgMessageColumns,
		sessionID, messageID, update.Favorite, update.Tokens)

	msg, err := scanPgMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(StorePostgres, "UpdateMessage", err)
	}
	return msg, nil
}

// ClearMessages deletes every message of a session
func (s *PostgresStore) ClearMessages(ctx context.Context, sessionID string) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM chat_messages WHERE session_id = $1`, sessionID); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE chat_sessions SET updated_at = GREATEST(created_at, $2) WHERE id = $1
		`, sessionID, s.now()); err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		return nil
	})
	return storeErr(StorePostgres, "ClearMessages", err)
}

// SearchSessions matches query against session titles ignoring case
func (s *PostgresStore) SearchSessions(ctx context.Context, userID, companyID, query string) ([]*domain.ChatSession, error) {
	sessions, err := s.querySessions(ctx, `
		SELECT `+pgSessionColumns+`
		FROM chat_sessions
		WHERE user_id = $1 AND company_id = $2 AND strpos(lower(title), lower($3)) > 0
		ORDER BY updated_at DESC
	`, userID, companyID, query)
	return sessions, storeErr(StorePostgres, "SearchSessions", err)
}

// GetSessionStats aggregates message count and tokens in one query
func (s *PostgresStore) GetSessionStats(ctx context.Context, sessionID string) (*domain.SessionStats, error) {
	var (
		createdAt, updatedAt time.Time
		count, tokens        int64
	)
	err := s.db.QueryRow(ctx, `
		SELECT s.created_at, s.updated_at, COUNT(m.id), COALESCE(SUM(m.tokens), 0)
		FROM chat_sessions s
		LEFT JOIN chat_messages m ON m.session_id = s.id
		WHERE s.id = $1
		GROUP BY s.id
	`, sessionID).Scan(&createdAt, &updatedAt, &count, &tokens)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(StorePostgres, "GetSessionStats", err)
	}

	return &domain.SessionStats{
		MessageCount: int(count),
		TotalTokens:  int(tokens),
		DurationMs:   updatedAt.Sub(createdAt).Milliseconds(),
	}, nil
}

func (s *PostgresStore) querySessions(ctx context.Context, sql string, args ...any) ([]*domain.ChatSession, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []*domain.ChatSession{}
	for rows.Next() {
		session, err := scanPgSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) queryMessages(ctx context.Context, q pgQuerier, sessionID string) ([]domain.ChatMessage, error) {
	rows, err := q.Query(ctx, `
		SELECT `+pgMessageColumns+`
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at ASC, seq ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.ChatMessage{}
	for rows.Next() {
		msg, err := scanPgMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// scanPgSession returns nil, nil when the row does not exist
func scanPgSession(row pgx.Row) (*domain.ChatSession, error) {
	session := &domain.ChatSession{}
	var contextMode string

	err := row.Scan(&session.ID, &session.Title, &session.Model, &contextMode, &session.Sector,
		&session.CompanyID, &session.UserID, &session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	session.ContextMode = domain.ContextMode(contextMode)
	session.CreatedAt = session.CreatedAt.UTC()
	session.UpdatedAt = session.UpdatedAt.UTC()
	return session, nil
}

func scanPgMessage(row pgx.Row) (*domain.ChatMessage, error) {
	msg := &domain.ChatMessage{}
	var (
		role    string
		content []byte
	)

	if err := row.Scan(&msg.ID, &role, &content, &msg.Timestamp, &msg.Model, &msg.Tokens, &msg.Favorite); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(content, &msg.Content); err != nil {
		return nil, fmt.Errorf("decode content of message %s: %w", msg.ID, err)
	}

	msg.Role = domain.Role(role)
	msg.Timestamp = msg.Timestamp.UTC()
	return msg, nil
}
