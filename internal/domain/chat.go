package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ContextMode selects the knowledge scope a session answers from
type ContextMode string

const (
	ContextModeGeneral ContextMode = "general"
	ContextModeSector  ContextMode = "sector"
)

// Valid reports whether m is a known context mode
func (m ContextMode) Valid() bool {
	return m == ContextModeGeneral || m == ContextModeSector
}

// Role is the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// ChatSession represents a persisted conversation between a user and a model
type ChatSession struct {
	ID          string        `json:"id" yaml:"id"`
	Title       string        `json:"title" yaml:"title"`
	Model       string        `json:"model" yaml:"model"`
	ContextMode ContextMode   `json:"context_mode" yaml:"context_mode"`
	Sector      *string       `json:"sector,omitempty" yaml:"sector,omitempty"`
	CompanyID   string        `json:"company_id" yaml:"company_id"`
	UserID      string        `json:"user_id" yaml:"user_id"`
	CreatedAt   time.Time     `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" yaml:"updated_at"`
	Messages    []ChatMessage `json:"messages,omitempty" yaml:"messages,omitempty"`
}

// Validate checks the session invariants
func (s *ChatSession) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	}
	if s.CompanyID == "" || s.UserID == "" {
		return fmt.Errorf("%w: company and user are required", ErrInvalidRequest)
	}
	if !s.ContextMode.Valid() {
		return fmt.Errorf("%w: unknown context mode %q", ErrInvalidRequest, s.ContextMode)
	}
	if s.ContextMode == ContextModeSector && (s.Sector == nil || *s.Sector == "") {
		return fmt.Errorf("%w: sector is required in sector context mode", ErrInvalidRequest)
	}
	if s.UpdatedAt.Before(s.CreatedAt) {
		return fmt.Errorf("%w: updated_at precedes created_at", ErrInvalidRequest)
	}
	return nil
}

// ChatMessage is one turn within a session
type ChatMessage struct {
	ID        string         `json:"id" yaml:"id"`
	Role      Role           `json:"role" yaml:"role"`
	Content   MessageContent `json:"content" yaml:"content"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Model     *string        `json:"model,omitempty" yaml:"model,omitempty"`
	Tokens    *int           `json:"tokens,omitempty" yaml:"tokens,omitempty"`
	Favorite  *bool          `json:"favorite,omitempty" yaml:"favorite,omitempty"`
}

// TokenCount returns the token count, treating a missing value as zero
func (m *ChatMessage) TokenCount() int {
	if m.Tokens == nil {
		return 0
	}
	return *m.Tokens
}

// Block types accepted in structured message content
const (
	BlockTypeText  = "text"
	BlockTypeImage = "image"
)

// ContentBlock is a typed piece of structured message content
type ContentBlock struct {
	Type     string `json:"type" yaml:"type"`
	Text     string `json:"text,omitempty" yaml:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty" yaml:"image_url,omitempty"`
}

// MessageContent holds either plain text or an ordered list of blocks.
// It encodes as a JSON string in the first case and a JSON array in the second.
type MessageContent struct {
	Text   string
	Blocks []ContentBlock
}

// TextContent builds plain text content
func TextContent(text string) MessageContent {
	return MessageContent{Text: text}
}

// BlockContent builds structured content
func BlockContent(blocks ...ContentBlock) MessageContent {
	return MessageContent{Blocks: blocks}
}

// IsStructured reports whether the content is a block list
func (c MessageContent) IsStructured() bool {
	return c.Blocks != nil
}

// PlainText flattens the content to text, dropping image references
func (c MessageContent) PlainText() string {
	if !c.IsStructured() {
		return c.Text
	}
	parts := make([]string, 0, len(c.Blocks))
	for _, b := range c.Blocks {
		if b.Type == BlockTypeText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Validate checks that every block has a known type and a payload
func (c MessageContent) Validate() error {
	for i, b := range c.Blocks {
		switch b.Type {
		case BlockTypeText:
		case BlockTypeImage:
			if b.ImageURL == "" {
				return fmt.Errorf("%w: block %d: image_url is required", ErrInvalidRequest, i)
			}
		default:
			return fmt.Errorf("%w: block %d: unknown type %q", ErrInvalidRequest, i, b.Type)
		}
	}
	return nil
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.IsStructured() {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		blocks := []ContentBlock{}
		if err := json.Unmarshal(data, &blocks); err != nil {
			return err
		}
		*c = MessageContent{Blocks: blocks}
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("content must be a string or a list of blocks: %w", err)
	}
	*c = MessageContent{Text: text}
	return nil
}

// MarshalYAML mirrors the JSON shape
func (c MessageContent) MarshalYAML() (any, error) {
	if c.IsStructured() {
		return c.Blocks, nil
	}
	return c.Text, nil
}

// SessionUpdate carries the mutable session fields; nil means unchanged
type SessionUpdate struct {
	Title       *string      `json:"title,omitempty"`
	Sector      *string      `json:"sector,omitempty"`
	ContextMode *ContextMode `json:"context_mode,omitempty"`
	Model       *string      `json:"model,omitempty"`
}

// IsEmpty reports whether no field is set
func (u SessionUpdate) IsEmpty() bool {
	return u.Title == nil && u.Sector == nil && u.ContextMode == nil && u.Model == nil
}

// Apply copies the supplied fields onto s
func (u SessionUpdate) Apply(s *ChatSession) {
	if u.Title != nil {
		s.Title = *u.Title
	}
	if u.Sector != nil {
		sector := *u.Sector
		s.Sector = &sector
	}
	if u.ContextMode != nil {
		s.ContextMode = *u.ContextMode
	}
	if u.Model != nil {
		s.Model = *u.Model
	}
}

// MessageUpdate carries the only message fields that may change after creation
type MessageUpdate struct {
	Favorite *bool `json:"favorite,omitempty"`
	Tokens   *int  `json:"tokens,omitempty"`
}

// Apply copies the supplied fields onto m
func (u MessageUpdate) Apply(m *ChatMessage) {
	if u.Favorite != nil {
		favorite := *u.Favorite
		m.Favorite = &favorite
	}
	if u.Tokens != nil {
		tokens := *u.Tokens
		m.Tokens = &tokens
	}
}

// SessionStats summarises a session
type SessionStats struct {
	MessageCount int   `json:"message_count" yaml:"message_count"`
	TotalTokens  int   `json:"total_tokens" yaml:"total_tokens"`
	DurationMs   int64 `json:"duration_ms" yaml:"duration_ms"`
}

// ComputeStats derives stats from a session and its messages
func ComputeStats(s *ChatSession, messages []ChatMessage) *SessionStats {
	stats := &SessionStats{
		MessageCount: len(messages),
		DurationMs:   s.UpdatedAt.Sub(s.CreatedAt).Milliseconds(),
	}
	for i := range messages {
		stats.TotalTokens += messages[i].TokenCount()
	}
	return stats
}

// CreateSessionRequest is the request to open a session
type CreateSessionRequest struct {
	Title       string      `json:"title,omitempty"`
	Model       string      `json:"model,omitempty"`
	ContextMode ContextMode `json:"context_mode,omitempty"`
	Sector      *string     `json:"sector,omitempty"`
}

// AddMessageRequest is the request to append a message
type AddMessageRequest struct {
	ID        string         `json:"id,omitempty"`
	Role      Role           `json:"role" binding:"required"`
	Content   MessageContent `json:"content"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Model     *string        `json:"model,omitempty"`
	Tokens    *int           `json:"tokens,omitempty"`
	Favorite  *bool          `json:"favorite,omitempty"`
}

// Now returns the current time in the precision both stores keep
func Now() time.Time {
	return NormalizeTime(time.Now())
}

// NormalizeTime converts t to UTC with microsecond precision
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
