package export

import (
	"fmt"
	"io"
	"time"

	"github.com/condohub/condochat/internal/domain"
)

// FormatVersion is bumped whenever the Document layout changes
const FormatVersion = 1

// Document is the portable form of a session
type Document struct {
	Version    int                  `json:"version" yaml:"version"`
	ExportedAt time.Time            `json:"exported_at" yaml:"exported_at"`
	Session    domain.ChatSession   `json:"session" yaml:"session"`
	Stats      domain.SessionStats  `json:"stats" yaml:"stats"`
	Messages   []domain.ChatMessage `json:"messages" yaml:"messages"`
}

// NewDocument snapshots session and its messages. The session header in the
// document never repeats the messages.
func NewDocument(session *domain.ChatSession, exportedAt time.Time) *Document {
	header := *session
	header.Messages = nil

	messages := session.Messages
	if messages == nil {
		messages = []domain.ChatMessage{}
	}

	return &Document{
		Version:    FormatVersion,
		ExportedAt: exportedAt,
		Session:    header,
		Stats:      *domain.ComputeStats(session, messages),
		Messages:   messages,
	}
}

// Exporter defines the interface for all export formats
type Exporter interface {
	Export(doc *Document, w io.Writer) error
	Extension() string
	ContentType() string
}

// NewExporter creates a new exporter based on format
func NewExporter(format string) (Exporter, error) {
	switch format {
	case "", "json":
		return &JSONExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	default:
		return nil, fmt.Errorf("%w: %s (supported: json, yaml, md)", domain.ErrUnsupportedFormat, format)
	}
}
