package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/condohub/condochat/internal/domain"
)

// MarkdownExporter exports sessions as a readable transcript
type MarkdownExporter struct{}

// Export exports a session to Markdown format
func (e *MarkdownExporter) Export(doc *Document, w io.Writer) error {
	session := doc.Session

	// Header
	title := session.Title
	if title == "" {
		title = "Session " + session.ID
	}
	if _, err := fmt.Fprintf(w, "# %s\n\n", title); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(w, "**Session:** %s  \n", session.ID)
	_, _ = fmt.Fprintf(w, "**Model:** %s  \n", session.Model)
	_, _ = fmt.Fprintf(w, "**Context:** %s", session.ContextMode)
	if session.Sector != nil {
		_, _ = fmt.Fprintf(w, " (%s)", *session.Sector)
	}
	_, _ = fmt.Fprintf(w, "  \n")
	_, _ = fmt.Fprintf(w, "**Created:** %s  \n", session.CreatedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "**Messages:** %d  \n", doc.Stats.MessageCount)
	_, _ = fmt.Fprintf(w, "**Tokens:** %d\n\n", doc.Stats.TotalTokens)

	_, _ = fmt.Fprintf(w, "---\n\n")
	_, _ = fmt.Fprintf(w, "## Messages\n\n")

	// Messages
	for i, msg := range doc.Messages {
		marker := ""
		if msg.Favorite != nil && *msg.Favorite {
			marker = " ★"
		}
		_, _ = fmt.Fprintf(w, "**%s:** (%s)%s\n\n%s\n\n",
			msg.Role, msg.Timestamp.Format(time.RFC3339), marker, renderContent(msg.Content))

		// Add horizontal rule after each message (except the last one)
		if i < len(doc.Messages)-1 {
			_, _ = fmt.Fprintf(w, "---\n\n")
		}
	}

	return nil
}

func renderContent(content domain.MessageContent) string {
	if !content.IsStructured() {
		return escapeMarkdown(content.Text)
	}

	parts := make([]string, 0, len(content.Blocks))
	for _, b := range content.Blocks {
		switch b.Type {
		case domain.BlockTypeImage:
			parts = append(parts, fmt.Sprintf("![image](%s)", b.ImageURL))
		default:
			parts = append(parts, escapeMarkdown(b.Text))
		}
	}
	return strings.Join(parts, "\n\n")
}

// escapeMarkdown escapes emphasis markers outside fenced code blocks
func escapeMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	result := make([]string, 0, len(lines))
	inCodeBlock := false

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "```"):
			inCodeBlock = !inCodeBlock
		case !inCodeBlock:
			line = strings.ReplaceAll(line, "**", "\\*\\*")
			line = strings.ReplaceAll(line, "__", "\\_\\_")
		}
		result = append(result, line)
	}

	return strings.Join(result, "\n")
}

// Extension returns the file extension for this format
func (e *MarkdownExporter) Extension() string {
	return "md"
}

func (e *MarkdownExporter) ContentType() string {
	return "text/markdown; charset=utf-8"
}
