// Package render turns message content into what the user sees. Bot content is
// rendered from markdown and sanitized; user and system content is shown as text.
package render

import (
	"bytes"
	"html"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/chatline/pkg/conversation"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

type Renderer interface {
	Render(text string) string
}

// Markdown renders markdown to HTML and strips anything the UGC policy does not allow.
type Markdown struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

var _ Renderer = (*Markdown)(nil)

func NewMarkdown() *Markdown {
	return &Markdown{
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy: bluemonday.UGCPolicy(),
	}
}

func (m *Markdown) Render(text string) string {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(text), &buf); err != nil {
		log.Warn().Err(err).Msg("Could not render markdown, falling back to plain text")
		return Plain{}.Render(text)
	}
	return m.policy.Sanitize(buf.String())
}

// Plain escapes text for display inside markup.
type Plain struct{}

var _ Renderer = Plain{}

func (Plain) Render(text string) string {
	return html.EscapeString(text)
}

// Terminal renders markdown for a terminal with glamour.
type Terminal struct {
	r *glamour.TermRenderer
}

var _ Renderer = (*Terminal)(nil)

func NewTerminal(style string, wordWrap int) (*Terminal, error) {
	if style == "" {
		style = "dark"
	}
	options := []glamour.TermRendererOption{
		glamour.WithStylePath(style),
	}
	if wordWrap > 0 {
		options = append(options, glamour.WithWordWrap(wordWrap))
	}
	r, err := glamour.NewTermRenderer(options...)
	if err != nil {
		return nil, errors.Wrapf(err, "could not create terminal renderer with style %s", style)
	}
	return &Terminal{r: r}, nil
}

func (t *Terminal) Render(text string) string {
	out, err := t.r.Render(text)
	if err != nil {
		log.Warn().Err(err).Msg("Could not render markdown for terminal")
		return text
	}
	return out
}

// Text leaves content untouched.
type Text struct{}

func (Text) Render(text string) string {
	return text
}

// Message renders a message for display: bot content goes through the formatted
// renderer, user and system content through the plain one.
func Message(formatted Renderer, plain Renderer, msg conversation.Message) string {
	if msg.Type == conversation.MessageTypeBot {
		return formatted.Render(msg.Content)
	}
	return plain.Render(msg.Content)
}

// Transcript renders all messages of a record for a terminal, skipping the empty
// system messages that only record title changes.
func Transcript(term Renderer, rec *conversation.Record) string {
	var sb strings.Builder
	for _, msg := range rec.Messages {
		if msg.Type == conversation.MessageTypeSystem && msg.Content == "" {
			continue
		}
		sb.WriteString(label(msg.Type))
		sb.WriteString("\n")
		sb.WriteString(strings.TrimRight(Message(term, Text{}, msg), "\n"))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func label(t conversation.MessageType) string {
	switch t {
	case conversation.MessageTypeUser:
		return "> you"
	case conversation.MessageTypeBot:
		return "> assistant"
	default:
		return "> system"
	}
}
