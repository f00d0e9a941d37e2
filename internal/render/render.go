// Package render formats chat transcripts for a terminal.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/ashureev/mentor-chat/internal/domain"
)

var (
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle     = lipgloss.NewStyle().Faint(true)
)

// Renderer writes messages to an output stream. Styled output uses ANSI
// colors and markdown rendering; plain output is stable text.
type Renderer struct {
	out    io.Writer
	styled bool
	md     *glamour.TermRenderer
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithStyle forces styled or plain output regardless of the stream.
func WithStyle(styled bool) Option {
	return func(r *Renderer) { r.styled = styled }
}

// New creates a Renderer for out. Styling is enabled when out is a terminal.
func New(out io.Writer, opts ...Option) *Renderer {
	r := &Renderer{out: out}
	if f, ok := out.(*os.File); ok {
		r.styled = isatty.IsTerminal(f.Fd())
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.styled {
		// Markdown falls back to raw text if the renderer cannot be built.
		r.md, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(80),
		)
	}
	return r
}

// Styled reports whether ANSI output is enabled.
func (r *Renderer) Styled() bool { return r.styled }

// Format returns the text for one message.
func (r *Renderer) Format(m domain.Message) string {
	var b strings.Builder

	label := "Mentor"
	style := assistantStyle
	if m.Role == domain.RoleUser {
		label, style = "You", userStyle
	}
	header := fmt.Sprintf("%s · %s", label, m.Time)
	b.WriteString(r.paint(style, header))
	b.WriteByte('\n')

	b.WriteString(r.content(m))

	if len(m.Citations) > 0 {
		b.WriteString(r.paint(mutedStyle, "Sources:"))
		b.WriteByte('\n')
		for _, c := range m.Citations {
			label := c.Label
			if label == "" {
				label = c.Href
			}
			fmt.Fprintf(&b, "  - %s <%s>\n", label, c.Href)
		}
	}

	if len(m.FollowUps) > 0 {
		b.WriteString(r.paint(mutedStyle, "Follow-ups:"))
		b.WriteByte('\n')
		for i, f := range m.FollowUps {
			fmt.Fprintf(&b, "  [%d] %s\n", i+1, f)
		}
	}
	return b.String()
}

func (r *Renderer) content(m domain.Message) string {
	text := m.Content
	switch {
	case m.Error:
		text = r.paint(errorStyle, text)
	case r.md != nil && m.Role == domain.RoleAssistant:
		if out, err := r.md.Render(text); err == nil {
			return strings.TrimLeft(out, "\n")
		}
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return text
}

func (r *Renderer) paint(s lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}
	return s.Render(text)
}

// Message writes one message followed by a blank line.
func (r *Renderer) Message(m domain.Message) error {
	_, err := fmt.Fprintln(r.out, r.Format(m))
	return err
}

// Transcript writes every message in order.
func (r *Renderer) Transcript(msgs []domain.Message) error {
	for _, m := range msgs {
		if err := r.Message(m); err != nil {
			return err
		}
	}
	return nil
}

// Status writes a transient status line such as a typing indicator.
func (r *Renderer) Status(text string) error {
	_, err := fmt.Fprintln(r.out, r.paint(mutedStyle, text))
	return err
}
