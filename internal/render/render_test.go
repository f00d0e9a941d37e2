package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ashureev/mentor-chat/internal/domain"
)

func TestFormat_Plain(t *testing.T) {
	r := New(&bytes.Buffer{})
	if r.Styled() {
		t.Fatal("Expected plain output for a non-terminal writer")
	}

	msg := domain.Message{
		ID:        "m-2",
		Role:      domain.RoleAssistant,
		Content:   "Loops repeat code.",
		Time:      "2:05:06 PM",
		Citations: []domain.Citation{{Label: "Unit 3", Href: "https://example.org/u3"}, {Href: "https://example.org/raw"}},
		FollowUps: []string{"Show a for loop", "What about while?"},
	}

	want := strings.Join([]string{
		"Mentor · 2:05:06 PM",
		"Loops repeat code.",
		"Sources:",
		"  - Unit 3 <https://example.org/u3>",
		"  - https://example.org/raw <https://example.org/raw>",
		"Follow-ups:",
		"  [1] Show a for loop",
		"  [2] What about while?",
		"",
	}, "\n")

	if got := r.Format(msg); got != want {
		t.Errorf("Format() =\n%s\nwant\n%s", got, want)
	}
}

func TestFormat_UserMessage(t *testing.T) {
	r := New(&bytes.Buffer{})
	got := r.Format(domain.Message{Role: domain.RoleUser, Content: "hi", Time: "9:00:00 AM"})

	if got != "You · 9:00:00 AM\nhi\n" {
		t.Errorf("Unexpected output %q", got)
	}
}

func TestTranscript(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf)

	err := r.Transcript([]domain.Message{
		{Role: domain.RoleAssistant, Content: "Welcome", Time: "1:00:00 PM"},
		{Role: domain.RoleUser, Content: "Thanks", Time: "1:00:05 PM"},
	})
	if err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if strings.Index(out, "Welcome") > strings.Index(out, "Thanks") {
		t.Errorf("Expected messages in order, got %q", out)
	}
}

func TestFormat_StyledKeepsContent(t *testing.T) {
	r := New(&bytes.Buffer{}, WithStyle(true))
	if !r.Styled() {
		t.Fatal("Expected WithStyle(true) to force styling")
	}

	got := r.Format(domain.Message{Role: domain.RoleAssistant, Content: "Use **bold** text", Time: "1:00:00 PM"})
	for _, want := range []string{"Mentor", "bold", "text"} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected %q in styled output, got %q", want, got)
		}
	}
}
