package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/mentor-chat/internal/agent"
	"github.com/ashureev/mentor-chat/internal/domain"
	"github.com/ashureev/mentor-chat/internal/render"
	"github.com/ashureev/mentor-chat/internal/session"
)

const replHelp = `Type a message and press Enter to send it.
  /follow N   copy follow-up N of the last reply into the draft
  /send       send the draft
  /draft      show the draft
  /history    show the whole conversation
  /quit       leave`

func newChatCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			sess, err := flags.resolveSession()
			if err != nil {
				return err
			}
			id := domain.Identity{LearnerID: sess.LearnerID, CourseID: sess.CourseID}

			client, err := agent.NewClient(ctx, flags.transportConfig(sess), slog.Default())
			if err != nil {
				return fmt.Errorf("connect to Mentor: %w", err)
			}
			defer client.Close()

			st, closeStore, err := flags.openScopedStore(ctx, id)
			if err != nil {
				return err
			}
			defer closeStore()

			m, err := session.New(ctx, id, client, st)
			if err != nil {
				return err
			}
			defer m.Close()

			return runREPL(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), m, render.New(cmd.OutOrStdout()))
		},
	}
}

// runREPL drives m from line-oriented input until EOF, /quit or ctx ends.
func runREPL(ctx context.Context, in io.Reader, out io.Writer, m *session.Manager, r *render.Renderer) error {
	if err := r.Transcript(m.State().Messages); err != nil {
		return err
	}
	fmt.Fprintln(out, "Type /help for commands.")

	// Stops the reader goroutine when the loop returns early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			quit, err := handleLine(ctx, line, out, m, r)
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, line string, out io.Writer, m *session.Manager, r *render.Renderer) (quit bool, err error) {
	trimmed := strings.TrimSpace(line)
	cmd, arg, _ := strings.Cut(trimmed, " ")

	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(out, replHelp)
	case "/history":
		return false, r.Transcript(m.State().Messages)
	case "/draft":
		fmt.Fprintf(out, "Draft: %s\n", m.PendingInput())
	case "/follow":
		prompt, err := followUp(m.State(), strings.TrimSpace(arg))
		if err != nil {
			fmt.Fprintln(out, err)
			return false, nil
		}
		if err := m.SelectFollowUp(prompt); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Draft: %s (type /send to ask)\n", prompt)
	case "/send":
		return false, submit(ctx, m.PendingInput(), m, r)
	default:
		return false, submit(ctx, line, m, r)
	}
	return false, nil
}

// submit sends text and prints the reply. Rejected input is ignored.
func submit(ctx context.Context, text string, m *session.Manager, r *render.Renderer) error {
	if strings.TrimSpace(text) != "" {
		_ = r.Status("Mentor is typing...")
	}
	snap, err := m.Submit(ctx, text)
	if errors.Is(err, session.ErrInputRejected) {
		return nil
	}
	if err != nil {
		return err
	}
	if last, ok := snap.Last(); ok {
		return r.Message(last)
	}
	return nil
}

// followUp returns the n-th (1-based) follow-up of the newest assistant
// message.
func followUp(snap session.Snapshot, arg string) (string, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return "", errors.New("usage: /follow N")
	}
	for i := len(snap.Messages) - 1; i >= 0; i-- {
		msg := snap.Messages[i]
		if msg.Role != domain.RoleAssistant {
			continue
		}
		if n > len(msg.FollowUps) {
			return "", fmt.Errorf("no follow-up %d on the last reply", n)
		}
		return msg.FollowUps[n-1], nil
	}
	return "", errors.New("no reply to follow up on")
}
