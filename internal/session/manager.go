// Package session implements the chat session manager: the dialogue log,
// the continuation token and the Idle/Awaiting request lifecycle.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/mentor-chat/internal/agent"
	"github.com/ashureev/mentor-chat/internal/domain"
	"github.com/ashureev/mentor-chat/internal/store"
)

// Welcome message shown when no history exists.
const (
	WelcomeID   = "welcome"
	WelcomeText = "Hi! I'm Mentor, your course assistant. How can I help you today?"
)

// ErrorPrefix starts the content of every assistant message produced by a
// failed exchange.
const ErrorPrefix = "Sorry, I encountered an error: "

// Snapshot is a read-only copy of a session's observable state.
type Snapshot struct {
	Identity       domain.Identity  `json:"identity"`
	Phase          domain.Phase     `json:"phase"`
	Messages       []domain.Message `json:"messages"`
	ConversationID string           `json:"conversationId,omitempty"`
	PendingInput   string           `json:"pendingInput"`
}

// Last returns the newest message, or false for an empty log.
func (s Snapshot) Last() (domain.Message, bool) {
	if len(s.Messages) == 0 {
		return domain.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator overrides message id generation.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// Manager owns one chat session. All methods are safe for concurrent use;
// at most one exchange is in flight at a time.
type Manager struct {
	identity  domain.Identity
	transport agent.Transport
	store     store.Store
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	// lifetime is cancelled by Close and aborts an in-flight exchange.
	lifetime context.Context
	cancel   context.CancelFunc

	mu             sync.Mutex
	phase          domain.Phase
	messages       []domain.Message
	conversationID string
	pending        string
	lastActive     time.Time
	closed         bool
	discarded      bool
	subs           map[int]chan Snapshot
	nextSub        int
}

// New creates a session for identity and hydrates it from st. Unreadable
// history is replaced by the welcome message; New only fails on missing
// collaborators.
func New(ctx context.Context, identity domain.Identity, transport agent.Transport, st store.Store, opts ...Option) (*Manager, error) {
	if transport == nil {
		return nil, errors.New("session: nil transport")
	}
	if st == nil {
		return nil, errors.New("session: nil store")
	}

	m := &Manager{
		identity:  identity,
		transport: transport,
		store:     st,
		logger:    slog.Default(),
		now:       time.Now,
		newID:     newMessageID,
		phase:     domain.PhaseIdle,
		subs:      make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("learner_id", identity.LearnerID, "course_id", identity.CourseID)
	m.lifetime, m.cancel = context.WithCancel(context.Background())

	m.hydrate(ctx)
	m.lastActive = m.now()
	return m, nil
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (m *Manager) hydrate(ctx context.Context) {
	msgs, found, err := LoadTranscript(ctx, m.store)
	switch {
	case err != nil:
		m.logger.Warn("Discarding unreadable chat history", "error", err)
		m.initWelcome(ctx)
	case !found:
		m.initWelcome(ctx)
	default:
		m.messages = msgs
		m.logger.Debug("Chat history restored", "messages", len(msgs))
	}

	token, err := LoadConversationID(ctx, m.store)
	if err != nil {
		m.logger.Warn("Discarding unreadable conversation id", "error", err)
		return
	}
	m.conversationID = token
}

func (m *Manager) initWelcome(ctx context.Context) {
	welcome := domain.NewMessage(WelcomeID, domain.RoleAssistant, WelcomeText, m.now())
	m.messages = []domain.Message{welcome}
	m.persistLocked(ctx, false)
}

// State returns a snapshot of the session.
func (m *Manager) State() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		Identity:       m.identity,
		Phase:          m.phase,
		Messages:       domain.CloneMessages(m.messages),
		ConversationID: m.conversationID,
		PendingInput:   m.pending,
	}
}

// Identity returns the identity the session is bound to.
func (m *Manager) Identity() domain.Identity {
	return m.identity
}

// Submit sends text as a new turn and blocks until the reply (or an error
// reply) has been appended. Rejected input returns an error wrapping
// ErrInputRejected and changes nothing. Transport failures never surface
// here; they become assistant messages.
func (m *Manager) Submit(ctx context.Context, text string) (Snapshot, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if strings.TrimSpace(text) == "" {
		m.mu.Unlock()
		return Snapshot{}, ErrEmptyInput
	}
	if m.phase != domain.PhaseIdle {
		m.mu.Unlock()
		return Snapshot{}, ErrBusy
	}

	persistCtx := context.WithoutCancel(ctx)

	user := domain.NewMessage(m.newID(), domain.RoleUser, text, m.now())
	m.messages = append(m.messages, user)
	m.pending = ""
	m.phase = domain.PhaseAwaiting
	m.lastActive = m.now()
	m.persistLocked(persistCtx, false)
	m.notifyLocked()

	req := agent.Request{
		LearnerID:      m.identity.LearnerID,
		CourseID:       m.identity.CourseID,
		Message:        text,
		ConversationID: m.conversationID,
	}
	m.mu.Unlock()

	exCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.lifetime, cancel)
	start := time.Now()
	reply, err := m.transport.Exchange(exCtx, req)
	stop()
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	tokenChanged := false
	var assistant domain.Message
	if err != nil {
		m.logger.Warn("Mentor exchange failed", "error", err, "duration", time.Since(start))
		assistant = domain.NewMessage(m.newID(), domain.RoleAssistant, ErrorPrefix+err.Error(), m.now())
		assistant.Error = true
	} else {
		assistant = domain.NewMessage(m.newID(), domain.RoleAssistant, reply.Content, m.now())
		assistant.Citations = reply.Citations
		assistant.FollowUps = reply.FollowUps
		if reply.ConversationID != "" && reply.ConversationID != m.conversationID {
			m.conversationID = reply.ConversationID
			tokenChanged = true
		}
		m.logger.Debug("Mentor exchange complete", "duration", time.Since(start))
	}

	m.messages = append(m.messages, assistant)
	m.phase = domain.PhaseIdle
	m.lastActive = m.now()
	m.persistLocked(persistCtx, tokenChanged)
	m.notifyLocked()

	return m.snapshotLocked(), nil
}

// SelectFollowUp places prompt in the pending input. It never submits.
func (m *Manager) SelectFollowUp(prompt string) error {
	return m.SetPendingInput(prompt)
}

// SetPendingInput replaces the draft input.
func (m *Manager) SetPendingInput(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.pending = text
	m.lastActive = m.now()
	m.notifyLocked()
	return nil
}

// PendingInput returns the draft input.
func (m *Manager) PendingInput() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Subscribe returns a channel that receives a snapshot after every state
// transition. A slow reader only sees the newest snapshot. The channel is
// closed by the returned cancel func or by Close.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if m.closed {
		close(ch)
		return ch, func() {}
	}

	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

func (m *Manager) notifyLocked() {
	if len(m.subs) == 0 {
		return
	}
	snap := m.snapshotLocked()
	for _, ch := range m.subs {
		select {
		case ch <- snap:
		default:
			// Replace the stale snapshot.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// Close releases the session. An in-flight exchange is cancelled and
// completes as a failed turn. Close is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.cancel()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	return nil
}

// discard closes the session and stops all further writes to its store, so
// a cancelled in-flight turn cannot restore a cleared transcript.
func (m *Manager) discard() {
	m.mu.Lock()
	m.discarded = true
	m.mu.Unlock()
	_ = m.Close()
}

// idleSince reports when the session was last used, and whether it is
// currently between exchanges.
func (m *Manager) idleSince() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActive, m.phase == domain.PhaseIdle
}

// persistLocked writes the log, and the token when withToken is set.
// Failures are logged and never block the session.
func (m *Manager) persistLocked(ctx context.Context, withToken bool) {
	if m.discarded {
		return
	}
	if err := saveTranscript(ctx, m.store, m.messages); err != nil {
		m.logger.Warn("Failed to persist chat history", "error", err)
	}
	if !withToken {
		return
	}
	if err := saveConversationID(ctx, m.store, m.conversationID); err != nil {
		m.logger.Warn("Failed to persist conversation id", "error", err)
	}
}
