package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"shopping-assistant/internal/models"
	"shopping-assistant/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrTurnInProgress     = errors.New("a turn is already running for this session")
	ErrToolCallNotPending = errors.New("tool call is not awaiting a result")
	ErrSessionNotFound    = errors.New("session not found")
	ErrEmptyMessage       = errors.New("message text is empty")
)

// Turner runs one assistant turn over a history
type Turner interface {
	RunTurn(ctx context.Context, history []models.Message, sink EventSink) (models.Message, error)
}

// ToolResult is a client-supplied outcome for a manual tool call. Exactly one
// of Output and ErrorText is expected.
type ToolResult struct {
	ToolCallID string          `json:"toolCallId"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`
}

// Session is one conversation. Its message list changes only through user
// input and the turns it runs.
type Session struct {
	ID string

	mu         sync.Mutex
	messages   []models.Message
	queued     []models.Message
	busy       bool
	lastActive time.Time

	turner Turner
	now    func() time.Time
	logger *zap.Logger
}

func newSession(turner Turner, now func() time.Time) *Session {
	return &Session{
		ID:         uuid.New().String(),
		lastActive: now(),
		turner:     turner,
		now:        now,
		logger:     util.GetLogger(),
	}
}

// Messages returns a copy of the conversation
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Busy reports whether a turn is running
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return s.now()
	}
	return s.lastActive
}

// SubmitUserText appends a user message and runs a turn answering it
func (s *Session) SubmitUserText(ctx context.Context, text string, sink EventSink) (models.Message, error) {
	if text == "" {
		return models.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return models.Message{}, ErrTurnInProgress
	}
	s.messages = append(s.messages, s.userMessage(text))
	history := s.beginTurnLocked()
	s.mu.Unlock()

	return s.runTurn(ctx, history, sink)
}

// AddToolResult resolves a pending manual tool call on the latest assistant
// message. When that completes every call of the message's last step, the
// continuation turn runs immediately and resumed is true.
func (s *Session) AddToolResult(ctx context.Context, result ToolResult, sink EventSink) (msg models.Message, resumed bool, err error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return models.Message{}, false, ErrTurnInProgress
	}

	inv := s.pendingToolLocked(result.ToolCallID)
	if inv == nil {
		s.mu.Unlock()
		return models.Message{}, false, ErrToolCallNotPending
	}
	if result.ErrorText != "" {
		err = inv.Fail(result.ErrorText)
	} else {
		output := result.Output
		if len(output) == 0 {
			output = json.RawMessage(`null`)
		}
		err = inv.Resolve(output)
	}
	if err != nil {
		s.mu.Unlock()
		return models.Message{}, false, err
	}
	s.lastActive = s.now()

	if !LastAssistantMessageIsCompleteWithToolCalls(s.messages) {
		last := s.messages[len(s.messages)-1].Clone()
		s.mu.Unlock()
		return last, false, nil
	}
	history := s.beginTurnLocked()
	s.mu.Unlock()

	msg, err = s.runTurn(ctx, history, sink)
	return msg, true, err
}

// AppendUserText appends a user message without running a turn. During a
// running turn the message is queued and lands after the turn's reply.
func (s *Session) AppendUserText(text string) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.userMessage(text)
	if s.busy {
		s.queued = append(s.queued, m)
	} else {
		s.messages = append(s.messages, m)
		s.lastActive = s.now()
	}
	return m.Clone()
}

func (s *Session) userMessage(text string) models.Message {
	return models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Parts:     []models.Part{{Type: models.PartTypeText, Text: text}},
		CreatedAt: s.now(),
	}
}

func (s *Session) pendingToolLocked(toolCallID string) *models.ToolInvocation {
	if len(s.messages) == 0 {
		return nil
	}
	last := &s.messages[len(s.messages)-1]
	if last.Role != models.RoleAssistant {
		return nil
	}
	inv := last.FindTool(toolCallID)
	if inv == nil || inv.State != models.ToolStateInputAvailable {
		return nil
	}
	return inv
}

func (s *Session) beginTurnLocked() []models.Message {
	s.busy = true
	s.lastActive = s.now()
	history := make([]models.Message, len(s.messages))
	for i, m := range s.messages {
		history[i] = m.Clone()
	}
	return history
}

func (s *Session) runTurn(ctx context.Context, history []models.Message, sink EventSink) (models.Message, error) {
	reply, err := s.turner.RunTurn(ctx, history, sink)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.lastActive = s.now()

	if reply.ID != "" && len(reply.Parts) > 0 {
		n := len(s.messages)
		if n > 0 && s.messages[n-1].ID == reply.ID {
			s.messages[n-1] = reply.Clone()
		} else {
			s.messages = append(s.messages, reply.Clone())
		}
	}
	s.messages = append(s.messages, s.queued...)
	s.queued = nil

	if err != nil {
		s.logger.Warn("Session turn ended with error",
			zap.String("session_id", s.ID),
			zap.Error(err))
	}
	return reply, err
}
