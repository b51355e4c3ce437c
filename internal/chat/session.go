package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lacheln1/unoa-server/internal/domain"
	"github.com/lacheln1/unoa-server/internal/llm"
	"github.com/lacheln1/unoa-server/internal/prompt"
	"github.com/lacheln1/unoa-server/internal/recommend"
	"github.com/lacheln1/unoa-server/internal/store"
)

// State is the connection lifecycle state.
type State int

const (
	// StateConnected means the socket is open but the client has not sent
	// init-session yet.
	StateConnected State = iota
	// StateInitialized means history has been replayed and user messages
	// are accepted.
	StateInitialized
	// StateDisconnected means the connection is gone.
	StateDisconnected
)

// Session is the per-connection state machine. One Session exists per
// websocket connection; two tabs with the same derived key get two Sessions
// whose appends interleave at the store's exchange granularity.
type Session struct {
	sessionID string
	access    domain.AccessInfo
	state     State

	conversations store.ConversationStore
	catalog       store.PlanCatalog
	generator     llm.Client
	sender        Sender
}

// NewSession creates a session in the Connected state.
func NewSession(sessionID string, access domain.AccessInfo, conversations store.ConversationStore, catalog store.PlanCatalog, generator llm.Client, sender Sender) *Session {
	return &Session{
		sessionID:     sessionID,
		access:        access,
		state:         StateConnected,
		conversations: conversations,
		catalog:       catalog,
		generator:     generator,
		sender:        sender,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// SessionID returns the derived session key.
func (s *Session) SessionID() string {
	return s.sessionID
}

// HandleEvent dispatches one inbound event. Errors never escape: every
// failure is logged and surfaced to the client as a single generic error
// event, leaving the session ready for the next message.
func (s *Session) HandleEvent(ctx context.Context, event ClientEvent) {
	if s.state == StateDisconnected {
		return
	}

	switch event.Type {
	case EventInitSession:
		s.handleInit(ctx)
	case EventUserMessage:
		s.handleUserMessage(ctx, event)
	case EventResetConversation:
		s.handleReset(ctx)
	default:
		slog.Warn("unknown chat event", "type", event.Type, "session_id", s.sessionID)
	}
}

// Disconnect releases the session. No persistence happens here; exchanges
// are persisted as they complete.
func (s *Session) Disconnect() {
	s.state = StateDisconnected
}

func (s *Session) handleInit(ctx context.Context) {
	history, err := s.conversations.LoadHistory(ctx, s.sessionID)
	if err != nil {
		slog.Error("failed to load conversation history", "session_id", s.sessionID, "error", err)
		s.sendError(ctx)
		return
	}

	s.send(ctx, ServerEvent{Type: EventConversationHistory, Payload: history})
	s.state = StateInitialized
	slog.Info("chat session initialized", "session_id", s.sessionID, "history_len", len(history))
}

func (s *Session) handleReset(ctx context.Context) {
	if err := s.conversations.ResetConversation(ctx, s.sessionID); err != nil {
		slog.Error("failed to reset conversation", "session_id", s.sessionID, "error", err)
		s.sendError(ctx)
		return
	}

	s.send(ctx, ServerEvent{Type: EventConversationHistory, Payload: []domain.Message{}})
	slog.Info("conversation reset", "session_id", s.sessionID)
}

func (s *Session) handleUserMessage(ctx context.Context, event ClientEvent) {
	if s.state != StateInitialized {
		slog.Warn("user message before init-session", "session_id", s.sessionID)
		s.sendError(ctx)
		return
	}

	slog.Info("user message received", "session_id", s.sessionID, "mode", event.Mode, "chars", len(event.Text))

	var err error
	if event.Mode == ModeSimple {
		err = s.runSimple(ctx, event)
	} else {
		err = s.runConversational(ctx, event)
	}
	if err != nil {
		slog.Error("message exchange failed", "session_id", s.sessionID, "mode", event.Mode, "error", err)
		s.sendError(ctx)
	}
}

// runConversational executes the streaming path: start event, verbatim
// fragment relay, recommendation resolution, persistence, terminal event.
func (s *Session) runConversational(ctx context.Context, event ClientEvent) error {
	plans, err := s.catalog.AllPlans(ctx)
	if err != nil {
		return fmt.Errorf("load plan catalog: %w", err)
	}

	systemPrompt, err := prompt.BuildSystemPrompt(plans)
	if err != nil {
		return err
	}
	messages := buildContext(systemPrompt, event.History, event.Text)

	s.send(ctx, ServerEvent{Type: EventStreamStart, Payload: StreamStart{
		MessageID: "temp-" + uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}})

	var full string
	for fragment, err := range s.generator.Stream(ctx, messages) {
		if err != nil {
			return fmt.Errorf("stream completion: %w", err)
		}
		full += fragment
		s.send(ctx, ServerEvent{Type: EventStreamChunk, Payload: fragment})
	}
	slog.Info("stream completed", "session_id", s.sessionID, "response_chars", len(full))

	recommended, err := s.resolveRecommendations(ctx, full)
	if err != nil {
		return err
	}

	assistantMsg := domain.Message{
		Role:             domain.RoleAssistant,
		Content:          full,
		RecommendedPlans: summarize(recommended),
		Timestamp:        time.Now(),
	}
	userMsg := domain.Message{
		Role:      domain.RoleUser,
		Content:   event.Text,
		Timestamp: time.Now(),
	}

	// Persistence is best-effort relative to the user-visible response:
	// the terminal event goes out even if the write fails.
	if err := s.conversations.AppendExchange(ctx, s.sessionID, s.access, userMsg, assistantMsg); err != nil {
		slog.Error("failed to persist exchange", "session_id", s.sessionID, "error", err)
	}

	s.send(ctx, ServerEvent{Type: EventStreamEnd, Payload: StreamEnd{
		Message:          assistantMsg,
		RecommendedPlans: recommended,
	}})
	return nil
}

// runSimple executes the single-shot path. Nothing is persisted, but
// recommendation extraction still runs against the output.
func (s *Session) runSimple(ctx context.Context, event ClientEvent) error {
	plans, err := s.catalog.AllPlans(ctx)
	if err != nil {
		return fmt.Errorf("load plan catalog: %w", err)
	}

	systemPrompt, err := prompt.BuildSimplePrompt(plans, event.Answers)
	if err != nil {
		return err
	}
	messages := buildContext(systemPrompt, event.History, event.Text)

	s.send(ctx, ServerEvent{Type: EventStreamStart, Payload: StreamStart{
		MessageID: "temp-" + uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}})

	full, err := s.generator.Complete(ctx, messages)
	if err != nil {
		return fmt.Errorf("single-shot completion: %w", err)
	}

	recommended, err := s.resolveRecommendations(ctx, full)
	if err != nil {
		return err
	}

	s.send(ctx, ServerEvent{Type: EventStreamEnd, Payload: StreamEnd{
		Message: domain.Message{
			Role:             domain.RoleAssistant,
			Content:          full,
			RecommendedPlans: summarize(recommended),
			Timestamp:        time.Now(),
		},
		RecommendedPlans: recommended,
	}})
	return nil
}

// resolveRecommendations matches plan titles in the response and fetches
// the full records in one batch. Titles that vanished from the catalog
// since prompt construction are simply absent from the result.
func (s *Session) resolveRecommendations(ctx context.Context, responseText string) ([]*domain.Plan, error) {
	titles, err := s.catalog.PlanTitles(ctx)
	if err != nil {
		return nil, fmt.Errorf("load plan titles: %w", err)
	}

	matched := recommend.ExtractTitles(responseText, titles)
	if len(matched) == 0 {
		return nil, nil
	}

	recommended, err := s.catalog.PlansByTitles(ctx, matched)
	if err != nil {
		return nil, fmt.Errorf("resolve recommended plans: %w", err)
	}
	slog.Info("recommendations resolved", "session_id", s.sessionID, "matched", matched)
	return recommended, nil
}

// buildContext assembles the generation context: system prompt, the
// client-supplied history filtered to model-visible roles, then the new
// user message. Missing text degrades to an empty user turn.
func buildContext(systemPrompt string, history []domain.Message, text string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: domain.RoleSystem, Content: systemPrompt})
	for _, msg := range history {
		if msg.Role != domain.RoleUser && msg.Role != domain.RoleAssistant {
			continue
		}
		messages = append(messages, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, llm.Message{Role: domain.RoleUser, Content: text})
	return messages
}

func summarize(plans []*domain.Plan) []domain.PlanSummary {
	if len(plans) == 0 {
		return nil
	}
	return domain.SummarizePlans(plans)
}

// send delivers an event, logging failures at debug level: a client that
// disconnected mid-stream is expected, not an error.
func (s *Session) send(ctx context.Context, event ServerEvent) {
	if err := s.sender.Send(ctx, event); err != nil {
		slog.Debug("failed to send chat event", "type", event.Type, "session_id", s.sessionID, "error", err)
	}
}

func (s *Session) sendError(ctx context.Context) {
	s.send(ctx, ServerEvent{Type: EventError, Payload: ErrorPayload{Message: genericErrorMessage}})
}
