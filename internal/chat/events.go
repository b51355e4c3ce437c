// Package chat implements the websocket session protocol for the plan
// consultant: history replay, streamed completions, recommendation
// extraction, and conversation persistence.
package chat

import (
	"context"

	"github.com/lacheln1/unoa-server/internal/domain"
)

// Client-to-server event types.
const (
	EventInitSession       = "init-session"
	EventUserMessage       = "user-message"
	EventResetConversation = "reset-conversation"
)

// Server-to-client event types.
const (
	EventConversationHistory = "conversation-history"
	EventStreamStart         = "stream-start"
	EventStreamChunk         = "stream-chunk"
	EventStreamEnd           = "stream-end"
	EventError               = "error"
)

// ModeSimple requests the single-shot, non-persisted interaction path.
// Any other mode value falls back to the conversational path.
const ModeSimple = "simple"

// genericErrorMessage is the only error detail a client ever sees.
const genericErrorMessage = "메시지 처리 중 오류가 발생했습니다."

// ClientEvent is an inbound protocol message. Answers carries the
// structured questionnaire results the simple-mode frontend collects; it is
// ignored on the conversational path.
type ClientEvent struct {
	Type    string            `json:"type"`
	Text    string            `json:"text,omitempty"`
	History []domain.Message  `json:"history,omitempty"`
	Mode    string            `json:"mode,omitempty"`
	Answers map[string]string `json:"answers,omitempty"`
}

// ServerEvent is an outbound protocol message.
type ServerEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// StreamStart announces an upcoming streamed response.
type StreamStart struct {
	MessageID string `json:"messageId"`
	Timestamp string `json:"timestamp"`
}

// StreamEnd carries the completed assistant message and any resolved
// recommendations. RecommendedPlans is null when nothing matched.
type StreamEnd struct {
	Message          domain.Message `json:"message"`
	RecommendedPlans []*domain.Plan `json:"recommendedPlans"`
}

// ErrorPayload carries a generic, user-safe error message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Sender delivers server events to one connected client. Implementations
// must be safe to call after the underlying connection is gone; the session
// treats send failures as non-fatal.
type Sender interface {
	Send(ctx context.Context, event ServerEvent) error
}
