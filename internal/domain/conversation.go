package domain

import (
	"time"
)

// Message roles. System messages participate in generation context but are
// never persisted.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single entry in a conversation. Immutable once appended.
type Message struct {
	Role             string        `json:"role"`
	Content          string        `json:"content"`
	RecommendedPlans []PlanSummary `json:"recommendedPlans,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`
}

// ConversationMeta records where a session was first and last seen.
// First-seen fields are written once and never overwritten.
type ConversationMeta struct {
	FirstSeenIP     string    `json:"firstSeenIP"`
	FirstSeenAgent  string    `json:"firstSeenAgent"`
	LastAccessIP    string    `json:"lastAccessIP"`
	LastAccessAgent string    `json:"lastAccessAgent"`
	LastAccessAt    time.Time `json:"lastAccessAt"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Conversation is the per-session message log. At most one exists per
// session key.
type Conversation struct {
	SessionID string           `json:"sessionId"`
	Messages  []Message        `json:"messages"`
	Meta      ConversationMeta `json:"metadata"`
}

// AccessInfo carries the request's network fingerprint into the store so
// appends can initialize first-seen and refresh last-access metadata.
type AccessInfo struct {
	IP        string
	UserAgent string
}
