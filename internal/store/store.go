// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/lacheln1/unoa-server/internal/domain"
)

// ConversationStore is the append-only per-session message log.
type ConversationStore interface {
	// AppendExchange atomically upserts the conversation record for a
	// session and appends one user/assistant message pair. On first write
	// the record is created with first-seen metadata from access; on later
	// writes only last-access metadata is refreshed.
	AppendExchange(ctx context.Context, sessionID string, access domain.AccessInfo, userMsg, assistantMsg domain.Message) error

	// LoadHistory returns the ordered message log for a session, or an
	// empty slice when no record exists.
	LoadHistory(ctx context.Context, sessionID string) ([]domain.Message, error)

	// GetConversation returns the full record including metadata, or nil
	// when no record exists.
	GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error)

	// ResetConversation deletes the record entirely.
	ResetConversation(ctx context.Context, sessionID string) error

	// CountConversations returns the total number of conversation records.
	CountConversations(ctx context.Context) (int64, error)

	// CountActiveSince returns the number of conversations touched after
	// the given time.
	CountActiveSince(ctx context.Context, since time.Time) (int64, error)
}

// PlanCatalog is read-only access to the recommendable plan records.
// The chat core consumes it, never writes through it.
type PlanCatalog interface {
	// AllPlans returns every plan in the catalog.
	AllPlans(ctx context.Context) ([]*domain.Plan, error)

	// PlanTitles returns every plan title.
	PlanTitles(ctx context.Context) ([]string, error)

	// PlansByTitles returns the plans whose titles are in the given set.
	// Titles absent from the catalog are simply missing from the result.
	PlansByTitles(ctx context.Context, titles []string) ([]*domain.Plan, error)

	// RandomPlan returns one random plan from the given categories.
	RandomPlan(ctx context.Context, categories []string) (*domain.Plan, error)

	// AllBenefits returns every membership/loyalty benefit record.
	AllBenefits(ctx context.Context) ([]*domain.Benefit, error)
}

// Repository is the full persistence surface backed by one database.
type Repository interface {
	ConversationStore
	PlanCatalog

	// SeedPlans replaces the plan catalog with the given records.
	SeedPlans(ctx context.Context, plans []*domain.Plan) (int64, error)

	// SeedBenefits replaces the benefit records with the given set.
	SeedBenefits(ctx context.Context, benefits []*domain.Benefit) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
