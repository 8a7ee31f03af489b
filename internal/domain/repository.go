package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the port for notification persistence.
// Implementations live in infrastructure/postgres and infrastructure/memory.
type Repository interface {
	// Insert stores a new notification atomically.
	Insert(ctx context.Context, n *Notification) error

	// Update rewrites an existing notification; NotFoundError if it is absent.
	Update(ctx context.Context, n *Notification) error

	// Delete removes a notification; NotFoundError if it is absent.
	Delete(ctx context.Context, id uuid.UUID) error

	// FindByID fetches a single notification.
	FindByID(ctx context.Context, id uuid.UUID) (*Notification, error)

	// FindByRecipient returns the latest notification sent to recipient.
	FindByRecipient(ctx context.Context, recipient string) (*Notification, error)

	// FindAll returns every notification, newest first.
	FindAll(ctx context.Context) ([]*Notification, error)

	// Search returns one filtered, sorted page.
	Search(ctx context.Context, params SearchParams) (SearchResult, error)

	// PurgeSentBefore deletes notifications sent before cutoff (retention cleanup).
	PurgeSentBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
