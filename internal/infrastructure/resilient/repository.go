// Package resilient decorates a domain.Repository so every call goes through a
// retry.Retrier. Which errors are retried is decided by the Retrier's classifier.
package resilient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/videoflow/notification/internal/domain"
	"github.com/videoflow/notification/internal/retry"
)

// Repository wraps another domain.Repository with retries.
type Repository struct {
	next  domain.Repository
	retry *retry.Retrier
}

// New wraps next.
func New(next domain.Repository, r *retry.Retrier) *Repository {
	return &Repository{next: next, retry: r}
}

// Insert retries transient failures. A conflict on a retried attempt means an
// earlier attempt committed before its connection dropped; when the stored row
// matches n the insert has succeeded.
func (r *Repository) Insert(ctx context.Context, n *domain.Notification) error {
	attempt := 0
	return r.retry.Run(ctx, "insert", func(ctx context.Context) error {
		attempt++
		err := r.next.Insert(ctx, n)
		if attempt > 1 && errors.Is(err, domain.ErrConflict) && r.alreadyStored(ctx, n) {
			log.Info().Str("id", n.ID().String()).Int("attempt", attempt).Msg("insert already committed by earlier attempt")
			return nil
		}
		return err
	})
}

func (r *Repository) alreadyStored(ctx context.Context, n *domain.Notification) bool {
	stored, err := r.next.FindByID(ctx, n.ID())
	if err != nil {
		return false
	}
	return sameRecord(stored, n)
}

// sameRecord compares at microsecond precision, the resolution PostgreSQL keeps.
func sameRecord(a, b *domain.Notification) bool {
	return a.ID() == b.ID() &&
		a.Recipient() == b.Recipient() &&
		a.Title() == b.Title() &&
		a.Body() == b.Body() &&
		a.UserID() == b.UserID() &&
		a.SentAt().Truncate(time.Microsecond).Equal(b.SentAt().Truncate(time.Microsecond))
}

func (r *Repository) Update(ctx context.Context, n *domain.Notification) error {
	return r.retry.Run(ctx, "update", func(ctx context.Context) error {
		return r.next.Update(ctx, n)
	})
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.retry.Run(ctx, "delete", func(ctx context.Context) error {
		return r.next.Delete(ctx, id)
	})
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	return retry.Do(ctx, r.retry, "findById", func(ctx context.Context) (*domain.Notification, error) {
		return r.next.FindByID(ctx, id)
	})
}

func (r *Repository) FindByRecipient(ctx context.Context, recipient string) (*domain.Notification, error) {
	return retry.Do(ctx, r.retry, "findByRecipient", func(ctx context.Context) (*domain.Notification, error) {
		return r.next.FindByRecipient(ctx, recipient)
	})
}

func (r *Repository) FindAll(ctx context.Context) ([]*domain.Notification, error) {
	return retry.Do(ctx, r.retry, "findAll", r.next.FindAll)
}

func (r *Repository) Search(ctx context.Context, params domain.SearchParams) (domain.SearchResult, error) {
	return retry.Do(ctx, r.retry, "search", func(ctx context.Context) (domain.SearchResult, error) {
		return r.next.Search(ctx, params)
	})
}

func (r *Repository) PurgeSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return retry.Do(ctx, r.retry, "purge", func(ctx context.Context) (int64, error) {
		return r.next.PurgeSentBefore(ctx, cutoff)
	})
}

var _ domain.Repository = (*Repository)(nil)

// LogObserver logs every store attempt and forwards it to the extra observers
// (typically metrics). Attempts slower than the policy threshold log at warn.
func LogObserver(extra ...retry.Observer) retry.Observer {
	return func(a retry.Attempt) {
		ev := log.Debug()
		switch {
		case a.Err != nil && a.Transient:
			ev = log.Warn().Err(a.Err).Bool("transient", true)
		case a.Err != nil && !domain.IsPermanent(a.Err):
			ev = log.Error().Err(a.Err)
		case a.Slow:
			ev = log.Warn().Bool("slow", true)
		}
		ev.Str("op", a.Op).Int("attempt", a.Number).Dur("duration", a.Duration).Msg("store attempt")

		for _, o := range extra {
			o(a)
		}
	}
}
