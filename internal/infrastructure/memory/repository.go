// Package memory is an in-process domain.Repository. It backs unit tests and
// the storage.driver=memory mode used for local runs without PostgreSQL.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/videoflow/notification/internal/domain"
)

// Repository keeps notifications in a map guarded by a RWMutex.
// Stored entities are copies, so callers cannot mutate them behind its back.
type Repository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]domain.Notification

	// Optional error overrides, set in tests to simulate store failures.
	InsertErr error
	SearchErr error
}

// New returns an empty Repository.
func New() *Repository {
	return &Repository{items: make(map[uuid.UUID]domain.Notification)}
}

func (r *Repository) Insert(_ context.Context, n *domain.Notification) error {
	if r.InsertErr != nil {
		return r.InsertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[n.ID()]; exists {
		return domain.ErrConflict
	}
	r.items[n.ID()] = *n
	return nil
}

func (r *Repository) Update(_ context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[n.ID()]; !ok {
		return domain.NotFoundByID(n.ID())
	}
	r.items[n.ID()] = *n
	return nil
}

func (r *Repository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return domain.NotFoundByID(id)
	}
	delete(r.items, id)
	return nil
}

func (r *Repository) FindByID(_ context.Context, id uuid.UUID) (*domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.items[id]
	if !ok {
		return nil, domain.NotFoundByID(id)
	}
	return &n, nil
}

func (r *Repository) FindByRecipient(_ context.Context, recipient string) (*domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *domain.Notification
	for _, n := range r.items {
		if n.Recipient() != recipient {
			continue
		}
		if latest == nil || newer(&n, latest) {
			c := n
			latest = &c
		}
	}
	if latest == nil {
		return nil, &domain.NotFoundError{Key: recipient, By: "recipient"}
	}
	return latest, nil
}

func (r *Repository) FindAll(_ context.Context) ([]*domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := r.snapshot(func(*domain.Notification) bool { return true })
	sortNotifications(out, domain.SortSentAt, domain.SortDesc)
	return out, nil
}

func (r *Repository) Search(_ context.Context, p domain.SearchParams) (domain.SearchResult, error) {
	if r.SearchErr != nil {
		return domain.SearchResult{}, r.SearchErr
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	filter := strings.ToLower(p.Filter)
	matched := r.snapshot(func(n *domain.Notification) bool {
		return filter == "" || strings.Contains(strings.ToLower(n.Title()), filter)
	})

	field, dir := p.Ordering()
	sortNotifications(matched, field, dir)

	total := len(matched)
	start := min(p.Offset(), total)
	end := min(start+p.PerPage, total)

	return domain.NewSearchResult(matched[start:end], total, p), nil
}

func (r *Repository) PurgeSentBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, item := range r.items {
		if item.SentAt().Before(cutoff) {
			delete(r.items, id)
			n++
		}
	}
	return n, nil
}

// snapshot copies matching items; caller holds the lock.
func (r *Repository) snapshot(keep func(*domain.Notification) bool) []*domain.Notification {
	out := make([]*domain.Notification, 0, len(r.items))
	for _, n := range r.items {
		c := n
		if keep(&c) {
			out = append(out, &c)
		}
	}
	return out
}

// newer reports whether a sorts before b under sentAt DESC, id DESC.
func newer(a, b *domain.Notification) bool {
	if c := a.SentAt().Compare(b.SentAt()); c != 0 {
		return c > 0
	}
	return strings.Compare(a.ID().String(), b.ID().String()) > 0
}

// sortNotifications orders by field/dir with id as a stable tie-breaker.
func sortNotifications(items []*domain.Notification, field, dir string) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		var c int
		switch field {
		case domain.SortTitle:
			c = strings.Compare(a.Title(), b.Title())
		default:
			c = a.SentAt().Compare(b.SentAt())
		}
		if c == 0 {
			c = strings.Compare(a.ID().String(), b.ID().String())
		}
		if dir == domain.SortAsc {
			return c < 0
		}
		return c > 0
	})
}

var _ domain.Repository = (*Repository)(nil)
