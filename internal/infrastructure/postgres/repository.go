package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/videoflow/notification/internal/domain"
)

const selectColumns = `SELECT id, recipient, title, body, sent_at, user_id FROM notifications`

// Repository is the PostgreSQL implementation of domain.Repository.
type Repository struct {
	pool *pgxpool.Pool
	// timeout bounds each write transaction.
	timeout time.Duration
}

// New creates a new postgres Repository. timeout <= 0 means no extra bound.
func New(pool *pgxpool.Pool, timeout time.Duration) *Repository {
	return &Repository{pool: pool, timeout: timeout}
}

// Insert writes the full row inside a transaction: either it exists afterwards or nothing does.
func (r *Repository) Insert(ctx context.Context, n *domain.Notification) error {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO notifications (id, recipient, title, body, sent_at, user_id)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, n.ID(), n.Recipient(), n.Title(), n.Body(), n.SentAt(), nullable(n.UserID()))
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("insert notification %s: %w", n.ID(), domain.ErrConflict)
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// Update rewrites the mutable columns after confirming the row exists.
func (r *Repository) Update(ctx context.Context, n *domain.Notification) error {
	if _, err := r.FindByID(ctx, n.ID()); err != nil {
		return err
	}

	ctx, cancel := r.bounded(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		UPDATE notifications SET recipient = $1, title = $2, body = $3, sent_at = $4, user_id = $5
		WHERE id = $6
	`, n.Recipient(), n.Title(), n.Body(), n.SentAt(), nullable(n.UserID()), n.ID())
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	return nil
}

// Delete removes a notification after confirming it exists.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}

	ctx, cancel := r.bounded(ctx)
	defer cancel()

	if _, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return nil
}

// FindByID fetches a single notification.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFoundByID(id)
	}
	return n, err
}

// FindByRecipient fetches the most recent notification for recipient.
func (r *Repository) FindByRecipient(ctx context.Context, recipient string) (*domain.Notification, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx,
		selectColumns+` WHERE recipient = $1 ORDER BY sent_at DESC, id DESC LIMIT 1`, recipient))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.NotFoundError{Key: recipient, By: "recipient"}
	}
	return n, err
}

// FindAll returns every notification, newest first.
func (r *Repository) FindAll(ctx context.Context) ([]*domain.Notification, error) {
	rows, err := r.pool.Query(ctx, selectColumns+` ORDER BY sent_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// Search returns one page. The count runs separately so Total ignores the page window.
func (r *Repository) Search(ctx context.Context, p domain.SearchParams) (domain.SearchResult, error) {
	q := buildSearch(p)

	var total int
	if err := r.pool.QueryRow(ctx, q.count, q.args...).Scan(&total); err != nil {
		return domain.SearchResult{}, fmt.Errorf("count notifications: %w", err)
	}

	rows, err := r.pool.Query(ctx, q.page, q.pageArgs...)
	if err != nil {
		return domain.SearchResult{}, fmt.Errorf("search notifications: %w", err)
	}
	defer rows.Close()

	items, err := scanNotifications(rows)
	if err != nil {
		return domain.SearchResult{}, err
	}
	return domain.NewSearchResult(items, total, p), nil
}

// PurgeSentBefore deletes notifications sent before cutoff.
func (r *Repository) PurgeSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE sent_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

var _ domain.Repository = (*Repository)(nil)

// scannable is satisfied by pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanNotification(row scannable) (*domain.Notification, error) {
	var (
		p      domain.NotificationProps
		userID *string
	)
	if err := row.Scan(&p.ID, &p.Recipient, &p.Title, &p.Body, &p.SentAt, &userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	if userID != nil {
		p.UserID = *userID
	}
	p.SentAt = p.SentAt.UTC()
	return domain.NewNotification(p)
}

func scanNotifications(rows pgx.Rows) ([]*domain.Notification, error) {
	var out []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
