// Package application holds the notification use-cases: dispatching a video
// event, sending and redelivering e-mails, and the read/maintenance operations
// behind the HTTP API.
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/videoflow/notification/internal/domain"
	"github.com/videoflow/notification/internal/messages"
)

// ErrSkipped is returned by HandleVideoEvent when the status has no template.
var ErrSkipped = errors.New("no template for video status")

// Gateway delivers a rendered notification. Implemented by gateway.EmailGateway.
type Gateway interface {
	Send(ctx context.Context, recipient, title, htmlBody string) error
}

// Broadcaster pushes newly stored notifications to live subscribers.
// Implementation lives in transport/http/sse_hub.go.
type Broadcaster interface {
	Broadcast(recipient string, n NotificationOutput)
}

// UserResolver maps a recipient address to an external user ID.
type UserResolver interface {
	UserIDByEmail(ctx context.Context, email string) (string, error)
}

// Service holds all notification use-cases.
type Service struct {
	repo     domain.Repository
	gateway  Gateway
	hub      Broadcaster
	resolver UserResolver
}

// NewService creates a new application Service. hub and resolver are optional.
func NewService(repo domain.Repository, gateway Gateway, hub Broadcaster, resolver UserResolver) *Service {
	return &Service{repo: repo, gateway: gateway, hub: hub, resolver: resolver}
}

// SendInput is a request to notify one recipient.
type SendInput struct {
	Recipient string `json:"recipient"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	UserID    string `json:"userId,omitempty"`
}

// NotificationOutput is the read view of a stored notification.
type NotificationOutput struct {
	ID        uuid.UUID `json:"id"`
	Recipient string    `json:"recipient"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sentAt"`
	UserID    string    `json:"userId,omitempty"`
}

func toOutput(n *domain.Notification) NotificationOutput {
	return NotificationOutput{
		ID:        n.ID(),
		Recipient: n.Recipient(),
		Title:     n.Title(),
		Body:      n.Body(),
		SentAt:    n.SentAt(),
		UserID:    n.UserID(),
	}
}

// Send validates, persists and then delivers a notification. The row is
// written before the gateway is called and survives a delivery failure, in
// which case the stored output is returned together with a *domain.DeliveryError.
func (s *Service) Send(ctx context.Context, in SendInput) (*NotificationOutput, error) {
	n, err := domain.NewNotification(domain.NotificationProps{
		Recipient: in.Recipient,
		Title:     in.Title,
		Body:      in.Body,
		UserID:    in.UserID,
	})
	if err != nil {
		return nil, err
	}

	if n.UserID() == "" && s.resolver != nil {
		s.attachUserID(ctx, n)
	}

	if err := s.repo.Insert(ctx, n); err != nil {
		return nil, fmt.Errorf("store notification: %w", err)
	}

	out := toOutput(n)
	if s.hub != nil {
		go s.hub.Broadcast(out.Recipient, out)
	}

	if err := s.deliver(ctx, n); err != nil {
		return &out, err
	}

	log.Info().
		Str("id", out.ID.String()).
		Str("recipient", out.Recipient).
		Str("title", out.Title).
		Msg("notification stored and delivered")

	return &out, nil
}

// HandleVideoEvent renders the template for ev.Status and sends it to ev.Email.
func (s *Service) HandleVideoEvent(ctx context.Context, ev domain.VideoEvent) (*NotificationOutput, error) {
	status := domain.ParseVideoStatus(ev.Status)
	tpl, ok := messages.Render(status, ev.VideoID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSkipped, ev.Status)
	}
	return s.Send(ctx, SendInput{Recipient: ev.Email, Title: tpl.Title, Body: tpl.Body})
}

// Redeliver sends an already stored notification again.
func (s *Service) Redeliver(ctx context.Context, id uuid.UUID) error {
	n, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	return s.deliver(ctx, n)
}

func (s *Service) deliver(ctx context.Context, n *domain.Notification) error {
	if err := s.gateway.Send(ctx, n.Recipient(), n.Title(), n.Body()); err != nil {
		log.Warn().
			Err(err).
			Str("id", n.ID().String()).
			Str("recipient", n.Recipient()).
			Msg("notification delivery failed")
		return &domain.DeliveryError{NotificationID: n.ID(), Recipient: n.Recipient(), Err: err}
	}
	return nil
}

// attachUserID is best effort: a lookup failure leaves the notification anonymous.
func (s *Service) attachUserID(ctx context.Context, n *domain.Notification) {
	userID, err := s.resolver.UserIDByEmail(ctx, n.Recipient())
	if err != nil {
		log.Debug().Err(err).Str("recipient", n.Recipient()).Msg("user id lookup failed")
		return
	}
	p := n.Props()
	p.UserID = userID
	resolved, err := domain.NewNotification(p)
	if err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("resolved user id rejected")
		return
	}
	*n = *resolved
}

// Get returns one notification by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*NotificationOutput, error) {
	n, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	out := toOutput(n)
	return &out, nil
}

// GetByRecipient returns the latest notification sent to recipient.
func (s *Service) GetByRecipient(ctx context.Context, recipient string) (*NotificationOutput, error) {
	n, err := s.repo.FindByRecipient(ctx, recipient)
	if err != nil {
		return nil, err
	}
	out := toOutput(n)
	return &out, nil
}

// List returns every notification, newest first.
func (s *Service) List(ctx context.Context) ([]NotificationOutput, error) {
	items, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]NotificationOutput, 0, len(items))
	for _, n := range items {
		out = append(out, toOutput(n))
	}
	return out, nil
}

// Search normalizes in and returns one page.
func (s *Service) Search(ctx context.Context, in domain.SearchInput) (domain.SearchResult, error) {
	return s.repo.Search(ctx, domain.NewSearchParams(in))
}

// UpdateTitle changes the title of a stored notification.
func (s *Service) UpdateTitle(ctx context.Context, id uuid.UUID, title string) (*NotificationOutput, error) {
	n, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := n.UpdateTitle(title); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, n); err != nil {
		return nil, fmt.Errorf("update notification: %w", err)
	}
	out := toOutput(n)
	return &out, nil
}

// Delete removes a notification.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// PurgeRetention deletes notifications older than days. Called by a background scheduler.
func (s *Service) PurgeRetention(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	count, err := s.repo.PurgeSentBefore(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("notification retention purge failed")
		return 0, err
	}
	log.Info().Int64("deleted", count).Int("older_than_days", days).Msg("notification retention purge completed")
	return count, nil
}
