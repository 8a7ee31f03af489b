package domain

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks v's `validate` struct tags and reports failures as a
// *ValidationError keyed by field name.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return validationErrorFrom(err)
	}
	return nil
}

// NotificationProps carries the raw values a Notification is built from.
// Zero ID and SentAt are filled in by NewNotification.
type NotificationProps struct {
	ID        uuid.UUID
	Recipient string `validate:"required,email,max=255"`
	Title     string `validate:"required,max=255"`
	Body      string `validate:"required"`
	SentAt    time.Time
	UserID    string `validate:"omitempty,uuid"`
}

// Notification is the durable record of a message sent (or about to be sent)
// to a user. Only the title may change after construction.
type Notification struct {
	id        uuid.UUID
	recipient string
	title     string
	body      string
	sentAt    time.Time
	userID    string
}

// NewNotification validates props and returns the entity.
func NewNotification(p NotificationProps) (*Notification, error) {
	if err := validate.Struct(p); err != nil {
		return nil, validationErrorFrom(err)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.SentAt.IsZero() {
		p.SentAt = time.Now().UTC()
	}
	return &Notification{
		id:        p.ID,
		recipient: p.Recipient,
		title:     p.Title,
		body:      p.Body,
		sentAt:    p.SentAt,
		userID:    p.UserID,
	}, nil
}

func (n *Notification) ID() uuid.UUID     { return n.id }
func (n *Notification) Recipient() string { return n.recipient }
func (n *Notification) Title() string     { return n.title }
func (n *Notification) Body() string      { return n.body }
func (n *Notification) SentAt() time.Time { return n.sentAt }

// UserID is empty when the notification has no user back-reference.
func (n *Notification) UserID() string { return n.userID }

// UpdateTitle replaces the title, applying the same rules as construction.
func (n *Notification) UpdateTitle(title string) error {
	if err := validate.Var(title, "required,max=255"); err != nil {
		return &ValidationError{Fields: map[string]string{"title": describe(err)}}
	}
	n.title = title
	return nil
}

// Props returns the current values; the result rebuilds an equal entity.
func (n *Notification) Props() NotificationProps {
	return NotificationProps{
		ID:        n.id,
		Recipient: n.recipient,
		Title:     n.title,
		Body:      n.body,
		SentAt:    n.sentAt,
		UserID:    n.userID,
	}
}

// MarshalJSON emits the storage/wire shape {id, recipient, title, body, sentAt, userId?}.
func (n *Notification) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        uuid.UUID `json:"id"`
		Recipient string    `json:"recipient"`
		Title     string    `json:"title"`
		Body      string    `json:"body"`
		SentAt    time.Time `json:"sentAt"`
		UserID    string    `json:"userId,omitempty"`
	}{n.id, n.recipient, n.title, n.body, n.sentAt, n.userID})
}
