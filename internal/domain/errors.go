package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrConflict is returned when a write violates a uniqueness rule. It is never retried.
var ErrConflict = errors.New("conflict: notification already exists")

// ValidationError reports malformed input. Fields maps the offending field to a reason.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages(), "; ")
}

// Messages returns "field reason" strings in field order.
func (e *ValidationError) Messages() []string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+" "+e.Fields[k])
	}
	return out
}

// NotFoundError is a lookup miss. Key is the id or recipient searched for.
type NotFoundError struct {
	Key string
	By  string
}

func (e *NotFoundError) Error() string {
	if e.By == "recipient" {
		return fmt.Sprintf("notification not found for recipient %s", e.Key)
	}
	return fmt.Sprintf("notification not found using ID %s", e.Key)
}

// NotFoundByID builds the NotFoundError for an id lookup.
func NotFoundByID(id uuid.UUID) *NotFoundError {
	return &NotFoundError{Key: id.String(), By: "id"}
}

// DeliveryError means the record was persisted but the e-mail gateway call failed.
type DeliveryError struct {
	NotificationID uuid.UUID
	Recipient      string
	Err            error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver notification %s to %s: %v", e.NotificationID, e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsPermanent reports whether err can never succeed on retry.
func IsPermanent(err error) bool {
	var ve *ValidationError
	var nf *NotFoundError
	return errors.As(err, &ve) || errors.As(err, &nf) || errors.Is(err, ErrConflict)
}

func validationErrorFrom(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Fields: map[string]string{"_": err.Error()}}
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[jsonName(fe.Field())] = describe(fe)
	}
	return &ValidationError{Fields: fields}
}

func describe(err error) string {
	var fe validator.FieldError
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe = verrs[0]
	} else if !errors.As(err, &fe) {
		return err.Error()
	}

	switch fe.Tag() {
	case "required":
		return "should not be empty"
	case "email":
		return "must be an email"
	case "max":
		return "must be shorter than or equal to " + fe.Param() + " characters"
	case "uuid":
		return "must be a UUID"
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}

func jsonName(field string) string {
	switch field {
	case "UserID":
		return "userId"
	case "SentAt":
		return "sentAt"
	}
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}
