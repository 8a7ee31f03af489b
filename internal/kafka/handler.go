package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/videoflow/notification/internal/application"
	"github.com/videoflow/notification/internal/domain"
	"github.com/videoflow/notification/internal/retry"
)

// Decision is the outcome of handling one broker message.
type Decision int

const (
	// DecisionAck commits the message.
	DecisionAck Decision = iota
	// DecisionNack rewinds the partition so the message is delivered again.
	DecisionNack
	// DecisionDeadLetter parks the message on the dead-letter topic, then commits it.
	DecisionDeadLetter
)

func (d Decision) String() string {
	switch d {
	case DecisionAck:
		return "ack"
	case DecisionNack:
		return "nack"
	case DecisionDeadLetter:
		return "dead_letter"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Dispatcher is the part of application.Service the handler drives.
type Dispatcher interface {
	HandleVideoEvent(ctx context.Context, ev domain.VideoEvent) (*application.NotificationOutput, error)
	Redeliver(ctx context.Context, id uuid.UUID) error
}

// VideoEventHandler turns a raw video event into a Decision.
type VideoEventHandler struct {
	svc      Dispatcher
	delivery *retry.Retrier
	timeout  time.Duration
}

// NewVideoEventHandler builds a handler. delivery retries failed e-mail sends
// of already stored notifications and may be nil; timeout bounds each message.
func NewVideoEventHandler(svc Dispatcher, delivery *retry.Retrier, timeout time.Duration) *VideoEventHandler {
	return &VideoEventHandler{svc: svc, delivery: delivery, timeout: timeout}
}

// IsDeliveryFailure is the retry classifier for the delivery retrier.
func IsDeliveryFailure(err error) bool {
	var de *domain.DeliveryError
	return errors.As(err, &de)
}

// Handle decodes payload and dispatches it. It never panics and always
// returns a decision.
func (h *VideoEventHandler) Handle(ctx context.Context, payload []byte) (decision Decision) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic while handling video event")
			decision = DecisionNack
		}
	}()

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	var ev domain.VideoEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Error().Err(err).Int("size", len(payload)).Msg("malformed video event")
		return DecisionDeadLetter
	}
	if missing := ev.MissingFields(); len(missing) > 0 {
		log.Warn().
			Strs("missing", missing).
			Str("video_id", ev.VideoID).
			Msg("video event is missing required fields")
		return DecisionDeadLetter
	}

	out, err := h.svc.HandleVideoEvent(ctx, ev)
	return h.decide(ctx, ev, out, err)
}

func (h *VideoEventHandler) decide(ctx context.Context, ev domain.VideoEvent, out *application.NotificationOutput, err error) Decision {
	var de *domain.DeliveryError
	switch {
	case err == nil:
		log.Info().
			Str("video_id", ev.VideoID).
			Str("status", ev.Status).
			Str("id", out.ID.String()).
			Msg("video event dispatched")
		return DecisionAck

	case errors.Is(err, application.ErrSkipped):
		log.Warn().Str("video_id", ev.VideoID).Str("status", ev.Status).Msg("unrecognized video status, skipping")
		return DecisionAck

	case domain.IsPermanent(err):
		log.Error().Err(err).Str("video_id", ev.VideoID).Msg("video event rejected")
		return DecisionDeadLetter

	case errors.As(err, &de):
		// The row is stored; only the e-mail is retried. Whatever happens the
		// message is done, a later redelivery goes through the HTTP API.
		if rerr := h.redeliver(ctx, de.NotificationID); rerr != nil {
			log.Error().
				Err(rerr).
				Str("video_id", ev.VideoID).
				Str("id", de.NotificationID.String()).
				Msg("notification stored but delivery failed")
		}
		return DecisionAck

	default:
		log.Error().Err(err).Str("video_id", ev.VideoID).Msg("video event dispatch failed, will be redelivered")
		return DecisionNack
	}
}

func (h *VideoEventHandler) redeliver(ctx context.Context, id uuid.UUID) error {
	if h.delivery == nil {
		return errors.New("delivery retry disabled")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(h.delivery.Policy().BaseDelay):
	}
	return h.delivery.Run(ctx, "redeliver", func(ctx context.Context) error {
		return h.svc.Redeliver(ctx, id)
	})
}
