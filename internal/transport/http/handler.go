package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/videoflow/notification/internal/application"
	"github.com/videoflow/notification/internal/domain"
	"github.com/videoflow/notification/internal/transport/mw"
)

// Handler holds all HTTP handler methods.
type Handler struct {
	svc *application.Service
	hub *Hub
}

// NewHandler creates a new Handler.
func NewHandler(svc *application.Service, hub *Hub) *Handler {
	return &Handler{svc: svc, hub: hub}
}

type createRequest struct {
	Recipient string `json:"recipient"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	UserID    string `json:"userId"`
}

type updateTitleRequest struct {
	Title string `json:"title" validate:"required,max=255"`
}

// --- REST Handlers ---

// Create POST /notifications
func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	out, err := h.svc.Send(c.Request().Context(), application.SendInput(req))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}

// Search GET /notifications
func (h *Handler) Search(c echo.Context) error {
	res, err := h.svc.Search(c.Request().Context(), domain.SearchInput{
		Page:    parseIntQuery(c, "page", 0),
		PerPage: parseIntQuery(c, "perPage", 0),
		Sort:    c.QueryParam("sort"),
		SortDir: c.QueryParam("sortDir"),
		Filter:  c.QueryParam("filter"),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// Get GET /notifications/:id
func (h *Handler) Get(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// GetByRecipient GET /notifications/recipient/:email
func (h *Handler) GetByRecipient(c echo.Context) error {
	out, err := h.svc.GetByRecipient(c.Request().Context(), c.Param("email"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// UpdateTitle PATCH /notifications/:id
func (h *Handler) UpdateTitle(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req updateTitleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	out, err := h.svc.UpdateTitle(c.Request().Context(), id, req.Title)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// Delete DELETE /notifications/:id
func (h *Handler) Delete(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Deliver POST /notifications/:id/deliver
func (h *Handler) Deliver(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Redeliver(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// --- SSE Handler ---

// Stream GET /notifications/stream streams new notifications as SSE.
func (h *Handler) Stream(c echo.Context) error {
	recipient, err := streamRecipient(c)
	if err != nil {
		return err
	}

	// SSE headers
	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable proxy buffering
	w.WriteHeader(http.StatusOK)

	sendCh := make(chan []byte, 32)
	client := h.hub.Register(recipient, sendCh)
	defer h.hub.Unregister(client)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"ok\"}\n\n")
	w.Flush()

	log.Info().Str("recipient", recipient).Msg("SSE stream opened")

	ctx := c.Request().Context()
	for {
		select {
		case msg := <-sendCh:
			if _, err := w.Write(msg); err != nil {
				return nil
			}
			w.Flush()

		case <-ctx.Done():
			log.Info().Str("recipient", recipient).Msg("SSE stream closed by client")
			return nil
		}
	}
}

// --- Healthcheck ---

// Health GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "ok",
		"stream_clients": h.hub.ConnectedCount(),
	})
}

// --- Helpers ---

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, &domain.ValidationError{Fields: map[string]string{"id": "must be a UUID"}}
	}
	return id, nil
}

// streamRecipient prefers the authenticated e-mail. Without authentication
// the caller names the address in ?email=.
func streamRecipient(c echo.Context) (string, error) {
	if email, _ := c.Get(mw.KeyEmail).(string); email != "" {
		return email, nil
	}
	if authed, _ := c.Get(mw.KeyAuthenticated).(bool); authed {
		return "", echo.NewHTTPError(http.StatusForbidden, "token carries no email claim")
	}
	email := c.QueryParam("email")
	if email == "" {
		return "", &domain.ValidationError{Fields: map[string]string{"email": "should not be empty"}}
	}
	return email, nil
}

func parseIntQuery(c echo.Context, key string, def int) int {
	v, err := strconv.Atoi(c.QueryParam(key))
	if err != nil {
		return def
	}
	return v
}
