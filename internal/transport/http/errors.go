package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/videoflow/notification/internal/domain"
	"github.com/videoflow/notification/internal/retry"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    any    `json:"message"`
}

// statusFor maps an error to its HTTP status and client-facing message.
func statusFor(err error) (int, any) {
	var (
		httpErr   *echo.HTTPError
		ve        *domain.ValidationError
		nf        *domain.NotFoundError
		de        *domain.DeliveryError
		exhausted *retry.ExhaustedError
	)
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code, httpErr.Message
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity, ve.Messages()
	case errors.As(err, &nf):
		return http.StatusNotFound, nf.Error()
	case errors.As(err, &de):
		return http.StatusBadGateway, de.Error()
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, domain.ErrConflict.Error()
	case errors.As(err, &exhausted):
		return http.StatusServiceUnavailable, "storage temporarily unavailable"
	default:
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	}
}

// ErrorHandler renders errors as {statusCode, error, message}.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Int("status", code).
			Msg("request failed")
	}

	body := errorBody{StatusCode: code, Error: http.StatusText(code), Message: msg}
	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(code)
	} else {
		werr = c.JSON(code, body)
	}
	if werr != nil {
		log.Error().Err(werr).Msg("write error response")
	}
}
