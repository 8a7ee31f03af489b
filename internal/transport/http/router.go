package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/videoflow/notification/internal/domain"
	"github.com/videoflow/notification/internal/transport/mw"
)

// requestValidator plugs the domain's struct validation into echo.Context.Validate.
type requestValidator struct{}

func (requestValidator) Validate(i any) error { return domain.Validate(i) }

// NewRouter sets up all Echo routes and middleware. An empty jwtSecret
// disables authentication.
func NewRouter(h *Handler, gatherer prometheus.Gatherer, jwtSecret string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler
	e.Validator = requestValidator{}

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(mw.RequestLogger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
	}))

	// No auth required
	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := e.Group("/notifications")
	api.Use(mw.JWTAuth(jwtSecret))

	api.POST("", h.Create)
	api.GET("", h.Search)
	api.GET("/stream", h.Stream)
	api.GET("/recipient/:email", h.GetByRecipient)
	api.GET("/:id", h.Get)
	api.PATCH("/:id", h.UpdateTitle)
	api.DELETE("/:id", h.Delete)
	api.POST("/:id/deliver", h.Deliver)

	return e
}
