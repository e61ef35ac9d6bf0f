package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	loggingmw "github.com/Skotchmaster/interview_prep/pkg/middleware/logging"
)

type Deps struct {
	AuthHandler *AuthHTTP
	Logger      *slog.Logger
	// Registry backs /metrics. Nil disables both the endpoint and the
	// request counter.
	Registry *prometheus.Registry
	// Ready reports whether dependencies (the database) are reachable.
	Ready func() error
}

func Register(e *echo.Echo, d *Deps) {
	e.HTTPErrorHandler = ErrorHandler
	e.Use(middleware.Recover())
	e.Use(loggingmw.RequestLogger(d.Logger))
	if d.Registry != nil {
		e.Use(NewMetrics(d.Registry).Middleware)
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	}

	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error {
		if d.Ready != nil {
			if err := d.Ready(); err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "Database unavailable").SetInternal(err)
			}
		}
		return c.NoContent(http.StatusOK)
	})

	auth := e.Group("/api/auth")
	auth.POST("/register", d.AuthHandler.Register)
	auth.POST("/login", d.AuthHandler.Login)
	auth.POST("/refresh", d.AuthHandler.Refresh)
	auth.POST("/logout", d.AuthHandler.LogOut)
	auth.GET("/validate", d.AuthHandler.Validate)
	auth.POST("/forgot-password", d.AuthHandler.ForgotPassword)
	auth.POST("/reset-password", d.AuthHandler.ResetPassword)
	auth.GET("/me", d.AuthHandler.Me, RequireBearer)
}
