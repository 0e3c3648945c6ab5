// Package server exposes the engine over HTTP: a websocket chat endpoint,
// the memory administration routes, health and metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/becomeliminal/nim-runtime/admin"
	"github.com/becomeliminal/nim-runtime/core"
	"github.com/becomeliminal/nim-runtime/engine"
	"github.com/becomeliminal/nim-runtime/logger"
)

// Config configures the server.
type Config struct {
	// Engine handles chat messages. Required.
	Engine *engine.Engine

	// Admin serves the /memory routes. Defaults to admin.New(Engine).
	Admin *admin.Service

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler

	// AllowedOrigins restricts websocket origins. Empty allows all.
	AllowedOrigins []string

	// MessageTimeout bounds one websocket message run. Default: 2 minutes.
	MessageTimeout time.Duration
}

// Server is the HTTP surface of the runtime.
type Server struct {
	cfg      Config
	echo     *echo.Echo
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// New creates a server and registers its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	if cfg.Admin == nil {
		cfg.Admin = admin.New(cfg.Engine)
	}
	if cfg.MessageTimeout == 0 {
		cfg.MessageTimeout = 2 * time.Minute
	}

	s := &Server{
		cfg:  cfg,
		echo: echo.New(),
		log:  logger.For("server"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.handleError
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORS())
	s.echo.Use(s.requestLogger())

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.echo.GET("/health", s.health)
	s.echo.GET("/ws", s.chat)
	s.echo.GET("/ws/:user_id", s.chat)
	if s.cfg.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.cfg.Metrics))
	}

	m := s.echo.Group("/memory")
	m.DELETE("/point/:collection_id/:memory_id/", s.deletePoint)
	m.GET("/recall/", s.recall)
	m.GET("/collections/", s.listCollections)
	m.DELETE("/collections/:collection_id", s.wipeCollection)
	m.DELETE("/wipe-collections/", s.wipeAll)
	m.DELETE("/working-memory/conversation-history/", s.clearHistory)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run listens on addr until Shutdown.
func (s *Server) Run(addr string) error {
	s.log.Info().Str("addr", addr).Msg("server listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) health(c echo.Context) error {
	state := s.cfg.Engine.State()
	status := http.StatusOK
	if state != engine.StateReady {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, map[string]any{
		"status": state.String(),
		"ready":  state == engine.StateReady,
	})
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			s.log.Debug().
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Int("status", c.Response().Status).
				Dur("took", time.Since(start)).
				Msg("request")
			return nil
		}
	}
}

// errorBody is the error envelope: {"detail": {"message": "..."}}.
type errorBody struct {
	Detail errorDetail `json:"detail"`
}

type errorDetail struct {
	Message string `json:"message"`
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "internal server error"

	var httpErr *echo.HTTPError
	var validation *core.ValidationError
	switch {
	case errors.As(err, &httpErr):
		status = httpErr.Code
		if msg, ok := httpErr.Message.(string); ok {
			message = msg
		} else {
			message = http.StatusText(status)
		}
	case errors.As(err, &validation):
		status = http.StatusUnprocessableEntity
		message = validation.Message
	case errors.Is(err, core.ErrNotReady):
		status = http.StatusServiceUnavailable
		message = "runtime is not ready"
	default:
		s.log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}

	if err := c.JSON(status, errorBody{Detail: errorDetail{Message: message}}); err != nil {
		s.log.Warn().Err(err).Msg("write error response")
	}
}
