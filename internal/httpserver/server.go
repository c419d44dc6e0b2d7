// Package httpserver exposes the playground view and conversation over HTTP
// and pushes updates to websocket clients.
package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	authmw "github.com/chadiek/agent-playground/internal/middleware"
	"github.com/chadiek/agent-playground/internal/playground"
	"github.com/chadiek/agent-playground/internal/transcript"
)

// Controller is the part of the session core the server reads from.
type Controller interface {
	View() playground.View
	Conversation() []transcript.Entry
	Subscribe() (<-chan playground.View, func())
	SendChatMessage(ctx context.Context, text string) error
}

// Options configures the server.
type Options struct {
	// Password guards /api when set.
	Password string
}

// Server bundles the router and its dependencies.
type Server struct {
	echo   *echo.Echo
	ctrl   Controller
	logger *zap.Logger
}

type chatRequest struct {
	Message string `json:"message"`
}

type conversationResponse struct {
	Entries []transcript.Entry `json:"entries"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New constructs the HTTP server with routes.
func New(ctrl Controller, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{echo: newEcho(logger), ctrl: ctrl, logger: logger}
	s.echo.Use(authmw.PasswordAuth("/api/", opts.Password))

	s.echo.GET("/healthz", s.health)
	api := s.echo.Group("/api")
	api.GET("/view", s.view)
	api.GET("/conversation", s.conversation)
	api.POST("/chat", s.chat)
	api.GET("/ws", s.stream)
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) view(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ctrl.View())
}

func (s *Server) conversation(c echo.Context) error {
	return c.JSON(http.StatusOK, conversationResponse{Entries: entriesOf(s.ctrl)})
}

func entriesOf(ctrl Controller) []transcript.Entry {
	entries := ctrl.Conversation()
	if entries == nil {
		entries = []transcript.Entry{}
	}
	return entries
}

func (s *Server) chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	err := s.ctrl.SendChatMessage(c.Request().Context(), req.Message)
	switch {
	case err == nil:
		return c.NoContent(http.StatusAccepted)
	case errors.Is(err, playground.ErrEmptyMessage):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, playground.ErrChatDisabled):
		return c.JSON(http.StatusForbidden, errorResponse{Error: err.Error()})
	case errors.Is(err, playground.ErrClosed):
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		s.logger.Warn("send chat message", zap.Error(err))
		return c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
	}
}
