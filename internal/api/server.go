// Package api exposes prompt rendering over HTTP, OpenAI-envelope style.
package api

import (
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/quill/internal/prompt"
)

type Server struct {
	renderer *prompt.Renderer
	clock    func() time.Time
}

func NewServer(renderer *prompt.Renderer) *Server {
	if renderer == nil {
		renderer = &prompt.Renderer{}
	}
	return &Server{renderer: renderer, clock: time.Now}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/prompts", s.handleRenderPrompt)
	e.GET("/healthz", s.handleHealth)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": apiError{Message: msg, Type: errType},
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
