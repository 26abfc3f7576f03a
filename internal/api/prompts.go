package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/quill/internal/chat"
)

type PromptRequest struct {
	Model    string         `json:"model"`
	Messages []chat.Message `json:"messages"`
}

type PromptResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Source  string `json:"source"`
}

func (s *Server) handleRenderPrompt(c *echo.Context) error {
	req, err := decodeJSON[PromptRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Model == "" {
		return writeBadRequest(c, "model is required")
	}
	if len(req.Messages) == 0 {
		return writeBadRequest(c, "messages is required and must not be empty")
	}
	for _, m := range req.Messages {
		if m.Role == "" {
			return writeBadRequest(c, "every message needs a role")
		}
	}

	rendered, source := s.renderer.Render(c.Request().Context(), req.Model, req.Messages)
	return c.JSON(http.StatusOK, PromptResponse{
		ID:      "prompt-" + uuid.NewString(),
		Object:  "prompt",
		Created: s.clock().Unix(),
		Model:   req.Model,
		Prompt:  rendered,
		Source:  string(source),
	})
}
