package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/quill/internal/hub"
	"github.com/samcharles93/quill/internal/prompt"
)

func newTestEcho() *echo.Echo {
	// Unreachable hub: unmatched models exercise the fallback path.
	renderer := &prompt.Renderer{Hub: &hub.Client{BaseURL: "http://127.0.0.1:0"}}
	server := NewServer(renderer)
	e := echo.New()
	server.Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRenderPromptDialect(t *testing.T) {
	t.Parallel()

	e := newTestEcho()
	rec := doJSON(t, e, http.MethodPost, "/v1/prompts",
		`{"model":"meta-llama/llama-2-7b-chat","messages":[{"role":"system","content":"be terse"},{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}

	var resp PromptResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(resp.ID, "prompt-") {
		t.Fatalf("unexpected id %q", resp.ID)
	}
	if resp.Object != "prompt" || resp.Model != "meta-llama/llama-2-7b-chat" {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
	want := "[INST] <<SYS>>\nbe terse\n<</SYS>>\n [/INST]\n[INST] hi [/INST]\n"
	if resp.Prompt != want {
		t.Fatalf("got %q want %q", resp.Prompt, want)
	}
	if resp.Source != "llama-2-chat" {
		t.Fatalf("unexpected source %q", resp.Source)
	}
}

func TestRenderPromptFallback(t *testing.T) {
	t.Parallel()

	e := newTestEcho()
	rec := doJSON(t, e, http.MethodPost, "/v1/prompts",
		`{"model":"unknown/model","messages":[{"role":"user","content":"a"},{"role":"assistant","content":"b"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	var resp PromptResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Prompt != "a b" {
		t.Fatalf("expected default join, got %q", resp.Prompt)
	}
	if resp.Source != string(prompt.SourceFallback) {
		t.Fatalf("unexpected source %q", resp.Source)
	}
}

func TestRenderPromptValidation(t *testing.T) {
	t.Parallel()

	e := newTestEcho()
	cases := []struct {
		name string
		body string
	}{
		{"malformed", `{"model":`},
		{"missing model", `{"messages":[{"role":"user","content":"hi"}]}`},
		{"empty messages", `{"model":"m","messages":[]}`},
		{"message without role", `{"model":"m","messages":[{"content":"hi"}]}`},
	}
	for _, tc := range cases {
		rec := doJSON(t, e, http.MethodPost, "/v1/prompts", tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status %d body=%s", tc.name, rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), "invalid_request_error") {
			t.Fatalf("%s: missing error envelope: %s", tc.name, rec.Body.String())
		}
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	e := newTestEcho()
	rec := doJSON(t, e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}
