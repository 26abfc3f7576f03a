package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/samcharles93/quill/internal/chat"
)

const chatMLTemplate = "{{ bos_token }}{% for message in messages %}<|im_start|>{{ message['role'] }}\n{{ message['content'] }}<|im_end|>\n{% endfor %}"

// mistral-style template: no system role, strict alternation.
const strictTemplate = "{{ bos_token }}{% for message in messages %}" +
	"{% if (message['role'] == 'user') != (loop.index0 % 2 == 0) %}" +
	"{{ raise_exception('Conversation roles must alternate user/assistant/user/assistant/...') }}" +
	"{% endif %}" +
	"{% if message['role'] == 'user' %}[INST] {{ message['content'] }} [/INST]" +
	"{% elif message['role'] == 'assistant' %}{{ message['content'] }}{{ eos_token }}" +
	"{% else %}{{ raise_exception('Only user and assistant roles are supported!') }}" +
	"{% endif %}{% endfor %}"

func catalogServer(t *testing.T, configs map[string]map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for model, cfg := range configs {
			if r.URL.Path == "/"+model+"/raw/main/tokenizer_config.json" {
				if err := json.NewEncoder(w).Encode(cfg); err != nil {
					t.Errorf("encode config: %v", err)
				}
				return
			}
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenizerConfigStringTokens(t *testing.T) {
	t.Parallel()

	srv := catalogServer(t, map[string]map[string]any{
		"acme/model": {
			"bos_token":     "<s>",
			"eos_token":     "</s>",
			"chat_template": chatMLTemplate,
		},
	})
	c := &Client{BaseURL: srv.URL}
	cfg, err := c.TokenizerConfig(context.Background(), "acme/model")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if cfg.BOSToken != "<s>" || cfg.EOSToken != "</s>" || cfg.ChatTemplate != chatMLTemplate {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestTokenizerConfigAddedTokenObjects(t *testing.T) {
	t.Parallel()

	srv := catalogServer(t, map[string]map[string]any{
		"acme/model": {
			"bos_token":     map[string]any{"content": "<s>", "special": true},
			"eos_token":     map[string]any{"content": "</s>", "special": true},
			"chat_template": chatMLTemplate,
		},
	})
	c := &Client{BaseURL: srv.URL}
	cfg, err := c.TokenizerConfig(context.Background(), "acme/model")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if cfg.BOSToken != "<s>" || cfg.EOSToken != "</s>" {
		t.Fatalf("unexpected tokens: %+v", cfg)
	}
}

func TestTokenizerConfigMissing(t *testing.T) {
	t.Parallel()

	srv := catalogServer(t, map[string]map[string]any{
		"acme/no-template": {"bos_token": "<s>"},
	})
	c := &Client{BaseURL: srv.URL}

	if _, err := c.TokenizerConfig(context.Background(), "acme/unknown"); !errors.Is(err, ErrNoChatTemplate) {
		t.Fatalf("expected ErrNoChatTemplate for 404, got %v", err)
	}
	if _, err := c.TokenizerConfig(context.Background(), "acme/no-template"); !errors.Is(err, ErrNoChatTemplate) {
		t.Fatalf("expected ErrNoChatTemplate for missing field, got %v", err)
	}
}

func TestChatPromptSystemSupported(t *testing.T) {
	t.Parallel()

	srv := catalogServer(t, map[string]map[string]any{
		"acme/chatml": {
			"bos_token":     "<s>",
			"eos_token":     "</s>",
			"chat_template": chatMLTemplate,
		},
	})
	c := &Client{BaseURL: srv.URL}
	out, err := c.ChatPrompt(context.Background(), "acme/chatml", []chat.Message{
		{Role: chat.RoleSystem, Content: "be terse"},
		{Role: chat.RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "<s><|im_start|>system\nbe terse<|im_end|>\n<|im_start|>user\nhi<|im_end|>\n"
	if out != want {
		t.Fatalf("got %q want %q", out, want)
	}
}

func TestChatPromptRecastsSystemAndReconciles(t *testing.T) {
	t.Parallel()

	srv := catalogServer(t, map[string]map[string]any{
		"acme/strict": {
			"bos_token":     "<s>",
			"eos_token":     "</s>",
			"chat_template": strictTemplate,
		},
	})
	c := &Client{BaseURL: srv.URL}

	// System turn becomes a user turn, which collides with the real user
	// turn and forces the reconciliation pass.
	out, err := c.ChatPrompt(context.Background(), "acme/strict", []chat.Message{
		{Role: chat.RoleSystem, Content: "be terse"},
		{Role: chat.RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "<s>[INST] be terse [/INST]</s>[INST] hi [/INST]"
	if out != want {
		t.Fatalf("got %q want %q", out, want)
	}
}

// System-tolerant template that still demands alternating user/assistant
// turns: the probe succeeds, so reconciliation must kick in on the direct
// render path.
const systemTolerantStrictTemplate = "{% set last = '' %}{% for message in messages %}" +
	"{% if message['role'] == 'system' %}<<sys>>{{ message['content'] }}" +
	"{% else %}" +
	"{% if message['role'] == last %}" +
	"{{ raise_exception('Conversation roles must alternate user/assistant/user/assistant/...') }}" +
	"{% endif %}" +
	"{% set last = message['role'] %}" +
	"[{{ message['role'] }}:{{ message['content'] }}]" +
	"{% endif %}{% endfor %}"

func TestChatPromptReconcilesWhenSystemSupported(t *testing.T) {
	t.Parallel()

	srv := catalogServer(t, map[string]map[string]any{
		"acme/sys-strict": {
			"bos_token":     "<s>",
			"eos_token":     "</s>",
			"chat_template": systemTolerantStrictTemplate,
		},
	})
	c := &Client{BaseURL: srv.URL}

	// No system recast happens here; the consecutive user turns trip the
	// alternation guard on the original sequence.
	out, err := c.ChatPrompt(context.Background(), "acme/sys-strict", []chat.Message{
		{Role: chat.RoleSystem, Content: "s"},
		{Role: chat.RoleUser, Content: "a"},
		{Role: chat.RoleUser, Content: "b"},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "<<sys>>s[user:a][assistant:][user:b]"
	if out != want {
		t.Fatalf("got %q want %q", out, want)
	}
}

func TestChatPromptInputNotMutated(t *testing.T) {
	t.Parallel()

	srv := catalogServer(t, map[string]map[string]any{
		"acme/strict": {
			"bos_token":     "<s>",
			"eos_token":     "</s>",
			"chat_template": strictTemplate,
		},
	})
	c := &Client{BaseURL: srv.URL}

	msgs := []chat.Message{
		{Role: chat.RoleSystem, Content: "be terse"},
		{Role: chat.RoleUser, Content: "hi"},
	}
	snapshot := chat.Clone(msgs)
	if _, err := c.ChatPrompt(context.Background(), "acme/strict", msgs); err != nil {
		t.Fatalf("render: %v", err)
	}
	if !reflect.DeepEqual(msgs, snapshot) {
		t.Fatalf("input mutated: %+v", msgs)
	}
}

func TestChatPromptOtherRaiseIsRenderError(t *testing.T) {
	t.Parallel()

	srv := catalogServer(t, map[string]map[string]any{
		"acme/toolonly": {
			"bos_token": "<s>",
			"eos_token": "</s>",
			// Rejects every role; neither recovery pass applies.
			"chat_template": "{% for message in messages %}{{ raise_exception('tool role required') }}{% endfor %}",
		},
	})
	c := &Client{BaseURL: srv.URL}
	_, err := c.ChatPrompt(context.Background(), "acme/toolonly", []chat.Message{
		{Role: chat.RoleUser, Content: "hi"},
	})
	if !errors.Is(err, ErrRender) {
		t.Fatalf("expected ErrRender, got %v", err)
	}
}

func TestReconcileAlternation(t *testing.T) {
	t.Parallel()

	got := ReconcileAlternation([]chat.Message{
		{Role: chat.RoleUser, Content: "x"},
		{Role: chat.RoleUser, Content: "y"},
	})
	want := []chat.Message{
		{Role: chat.RoleUser, Content: "x"},
		{Role: chat.RoleAssistant, Content: ""},
		{Role: chat.RoleUser, Content: "y"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v want %+v", got, want)
	}

	got = ReconcileAlternation([]chat.Message{
		{Role: chat.RoleAssistant, Content: "a"},
		{Role: chat.RoleAssistant, Content: "b"},
	})
	if got[1].Role != chat.RoleUser || got[1].Content != "" {
		t.Fatalf("expected empty user filler, got %+v", got)
	}

	if out := ReconcileAlternation(nil); out != nil {
		t.Fatalf("expected nil for empty input, got %+v", out)
	}
}
