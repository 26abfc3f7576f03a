// Package hub fetches a model's native chat template from a remote
// catalog and renders it, recovering when the template's assumptions
// (system-role support, strict turn alternation) do not hold for the
// supplied conversation.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
)

const DefaultBaseURL = "https://huggingface.co"

// ErrNoChatTemplate means the catalog has no usable template for the
// model: missing resource, bad body, or no chat_template field.
var ErrNoChatTemplate = errors.New("no chat template found")

// ErrRender wraps template failures that the recovery passes could not
// absorb.
var ErrRender = errors.New("error rendering chat template")

// TokenizerConfig is the slice of tokenizer_config.json this package
// cares about.
type TokenizerConfig struct {
	BOSToken     string
	EOSToken     string
	ChatTemplate string
}

type Client struct {
	// BaseURL points at the catalog host; empty means DefaultBaseURL.
	BaseURL string
	// HTTPClient defaults to http.DefaultClient. Timeout and transport
	// policy belong to the caller.
	HTTPClient *http.Client
}

// tokenizerConfigJSON tolerates the two encodings catalogs use for
// special tokens: a bare string or an added-token object with a
// content field.
type tokenizerConfigJSON struct {
	BOSToken     json.RawMessage `json:"bos_token"`
	EOSToken     json.RawMessage `json:"eos_token"`
	ChatTemplate json.RawMessage `json:"chat_template"`
}

// TokenizerConfig fetches {model}/raw/main/tokenizer_config.json. A
// non-200 response or an absent/non-string chat_template is
// ErrNoChatTemplate.
func (c *Client) TokenizerConfig(ctx context.Context, model string) (TokenizerConfig, error) {
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	url := fmt.Sprintf("%s/%s/raw/main/tokenizer_config.json", base, model)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return TokenizerConfig{}, err
	}
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return TokenizerConfig{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return TokenizerConfig{}, fmt.Errorf("%w: status %d for %s", ErrNoChatTemplate, resp.StatusCode, model)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TokenizerConfig{}, err
	}

	var raw tokenizerConfigJSON
	if err := json.Unmarshal(body, &raw); err != nil {
		return TokenizerConfig{}, fmt.Errorf("%w: %v", ErrNoChatTemplate, err)
	}
	tpl, ok := tokenString(raw.ChatTemplate)
	if !ok || tpl == "" {
		return TokenizerConfig{}, fmt.Errorf("%w: %s", ErrNoChatTemplate, model)
	}
	bos, _ := tokenString(raw.BOSToken)
	eos, _ := tokenString(raw.EOSToken)
	return TokenizerConfig{BOSToken: bos, EOSToken: eos, ChatTemplate: tpl}, nil
}

func tokenString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Content != "" {
		return obj.Content, true
	}
	return "", false
}
