// Package prompt is the entry point for prompt rendering: model id and
// messages in, prompt string out, no failure mode. Static dialects are
// tried first, then the model's own chat template from the hub; any
// error anywhere degrades to a whitespace join of the message contents.
package prompt

import (
	"context"

	"github.com/samcharles93/quill/internal/chat"
	"github.com/samcharles93/quill/internal/dialect"
	"github.com/samcharles93/quill/internal/hub"
)

// Source tells the caller which path produced the prompt, for logging at
// the edge. The renderer itself does not log.
type Source string

const (
	// SourceHub means the prompt came from the model's own catalog
	// template.
	SourceHub Source = "hub"
	// SourceFallback means something failed and the default join was
	// used.
	SourceFallback Source = "fallback"
	// Dialect hits report the dialect rule name instead.
)

// Renderer resolves model identifiers to prompt formats. The zero value
// uses the public catalog.
type Renderer struct {
	Hub *hub.Client
}

// Render returns the prompt for model and msgs. It never fails: when no
// dialect matches and the hub path errors (or anything else goes wrong,
// panics included), the result is the default space-joined concatenation.
func (r *Renderer) Render(ctx context.Context, model string, msgs []chat.Message) (out string, source Source) {
	defer func() {
		if rec := recover(); rec != nil {
			out = dialect.Join(msgs)
			source = SourceFallback
		}
	}()
	return r.render(ctx, model, msgs)
}

func (r *Renderer) render(ctx context.Context, model string, msgs []chat.Message) (string, Source) {
	if f, name, ok := dialect.Resolve(model); ok {
		return f(msgs), Source(name)
	}

	client := r.Hub
	if client == nil {
		client = &hub.Client{}
	}
	// The hub path keeps the original casing: catalog paths are
	// case-sensitive even though dialect matching is not.
	out, err := client.ChatPrompt(ctx, model, msgs)
	if err != nil {
		return dialect.Join(msgs), SourceFallback
	}
	return out, SourceHub
}

var defaultRenderer Renderer

// Render renders with the default catalog client.
func Render(ctx context.Context, model string, msgs []chat.Message) string {
	out, _ := defaultRenderer.Render(ctx, model, msgs)
	return out
}
