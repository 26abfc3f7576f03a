package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samcharles93/quill/internal/chat"
	"github.com/samcharles93/quill/internal/tplengine"
)

// alternationSentinel is the message instruct templates raise when user
// and assistant turns do not strictly alternate. Matching on the text is
// the only contract the catalog offers.
const alternationSentinel = "Conversation roles must alternate user/assistant"

// ChatPrompt fetches the model's chat template from the catalog and
// renders msgs with it. Recovery is layered: a template that cannot
// render a system role gets the conversation with system turns recast as
// user turns; a template that enforces strict alternation gets a
// reconciled sequence with empty opposite-role turns inserted. Anything
// else fails with ErrRender (or ErrNoChatTemplate from the fetch).
//
// One fetch and at most three render attempts per call; nothing is
// cached and msgs is never mutated.
func (c *Client) ChatPrompt(ctx context.Context, model string, msgs []chat.Message) (string, error) {
	cfg, err := c.TokenizerConfig(ctx, model)
	if err != nil {
		return "", err
	}

	tpl, err := tplengine.Compile(cfg.ChatTemplate)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRender, err)
	}
	tpl.RegisterFunc("raise_exception", func(args ...any) (any, error) {
		msg := ""
		if len(args) > 0 {
			msg, _ = args[0].(string)
		}
		return nil, &tplengine.RaiseError{Message: msg}
	})

	render := func(msgs []chat.Message) (string, error) {
		return tpl.Render(map[string]any{
			"bos_token": cfg.BOSToken,
			"eos_token": cfg.EOSToken,
			"messages":  messagesVar(msgs),
		})
	}

	renderMsgs := msgs
	if !systemInTemplate(tpl) {
		renderMsgs = recastSystemAsUser(msgs)
	}

	out, err := render(renderMsgs)
	if err != nil && isAlternationError(err) {
		out, err = render(ReconcileAlternation(renderMsgs))
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRender, err)
	}
	return out, nil
}

// systemInTemplate probes the template with a lone synthetic system
// message; a failed render means system turns are unsupported.
func systemInTemplate(tpl *tplengine.Template) bool {
	_, err := tpl.Render(map[string]any{
		"bos_token": "<bos>",
		"eos_token": "<eos>",
		"messages":  messagesVar([]chat.Message{{Role: chat.RoleSystem, Content: "test"}}),
	})
	return err == nil
}

func recastSystemAsUser(msgs []chat.Message) []chat.Message {
	out := chat.Clone(msgs)
	for i := range out {
		if out[i].Role == chat.RoleSystem {
			out[i].Role = chat.RoleUser
		}
	}
	return out
}

// ReconcileAlternation inserts an empty opposite-role message between
// adjacent same-role turns so templates demanding strict user/assistant
// alternation can render the sequence.
func ReconcileAlternation(msgs []chat.Message) []chat.Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]chat.Message, 0, len(msgs))
	for i := 0; i < len(msgs)-1; i++ {
		out = append(out, msgs[i])
		if msgs[i].Role == msgs[i+1].Role {
			filler := chat.RoleUser
			if msgs[i].Role == chat.RoleUser {
				filler = chat.RoleAssistant
			}
			out = append(out, chat.Message{Role: filler, Content: ""})
		}
	}
	return append(out, msgs[len(msgs)-1])
}

func isAlternationError(err error) bool {
	var raised *tplengine.RaiseError
	if errors.As(err, &raised) {
		return strings.Contains(raised.Message, alternationSentinel)
	}
	return strings.Contains(err.Error(), alternationSentinel)
}

func messagesVar(msgs []chat.Message) []any {
	out := make([]any, len(msgs))
	for i, m := range msgs {
		out[i] = map[string]any{"role": m.Role, "content": m.Content}
	}
	return out
}
