// Package dialect renders chat messages into the prompt markup a given
// model family expects. Every formatter is a pure function over the
// message slice and is total: it never fails, whatever roles appear.
package dialect

import (
	"strings"

	"github.com/samcharles93/quill/internal/chat"
)

// Formatter renders an ordered message list into a single prompt string.
type Formatter func(msgs []chat.Message) string

// Join is the last-resort formatter: message contents joined by single
// spaces, roles ignored. It backs every failure path in this module.
func Join(msgs []chat.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, " ")
}

// RoleRule decorates one role's messages with literal pre/post text.
type RoleRule struct {
	Pre  string
	Post string
}

// Custom emits prefix once, then every message decorated by its role's
// rule (roles without a rule contribute raw content), then suffix once.
// The role-tagged dialects below are parameterizations of this.
func Custom(msgs []chat.Message, rules map[string]RoleRule, prefix, suffix string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, m := range msgs {
		rule := rules[m.Role]
		b.WriteString(rule.Pre)
		b.WriteString(m.Content)
		b.WriteString(rule.Post)
	}
	b.WriteString(suffix)
	return b.String()
}

// Llama2Chat follows the llama-2 chat convention: the system prompt sits
// in a <<SYS>> block inside an instruction, user turns are [INST] wrapped,
// assistant turns are terminated by a newline.
func Llama2Chat(msgs []chat.Message) string {
	return Custom(msgs, map[string]RoleRule{
		chat.RoleSystem: {
			Pre:  "[INST] <<SYS>>\n",
			Post: "\n<</SYS>>\n [/INST]\n",
		},
		chat.RoleUser: {
			Pre:  "[INST] ",
			Post: " [/INST]\n",
		},
		chat.RoleAssistant: {
			Post: "\n",
		},
	}, "", "")
}

// MistralInstruct wraps every turn in [INST] markers between a single
// BOS/EOS pair.
func MistralInstruct(msgs []chat.Message) string {
	rule := RoleRule{Pre: "[INST]", Post: "[/INST]"}
	return Custom(msgs, map[string]RoleRule{
		chat.RoleSystem:    rule,
		chat.RoleUser:      rule,
		chat.RoleAssistant: rule,
	}, "<s>", "</s>")
}

// FalconInstruct emits the system prompt raw and every other turn as
// "role:content" with collapsed newlines. Unknown roles keep their label.
func FalconInstruct(msgs []chat.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Role == chat.RoleSystem {
			b.WriteString(m.Content)
			continue
		}
		content := strings.ReplaceAll(m.Content, "\r\n", "\n")
		content = strings.ReplaceAll(content, "\n\n", "\n")
		b.WriteString(m.Role)
		b.WriteString(":")
		b.WriteString(content)
		b.WriteString("\n\n")
	}
	return b.String()
}

// FalconChat labels the three known roles and drops everything else.
func FalconChat(msgs []chat.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case chat.RoleSystem:
			b.WriteString("System: ")
			b.WriteString(m.Content)
		case chat.RoleAssistant:
			b.WriteString("Falcon: ")
			b.WriteString(m.Content)
		case chat.RoleUser:
			b.WriteString("User: ")
			b.WriteString(m.Content)
		}
	}
	return b.String()
}

// ChatML is the <|im_start|>/<|im_end|> convention used by the mpt chat
// models. Unknown roles are dropped.
func ChatML(msgs []chat.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case chat.RoleSystem, chat.RoleAssistant, chat.RoleUser:
			b.WriteString("<|im_start|>")
			b.WriteString(m.Role)
			b.WriteString(m.Content)
			b.WriteString("<|im_end|>")
			b.WriteString("\n")
		}
	}
	return b.String()
}

// WizardCoder maps user turns to "### Instruction" and assistant turns to
// "### Response" sections; the system prompt leads unadorned.
func WizardCoder(msgs []chat.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case chat.RoleSystem:
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		case chat.RoleUser:
			b.WriteString("### Instruction:\n")
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		case chat.RoleAssistant:
			b.WriteString("### Response:\n")
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

// PhindCodeLlama uses titled sections per role.
func PhindCodeLlama(msgs []chat.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case chat.RoleSystem:
			b.WriteString("### System Prompt\n")
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		case chat.RoleUser:
			b.WriteString("### User Message\n")
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		case chat.RoleAssistant:
			b.WriteString("### Assistant\n")
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		}
	}
	return b.String()
}
