package dialect

import "strings"

// rule maps a model-id substring to a formatter. refine, when set, must
// also accept the id for the rule to fire; a refine miss falls through to
// the next rule rather than ending resolution.
type rule struct {
	name   string
	match  func(id string) bool
	refine func(id string) bool
	format Formatter
}

func contains(sub string) func(string) bool {
	return func(id string) bool { return strings.Contains(id, sub) }
}

// rules is evaluated in order; first full match wins. Order matters where
// substrings overlap (e.g. the two llama-2 vendor paths).
var rules = []rule{
	{
		name:   "llama-2-chat",
		match:  contains("meta-llama/llama-2"),
		refine: contains("chat"),
		format: Llama2Chat,
	},
	{
		name:   "falcon-chat",
		match:  contains("tiiuae/falcon"),
		refine: func(id string) bool { return id == "tiiuae/falcon-180b-chat" },
		format: FalconChat,
	},
	{
		name:   "falcon-instruct",
		match:  contains("tiiuae/falcon"),
		refine: contains("instruct"),
		format: FalconInstruct,
	},
	{
		name:   "mpt-chat",
		match:  contains("mosaicml/mpt"),
		refine: contains("chat"),
		format: ChatML,
	},
	{
		name:   "codellama-instruct",
		match:  contains("codellama/codellama"),
		refine: contains("instruct"),
		format: Llama2Chat,
	},
	{
		name:   "wizardcoder",
		match:  contains("wizardlm/wizardcoder"),
		format: WizardCoder,
	},
	{
		name:   "phind-codellama",
		match:  contains("phind/phind-codellama"),
		format: PhindCodeLlama,
	},
	{
		name:  "together-llama-2",
		match: contains("togethercomputer/llama-2"),
		refine: func(id string) bool {
			return strings.Contains(id, "instruct") || strings.Contains(id, "chat")
		},
		format: Llama2Chat,
	},
}

// Resolve matches a model identifier against the static dialect table.
// Matching is case-insensitive; version suffixes (":latest" and the like)
// are harmless since rules use substring containment. ok=false means no
// static dialect claims the model and the caller should try the hub.
func Resolve(modelID string) (Formatter, string, bool) {
	id := strings.ToLower(modelID)
	for _, r := range rules {
		if !r.match(id) {
			continue
		}
		if r.refine != nil && !r.refine(id) {
			continue
		}
		return r.format, r.name, true
	}
	return nil, "", false
}
