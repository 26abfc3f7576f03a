// Package tplengine is a bounded evaluator for the Jinja-style chat
// templates that model catalogs ship in tokenizer_config.json. It covers
// the surface those templates actually use (for/if/set, subscripts,
// comparisons, a few filters, host-registered calls) and nothing more: no
// file or network access, no host reflection, and rendering can only
// produce a string or an error.
package tplengine

import "fmt"

// Func is a host-registered callable reachable from template code.
// Returning an error aborts the render.
type Func func(args ...any) (any, error)

// RaiseError is returned when template code calls raise_exception. The
// message is catalog-defined; callers match on it to recognize
// constraint violations such as strict role alternation.
type RaiseError struct {
	Message string
}

func (e *RaiseError) Error() string {
	return "template raised: " + e.Message
}

// Template is a compiled template, safe for reuse across renders.
type Template struct {
	nodes []node
	funcs map[string]Func
}

// Compile parses src into a renderable template.
func Compile(src string) (*Template, error) {
	nodes, err := parse(src)
	if err != nil {
		return nil, err
	}
	return &Template{nodes: nodes, funcs: map[string]Func{}}, nil
}

// RegisterFunc makes fn callable from template expressions under name.
func (t *Template) RegisterFunc(name string, fn Func) {
	t.funcs[name] = fn
}

// Render executes the template against vars. Variables referenced by the
// template but absent from vars evaluate as undefined (falsy, empty when
// printed) rather than failing.
func (t *Template) Render(vars map[string]any) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("template render: %v", r)
		}
	}()
	if vars == nil {
		vars = map[string]any{}
	}
	st := &state{funcs: t.funcs, scopes: []map[string]any{vars}}
	return st.renderNodes(t.nodes)
}
