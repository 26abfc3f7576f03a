package tplengine

import (
	"fmt"
	"strconv"
	"strings"
)

// undefined is what unknown names and missing attributes evaluate to.
// It is falsy, prints as the empty string and compares unequal to
// everything except itself, matching how lenient template engines treat
// missing context.
type undefined struct{}

type state struct {
	funcs  map[string]Func
	scopes []map[string]any
}

func (st *state) lookup(name string) any {
	for i := len(st.scopes) - 1; i >= 0; i-- {
		if v, ok := st.scopes[i][name]; ok {
			return v
		}
	}
	return undefined{}
}

func (st *state) assign(name string, v any) {
	st.scopes[len(st.scopes)-1][name] = v
}

func (st *state) push() {
	st.scopes = append(st.scopes, map[string]any{})
}

func (st *state) pop() {
	st.scopes = st.scopes[:len(st.scopes)-1]
}

func (st *state) renderNodes(nodes []node) (string, error) {
	var b strings.Builder
	if err := st.execNodes(nodes, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (st *state) execNodes(nodes []node, b *strings.Builder) error {
	for _, n := range nodes {
		if err := st.execNode(n, b); err != nil {
			return err
		}
	}
	return nil
}

func (st *state) execNode(n node, b *strings.Builder) error {
	switch n := n.(type) {
	case textNode:
		b.WriteString(n.text)
	case outputNode:
		v, err := st.eval(n.expr)
		if err != nil {
			return err
		}
		b.WriteString(stringify(v))
	case setNode:
		v, err := st.eval(n.expr)
		if err != nil {
			return err
		}
		st.assign(n.name, v)
	case ifNode:
		for _, br := range n.branches {
			cond, err := st.eval(br.cond)
			if err != nil {
				return err
			}
			if truthy(cond) {
				return st.execNodes(br.body, b)
			}
		}
		return st.execNodes(n.elseBody, b)
	case forNode:
		seq, err := st.eval(n.seq)
		if err != nil {
			return err
		}
		items, err := asList(seq)
		if err != nil {
			return err
		}
		st.push()
		defer st.pop()
		for i, item := range items {
			st.assign(n.varName, item)
			st.assign("loop", map[string]any{
				"index":     float64(i + 1),
				"index0":    float64(i),
				"first":     i == 0,
				"last":      i == len(items)-1,
				"length":    float64(len(items)),
				"revindex0": float64(len(items) - 1 - i),
			})
			if err := st.execNodes(n.body, b); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown node %T", n)
	}
	return nil
}

func (st *state) eval(e expr) (any, error) {
	switch e := e.(type) {
	case litExpr:
		return e.val, nil
	case varExpr:
		return st.lookup(e.name), nil
	case attrExpr:
		base, err := st.eval(e.base)
		if err != nil {
			return nil, err
		}
		return member(base, e.name), nil
	case indexExpr:
		base, err := st.eval(e.base)
		if err != nil {
			return nil, err
		}
		idx, err := st.eval(e.index)
		if err != nil {
			return nil, err
		}
		return subscript(base, idx)
	case listExpr:
		items := make([]any, 0, len(e.items))
		for _, it := range e.items {
			v, err := st.eval(it)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return items, nil
	case callExpr:
		fn, ok := st.funcs[e.name]
		if !ok {
			return nil, fmt.Errorf("unknown function %q", e.name)
		}
		args := make([]any, 0, len(e.args))
		for _, a := range e.args {
			v, err := st.eval(a)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		return fn(args...)
	case filterExpr:
		base, err := st.eval(e.base)
		if err != nil {
			return nil, err
		}
		args := make([]any, 0, len(e.args))
		for _, a := range e.args {
			v, err := st.eval(a)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		return applyFilter(e.name, base, args)
	case unaryExpr:
		x, err := st.eval(e.x)
		if err != nil {
			return nil, err
		}
		switch e.op {
		case "not":
			return !truthy(x), nil
		case "-":
			n, ok := asNumber(x)
			if !ok {
				return nil, fmt.Errorf("cannot negate %T", x)
			}
			return -n, nil
		}
		return nil, fmt.Errorf("unknown unary op %q", e.op)
	case binaryExpr:
		return st.evalBinary(e)
	case condExpr:
		cond, err := st.eval(e.cond)
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return st.eval(e.val)
		}
		return st.eval(e.alt)
	}
	return nil, fmt.Errorf("unknown expression %T", e)
}

func (st *state) evalBinary(e binaryExpr) (any, error) {
	// Short-circuit logic first.
	switch e.op {
	case "and":
		l, err := st.eval(e.l)
		if err != nil {
			return nil, err
		}
		if !truthy(l) {
			return l, nil
		}
		return st.eval(e.r)
	case "or":
		l, err := st.eval(e.l)
		if err != nil {
			return nil, err
		}
		if truthy(l) {
			return l, nil
		}
		return st.eval(e.r)
	}

	l, err := st.eval(e.l)
	if err != nil {
		return nil, err
	}
	r, err := st.eval(e.r)
	if err != nil {
		return nil, err
	}

	switch e.op {
	case "==":
		return equal(l, r), nil
	case "!=":
		return !equal(l, r), nil
	case "<", "<=", ">", ">=":
		return compare(e.op, l, r)
	case "in":
		return containsValue(r, l)
	case "not in":
		ok, err := containsValue(r, l)
		if err != nil {
			return nil, err
		}
		return !ok, nil
	case "is":
		name, _ := r.(string)
		return applyTest(name, l)
	case "~":
		return stringify(l) + stringify(r), nil
	case "+":
		if ls, ok := l.(string); ok {
			rs, ok := r.(string)
			if !ok {
				return nil, fmt.Errorf("cannot add string and %T", r)
			}
			return ls + rs, nil
		}
		return arith("+", l, r)
	case "-", "*", "/", "//", "%":
		return arith(e.op, l, r)
	}
	return nil, fmt.Errorf("unknown operator %q", e.op)
}

func applyTest(name string, v any) (any, error) {
	switch name {
	case "defined":
		_, undef := v.(undefined)
		return !undef, nil
	case "undefined":
		_, undef := v.(undefined)
		return undef, nil
	case "none":
		return v == nil, nil
	case "string":
		_, ok := v.(string)
		return ok, nil
	case "number":
		_, ok := asNumber(v)
		return ok, nil
	}
	return nil, fmt.Errorf("unknown test %q", name)
}

func applyFilter(name string, v any, args []any) (any, error) {
	switch name {
	case "trim":
		return strings.TrimSpace(stringify(v)), nil
	case "lower":
		return strings.ToLower(stringify(v)), nil
	case "upper":
		return strings.ToUpper(stringify(v)), nil
	case "string":
		return stringify(v), nil
	case "length", "count":
		switch v := v.(type) {
		case string:
			return float64(len(v)), nil
		case []any:
			return float64(len(v)), nil
		case map[string]any:
			return float64(len(v)), nil
		}
		return nil, fmt.Errorf("length: unsupported type %T", v)
	case "default":
		if _, undef := v.(undefined); undef || v == nil {
			if len(args) > 0 {
				return args[0], nil
			}
			return "", nil
		}
		return v, nil
	case "first":
		items, err := asList(v)
		if err != nil || len(items) == 0 {
			return undefined{}, nil
		}
		return items[0], nil
	case "last":
		items, err := asList(v)
		if err != nil || len(items) == 0 {
			return undefined{}, nil
		}
		return items[len(items)-1], nil
	case "join":
		items, err := asList(v)
		if err != nil {
			return nil, err
		}
		sep := ""
		if len(args) > 0 {
			sep = stringify(args[0])
		}
		parts := make([]string, 0, len(items))
		for _, it := range items {
			parts = append(parts, stringify(it))
		}
		return strings.Join(parts, sep), nil
	}
	return nil, fmt.Errorf("unknown filter %q", name)
}

func arith(op string, l, r any) (any, error) {
	ln, ok := asNumber(l)
	if !ok {
		return nil, fmt.Errorf("%s: not a number: %T", op, l)
	}
	rn, ok := asNumber(r)
	if !ok {
		return nil, fmt.Errorf("%s: not a number: %T", op, r)
	}
	switch op {
	case "+":
		return ln + rn, nil
	case "-":
		return ln - rn, nil
	case "*":
		return ln * rn, nil
	case "/":
		if rn == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return ln / rn, nil
	case "//":
		if rn == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return float64(int64(ln / rn)), nil
	case "%":
		if rn == 0 {
			return nil, fmt.Errorf("modulo by zero")
		}
		return float64(int64(ln) % int64(rn)), nil
	}
	return nil, fmt.Errorf("unknown arithmetic op %q", op)
}

func compare(op string, l, r any) (any, error) {
	if ls, ok := l.(string); ok {
		rs, ok := r.(string)
		if !ok {
			return nil, fmt.Errorf("cannot compare string and %T", r)
		}
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	ln, lok := asNumber(l)
	rn, rok := asNumber(r)
	if !lok || !rok {
		return nil, fmt.Errorf("cannot compare %T and %T", l, r)
	}
	switch op {
	case "<":
		return ln < rn, nil
	case "<=":
		return ln <= rn, nil
	case ">":
		return ln > rn, nil
	case ">=":
		return ln >= rn, nil
	}
	return nil, fmt.Errorf("unknown comparison %q", op)
}

func containsValue(haystack, needle any) (bool, error) {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, stringify(needle)), nil
	case []any:
		for _, item := range h {
			if equal(item, needle) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		s, ok := needle.(string)
		if !ok {
			return false, nil
		}
		_, present := h[s]
		return present, nil
	case undefined:
		return false, nil
	}
	return false, fmt.Errorf("'in' unsupported for %T", haystack)
}

func member(base any, name string) any {
	switch b := base.(type) {
	case map[string]any:
		if v, ok := b[name]; ok {
			return v
		}
	}
	return undefined{}
}

func subscript(base, idx any) (any, error) {
	switch b := base.(type) {
	case map[string]any:
		s, ok := idx.(string)
		if !ok {
			return nil, fmt.Errorf("map subscript must be a string")
		}
		if v, ok := b[s]; ok {
			return v, nil
		}
		return undefined{}, nil
	case []any:
		n, ok := asNumber(idx)
		if !ok {
			return nil, fmt.Errorf("list subscript must be a number")
		}
		i := int(n)
		if i < 0 {
			i += len(b)
		}
		if i < 0 || i >= len(b) {
			return nil, fmt.Errorf("list index %d out of range", int(n))
		}
		return b[i], nil
	case string:
		n, ok := asNumber(idx)
		if !ok {
			return nil, fmt.Errorf("string subscript must be a number")
		}
		i := int(n)
		if i < 0 {
			i += len(b)
		}
		if i < 0 || i >= len(b) {
			return nil, fmt.Errorf("string index %d out of range", int(n))
		}
		return string(b[i]), nil
	case undefined:
		return undefined{}, nil
	}
	return nil, fmt.Errorf("cannot subscript %T", base)
}

func asList(v any) ([]any, error) {
	switch v := v.(type) {
	case []any:
		return v, nil
	case []map[string]any:
		out := make([]any, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out, nil
	case undefined:
		return nil, nil
	}
	return nil, fmt.Errorf("not iterable: %T", v)
}

func asNumber(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil, undefined:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	}
	return true
}

func equal(l, r any) bool {
	if ln, ok := asNumber(l); ok {
		if rn, ok := asNumber(r); ok {
			return ln == rn
		}
		return false
	}
	switch l := l.(type) {
	case string:
		rs, ok := r.(string)
		return ok && l == rs
	case bool:
		rb, ok := r.(bool)
		return ok && l == rb
	case nil:
		return r == nil
	case undefined:
		_, ok := r.(undefined)
		return ok
	}
	return false
}

func stringify(v any) string {
	switch v := v.(type) {
	case nil, undefined:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "True"
		}
		return "False"
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int:
		return strconv.Itoa(v)
	}
	return fmt.Sprintf("%v", v)
}
