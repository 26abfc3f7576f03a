package tplengine

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Template AST. Statements are kept deliberately flat: text, output,
// set, for and if are the whole structural surface.
type node interface{}

type textNode struct {
	text string
}

type outputNode struct {
	expr expr
}

type setNode struct {
	name string
	expr expr
}

type forNode struct {
	varName string
	seq     expr
	body    []node
}

type ifBranch struct {
	cond expr
	body []node
}

type ifNode struct {
	branches []ifBranch
	elseBody []node
}

// Expressions.
type expr interface{}

type litExpr struct {
	val any
}

type varExpr struct {
	name string
}

type attrExpr struct {
	base expr
	name string
}

type indexExpr struct {
	base  expr
	index expr
}

type callExpr struct {
	name string
	args []expr
}

type filterExpr struct {
	base expr
	name string
	args []expr
}

type unaryExpr struct {
	op string
	x  expr
}

type binaryExpr struct {
	op   string
	l, r expr
}

type condExpr struct {
	val  expr
	cond expr
	alt  expr
}

type listExpr struct {
	items []expr
}

// segment is a raw slice of the source: literal text or the inside of a
// {{ }} / {% %} tag, with whitespace-trim markers already consumed.
type segment struct {
	kind      segKind // segText, segOutput, segStmt
	text      string
	trimLeft  bool
	trimRight bool
}

type segKind int

const (
	segText segKind = iota
	segOutput
	segStmt
)

const segComment = segKind(-1)

func scan(src string) ([]segment, error) {
	var segs []segment
	for len(src) > 0 {
		idx, kind := nextTag(src)
		if idx < 0 {
			segs = append(segs, segment{kind: segText, text: src})
			break
		}
		if idx > 0 {
			segs = append(segs, segment{kind: segText, text: src[:idx]})
		}
		var closer string
		switch kind {
		case segOutput:
			closer = "}}"
		case segStmt:
			closer = "%}"
		default:
			closer = "#}"
		}
		end := strings.Index(src[idx+2:], closer)
		if end < 0 {
			return nil, fmt.Errorf("unterminated %q tag", src[idx:idx+2])
		}
		inner := src[idx+2 : idx+2+end]
		src = src[idx+2+end+2:]
		if kind == segComment {
			continue
		}
		seg := segment{kind: kind}
		if strings.HasPrefix(inner, "-") {
			seg.trimLeft = true
			inner = inner[1:]
		}
		if strings.HasSuffix(inner, "-") {
			seg.trimRight = true
			inner = inner[:len(inner)-1]
		}
		seg.text = strings.TrimSpace(inner)
		segs = append(segs, seg)
	}
	return applyTrims(segs), nil
}

// nextTag finds the earliest tag opener in src.
func nextTag(src string) (int, segKind) {
	for i := 0; i+1 < len(src); i++ {
		if src[i] != '{' {
			continue
		}
		switch src[i+1] {
		case '{':
			return i, segOutput
		case '%':
			return i, segStmt
		case '#':
			return i, segComment
		}
	}
	return -1, segText
}

func applyTrims(segs []segment) []segment {
	for i, s := range segs {
		if s.kind == segText {
			continue
		}
		if s.trimLeft && i > 0 && segs[i-1].kind == segText {
			segs[i-1].text = strings.TrimRightFunc(segs[i-1].text, unicode.IsSpace)
		}
		if s.trimRight && i+1 < len(segs) && segs[i+1].kind == segText {
			segs[i+1].text = strings.TrimLeftFunc(segs[i+1].text, unicode.IsSpace)
		}
	}
	return segs
}

// parser assembles the segment stream into an AST.
type parser struct {
	segs []segment
	pos  int
}

func parse(src string) ([]node, error) {
	segs, err := scan(src)
	if err != nil {
		return nil, err
	}
	p := &parser{segs: segs}
	nodes, terminator, err := p.parseNodes()
	if err != nil {
		return nil, err
	}
	if terminator != "" {
		return nil, fmt.Errorf("unexpected %q outside block", terminator)
	}
	return nodes, nil
}

// parseNodes consumes segments until EOF or a block terminator
// (endfor/endif/elif/else), which it returns without consuming past.
func (p *parser) parseNodes() ([]node, string, error) {
	var nodes []node
	for p.pos < len(p.segs) {
		seg := p.segs[p.pos]
		switch seg.kind {
		case segText:
			p.pos++
			if seg.text != "" {
				nodes = append(nodes, textNode{text: seg.text})
			}
		case segOutput:
			p.pos++
			e, err := parseExprString(seg.text)
			if err != nil {
				return nil, "", err
			}
			nodes = append(nodes, outputNode{expr: e})
		case segStmt:
			keyword, rest := splitKeyword(seg.text)
			switch keyword {
			case "endfor", "endif", "elif", "else":
				return nodes, seg.text, nil
			case "set":
				p.pos++
				n, err := parseSet(rest)
				if err != nil {
					return nil, "", err
				}
				nodes = append(nodes, n)
			case "for":
				p.pos++
				n, err := p.parseFor(rest)
				if err != nil {
					return nil, "", err
				}
				nodes = append(nodes, n)
			case "if":
				p.pos++
				n, err := p.parseIf(rest)
				if err != nil {
					return nil, "", err
				}
				nodes = append(nodes, n)
			default:
				return nil, "", fmt.Errorf("unsupported statement %q", keyword)
			}
		}
	}
	return nodes, "", nil
}

func splitKeyword(s string) (string, string) {
	if i := strings.IndexFunc(s, unicode.IsSpace); i >= 0 {
		return s[:i], strings.TrimSpace(s[i:])
	}
	return s, ""
}

func parseSet(rest string) (node, error) {
	name, after, ok := strings.Cut(rest, "=")
	if !ok {
		return nil, fmt.Errorf("set: missing '=' in %q", rest)
	}
	name = strings.TrimSpace(name)
	if !isIdent(name) {
		return nil, fmt.Errorf("set: bad target %q", name)
	}
	e, err := parseExprString(after)
	if err != nil {
		return nil, err
	}
	return setNode{name: name, expr: e}, nil
}

func (p *parser) parseFor(rest string) (node, error) {
	varName, after, ok := strings.Cut(rest, " in ")
	if !ok {
		return nil, fmt.Errorf("for: missing 'in' in %q", rest)
	}
	varName = strings.TrimSpace(varName)
	if !isIdent(varName) {
		return nil, fmt.Errorf("for: bad loop variable %q", varName)
	}
	seq, err := parseExprString(after)
	if err != nil {
		return nil, err
	}
	body, term, err := p.parseNodes()
	if err != nil {
		return nil, err
	}
	if term != "endfor" {
		return nil, fmt.Errorf("for: expected endfor, got %q", term)
	}
	p.pos++ // consume endfor
	return forNode{varName: varName, seq: seq, body: body}, nil
}

func (p *parser) parseIf(rest string) (node, error) {
	cond, err := parseExprString(rest)
	if err != nil {
		return nil, err
	}
	out := ifNode{}
	for {
		body, term, err := p.parseNodes()
		if err != nil {
			return nil, err
		}
		out.branches = append(out.branches, ifBranch{cond: cond, body: body})
		switch {
		case term == "endif":
			p.pos++
			return out, nil
		case term == "else":
			p.pos++
			elseBody, term2, err := p.parseNodes()
			if err != nil {
				return nil, err
			}
			if term2 != "endif" {
				return nil, fmt.Errorf("if: expected endif after else, got %q", term2)
			}
			p.pos++
			out.elseBody = elseBody
			return out, nil
		case strings.HasPrefix(term, "elif"):
			p.pos++
			_, rest := splitKeyword(term)
			cond, err = parseExprString(rest)
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("if: unterminated block (got %q)", term)
		}
	}
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

// Expression tokens.
type tokKind int

const (
	tokIdent tokKind = iota
	tokNumber
	tokString
	tokOp
	tokEOF
)

type token struct {
	kind tokKind
	text string
	num  float64
}

func lexExpr(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			var b strings.Builder
			for j < len(src) && src[j] != quote {
				if src[j] == '\\' && j+1 < len(src) {
					j++
					switch src[j] {
					case 'n':
						b.WriteByte('\n')
					case 't':
						b.WriteByte('\t')
					case 'r':
						b.WriteByte('\r')
					default:
						b.WriteByte(src[j])
					}
					j++
					continue
				}
				b.WriteByte(src[j])
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			toks = append(toks, token{kind: tokString, text: b.String()})
			i = j + 1
		case c >= '0' && c <= '9':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			n, err := strconv.ParseFloat(src[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q", src[i:j])
			}
			toks = append(toks, token{kind: tokNumber, num: n})
			i = j
		case c == '_' || unicode.IsLetter(rune(c)):
			j := i
			for j < len(src) && (src[j] == '_' || unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j]))) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: src[i:j]})
			i = j
		default:
			if op, ok := twoCharOp(src[i:]); ok {
				toks = append(toks, token{kind: tokOp, text: op})
				i += 2
				continue
			}
			switch c {
			case '+', '-', '*', '/', '%', '~', '<', '>', '(', ')', '[', ']', '|', ',', '.', ':':
				toks = append(toks, token{kind: tokOp, text: string(c)})
				i++
			default:
				return nil, fmt.Errorf("unexpected character %q in expression", c)
			}
		}
	}
	toks = append(toks, token{kind: tokEOF})
	return toks, nil
}

type exprParser struct {
	toks []token
	pos  int
}

func parseExprString(src string) (expr, error) {
	toks, err := lexExpr(src)
	if err != nil {
		return nil, err
	}
	p := &exprParser{toks: toks}
	e, err := p.parseCond()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("trailing tokens after expression in %q", src)
	}
	return e, nil
}

func twoCharOp(s string) (string, bool) {
	for _, op := range []string{"==", "!=", "<=", ">=", "//"} {
		if strings.HasPrefix(s, op) {
			return op, true
		}
	}
	return "", false
}

func (p *exprParser) peek() token { return p.toks[p.pos] }
func (p *exprParser) next() token { t := p.toks[p.pos]; p.pos++; return t }
func (p *exprParser) isOp(s string) bool {
	t := p.peek()
	return t.kind == tokOp && t.text == s
}
func (p *exprParser) isKeyword(s string) bool {
	t := p.peek()
	return t.kind == tokIdent && t.text == s
}

// parseCond handles the inline conditional: value if cond else alt.
func (p *exprParser) parseCond() (expr, error) {
	val, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("if") {
		return val, nil
	}
	p.next()
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("else") {
		return nil, fmt.Errorf("inline if: missing else")
	}
	p.next()
	alt, err := p.parseCond()
	if err != nil {
		return nil, err
	}
	return condExpr{val: val, cond: cond, alt: alt}, nil
}

func (p *exprParser) parseOr() (expr, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		p.next()
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = binaryExpr{op: "or", l: l, r: r}
	}
	return l, nil
}

func (p *exprParser) parseAnd() (expr, error) {
	l, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		p.next()
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l = binaryExpr{op: "and", l: l, r: r}
	}
	return l, nil
}

func (p *exprParser) parseNot() (expr, error) {
	if p.isKeyword("not") {
		p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return unaryExpr{op: "not", x: x}, nil
	}
	return p.parseCompare()
}

func (p *exprParser) parseCompare() (expr, error) {
	l, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.isOp("=="), p.isOp("!="), p.isOp("<"), p.isOp("<="), p.isOp(">"), p.isOp(">="):
			op = p.next().text
		case p.isKeyword("in"):
			p.next()
			op = "in"
		case p.isKeyword("not"):
			// "not in"
			p.next()
			if !p.isKeyword("in") {
				return nil, fmt.Errorf("expected 'in' after 'not'")
			}
			p.next()
			op = "not in"
		case p.isKeyword("is"):
			p.next()
			negate := false
			if p.isKeyword("not") {
				p.next()
				negate = true
			}
			t := p.next()
			if t.kind != tokIdent {
				return nil, fmt.Errorf("expected test name after 'is'")
			}
			l = binaryExpr{op: "is", l: l, r: litExpr{val: t.text}}
			if negate {
				l = unaryExpr{op: "not", x: l}
			}
			continue
		default:
			return l, nil
		}
		r, err := p.parseAdd()
		if err != nil {
			return nil, err
		}
		l = binaryExpr{op: op, l: l, r: r}
	}
}

func (p *exprParser) parseAdd() (expr, error) {
	l, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for p.isOp("+") || p.isOp("-") || p.isOp("~") {
		op := p.next().text
		r, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		l = binaryExpr{op: op, l: l, r: r}
	}
	return l, nil
}

func (p *exprParser) parseMul() (expr, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*") || p.isOp("/") || p.isOp("//") || p.isOp("%") {
		op := p.next().text
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = binaryExpr{op: op, l: l, r: r}
	}
	return l, nil
}

func (p *exprParser) parseUnary() (expr, error) {
	if p.isOp("-") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryExpr{op: "-", x: x}, nil
	}
	return p.parsePostfix()
}

func (p *exprParser) parsePostfix() (expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.isOp("."):
			p.next()
			t := p.next()
			if t.kind != tokIdent {
				return nil, fmt.Errorf("expected attribute name after '.'")
			}
			e = attrExpr{base: e, name: t.text}
		case p.isOp("["):
			p.next()
			idx, err := p.parseCond()
			if err != nil {
				return nil, err
			}
			if !p.isOp("]") {
				return nil, fmt.Errorf("missing ']' in subscript")
			}
			p.next()
			e = indexExpr{base: e, index: idx}
		case p.isOp("("):
			name, ok := e.(varExpr)
			if !ok {
				return nil, fmt.Errorf("only named functions are callable")
			}
			p.next()
			args, err := p.parseArgs(")")
			if err != nil {
				return nil, err
			}
			e = callExpr{name: name.name, args: args}
		case p.isOp("|"):
			p.next()
			t := p.next()
			if t.kind != tokIdent {
				return nil, fmt.Errorf("expected filter name after '|'")
			}
			f := filterExpr{base: e, name: t.text}
			if p.isOp("(") {
				p.next()
				args, err := p.parseArgs(")")
				if err != nil {
					return nil, err
				}
				f.args = args
			}
			e = f
		default:
			return e, nil
		}
	}
}

func (p *exprParser) parseArgs(close string) ([]expr, error) {
	var args []expr
	if p.isOp(close) {
		p.next()
		return args, nil
	}
	for {
		a, err := p.parseCond()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.isOp(",") {
			p.next()
			continue
		}
		if p.isOp(close) {
			p.next()
			return args, nil
		}
		return nil, fmt.Errorf("expected ',' or %q in argument list", close)
	}
}

func (p *exprParser) parsePrimary() (expr, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.next()
		return litExpr{val: t.num}, nil
	case tokString:
		p.next()
		return litExpr{val: t.text}, nil
	case tokIdent:
		p.next()
		switch t.text {
		case "true", "True":
			return litExpr{val: true}, nil
		case "false", "False":
			return litExpr{val: false}, nil
		case "none", "None", "null":
			return litExpr{val: nil}, nil
		}
		return varExpr{name: t.text}, nil
	case tokOp:
		switch t.text {
		case "(":
			p.next()
			e, err := p.parseCond()
			if err != nil {
				return nil, err
			}
			if !p.isOp(")") {
				return nil, fmt.Errorf("missing ')'")
			}
			p.next()
			return e, nil
		case "[":
			p.next()
			items, err := p.parseArgs("]")
			if err != nil {
				return nil, err
			}
			return listExpr{items: items}, nil
		}
	}
	return nil, fmt.Errorf("unexpected token in expression")
}
