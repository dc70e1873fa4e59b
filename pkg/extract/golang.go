package extract

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/neural-garage/tools/pkg/facts"
	"github.com/neural-garage/tools/pkg/parser"
)

type goExtractor struct{}

// NewGo returns the Go extractor. A package spans every file in its
// directory, so all files there share one module.
func NewGo() facts.Extractor {
	return goExtractor{}
}

func (goExtractor) Language() string {
	return string(parser.LangGo)
}

func (goExtractor) Extract(path string, content []byte) (*facts.FactSet, error) {
	result, err := parse(path, content, parser.LangGo)
	if err != nil {
		return nil, err
	}
	defer result.Close()

	w := &goWalker{
		c:       newCollector(path, parser.LangGo),
		src:     content,
		imports: make(map[string]bool),
	}
	root := result.Root()
	for _, decl := range parser.NamedChildren(root) {
		if decl.Type() == "import_declaration" {
			w.importDecl(decl)
		}
	}
	for _, decl := range parser.NamedChildren(root) {
		w.topLevel(decl)
	}
	return w.c.fs, nil
}

type goWalker struct {
	c       *collector
	src     []byte
	imports map[string]bool
}

func (w *goWalker) text(n *sitter.Node) string {
	return parser.NodeText(n, w.src)
}

func goVisibility(name string) facts.Visibility {
	if isCapitalized(name) {
		return facts.Public
	}
	return facts.Private
}

func (w *goWalker) topLevel(n *sitter.Node) {
	switch n.Type() {
	case "function_declaration":
		name := w.text(n.ChildByFieldName("name"))
		if name == "init" {
			w.c.declareSynthetic(name, nil, n, true)
		} else {
			w.c.declare(name, facts.KindFunction, nil, n, goVisibility(name))
		}
		w.function(n, []string{name}, newLocals())
	case "method_declaration":
		name := w.text(n.ChildByFieldName("name"))
		recvName, recvType := w.receiver(n.ChildByFieldName("receiver"))
		if recvType == "" {
			return
		}
		w.c.declare(name, facts.KindMethod, []string{recvType}, n, goVisibility(name))
		loc := newLocals()
		loc.bind(recvName)
		loc.setType(recvName, recvType)
		w.function(n, []string{recvType, name}, loc)
	case "type_declaration":
		for _, spec := range parser.NamedChildren(n) {
			if spec.Type() != "type_spec" && spec.Type() != "type_alias" {
				continue
			}
			name := w.text(spec.ChildByFieldName("name"))
			w.c.declare(name, facts.KindClass, nil, spec, goVisibility(name))
			w.walk(spec.ChildByFieldName("type"), []string{name}, newLocals())
		}
	case "var_declaration", "const_declaration":
		for _, spec := range w.specs(n) {
			var names []string
			for _, id := range parser.NamedChildren(spec) {
				if id.Type() == "identifier" && w.text(id) != "_" {
					names = append(names, w.text(id))
				}
			}
			for _, name := range names {
				w.c.declare(name, facts.KindVariable, nil, spec, goVisibility(name))
			}
			if len(names) == 0 {
				continue
			}
			scope := []string{names[0]}
			if t := spec.ChildByFieldName("type"); t != nil {
				w.walk(t, scope, newLocals())
			}
			if v := spec.ChildByFieldName("value"); v != nil {
				w.walk(v, scope, newLocals())
			}
		}
	}
}

// specs flattens var/const declarations with and without parentheses.
func (w *goWalker) specs(n *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for _, c := range parser.NamedChildren(n) {
		switch c.Type() {
		case "var_spec", "const_spec":
			out = append(out, c)
		case "var_spec_list", "const_spec_list":
			out = append(out, w.specs(c)...)
		}
	}
	return out
}

// receiver returns the receiver variable name and its base type name.
func (w *goWalker) receiver(params *sitter.Node) (string, string) {
	for _, p := range parser.NamedChildren(params) {
		if p.Type() != "parameter_declaration" {
			continue
		}
		name := w.text(p.ChildByFieldName("name"))
		return name, w.baseType(p.ChildByFieldName("type"))
	}
	return "", ""
}

func (w *goWalker) baseType(t *sitter.Node) string {
	for t != nil {
		switch t.Type() {
		case "type_identifier":
			return w.text(t)
		case "pointer_type":
			t = t.NamedChild(0)
		case "generic_type":
			t = t.ChildByFieldName("type")
		case "parenthesized_type":
			t = t.NamedChild(0)
		default:
			return ""
		}
	}
	return ""
}

func (w *goWalker) function(n *sitter.Node, scope []string, loc *locals) {
	for _, field := range []string{"parameters", "result"} {
		w.bindParams(n.ChildByFieldName(field), loc)
	}
	body := n.ChildByFieldName("body")
	w.scanLocals(body, loc)
	for _, field := range []string{"type_parameters", "parameters", "result"} {
		w.walkTypes(n.ChildByFieldName(field), scope, loc)
	}
	w.walk(body, scope, loc)
}

func (w *goWalker) bindParams(params *sitter.Node, loc *locals) {
	if params == nil {
		return
	}
	for _, p := range parser.NamedChildren(params) {
		if p.Type() != "parameter_declaration" && p.Type() != "variadic_parameter_declaration" {
			continue
		}
		typ := w.baseType(p.ChildByFieldName("type"))
		for _, id := range parser.NamedChildren(p) {
			if id.Type() == "identifier" {
				loc.bind(w.text(id))
				loc.setType(w.text(id), typ)
			}
		}
	}
}

// walkTypes records type names used in a signature.
func (w *goWalker) walkTypes(n *sitter.Node, scope []string, loc *locals) {
	if n == nil {
		return
	}
	parser.Walk(n, w.src, func(node *sitter.Node, t string, _ []byte) bool {
		switch t {
		case "type_identifier":
			w.typeRef(node, scope, loc)
			return false
		case "qualified_type":
			w.qualifiedType(node, scope)
			return false
		}
		return true
	})
}

func (w *goWalker) scanLocals(body *sitter.Node, loc *locals) {
	parser.Walk(body, w.src, func(n *sitter.Node, t string, _ []byte) bool {
		switch t {
		case "short_var_declaration", "range_clause", "receive_statement":
			left := n.ChildByFieldName("left")
			right := n.ChildByFieldName("right")
			ids := parser.NamedChildren(left)
			if left != nil && left.Type() == "identifier" {
				ids = []*sitter.Node{left}
			}
			var values []*sitter.Node
			if right != nil && right.Type() == "expression_list" {
				values = parser.NamedChildren(right)
			}
			for i, id := range ids {
				if id.Type() != "identifier" {
					continue
				}
				loc.bind(w.text(id))
				if t == "short_var_declaration" && i < len(values) {
					loc.setType(w.text(id), w.literalType(values[i]))
				}
			}
		case "var_spec", "const_spec":
			typ := w.baseType(n.ChildByFieldName("type"))
			for _, id := range parser.NamedChildren(n) {
				if id.Type() == "identifier" {
					loc.bind(w.text(id))
					loc.setType(w.text(id), typ)
				}
			}
		case "func_literal":
			w.bindParams(n.ChildByFieldName("parameters"), loc)
			w.bindParams(n.ChildByFieldName("result"), loc)
		case "type_switch_statement":
			if alias := n.ChildByFieldName("alias"); alias != nil {
				for _, id := range parser.NamedChildren(alias) {
					loc.bind(w.text(id))
				}
				if alias.Type() == "identifier" {
					loc.bind(w.text(alias))
				}
			}
		case "type_declaration":
			return false
		}
		return true
	})
}

// literalType returns T for T{...} and &T{...}.
func (w *goWalker) literalType(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	if n.Type() == "unary_expression" {
		n = n.ChildByFieldName("operand")
	}
	if n != nil && n.Type() == "composite_literal" {
		return w.baseType(n.ChildByFieldName("type"))
	}
	return ""
}

func (w *goWalker) typeRef(n *sitter.Node, scope []string, loc *locals) {
	name := w.text(n)
	if !goBuiltins[name] && !loc.has(name) {
		w.c.reference(scope, name, "", facts.RefAttribute, n)
	}
}

func (w *goWalker) qualifiedType(n *sitter.Node, scope []string) {
	pkg := w.text(n.ChildByFieldName("package"))
	name := w.text(n.ChildByFieldName("name"))
	w.c.reference(scope, name, pkg, facts.RefAttribute, n)
}

func (w *goWalker) walk(n *sitter.Node, scope []string, loc *locals) {
	if n == nil {
		return
	}
	parser.Walk(n, w.src, func(node *sitter.Node, t string, _ []byte) bool {
		switch t {
		case "comment", "interpreted_string_literal", "raw_string_literal", "int_literal", "float_literal":
			return false
		case "call_expression":
			w.call(node, scope, loc)
			return false
		case "selector_expression":
			w.selector(node, scope, loc, facts.RefAttribute)
			return false
		case "type_identifier":
			w.typeRef(node, scope, loc)
			return false
		case "qualified_type":
			w.qualifiedType(node, scope)
			return false
		case "keyed_element":
			// struct literal keys are field names
			children := parser.NamedChildren(node)
			if len(children) > 0 {
				w.walk(children[len(children)-1], scope, loc)
			}
			return false
		case "identifier":
			name := w.text(node)
			if !loc.has(name) && !goBuiltins[name] {
				w.c.reference(scope, name, "", facts.RefAttribute, node)
			}
			return false
		}
		return true
	})
}

func (w *goWalker) call(n *sitter.Node, scope []string, loc *locals) {
	fn := n.ChildByFieldName("function")
	switch fn.Type() {
	case "identifier":
		name := w.text(fn)
		if !loc.has(name) && !goBuiltins[name] {
			w.c.reference(scope, name, "", facts.RefDirectCall, fn)
		}
	case "selector_expression":
		w.selector(fn, scope, loc, facts.RefDirectCall)
	default:
		w.walk(fn, scope, loc)
	}
	w.walk(n.ChildByFieldName("type_arguments"), scope, loc)
	w.walk(n.ChildByFieldName("arguments"), scope, loc)
}

// selector handles x.Name both as a call target and as a value.
func (w *goWalker) selector(n *sitter.Node, scope []string, loc *locals, kind facts.RefKind) {
	operand := n.ChildByFieldName("operand")
	fieldNode := n.ChildByFieldName("field")
	field := w.text(fieldNode)
	if operand.Type() != "identifier" {
		if kind == facts.RefDirectCall {
			w.c.reference(scope, field, "", facts.RefDynamic, fieldNode)
		}
		w.walk(operand, scope, loc)
		return
	}
	o := w.text(operand)
	switch {
	case loc.typeOf(o) != "":
		if kind == facts.RefDirectCall {
			w.c.reference(scope, field, loc.typeOf(o), facts.RefMethodCall, fieldNode)
		}
	case loc.has(o):
		if kind == facts.RefDirectCall {
			w.c.reference(scope, field, "", facts.RefDynamic, fieldNode)
		}
	case w.imports[o]:
		w.c.reference(scope, field, o, kind, fieldNode)
	case goBuiltins[o]:
	default:
		// package-level variable or type
		w.c.reference(scope, o, "", facts.RefAttribute, operand)
		if kind == facts.RefDirectCall {
			w.c.reference(scope, field, o, facts.RefDynamic, fieldNode)
		}
	}
}

func (w *goWalker) importDecl(n *sitter.Node) {
	parser.Walk(n, w.src, func(spec *sitter.Node, t string, _ []byte) bool {
		if t != "import_spec" {
			return true
		}
		importPath := strings.Trim(w.text(spec.ChildByFieldName("path")), "\"`")
		segs := strings.Split(importPath, "/")
		alias := segs[len(segs)-1]
		if name := spec.ChildByFieldName("name"); name != nil {
			alias = w.text(name)
		}
		if alias == "_" || alias == "." {
			return false
		}
		w.imports[alias] = true
		w.c.imported(segs, 0, "", alias, spec)
		return false
	})
}
