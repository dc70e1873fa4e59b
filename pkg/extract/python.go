package extract

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/neural-garage/tools/pkg/facts"
	"github.com/neural-garage/tools/pkg/parser"
)

type pythonExtractor struct{}

// NewPython returns the Python extractor.
func NewPython() facts.Extractor {
	return pythonExtractor{}
}

func (pythonExtractor) Language() string {
	return string(parser.LangPython)
}

func (pythonExtractor) Extract(path string, content []byte) (*facts.FactSet, error) {
	result, err := parse(path, content, parser.LangPython)
	if err != nil {
		return nil, err
	}
	defer result.Close()

	w := &pyWalker{
		c:       newCollector(path, parser.LangPython),
		src:     content,
		classes: make(map[string]bool),
		globals: newLocals(),
	}
	w.mod.c = w.c
	for _, n := range parser.FindByType(result.Root(), content, "class_definition") {
		w.classes[parser.NodeText(n.ChildByFieldName("name"), content)] = true
	}
	w.scanGlobals(result.Root(), nil)
	w.moduleBlock(result.Root())
	return w.c.fs, nil
}

type pyWalker struct {
	c       *collector
	src     []byte
	mod     moduleCode
	classes map[string]bool
	globals *locals // only types are used; module names are declared symbols
}

func (w *pyWalker) text(n *sitter.Node) string {
	return parser.NodeText(n, w.src)
}

func pyVisibility(name string) facts.Visibility {
	if strings.HasPrefix(name, "_") && !isDunder(name) {
		return facts.Private
	}
	return facts.Public
}

func (w *pyWalker) moduleBlock(n *sitter.Node) {
	for _, stmt := range parser.NamedChildren(n) {
		w.topLevel(stmt)
	}
}

func (w *pyWalker) topLevel(n *sitter.Node) {
	switch n.Type() {
	case "comment":
	case "function_definition", "class_definition", "decorated_definition":
		w.definition(n, nil, "", "")
	case "import_statement", "import_from_statement":
		w.imports(n)
	case "future_import_statement":
	case "if_statement":
		if isMainGuard(w.text(n.ChildByFieldName("condition"))) {
			w.c.declareSynthetic(facts.MainGuardName, nil, n, true)
			scope := []string{facts.MainGuardName}
			body := n.ChildByFieldName("consequence")
			w.block(body, scope, w.scanLocals(body, nil), "")
			for _, alt := range parser.NamedChildren(n) {
				if t := alt.Type(); t == "elif_clause" || t == "else_clause" {
					w.compound(alt)
				}
			}
			return
		}
		w.compound(n)
	case "try_statement", "with_statement", "for_statement", "while_statement":
		w.compound(n)
	case "expression_statement":
		if w.moduleAssignment(n) {
			return
		}
		w.moduleCode(n)
	default:
		w.moduleCode(n)
	}
}

// compound handles a top-level control statement: nested blocks may declare
// module symbols, everything else is module code.
func (w *pyWalker) compound(n *sitter.Node) {
	for _, child := range parser.NamedChildren(n) {
		switch child.Type() {
		case "block":
			w.moduleBlock(child)
		case "elif_clause", "else_clause", "except_clause", "finally_clause", "except_group_clause":
			w.compound(child)
		case "comment":
		default:
			w.moduleCode(child)
		}
	}
}

func (w *pyWalker) moduleCode(n *sitter.Node) {
	// Docstrings and literals own no references.
	uses := false
	parser.Walk(n, w.src, func(_ *sitter.Node, t string, _ []byte) bool {
		if t == "identifier" {
			uses = true
		}
		return !uses
	})
	if !uses {
		return
	}
	w.walk(n, w.mod.scope(n), newLocals(), "")
}

// moduleAssignment declares module-level variables. The right-hand side is
// attributed to the first declared name.
func (w *pyWalker) moduleAssignment(stmt *sitter.Node) bool {
	if stmt.NamedChildCount() != 1 || stmt.NamedChild(0).Type() != "assignment" {
		return false
	}
	assign := stmt.NamedChild(0)
	left := assign.ChildByFieldName("left")
	var targets []*sitter.Node
	switch left.Type() {
	case "identifier":
		targets = []*sitter.Node{left}
	case "pattern_list", "tuple_pattern":
		for _, c := range parser.NamedChildren(left) {
			if c.Type() == "identifier" {
				targets = append(targets, c)
			}
		}
	}
	if len(targets) == 0 {
		return false
	}
	for _, t := range targets {
		name := w.text(t)
		w.c.declare(name, facts.KindVariable, nil, stmt, pyVisibility(name))
	}
	scope := []string{w.text(targets[0])}
	right := assign.ChildByFieldName("right")
	if ann := assign.ChildByFieldName("type"); ann != nil {
		w.walk(ann, scope, newLocals(), "")
	}
	if right != nil {
		w.walk(right, scope, newLocals(), "")
	}
	return true
}

// constructed returns the class name when n is a call to a class.
func (w *pyWalker) constructed(n *sitter.Node) string {
	if n == nil || n.Type() != "call" {
		return ""
	}
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	switch fn.Type() {
	case "identifier":
		name := w.text(fn)
		if w.classes[name] || (isCapitalized(name) && !pythonBuiltins[name]) {
			return name
		}
	case "attribute":
		// mod.Class()
		if attr := w.text(fn.ChildByFieldName("attribute")); isCapitalized(attr) && isDottedName(fn, w.src) {
			return w.text(fn)
		}
	}
	return ""
}

// definition declares a function or class and walks its body. cls is the
// enclosing class when n sits directly in a class body; self is the class
// that self/cls refer to inside nested functions.
func (w *pyWalker) definition(n *sitter.Node, scope []string, cls, self string) {
	switch n.Type() {
	case "decorated_definition":
		def := n.ChildByFieldName("definition")
		if def == nil {
			return
		}
		name := w.text(def.ChildByFieldName("name"))
		qual := append(append([]string{}, scope...), name)
		w.definition(def, scope, cls, self)
		for _, child := range parser.NamedChildren(n) {
			if child.Type() == "decorator" {
				w.walk(child, qual, newLocals(), self)
			}
		}
	case "function_definition":
		name := w.text(n.ChildByFieldName("name"))
		kind := facts.KindFunction
		if cls != "" {
			kind = facts.KindMethod
			self = cls
		}
		w.c.declare(name, kind, scope, n, pyVisibility(name))
		qual := append(append([]string{}, scope...), name)
		params := n.ChildByFieldName("parameters")
		body := n.ChildByFieldName("body")
		loc := w.scanLocals(body, params)
		w.walkParams(params, qual, loc, self)
		if rt := n.ChildByFieldName("return_type"); rt != nil {
			w.walk(rt, qual, loc, self)
		}
		w.block(body, qual, loc, self)
	case "class_definition":
		name := w.text(n.ChildByFieldName("name"))
		w.c.declare(name, facts.KindClass, scope, n, pyVisibility(name))
		qual := append(append([]string{}, scope...), name)
		if supers := n.ChildByFieldName("superclasses"); supers != nil {
			w.walk(supers, qual, newLocals(), self)
		}
		body := n.ChildByFieldName("body")
		var dunders []*sitter.Node
		for _, stmt := range parser.NamedChildren(body) {
			switch stmt.Type() {
			case "function_definition", "decorated_definition", "class_definition":
				def := stmt
				if stmt.Type() == "decorated_definition" {
					def = stmt.ChildByFieldName("definition")
				}
				if def != nil && def.Type() == "function_definition" {
					if m := def.ChildByFieldName("name"); isDunder(w.text(m)) {
						dunders = append(dunders, m)
					}
				}
				if stmt.Type() == "class_definition" {
					w.definition(stmt, qual, "", "")
				} else {
					w.definition(stmt, qual, name, "")
				}
			case "comment":
			default:
				w.walk(stmt, qual, newLocals(), "")
			}
		}
		// Lifecycle and operator methods are invoked by the runtime whenever
		// the class is used.
		for _, m := range dunders {
			w.c.reference(qual, w.text(m), name, facts.RefMethodCall, m)
		}
	}
}

func (w *pyWalker) walkParams(params *sitter.Node, scope []string, loc *locals, self string) {
	for _, p := range parser.NamedChildren(params) {
		for _, field := range []string{"type", "value"} {
			if v := p.ChildByFieldName(field); v != nil {
				w.walk(v, scope, loc, self)
			}
		}
	}
}

// scanLocals collects the names bound inside a function body, without
// descending into nested definitions.
func (w *pyWalker) scanLocals(body, params *sitter.Node) *locals {
	loc := newLocals()
	for _, p := range parser.NamedChildren(params) {
		switch p.Type() {
		case "identifier":
			loc.unknown(w.text(p))
		case "typed_parameter", "list_splat_pattern", "dictionary_splat_pattern":
			for _, c := range parser.NamedChildren(p) {
				if c.Type() == "identifier" {
					loc.unknown(w.text(c))
				}
			}
		case "default_parameter", "typed_default_parameter":
			loc.unknown(w.text(p.ChildByFieldName("name")))
		}
	}
	parser.Walk(body, w.src, func(n *sitter.Node, t string, _ []byte) bool {
		switch t {
		case "function_definition", "class_definition", "lambda":
			// nested definitions are declared symbols, not locals
			w.nonlocals(n, loc)
			return false
		case "global_statement", "nonlocal_statement":
			return false
		case "import_statement", "import_from_statement":
			return false
		}
		w.bindings(n, t, func(name, typ string) {
			loc.bind(name)
			loc.assign(name, typ)
		})
		return true
	})
	return loc
}

// nonlocals clears the class of every outer name a nested definition
// rebinds through a nonlocal statement.
func (w *pyWalker) nonlocals(def *sitter.Node, loc *locals) {
	for _, stmt := range parser.FindByType(def, w.src, "nonlocal_statement") {
		for _, id := range parser.NamedChildren(stmt) {
			loc.assign(w.text(id), "")
		}
	}
}

// scanGlobals records the class of module-level names. Inside a function only
// names the function declares global count.
func (w *pyWalker) scanGlobals(n *sitter.Node, declared map[string]bool) {
	parser.Walk(n, w.src, func(node *sitter.Node, t string, _ []byte) bool {
		switch t {
		case "function_definition":
			names := make(map[string]bool)
			for _, stmt := range parser.FindByType(node, w.src, "global_statement") {
				for _, id := range parser.NamedChildren(stmt) {
					names[w.text(id)] = true
				}
			}
			w.scanGlobals(node.ChildByFieldName("body"), names)
			return false
		case "class_definition":
			w.scanGlobals(node.ChildByFieldName("body"), map[string]bool{})
			return false
		case "lambda":
			return false
		}
		w.bindings(node, t, func(name, typ string) {
			if declared == nil || declared[name] {
				w.globals.assign(name, typ)
			}
		})
		return true
	})
}

// bindings reports each name n binds, with the class it is constructed from
// or "" when the value is not a plain constructor call.
func (w *pyWalker) bindings(n *sitter.Node, t string, fn func(name, typ string)) {
	unknown := func(name string) { fn(name, "") }
	switch t {
	case "assignment":
		left := n.ChildByFieldName("left")
		if left != nil && left.Type() == "identifier" {
			fn(w.text(left), w.constructed(n.ChildByFieldName("right")))
			return
		}
		w.targets(left, unknown)
	case "augmented_assignment", "for_statement", "for_in_clause":
		w.targets(n.ChildByFieldName("left"), unknown)
	case "as_pattern_target", "named_expression":
		w.targets(n.NamedChild(0), unknown)
	case "except_clause":
		for _, c := range parser.NamedChildren(n) {
			if c.Type() == "identifier" {
				unknown(w.text(c))
			}
		}
	}
}

func (w *pyWalker) targets(n *sitter.Node, fn func(name string)) {
	if n == nil {
		return
	}
	if n.Type() == "identifier" {
		fn(w.text(n))
		return
	}
	switch n.Type() {
	case "pattern_list", "tuple_pattern", "list_pattern", "list_splat_pattern", "parenthesized_expression":
		for _, c := range parser.NamedChildren(n) {
			w.targets(c, fn)
		}
	}
}

func (w *pyWalker) block(body *sitter.Node, scope []string, loc *locals, self string) {
	for _, stmt := range parser.NamedChildren(body) {
		w.walk(stmt, scope, loc, self)
	}
}

// walk emits references for every use found under n.
func (w *pyWalker) walk(n *sitter.Node, scope []string, loc *locals, self string) {
	parser.Walk(n, w.src, func(node *sitter.Node, t string, _ []byte) bool {
		switch t {
		case "function_definition", "class_definition", "decorated_definition":
			w.definition(node, scope, "", self)
			return false
		case "import_statement", "import_from_statement":
			w.imports(node)
			return false
		case "global_statement", "nonlocal_statement", "comment", "string_content":
			return false
		case "call":
			w.call(node, scope, loc, self)
			return false
		case "attribute":
			w.attribute(node, scope, loc, self)
			return false
		case "keyword_argument":
			w.walk(node.ChildByFieldName("value"), scope, loc, self)
			return false
		case "lambda":
			inner := newLocals()
			for k, v := range loc.names {
				inner.names[k] = v
			}
			for k, v := range loc.types {
				inner.types[k] = v
			}
			if params := node.ChildByFieldName("parameters"); params != nil {
				for _, p := range parser.NamedChildren(params) {
					if p.Type() == "identifier" {
						inner.bind(w.text(p))
					} else {
						inner.bind(w.text(p.ChildByFieldName("name")))
					}
				}
			}
			w.walk(node.ChildByFieldName("body"), scope, inner, self)
			return false
		case "identifier":
			name := w.text(node)
			if !loc.has(name) && !pythonBuiltins[name] {
				w.c.reference(scope, name, "", facts.RefAttribute, node)
			}
			return false
		}
		return true
	})
}

func (w *pyWalker) call(n *sitter.Node, scope []string, loc *locals, self string) {
	fn := n.ChildByFieldName("function")
	switch fn.Type() {
	case "identifier":
		name := w.text(fn)
		if !loc.has(name) && !pythonBuiltins[name] {
			w.c.reference(scope, name, "", facts.RefDirectCall, fn)
		}
	case "attribute":
		w.memberCall(fn, scope, loc, self)
	default:
		w.walk(fn, scope, loc, self)
	}
	if args := n.ChildByFieldName("arguments"); args != nil {
		w.walk(args, scope, loc, self)
	}
}

func (w *pyWalker) memberCall(fn *sitter.Node, scope []string, loc *locals, self string) {
	obj := fn.ChildByFieldName("object")
	attrNode := fn.ChildByFieldName("attribute")
	attr := w.text(attrNode)
	if obj.Type() == "identifier" {
		o := w.text(obj)
		switch {
		case o == "self" || o == "cls":
			if self != "" {
				w.c.reference(scope, attr, self, facts.RefMethodCall, attrNode)
			} else {
				w.c.reference(scope, attr, "", facts.RefDynamic, attrNode)
			}
		case loc.typeOf(o) != "":
			w.c.reference(scope, attr, loc.typeOf(o), facts.RefMethodCall, attrNode)
		case loc.has(o):
			w.c.reference(scope, attr, "", facts.RefDynamic, attrNode)
		case pythonBuiltins[o]:
		case w.globals.typeOf(o) != "":
			w.c.reference(scope, o, "", facts.RefAttribute, obj)
			w.c.reference(scope, attr, w.globals.typeOf(o), facts.RefMethodCall, attrNode)
		default:
			w.c.reference(scope, attr, o, facts.RefDynamic, attrNode)
		}
		return
	}
	if isDottedName(obj, w.src) {
		root := dottedRoot(obj, w.src)
		if root != "self" && root != "cls" && !loc.has(root) && !pythonBuiltins[root] {
			w.c.reference(scope, attr, w.text(obj), facts.RefDynamic, attrNode)
			return
		}
	}
	w.c.reference(scope, attr, "", facts.RefDynamic, attrNode)
	w.walk(obj, scope, loc, self)
}

// attribute handles a non-call attribute access such as a function passed
// by module path. Field reads through self are not symbol uses.
func (w *pyWalker) attribute(n *sitter.Node, scope []string, loc *locals, self string) {
	obj := n.ChildByFieldName("object")
	attrNode := n.ChildByFieldName("attribute")
	if obj.Type() == "identifier" {
		o := w.text(obj)
		switch {
		case o == "self" || o == "cls":
			if self != "" {
				// self.method passed as a callback
				if parent := n.Parent(); parent != nil && parent.Type() == "argument_list" {
					w.c.reference(scope, w.text(attrNode), self, facts.RefMethodCall, attrNode)
				}
			}
		case loc.has(o), pythonBuiltins[o]:
		default:
			w.c.reference(scope, o, "", facts.RefAttribute, obj)
			w.c.reference(scope, w.text(attrNode), o, facts.RefAttribute, attrNode)
		}
		return
	}
	w.walk(obj, scope, loc, self)
}

func (w *pyWalker) imports(n *sitter.Node) {
	switch n.Type() {
	case "import_statement":
		for _, child := range parser.NamedChildren(n) {
			switch child.Type() {
			case "dotted_name":
				segs := strings.Split(w.text(child), ".")
				w.c.imported(segs[:1], 0, "", segs[0], child)
			case "aliased_import":
				segs := strings.Split(w.text(child.ChildByFieldName("name")), ".")
				w.c.imported(segs, 0, "", w.text(child.ChildByFieldName("alias")), child)
			}
		}
	case "import_from_statement":
		modNode := n.ChildByFieldName("module_name")
		if modNode == nil {
			return
		}
		var path []string
		up := 0
		switch modNode.Type() {
		case "dotted_name":
			path = strings.Split(w.text(modNode), ".")
		case "relative_import":
			for _, c := range parser.NamedChildren(modNode) {
				switch c.Type() {
				case "import_prefix":
					up = strings.Count(w.text(c), ".")
				case "dotted_name":
					path = strings.Split(w.text(c), ".")
				}
			}
		}
		for _, child := range parser.NamedChildren(n) {
			if child.StartByte() == modNode.StartByte() {
				continue
			}
			switch child.Type() {
			case "dotted_name":
				name := w.text(child)
				w.c.imported(path, up, name, name, child)
			case "aliased_import":
				w.c.imported(path, up, w.text(child.ChildByFieldName("name")), w.text(child.ChildByFieldName("alias")), child)
			}
		}
	}
}

// isMainGuard matches `__name__ == "__main__"` in either operand order.
func isMainGuard(cond string) bool {
	s := strings.NewReplacer(" ", "", "'", "\"", "(", "", ")", "").Replace(cond)
	return s == `__name__=="__main__"` || s == `"__main__"==__name__`
}

// isDottedName reports whether n is an identifier or a chain of attribute
// accesses on identifiers.
func isDottedName(n *sitter.Node, src []byte) bool {
	for n != nil {
		switch n.Type() {
		case "identifier":
			return true
		case "attribute":
			n = n.ChildByFieldName("object")
		default:
			return false
		}
	}
	return false
}

func dottedRoot(n *sitter.Node, src []byte) string {
	for n != nil && n.Type() == "attribute" {
		n = n.ChildByFieldName("object")
	}
	return parser.NodeText(n, src)
}
