package extract

import (
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/neural-garage/tools/pkg/facts"
	"github.com/neural-garage/tools/pkg/parser"
)

// typeScriptExtractor handles TypeScript, TSX and JavaScript; the grammars
// share every node type the extractor looks at.
type typeScriptExtractor struct {
	lang parser.Language
}

// NewTypeScript returns an extractor for one of the ECMAScript languages.
func NewTypeScript(lang parser.Language) facts.Extractor {
	return typeScriptExtractor{lang: lang}
}

func (e typeScriptExtractor) Language() string {
	return string(e.lang)
}

func (e typeScriptExtractor) Extract(filePath string, content []byte) (*facts.FactSet, error) {
	result, err := parse(filePath, content, e.lang)
	if err != nil {
		return nil, err
	}
	defer result.Close()

	w := &tsWalker{
		c:        newCollector(filePath, e.lang),
		src:      content,
		exported: make(map[string]bool),
		globals:  newLocals(),
	}
	w.mod.c = w.c
	w.scanGlobals(result.Root(), false)
	for _, stmt := range parser.NamedChildren(result.Root()) {
		w.topLevel(stmt, false)
	}
	// export { a, b } lists are resolved after every declaration is known.
	for i := range w.c.fs.Declarations {
		d := &w.c.fs.Declarations[i]
		if len(d.ScopePath) == 0 && w.exported[d.Name] {
			d.Visibility = facts.Public
		}
	}
	return w.c.fs, nil
}

type tsWalker struct {
	c        *collector
	src      []byte
	mod      moduleCode
	exported map[string]bool
	globals  *locals
}

func (w *tsWalker) text(n *sitter.Node) string {
	return parser.NodeText(n, w.src)
}

func tsVisibility(exported bool) facts.Visibility {
	if exported {
		return facts.Public
	}
	return facts.Private
}

func (w *tsWalker) topLevel(n *sitter.Node, exported bool) {
	switch n.Type() {
	case "comment", "empty_statement":
	case "interface_declaration", "type_alias_declaration", "ambient_declaration":
	case "import_statement":
		w.imports(n)
	case "export_statement":
		w.export(n)
	case "function_declaration", "generator_function_declaration":
		name := w.text(n.ChildByFieldName("name"))
		w.function(n, name, nil, facts.KindFunction, tsVisibility(exported), "")
	case "class_declaration", "abstract_class_declaration":
		w.class(n, w.text(n.ChildByFieldName("name")), nil, tsVisibility(exported))
	case "lexical_declaration", "variable_declaration":
		w.variables(n, exported)
	default:
		w.moduleCode(n)
	}
}

func (w *tsWalker) moduleCode(n *sitter.Node) {
	uses := false
	parser.Walk(n, w.src, func(_ *sitter.Node, t string, _ []byte) bool {
		if t == "identifier" || t == "this" {
			uses = true
		}
		return !uses
	})
	if uses {
		w.walk(n, w.mod.scope(n), newLocals(), "")
	}
}

func (w *tsWalker) export(n *sitter.Node) {
	for i := range int(n.ChildCount()) {
		if n.Child(i).Type() == "default" {
			w.defaultExport(n)
			return
		}
	}
	if decl := n.ChildByFieldName("declaration"); decl != nil {
		w.topLevel(decl, true)
		return
	}
	if n.ChildByFieldName("source") != nil {
		// re-exports are followed through short-name resolution
		return
	}
	for _, child := range parser.NamedChildren(n) {
		if child.Type() != "export_clause" {
			continue
		}
		for _, spec := range parser.NamedChildren(child) {
			if spec.Type() != "export_specifier" {
				continue
			}
			name := w.text(spec.ChildByFieldName("name"))
			w.exported[name] = true
			if alias := w.text(spec.ChildByFieldName("alias")); alias != "" && alias != name {
				w.c.declare(alias, facts.KindVariable, nil, spec, facts.Public)
				w.c.reference([]string{alias}, name, "", facts.RefAttribute, spec)
			}
		}
	}
}

// defaultExport binds the module's default export to a public symbol named
// "default" that references what is exported.
func (w *tsWalker) defaultExport(n *sitter.Node) {
	value := n.ChildByFieldName("declaration")
	if value == nil {
		value = n.ChildByFieldName("value")
	}
	if value == nil {
		for _, child := range parser.NamedChildren(n) {
			if child.Type() != "comment" {
				value = child
			}
		}
	}
	if value == nil {
		return
	}
	scope := []string{facts.DefaultExportName}
	switch value.Type() {
	case "function_declaration", "generator_function_declaration", "class_declaration", "function_expression", "function", "class":
		if name := w.text(value.ChildByFieldName("name")); name != "" {
			if strings.Contains(value.Type(), "class") {
				w.class(value, name, nil, facts.Public)
			} else {
				w.function(value, name, nil, facts.KindFunction, facts.Public, "")
			}
			w.c.declare(facts.DefaultExportName, facts.KindVariable, nil, value, facts.Public)
			w.c.reference(scope, name, "", facts.RefAttribute, value)
			return
		}
		if strings.Contains(value.Type(), "class") {
			w.class(value, facts.DefaultExportName, nil, facts.Public)
			return
		}
		w.function(value, facts.DefaultExportName, nil, facts.KindFunction, facts.Public, "")
	case "arrow_function":
		w.function(value, facts.DefaultExportName, nil, facts.KindFunction, facts.Public, "")
	default:
		w.c.declare(facts.DefaultExportName, facts.KindVariable, nil, value, facts.Public)
		w.walk(value, scope, newLocals(), "")
	}
}

func (w *tsWalker) variables(n *sitter.Node, exported bool) {
	for _, decl := range parser.NamedChildren(n) {
		if decl.Type() != "variable_declarator" {
			continue
		}
		nameNode := decl.ChildByFieldName("name")
		value := decl.ChildByFieldName("value")
		if nameNode == nil || nameNode.Type() != "identifier" {
			// destructuring at module level is module code
			if value != nil {
				w.moduleCode(value)
			}
			continue
		}
		name := w.text(nameNode)
		if value != nil && isFunctionValue(value.Type()) {
			w.function(value, name, nil, facts.KindFunction, tsVisibility(exported), "")
			continue
		}
		if value != nil && value.Type() == "class" {
			w.class(value, name, nil, tsVisibility(exported))
			continue
		}
		w.c.declare(name, facts.KindVariable, nil, decl, tsVisibility(exported))
		if value != nil {
			w.walk(value, []string{name}, newLocals(), "")
		}
	}
}

func isFunctionValue(t string) bool {
	return t == "arrow_function" || t == "function_expression" || t == "function" || t == "generator_function"
}

// constructed returns the class name when n is a `new C()` expression.
func (w *tsWalker) constructed(n *sitter.Node) string {
	for n != nil && (n.Type() == "await_expression" || n.Type() == "parenthesized_expression") {
		n = n.NamedChild(0)
	}
	if n == nil || n.Type() != "new_expression" {
		return ""
	}
	ctor := n.ChildByFieldName("constructor")
	if ctor == nil {
		return ""
	}
	switch ctor.Type() {
	case "identifier", "member_expression":
		return w.text(ctor)
	}
	return ""
}

// function declares a function-like node and walks its body.
func (w *tsWalker) function(n *sitter.Node, name string, scope []string, kind facts.SymbolKind, vis facts.Visibility, self string) {
	w.c.declare(name, kind, scope, n, vis)
	qual := append(append([]string{}, scope...), name)
	loc := newLocals()
	params := n.ChildByFieldName("parameters")
	if params == nil {
		params = n.ChildByFieldName("parameter")
	}
	w.bindParams(params, loc)
	body := n.ChildByFieldName("body")
	w.scanLocals(body, loc)
	w.walkParamDefaults(params, qual, loc, self)
	w.walk(body, qual, loc, self)
}

func (w *tsWalker) class(n *sitter.Node, name string, scope []string, vis facts.Visibility) {
	w.c.declare(name, facts.KindClass, scope, n, vis)
	qual := append(append([]string{}, scope...), name)
	for _, child := range parser.NamedChildren(n) {
		if child.Type() == "class_heritage" {
			for _, clause := range parser.NamedChildren(child) {
				if clause.Type() == "extends_clause" {
					w.walk(clause, qual, newLocals(), "")
				}
			}
		}
	}
	body := n.ChildByFieldName("body")
	var ctor *sitter.Node
	for _, member := range parser.NamedChildren(body) {
		switch member.Type() {
		case "method_definition", "method_signature", "abstract_method_signature":
			nameNode := member.ChildByFieldName("name")
			mname := w.text(nameNode)
			if mname == "constructor" {
				ctor = nameNode
			}
			w.function(member, mname, qual, facts.KindMethod, memberVisibility(member, mname, w.src), name)
		case "public_field_definition", "field_definition":
			nameNode := member.ChildByFieldName("name")
			if nameNode == nil {
				nameNode = member.ChildByFieldName("property")
			}
			value := member.ChildByFieldName("value")
			if value != nil && isFunctionValue(value.Type()) {
				mname := w.text(nameNode)
				w.function(value, mname, qual, facts.KindMethod, memberVisibility(member, mname, w.src), name)
				continue
			}
			if value != nil {
				w.walk(value, qual, newLocals(), name)
			}
		case "class_static_block":
			w.walk(member, qual, newLocals(), name)
		}
	}
	if ctor != nil {
		w.c.reference(qual, "constructor", name, facts.RefMethodCall, ctor)
	}
}

func memberVisibility(member *sitter.Node, name string, src []byte) facts.Visibility {
	if strings.HasPrefix(name, "#") {
		return facts.Private
	}
	for _, c := range parser.NamedChildren(member) {
		if c.Type() == "accessibility_modifier" && parser.NodeText(c, src) == "private" {
			return facts.Private
		}
	}
	return facts.Public
}

func (w *tsWalker) bindParams(params *sitter.Node, loc *locals) {
	if params == nil {
		return
	}
	if params.Type() == "identifier" {
		loc.bind(w.text(params))
		return
	}
	for _, p := range parser.NamedChildren(params) {
		target := p
		if pat := p.ChildByFieldName("pattern"); pat != nil {
			target = pat
		} else if left := p.ChildByFieldName("left"); left != nil {
			target = left
		}
		w.bindPattern(target, loc)
	}
}

func (w *tsWalker) walkParamDefaults(params *sitter.Node, scope []string, loc *locals, self string) {
	if params == nil || params.Type() == "identifier" {
		return
	}
	for _, p := range parser.NamedChildren(params) {
		if v := p.ChildByFieldName("value"); v != nil {
			w.walk(v, scope, loc, self)
		} else if v := p.ChildByFieldName("right"); v != nil {
			w.walk(v, scope, loc, self)
		}
	}
}

func (w *tsWalker) bindPattern(n *sitter.Node, loc *locals) {
	w.patternNames(n, loc.unknown)
}

func (w *tsWalker) patternNames(n *sitter.Node, fn func(name string)) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "identifier", "shorthand_property_identifier_pattern":
		fn(w.text(n))
	case "object_pattern", "array_pattern", "rest_pattern", "pair_pattern", "assignment_pattern", "object_assignment_pattern":
		for _, c := range parser.NamedChildren(n) {
			if n.Type() == "pair_pattern" && c.Type() == "property_identifier" {
				continue
			}
			w.patternNames(c, fn)
		}
	}
}

// scanLocals collects names bound in a body. Nested function values are
// walked inline, so their bindings land in the same set.
func (w *tsWalker) scanLocals(body *sitter.Node, loc *locals) {
	parser.Walk(body, w.src, func(n *sitter.Node, t string, _ []byte) bool {
		switch t {
		case "variable_declarator":
			name := n.ChildByFieldName("name")
			if name != nil && name.Type() == "identifier" {
				loc.bind(w.text(name))
				loc.assign(w.text(name), w.constructed(n.ChildByFieldName("value")))
			} else {
				w.bindPattern(name, loc)
			}
		case "arrow_function", "function_expression", "function", "method_definition":
			params := n.ChildByFieldName("parameters")
			if params == nil {
				params = n.ChildByFieldName("parameter")
			}
			w.bindParams(params, loc)
		case "catch_clause":
			w.bindPattern(n.ChildByFieldName("parameter"), loc)
		case "for_in_statement":
			w.bindPattern(n.ChildByFieldName("left"), loc)
		default:
			w.writes(n, t, true, loc.assign)
		}
		return true
	})
}

// writes reports each name an assignment, update or loop head stores to,
// with the class it is constructed from. typed false reports every store as
// unknown.
func (w *tsWalker) writes(n *sitter.Node, t string, typed bool, fn func(name, typ string)) {
	unknown := func(name string) { fn(name, "") }
	switch t {
	case "assignment_expression":
		left := n.ChildByFieldName("left")
		if left != nil && left.Type() == "identifier" {
			typ := ""
			if typed {
				typ = w.constructed(n.ChildByFieldName("right"))
			}
			fn(w.text(left), typ)
			return
		}
		w.patternNames(left, unknown)
	case "augmented_assignment_expression":
		w.patternNames(n.ChildByFieldName("left"), unknown)
	case "update_expression":
		w.patternNames(n.ChildByFieldName("argument"), unknown)
	case "for_in_statement":
		w.patternNames(n.ChildByFieldName("left"), unknown)
	}
}

// scanGlobals records the class of module-level variables. Stores from
// inside functions only clear it.
func (w *tsWalker) scanGlobals(n *sitter.Node, nested bool) {
	parser.Walk(n, w.src, func(node *sitter.Node, t string, _ []byte) bool {
		switch t {
		case "arrow_function", "function_expression", "function", "function_declaration",
			"generator_function", "generator_function_declaration", "method_definition":
			if !nested {
				w.scanGlobals(node, true)
				return false
			}
		case "variable_declarator":
			if nested {
				return true
			}
			name := node.ChildByFieldName("name")
			if name != nil && name.Type() == "identifier" {
				w.globals.assign(w.text(name), w.constructed(node.ChildByFieldName("value")))
			} else {
				w.patternNames(name, func(id string) { w.globals.assign(id, "") })
			}
			return true
		}
		w.writes(node, t, !nested, w.globals.assign)
		return true
	})
}

// walk emits references for every use found under n.
func (w *tsWalker) walk(n *sitter.Node, scope []string, loc *locals, self string) {
	parser.Walk(n, w.src, func(node *sitter.Node, t string, _ []byte) bool {
		switch t {
		case "comment", "string", "template_string", "regex", "number":
			return t == "template_string"
		case "type_annotation", "type_arguments", "type_parameters", "interface_declaration", "type_alias_declaration", "as_expression", "satisfies_expression":
			if t == "as_expression" || t == "satisfies_expression" {
				w.walk(node.NamedChild(0), scope, loc, self)
			}
			return false
		case "import_statement":
			w.imports(node)
			return false
		case "function_declaration", "generator_function_declaration":
			// nested declarations keep their own symbol
			w.function(node, w.text(node.ChildByFieldName("name")), scope, facts.KindFunction, facts.Private, self)
			return false
		case "class_declaration":
			w.class(node, w.text(node.ChildByFieldName("name")), scope, facts.Private)
			return false
		case "call_expression":
			w.call(node, scope, loc, self)
			return false
		case "new_expression":
			ctor := node.ChildByFieldName("constructor")
			if ctor != nil && ctor.Type() == "identifier" {
				name := w.text(ctor)
				if !loc.has(name) && !jsBuiltins[name] {
					w.c.reference(scope, name, "", facts.RefDirectCall, ctor)
				}
			} else {
				w.walk(ctor, scope, loc, self)
			}
			w.walk(node.ChildByFieldName("arguments"), scope, loc, self)
			return false
		case "member_expression":
			w.member(node, scope, loc, self)
			return false
		case "pair":
			w.walk(node.ChildByFieldName("value"), scope, loc, self)
			return false
		case "jsx_opening_element", "jsx_self_closing_element":
			if name := node.ChildByFieldName("name"); name != nil && name.Type() == "identifier" {
				if tag := w.text(name); isCapitalized(tag) && !loc.has(tag) {
					w.c.reference(scope, tag, "", facts.RefDirectCall, name)
				}
			}
			for _, attr := range parser.NamedChildren(node) {
				if attr.Type() == "jsx_attribute" || attr.Type() == "jsx_expression" {
					w.walk(attr, scope, loc, self)
				}
			}
			return false
		case "identifier", "shorthand_property_identifier":
			name := w.text(node)
			if !loc.has(name) && !jsBuiltins[name] {
				w.c.reference(scope, name, "", facts.RefAttribute, node)
			}
			return false
		}
		return true
	})
}

func (w *tsWalker) call(n *sitter.Node, scope []string, loc *locals, self string) {
	fn := n.ChildByFieldName("function")
	switch fn.Type() {
	case "identifier":
		name := w.text(fn)
		if !loc.has(name) && !jsBuiltins[name] {
			w.c.reference(scope, name, "", facts.RefDirectCall, fn)
		}
	case "member_expression":
		w.memberCall(fn, scope, loc, self)
	default:
		w.walk(fn, scope, loc, self)
	}
	w.walk(n.ChildByFieldName("arguments"), scope, loc, self)
}

func (w *tsWalker) memberCall(fn *sitter.Node, scope []string, loc *locals, self string) {
	obj := fn.ChildByFieldName("object")
	prop := fn.ChildByFieldName("property")
	name := w.text(prop)
	switch obj.Type() {
	case "this":
		if self != "" {
			w.c.reference(scope, name, self, facts.RefMethodCall, prop)
			return
		}
		w.c.reference(scope, name, "", facts.RefDynamic, prop)
		return
	case "identifier":
		o := w.text(obj)
		switch {
		case loc.has(o) && loc.typeOf(o) != "":
			w.c.reference(scope, name, loc.typeOf(o), facts.RefMethodCall, prop)
		case loc.has(o):
			w.c.reference(scope, name, "", facts.RefDynamic, prop)
		case jsBuiltins[o]:
		case w.globals.typeOf(o) != "":
			w.c.reference(scope, o, "", facts.RefAttribute, obj)
			w.c.reference(scope, name, w.globals.typeOf(o), facts.RefMethodCall, prop)
		default:
			w.c.reference(scope, name, o, facts.RefDynamic, prop)
		}
		return
	}
	w.c.reference(scope, name, "", facts.RefDynamic, prop)
	w.walk(obj, scope, loc, self)
}

// member handles property reads. Reads through this are field accesses and
// are not counted unless the value is passed on, e.g. as a callback.
func (w *tsWalker) member(n *sitter.Node, scope []string, loc *locals, self string) {
	obj := n.ChildByFieldName("object")
	prop := n.ChildByFieldName("property")
	switch obj.Type() {
	case "this":
		if parent := n.Parent(); self != "" && parent != nil && parent.Type() == "arguments" {
			w.c.reference(scope, w.text(prop), self, facts.RefMethodCall, prop)
		}
	case "identifier":
		o := w.text(obj)
		if loc.has(o) || jsBuiltins[o] {
			return
		}
		w.c.reference(scope, o, "", facts.RefAttribute, obj)
		w.c.reference(scope, w.text(prop), o, facts.RefAttribute, prop)
	default:
		w.walk(obj, scope, loc, self)
	}
}

func (w *tsWalker) imports(n *sitter.Node) {
	src := n.ChildByFieldName("source")
	if src == nil {
		return
	}
	segs, up := splitSpecifier(strings.Trim(w.text(src), "\"'`"))
	for _, child := range parser.NamedChildren(n) {
		if child.Type() != "import_clause" {
			continue
		}
		for _, part := range parser.NamedChildren(child) {
			switch part.Type() {
			case "identifier":
				w.c.imported(segs, up, facts.DefaultExportName, w.text(part), part)
			case "namespace_import":
				for _, id := range parser.NamedChildren(part) {
					if id.Type() == "identifier" {
						w.c.imported(segs, up, "", w.text(id), part)
					}
				}
			case "named_imports":
				for _, spec := range parser.NamedChildren(part) {
					if spec.Type() != "import_specifier" {
						continue
					}
					name := w.text(spec.ChildByFieldName("name"))
					alias := w.text(spec.ChildByFieldName("alias"))
					if alias == "" {
						alias = name
					}
					w.c.imported(segs, up, name, alias, spec)
				}
			}
		}
	}
}

// splitSpecifier turns a module specifier into path segments. Relative
// specifiers count their leading ./ and ../ into up.
func splitSpecifier(spec string) ([]string, int) {
	up := 0
	if strings.HasPrefix(spec, ".") {
		up = 1
		for {
			switch {
			case strings.HasPrefix(spec, "./"):
				spec = spec[2:]
				continue
			case strings.HasPrefix(spec, "../"):
				spec = spec[3:]
				up++
				continue
			case spec == "..":
				spec = ""
				up++
			case spec == ".":
				spec = ""
			}
			break
		}
		switch ext := path.Ext(spec); ext {
		case ".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs", ".mts", ".cts":
			spec = strings.TrimSuffix(spec, ext)
		}
	}
	var segs []string
	for _, s := range strings.Split(spec, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	if n := len(segs); up > 0 && n > 0 && segs[n-1] == "index" {
		segs = segs[:n-1]
	}
	return segs, up
}
