// Package parser parses source files with tree-sitter and offers small
// helpers for walking the resulting syntax trees.
package parser

import (
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Language names a source language.
type Language string

const (
	LangGo         Language = "go"
	LangPython     Language = "python"
	LangTypeScript Language = "typescript"
	LangJavaScript Language = "javascript"
	LangTSX        Language = "tsx"
	LangUnknown    Language = "unknown"
)

// Languages lists every language the parser can handle.
var Languages = []Language{LangGo, LangPython, LangTypeScript, LangTSX, LangJavaScript}

var grammars = map[Language]func() *sitter.Language{
	LangGo:         golang.GetLanguage,
	LangPython:     python.GetLanguage,
	LangTypeScript: typescript.GetLanguage,
	LangTSX:        tsx.GetLanguage,
	LangJavaScript: javascript.GetLanguage,
}

// extensions maps lower-cased file extensions to languages. JSX goes
// through the TSX grammar.
var extensions = map[string]Language{
	".go":  LangGo,
	".py":  LangPython,
	".pyw": LangPython,
	".pyi": LangPython,
	".ts":  LangTypeScript,
	".mts": LangTypeScript,
	".cts": LangTypeScript,
	".tsx": LangTSX,
	".jsx": LangTSX,
	".js":  LangJavaScript,
	".mjs": LangJavaScript,
	".cjs": LangJavaScript,
}

// Grammar returns the tree-sitter grammar for lang.
func Grammar(lang Language) (*sitter.Language, error) {
	g, ok := grammars[lang]
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", lang)
	}
	return g(), nil
}

// DetectLanguage determines the language from a file path.
func DetectLanguage(path string) Language {
	if lang, ok := extensions[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return LangUnknown
}

// IsTestFile reports whether path follows the test file naming convention
// of its language.
func IsTestFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	switch DetectLanguage(path) {
	case LangGo:
		return strings.HasSuffix(base, "_test.go")
	case LangPython:
		return strings.HasPrefix(base, "test_") || strings.HasSuffix(stem, "_test") || base == "conftest.py"
	case LangTypeScript, LangTSX, LangJavaScript:
		return strings.HasSuffix(stem, ".test") || strings.HasSuffix(stem, ".spec")
	}
	return false
}

// Parser wraps a tree-sitter parser. It is not safe for concurrent use;
// create one per goroutine.
type Parser struct {
	ts *sitter.Parser
}

// New creates a parser.
func New() *Parser {
	return &Parser{ts: sitter.NewParser()}
}

// Close releases the tree-sitter parser.
func (p *Parser) Close() {
	p.ts.Close()
}

// ParseResult is a syntax tree together with the source it was built from.
type ParseResult struct {
	Tree     *sitter.Tree
	Language Language
	Source   []byte
	Path     string
}

// Root returns the root node of the tree.
func (r *ParseResult) Root() *sitter.Node {
	return r.Tree.RootNode()
}

// Close releases the syntax tree.
func (r *ParseResult) Close() {
	if r.Tree != nil {
		r.Tree.Close()
	}
}

// Parse parses source as lang. Path is only recorded in the result.
func (p *Parser) Parse(source []byte, lang Language, path string) (*ParseResult, error) {
	grammar, err := Grammar(lang)
	if err != nil {
		return nil, err
	}
	p.ts.SetLanguage(grammar)
	tree := p.ts.Parse(nil, source)
	if tree == nil {
		return nil, fmt.Errorf("parse %s: no tree", path)
	}
	return &ParseResult{Tree: tree, Language: lang, Source: source, Path: path}, nil
}

// Visitor is called for every node with its type. Returning false skips
// the node's children.
type Visitor func(node *sitter.Node, nodeType string, source []byte) bool

// Walk visits node and its descendants depth first. Each node's type is
// read once since every accessor crosses into C.
func Walk(node *sitter.Node, source []byte, visit Visitor) {
	if node == nil {
		return
	}
	if !visit(node, node.Type(), source) {
		return
	}
	for i := range int(node.ChildCount()) {
		Walk(node.Child(i), source, visit)
	}
}

// NamedChildren returns the named children of node.
func NamedChildren(node *sitter.Node) []*sitter.Node {
	if node == nil {
		return nil
	}
	n := int(node.NamedChildCount())
	out := make([]*sitter.Node, n)
	for i := range n {
		out[i] = node.NamedChild(i)
	}
	return out
}

// FindByType returns every node below root with the given type.
func FindByType(root *sitter.Node, source []byte, nodeType string) []*sitter.Node {
	var found []*sitter.Node
	Walk(root, source, func(node *sitter.Node, t string, _ []byte) bool {
		if t == nodeType {
			found = append(found, node)
		}
		return true
	})
	return found
}

// NodeText returns the source text of node, or "" when node is nil or its
// byte range lies outside source.
func NodeText(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	start, end := node.StartByte(), node.EndByte()
	if start > end || end > uint32(len(source)) {
		return ""
	}
	return string(source[start:end])
}

// StartLine returns the 1-based first line of node.
func StartLine(node *sitter.Node) uint32 {
	return node.StartPoint().Row + 1
}

// EndLine returns the 1-based last line of node.
func EndLine(node *sitter.Node) uint32 {
	return node.EndPoint().Row + 1
}
