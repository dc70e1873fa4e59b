package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neural-garage/tools/pkg/facts"
	"github.com/neural-garage/tools/pkg/parser"
)

const pythonFixture = `# Example Python code with dead code

def used_function():
    """This function is called from main"""
    return 42

def dead_function():
    return "I'm dead"

def another_dead_function():
    print("Nobody calls me")

class UsedClass:
    def used_method(self):
        return "I'm alive"

    def dead_method(self):
        return "I'm dead too"

def main():
    result = used_function()
    obj = UsedClass()
    obj.used_method()
    print(f"Result: {result}")

if __name__ == "__main__":
    main()
`

func findDecl(fs *facts.FactSet, name string) *facts.DeclaredSymbolFact {
	for i := range fs.Declarations {
		if fs.Declarations[i].Name == name {
			return &fs.Declarations[i]
		}
	}
	return nil
}

func refsFrom(fs *facts.FactSet, scope ...string) []facts.ReferenceFact {
	var out []facts.ReferenceFact
	for _, r := range fs.References {
		if equalPath(r.SourceScope, scope) {
			out = append(out, r)
		}
	}
	return out
}

func equalPath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func hasRef(refs []facts.ReferenceFact, target, qualifier string, kind facts.RefKind) bool {
	for _, r := range refs {
		if r.TargetName == target && r.Qualifier == qualifier && r.Kind == kind {
			return true
		}
	}
	return false
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"go", "javascript", "python", "tsx", "typescript"}, r.Languages())
	assert.True(t, r.Supports("a/b.py"))
	assert.True(t, r.Supports("a/b.jsx"))
	assert.False(t, r.Supports("a/b.rs"))

	_, err := r.Extract("notes.txt", []byte("hello"))
	require.Error(t, err)
	assert.ErrorIs(t, err, facts.ErrUnsupportedLanguage)

	py := r.Restrict([]string{"python"})
	assert.Equal(t, []string{"python"}, py.Languages())
	ts := r.Restrict([]string{"TypeScript"})
	assert.Equal(t, []string{"tsx", "typescript"}, ts.Languages())
	assert.Same(t, r, r.Restrict(nil))
}

func TestPythonFixture(t *testing.T) {
	fs, err := NewPython().Extract("example.py", []byte(pythonFixture))
	require.NoError(t, err)

	assert.Equal(t, "python", fs.Language)
	assert.Equal(t, []string{"example"}, fs.Module)

	tests := []struct {
		name  string
		kind  facts.SymbolKind
		scope []string
	}{
		{"used_function", facts.KindFunction, nil},
		{"dead_function", facts.KindFunction, nil},
		{"another_dead_function", facts.KindFunction, nil},
		{"UsedClass", facts.KindClass, nil},
		{"used_method", facts.KindMethod, []string{"UsedClass"}},
		{"dead_method", facts.KindMethod, []string{"UsedClass"}},
		{"main", facts.KindFunction, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := findDecl(fs, tt.name)
			require.NotNil(t, d)
			assert.Equal(t, tt.kind, d.Kind)
			assert.Equal(t, tt.scope, d.ScopePath)
			assert.Equal(t, facts.Public, d.Visibility)
			assert.False(t, d.SyntheticRoot)
		})
	}

	guard := findDecl(fs, facts.MainGuardName)
	require.NotNil(t, guard)
	assert.True(t, guard.SyntheticRoot)
	assert.Equal(t, uint32(26), guard.Location.Line)
	assert.Nil(t, findDecl(fs, facts.ModuleInitName), "comments and definitions are not module code")

	mainRefs := refsFrom(fs, "main")
	assert.True(t, hasRef(mainRefs, "used_function", "", facts.RefDirectCall))
	assert.True(t, hasRef(mainRefs, "UsedClass", "", facts.RefDirectCall))
	assert.True(t, hasRef(mainRefs, "used_method", "UsedClass", facts.RefMethodCall))
	assert.True(t, hasRef(refsFrom(fs, facts.MainGuardName), "main", "", facts.RefDirectCall))

	for _, r := range fs.References {
		assert.NotEqual(t, "print", r.TargetName, "built-ins are never references")
		assert.NotEqual(t, "result", r.TargetName, "locals are never references")
	}
	assert.Empty(t, refsFrom(fs, "another_dead_function"))
}

func TestPythonClassesAndImports(t *testing.T) {
	src := `import os
import numpy as np
from .helpers import util as u
from pkg.sub import thing

COUNT = 3
_registry = Registry()

class Base:
    def __init__(self):
        self._setup()

    def _setup(self):
        pass

class Child(Base):
    def run(self):
        def inner():
            return self.helper()
        return inner()

    def helper(self):
        return np.zeros(COUNT)

def process(items):
    for h in items:
        h.handle()
    u.go()
    thing()

load_config()
`
	fs, err := NewPython().Extract("pkg/mod.py", []byte(src))
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg", "mod"}, fs.Module)

	require.Len(t, fs.Imports, 4)
	assert.Equal(t, facts.ImportFact{Path: []string{"os"}, Alias: "os", Location: fs.Imports[0].Location}, fs.Imports[0])
	assert.Equal(t, []string{"numpy"}, fs.Imports[1].Path)
	assert.Equal(t, "np", fs.Imports[1].Alias)
	assert.Equal(t, []string{"helpers"}, fs.Imports[2].Path)
	assert.Equal(t, 1, fs.Imports[2].Up)
	assert.Equal(t, "util", fs.Imports[2].Name)
	assert.Equal(t, "u", fs.Imports[2].Alias)
	assert.Equal(t, []string{"pkg", "sub"}, fs.Imports[3].Path)
	assert.Equal(t, "thing", fs.Imports[3].Name)

	count := findDecl(fs, "COUNT")
	require.NotNil(t, count)
	assert.Equal(t, facts.KindVariable, count.Kind)
	reg := findDecl(fs, "_registry")
	require.NotNil(t, reg)
	assert.Equal(t, facts.Private, reg.Visibility)
	assert.True(t, hasRef(refsFrom(fs, "_registry"), "Registry", "", facts.RefDirectCall))

	assert.True(t, hasRef(refsFrom(fs, "Base"), "__init__", "Base", facts.RefMethodCall))
	assert.True(t, hasRef(refsFrom(fs, "Base", "__init__"), "_setup", "Base", facts.RefMethodCall))
	assert.Equal(t, facts.Private, findDecl(fs, "_setup").Visibility)
	assert.Equal(t, facts.Public, findDecl(fs, "__init__").Visibility)
	assert.True(t, hasRef(refsFrom(fs, "Child"), "Base", "", facts.RefAttribute))

	inner := findDecl(fs, "inner")
	require.NotNil(t, inner)
	assert.Equal(t, facts.KindFunction, inner.Kind)
	assert.Equal(t, []string{"Child", "run"}, inner.ScopePath)
	assert.True(t, hasRef(refsFrom(fs, "Child", "run"), "inner", "", facts.RefDirectCall))
	assert.True(t, hasRef(refsFrom(fs, "Child", "run", "inner"), "helper", "Child", facts.RefMethodCall))
	assert.True(t, hasRef(refsFrom(fs, "Child", "helper"), "zeros", "np", facts.RefDynamic))
	assert.True(t, hasRef(refsFrom(fs, "Child", "helper"), "COUNT", "", facts.RefAttribute))

	procRefs := refsFrom(fs, "process")
	assert.True(t, hasRef(procRefs, "handle", "", facts.RefDynamic))
	assert.True(t, hasRef(procRefs, "go", "u", facts.RefDynamic))
	assert.True(t, hasRef(procRefs, "thing", "", facts.RefDirectCall))

	modInit := findDecl(fs, facts.ModuleInitName)
	require.NotNil(t, modInit)
	assert.False(t, modInit.SyntheticRoot)
	assert.True(t, hasRef(refsFrom(fs, facts.ModuleInitName), "load_config", "", facts.RefDirectCall))
}

func TestTypeScriptExtractor(t *testing.T) {
	src := `import { helper } from "./util";
import * as fs from "fs";
import Widget from "../ui/widget.js";

export class Service {
  constructor() {
    this.init();
  }

  private init() {
    helper();
  }

  run() {
    fs.readFileSync("x");
    return new Widget();
  }
}

function unused() {}

export const format = (s: string) => s.trim();

const svc = new Service();
svc.run();
`
	fs, err := NewTypeScript(parser.LangTypeScript).Extract("src/app.ts", []byte(src))
	require.NoError(t, err)
	assert.Equal(t, []string{"src", "app"}, fs.Module)

	require.Len(t, fs.Imports, 3)
	assert.Equal(t, []string{"util"}, fs.Imports[0].Path)
	assert.Equal(t, 1, fs.Imports[0].Up)
	assert.Equal(t, "helper", fs.Imports[0].Name)
	assert.Equal(t, []string{"fs"}, fs.Imports[1].Path)
	assert.Equal(t, 0, fs.Imports[1].Up)
	assert.Equal(t, "", fs.Imports[1].Name)
	assert.Equal(t, []string{"ui", "widget"}, fs.Imports[2].Path)
	assert.Equal(t, 2, fs.Imports[2].Up)
	assert.Equal(t, facts.DefaultExportName, fs.Imports[2].Name)

	svcClass := findDecl(fs, "Service")
	require.NotNil(t, svcClass)
	assert.Equal(t, facts.Public, svcClass.Visibility)
	assert.Equal(t, facts.Private, findDecl(fs, "init").Visibility)
	assert.Equal(t, facts.Public, findDecl(fs, "run").Visibility)
	assert.Equal(t, facts.Private, findDecl(fs, "unused").Visibility)
	format := findDecl(fs, "format")
	require.NotNil(t, format)
	assert.Equal(t, facts.KindFunction, format.Kind)
	assert.Equal(t, facts.Public, format.Visibility)
	assert.Equal(t, facts.KindVariable, findDecl(fs, "svc").Kind)

	assert.True(t, hasRef(refsFrom(fs, "Service"), "constructor", "Service", facts.RefMethodCall))
	assert.True(t, hasRef(refsFrom(fs, "Service", "constructor"), "init", "Service", facts.RefMethodCall))
	assert.True(t, hasRef(refsFrom(fs, "Service", "init"), "helper", "", facts.RefDirectCall))
	assert.True(t, hasRef(refsFrom(fs, "Service", "run"), "readFileSync", "fs", facts.RefDynamic))
	assert.True(t, hasRef(refsFrom(fs, "Service", "run"), "Widget", "", facts.RefDirectCall))
	assert.True(t, hasRef(refsFrom(fs, "svc"), "Service", "", facts.RefDirectCall))
	assert.True(t, hasRef(refsFrom(fs, facts.ModuleInitName), "run", "Service", facts.RefMethodCall))
	assert.True(t, hasRef(refsFrom(fs, facts.ModuleInitName), "svc", "", facts.RefAttribute))
}

func TestTypeScriptExportsAndDefault(t *testing.T) {
	src := `function a() {}
function b() {}
export { a, b as bee };
export default function main() { a(); }
`
	fs, err := NewTypeScript(parser.LangJavaScript).Extract("lib/index.js", []byte(src))
	require.NoError(t, err)
	assert.Equal(t, []string{"lib"}, fs.Module)

	assert.Equal(t, facts.Public, findDecl(fs, "a").Visibility)
	assert.Equal(t, facts.Private, findDecl(fs, "b").Visibility)
	bee := findDecl(fs, "bee")
	require.NotNil(t, bee)
	assert.True(t, hasRef(refsFrom(fs, "bee"), "b", "", facts.RefAttribute))

	def := findDecl(fs, facts.DefaultExportName)
	require.NotNil(t, def)
	assert.Equal(t, facts.Public, def.Visibility)
	assert.True(t, hasRef(refsFrom(fs, facts.DefaultExportName), "main", "", facts.RefAttribute))
	assert.True(t, hasRef(refsFrom(fs, "main"), "a", "", facts.RefDirectCall))
}

func TestReceiverClassFromConstructors(t *testing.T) {
	tests := []struct {
		name      string
		lang      parser.Language
		src       string
		qualifier string
		kind      facts.RefKind
	}{
		{
			name: "python single constructor",
			lang: parser.LangPython,
			src: `def main():
    x = A()
    x.run()
`,
			qualifier: "A",
			kind:      facts.RefMethodCall,
		},
		{
			name: "python rebound to another class",
			lang: parser.LangPython,
			src: `def main():
    x = A()
    x.run()
    x = B()
    x.run()
`,
			kind: facts.RefDynamic,
		},
		{
			name: "python branches",
			lang: parser.LangPython,
			src: `def main(flag):
    if flag:
        x = A()
    else:
        x = B()
    x.run()
`,
			kind: facts.RefDynamic,
		},
		{
			name: "python rebound to unknown value",
			lang: parser.LangPython,
			src: `def main():
    x = A()
    x = make()
    x.run()
`,
			kind: facts.RefDynamic,
		},
		{
			name: "python conditional expression",
			lang: parser.LangPython,
			src: `def main(flag):
    x = A()
    x = A() if flag else B()
    x.run()
`,
			kind: facts.RefDynamic,
		},
		{
			name: "python tuple and augmented assignment",
			lang: parser.LangPython,
			src: `def main(y):
    x = A()
    x, y = y, x
    x += y
    x.run()
`,
			kind: facts.RefDynamic,
		},
		{
			name: "python nonlocal rebinding",
			lang: parser.LangPython,
			src: `def main():
    x = A()
    def reset():
        nonlocal x
        x = B()
    reset()
    x.run()
`,
			kind: facts.RefDynamic,
		},
		{
			name: "python global rebinding",
			lang: parser.LangPython,
			src: `x = A()

def reset():
    global x
    x = B()

def main():
    x.run()
`,
			qualifier: "x",
			kind:      facts.RefDynamic,
		},
		{
			name: "typescript single constructor",
			lang: parser.LangTypeScript,
			src: `function main() {
  const x = new A();
  x.run();
}
`,
			qualifier: "A",
			kind:      facts.RefMethodCall,
		},
		{
			name: "typescript rebound to another class",
			lang: parser.LangTypeScript,
			src: `function main() {
  let x = new A();
  x.run();
  x = new B();
  x.run();
}
`,
			kind: facts.RefDynamic,
		},
		{
			name: "typescript branches",
			lang: parser.LangTypeScript,
			src: `function main(flag: boolean) {
  let x;
  if (flag) {
    x = new A();
  } else {
    x = new B();
  }
  x.run();
}
`,
			kind: facts.RefDynamic,
		},
		{
			name: "typescript rebound to unknown value",
			lang: parser.LangTypeScript,
			src: `function main() {
  let x = new A();
  x = make();
  x.run();
}
`,
			kind: facts.RefDynamic,
		},
		{
			name: "typescript closure rebinding",
			lang: parser.LangTypeScript,
			src: `function main() {
  let x = new A();
  const reset = () => {
    x = new B();
  };
  reset();
  x.run();
}
`,
			kind: facts.RefDynamic,
		},
		{
			name: "typescript module variable rebound in function",
			lang: parser.LangTypeScript,
			src: `let x = new A();

function reset() {
  x = new B();
}

function main() {
  x.run();
}
`,
			qualifier: "x",
			kind:      facts.RefDynamic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := "app.py"
			if tt.lang == parser.LangTypeScript {
				file = "app.ts"
			}
			fs, err := DefaultRegistry().Extract(file, []byte(tt.src))
			require.NoError(t, err)

			refs := refsFrom(fs, "main")
			assert.True(t, hasRef(refs, "run", tt.qualifier, tt.kind), "refs: %+v", refs)
			if tt.kind == facts.RefDynamic {
				assert.False(t, hasRef(refs, "run", "A", facts.RefMethodCall))
				assert.False(t, hasRef(refs, "run", "B", facts.RefMethodCall))
			}
		})
	}
}

func TestGoExtractor(t *testing.T) {
	src := `package main

import (
	"fmt"
	str "strings"
)

type Server struct{ name string }

func NewServer() *Server { return &Server{name: "x"} }

func (s *Server) Run() { s.helper() }

func (s *Server) helper() { fmt.Println(str.ToUpper(s.name)) }

func init() {}

func main() {
	srv := NewServer()
	srv.Run()
}
`
	fs, err := NewGo().Extract("cmd/app/main.go", []byte(src))
	require.NoError(t, err)
	assert.Equal(t, []string{"cmd", "app"}, fs.Module)

	require.Len(t, fs.Imports, 2)
	assert.Equal(t, "fmt", fs.Imports[0].Alias)
	assert.Equal(t, "str", fs.Imports[1].Alias)
	assert.Equal(t, []string{"strings"}, fs.Imports[1].Path)

	server := findDecl(fs, "Server")
	require.NotNil(t, server)
	assert.Equal(t, facts.KindClass, server.Kind)
	assert.Equal(t, facts.Public, server.Visibility)
	run := findDecl(fs, "Run")
	require.NotNil(t, run)
	assert.Equal(t, facts.KindMethod, run.Kind)
	assert.Equal(t, []string{"Server"}, run.ScopePath)
	assert.Equal(t, facts.Private, findDecl(fs, "helper").Visibility)
	assert.True(t, findDecl(fs, "init").SyntheticRoot)
	assert.Equal(t, facts.Private, findDecl(fs, "main").Visibility)

	assert.True(t, hasRef(refsFrom(fs, "NewServer"), "Server", "", facts.RefAttribute))
	assert.True(t, hasRef(refsFrom(fs, "Server", "Run"), "helper", "Server", facts.RefMethodCall))
	assert.True(t, hasRef(refsFrom(fs, "Server", "helper"), "Println", "fmt", facts.RefDirectCall))
	assert.True(t, hasRef(refsFrom(fs, "Server", "helper"), "ToUpper", "str", facts.RefDirectCall))
	assert.True(t, hasRef(refsFrom(fs, "main"), "NewServer", "", facts.RefDirectCall))
	assert.True(t, hasRef(refsFrom(fs, "main"), "Run", "", facts.RefDynamic))
	for _, r := range fs.References {
		assert.NotEqual(t, "name", r.TargetName, "struct literal keys are not references")
	}
}

func TestSplitSpecifier(t *testing.T) {
	tests := []struct {
		spec string
		segs []string
		up   int
	}{
		{"./util", []string{"util"}, 1},
		{"../a/b.js", []string{"a", "b"}, 2},
		{"../../x", []string{"x"}, 3},
		{"./lib/index", []string{"lib"}, 1},
		{"lodash", []string{"lodash"}, 0},
		{"@scope/pkg", []string{"@scope", "pkg"}, 0},
		{".", nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			segs, up := splitSpecifier(tt.spec)
			assert.Equal(t, tt.segs, segs)
			assert.Equal(t, tt.up, up)
		})
	}
}

func TestExtractIsPure(t *testing.T) {
	e := NewPython()
	a, err := e.Extract("one/example.py", []byte(pythonFixture))
	require.NoError(t, err)
	b, err := e.Extract("two/other.py", []byte(pythonFixture))
	require.NoError(t, err)
	assert.Equal(t, a.Detach(), b.Detach())
}
