package deadcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neural-garage/tools/pkg/facts"
)

func synthetic(name string, line uint32, root bool) facts.DeclaredSymbolFact {
	d := decl(name, facts.KindFunction, line, line)
	d.Visibility = facts.Private
	d.SyntheticRoot = root
	return d
}

func rootsGraph() *Graph {
	g, _ := Build([]*facts.FactSet{
		pySet("app.py", []facts.DeclaredSymbolFact{
			decl("main", facts.KindFunction, 1, 2),
			decl("helper", facts.KindFunction, 4, 5),
			decl("_private", facts.KindFunction, 7, 8),
			decl("on_handler", facts.KindFunction, 10, 11),
			decl("test_thing", facts.KindFunction, 13, 14),
			decl("TestSuite", facts.KindClass, 16, 17),
			synthetic(facts.ModuleInitName, 19, false),
			synthetic(facts.MainGuardName, 20, true),
		}, nil),
		pySet("tests/app_test.py", []facts.DeclaredSymbolFact{
			decl("verify", facts.KindFunction, 1, 2),
		}, nil),
	})
	return g
}

func reasons(g *Graph, roots *RootSet) map[string]RootReason {
	out := make(map[string]RootReason)
	for _, idx := range roots.Indices() {
		out[g.Symbol(idx).FQN] = roots.Reason(idx)
	}
	return out
}

func TestSelectRoots(t *testing.T) {
	tests := []struct {
		name      string
		cfg       func(*RootConfig)
		want      map[string]RootReason
		wantDiags []DiagnosticKind
	}{
		{
			name: "defaults",
			cfg:  func(*RootConfig) {},
			want: map[string]RootReason{
				"app.main":                    RootEntryPoint,
				"app." + facts.ModuleInitName: RootModuleInit,
				"app." + facts.MainGuardName:  RootSynthetic,
				"app.test_thing":              RootTest,
				"tests.app_test.verify":       RootTest,
			},
		},
		{
			name: "module code is not a root when disabled",
			cfg:  func(c *RootConfig) { c.ModuleInitRoots = false },
			want: map[string]RootReason{
				"app.main":                   RootEntryPoint,
				"app." + facts.MainGuardName: RootSynthetic,
				"app.test_thing":             RootTest,
				"tests.app_test.verify":      RootTest,
			},
		},
		{
			name: "library exports public symbols",
			cfg: func(c *RootConfig) {
				c.Library = true
				c.IncludeTests = false
			},
			want: map[string]RootReason{
				"app.main":                    RootEntryPoint,
				"app.helper":                  RootLibrary,
				"app.on_handler":              RootLibrary,
				"app.test_thing":              RootLibrary,
				"app.TestSuite":               RootLibrary,
				"app." + facts.ModuleInitName: RootModuleInit,
				"app." + facts.MainGuardName:  RootSynthetic,
				"tests.app_test.verify":       RootLibrary,
			},
		},
		{
			name: "pins by name and pattern",
			cfg: func(c *RootConfig) {
				c.IncludeTests = false
				c.Pins = []string{"app._private", "*_handler", "app.nothing"}
			},
			want: map[string]RootReason{
				"app.main":                    RootEntryPoint,
				"app._private":                RootPinned,
				"app.on_handler":              RootPinned,
				"app." + facts.ModuleInitName: RootModuleInit,
				"app." + facts.MainGuardName:  RootSynthetic,
			},
			wantDiags: []DiagnosticKind{DiagUnmatchedPin},
		},
		{
			name: "custom entry points",
			cfg: func(c *RootConfig) {
				c.EntryPatterns = []string{"app.help*"}
				c.IncludeTests = false
				c.ModuleInitRoots = false
			},
			want: map[string]RootReason{
				"app.helper":                 RootEntryPoint,
				"app." + facts.MainGuardName: RootSynthetic,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := rootsGraph()
			cfg := DefaultRootConfig()
			tt.cfg(&cfg)

			roots, diags := SelectRoots(g, cfg)
			assert.Equal(t, tt.want, reasons(g, roots))

			var kinds []DiagnosticKind
			for _, d := range diags {
				kinds = append(kinds, d.Kind)
			}
			assert.Equal(t, tt.wantDiags, kinds)
		})
	}
}

func TestSelectRoots_NoRoots(t *testing.T) {
	g, _ := Build([]*facts.FactSet{pySet("lib.py", []facts.DeclaredSymbolFact{
		decl("a", facts.KindFunction, 1, 2),
		decl("_b", facts.KindFunction, 4, 5),
	}, nil)})

	roots, diags := SelectRoots(g, DefaultRootConfig())
	assert.Zero(t, roots.Len())
	require.Len(t, diags, 1)
	assert.Equal(t, DiagNoRoots, diags[0].Kind)
	assert.Equal(t, SeverityWarning, diags[0].Severity)
}

func TestRootSet_With(t *testing.T) {
	g := rootsGraph()
	cfg := DefaultRootConfig()
	cfg.IncludeTests = false
	roots, _ := SelectRoots(g, cfg)

	helper := symbolAt(t, g, "app.helper").Index
	main := symbolAt(t, g, "app.main").Index
	require.False(t, roots.Contains(helper))

	pinned := roots.With(helper)
	assert.True(t, pinned.Contains(helper))
	assert.Equal(t, RootPinned, pinned.Reason(helper))
	assert.Equal(t, roots.Len()+1, pinned.Len())
	assert.False(t, roots.Contains(helper), "the original set is unchanged")

	again := pinned.With(main)
	assert.Equal(t, RootEntryPoint, again.Reason(main), "an existing root keeps its reason")
	assert.Equal(t, pinned.Len(), again.Len())
}
