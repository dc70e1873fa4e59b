package deadcode

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neural-garage/tools/internal/testutil"
	"github.com/neural-garage/tools/pkg/extract"
	"github.com/neural-garage/tools/pkg/facts"
)

func statuses(a *Analysis) map[string]Status {
	out := make(map[string]Status, len(a.Records))
	for _, r := range a.Records {
		out[r.Symbol] = r.Status
	}
	return out
}

func TestNew(t *testing.T) {
	a := New()
	require.NotNil(t, a)
	assert.NotNil(t, a.registry)
	assert.NotNil(t, a.src)
	assert.Equal(t, "default", a.project)
	assert.Equal(t, DefaultRootConfig(), a.roots)
	assert.Equal(t, DefaultConfidenceThresholds(), a.thresholds)
}

func TestNewWithOptions(t *testing.T) {
	cfg := RootConfig{Library: true}
	a := New(
		WithRootConfig(cfg),
		WithProject("svc"),
		WithMaxFileSize(1024),
		WithWorkers(3),
		WithRoot("/src"),
		WithConfidenceThresholds(ConfidenceThresholds{HighThreshold: 2, MediumThreshold: 0.4}),
	)
	assert.Equal(t, cfg, a.roots)
	assert.Equal(t, "svc", a.project)
	assert.Equal(t, int64(1024), a.maxFileSize)
	assert.Equal(t, 3, a.workers)
	assert.Equal(t, "/src", a.root)
	assert.Equal(t, 0.8, a.thresholds.HighThreshold, "out of range thresholds fall back to defaults")
	assert.Equal(t, 0.4, a.thresholds.MediumThreshold)
}

// The fixture calls used_function and UsedClass.used_method from main, which
// runs under the script guard.
func TestAnalyze_EntryPointScript(t *testing.T) {
	a := New(WithRoot("testdata"))
	analysis, err := a.Analyze(context.Background(), []string{filepath.Join("testdata", "example.py")})
	require.NoError(t, err)

	assert.Equal(t, map[string]Status{
		"example.used_function":         StatusLive,
		"example.dead_function":         StatusDead,
		"example.another_dead_function": StatusDead,
		"example.UsedClass":             StatusLive,
		"example.UsedClass.used_method": StatusLive,
		"example.UsedClass.dead_method": StatusDead,
		"example.main":                  StatusLive,
	}, statuses(analysis))

	assert.NotEmpty(t, analysis.RunID)
	assert.False(t, HasDiagnostic(analysis.Diagnostics, DiagNoRoots))
	assert.Equal(t, 3, analysis.Summary.Dead)
	assert.Equal(t, 4, analysis.Summary.Live)
	assert.Equal(t, 1, analysis.Summary.TotalFilesAnalyzed)

	main, ok := analysis.Record("example.main")
	require.True(t, ok)
	assert.Equal(t, RootEntryPoint, main.RootReason)

	method, _ := analysis.Record("example.UsedClass.used_method")
	assert.Equal(t, []string{"example.main", "example.UsedClass.used_method"}, method.Path)

	dead, _ := analysis.Record("example.UsedClass.dead_method")
	assert.Nil(t, dead.Path)
	assert.NotEmpty(t, dead.ConfidenceLevel)

	assert.Equal(t, "example.used_function", analysis.Records[0].Symbol, "records are ordered by line")
	for _, r := range analysis.Records {
		assert.Equal(t, "example.py", r.Location.File)
	}
}

func TestAnalyze_UnknownReceiverIsAmbiguous(t *testing.T) {
	root, files := testutil.Project(t, map[string]string{
		"shapes.py": `class Circle:
    def area(self):
        return 1

class Square:
    def area(self):
        return 2

def main():
    shapes = [Circle(), Square()]
    for shape in shapes:
        shape.area()

if __name__ == "__main__":
    main()
`,
	})

	analysis, err := New(WithRoot(root)).Analyze(context.Background(), files)
	require.NoError(t, err)

	got := statuses(analysis)
	assert.Equal(t, StatusLiveViaAmbiguous, got["shapes.Circle.area"])
	assert.Equal(t, StatusLiveViaAmbiguous, got["shapes.Square.area"])
	assert.Equal(t, StatusLive, got["shapes.Circle"])
	assert.Equal(t, StatusLive, got["shapes.main"])
	assert.Len(t, analysis.Ambiguous(), 2)
	assert.Empty(t, analysis.Dead())
}

func TestAnalyze_ReboundReceiverIsAmbiguous(t *testing.T) {
	tests := []struct {
		name string
		file string
		src  string
	}{
		{
			name: "python straight line",
			file: "app.py",
			src: `class A:
    def run(self):
        return 1

class B:
    def run(self):
        return 2

def main():
    x = A()
    x.run()
    x = B()
    x.run()

if __name__ == "__main__":
    main()
`,
		},
		{
			name: "python branches",
			file: "app.py",
			src: `class A:
    def run(self):
        return 1

class B:
    def run(self):
        return 2

def main(flag):
    if flag:
        x = A()
    else:
        x = B()
    x.run()

if __name__ == "__main__":
    main(True)
`,
		},
		{
			name: "python global",
			file: "app.py",
			src: `class A:
    def run(self):
        return 1

class B:
    def run(self):
        return 2

x = A()

def reset():
    global x
    x = B()

def main():
    reset()
    x.run()

if __name__ == "__main__":
    main()
`,
		},
		{
			name: "typescript straight line",
			file: "app.ts",
			src: `class A {
  run() {
    return 1;
  }
}

class B {
  run() {
    return 2;
  }
}

function main() {
  let x = new A();
  x.run();
  x = new B();
  x.run();
}

main();
`,
		},
		{
			name: "typescript branches",
			file: "app.ts",
			src: `class A {
  run() {
    return 1;
  }
}

class B {
  run() {
    return 2;
  }
}

function main(flag: boolean) {
  let x = new A();
  if (flag) {
    x = new B();
  }
  x.run();
}

main(true);
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, files := testutil.Project(t, map[string]string{tt.file: tt.src})

			analysis, err := New(WithRoot(root)).Analyze(context.Background(), files)
			require.NoError(t, err)

			got := statuses(analysis)
			assert.Equal(t, StatusLiveViaAmbiguous, got["app.A.run"])
			assert.Equal(t, StatusLiveViaAmbiguous, got["app.B.run"])
			assert.Empty(t, analysis.Dead())
		})
	}
}

func TestAnalyze_Library(t *testing.T) {
	root, files := testutil.Project(t, map[string]string{
		"lib/api.py": `def public_api():
    return _helper()

def _helper():
    return 1

def _unused():
    return 2
`,
	})

	cfg := DefaultRootConfig()
	cfg.Library = true
	analysis, err := New(WithRoot(root), WithRootConfig(cfg)).Analyze(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, map[string]Status{
		"lib.api.public_api": StatusLive,
		"lib.api._helper":    StatusLive,
		"lib.api._unused":    StatusDead,
	}, statuses(analysis))
	assert.False(t, HasDiagnostic(analysis.Diagnostics, DiagNoRoots))

	rec, _ := analysis.Record("lib.api.public_api")
	assert.Equal(t, RootLibrary, rec.RootReason)
}

func TestAnalyze_NoRoots(t *testing.T) {
	root, files := testutil.Project(t, map[string]string{
		"lib/api.py": `def alpha():
    return beta()

def beta():
    return 1
`,
	})

	analysis, err := New(WithRoot(root)).Analyze(context.Background(), files)
	require.NoError(t, err)

	for _, r := range analysis.Records {
		assert.Equal(t, StatusDead, r.Status, r.Symbol)
	}
	assert.Equal(t, 2, analysis.Summary.Dead)
	assert.True(t, HasDiagnostic(analysis.Diagnostics, DiagNoRoots))
	assert.Equal(t, 100.0, analysis.Summary.DeadCodePercentage)
}

func TestAnalyze_TestsAreRoots(t *testing.T) {
	root, files := testutil.Project(t, map[string]string{
		"app.py": `def helper():
    return 1
`,
		"tests/test_app.py": `from app import helper

def test_helper():
    assert helper() == 1
`,
	})

	analysis, err := New(WithRoot(root)).Analyze(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, StatusLive, statuses(analysis)["app.helper"])

	cfg := DefaultRootConfig()
	cfg.IncludeTests = false
	analysis, err = New(WithRoot(root), WithRootConfig(cfg)).Analyze(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, StatusDead, statuses(analysis)["app.helper"])
	assert.Equal(t, StatusDead, statuses(analysis)["tests.test_app.test_helper"])
}

func TestAnalyze_Go(t *testing.T) {
	root, files := testutil.Project(t, map[string]string{
		"cmd/app/main.go": `package main

import "fmt"

func main() {
	fmt.Println(used())
}

func used() int {
	return 42
}

func unused() int {
	return 0
}
`,
	})

	analysis, err := New(WithRoot(root)).Analyze(context.Background(), files)
	require.NoError(t, err)

	got := statuses(analysis)
	assert.Equal(t, StatusLive, got["cmd.app.main"])
	assert.Equal(t, StatusLive, got["cmd.app.used"])
	assert.Equal(t, StatusDead, got["cmd.app.unused"])
	assert.Positive(t, analysis.Summary.ExternalReferences)
}

func TestAnalyze_ExtractionFailuresAreDiagnostics(t *testing.T) {
	root, files := testutil.Project(t, map[string]string{
		"good.py":   "def main():\n    pass\n",
		"notes.txt": "not code",
	})
	files = append(files, filepath.Join(root, "missing.py"))

	analysis, err := New(WithRoot(root)).Analyze(context.Background(), files)
	require.NoError(t, err)

	var failed []string
	for _, d := range analysis.Diagnostics {
		if d.Kind == DiagExtractionFailure {
			failed = append(failed, d.File)
		}
	}
	assert.ElementsMatch(t, []string{"notes.txt", "missing.py"}, failed)
	assert.Equal(t, 2, analysis.Summary.FailedFiles)
	assert.Equal(t, StatusLive, statuses(analysis)["good.main"])
}

func TestAnalyze_Cancelled(t *testing.T) {
	root, files := testutil.Project(t, map[string]string{
		"a.py": "def main():\n    pass\n",
		"b.py": "def other():\n    pass\n",
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	analysis, err := New(WithRoot(root)).Analyze(ctx, files)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, analysis)
}

func TestAnalyze_Deterministic(t *testing.T) {
	a := New(WithRoot("testdata"))
	files := []string{filepath.Join("testdata", "example.py")}

	first, err := a.Analyze(context.Background(), files)
	require.NoError(t, err)
	second, err := a.Analyze(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, first.Records, second.Records)
	assert.Equal(t, first.Diagnostics, second.Diagnostics)
	assert.NotEqual(t, first.RunID, second.RunID)
}

type memoryCache struct {
	mu       sync.Mutex
	entries  map[string]*facts.FactSet
	stores   int
	touched  []string
	lookupFn func(hash string) error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]*facts.FactSet)}
}

func (c *memoryCache) Lookup(_ context.Context, hash string) (*facts.FactSet, bool, error) {
	if c.lookupFn != nil {
		if err := c.lookupFn(hash); err != nil {
			return nil, false, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fs, ok := c.entries[hash]
	if !ok {
		return nil, false, nil
	}
	return fs.Detach(), true, nil
}

func (c *memoryCache) Store(_ context.Context, hash, _ string, fs *facts.FactSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stores++
	if _, ok := c.entries[hash]; !ok {
		c.entries[hash] = fs.Detach()
	}
	return nil
}

func (c *memoryCache) Touch(_ context.Context, _ string, hashes []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touched = append(c.touched, hashes...)
	return nil
}

type countingExtractor struct {
	facts.Extractor
	calls atomic.Int32
}

func (c *countingExtractor) Extract(path string, content []byte) (*facts.FactSet, error) {
	c.calls.Add(1)
	return c.Extractor.Extract(path, content)
}

func countingRegistry() (*extract.Registry, *countingExtractor) {
	counter := &countingExtractor{Extractor: extract.NewPython()}
	reg := extract.NewRegistry()
	reg.Register(counter)
	return reg, counter
}

const sharedSource = `def main():
    return helper()

def helper():
    return 1

def _stale():
    return 0
`

func TestAnalyze_IdenticalContentIsExtractedOnce(t *testing.T) {
	root, files := testutil.Project(t, map[string]string{
		"a/job.py": sharedSource,
		"b/job.py": sharedSource,
	})
	reg, counter := countingRegistry()

	analysis, err := New(WithRoot(root), WithRegistry(reg)).Analyze(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, int32(1), counter.calls.Load())

	got := statuses(analysis)
	for _, mod := range []string{"a.job", "b.job"} {
		assert.Equal(t, StatusLive, got[mod+".helper"])
		assert.Equal(t, StatusDead, got[mod+"._stale"])
	}
	rec, _ := analysis.Record("b.job._stale")
	assert.Equal(t, "b/job.py", rec.Location.File, "shared facts are bound to each file's own path")
}

func TestAnalyze_CacheHitsMatchFreshExtraction(t *testing.T) {
	root, files := testutil.Project(t, map[string]string{
		"a/job.py":  sharedSource,
		"b/job.py":  sharedSource,
		"c/tool.py": "def main():\n    return 1\n",
	})
	cache := newMemoryCache()
	reg, counter := countingRegistry()
	newAnalyzer := func() *Analyzer {
		return New(WithRoot(root), WithRegistry(reg), WithCache(cache), WithProject("p"))
	}

	cold, err := newAnalyzer().Analyze(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, int32(2), counter.calls.Load())
	assert.Equal(t, 2, cache.stores, "each distinct content is stored once")
	assert.Zero(t, cold.Summary.CachedFiles)

	warm, err := newAnalyzer().Analyze(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, int32(2), counter.calls.Load(), "no extraction on a warm cache")
	assert.Equal(t, 3, warm.Summary.CachedFiles)
	assert.Equal(t, cold.Records, warm.Records)
	assert.Contains(t, cache.touched, ContentKey("python", []byte(sharedSource)))
}

func TestAnalyze_CacheInvariantViolationAborts(t *testing.T) {
	root, files := testutil.Project(t, map[string]string{"a.py": "def main():\n    pass\n"})
	cache := newMemoryCache()
	cache.lookupFn = func(hash string) error {
		return fmt.Errorf("%w: entry %s has format 0", ErrInternalInvariant, hash)
	}

	analysis, err := New(WithRoot(root), WithCache(cache)).Analyze(context.Background(), files)
	assert.ErrorIs(t, err, ErrInternalInvariant)
	assert.Nil(t, analysis)
}

func TestContentKey(t *testing.T) {
	src := []byte("def f(): pass\n")
	assert.Equal(t, ContentKey("python", src), ContentKey("python", src))
	assert.NotEqual(t, ContentKey("python", src), ContentKey("typescript", src))
	assert.NotEqual(t, ContentKey("python", src), ContentKey("python", []byte("def g(): pass\n")))
}

func TestAnalyzeFacts_Cycles(t *testing.T) {
	analysis, err := New().AnalyzeFacts([]*facts.FactSet{pySet("app.py",
		[]facts.DeclaredSymbolFact{
			decl("ping", facts.KindFunction, 1, 2),
			decl("pong", facts.KindFunction, 4, 5),
		},
		[]facts.ReferenceFact{call("pong", 2, "ping"), call("ping", 5, "pong")},
	)})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"app.ping", "app.pong"}}, analysis.Cycles)
	assert.Equal(t, 1, analysis.Summary.DeadCycles)
	assert.True(t, HasDiagnostic(analysis.Diagnostics, DiagNoRoots))
}
