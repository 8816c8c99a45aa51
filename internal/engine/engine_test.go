package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dejo1307/bridgemeta/internal/config"
	"github.com/dejo1307/bridgemeta/internal/facts"
	"github.com/dejo1307/bridgemeta/internal/merge"
	"github.com/dejo1307/bridgemeta/internal/model"
	"github.com/dejo1307/bridgemeta/internal/renderers/signatures"
	"github.com/dejo1307/bridgemeta/internal/renderers/summary"
)

const fooHeader = `
typedef struct _NSPoint { CGFloat x; CGFloat y; } NSPoint;
NSInteger NSMax(NSInteger a, NSInteger b);
@interface NSObject
- (BOOL)isEqual:(id)object;
@end
`

const i386Table = `arch: i386
types:
  void: v
  id: "@"
  CGFloat: f
  NSInteger: i
  NSPoint: "{_NSPoint=ff}"
`

const x8664Table = `arch: x86_64
types:
  void: v
  id: "@"
  CGFloat: d
  NSInteger: q
  NSPoint: "{_NSPoint=dd}"
`

const fooOverrides = `<?xml version="1.0"?>
<signatures version="1.0">
  <function name="NSMax">
    <arg index="0" type_modifier="n"/>
  </function>
</signatures>
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// setup writes a small framework into a temp dir and returns an engine
// configured for it.
func setup(t *testing.T, overrides string, edit func(*config.Config)) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "Foo.i", fooHeader)
	writeFile(t, dir, "i386.yaml", i386Table)
	writeFile(t, dir, "x86_64.yaml", x8664Table)
	writeFile(t, dir, "Foo.xml", overrides)
	writeFile(t, dir, config.FileName, `framework: Foo
headers:
  - path: Foo/Foo.h
    preprocessed: Foo.i
oracle:
  tables: [i386.yaml, x86_64.yaml]
overrides: [Foo.xml]
renderers: [final, summary]
`)
	cfg, err := config.Load(filepath.Join(dir, config.FileName))
	if err != nil {
		t.Fatal(err)
	}
	if edit != nil {
		edit(cfg)
	}
	eng, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	eng.RegisterRenderer(signatures.New(signatures.Final))
	eng.RegisterRenderer(signatures.New(signatures.Complete))
	eng.RegisterRenderer(summary.New(cfg.Output.MaxSummaryTokens))
	return eng, dir
}

func TestNew_NilConfig(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("New(nil) succeeded")
	}
}

func TestGenerate(t *testing.T) {
	eng, _ := setup(t, fooOverrides, nil)

	snapshot, err := eng.Generate(context.Background(), false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if diff := cmp.Diff([]string{"i386", "x86_64"}, snapshot.Meta.Archs); diff != "" {
		t.Errorf("archs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"final", "summary"}, snapshot.Meta.Renderers); diff != "" {
		t.Errorf("renderers mismatch (-want +got):\n%s", diff)
	}
	if snapshot.Meta.Framework != "Foo" || snapshot.Meta.FactCount != eng.Store().Count() {
		t.Errorf("meta = %+v", snapshot.Meta)
	}
	if len(snapshot.Meta.FileHashes) != 5 {
		t.Errorf("file hashes = %d, want 5 (config, header, two tables, overrides)", len(snapshot.Meta.FileHashes))
	}

	fn := snapshot.Model.Functions["NSMax"]
	if fn == nil {
		t.Fatal("NSMax not resolved")
	}
	if diff := cmp.Diff(model.Encoding{Type: "i", Type64: "q"}, fn.Ret.Type); diff != "" {
		t.Errorf("NSMax return mismatch (-want +got):\n%s", diff)
	}
	if fn.Args[0].Attrs["type_modifier"] != "n" {
		t.Error("override not merged into NSMax")
	}

	if got := eng.Store().ByName("NSMax"); len(got) != 1 || got[0].Kind != facts.KindFunction {
		t.Errorf("store lookup NSMax = %+v", got)
	}

	final, err := eng.RendererArtifact("final")
	if err != nil {
		t.Fatal(err)
	}
	if final.Name != "Foo.bridgesupport" {
		t.Errorf("final artifact = %q", final.Name)
	}
	if !bytes.Contains(final.Content, []byte(`type_modifier="n"`)) {
		t.Errorf("final document lacks override:\n%s", final.Content)
	}
	if _, err := eng.RendererArtifact("complete"); err == nil {
		t.Error("disabled renderer produced an artifact")
	}
}

func TestWriteArtifacts(t *testing.T) {
	eng, dir := setup(t, fooOverrides, nil)
	if err := eng.WriteArtifacts(); err == nil {
		t.Error("WriteArtifacts before Generate succeeded")
	}
	if _, err := eng.Generate(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if err := eng.WriteArtifacts(); err != nil {
		t.Fatalf("WriteArtifacts: %v", err)
	}

	outDir := filepath.Join(dir, ".bridgemeta")
	for _, name := range []string{"Foo.bridgesupport", "summary.md", FactsFile, ModelFile, MetaFile} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}

	m, err := model.ReadJSONFile(filepath.Join(outDir, ModelFile))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Structs["NSPoint"]; !ok {
		t.Error("model.json lacks NSPoint")
	}

	store := facts.NewStore()
	if err := store.ReadJSONLFile(filepath.Join(outDir, FactsFile)); err != nil {
		t.Fatal(err)
	}
	if store.Count() != eng.Store().Count() {
		t.Errorf("facts.jsonl holds %d facts, store %d", store.Count(), eng.Store().Count())
	}
}

func TestGetArtifact(t *testing.T) {
	eng, _ := setup(t, fooOverrides, nil)
	if _, err := eng.GetArtifact(ModelFile); err == nil {
		t.Error("GetArtifact before Generate succeeded")
	}
	if _, err := eng.Generate(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		want string
	}{
		{"Foo.bridgesupport", `<function name="NSMax">`},
		{"summary.md", "# Foo Metadata"},
		{FactsFile, `"name":"NSPoint"`},
		{ModelFile, `"NSPoint"`},
		{MetaFile, `"framework"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := eng.GetArtifact(tt.name)
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(string(data), tt.want) {
				t.Errorf("%s lacks %q:\n%s", tt.name, tt.want, data)
			}
		})
	}
	if _, err := eng.GetArtifact("nope.xml"); err == nil {
		t.Error("unknown artifact found")
	}
}

func TestGenerate_MergeErrors(t *testing.T) {
	const bad = `<signatures version="1.0"><function name="NSNope"/></signatures>`

	eng, _ := setup(t, bad, nil)
	_, err := eng.Generate(context.Background(), false)
	var merr *merge.Error
	if !errors.As(err, &merr) || len(merr.Errors) != 1 {
		t.Fatalf("Generate error = %v, want one merge validation error", err)
	}

	eng, _ = setup(t, bad, func(c *config.Config) { c.Merge.IgnoreErrors = true })
	snapshot, err := eng.Generate(context.Background(), false)
	if err != nil {
		t.Fatalf("Generate with ignore_errors: %v", err)
	}
	if len(snapshot.Meta.MergeErrors) != 1 || !strings.Contains(snapshot.Meta.MergeErrors[0], "'NSNope'") {
		t.Errorf("merge errors = %v", snapshot.Meta.MergeErrors)
	}
}

func TestGenerate_IgnoredHeader(t *testing.T) {
	const ignore = `<signatures version="1.0"><ignored_headers><header>^Foo/</header></ignored_headers></signatures>`
	eng, _ := setup(t, ignore, nil)
	snapshot, err := eng.Generate(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(snapshot.Model.Functions); n != 0 {
		t.Errorf("ignored header contributed %d functions", n)
	}
}

func TestGenerate_Incremental(t *testing.T) {
	eng, dir := setup(t, fooOverrides, nil)
	ctx := context.Background()
	if _, err := eng.Generate(ctx, false); err != nil {
		t.Fatal(err)
	}
	if err := eng.WriteArtifacts(); err != nil {
		t.Fatal(err)
	}

	// Plant a marker in the cached model: only a run that reuses the cache
	// sees it.
	modelPath := filepath.Join(dir, ".bridgemeta", ModelFile)
	m, err := model.ReadJSONFile(modelPath)
	if err != nil {
		t.Fatal(err)
	}
	m.Structs["Cached"] = &model.Struct{Name: "Cached"}
	if err := m.WriteJSONFile(modelPath); err != nil {
		t.Fatal(err)
	}

	snapshot, err := eng.Generate(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := snapshot.Model.Structs["Cached"]; !ok {
		t.Error("unchanged inputs did not reuse the cached model")
	}

	snapshot, err = eng.Generate(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := snapshot.Model.Structs["Cached"]; ok {
		t.Error("forced run reused the cached model")
	}

	if err := eng.WriteArtifacts(); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "Foo.i", fooHeader+"NSInteger NSMin(NSInteger a, NSInteger b);\n")
	snapshot, err = eng.Generate(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := snapshot.Model.Functions["NSMin"]; !ok {
		t.Error("changed header did not trigger a rebuild")
	}
}

func TestLoadExisting(t *testing.T) {
	eng, dir := setup(t, fooOverrides, nil)
	if err := eng.LoadExisting(context.Background()); err == nil {
		t.Error("LoadExisting without a previous run succeeded")
	}
	if _, err := eng.Generate(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if err := eng.WriteArtifacts(); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(filepath.Join(dir, config.FileName))
	if err != nil {
		t.Fatal(err)
	}
	fresh, _ := New(cfg)
	fresh.RegisterRenderer(signatures.New(signatures.Final))
	if err := fresh.LoadExisting(context.Background()); err != nil {
		t.Fatalf("LoadExisting: %v", err)
	}
	if fresh.Store().Count() != eng.Store().Count() {
		t.Errorf("loaded %d facts, want %d", fresh.Store().Count(), eng.Store().Count())
	}
	if diff := cmp.Diff([]string{"i386", "x86_64"}, fresh.Snapshot().Meta.Archs); diff != "" {
		t.Errorf("archs mismatch (-want +got):\n%s", diff)
	}
	if _, err := fresh.GetArtifact("Foo.bridgesupport"); err != nil {
		t.Errorf("final document not re-rendered: %v", err)
	}
}

func TestGenerate_Canceled(t *testing.T) {
	eng, _ := setup(t, fooOverrides, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := eng.Generate(ctx, true); err == nil {
		t.Error("Generate with canceled context succeeded")
	}
	if eng.Snapshot() != nil {
		t.Error("canceled run left a snapshot")
	}
}

func TestSetSnapshot(t *testing.T) {
	eng, err := New(config.Default())
	if err != nil {
		t.Fatal(err)
	}
	eng.SetSnapshot(&facts.Snapshot{Facts: []facts.Fact{{Kind: facts.KindStruct, Name: "NSPoint"}}})
	if got := eng.Store().ByKind(facts.KindStruct); len(got) != 1 {
		t.Errorf("ByKind(struct) = %+v", got)
	}
}

func TestInputFiles(t *testing.T) {
	cfg := config.Default()
	cfg.Dir = "/fw"
	cfg.Headers = []config.HeaderConfig{
		{Path: "A.h", Preprocessed: "A.i", Source: "/sdk/A.h"},
		{Path: "B.h", Preprocessed: "B.i", Preprocessed64: "B64.i", Complete: "B.i"},
	}
	cfg.Oracle = config.OracleConfig{Tables: []string{"i386.yaml"}, Runtime: "rt.yaml"}
	cfg.Overrides = []string{"A.xml"}
	eng, _ := New(cfg)

	want := []string{"/fw/A.i", "/sdk/A.h", "/fw/B.i", "/fw/B64.i", "/fw/i386.yaml", "/fw/rt.yaml", "/fw/A.xml"}
	if diff := cmp.Diff(want, eng.inputFiles()); diff != "" {
		t.Errorf("input files mismatch (-want +got):\n%s", diff)
	}
}

// TestGenerate_ConcurrentCallsSerialized verifies that the engine mutex
// prevents concurrent Generate calls from corrupting shared state.
func TestGenerate_ConcurrentCallsSerialized(t *testing.T) {
	eng, _ := setup(t, fooOverrides, nil)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = eng.Generate(context.Background(), true)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("goroutine %d: %v", i, err)
		}
	}
	if eng.Snapshot() == nil {
		t.Error("no snapshot after concurrent runs")
	}
}
