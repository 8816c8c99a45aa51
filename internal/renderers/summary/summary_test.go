package summary

import (
	"context"
	"strings"
	"testing"

	"github.com/dejo1307/bridgemeta/internal/facts"
	"github.com/dejo1307/bridgemeta/internal/model"
)

func makeSnapshot(m *model.Model) *facts.Snapshot {
	return &facts.Snapshot{
		Meta: facts.SnapshotMeta{
			Framework:   "Foundation",
			GeneratedAt: "2024-01-01T00:00:00Z",
			Duration:    "1s",
			Archs:       []string{"i386", "x86_64"},
		},
		Model: m,
	}
}

func sampleModel() *model.Model {
	m := model.New()
	m.Structs["NSPoint"] = &model.Struct{Name: "NSPoint", Type: model.Encoding{Type: "{_NSPoint=ff}", Type64: "{CGPoint=dd}"}}
	m.CFTypes["CFStringRef"] = &model.CFType{Name: "CFStringRef", TollFree: "NSString"}
	m.Enums["NSOld"] = &model.Enum{Name: "NSOld", Ignore: true, Suggestion: "use NSNew", Override: true}
	m.Functions["NSMakePoint"] = &model.Function{Name: "NSMakePoint", Inline: true}
	m.Classes["NSWindow"] = &model.Class{Name: "NSWindow", Methods: []*model.Method{
		{Selector: "windowNumber", ClassMethod: true, Override: true},
		{Selector: "close"},
	}}
	return m
}

func TestRender_Sections(t *testing.T) {
	artifacts, err := New(4000).Render(context.Background(), makeSnapshot(sampleModel()))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].Name != "summary.md" {
		t.Fatalf("artifacts = %+v", artifacts)
	}

	content := string(artifacts[0].Content)
	for _, want := range []string{
		"# Foundation Metadata",
		"Architectures: i386, x86_64",
		"| structs | 1 |",
		"- enum `NSOld` ignored: use NSNew",
		"- method `+[NSWindow windowNumber]`",
		"| struct | `NSPoint` | `{_NSPoint=ff}` | `{CGPoint=dd}` |",
		"- `CFStringRef` ↔ `NSString`",
		"`NSMakePoint`",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("summary missing %q", want)
		}
	}
	if strings.Contains(content, "[NSWindow close]") {
		t.Error("untouched method listed as overridden")
	}
}

func TestRender_EmptySnapshot(t *testing.T) {
	artifacts, err := New(4000).Render(context.Background(), &facts.Snapshot{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	content := string(artifacts[0].Content)
	if !strings.Contains(content, "# Framework Metadata") {
		t.Error("expected fallback header")
	}
	if !strings.Contains(content, "_No declarations resolved._") {
		t.Error("expected 'No declarations resolved' fallback")
	}
}

func TestRender_MergeWarnings(t *testing.T) {
	snapshot := makeSnapshot(sampleModel())
	snapshot.Meta.MergeErrors = []string{"Function 'NSNope' is described in an exception file but it has not been discovered by the final generator"}
	artifacts, err := New(4000).Render(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(string(artifacts[0].Content), "## Merge Warnings\n\n- Function 'NSNope'") {
		t.Error("merge warning not listed")
	}
}

func TestTokenBudgetEnforcement(t *testing.T) {
	m := model.New()
	for i := 0; i < 200; i++ {
		name := "NSStruct" + strings.Repeat("x", i%20) + string(rune('A'+i%26)) + string(rune('a'+i/26))
		m.Structs[name] = &model.Struct{Name: name, Type: model.Encoding{Type: "{a=ii}", Type64: "{a=qq}"}}
	}

	artifacts, err := New(100).Render(context.Background(), makeSnapshot(m))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	content := string(artifacts[0].Content)
	if !strings.Contains(content, "[Truncated in: Architecture Differences]") {
		t.Errorf("expected truncation marker in output, got:\n%s", content)
	}
	maxExpected := 100*4 + 60
	if len(content) > maxExpected {
		t.Errorf("content length %d exceeds expected truncated size %d", len(content), maxExpected)
	}
}

func TestRender_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(0).Render(ctx, makeSnapshot(sampleModel())); err == nil {
		t.Error("Render with canceled context succeeded")
	}
}
