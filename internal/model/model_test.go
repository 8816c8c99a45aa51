package model

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodingMerge(t *testing.T) {
	tests := []struct {
		name     string
		e32, e64 Encoding
		want     Encoding
	}{
		{"equal", Encoding{Type: "i"}, Encoding{Type: "i"}, Encoding{Type: "i"}},
		{"differ", Encoding{Type: "i"}, Encoding{Type: "q"}, Encoding{Type: "i", Type64: "q"}},
		{"only 32", Encoding{Type: "f"}, Encoding{}, Encoding{Type: "f"}},
		{"only 64", Encoding{}, Encoding{Type: "d"}, Encoding{Type64: "d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.e32.Merge(tt.e64)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Merge mismatch (-want +got):\n%s", diff)
			}
			if again := got.Merge(got); again != got {
				t.Errorf("Merge is not idempotent: %+v -> %+v", got, again)
			}
		})
	}
}

func TestValueMerge(t *testing.T) {
	tests := []struct {
		name     string
		v32, v64 Value
		want     Value
	}{
		{"all equal", NewValue("1", "1"), NewValue("1", ""), Value{Value: "1"}},
		{"endian differs", NewValue("16777216", "1"), NewValue("16777216", "1"), Value{Value: "16777216", BEValue: "1"}},
		{"arch differs", NewValue("4", ""), NewValue("8", ""), Value{Value: "4", Value64: "8"}},
		{
			"all differ",
			NewValue("1", "2"), NewValue("3", "4"),
			Value{Value: "1", BEValue: "2", Value64: "3", BEValue64: "4"},
		},
		{"only 64", Value{}, NewValue("8", "9"), Value{Value64: "8", BEValue64: "9"}},
		{"only 32", NewValue("8", ""), Value{}, Value{Value: "8"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.v32.Merge(tt.v64)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Merge mismatch (-want +got):\n%s", diff)
			}
			if again := got.Merge(got); again != got {
				t.Errorf("Merge is not idempotent: %+v -> %+v", got, again)
			}
		})
	}
}

func TestValueGet(t *testing.T) {
	v := Value{Value: "1", BEValue: "2", Value64: "3"}
	tests := []struct {
		arch64, be bool
		want       string
	}{
		{false, false, "1"},
		{false, true, "2"},
		{true, false, "3"},
		{true, true, "3"},
	}
	for _, tt := range tests {
		if got := v.Get(tt.arch64, tt.be); got != tt.want {
			t.Errorf("Get(%v, %v) = %q, want %q", tt.arch64, tt.be, got, tt.want)
		}
	}
}

func sampleModel(intType, longValue string) *Model {
	m := New()
	m.Structs["NSPoint"] = &Struct{Name: "NSPoint", Type: Encoding{Type: "{_NSPoint=" + intType + intType + "}"}}
	m.Enums["NSLong"] = &Enum{Name: "NSLong", Value: NewValue(longValue, "")}
	m.Functions["NSMax"] = &Function{
		Name: "NSMax",
		Callable: Callable{
			Args: []*Arg{{Name: "a", DeclaredType: "NSInteger", Type: Encoding{Type: intType}}},
			Ret:  &Arg{DeclaredType: "NSInteger", Type: Encoding{Type: intType}},
		},
	}
	m.Classes["NSObject"] = &Class{Name: "NSObject", Methods: []*Method{
		{Selector: "hash", Callable: Callable{Ret: &Arg{Type: Encoding{Type: intType}}}},
	}}
	return m
}

func TestReconcile(t *testing.T) {
	got := Reconcile(sampleModel("i", "4"), sampleModel("q", "8"))

	if diff := cmp.Diff(Encoding{Type: "{_NSPoint=ii}", Type64: "{_NSPoint=qq}"}, got.Structs["NSPoint"].Type); diff != "" {
		t.Errorf("struct encoding mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Value{Value: "4", Value64: "8"}, got.Enums["NSLong"].Value); diff != "" {
		t.Errorf("enum value mismatch (-want +got):\n%s", diff)
	}
	fn := got.Functions["NSMax"]
	if fn.Args[0].Type != (Encoding{Type: "i", Type64: "q"}) || fn.Ret.Type != (Encoding{Type: "i", Type64: "q"}) {
		t.Errorf("function = %+v", fn)
	}
	if m := got.Classes["NSObject"].Method("ihash"); m == nil || m.Ret.Type.Type64 != "q" {
		t.Errorf("method hash = %+v", m)
	}
}

func TestReconcileSameModel(t *testing.T) {
	a := sampleModel("i", "4")
	got := Reconcile(a, a)
	if diff := cmp.Diff(a, got); diff != "" {
		t.Errorf("reconciling a model with itself changed it (-want +got):\n%s", diff)
	}
	if again := Reconcile(got, got); !cmp.Equal(got, again) {
		t.Error("Reconcile is not idempotent")
	}
}

func TestReconcileSingleArch(t *testing.T) {
	got := Reconcile(nil, sampleModel("q", "8"))
	if diff := cmp.Diff(Encoding{Type64: "q"}, got.Functions["NSMax"].Ret.Type); diff != "" {
		t.Errorf("64-only encoding mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Value{Value64: "8"}, got.Enums["NSLong"].Value); diff != "" {
		t.Errorf("64-only value mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcileKeepsOneSidedEntities(t *testing.T) {
	m32 := New()
	m32.Constants["kOld"] = &Constant{Name: "kOld", Type: Encoding{Type: "i"}}
	m64 := New()
	m64.Constants["kNew"] = &Constant{Name: "kNew", Type: Encoding{Type: "q"}}

	got := Reconcile(m32, m64)
	if got.Constants["kOld"].Type != (Encoding{Type: "i"}) {
		t.Errorf("kOld = %+v", got.Constants["kOld"])
	}
	if got.Constants["kNew"].Type != (Encoding{Type64: "q"}) {
		t.Errorf("kNew = %+v", got.Constants["kNew"])
	}
}

func TestJSONRoundTrip(t *testing.T) {
	m := Reconcile(sampleModel("i", "4"), sampleModel("q", "8"))
	m.DependsOn = []string{"/System/Library/Frameworks/Foundation.framework"}

	var buf bytes.Buffer
	if err := m.WriteJSON(&buf); err != nil {
		t.Fatal(err)
	}
	first := buf.String()

	got, err := ReadJSON(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	var again bytes.Buffer
	if err := got.WriteJSON(&again); err != nil {
		t.Fatal(err)
	}
	if again.String() != first {
		t.Error("JSON output is not deterministic")
	}
}

func TestJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	m := sampleModel("i", "4")
	if err := m.WriteJSONFile(path); err != nil {
		t.Fatal(err)
	}
	got, err := ReadJSONFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Count()["functions"] != 1 || got.Count()["methods"] != 1 {
		t.Errorf("Count() = %v", got.Count())
	}
	if _, err := ReadJSONFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestClassRemoveMethod(t *testing.T) {
	c := &Class{Name: "C", Methods: []*Method{{Selector: "a"}, {Selector: "a", ClassMethod: true}}}
	if !c.RemoveMethod("ca") || c.RemoveMethod("ca") {
		t.Error("RemoveMethod reported wrong presence")
	}
	if c.Method("ia") == nil || len(c.Methods) != 1 {
		t.Errorf("methods = %+v", c.Methods)
	}
}
