package resolve

import (
	"context"
	"errors"
	"go/constant"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dejo1307/bridgemeta/internal/extract"
	"github.com/dejo1307/bridgemeta/internal/model"
	"github.com/dejo1307/bridgemeta/internal/oracle"
	"github.com/dejo1307/bridgemeta/internal/overrides"
)

const testHeader = `
typedef struct _NSPoint { CGFloat x; CGFloat y; } NSPoint;
typedef struct __CFBar *CFBarRef;
typedef struct __CFBar *CFMutableBarRef;
typedef struct __CFFoo *CFFooRef;
typedef struct __CFString *CFStringRef;
typedef void (*NSCallback)(NSInteger code, void *info);
typedef NSInteger NSCount;
extern NSInteger kLimit;
extern NSCallback kDefaultCallback;
CFTypeID CFBarGetTypeID(void);
NSInteger NSMax(NSInteger a, NSCount b);
void NSRegister(NSCallback cb);
int _NSPrivate(int x);
int _NSAliased(int x);
enum { NSA, NSB, NSC = 1 << 4, NSD, NSE = NSC | NSB, NSF = 'abcd', NSG = SOMETHING_UNKNOWN, NSH };
@interface NSObject
- (BOOL)isEqual:(id)object;
- (NSUInteger)hash;
@end
@interface NSObject (NSFooDelegate)
- (void)fooDidFinish:(id)sender;
@end
`

const testDefines = `
#define NSVersionString "1.0"
#define NSKey @"key"
#define kCFKey CFSTR("cfkey")
#define NSAlpha (NSZeta + 1)
#define NSZeta 3
#define NSAllOnes (~0UL)
#define NSDouble (NSC * 2)
#define AVAILABLE_MAC_OS_X_VERSION_10_5 1
#define NSIdent something
#define _NSHidden 9
`

func table(arch string, wide bool) *oracle.Table {
	cg, integer, uinteger, long := "f", "i", "I", "L"
	if wide {
		cg, integer, uinteger, long = "d", "q", "Q", "Q"
	}
	t := &oracle.Table{
		Arch: arch,
		Types: map[string]string{
			"void":            "v",
			"void *":          "^v",
			"int":             "i",
			"id":              "@",
			"CGFloat":         cg,
			"NSInteger":       integer,
			"NSUInteger":      uinteger,
			"CFTypeID":        long,
			"NSPoint":         "{_NSPoint=" + cg + cg + "}",
			"CFBarRef":        "^{__CFBar=}",
			"CFMutableBarRef": "^{__CFBar=}",
			"CFFooRef":        "^{__CFFoo=}",
			"CFStringRef":     "^{__CFString=}",
			"NSCallback":      "^?",
		},
		Values: map[string]oracle.Value{
			"NSH": {LE: "7"},
		},
	}
	if wide {
		t.Values["NSH"] = oracle.Value{LE: "8", BE: "9"}
	}
	return t
}

func fixture(t *testing.T) (*Input, []Arch) {
	t.Helper()
	res, err := extract.Extract(context.Background(), &extract.Header{Path: "Foo.h", Text: testHeader, Raw: testDefines})
	if err != nil {
		t.Fatal(err)
	}
	d := overrides.NewDirectives()
	d.FuncAliases["_NSAliased"] = "NSAliased"
	runtime := &oracle.Runtime{
		TollFree:    map[string]string{"CFStringRef": "__NSCFString", "CFFooRef": "NSCFType"},
		MacroValues: map[string]string{},
	}
	in := &Input{Directives: d, Runtime: runtime, DependsOn: []string{"Foundation.bridgesupport"}}
	results := []*extract.Result{res}
	return in, []Arch{
		{Table: table(oracle.Arch32, false), Results: results},
		{Table: table(oracle.Arch64, true), Results: results},
	}
}

func TestResolveEncodings(t *testing.T) {
	in, archs := fixture(t)
	m, err := Resolve(context.Background(), in, archs...)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(model.Encoding{Type: "{_NSPoint=ff}", Type64: "{_NSPoint=dd}"}, m.Structs["NSPoint"].Type); diff != "" {
		t.Errorf("NSPoint mismatch (-want +got):\n%s", diff)
	}

	fn := m.Functions["NSMax"]
	if fn == nil || len(fn.Args) != 2 {
		t.Fatalf("NSMax = %+v", fn)
	}
	pair := model.Encoding{Type: "i", Type64: "q"}
	for i, a := range []*model.Arg{fn.Args[0], fn.Args[1], fn.Ret} {
		if a.Type != pair {
			t.Errorf("NSMax value %d = %+v, want %+v", i, a.Type, pair)
		}
	}
	if fn.Args[1].DeclaredType != "NSCount" {
		t.Errorf("typedef argument declared as %q", fn.Args[1].DeclaredType)
	}

	reg := m.Functions["NSRegister"]
	if reg == nil || reg.Args[0].FuncPtr == nil {
		t.Fatalf("NSRegister = %+v", reg)
	}
	cb := reg.Args[0].FuncPtr
	if len(cb.Args) != 2 || cb.Args[0].Type != pair || cb.Args[1].Type.Type != "^v" || cb.Ret.Type.Type != "v" {
		t.Errorf("callback signature = %+v", cb)
	}
	if c := m.Constants["kDefaultCallback"]; c == nil || c.FuncPtr == nil || c.Type.Type != "^?" {
		t.Errorf("kDefaultCallback = %+v", c)
	}
	if c := m.Constants["kLimit"]; c == nil || c.Type != pair {
		t.Errorf("kLimit = %+v", c)
	}
	if diff := cmp.Diff([]string{"Foundation.bridgesupport"}, m.DependsOn); diff != "" {
		t.Errorf("DependsOn mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveBoolInEveryArch(t *testing.T) {
	in, archs := fixture(t)
	for _, a := range archs {
		if _, ok := a.Table.Types["BOOL"]; ok {
			t.Fatal("fixture table must not know BOOL")
		}
	}
	m, err := Resolve(context.Background(), in, archs...)
	if err != nil {
		t.Fatal(err)
	}
	isEqual := m.Classes["NSObject"].Method("iisEqual:")
	if isEqual == nil {
		t.Fatal("isEqual: not resolved")
	}
	if diff := cmp.Diff(model.Encoding{Type: model.BoolEncoding}, isEqual.Ret.Type); diff != "" {
		t.Errorf("isEqual: return mismatch (-want +got):\n%s", diff)
	}
	if !isEqual.Ret.IsBool() {
		t.Error("isEqual: return is not boolean")
	}
	hash := m.Classes["NSObject"].Method("ihash")
	if hash.Ret.Type != (model.Encoding{Type: "I", Type64: "Q"}) {
		t.Errorf("hash return = %+v", hash.Ret.Type)
	}

	proto := m.InformalProtocols["NSFooDelegate"]
	if proto == nil || len(proto.Methods) != 1 {
		t.Fatalf("informal protocol = %+v", proto)
	}
	if diff := cmp.Diff(model.Encoding{Type: "v@:@"}, proto.Methods[0].Type); diff != "" {
		t.Errorf("protocol method encoding mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveBoolIgnoresTableEntries(t *testing.T) {
	const header = `
BOOL NSFlagEnabled(BOOL *out);
@interface NSFlags
- (BOOL)isSet;
- (void)getFlag:(BOOL *)flag;
@end
`
	res, err := extract.Extract(context.Background(), &extract.Header{Path: "Flags.h", Text: header})
	if err != nil {
		t.Fatal(err)
	}
	in := &Input{
		Directives: overrides.NewDirectives(),
		Runtime:    &oracle.Runtime{TollFree: map[string]string{}, MacroValues: map[string]string{}},
	}
	var archs []Arch
	for _, arch := range []string{oracle.Arch32, oracle.Arch64} {
		archs = append(archs, Arch{
			Table: &oracle.Table{Arch: arch, Types: map[string]string{
				"void":   "v",
				"id":     "@",
				"BOOL":   "c",
				"BOOL *": "^c",
				"BOOL*":  "^c",
			}},
			Results: []*extract.Result{res},
		})
	}
	m, err := Resolve(context.Background(), in, archs...)
	if err != nil {
		t.Fatal(err)
	}

	boolean := model.Encoding{Type: model.BoolEncoding}
	pointer := model.Encoding{Type: model.BoolPtrEncoding}
	fn := m.Functions["NSFlagEnabled"]
	if fn == nil || len(fn.Args) != 1 {
		t.Fatalf("NSFlagEnabled = %+v", fn)
	}
	if diff := cmp.Diff(boolean, fn.Ret.Type); diff != "" {
		t.Errorf("function return mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(pointer, fn.Args[0].Type); diff != "" {
		t.Errorf("function argument mismatch (-want +got):\n%s", diff)
	}

	class := m.Classes["NSFlags"]
	if class == nil {
		t.Fatal("NSFlags not resolved")
	}
	if isSet := class.Method("iisSet"); isSet == nil || isSet.Ret.Type != boolean {
		t.Errorf("isSet = %+v", isSet)
	}
	if get := class.Method("igetFlag:"); get == nil || len(get.Args) != 1 || get.Args[0].Type != pointer {
		t.Errorf("getFlag: = %+v", get)
	}
}

func TestResolveCFTypes(t *testing.T) {
	in, archs := fixture(t)
	m, err := Resolve(context.Background(), in, archs...)
	if err != nil {
		t.Fatal(err)
	}
	if c := m.CFTypes["CFBarRef"]; c == nil || c.GetTypeIDFunc != "CFBarGetTypeID" {
		t.Errorf("CFBarRef = %+v", c)
	}
	if c := m.CFTypes["CFMutableBarRef"]; c == nil || c.GetTypeIDFunc != "CFBarGetTypeID" {
		t.Errorf("CFMutableBarRef = %+v", c)
	}
	if c := m.CFTypes["CFStringRef"]; c == nil || c.TollFree != "__NSCFString" || c.GetTypeIDFunc != "" {
		t.Errorf("CFStringRef = %+v", c)
	}
	if _, ok := m.CFTypes["CFFooRef"]; ok {
		t.Error("CFFooRef kept as a CF type")
	}
	if diff := cmp.Diff(&model.Opaque{Name: "CFFooRef", Type: model.Encoding{Type: "^{__CFFoo=}"}}, m.Opaques["CFFooRef"]); diff != "" {
		t.Errorf("CFFooRef opaque mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveIgnoreTollFree(t *testing.T) {
	in, archs := fixture(t)
	in.Directives.CFTypes["CFStringRef"] = overrides.CFTypeDirective{IgnoreTollFree: true}
	m, err := Resolve(context.Background(), in, archs...)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Opaques["CFStringRef"]; !ok {
		t.Error("CFStringRef without toll-free class or type id function is not opaque")
	}
}

func TestResolveEnums(t *testing.T) {
	in, archs := fixture(t)
	m, err := Resolve(context.Background(), in, archs...)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]model.Value{
		"NSA": {Value: "0"},
		"NSB": {Value: "1"},
		"NSC": {Value: "16"},
		"NSD": {Value: "17"},
		"NSE": {Value: "17"},
		"NSF": {Value: "1633837924"},
		"NSH": {Value: "7", Value64: "8", BEValue64: "9"},
		// macros
		"NSAlpha":   {Value: "4"},
		"NSZeta":    {Value: "3"},
		"NSDouble":  {Value: "32"},
		"NSAllOnes": {Value: "4294967295", Value64: "18446744073709551615"},
	}
	got := make(map[string]model.Value)
	for name, e := range m.Enums {
		got[name] = e.Value
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("enum values mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveStringConstants(t *testing.T) {
	in, archs := fixture(t)
	m, err := Resolve(context.Background(), in, archs[0])
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]*model.StringConstant{
		"NSVersionString": {Name: "NSVersionString", Value: "1.0"},
		"NSKey":           {Name: "NSKey", Value: "key", NSString: true},
		"kCFKey":          {Name: "kCFKey", Value: "cfkey", NSString: true},
	}
	if diff := cmp.Diff(want, m.StringConstants); diff != "" {
		t.Errorf("string constants mismatch (-want +got):\n%s", diff)
	}
}

func TestResolvePrunesPrivateNames(t *testing.T) {
	in, archs := fixture(t)
	m, err := Resolve(context.Background(), in, archs...)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Functions["_NSPrivate"]; ok {
		t.Error("_NSPrivate survived pruning")
	}
	if _, ok := m.Functions["_NSAliased"]; !ok {
		t.Error("_NSAliased was pruned although an alias targets it")
	}
	if _, ok := m.Enums["_NSHidden"]; ok {
		t.Error("_NSHidden survived pruning")
	}
	if diff := cmp.Diff(&model.FunctionAlias{Name: "NSAliased", Original: "_NSAliased"}, m.FunctionAliases["NSAliased"]); diff != "" {
		t.Errorf("alias mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveOpaqueDirectives(t *testing.T) {
	in, archs := fixture(t)
	in.Directives.Structs["NSPoint"] = overrides.StructDirective{Opaque: true}
	in.Directives.Opaques["CFBarRef"] = overrides.OpaqueDirective{Type: "^{__CFBarOpaque=}"}
	in.Directives.Opaques["CFFooRef"] = overrides.OpaqueDirective{Ignore: true}
	m, err := Resolve(context.Background(), in, archs...)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Structs["NSPoint"]; ok {
		t.Error("opaque struct still a struct")
	}
	if o := m.Opaques["NSPoint"]; o == nil || o.Type.Type64 != "{_NSPoint=dd}" {
		t.Errorf("NSPoint opaque = %+v", o)
	}
	if _, ok := m.CFTypes["CFBarRef"]; ok {
		t.Error("CFBarRef still a CF type")
	}
	if o := m.Opaques["CFBarRef"]; o == nil || o.Type != (model.Encoding{Type: "^{__CFBarOpaque=}"}) {
		t.Errorf("CFBarRef opaque = %+v", o)
	}
	if _, ok := m.Opaques["CFFooRef"]; ok {
		t.Error("ignored opaque kept")
	}
}

func TestResolveOnlyIn(t *testing.T) {
	in, archs := fixture(t)
	in.Directives.Structs["NSPoint"] = overrides.StructDirective{OnlyIn: "64"}
	delete(archs[0].Table.Types, "NSPoint")
	m, err := Resolve(context.Background(), in, archs...)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(&model.Struct{Name: "NSPoint", Type: model.Encoding{Type64: "{_NSPoint=dd}"}, OnlyIn: "64"}, m.Structs["NSPoint"]); diff != "" {
		t.Errorf("NSPoint mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveSpecialTypes(t *testing.T) {
	in, archs := fixture(t)
	in.Directives.SpecialTypes = []string{"NSInteger"}
	in.Directives.SelTypes = []string{"- (void)sheetDidEnd:(id)sheet returnCode:(NSInteger)code;"}
	m, err := Resolve(context.Background(), in, archs...)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]model.Encoding{
		"- (void)sheetDidEnd:(id)sheet returnCode:(NSInteger)code;": {Type: "v@:@i", Type64: "v@:@q"},
	}
	if diff := cmp.Diff(want, m.SelTypes); diff != "" {
		t.Errorf("sel types mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(model.Encoding{Type: "i", Type64: "q"}, m.SpecialTypes["NSInteger"]); diff != "" {
		t.Errorf("special type mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(in *Input, archs []Arch)
		what  string
		entry string
	}{
		{
			"missing type",
			func(in *Input, archs []Arch) { delete(archs[1].Table.Types, "NSUInteger") },
			"type", "NSUInteger",
		},
		{
			"struct directive for unknown struct",
			func(in *Input, archs []Arch) { in.Directives.Structs["NSMissing"] = overrides.StructDirective{} },
			"struct", "NSMissing",
		},
		{
			"unknown special type",
			func(in *Input, archs []Arch) { in.Directives.SpecialTypes = []string{"NSWhatever *"} },
			"type", "NSWhatever *",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, archs := fixture(t)
			tt.setup(in, archs)
			_, err := Resolve(context.Background(), in, archs...)
			var rerr *Error
			if !errors.As(err, &rerr) {
				t.Fatalf("Resolve error = %v, want *Error", err)
			}
			if rerr.What != tt.what || rerr.Name != tt.entry {
				t.Errorf("error = %+v", rerr)
			}
		})
	}
}

func TestResolveArchValidation(t *testing.T) {
	in, archs := fixture(t)
	if _, err := Resolve(context.Background(), in); err == nil {
		t.Error("expected an error without architectures")
	}
	if _, err := Resolve(context.Background(), in, archs[1], archs[1]); err == nil {
		t.Error("expected an error for two 64-bit passes")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Resolve(ctx, in, archs...); !errors.Is(err, context.Canceled) {
		t.Errorf("Resolve with canceled context = %v", err)
	}
}

func TestEvalValue(t *testing.T) {
	env := map[string]constant.Value{"kBase": constant.MakeInt64(8)}
	tests := []struct {
		expr   string
		want   string
		want64 string // when it differs from want
	}{
		{expr: "42", want: "42"},
		{expr: "0x10", want: "16"},
		{expr: "010", want: "8"},
		{expr: "1UL << 31", want: "2147483648"},
		{expr: "1ul << 31", want: "2147483648"},
		{expr: "-1", want: "-1"},
		{expr: "~0", want: "-1"},
		{expr: "~0U", want: "4294967295"},
		{expr: "~0UL", want: "4294967295", want64: "18446744073709551615"},
		{expr: "~0ULL", want: "18446744073709551615"},
		{expr: "1 << 31", want: "-2147483648"},
		{expr: "0xFFFFFFFF", want: "4294967295"},
		{expr: "2147483648", want: "2147483648"},
		{expr: "-1 + 0U", want: "4294967295"},
		{expr: "(unsigned int)-1", want: "4294967295"},
		{expr: "(NSUInteger)-1", want: "4294967295", want64: "18446744073709551615"},
		{expr: "(NSInteger)0xFFFFFFFF", want: "-1", want64: "4294967295"},
		{expr: "(unsigned char)0x1FF", want: "255"},
		{expr: "kBase | 1", want: "9"},
		{expr: "(NSUInteger)kBase * 2", want: "16"},
		{expr: "2 * (int)kBase", want: "16"},
		{expr: "'ab'", want: "24930"},
		{expr: "7 / 2", want: "3"},
		{expr: "-7 / 2", want: "-3"},
		{expr: "1.5", want: "1.5"},
		{expr: "(int)2.9", want: "2"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			for _, arch64 := range []bool{false, true} {
				want := tt.want
				if arch64 && tt.want64 != "" {
					want = tt.want64
				}
				v, err := evalValue(tt.expr, env, arch64)
				if err != nil {
					t.Fatalf("evalValue(%q, 64-bit %v): %v", tt.expr, arch64, err)
				}
				if got := formatNumber(v); got != want {
					t.Errorf("evalValue(%q, 64-bit %v) = %s, want %s", tt.expr, arch64, got, want)
				}
			}
		})
	}

	for _, bad := range []string{"unknown", "1 / 0", "foo(1)", `"str"`, "1.5 | 1", "1 << 32", "1UUL", "(int)"} {
		if _, err := evalValue(bad, env, true); err == nil {
			t.Errorf("evalValue(%q) succeeded", bad)
		}
	}
	if _, err := evalValue("1UL << 63", env, false); err == nil {
		t.Error("63-bit shift of a 32-bit long succeeded")
	}
	if v, err := evalValue("1UL << 63", env, true); err != nil || formatNumber(v) != "9223372036854775808" {
		t.Errorf("evalValue(1UL << 63, 64-bit) = %v, %v", v, err)
	}
}
