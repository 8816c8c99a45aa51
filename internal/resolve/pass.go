package resolve

import (
	"context"
	"fmt"
	"go/constant"
	"go/token"
	"log"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/dejo1307/bridgemeta/internal/decl"
	"github.com/dejo1307/bridgemeta/internal/extract"
	"github.com/dejo1307/bridgemeta/internal/model"
	"github.com/dejo1307/bridgemeta/internal/oracle"
)

// maxTypedefDepth bounds how many typedefs encode follows when the oracle
// table has no entry for a type.
const maxTypedefDepth = 8

// pass resolves the declarations of one architecture. It writes only to
// its own model.
type pass struct {
	in     *Input
	table  *oracle.Table
	arch64 bool
	fp     *decl.FuncPointerCache
	m      *model.Model

	defines   map[string]string
	enums     []extract.EnumBody
	structs   []string
	cftypes   []string
	fpTypes   map[string]string
	typedefs  map[string]string
	constants []decl.Var
	functions []*decl.Func
	funcNames map[string]bool
	classes   map[string][]*decl.Method
	protocols map[string][]*decl.Method
}

func newPass(in *Input, a *Arch, cache *decl.FuncPointerCache) *pass {
	p := &pass{
		in:        in,
		table:     a.Table,
		arch64:    a.Table.Is64(),
		fp:        cache,
		m:         model.New(),
		defines:   make(map[string]string),
		fpTypes:   make(map[string]string),
		typedefs:  make(map[string]string),
		funcNames: make(map[string]bool),
		classes:   make(map[string][]*decl.Method),
		protocols: make(map[string][]*decl.Method),
	}
	p.collect(a.Results)
	return p
}

// collect merges the per-header results. The first header to declare a
// name wins.
func (p *pass) collect(results []*extract.Result) {
	seenStructs := make(map[string]bool)
	seenCFTypes := make(map[string]bool)
	seenConsts := make(map[string]bool)
	for _, r := range results {
		addMissing(p.defines, r.Defines)
		addMissing(p.fpTypes, r.FuncPointerTypes)
		addMissing(p.typedefs, r.Typedefs)
		p.enums = append(p.enums, r.Enums...)
		for _, name := range r.StructNames {
			if !seenStructs[name] {
				seenStructs[name] = true
				p.structs = append(p.structs, name)
			}
		}
		for _, name := range r.CFTypeNames {
			if !seenCFTypes[name] {
				seenCFTypes[name] = true
				p.cftypes = append(p.cftypes, name)
			}
		}
		for _, c := range r.Constants {
			if !seenConsts[c.Name] {
				seenConsts[c.Name] = true
				p.constants = append(p.constants, c)
			}
		}
		for _, f := range slices.Concat(r.Functions, r.InlineFunctions) {
			if !p.funcNames[f.Name()] {
				p.funcNames[f.Name()] = true
				p.functions = append(p.functions, f)
			}
		}
		for name, methods := range r.Classes {
			p.classes[name] = appendMethods(p.classes[name], methods)
		}
		for name, methods := range r.InformalProtocols {
			p.protocols[name] = appendMethods(p.protocols[name], methods)
		}
	}
}

func addMissing(dst, src map[string]string) {
	for k, v := range src {
		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
}

func appendMethods(dst, src []*decl.Method) []*decl.Method {
	for _, m := range src {
		if !slices.ContainsFunc(dst, func(d *decl.Method) bool { return d.Key() == m.Key() }) {
			dst = append(dst, m)
		}
	}
	return dst
}

func (p *pass) run(ctx context.Context) (*model.Model, error) {
	steps := []struct {
		name string
		run  func() error
	}{
		{"structs", p.resolveStructs},
		{"cftypes", p.resolveCFTypes},
		{"constants", p.resolveConstants},
		{"enums", p.resolveEnums},
		{"macros", p.resolveMacros},
		{"functions", p.resolveFunctions},
		{"classes", p.resolveClasses},
		{"informal_protocols", p.resolveProtocols},
		{"special_types", p.resolveSpecialTypes},
		{"opaques", p.applyOpaques},
		{"prune", p.prune},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.run(); err != nil {
			return nil, err
		}
	}
	p.m.ExternalCFTypes = slices.Clone(p.in.DependencyCFTypes)
	p.m.DependsOn = slices.Clone(p.in.DependsOn)
	log.Printf("[resolve] %s: %d structs, %d cftypes, %d opaques, %d enums, %d functions, %d classes",
		p.table.Arch, len(p.m.Structs), len(p.m.CFTypes), len(p.m.Opaques), len(p.m.Enums), len(p.m.Functions), len(p.m.Classes))
	return p.m, nil
}

func (p *pass) fail(what, name, where string) error {
	return &Error{Arch: p.table.Arch, What: what, Name: name, Where: where}
}

// special returns the fixed encodings of the boolean types, which do not
// depend on the architecture.
func special(stripped string) (string, bool) {
	switch strings.ReplaceAll(stripped, " ", "") {
	case "BOOL", "Boolean":
		return model.BoolEncoding, true
	case "BOOL*", "Boolean*":
		return model.BoolPtrEncoding, true
	}
	return "", false
}

// encode returns the encoding of v, following typedefs when the oracle
// table has no entry for the declared type itself.
func (p *pass) encode(v decl.Var, where string) (string, error) {
	t := v.Stripped
	for range maxTypedefDepth {
		if enc, ok := special(t); ok {
			return enc, nil
		}
		if enc, ok := p.table.Encoding(t); ok {
			return enc, nil
		}
		next, ok := p.typedefs[t]
		if !ok {
			break
		}
		s, err := decl.StripType(next)
		if err != nil || s == t {
			break
		}
		t = s
	}
	return "", p.fail("type", v.Stripped, where)
}

func (p *pass) arg(v decl.Var, where string) (*model.Arg, error) {
	enc, err := p.encode(v, where)
	if err != nil {
		return nil, err
	}
	a := &model.Arg{
		Name:         v.Name,
		DeclaredType: v.DeclaredType(),
		Const:        v.IsConst(),
		Type:         model.Encoding{Type: enc},
	}
	f, err := p.fp.FunctionPointer(v, p.fpTypes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", where, err)
	}
	if f != nil {
		if a.FuncPtr, err = p.callable(f, "function pointer of "+where); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (p *pass) callable(f *decl.Func, where string) (*model.Callable, error) {
	c := &model.Callable{Variadic: f.Variadic}
	for i, v := range f.Args {
		a, err := p.arg(v, fmt.Sprintf("argument %d of %s", i, where))
		if err != nil {
			return nil, err
		}
		c.Args = append(c.Args, a)
	}
	ret := f.Ret
	ret.Name = ""
	r, err := p.arg(ret, "return value of "+where)
	if err != nil {
		return nil, err
	}
	c.Ret = r
	return c, nil
}

// methodEncoding composes a method's signature encoding: return type, the
// implicit receiver and selector, then the arguments.
func (p *pass) methodEncoding(m *decl.Method, where string) (string, error) {
	var b strings.Builder
	enc, err := p.encode(m.Ret, "return value of "+where)
	if err != nil {
		return "", err
	}
	b.WriteString(enc)
	b.WriteString("@:")
	for i, v := range m.Args {
		enc, err := p.encode(v, fmt.Sprintf("argument %d of %s", i, where))
		if err != nil {
			return "", err
		}
		b.WriteString(enc)
	}
	return b.String(), nil
}

// appliesTo reports whether an only_in restriction admits this pass.
func (p *pass) appliesTo(onlyIn string) bool {
	switch onlyIn {
	case "", p.table.Arch:
		return true
	case "64", "64-bit":
		return p.arch64
	case "32", "32-bit":
		return !p.arch64
	}
	return false
}

func (p *pass) resolveStructs() error {
	seen := make(map[string]bool)
	for _, name := range p.structs {
		seen[name] = true
		dir := p.in.Directives.Structs[name]
		if !p.appliesTo(dir.OnlyIn) {
			continue
		}
		enc, ok := p.table.Encoding(name)
		if !ok {
			return p.fail("type", name, "struct "+name)
		}
		if dir.Opaque {
			p.m.Opaques[name] = &model.Opaque{Name: name, Type: model.Encoding{Type: enc}}
			continue
		}
		p.m.Structs[name] = &model.Struct{Name: name, Type: model.Encoding{Type: enc}, OnlyIn: dir.OnlyIn}
	}
	for _, name := range model.Names(p.in.Directives.Structs) {
		if !seen[name] {
			return p.fail("struct", name, "")
		}
	}
	return nil
}

// typeIDFunc finds the CFGetTypeID-style function of a CF type among the
// extracted functions: FooRef is answered by FooGetTypeID, and
// FooMutableBarRef falls back to FooBarGetTypeID.
func (p *pass) typeIDFunc(name string) string {
	base := strings.TrimSuffix(name, "Ref")
	for _, candidate := range []string{base + "GetTypeID", strings.Replace(base, "Mutable", "", 1) + "GetTypeID"} {
		if p.funcNames[candidate] {
			return candidate
		}
	}
	return ""
}

// tollFree returns the Objective-C class a CF type bridges to.
func (p *pass) tollFree(name string) string {
	cls := p.in.Runtime.TollFree[name]
	if cls == "NSCFType" {
		return ""
	}
	return cls
}

func (p *pass) resolveCFTypes() error {
	seen := make(map[string]bool)
	for _, name := range p.cftypes {
		seen[name] = true
		dir := p.in.Directives.CFTypes[name]
		enc, ok := p.table.Encoding(name)
		if !ok {
			enc = "^{" + name + "=}"
		}
		c := &model.CFType{
			Name:           name,
			Type:           model.Encoding{Type: enc},
			GetTypeIDFunc:  dir.GetTypeIDFunc,
			IgnoreTollFree: dir.IgnoreTollFree,
		}
		if c.GetTypeIDFunc == "" {
			c.GetTypeIDFunc = p.typeIDFunc(name)
		}
		if !c.IgnoreTollFree {
			c.TollFree = p.tollFree(name)
		}
		if c.GetTypeIDFunc == "" && c.TollFree == "" {
			p.m.Opaques[name] = &model.Opaque{Name: name, Type: c.Type}
			continue
		}
		p.m.CFTypes[name] = c
	}
	for _, name := range model.Names(p.in.Directives.CFTypes) {
		if !seen[name] {
			log.Printf("[resolve] %s: cftype %s named by an override was not found", p.table.Arch, name)
		}
	}
	return nil
}

func (p *pass) resolveConstants() error {
	for _, v := range p.constants {
		a, err := p.arg(v, "constant "+v.Name)
		if err != nil {
			return err
		}
		p.m.Constants[v.Name] = &model.Constant{
			Name:         v.Name,
			DeclaredType: a.DeclaredType,
			Const:        a.Const,
			Type:         a.Type,
			FuncPtr:      a.FuncPtr,
		}
	}
	return nil
}

// value resolves the numeric value of an enum member or macro: the oracle
// table first, then the runtime oracle, then the initializer expression.
// The second result is nil when the value cannot take part in further
// evaluation.
func (p *pass) value(name, expr string, env map[string]constant.Value) (model.Value, constant.Value, bool) {
	if v, ok := p.table.Value(name); ok {
		num, _ := parseNumber(v.LE)
		return model.NewValue(v.LE, v.BE), num, true
	}
	if s, ok := p.in.Runtime.MacroValues[name]; ok {
		num, _ := parseNumber(s)
		return model.NewValue(s, ""), num, true
	}
	if expr == "" {
		return model.Value{}, nil, false
	}
	num, err := evalValue(expr, env, p.arch64)
	if err != nil {
		return model.Value{}, nil, false
	}
	return model.NewValue(formatNumber(num), ""), num, true
}

func (p *pass) env() map[string]constant.Value {
	env := make(map[string]constant.Value, len(p.m.Enums))
	for name, e := range p.m.Enums {
		if num, ok := parseNumber(e.Value.Value); ok {
			env[name] = num
		}
	}
	return env
}

func (p *pass) resolveEnums() error {
	env := make(map[string]constant.Value)
	skipped := 0
	for _, body := range p.enums {
		// next is the value a member without initializer takes; it is
		// unknown once a member could not be resolved.
		next := constant.MakeInt64(0)
		for _, e := range body.Members {
			val, num, ok := p.value(e.Name, e.Expr, env)
			if !ok && e.Expr == "" && next != nil {
				val, num, ok = model.NewValue(formatNumber(next), ""), next, true
			}
			if !ok {
				log.Printf("[resolve] %s: no value for enum member %s = %s", p.table.Arch, e.Name, e.Expr)
				skipped++
				next = nil
				continue
			}
			next = nil
			if num != nil {
				env[e.Name] = num
				if num.Kind() == constant.Int {
					next = constant.BinaryOp(num, token.ADD, constant.MakeInt64(1))
				}
			}
			p.m.Enums[e.Name] = &model.Enum{Name: e.Name, Value: val}
		}
	}
	if skipped > 0 {
		log.Printf("[resolve] %s: %d enum members left without a value", p.table.Arch, skipped)
	}
	return nil
}

var (
	cStringRe  = regexp.MustCompile(`^"(.*)"$`)
	nsStringRe = regexp.MustCompile(`^@"(.*)"$`)
	cfStringRe = regexp.MustCompile(`^CFSTR\(\s*"(.*)"\s*\)$`)
)

// resolveMacros turns simple #defines into string constants or numeric
// enum entries. Macros may refer to each other in any order.
func (p *pass) resolveMacros() error {
	var pending []string
	for _, name := range model.Names(p.defines) {
		if p.in.Directives.DefineIgnored(name) {
			continue
		}
		if _, ok := p.m.Enums[name]; ok {
			continue
		}
		body := strings.TrimSpace(p.defines[name])
		if m := nsStringRe.FindStringSubmatch(body); m != nil {
			p.m.StringConstants[name] = &model.StringConstant{Name: name, Value: m[1], NSString: true}
			continue
		}
		if m := cfStringRe.FindStringSubmatch(body); m != nil {
			p.m.StringConstants[name] = &model.StringConstant{Name: name, Value: m[1], NSString: true}
			continue
		}
		if m := cStringRe.FindStringSubmatch(body); m != nil {
			p.m.StringConstants[name] = &model.StringConstant{Name: name, Value: m[1]}
			continue
		}
		pending = append(pending, name)
	}

	env := p.env()
	for progress := true; progress && len(pending) > 0; {
		progress = false
		var rest []string
		for _, name := range pending {
			val, num, ok := p.value(name, p.defines[name], env)
			if !ok {
				rest = append(rest, name)
				continue
			}
			if num != nil {
				env[name] = num
			}
			p.m.Enums[name] = &model.Enum{Name: name, Value: val}
			progress = true
		}
		pending = rest
	}
	if len(pending) > 0 {
		log.Printf("[resolve] %s: %d macros are not numeric constants", p.table.Arch, len(pending))
	}
	return nil
}

func (p *pass) resolveFunctions() error {
	for _, f := range p.functions {
		c, err := p.callable(f, "function "+f.Name())
		if err != nil {
			return err
		}
		p.m.Functions[f.Name()] = &model.Function{Name: f.Name(), Inline: f.Inline, Callable: *c}
	}
	for original, alias := range p.in.Directives.FuncAliases {
		p.m.FunctionAliases[alias] = &model.FunctionAlias{Name: alias, Original: original}
	}
	return nil
}

func methodWhere(class string, m *decl.Method) string {
	kind := "-"
	if m.ClassMethod {
		kind = "+"
	}
	return fmt.Sprintf("method %s[%s %s]", kind, class, m.Selector)
}

func (p *pass) resolveClasses() error {
	for _, name := range model.Names(p.classes) {
		class := &model.Class{Name: name}
		for _, dm := range p.classes[name] {
			c, err := p.callable(&dm.Func, methodWhere(name, dm))
			if err != nil {
				return err
			}
			class.Methods = append(class.Methods, &model.Method{
				Selector:    dm.Selector,
				ClassMethod: dm.ClassMethod,
				Callable:    *c,
			})
		}
		p.m.Classes[name] = class
	}
	return nil
}

func (p *pass) resolveProtocols() error {
	for _, name := range model.Names(p.protocols) {
		proto := &model.InformalProtocol{Name: name}
		for _, dm := range p.protocols[name] {
			enc, err := p.methodEncoding(dm, methodWhere(name, dm))
			if err != nil {
				return err
			}
			proto.Methods = append(proto.Methods, &model.ProtocolMethod{
				Selector:    dm.Selector,
				ClassMethod: dm.ClassMethod,
				Type:        model.Encoding{Type: enc},
			})
		}
		p.m.InformalProtocols[name] = proto
	}
	return nil
}

// resolveSpecialTypes encodes the types and method prototypes that
// override documents name in "type" and "sel_of_type" attributes.
func (p *pass) resolveSpecialTypes() error {
	for _, t := range p.in.Directives.SpecialTypes {
		stripped, err := decl.StripType(t)
		if err != nil {
			return p.fail("type", t, "override type attribute")
		}
		enc, err := p.encode(decl.Var{Type: t, Stripped: stripped}, "override type attribute")
		if err != nil {
			return err
		}
		p.m.SpecialTypes[t] = model.Encoding{Type: enc}
	}
	for _, proto := range p.in.Directives.SelTypes {
		m, err := extract.ParseMethod(proto)
		if err != nil {
			return fmt.Errorf("sel_of_type %q: %w", proto, err)
		}
		if m == nil {
			return p.fail("method type", proto, "override sel_of_type attribute")
		}
		enc, err := p.methodEncoding(m, "sel_of_type "+proto)
		if err != nil {
			return err
		}
		p.m.SelTypes[proto] = model.Encoding{Type: enc}
	}
	return nil
}

// applyOpaques applies the opaque declarations of the override documents:
// ignored ones are dropped, typed ones replace any struct or CF type of the
// same name.
func (p *pass) applyOpaques() error {
	for _, name := range model.Names(p.in.Directives.Opaques) {
		dir := p.in.Directives.Opaques[name]
		switch {
		case dir.Ignore:
			delete(p.m.Opaques, name)
		case dir.Type != "":
			p.m.Opaques[name] = &model.Opaque{Name: name, Type: model.Encoding{Type: dir.Type}}
			delete(p.m.Structs, name)
			delete(p.m.CFTypes, name)
		}
	}
	return nil
}

func private(name string) bool {
	return strings.HasPrefix(name, "_")
}

func prune[V any](m map[string]V, keep func(string) bool) int {
	n := len(m)
	maps.DeleteFunc(m, func(name string, _ V) bool { return private(name) && !keep(name) })
	return n - len(m)
}

// prune drops private names, except functions an alias points at.
func (p *pass) prune() error {
	never := func(string) bool { return false }
	n := prune(p.m.Structs, never) +
		prune(p.m.CFTypes, never) +
		prune(p.m.Opaques, never) +
		prune(p.m.Constants, never) +
		prune(p.m.StringConstants, never) +
		prune(p.m.Enums, never) +
		prune(p.m.Classes, never) +
		prune(p.m.InformalProtocols, never) +
		prune(p.m.Functions, p.in.Directives.Aliased)
	if n > 0 {
		log.Printf("[resolve] %s: dropped %d private names", p.table.Arch, n)
	}
	return nil
}
