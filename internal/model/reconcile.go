package model

import (
	"maps"
	"slices"
)

// Merge combines e, taken as the 32-bit encoding, with o, taken as the
// 64-bit one. Equal encodings collapse to Type. Merging an encoding with
// itself returns it unchanged.
func (e Encoding) Merge(o Encoding) Encoding {
	t32, t64 := e.Get(false), o.Get(true)
	switch {
	case t32 == "":
		return Encoding{Type64: t64}
	case t64 == "" || t64 == t32:
		return Encoding{Type: t32}
	default:
		return Encoding{Type: t32, Type64: t64}
	}
}

// Merge combines v, taken as the 32-bit value, with o, taken as the 64-bit
// one. Each of the four architecture and byte order combinations is kept
// only when Get could not infer it from the others.
func (v Value) Merge(o Value) Value {
	return collapse(v.Get(false, false), v.Get(false, true), o.Get(true, false), o.Get(true, true))
}

// NewValue builds a single-architecture value from its little and big
// endian forms.
func NewValue(le, be string) Value {
	v := Value{Value: le}
	if be != "" && be != le {
		v.BEValue = be
	}
	return v
}

func collapse(le32, be32, le64, be64 string) Value {
	if le32 == "" {
		v := Value{Value64: le64}
		if be64 != le64 {
			v.BEValue64 = be64
		}
		return v
	}
	v := NewValue(le32, be32)
	if le64 == "" {
		return v
	}
	if le64 != le32 {
		v.Value64 = le64
	}
	if v.Get(true, true) != be64 {
		v.BEValue64 = be64
	}
	return v
}

// Reconcile combines the results of a 32-bit and a 64-bit resolver pass into
// one model. Either may be nil when only one architecture ran. Entities
// present in only one pass are kept with that pass's encodings.
// Reconciling a model with itself yields the same encodings and values.
func Reconcile(m32, m64 *Model) *Model {
	if m32 == nil {
		m32 = New()
	}
	if m64 == nil {
		m64 = New()
	}
	out := New()

	for _, name := range union(m32.Structs, m64.Structs) {
		a, b := m32.Structs[name], m64.Structs[name]
		s := *pick(a, b)
		s.Type = typeOf(a, b, func(s *Struct) Encoding { return s.Type })
		out.Structs[name] = &s
	}
	for _, name := range union(m32.CFTypes, m64.CFTypes) {
		a, b := m32.CFTypes[name], m64.CFTypes[name]
		c := *pick(a, b)
		c.Type = typeOf(a, b, func(c *CFType) Encoding { return c.Type })
		out.CFTypes[name] = &c
	}
	for _, name := range union(m32.Opaques, m64.Opaques) {
		a, b := m32.Opaques[name], m64.Opaques[name]
		o := *pick(a, b)
		o.Type = typeOf(a, b, func(o *Opaque) Encoding { return o.Type })
		out.Opaques[name] = &o
	}
	for _, name := range union(m32.Constants, m64.Constants) {
		a, b := m32.Constants[name], m64.Constants[name]
		c := *pick(a, b)
		c.Type = typeOf(a, b, func(c *Constant) Encoding { return c.Type })
		c.FuncPtr = mergeCallable(funcPtr(a), funcPtr(b))
		c.Attrs = maps.Clone(c.Attrs)
		out.Constants[name] = &c
	}
	for _, name := range union(m32.StringConstants, m64.StringConstants) {
		s := *pick(m32.StringConstants[name], m64.StringConstants[name])
		out.StringConstants[name] = &s
	}
	for _, name := range union(m32.Enums, m64.Enums) {
		a, b := m32.Enums[name], m64.Enums[name]
		e := *pick(a, b)
		var v32, v64 Value
		if a != nil {
			v32 = a.Value
		}
		if b != nil {
			v64 = b.Value
		}
		e.Value = v32.Merge(v64)
		e.Attrs = maps.Clone(e.Attrs)
		out.Enums[name] = &e
	}
	for _, name := range union(m32.Functions, m64.Functions) {
		a, b := m32.Functions[name], m64.Functions[name]
		f := *pick(a, b)
		var c32, c64 *Callable
		if a != nil {
			c32 = &a.Callable
		}
		if b != nil {
			c64 = &b.Callable
		}
		f.Callable = *mergeCallable(c32, c64)
		f.Attrs = maps.Clone(f.Attrs)
		out.Functions[name] = &f
	}
	for _, name := range union(m32.FunctionAliases, m64.FunctionAliases) {
		fa := *pick(m32.FunctionAliases[name], m64.FunctionAliases[name])
		out.FunctionAliases[name] = &fa
	}
	for _, name := range union(m32.Classes, m64.Classes) {
		out.Classes[name] = mergeClass(m32.Classes[name], m64.Classes[name])
	}
	for _, name := range union(m32.InformalProtocols, m64.InformalProtocols) {
		out.InformalProtocols[name] = mergeProtocol(m32.InformalProtocols[name], m64.InformalProtocols[name])
	}
	for _, name := range union(m32.SpecialTypes, m64.SpecialTypes) {
		out.SpecialTypes[name] = m32.SpecialTypes[name].Merge(m64.SpecialTypes[name])
	}
	for _, name := range union(m32.SelTypes, m64.SelTypes) {
		out.SelTypes[name] = m32.SelTypes[name].Merge(m64.SelTypes[name])
	}
	out.DependsOn = appendMissing(slices.Clone(m32.DependsOn), m64.DependsOn)
	out.ExternalCFTypes = appendMissing(slices.Clone(m32.ExternalCFTypes), m64.ExternalCFTypes)
	return out
}

func appendMissing(dst, src []string) []string {
	for _, s := range src {
		if !slices.Contains(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}

func union[V any](a, b map[string]V) []string {
	names := Names(a)
	for _, n := range Names(b) {
		if _, ok := a[n]; !ok {
			names = append(names, n)
		}
	}
	return names
}

func pick[T any](a, b *T) *T {
	if a != nil {
		return a
	}
	return b
}

func typeOf[T any](a, b *T, get func(*T) Encoding) Encoding {
	var e32, e64 Encoding
	if a != nil {
		e32 = get(a)
	}
	if b != nil {
		e64 = get(b)
	}
	return e32.Merge(e64)
}

func funcPtr(c *Constant) *Callable {
	if c == nil {
		return nil
	}
	return c.FuncPtr
}

func mergeCallable(a, b *Callable) *Callable {
	base := pick(a, b)
	if base == nil {
		return nil
	}
	out := &Callable{Variadic: base.Variadic}
	for i := range base.Args {
		var a32, a64 *Arg
		if a != nil && i < len(a.Args) {
			a32 = a.Args[i]
		}
		if b != nil && i < len(b.Args) {
			a64 = b.Args[i]
		}
		out.Args = append(out.Args, mergeArg(a32, a64))
	}
	var r32, r64 *Arg
	if a != nil {
		r32 = a.Ret
	}
	if b != nil {
		r64 = b.Ret
	}
	if r32 != nil || r64 != nil {
		out.Ret = mergeArg(r32, r64)
	}
	return out
}

func mergeArg(a, b *Arg) *Arg {
	out := *pick(a, b)
	out.Type = typeOf(a, b, func(a *Arg) Encoding { return a.Type })
	out.SelOfType = typeOf(a, b, func(a *Arg) Encoding { return a.SelOfType })
	var f32, f64 *Callable
	if a != nil {
		f32 = a.FuncPtr
	}
	if b != nil {
		f64 = b.FuncPtr
	}
	out.FuncPtr = mergeCallable(f32, f64)
	out.Attrs = maps.Clone(out.Attrs)
	return &out
}

func mergeClass(a, b *Class) *Class {
	base := pick(a, b)
	out := &Class{Name: base.Name}
	seen := make(map[string]bool)
	add := func(m *Method) {
		key := m.Key()
		if seen[key] {
			return
		}
		seen[key] = true
		var m32, m64 *Method
		if a != nil {
			m32 = a.Method(key)
		}
		if b != nil {
			m64 = b.Method(key)
		}
		merged := *pick(m32, m64)
		var c32, c64 *Callable
		if m32 != nil {
			c32 = &m32.Callable
		}
		if m64 != nil {
			c64 = &m64.Callable
		}
		merged.Callable = *mergeCallable(c32, c64)
		merged.Attrs = maps.Clone(merged.Attrs)
		out.Methods = append(out.Methods, &merged)
	}
	for _, c := range []*Class{a, b} {
		if c == nil {
			continue
		}
		for _, m := range c.Methods {
			add(m)
		}
	}
	return out
}

func mergeProtocol(a, b *InformalProtocol) *InformalProtocol {
	base := pick(a, b)
	out := &InformalProtocol{Name: base.Name}
	find := func(p *InformalProtocol, m *ProtocolMethod) *ProtocolMethod {
		if p == nil {
			return nil
		}
		for _, pm := range p.Methods {
			if pm.Selector == m.Selector && pm.ClassMethod == m.ClassMethod {
				return pm
			}
		}
		return nil
	}
	for _, p := range []*InformalProtocol{a, b} {
		if p == nil {
			continue
		}
		for _, m := range p.Methods {
			if find(out, m) != nil {
				continue
			}
			m32, m64 := find(a, m), find(b, m)
			pm := *pick(m32, m64)
			pm.Type = typeOf(m32, m64, func(m *ProtocolMethod) Encoding { return m.Type })
			out.Methods = append(out.Methods, &pm)
		}
	}
	return out
}
