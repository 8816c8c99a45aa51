package facts

import (
	"github.com/dejo1307/bridgemeta/internal/model"
)

// FromModel flattens m into facts, grouped by kind and sorted by name
// within each kind.
func FromModel(m *model.Model) []Fact {
	var ff []Fact
	for _, name := range model.Names(m.Structs) {
		s := m.Structs[name]
		ff = append(ff, Fact{Kind: KindStruct, Name: name, Props: withEncoding(map[string]any{"only_in": s.OnlyIn}, s.Type)})
	}
	for _, name := range model.Names(m.CFTypes) {
		c := m.CFTypes[name]
		f := Fact{Kind: KindCFType, Name: name, Props: withEncoding(map[string]any{"gettypeid_func": c.GetTypeIDFunc}, c.Type)}
		if c.TollFree != "" {
			f.Relations = []Relation{{Kind: RelTollFree, Target: c.TollFree}}
		}
		ff = append(ff, f)
	}
	for _, name := range model.Names(m.Opaques) {
		ff = append(ff, Fact{Kind: KindOpaque, Name: name, Props: withEncoding(map[string]any{}, m.Opaques[name].Type)})
	}
	for _, name := range model.Names(m.Constants) {
		c := m.Constants[name]
		props := withEncoding(map[string]any{"declared_type": c.DeclaredType}, c.Type)
		if c.FuncPtr != nil {
			props["function_pointer"] = true
		}
		addAttrs(props, c.Attrs)
		ff = append(ff, Fact{Kind: KindConstant, Name: name, Props: props})
	}
	for _, name := range model.Names(m.StringConstants) {
		s := m.StringConstants[name]
		ff = append(ff, Fact{Kind: KindStringConstant, Name: name, Props: map[string]any{"value": s.Value, "nsstring": s.NSString}})
	}
	for _, name := range model.Names(m.Enums) {
		e := m.Enums[name]
		props := map[string]any{}
		setNonEmpty(props, "value", e.Value.Value)
		setNonEmpty(props, "be_value", e.Value.BEValue)
		setNonEmpty(props, "value64", e.Value.Value64)
		setNonEmpty(props, "be_value64", e.Value.BEValue64)
		setNonEmpty(props, "suggestion", e.Suggestion)
		if e.Ignore {
			props["ignore"] = true
		}
		addAttrs(props, e.Attrs)
		ff = append(ff, Fact{Kind: KindEnum, Name: name, Props: props})
	}
	for _, name := range model.Names(m.Functions) {
		f := m.Functions[name]
		props := callableProps(&f.Callable)
		if f.Inline {
			props["inline"] = true
		}
		addAttrs(props, f.Attrs)
		ff = append(ff, Fact{Kind: KindFunction, Name: name, Props: props})
	}
	for _, name := range model.Names(m.FunctionAliases) {
		a := m.FunctionAliases[name]
		ff = append(ff, Fact{Kind: KindFunctionAlias, Name: name,
			Relations: []Relation{{Kind: RelAliases, Target: a.Original}}})
	}
	for _, name := range model.Names(m.Classes) {
		c := m.Classes[name]
		ff = append(ff, Fact{Kind: KindClass, Name: name, Props: map[string]any{"methods": len(c.Methods)}})
		for _, meth := range c.Methods {
			props := callableProps(&meth.Callable)
			props["class_method"] = meth.ClassMethod
			addAttrs(props, meth.Attrs)
			ff = append(ff, Fact{Kind: KindMethod, Name: meth.Selector, Owner: name, Props: props,
				Relations: []Relation{{Kind: RelMemberOf, Target: name}}})
		}
	}
	for _, name := range model.Names(m.InformalProtocols) {
		p := m.InformalProtocols[name]
		ff = append(ff, Fact{Kind: KindInformalProtocol, Name: name, Props: map[string]any{"methods": len(p.Methods)}})
		for _, meth := range p.Methods {
			props := withEncoding(map[string]any{"class_method": meth.ClassMethod}, meth.Type)
			ff = append(ff, Fact{Kind: KindMethod, Name: meth.Selector, Owner: name, Props: props,
				Relations: []Relation{{Kind: RelMemberOf, Target: name}}})
		}
	}
	return ff
}

func withEncoding(props map[string]any, e model.Encoding) map[string]any {
	for k, v := range props {
		if v == "" {
			delete(props, k)
		}
	}
	setNonEmpty(props, "type", e.Type)
	setNonEmpty(props, "type64", e.Type64)
	return props
}

func callableProps(c *model.Callable) map[string]any {
	props := map[string]any{"args": len(c.Args)}
	if c.Variadic {
		props["variadic"] = true
	}
	if c.Ret != nil {
		setNonEmpty(props, "retval", c.Ret.Type.Type)
		setNonEmpty(props, "retval64", c.Ret.Type.Type64)
	}
	return props
}

func setNonEmpty(props map[string]any, key, value string) {
	if value != "" {
		props[key] = value
	}
}

// addAttrs copies override attributes into props without replacing the
// resolved properties.
func addAttrs(props map[string]any, attrs map[string]string) {
	for k, v := range attrs {
		if _, ok := props[k]; !ok {
			props[k] = v
		}
	}
}
