// Package model holds the resolved entity model: what the resolver produces,
// the merge engine edits and the renderers serialize.
package model

import (
	"maps"
	"slices"
)

// Encoding is a resolved type encoding. Type64 is set only when the 64-bit
// encoding differs from the 32-bit one, or when only a 64-bit pass ran.
type Encoding struct {
	Type   string `json:"type,omitzero"`
	Type64 string `json:"type64,omitzero"`
}

// IsZero reports whether nothing was resolved.
func (e Encoding) IsZero() bool {
	return e.Type == "" && e.Type64 == ""
}

// Get returns the encoding for one architecture.
func (e Encoding) Get(arch64 bool) string {
	if arch64 && e.Type64 != "" {
		return e.Type64
	}
	return e.Type
}

// Value is a resolved numeric value. Fields other than Value are set only
// when they differ from what Get would otherwise infer.
type Value struct {
	Value     string `json:"value,omitzero"`
	BEValue   string `json:"be_value,omitzero"`
	Value64   string `json:"value64,omitzero"`
	BEValue64 string `json:"be_value64,omitzero"`
}

// IsZero reports whether no value is known.
func (v Value) IsZero() bool {
	return v == Value{}
}

// Get returns the value for one architecture and byte order.
func (v Value) Get(arch64, bigEndian bool) string {
	switch {
	case !arch64 && !bigEndian:
		return v.Value
	case !arch64:
		return first(v.BEValue, v.Value)
	case !bigEndian:
		return first(v.Value64, v.Value)
	case v.BEValue64 != "":
		return v.BEValue64
	case v.Value64 != "":
		return v.Value64
	default:
		return first(v.BEValue, v.Value)
	}
}

func first(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

// Arg is a resolved argument or return value.
type Arg struct {
	Name         string    `json:"name,omitzero"`
	DeclaredType string    `json:"declared_type,omitzero"`
	Const        bool      `json:"const,omitzero"`
	Type         Encoding  `json:"type,omitzero"`
	FuncPtr      *Callable `json:"function_pointer,omitzero"`
	// SelOfType is the encoding of the method a selector argument must
	// name, set by an override.
	SelOfType Encoding `json:"sel_of_type,omitzero"`
	// Attrs are plain attributes set by overrides, such as type_modifier.
	Attrs map[string]string `json:"attrs,omitempty"`
	// TypeOverride marks Type as replaced by an override.
	TypeOverride bool `json:"type_override,omitzero"`
	// Override marks any override-supplied attribute.
	Override bool `json:"override,omitzero"`
}

// IsPointer reports whether the argument's declared type is a pointer.
func (a *Arg) IsPointer() bool {
	t := a.Type.Get(false)
	if t == "" {
		t = a.Type.Type64
	}
	return len(t) > 0 && t[0] == '^'
}

// IsBool reports whether the argument resolves to the boolean encoding.
func (a *Arg) IsBool() bool {
	return a.Type.Type == BoolEncoding || a.Type.Type64 == BoolEncoding
}

// Boolean encodings.
const (
	BoolEncoding    = "B"
	BoolPtrEncoding = "^B"
)

// Callable is an argument list and return value: a function, a method or
// a function pointer.
type Callable struct {
	Args     []*Arg `json:"args,omitempty"`
	Ret      *Arg   `json:"retval,omitzero"`
	Variadic bool   `json:"variadic,omitzero"`
}

// Function is a resolved C function.
type Function struct {
	Callable `json:",inline"`

	Name   string            `json:"name"`
	Inline bool              `json:"inline,omitzero"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

// Method is a resolved Objective-C method.
type Method struct {
	Callable `json:",inline"`

	Selector    string            `json:"selector"`
	ClassMethod bool              `json:"class_method,omitzero"`
	Attrs       map[string]string `json:"attrs,omitempty"`
	Override    bool              `json:"override,omitzero"`
}

// Key identifies the method within its class.
func (m *Method) Key() string {
	if m.ClassMethod {
		return "c" + m.Selector
	}
	return "i" + m.Selector
}

// Class is an Objective-C class with its methods in declaration order.
type Class struct {
	Name    string    `json:"name"`
	Methods []*Method `json:"methods,omitempty"`
}

// Method returns the method with the given key, or nil.
func (c *Class) Method(key string) *Method {
	for _, m := range c.Methods {
		if m.Key() == key {
			return m
		}
	}
	return nil
}

// RemoveMethod drops the method with the given key and reports whether it
// was present.
func (c *Class) RemoveMethod(key string) bool {
	n := len(c.Methods)
	c.Methods = slices.DeleteFunc(c.Methods, func(m *Method) bool { return m.Key() == key })
	return len(c.Methods) != n
}

// Struct is a resolved C struct. Structs declared opaque live in
// Model.Opaques instead.
type Struct struct {
	Name   string   `json:"name"`
	Type   Encoding `json:"type,omitzero"`
	OnlyIn string   `json:"only_in,omitzero"`
}

// CFType is a Core Foundation style reference type.
type CFType struct {
	Name           string   `json:"name"`
	Type           Encoding `json:"type,omitzero"`
	GetTypeIDFunc  string   `json:"gettypeid_func,omitzero"`
	TollFree       string   `json:"tollfree,omitzero"`
	IgnoreTollFree bool     `json:"ignore_tollfree,omitzero"`
}

// Opaque is a type exposed only by name and encoding.
type Opaque struct {
	Name string   `json:"name"`
	Type Encoding `json:"type,omitzero"`
}

// Constant is an extern variable.
type Constant struct {
	Name         string    `json:"name"`
	DeclaredType string    `json:"declared_type,omitzero"`
	Const        bool      `json:"const,omitzero"`
	Type         Encoding  `json:"type,omitzero"`
	FuncPtr      *Callable `json:"function_pointer,omitzero"`
	// Attrs are plain attributes set by overrides, such as magic_cookie.
	Attrs        map[string]string `json:"attrs,omitempty"`
	TypeOverride bool              `json:"type_override,omitzero"`
	Override     bool              `json:"override,omitzero"`
}

// Enum is an enum member or a numeric macro.
type Enum struct {
	Name       string            `json:"name"`
	Value      Value             `json:"value,omitzero"`
	Ignore     bool              `json:"ignore,omitzero"`
	Suggestion string            `json:"suggestion,omitzero"`
	Attrs      map[string]string `json:"attrs,omitempty"`
	Override   bool              `json:"override,omitzero"`
}

// StringConstant is a macro defined as a string literal.
type StringConstant struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	NSString bool   `json:"nsstring,omitzero"`
}

// FunctionAlias names another function.
type FunctionAlias struct {
	Name     string `json:"name"`
	Original string `json:"original"`
}

// ProtocolMethod is a method of an informal protocol.
type ProtocolMethod struct {
	Selector    string   `json:"selector"`
	ClassMethod bool     `json:"class_method,omitzero"`
	Type        Encoding `json:"type,omitzero"`
}

// InformalProtocol is a named set of methods declared on the root class.
type InformalProtocol struct {
	Name    string            `json:"name"`
	Methods []*ProtocolMethod `json:"methods,omitempty"`
}

// Model is the resolved description of one framework.
type Model struct {
	Structs           map[string]*Struct           `json:"structs,omitempty"`
	CFTypes           map[string]*CFType           `json:"cftypes,omitempty"`
	Opaques           map[string]*Opaque           `json:"opaques,omitempty"`
	Constants         map[string]*Constant         `json:"constants,omitempty"`
	StringConstants   map[string]*StringConstant   `json:"string_constants,omitempty"`
	Enums             map[string]*Enum             `json:"enums,omitempty"`
	Functions         map[string]*Function         `json:"functions,omitempty"`
	FunctionAliases   map[string]*FunctionAlias    `json:"function_aliases,omitempty"`
	Classes           map[string]*Class            `json:"classes,omitempty"`
	InformalProtocols map[string]*InformalProtocol `json:"informal_protocols,omitempty"`
	DependsOn         []string                     `json:"depends_on,omitempty"`

	// ExternalCFTypes are CF types declared by dependency metadata.
	ExternalCFTypes []string `json:"external_cftypes,omitempty"`
	// SpecialTypes maps the C types named by override "type" attributes to
	// their encodings.
	SpecialTypes map[string]Encoding `json:"special_types,omitempty"`
	// SelTypes maps the method prototypes named by override "sel_of_type"
	// attributes to their method encodings.
	SelTypes map[string]Encoding `json:"sel_types,omitempty"`
}

// New returns an empty model.
func New() *Model {
	return &Model{
		Structs:           make(map[string]*Struct),
		CFTypes:           make(map[string]*CFType),
		Opaques:           make(map[string]*Opaque),
		Constants:         make(map[string]*Constant),
		StringConstants:   make(map[string]*StringConstant),
		Enums:             make(map[string]*Enum),
		Functions:         make(map[string]*Function),
		FunctionAliases:   make(map[string]*FunctionAlias),
		Classes:           make(map[string]*Class),
		InformalProtocols: make(map[string]*InformalProtocol),
		SpecialTypes:      make(map[string]Encoding),
		SelTypes:          make(map[string]Encoding),
	}
}

// Names returns the keys of m in sorted order.
func Names[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

// Count returns the number of entities of each kind.
func (m *Model) Count() map[string]int {
	methods := 0
	for _, c := range m.Classes {
		methods += len(c.Methods)
	}
	return map[string]int{
		"structs":            len(m.Structs),
		"cftypes":            len(m.CFTypes),
		"opaques":            len(m.Opaques),
		"constants":          len(m.Constants),
		"string_constants":   len(m.StringConstants),
		"enums":              len(m.Enums),
		"functions":          len(m.Functions),
		"function_aliases":   len(m.FunctionAliases),
		"classes":            len(m.Classes),
		"methods":            methods,
		"informal_protocols": len(m.InformalProtocols),
	}
}
