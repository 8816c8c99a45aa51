// Package signatures renders a model as BridgeSupport signatures documents.
// One renderer exists per output variant; every variant writes attributes
// sorted by name and entries sorted by name, or by selector for methods, so
// unchanged inputs give byte-identical documents.
package signatures

import (
	"cmp"
	"context"
	"fmt"
	"log"
	"regexp"
	"slices"
	"strings"

	"github.com/dejo1307/bridgemeta/internal/facts"
	"github.com/dejo1307/bridgemeta/internal/model"
)

// Variant selects what a renderer writes.
type Variant string

const (
	// Final is the minimal form a runtime bridge loads.
	Final Variant = "final"
	// Complete keeps declared types, argument names and struct fields.
	Complete Variant = "complete"
	// Template lists what needs manual annotation in an override
	// document.
	Template Variant = "exceptions-template"
	// Dylib lists the inline functions a wrapper library must export.
	Dylib Variant = "dylib"
)

// Variants lists every variant.
var Variants = []Variant{Final, Complete, Template, Dylib}

// ParseVariant returns the variant with the given name.
func ParseVariant(name string) (Variant, error) {
	v := Variant(name)
	if !slices.Contains(Variants, v) {
		return "", fmt.Errorf("unknown output variant %q", name)
	}
	return v, nil
}

// Renderer writes one variant.
type Renderer struct {
	variant Variant
}

// New creates a renderer for the given variant.
func New(v Variant) *Renderer {
	return &Renderer{variant: v}
}

// Name returns the variant name.
func (r *Renderer) Name() string {
	return string(r.variant)
}

// FileName returns the artifact name for framework.
func (r *Renderer) FileName(framework string) string {
	if framework == "" {
		framework = "metadata"
	}
	switch r.variant {
	case Complete:
		return framework + ".complete.bridgesupport"
	case Template:
		return framework + ".exceptions-template.xml"
	case Dylib:
		return framework + ".dylib.bridgesupport"
	default:
		return framework + ".bridgesupport"
	}
}

// Render writes the variant for the snapshot's model.
func (r *Renderer) Render(ctx context.Context, snapshot *facts.Snapshot) ([]facts.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if snapshot.Model == nil {
		return nil, fmt.Errorf("render %s: snapshot has no model", r.variant)
	}
	b := &builder{m: snapshot.Model, complete: r.variant == Complete}

	var root *element
	switch r.variant {
	case Template:
		root = b.template(snapshot)
	case Dylib:
		root = b.dylib()
		if len(root.children) == 0 {
			log.Printf("[render] no inline functions in %s, no dylib description written", snapshot.Meta.Framework)
			return nil, nil
		}
	default:
		root = b.signatures()
	}

	content, err := write(root, r.variant != Complete)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", r.variant, err)
	}
	return []facts.Artifact{{
		Name:    r.FileName(snapshot.Meta.Framework),
		Content: content,
		Type:    "application/xml",
	}}, nil
}

type builder struct {
	m        *model.Model
	complete bool
}

// signatures builds the final or complete document.
func (b *builder) signatures() *element {
	m := b.m
	root := newRoot()
	for _, path := range m.DependsOn {
		root.add(newElement("depends_on")).set("path", path)
	}
	for _, name := range model.Names(m.Structs) {
		s := m.Structs[name]
		e := root.add(newElement("struct")).set("name", name)
		setEncoding(e, "type", s.Type)
		if b.complete {
			for _, field := range structFields(s.Type) {
				e.add(newElement("field")).set("name", field)
			}
		}
	}
	for _, name := range model.Names(m.CFTypes) {
		c := m.CFTypes[name]
		e := root.add(newElement("cftype")).set("name", name)
		setEncoding(e, "type", c.Type)
		e.set("gettypeid_func", c.GetTypeIDFunc).set("tollfree", c.TollFree)
	}
	for _, name := range model.Names(m.Opaques) {
		e := root.add(newElement("opaque")).set("name", name)
		setEncoding(e, "type", m.Opaques[name].Type)
	}
	for _, name := range model.Names(m.Constants) {
		c := m.Constants[name]
		e := root.add(newElement("constant")).set("name", name)
		b.typed(e, c.Type, c.FuncPtr, c.DeclaredType, c.Const)
		setAttrs(e, c.Attrs)
	}
	for _, name := range model.Names(m.StringConstants) {
		s := m.StringConstants[name]
		e := root.add(newElement("string_constant")).set("name", name)
		e.attrs["value"] = s.Value
		e.flag("nsstring", s.NSString)
	}
	for _, name := range model.Names(m.Enums) {
		en := m.Enums[name]
		e := root.add(newElement("enum")).set("name", name)
		if en.Ignore {
			e.flag("ignore", true)
		} else {
			setValue(e, en.Value)
		}
		e.set("suggestion", en.Suggestion)
		setAttrs(e, en.Attrs)
	}
	for _, name := range model.Names(m.Functions) {
		root.add(b.function(m.Functions[name]))
	}
	for _, name := range model.Names(m.FunctionAliases) {
		a := m.FunctionAliases[name]
		root.add(newElement("function_alias")).set("name", name).set("original", a.Original)
	}
	for _, name := range model.Names(m.Classes) {
		var methods []*element
		for _, meth := range sortedMethods(m.Classes[name].Methods) {
			if e := b.method(meth); e != nil {
				methods = append(methods, e)
			}
		}
		if len(methods) == 0 {
			continue
		}
		c := root.add(newElement("class")).set("name", name)
		c.children = methods
	}
	for _, name := range model.Names(m.InformalProtocols) {
		p := m.InformalProtocols[name]
		if len(p.Methods) == 0 {
			continue
		}
		pe := root.add(newElement("informal_protocol")).set("name", name)
		methods := slices.Clone(p.Methods)
		slices.SortFunc(methods, func(x, y *model.ProtocolMethod) int {
			return cmp.Or(cmp.Compare(x.Selector, y.Selector), compareBool(x.ClassMethod, y.ClassMethod))
		})
		for _, meth := range methods {
			e := pe.add(newElement("method")).set("selector", meth.Selector).flag("class_method", meth.ClassMethod)
			setEncoding(e, "type", meth.Type)
		}
	}
	return root
}

var createCopyRe = regexp.MustCompile(`Create|Copy`)

func (b *builder) function(f *model.Function) *element {
	e := newElement("function").set("name", f.Name)
	e.flag("variadic", f.Variadic).flag("inline", f.Inline)
	setAttrs(e, f.Attrs)
	for _, a := range f.Args {
		e.add(b.arg("arg", a, -1))
	}
	if ret := f.Ret; ret != nil && (!isVoid(ret.Type) || ret.Override || ret.TypeOverride) {
		re := e.add(b.arg("retval", ret, -1))
		if _, ok := re.attrs["already_retained"]; !ok && b.cfType(ret.DeclaredType) && createCopyRe.MatchString(f.Name) {
			re.flag("already_retained", true)
		}
	}
	return e
}

// method returns nil when the final form has nothing to say about meth:
// the runtime reads every other method's signature from the class itself.
func (b *builder) method(meth *model.Method) *element {
	customRet := meth.Ret != nil && (b.complete || custom(meth.Ret))
	var customArgs []int
	for i, a := range meth.Args {
		if b.complete || custom(a) || a.FuncPtr != nil {
			customArgs = append(customArgs, i)
		}
	}
	if !customRet && len(customArgs) == 0 && !meth.Variadic && !meth.Override {
		return nil
	}
	e := newElement("method").set("selector", meth.Selector)
	e.flag("class_method", meth.ClassMethod).flag("variadic", meth.Variadic)
	setAttrs(e, meth.Attrs)
	for _, i := range customArgs {
		e.add(b.arg("arg", meth.Args[i], i))
	}
	if customRet {
		e.add(b.arg("retval", meth.Ret, -1))
	}
	return e
}

// custom reports whether a needs describing beyond what the runtime
// encodes: booleans and anything an override touched.
func custom(a *model.Arg) bool {
	return isBool(a.Type) || a.Override || a.TypeOverride
}

func isBool(t model.Encoding) bool {
	return strings.HasSuffix(t.Type, model.BoolEncoding) || strings.HasSuffix(t.Type64, model.BoolEncoding)
}

func isVoid(t model.Encoding) bool {
	return !t.IsZero() && (t.Type == "" || t.Type == "v") && (t.Type64 == "" || t.Type64 == "v")
}

// arg builds an arg or retval element. Method arguments carry an index;
// pass -1 for function arguments.
func (b *builder) arg(name string, a *model.Arg, index int) *element {
	e := newElement(name)
	if index >= 0 {
		e.setIndex(index)
	}
	if b.complete {
		e.set("name", a.Name)
	}
	b.typed(e, a.Type, a.FuncPtr, a.DeclaredType, a.Const)
	setEncoding(e, "sel_of_type", a.SelOfType)
	setAttrs(e, a.Attrs)
	return e
}

func (b *builder) typed(e *element, t model.Encoding, fp *model.Callable, declared string, isConst bool) {
	setEncoding(e, "type", t)
	if fp != nil {
		e.flag("function_pointer", true)
		for _, a := range fp.Args {
			e.add(b.arg("arg", a, -1))
		}
		if fp.Ret != nil {
			e.add(b.arg("retval", fp.Ret, -1))
		}
	}
	if b.complete {
		e.set("declared_type", declared).flag("const", isConst)
	}
}

// cfType reports whether name is a CF type of this framework or of a
// dependency.
func (b *builder) cfType(name string) bool {
	if name == "CFTypeRef" {
		return true
	}
	if _, ok := b.m.CFTypes[name]; ok {
		return true
	}
	if _, ok := b.m.CFTypes[strings.Replace(name, "Mutable", "", 1)]; ok {
		return true
	}
	return slices.Contains(b.m.ExternalCFTypes, name)
}

func setEncoding(e *element, attr string, t model.Encoding) {
	e.set(attr, t.Type)
	if t.Type64 != t.Type {
		e.set(attr+"64", t.Type64)
	}
}

// setValue writes a value as value/value64, or as le_value/be_value pairs
// where the byte orders disagree.
func setValue(e *element, v model.Value) {
	le32, be32 := v.Get(false, false), v.Get(false, true)
	le64, be64 := v.Get(true, false), v.Get(true, true)
	if le32 != "" {
		setEndian(e, "", le32, be32)
		if le64 == le32 && be64 == be32 {
			return
		}
	}
	setEndian(e, "64", le64, be64)
}

func setEndian(e *element, suffix, le, be string) {
	if be != "" && be != le {
		e.set("le_value"+suffix, le).set("be_value"+suffix, be)
		return
	}
	e.set("value"+suffix, le)
}

// setAttrs copies override attributes onto e. They win over resolved ones.
func setAttrs(e *element, attrs map[string]string) {
	for k, v := range attrs {
		e.attrs[k] = v
	}
}

var (
	nestedStructRe = regexp.MustCompile(`\{[^}]+\}`)
	fieldNameRe    = regexp.MustCompile(`"([^"]+)"`)
)

// structFields returns the field names recorded in a struct encoding such
// as {_NSPoint="x"f"y"f}, skipping those of nested structs.
func structFields(t model.Encoding) []string {
	enc := t.Get(false)
	if enc == "" {
		enc = t.Type64
	}
	if len(enc) < 2 {
		return nil
	}
	body := nestedStructRe.ReplaceAllString(enc[1:len(enc)-1], "")
	var fields []string
	for _, m := range fieldNameRe.FindAllStringSubmatch(body, -1) {
		fields = append(fields, m[1])
	}
	return fields
}

func sortedMethods(methods []*model.Method) []*model.Method {
	out := slices.Clone(methods)
	slices.SortFunc(out, func(a, b *model.Method) int {
		return cmp.Or(cmp.Compare(a.Selector, b.Selector), compareBool(a.ClassMethod, b.ClassMethod))
	})
	return out
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	default:
		return -1
	}
}

// dylib builds the description of the inline functions.
func (b *builder) dylib() *element {
	root := newRoot()
	for _, name := range model.Names(b.m.Functions) {
		if f := b.m.Functions[name]; f.Inline {
			root.add(b.function(f))
		}
	}
	return root
}
