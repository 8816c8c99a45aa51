// Package merge applies override documents to a resolved model. Every
// element of an override document must name something the resolver found;
// each one that does not becomes a validation error, and the errors of all
// documents are reported together.
package merge

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/dejo1307/bridgemeta/internal/model"
	"github.com/dejo1307/bridgemeta/internal/overrides"
)

// ValidationError is one override element that could not be applied.
type ValidationError struct {
	Document string
	Message  string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Error aggregates the validation errors of a merge.
type Error struct {
	Errors []*ValidationError
	// PartialDump is the file the partially merged model was written to,
	// if any.
	PartialDump string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("Error(s) when merging exception data")
	if e.PartialDump != "" {
		fmt.Fprintf(&b, " (partial result in %s)", e.PartialDump)
	}
	b.WriteString(":")
	for _, v := range e.Errors {
		b.WriteString("\n")
		b.WriteString(v.Message)
	}
	return b.String()
}

// Options control how merge failures are reported.
type Options struct {
	// IgnoreErrors logs validation errors instead of failing.
	IgnoreErrors bool
	// PartialDump, when set, is where the partially merged model is
	// written as JSON before a failing merge returns.
	PartialDump string
}

type origin struct {
	doc   string
	value string
}

// Engine merges override documents into a model. An engine remembers
// which document set each attribute, so it is used for a single run.
type Engine struct {
	opts    Options
	origins map[string]origin
	ignored []*ValidationError
}

// New creates an engine.
func New(opts Options) *Engine {
	return &Engine{opts: opts, origins: make(map[string]origin)}
}

// Merge applies docs to m in order. Changes made before a failure are kept.
func (e *Engine) Merge(m *model.Model, docs []*overrides.Document) error {
	var errs []*ValidationError
	for _, doc := range docs {
		found := e.MergeDocument(m, doc)
		log.Printf("[merge] %s: %d validation errors", doc.Path, len(found))
		errs = append(errs, found...)
	}
	if len(errs) == 0 {
		return nil
	}
	if e.opts.IgnoreErrors {
		for _, v := range errs {
			log.Printf("[merge] warning: %s: %s", v.Document, v.Message)
		}
		e.ignored = append(e.ignored, errs...)
		return nil
	}
	merr := &Error{Errors: errs}
	if e.opts.PartialDump != "" {
		if err := m.WriteJSONFile(e.opts.PartialDump); err != nil {
			log.Printf("[merge] warning: writing partial result: %v", err)
		} else {
			merr.PartialDump = e.opts.PartialDump
		}
	}
	return merr
}

// Ignored returns the validation errors Merge logged instead of returning.
func (e *Engine) Ignored() []*ValidationError {
	return e.ignored
}

// MergeDocument applies one document: constants, then enums, then
// functions, then classes.
func (e *Engine) MergeDocument(m *model.Model, doc *overrides.Document) []*ValidationError {
	d := &docMerge{engine: e, m: m, doc: doc}
	d.constants()
	d.enums()
	d.functions()
	d.classes()
	return d.errs
}

type docMerge struct {
	engine *Engine
	m      *model.Model
	doc    *overrides.Document
	errs   []*ValidationError
}

func (d *docMerge) fail(format string, args ...any) {
	d.errs = append(d.errs, &ValidationError{Document: d.doc.Path, Message: fmt.Sprintf(format, args...)})
}

func notDiscovered(kind, name string) string {
	return fmt.Sprintf("%s '%s' is described in an exception file but it has not been discovered by the final generator", kind, name)
}

// set records an override attribute. A later document silently wins over
// an earlier one, but a changed value is logged.
func (d *docMerge) set(attrs map[string]string, where, name, value string) map[string]string {
	d.note(where, name, value)
	if attrs == nil {
		attrs = make(map[string]string)
	}
	attrs[name] = value
	return attrs
}

func (d *docMerge) note(where, name, value string) {
	key := where + "\x00" + name
	if prev, ok := d.engine.origins[key]; ok && prev.doc != d.doc.Path && prev.value != value {
		log.Printf("[merge] warning: %s of %s: %q from %s replaces %q from %s", name, where, value, d.doc.Path, prev.value, prev.doc)
	}
	d.engine.origins[key] = origin{doc: d.doc.Path, value: value}
}

func (d *docMerge) constants() {
	for _, n := range d.doc.Elements("constant") {
		name := n.Attr("name")
		c := d.m.Constants[name]
		if c == nil {
			d.fail("%s", notDiscovered("Constant", name))
			continue
		}
		if n.True("magic_cookie") {
			c.Attrs = d.set(c.Attrs, "constant "+name, "magic_cookie", "true")
			c.Override = true
		}
	}
}

// enumValueAttrs map override attributes onto the fields of a value.
var enumValueAttrs = map[string]func(v *model.Value) *string{
	"value":      func(v *model.Value) *string { return &v.Value },
	"le_value":   func(v *model.Value) *string { return &v.Value },
	"be_value":   func(v *model.Value) *string { return &v.BEValue },
	"value64":    func(v *model.Value) *string { return &v.Value64 },
	"le_value64": func(v *model.Value) *string { return &v.Value64 },
	"be_value64": func(v *model.Value) *string { return &v.BEValue64 },
}

func (d *docMerge) enums() {
	for _, n := range d.doc.Elements("enum") {
		name := n.Attr("name")
		where := "enum " + name
		en := d.m.Enums[name]
		ignore := n.True("ignore")
		if en == nil {
			if !ignore {
				d.fail("%s", notDiscovered("Enum", name))
				continue
			}
			en = &model.Enum{Name: name}
			d.m.Enums[name] = en
		}
		if ignore {
			d.note(where, "ignore", "true")
			en.Ignore = true
			if s := n.Attr("suggestion"); s != "" {
				en.Suggestion = s
			}
			en.Value = model.Value{}
			en.Override = true
			continue
		}
		for _, attr := range model.Names(n.Attrs) {
			value := n.Attrs[attr]
			switch attr {
			case "name", "index":
				continue
			case "suggestion":
				d.note(where, attr, value)
				en.Suggestion = value
			default:
				if field, ok := enumValueAttrs[attr]; ok {
					d.note(where, attr, value)
					*field(&en.Value) = value
				} else {
					en.Attrs = d.set(en.Attrs, where, attr, value)
				}
			}
			en.Override = true
		}
	}
}

func (d *docMerge) functions() {
	for _, n := range d.doc.Elements("function") {
		name := n.Attr("name")
		f := d.m.Functions[name]
		if f == nil {
			d.fail("%s", notDiscovered("Function", name))
			continue
		}
		for _, attr := range model.Names(n.Attrs) {
			if attr != "name" {
				f.Attrs = d.set(f.Attrs, "function "+name, attr, n.Attrs[attr])
			}
		}
		d.callable(&f.Callable, n, fmt.Sprintf("func %q", name),
			fmt.Sprintf("Function '%s'", name))
	}
}

func (d *docMerge) classes() {
	for _, cn := range d.doc.Elements("class") {
		className := cn.Attr("name")
		class := d.m.Classes[className]
		if class == nil {
			d.fail("%s", notDiscovered("Class", className))
			continue
		}
		for _, n := range cn.Elements("method") {
			sel := n.Attr("selector")
			classMethod := n.True("class_method")
			key := "i" + sel
			if classMethod {
				key = "c" + sel
			}
			meth := class.Method(key)
			if n.True("ignore") {
				class.RemoveMethod(key)
				continue
			}
			if meth == nil {
				d.fail("Method with selector '%s' of class '%s' is described in an exception file but it has not been discovered by the final generator", sel, className)
				continue
			}
			where := fmt.Sprintf("method with selector %q of class %q", sel, className)
			for _, attr := range model.Names(n.Attrs) {
				switch attr {
				case "selector", "class_method":
					continue
				}
				meth.Attrs = d.set(meth.Attrs, where, attr, n.Attrs[attr])
				meth.Override = true
			}
			d.callable(&meth.Callable, n, where,
				fmt.Sprintf("Method with selector '%s' of class '%s'", sel, className))
		}
	}
}

// callable applies the arg and retval children of n. subject names the
// callable in the "more arguments" and "return value" messages.
func (d *docMerge) callable(c *model.Callable, n *overrides.Node, where, subject string) {
	for _, an := range n.Elements("arg") {
		idx, ok := d.index(an, where)
		if !ok {
			continue
		}
		if idx >= len(c.Args) {
			d.fail("%s is described with more arguments than it should", subject)
			continue
		}
		d.arg(c.Args[idx], an, fmt.Sprintf("argument %d of %s", idx, where))
	}
	if rn := n.Element("retval"); rn != nil {
		if c.Ret == nil {
			d.fail("%s is described with a return value in an exception file but the return value has not been discovered by the final generator", subject)
			return
		}
		d.arg(c.Ret, rn, "retval of "+where)
	}
}

func (d *docMerge) index(n *overrides.Node, where string) (int, bool) {
	idx, err := strconv.Atoi(strings.TrimSpace(n.Attr("index")))
	if err != nil || idx < 0 {
		d.fail("argument index %q of %s is not a valid index", n.Attr("index"), where)
		return 0, false
	}
	return idx, true
}

// arg applies the attributes of n to a, then its nested arg and retval
// elements to a's function pointer signature.
func (d *docMerge) arg(a *model.Arg, n *overrides.Node, where string) {
	for _, attr := range model.Names(n.Attrs) {
		value := n.Attrs[attr]
		switch attr {
		case "index":
			continue
		case "sel_of_type":
			enc, ok := d.m.SelTypes[value]
			if !ok {
				d.fail("No sel_of_type for %q in %s", value, where)
				continue
			}
			d.note(where, attr, value)
			a.SelOfType = enc
			a.Override = true
		case "type":
			enc, ok := d.m.SpecialTypes[value]
			if !ok {
				d.fail("No type for %q in %s", value, where)
				continue
			}
			d.note(where, attr, value)
			a.Type = enc
			a.TypeOverride = true
		default:
			a.Attrs = d.set(a.Attrs, where, attr, value)
			a.Override = true
		}
	}

	fp := a.FuncPtr
	for _, an := range n.Elements("arg") {
		if fp == nil {
			d.fail("%s has no arguments, but an argument exception was specified", where)
			break
		}
		idx, ok := d.index(an, where)
		if !ok {
			continue
		}
		if idx >= len(fp.Args) {
			d.fail("argument '%d' of %s is described with more arguments than it should", idx, where)
			continue
		}
		d.arg(fp.Args[idx], an, fmt.Sprintf("argument %d of %s", idx, where))
	}
	if rn := n.Element("retval"); rn != nil {
		if fp == nil || fp.Ret == nil {
			d.fail("retval of '%s' is described in an exception file but the return value has not been discovered by the final generator", where)
			return
		}
		d.arg(fp.Ret, rn, "retval of "+where)
	}
}
