package overrides

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultIgnoredDefine matches the availability version macros every SDK
// header defines.
const DefaultIgnoredDefine = `^AVAILABLE_.+_VERSION_\d*`

// StructDirective pre-seeds how a struct is resolved.
type StructDirective struct {
	Opaque bool
	OnlyIn string
}

// CFTypeDirective pre-seeds how a CF type is resolved.
type CFTypeDirective struct {
	GetTypeIDFunc  string
	IgnoreTollFree bool
}

// OpaqueDirective declares an opaque type, or drops one when Ignore is set.
type OpaqueDirective struct {
	Type   string
	Ignore bool
}

// Directives are the resolution-time tables gathered from all override
// documents. Later documents override earlier ones for the same name.
type Directives struct {
	IgnoredHeaders []*regexp.Regexp
	IgnoredDefines []*regexp.Regexp
	Structs        map[string]StructDirective
	CFTypes        map[string]CFTypeDirective
	Opaques        map[string]OpaqueDirective
	// SpecialTypes are the distinct "type" attribute values used on
	// function and method arguments and return values.
	SpecialTypes []string
	// SelTypes are the distinct "sel_of_type" attribute values.
	SelTypes []string
	// FuncAliases maps an original function name to its alias.
	FuncAliases map[string]string
}

// NewDirectives returns the tables in effect with no override documents.
func NewDirectives() *Directives {
	return &Directives{
		IgnoredDefines: []*regexp.Regexp{regexp.MustCompile(DefaultIgnoredDefine)},
		Structs:        make(map[string]StructDirective),
		CFTypes:        make(map[string]CFTypeDirective),
		Opaques:        make(map[string]OpaqueDirective),
		FuncAliases:    make(map[string]string),
	}
}

// Prepare scans docs in order and builds the directive tables.
func Prepare(docs []*Document) (*Directives, error) {
	d := NewDirectives()
	seenTypes := make(map[string]bool)
	seenSels := make(map[string]bool)

	for _, doc := range docs {
		for _, group := range doc.Elements("ignored_headers") {
			for _, h := range group.Elements("header") {
				re, err := compile(doc, "ignored header", h.Text)
				if err != nil {
					return nil, err
				}
				d.IgnoredHeaders = append(d.IgnoredHeaders, re)
			}
		}
		for _, group := range doc.Elements("ignored_defines") {
			for _, r := range group.Elements("regex") {
				re, err := compile(doc, "ignored define", r.Text)
				if err != nil {
					return nil, err
				}
				d.IgnoredDefines = append(d.IgnoredDefines, re)
			}
		}
		for _, n := range doc.Elements("struct") {
			d.Structs[n.Attr("name")] = StructDirective{Opaque: n.True("opaque"), OnlyIn: n.Attr("only_in")}
		}
		for _, n := range doc.Elements("cftype") {
			d.CFTypes[n.Attr("name")] = CFTypeDirective{
				GetTypeIDFunc:  n.Attr("gettypeid_func"),
				IgnoreTollFree: n.True("ignore_tollfree"),
			}
		}
		for _, n := range doc.Elements("opaque") {
			d.Opaques[n.Attr("name")] = OpaqueDirective{Type: n.Attr("type"), Ignore: n.True("ignore")}
		}

		var callables []*Node
		for _, c := range doc.Elements("class") {
			callables = append(callables, c.Elements("method")...)
		}
		callables = append(callables, doc.Elements("function")...)
		for _, c := range callables {
			values := c.Elements("arg")
			if r := c.Element("retval"); r != nil {
				values = append([]*Node{r}, values...)
			}
			for _, v := range values {
				if t := v.Attr("type"); t != "" && !seenTypes[t] {
					seenTypes[t] = true
					d.SpecialTypes = append(d.SpecialTypes, t)
				}
				if s := v.Attr("sel_of_type"); s != "" && !seenSels[s] {
					seenSels[s] = true
					d.SelTypes = append(d.SelTypes, s)
				}
			}
		}

		for _, n := range doc.Elements("function_alias") {
			d.FuncAliases[strings.TrimSpace(n.Attr("original"))] = strings.TrimSpace(n.Attr("name"))
		}
	}
	return d, nil
}

func compile(doc *Document, what, expr string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("%s: %s %q: %w", doc.Path, what, expr, err)
	}
	return re, nil
}

// HeaderIgnored reports whether path matches an ignored-header pattern.
func (d *Directives) HeaderIgnored(path string) bool {
	return matchAny(d.IgnoredHeaders, path)
}

// DefineIgnored reports whether a macro name matches an ignored-define
// pattern.
func (d *Directives) DefineIgnored(name string) bool {
	return matchAny(d.IgnoredDefines, name)
}

// Aliased reports whether some alias points at the function name.
func (d *Directives) Aliased(name string) bool {
	_, ok := d.FuncAliases[name]
	return ok
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

var (
	protoPrefixRe = regexp.MustCompile(`^[-+]\s*`)
	protoSuffixRe = regexp.MustCompile(`\s*;$`)
	protoRetRe    = regexp.MustCompile(`^\([^)]+\)\s*`)
	protoArgRe    = regexp.MustCompile(`\([^)]+\)\s*\w+`)
	protoSpaceRe  = regexp.MustCompile(`\s+`)
)

// ProtoToSel turns a method prototype such as
// "- (void)foo:(int)a bar:(id)b;" into its selector "foo:bar:".
func ProtoToSel(proto string) string {
	sel := strings.TrimSpace(proto)
	sel = protoPrefixRe.ReplaceAllString(sel, "")
	sel = protoSuffixRe.ReplaceAllString(sel, "")
	sel = protoRetRe.ReplaceAllString(sel, "")
	sel = protoArgRe.ReplaceAllString(sel, "")
	return protoSpaceRe.ReplaceAllString(sel, "")
}

// DependencyCFTypes returns the CF type names declared by dependency
// metadata documents, so types owned by another framework are still
// recognized as CF types.
func DependencyCFTypes(docs []*Document) []string {
	var names []string
	for _, doc := range docs {
		for _, n := range doc.Elements("cftype") {
			if name := n.Attr("name"); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}
