package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dejo1307/bridgemeta/internal/decl"
)

// RootClass is the root of the Objective-C class hierarchy. Protocols and
// categories on it are reported as informal protocols.
const RootClass = "NSObject"

// ObjC holds the Objective-C declarations of one header.
type ObjC struct {
	Classes           map[string][]*decl.Method `json:"classes,omitempty"`
	InformalProtocols map[string][]*decl.Method `json:"informal_protocols,omitempty"`
}

var (
	interfaceRe     = regexp.MustCompile(`^@(interface|protocol)\s+(\w+)\s*([(<][^)>]+[)>])?`)
	endRe           = regexp.MustCompile(`^@end`)
	methodBodyRe    = regexp.MustCompile(`^\s*[-+]\s*(\([^)]+\))?\s*([^:\s;]+)`)
	methodArgRe     = regexp.MustCompile(`\w+\s*:`)
	propertyRe      = regexp.MustCompile(`^@property\s*(\([^)]+\))?\s*([^;]+);$`)
	getterAttrRe    = regexp.MustCompile(`getter\s*=\s*(\w+)`)
	setterAttrRe    = regexp.MustCompile(`setter\s*=\s*(\w+)`)
	classAttrRe     = regexp.MustCompile(`\bclass\b`)
	readonlyAttrRe  = regexp.MustCompile(`\breadonly\b`)
	wordRe          = regexp.MustCompile(`^\w+$`)
	closeParenRe    = regexp.MustCompile(`\)\s*$`)
	labeledNextRe   = regexp.MustCompile(`(\w+)\s+\w+\s*:\s*$`)
	nextLabelRe     = regexp.MustCompile(`\w+\s*:\s*$`)
	namedNextRe     = regexp.MustCompile(`(\w+\s*)?\w+\s*:\s*$`)
	methodAttrRe    = regexp.MustCompile(`\s+__attribute__\(\(.+\)\)`)
	lastNameRe      = regexp.MustCompile(`(\w+)\s*;$`)
	nameBeforeEndRe = regexp.MustCompile(`\w+\s*;$`)
	variadicTailRe  = regexp.MustCompile(`,\s*\.\.\.\s*;`)
	trailingNameRe  = regexp.MustCompile(`\w+\s*$`)
)

// Methods scans text for @interface, @protocol and @property declarations.
// Protocols are recorded as methods of RootClass; categories on RootClass
// also feed the informal protocol table.
func Methods(text string) (*ObjC, error) {
	out := &ObjC{
		Classes:           make(map[string][]*decl.Method),
		InformalProtocols: make(map[string][]*decl.Method),
	}

	var iface, category string
	for _, ln := range splitLines(text) {
		l := strings.TrimSpace(ln.text)

		if iface == "" {
			m := interfaceRe.FindStringSubmatch(l)
			if m == nil || strings.HasSuffix(l, ";") {
				continue
			}
			iface = m[2]
			if m[1] == "protocol" {
				iface = RootClass
			}
			if m[3] != "" {
				category = strings.TrimSpace(strings.Trim(m[3], "()<>"))
			}
			continue
		}

		if endRe.MatchString(l) {
			iface, category = "", ""
			continue
		}

		var methods []*decl.Method
		switch {
		case strings.HasPrefix(l, "@property"):
			ms, err := property(l)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", iface, err)
			}
			methods = ms
		case strings.HasPrefix(l, "-"), strings.HasPrefix(l, "+"):
			m, err := method(text[ln.offset:])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", iface, err)
			}
			if m == nil {
				continue
			}
			if category != "" && iface == RootClass {
				out.InformalProtocols[category] = append(out.InformalProtocols[category], m)
			}
			methods = []*decl.Method{m}
		}
		out.Classes[iface] = append(out.Classes[iface], methods...)
	}
	return out, nil
}

// property synthesizes the getter, and the setter unless the property is
// readonly, of one @property line.
func property(l string) ([]*decl.Method, error) {
	m := propertyRe.FindStringSubmatch(l)
	if m == nil {
		return nil, nil
	}
	attrs := m[1]
	words := strings.Fields(methodAttrRe.ReplaceAllString(m[2], ""))
	if len(words) < 2 {
		return nil, nil
	}
	name := words[len(words)-1]
	typ := strings.Join(words[:len(words)-1], " ")
	if stars := strings.TrimLeft(name, "*"); stars != name {
		typ += " " + name[:len(name)-len(stars)]
		name = stars
	}
	if !wordRe.MatchString(name) || strings.Contains(typ, ",") {
		return nil, nil
	}

	t, err := decl.NewVar(typ, "", "")
	if err != nil {
		return nil, fmt.Errorf("property %s: %w", name, err)
	}
	classMethod := classAttrRe.MatchString(attrs)

	getter := name
	if g := getterAttrRe.FindStringSubmatch(attrs); g != nil {
		getter = g[1]
	}
	methods := []*decl.Method{decl.NewMethod(t, getter, classMethod, nil, l)}

	if !readonlyAttrRe.MatchString(attrs) {
		setter := "set" + strings.ToUpper(name[:1]) + name[1:]
		if s := setterAttrRe.FindStringSubmatch(attrs); s != nil {
			setter = s[1]
		}
		arg := t
		arg.Name = name
		methods = append(methods, decl.NewMethod(decl.MustVar("void", "", ""), setter+":", classMethod, []decl.Var{arg}, l))
	}
	return methods, nil
}

// ParseMethod parses a single method prototype such as
// "- (void)sheetDidEnd:(NSWindow *)sheet;".
func ParseMethod(proto string) (*decl.Method, error) {
	proto = strings.TrimSpace(proto)
	if !strings.HasSuffix(proto, ";") {
		proto += ";"
	}
	return method(proto)
}

// method parses the method declaration at the start of data, which may span
// several lines up to its terminating semicolon.
func method(data string) (*decl.Method, error) {
	body := methodBodyRe.FindStringSubmatch(data)
	if body == nil {
		return nil, nil
	}
	if i := strings.IndexByte(data, ';'); i >= 0 {
		data = data[:i+1]
	}
	classMethod := strings.HasPrefix(strings.TrimSpace(data), "+")

	retType := "id"
	if body[1] != "" {
		retType = strings.NewReplacer("(", "", ")", "").Replace(body[1])
	}
	ret, err := decl.NewVar(retType, "", "")
	if err != nil {
		return nil, fmt.Errorf("method %s: %w", strings.TrimSpace(data), err)
	}

	type label struct{ before, name, after string }
	var labels []label
	for _, loc := range methodArgRe.FindAllStringIndex(data, -1) {
		labels = append(labels, label{
			before: data[:loc[0]],
			name:   strings.ReplaceAll(data[loc[0]:loc[1]], " ", ""),
			after:  data[loc[1]:],
		})
	}

	var selector strings.Builder
	var args []decl.Var
	variadic := false
	for n, lb := range labels {
		argName := lb.name
		argType := lb.after
		realName := ""

		nameless := n > 0 && closeParenRe.MatchString(lb.before)
		if nameless {
			argName = ":"
		}
		if n < len(labels)-1 {
			argType = strings.TrimSuffix(argType, labels[n+1].after)
			if nameless {
				argType = namedNextRe.ReplaceAllString(argType, "")
			} else if m := labeledNextRe.FindStringSubmatchIndex(argType); m != nil {
				realName = argType[m[2]:m[3]]
				argType = argType[:m[0]]
			} else {
				argType = nextLabelRe.ReplaceAllString(argType, "")
			}
		} else {
			argType = methodAttrRe.ReplaceAllString(argType, "")
			if nameless {
				argType = nameBeforeEndRe.ReplaceAllString(argType, "")
			} else if m := lastNameRe.FindStringSubmatchIndex(argType); m != nil {
				realName = argType[m[2]:m[3]]
				argType = argType[:m[0]]
			} else if variadicTailRe.MatchString(argType) {
				variadic = true
				argType = variadicTailRe.ReplaceAllString(argType, "")
				argType = trailingNameRe.ReplaceAllString(argType, "")
			}
		}

		selector.WriteString(argName)
		if realName == "" {
			realName = strings.Replace(argName, ":", "", 1)
		}
		argType = strings.TrimSpace(argType)
		if argType == "" {
			argType = "id"
		}
		v, err := decl.NewVar(argType, realName, "")
		if err != nil {
			return nil, fmt.Errorf("method %s argument %s: %w", strings.TrimSpace(data), realName, err)
		}
		args = append(args, v)
	}

	sel := selector.String()
	if sel == "" {
		sel = body[2]
	}
	if variadic {
		args = append(args, decl.Var{Type: "...", Stripped: "...", Name: "vararg"})
	}
	return decl.NewMethod(ret, sel, classMethod, args, strings.TrimSpace(data)), nil
}
