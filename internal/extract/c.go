package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dejo1307/bridgemeta/internal/decl"
)

// Enumerator is one member of an enum body, in declaration order.
type Enumerator struct {
	Name string `json:"name"`
	Expr string `json:"expr,omitempty"` // initializer text, empty for implicit values
}

// EnumBody is the ordered member list of one enum declaration.
type EnumBody struct {
	Tag     string       `json:"tag,omitempty"`
	Members []Enumerator `json:"members"`
}

var (
	enumRe         = regexp.MustCompile(`\benum\b\s*(\w+\s*)?(?::\s*[\w\s]+)?\{([^}]*)\}`)
	defineRe       = regexp.MustCompile(`(?m)^[ \t]*#[ \t]*define[ \t]+(\S+)[ \t]+(\([^)\n]+\)|\S+)[ \t]*$`)
	structNameRe   = regexp.MustCompile(`typedef\s+struct\s*\w*\s*((\w+)|\{([^{}]*(\{[^}]+\})?)*\}\s*([^\s]+))\s*(__attribute__\(.+\))?\s*;`)
	cftypeNameRe   = regexp.MustCompile(`typedef\s+(const\s+)?struct\s*\w+\s*\*\s*([^\s]+Ref)\s*;`)
	funcPtrRe      = regexp.MustCompile(`typedef\s+([\w\s\*]+)\s*\(\s*\*\s*(\w+)\s*\)\s*\(([^)]*)\)\s*;`)
	funcTypeRe     = regexp.MustCompile(`typedef\s+([\w\s]+)\s*\(([^)]+)\)\s*;`)
	trailingWordRe = regexp.MustCompile(`(\w+)\s*$`)
	arrayArgRe     = regexp.MustCompile(`\[\]\s*$`)
	typedefRe      = regexp.MustCompile(`(?m)^\s*typedef\s+(.+)\s+(\w+)\s*;$`)
	externRe       = regexp.MustCompile(`(?m)^\s*extern\s+\b(.*)\s*;.*$`)
)

// cKeywords are the words that may end a bare C type and must not be taken
// for a parameter name.
var cKeywords = map[string]bool{
	"char": true, "short": true, "int": true, "long": true, "float": true,
	"double": true, "signed": true, "unsigned": true, "void": true,
	"_Bool": true, "bool": true,
}

// Enums returns every enum body found in text.
func Enums(text string) []EnumBody {
	var bodies []EnumBody
	for _, m := range enumRe.FindAllStringSubmatch(text, -1) {
		body := EnumBody{Tag: strings.TrimSpace(m[1])}
		members := skipAttributesRe.ReplaceAllString(m[2], "")
		for _, member := range strings.Split(members, ",") {
			name, expr, _ := strings.Cut(member, "=")
			name = strings.TrimSpace(name)
			if name == "" || strings.HasPrefix(name, "#") {
				continue
			}
			if fields := strings.Fields(name); len(fields) > 1 {
				name = fields[0]
			}
			body.Members = append(body.Members, Enumerator{Name: name, Expr: strings.TrimSpace(expr)})
		}
		bodies = append(bodies, body)
	}
	return bodies
}

// Defines returns the object-like macros of raw header source. Function-like
// macros and continuation lines are skipped. Comments are stripped first.
func Defines(raw string) map[string]string {
	defines := make(map[string]string)
	for _, m := range defineRe.FindAllStringSubmatch(StripComments(raw), -1) {
		name, value := m[1], m[2]
		if strings.Contains(name, "(") || value == `\` {
			continue
		}
		defines[name] = value
	}
	return defines
}

// StructNames returns the names introduced by "typedef struct" declarations.
func StructNames(text string) []string {
	var names []string
	for _, m := range structNameRe.FindAllStringSubmatch(text, -1) {
		name := m[2]
		if name == "" {
			name = m[5]
		}
		if name == "" || strings.HasPrefix(name, "__attribute__") {
			continue
		}
		names = append(names, name)
	}
	return names
}

// CFTypeNames returns the names of "typedef struct __X *XRef" declarations.
func CFTypeNames(text string) []string {
	var names []string
	for _, m := range cftypeNameRe.FindAllStringSubmatch(text, -1) {
		names = append(names, m[2])
	}
	return names
}

// FunctionPointerTypes maps each function pointer typedef name to its
// canonical "RET (*)(ARGS)" signature. "typedef RET NAME(ARGS);" declares a
// function type; a pointer to it is recorded under "NAME *".
func FunctionPointerTypes(text string) map[string]string {
	types := make(map[string]string)
	for _, m := range funcPtrRe.FindAllStringSubmatch(text, -1) {
		types[m[2]] = signature(m[1], m[3])
	}
	for _, m := range funcTypeRe.FindAllStringSubmatch(text, -1) {
		loc := trailingWordRe.FindStringSubmatchIndex(m[1])
		if loc == nil {
			continue
		}
		ret := m[1][:loc[0]]
		if strings.TrimSpace(ret) == "" {
			continue
		}
		name := m[1][loc[2]:loc[3]]
		types[name+" *"] = signature(ret, m[2])
	}
	return types
}

func signature(ret, args string) string {
	var types []string
	for _, a := range strings.Split(args, ",") {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		types = append(types, argType(a))
	}
	return strings.TrimSpace(ret) + " (*)(" + strings.Join(types, ", ") + ")"
}

// argType drops the parameter name from a "TYPE NAME" parameter.
func argType(a string) string {
	if !strings.ContainsAny(a, " \t") {
		return a
	}
	array := arrayArgRe.MatchString(a)
	a = arrayArgRe.ReplaceAllString(a, "")
	if m := trailingWordRe.FindStringSubmatchIndex(a); m != nil && !cKeywords[a[m[2]:m[3]]] {
		if rest := strings.TrimSpace(a[:m[0]]); rest != "" {
			a = rest
		}
	}
	a = strings.TrimSpace(a)
	if array {
		a += "*"
	}
	return a
}

// Typedefs maps each simple typedef name to its underlying type.
func Typedefs(text string) map[string]string {
	typedefs := make(map[string]string)
	for _, m := range typedefRe.FindAllStringSubmatch(text, -1) {
		typedefs[m[2]] = strings.TrimSpace(m[1])
	}
	return typedefs
}

// Externs returns the declarator text of every "extern ...;" line.
func Externs(text string) []string {
	var out []string
	for _, m := range externRe.FindAllStringSubmatch(text, -1) {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}

// Constants parses the extern declarations of text into variables.
func Constants(text string) ([]decl.Var, error) {
	var vars []decl.Var
	for _, ext := range Externs(text) {
		ext = strings.TrimSpace(skipAttributesRe.ReplaceAllString(ext, ""))
		vs, err := decl.ParseConstants(ext)
		if err != nil {
			return nil, fmt.Errorf("extern %q: %w", ext, err)
		}
		vars = append(vars, vs...)
	}
	return vars, nil
}

var (
	skipInlineRe     = regexp.MustCompile(`(static)?\s(inline|__inline__)[^{;]+(;|\{([^{}]*(\{[^}]+\})?)*\})\s*`)
	skipAttributesRe = regexp.MustCompile(`__attribute__\((\([^()]*(\([^()]*\)|\))+)+\)`)
	funcRe           = regexp.MustCompile(`(?m)(^([\w\s\*<>]+)\s*\(([^)]*)\)\s*);`)
	externPrefixRe   = regexp.MustCompile(`(?m)^.*extern\s+`)
	inlineFuncRe     = regexp.MustCompile(`(inline|__inline__)\s+((__attribute__\(\([^)]*\)\)\s+)?([\w\s\*<>]+)\s*\(([^)]*)\)\s*)\{`)
)

// Functions returns the non-inline function prototypes of text. Inline
// definitions and attribute lists are removed before scanning.
func Functions(text string) ([]*decl.Func, error) {
	text = skipInlineRe.ReplaceAllString(text, "")
	text = skipAttributesRe.ReplaceAllString(text, "")
	var funcs []*decl.Func
	for _, m := range funcRe.FindAllStringSubmatch(text, -1) {
		f, err := parseFunc(m[1], m[2], m[3], false)
		if err != nil {
			return nil, err
		}
		if f != nil {
			funcs = append(funcs, f)
		}
	}
	return funcs, nil
}

// InlineFunctions returns the inline function definitions of text.
func InlineFunctions(text string) ([]*decl.Func, error) {
	var funcs []*decl.Func
	for _, m := range inlineFuncRe.FindAllStringSubmatch(text, -1) {
		f, err := parseFunc(m[2], m[4], m[5], true)
		if err != nil {
			return nil, err
		}
		if f != nil {
			funcs = append(funcs, f)
		}
	}
	return funcs, nil
}

// parseFunc builds a function from its return-type-and-name text and its
// argument text. Declarations with an unparseable piece are skipped.
func parseFunc(orig, base, args string, inline bool) (*decl.Func, error) {
	base = externPrefixRe.ReplaceAllString(base, "")
	ret, ok, err := decl.ParseConstant(base)
	if err != nil {
		return nil, fmt.Errorf("function %q: %w", strings.TrimSpace(orig), err)
	}
	if !ok {
		return nil, nil
	}
	var vars []decl.Var
	if strings.TrimSpace(args) != "" {
		for _, a := range strings.Split(args, ",") {
			v, ok, err := decl.ParseConstant(a)
			if err != nil {
				return nil, fmt.Errorf("function %s argument %q: %w", ret.Name, strings.TrimSpace(a), err)
			}
			if !ok {
				return nil, nil
			}
			vars = append(vars, v)
		}
	}
	ret.Orig = strings.TrimSpace(orig)
	return decl.NewFunc(ret, vars, inline), nil
}
