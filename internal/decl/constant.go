package decl

import (
	"regexp"
	"strings"
)

var (
	trailingAttrRe = regexp.MustCompile(`\s*__attribute__\(.+\)\s*$`)
	declaratorRe   = regexp.MustCompile(`^([^()]*)\b(\w+)\b\s*(\[[^\]]*\])*$`)
	leadingStarsRe = regexp.MustCompile(`^\*+`)
)

// ParseConstant parses a single "TYPE NAME" declarator such as a function
// argument or an extern. It returns false when no declarator is found;
// that is not an error, the fragment is simply not a declaration. A
// declarator whose type strips to nothing is an error.
// A bare type ("int", "char *") gets a placeholder name.
func ParseConstant(str string) (Var, bool, error) {
	vars, err := parseDeclarators(str, false)
	if err != nil || len(vars) == 0 {
		return Var{}, false, err
	}
	return vars[0], true, nil
}

// ParseConstants is ParseConstant for comma-separated declarator lists
// ("int a, *b"), as found in extern declarations.
func ParseConstants(str string) ([]Var, error) {
	return parseDeclarators(str, true)
}

func parseDeclarators(str string, multi bool) ([]Var, error) {
	str = strings.TrimSpace(str)
	if str == "" {
		return nil, nil
	}
	if str == "..." {
		return []Var{{Type: "...", Stripped: "...", Name: "...", Orig: str}}, nil
	}
	if strings.HasSuffix(str, "*") || !strings.ContainsAny(str, " \t\n") {
		str += " dummy"
	}

	tokens := []string{str}
	if multi {
		tokens = strings.Split(str, ",")
	}
	part := trailingAttrRe.ReplaceAllString(tokens[0], "")
	m := declaratorRe.FindStringSubmatch(part)
	if m == nil {
		return nil, nil
	}
	for _, word := range strings.Fields(m[1]) {
		if word == "end" || word == "typedef" {
			return nil, nil
		}
	}

	typ := strings.TrimSpace(m[1])
	name := strings.TrimSpace(m[2])
	if m[3] != "" {
		typ += " " + strings.TrimSpace(m[3])
	}
	if name == "void" {
		typ = "void"
	}
	if typ == "const" {
		typ = typ + " " + name
	}

	v, err := NewVar(typ, name, part)
	if err != nil {
		return nil, err
	}
	vars := []Var{v}
	if multi && len(tokens) > 1 {
		base := strings.TrimRight(typ, "* ")
		for _, tok := range tokens[1:] {
			tok = strings.TrimSpace(tok)
			stars := leadingStarsRe.FindString(tok)
			next := base
			if stars != "" {
				next += " " + stars
			}
			more, err := parseDeclarators(next+" "+strings.TrimSpace(tok[len(stars):]), false)
			if err != nil {
				return nil, err
			}
			vars = append(vars, more...)
		}
	}
	return vars, nil
}
