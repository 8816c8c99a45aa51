package decl

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrEmptyType is returned when a declared type normalizes to nothing.
var ErrEmptyType = errors.New("empty type")

// Var is a declared variable, parameter or return value.
type Var struct {
	Type     string `json:"type"`          // declared type, array suffixes collapsed to '*'
	Stripped string `json:"stripped_type"` // canonical lookup key
	Name     string `json:"name,omitempty"`
	Orig     string `json:"orig,omitempty"` // source fragment the declaration came from
}

var (
	arraySuffixRe  = regexp.MustCompile(`\[[^\]]*\]`)
	constRe        = regexp.MustCompile(`\b(?:__)?const\b`)
	genericArgsRe  = regexp.MustCompile(`<[^>]*>`)
	qualifierRe    = regexp.MustCompile(`\b(?:in|out|inout|oneway|const)\b`)
	privateExtRe   = regexp.MustCompile(`\b__private_extern__\b`)
	leadingParenRe = regexp.MustCompile(`^\s*\(\s*`)
	leadingRe      = regexp.MustCompile(`^\s*\(?\s*`)
	trailingParRe  = regexp.MustCompile(`\s*\)?\s*$`)
	spaceRunRe     = regexp.MustCompile(`\s+`)
)

// NewVar normalizes typ and returns the declaration. It fails with
// ErrEmptyType when nothing is left of the type after stripping.
func NewVar(typ, name, orig string) (Var, error) {
	typ = arraySuffixRe.ReplaceAllString(typ, "*")
	stripped, err := StripType(typ)
	if err != nil {
		return Var{}, err
	}
	return Var{Type: typ, Stripped: stripped, Name: name, Orig: orig}, nil
}

// MustVar is NewVar for types known to be non-empty.
func MustVar(typ, name, orig string) Var {
	v, err := NewVar(typ, name, orig)
	if err != nil {
		panic(err)
	}
	return v
}

// StripType removes qualifiers, generic arguments and one level of
// surrounding parens from a raw C type and returns the canonical form.
func StripType(typ string) (string, error) {
	t := arraySuffixRe.ReplaceAllString(typ, "*")
	t = constRe.ReplaceAllString(t, "")
	t = genericArgsRe.ReplaceAllString(t, "")
	t = qualifierRe.ReplaceAllString(t, "")
	t = privateExtRe.ReplaceAllString(t, "")

	paren := leadingParenRe.MatchString(t)
	t = leadingRe.ReplaceAllString(t, "")
	if paren {
		t = trailingParRe.ReplaceAllString(t, "")
	} else {
		t = strings.TrimRight(t, " \t\r\n")
	}
	t = spaceRunRe.ReplaceAllString(t, " ")
	if t == "" {
		return "", fmt.Errorf("%w (was %q)", ErrEmptyType, typ)
	}
	return t, nil
}

// IsVoid reports whether the declaration has no value.
func (v Var) IsVoid() bool {
	return v.Stripped == "void"
}

// IsEllipsis reports whether the declaration is a C variadic marker.
func (v Var) IsEllipsis() bool {
	return v.Stripped == "..."
}

// IsConst reports whether the declared type carries a const qualifier.
func (v Var) IsConst() bool {
	return constRe.MatchString(v.Type)
}

// DeclaredType returns the type as written, without const and parens and
// with pointer stars attached to the base type.
func (v Var) DeclaredType() string {
	t := constRe.ReplaceAllString(v.Type, "")
	t = strings.NewReplacer("(", "", ")", "").Replace(t)
	t = strings.TrimSpace(spaceRunRe.ReplaceAllString(t, " "))
	return ptrSpaceRe.ReplaceAllString(t, "$1")
}

var ptrSpaceRe = regexp.MustCompile(`\s+(\*+)$`)
