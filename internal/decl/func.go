package decl

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Func is a function declaration: a return value plus ordered arguments.
type Func struct {
	Ret      Var   `json:"ret"`
	Args     []Var `json:"args,omitempty"`
	Variadic bool  `json:"variadic,omitempty"`
	Inline   bool  `json:"inline,omitempty"`
}

// NewFunc builds a function from its return value and raw argument list.
// A lone void argument means no arguments; a trailing "..." is dropped and
// marks the function variadic.
func NewFunc(ret Var, args []Var, inline bool) *Func {
	if len(args) == 1 && args[0].IsVoid() {
		args = nil
	}
	f := &Func{Ret: ret, Args: args, Inline: inline}
	if n := len(f.Args); n > 0 && f.Args[n-1].IsEllipsis() {
		f.Variadic = true
		f.Args = f.Args[:n-1]
	}
	return f
}

// Name is the function's declared name.
func (f *Func) Name() string { return f.Ret.Name }

// Method is an Objective-C method declaration.
type Method struct {
	Func
	Selector    string `json:"selector"`
	ClassMethod bool   `json:"class_method,omitempty"`
}

// NewMethod builds a method. Variadic methods carry an explicit trailing
// "..." argument which is folded into the Variadic flag.
func NewMethod(ret Var, selector string, classMethod bool, args []Var, orig string) *Method {
	ret.Orig = orig
	m := &Method{Selector: selector, ClassMethod: classMethod}
	m.Ret = ret
	m.Args = args
	if n := len(args); n > 0 && args[n-1].IsEllipsis() {
		m.Variadic = true
		m.Args = args[:n-1]
	}
	return m
}

// Key identifies a method inside its class: class and instance methods
// with the same selector are distinct.
func (m *Method) Key() string {
	return MethodKey(m.Selector, m.ClassMethod)
}

// MethodKey builds the lookup key used for methods.
func MethodKey(selector string, classMethod bool) string {
	if classMethod {
		return "c" + selector
	}
	return "i" + selector
}

var fnPtrSplitRe = regexp.MustCompile(`\(\*\)`)

// FuncPointerCache parses "RET (*)(ARGS)" type strings and keeps one
// instance per distinct signature. A cache belongs to a single run.
type FuncPointerCache struct {
	mu      sync.Mutex
	entries map[string]*Func
	misses  map[string]bool
}

// NewFuncPointerCache creates an empty cache.
func NewFuncPointerCache() *FuncPointerCache {
	return &FuncPointerCache{
		entries: make(map[string]*Func),
		misses:  make(map[string]bool),
	}
}

// Parse returns the function described by typ, or nil when typ is not a
// function pointer type.
func (c *FuncPointerCache) Parse(typ string) (*Func, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.entries[typ]; ok {
		return f, nil
	}
	if c.misses[typ] {
		return nil, nil
	}

	tokens := fnPtrSplitRe.Split(typ, -1)
	if len(tokens) != 2 {
		c.misses[typ] = true
		return nil, nil
	}
	ret, err := NewVar(strings.TrimSpace(tokens[0]), "", "")
	if err != nil {
		return nil, fmt.Errorf("function pointer %q: %w", typ, err)
	}
	rest := strings.TrimSpace(tokens[1])
	rest = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(rest, "("), ")"))

	var args []Var
	if rest != "" {
		for _, a := range strings.Split(rest, ",") {
			v, err := NewVar(strings.TrimSpace(a), "", "")
			if err != nil {
				return nil, fmt.Errorf("function pointer %q: %w", typ, err)
			}
			args = append(args, v)
		}
	}
	ret.Orig = typ
	f := NewFunc(ret, args, false)
	c.entries[typ] = f
	return f, nil
}

// Len returns the number of distinct signatures parsed so far.
func (c *FuncPointerCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// FunctionPointer resolves v to a function pointer signature, following
// the function-pointer typedefs in named when v's type is one of them.
func (c *FuncPointerCache) FunctionPointer(v Var, named map[string]string) (*Func, error) {
	typ := v.Stripped
	if t, ok := named[typ]; ok {
		typ = t
	}
	return c.Parse(typ)
}
