// Package extract scans preprocessed C and Objective-C header text for the
// declarations a bridge needs: enums, macros, structs, CF types, function
// pointer typedefs, externs, functions and Objective-C methods.
//
// The scanners are line- and regex-based and tolerate what they do not
// understand: an unrecognized construct is skipped, never an error. Only a
// declaration whose type normalizes to nothing fails extraction.
package extract

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/dejo1307/bridgemeta/internal/decl"
)

// Header is the text of one compilation unit, as seen by a single
// architecture pass.
type Header struct {
	Path     string
	Text     string // preprocessed text, filtered to the framework's own headers
	Complete string // unfiltered preprocessed text; falls back to Text
	Raw      string // original header source, scanned for macros
}

// Result is everything extracted from one header.
type Result struct {
	Defines           map[string]string         `json:"defines,omitempty"`
	Enums             []EnumBody                `json:"enums,omitempty"`
	StructNames       []string                  `json:"struct_names,omitempty"`
	CFTypeNames       []string                  `json:"cftype_names,omitempty"`
	FuncPointerTypes  map[string]string         `json:"function_pointer_types,omitempty"`
	Typedefs          map[string]string         `json:"typedefs,omitempty"`
	Constants         []decl.Var                `json:"constants,omitempty"`
	Functions         []*decl.Func              `json:"functions,omitempty"`
	InlineFunctions   []*decl.Func              `json:"inline_functions,omitempty"`
	Classes           map[string][]*decl.Method `json:"classes,omitempty"`
	InformalProtocols map[string][]*decl.Method `json:"informal_protocols,omitempty"`
}

// Error reports a declaration that could not be extracted.
type Error struct {
	Header string
	Pass   string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract %s (%s): %v", e.Header, e.Pass, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Pass is one extraction step over a header.
type Pass interface {
	// Name returns the pass identifier (e.g. "enums", "methods").
	Name() string
	// Run scans h and stores what it finds in r.
	Run(h *Header, r *Result) error
}

type passFunc struct {
	name string
	run  func(h *Header, r *Result) error
}

func (p passFunc) Name() string { return p.name }
func (p passFunc) Run(h *Header, r *Result) error { return p.run(h, r) }

// DefaultPasses returns the standard extraction passes in run order.
func DefaultPasses() []Pass {
	return []Pass{
		passFunc{"defines", func(h *Header, r *Result) error {
			r.Defines = Defines(h.Raw)
			return nil
		}},
		passFunc{"enums", func(h *Header, r *Result) error {
			r.Enums = Enums(h.Text)
			return nil
		}},
		passFunc{"structs", func(h *Header, r *Result) error {
			r.StructNames = StructNames(h.Text)
			return nil
		}},
		passFunc{"cftypes", func(h *Header, r *Result) error {
			r.CFTypeNames = CFTypeNames(h.Text)
			return nil
		}},
		passFunc{"function_pointers", func(h *Header, r *Result) error {
			r.FuncPointerTypes = FunctionPointerTypes(h.complete())
			return nil
		}},
		passFunc{"typedefs", func(h *Header, r *Result) error {
			r.Typedefs = Typedefs(h.complete())
			for _, name := range r.StructNames {
				delete(r.Typedefs, name)
			}
			return nil
		}},
		passFunc{"constants", func(h *Header, r *Result) (err error) {
			r.Constants, err = Constants(h.Text)
			return err
		}},
		passFunc{"functions", func(h *Header, r *Result) (err error) {
			r.Functions, err = Functions(h.Text)
			return err
		}},
		passFunc{"inline_functions", func(h *Header, r *Result) (err error) {
			r.InlineFunctions, err = InlineFunctions(h.Text)
			return err
		}},
		passFunc{"methods", func(h *Header, r *Result) error {
			objc, err := Methods(h.Text)
			if err != nil {
				return err
			}
			r.Classes = objc.Classes
			r.InformalProtocols = objc.InformalProtocols
			return nil
		}},
	}
}

// Extract runs the default passes over h.
func Extract(ctx context.Context, h *Header) (*Result, error) {
	return Run(ctx, h, DefaultPasses())
}

// Run applies passes to h in order. The first failing pass aborts the run.
func Run(ctx context.Context, h *Header, passes []Pass) (*Result, error) {
	r := &Result{}
	for _, p := range passes {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		if err := p.Run(h, r); err != nil {
			return r, &Error{Header: h.Path, Pass: p.Name(), Err: err}
		}
	}
	log.Printf("[extract] %s: %d enums, %d functions, %d constants, %d classes",
		h.Path, countEnumerators(r.Enums), len(r.Functions)+len(r.InlineFunctions), len(r.Constants), len(r.Classes))
	return r, nil
}

func (h *Header) complete() string {
	if strings.TrimSpace(h.Complete) != "" {
		return h.Complete
	}
	return h.Text
}

func countEnumerators(bodies []EnumBody) int {
	n := 0
	for _, b := range bodies {
		n += len(b.Members)
	}
	return n
}

// Enumerators flattens the enum bodies in declaration order.
func (r *Result) Enumerators() []Enumerator {
	var out []Enumerator
	for _, b := range r.Enums {
		out = append(out, b.Members...)
	}
	return out
}
