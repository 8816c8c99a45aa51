// Package oracle loads the pre-computed answers of the external
// architecture probes: per-architecture type encoding and value tables, and
// the runtime results for toll-free bridging and computed macros.
package oracle

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Architectures known to the resolver.
const (
	Arch32 = "i386"
	Arch64 = "x86_64"
)

// Value is a numeric value as seen on a little-endian and a big-endian
// target. BE is empty when it equals LE.
type Value struct {
	LE string
	BE string
}

// UnmarshalYAML accepts either a scalar or a [le, be] pair.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		v.LE = node.Value
		return nil
	case yaml.SequenceNode:
		var pair []string
		if err := node.Decode(&pair); err != nil {
			return err
		}
		if len(pair) == 0 || len(pair) > 2 {
			return fmt.Errorf("line %d: value needs one or two entries, got %d", node.Line, len(pair))
		}
		v.LE = pair[0]
		if len(pair) == 2 && pair[1] != pair[0] {
			v.BE = pair[1]
		}
		return nil
	default:
		return fmt.Errorf("line %d: value must be a scalar or a [le, be] pair", node.Line)
	}
}

// Table is the probe result for one architecture.
type Table struct {
	Arch   string            `yaml:"arch"`
	Types  map[string]string `yaml:"types"`
	Values map[string]Value  `yaml:"values"`
}

// Encoding returns the encoding of a canonical stripped type.
func (t *Table) Encoding(typ string) (string, bool) {
	e, ok := t.Types[typ]
	return e, ok
}

// Value returns the probed value of an enum member or macro.
func (t *Table) Value(name string) (Value, bool) {
	v, ok := t.Values[name]
	return v, ok
}

// Is64 reports whether the table describes a 64-bit architecture.
func (t *Table) Is64() bool {
	switch t.Arch {
	case Arch64, "arm64", "ppc64":
		return true
	}
	return false
}

// Runtime holds what probing the running system discovered.
type Runtime struct {
	// TollFree maps CF type names to the Objective-C class they bridge to.
	TollFree map[string]string `yaml:"tollfree"`
	// MacroValues holds numeric macros that could only be evaluated by
	// running code, such as macros that call functions.
	MacroValues map[string]string `yaml:"macro_values"`
}

// LoadTable reads an architecture table from path.
func LoadTable(path string) (*Table, error) {
	t := &Table{}
	if err := load(path, t); err != nil {
		return nil, err
	}
	if t.Arch == "" {
		return nil, fmt.Errorf("oracle table %s: missing arch", path)
	}
	if t.Types == nil {
		t.Types = make(map[string]string)
	}
	if t.Values == nil {
		t.Values = make(map[string]Value)
	}
	return t, nil
}

// LoadRuntime reads runtime probe results from path. An empty path yields
// empty results: nothing was discovered.
func LoadRuntime(path string) (*Runtime, error) {
	r := &Runtime{}
	if path != "" {
		if err := load(path, r); err != nil {
			return nil, err
		}
	}
	if r.TollFree == nil {
		r.TollFree = make(map[string]string)
	}
	if r.MacroValues == nil {
		r.MacroValues = make(map[string]string)
	}
	return r, nil
}

func load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading oracle %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing oracle %s: %w", path, err)
	}
	return nil
}
