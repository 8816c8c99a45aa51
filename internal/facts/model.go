package facts

import (
	"github.com/dejo1307/bridgemeta/internal/model"
	"github.com/dejo1307/bridgemeta/internal/overrides"
)

// Fact is one queryable entity of a generated model: a struct, a function,
// a method and so on, flattened for lookup.
type Fact struct {
	Kind      string         `json:"kind"`                // e.g. "struct", "function", "method"
	Name      string         `json:"name"`                // Entity name, or selector for methods
	Owner     string         `json:"owner,omitempty"`     // Class or informal protocol declaring a method
	Props     map[string]any `json:"props,omitempty"`     // Kind-specific properties
	Relations []Relation     `json:"relations,omitempty"` // Edges to other facts
}

// Relation represents a directed edge between two facts.
type Relation struct {
	Kind   string `json:"kind"`   // e.g. "member_of", "aliases"
	Target string `json:"target"` // Target fact name
}

// Fact kind constants.
const (
	KindStruct           = "struct"
	KindCFType           = "cftype"
	KindOpaque           = "opaque"
	KindConstant         = "constant"
	KindStringConstant   = "string_constant"
	KindEnum             = "enum"
	KindFunction         = "function"
	KindFunctionAlias    = "function_alias"
	KindClass            = "class"
	KindMethod           = "method"
	KindInformalProtocol = "informal_protocol"
)

// Kinds lists every fact kind in output order.
var Kinds = []string{
	KindStruct, KindCFType, KindOpaque, KindConstant, KindStringConstant, KindEnum,
	KindFunction, KindFunctionAlias, KindClass, KindMethod, KindInformalProtocol,
}

// Relation kind constants.
const (
	RelMemberOf = "member_of" // method -> class or informal protocol
	RelAliases  = "aliases"   // function alias -> original function
	RelTollFree = "tollfree"  // cftype -> Objective-C class
)

// Artifact represents a generated output file.
type Artifact struct {
	Name     string `json:"name"`     // e.g. "Foundation.bridgesupport"
	Renderer string `json:"renderer"` // Renderer that produced it; set by the engine
	Content  []byte `json:"-"`        // Raw content
	Type     string `json:"type"`     // MIME type hint
}

// Snapshot holds the complete result of a generation run.
type Snapshot struct {
	Meta      SnapshotMeta `json:"meta"`
	Facts     []Fact       `json:"facts"`
	Artifacts []Artifact   `json:"artifacts"`

	// Model is the resolved and merged model the artifacts are rendered
	// from.
	Model *model.Model `json:"-"`
	// Overrides are the override documents applied to Model, in order.
	Overrides []*overrides.Document `json:"-"`
}

// SnapshotMeta contains metadata about a generation run.
type SnapshotMeta struct {
	Framework   string         `json:"framework"`
	GeneratedAt string         `json:"generated_at"`
	Duration    string         `json:"duration"`
	Archs       []string       `json:"archs"`
	Overrides   []string       `json:"overrides,omitempty"`
	Renderers   []string       `json:"renderers"`
	FileHashes  []FileHash     `json:"file_hashes,omitempty"`
	FactCount   int            `json:"fact_count"`
	Counts      map[string]int `json:"counts,omitempty"`
	// MergeErrors holds the validation messages of an override merge that
	// was allowed to continue.
	MergeErrors []string `json:"merge_errors,omitempty"`
}

// FileHash tracks an input file's content hash, so a run can tell whether
// anything it read has changed.
type FileHash struct {
	Path    string `json:"path"`
	Hash    string `json:"hash"`
	ModTime string `json:"mod_time"`
}
