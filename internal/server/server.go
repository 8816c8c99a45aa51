package server

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dejo1307/bridgemeta/internal/config"
	"github.com/dejo1307/bridgemeta/internal/engine"
	"github.com/dejo1307/bridgemeta/internal/facts"
	"github.com/dejo1307/bridgemeta/internal/model"
)

// artifactPrefix is the URI prefix of the artifact resource template.
const artifactPrefix = "bridgemeta://artifacts/"

// Server wraps the MCP server and connects it to the metadata engine.
type Server struct {
	mcp *mcp.Server
	eng *engine.Engine
	cfg *config.Config
}

// New creates a new MCP server wired to the given engine.
func New(eng *engine.Engine, cfg *config.Config) (*Server, error) {
	s := &Server{
		eng: eng,
		cfg: cfg,
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "bridgemeta",
		Version: "0.1.0",
	}, nil)

	s.mcp = mcpServer
	s.registerResources()
	s.registerTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	log.Println("[server] starting MCP server on stdio transport")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// registerResources adds MCP resources for generated artifacts.
func (s *Server) registerResources() {
	resources := []struct {
		uri, name, description, mime string
		content                      func() ([]byte, error)
	}{
		{
			"bridgemeta://metadata/final", "Final Metadata",
			"The final BridgeSupport document of the framework",
			"application/xml", s.rendererContent("final"),
		},
		{
			"bridgemeta://metadata/summary", "Metadata Summary",
			"Compact LLM-ready summary of the generated metadata",
			"text/markdown", s.artifactContent("summary.md"),
		},
		{
			"bridgemeta://metadata/model", "Metadata Model",
			"The resolved and merged model as JSON",
			"application/json", s.artifactContent(engine.ModelFile),
		},
		{
			"bridgemeta://metadata/facts", "Metadata Entities",
			"Every resolved entity in JSONL format",
			"application/jsonl", s.artifactContent(engine.FactsFile),
		},
		{
			"bridgemeta://metadata/meta", "Generation Metadata",
			"Metadata about the last generation run",
			"application/json", s.artifactContent(engine.MetaFile),
		},
	}
	for _, r := range resources {
		s.mcp.AddResource(&mcp.Resource{
			URI:         r.uri,
			Name:        r.name,
			Description: r.description,
			MIMEType:    r.mime,
		}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return readResult(req.Params.URI, r.mime, r.content)
		})
	}

	// Any artifact by file name, e.g. Foundation.complete.bridgesupport
	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: artifactPrefix + "{name}",
		Name:        "Generated Artifact",
		Description: "Any file produced by the last generation run, by name",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		name := strings.TrimPrefix(req.Params.URI, artifactPrefix)
		return readResult(req.Params.URI, mimeType(name), s.artifactContent(name))
	})
}

func (s *Server) artifactContent(name string) func() ([]byte, error) {
	return func() ([]byte, error) { return s.eng.GetArtifact(name) }
}

func (s *Server) rendererContent(renderer string) func() ([]byte, error) {
	return func() ([]byte, error) {
		a, err := s.eng.RendererArtifact(renderer)
		return a.Content, err
	}
}

func readResult(uri, mime string, content func() ([]byte, error)) (*mcp.ReadResourceResult, error) {
	data, err := content()
	if err != nil {
		return nil, fmt.Errorf("no metadata available: %w (run generate_metadata first)", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: uri, Text: string(data), MIMEType: mime},
		},
	}, nil
}

func mimeType(name string) string {
	switch {
	case strings.HasSuffix(name, ".md"):
		return "text/markdown"
	case strings.HasSuffix(name, ".jsonl"):
		return "application/jsonl"
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	default:
		return "application/xml"
	}
}

// generateMetadataArgs are the arguments for the generate_metadata tool.
type generateMetadataArgs struct {
	Force bool `json:"force,omitempty" jsonschema:"Regenerate even if no input file changed since the last run"`
}

// queryEntitiesArgs are the arguments for the query_entities tool.
type queryEntitiesArgs struct {
	Kind      string   `json:"kind,omitempty" jsonschema:"Filter by entity kind: struct, cftype, opaque, constant, string_constant, enum, function, function_alias, class, method, or informal_protocol"`
	Kinds     []string `json:"kinds,omitempty" jsonschema:"Filter by any of several entity kinds"`
	Name      string   `json:"name,omitempty" jsonschema:"Filter by name (or selector) using substring match"`
	Names     []string `json:"names,omitempty" jsonschema:"Filter by exact names"`
	Owner     string   `json:"owner,omitempty" jsonschema:"Filter methods by declaring class or informal protocol"`
	Relation  string   `json:"relation,omitempty" jsonschema:"Filter by relation kind: member_of, aliases, or tollfree"`
	Prop      string   `json:"prop,omitempty" jsonschema:"Filter by property name (e.g. type64, variadic, override)"`
	PropValue string   `json:"prop_value,omitempty" jsonschema:"Filter by property value (requires prop to be set)"`
	Offset    int      `json:"offset,omitempty" jsonschema:"Number of results to skip"`
	Limit     int      `json:"limit,omitempty" jsonschema:"Maximum number of results (default 100, max 500)"`
}

// showEntityArgs are the arguments for the show_entity tool.
type showEntityArgs struct {
	Name  string `json:"name" jsonschema:"Exact entity name, or selector for methods"`
	Kind  string `json:"kind,omitempty" jsonschema:"Restrict to one entity kind"`
	Owner string `json:"owner,omitempty" jsonschema:"Restrict methods to one class or informal protocol"`
}

// registerTools adds MCP tools for generation and entity querying.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "generate_metadata",
		Description: "Generate BridgeSupport metadata for the configured framework. Extracts declarations from the preprocessed headers, resolves their encodings for every configured architecture, merges the override documents, and renders the enabled outputs.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args generateMetadataArgs) (*mcp.CallToolResult, any, error) {
		return s.generate(ctx, args), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_entities",
		Description: "Query the resolved entities by kind, name, owner, relation, or property. Returns matching entities as JSON.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args queryEntitiesArgs) (*mcp.CallToolResult, any, error) {
		return s.queryEntities(args), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "show_entity",
		Description: "Show one entity in full: its indexed properties, the entities referring to it, and its resolved model record with the encodings of every architecture.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args showEntityArgs) (*mcp.CallToolResult, any, error) {
		text, err := s.showEntity(args)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		return textResult(text), nil, nil
	})
}

func (s *Server) generate(ctx context.Context, args generateMetadataArgs) *mcp.CallToolResult {
	snapshot, err := s.eng.Generate(ctx, args.Force)
	if err != nil {
		return errorResult(fmt.Sprintf("metadata generation failed: %v", err))
	}

	// Write artifacts to disk
	if err := s.eng.WriteArtifacts(); err != nil {
		log.Printf("[server] warning: failed to write artifacts: %v", err)
	}

	var artifacts []string
	for _, a := range snapshot.Artifacts {
		artifacts = append(artifacts, a.Name)
	}
	summary := fmt.Sprintf(
		"Metadata generated successfully.\n\n"+
			"- Framework: %s\n"+
			"- Architectures: %s\n"+
			"- Entities: %d\n"+
			"- Merge warnings: %d\n"+
			"- Artifacts: %s\n"+
			"- Duration: %s\n\n"+
			"Use the bridgemeta://metadata/summary resource to read the summary.",
		snapshot.Meta.Framework,
		strings.Join(snapshot.Meta.Archs, ", "),
		snapshot.Meta.FactCount,
		len(snapshot.Meta.MergeErrors),
		strings.Join(artifacts, ", "),
		snapshot.Meta.Duration,
	)
	return textResult(summary)
}

func (s *Server) queryEntities(args queryEntitiesArgs) *mcp.CallToolResult {
	store := s.eng.Store()
	if store.Count() == 0 {
		return errorResult("No entities available. Run generate_metadata first.")
	}

	results, total := store.QueryAdvanced(facts.QueryOpts{
		Kind:      args.Kind,
		Kinds:     args.Kinds,
		Name:      args.Name,
		Names:     args.Names,
		Owner:     args.Owner,
		RelKind:   args.Relation,
		Prop:      args.Prop,
		PropValue: args.PropValue,
		Offset:    args.Offset,
		Limit:     args.Limit,
	})
	if results == nil {
		results = []facts.Fact{}
	}

	data, err := marshalIndent(results)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to marshal results: %v", err))
	}

	text := string(data)
	if shown := args.Offset + len(results); shown < total {
		text += fmt.Sprintf("\n\n... (showing %d-%d of %d results, use offset to page)", args.Offset+1, shown, total)
	}
	return textResult(text)
}

func (s *Server) showEntity(args showEntityArgs) (string, error) {
	if args.Name == "" {
		return "", fmt.Errorf("name is required")
	}
	store := s.eng.Store()
	if store.Count() == 0 {
		return "", fmt.Errorf("No entities available. Run generate_metadata first.")
	}

	var matches []facts.Fact
	for _, f := range store.ByName(args.Name) {
		if args.Kind != "" && f.Kind != args.Kind {
			continue
		}
		if args.Owner != "" && f.Owner != args.Owner {
			continue
		}
		matches = append(matches, f)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("No entity named %q", args.Name)
	}

	var m *model.Model
	if snapshot := s.eng.Snapshot(); snapshot != nil {
		m = snapshot.Model
	}

	var sb strings.Builder
	for i, f := range matches {
		if i > 0 {
			sb.WriteString("\n---\n\n")
		}
		if f.Owner != "" {
			fmt.Fprintf(&sb, "### %s %s (%s)\n\n", f.Kind, f.Name, f.Owner)
		} else {
			fmt.Fprintf(&sb, "### %s %s\n\n", f.Kind, f.Name)
		}

		for _, k := range model.Names(f.Props) {
			fmt.Fprintf(&sb, "- %s: %v\n", k, f.Props[k])
		}
		for _, r := range f.Relations {
			fmt.Fprintf(&sb, "- %s → %s\n", r.Kind, r.Target)
		}

		if f.Kind != facts.KindMethod {
			if refs := store.ReverseLookup(f.Name, ""); len(refs) > 0 {
				fmt.Fprintf(&sb, "\nReferenced by (%d):\n", len(refs))
				for _, ref := range refs {
					fmt.Fprintf(&sb, "- %s %s\n", ref.Kind, ref.Name)
				}
			}
		}

		if rec := modelRecord(m, f); rec != nil {
			data, err := marshalIndent(rec)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&sb, "\n```json\n%s\n```\n", data)
		}
	}
	return sb.String(), nil
}

// modelRecord returns the model entity a fact was built from, or nil.
func modelRecord(m *model.Model, f facts.Fact) any {
	if m == nil {
		return nil
	}
	switch f.Kind {
	case facts.KindStruct:
		return lookup(m.Structs, f.Name)
	case facts.KindCFType:
		return lookup(m.CFTypes, f.Name)
	case facts.KindOpaque:
		return lookup(m.Opaques, f.Name)
	case facts.KindConstant:
		return lookup(m.Constants, f.Name)
	case facts.KindStringConstant:
		return lookup(m.StringConstants, f.Name)
	case facts.KindEnum:
		return lookup(m.Enums, f.Name)
	case facts.KindFunction:
		return lookup(m.Functions, f.Name)
	case facts.KindFunctionAlias:
		return lookup(m.FunctionAliases, f.Name)
	case facts.KindClass:
		return lookup(m.Classes, f.Name)
	case facts.KindInformalProtocol:
		return lookup(m.InformalProtocols, f.Name)
	case facts.KindMethod:
		classMethod, _ := f.Props["class_method"].(bool)
		if c := m.Classes[f.Owner]; c != nil {
			key := "i" + f.Name
			if classMethod {
				key = "c" + f.Name
			}
			if meth := c.Method(key); meth != nil {
				return meth
			}
		}
		if p := m.InformalProtocols[f.Owner]; p != nil {
			for _, meth := range p.Methods {
				if meth.Selector == f.Name && meth.ClassMethod == classMethod {
					return meth
				}
			}
		}
	}
	return nil
}

// lookup keeps a missing entry from becoming a non-nil interface.
func lookup[V any](entities map[string]*V, name string) any {
	if v := entities[name]; v != nil {
		return v
	}
	return nil
}

func marshalIndent(v any) ([]byte, error) {
	return json.Marshal(v, json.Deterministic(true), jsontext.WithIndent("  "))
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}
