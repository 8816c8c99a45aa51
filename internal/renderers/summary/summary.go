// Package summary renders a compact markdown report of a generation run for
// MCP clients: what was found, what the overrides changed, and what differs
// between architectures.
package summary

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dejo1307/bridgemeta/internal/facts"
	"github.com/dejo1307/bridgemeta/internal/model"
)

// Renderer produces summary.md within a token budget.
type Renderer struct {
	maxTokens int
}

// New creates a new Renderer with the given token budget.
func New(maxTokens int) *Renderer {
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	return &Renderer{maxTokens: maxTokens}
}

func (r *Renderer) Name() string {
	return "summary"
}

// section holds a rendered section with its display name.
type section struct {
	name    string
	content string
}

// Render produces the summary.md artifact. Sections are ordered by
// priority; lower-priority sections are omitted first when the token budget
// is tight.
func (r *Renderer) Render(ctx context.Context, snapshot *facts.Snapshot) ([]facts.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := snapshot.Model
	if m == nil {
		m = model.New()
	}

	sections := []section{
		{"Counts", renderCounts(snapshot, m)},
		{"Merge Warnings", renderMergeWarnings(snapshot)},
		{"Overrides", renderOverrides(m)},
		{"Architecture Differences", renderArchDifferences(m)},
		{"Toll-Free Bridges", renderTollFree(m)},
		{"Inline Functions", renderInline(m)},
		{"Meta", renderMeta(snapshot)},
	}

	header := fmt.Sprintf("# %s Metadata\n\n", cmpOr(snapshot.Meta.Framework, "Framework"))
	maxChars := r.maxTokens * 4 // rough estimate: 1 token ~= 4 chars
	remaining := maxChars - len(header)

	var sb strings.Builder
	sb.WriteString(header)

	for i, sec := range sections {
		if sec.content == "" {
			continue
		}
		if len(sec.content) <= remaining {
			sb.WriteString(sec.content)
			remaining -= len(sec.content)
		} else if remaining > 200 {
			// Partially include this section
			sb.WriteString(sec.content[:remaining-100])
			sb.WriteString(fmt.Sprintf("\n\n---\n*[Truncated in: %s]*\n", sec.name))
			break
		} else {
			var omitted []string
			for _, s := range sections[i:] {
				if s.content != "" {
					omitted = append(omitted, s.name)
				}
			}
			sb.WriteString(fmt.Sprintf("\n\n---\n*[Omitted: %s]*\n", strings.Join(omitted, ", ")))
			break
		}
	}

	return []facts.Artifact{
		{
			Name:    "summary.md",
			Content: []byte(sb.String()),
			Type:    "text/markdown",
		},
	}, nil
}

func renderCounts(snapshot *facts.Snapshot, m *model.Model) string {
	var sb strings.Builder
	sb.WriteString("## Counts\n\n")
	counts := m.Count()
	if total(counts) == 0 {
		sb.WriteString("_No declarations resolved._\n\n")
		return sb.String()
	}
	if len(snapshot.Meta.Archs) > 0 {
		sb.WriteString(fmt.Sprintf("Architectures: %s\n\n", strings.Join(snapshot.Meta.Archs, ", ")))
	}
	sb.WriteString("| Kind | Count |\n")
	sb.WriteString("|------|-------|\n")
	for _, kind := range model.Names(counts) {
		if counts[kind] > 0 {
			sb.WriteString(fmt.Sprintf("| %s | %d |\n", kind, counts[kind]))
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

func total(counts map[string]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}

func renderMergeWarnings(snapshot *facts.Snapshot) string {
	if len(snapshot.Meta.MergeErrors) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Merge Warnings\n\n")
	for _, msg := range snapshot.Meta.MergeErrors {
		sb.WriteString(fmt.Sprintf("- %s\n", msg))
	}
	sb.WriteString("\n")
	return sb.String()
}

// renderOverrides lists the entities an override document changed.
func renderOverrides(m *model.Model) string {
	var lines []string
	for _, name := range model.Names(m.Enums) {
		e := m.Enums[name]
		switch {
		case e.Ignore && e.Suggestion != "":
			lines = append(lines, fmt.Sprintf("- enum `%s` ignored: %s", name, e.Suggestion))
		case e.Ignore:
			lines = append(lines, fmt.Sprintf("- enum `%s` ignored", name))
		case e.Override:
			lines = append(lines, fmt.Sprintf("- enum `%s` value overridden", name))
		}
	}
	for _, name := range model.Names(m.Constants) {
		if m.Constants[name].Override {
			lines = append(lines, fmt.Sprintf("- constant `%s`", name))
		}
	}
	for _, name := range model.Names(m.Functions) {
		f := m.Functions[name]
		if len(f.Attrs) > 0 || touched(&f.Callable) {
			lines = append(lines, fmt.Sprintf("- function `%s`", name))
		}
	}
	for _, name := range model.Names(m.Classes) {
		for _, meth := range m.Classes[name].Methods {
			if meth.Override || touched(&meth.Callable) {
				prefix := "-"
				if meth.ClassMethod {
					prefix = "+"
				}
				lines = append(lines, fmt.Sprintf("- method `%s[%s %s]`", prefix, name, meth.Selector))
			}
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "## Overrides\n\n" + strings.Join(lines, "\n") + "\n\n"
}

func touched(c *model.Callable) bool {
	if c.Ret != nil && (c.Ret.Override || c.Ret.TypeOverride) {
		return true
	}
	for _, a := range c.Args {
		if a.Override || a.TypeOverride {
			return true
		}
	}
	return false
}

// renderArchDifferences lists the types whose 32-bit and 64-bit encodings
// differ.
func renderArchDifferences(m *model.Model) string {
	type row struct{ kind, name, t32, t64 string }
	var rows []row
	add := func(kind, name string, e model.Encoding) {
		if e.Type != "" && e.Type64 != "" && e.Type != e.Type64 {
			rows = append(rows, row{kind, name, e.Type, e.Type64})
		}
	}
	for _, name := range model.Names(m.Structs) {
		add("struct", name, m.Structs[name].Type)
	}
	for _, name := range model.Names(m.Opaques) {
		add("opaque", name, m.Opaques[name].Type)
	}
	for _, name := range model.Names(m.Constants) {
		add("constant", name, m.Constants[name].Type)
	}
	if len(rows) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Architecture Differences\n\n")
	sb.WriteString("| Kind | Name | 32-bit | 64-bit |\n")
	sb.WriteString("|------|------|--------|--------|\n")
	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("| %s | `%s` | `%s` | `%s` |\n", r.kind, r.name, r.t32, r.t64))
	}
	sb.WriteString("\n")
	return sb.String()
}

func renderTollFree(m *model.Model) string {
	var bridged []*model.CFType
	for _, c := range m.CFTypes {
		if c.TollFree != "" {
			bridged = append(bridged, c)
		}
	}
	if len(bridged) == 0 {
		return ""
	}
	sort.Slice(bridged, func(i, j int) bool {
		return bridged[i].Name < bridged[j].Name
	})
	var sb strings.Builder
	sb.WriteString("## Toll-Free Bridges\n\n")
	for _, c := range bridged {
		sb.WriteString(fmt.Sprintf("- `%s` ↔ `%s`\n", c.Name, c.TollFree))
	}
	sb.WriteString("\n")
	return sb.String()
}

func renderInline(m *model.Model) string {
	var names []string
	for _, name := range model.Names(m.Functions) {
		if m.Functions[name].Inline {
			names = append(names, "`"+name+"`")
		}
	}
	if len(names) == 0 {
		return ""
	}
	return "## Inline Functions\n\n" + strings.Join(names, ", ") + "\n\n"
}

func renderMeta(snapshot *facts.Snapshot) string {
	var sb strings.Builder
	sb.WriteString("---\n\n")
	sb.WriteString(fmt.Sprintf("*Generated at %s in %s. %d facts, %d override documents.*\n",
		snapshot.Meta.GeneratedAt, snapshot.Meta.Duration,
		snapshot.Meta.FactCount, len(snapshot.Meta.Overrides)))
	return sb.String()
}

func cmpOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
