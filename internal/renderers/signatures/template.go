package signatures

import (
	"maps"
	"slices"
	"strconv"

	"github.com/dejo1307/bridgemeta/internal/facts"
	"github.com/dejo1307/bridgemeta/internal/model"
	"github.com/dejo1307/bridgemeta/internal/overrides"
)

// template builds an override document skeleton: what the existing override
// documents already say, plus a type_modifier placeholder for every
// pointer argument nobody has annotated yet. Placeholders carry NEW="1".
func (b *builder) template(snapshot *facts.Snapshot) *element {
	m := b.m
	docs := snapshot.Overrides
	root := newRoot()

	for _, what := range []string{"ignored_defines", "ignored_headers"} {
		for _, n := range allIn(docs, what) {
			root.add(fromNode(n))
		}
	}

	for _, name := range model.Names(m.CFTypes) {
		if n := anyIn(docs, "cftype", name); n != nil {
			root.add(fromNode(n))
			continue
		}
		id := m.CFTypes[name].GetTypeIDFunc
		if id == "" {
			id = "?"
		}
		root.add(newElement("cftype")).set("name", name).set("gettypeid_func", id)
	}

	// Structs an override made opaque are no longer in the model; keep
	// their directives.
	structs := maps.Clone(m.Structs)
	for _, n := range allIn(docs, "struct") {
		if _, ok := structs[n.Attr("name")]; !ok {
			structs[n.Attr("name")] = nil
		}
	}
	for _, name := range model.Names(structs) {
		if n := anyIn(docs, "struct", name); n != nil {
			root.add(fromNode(n))
			continue
		}
		root.add(newElement("struct")).set("name", name)
	}

	for _, what := range []string{"opaque", "constant", "function"} {
		for _, n := range allIn(docs, what) {
			root.add(fromNode(n))
		}
	}
	for _, name := range model.Names(m.Functions) {
		idx := b.pointerArgs(m.Functions[name].Args)
		if len(idx) == 0 {
			continue
		}
		e := root.find("function", "name", name)
		if e == nil {
			e = root.add(newElement("function")).set("name", name)
		}
		addPlaceholders(e, idx)
	}

	for _, n := range allIn(docs, "class") {
		root.add(fromNode(n))
	}
	for _, name := range model.Names(m.Classes) {
		ce := root.find("class", "name", name)
		var added []*element
		for _, meth := range sortedMethods(m.Classes[name].Methods) {
			idx := b.pointerArgs(meth.Args)
			if len(idx) == 0 {
				continue
			}
			var e *element
			if ce != nil {
				e = findMethod(ce, meth)
			}
			if e != nil && e.attrs["ignore"] == "true" {
				continue
			}
			if e == nil {
				e = newElement("method").set("selector", meth.Selector).flag("class_method", meth.ClassMethod)
				added = append(added, e)
			}
			addPlaceholders(e, idx)
		}
		if len(added) == 0 {
			continue
		}
		if ce == nil {
			ce = root.add(newElement("class")).set("name", name)
		}
		ce.children = append(ce.children, added...)
	}
	return root
}

// pointerArgs returns the indexes of arguments passed by pointer, CF types
// aside.
func (b *builder) pointerArgs(args []*model.Arg) []int {
	var idx []int
	for i, a := range args {
		if a.IsPointer() && !b.cfType(a.DeclaredType) {
			idx = append(idx, i)
		}
	}
	return idx
}

func addPlaceholders(e *element, idx []int) {
	for _, i := range idx {
		if e.find("arg", "index", strconv.Itoa(i)) != nil {
			continue
		}
		e.add(newElement("arg")).setIndex(i).set("type_modifier", "o").set("NEW", "1")
	}
}

func findMethod(class *element, meth *model.Method) *element {
	for _, c := range class.children {
		if c.name != "method" || c.attrs["selector"] != meth.Selector {
			continue
		}
		if (c.attrs["class_method"] == "true") == meth.ClassMethod {
			return c
		}
	}
	return nil
}

// allIn returns every top-level element called name across docs, in
// document order.
func allIn(docs []*overrides.Document, name string) []*overrides.Node {
	var out []*overrides.Node
	for _, doc := range docs {
		out = append(out, doc.Elements(name)...)
	}
	return out
}

// anyIn returns the first top-level element called name with the given
// name attribute.
func anyIn(docs []*overrides.Document, name, attr string) *overrides.Node {
	nodes := allIn(docs, name)
	if i := slices.IndexFunc(nodes, func(n *overrides.Node) bool { return n.Attr("name") == attr }); i >= 0 {
		return nodes[i]
	}
	return nil
}
