// Package overrides reads override documents: hand-written signatures trees
// that correct and annotate what the extractor and resolver discovered.
package overrides

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// RootElement is the root element of every override and metadata document.
const RootElement = "signatures"

// Node is one element of a document tree.
type Node struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*Node
}

// Attr returns the value of attribute name, or "" when absent.
func (n *Node) Attr(name string) string {
	return n.Attrs[name]
}

// Has reports whether attribute name is present.
func (n *Node) Has(name string) bool {
	_, ok := n.Attrs[name]
	return ok
}

// True reports whether attribute name is the literal "true".
func (n *Node) True(name string) bool {
	return n.Attrs[name] == "true"
}

// Elements returns the direct children called name, in document order.
func (n *Node) Elements(name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Element returns the first direct child called name, or nil.
func (n *Node) Element(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Document is a parsed override document.
type Document struct {
	Path string
	Root *Node
}

// Elements returns the top-level directives called name.
func (d *Document) Elements(name string) []*Node {
	return d.Root.Elements(name)
}

// Load reads and parses the document at path.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening override document: %w", err)
	}
	defer f.Close()
	return Parse(f, path)
}

// LoadAll loads every path in order.
func LoadAll(paths []string) ([]*Document, error) {
	docs := make([]*Document, 0, len(paths))
	for _, p := range paths {
		d, err := Load(p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// Parse builds a document tree from r. The root element must be
// "signatures".
func Parse(r io.Reader, path string) (*Document, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false

	var stack []*Node
	var root *Node
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Name: t.Name.Local, Attrs: make(map[string]string, len(t.Attr))}
			for _, a := range t.Attr {
				n.Attrs[a.Name.Local] = a.Value
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("parsing %s: multiple root elements", path)
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.Text = strings.TrimSpace(top.Text)
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("parsing %s: empty document", path)
	}
	if root.Name != RootElement {
		return nil, fmt.Errorf("parsing %s: root element is <%s>, want <%s>", path, root.Name, RootElement)
	}
	return &Document{Path: path, Root: root}, nil
}
