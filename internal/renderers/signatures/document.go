package signatures

import (
	"bytes"
	"encoding/xml"
	"strconv"

	"github.com/dejo1307/bridgemeta/internal/model"
	"github.com/dejo1307/bridgemeta/internal/overrides"
)

// Version is written as the version attribute of every document.
const Version = "1.0"

const docType = `<!DOCTYPE signatures SYSTEM "file://localhost/System/Library/DTDs/BridgeSupport.dtd">`

// element is a mutable XML element. Attributes are written sorted by name;
// children keep insertion order.
type element struct {
	name     string
	attrs    map[string]string
	text     string
	children []*element
}

func newElement(name string) *element {
	return &element{name: name, attrs: make(map[string]string)}
}

// set stores an attribute. Empty values are not stored.
func (e *element) set(name, value string) *element {
	if value != "" {
		e.attrs[name] = value
	}
	return e
}

func (e *element) flag(name string, on bool) *element {
	if on {
		e.attrs[name] = "true"
	}
	return e
}

func (e *element) setIndex(i int) *element {
	return e.set("index", strconv.Itoa(i))
}

func (e *element) add(c *element) *element {
	e.children = append(e.children, c)
	return c
}

// find returns the first child named name whose attributes include all of
// the given name/value pairs.
func (e *element) find(name string, kv ...string) *element {
next:
	for _, c := range e.children {
		if c.name != name {
			continue
		}
		for i := 0; i+1 < len(kv); i += 2 {
			if c.attrs[kv[i]] != kv[i+1] {
				continue next
			}
		}
		return c
	}
	return nil
}

// fromNode deep-copies an override document node.
func fromNode(n *overrides.Node) *element {
	e := newElement(n.Name)
	for k, v := range n.Attrs {
		e.attrs[k] = v
	}
	e.text = n.Text
	for _, c := range n.Children {
		e.add(fromNode(c))
	}
	return e
}

func (e *element) encode(enc *xml.Encoder) error {
	start := xml.StartElement{Name: xml.Name{Local: e.name}}
	for _, k := range model.Names(e.attrs) {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: k}, Value: e.attrs[k]})
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if e.text != "" {
		if err := enc.EncodeToken(xml.CharData(e.text)); err != nil {
			return err
		}
	}
	for _, c := range e.children {
		if err := c.encode(enc); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

func newRoot() *element {
	return newElement("signatures").set("version", Version)
}

// write serializes a signatures document.
func write(root *element, doctype bool) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if doctype {
		buf.WriteString(docType + "\n")
	}
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := root.encode(enc); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
