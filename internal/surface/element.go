package surface

import (
	"strconv"
	"strings"
)

// Element is a node of the SVG tree.
//
// Attributes keep their insertion order so serialization is deterministic.
// Datum holds the value an element was bound to by Join, the same way a
// data-driven DOM keeps the datum on the node.
type Element struct {
	Tag   string
	Text  string
	Datum any

	key      string
	attrs    []attr
	children []*Element
}

type attr struct {
	name  string
	value string
}

// NewElement creates a detached element.
func NewElement(tag string) *Element {
	return &Element{Tag: tag}
}

// Key returns the data key the element was joined with, if any.
func (e *Element) Key() string { return e.key }

// Attr returns the value of an attribute.
func (e *Element) Attr(name string) (string, bool) {
	for _, a := range e.attrs {
		if a.name == name {
			return a.value, true
		}
	}
	return "", false
}

// Float returns an attribute parsed as a number. ok is false when the
// attribute is missing or not numeric.
func (e *Element) Float(name string) (float64, bool) {
	v, ok := e.Attr(name)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Set sets an attribute, replacing any previous value in place.
func (e *Element) Set(name, value string) *Element {
	for i := range e.attrs {
		if e.attrs[i].name == name {
			e.attrs[i].value = value
			return e
		}
	}
	e.attrs = append(e.attrs, attr{name: name, value: value})
	return e
}

// SetFloat sets a numeric attribute using the shortest exact representation.
func (e *Element) SetFloat(name string, v float64) *Element {
	return e.Set(name, FormatFloat(v))
}

// Class returns the class attribute.
func (e *Element) Class() string {
	v, _ := e.Attr("class")
	return v
}

// HasClass reports whether class is one of the element's classes.
func (e *Element) HasClass(class string) bool {
	for _, c := range strings.Fields(e.Class()) {
		if c == class {
			return true
		}
	}
	return false
}

// SetText replaces the element's text content.
func (e *Element) SetText(s string) *Element {
	e.Text = s
	return e
}

// Append adds a new child element and returns it.
func (e *Element) Append(tag string) *Element {
	child := NewElement(tag)
	e.children = append(e.children, child)
	return child
}

// Children returns the direct children. The slice must not be modified.
func (e *Element) Children() []*Element { return e.children }

// First returns the first direct child with the given tag.
func (e *Element) First(tag string) *Element {
	for _, c := range e.children {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// SelectAll returns all descendants carrying class, in document order.
func (e *Element) SelectAll(class string) []*Element {
	var out []*Element
	var walk func(n *Element)
	walk = func(n *Element) {
		for _, c := range n.children {
			if c.HasClass(class) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(e)
	return out
}

// Count returns the number of descendants (excluding e).
func (e *Element) Count() int {
	n := 0
	for _, c := range e.children {
		n += 1 + c.Count()
	}
	return n
}

// Join reconciles the direct children of e that carry class with keys.
//
// Children with a key in keys are kept, missing ones are created as
// <tag class="class"> and passed to enter, and children whose key is no
// longer present are removed. Children without the class are left in place
// ahead of the joined ones. The returned slice is in keys order.
func (e *Element) Join(tag, class string, keys []string, enter func(el *Element, i int)) []*Element {
	existing := make(map[string]*Element)
	others := make([]*Element, 0, len(e.children))
	for _, c := range e.children {
		if c.Tag == tag && c.HasClass(class) {
			existing[c.key] = c
			continue
		}
		others = append(others, c)
	}

	sel := make([]*Element, len(keys))
	for i, k := range keys {
		el, ok := existing[k]
		if !ok {
			el = NewElement(tag)
			el.key = k
			el.Set("class", class)
			if enter != nil {
				enter(el, i)
			}
		}
		sel[i] = el
	}

	e.children = append(others, sel...)
	return sel
}

// FormatFloat formats v without trailing zeros ("150", "412.5").
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
