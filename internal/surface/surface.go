package surface

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"io"
)

const svgNS = "http://www.w3.org/2000/svg"

// Surface is an SVG drawing rooted at a single <svg> element.
type Surface struct {
	root *Element
}

// New creates an empty surface with the given root class.
func New(class string) *Surface {
	root := NewElement("svg")
	root.Set("xmlns", svgNS)
	if class != "" {
		root.Set("class", class)
	}
	return &Surface{root: root}
}

// Root returns the <svg> element.
func (s *Surface) Root() *Element { return s.root }

// SetSize sets the width and height of the root element.
func (s *Surface) SetSize(width, height float64) {
	s.root.SetFloat("width", width)
	s.root.SetFloat("height", height)
}

// Size returns the width and height of the root element.
func (s *Surface) Size() (width, height float64) {
	width, _ = s.root.Float("width")
	height, _ = s.root.Float("height")
	return width, height
}

// Bytes serializes the surface.
func (s *Surface) Bytes() []byte {
	var buf bytes.Buffer
	_, _ = s.WriteTo(&buf)
	return buf.Bytes()
}

// WriteTo writes the surface as a standalone SVG fragment (no XML prolog),
// suitable for inline embedding or serving as image/svg+xml.
func (s *Surface) WriteTo(w io.Writer) (int64, error) {
	cw := &countWriter{w: w}
	bw := bufio.NewWriter(cw)
	if err := writeElement(bw, s.root); err != nil {
		return cw.n, err
	}
	err := bw.Flush()
	return cw.n, err
}

func writeElement(w *bufio.Writer, e *Element) error {
	w.WriteByte('<')
	w.WriteString(e.Tag)
	for _, a := range e.attrs {
		w.WriteByte(' ')
		w.WriteString(a.name)
		w.WriteString(`="`)
		if err := xml.EscapeText(w, []byte(a.value)); err != nil {
			return err
		}
		w.WriteByte('"')
	}

	if e.Text == "" && len(e.children) == 0 {
		_, err := w.WriteString("/>")
		return err
	}
	w.WriteByte('>')

	if e.Text != "" {
		if err := xml.EscapeText(w, []byte(e.Text)); err != nil {
			return err
		}
	}
	for _, c := range e.children {
		if err := writeElement(w, c); err != nil {
			return err
		}
	}

	w.WriteString("</")
	w.WriteString(e.Tag)
	_, err := w.WriteString(">")
	return err
}

type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
