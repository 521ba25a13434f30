package viewport

import "sync/atomic"

// Box is a Container whose width is set by its owner, e.g. from the width a
// browser reports for the page element.
type Box struct {
	w atomic.Int64
}

func NewBox(width int) *Box {
	b := &Box{}
	b.Resize(width)
	return b
}

func (b *Box) Width() int { return int(b.w.Load()) }

// Resize sets the width; negative values are treated as zero.
func (b *Box) Resize(width int) {
	if width < 0 {
		width = 0
	}
	b.w.Store(int64(width))
}
