package render

import "golang.org/x/text/width"

const (
	DefaultFontSize = 12

	// charWidth is the average advance of a narrow glyph relative to the
	// font size. Wide (CJK, fullwidth) glyphs take twice as much.
	charWidth = 0.6
	labelGap  = 6
	ellipsis  = "…"
)

// TextWidth estimates the rendered width of s in pixels.
func TextWidth(s string, fontSize float64) float64 {
	units := 0
	for _, r := range s {
		units += runeUnits(r)
	}
	return float64(units) * charWidth * fontSize
}

func runeUnits(r rune) int {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return 2
	default:
		return 1
	}
}

// FitLabel shortens name with an ellipsis so it fits in the padding reserved
// for row labels. Names that already fit are returned unchanged.
func FitLabel(name string, padding, fontSize float64) string {
	if fontSize <= 0 {
		fontSize = DefaultFontSize
	}
	avail := padding - labelGap
	if avail <= 0 || TextWidth(name, fontSize) <= avail {
		return name
	}

	// One unit is kept for the ellipsis.
	budget := int(avail/(charWidth*fontSize)) - 1
	if budget <= 0 {
		return ellipsis
	}

	used := 0
	for i, r := range name {
		u := runeUnits(r)
		if used+u > budget {
			return name[:i] + ellipsis
		}
		used += u
	}
	return name
}
