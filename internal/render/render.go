package render

import (
	"strconv"
	"time"

	"schedview/internal/model"
	"schedview/internal/surface"
)

// Fixed visual constants.
const (
	CornerRadius = 3
	// LabelBaseline positions the label text within its row, as a fraction
	// of the row height.
	LabelBaseline = 0.625
	// EventGap is subtracted from the row height to separate stacked rows.
	EventGap = 2

	ClassObject = "object"
	ClassRow    = "row"
	ClassLabel  = "label"
	ClassEvent  = "event"
)

// Projector maps a timestamp to a horizontal pixel coordinate.
type Projector interface {
	Project(t time.Time) float64
}

// Geometry holds the pixel dimensions a render works with.
type Geometry struct {
	Width       float64
	RowHeight   float64
	PaddingLeft float64
	FontSize    float64
}

func (g Geometry) fontSize() float64 {
	if g.FontSize <= 0 {
		return DefaultFontSize
	}
	return g.FontSize
}

// Result summarizes a render pass.
type Result struct {
	Rows    int
	Events  int
	Entered int // elements created in this pass
}

const styleSheet = `text.label{font-family:sans-serif;dominant-baseline:auto}` +
	`rect.row:hover{fill:rgba(0,0,0,0.04)}` +
	`rect.event{stroke:rgba(0,0,0,0.15);stroke-width:1}`

// Render draws resources onto s, creating elements for rows and events not
// yet represented and refreshing the attributes of all of them. Elements are
// keyed by row and event index, so rendering the same input twice yields the
// same tree. Rows or events left over from a larger previous input are
// removed. Resources are never modified.
func Render(s *surface.Surface, resources []model.Resource, axis Projector, g Geometry) Result {
	var res Result
	root := s.Root()

	if len(resources) == 0 {
		root.Join("g", ClassObject, nil, nil)
		return res
	}

	if root.First("style") == nil {
		root.Append("style").SetText(styleSheet + labelFont(g.fontSize()))
		res.Entered++
	}

	rowKeys := make([]string, len(resources))
	for i := range resources {
		rowKeys[i] = strconv.Itoa(i)
	}

	rows := root.Join("g", ClassObject, rowKeys, func(el *surface.Element, _ int) {
		el.Append("rect").Set("class", ClassRow)
		el.Append("text").Set("class", ClassLabel)
		res.Entered += 3
	})

	for i, obj := range rows {
		r := resources[i]
		top := float64(i) * g.RowHeight
		obj.Datum = r

		obj.SetFloat("x", 0).
			SetFloat("y", top).
			SetFloat("width", g.Width).
			SetFloat("height", g.RowHeight)

		if bg := obj.First("rect"); bg != nil {
			bg.SetFloat("x", 0).
				SetFloat("y", top).
				SetFloat("width", g.Width).
				SetFloat("height", g.RowHeight).
				Set("fill", "transparent")
		}

		if label := obj.First("text"); label != nil {
			label.SetFloat("x", 0).
				SetFloat("y", top+LabelBaseline*g.RowHeight).
				SetFloat("height", g.RowHeight).
				SetText(FitLabel(r.Name, g.PaddingLeft, g.fontSize()))
		}

		evKeys := make([]string, len(r.Events))
		for j := range r.Events {
			evKeys[j] = strconv.Itoa(j)
		}
		rects := obj.Join("rect", ClassEvent, evKeys, func(el *surface.Element, _ int) {
			el.Append("title")
			res.Entered += 2
		})

		for j, rect := range rects {
			ev := r.Events[j]
			rect.Datum = ev
			rect.SetFloat("rx", CornerRadius).
				SetFloat("ry", CornerRadius).
				SetFloat("y", top).
				SetFloat("height", g.RowHeight-EventGap).
				Set("fill", ev.Color).
				Set("data-start", model.FormatDateTime(ev.Start)).
				Set("data-end", model.FormatDateTime(ev.End))
			placeEvent(rect, ev, axis)

			if title := rect.First("title"); title != nil {
				title.SetText(r.Name + ": " + model.FormatDateTime(ev.Start) + " – " + model.FormatDateTime(ev.End))
			}
		}
		res.Events += len(rects)
	}
	res.Rows = len(rows)

	return res
}

// Reposition updates the horizontal geometry of an existing drawing after a
// width change: event x/width and row/object width. Vertical placement and
// label text are left untouched and nothing is created or removed. It returns
// the number of event rectangles moved.
func Reposition(s *surface.Surface, axis Projector, width float64) int {
	moved := 0
	for _, obj := range s.Root().SelectAll(ClassObject) {
		obj.SetFloat("width", width)
		for _, c := range obj.Children() {
			switch {
			case c.HasClass(ClassRow):
				c.SetFloat("width", width)
			case c.HasClass(ClassEvent):
				ev, ok := c.Datum.(model.Event)
				if !ok {
					continue
				}
				placeEvent(c, ev, axis)
				moved++
			}
		}
	}
	return moved
}

// placeEvent sets x and width from the axis. The width is not sanitized: an
// event ending before it starts gets a negative width.
func placeEvent(rect *surface.Element, ev model.Event, axis Projector) {
	x := axis.Project(ev.Start)
	rect.SetFloat("x", x).
		SetFloat("width", axis.Project(ev.End)-x)
}

func labelFont(size float64) string {
	return `text.label{font-size:` + surface.FormatFloat(size) + `px}`
}
