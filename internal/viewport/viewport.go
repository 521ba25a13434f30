package viewport

import (
	"errors"

	"schedview/internal/model"
	"schedview/internal/render"
	"schedview/internal/surface"
	"schedview/internal/timeaxis"
)

// Defaults for a newly mounted chart.
const (
	DefaultWidth       = 400
	DefaultRowHeight   = 24
	DefaultPaddingLeft = 150
)

// ErrNoContainer is returned when geometry is requested before a container
// has been attached.
var ErrNoContainer = errors.New("viewport: no container")

// Container is the element the chart is mounted in. Width reports its
// current inner width in pixels.
type Container interface {
	Width() int
}

// Controller owns the pixel dimensions of a drawing surface. Width is read
// from the container; height is derived from the row count.
type Controller struct {
	container Container
	axis      *timeaxis.Axis
	surface   *surface.Surface

	width       float64
	height      float64
	rowHeight   float64
	paddingLeft float64
	fontSize    float64
}

// New creates a controller drawing onto s with the given axis.
func New(s *surface.Surface, axis *timeaxis.Axis) *Controller {
	return &Controller{
		axis:        axis,
		surface:     s,
		width:       DefaultWidth,
		rowHeight:   DefaultRowHeight,
		paddingLeft: DefaultPaddingLeft,
		fontSize:    render.DefaultFontSize,
	}
}

// Attach sets the container and computes the initial viewport.
func (c *Controller) Attach(ct Container) error {
	if ct == nil {
		return ErrNoContainer
	}
	c.container = ct
	_, err := c.measure()
	return err
}

func (c *Controller) Attached() bool { return c.container != nil }

func (c *Controller) SetRowHeight(px float64) {
	if px > 0 {
		c.rowHeight = px
	}
}

func (c *Controller) SetPaddingLeft(px float64) {
	if px >= 0 {
		c.paddingLeft = px
	}
}

func (c *Controller) SetFontSize(px float64) {
	if px > 0 {
		c.fontSize = px
	}
}

func (c *Controller) Width() float64     { return c.width }
func (c *Controller) Height() float64    { return c.height }
func (c *Controller) RowHeight() float64 { return c.rowHeight }

// Geometry returns the current render geometry.
func (c *Controller) Geometry() render.Geometry {
	return render.Geometry{
		Width:       c.width,
		RowHeight:   c.rowHeight,
		PaddingLeft: c.paddingLeft,
		FontSize:    c.fontSize,
	}
}

// SetWidth applies a new pixel width: the axis range becomes
// [paddingLeft, width] and the surface is resized.
func (c *Controller) SetWidth(px float64) {
	if px < 0 {
		px = 0
	}
	c.width = px
	c.axis.SetRange(c.paddingLeft, c.width)
	c.surface.SetSize(c.width, c.height)
}

// measure reads the container width and applies it.
func (c *Controller) measure() (float64, error) {
	if c.container == nil {
		return 0, ErrNoContainer
	}
	c.SetWidth(float64(c.container.Width()))
	return c.width, nil
}

// OnResize re-reads the container width. With data present, existing event
// rectangles and row backgrounds are repositioned in place; nothing is
// created or removed and vertical placement is kept. Without data it stops
// after updating the axis range. It returns the number of events moved.
func (c *Controller) OnResize(hasData bool) (int, error) {
	width, err := c.measure()
	if err != nil {
		return 0, err
	}
	if !hasData {
		return 0, nil
	}
	return render.Reposition(c.surface, c.axis, width), nil
}

// Render performs a full render of resources: the axis range is refreshed,
// the height becomes rowHeight × len(resources) and all elements are
// created or updated.
func (c *Controller) Render(resources []model.Resource) (render.Result, error) {
	if _, err := c.measure(); err != nil {
		return render.Result{}, err
	}
	c.height = c.rowHeight * float64(len(resources))
	c.surface.SetSize(c.width, c.height)
	return render.Render(c.surface, resources, c.axis, c.Geometry()), nil
}
