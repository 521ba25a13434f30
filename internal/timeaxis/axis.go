package timeaxis

import (
	"time"

	"schedview/internal/model"
)

// Axis maps timestamps onto a horizontal pixel interval.
//
// The mapping is linear: a timestamp at the domain start projects to the
// range left edge and one at the domain end to the right edge, exactly.
// Timestamps outside the domain extrapolate; nothing is clipped.
// The zero value is usable and projects everything to 0.
type Axis struct {
	start, end  time.Time
	left, right float64
}

// New returns an axis over the given domain and pixel range.
func New(d model.Domain, left, right float64) *Axis {
	a := &Axis{}
	a.SetDomain(d.Start, d.End)
	a.SetRange(left, right)
	return a
}

// SetDomain sets the time interval [earliest, latest].
func (a *Axis) SetDomain(earliest, latest time.Time) {
	a.start, a.end = earliest, latest
}

// SetRange sets the pixel interval [left, right].
func (a *Axis) SetRange(left, right float64) {
	a.left, a.right = left, right
}

func (a *Axis) Domain() model.Domain {
	return model.Domain{Start: a.start, End: a.end}
}

func (a *Axis) Range() (left, right float64) {
	return a.left, a.right
}

// Project returns the pixel coordinate for t. A degenerate domain (single
// instant, including an unset one) projects every timestamp to the left edge.
func (a *Axis) Project(t time.Time) float64 {
	if a.Domain().Degenerate() {
		return a.left
	}
	span := a.end.Sub(a.start)

	f := float64(t.Sub(a.start)) / float64(span)
	w := a.right - a.left

	// Interpolate from the nearer edge so both endpoints are exact.
	if f <= 0.5 {
		return a.left + f*w
	}
	return a.right - (1-f)*w
}

// Width returns the projected width of [start, end]. It is negative when end
// precedes start.
func (a *Axis) Width(start, end time.Time) float64 {
	return a.Project(end) - a.Project(start)
}
