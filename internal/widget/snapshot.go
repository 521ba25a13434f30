package widget

import (
	"time"

	"schedview/internal/model"
)

// Snapshot is a read-only copy of a widget's state.
type Snapshot struct {
	ID            string
	State         State
	Source        string
	Width         float64
	Height        float64
	RowHeight     float64
	VisibleHeight int
	Domain        *model.Domain
	Resources     []model.Resource
	LoadedAt      time.Time
	LastError     error
}

// Snapshot returns the current state. Resources are shared with the widget
// and must not be modified; each load replaces the slice rather than
// mutating it.
func (w *Widget) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Snapshot{
		ID:            w.id,
		State:         w.state,
		Source:        w.sourceURL,
		Width:         w.view.Width(),
		Height:        w.view.Height(),
		RowHeight:     w.view.RowHeight(),
		VisibleHeight: w.visibleHeight,
		Resources:     w.resources,
		LoadedAt:      w.loadedAt,
		LastError:     w.lastErr,
	}
	if w.hasDomain {
		d := w.domain
		s.Domain = &d
	}
	return s
}
