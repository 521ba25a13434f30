package widget

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedview/internal/fetch"
	"schedview/internal/model"
	"schedview/internal/render"
	"schedview/internal/source"
	"schedview/internal/viewport"
)

type loaderFunc func(ctx context.Context) (model.Collection, error)

func (f loaderFunc) Load(ctx context.Context) (model.Collection, error) { return f(ctx) }

func hm(h, m int) time.Time {
	return time.Date(2024, 5, 1, h, m, 0, 0, time.UTC)
}

func twoRooms() model.Collection {
	return model.Collection{Resources: []model.Resource{
		{Name: "A", Events: []model.Event{{Start: hm(9, 0), End: hm(10, 0), Color: "red"}}},
		{Name: "B", Events: []model.Event{{Start: hm(9, 30), End: hm(11, 0), Color: "blue"}}},
	}}
}

func static(c model.Collection) loaderFunc {
	return func(context.Context) (model.Collection, error) { return c, nil }
}

func svg(t *testing.T, w *Widget) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, w.WriteSVG(&buf))
	return buf.String()
}

func TestStateMachine(t *testing.T) {
	w := New()
	assert.Equal(t, Unmounted, w.State())

	assert.ErrorIs(t, w.Update(context.Background()), ErrDetached)
	_, err := w.Resize()
	assert.ErrorIs(t, err, ErrDetached)
	assert.ErrorIs(t, w.WriteSVG(&bytes.Buffer{}), ErrDetached)
	_, err = w.SVG()
	assert.ErrorIs(t, err, ErrDetached)

	w.SetElement(nil)
	assert.Equal(t, Unmounted, w.State())

	box := viewport.NewBox(750)
	w.SetElement(box)
	assert.Equal(t, MountedNoData, w.State())
	assert.ErrorIs(t, w.Update(context.Background()), ErrNoSource)

	// Resize before data only tracks the width.
	box.Resize(900)
	moved, err := w.Resize()
	require.NoError(t, err)
	assert.Zero(t, moved)
	assert.Equal(t, MountedNoData, w.State())
	assert.Equal(t, 900.0, w.Snapshot().Width)

	w.SetLoader(static(twoRooms()))
	require.NoError(t, w.Update(context.Background()))
	assert.Equal(t, MountedWithData, w.State())

	box.Resize(1000)
	moved, err = w.Resize()
	require.NoError(t, err)
	assert.Equal(t, 2, moved)
	assert.Equal(t, MountedWithData, w.State())
}

func TestUpdateRendersTwoRows(t *testing.T) {
	w := New().SetElement(viewport.NewBox(750)).SetRowHeight(24).SetLoader(static(twoRooms()))
	require.NoError(t, w.Update(context.Background()))

	snap := w.Snapshot()
	assert.Equal(t, 48.0, snap.Height)
	require.NotNil(t, snap.Domain)
	assert.Equal(t, hm(9, 0), snap.Domain.Start)
	assert.Equal(t, hm(11, 0), snap.Domain.End)
	assert.Len(t, snap.Resources, 2)
	assert.NoError(t, snap.LastError)

	out := svg(t, w)
	assert.Contains(t, out, `width="750" height="48"`)
	assert.Contains(t, out, `<rect class="event" rx="3" ry="3" y="0" height="22" fill="red"`)
	assert.Contains(t, out, `x="150" width="300"`)
	assert.Contains(t, out, `x="300" width="450"`)

	// Re-running the same load leaves the drawing unchanged.
	require.NoError(t, w.Update(context.Background()))
	assert.Equal(t, out, svg(t, w))
}

func TestEnvelopeDomainFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookings.json")
	doc := `{"startTime": "2024-05-01 09:30:00", "endTime": "2024-05-01 10:30:00", "results": [
	  {"name": "A", "events": [{"startTime": "2024-05-01 09:00:00", "endTime": "2024-05-01 11:00:00", "color": "red"}]}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	w := New(WithLocation(time.UTC)).SetElement(viewport.NewBox(750))
	done := make(chan Update, 1)
	w.Subscribe(func(u Update) { done <- u })
	w.SetSource(path)

	var up Update
	select {
	case up = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("load did not complete")
	}
	require.NoError(t, up.Err)
	assert.NotEmpty(t, up.LoadID)
	assert.Equal(t, hm(9, 30), up.Domain.Start)
	assert.Equal(t, hm(10, 30), up.Domain.End)
	assert.Equal(t, path, w.Source())

	// 09:00 lies before the explicit window, so the event starts left of the
	// plot area and ends past its right edge.
	out := svg(t, w)
	assert.Contains(t, out, `x="-150" width="1200"`)
}

func TestEmptyCollection(t *testing.T) {
	w := New().SetElement(viewport.NewBox(750)).SetLoader(static(model.Collection{}))
	require.NoError(t, w.Update(context.Background()))
	assert.Equal(t, MountedWithData, w.State())
	assert.Nil(t, w.Snapshot().Domain)

	out := svg(t, w)
	assert.NotContains(t, out, "<g")
	assert.NotContains(t, out, "<rect")

	moved, err := w.Resize()
	require.NoError(t, err)
	assert.Zero(t, moved)
}

func TestRowsWithoutEventsUseDegenerateDomain(t *testing.T) {
	c := model.Collection{Resources: []model.Resource{{Name: "idle"}}}
	w := New().SetElement(viewport.NewBox(750)).SetLoader(static(c))
	require.NoError(t, w.Update(context.Background()))
	assert.Contains(t, svg(t, w), `>idle</text>`)
}

func TestFailedLoadKeepsPreviousData(t *testing.T) {
	fail := false
	boom := errors.New("boom")
	w := New().SetElement(viewport.NewBox(750)).SetLoader(loaderFunc(func(context.Context) (model.Collection, error) {
		if fail {
			return model.Collection{}, boom
		}
		return twoRooms(), nil
	}))
	require.NoError(t, w.Update(context.Background()))
	before := svg(t, w)

	fail = true
	assert.ErrorIs(t, w.Update(context.Background()), boom)
	assert.Equal(t, before, svg(t, w))
	assert.Equal(t, MountedWithData, w.State())
	assert.ErrorIs(t, w.Snapshot().LastError, boom)

	// A later successful load recovers.
	fail = false
	require.NoError(t, w.Update(context.Background()))
	assert.NoError(t, w.Snapshot().LastError)
}

func TestNewerUpdateSupersedesInFlight(t *testing.T) {
	started := make(chan struct{})
	calls := 0
	w := New().SetElement(viewport.NewBox(750))
	w.SetLoader(loaderFunc(func(ctx context.Context) (model.Collection, error) {
		calls++
		if calls == 1 {
			close(started)
			<-ctx.Done()
			return model.Collection{}, ctx.Err()
		}
		return twoRooms(), nil
	}))

	first := make(chan error, 1)
	go func() { first <- w.Update(context.Background()) }()
	<-started

	require.NoError(t, w.Update(context.Background()))

	select {
	case err := <-first:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(5 * time.Second):
		t.Fatal("first load was not canceled")
	}
	assert.Len(t, w.Snapshot().Resources, 2)
	assert.NoError(t, w.Snapshot().LastError)
}

func TestSetRowHeightRedraws(t *testing.T) {
	w := New().SetElement(viewport.NewBox(750)).SetLoader(static(twoRooms()))
	require.NoError(t, w.Update(context.Background()))

	w.SetRowHeight(40)
	assert.Equal(t, 80.0, w.Snapshot().Height)
	assert.Contains(t, svg(t, w), `height="38"`)
}

func TestVisibleHeight(t *testing.T) {
	w := New().SetHeight(300)
	assert.Equal(t, 300, w.VisibleHeight())
	w.SetHeight(-1)
	assert.Zero(t, w.VisibleHeight())
}

func TestInstancesAreIndependent(t *testing.T) {
	a := New().SetElement(viewport.NewBox(750)).SetLoader(static(twoRooms()))
	b := New().SetElement(viewport.NewBox(500))
	require.NoError(t, a.Update(context.Background()))

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, MountedNoData, b.State())
	assert.NotContains(t, svg(t, b), "<g")
}

func TestSubscribeUnsubscribe(t *testing.T) {
	w := New().SetElement(viewport.NewBox(750)).SetLoader(static(twoRooms()))
	var got []Update
	unsub := w.Subscribe(func(u Update) { got = append(got, u) })

	require.NoError(t, w.Update(context.Background()))
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Resources)
	assert.Equal(t, 2, got[0].Events)
	assert.Equal(t, w.ID(), got[0].WidgetID)
	assert.Equal(t, render.Result{Rows: 2, Events: 2, Entered: 11}, got[0].Rendered)

	unsub()
	require.NoError(t, w.Update(context.Background()))
	assert.Len(t, got, 1)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "mounted-withdata", MountedWithData.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestOptionsApplyToSourceAndGeometry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slots.json")
	doc := `{"items": [{"title": "Desk 1", "slots": [{"from": "2024-05-01 09:00:00", "to": "2024-05-01 10:00:00", "color": "green"}]}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	fields := source.Fields{
		Results:    "items",
		Name:       "title",
		Events:     []string{"slots"},
		EventStart: []string{"from"},
		EventEnd:   []string{"to"},
	}
	f := fetch.New("")
	w := New(
		WithFetcher(f),
		WithFields(fields),
		WithLocation(time.UTC),
		WithPaddingLeft(100),
		WithFontSize(10),
	).SetElement(viewport.NewBox(700))

	left, right := w.axis.Range()
	assert.Equal(t, 100.0, left)
	assert.Equal(t, 700.0, right)
	assert.Equal(t, 10.0, w.view.Geometry().FontSize)

	done := make(chan Update, 1)
	w.Subscribe(func(u Update) { done <- u })
	w.SetSource(path)

	select {
	case up := <-done:
		require.NoError(t, up.Err)
		assert.Equal(t, 1, up.Resources)
		assert.Equal(t, 1, up.Events)
	case <-time.After(5 * time.Second):
		t.Fatal("load did not complete")
	}

	w.mu.Lock()
	js, ok := w.loader.(*source.JSON)
	w.mu.Unlock()
	require.True(t, ok)
	assert.Same(t, f, js.Fetcher)
	assert.Equal(t, "items", js.Fields.Results)
	assert.Equal(t, time.UTC, js.Location)

	// A single event spans the whole derived domain, i.e. [100, 700].
	out := svg(t, w)
	assert.Contains(t, out, `x="100" width="600"`)
	assert.Contains(t, out, `>Desk 1</text>`)
}
