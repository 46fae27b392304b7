package canvas

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/coverage-map/internal/model"
)

// ErrNotReady is returned by Attach before the canvas is ready.
var ErrNotReady = eris.New("canvas: not ready")

// Stats counts canvas operations.
type Stats struct {
	Attached     int `json:"attached"`
	Attaches     int `json:"attaches"`
	Detaches     int `json:"detaches"`
	PeakAttached int `json:"peak_attached"`
}

// Memory is a concurrent-safe headless canvas. It keeps the attached groups
// so the HTTP surface can hand them to a browser map and tests can inspect
// them.
type Memory struct {
	mu         sync.RWMutex
	ready      bool
	groups     map[uuid.UUID]*Group
	order      []uuid.UUID
	view       View
	highlights []Highlight
	stats      Stats
	now        func() time.Time
}

// NewMemory creates a ready canvas with the given initial view.
func NewMemory(view View) *Memory {
	return &Memory{
		ready:  true,
		groups: make(map[uuid.UUID]*Group),
		view:   view,
		now:    time.Now,
	}
}

// SetReady toggles canvas availability.
func (m *Memory) SetReady(ready bool) {
	m.mu.Lock()
	m.ready = ready
	m.mu.Unlock()
}

// SetClock overrides the clock used for highlight expiry.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Ready implements Canvas.
func (m *Memory) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// Attach implements Canvas.
func (m *Memory) Attach(g *Group) error {
	if g == nil {
		return eris.New("canvas: attach nil group")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ready {
		return ErrNotReady
	}
	if _, ok := m.groups[g.ID]; ok {
		return eris.Errorf("canvas: group %s already attached", g.ID)
	}

	m.groups[g.ID] = g
	m.order = append(m.order, g.ID)
	m.stats.Attaches++
	m.stats.Attached = len(m.groups)
	if m.stats.Attached > m.stats.PeakAttached {
		m.stats.PeakAttached = m.stats.Attached
	}
	return nil
}

// Detach implements Canvas.
func (m *Memory) Detach(g *Group) {
	if g == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[g.ID]; !ok {
		return
	}
	delete(m.groups, g.ID)
	for i, id := range m.order {
		if id == g.ID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.stats.Detaches++
	m.stats.Attached = len(m.groups)
}

// View implements Canvas.
func (m *Memory) View() View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view
}

// SetView implements Canvas.
func (m *Memory) SetView(center model.LatLng, zoom int) {
	m.mu.Lock()
	m.view = View{Center: center, Zoom: zoom}
	m.mu.Unlock()
}

// Flash implements Canvas.
func (m *Memory) Flash(center model.LatLng, radiusMeters float64, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.highlights = append(m.pruneLocked(), Highlight{
		Center:       center,
		RadiusMeters: radiusMeters,
		ExpiresAt:    m.now().Add(ttl),
	})
}

// Highlights returns the rings that have not expired yet.
func (m *Memory) Highlights() []Highlight {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.highlights = m.pruneLocked()
	return append([]Highlight(nil), m.highlights...)
}

func (m *Memory) pruneLocked() []Highlight {
	now := m.now()
	live := m.highlights[:0]
	for _, h := range m.highlights {
		if now.Before(h.ExpiresAt) {
			live = append(live, h)
		}
	}
	return live
}

// Attached returns the attached groups in attach order.
func (m *Memory) Attached() []*Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Group, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.groups[id])
	}
	return out
}

// AttachedNamed returns attached groups with the given name, sorted by id.
func (m *Memory) AttachedNamed(name string) []*Group {
	var out []*Group
	for _, g := range m.Attached() {
		if g.Name == name {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// Stats returns a snapshot of operation counters.
func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
