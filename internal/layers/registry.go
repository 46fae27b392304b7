package layers

import (
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coverage-map/internal/canvas"
)

// ErrCanvasUnavailable is returned when the canvas cannot accept drawables.
// Mounted state is left untouched.
var ErrCanvasUnavailable = eris.New("layers: canvas unavailable")

// Registry keeps at most one mounted group per category. It is the only
// holder of mounted group handles.
type Registry struct {
	mu      sync.RWMutex
	canvas  canvas.Canvas
	mounted map[Category]*canvas.Group
	bus     *EventBus
}

// NewRegistry creates a registry drawing onto c. bus may be nil.
func NewRegistry(c canvas.Canvas, bus *EventBus) *Registry {
	return &Registry{
		canvas:  c,
		mounted: make(map[Category]*canvas.Group),
		bus:     bus,
	}
}

// Mount replaces whatever is mounted under cat with g.
func (r *Registry) Mount(cat Category, g *canvas.Group) error {
	if g == nil {
		return eris.Errorf("layers: mount %s: nil group", cat)
	}
	return r.Replace(cat, g)
}

// Unmount removes the group mounted under cat, if any.
func (r *Registry) Unmount(cat Category) error {
	return r.Replace(cat, nil)
}

// Replace detaches and releases the current group for cat, then attaches g.
// A nil or empty g leaves the category unmounted. The swap happens under
// one lock so no reader sees both groups attached.
func (r *Registry) Replace(cat Category, g *canvas.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.canvas == nil || !r.canvas.Ready() {
		return ErrCanvasUnavailable
	}

	if old, ok := r.mounted[cat]; ok {
		r.canvas.Detach(old)
		old.Release()
		delete(r.mounted, cat)
		r.publish(Event{Category: cat, Action: ActionUnmounted, GroupID: old.ID, Size: old.Len()})
	}

	if g.Empty() {
		return nil
	}

	if g.Name == "" {
		g.Name = cat.String()
	}
	if err := r.canvas.Attach(g); err != nil {
		g.Release()
		return eris.Wrapf(err, "layers: attach %s", cat)
	}
	r.mounted[cat] = g
	r.publish(Event{Category: cat, Action: ActionMounted, GroupID: g.ID, Size: g.Len()})

	zap.L().Debug("layers: mounted",
		zap.Stringer("category", cat),
		zap.Int("size", g.Len()),
	)
	return nil
}

// Group returns the group mounted under cat.
func (r *Registry) Group(cat Category) (*canvas.Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.mounted[cat]
	return g, ok
}

// Mounted returns the categories that currently have a group, in order.
func (r *Registry) Mounted() []Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Category, 0, len(r.mounted))
	for cat := range r.mounted {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Summary returns drawable counts per mounted category name.
func (r *Registry) Summary() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.mounted))
	for cat, g := range r.mounted {
		out[cat.String()] = g.Len()
	}
	return out
}

// Bus returns the registry's event bus, possibly nil.
func (r *Registry) Bus() *EventBus {
	return r.bus
}

func (r *Registry) publish(e Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}
