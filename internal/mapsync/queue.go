package mapsync

import (
	"go.uber.org/zap"

	"github.com/sells-group/coverage-map/internal/layers"
)

// event mutates synchronizer state and records what must be rebuilt.
type event func(s *Synchronizer, fx *effects)

// queued is an event plus how many callback generations deep it was raised.
// Inputs from outside any callback have depth 0.
type queued struct {
	ev    event
	depth int
}

// callback runs after the batch that scheduled it, with inputs that queue at
// depth.
type callback struct {
	fn    func(in Inputs)
	depth int
}

// effects collects the outcome of a batch of events.
type effects struct {
	categories map[layers.Category]bool
	callbacks  []callback
	depth      int
}

func (fx *effects) dirty(cats ...layers.Category) {
	if fx.categories == nil {
		fx.categories = make(map[layers.Category]bool, len(cats))
	}
	for _, c := range cats {
		fx.categories[c] = true
	}
}

// after schedules fn to run once the batch is committed. Inputs fn raises
// through in are one generation deeper than the event that scheduled it.
func (fx *effects) after(fn func(in Inputs)) {
	fx.callbacks = append(fx.callbacks, callback{fn: fn, depth: fx.depth + 1})
}

// dispatch queues ev and returns once it has been applied, by this goroutine
// or by whichever one held the drain when it was queued.
func (s *Synchronizer) dispatch(ev event) {
	s.enqueue(queued{ev: ev})
	s.drain()
}

// raise queues ev from inside a callback. The goroutine running the callback
// applies it after the callback returns; nothing recurses.
func (s *Synchronizer) raise(depth int, ev event) {
	s.enqueue(queued{ev: ev, depth: depth})
}

func (s *Synchronizer) enqueue(q queued) {
	s.qmu.Lock()
	s.queue = append(s.queue, q)
	s.qmu.Unlock()
}

// drain applies queued batches until the queue is empty. Batches are applied
// one at a time under drainMu; callbacks run after it is released so other
// goroutines can apply their own inputs meanwhile.
func (s *Synchronizer) drain() {
	for {
		s.drainMu.Lock()
		s.qmu.Lock()
		batch := s.queue
		s.queue = nil
		s.qmu.Unlock()
		if len(batch) == 0 {
			s.drainMu.Unlock()
			return
		}
		callbacks := s.apply(batch)
		s.drainMu.Unlock()

		for _, cb := range callbacks {
			cb.fn(&callbackInputs{s: s, depth: cb.depth})
		}
	}
}

// apply runs a batch of events and rebuilds each dirty category once, in
// category order, under the state lock. Events raised MaxDepth or more
// callback generations deep are dropped.
func (s *Synchronizer) apply(batch []queued) []callback {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fx effects
	for _, q := range batch {
		if q.depth >= s.settings.MaxDepth {
			zap.L().Warn("mapsync: dropping re-entrant update past depth limit",
				zap.Int("depth", q.depth),
				zap.Int("max_depth", s.settings.MaxDepth),
			)
			continue
		}
		fx.depth = q.depth
		q.ev(s, &fx)
	}
	for _, cat := range layers.Categories {
		if fx.categories[cat] {
			s.rebuild(cat)
		}
	}
	return fx.callbacks
}
