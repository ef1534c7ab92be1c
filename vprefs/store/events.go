package store

import (
	"sync"

	"github.com/ZanzyTHEbar/virtual-prefs/vprefs/store/common"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// ChangeEvent describes a committed Put or Remove on a node's cache. Value is
// empty when Removed is set.
type ChangeEvent struct {
	Node    *Node
	Key     string
	Value   string
	Removed bool
}

type listener struct {
	id uint64
	fn func(ChangeEvent)
}

// AddChangeListener registers fn for changes made to this node through this
// process. Events are delivered on a single background goroutine in the order
// the changes were made. The returned func unregisters fn.
func (n *Node) AddChangeListener(fn func(ChangeEvent)) (func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.removed {
		return nil, common.ErrNodeRemoved
	}
	n.nextListener++
	id := n.nextListener
	n.listeners = append(n.listeners, listener{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { n.removeListener(id) })
	}, nil
}

func (n *Node) removeListener(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, l := range n.listeners {
		if l.id == id {
			n.listeners = append(n.listeners[:i:i], n.listeners[i+1:]...)
			return
		}
	}
}

// notifyLocked queues ev for the node's current listeners. The caller holds n.mu.
func (n *Node) notifyLocked(ev ChangeEvent) {
	if len(n.listeners) == 0 {
		return
	}
	fns := make([]func(ChangeEvent), len(n.listeners))
	for i, l := range n.listeners {
		fns[i] = l.fn
	}
	n.root.events.post(func() {
		for _, fn := range fns {
			n.root.events.deliver(fn, ev)
		}
	})
}

// dispatcher runs queued listener calls on one goroutine, started on first use.
type dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	started bool
	stopped bool
	wake    chan struct{}
	stop    chan struct{}
	wg      conc.WaitGroup
	logger  zerolog.Logger
}

func newDispatcher(logger zerolog.Logger) *dispatcher {
	return &dispatcher{
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		logger: logger,
	}
}

func (d *dispatcher) post(fn func()) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	if !d.started {
		d.started = true
		d.wg.Go(d.run)
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		stopped := d.stopped
		d.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}
		if stopped {
			return
		}

		select {
		case <-d.wake:
		case <-d.stop:
		}
	}
}

// deliver calls fn, logging instead of crashing when a listener panics.
func (d *dispatcher) deliver(fn func(ChangeEvent), ev ChangeEvent) {
	var pc panics.Catcher
	pc.Try(func() { fn(ev) })
	if r := pc.Recovered(); r != nil {
		d.logger.Error().
			Str("node", ev.Node.AbsolutePath()).
			Str("key", ev.Key).
			Interface("panic", r.Value).
			Msg("preference listener panicked")
	}
}

// close delivers whatever is queued and stops the goroutine.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.stop)
	d.mu.Unlock()

	d.wg.Wait()
}
