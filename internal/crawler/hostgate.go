package crawler

import "sync"

// HostGate bounds how many tasks per host are in flight at once.
//
// Tasks over the limit wait in a per-host FIFO queue and are dispatched one
// at a time as Release frees slots. Nothing is guaranteed about ordering
// across hosts.
type HostGate[T any] struct {
	perHost  int
	dispatch func(T)

	mu    sync.Mutex
	hosts map[string]*hostSlot[T]

	// handoff, when set, runs between a Release popping a waiting task and
	// dispatching it. Tests use it to interleave admissions.
	handoff func(host string)
}

// hostSlot is the admission state of a single host.
type hostSlot[T any] struct {
	mu      sync.Mutex
	active  int
	pending []T
}

// NewHostGate creates a gate that lets at most perHost tasks per host reach
// dispatch concurrently. A perHost value below 1 is treated as 1.
func NewHostGate[T any](perHost int, dispatch func(T)) *HostGate[T] {
	if perHost < 1 {
		perHost = 1
	}
	return &HostGate[T]{
		perHost:  perHost,
		dispatch: dispatch,
		hosts:    make(map[string]*hostSlot[T]),
	}
}

// Admit dispatches task now if host has a free slot, or queues it otherwise.
// Every admitted task must eventually be followed by exactly one Release
// for the same host.
func (g *HostGate[T]) Admit(host string, task T) {
	slot := g.slot(host)

	slot.mu.Lock()
	if slot.active >= g.perHost {
		slot.pending = append(slot.pending, task)
		slot.mu.Unlock()
		return
	}
	slot.active++
	slot.mu.Unlock()

	// Dispatch outside the lock: a dispatch that fails synchronously
	// releases the slot again from the same goroutine.
	g.dispatch(task)
}

// Release frees one slot of host. If tasks are waiting for that host the
// oldest one takes over the slot directly, so no Admit racing with the
// release can jump the queue.
func (g *HostGate[T]) Release(host string) {
	slot := g.slot(host)

	slot.mu.Lock()
	if slot.active < 1 {
		slot.mu.Unlock()
		panic("crawler: HostGate.Release without matching Admit for host " + host)
	}
	if len(slot.pending) == 0 {
		slot.active--
		slot.mu.Unlock()
		return
	}
	next := slot.pending[0]
	var zero T
	slot.pending[0] = zero
	slot.pending = slot.pending[1:]
	slot.mu.Unlock()

	if g.handoff != nil {
		g.handoff(host)
	}
	g.dispatch(next)
}

// Active returns the number of dispatched, unreleased tasks for host.
func (g *HostGate[T]) Active(host string) int {
	slot, ok := g.lookup(host)
	if !ok {
		return 0
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.active
}

// Pending returns the number of tasks queued for host.
func (g *HostGate[T]) Pending(host string) int {
	slot, ok := g.lookup(host)
	if !ok {
		return 0
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return len(slot.pending)
}

// slot returns the state of host, creating it on first use.
func (g *HostGate[T]) slot(host string) *hostSlot[T] {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.hosts[host]
	if !ok {
		s = &hostSlot[T]{}
		g.hosts[host] = s
	}
	return s
}

// lookup returns the state of host without creating it.
func (g *HostGate[T]) lookup(host string) (*hostSlot[T], bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.hosts[host]
	return s, ok
}
