package crawler

import "sync"

// LevelBarrier is a reusable rendezvous between the orchestrator and the
// tasks of one BFS level.
//
// Each level starts with Reset, which registers the orchestrator as the
// first party. Tasks are registered before they are handed to a gate or pool
// and arrive when they finish. AwaitAdvance arrives for the orchestrator and
// waits until every party of the level has arrived.
type LevelBarrier struct {
	mu          sync.Mutex
	outstanding int
	phase       int
	done        chan struct{}
}

// NewLevelBarrier returns a barrier with no level open.
func NewLevelBarrier() *LevelBarrier {
	return &LevelBarrier{}
}

// Reset opens a new level with the orchestrator as its only party.
func (b *LevelBarrier) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.outstanding = 1
	b.done = make(chan struct{})
}

// Register adds a party to the current level.
func (b *LevelBarrier) Register() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.outstanding == 0 {
		panic("crawler: LevelBarrier.Register on a completed level")
	}
	b.outstanding++
}

// Arrive removes a party from the current level. The level completes when
// the last party arrives.
func (b *LevelBarrier) Arrive() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.outstanding == 0 {
		panic("crawler: LevelBarrier.Arrive without outstanding party")
	}
	b.outstanding--
	if b.outstanding == 0 {
		b.phase++
		close(b.done)
	}
}

// AwaitAdvance arrives for the orchestrator and blocks until every other
// party of the level has arrived. It returns the number of completed levels.
func (b *LevelBarrier) AwaitAdvance() int {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()

	b.Arrive()
	<-done

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

// Outstanding returns the number of parties that have not arrived yet.
func (b *LevelBarrier) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outstanding
}
