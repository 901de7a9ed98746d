// Package kernel models the three capabilities spec.md §1 says the
// surrounding kernel supplies to the network core: a yield primitive, a
// monotonic tick counter, and a mutex/condvar pair. The third is used
// directly via sync.Mutex/sync.Cond throughout the rest of the module; this
// package supplies the first two as small interfaces so timeout-driven code
// (ARP resolve, ICMP recv_reply, the DNS poll loop) can be tested against a
// fake clock instead of real wall-clock sleeps.
package kernel

import (
	"runtime"
	"time"

	"github.com/jonboulle/clockwork"
)

// TickHz is the kernel's documented tick rate; ticks are the unit ARP and
// ICMP timeouts are expressed in.
const TickHz = 100

// TickMS is the period of one tick in milliseconds.
const TickMS = 1000 / TickHz

// Tick is a monotonically increasing kernel tick count.
type Tick uint64

// Clock is the tick-counter collaborator. Now returns the current tick;
// TicksFor converts a millisecond duration to a (rounded-up) tick count.
type Clock interface {
	Now() Tick
	TicksFor(ms uint32) Tick
}

// Yielder is the scheduler-yield collaborator: it deschedules the calling
// task so other tasks (in particular, whatever delivers an interrupt or
// enqueues a reply) can make progress.
type Yielder interface {
	Yield()
}

// realClock drives Tick off a clockwork.Clock, so production code and tests
// share the same Clock interface while tests substitute a fake.
type realClock struct {
	start time.Time
	wc    clockwork.Clock
}

// NewClock returns a Clock backed by wc, with tick 0 anchored to the moment
// NewClock is called.
func NewClock(wc clockwork.Clock) Clock {
	return &realClock{start: wc.Now(), wc: wc}
}

func (c *realClock) Now() Tick {
	elapsed := c.wc.Since(c.start)

	return Tick(elapsed / (TickMS * time.Millisecond))
}

func (c *realClock) TicksFor(ms uint32) Tick {
	ticks := (uint64(ms) + TickMS - 1) / TickMS

	return Tick(ticks)
}

// GoschedYielder implements Yielder with runtime.Gosched, the idiomatic Go
// stand-in for a kernel-level voluntary yield.
type GoschedYielder struct{}

func (GoschedYielder) Yield() { runtime.Gosched() }
