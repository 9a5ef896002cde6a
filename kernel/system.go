// Package kernel is the host-side interrupt loop: a modeled NVIC that queues
// interrupt requests and runs their handlers from a single owner goroutine,
// plus a 1 ms timebase.
package kernel

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"
)

// Handler services one interrupt line.
type Handler func()

// System owns the pending interrupt queue, the handler table and the timebase.
//
// Handlers only run from Dispatch, DispatchOne or Run, and never while the
// mask taken with Disable is held.
type System struct {
	mbox     Mailbox
	handlers [maxLines]Handler
	pending  atomic.Uint32
	seq      atomic.Uint32
	masked   atomic.Int32
	ticks    atomic.Uint32
	start    time.Time
	manual   bool
}

// NewSystem creates a kernel instance. Ticks are derived from the wall clock
// until StartTick or SetTicks is called.
func NewSystem() *System {
	return &System{start: time.Now()}
}

// StartTick starts a 1ms ticker that increments the kernel tick counter.
func (s *System) StartTick(ctx context.Context) {
	s.manual = true
	go func() {
		t := time.NewTicker(1 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.ticks.Add(1)
			}
		}
	}()
}

// SetTicks switches to a manually driven timebase.
func (s *System) SetTicks(ms uint32) {
	s.manual = true
	s.ticks.Store(ms)
}

// Milliseconds returns the free-running millisecond counter. It wraps.
func (s *System) Milliseconds() uint32 {
	if s.manual {
		return s.ticks.Load()
	}
	return uint32(time.Since(s.start).Milliseconds())
}

// Attach installs the handler for a line.
func (s *System) Attach(line Line, h Handler) {
	if line >= maxLines {
		return
	}
	s.handlers[line] = h
}

// Raise marks a line pending. A line that is already pending is not queued
// twice, like a level-triggered NVIC input.
func (s *System) Raise(line Line) bool {
	if line >= maxLines {
		return false
	}
	bit := uint32(1) << line
	for {
		old := s.pending.Load()
		if old&bit != 0 {
			return true
		}
		if s.pending.CompareAndSwap(old, old|bit) {
			break
		}
	}
	if !s.mbox.TrySend(Event{Line: line, Seq: s.seq.Add(1)}) {
		s.clearPending(line)
		return false
	}
	return true
}

// Pending reports whether a line has an undelivered request.
func (s *System) Pending(line Line) bool {
	return s.pending.Load()&(uint32(1)<<line) != 0
}

func (s *System) clearPending(line Line) {
	bit := uint32(1) << line
	for {
		old := s.pending.Load()
		if s.pending.CompareAndSwap(old, old&^bit) {
			return
		}
	}
}

// Disable masks handler delivery and returns the previous mask depth.
func (s *System) Disable() uintptr {
	return uintptr(s.masked.Add(1) - 1)
}

// Restore undoes one Disable.
func (s *System) Restore(state uintptr) {
	s.masked.Store(int32(state))
}

// Masked reports whether delivery is currently masked.
func (s *System) Masked() bool { return s.masked.Load() > 0 }

// DispatchOne delivers at most one pending request and reports whether a
// handler ran.
func (s *System) DispatchOne() bool {
	if s.Masked() {
		return false
	}
	ev, ok := s.mbox.TryRecv()
	if !ok {
		return false
	}
	s.clearPending(ev.Line)
	if h := s.handlers[ev.Line]; h != nil {
		h()
	}
	return true
}

// Dispatch delivers pending requests until none are left, including those
// raised by the handlers themselves, and returns how many ran.
func (s *System) Dispatch() int {
	n := 0
	for s.DispatchOne() {
		n++
	}
	return n
}

// Run dispatches interrupts until done reports true or ctx ends.
func (s *System) Run(ctx context.Context, done func() bool) error {
	for {
		s.Dispatch()
		if done != nil && done() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		runtime.Gosched()
	}
}
