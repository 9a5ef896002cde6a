package kernel

import (
	"runtime"
	"sync/atomic"
)

// Event is one interrupt request delivered to the dispatcher.
type Event struct {
	Line Line
	Seq  uint32
}

const mailboxSlots = 8

// Mailbox is a fixed-size multi-producer, single-consumer event queue.
// It is designed for bare-metal use: no allocations, busy-wait with Gosched().
type Mailbox struct {
	_     [0]func() // prevent accidental copying.
	head  atomic.Uint32
	tail  atomic.Uint32
	ready [mailboxSlots]atomic.Bool
	slots [mailboxSlots]Event
}

// TrySend attempts to enqueue an event, returning false if the mailbox is full.
func (mb *Mailbox) TrySend(ev Event) bool {
	head := mb.head.Load()
	tail := mb.tail.Load()
	if head-tail >= mailboxSlots {
		return false
	}

	// Reserve a slot.
	if !mb.head.CompareAndSwap(head, head+1) {
		return false
	}

	mb.slots[head%mailboxSlots] = ev
	mb.ready[head%mailboxSlots].Store(true)
	return true
}

// Send enqueues an event, blocking until it succeeds.
func (mb *Mailbox) Send(ev Event) {
	for !mb.TrySend(ev) {
		runtime.Gosched()
	}
}

// TryRecv attempts to dequeue one event, returning false if empty.
func (mb *Mailbox) TryRecv() (Event, bool) {
	tail := mb.tail.Load()
	head := mb.head.Load()
	if tail == head {
		return Event{}, false
	}

	slot := tail % mailboxSlots
	if !mb.ready[slot].Load() {
		// Reserved but not yet written.
		return Event{}, false
	}
	ev := mb.slots[slot]
	mb.ready[slot].Store(false)
	mb.tail.Store(tail + 1)
	return ev, true
}

// Recv blocks until one event is available.
func (mb *Mailbox) Recv() Event {
	for {
		ev, ok := mb.TryRecv()
		if ok {
			return ev
		}
		runtime.Gosched()
	}
}

// Len returns the number of queued events.
func (mb *Mailbox) Len() int {
	return int(mb.head.Load() - mb.tail.Load())
}
