package kernel

import (
	"runtime"
	"sync"
	"testing"
)

func TestMailboxTryRecvEmpty(t *testing.T) {
	var mb Mailbox

	_, ok := mb.TryRecv()
	if ok {
		t.Fatalf("TryRecv() ok = true, want false")
	}
}

func TestMailboxTrySendFull(t *testing.T) {
	var mb Mailbox
	var ev Event

	for i := 0; i < mailboxSlots; i++ {
		if ok := mb.TrySend(ev); !ok {
			t.Fatalf("TrySend() ok = false at slot %d, want true", i)
		}
	}
	if ok := mb.TrySend(ev); ok {
		t.Fatalf("TrySend() ok = true when full, want false")
	}
	if got := mb.Len(); got != mailboxSlots {
		t.Fatalf("Len() = %d, want %d", got, mailboxSlots)
	}

	for i := 0; i < mailboxSlots; i++ {
		if _, ok := mb.TryRecv(); !ok {
			t.Fatalf("TryRecv() ok = false at slot %d, want true", i)
		}
	}
}

func TestMailboxConcurrentProducers(t *testing.T) {
	oldProcs := runtime.GOMAXPROCS(1)
	defer runtime.GOMAXPROCS(oldProcs)

	const (
		producers = 4
		perProd   = 10_000
		total     = producers * perProd
	)

	var mb Mailbox

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(producers)
	for producerID := 0; producerID < producers; producerID++ {
		go func(producerID int) {
			defer wg.Done()
			<-start
			for i := 0; i < perProd; i++ {
				mb.Send(Event{Seq: uint32(producerID*perProd + i)})
			}
		}(producerID)
	}
	close(start)

	seen := make([]bool, total)
	for i := 0; i < total; i++ {
		ev := mb.Recv()
		if int(ev.Seq) >= total {
			t.Fatalf("Recv() seq = %d, want < %d", ev.Seq, total)
		}
		if seen[ev.Seq] {
			t.Fatalf("Recv() duplicate seq %d", ev.Seq)
		}
		seen[ev.Seq] = true
	}

	wg.Wait()
}
