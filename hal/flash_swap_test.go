package hal

import (
	"bytes"
	"testing"
	"time"

	"stm32hal/ll"
)

func TestBankSwapAddressResolution(t *testing.T) {
	r := newRig(t, Config{})
	r.ctl.SetBankSwap(true)
	h := r.h

	// The low window is physical bank 1 while swapped.
	if err := h.EraseByAddr(userBase+3*pageSize, 1, time.Second); err != nil {
		t.Fatalf("EraseByAddr: %v", err)
	}
	if err := h.ErasePage(1, 5, 1, time.Second); err != nil {
		t.Fatalf("ErasePage: %v", err)
	}
	if err := h.EDATAErasePage(0, 1, 1, time.Second); err != nil {
		t.Fatalf("EDATAErasePage: %v", err)
	}
	want := []pageRef{{ll.AreaUser, 1, 3}, {ll.AreaUser, 0, 5}, {ll.AreaEDATA, 1, 1}}
	if got := erasedPages(r.ctl.Ops()); !equalPages(got, want) {
		t.Fatalf("erased pages = %v, want %v", got, want)
	}

	r.ctl.ClearOps()
	if err := h.EraseBank(0, time.Second); err != nil {
		t.Fatalf("EraseBank: %v", err)
	}
	if ops := r.ctl.Ops(); len(ops) != 1 || ops[0].Bank != 1 {
		t.Fatalf("bank erase ops = %+v, want physical bank 1", ops)
	}
	if got := h.EraseBankOperationInfo().Bank; got != 0 {
		t.Fatalf("EraseBankOperationInfo().Bank = %d, want 0", got)
	}
}

func TestBankSwapProgramAndProtect(t *testing.T) {
	r := newRig(t, Config{})
	r.ctl.SetBankSwap(true)
	r.ctl.Protect(1, 0)

	// Physical bank 1 page 0 answers at the first user address.
	if err := r.h.ProgramByAddr(userBase, pattern(16), time.Second); err == nil {
		t.Fatal("ProgramByAddr into protected page succeeded")
	}
	if err := r.h.ProgramByAddr(bank1Base, pattern(16), time.Second); err != nil {
		t.Fatalf("ProgramByAddr: %v", err)
	}

	r.ctl.SetBankSwap(false)
	if got := r.read(userBase, 16); !bytes.Equal(got, pattern(16)) {
		t.Fatalf("unswapped bank 0 = %x, want the data written through the swapped window", got)
	}
}

func TestInterruptedByReset(t *testing.T) {
	tests := []struct {
		name  string
		swap  bool
		start func(h *Handle) error
		want  InterruptedInfo
	}{
		{
			name:  "program",
			start: func(h *Handle) error { return h.ProgramByAddrIT(bank1Base+0x120, pattern(16)) },
			want:  InterruptedInfo{Kind: InterruptedProgram, Area: ll.AreaUser, Bank: 1, Addr: bank1Base + 0x120},
		},
		{
			name:  "program swapped",
			swap:  true,
			start: func(h *Handle) error { return h.ProgramByAddrIT(bank1Base+0x120, pattern(16)) },
			want:  InterruptedInfo{Kind: InterruptedProgram, Area: ll.AreaUser, Bank: 1, Addr: bank1Base + 0x120},
		},
		{
			name:  "page erase swapped",
			swap:  true,
			start: func(h *Handle) error { return h.ErasePageIT(0, 3, 2) },
			want:  InterruptedInfo{Kind: InterruptedPageErase, Area: ll.AreaUser, Bank: 0, Page: 3, Addr: userBase + 3*pageSize},
		},
		{
			name:  "edata page erase",
			start: func(h *Handle) error { return h.EDATAErasePageIT(1, 6, 1) },
			want:  InterruptedInfo{Kind: InterruptedPageErase, Area: ll.AreaEDATA, Bank: 1, Page: 6, Addr: edataBase + 16*1024 + 6*2048},
		},
		{
			name:  "otp program",
			start: func(h *Handle) error { return h.ProgramByAddrIT(otpBase+0x40, pattern(4)) },
			want:  InterruptedInfo{Kind: InterruptedProgram, Area: ll.AreaOTP, Addr: otpBase + 0x40},
		},
		{
			name:  "bank erase swapped",
			swap:  true,
			start: func(h *Handle) error { return h.EraseBankIT(1) },
			want:  InterruptedInfo{Kind: InterruptedBankErase, Area: ll.AreaUser, Bank: 1, Addr: bank1Base},
		},
		{
			name:  "mass erase",
			start: func(h *Handle) error { return h.MassEraseIT() },
			want:  InterruptedInfo{Kind: InterruptedMassErase},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, Config{})
			r.ctl.SetBankSwap(tt.swap)
			r.ctl.Stall(true)
			if err := tt.start(r.h); err != nil {
				t.Fatalf("start: %v", err)
			}
			r.ctl.Reset()

			// A fresh handle after reboot.
			h := New(Config{Bus: r.ctl.Registers(), Memory: r.ctl.Memory(), Tick: r.clk})
			if err := h.Init(); err != nil {
				t.Fatalf("Init: %v", err)
			}
			if got := h.InterruptedByResetOperationInfo(); got != tt.want {
				t.Fatalf("InterruptedByResetOperationInfo() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestInterruptedByResetNone(t *testing.T) {
	r := newRig(t, Config{})
	if err := r.h.ProgramByAddr(userBase, pattern(16), time.Second); err != nil {
		t.Fatalf("ProgramByAddr: %v", err)
	}
	if got := r.h.InterruptedByResetOperationInfo(); got.Kind != InterruptedNone {
		t.Fatalf("InterruptedByResetOperationInfo() = %+v, want none", got)
	}
}
