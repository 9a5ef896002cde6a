package hal

import (
	"testing"
	"time"

	"stm32hal/ll"
)

func TestECCSingleErrorInterrupt(t *testing.T) {
	var infos []ECCInfo
	r := newRig(t, Config{})
	h := r.h
	if err := h.RegisterECCCorrectionCallback(func(h *Handle) {
		info, ok := h.ECCFailInfo(ECCSingle)
		if !ok {
			t.Error("ECCFailInfo(single) reported nothing inside the callback")
		}
		infos = append(infos, info)
	}); err != nil {
		t.Fatalf("RegisterECCCorrectionCallback: %v", err)
	}

	// Disabled: the event is latched but no interrupt is taken.
	if err := r.ctl.InjectECC(bank1Base+0x230, false); err != nil {
		t.Fatalf("InjectECC: %v", err)
	}
	if n := r.sys.Dispatch(); n != 0 {
		t.Fatalf("Dispatch() = %d with ECC interrupt disabled, want 0", n)
	}

	if err := h.EnableECCIT(); err != nil {
		t.Fatalf("EnableECCIT: %v", err)
	}
	if err := r.ctl.InjectECC(bank1Base+0x230, false); err != nil {
		t.Fatalf("InjectECC: %v", err)
	}
	r.sys.Dispatch()

	if len(infos) != 1 {
		t.Fatalf("ECCCorrection calls = %d, want 1", len(infos))
	}
	want := ECCInfo{Area: ll.AreaUser, Bank: 1, Addr: bank1Base + 0x230}
	if infos[0] != want {
		t.Fatalf("ECCFailInfo(single) = %+v, want %+v", infos[0], want)
	}
	if _, ok := h.ECCFailInfo(ECCSingle); ok {
		t.Fatal("single error still pending after the handler")
	}
	if r.ctl.Snapshot().ECCCORR&ll.ECCCORR_ECCCIE == 0 {
		t.Fatal("clearing the flag disabled the interrupt")
	}

	if err := h.DisableECCIT(); err != nil {
		t.Fatalf("DisableECCIT: %v", err)
	}
	if r.ctl.Snapshot().ECCCORR&ll.ECCCORR_ECCCIE != 0 {
		t.Fatal("ECCCIE still set")
	}
}

func TestECCSingleErrorDuringProgramIT(t *testing.T) {
	eccCalls, doneCalls := 0, 0
	r := newRig(t, Config{Callbacks: Callbacks{
		ECCCorrection:   func(*Handle) { eccCalls++ },
		ProgramComplete: func(*Handle, uint32, uint32) { doneCalls++ },
	}})
	if err := r.h.EnableECCIT(); err != nil {
		t.Fatalf("EnableECCIT: %v", err)
	}
	if err := r.h.ProgramByAddrIT(userBase, pattern(32)); err != nil {
		t.Fatalf("ProgramByAddrIT: %v", err)
	}
	if err := r.ctl.InjectECC(userBase+0x4000, false); err != nil {
		t.Fatalf("InjectECC: %v", err)
	}
	r.sys.Dispatch()

	if eccCalls != 1 || doneCalls != 1 {
		t.Fatalf("ECCCorrection calls = %d, ProgramComplete calls = %d, want 1 and 1", eccCalls, doneCalls)
	}
}

func TestECCDoubleErrorNMI(t *testing.T) {
	handled := false
	calls := 0
	r := newRig(t, Config{Callbacks: Callbacks{
		ECCDetection: func(h *Handle) bool {
			calls++
			return handled
		},
	}})
	r.ctl.SetBankSwap(true)

	if err := r.h.ProgramByAddr(userBase+0x800, pattern(16), time.Second); err != nil {
		t.Fatalf("ProgramByAddr: %v", err)
	}
	if err := r.ctl.InjectECC(userBase+0x804, true); err != nil {
		t.Fatalf("InjectECC: %v", err)
	}
	r.sys.Dispatch()
	if calls != 1 {
		t.Fatalf("ECCDetection calls = %d, want 1", calls)
	}

	// Not handled: the flag stays latched.
	info, ok := r.h.ECCFailInfo(ECCDouble)
	if !ok {
		t.Fatal("ECCFailInfo(double) reported nothing")
	}
	want := ECCInfo{Area: ll.AreaUser, Bank: 0, Addr: userBase + 0x800, Data: 0x08070605}
	if info != want {
		t.Fatalf("ECCFailInfo(double) = %+v, want %+v", info, want)
	}

	handled = true
	r.h.NMIIRQHandler()
	if calls != 2 {
		t.Fatalf("ECCDetection calls = %d, want 2", calls)
	}
	if _, ok := r.h.ECCFailInfo(ECCDouble); ok {
		t.Fatal("double error still latched after it was handled")
	}
}

func TestECCDefaultDetectionLeavesFlag(t *testing.T) {
	r := newRig(t, Config{})
	if err := r.ctl.InjectECC(edataBase+0x20, true); err != nil {
		t.Fatalf("InjectECC: %v", err)
	}
	r.sys.Dispatch()
	info, ok := r.h.ECCFailInfo(ECCDouble)
	if !ok {
		t.Fatal("ECCFailInfo(double) reported nothing")
	}
	if info.Area != ll.AreaEDATA || info.Addr != edataBase+0x20 {
		t.Fatalf("ECCFailInfo(double) = %+v", info)
	}
}
