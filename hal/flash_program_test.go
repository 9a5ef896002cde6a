package hal

import (
	"bytes"
	"testing"
	"time"

	"github.com/pkg/errors"

	"stm32hal/ll"
)

func TestProgramQuadWord(t *testing.T) {
	r := newRig(t, Config{})
	h := r.h

	data := pattern(16)
	if err := h.ProgramByAddr(userBase+0x100, data, time.Second); err != nil {
		t.Fatalf("ProgramByAddr: %v", err)
	}
	if h.count != 0 {
		t.Fatalf("count = %d, want 0", h.count)
	}
	if got := h.Operation(); got != OpNone {
		t.Fatalf("Operation() = %s, want none", got)
	}
	if got := h.State(); got != StateIdle {
		t.Fatalf("State() = %s, want idle", got)
	}
	if got := r.read(userBase+0x100, 16); !bytes.Equal(got, data) {
		t.Fatalf("flash = %x, want %x", got, data)
	}
	if r.ctl.Snapshot().CR&ll.CR_PG != 0 {
		t.Fatal("PG still set after programming")
	}
	info := h.ProgramOperationInfo()
	if info.Addr != userBase+0x100 || info.Size != 16 || info.Done != 16 || info.Area != ll.AreaUser {
		t.Fatalf("ProgramOperationInfo() = %+v", info)
	}
}

func TestProgramAdaptiveChunks(t *testing.T) {
	tests := []struct {
		name string
		addr uint32
		size int
		want []uint32
	}{
		{"quad plus word", userBase, 20, []uint32{16, 4}},
		{"three quads", userBase + 0x40, 48, []uint32{16, 16, 16}},
		{"sub quad", userBase + 0x80, 7, []uint32{4, 2, 1}},
		{"all widths", userBase + 0xC0, 31, []uint32{16, 8, 4, 2, 1}},
		{"edata", edataBase + 2, 6, []uint32{4, 2}},
		{"otp", otpBase, 10, []uint32{4, 4, 2}},
		{"edata across quad-word", edataBase + 14, 4, []uint32{2, 2}},
		{"otp across quad-word", otpBase + 14, 4, []uint32{2, 2}},
		{"edata tail of quad-word", edataBase + 10, 12, []uint32{4, 2, 4, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, Config{})
			data := pattern(tt.size)
			if err := r.h.ProgramByAddr(tt.addr, data, time.Second); err != nil {
				t.Fatalf("ProgramByAddr: %v", err)
			}
			if got := opSizes(r.ctl.Ops()); !equalU32(got, tt.want) {
				t.Fatalf("chunks = %v, want %v", got, tt.want)
			}
			if got := r.read(tt.addr, tt.size); !bytes.Equal(got, data) {
				t.Fatalf("flash = %x, want %x", got, data)
			}
		})
	}
}

func TestProgramFixedModeTail(t *testing.T) {
	tests := []struct {
		mode ProgrammingMode
		addr uint32
		size int
		want []uint32
	}{
		{ModeQuadWord, userBase, 40, []uint32{16, 16, 8}},
		{ModeQuadWord, userBase, 7, []uint32{7}},
		{ModeDoubleWord, userBase + 8, 20, []uint32{8, 8, 4}},
		{ModeWord, userBase + 4, 6, []uint32{4, 2}},
		{ModeHalfWord, userBase + 2, 5, []uint32{2, 2, 1}},
		{ModeByte, userBase + 3, 3, []uint32{1, 1, 1}},
		{ModeHalfWord, edataBase, 6, []uint32{2, 2, 2}},
		{ModeWord, otpBase + 4, 6, []uint32{4, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			r := newRig(t, Config{ProgrammingMode: tt.mode})
			data := pattern(tt.size)
			if err := r.h.ProgramByAddr(tt.addr, data, time.Second); err != nil {
				t.Fatalf("ProgramByAddr: %v", err)
			}
			if got := opSizes(r.ctl.Ops()); !equalU32(got, tt.want) {
				t.Fatalf("chunks = %v, want %v", got, tt.want)
			}
			if got := r.read(tt.addr, tt.size); !bytes.Equal(got, data) {
				t.Fatalf("flash = %x, want %x", got, data)
			}
		})
	}
}

func TestProgramRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		mode ProgrammingMode
		addr uint32
		size int
		want error
	}{
		{"empty", ModeAdaptive, userBase, 0, ErrInvalidParam},
		{"outside flash", ModeAdaptive, 0x20000000, 16, ErrInvalidParam},
		{"past user end", ModeAdaptive, userBase + 512*1024 - 16, 32, ErrInvalidParam},
		{"adaptive unaligned", ModeAdaptive, userBase + 8, 16, ErrInvalidParam},
		{"word unaligned", ModeWord, userBase + 2, 4, ErrInvalidParam},
		{"edata byte mode", ModeByte, edataBase, 2, ErrInvalidParam},
		{"edata quad mode", ModeQuadWord, edataBase, 16, ErrInvalidParam},
		{"edata odd address", ModeAdaptive, edataBase + 1, 2, ErrInvalidParam},
		{"edata odd size", ModeAdaptive, edataBase, 3, ErrInvalidParam},
		{"otp word unaligned", ModeWord, otpBase + 2, 4, ErrInvalidParam},
		{"otp past end", ModeAdaptive, otpBase + 2046, 4, ErrInvalidParam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, Config{ProgrammingMode: tt.mode})
			before := r.ctl.Snapshot()
			if err := r.h.ProgramByAddr(tt.addr, pattern(tt.size), time.Second); !errors.Is(err, tt.want) {
				t.Fatalf("ProgramByAddr: %v, want %v", err, tt.want)
			}
			if err := r.h.ProgramByAddrIT(tt.addr, pattern(tt.size)); !errors.Is(err, tt.want) {
				t.Fatalf("ProgramByAddrIT: %v, want %v", err, tt.want)
			}
			if got := r.ctl.Snapshot(); got != before {
				t.Fatalf("registers changed: %+v -> %+v", before, got)
			}
			if got := r.h.State(); got != StateIdle {
				t.Fatalf("State() = %s, want idle", got)
			}
		})
	}
}

func TestProgramEDATANotSupported(t *testing.T) {
	geo := DefaultGeometry
	geo.EDATA = false
	r := newRig(t, Config{Geometry: geo})
	if err := r.h.ProgramByAddr(edataBase, pattern(4), time.Second); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("ProgramByAddr: %v, want ErrNotSupported", err)
	}
}

func TestProgramCopyRunsMasked(t *testing.T) {
	r := newRig(t, Config{})
	if err := r.h.ProgramByAddr(userBase, pattern(31), time.Second); err != nil {
		t.Fatalf("ProgramByAddr: %v", err)
	}
	if err := r.h.ProgramByAddrIT(bank1Base, pattern(48)); err != nil {
		t.Fatalf("ProgramByAddrIT: %v", err)
	}
	r.sys.Dispatch()

	total, unmasked := r.ctl.Stores()
	if total == 0 {
		t.Fatal("no programming stores seen")
	}
	if unmasked != 0 {
		t.Fatalf("%d of %d stores ran with interrupts unmasked", unmasked, total)
	}
	if r.sys.Masked() {
		t.Fatal("interrupts left masked")
	}
}

func TestProgramOverProgrammedBytesFails(t *testing.T) {
	r := newRig(t, Config{})
	h := r.h

	if err := h.ProgramByAddr(userBase, pattern(16), time.Second); err != nil {
		t.Fatalf("first ProgramByAddr: %v", err)
	}
	err := h.ProgramByAddr(userBase, pattern(16), time.Second)
	var opErr *OperationError
	if !errors.As(err, &opErr) || !errors.Is(err, ErrHardware) {
		t.Fatalf("second ProgramByAddr: %v, want *OperationError", err)
	}
	if !opErr.Codes.Has(ErrorPGS) {
		t.Fatalf("Codes = %s, want pgs", opErr.Codes)
	}
	if !h.LastErrorCodes().Has(ErrorPGS) {
		t.Fatalf("LastErrorCodes() = %s, want pgs", h.LastErrorCodes())
	}
	if got := h.State(); got != StateIdle {
		t.Fatalf("State() = %s, want idle", got)
	}
	h.ClearLastErrorCodes()
	if got := h.LastErrorCodes(); got != ErrorNone {
		t.Fatalf("LastErrorCodes() after clear = %s, want none", got)
	}

	if err := h.EraseByAddr(userBase, 16, time.Second); err != nil {
		t.Fatalf("EraseByAddr: %v", err)
	}
	if got := h.LastErrorCodes(); got != ErrorNone {
		t.Fatalf("LastErrorCodes() = %s after clean erase, want none", got)
	}
	if err := h.ProgramByAddr(userBase, pattern(16), time.Second); err != nil {
		t.Fatalf("ProgramByAddr after erase: %v", err)
	}
}

func TestProgramOTPIsWriteOnce(t *testing.T) {
	r := newRig(t, Config{})
	h := r.h

	if err := h.ProgramByAddr(otpBase+8, pattern(4), time.Second); err != nil {
		t.Fatalf("ProgramByAddr: %v", err)
	}
	if err := h.ProgramByAddr(otpBase+8, pattern(2), time.Second); !errors.Is(err, ErrHardware) {
		t.Fatalf("second ProgramByAddr: %v, want ErrHardware", err)
	}
	if err := h.EraseByAddr(otpBase, 16, time.Second); !errors.Is(err, ErrInvalidParam) {
		t.Fatalf("EraseByAddr(otp): %v, want ErrInvalidParam", err)
	}
	if got := r.read(otpBase+8, 4); !bytes.Equal(got, pattern(4)) {
		t.Fatalf("otp = %x, want %x", got, pattern(4))
	}
}

func TestProgramWriteProtectedPage(t *testing.T) {
	r := newRig(t, Config{})
	r.ctl.Protect(1, 2)

	err := r.h.ProgramByAddr(bank1Base+2*pageSize, pattern(16), time.Second)
	if !errors.Is(err, ErrHardware) {
		t.Fatalf("ProgramByAddr: %v, want ErrHardware", err)
	}
	if got := r.h.LastErrorCodes(); got != ErrorWRP {
		t.Fatalf("LastErrorCodes() = %s, want wrp", got)
	}
	if got := r.read(bank1Base+2*pageSize, 16); !bytes.Equal(got, erased(16)) {
		t.Fatalf("protected page = %x, want erased", got)
	}
	if got := r.ctl.Snapshot().SR & (ll.SR_ERRORS | ll.SR_EOP); got != 0 {
		t.Fatalf("SR flags 0x%x left set", got)
	}

	r.ctl.Unprotect(1, 2)
	if err := r.h.ProgramByAddr(bank1Base+2*pageSize, pattern(16), time.Second); err != nil {
		t.Fatalf("ProgramByAddr after Unprotect: %v", err)
	}
	if got := r.read(bank1Base+2*pageSize, 16); !bytes.Equal(got, pattern(16)) {
		t.Fatalf("unprotected page = %x, want %x", got, pattern(16))
	}
}

func TestProgramTimeout(t *testing.T) {
	r := newRig(t, Config{})
	h := r.h

	r.ctl.Stall(true)
	err := h.ProgramByAddr(userBase, pattern(32), 10*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("ProgramByAddr: %v, want ErrTimeout", err)
	}
	if got := h.State(); got != StateIdle {
		t.Fatalf("State() = %s, want idle", got)
	}

	// The stalled chunk still holds the controller.
	if err := h.ProgramByAddr(bank1Base, pattern(16), 5*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("ProgramByAddr while busy: %v, want ErrTimeout", err)
	}

	r.ctl.Stall(false)
	r.ctl.Release()
	if err := h.ProgramByAddr(bank1Base, pattern(16), time.Second); err != nil {
		t.Fatalf("ProgramByAddr after release: %v", err)
	}
}

func TestProgramIT(t *testing.T) {
	var calls []ProgramInfo
	r := newRig(t, Config{Callbacks: Callbacks{
		ProgramComplete: func(h *Handle, addr, size uint32) {
			calls = append(calls, ProgramInfo{Addr: addr, Size: size})
		},
	}})
	h := r.h

	data := pattern(36)
	if err := h.ProgramByAddrIT(bank1Base+0x200, data); err != nil {
		t.Fatalf("ProgramByAddrIT: %v", err)
	}

	// One completion interrupt per chunk; the count falls by each chunk.
	wantCount := []uint32{20, 4, 0}
	for i, want := range wantCount {
		if !r.sys.DispatchOne() {
			t.Fatalf("DispatchOne() #%d = false", i+1)
		}
		if h.count != want {
			t.Fatalf("count after IRQ #%d = %d, want %d", i+1, h.count, want)
		}
	}
	if r.sys.DispatchOne() {
		t.Fatal("unexpected extra interrupt")
	}

	if len(calls) != 1 || calls[0].Addr != bank1Base+0x200 || calls[0].Size != 36 {
		t.Fatalf("ProgramComplete calls = %+v", calls)
	}
	if got := opSizes(r.ctl.Ops()); !equalU32(got, []uint32{16, 16, 4}) {
		t.Fatalf("chunks = %v, want [16 16 4]", got)
	}
	if got := r.read(bank1Base+0x200, 36); !bytes.Equal(got, data) {
		t.Fatalf("flash = %x, want %x", got, data)
	}
	if cr := r.ctl.Snapshot().CR; cr&(ll.CR_IT|ll.CR_PG) != 0 {
		t.Fatalf("CR = 0x%08x, want interrupts and PG cleared", cr)
	}
	if got := h.State(); got != StateIdle {
		t.Fatalf("State() = %s, want idle", got)
	}
}

func TestProgramITDataAreaAcrossQuadWord(t *testing.T) {
	tests := []struct {
		name string
		addr uint32
	}{
		{"edata", edataBase + 14},
		{"otp", otpBase + 0x4E},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, Config{})
			data := pattern(8)
			if err := r.h.ProgramByAddrIT(tt.addr, data); err != nil {
				t.Fatalf("ProgramByAddrIT: %v", err)
			}
			r.sys.Dispatch()

			if got := r.h.LastErrorCodes(); got != ErrorNone {
				t.Fatalf("LastErrorCodes() = %s, want none", got)
			}
			if got := opSizes(r.ctl.Ops()); !equalU32(got, []uint32{2, 4, 2}) {
				t.Fatalf("chunks = %v, want [2 4 2]", got)
			}
			if got := r.read(tt.addr, len(data)); !bytes.Equal(got, data) {
				t.Fatalf("flash = %x, want %x", got, data)
			}
			if got := r.h.State(); got != StateIdle {
				t.Fatalf("State() = %s, want idle", got)
			}
		})
	}
}

func TestProgramITAbortsOnError(t *testing.T) {
	errorCalls := 0
	completeCalls := 0
	r := newRig(t, Config{Callbacks: Callbacks{
		ProgramComplete: func(*Handle, uint32, uint32) { completeCalls++ },
		Error:           func(*Handle) { errorCalls++ },
	}})
	h := r.h

	r.ctl.FailOp(2, ll.SR_WRPERR)
	if err := h.ProgramByAddrIT(userBase, pattern(48)); err != nil {
		t.Fatalf("ProgramByAddrIT: %v", err)
	}
	r.sys.Dispatch()

	if !h.LastErrorCodes().Has(ErrorWRP) {
		t.Fatalf("LastErrorCodes() = %s, want wrp", h.LastErrorCodes())
	}
	if got := h.State(); got != StateIdle {
		t.Fatalf("State() = %s, want idle", got)
	}
	if got := h.Operation(); got != OpNone {
		t.Fatalf("Operation() = %s, want none", got)
	}
	if errorCalls != 1 || completeCalls != 0 {
		t.Fatalf("Error calls = %d, ProgramComplete calls = %d, want 1 and 0", errorCalls, completeCalls)
	}
	ops := r.ctl.Ops()
	if len(ops) != 2 {
		t.Fatalf("controller ran %d chunks, want 2", len(ops))
	}
	if ops[1].Err != ll.SR_WRPERR {
		t.Fatalf("chunk 2 error = 0x%x, want WRPERR", ops[1].Err)
	}
	if got := h.ProgramOperationInfo().Done; got != 16 {
		t.Fatalf("Done = %d, want 16", got)
	}
	if cr := r.ctl.Snapshot().CR; cr&(ll.CR_IT|ll.CR_OPS) != 0 {
		t.Fatalf("CR = 0x%08x, want interrupts and operations cleared", cr)
	}
}

func TestAdaptiveUnit(t *testing.T) {
	for n := uint32(1); n <= 64; n++ {
		u := adaptiveUnit(ll.AreaUser, userBase, n)
		if u > n {
			t.Fatalf("adaptiveUnit(user, %d) = %d, larger than remaining", n, u)
		}
		for _, bigger := range userUnits {
			if bigger > u && bigger <= n {
				t.Fatalf("adaptiveUnit(user, %d) = %d, %d also fits", n, u, bigger)
			}
		}
	}
	tests := []struct{ addr, n, want uint32 }{
		{edataBase, 2, 2},
		{edataBase, 4, 4},
		{edataBase, 6, 4},
		{edataBase, 18, 4},
		{edataBase + 12, 8, 4},
		{edataBase + 14, 4, 2},
		{edataBase + 14, 2, 2},
		{edataBase + 30, 10, 2},
	}
	for _, tt := range tests {
		if got := adaptiveUnit(ll.AreaEDATA, tt.addr, tt.n); got != tt.want {
			t.Errorf("adaptiveUnit(edata, 0x%08x, %d) = %d, want %d", tt.addr, tt.n, got, tt.want)
		}
	}
}
