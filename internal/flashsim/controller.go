// Package flashsim models the flash controller register file and flash array
// closely enough to run the HAL on a host: key-locked control register,
// quad-word write buffer with force-write, page/bank/mass erase, write
// protection, error flags, interrupt requests, reset-persistent operation
// status and ECC reporting.
package flashsim

import (
	"encoding/binary"
	"sync"

	"stm32hal/kernel"
	"stm32hal/ll"
)

// Raiser receives interrupt requests from the controller.
type Raiser interface {
	Raise(line kernel.Line) bool
}

// Options configures a Controller.
type Options struct {
	Layout  ll.Layout
	Storage Storage
	IRQ     Raiser

	// Masked reports whether CPU interrupts are masked; used to audit that
	// programming stores happen inside a critical section.
	Masked func() bool
}

// OpKind is the kind of operation the controller executed.
type OpKind uint8

const (
	OpProgram OpKind = iota + 1
	OpPageErase
	OpBankErase
	OpMassErase
)

func (k OpKind) String() string {
	switch k {
	case OpProgram:
		return "program"
	case OpPageErase:
		return "page-erase"
	case OpBankErase:
		return "bank-erase"
	case OpMassErase:
		return "mass-erase"
	default:
		return "unknown"
	}
}

// Op records one operation the controller ran, successful or not.
type Op struct {
	Kind OpKind
	Area ll.Area
	Addr uint32 // first programmed byte
	Size uint32 // programmed bytes
	Bank uint32 // physical bank
	Page uint32
	Err  uint32 // SR error flags raised
}

type job struct {
	op    Op
	off   int64
	data  [ll.QuadWord]byte
	valid [ll.QuadWord]bool
}

type wrpKey struct {
	bank, page uint32
}

// Controller is the modeled flash controller.
type Controller struct {
	mu     sync.Mutex
	layout ll.Layout
	store  Storage
	irq    Raiser
	masked func() bool

	acr, cr, sr, opsr, optcr, optkeyr, optsr uint32
	ecccorr, eccdetr, eccdr                  uint32

	keyStage   int
	keyBlocked bool

	bufAddr  uint32
	bufArea  ll.Area
	bufUsed  bool
	buf      [ll.QuadWord]byte
	bufValid [ll.QuadWord]bool

	stall    bool
	inflight *job

	opCount int
	faults  map[int]uint32
	wrp     map[wrpKey]bool

	ops            []Op
	stores         int
	unmaskedStores int
	ioErr          error
}

// New returns a controller in its reset state: locked, idle.
func New(opts Options) *Controller {
	if opts.Layout.Banks == 0 {
		opts.Layout = ll.DefaultLayout
	}
	if opts.Storage == nil {
		opts.Storage = NewMemStorage(opts.Layout)
	}
	return &Controller{
		layout: opts.Layout,
		store:  opts.Storage,
		irq:    opts.IRQ,
		masked: opts.Masked,
		cr:     ll.CR_LOCK,
		faults: make(map[int]uint32),
		wrp:    make(map[wrpKey]bool),
	}
}

// Layout returns the memory map.
func (c *Controller) Layout() ll.Layout { return c.layout }

// Registers returns the register file view.
func (c *Controller) Registers() ll.Bus { return regPort{c} }

// Memory returns the flash array view.
func (c *Controller) Memory() ll.Memory { return memPort{c} }

type regPort struct{ c *Controller }

func (p regPort) Load32(off uint32) uint32     { return p.c.load32(off) }
func (p regPort) Store32(off uint32, v uint32) { p.c.store32(off, v) }

type memPort struct{ c *Controller }

func (p memPort) Store8(addr uint32, v uint8) { p.c.program(addr, []byte{v}) }

func (p memPort) Store16(addr uint32, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	p.c.program(addr, b[:])
}

func (p memPort) Store32(addr uint32, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	p.c.program(addr, b[:])
}

func (p memPort) Read(addr uint32, dst []byte) { p.c.read(addr, dst) }

func (c *Controller) load32(off uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch off {
	case ll.OffACR:
		return c.acr
	case ll.OffOPSR:
		return c.opsr
	case ll.OffOPTCR:
		return c.optcr
	case ll.OffSR:
		return c.sr
	case ll.OffCR:
		return c.cr
	case ll.OffOPTSRCur:
		return c.optsr
	case ll.OffECCCORR:
		return c.ecccorr
	case ll.OffECCDETR:
		return c.eccdetr
	case ll.OffECCDR:
		return c.eccdr
	default:
		return 0
	}
}

func (c *Controller) store32(off uint32, v uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch off {
	case ll.OffACR:
		c.acr = v
	case ll.OffKEYR:
		c.writeKey(v)
	case ll.OffOPTKEYR:
		c.optkeyr = v
	case ll.OffOPTCR:
		c.optcr = v
	case ll.OffCR:
		c.writeCR(v)
	case ll.OffCCR:
		c.sr &^= v & (ll.SR_EOP | ll.SR_ERRORS)
	case ll.OffECCCORR:
		c.ecccorr = c.ecccorr&^ll.ECCCORR_ECCCIE | v&ll.ECCCORR_ECCCIE
		if v&ll.ECCCORR_ECCC != 0 {
			c.ecccorr &^= ll.ECCCORR_ECCC
		}
	case ll.OffECCDETR:
		if v&ll.ECCDETR_ECCD != 0 {
			c.eccdetr &^= ll.ECCDETR_ECCD
		}
	}
}

func (c *Controller) writeKey(v uint32) {
	if c.keyBlocked {
		return
	}
	switch {
	case c.keyStage == 0 && v == ll.Key1:
		c.keyStage = 1
	case c.keyStage == 1 && v == ll.Key2:
		c.keyStage = 0
		c.cr &^= ll.CR_LOCK
	default:
		// A wrong key locks KEYR until the next reset.
		c.keyStage = 0
		c.keyBlocked = true
	}
}

func (c *Controller) writeCR(v uint32) {
	if c.cr&ll.CR_LOCK != 0 {
		return
	}
	c.cr = v &^ (ll.CR_STRT | ll.CR_FW)
	if v&ll.CR_LOCK != 0 {
		c.dropBuffer()
		return
	}
	if v&ll.CR_FW != 0 && c.bufUsed {
		c.flush()
	}
	if v&ll.CR_STRT != 0 {
		c.startErase()
	}
}

// swap returns 1 when SWAP_BANK is active on a dual-bank part.
func (c *Controller) swap() uint32 {
	if c.layout.Banks == 2 && c.optsr&ll.OPTSR_SWAP_BANK != 0 {
		return 1
	}
	return 0
}

// translate maps a CPU address to its image offset, the physical bank and
// the number of bytes left in that bank.
func (c *Controller) translate(addr uint32) (area ll.Area, off int64, bank, rest uint32, ok bool) {
	area, ok = c.layout.AreaOf(addr)
	if !ok {
		return 0, 0, 0, 0, false
	}
	rel := addr - c.layout.Base(area)
	switch area {
	case ll.AreaOTP:
		return area, int64(c.layout.UserSize()) + int64(c.layout.EDATASize()) + int64(rel), 0, c.layout.OTPSize - rel, true
	default:
		bankSize := c.layout.BankSize(area)
		bank = rel/bankSize ^ c.swap()
		inBank := rel % bankSize
		return area, c.bankOffset(area, bank) + int64(inBank), bank, bankSize - inBank, true
	}
}

func (c *Controller) bankOffset(area ll.Area, bank uint32) int64 {
	if area == ll.AreaEDATA {
		return int64(c.layout.UserSize()) + int64(bank)*int64(c.layout.EDATABankSize)
	}
	return int64(bank) * int64(c.layout.UserBankSize)
}

func (c *Controller) read(addr uint32, dst []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(dst) > 0 {
		_, off, _, rest, ok := c.translate(addr)
		if !ok {
			for i := range dst {
				dst[i] = 0
			}
			return
		}
		n := uint32(len(dst))
		if n > rest {
			n = rest
		}
		if _, err := c.store.ReadAt(dst[:n], off); err != nil {
			c.ioErr = err
		}
		dst = dst[n:]
		addr += n
	}
}

func (c *Controller) program(addr uint32, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stores++
	if c.masked != nil && !c.masked() {
		c.unmaskedStores++
	}

	width := uint32(len(b))
	if c.cr&ll.CR_LOCK != 0 || c.cr&ll.CR_PG == 0 || c.inflight != nil {
		c.fail(ll.SR_PGSERR)
		return
	}
	area, ok := c.layout.AreaOf(addr)
	if !ok || !c.layout.Contains(area, addr, width) || addr%width != 0 {
		c.fail(ll.SR_PGSERR)
		return
	}
	if area != ll.AreaUser && width == 1 {
		c.fail(ll.SR_PGSERR)
		return
	}

	base := addr &^ (ll.QuadWord - 1)
	if c.bufUsed && base != c.bufAddr {
		c.fail(ll.SR_PGSERR)
		return
	}
	if !c.bufUsed {
		c.bufUsed = true
		c.bufAddr = base
		c.bufArea = area
		c.sr |= ll.SR_WBNE
	}
	for i := range b {
		idx := addr - base + uint32(i)
		c.buf[idx] = b[i]
		c.bufValid[idx] = true
	}
	for _, v := range c.bufValid {
		if !v {
			return
		}
	}
	c.flush()
}

func (c *Controller) dropBuffer() {
	c.bufUsed = false
	c.bufValid = [ll.QuadWord]bool{}
	c.sr &^= ll.SR_WBNE
}

func (c *Controller) flush() {
	j := &job{op: Op{Kind: OpProgram, Area: c.bufArea}, data: c.buf, valid: c.bufValid}
	first := -1
	for i, v := range c.bufValid {
		if !v {
			continue
		}
		if first < 0 {
			first = i
		}
		j.op.Size++
	}
	j.op.Addr = c.bufAddr + uint32(first)
	_, off, bank, _, _ := c.translate(c.bufAddr)
	j.off = off
	j.op.Bank = bank
	if ps := c.layout.PageSize(c.bufArea); ps != 0 {
		j.op.Page = (c.bufAddr - c.layout.Base(c.bufArea)) % c.layout.BankSize(c.bufArea) / ps
	}
	c.dropBuffer()
	c.begin(j)
}

func (c *Controller) startErase() {
	if c.inflight != nil {
		c.fail(ll.SR_PGSERR)
		return
	}
	bank := uint32(0)
	if c.cr&ll.CR_BKSEL != 0 {
		bank = 1
	}
	if bank >= c.layout.Banks {
		c.fail(ll.SR_INCERR)
		return
	}
	switch c.cr & (ll.CR_PG | ll.CR_SER | ll.CR_BER | ll.CR_MER) {
	case ll.CR_SER:
		area := ll.AreaUser
		if c.cr&ll.CR_EDATA != 0 {
			area = ll.AreaEDATA
		}
		page := (c.cr & ll.CR_PNB_Msk) >> ll.CR_PNB_Pos
		if page >= c.layout.PagesPerBank(area) {
			c.fail(ll.SR_INCERR)
			return
		}
		c.begin(&job{op: Op{Kind: OpPageErase, Area: area, Bank: bank, Page: page}})
	case ll.CR_BER:
		c.begin(&job{op: Op{Kind: OpBankErase, Area: ll.AreaUser, Bank: bank}})
	case ll.CR_MER:
		c.begin(&job{op: Op{Kind: OpMassErase, Area: ll.AreaUser}})
	default:
		c.fail(ll.SR_INCERR)
	}
}

func (c *Controller) begin(j *job) {
	c.opCount++
	c.sr |= ll.SR_BSY
	c.opsr = c.encodeOPSR(j)

	if flags, ok := c.faults[c.opCount]; ok {
		delete(c.faults, c.opCount)
		c.finish(j, flags)
		return
	}
	if c.stall {
		c.inflight = j
		return
	}
	c.finish(j, 0)
}

func (c *Controller) encodeOPSR(j *job) uint32 {
	var code uint32
	switch j.op.Kind {
	case OpProgram:
		code = ll.CodeOpProgram
	case OpPageErase:
		code = ll.CodeOpPageErase
	case OpBankErase:
		code = ll.CodeOpBankErase
	case OpMassErase:
		code = ll.CodeOpMassErase
	}
	v := code << ll.OPSR_CODE_OP_Pos
	if j.op.Bank != 0 {
		v |= ll.OPSR_BK_OP
	}
	switch j.op.Area {
	case ll.AreaEDATA:
		v |= ll.OPSR_DATA_OP
	case ll.AreaOTP:
		v |= ll.OPSR_OTP_OP
	}
	switch j.op.Kind {
	case OpProgram:
		v |= (j.op.Addr - c.layout.Base(j.op.Area)) % c.layout.BankSize(j.op.Area) & ll.OPSR_ADDR_Msk
	case OpPageErase:
		v |= j.op.Page * c.layout.PageSize(j.op.Area) & ll.OPSR_ADDR_Msk
	}
	return v
}

func (c *Controller) finish(j *job, injected uint32) {
	errs := injected
	if errs == 0 {
		errs = c.apply(j)
	}
	j.op.Err = errs
	c.ops = append(c.ops, j.op)

	c.inflight = nil
	c.opsr = 0
	c.sr &^= ll.SR_BSY
	if errs != 0 {
		c.sr |= errs
	} else {
		c.sr |= ll.SR_EOP
	}
	c.raise()
}

func (c *Controller) fail(flags uint32) {
	c.dropBuffer()
	c.sr |= flags
	c.raise()
}

func (c *Controller) raise() {
	if c.irq == nil {
		return
	}
	if c.sr&c.cr&ll.CR_IT != 0 {
		c.irq.Raise(kernel.LineFlash)
	}
}

func (c *Controller) protected(area ll.Area, bank, page uint32) bool {
	return area == ll.AreaUser && c.wrp[wrpKey{bank: bank, page: page}]
}

func (c *Controller) apply(j *job) uint32 {
	switch j.op.Kind {
	case OpProgram:
		if c.protected(j.op.Area, j.op.Bank, j.op.Page) {
			return ll.SR_WRPERR
		}
		var cur [ll.QuadWord]byte
		if _, err := c.store.ReadAt(cur[:], j.off); err != nil {
			c.ioErr = err
			return ll.SR_STRBERR
		}
		for i, v := range j.valid {
			if v && cur[i] != 0xFF {
				return ll.SR_PGSERR
			}
		}
		for i, v := range j.valid {
			if v {
				cur[i] = j.data[i]
			}
		}
		if _, err := c.store.WriteAt(cur[:], j.off); err != nil {
			c.ioErr = err
			return ll.SR_STRBERR
		}
	case OpPageErase:
		if c.protected(j.op.Area, j.op.Bank, j.op.Page) {
			return ll.SR_WRPERR
		}
		ps := c.layout.PageSize(j.op.Area)
		return c.fill(c.bankOffset(j.op.Area, j.op.Bank)+int64(j.op.Page)*int64(ps), ps)
	case OpBankErase:
		for p := uint32(0); p < c.layout.PagesPerBank(ll.AreaUser); p++ {
			if c.protected(ll.AreaUser, j.op.Bank, p) {
				return ll.SR_WRPERR
			}
		}
		return c.fill(c.bankOffset(ll.AreaUser, j.op.Bank), c.layout.UserBankSize)
	case OpMassErase:
		if len(c.wrp) > 0 {
			return ll.SR_WRPERR
		}
		if errs := c.fill(0, c.layout.UserSize()); errs != 0 {
			return errs
		}
		return c.fill(c.bankOffset(ll.AreaEDATA, 0), c.layout.EDATASize())
	}
	return 0
}

func (c *Controller) fill(off int64, size uint32) uint32 {
	var erased [4096]byte
	for i := range erased {
		erased[i] = 0xFF
	}
	for size > 0 {
		n := uint32(len(erased))
		if n > size {
			n = size
		}
		if _, err := c.store.WriteAt(erased[:n], off); err != nil {
			c.ioErr = err
			return ll.SR_STRBERR
		}
		off += int64(n)
		size -= n
	}
	return 0
}
