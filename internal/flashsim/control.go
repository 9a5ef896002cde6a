package flashsim

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"stm32hal/kernel"
	"stm32hal/ll"
)

// Regs is a snapshot of the register file.
type Regs struct {
	CR, SR, OPSR, OPTSR, ECCCORR, ECCDETR uint32
}

// Snapshot returns the current register values.
func (c *Controller) Snapshot() Regs {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Regs{
		CR:      c.cr,
		SR:      c.sr,
		OPSR:    c.opsr,
		OPTSR:   c.optsr,
		ECCCORR: c.ecccorr,
		ECCDETR: c.eccdetr,
	}
}

// SetBankSwap sets the SWAP_BANK option byte as if it had been loaded.
func (c *Controller) SetBankSwap(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.optsr |= ll.OPTSR_SWAP_BANK
		return
	}
	c.optsr &^= ll.OPTSR_SWAP_BANK
}

// Protect write-protects one user flash page of a physical bank.
func (c *Controller) Protect(bank, page uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wrp[wrpKey{bank: bank, page: page}] = true
}

// Unprotect removes a page from the write-protected set.
func (c *Controller) Unprotect(bank, page uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.wrp, wrpKey{bank: bank, page: page})
}

// Stall keeps operations started from now on busy until Release.
func (c *Controller) Stall(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stall = on
}

// Busy reports whether an operation is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight != nil
}

// Release completes the stalled operation, if any.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if j := c.inflight; j != nil {
		c.finish(j, 0)
	}
}

// FailOp makes the n-th operation started from now (1 = next) end with the
// given SR error flags instead of executing.
func (c *Controller) FailOp(n int, flags uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[c.opCount+n] = flags & ll.SR_ERRORS
}

// InjectECC latches an ECC event for addr. Single errors set ECCC and raise
// the flash interrupt when ECCCIE is set; double errors set ECCD and raise
// the NMI.
func (c *Controller) InjectECC(addr uint32, double bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	area, off, bank, _, ok := c.translate(addr)
	if !ok {
		return errors.Errorf("ecc inject: address 0x%08x outside flash", addr)
	}
	rel := addr - c.layout.Base(area)
	if area != ll.AreaOTP {
		rel %= c.layout.BankSize(area)
	}
	v := rel / ll.QuadWord & ll.ECC_ADDR_Msk
	if bank != 0 {
		v |= ll.ECC_BK
	}
	switch area {
	case ll.AreaEDATA:
		v |= ll.ECC_EDATA
	case ll.AreaOTP:
		v |= ll.ECC_OTP
	}

	var word [4]byte
	if _, err := c.store.ReadAt(word[:], off&^3); err != nil {
		return errors.Wrap(err, "ecc inject")
	}
	c.eccdr = binary.LittleEndian.Uint32(word[:])

	if double {
		c.eccdetr = v | ll.ECCDETR_ECCD
		if c.irq != nil {
			c.irq.Raise(kernel.LineNMI)
		}
		return nil
	}
	c.ecccorr = c.ecccorr&ll.ECCCORR_ECCCIE | v | ll.ECCCORR_ECCC
	if c.irq != nil && c.ecccorr&ll.ECCCORR_ECCCIE != 0 {
		c.irq.Raise(kernel.LineFlash)
	}
	return nil
}

// Reset models a system reset. An operation in flight is abandoned and
// remains recorded in OPSR; the control register locks again.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inflight = nil
	c.cr = ll.CR_LOCK
	c.sr = 0
	c.keyStage = 0
	c.keyBlocked = false
	c.ecccorr &^= ll.ECCCORR_ECCCIE
	c.dropBuffer()
}

// Ops returns the operations run so far.
func (c *Controller) Ops() []Op {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Op, len(c.ops))
	copy(out, c.ops)
	return out
}

// ClearOps forgets the operation log.
func (c *Controller) ClearOps() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = nil
}

// Stores returns the number of programming stores seen and how many of them
// happened with interrupts unmasked.
func (c *Controller) Stores() (total, unmasked int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stores, c.unmaskedStores
}

// Err returns the last storage error.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ioErr
}
