package hal

import "github.com/pkg/errors"

// Callbacks are invoked from the interrupt handlers. They must not block or
// call back into the handle's operations. A nil slot does nothing.
type Callbacks struct {
	ProgramComplete     func(h *Handle, addr, size uint32)
	EraseByAddrComplete func(h *Handle, addr, size uint32)
	ErasePageComplete   func(h *Handle, bank, page, count uint32)
	EraseBankComplete   func(h *Handle, bank uint32)
	MassEraseComplete   func(h *Handle)
	Error               func(h *Handle)
	ECCCorrection       func(h *Handle)
	// ECCDetection returns true when the double error was dealt with and its
	// flag may be cleared.
	ECCDetection func(h *Handle) bool
}

func (c *Callbacks) programComplete(h *Handle, addr, size uint32) {
	if c.ProgramComplete != nil {
		c.ProgramComplete(h, addr, size)
	}
}

func (c *Callbacks) eraseByAddrComplete(h *Handle, addr, size uint32) {
	if c.EraseByAddrComplete != nil {
		c.EraseByAddrComplete(h, addr, size)
	}
}

func (c *Callbacks) erasePageComplete(h *Handle, bank, page, count uint32) {
	if c.ErasePageComplete != nil {
		c.ErasePageComplete(h, bank, page, count)
	}
}

func (c *Callbacks) eraseBankComplete(h *Handle, bank uint32) {
	if c.EraseBankComplete != nil {
		c.EraseBankComplete(h, bank)
	}
}

func (c *Callbacks) massEraseComplete(h *Handle) {
	if c.MassEraseComplete != nil {
		c.MassEraseComplete(h)
	}
}

func (c *Callbacks) fail(h *Handle) {
	if c.Error != nil {
		c.Error(h)
	}
}

func (c *Callbacks) eccCorrection(h *Handle) {
	if c.ECCCorrection != nil {
		c.ECCCorrection(h)
	}
}

func (c *Callbacks) eccDetection(h *Handle) bool {
	if c.ECCDetection != nil {
		return c.ECCDetection(h)
	}
	return false
}

// register checks that callbacks may be replaced: only while no operation
// is in flight.
func (h *Handle) register(fn any, isNil bool) error {
	if h.state == StateActive {
		return errors.Wrapf(ErrNotIdle, "register callback: %s in progress", h.op)
	}
	if isNil {
		return errors.Wrapf(ErrInvalidParam, "register callback: nil %T", fn)
	}
	return nil
}

func (h *Handle) RegisterProgramCompleteCallback(fn func(h *Handle, addr, size uint32)) error {
	if err := h.register(fn, fn == nil); err != nil {
		return err
	}
	h.cb.ProgramComplete = fn
	return nil
}

func (h *Handle) RegisterEraseByAddrCompleteCallback(fn func(h *Handle, addr, size uint32)) error {
	if err := h.register(fn, fn == nil); err != nil {
		return err
	}
	h.cb.EraseByAddrComplete = fn
	return nil
}

func (h *Handle) RegisterErasePageCompleteCallback(fn func(h *Handle, bank, page, count uint32)) error {
	if err := h.register(fn, fn == nil); err != nil {
		return err
	}
	h.cb.ErasePageComplete = fn
	return nil
}

func (h *Handle) RegisterEraseBankCompleteCallback(fn func(h *Handle, bank uint32)) error {
	if err := h.register(fn, fn == nil); err != nil {
		return err
	}
	h.cb.EraseBankComplete = fn
	return nil
}

func (h *Handle) RegisterMassEraseCompleteCallback(fn func(h *Handle)) error {
	if err := h.register(fn, fn == nil); err != nil {
		return err
	}
	h.cb.MassEraseComplete = fn
	return nil
}

func (h *Handle) RegisterErrorCallback(fn func(h *Handle)) error {
	if err := h.register(fn, fn == nil); err != nil {
		return err
	}
	h.cb.Error = fn
	return nil
}

func (h *Handle) RegisterECCCorrectionCallback(fn func(h *Handle)) error {
	if err := h.register(fn, fn == nil); err != nil {
		return err
	}
	h.cb.ECCCorrection = fn
	return nil
}

func (h *Handle) RegisterECCDetectionCallback(fn func(h *Handle) bool) error {
	if err := h.register(fn, fn == nil); err != nil {
		return err
	}
	h.cb.ECCDetection = fn
	return nil
}
