package hal

import (
	"github.com/sirupsen/logrus"

	"stm32hal/ll"
)

// IRQHandler is the flash interrupt entry point. Each continuation handler
// returns at once unless it owns the ongoing operation.
func (h *Handle) IRQHandler() {
	h.ProgramByAddrIRQHandler()
	h.EraseByAddrIRQHandler()
	h.ErasePageIRQHandler()
	h.EraseBankIRQHandler()
	h.MassEraseIRQHandler()
	h.ECCIRQHandler()
}

// EraseByAddrIRQHandler continues an interrupt-mode erase by address.
func (h *Handle) EraseByAddrIRQHandler() {
	if h.op != OpAddrErase || !h.pageDone() {
		return
	}
	if h.count > 0 {
		h.launchPage()
		return
	}
	h.endPageErase()
	h.regs.DisableIT(ll.CR_IT)
	addr, size := h.eraseStart, h.size*h.geo.PageSize(h.eraseArea)
	h.release()
	h.log.Debug("erase by address complete")
	h.cb.eraseByAddrComplete(h, addr, size)
}

// ErasePageIRQHandler continues an interrupt-mode page erase.
func (h *Handle) ErasePageIRQHandler() {
	if h.op != OpPageErase || !h.pageDone() {
		return
	}
	if h.count > 0 {
		h.launchPage()
		return
	}
	h.endPageErase()
	h.regs.DisableIT(ll.CR_IT)
	bank, page, count := h.eraseBank, h.erasePage, h.size
	h.release()
	h.log.Debug("erase page complete")
	h.cb.erasePageComplete(h, bank, page, count)
}

// pageDone consumes the flags of a finished page step and advances the
// cursor. It reports false when there was nothing to continue.
func (h *Handle) pageDone() bool {
	flags := h.regs.ReadFlags()
	if flags&ll.SR_ERRORS != 0 {
		h.handleErrorIT(flags)
		return false
	}
	if flags&ll.SR_EOP == 0 {
		return false
	}
	h.regs.ClearFlags(ll.SR_EOP)
	h.advancePage()
	return true
}

// EraseBankIRQHandler completes an interrupt-mode bank erase.
func (h *Handle) EraseBankIRQHandler() {
	if h.op != OpBankErase {
		return
	}
	flags := h.regs.ReadFlags()
	if flags&ll.SR_ERRORS != 0 {
		h.handleErrorIT(flags)
		return
	}
	if flags&ll.SR_EOP == 0 {
		return
	}
	h.regs.ClearFlags(ll.SR_EOP)
	h.regs.DisableBankErase()
	h.regs.DisableIT(ll.CR_IT)
	bank := h.eraseBank
	h.release()
	h.log.WithField("bank", bank).Debug("erase bank complete")
	h.cb.eraseBankComplete(h, bank)
}

// MassEraseIRQHandler completes an interrupt-mode mass erase.
func (h *Handle) MassEraseIRQHandler() {
	if h.op != OpMassErase {
		return
	}
	flags := h.regs.ReadFlags()
	if flags&ll.SR_ERRORS != 0 {
		h.handleErrorIT(flags)
		return
	}
	if flags&ll.SR_EOP == 0 {
		return
	}
	h.regs.ClearFlags(ll.SR_EOP)
	h.regs.DisableMassErase()
	h.regs.DisableIT(ll.CR_IT)
	h.release()
	h.log.Debug("mass erase complete")
	h.cb.massEraseComplete(h)
}

// handleErrorIT aborts the interrupt-mode operation after an error flag.
// Progress counters keep the values of the last completed step.
func (h *Handle) handleErrorIT(flags uint32) {
	errs := flags & ll.SR_ERRORS
	h.lastErr |= ErrorCode(errs)

	h.regs.DisableAllOperations()
	h.regs.SelectEDATA(false)
	h.regs.DisableIT(ll.CR_IT)
	h.regs.ClearFlags(errs | ll.SR_EOP)

	h.log.WithFields(logrus.Fields{
		"op":    h.op,
		"codes": ErrorCode(errs),
		"left":  h.count,
	}).Warn("flash operation aborted")
	h.release()
	h.cb.fail(h)
}
