package hal

import (
	"github.com/pkg/errors"

	"stm32hal/ll"
)

// ECCKind selects the single-error (corrected) or double-error (detected)
// record.
type ECCKind uint8

const (
	ECCSingle ECCKind = iota
	ECCDouble
)

func (k ECCKind) String() string {
	if k == ECCDouble {
		return "double"
	}
	return "single"
}

// ECCInfo locates the quad-word that raised an ECC event.
type ECCInfo struct {
	Area   ll.Area
	Bank   uint32
	Addr   uint32
	System bool
	// Data is the failing word, latched on double errors only.
	Data uint32
}

// EnableECCIT enables the single-error correction interrupt.
func (h *Handle) EnableECCIT() error {
	if !h.geo.ECC {
		return errors.Wrap(ErrNotSupported, "ecc")
	}
	if h.regs == nil {
		return errors.Wrap(ErrInvalidParam, "ecc: no register bus")
	}
	h.regs.EnableECCCorrectionIT()
	return nil
}

// DisableECCIT disables the single-error correction interrupt.
func (h *Handle) DisableECCIT() error {
	if !h.geo.ECC {
		return errors.Wrap(ErrNotSupported, "ecc")
	}
	if h.regs == nil {
		return errors.Wrap(ErrInvalidParam, "ecc: no register bus")
	}
	h.regs.DisableECCCorrectionIT()
	return nil
}

// ECCFailInfo decodes the pending ECC record of the given kind. It reports
// false when no such event is latched.
func (h *Handle) ECCFailInfo(kind ECCKind) (ECCInfo, bool) {
	if !h.geo.ECC || h.regs == nil {
		return ECCInfo{}, false
	}
	st := h.regs.ECCCorrection()
	if kind == ECCDouble {
		st = h.regs.ECCDetection()
	}
	if !st.Pending {
		return ECCInfo{}, false
	}

	info := ECCInfo{System: st.System}
	off := st.Index * ll.QuadWord
	switch {
	case st.OTP:
		info.Area = ll.AreaOTP
	case st.EDATA:
		info.Area = ll.AreaEDATA
	default:
		info.Area = ll.AreaUser
	}
	if info.Area != ll.AreaOTP {
		info.Bank = st.Bank ^ h.swap()
	}
	info.Addr = h.bankAddr(info.Area, st.Bank, off)
	if kind == ECCDouble {
		info.Data = h.regs.ECCData()
	}
	return info, true
}

// ECCIRQHandler services a corrected single error: the ECCCorrection
// callback runs, then the flag is cleared.
func (h *Handle) ECCIRQHandler() {
	if !h.geo.ECC || !h.regs.IsEnabledECCCorrectionIT() {
		return
	}
	if !h.regs.ECCCorrection().Pending {
		return
	}
	h.cb.eccCorrection(h)
	h.regs.ClearECCCorrection()
}

// NMIIRQHandler services a double error. The flag is cleared only when the
// ECCDetection callback reports the fault as handled.
func (h *Handle) NMIIRQHandler() {
	if !h.geo.ECC || !h.regs.ECCDetection().Pending {
		return
	}
	h.log.Warn("ecc double error")
	if h.cb.eccDetection(h) {
		h.regs.ClearECCDetection()
	}
}
