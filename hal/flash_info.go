package hal

import "stm32hal/ll"

// Operation returns the ongoing operation.
func (h *Handle) Operation() Operation { return h.op }

// ProgramInfo describes the last programming request and its progress.
type ProgramInfo struct {
	Area ll.Area
	Addr uint32
	Size uint32
	// Done counts the bytes confirmed written.
	Done uint32
}

func (h *Handle) ProgramOperationInfo() ProgramInfo {
	return ProgramInfo{
		Area: h.progArea,
		Addr: h.progStart,
		Size: uint32(len(h.progData)),
		Done: h.progIdx,
	}
}

// EraseByAddrInfo is the page-aligned range erased so far by the last erase
// by address.
type EraseByAddrInfo struct {
	Area ll.Area
	Addr uint32
	Size uint32
}

func (h *Handle) EraseByAddrOperationInfo() EraseByAddrInfo {
	return EraseByAddrInfo{
		Area: h.eraseArea,
		Addr: h.eraseStart,
		Size: h.eraseAddr - h.eraseStart,
	}
}

// ErasePageInfo is the first page and the number of pages erased so far by
// the last page erase.
type ErasePageInfo struct {
	Area  ll.Area
	Bank  uint32
	Page  uint32
	Count uint32
}

func (h *Handle) ErasePageOperationInfo() ErasePageInfo {
	return ErasePageInfo{
		Area:  h.eraseArea,
		Bank:  h.eraseBank,
		Page:  h.erasePage,
		Count: h.eraseNext - h.erasePage,
	}
}

type EraseBankInfo struct {
	Bank uint32
}

func (h *Handle) EraseBankOperationInfo() EraseBankInfo {
	return EraseBankInfo{Bank: h.eraseBank}
}

// InterruptedKind is the operation a reset cut short.
type InterruptedKind uint8

const (
	InterruptedNone InterruptedKind = iota
	InterruptedProgram
	InterruptedPageErase
	InterruptedBankErase
	InterruptedMassErase
	InterruptedOptionChange
)

func (k InterruptedKind) String() string {
	switch k {
	case InterruptedNone:
		return "none"
	case InterruptedProgram:
		return "program"
	case InterruptedPageErase:
		return "page-erase"
	case InterruptedBankErase:
		return "bank-erase"
	case InterruptedMassErase:
		return "mass-erase"
	case InterruptedOptionChange:
		return "option-change"
	default:
		return "unknown"
	}
}

// InterruptedInfo locates the operation that was running when the device
// was reset. Bank is in address order; Addr is where the interrupted program
// write or page starts. Page is meaningful for page erases only.
type InterruptedInfo struct {
	Kind   InterruptedKind
	Area   ll.Area
	Bank   uint32
	Page   uint32
	Addr   uint32
	System bool
}

func (h *Handle) InterruptedByResetOperationInfo() InterruptedInfo {
	op := h.regs.InterruptedOperation()
	info := InterruptedInfo{System: op.System}
	switch op.Code {
	case ll.CodeOpNone:
		return info
	case ll.CodeOpProgram:
		info.Kind = InterruptedProgram
	case ll.CodeOpPageErase:
		info.Kind = InterruptedPageErase
	case ll.CodeOpBankErase:
		info.Kind = InterruptedBankErase
	case ll.CodeOpMassErase:
		info.Kind = InterruptedMassErase
		return info
	case ll.CodeOpOptionChange:
		info.Kind = InterruptedOptionChange
		return info
	default:
		return info
	}

	switch {
	case op.OTP:
		info.Area = ll.AreaOTP
	case op.EDATA:
		info.Area = ll.AreaEDATA
	default:
		info.Area = ll.AreaUser
	}
	if info.Area != ll.AreaOTP {
		info.Bank = op.Bank ^ h.swap()
	}
	off := op.Offset
	if info.Kind == InterruptedBankErase {
		off = 0
	}
	if ps := h.geo.PageSize(info.Area); ps != 0 && info.Kind == InterruptedPageErase {
		info.Page = off / ps
	}
	info.Addr = h.bankAddr(info.Area, op.Bank, off)
	return info
}
