package hal

import "stm32hal/ll"

// swap returns 1 while SWAP_BANK maps the second physical bank first.
func (h *Handle) swap() uint32 {
	if h.geo.Banks == 2 && h.regs.IsBankSwapped() {
		return 1
	}
	return 0
}

// pageOf resolves an address inside user flash or EDATA to its physical bank
// and page index.
func (h *Handle) pageOf(area ll.Area, addr uint32) (bank, page uint32) {
	rel := addr - h.geo.Base(area)
	bankSize := h.geo.BankSize(area)
	bank = rel/bankSize ^ h.swap()
	page = rel % bankSize / h.geo.PageSize(area)
	return bank, page
}

// bankAddr returns the address at which a physical bank offset is visible.
func (h *Handle) bankAddr(area ll.Area, bank, off uint32) uint32 {
	if area == ll.AreaOTP {
		return h.geo.OTPBase + off
	}
	return h.geo.Base(area) + (bank^h.swap())*h.geo.BankSize(area) + off
}

func floorTo(v, unit uint32) uint32 { return v - v%unit }
