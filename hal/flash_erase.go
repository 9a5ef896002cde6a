package hal

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stm32hal/ll"
)

// Page erase cursors. Address erase keeps eraseStart (first page address)
// and eraseAddr (next page address). Page erase keeps eraseBank, erasePage
// (first page) and eraseNext (next page). count is the number of pages
// still to erase and size the number requested.

func (h *Handle) checkEraseByAddr(addr, size uint32) (ll.Area, error) {
	if size == 0 {
		return 0, errors.Wrap(ErrInvalidParam, "erase: size 0")
	}
	area, ok := h.geo.AreaOf(addr)
	if !ok || area == ll.AreaOTP {
		return 0, errors.Wrapf(ErrInvalidParam, "erase: address 0x%08x not in an erasable area", addr)
	}
	if area == ll.AreaEDATA && !h.geo.EDATA {
		return 0, errors.Wrap(ErrNotSupported, "erase: edata")
	}
	if !h.geo.Contains(area, addr, size) {
		return 0, errors.Wrapf(ErrInvalidParam, "erase: 0x%08x+%d crosses the %s area end", addr, size, area)
	}
	return area, nil
}

func (h *Handle) startEraseByAddr(area ll.Area, addr, size uint32) {
	ps := h.geo.PageSize(area)
	first := floorTo(addr, ps)
	last := floorTo(addr+size-1, ps)

	h.op = OpAddrErase
	h.eraseArea = area
	h.eraseStart = first
	h.eraseAddr = first
	h.size = (last-first)/ps + 1
	h.count = h.size
	h.log.WithFields(logrus.Fields{
		"area":  area,
		"addr":  first,
		"pages": h.size,
	}).Debug("erase by address")
}

func (h *Handle) checkErasePage(area ll.Area, bank, page, count uint32) error {
	if area == ll.AreaEDATA && !h.geo.EDATA {
		return errors.Wrap(ErrNotSupported, "erase page: edata")
	}
	pages := h.geo.PagesPerBank(area)
	if bank >= h.geo.Banks || count == 0 || page >= pages || count > pages-page {
		return errors.Wrapf(ErrInvalidParam, "erase page: %s bank %d pages %d+%d", area, bank, page, count)
	}
	return nil
}

func (h *Handle) startErasePage(area ll.Area, bank, page, count uint32) {
	h.op = OpPageErase
	h.eraseArea = area
	h.eraseBank = bank
	h.erasePage = page
	h.eraseNext = page
	h.size = count
	h.count = count
	h.log.WithFields(logrus.Fields{
		"area":  area,
		"bank":  bank,
		"page":  page,
		"count": count,
	}).Debug("erase page")
}

// launchPage starts the erase of the page under the cursor. Banks given to
// the API are the address-order banks; BKSEL takes the physical one.
func (h *Handle) launchPage() {
	var bank, page uint32
	switch h.op {
	case OpAddrErase:
		bank, page = h.pageOf(h.eraseArea, h.eraseAddr)
	default:
		bank, page = h.eraseBank^h.swap(), h.eraseNext
	}
	h.regs.SelectEDATA(h.eraseArea == ll.AreaEDATA)
	h.regs.SelectBank(bank)
	h.regs.SetPageIndex(page)
	h.regs.EnablePageErase()
	h.regs.Start()
}

func (h *Handle) advancePage() {
	h.count--
	if h.op == OpAddrErase {
		h.eraseAddr += h.geo.PageSize(h.eraseArea)
		return
	}
	h.eraseNext++
}

func (h *Handle) endPageErase() {
	h.regs.DisablePageErase()
	h.regs.SelectEDATA(false)
}

// erasePages runs the page loop of a polling erase.
func (h *Handle) erasePages(start, timeout uint32) error {
	defer h.endPageErase()
	for h.count > 0 {
		h.launchPage()
		if err := h.waitForEndOfOperation(ms(pageEraseTimeout)); err != nil {
			h.warn(err)
			return err
		}
		h.advancePage()
		if h.count > 0 && h.expired(start, timeout) {
			err := errors.Wrapf(ErrTimeout, "%s: %d of %d pages left", h.op, h.count, h.size)
			h.warn(err)
			return err
		}
	}
	return nil
}

// begin runs the checks shared by every polling erase after its parameters
// were validated, and waits for the controller.
func (h *Handle) begin(op Operation, timeout time.Duration) (start, tmo uint32, err error) {
	if err := h.acquire(op); err != nil {
		return 0, 0, err
	}
	tmo = ms(timeout)
	start = h.tick.Milliseconds()
	if err := h.waitIdle(start, tmo); err != nil {
		h.release()
		return 0, 0, err
	}
	h.lastErr = ErrorNone
	return start, tmo, nil
}

// beginIT is begin for interrupt-mode launches.
func (h *Handle) beginIT(op Operation) error {
	if err := h.acquire(op); err != nil {
		return err
	}
	if err := h.waitIdle(h.tick.Milliseconds(), ms(maxTimeout)); err != nil {
		h.release()
		return err
	}
	h.lastErr = ErrorNone
	return nil
}

// EraseByAddr erases every page touched by [addr, addr+size). The range may
// cross the bank boundary.
func (h *Handle) EraseByAddr(addr, size uint32, timeout time.Duration) error {
	if err := h.checkIdle(OpAddrErase); err != nil {
		return err
	}
	area, err := h.checkEraseByAddr(addr, size)
	if err != nil {
		return err
	}
	start, tmo, err := h.begin(OpAddrErase, timeout)
	if err != nil {
		return err
	}
	defer h.release()
	h.startEraseByAddr(area, addr, size)
	return h.erasePages(start, tmo)
}

// EraseByAddrIT starts erasing the pages touched by [addr, addr+size).
func (h *Handle) EraseByAddrIT(addr, size uint32) error {
	if err := h.checkIdle(OpAddrErase); err != nil {
		return err
	}
	area, err := h.checkEraseByAddr(addr, size)
	if err != nil {
		return err
	}
	if err := h.beginIT(OpAddrErase); err != nil {
		return err
	}
	h.startEraseByAddr(area, addr, size)
	h.regs.EnableIT(ll.CR_IT)
	h.launchPage()
	return nil
}

// ErasePage erases count user flash pages of bank starting at page.
func (h *Handle) ErasePage(bank, page, count uint32, timeout time.Duration) error {
	return h.erasePageSync(ll.AreaUser, bank, page, count, timeout)
}

// ErasePageIT starts erasing count user flash pages of bank.
func (h *Handle) ErasePageIT(bank, page, count uint32) error {
	return h.erasePageIT(ll.AreaUser, bank, page, count)
}

// EDATAErasePage erases count EDATA pages of bank. Page numbers count from
// the first EDATA page of the bank.
func (h *Handle) EDATAErasePage(bank, page, count uint32, timeout time.Duration) error {
	return h.erasePageSync(ll.AreaEDATA, bank, page, count, timeout)
}

// EDATAErasePageIT starts erasing count EDATA pages of bank.
func (h *Handle) EDATAErasePageIT(bank, page, count uint32) error {
	return h.erasePageIT(ll.AreaEDATA, bank, page, count)
}

func (h *Handle) erasePageSync(area ll.Area, bank, page, count uint32, timeout time.Duration) error {
	if err := h.checkIdle(OpPageErase); err != nil {
		return err
	}
	if err := h.checkErasePage(area, bank, page, count); err != nil {
		return err
	}
	start, tmo, err := h.begin(OpPageErase, timeout)
	if err != nil {
		return err
	}
	defer h.release()
	h.startErasePage(area, bank, page, count)
	return h.erasePages(start, tmo)
}

func (h *Handle) erasePageIT(area ll.Area, bank, page, count uint32) error {
	if err := h.checkIdle(OpPageErase); err != nil {
		return err
	}
	if err := h.checkErasePage(area, bank, page, count); err != nil {
		return err
	}
	if err := h.beginIT(OpPageErase); err != nil {
		return err
	}
	h.startErasePage(area, bank, page, count)
	h.regs.EnableIT(ll.CR_IT)
	h.launchPage()
	return nil
}

func (h *Handle) checkBank(bank uint32) error {
	if bank >= h.geo.Banks {
		return errors.Wrapf(ErrInvalidParam, "erase bank: bank %d", bank)
	}
	return nil
}

func (h *Handle) launchBank(bank uint32) {
	h.op = OpBankErase
	h.eraseArea = ll.AreaUser
	h.eraseBank = bank
	h.log.WithField("bank", bank).Debug("erase bank")
	h.regs.SelectBank(bank ^ h.swap())
	h.regs.EnableBankErase()
	h.regs.Start()
}

// EraseBank erases one user flash bank. timeout bounds the single wait.
func (h *Handle) EraseBank(bank uint32, timeout time.Duration) error {
	if err := h.checkIdle(OpBankErase); err != nil {
		return err
	}
	if err := h.checkBank(bank); err != nil {
		return err
	}
	start, tmo, err := h.begin(OpBankErase, timeout)
	if err != nil {
		return err
	}
	defer h.release()
	defer h.regs.DisableBankErase()

	h.launchBank(bank)
	if err := h.waitForEndOfOperation(h.remaining(start, tmo)); err != nil {
		h.warn(err)
		return err
	}
	return nil
}

// EraseBankIT starts erasing one user flash bank.
func (h *Handle) EraseBankIT(bank uint32) error {
	if err := h.checkIdle(OpBankErase); err != nil {
		return err
	}
	if err := h.checkBank(bank); err != nil {
		return err
	}
	if err := h.beginIT(OpBankErase); err != nil {
		return err
	}
	h.regs.EnableIT(ll.CR_IT)
	h.launchBank(bank)
	return nil
}

func (h *Handle) launchMass() {
	h.op = OpMassErase
	h.log.Debug("mass erase")
	h.regs.EnableMassErase()
	h.regs.Start()
}

// MassErase erases all user flash and EDATA.
func (h *Handle) MassErase(timeout time.Duration) error {
	if err := h.checkIdle(OpMassErase); err != nil {
		return err
	}
	if !h.geo.MassErase {
		return errors.Wrap(ErrNotSupported, "mass erase")
	}
	start, tmo, err := h.begin(OpMassErase, timeout)
	if err != nil {
		return err
	}
	defer h.release()
	defer h.regs.DisableMassErase()

	h.launchMass()
	if err := h.waitForEndOfOperation(h.remaining(start, tmo)); err != nil {
		h.warn(err)
		return err
	}
	return nil
}

// MassEraseIT starts a mass erase.
func (h *Handle) MassEraseIT() error {
	if err := h.checkIdle(OpMassErase); err != nil {
		return err
	}
	if !h.geo.MassErase {
		return errors.Wrap(ErrNotSupported, "mass erase")
	}
	if err := h.beginIT(OpMassErase); err != nil {
		return err
	}
	h.regs.EnableIT(ll.CR_IT)
	h.launchMass()
	return nil
}
