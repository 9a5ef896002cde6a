package hal

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stm32hal/ll"
)

// checkProgram validates a programming request and returns its area.
func (h *Handle) checkProgram(addr uint32, data []byte) (ll.Area, error) {
	size := uint32(len(data))
	if size == 0 || len(data) > int(^uint32(0)>>1) {
		return 0, errors.Wrapf(ErrInvalidParam, "program: size %d", len(data))
	}
	area, ok := h.geo.AreaOf(addr)
	if !ok {
		return 0, errors.Wrapf(ErrInvalidParam, "program: address 0x%08x outside flash", addr)
	}
	if area == ll.AreaEDATA && !h.geo.EDATA {
		return 0, errors.Wrap(ErrNotSupported, "program: edata")
	}
	if !h.geo.Contains(area, addr, size) {
		return 0, errors.Wrapf(ErrInvalidParam, "program: 0x%08x+%d crosses the %s area end", addr, size, area)
	}

	switch area {
	case ll.AreaUser:
		unit := h.mode.Unit()
		if h.mode == ModeAdaptive {
			unit = ll.QuadWord
		}
		if addr%unit != 0 {
			return 0, errors.Wrapf(ErrInvalidParam, "program: 0x%08x not aligned to %s", addr, h.mode)
		}
	default:
		switch h.mode {
		case ModeAdaptive, ModeWord, ModeHalfWord:
		default:
			return 0, errors.Wrapf(ErrInvalidParam, "program: %s mode not allowed in %s", h.mode, area)
		}
		if addr%2 != 0 || size%2 != 0 {
			return 0, errors.Wrapf(ErrInvalidParam, "program: %s needs half-word alignment (0x%08x+%d)", area, addr, size)
		}
		if h.mode == ModeWord && addr%4 != 0 {
			return 0, errors.Wrapf(ErrInvalidParam, "program: 0x%08x not aligned to %s", addr, h.mode)
		}
	}
	return area, nil
}

func (h *Handle) startProgram(area ll.Area, addr uint32, data []byte) {
	h.op = OpProgram
	h.progArea = area
	h.progData = data
	h.progIdx = 0
	h.progStart = addr
	h.progAddr = addr
	h.size = uint32(len(data))
	h.count = h.size
	h.chunk = 0
	h.log.WithFields(logrus.Fields{
		"addr": fmt.Sprintf("0x%08x", addr),
		"size": h.size,
		"mode": h.mode,
	}).Debug("program")
}

// writeChunk copies the next chunk into the write buffer with interrupts
// masked. A chunk shorter than a quad-word is flushed with FW.
func (h *Handle) writeChunk() {
	addr := h.progAddr
	data := h.progData[h.progIdx : h.progIdx+h.chunk]

	state := h.mask.Disable()
	for len(data) > 0 {
		switch {
		case len(data) >= 4 && addr%4 == 0:
			h.mem.Store32(addr, binary.LittleEndian.Uint32(data))
			addr, data = addr+4, data[4:]
		case len(data) >= 2 && addr%2 == 0:
			h.mem.Store16(addr, binary.LittleEndian.Uint16(data))
			addr, data = addr+2, data[2:]
		default:
			h.mem.Store8(addr, data[0])
			addr, data = addr+1, data[1:]
		}
	}
	if h.chunk < ll.QuadWord {
		h.regs.EnableForceWrite()
	}
	h.mask.Restore(state)
}

// advanceProgram accounts for a completed chunk.
func (h *Handle) advanceProgram() {
	h.progAddr += h.chunk
	h.progIdx += h.chunk
	h.count -= h.chunk
	h.chunk = 0
}

// ProgramByAddr programs data at addr and waits for completion. The area is
// inferred from addr. timeout bounds the whole call.
func (h *Handle) ProgramByAddr(addr uint32, data []byte, timeout time.Duration) error {
	if err := h.checkIdle(OpProgram); err != nil {
		return err
	}
	area, err := h.checkProgram(addr, data)
	if err != nil {
		return err
	}
	start, tmo, err := h.begin(OpProgram, timeout)
	if err != nil {
		return err
	}
	defer h.release()

	h.startProgram(area, addr, data)
	defer h.regs.DisableProgramming()

	h.regs.EnableProgramming()
	for h.count > 0 {
		h.chunk = h.nextChunk()
		h.writeChunk()
		if err := h.waitForEndOfOperation(ms(programUnitTimeout)); err != nil {
			h.warn(err)
			return err
		}
		h.advanceProgram()
		if h.count > 0 && h.expired(start, tmo) {
			err := errors.Wrapf(ErrTimeout, "program: %d of %d bytes left", h.count, h.size)
			h.warn(err)
			return err
		}
	}
	return nil
}

// ProgramByAddrIT starts programming data at addr and returns. Each chunk
// completion interrupt writes the next one; ProgramComplete or Error fires at
// the end. data must stay untouched until then.
func (h *Handle) ProgramByAddrIT(addr uint32, data []byte) error {
	if err := h.checkIdle(OpProgram); err != nil {
		return err
	}
	area, err := h.checkProgram(addr, data)
	if err != nil {
		return err
	}
	if err := h.beginIT(OpProgram); err != nil {
		return err
	}

	h.startProgram(area, addr, data)
	h.chunk = h.nextChunk()
	h.regs.EnableIT(ll.CR_IT)
	h.regs.EnableProgramming()
	h.writeChunk()
	return nil
}

// ProgramByAddrIRQHandler continues an interrupt-mode programming sequence.
func (h *Handle) ProgramByAddrIRQHandler() {
	if h.op != OpProgram {
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

	h.advanceProgram()
	if h.count > 0 {
		h.chunk = h.nextChunk()
		h.writeChunk()
		return
	}

	h.regs.DisableProgramming()
	h.regs.DisableIT(ll.CR_IT)
	addr, size := h.progStart, h.size
	h.release()
	h.log.WithField("addr", fmt.Sprintf("0x%08x", addr)).Debug("program complete")
	h.cb.programComplete(h, addr, size)
}

func (h *Handle) warn(err error) {
	h.log.WithFields(logrus.Fields{
		"op":    h.op,
		"codes": h.lastErr,
	}).Warn(err)
}
