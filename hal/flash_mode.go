package hal

import (
	"github.com/pkg/errors"

	"stm32hal/ll"
)

// ProgrammingMode selects the write unit used by ProgramByAddr.
type ProgrammingMode uint8

const (
	// ModeAdaptive writes each chunk with the largest unit that fits the
	// remaining bytes.
	ModeAdaptive ProgrammingMode = iota
	ModeQuadWord
	ModeDoubleWord
	ModeWord
	ModeHalfWord
	ModeByte
)

func (m ProgrammingMode) String() string {
	switch m {
	case ModeAdaptive:
		return "adaptive"
	case ModeQuadWord:
		return "quad-word"
	case ModeDoubleWord:
		return "double-word"
	case ModeWord:
		return "word"
	case ModeHalfWord:
		return "half-word"
	case ModeByte:
		return "byte"
	default:
		return "unknown"
	}
}

// Unit returns the fixed write unit in bytes, or 0 in adaptive mode.
func (m ProgrammingMode) Unit() uint32 {
	switch m {
	case ModeQuadWord:
		return 16
	case ModeDoubleWord:
		return 8
	case ModeWord:
		return 4
	case ModeHalfWord:
		return 2
	case ModeByte:
		return 1
	default:
		return 0
	}
}

func (m ProgrammingMode) valid() bool { return m <= ModeByte }

// SetProgrammingMode selects the write unit for later programming calls.
func (h *Handle) SetProgrammingMode(m ProgrammingMode) error {
	if err := h.checkIdle(OpNone); err != nil {
		return err
	}
	if !m.valid() {
		return errors.Wrapf(ErrInvalidParam, "programming mode %d", m)
	}
	h.mode = m
	return nil
}

// ProgrammingMode returns the configured write unit.
func (h *Handle) ProgrammingMode() ProgrammingMode { return h.mode }

var (
	userUnits = [...]uint32{16, 8, 4, 2, 1}
	dataUnits = [...]uint32{4, 2}
)

// adaptiveUnit returns the largest unit of the area not above remaining
// that stays inside the quad-word holding addr.
func adaptiveUnit(area ll.Area, addr, remaining uint32) uint32 {
	units := userUnits[:]
	if area != ll.AreaUser {
		units = dataUnits[:]
	}
	if room := ll.QuadWord - addr%ll.QuadWord; room < remaining {
		remaining = room
	}
	for _, u := range units {
		if u <= remaining {
			return u
		}
	}
	return remaining
}

// nextChunk returns the size of the next write. A fixed-mode tail shorter
// than the unit goes out as one partial chunk.
func (h *Handle) nextChunk() uint32 {
	if h.mode == ModeAdaptive {
		return adaptiveUnit(h.progArea, h.progAddr, h.count)
	}
	if u := h.mode.Unit(); h.count >= u {
		return u
	}
	return h.count
}
