// Package ll holds the flash controller register primitives: stateless
// accessors over the control/status register file. Nothing in this package
// loops, waits or keeps state.
package ll

// Bus is the controller register file. Offsets are relative to Base.
type Bus interface {
	Load32(off uint32) uint32
	Store32(off uint32, v uint32)
}

// Memory is the flash array as seen by the CPU. Programming is done by
// storing to flash addresses while CR.PG is set; the store width matters
// to the controller.
type Memory interface {
	Store8(addr uint32, v uint8)
	Store16(addr uint32, v uint16)
	Store32(addr uint32, v uint32)
	Read(addr uint32, p []byte)
}

// IRQMask masks and restores CPU interrupts around short critical sections.
type IRQMask interface {
	Disable() uintptr
	Restore(state uintptr)
}

// NoIRQMask is an IRQMask for contexts without interrupts.
type NoIRQMask struct{}

func (NoIRQMask) Disable() uintptr { return 0 }
func (NoIRQMask) Restore(uintptr)  {}

// Register is one 32-bit register on a Bus.
type Register struct {
	bus Bus
	off uint32
}

// Reg returns the register at off.
func Reg(bus Bus, off uint32) Register {
	return Register{bus: bus, off: off}
}

func (r Register) Get() uint32  { return r.bus.Load32(r.off) }
func (r Register) Set(v uint32) { r.bus.Store32(r.off, v) }

func (r Register) SetBits(v uint32) {
	r.Set(r.Get() | v)
}

func (r Register) ClearBits(v uint32) {
	r.Set(r.Get() &^ v)
}

func (r Register) HasBits(v uint32) bool {
	return r.Get()&v != 0
}

// ReplaceBits replaces the bits under mask with value shifted to pos.
func (r Register) ReplaceBits(value, mask uint32, pos uint8) {
	r.Set(r.Get()&^mask | (value<<pos)&mask)
}
