//go:build tinygo && baremetal

package ll

import (
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"
)

// MMIO is the on-chip register file at Base.
type MMIO struct{}

func (MMIO) Load32(off uint32) uint32 {
	return volatile.LoadUint32((*uint32)(unsafe.Pointer(uintptr(Base + off))))
}

func (MMIO) Store32(off uint32, v uint32) {
	volatile.StoreUint32((*uint32)(unsafe.Pointer(uintptr(Base+off))), v)
}

// FlashMemory is the flash array mapped into the CPU address space.
type FlashMemory struct{}

func (FlashMemory) Store8(addr uint32, v uint8) {
	volatile.StoreUint8((*uint8)(unsafe.Pointer(uintptr(addr))), v)
}

func (FlashMemory) Store16(addr uint32, v uint16) {
	volatile.StoreUint16((*uint16)(unsafe.Pointer(uintptr(addr))), v)
}

func (FlashMemory) Store32(addr uint32, v uint32) {
	volatile.StoreUint32((*uint32)(unsafe.Pointer(uintptr(addr))), v)
}

func (FlashMemory) Read(addr uint32, p []byte) {
	for i := range p {
		p[i] = volatile.LoadUint8((*uint8)(unsafe.Pointer(uintptr(addr) + uintptr(i))))
	}
}

// CPUMask masks interrupts through PRIMASK.
type CPUMask struct{}

func (CPUMask) Disable() uintptr { return uintptr(interrupt.Disable()) }

func (CPUMask) Restore(state uintptr) { interrupt.Restore(interrupt.State(state)) }
