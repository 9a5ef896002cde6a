package hal

import "stm32hal/ll"

// ports are the hardware views a Handle uses when Config leaves them unset.
type ports struct {
	bus  ll.Bus
	mem  ll.Memory
	mask ll.IRQMask
}
