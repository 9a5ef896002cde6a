//go:build tinygo && baremetal

package hal

import "stm32hal/ll"

func defaultPorts() ports {
	return ports{bus: ll.MMIO{}, mem: ll.FlashMemory{}, mask: ll.CPUMask{}}
}
