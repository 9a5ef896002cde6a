//go:build !(tinygo && baremetal)

package hal

import "stm32hal/ll"

// There is no controller to map on a host; Config must supply one.
func defaultPorts() ports {
	return ports{mask: ll.NoIRQMask{}}
}
