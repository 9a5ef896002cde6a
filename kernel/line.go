package kernel

// Line identifies an interrupt line routed to a handler.
type Line uint8

const (
	LineFlash Line = iota
	LineNMI

	maxLines
)

func (l Line) String() string {
	switch l {
	case LineFlash:
		return "flash"
	case LineNMI:
		return "nmi"
	default:
		return "unknown"
	}
}
