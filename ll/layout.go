package ll

// Area is one of the independently addressed flash regions.
type Area uint8

const (
	AreaUser Area = iota
	AreaEDATA
	AreaOTP
)

func (a Area) String() string {
	switch a {
	case AreaUser:
		return "user"
	case AreaEDATA:
		return "edata"
	case AreaOTP:
		return "otp"
	default:
		return "unknown"
	}
}

// QuadWord is the controller write buffer size in bytes.
const QuadWord = 16

// Layout is the memory map of the flash array.
//
// User flash and EDATA are split into Banks equal banks. SWAP_BANK exchanges
// which physical bank answers the first bank window.
type Layout struct {
	Banks uint32

	UserBase     uint32
	UserBankSize uint32
	UserPageSize uint32

	EDATABase     uint32
	EDATABankSize uint32
	EDATAPageSize uint32

	OTPBase uint32
	OTPSize uint32
}

// DefaultLayout is the 512 KiB part.
var DefaultLayout = Layout{
	Banks: 2,

	UserBase:     0x08000000,
	UserBankSize: 256 * 1024,
	UserPageSize: 8 * 1024,

	EDATABase:     0x09000000,
	EDATABankSize: 16 * 1024,
	EDATAPageSize: 2 * 1024,

	OTPBase: 0x08FFF000,
	OTPSize: 2 * 1024,
}

func (l Layout) UserSize() uint32  { return l.Banks * l.UserBankSize }
func (l Layout) EDATASize() uint32 { return l.Banks * l.EDATABankSize }

// PageSize returns the erase granularity of an area. OTP cannot be erased.
func (l Layout) PageSize(a Area) uint32 {
	switch a {
	case AreaUser:
		return l.UserPageSize
	case AreaEDATA:
		return l.EDATAPageSize
	default:
		return 0
	}
}

// BankSize returns the per-bank size of an area.
func (l Layout) BankSize(a Area) uint32 {
	switch a {
	case AreaUser:
		return l.UserBankSize
	case AreaEDATA:
		return l.EDATABankSize
	default:
		return l.OTPSize
	}
}

// Base returns the first address of an area.
func (l Layout) Base(a Area) uint32 {
	switch a {
	case AreaUser:
		return l.UserBase
	case AreaEDATA:
		return l.EDATABase
	default:
		return l.OTPBase
	}
}

// Size returns the total size of an area.
func (l Layout) Size(a Area) uint32 {
	switch a {
	case AreaUser:
		return l.UserSize()
	case AreaEDATA:
		return l.EDATASize()
	default:
		return l.OTPSize
	}
}

// PagesPerBank returns the page count of one bank of an area.
func (l Layout) PagesPerBank(a Area) uint32 {
	ps := l.PageSize(a)
	if ps == 0 {
		return 0
	}
	return l.BankSize(a) / ps
}

// AreaOf returns the area containing addr.
func (l Layout) AreaOf(addr uint32) (Area, bool) {
	for _, a := range [...]Area{AreaUser, AreaEDATA, AreaOTP} {
		base := l.Base(a)
		if addr >= base && addr-base < l.Size(a) {
			return a, true
		}
	}
	return 0, false
}

// Contains reports whether [addr, addr+size) lies inside area a.
func (l Layout) Contains(a Area, addr, size uint32) bool {
	base := l.Base(a)
	if addr < base {
		return false
	}
	off := addr - base
	total := l.Size(a)
	return off <= total && size <= total-off
}
