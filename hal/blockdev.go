package hal

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"tinygo.org/x/tinyfs"

	"stm32hal/ll"
)

var _ tinyfs.BlockDevice = (*BlockDevice)(nil)

// BlockDevice exposes user flash or EDATA as a tinyfs block device, so a
// littlefs or FAT volume can live in on-chip flash. It uses the polling
// operations of its handle.
type BlockDevice struct {
	h    *Handle
	area ll.Area
	base uint32
	size uint32

	// Timeout bounds each program or erase call. Defaults to maxTimeout.
	Timeout time.Duration
}

// NewBlockDevice maps [off, off+size) of area. size 0 means up to the end of
// the area. off and size must be page aligned.
func NewBlockDevice(h *Handle, area ll.Area, off, size uint32) (*BlockDevice, error) {
	switch area {
	case ll.AreaUser:
	case ll.AreaEDATA:
		if !h.geo.EDATA {
			return nil, errors.Wrap(ErrNotSupported, "block device: edata")
		}
	default:
		return nil, errors.Wrapf(ErrNotSupported, "block device: %s cannot be erased", area)
	}
	total := h.geo.Size(area)
	if size == 0 && off < total {
		size = total - off
	}
	ps := h.geo.PageSize(area)
	base := h.geo.Base(area) + off
	if off%ps != 0 || size%ps != 0 || size == 0 || !h.geo.Contains(area, base, size) {
		return nil, errors.Wrapf(ErrInvalidParam, "block device: %s window %d+%d", area, off, size)
	}
	return &BlockDevice{h: h, area: area, base: base, size: size, Timeout: maxTimeout}, nil
}

func (d *BlockDevice) bounds(n int, off int64) (uint32, error) {
	if off < 0 || off > int64(d.size) || int64(n) > int64(d.size)-off {
		return 0, errors.Wrapf(ErrInvalidParam, "block device: %d bytes at %d", n, off)
	}
	return d.base + uint32(off), nil
}

func (d *BlockDevice) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(d.size) {
		return 0, io.EOF
	}
	var short error
	if rest := int64(d.size) - off; int64(len(p)) > rest {
		p = p[:rest]
		short = io.EOF
	}
	addr, err := d.bounds(len(p), off)
	if err != nil {
		return 0, err
	}
	d.h.mem.Read(addr, p)
	return len(p), short
}

// WriteAt programs p. off and len(p) must be multiples of WriteBlockSize and
// the target must be erased.
func (d *BlockDevice) WriteAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	addr, err := d.bounds(len(p), off)
	if err != nil {
		return 0, err
	}
	if wb := d.WriteBlockSize(); off%wb != 0 || int64(len(p))%wb != 0 {
		return 0, errors.Wrapf(ErrInvalidParam, "block device: write %d bytes at %d not aligned to %d", len(p), off, wb)
	}
	if err := d.h.ProgramByAddr(addr, p, d.Timeout); err != nil {
		return int(d.h.ProgramOperationInfo().Done), err
	}
	return len(p), nil
}

func (d *BlockDevice) Size() int64 { return int64(d.size) }

// WriteBlockSize is a quad-word in user flash and a half-word in EDATA.
func (d *BlockDevice) WriteBlockSize() int64 {
	if d.area == ll.AreaUser {
		return ll.QuadWord
	}
	return 2
}

func (d *BlockDevice) EraseBlockSize() int64 { return int64(d.h.geo.PageSize(d.area)) }

// EraseBlocks erases n blocks starting at block start.
func (d *BlockDevice) EraseBlocks(start, n int64) error {
	if n == 0 {
		return nil
	}
	bs := d.EraseBlockSize()
	addr, err := d.bounds(int(n*bs), start*bs)
	if err != nil || start < 0 || n < 0 {
		return errors.Wrapf(ErrInvalidParam, "block device: erase %d blocks at %d", n, start)
	}
	return d.h.EraseByAddr(addr, uint32(n*bs), d.Timeout)
}
