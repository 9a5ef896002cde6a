package flashsim

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"stm32hal/ll"
)

// Storage holds the raw bytes of the flash array, laid out by physical bank:
// user bank 0, user bank 1, EDATA bank 0, EDATA bank 1, OTP.
type Storage interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

// ImageSize returns the storage size needed for a layout.
func ImageSize(l ll.Layout) int64 {
	return int64(l.UserSize()) + int64(l.EDATASize()) + int64(l.OTPSize)
}

// MemStorage is an in-memory Storage.
type MemStorage []byte

// NewMemStorage returns an erased in-memory image for l.
func NewMemStorage(l ll.Layout) MemStorage {
	m := make(MemStorage, ImageSize(l))
	for i := range m {
		m[i] = 0xFF
	}
	return m
}

func (m MemStorage) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m)) {
		return 0, io.EOF
	}
	n := copy(p, m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m MemStorage) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(m)) {
		return 0, errors.Wrapf(os.ErrInvalid, "flash image write off=%d len=%d", off, len(p))
	}
	return copy(m[off:], p), nil
}

// FileStorage keeps the image in a host file so it survives between runs.
type FileStorage struct {
	f    *os.File
	size int64
}

// OpenFile opens or creates an image file sized for l. A new or short file is
// extended with erased (0xFF) bytes.
func OpenFile(path string, l ll.Layout) (*FileStorage, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open flash image %q", path)
	}

	size := ImageSize(l)
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "stat flash image %q", path)
	}
	if cur := st.Size(); cur < size {
		erased := make([]byte, 4096)
		for i := range erased {
			erased[i] = 0xFF
		}
		for off := cur; off < size; off += int64(len(erased)) {
			n := int64(len(erased))
			if size-off < n {
				n = size - off
			}
			if _, err := f.WriteAt(erased[:n], off); err != nil {
				_ = f.Close()
				return nil, errors.Wrapf(err, "extend flash image %q", path)
			}
		}
	}
	return &FileStorage{f: f, size: size}, nil
}

func (s *FileStorage) ReadAt(p []byte, off int64) (int, error) {
	if off >= s.size {
		return 0, io.EOF
	}
	if rest := s.size - off; int64(len(p)) > rest {
		p = p[:rest]
	}
	return s.f.ReadAt(p, off)
}

func (s *FileStorage) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > s.size {
		return 0, errors.Wrapf(os.ErrInvalid, "flash image write off=%d len=%d", off, len(p))
	}
	return s.f.WriteAt(p, off)
}

func (s *FileStorage) Close() error { return s.f.Close() }
