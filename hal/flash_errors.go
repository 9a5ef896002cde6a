package hal

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"stm32hal/ll"
)

var (
	// ErrInvalidParam reports an argument outside the accepted domain.
	ErrInvalidParam = errors.New("flash: invalid parameter")
	// ErrNotIdle reports a call made while the handle was not idle.
	ErrNotIdle = errors.New("flash: handle not idle")
	// ErrLocked reports a call made while the control register was locked.
	ErrLocked = errors.New("flash: control register locked")
	// ErrHardware is matched by every *OperationError.
	ErrHardware = errors.New("flash: hardware error")
	ErrTimeout  = errors.New("flash: timeout")
	// ErrNotSupported reports an API family the part does not have.
	ErrNotSupported = errors.New("flash: not supported")
)

// ErrorCode is a bit set of hardware error causes, using the status register
// bit positions.
type ErrorCode uint32

const (
	ErrorNone         ErrorCode = 0
	ErrorWRP          ErrorCode = ll.SR_WRPERR
	ErrorPGS          ErrorCode = ll.SR_PGSERR
	ErrorSTRB         ErrorCode = ll.SR_STRBERR
	ErrorINC          ErrorCode = ll.SR_INCERR
	ErrorOBK          ErrorCode = ll.SR_OBKERR
	ErrorOBKW         ErrorCode = ll.SR_OBKWERR
	ErrorOptionChange ErrorCode = ll.SR_OPTCHANGEERR
)

var errorNames = [...]struct {
	code ErrorCode
	name string
}{
	{ErrorWRP, "wrp"},
	{ErrorPGS, "pgs"},
	{ErrorSTRB, "strb"},
	{ErrorINC, "inc"},
	{ErrorOBK, "obk"},
	{ErrorOBKW, "obkw"},
	{ErrorOptionChange, "optchange"},
}

func (c ErrorCode) String() string {
	if c == ErrorNone {
		return "none"
	}
	var parts []string
	rest := c
	for _, e := range errorNames {
		if c&e.code != 0 {
			parts = append(parts, e.name)
			rest &^= e.code
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// Has reports whether every bit of mask is set.
func (c ErrorCode) Has(mask ErrorCode) bool { return c&mask == mask }

// OperationError is returned when the controller reports error flags for an
// operation step.
type OperationError struct {
	Op    Operation
	Codes ErrorCode
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("flash: %s failed: %s", e.Op, e.Codes)
}

func (e *OperationError) Is(target error) bool { return target == ErrHardware }

// LastErrorCodes returns the error causes accumulated since the start of the
// last operation.
func (h *Handle) LastErrorCodes() ErrorCode { return h.lastErr }

// ClearLastErrorCodes resets the accumulated error causes.
func (h *Handle) ClearLastErrorCodes() { h.lastErr = ErrorNone }
