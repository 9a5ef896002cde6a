package hal

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stm32hal/ll"
)

// State is the handle's global state.
type State uint8

const (
	StateReset State = iota
	StateIdle
	StateActive
)

func (s State) String() string {
	switch s {
	case StateReset:
		return "reset"
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Operation identifies the engine that owns the in-flight sequence.
type Operation uint8

const (
	OpNone Operation = iota
	OpProgram
	OpAddrErase
	OpPageErase
	OpBankErase
	OpMassErase
)

func (o Operation) String() string {
	switch o {
	case OpNone:
		return "none"
	case OpProgram:
		return "program"
	case OpAddrErase:
		return "erase-by-addr"
	case OpPageErase:
		return "erase-page"
	case OpBankErase:
		return "erase-bank"
	case OpMassErase:
		return "mass-erase"
	default:
		return "unknown"
	}
}

// Tick is a free-running millisecond counter. It may wrap.
type Tick interface {
	Milliseconds() uint32
}

type wallTick struct {
	start time.Time
}

func (t wallTick) Milliseconds() uint32 {
	return uint32(time.Since(t.start).Milliseconds())
}

const (
	// A quad-word is expected to program in about 1 ms.
	programUnitTimeout = 1 * time.Millisecond
	pageEraseTimeout   = 100 * time.Millisecond
	// maxTimeout bounds the busy wait before interrupt-mode operations and in DeInit.
	maxTimeout = 1000 * time.Millisecond
)

// Geometry is the memory map plus the optional API families of the part.
type Geometry struct {
	ll.Layout

	EDATA     bool
	MassErase bool
	ECC       bool
}

// DefaultGeometry is the 512 KiB part with every family enabled.
var DefaultGeometry = Geometry{
	Layout:    ll.DefaultLayout,
	EDATA:     true,
	MassErase: true,
	ECC:       true,
}

// Config configures a Handle. Zero fields take defaults in New.
type Config struct {
	Instance uint32

	Bus     ll.Bus
	Memory  ll.Memory
	IRQMask ll.IRQMask
	Tick    Tick

	Geometry        Geometry
	ProgrammingMode ProgrammingMode
	Callbacks       Callbacks
	Logger          logrus.FieldLogger
}

// Handle drives one flash controller instance. It is not safe for concurrent
// use: the only other context allowed to touch it is its own interrupt
// handler, reached through IRQHandler and NMIIRQHandler.
type Handle struct {
	instance uint32
	regs     *ll.Flash
	mem      ll.Memory
	mask     ll.IRQMask
	tick     Tick
	geo      Geometry
	log      logrus.FieldLogger
	cb       Callbacks

	state State
	op    Operation
	mode  ProgrammingMode

	// Progress counters. count and size are bytes for programming and pages
	// for page erases.
	count uint32
	size  uint32

	progData   []byte
	progIdx    uint32
	progAddr   uint32
	progStart  uint32
	progArea   ll.Area
	chunk      uint32
	eraseArea  ll.Area
	eraseBank  uint32
	erasePage  uint32
	eraseNext  uint32
	eraseStart uint32
	eraseAddr  uint32

	lastErr  ErrorCode
	userData any
}

// New returns a handle in the reset state.
func New(cfg Config) *Handle {
	if cfg.Instance == 0 {
		cfg.Instance = ll.Base
	}
	def := defaultPorts()
	if cfg.Bus == nil {
		cfg.Bus = def.bus
	}
	if cfg.Memory == nil {
		cfg.Memory = def.mem
	}
	if cfg.IRQMask == nil {
		cfg.IRQMask = def.mask
	}
	if cfg.Tick == nil {
		cfg.Tick = wallTick{start: time.Now()}
	}
	if cfg.Geometry.Banks == 0 {
		cfg.Geometry = DefaultGeometry
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.Out = io.Discard
		cfg.Logger = l
	}

	h := &Handle{
		instance: cfg.Instance,
		mem:      cfg.Memory,
		mask:     cfg.IRQMask,
		tick:     cfg.Tick,
		geo:      cfg.Geometry,
		log:      cfg.Logger.WithField("flash", cfg.Instance),
		cb:       cfg.Callbacks,
		mode:     cfg.ProgrammingMode,
	}
	if cfg.Bus != nil {
		h.regs = ll.New(cfg.Bus)
	}
	return h
}

// Init moves the handle from reset to idle.
func (h *Handle) Init() error {
	if h.regs == nil || h.mem == nil {
		return errors.Wrap(ErrInvalidParam, "init: no register bus or memory port")
	}
	if h.state != StateReset {
		return errors.Wrapf(ErrNotIdle, "init: state %s", h.state)
	}
	h.op = OpNone
	h.count, h.size = 0, 0
	h.lastErr = ErrorNone
	h.state = StateIdle
	h.log.Debug("init")
	return nil
}

// DeInit waits for a hardware operation still in flight, then returns the
// handle to the reset state.
func (h *Handle) DeInit() error {
	if h.state == StateReset {
		return nil
	}
	err := h.waitIdle(h.tick.Milliseconds(), ms(maxTimeout))
	if !h.regs.IsLocked() {
		h.regs.DisableIT(ll.CR_IT)
		h.regs.DisableAllOperations()
	}
	h.op = OpNone
	h.state = StateReset
	h.log.Debug("deinit")
	return err
}

// Instance returns the controller base address.
func (h *Handle) Instance() uint32 { return h.instance }

// State returns the global state.
func (h *Handle) State() State { return h.state }

// Geometry returns the memory map in use.
func (h *Handle) Geometry() Geometry { return h.geo }

func (h *Handle) SetUserData(v any) { h.userData = v }
func (h *Handle) UserData() any     { return h.userData }

// Unlock performs the key sequence on the control register.
func (h *Handle) Unlock() error {
	if h.regs == nil {
		return errors.Wrap(ErrInvalidParam, "unlock: no register bus")
	}
	if !h.regs.IsLocked() {
		return nil
	}
	h.regs.Unlock()
	if h.regs.IsLocked() {
		return errors.Wrap(ErrLocked, "unlock: key sequence rejected")
	}
	return nil
}

// Lock locks the control register. It is refused while an operation runs.
func (h *Handle) Lock() error {
	if h.regs == nil {
		return errors.Wrap(ErrInvalidParam, "lock: no register bus")
	}
	if h.state == StateActive {
		return errors.Wrapf(ErrNotIdle, "lock: %s in progress", h.op)
	}
	h.regs.Lock()
	return nil
}

// IsLocked reports whether the control register is locked. A handle without
// a register bus reports locked.
func (h *Handle) IsLocked() bool { return h.regs == nil || h.regs.IsLocked() }

// checkIdle is the single-flight guard: nothing else may run while a handle
// is active, and a reset handle accepts no operation.
func (h *Handle) checkIdle(op Operation) error {
	if h.state != StateIdle {
		return errors.Wrapf(ErrNotIdle, "%s: state %s (ongoing %s)", op, h.state, h.op)
	}
	return nil
}

// acquire checks the lock and claims the handle.
func (h *Handle) acquire(op Operation) error {
	if h.regs.IsLocked() {
		return errors.Wrapf(ErrLocked, "%s", op)
	}
	h.state = StateActive
	return nil
}

// release returns a polling operation's handle to idle.
func (h *Handle) release() {
	h.op = OpNone
	h.state = StateIdle
}

func ms(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	if d/time.Millisecond > time.Duration(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(d / time.Millisecond)
}

// remaining is what is left of timeout since start, at least 0.
func (h *Handle) remaining(start, timeout uint32) uint32 {
	if spent := h.tick.Milliseconds() - start; spent < timeout {
		return timeout - spent
	}
	return 0
}

func (h *Handle) expired(start, timeout uint32) bool {
	return h.tick.Milliseconds()-start > timeout
}

// waitIdle waits until the controller has nothing in flight or buffered,
// then discards flags left by earlier operations.
func (h *Handle) waitIdle(start, timeout uint32) error {
	for h.regs.IsActiveFlag(ll.SR_PENDING) {
		if h.expired(start, timeout) {
			return errors.Wrap(ErrTimeout, "wait for idle controller")
		}
	}
	h.regs.ClearFlags(ll.SR_EOP | ll.SR_ERRORS)
	return nil
}

// waitForEndOfOperation waits for the current hardware step, then consumes
// its flags. Error flags are accumulated into the last error codes.
func (h *Handle) waitForEndOfOperation(timeout uint32) error {
	start := h.tick.Milliseconds()
	for h.regs.IsActiveFlag(ll.SR_PENDING) {
		if h.expired(start, timeout) {
			return errors.Wrapf(ErrTimeout, "%s: wait for end of operation", h.op)
		}
	}

	flags := h.regs.ReadFlags()
	if errs := flags & ll.SR_ERRORS; errs != 0 {
		h.lastErr |= ErrorCode(errs)
		h.regs.ClearFlags(errs | ll.SR_EOP)
		return &OperationError{Op: h.op, Codes: ErrorCode(errs)}
	}
	if flags&ll.SR_EOP != 0 {
		h.regs.ClearFlags(ll.SR_EOP)
	}
	return nil
}
