package main

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stm32hal/hal"
	"stm32hal/internal/flashsim"
	"stm32hal/kernel"
	"stm32hal/ll"
)

// session is one opened image with a ready, unlocked handle.
type session struct {
	log    *logrus.Logger
	sys    *kernel.System
	store  *flashsim.FileStorage
	ctl    *flashsim.Controller
	h      *hal.Handle
	cancel context.CancelFunc

	failed bool
}

func (g *globals) open() (*session, error) {
	log := logrus.New()
	log.Out = os.Stderr
	if g.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	store, err := flashsim.OpenFile(g.Image, ll.DefaultLayout)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sys := kernel.NewSystem()
	sys.StartTick(ctx)

	ctl := flashsim.New(flashsim.Options{
		Layout:  ll.DefaultLayout,
		Storage: store,
		IRQ:     sys,
		Masked:  sys.Masked,
	})
	ctl.SetBankSwap(g.BankSwap)

	s := &session{log: log, sys: sys, store: store, ctl: ctl, cancel: cancel}
	s.h = hal.New(hal.Config{
		Bus:     ctl.Registers(),
		Memory:  ctl.Memory(),
		IRQMask: sys,
		Tick:    sys,
		Logger:  log,
		Callbacks: hal.Callbacks{
			Error: func(*hal.Handle) { s.failed = true },
		},
	})
	sys.Attach(kernel.LineFlash, s.h.IRQHandler)
	sys.Attach(kernel.LineNMI, s.h.NMIIRQHandler)

	if err := s.h.Init(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.h.Unlock(); err != nil {
		s.Close()
		return nil, err
	}
	log.WithField("image", g.Image).Debug("session open")
	return s, nil
}

// runIT starts an interrupt-mode operation and services interrupts until
// the handle is idle again.
func (s *session) runIT(start func() error, timeout time.Duration) error {
	s.failed = false
	if err := start(); err != nil {
		return err
	}
	op := s.h.Operation()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := s.sys.Run(ctx, func() bool { return s.h.State() == hal.StateIdle })
	if err != nil {
		return errors.Wrapf(hal.ErrTimeout, "%s still running after %s", op, timeout)
	}
	if s.failed {
		return &hal.OperationError{Op: op, Codes: s.h.LastErrorCodes()}
	}
	return nil
}

func (s *session) Close() error {
	var errs []error
	if s.h.State() != hal.StateReset {
		if err := s.h.Lock(); err != nil {
			errs = append(errs, err)
		}
		if err := s.h.DeInit(); err != nil {
			errs = append(errs, err)
		}
	}
	s.cancel()
	if err := s.ctl.Err(); err != nil {
		errs = append(errs, errors.Wrap(err, "flash image"))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "close flash image"))
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
