package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sigurn/crc16"

	"stm32hal/hal"
	"stm32hal/internal/buildinfo"
	"stm32hal/ll"
)

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

var modes = map[string]hal.ProgrammingMode{
	"adaptive": hal.ModeAdaptive,
	"quad":     hal.ModeQuadWord,
	"double":   hal.ModeDoubleWord,
	"word":     hal.ModeWord,
	"half":     hal.ModeHalfWord,
	"byte":     hal.ModeByte,
}

// opFlags selects the engine and bounds the call.
type opFlags struct {
	IT      bool          `name:"it" help:"Use the interrupt-driven engine."`
	Timeout time.Duration `default:"5s" help:"Give up after this long."`
}

// run executes an operation through the polling or the interrupt engine.
func (f opFlags) run(s *session, poll func(time.Duration) error, it func() error) error {
	if f.IT {
		return s.runIT(it, f.Timeout)
	}
	return poll(f.Timeout)
}

func withSession(g *globals, fn func(s *session) error) (err error) {
	s, err := g.open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(s)
}

type programCmd struct {
	opFlags

	Addr   address `arg:"" help:"Start address."`
	File   string  `arg:"" type:"existingfile" help:"Binary to program."`
	Mode   string  `enum:"adaptive,quad,double,word,half,byte" default:"adaptive" help:"Write unit (${enum})."`
	Verify bool    `default:"true" negatable:"" help:"Read back and compare."`
}

func (c *programCmd) Run(g *globals) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return errors.Wrap(err, "read input")
	}
	addr := uint32(c.Addr)

	return withSession(g, func(s *session) error {
		if err := s.h.SetProgrammingMode(modes[c.Mode]); err != nil {
			return err
		}
		err := c.run(s,
			func(d time.Duration) error { return s.h.ProgramByAddr(addr, data, d) },
			func() error { return s.h.ProgramByAddrIT(addr, data) },
		)
		if err != nil {
			return errors.Wrapf(err, "program 0x%08x", addr)
		}

		sum := crc16.Checksum(data, crcTable)
		if c.Verify {
			back := make([]byte, len(data))
			s.ctl.Memory().Read(addr, back)
			if !bytes.Equal(back, data) {
				return errors.Errorf("verify 0x%08x: read back crc16 0x%04x, want 0x%04x",
					addr, crc16.Checksum(back, crcTable), sum)
			}
		}
		color.Green("programmed %d bytes at 0x%08x (crc16 0x%04x)", len(data), addr, sum)
		return nil
	})
}

type eraseCmd struct {
	Addr eraseAddrCmd `cmd:"" help:"Erase every page touched by a byte range."`
	Page erasePageCmd `cmd:"" help:"Erase consecutive pages of one bank."`
	Bank eraseBankCmd `cmd:"" help:"Erase a whole user flash bank."`
	Mass eraseMassCmd `cmd:"" help:"Erase all user flash and EDATA."`
}

type eraseAddrCmd struct {
	opFlags

	Addr address `arg:"" help:"First address."`
	Size uint32  `arg:"" help:"Number of bytes."`
}

func (c *eraseAddrCmd) Run(g *globals) error {
	addr := uint32(c.Addr)
	return withSession(g, func(s *session) error {
		err := c.run(s,
			func(d time.Duration) error { return s.h.EraseByAddr(addr, c.Size, d) },
			func() error { return s.h.EraseByAddrIT(addr, c.Size) },
		)
		info := s.h.EraseByAddrOperationInfo()
		if err != nil {
			return errors.Wrapf(err, "erase 0x%08x+%d (%d bytes done)", addr, c.Size, info.Size)
		}
		color.Green("erased %s 0x%08x..0x%08x", info.Area, info.Addr, info.Addr+info.Size)
		return nil
	})
}

type erasePageCmd struct {
	opFlags

	Bank  uint32 `arg:"" help:"Bank, in address order."`
	Page  uint32 `arg:"" help:"First page."`
	Count uint32 `default:"1" help:"Number of pages."`
	EDATA bool   `name:"edata" help:"Erase EDATA pages instead of user flash."`
}

func (c *erasePageCmd) Run(g *globals) error {
	return withSession(g, func(s *session) error {
		poll, it := s.h.ErasePage, s.h.ErasePageIT
		if c.EDATA {
			poll, it = s.h.EDATAErasePage, s.h.EDATAErasePageIT
		}
		err := c.run(s,
			func(d time.Duration) error { return poll(c.Bank, c.Page, c.Count, d) },
			func() error { return it(c.Bank, c.Page, c.Count) },
		)
		info := s.h.ErasePageOperationInfo()
		if err != nil {
			return errors.Wrapf(err, "erase %s bank %d pages %d+%d (%d done)", info.Area, c.Bank, c.Page, c.Count, info.Count)
		}
		color.Green("erased %s bank %d pages %d..%d", info.Area, info.Bank, info.Page, info.Page+info.Count-1)
		return nil
	})
}

type eraseBankCmd struct {
	opFlags

	Bank uint32 `arg:"" help:"Bank, in address order."`
}

func (c *eraseBankCmd) Run(g *globals) error {
	return withSession(g, func(s *session) error {
		err := c.run(s,
			func(d time.Duration) error { return s.h.EraseBank(c.Bank, d) },
			func() error { return s.h.EraseBankIT(c.Bank) },
		)
		if err != nil {
			return errors.Wrapf(err, "erase bank %d", c.Bank)
		}
		color.Green("erased bank %d", s.h.EraseBankOperationInfo().Bank)
		return nil
	})
}

type eraseMassCmd struct {
	opFlags
}

func (c *eraseMassCmd) Run(g *globals) error {
	return withSession(g, func(s *session) error {
		err := c.run(s, s.h.MassErase, s.h.MassEraseIT)
		if err != nil {
			return errors.Wrap(err, "mass erase")
		}
		color.Green("mass erase done")
		return nil
	})
}

type readCmd struct {
	Addr   address `arg:"" help:"First address."`
	Length uint32  `arg:"" help:"Number of bytes."`
	Out    string  `short:"o" type:"path" help:"Write raw bytes to this file instead of a hex dump."`
}

func (c *readCmd) Run(g *globals) error {
	addr := uint32(c.Addr)
	if _, ok := ll.DefaultLayout.AreaOf(addr); !ok || c.Length == 0 {
		return errors.Wrapf(hal.ErrInvalidParam, "read 0x%08x+%d", addr, c.Length)
	}
	return withSession(g, func(s *session) error {
		buf := make([]byte, c.Length)
		s.ctl.Memory().Read(addr, buf)

		if c.Out != "" {
			if err := os.WriteFile(c.Out, buf, 0o644); err != nil {
				return errors.Wrap(err, "write output")
			}
		} else {
			d := hex.Dumper(os.Stdout)
			if _, err := d.Write(buf); err != nil {
				return err
			}
			if err := d.Close(); err != nil {
				return err
			}
		}
		color.Cyan("crc16 0x%04x over %d bytes at 0x%08x", crc16.Checksum(buf, crcTable), len(buf), addr)
		return nil
	})
}

type infoCmd struct{}

func (c *infoCmd) Run(g *globals) error {
	return withSession(g, func(s *session) error {
		geo := s.h.Geometry()
		bold := color.New(color.Bold)

		bold.Println("layout")
		for _, a := range []ll.Area{ll.AreaUser, ll.AreaEDATA, ll.AreaOTP} {
			fmt.Printf("  %-6s 0x%08x  %7d bytes", a, geo.Base(a), geo.Size(a))
			if ps := geo.PageSize(a); ps != 0 {
				fmt.Printf("  %d banks x %d pages x %d bytes", geo.Banks, geo.PagesPerBank(a), ps)
			}
			fmt.Println()
		}

		bold.Println("controller")
		regs := s.ctl.Snapshot()
		fmt.Printf("  CR 0x%08x  SR 0x%08x  OPSR 0x%08x\n", regs.CR, regs.SR, regs.OPSR)
		fmt.Printf("  bank swap: %v\n", regs.OPTSR&ll.OPTSR_SWAP_BANK != 0)

		if in := s.h.InterruptedByResetOperationInfo(); in.Kind != hal.InterruptedNone {
			color.Yellow("  interrupted by reset: %s in %s bank %d at 0x%08x", in.Kind, in.Area, in.Bank, in.Addr)
		} else {
			fmt.Println("  no interrupted operation")
		}
		for _, k := range []hal.ECCKind{hal.ECCSingle, hal.ECCDouble} {
			if e, ok := s.h.ECCFailInfo(k); ok {
				color.Red("  ecc %s error in %s at 0x%08x", k, e.Area, e.Addr)
			}
		}
		return nil
	})
}

type versionCmd struct{}

func (c *versionCmd) Run(g *globals) error {
	fmt.Println(buildinfo.String("flashctl"))
	return nil
}
