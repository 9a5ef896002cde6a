// Command flashctl drives the flash HAL against a modeled controller whose
// array lives in an image file, so images can be programmed, erased and
// inspected on a host.
package main

import (
	"strconv"

	"github.com/alecthomas/kong"
	"github.com/pkg/errors"
)

type globals struct {
	Image    string `help:"Flash image file." env:"FLASHCTL_IMAGE" default:"flash.img" type:"path"`
	Verbose  bool   `short:"v" help:"Log every controller operation."`
	BankSwap bool   `help:"Run with the SWAP_BANK option byte set."`
}

var cli struct {
	globals

	Program programCmd `cmd:"" help:"Program a binary file into flash."`
	Erase   eraseCmd   `cmd:"" help:"Erase pages, a bank or the whole array."`
	Read    readCmd    `cmd:"" help:"Dump flash contents."`
	Fs      fsCmd      `cmd:"" help:"Build or list a littlefs volume in flash."`
	Info    infoCmd    `cmd:"" help:"Show layout and controller status."`
	Version versionCmd `cmd:"" help:"Print the build version."`
}

// address parses decimal or 0x-prefixed flash addresses.
type address uint32

func (a *address) UnmarshalText(b []byte) error {
	v, err := strconv.ParseUint(string(b), 0, 32)
	if err != nil {
		return errors.Wrapf(err, "address %q", b)
	}
	*a = address(v)
	return nil
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("flashctl"),
		kong.Description("Program and erase an STM32C5 flash image through the HAL."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.globals))
}
