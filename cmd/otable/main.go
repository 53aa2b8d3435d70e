package main

import (
	"github.com/alecthomas/kong"

	"github.com/otable/otable/internal/cli"
)

func main() {
	var c cli.CLI
	ctx := kong.Parse(&c,
		kong.Name("otable"),
		kong.Description("Over-the-air firmware updates via BLE: on-device agent and host uploader."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&c))
}
