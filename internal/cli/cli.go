// Package cli defines the otable command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"tinygo.org/x/bluetooth"

	"github.com/otable/otable/internal/agent"
	"github.com/otable/otable/internal/archive"
	"github.com/otable/otable/internal/config"
	"github.com/otable/otable/internal/tui"
	"github.com/otable/otable/internal/uploader"
)

// CLI is the root command structure for otable.
type CLI struct {
	Verbose bool `short:"v" help:"Enable verbose debug output"`

	Agent   AgentCmd   `cmd:"" help:"Run the on-device OTA agent"`
	Send    SendCmd    `cmd:"" help:"Upload a firmware directory to a device"`
	Version VersionCmd `cmd:"" help:"Read the device's version characteristic"`
	Debug   DebugCmd   `cmd:"" help:"Offline archive tools"`
}

// --- Agent ---

type AgentCmd struct {
	Config string `default:"otable-config.json" help:"Path to the device identity config"`
	Key    string `default:"otable-key" help:"Path to the shared key file"`
}

func (c *AgentCmd) Run(globals *CLI) error {
	config.Verbose = globals.Verbose

	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	key, err := config.LoadKey(c.Key)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if globals.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := agent.NewSupervisor(cfg, key, agent.NewRestarter(cfg.RestartCmd), log)
	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// --- Send ---

type SendCmd struct {
	Directory string `arg:"" type:"existingdir" help:"The firmware directory"`
	Service   string `arg:"" help:"The service UUID"`
	Control   string `arg:"" help:"The control characteristic UUID"`
	Key       string `arg:"" help:"The shared key as 32 hex characters"`

	Progress bool `help:"Show an interactive progress bar"`
}

func (c *SendCmd) Run(globals *CLI) error {
	config.Verbose = globals.Verbose

	service, err := bluetooth.ParseUUID(strings.ToLower(c.Service))
	if err != nil {
		return fmt.Errorf("invalid service UUID %q: %w", c.Service, err)
	}
	control, err := bluetooth.ParseUUID(strings.ToLower(c.Control))
	if err != nil {
		return fmt.Errorf("invalid control UUID %q: %w", c.Control, err)
	}
	key, err := config.ParseKey(c.Key)
	if err != nil {
		return err
	}

	opts := uploader.Options{
		SourceDir:   c.Directory,
		ServiceUUID: service,
		ControlUUID: control,
		Key:         key,
	}

	if c.Progress {
		return tui.RunUpload("Uploading "+c.Directory, func(progress func(sent, total int)) error {
			opts.Progress = progress
			return uploader.Upload(opts)
		})
	}
	return uploader.Upload(opts)
}

// --- Version ---

type VersionCmd struct {
	Service        string `arg:"" help:"The service UUID"`
	Characteristic string `arg:"" help:"The version characteristic UUID"`
}

func (c *VersionCmd) Run(globals *CLI) error {
	config.Verbose = globals.Verbose

	service, err := bluetooth.ParseUUID(strings.ToLower(c.Service))
	if err != nil {
		return fmt.Errorf("invalid service UUID %q: %w", c.Service, err)
	}
	version, err := bluetooth.ParseUUID(strings.ToLower(c.Characteristic))
	if err != nil {
		return fmt.Errorf("invalid characteristic UUID %q: %w", c.Characteristic, err)
	}

	v, err := uploader.ReadVersion(service, version)
	if err != nil {
		return err
	}
	fmt.Println(v)
	return nil
}

// --- Debug ---

type DebugCmd struct {
	Pack    DebugPackCmd    `cmd:"" help:"Pack a directory into a tar stream"`
	Extract DebugExtractCmd `cmd:"" help:"Extract a tar stream into a directory"`
}

type DebugPackCmd struct {
	Directory string `arg:"" type:"existingdir" help:"Directory to pack"`
	Output    string `arg:"" help:"Output file"`
}

func (c *DebugPackCmd) Run(globals *CLI) error {
	config.Verbose = globals.Verbose

	data, err := archive.Pack(c.Directory)
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.Output, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", c.Output, err)
	}
	fmt.Printf("Packed %s into %s (%d bytes)\n", c.Directory, c.Output, len(data))
	return nil
}

type DebugExtractCmd struct {
	Input     string `arg:"" type:"existingfile" help:"Tar stream to extract"`
	Directory string `arg:"" help:"Extraction root"`
}

func (c *DebugExtractCmd) Run(globals *CLI) error {
	config.Verbose = globals.Verbose

	data, err := os.ReadFile(c.Input)
	if err != nil {
		return fmt.Errorf("reading %s: %w", c.Input, err)
	}
	skipped, err := archive.Extract(data, c.Directory)
	for _, s := range skipped {
		fmt.Fprintf(os.Stderr, "skipped %s\n", s)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Extracted %s into %s (%d entries skipped)\n", c.Input, c.Directory, len(skipped))
	return nil
}
