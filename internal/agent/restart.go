package agent

import (
	"fmt"
	"os"
	"os/exec"
)

// Restarter issues the soft restart that boots the freshly swapped
// firmware. It runs only after the swap has fully committed.
type Restarter interface {
	Restart() error
}

// CommandRestarter restarts by running a shell command from the device
// config, e.g. a service-manager restart of the firmware unit.
type CommandRestarter struct {
	Cmd string
}

func (r CommandRestarter) Restart() error {
	cmd := exec.Command("/bin/sh", "-c", r.Cmd)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("restart command: %w", err)
	}
	return nil
}

// ExitRestarter exits the process so the supervising init relaunches it
// into the new live tree. This is the default when no restart command is
// configured.
type ExitRestarter struct{}

func (ExitRestarter) Restart() error {
	os.Exit(0)
	return nil
}

// NewRestarter picks the restarter for a configured restart command, or the
// exit-and-relaunch default when the command is empty.
func NewRestarter(cmd string) Restarter {
	if cmd == "" {
		return ExitRestarter{}
	}
	return CommandRestarter{Cmd: cmd}
}
