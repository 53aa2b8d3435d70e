package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/otable/otable/internal/archive"
	"github.com/otable/otable/internal/config"
	"github.com/otable/otable/internal/payload"
)

// State tracks an update workflow from first write to restart.
type State int

const (
	Idle State = iota
	Receiving
	Verifying
	Staging
	Swapping
	Restarted
	WorkflowAborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Receiving:
		return "receiving"
	case Verifying:
		return "verifying"
	case Staging:
		return "staging"
	case Swapping:
		return "swapping"
	case Restarted:
		return "restarted"
	case WorkflowAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Orchestrator drives one complete update workflow per BLE connection:
// receive the image over the control channel, recover and verify the
// plaintext, stage the new tree, swap it into place and restart.
//
// The swap relies on os.Rename being atomic on the target filesystem. A
// platform that cannot rename a directory over the live path atomically
// needs an A/B slot scheme instead; this orchestrator does not provide
// crash-during-swap recovery.
type Orchestrator struct {
	cfg       *config.Config
	key       []byte
	restarter Restarter
	log       *slog.Logger

	state State
}

// NewOrchestrator returns an orchestrator bound to the immutable device
// config and shared key.
func NewOrchestrator(cfg *config.Config, key []byte, restarter Restarter, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{cfg: cfg, key: key, restarter: restarter, log: log, state: Idle}
}

// State returns the state the last Run reached.
func (o *Orchestrator) State() State { return o.state }

// Run consumes control-characteristic writes from writes until the session
// terminates, then applies the update. Cancelling ctx at any point before
// the swap abandons the workflow cleanly; cancellation is normal
// termination, not an error. A nil return means the device restarted into
// the new firmware (or the restarter returned without restarting).
func (o *Orchestrator) Run(ctx context.Context, writes <-chan []byte) error {
	o.state = Receiving
	session := NewSession()

receive:
	for {
		select {
		case <-ctx.Done():
			o.state = WorkflowAborted
			o.log.Info("workflow cancelled while receiving", "phase", session.Phase().String())
			return nil
		case chunk := <-writes:
			phase, err := session.HandleWrite(chunk)
			if err != nil {
				o.state = WorkflowAborted
				o.log.Warn("transfer aborted", "err", err)
				return err
			}
			if phase == Complete {
				break receive
			}
		}
	}
	o.log.Info("image received", "bytes", len(session.Data()))

	return o.apply(ctx, session.Digest(), session.Data())
}

// apply runs the post-receive half of the workflow: decrypt, verify,
// decompress, extract, swap, restart. The filesystem is untouched until the
// integrity check has passed.
func (o *Orchestrator) apply(ctx context.Context, digest [payload.DigestSize]byte, ciphertext []byte) error {
	o.state = Verifying
	plain, err := payload.Decode(digest, ciphertext, o.key)
	if err != nil {
		o.state = WorkflowAborted
		if errors.Is(err, payload.ErrDigestMismatch) {
			o.log.Warn("digest mismatch, discarding image")
		} else {
			o.log.Warn("image unusable", "err", err)
		}
		return err
	}

	if ctx.Err() != nil {
		o.state = WorkflowAborted
		o.log.Info("workflow cancelled before staging")
		return nil
	}

	o.state = Staging
	// A stale staging tree from an earlier failed run must not leak into
	// this image.
	if err := os.RemoveAll(o.cfg.StagingDir); err != nil {
		o.state = WorkflowAborted
		return fmt.Errorf("clearing staging directory: %w", err)
	}
	skipped, err := archive.Extract(plain, o.cfg.StagingDir)
	for _, s := range skipped {
		o.log.Warn("skipped archive entry", "entry", s.Name, "err", s.Err)
	}
	if err != nil {
		o.state = WorkflowAborted
		o.log.Warn("extraction failed, no swap attempted", "err", err)
		if rmErr := os.RemoveAll(o.cfg.StagingDir); rmErr != nil {
			o.log.Warn("clearing partial staging tree", "err", rmErr)
		}
		return err
	}

	// Last chance to abandon: past this point the old tree is gone.
	if ctx.Err() != nil {
		o.state = WorkflowAborted
		o.log.Info("workflow cancelled before swap")
		return nil
	}

	o.state = Swapping
	o.log.Info("swapping in new firmware", "live", o.cfg.LiveDir, "staging", o.cfg.StagingDir)
	if err := os.RemoveAll(o.cfg.LiveDir); err != nil {
		o.state = WorkflowAborted
		return fmt.Errorf("removing old firmware: %w", err)
	}
	if err := os.Rename(o.cfg.StagingDir, o.cfg.LiveDir); err != nil {
		// Fatal for this workflow; the device keeps running the
		// in-memory firmware and no restart is issued.
		o.state = WorkflowAborted
		return fmt.Errorf("promoting staged firmware: %w", err)
	}

	o.state = Restarted
	o.log.Info("restarting into new firmware")
	if err := o.restarter.Restart(); err != nil {
		return fmt.Errorf("restart after swap: %w", err)
	}
	return nil
}
