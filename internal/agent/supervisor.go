package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/otable/otable/internal/config"
	"github.com/otable/otable/internal/util"
)

// writeSink forwards control-characteristic writes from the BLE stack's
// event callback into the current session's channel, preserving arrival
// order. Writes that land with no session attached belong to a connection
// whose workflow already ended; they are dropped.
type writeSink struct {
	mu   sync.Mutex
	ch   chan<- []byte
	done <-chan struct{}
	log  *slog.Logger
}

func (w *writeSink) attach(ch chan<- []byte, done <-chan struct{}) {
	w.mu.Lock()
	w.ch, w.done = ch, done
	w.mu.Unlock()
}

func (w *writeSink) detach() {
	w.mu.Lock()
	w.ch, w.done = nil, nil
	w.mu.Unlock()
}

func (w *writeSink) handle(value []byte) {
	w.mu.Lock()
	ch, done := w.ch, w.done
	w.mu.Unlock()
	if ch == nil {
		w.log.Debug("dropping write outside an active session", "bytes", len(value))
		return
	}
	// The stack reuses its buffer after the callback returns.
	chunk := make([]byte, len(value))
	copy(chunk, value)
	select {
	case ch <- chunk:
	case <-done:
		w.log.Debug("dropping write after workflow end", "bytes", len(value))
	}
}

// advertiser is the subset of *bluetooth.Advertisement the connection loop
// drives.
type advertiser interface {
	Start() error
	Stop() error
}

// Supervisor owns the BLE peripheral role: it registers the OTA service,
// runs the advertise/connect loop and binds exactly one update workflow to
// each accepted connection. A second peer cannot connect until the first
// disconnects.
type Supervisor struct {
	cfg       *config.Config
	key       []byte
	restarter Restarter
	log       *slog.Logger
	adapter   *bluetooth.Adapter

	sink        *writeSink
	versionChar bluetooth.Characteristic
	connEvents  chan bool
}

// NewSupervisor wires a supervisor to the default adapter. The config and
// key are read-only for the supervisor's lifetime.
func NewSupervisor(cfg *config.Config, key []byte, restarter Restarter, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		cfg:        cfg,
		key:        key,
		restarter:  restarter,
		log:        log,
		adapter:    bluetooth.DefaultAdapter,
		sink:       &writeSink{log: log},
		connEvents: make(chan bool, 8),
	}
}

// Run brings the OTA service up and loops forever: advertise, accept one
// connection, run one workflow, tear it down on disconnect, advertise
// again. Workflow errors never leave this loop; only a BLE stack failure or
// ctx cancellation does.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("enabling BLE adapter: %w", err)
	}

	s.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		select {
		case s.connEvents <- connected:
		default:
			s.log.Warn("connection event dropped, backlog full")
		}
	})

	if err := s.registerService(); err != nil {
		return err
	}

	adv := s.adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    s.cfg.Name,
		ServiceUUIDs: []bluetooth.UUID{s.cfg.Service},
	}); err != nil {
		return fmt.Errorf("configuring advertisement: %w", err)
	}

	s.log.Info("running advertising loop", "name", s.cfg.Name, "service", s.cfg.Service.String())
	return s.connectionLoop(ctx, adv)
}

// connectionLoop advertises, accepts one connection at a time and hands each
// one to serveConnection. Start and Stop stay strictly balanced: a stray
// disconnect event, from a dropped backlog entry or a transient connection
// failure, arrives while the advertisement is still up, and BlueZ rejects a
// second start with AlreadyExists.
func (s *Supervisor) connectionLoop(ctx context.Context, adv advertiser) error {
	advertising := false
	for {
		s.refreshVersion()

		if !advertising {
			if err := adv.Start(); err != nil {
				return fmt.Errorf("starting advertisement: %w", err)
			}
			advertising = true
		}

		select {
		case <-ctx.Done():
			adv.Stop()
			return ctx.Err()
		case connected := <-s.connEvents:
			if !connected {
				// Stray disconnect; keep the current advertisement.
				continue
			}
		}
		adv.Stop()
		advertising = false
		s.log.Info("peer connected")

		s.serveConnection(ctx)
		s.log.Info("peer disconnected")
	}
}

// serveConnection runs one workflow for the connection that just arrived
// and returns once the peer is gone. Disconnection cancels the workflow
// cooperatively; a finished workflow waits out the connection so the
// single-peer policy holds.
func (s *Supervisor) serveConnection(ctx context.Context) {
	writes := make(chan []byte, 64)
	workflowDone := make(chan struct{})
	s.sink.attach(writes, workflowDone)
	defer s.sink.detach()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	orch := NewOrchestrator(s.cfg, s.key, s.restarter, s.log)
	result := make(chan error, 1)
	go func() {
		result <- orch.Run(connCtx, writes)
		close(workflowDone)
	}()

	finished := false
	for {
		select {
		case <-ctx.Done():
			cancel()
			if !finished {
				<-result
			}
			return
		case connected := <-s.connEvents:
			if connected {
				continue
			}
			cancel()
			if !finished {
				<-result
			}
			return
		case err := <-result:
			finished = true
			if err != nil {
				s.log.Warn("workflow failed", "err", err, "state", orch.State().String())
			} else {
				s.log.Info("workflow finished", "state", orch.State().String())
			}
		}
	}
}

// registerService publishes the primary OTA service: the writable control
// characteristic and, when configured, the read-only version
// characteristic.
func (s *Supervisor) registerService() error {
	chars := []bluetooth.CharacteristicConfig{
		{
			UUID:  s.cfg.Control,
			Flags: bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission,
			WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
				if config.Verbose {
					util.PrintHexDump(value)
				}
				s.sink.handle(value)
			},
		},
	}
	if s.cfg.HasVersion {
		chars = append(chars, bluetooth.CharacteristicConfig{
			Handle: &s.versionChar,
			UUID:   s.cfg.Version,
			Flags:  bluetooth.CharacteristicReadPermission,
			Value:  LiveVersion(s.cfg),
		})
	}

	err := s.adapter.AddService(&bluetooth.Service{
		UUID:            s.cfg.Service,
		Characteristics: chars,
	})
	if err != nil {
		return fmt.Errorf("registering OTA service: %w", err)
	}
	return nil
}

// refreshVersion re-reads the version marker once per advertising cycle so
// a completed update is visible to the next peer that connects.
func (s *Supervisor) refreshVersion() {
	if !s.cfg.HasVersion {
		return
	}
	if _, err := s.versionChar.Write(LiveVersion(s.cfg)); err != nil {
		s.log.Warn("updating version characteristic", "err", err)
	}
}
