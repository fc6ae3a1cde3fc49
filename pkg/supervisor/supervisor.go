// Package supervisor implements the connection-lifecycle state machine:
// it detects device presence, performs the deviceId handshake, selects the
// per-device manifest, and survives resets and cable removal.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/alexspaceteam/hackpack-robots/pkg/manifest"
	"github.com/alexspaceteam/hackpack-robots/pkg/statebus"
	"github.com/alexspaceteam/hackpack-robots/pkg/transport"
)

// State names the connection-lifecycle states.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Initializing
	Ready
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Initializing:
		return "Initializing"
	case Ready:
		return "Ready"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// Snapshot is a point-in-time read of the connection state, safe to pass by
// value across goroutines.
type Snapshot struct {
	State    State
	Message  string
	DeviceID string
	Manifest *manifest.Manifest
}

// deviceIDTag is the reserved handshake tag, per the manifest's tag-0 invariant.
const deviceIDTag = 0x00

// Config controls the supervisor's timing policy.
type Config struct {
	Line          string
	Baud          int
	ManifestDir   string
	PollInterval  time.Duration
	PostOpenDwell time.Duration
	Logger        zerolog.Logger
	Bus           *statebus.Bus
}

// Supervisor owns ConnectionState and is its sole writer. It is safe for
// concurrent use: Snapshot() takes a short-held read lock, never blocking
// on supervisor work.
type Supervisor struct {
	cfg Config

	mu   sync.RWMutex
	snap Snapshot

	tmu sync.RWMutex
	tr  *transport.Transport

	errCh chan error
}

// New constructs a Supervisor in the Disconnected state. Call Run to start
// its lifecycle loop.
func New(cfg Config) *Supervisor {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PostOpenDwell == 0 {
		cfg.PostOpenDwell = 3 * time.Second
	}
	return &Supervisor{
		cfg:   cfg,
		snap:  Snapshot{State: Disconnected, Message: "not yet connected"},
		errCh: make(chan error, 1),
	}
}

// ReportTransactError notifies the supervisor that a caller's transaction
// (issued through Transactor) failed with an I/O-level error. It is the
// mechanism by which "Ready --io error--> Error" (spec.md §4.F) is driven
// by activity outside the supervisor's own handshake probe: ordinary
// tools/call traffic, not just the supervisor's own polling.
func (s *Supervisor) ReportTransactError(err error) {
	if err == nil {
		return
	}
	select {
	case s.errCh <- err:
	default:
		// An error is already pending; the cycle loop will act on it and
		// move to Disconnected before another one could matter.
	}
}

// Snapshot returns the current connection state.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Transactor is the minimal transaction surface a consumer of the
// supervisor needs from the live serial transport; pkg/transport.Transport
// satisfies it structurally.
type Transactor interface {
	Transact(ctx context.Context, commandPayload []byte) ([]byte, error)
}

// Transactor returns the live transactor, or (nil, false) if not Ready.
// Callers must check the second return value before using the transactor;
// it can become stale the instant the supervisor reconnects, the same way
// a real serial link can drop mid-call.
func (s *Supervisor) Transactor() (Transactor, bool) {
	snap := s.Snapshot()
	if snap.State != Ready {
		return nil, false
	}
	s.tmu.RLock()
	defer s.tmu.RUnlock()
	return s.tr, s.tr != nil
}

func (s *Supervisor) setState(state State, message string) {
	s.mu.Lock()
	s.snap = Snapshot{State: state, Message: message, DeviceID: s.snap.DeviceID, Manifest: s.snap.Manifest}
	s.mu.Unlock()

	s.cfg.Logger.Info().Str("state", state.String()).Str("message", message).Msg("connection state changed")
	if s.cfg.Bus != nil {
		if err := s.cfg.Bus.PublishConnection(state.String(), message); err != nil {
			s.cfg.Logger.Warn().Err(err).Msg("statebus publish failed")
		}
	}
}

func (s *Supervisor) setReady(deviceID string, m *manifest.Manifest) {
	s.mu.Lock()
	s.snap = Snapshot{State: Ready, Message: "ready", DeviceID: deviceID, Manifest: m}
	s.mu.Unlock()

	s.cfg.Logger.Info().Str("device_id", deviceID).Msg("device ready")
	if s.cfg.Bus != nil {
		if err := s.cfg.Bus.PublishConnection(Ready.String(), deviceID); err != nil {
			s.cfg.Logger.Warn().Err(err).Msg("statebus publish failed")
		}
	}
}

// Run executes the lifecycle loop until ctx is cancelled. There is no
// bounded retry: on any I/O error the supervisor returns to Disconnected
// and keeps polling for as long as the process runs.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.tmu.Lock()
			if s.tr != nil {
				s.tr.Close()
				s.tr = nil
			}
			s.tmu.Unlock()
			return
		default:
		}
		s.cycle(ctx)
	}
}

// cycle runs one full Disconnected -> Ready (or Error) attempt.
func (s *Supervisor) cycle(ctx context.Context) {
	select {
	case <-s.errCh:
	default:
	}

	if !s.waitForPresence(ctx) {
		return
	}

	s.setState(Connecting, fmt.Sprintf("opening %s", s.cfg.Line))
	tr, err := transport.Open(s.cfg.Line, s.cfg.Baud)
	if err != nil {
		s.setState(Error, err.Error())
		s.toDisconnected(ctx)
		return
	}
	s.tmu.Lock()
	s.tr = tr
	s.tmu.Unlock()

	s.setState(Connected, "port open, waiting for device boot")
	if !sleepOrDone(ctx, s.cfg.PostOpenDwell) {
		return
	}

	s.setState(Initializing, "performing deviceId handshake")
	deviceID, err := s.handshake(ctx, tr)
	if err != nil {
		s.setState(Error, err.Error())
		s.toDisconnected(ctx)
		return
	}

	path := manifest.PathFor(s.cfg.ManifestDir, deviceID)
	m, err := manifest.Load(path)
	if err != nil {
		s.setState(Error, fmt.Sprintf("loading manifest for %s: %v", deviceID, err))
		s.toDisconnected(ctx)
		return
	}

	s.setReady(deviceID, m)

	// Stay Ready until ctx is cancelled or a caller reports a transaction
	// failure via ReportTransactError (see spec.md §4.F's "Ready --io
	// error--> Error" edge).
	select {
	case <-ctx.Done():
		return
	case err := <-s.errCh:
		s.setState(Error, err.Error())
		s.toDisconnected(ctx)
	}
}

func (s *Supervisor) toDisconnected(ctx context.Context) {
	s.tmu.Lock()
	if s.tr != nil {
		s.tr.Close()
		s.tr = nil
	}
	s.tmu.Unlock()
	if ctx.Err() != nil {
		return
	}
	s.setState(Disconnected, "reconnecting")
}

// handshake issues the tag-0 command and decodes the response as a CStr
// device id.
func (s *Supervisor) handshake(ctx context.Context, tr *transport.Transport) (string, error) {
	deadline, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	payload, err := tr.Transact(deadline, []byte{deviceIDTag})
	if err != nil {
		return "", err
	}
	idx := -1
	for i, b := range payload {
		if b == 0x00 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", fmt.Errorf("deviceId response missing NUL terminator")
	}
	return string(payload[:idx]), nil
}

// waitForPresence polls every PollInterval while Disconnected until the
// serial path exists. Returns false if ctx was cancelled first.
func (s *Supervisor) waitForPresence(ctx context.Context) bool {
	s.setState(Disconnected, "waiting for device")
	for {
		if _, err := os.Stat(s.cfg.Line); err == nil {
			return true
		}
		if !sleepOrDone(ctx, s.cfg.PollInterval) {
			return false
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
