// Package pairing turns an unknown device into an authorized display and keeps
// track of whether it still is one.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marquee-signage/marquee/internal/client"
	"github.com/marquee-signage/marquee/internal/models"
	"github.com/marquee-signage/marquee/internal/state"
	"github.com/marquee-signage/marquee/internal/util"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultConnectTimeout = 15 * time.Second
)

// Backend is the part of the REST client pairing needs.
type Backend interface {
	RequestPairingCode(ctx context.Context) (models.PairingCode, error)
	CheckPairingStatus(ctx context.Context, code string) (models.CheckStatusResponse, error)
	GetDisplayStatus(ctx context.Context, displayID string) (models.DisplayStatus, error)
}

var _ Backend = &client.Client{}

type Config struct {
	// PollInterval is how often a shown code is checked for being claimed.
	PollInterval time.Duration
	// ConnectTimeout bounds revalidation and code requests.
	ConnectTimeout time.Duration
	Clock          clock.WithTicker
}

// Machine drives the pairing state. Every asynchronous step belongs to an
// attempt identified by a generation number; results of an attempt that is no
// longer current are dropped, so a late poll response can never pair the
// device twice or undo a reset.
type Machine struct {
	logger  *zap.SugaredLogger
	backend Backend
	store   state.Store
	config  Config

	mu        sync.Mutex
	state     State
	gen       uint64
	parent    context.Context
	cancel    context.CancelFunc
	stopped   bool
	listeners []func(State)

	// notifyMu keeps listener calls in transition order.
	notifyMu sync.Mutex
	wg       sync.WaitGroup
}

func New(logger *zap.SugaredLogger, backend Backend, store state.Store, config Config) *Machine {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}
	return &Machine{
		logger:  logger,
		backend: backend,
		store:   store,
		config:  config,
		state:   Idle{},
	}
}

// OnChange registers fn to be called with every new state. Listeners run
// synchronously and must not call back into the Machine.
func (m *Machine) OnChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start leaves Idle: a device that knows a display id revalidates it, any
// other device requests a fresh pairing code.
func (m *Machine) Start(ctx context.Context) {
	m.mu.Lock()
	m.parent = ctx
	m.mu.Unlock()
	m.begin()
}

// Stop cancels all outstanding work and waits for it to finish.
func (m *Machine) Stop() {
	m.mu.Lock()
	m.stopped = true
	if m.cancel != nil {
		m.cancel()
	}
	m.gen++
	m.mu.Unlock()
	m.wg.Wait()
}

// Retry starts over after an Error. It is ignored in any other state.
func (m *Machine) Retry() {
	if m.State().Kind() != KindError {
		return
	}
	m.logger.Info("Retrying pairing")
	m.begin()
}

// Reset forgets the identity and everything fetched with it, then pairs again.
func (m *Machine) Reset() error {
	m.logger.Info("Resetting pairing")
	notify := m.toIdle()
	notify()
	if err := m.store.Update(func(s *state.State) { s.ClearIdentity() }); err != nil {
		return fmt.Errorf("clearing identity: %w", err)
	}
	m.begin()
	return nil
}

// Deauthorize handles a lost authorization while Paired: the identity is
// dropped and a fresh pairing code is requested. Calls in any other state
// are ignored so concurrent reporters only reset once.
func (m *Machine) Deauthorize(reason string) {
	m.mu.Lock()
	if m.state.Kind() != KindPaired || m.stopped {
		m.mu.Unlock()
		return
	}
	notify := m.endAttemptLocked(Idle{})
	m.mu.Unlock()
	notify()

	m.logger.Warnf("Authorization lost: %s", reason)
	if err := m.store.Update(func(s *state.State) { s.ClearIdentity() }); err != nil {
		m.logger.Errorf("Failed to clear identity: %v", err)
	}
	m.begin()
}

func (m *Machine) toIdle() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endAttemptLocked(Idle{})
}

// begin opens a new attempt based on what the store knows.
func (m *Machine) begin() {
	m.mu.Lock()
	if m.stopped || m.parent == nil {
		m.mu.Unlock()
		return
	}
	gen, ctx := m.newAttemptLocked()
	st := m.store.State()
	displayID := st.KnownDisplayID()
	var next State = Idle{}
	if displayID != "" {
		next = Checking{DisplayID: displayID}
	}
	notify := m.setLocked(next)
	m.mu.Unlock()
	notify()

	util.GoWithWaitGroup(&m.wg, func() {
		if displayID != "" {
			m.check(ctx, gen, displayID)
		} else {
			m.requestCode(ctx, gen)
		}
	})
}

// restart replaces attempt gen with one that requests a fresh code.
func (m *Machine) restart(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.stopped {
		m.mu.Unlock()
		return
	}
	newGen, ctx := m.newAttemptLocked()
	notify := m.setLocked(Idle{})
	m.mu.Unlock()
	notify()

	util.GoWithWaitGroup(&m.wg, func() {
		m.requestCode(ctx, newGen)
	})
}

func (m *Machine) check(ctx context.Context, gen uint64, displayID string) {
	reqCtx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	status, err := m.backend.GetDisplayStatus(reqCtx, displayID)
	cancel()
	if !m.current(gen) {
		return
	}

	switch {
	case client.IsNotFound(err):
		m.logger.Infof("Display %s is unknown to the backend, pairing again", displayID)
		if err := m.store.Update(func(s *state.State) { s.ClearIdentity() }); err != nil {
			m.fail(gen, err)
			return
		}
		m.restart(gen)
	case err != nil:
		m.fail(gen, err)
	case status.IsPaired:
		token := status.DeviceToken
		if token == "" {
			if stored := m.store.State().Identity; stored != nil && stored.DisplayID == displayID {
				token = stored.DeviceToken
			}
		}
		if token == "" {
			m.logger.Warnf("Display %s is paired but no device token is available, pairing again", displayID)
			if err := m.store.Update(func(s *state.State) { s.ClearIdentity() }); err != nil {
				m.fail(gen, err)
				return
			}
			m.restart(gen)
			return
		}
		m.paired(gen, models.DeviceIdentity{DisplayID: displayID, DeviceToken: token})
	case status.PairingCode != "":
		code := models.PairingCode{Code: status.PairingCode, DisplayID: displayID}
		err := m.store.Update(func(s *state.State) {
			s.ClearIdentity()
			s.PendingDisplayID = displayID
		})
		if err != nil {
			m.fail(gen, err)
			return
		}
		m.pairing(ctx, gen, code)
	default:
		m.restart(gen)
	}
}

func (m *Machine) requestCode(ctx context.Context, gen uint64) {
	reqCtx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	code, err := m.backend.RequestPairingCode(reqCtx)
	cancel()
	if !m.current(gen) {
		return
	}
	if err != nil {
		m.fail(gen, err)
		return
	}
	err = m.store.Update(func(s *state.State) {
		s.ClearIdentity()
		s.PendingDisplayID = code.DisplayID
	})
	if err != nil {
		m.fail(gen, err)
		return
	}
	m.logger.Infof("Received pairing code %s for display %s", code.Code, code.DisplayID)
	m.pairing(ctx, gen, code)
}

// pairing shows code and polls until it is claimed. The poll stops with the
// attempt's context.
func (m *Machine) pairing(ctx context.Context, gen uint64, code models.PairingCode) {
	m.mu.Lock()
	if gen != m.gen || m.stopped {
		m.mu.Unlock()
		return
	}
	notify := m.setLocked(Pairing{Code: code})
	m.mu.Unlock()
	notify()

	util.Task{
		Name:     "pairing-poll",
		Interval: m.config.PollInterval,
		Clock:    m.config.Clock,
		Fn: func(ctx context.Context) {
			m.poll(ctx, gen, code)
		},
	}.Start(ctx, &m.wg)
}

func (m *Machine) poll(ctx context.Context, gen uint64, code models.PairingCode) {
	resp, err := m.backend.CheckPairingStatus(ctx, code.Code)
	if !m.current(gen) {
		return
	}
	switch {
	case client.IsNotFound(err):
		m.logger.Infof("Pairing code %s expired, requesting a new one", code.Code)
		m.restart(gen)
	case err != nil:
		m.logger.Debugf("Pairing status check failed: %v", err)
	case !resp.IsPaired:
	case resp.DeviceToken == "":
		m.logger.Warn("Backend reported the display as paired without a device token")
	default:
		displayID := resp.DisplayID
		if displayID == "" {
			displayID = code.DisplayID
		}
		m.paired(gen, models.DeviceIdentity{DisplayID: displayID, DeviceToken: resp.DeviceToken})
	}
}

// paired persists identity and ends attempt gen in Paired. The store write and
// the generation check happen under the same lock, so only one response can
// ever win.
func (m *Machine) paired(gen uint64, identity models.DeviceIdentity) {
	m.mu.Lock()
	if gen != m.gen || m.stopped {
		m.mu.Unlock()
		return
	}
	err := m.store.Update(func(s *state.State) {
		id := identity
		s.Identity = &id
		s.PendingDisplayID = ""
	})
	var notify func()
	if err != nil {
		notify = m.endAttemptLocked(Error{Message: fmt.Sprintf("storing identity: %v", err)})
	} else {
		notify = m.endAttemptLocked(Paired{Identity: identity})
	}
	m.mu.Unlock()
	notify()
	if err == nil {
		m.logger.Infof("Display %s paired", identity.DisplayID)
	}
}

func (m *Machine) fail(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen || m.stopped {
		m.mu.Unlock()
		return
	}
	next := Error{Message: fmt.Sprintf("unable to reach server: %v", err)}
	if client.IsTimeout(err) && !errors.Is(err, context.Canceled) {
		next = Error{Message: ConnectionTimeoutMessage, Timeout: true}
	}
	notify := m.endAttemptLocked(next)
	m.mu.Unlock()
	notify()
	m.logger.Warnf("Pairing failed: %v", err)
}

func (m *Machine) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen && !m.stopped
}

func (m *Machine) newAttemptLocked() (uint64, context.Context) {
	if m.cancel != nil {
		m.cancel()
	}
	m.gen++
	ctx, cancel := context.WithCancel(m.parent)
	m.cancel = cancel
	return m.gen, ctx
}

// endAttemptLocked cancels the running attempt and moves to next.
func (m *Machine) endAttemptLocked(next State) func() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.gen++
	return m.setLocked(next)
}

// setLocked stores next and returns the function that notifies listeners. It
// must be called after m.mu is released.
func (m *Machine) setLocked(next State) func() {
	m.state = next
	listeners := make([]func(State), len(m.listeners))
	copy(listeners, m.listeners)
	m.notifyMu.Lock()
	return func() {
		defer m.notifyMu.Unlock()
		for _, l := range listeners {
			l(next)
		}
	}
}
