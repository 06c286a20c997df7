// Package heartbeat tells the backend a paired display is alive.
package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marquee-signage/marquee/internal/authguard"
	"github.com/marquee-signage/marquee/internal/models"
	"github.com/marquee-signage/marquee/internal/util"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

const DefaultInterval = 30 * time.Second

type Backend interface {
	Heartbeat(ctx context.Context, displayID, token string) error
}

type Config struct {
	Interval time.Duration
	// Threshold is handed to the authguard.Guard.
	Threshold int
	Clock     clock.WithTicker
}

// Status is what the control socket reports about heartbeats.
type Status struct {
	LastSuccess time.Time `json:"last-success"`
	LastError   string    `json:"last-error,omitempty"`
	Failures    int       `json:"failures"`
	Suspended   bool      `json:"suspended"`
}

// Monitor sends heartbeats for one identity. It is created when the display
// becomes Paired and stopped when it leaves Paired.
type Monitor struct {
	logger         *zap.SugaredLogger
	backend        Backend
	identity       models.DeviceIdentity
	guard          *authguard.Guard
	onUnauthorized func(reason string)
	config         Config

	suspended atomic.Bool
	trigger   chan struct{}

	mu     sync.Mutex
	status Status
}

func New(logger *zap.SugaredLogger, backend Backend, identity models.DeviceIdentity, onUnauthorized func(reason string), config Config) *Monitor {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}
	return &Monitor{
		logger:         logger,
		backend:        backend,
		identity:       identity,
		guard:          authguard.NewStrict(config.Threshold),
		onUnauthorized: onUnauthorized,
		config:         config,
		trigger:        make(chan struct{}, 1),
	}
}

// Start sends a heartbeat right away and then every interval until ctx is
// done or the returned func is called.
func (m *Monitor) Start(ctx context.Context, wg *sync.WaitGroup) context.CancelFunc {
	return util.Task{
		Name:      "heartbeat",
		Interval:  m.config.Interval,
		Immediate: true,
		Trigger:   m.trigger,
		Clock:     m.config.Clock,
		Fn:        m.beat,
	}.Start(ctx, wg)
}

// Suspend skips heartbeats until Resume. Used while the network is down.
func (m *Monitor) Suspend() {
	if !m.suspended.Swap(true) {
		m.logger.Debug("Heartbeats suspended")
	}
}

// Resume re-enables heartbeats and sends one immediately.
func (m *Monitor) Resume() {
	if m.suspended.Swap(false) {
		m.logger.Debug("Heartbeats resumed")
	}
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.status
	s.Suspended = m.suspended.Load()
	s.Failures = m.guard.Failures()
	return s
}

func (m *Monitor) beat(ctx context.Context) {
	if m.suspended.Load() {
		return
	}
	err := m.backend.Heartbeat(ctx, m.identity.DisplayID, m.identity.DeviceToken)
	if ctx.Err() != nil {
		return
	}
	tripped := m.guard.Observe(err)

	m.mu.Lock()
	if err == nil {
		m.status.LastSuccess = m.config.Clock.Now()
		m.status.LastError = ""
	} else {
		m.status.LastError = err.Error()
	}
	m.mu.Unlock()

	switch {
	case tripped:
		m.logger.Warnf("Heartbeat unauthorized: %v", err)
		if m.onUnauthorized != nil {
			m.onUnauthorized("heartbeat unauthorized")
		}
	case err != nil:
		m.logger.Debugf("Heartbeat failed: %v", err)
	}
}
