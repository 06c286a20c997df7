// Package netmon watches whether the backend is reachable.
package netmon

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/marquee-signage/marquee/internal/util"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

type State string

const (
	Online   State = "online"
	Degraded State = "degraded"
	Offline  State = "offline"
)

const (
	DefaultInterval         = 5 * time.Second
	DefaultTimeout          = 5 * time.Second
	DefaultDegradedLatency  = 2 * time.Second
	DefaultFailureThreshold = 2
)

type Config struct {
	// URL is probed with HEAD requests. Any HTTP answer counts as reachable.
	URL              string
	Interval         time.Duration
	Timeout          time.Duration
	DegradedLatency  time.Duration
	FailureThreshold int
	Clock            clock.WithTicker
	HTTPClient       *http.Client
}

// Status is what the control socket reports about the network.
type Status struct {
	State     State         `json:"state"`
	Latency   time.Duration `json:"latency"`
	Failures  int           `json:"failures"`
	LastError string        `json:"last-error,omitempty"`
}

type Monitor struct {
	logger *zap.SugaredLogger
	config Config
	client *http.Client

	mu        sync.Mutex
	status    Status
	listeners []func(from, to State)
}

func New(logger *zap.SugaredLogger, config Config) *Monitor {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.DegradedLatency <= 0 {
		config.DegradedLatency = DefaultDegradedLatency
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultFailureThreshold
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Monitor{
		logger: logger.With("component", "netmon"),
		config: config,
		client: httpClient,
		status: Status{State: Online},
	}
}

// OnChange registers fn for every state transition. Listeners run on the
// probe goroutine.
func (m *Monitor) OnChange(fn func(from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.State
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Monitor) Start(ctx context.Context, wg *sync.WaitGroup) context.CancelFunc {
	return util.Task{
		Name:      "netmon",
		Interval:  m.config.Interval,
		Immediate: true,
		Clock:     m.config.Clock,
		Fn:        m.Probe,
	}.Start(ctx, wg)
}

// Probe checks the backend once and updates the state.
func (m *Monitor) Probe(ctx context.Context) {
	latency, err := m.probe(ctx)
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	from := m.status.State
	to := from
	if err != nil {
		m.status.Failures++
		m.status.LastError = err.Error()
		if m.status.Failures >= m.config.FailureThreshold {
			to = Offline
		}
	} else {
		m.status.Failures = 0
		m.status.LastError = ""
		m.status.Latency = latency
		to = Online
		if latency > m.config.DegradedLatency {
			to = Degraded
		}
	}
	m.status.State = to
	listeners := make([]func(from, to State), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if from == to {
		return
	}
	m.logger.Infof("Network %s -> %s", from, to)
	for _, l := range listeners {
		l(from, to)
	}
}

func (m *Monitor) probe(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.config.URL, nil)
	if err != nil {
		return 0, err
	}
	start := m.config.Clock.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probing %s: %w", m.config.URL, err)
	}
	util.IgnoreError(resp.Body.Close)
	return m.config.Clock.Since(start), nil
}
