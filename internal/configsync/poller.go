// Package configsync keeps a paired display's content in step with the backend.
package configsync

import (
	"context"
	"sync"
	"time"

	"github.com/marquee-signage/marquee/internal/authguard"
	"github.com/marquee-signage/marquee/internal/models"
	"github.com/marquee-signage/marquee/internal/resolver"
	"github.com/marquee-signage/marquee/internal/state"
	"github.com/marquee-signage/marquee/internal/util"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

const DefaultInterval = 5 * time.Second

type Backend interface {
	GetPlayerConfig(ctx context.Context, token string) (*models.ResolvedConfig, error)
}

// Cache receives the media a resolution references after every successful
// poll. Sync must not block on downloads.
type Cache interface {
	Sync(ctx context.Context, urls []string)
}

type Config struct {
	Interval  time.Duration
	Threshold int
	Clock     clock.WithTicker
	// Trigger requests an out-of-cycle fetch.
	Trigger <-chan struct{}
	Cache   Cache
	// Publish receives every resolution, including republished last known
	// good content.
	Publish func(resolver.Resolution)
	// OnUnauthorized is called when the authguard trips.
	OnUnauthorized func(reason string)
	// OnError is called for a failed poll when there is no last known good
	// content to fall back to.
	OnError func(err error)
}

// Status is what the control socket reports about config polling.
type Status struct {
	LastSuccess time.Time `json:"last-success"`
	LastError   string    `json:"last-error,omitempty"`
	ContentKey  string    `json:"content-key"`
	Schedule    string    `json:"schedule,omitempty"`
}

type Poller struct {
	logger   *zap.SugaredLogger
	backend  Backend
	store    state.Store
	identity models.DeviceIdentity
	guard    *authguard.Guard
	config   Config

	mu     sync.Mutex
	status Status
}

func New(logger *zap.SugaredLogger, backend Backend, store state.Store, identity models.DeviceIdentity, config Config) *Poller {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}
	return &Poller{
		logger:   logger,
		backend:  backend,
		store:    store,
		identity: identity,
		guard:    authguard.New(config.Threshold),
		config:   config,
	}
}

// Start fetches immediately and then on every interval or trigger.
func (p *Poller) Start(ctx context.Context, wg *sync.WaitGroup) context.CancelFunc {
	return util.Task{
		Name:      "config-poll",
		Interval:  p.config.Interval,
		Immediate: true,
		Trigger:   p.config.Trigger,
		Clock:     p.config.Clock,
		Fn:        p.Poll,
	}.Start(ctx, wg)
}

// PublishLastKnownGood publishes the stored config, if any, so a display
// that boots without a network keeps playing.
func (p *Poller) PublishLastKnownGood() bool {
	lkg := p.store.State().LastKnownGood
	if lkg == nil {
		return false
	}
	p.publish(resolver.Resolve(lkg))
	return true
}

func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Poll fetches and applies the config once.
func (p *Poller) Poll(ctx context.Context) {
	cfg, err := p.backend.GetPlayerConfig(ctx, p.identity.DeviceToken)
	if ctx.Err() != nil {
		return
	}
	if p.guard.Observe(err) {
		p.setError(err)
		p.logger.Warnf("Config poll unauthorized: %v", err)
		if p.config.OnUnauthorized != nil {
			p.config.OnUnauthorized("config poll unauthorized")
		}
		return
	}
	if err != nil {
		p.setError(err)
		p.logger.Debugf("Config poll failed: %v", err)
		if p.PublishLastKnownGood() {
			return
		}
		if p.config.OnError != nil {
			p.config.OnError(err)
		}
		return
	}

	if err := p.store.Update(func(s *state.State) { s.LastKnownGood = cfg }); err != nil {
		p.logger.Errorf("Failed to store last known good config: %v", err)
	}
	res := resolver.Resolve(cfg)
	p.mu.Lock()
	p.status.LastSuccess = p.config.Clock.Now()
	p.status.LastError = ""
	p.mu.Unlock()
	p.publish(res)
	if p.config.Cache != nil {
		p.config.Cache.Sync(ctx, resolver.ReferencedURLs(cfg))
	}
}

func (p *Poller) publish(res resolver.Resolution) {
	p.mu.Lock()
	p.status.ContentKey = res.ContentKey()
	p.status.Schedule = ""
	if res.Schedule != nil {
		p.status.Schedule = res.Schedule.Name
	}
	p.mu.Unlock()
	if p.config.Publish != nil {
		p.config.Publish(res)
	}
}

func (p *Poller) setError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.LastError = err.Error()
}
