// Package marquee runs a display: it pairs with the backend, keeps the
// identity alive with heartbeats, polls the player config and plays it
// through the renderer bridge.
package marquee

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/marquee-signage/marquee/internal/client"
	"github.com/marquee-signage/marquee/internal/config"
	"github.com/marquee-signage/marquee/internal/configsync"
	"github.com/marquee-signage/marquee/internal/heartbeat"
	"github.com/marquee-signage/marquee/internal/mediacache"
	"github.com/marquee-signage/marquee/internal/models"
	"github.com/marquee-signage/marquee/internal/netmon"
	"github.com/marquee-signage/marquee/internal/pairing"
	"github.com/marquee-signage/marquee/internal/playback"
	"github.com/marquee-signage/marquee/internal/renderer"
	"github.com/marquee-signage/marquee/internal/resolver"
	"github.com/marquee-signage/marquee/internal/signalbus"
	"github.com/marquee-signage/marquee/internal/state"
	"github.com/marquee-signage/marquee/internal/state/fstore"
	"github.com/marquee-signage/marquee/internal/util"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

const (
	MarqueeStatusStarting = iota
	MarqueeStatusPairing
	MarqueeStatusRunning
	MarqueeStatusError
)

type Marquee struct {
	logger   *zap.SugaredLogger
	logLevel *zap.AtomicLevel
	config   config.Config
	version  string
	clock    clock.WithTickerAndDelayedExecution

	store   state.Store
	client  *client.Client
	machine *pairing.Machine
	cache   *mediacache.Cache
	stage   *playback.Stage
	bridge  *renderer.Bridge
	netmon  *netmon.Monitor
	bus     signalbus.SignalBus

	ctx context.Context
	wg  *sync.WaitGroup

	// contentMu orders publishing against the end of a paired session, so a
	// poll that finishes late cannot put content back on screen.
	contentMu sync.Mutex

	mu        sync.Mutex
	status    int
	statusMsg string
	screen    renderer.Screen
	offline   bool
	session   *pairedSession
}

// pairedSession holds the tasks that only run while the display is Paired.
type pairedSession struct {
	identity  models.DeviceIdentity
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	heartbeat *heartbeat.Monitor
	poller    *configsync.Poller
	resync    *signalbus.Subscription
}

// New loads the persisted state and media cache and builds every component.
// Nothing talks to the backend until Start.
func New(ctx context.Context, logger *zap.SugaredLogger, logLevel *zap.AtomicLevel, cfg config.Config, version string, clk clock.WithTickerAndDelayedExecution) (*Marquee, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	store := fstore.New(cfg.StateFile())
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("loading state from %s: %w", store, err)
	}
	// persist the installation id right away
	if err := store.Store(); err != nil {
		return nil, fmt.Errorf("saving state to %s: %w", store, err)
	}

	options := []client.Option{
		client.WithLogger(logger),
		client.WithUserAgent("marqueed/" + version),
		client.WithInstallationID(store.State().InstallationID),
		client.WithRequestTimeout(cfg.Timing.RequestTimeout),
	}
	if cfg.InsecureSkipTLSVerify { //#nosec G402
		options = append(options, client.WithTLSConfig(&tls.Config{
			InsecureSkipVerify: true,
		}))
	}
	c, err := client.NewClient(cfg.BackendURL, options...)
	if err != nil {
		return nil, err
	}

	maxBytes, err := cfg.CacheMaxBytes()
	if err != nil {
		return nil, err
	}
	cache, err := mediacache.Open(ctx, logger.With("component", "mediacache"), mediacache.Config{
		Dir:                cfg.MediaDir(),
		MaxBytes:           maxBytes,
		Concurrency:        cfg.Cache.Concurrency,
		DownloadsPerSecond: cfg.Cache.DownloadsPerSecond,
		Clock:              clk,
	})
	if err != nil {
		return nil, fmt.Errorf("opening media cache: %w", err)
	}

	mq := &Marquee{
		logger:   logger,
		logLevel: logLevel,
		config:   cfg,
		version:  version,
		clock:    clk,
		store:    store,
		client:   c,
		cache:    cache,
		bus:      signalbus.NewSignalBus(),
		status:   MarqueeStatusStarting,
		screen:   renderer.Screen{Kind: renderer.ScreenConnecting},
	}

	mq.bridge = renderer.New(renderer.Options{
		Logger:         logger.With("component", "renderer"),
		Media:          cache,
		Status:         func() interface{} { return mq.Status() },
		AllowedOrigins: cfg.AllowedOrigins,
	})
	mq.stage = playback.NewStage(logger.With("component", "playback"), mq.bridge, cache, playback.ZoneOptions{
		Clock:        clk,
		StallTimeout: cfg.Timing.VideoStallTimeout,
	})
	mq.bridge.SetOnEvent(mq.stage.Handle)

	mq.machine = pairing.New(logger.With("component", "pairing"), c, store, pairing.Config{
		PollInterval:   cfg.Timing.PairingPoll,
		ConnectTimeout: cfg.Timing.ConnectTimeout,
		Clock:          clk,
	})
	mq.machine.OnChange(mq.onPairingChange)

	mq.netmon = netmon.New(logger, netmon.Config{
		URL:              cfg.BackendURL,
		Interval:         cfg.Timing.NetworkProbe,
		DegradedLatency:  cfg.Timing.DegradedLatency,
		FailureThreshold: cfg.Timing.OfflineThreshold,
		Clock:            clk,
	})
	mq.netmon.OnChange(mq.onNetworkChange)

	return mq, nil
}

// Start runs the display until ctx is done. Stored content is shown before
// the backend has been reached so a display that boots offline keeps playing.
func (mq *Marquee) Start(ctx context.Context, wg *sync.WaitGroup) error {
	mq.ctx = ctx
	mq.wg = wg

	if mq.config.CtlSocket != "" {
		if err := mq.CtlServerStart(ctx, wg); err != nil {
			return err
		}
	}
	if mq.config.RendererListen != "" {
		util.GoWithWaitGroup(wg, func() {
			if err := mq.bridge.Serve(ctx, mq.config.RendererListen); err != nil {
				mq.logger.Errorf("Renderer bridge failed: %v", err)
			}
		})
	}

	if st := mq.store.State(); st.Paired() && st.LastKnownGood != nil {
		mq.logger.Info("Showing last known good content while connecting")
		mq.publish(resolver.Resolve(st.LastKnownGood))
	}

	mq.watchChanges(ctx, wg)
	mq.netmon.Start(ctx, wg)
	mq.machine.Start(ctx)
	return nil
}

// watchChanges logs a summary whenever the identity or the content changes,
// so the journal shows what a display was playing and when.
func (mq *Marquee) watchChanges(ctx context.Context, wg *sync.WaitGroup) {
	identity := mq.bus.Subscribe(signalbus.IdentityChanged)
	content := mq.bus.Subscribe(signalbus.ContentChanged)
	util.GoWithWaitGroup(wg, func() {
		defer identity.Close()
		defer content.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-identity.Signal():
				display := ""
				if id := mq.store.State().Identity; id != nil {
					display = id.DisplayID
				}
				mq.logger.Infow("Identity changed", "display", display, "pairing", mq.machine.State().Kind())
			case <-content.Signal():
				stats := mq.cache.Stats()
				mq.logger.Infow("Content changed",
					"content", mq.stage.ContentKey(),
					"cached", stats.Entries,
					"cache-size", humanize.IBytes(uint64(stats.Bytes)))
			}
		}
	})
}

// Stop tears everything down. ctx passed to Start must already be done.
func (mq *Marquee) Stop() {
	mq.logger.Info("Stopping marqueed")
	mq.machine.Stop()
	mq.mu.Lock()
	session := mq.session
	mq.session = nil
	mq.mu.Unlock()
	if session != nil {
		session.stop()
		session.wg.Wait()
	}
	mq.stage.Stop()
	mq.cache.Wait()
	util.IgnoreError(mq.cache.Close)
}

func (mq *Marquee) SetStatus(status int, msg string) {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	mq.status = status
	mq.statusMsg = msg
}

// Retry restarts pairing from the Error state.
func (mq *Marquee) Retry() {
	mq.machine.Retry()
}

// Reset forgets the identity and the cached config and pairs again.
func (mq *Marquee) Reset() error {
	mq.stage.Stop()
	return mq.machine.Reset()
}

// onPairingChange runs under the machine's notification lock and so never
// calls back into the machine.
func (mq *Marquee) onPairingChange(s pairing.State) {
	mq.logger.Infof("Pairing state: %s", s)

	if paired, ok := s.(pairing.Paired); ok {
		mq.SetStatus(MarqueeStatusRunning, "")
		mq.startSession(paired.Identity)
		return
	}
	mq.endSession()

	switch s := s.(type) {
	case pairing.Pairing:
		mq.SetStatus(MarqueeStatusPairing, fmt.Sprintf("Enter pairing code %s in the signage console", s.Code.Code))
		// a display with no identity has nothing it may keep showing
		mq.stage.Stop()
		mq.setScreen(renderer.Screen{Kind: renderer.ScreenPairing, Code: s.Code.Code})
	case pairing.Error:
		mq.SetStatus(MarqueeStatusError, s.Message)
		if !mq.playing() {
			mq.setScreen(renderer.Screen{Kind: renderer.ScreenError, Message: s.Message})
		}
	default:
		mq.SetStatus(MarqueeStatusStarting, "")
		if !mq.playing() {
			mq.setScreen(renderer.Screen{Kind: renderer.ScreenConnecting})
		}
	}
}

func (mq *Marquee) startSession(identity models.DeviceIdentity) {
	ctx, cancel := context.WithCancel(mq.ctx)
	session := &pairedSession{
		identity: identity,
		cancel:   cancel,
		resync:   mq.bus.Subscribe(signalbus.Resync),
	}
	session.heartbeat = heartbeat.New(mq.logger.With("component", "heartbeat"), mq.client, identity, mq.sessionDeauthorize(session), heartbeat.Config{
		Interval:  mq.config.Timing.Heartbeat,
		Threshold: mq.config.Timing.UnauthorizedThreshold,
		Clock:     mq.clock,
	})
	session.poller = configsync.New(mq.logger.With("component", "configsync"), mq.client, mq.store, identity, configsync.Config{
		Interval:       mq.config.Timing.ConfigPoll,
		Threshold:      mq.config.Timing.UnauthorizedThreshold,
		Clock:          mq.clock,
		Trigger:        session.resync.Signal(),
		Cache:          mq.cache,
		Publish:        mq.sessionPublish(session),
		OnUnauthorized: mq.sessionDeauthorize(session),
		OnError:        mq.pollFailed,
	})

	mq.mu.Lock()
	if mq.session != nil {
		mq.session.stop()
	}
	mq.session = session
	offline := mq.offline
	mq.mu.Unlock()

	if !session.poller.PublishLastKnownGood() && !mq.playing() {
		mq.setScreen(renderer.Screen{Kind: renderer.ScreenConnecting})
	}
	if offline {
		session.heartbeat.Suspend()
	}
	session.heartbeat.Start(ctx, &session.wg)
	session.poller.Start(ctx, &session.wg)
	mq.bus.Notify(signalbus.IdentityChanged)
}

// endSession cancels the paired tasks without waiting for them: one of them
// may be the caller that triggered the transition.
func (mq *Marquee) endSession() {
	mq.contentMu.Lock()
	mq.mu.Lock()
	session := mq.session
	mq.session = nil
	mq.mu.Unlock()
	mq.contentMu.Unlock()
	if session == nil {
		return
	}
	session.stop()
	if mq.wg != nil {
		util.GoWithWaitGroup(mq.wg, session.wg.Wait)
	}
	mq.bus.Notify(signalbus.IdentityChanged)
}

func (s *pairedSession) stop() {
	s.cancel()
	s.resync.Close()
}

// sessionDeauthorize is handed to the paired tasks as their unauthorized
// callback. A task of an ended session cannot deauthorize its successor.
func (mq *Marquee) sessionDeauthorize(session *pairedSession) func(reason string) {
	return func(reason string) {
		mq.mu.Lock()
		current := mq.session == session
		mq.mu.Unlock()
		if !current {
			return
		}
		mq.logger.Warnf("Device token rejected (%s), pairing again", reason)
		mq.machine.Deauthorize(reason)
	}
}

func (mq *Marquee) sessionPublish(session *pairedSession) func(resolver.Resolution) {
	return func(res resolver.Resolution) {
		mq.contentMu.Lock()
		defer mq.contentMu.Unlock()
		mq.mu.Lock()
		current := mq.session == session
		mq.mu.Unlock()
		if !current {
			mq.logger.Debugf("Dropping content for ended session of display %s", session.identity.DisplayID)
			return
		}
		mq.SetStatus(MarqueeStatusRunning, "")
		mq.publishLocked(res)
	}
}

func (mq *Marquee) publish(res resolver.Resolution) {
	mq.contentMu.Lock()
	defer mq.contentMu.Unlock()
	mq.publishLocked(res)
}

func (mq *Marquee) publishLocked(res resolver.Resolution) {
	previous := mq.stage.ContentKey()
	mq.stage.Apply(res)
	if res.Kind == resolver.KindNone {
		mq.setScreen(renderer.Screen{Kind: renderer.ScreenStandby})
	} else {
		mq.setScreen(renderer.Screen{Kind: renderer.ScreenPlaying})
	}
	if previous != res.ContentKey() {
		mq.bus.Notify(signalbus.ContentChanged)
	}
}

// pollFailed surfaces a config error when there is nothing to keep playing.
func (mq *Marquee) pollFailed(err error) {
	message := "unable to load content"
	if client.IsUnauthorized(err) {
		message = "unauthorized"
	}
	mq.SetStatus(MarqueeStatusRunning, message)
	if !mq.playing() {
		mq.setScreen(renderer.Screen{Kind: renderer.ScreenError, Message: message})
	}
}

func (mq *Marquee) onNetworkChange(from, to netmon.State) {
	mq.logger.Infof("Network changed from %s to %s", from, to)

	mq.mu.Lock()
	mq.offline = to == netmon.Offline
	session := mq.session
	mq.setScreenLocked(mq.screen)
	mq.mu.Unlock()

	if to == netmon.Offline {
		if session != nil {
			session.heartbeat.Suspend()
		}
		return
	}
	if from != netmon.Offline {
		return
	}
	if session != nil {
		session.heartbeat.Resume()
		mq.bus.Notify(signalbus.Resync)
		return
	}
	if _, failed := mq.machine.State().(pairing.Error); failed {
		mq.logger.Info("Network is back, retrying")
		mq.machine.Retry()
	}
}

// setScreen sends screen to the renderers with the offline badge applied.
func (mq *Marquee) setScreen(screen renderer.Screen) {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	mq.setScreenLocked(screen)
}

func (mq *Marquee) setScreenLocked(screen renderer.Screen) {
	screen.Offline = mq.offline
	mq.screen = screen
	mq.bridge.SetScreen(screen)
}

func (mq *Marquee) playing() bool {
	key := mq.stage.ContentKey()
	return key != "" && key != string(resolver.KindNone)
}

// Bridge returns the renderer bridge so it can be mounted elsewhere.
func (mq *Marquee) Bridge() *renderer.Bridge {
	return mq.bridge
}
