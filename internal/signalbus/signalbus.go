// Package signalbus lets one component poke another without either knowing
// about the other. Signals carry no payload and coalesce: a subscriber that is
// slow to react sees a single pending signal, never a queue.
package signalbus

import (
	"sync"
)

// Well known signal names used by the agent.
const (
	// Resync asks the config poller for an out-of-cycle fetch.
	Resync = "resync"
	// ContentChanged fires when the stage switches to different content.
	ContentChanged = "content-changed"
	// IdentityChanged fires when the device identity is stored or cleared.
	IdentityChanged = "identity-changed"
)

type SignalBus interface {
	// Notify wakes every subscription of the named signal.
	Notify(name string)
	// Subscribe creates a subscription to the named signal.
	Subscribe(name string) *Subscription
}

var _ SignalBus = &signalBus{}

type signalBus struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

func NewSignalBus() SignalBus {
	return &signalBus{
		subs: map[string]map[*Subscription]struct{}{},
	}
}

func (sb *signalBus) Notify(name string) {
	sb.mu.RLock()
	targets := make([]*Subscription, 0, len(sb.subs[name]))
	for sub := range sb.subs[name] {
		targets = append(targets, sub)
	}
	sb.mu.RUnlock()
	wake(targets)
}

func wake(targets []*Subscription) {
	for _, sub := range targets {
		select {
		case sub.c <- struct{}{}:
		default:
		}
	}
}

func (sb *signalBus) Subscribe(name string) *Subscription {
	sub := &Subscription{
		bus:  sb,
		name: name,
		c:    make(chan struct{}, 1),
	}
	sb.mu.Lock()
	set, ok := sb.subs[name]
	if !ok {
		set = map[*Subscription]struct{}{}
		sb.subs[name] = set
	}
	set[sub] = struct{}{}
	sb.mu.Unlock()
	return sub
}

func (sb *signalBus) remove(sub *Subscription) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	set := sb.subs[sub.name]
	delete(set, sub)
	if len(set) == 0 {
		delete(sb.subs, sub.name)
	}
}

type Subscription struct {
	bus       *signalBus
	name      string
	closeOnce sync.Once
	c         chan struct{}
}

// Signal returns a channel that receives a value when the subscription is
// notified. It is meant for select statements and can be handed directly to
// util.Task as a Trigger.
func (sub *Subscription) Signal() <-chan struct{} {
	return sub.c
}

// IsSignaled consumes a pending notification, if any.
func (sub *Subscription) IsSignaled() bool {
	select {
	case <-sub.c:
		return true
	default:
		return false
	}
}

func (sub *Subscription) Close() {
	sub.closeOnce.Do(func() {
		sub.bus.remove(sub)
	})
}
