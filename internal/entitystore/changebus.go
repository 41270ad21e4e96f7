package entitystore

import (
	"context"
	"sync"
	"time"

	"github.com/subgraphd/indexnode/internal/entity"
	"github.com/subgraphd/indexnode/pkg/logger"
	"github.com/subgraphd/indexnode/pkg/pgnotify"
)

// changeBusChannel is the single Postgres NOTIFY channel every entity change
// is published to; fan-out to individual subscribers happens in process, not
// via per-deployment Postgres channels, to keep the LISTEN surface fixed
// regardless of subgraph count.
const changeBusChannel = "indexnode_entity_changes"

const (
	subscriberChanCapacity = 100
	subscriberSweepPeriod  = 5 * time.Second
)

// changeBus fans committed entity.Change records out to subscriptions
// filtered by (deployment, entity_type), per spec §4.1's change-notification
// bus. It rides on pkg/pgnotify so that committed changes reach every
// process subscribed to the deployment's entity store, not only the process
// that performed the commit.
type changeBus struct {
	log *logger.Logger
	bus *pgnotify.Bus

	mu   sync.Mutex
	subs map[int64]*subscription
	next int64

	stopSweep chan struct{}
}

type subscription struct {
	keys   map[entity.TypeKey]struct{}
	ch     chan entity.Change
	closed bool
}

func newChangeBus(bus *pgnotify.Bus, log *logger.Logger) (*changeBus, error) {
	cb := &changeBus{
		log:       log.Component("changebus"),
		bus:       bus,
		subs:      make(map[int64]*subscription),
		stopSweep: make(chan struct{}),
	}

	if err := bus.Subscribe(changeBusChannel, cb.onNotify); err != nil {
		return nil, err
	}

	go cb.sweep()
	return cb, nil
}

// publish broadcasts a committed change to every process sharing this
// Postgres database via NOTIFY; onNotify fans it out locally in every
// process, including this one.
func (cb *changeBus) publish(ctx context.Context, ch entity.Change) error {
	if cb.bus == nil {
		// No transport wired: unit tests construct a changeBus this way to
		// exercise local fan-out without a live Postgres LISTEN/NOTIFY
		// connection. Mirrors what onNotify does once a NOTIFY arrives.
		return cb.dispatchLocal(ch)
	}
	raw, err := marshalChange(ch)
	if err != nil {
		return err
	}
	return cb.bus.Publish(ctx, changeBusChannel, raw)
}

func (cb *changeBus) dispatchLocal(change entity.Change) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	for id, sub := range cb.subs {
		if sub.closed || !change.MatchesAny(sub.keys) {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			cb.dropLagging(id, sub)
		}
	}
	return nil
}

// dropLagging marks sub closed after a failed send to its channel: a full
// channel means the subscriber isn't draining, so per spec §4.1 it's
// dropped rather than allowed to block the bus. The map entry itself is
// reclaimed by sweep, not deleted here, so dispatch never mutates cb.subs
// while ranging over it.
func (cb *changeBus) dropLagging(id int64, sub *subscription) {
	sub.closed = true
	close(sub.ch)
	cb.log.WithFields(map[string]any{"subscription": id}).
		Warn("dropping lagging subscriber")
}

func (cb *changeBus) onNotify(ctx context.Context, event pgnotify.Event) error {
	var change entity.Change
	if err := unmarshalChange(event.Payload, &change); err != nil {
		cb.log.WithError(err).Warn("discarding malformed change notification")
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	for id, sub := range cb.subs {
		if sub.closed || !change.MatchesAny(sub.keys) {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			cb.dropLagging(id, sub)
		}
	}
	return nil
}

// subscribe registers interest in keys and returns a bounded channel of
// matching changes plus an unsubscribe func.
func (cb *changeBus) subscribe(keys map[entity.TypeKey]struct{}) (<-chan entity.Change, func(), error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	id := cb.next
	cb.next++

	sub := &subscription{
		keys: keys,
		ch:   make(chan entity.Change, subscriberChanCapacity),
	}
	cb.subs[id] = sub

	unsubscribe := func() {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		if s, ok := cb.subs[id]; ok && !s.closed {
			s.closed = true
			close(s.ch)
			delete(cb.subs, id)
		}
	}

	return sub.ch, unsubscribe, nil
}

// sweep periodically removes closed subscriptions that were not cleanly
// unregistered (e.g. a caller that abandoned the channel without calling
// unsubscribe), preventing slow memory growth across long-running processes.
func (cb *changeBus) sweep() {
	ticker := time.NewTicker(subscriberSweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-cb.stopSweep:
			return
		case <-ticker.C:
			cb.sweepOnce()
		}
	}
}

// sweepOnce deletes every subscription dropLagging (or unsubscribe, though
// that already deletes inline) has marked closed. Split out from sweep so
// tests can drive one pass synchronously instead of waiting out the real
// ticker interval.
func (cb *changeBus) sweepOnce() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	for id, sub := range cb.subs {
		if sub.closed {
			delete(cb.subs, id)
		}
	}
}

func (cb *changeBus) close() {
	close(cb.stopSweep)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	for id, sub := range cb.subs {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		delete(cb.subs, id)
	}
}
