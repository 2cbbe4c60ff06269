package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
	"github.com/bcnelson/wireguard-acl-manager/internal/firewall"
	"github.com/bcnelson/wireguard-acl-manager/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Publisher fans gateway events out to subscribers. Publish must not block and
// returns how many subscribers received the event.
type Publisher interface {
	Publish(event domain.GatewayEvent) int
}

// snapshot is the rule data shared by every location compiled in one pass.
// seq orders snapshots by the time their loading started.
type snapshot struct {
	seq        uint64
	rules      []*domain.ACLRule
	aliases    []*domain.ACLAlias
	identities *domain.Identities
}

// Dispatcher recompiles firewall configs and publishes them to gateways.
type Dispatcher struct {
	store       storage.Storage
	features    *Features
	compiler    *firewall.Compiler
	publisher   Publisher
	concurrency int
	debounce    time.Duration
	log         logrus.FieldLogger
	now         func() time.Time

	mu    sync.Mutex
	timer *time.Timer

	// seq numbers snapshots; published holds the newest seq sent per location.
	seq       atomic.Uint64
	pubMu     sync.Mutex
	published map[int64]uint64
}

// NewDispatcher creates a Dispatcher. concurrency bounds how many locations
// are compiled at once; debounce delays TriggerRecomputeAll.
func NewDispatcher(
	store storage.Storage,
	features *Features,
	publisher Publisher,
	log logrus.FieldLogger,
	concurrency int,
	debounce time.Duration,
) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		store:       store,
		features:    features,
		compiler:    firewall.NewCompiler(log),
		publisher:   publisher,
		concurrency: concurrency,
		debounce:    debounce,
		log:         log,
		now:         time.Now,
		published:   map[int64]uint64{},
	}
}

func (d *Dispatcher) loadSnapshot(ctx context.Context) (*snapshot, error) {
	seq := d.seq.Add(1)
	rules, err := d.store.ListACLRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing ACL rules: %w", err)
	}
	aliases, err := d.store.ListACLAliases(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing ACL aliases: %w", err)
	}
	ids, err := d.store.GetIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading identities: %w", err)
	}
	return &snapshot{seq: seq, rules: rules, aliases: aliases, identities: ids}, nil
}

// stateFor builds the event describing the current firewall state of loc.
func (d *Dispatcher) stateFor(loc *domain.Location, snap *snapshot) domain.GatewayEvent {
	if !d.features.EnterpriseEnabled() {
		return domain.FirewallDisabled(loc.ID)
	}
	cfg, ok := d.compiler.Compile(firewall.Input{
		Location:   loc,
		Rules:      snap.rules,
		Aliases:    snap.aliases,
		Identities: snap.identities,
		Now:        d.now(),
	})
	if !ok {
		return domain.FirewallDisabled(loc.ID)
	}
	return domain.FirewallConfigChanged(loc.ID, cfg)
}

// CurrentState returns the event a gateway should apply first after
// (re)connecting: the compiled config, or FirewallDisabled.
func (d *Dispatcher) CurrentState(ctx context.Context, locationID int64) (domain.GatewayEvent, error) {
	event, _, err := d.currentState(ctx, locationID)
	return event, err
}

func (d *Dispatcher) currentState(ctx context.Context, locationID int64) (domain.GatewayEvent, uint64, error) {
	snap, err := d.loadSnapshot(ctx)
	if err != nil {
		return domain.GatewayEvent{}, 0, err
	}
	loc, err := d.store.GetLocation(ctx, locationID)
	if err != nil {
		return domain.GatewayEvent{}, 0, err
	}
	return d.stateFor(loc, snap), snap.seq, nil
}

// RecomputeLocation compiles one location and publishes the result.
func (d *Dispatcher) RecomputeLocation(ctx context.Context, locationID int64) error {
	event, seq, err := d.currentState(ctx, locationID)
	if err != nil {
		return err
	}
	d.publish(event, seq)
	return nil
}

// PublishDisabled tells the gateways of a location to drop their firewall.
// Recomputes that started earlier can no longer override it.
func (d *Dispatcher) PublishDisabled(locationID int64) {
	d.publish(domain.FirewallDisabled(locationID), d.seq.Add(1))
}

// RecomputeLocations compiles and publishes the given locations. A location
// that fails to load is logged and skipped.
func (d *Dispatcher) RecomputeLocations(ctx context.Context, locationIDs []int64) error {
	if len(locationIDs) == 0 {
		return nil
	}
	snap, err := d.loadSnapshot(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, id := range locationIDs {
		id := id
		g.Go(func() error {
			loc, err := d.store.GetLocation(gctx, id)
			if err != nil {
				d.log.WithError(err).WithField("location_id", id).Warn("Skipping firewall recompute")
				return nil
			}
			d.publish(d.stateFor(loc, snap), snap.seq)
			return nil
		})
	}
	return g.Wait()
}

// RecomputeAll compiles and publishes every location.
func (d *Dispatcher) RecomputeAll(ctx context.Context) error {
	locs, err := d.store.ListLocations(ctx)
	if err != nil {
		return fmt.Errorf("listing locations: %w", err)
	}
	ids := make([]int64, len(locs))
	for i, loc := range locs {
		ids[i] = loc.ID
	}
	return d.RecomputeLocations(ctx, ids)
}

// TriggerRecomputeAll schedules a debounced RecomputeAll.
// Multiple triggers within the debounce period result in a single pass.
func (d *Dispatcher) TriggerRecomputeAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.debounce, func() {
		if err := d.RecomputeAll(context.Background()); err != nil {
			d.log.WithError(err).Error("Debounced firewall recompute failed")
		}
	})
}

// Stop cancels a pending debounced recompute.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

// publish hands the event to the publisher unless an event built from a
// newer snapshot was already published for the location. Delivery is best effort.
func (d *Dispatcher) publish(event domain.GatewayEvent, seq uint64) {
	d.pubMu.Lock()
	defer d.pubMu.Unlock()

	entry := d.log.WithFields(logrus.Fields{
		"location_id": event.LocationID,
		"event":       event.Kind,
		"seq":         seq,
	})
	if seq < d.published[event.LocationID] {
		entry.Debug("Dropping stale gateway event")
		return
	}
	d.published[event.LocationID] = seq

	delivered := d.publisher.Publish(event)
	entry = entry.WithField("gateways", delivered)
	if event.Config != nil {
		entry = entry.WithField("rules", len(event.Config.Rules))
	}
	entry.Debug("Published gateway event")
}
