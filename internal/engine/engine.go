// README: Engine assembles the dispatch core and owns its lifecycle.
package engine

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"haulmatch/internal/cache"
	"haulmatch/internal/config"
	"haulmatch/internal/events"
	"haulmatch/internal/modules/fleet"
	"haulmatch/internal/modules/hold"
	"haulmatch/internal/modules/order"
	"haulmatch/internal/modules/trip"
	"haulmatch/internal/sched"
	"haulmatch/internal/types"
)

// Deps are the external resources. Every field is optional: without DB the
// stores are in-memory, without Redis the cache is in-process and events
// stay on the local hub, without Push notifications are disabled. That is
// the configuration every test runs with.
type Deps struct {
	Log   *zap.SugaredLogger
	DB    *pgxpool.Pool
	Redis *redis.Client
	Push  events.Sender
	Clock types.Clock
}

// Engine wires stores, cache, event fan-out, and the four module services
// into one dispatch core.
type Engine struct {
	log   *zap.SugaredLogger
	cfg   config.Config
	clock types.Clock

	Cache  cache.Store
	Locks  *cache.LockManager
	Hub    *events.Hub
	Bus    *events.Bus
	Outbox *events.Outbox
	Sched  *sched.Scheduler

	Fleet  *fleet.Service
	Orders *order.Service
	Holds  *hold.Service
	Trips  *trip.Service

	outboxDone   chan struct{}
	outboxCancel context.CancelFunc
}

func New(cfg config.Config, d Deps) *Engine {
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	if d.Clock == nil {
		d.Clock = types.RealClock()
	}

	var store cache.Store
	if d.Redis != nil {
		store = cache.NewRedis(d.Redis)
	} else {
		store = cache.NewMemory(d.Clock)
	}
	locks := cache.NewLockManager(store)

	hub := events.NewHub(d.Log)
	bus := events.NewBus(hub, d.Redis, d.Clock, d.Log, events.BusConfig{
		InlineFanoutLimit: cfg.Dispatch.InlineFanoutLimit,
	})
	outbox := events.NewOutbox(store, d.Push, d.Log, events.OutboxConfig{
		RatePerSecond: cfg.Push.RatePerSecond,
		Workers:       cfg.Push.Workers,
	})
	scheduler := sched.New(d.Log)

	var (
		orderStore order.Store
		fleetStore fleet.Store
		tripStore  trip.Store
	)
	if d.DB != nil {
		orderStore = order.NewPGStore(d.DB)
		fleetStore = fleet.NewPGStore(d.DB)
		tripStore = trip.NewPGStore(d.DB)
	} else {
		orderStore = order.NewMemStore()
		fleetStore = fleet.NewMemStore()
		tripStore = trip.NewMemStore()
	}

	fleetSvc := fleet.NewService(fleetStore, fleet.NewMatchIndex(fleetStore, cfg.Dispatch.MatchIndexTTL), d.Clock, d.Log)
	bcast := order.NewBroadcaster(orderStore, fleetSvc, bus, outbox, store, d.Clock, d.Log)

	orders := order.NewService(order.ServiceDeps{
		Store:     orderStore,
		Cache:     store,
		Locks:     locks,
		Broadcast: bcast,
		Fleet:     fleetSvc,
		Sched:     scheduler,
		Clock:     d.Clock,
		Log:       d.Log,
		Dispatch:  cfg.Dispatch,
		Timeouts:  cfg.Timeouts,
	})
	trips := trip.NewService(tripStore, orderStore, fleetSvc, bcast, d.Clock, d.Log)
	holds := hold.NewService(hold.ServiceDeps{
		Store:     hold.NewStore(store),
		Orders:    orderStore,
		Fleet:     fleetSvc,
		Trips:     trips,
		Locks:     locks,
		Broadcast: bcast,
		Bus:       bus,
		Push:      outbox,
		Sched:     scheduler,
		Clock:     d.Clock,
		Log:       d.Log,
		Dispatch:  cfg.Dispatch,
		Timeouts:  cfg.Timeouts,
	})
	orders.AttachHolds(holds)
	orders.AttachTrips(trips)

	return &Engine{
		log:    d.Log,
		cfg:    cfg,
		clock:  d.Clock,
		Cache:  store,
		Locks:  locks,
		Hub:    hub,
		Bus:    bus,
		Outbox: outbox,
		Sched:  scheduler,
		Fleet:  fleetSvc,
		Orders: orders,
		Holds:  holds,
		Trips:  trips,
	}
}

// Run starts fan-out workers, the push drain, and the background sweeps,
// then re-arms order expiry timers. It returns once the core is live.
func (e *Engine) Run(ctx context.Context) error {
	e.Bus.Run()

	outboxCtx, cancel := context.WithCancel(context.Background())
	e.outboxCancel = cancel
	e.outboxDone = make(chan struct{})
	go func() {
		defer close(e.outboxDone)
		e.Outbox.Run(outboxCtx)
	}()

	if err := e.Orders.Rehydrate(ctx); err != nil {
		return err
	}

	holdSweep := e.cfg.Dispatch.HoldCleanupInterval
	if holdSweep <= 0 {
		holdSweep = 5 * time.Second
	}
	e.Sched.Every(holdSweep, func() {
		e.Holds.Sweep(context.Background())
	})
	e.Sched.Every(e.sweepInterval(), func() {
		e.Orders.SweepLapsed(context.Background())
	})
	e.log.Infow("engine running",
		"hold_duration", e.cfg.Dispatch.HoldDuration,
		"broadcast_timeout", e.cfg.Dispatch.BroadcastTimeout)
	return nil
}

// sweepInterval paces the lapsed-order sweep; it is a safety net behind
// the per-order timers, so a few broadcast windows of lag is fine.
func (e *Engine) sweepInterval() time.Duration {
	iv := e.cfg.Dispatch.BroadcastTimeout
	if iv < time.Minute {
		iv = time.Minute
	}
	return iv
}

// Close stops timers and workers. Safe to call once after Run.
func (e *Engine) Close() {
	e.Sched.Close()
	if e.outboxCancel != nil {
		e.outboxCancel()
		<-e.outboxDone
	}
	e.Bus.Close()
	e.Hub.Close()
}
