// README: Publish facade with worker-pool fan-out and a Redis Pub/Sub bridge.
package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"haulmatch/internal/types"
)

// busChannel carries envelopes between instances over Redis Pub/Sub.
const busChannel = "haulmatch:events"

// envelope is one publish or membership change. With the bridge enabled
// every instance applies it to its local hub, so room membership and
// fan-out stay consistent under horizontal scale-out.
type envelope struct {
	Op    string   `json:"op,omitempty"` // "" publish, else join/leave/close
	Users []string `json:"users,omitempty"`
	Rooms []string `json:"rooms,omitempty"`
	Event *Event   `json:"event,omitempty"`
}

const (
	opJoin  = "join"
	opLeave = "leave"
	opClose = "close"
)

// BusConfig tunes fan-out behaviour.
type BusConfig struct {
	// InlineFanoutLimit is the largest recipient count dispatched on the
	// caller's goroutine; bigger groups go through the worker pool.
	InlineFanoutLimit int
	Workers           int
	QueueSize         int
}

func (c *BusConfig) defaults() {
	if c.InlineFanoutLimit <= 0 {
		c.InlineFanoutLimit = 50
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
}

// Bus is the publish facade the services talk to. Publishing is
// fire-and-forget and must only happen after the state change it announces
// has been committed. With a Redis client the bus bridges envelopes across
// instances; without one everything is applied to the local hub directly.
type Bus struct {
	hub   *Hub
	rdb   *redis.Client
	clock types.Clock
	log   *zap.SugaredLogger
	cfg   BusConfig

	queue  chan envelope
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewBus(hub *Hub, rdb *redis.Client, clock types.Clock, log *zap.SugaredLogger, cfg BusConfig) *Bus {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		hub:    hub,
		rdb:    rdb,
		clock:  clock,
		log:    log,
		cfg:    cfg,
		queue:  make(chan envelope, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run starts the fan-out workers and, when bridging, the Pub/Sub listener.
func (b *Bus) Run() {
	for i := 0; i < b.cfg.Workers; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for {
				select {
				case env := <-b.queue:
					b.dispatch(env)
				case <-b.ctx.Done():
					return
				}
			}
		}()
	}
	if b.rdb != nil {
		b.wg.Add(1)
		go b.bridgeLoop()
	}
}

func (b *Bus) Close() {
	b.cancel()
	b.wg.Wait()
}

func (b *Bus) PublishUser(userID string, event string, data any) {
	b.publish(envelope{Users: []string{userID}, Event: b.newEvent(event, data)})
}

func (b *Bus) PublishUsers(userIDs []string, event string, data any) {
	if len(userIDs) == 0 {
		return
	}
	b.publish(envelope{Users: userIDs, Event: b.newEvent(event, data)})
}

func (b *Bus) PublishRoom(room string, event string, data any) {
	b.publish(envelope{Rooms: []string{room}, Event: b.newEvent(event, data)})
}

func (b *Bus) JoinRoom(room, userID string) {
	b.publish(envelope{Op: opJoin, Rooms: []string{room}, Users: []string{userID}})
}

func (b *Bus) LeaveRoom(room, userID string) {
	b.publish(envelope{Op: opLeave, Rooms: []string{room}, Users: []string{userID}})
}

func (b *Bus) CloseRoom(room string) {
	b.publish(envelope{Op: opClose, Rooms: []string{room}})
}

// Online reports whether the user is connected to this instance.
func (b *Bus) Online(userID string) bool {
	return b.hub.Online(userID)
}

func (b *Bus) newEvent(name string, data any) *Event {
	return &Event{Name: name, Ts: b.clock.Now(), Data: data}
}

func (b *Bus) publish(env envelope) {
	if env.Op == "" && len(env.Users) <= b.cfg.InlineFanoutLimit {
		b.dispatch(env)
		return
	}
	select {
	case b.queue <- env:
	default:
		// Queue saturated, pay the cost on the caller instead of dropping.
		b.dispatch(env)
	}
}

// dispatch hands the envelope to Redis when bridging, otherwise applies it
// locally. Bridged envelopes come back through bridgeLoop on every
// instance, this one included.
func (b *Bus) dispatch(env envelope) {
	if b.rdb == nil {
		b.apply(env)
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		b.log.Errorw("marshal envelope", "error", err)
		return
	}
	if err := b.rdb.Publish(b.ctx, busChannel, payload).Err(); err != nil {
		b.log.Errorw("publish envelope", "error", err)
		// Local clients still deserve the event.
		b.apply(env)
	}
}

func (b *Bus) bridgeLoop() {
	defer b.wg.Done()
	sub := b.rdb.Subscribe(b.ctx, busChannel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Errorw("decode envelope", "error", err)
				continue
			}
			b.apply(env)
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Bus) apply(env envelope) {
	switch env.Op {
	case opJoin:
		for _, room := range env.Rooms {
			for _, user := range env.Users {
				b.hub.JoinRoom(room, user)
			}
		}
	case opLeave:
		for _, room := range env.Rooms {
			for _, user := range env.Users {
				b.hub.LeaveRoom(room, user)
			}
		}
	case opClose:
		for _, room := range env.Rooms {
			b.hub.CloseRoom(room)
		}
	default:
		if env.Event == nil {
			return
		}
		if len(env.Users) > 0 {
			b.hub.PublishUsers(env.Users, *env.Event)
		}
		for _, room := range env.Rooms {
			b.hub.PublishRoom(room, *env.Event)
		}
	}
}
