// README: Persistent FCM push queue drained with backoff, rate cap, and dedup.
package events

import (
	"context"
	"encoding/json"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/avast/retry-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"haulmatch/internal/cache"
)

const (
	outboxKey     = "outbox:fcm"
	outboxDeadKey = "outbox:fcm:dead"
	dedupPrefix   = "push:dedup:"
	dedupTTL      = 30 * time.Second

	drainBatch  = 32
	maxRequeues = 3
)

// Push is one queued device notification.
type Push struct {
	Token    string            `json:"token"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Event    string            `json:"event"`
	Data     map[string]string `json:"data,omitempty"`
	DedupKey string            `json:"dedupKey,omitempty"`
	Requeues int               `json:"requeues,omitempty"`
}

// Sender sends a single FCM message. *messaging.Client satisfies it.
type Sender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// OutboxConfig tunes the drain workers.
type OutboxConfig struct {
	RatePerSecond int
	Workers       int
	PollInterval  time.Duration
}

func (c *OutboxConfig) defaults() {
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 500
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
}

// Outbox is an append-only push queue kept in the cache store so queued
// notifications survive restarts. A worker pool drains it with exponential
// backoff per message and a global send-rate cap. Messages that keep
// failing land on a dead list instead of poisoning the queue.
type Outbox struct {
	store   cache.Store
	sender  Sender
	limiter *rate.Limiter
	log     *zap.SugaredLogger
	cfg     OutboxConfig
}

// NewOutbox builds the queue. A nil sender disables push entirely:
// enqueued messages are dropped so callers need no special casing.
func NewOutbox(store cache.Store, sender Sender, log *zap.SugaredLogger, cfg OutboxConfig) *Outbox {
	cfg.defaults()
	return &Outbox{
		store:   store,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RatePerSecond),
		log:     log,
		cfg:     cfg,
	}
}

// Enqueue appends a push to the outbox. Device-less users (empty token)
// are skipped silently.
func (o *Outbox) Enqueue(ctx context.Context, p Push) error {
	if p.Token == "" {
		return nil
	}
	if o.sender == nil {
		o.log.Debugw("push disabled, dropping", "event", p.Event)
		return nil
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return o.store.LPush(ctx, outboxKey, string(payload))
}

// Run drains the outbox until ctx is cancelled. It is a no-op when push
// is disabled.
func (o *Outbox) Run(ctx context.Context) {
	if o.sender == nil {
		return
	}
	jobs := make(chan Push)
	for i := 0; i < o.cfg.Workers; i++ {
		go func() {
			for p := range jobs {
				o.process(ctx, p)
			}
		}()
	}
	defer close(jobs)

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.drain(ctx, jobs)
		case <-ctx.Done():
			return
		}
	}
}

func (o *Outbox) drain(ctx context.Context, jobs chan<- Push) {
	for {
		batch, err := o.store.RPop(ctx, outboxKey, drainBatch)
		if err != nil {
			o.log.Errorw("pop outbox", "error", err)
			return
		}
		if len(batch) == 0 {
			return
		}
		for _, raw := range batch {
			var p Push
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				o.log.Errorw("decode push", "error", err)
				continue
			}
			select {
			case jobs <- p:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (o *Outbox) process(ctx context.Context, p Push) {
	if key := p.dedupKey(); key != "" {
		first, err := o.store.SetNX(ctx, dedupPrefix+key, "1", dedupTTL)
		if err == nil && !first {
			return
		}
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return
	}

	msg := p.message()
	err := retry.Do(
		func() error {
			_, err := o.sender.Send(ctx, msg)
			return err
		},
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !messaging.IsUnregistered(err) }),
	)
	if err == nil {
		return
	}
	if messaging.IsUnregistered(err) {
		o.log.Infow("dropping push for unregistered token", "event", p.Event)
		return
	}

	p.Requeues++
	if p.Requeues >= maxRequeues {
		o.log.Errorw("push moved to dead list", "event", p.Event, "error", err)
		if raw, merr := json.Marshal(p); merr == nil {
			_ = o.store.LPush(ctx, outboxDeadKey, string(raw))
		}
		return
	}
	raw, merr := json.Marshal(p)
	if merr != nil {
		return
	}
	if err := o.store.LPush(ctx, outboxKey, string(raw)); err != nil {
		o.log.Errorw("requeue push", "error", err)
	}
}

func (p Push) dedupKey() string {
	if p.Requeues > 0 {
		// Requeued messages already passed dedup once.
		return ""
	}
	if p.DedupKey != "" {
		return p.DedupKey
	}
	return p.Token + ":" + p.Event
}

func (p Push) message() *messaging.Message {
	data := make(map[string]string, len(p.Data)+1)
	for k, v := range p.Data {
		data[k] = v
	}
	data["event"] = p.Event
	return &messaging.Message{
		Token: p.Token,
		Notification: &messaging.Notification{
			Title: p.Title,
			Body:  p.Body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
}
