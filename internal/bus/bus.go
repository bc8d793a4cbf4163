package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var errNilPayload = errors.New("bus: payload must not be nil")

// BackpressurePolicy controls what happens when a subscriber's queue is
// full at publish time (§4.A).
type BackpressurePolicy string

const (
	PolicyBlock      BackpressurePolicy = "block"
	PolicyDropOldest BackpressurePolicy = "drop_oldest"
	PolicyDropNew    BackpressurePolicy = "drop_new"
)

// SubscribeOptions configures a single subscription.
type SubscribeOptions struct {
	// QueueSize bounds the subscriber's inbox. Default 10_000.
	QueueSize int

	// Policy controls overflow behavior. Default PolicyDropNew.
	Policy BackpressurePolicy

	// Ordered, when true, delivers events to this handler one at a time,
	// in publish order, via a single executor goroutine. Setting it false
	// together with a Concurrency > 0 opts into parallel dispatch bounded
	// by Concurrency. Leaving both unset takes the topic's
	// Descriptor.DefaultOrdered (true for every DefaultRegistry topic).
	Ordered bool

	// Concurrency bounds the number of in-flight handler invocations when
	// Ordered is false. Ignored (fixed at 1) when Ordered is true.
	Concurrency int64

	// Idempotent, when true, causes the bus to drop envelopes whose
	// (topic, correlationId) pair has already been delivered to this
	// subscriber within MemorySec.
	Idempotent bool

	// MemorySec is the idempotency TTL in seconds. Default 300.
	MemorySec int

	// MaxRetries/BackoffMs: a handler that returns an error is not
	// retried unless it opted in here. Backoff before retry n is
	// BackoffMs*2^n scaled by a jitter factor in [0.5, 1.0).
	MaxRetries int
	BackoffMs  int
}

func (o SubscribeOptions) withDefaults() SubscribeOptions {
	if o.QueueSize <= 0 {
		o.QueueSize = 10_000
	}
	if o.Policy == "" {
		o.Policy = PolicyDropNew
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.MemorySec <= 0 {
		o.MemorySec = 300
	}
	return o
}

// Handler processes one envelope. Returning an error marks the delivery
// failed; the bus logs an audit.log entry and, absent retry options,
// moves on without retrying.
type Handler func(ctx context.Context, e Envelope) error

type subscription struct {
	name    string
	topic   Topic
	handler Handler
	opts    SubscribeOptions

	queue  chan Envelope
	sem    *semaphore.Weighted // nil when Ordered
	idemp  *lruSet
	dropCounter *counter
	dupCounter  *counter

	wg   sync.WaitGroup
	done chan struct{}
}

// Bus is the single pub/sub hub every module communicates through.
type Bus struct {
	mu        sync.RWMutex
	registry  *Registry
	log       *zap.Logger
	subs      map[Topic][]*subscription
	auditFn   func(ctx context.Context, topic Topic, corrID, errMsg string)
	shutdown  chan struct{}
	shutOnce  sync.Once
	publishWG sync.WaitGroup
}

// New creates a Bus bound to reg. auditFn is invoked (best-effort, never
// blocking the caller) whenever a handler errors; pass nil to disable.
func New(reg *Registry, log *zap.Logger, auditFn func(ctx context.Context, topic Topic, corrID, errMsg string)) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		registry: reg,
		log:      log.Named("bus"),
		subs:     make(map[Topic][]*subscription),
		auditFn:  auditFn,
		shutdown: make(chan struct{}),
	}
}

// Subscribe registers handler under name to receive every envelope
// published to topic, starting its dispatch goroutine(s) immediately.
// Subscribing to an undeclared topic is a validation error.
func (b *Bus) Subscribe(topic Topic, name string, handler Handler, opts SubscribeOptions) error {
	d, ok := b.registry.Lookup(topic)
	if !ok {
		return fmt.Errorf("bus: subscribe: unknown topic %q", topic)
	}
	if !opts.Ordered && opts.Concurrency <= 0 {
		opts.Ordered = d.DefaultOrdered
	}
	opts = opts.withDefaults()

	sub := &subscription{
		name:        name,
		topic:       topic,
		handler:     handler,
		opts:        opts,
		queue:       make(chan Envelope, opts.QueueSize),
		dropCounter: &counter{},
		dupCounter:  &counter{},
		done:        make(chan struct{}),
	}
	if opts.Idempotent {
		sub.idemp = newLRUSet(time.Duration(opts.MemorySec) * time.Second)
	}
	if !opts.Ordered {
		sub.sem = semaphore.NewWeighted(opts.Concurrency)
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	b.runSubscriber(sub)
	return nil
}

// runSubscriber starts the goroutine(s) that drain sub.queue in publish
// order (Ordered) or with bounded parallelism (!Ordered).
func (b *Bus) runSubscriber(sub *subscription) {
	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		ctx := context.Background()
		for e := range sub.queue {
			if sub.idemp != nil {
				key := string(e.Topic) + "|" + e.CorrelationID
				if sub.idemp.SeenRecently(key) {
					sub.dupCounter.Add(1)
					continue
				}
				sub.idemp.Mark(key)
			}

			if sub.opts.Ordered {
				b.dispatch(ctx, sub, e)
				continue
			}

			_ = sub.sem.Acquire(ctx, 1)
			sub.wg.Add(1)
			go func(e Envelope) {
				defer sub.wg.Done()
				defer sub.sem.Release(1)
				b.dispatch(ctx, sub, e)
			}(e)
		}
	}()
}

// dispatch invokes sub.handler, honoring MaxRetries/BackoffMs, and emits
// an audit trail entry on terminal failure.
func (b *Bus) dispatch(ctx context.Context, sub *subscription, e Envelope) {
	var err error
	attempt := 0
	for {
		err = sub.handler(ctx, e)
		if err == nil {
			return
		}
		if attempt >= sub.opts.MaxRetries {
			break
		}
		attempt++
		backoff := jitteredBackoff(sub.opts.BackoffMs, attempt)
		select {
		case <-time.After(backoff):
		case <-b.shutdown:
			return
		}
	}
	b.log.Warn("handler failed",
		zap.String("subscriber", sub.name),
		zap.String("topic", string(sub.topic)),
		zap.String("corrId", e.CorrelationID),
		zap.Error(err))
	if b.auditFn != nil {
		b.auditFn(ctx, sub.topic, e.CorrelationID, err.Error())
	}
}

// Publish delivers e to every subscriber of e.Topic, applying each
// subscriber's backpressure policy independently. Per-subscriber FIFO is
// preserved: Publish enqueues to every matching subscriber's channel
// before returning (except under PolicyBlock, where it waits).
func (b *Bus) Publish(ctx context.Context, e Envelope) error {
	if d, ok := b.registry.Lookup(e.Topic); ok && d.Validate != nil {
		if err := d.Validate(e.Payload); err != nil {
			return fmt.Errorf("bus: publish %q: %w", e.Topic, err)
		}
	} else if !ok {
		return fmt.Errorf("bus: publish: unknown topic %q", e.Topic)
	}

	select {
	case <-b.shutdown:
		return errors.New("bus: shut down, publish rejected")
	default:
	}

	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs[e.Topic]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.enqueue(ctx, sub, e)
	}
	return nil
}

func (b *Bus) enqueue(ctx context.Context, sub *subscription, e Envelope) {
	switch sub.opts.Policy {
	case PolicyBlock:
		select {
		case sub.queue <- e:
		case <-ctx.Done():
		case <-b.shutdown:
		}
	case PolicyDropOldest:
		select {
		case sub.queue <- e:
		default:
			select {
			case <-sub.queue:
				sub.dropCounter.Add(1)
			default:
			}
			select {
			case sub.queue <- e:
			default:
				sub.dropCounter.Add(1)
			}
		}
	default: // PolicyDropNew
		select {
		case sub.queue <- e:
		default:
			sub.dropCounter.Add(1)
			b.log.Warn("subscriber queue full, dropping event",
				zap.String("subscriber", sub.name), zap.String("topic", string(sub.topic)))
		}
	}
}

// HealthSnapshot reports per-subscriber queue depth and counters, used by
// the Module Lifecycle's healthSnapshot() operation and the CLI `status`
// command.
type SubscriberHealth struct {
	Topic      Topic
	Name       string
	QueueDepth int
	QueueCap   int
	Dropped    uint64
	Duplicates uint64
}

func (b *Bus) HealthSnapshot() []SubscriberHealth {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []SubscriberHealth
	for topic, subs := range b.subs {
		for _, s := range subs {
			out = append(out, SubscriberHealth{
				Topic:      topic,
				Name:       s.name,
				QueueDepth: len(s.queue),
				QueueCap:   cap(s.queue),
				Dropped:    s.dropCounter.Load(),
				Duplicates: s.dupCounter.Load(),
			})
		}
	}
	return out
}

// ShutdownAll stops accepting publishes, drains every subscriber queue up
// to graceMs, then force-cancels anything still running (§4.A).
func (b *Bus) ShutdownAll(graceMs int) {
	b.shutOnce.Do(func() { close(b.shutdown) })

	b.mu.RLock()
	var all []*subscription
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.mu.RUnlock()

	for _, s := range all {
		close(s.queue)
	}

	done := make(chan struct{})
	go func() {
		for _, s := range all {
			s.wg.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Duration(graceMs) * time.Millisecond):
		b.log.Warn("shutdown grace period exceeded, force-cancelling subscribers")
	}
}

type counter struct {
	mu sync.Mutex
	n  uint64
}

func (c *counter) Add(d uint64) {
	c.mu.Lock()
	c.n += d
	c.mu.Unlock()
}

func (c *counter) Load() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func jitteredBackoff(baseMs, attempt int) time.Duration {
	base := time.Duration(baseMs) * time.Millisecond
	mult := int64(1)
	for i := 0; i < attempt; i++ {
		mult *= 2
	}
	full := base * time.Duration(mult)
	// Jitter scales full into [full/2, full).
	return time.Duration(float64(full) * jitterFraction())
}

// jitterFraction returns a pseudo-random fraction in [0.5, 1.0] — enough
// spread to avoid thundering herds on retry without pulling in a full RNG
// dependency for what is a cosmetic smoothing factor.
func jitterFraction() float64 {
	return 0.5 + 0.5*float64(time.Now().UnixNano()%1000)/1000.0
}
