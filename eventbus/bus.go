package eventbus

import (
	"context"
	"sync"

	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/logging"
	"google.golang.org/grpc/codes"
)

// Option configures the bus.
type Option func(*Bus)

// WithWorkerPool sets the number of worker goroutines. Default is 16. Set to 0
// to run every event on its own goroutine.
func WithWorkerPool(size int) Option {
	return func(b *Bus) {
		b.workers = size
	}
}

// New returns an in-memory bus. ctx, with a logger named "eventbus", is passed
// to subscribers.
func New(ctx context.Context, opts ...Option) *Bus {
	b := &Bus{
		subscriberCtx: logging.With(ctx, logging.FromContext(ctx).Named("eventbus")),
		workers:       16,
		jobs:          make(chan job, 256),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type job struct {
	ctx        context.Context
	topic      string
	subscriber Subscriber
	data       any
}

// Bus is an in-memory EventBus.
type Bus struct {
	subscribers   map[string][]Subscriber
	subscriberCtx context.Context

	mu sync.Mutex
	wg sync.WaitGroup

	jobs    chan job
	workers int
	started bool
	closed  bool
}

func (b *Bus) Subscribe(topic string, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers == nil {
		b.subscribers = make(map[string][]Subscriber)
	}
	b.subscribers[topic] = append(b.subscribers[topic], subscriber)
}

// Publish hands data to every subscriber of topic. Events published after
// Shutdown are dropped.
func (b *Bus) Publish(topic string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		logging.Warnw(b.subscriberCtx, "eventbus: dropping event after shutdown", "topic", topic)
		return
	}
	if !b.started {
		b.startWorkers()
		b.started = true
	}

	subs := b.subscribers[topic]
	if len(subs) == 0 {
		return
	}

	ctx := logging.With(b.subscriberCtx, logging.FromContext(b.subscriberCtx).Named(topic))
	for _, s := range subs {
		b.wg.Add(1)
		j := job{ctx: ctx, topic: topic, subscriber: s, data: data}
		if b.workers == 0 {
			go b.execute(j)
		} else {
			b.jobs <- j
		}
	}
}

func (b *Bus) startWorkers() {
	for range b.workers {
		go func() {
			for j := range b.jobs {
				b.execute(j)
			}
		}()
	}
}

func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.jobs)
	}
	b.mu.Unlock()
	return b.Wait(ctx)
}

func (b *Bus) Wait(ctx context.Context) error {
	c := make(chan struct{})
	go func() {
		defer close(c)
		b.wg.Wait()
	}()
	select {
	case <-c:
		return nil
	case <-ctx.Done():
		return errors.NewC("eventbus: timeout waiting for subscribers to finish", codes.DeadlineExceeded)
	}
}

func (b *Bus) execute(j job) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.NewC(r, codes.Internal)
			logging.Errorw(j.ctx, "eventbus: recovered from panic",
				"error", r, "error.stack_trace", err.MinimalStack(5))
		}
		b.wg.Done()
	}()
	if err := j.subscriber(j.ctx, j.data); err != nil {
		logging.Errorw(j.ctx, "eventbus: subscriber error", "error", err, "topic", j.topic)
	}
}
