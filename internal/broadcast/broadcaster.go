package broadcast

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/drblury/xrayflow/internal/runtime/logging"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = stderrors.New("broadcast: closed")

// Defaults used when Options leaves a size unset.
const (
	DefaultQueueSize        = 1024
	DefaultSubscriberBuffer = 64
)

// Options configures a Broadcaster.
type Options struct {
	QueueSize        int
	SubscriberBuffer int
	// Sink, when set, receives every dispatched event as well.
	Sink    Sink
	Metrics *Metrics
	Logger  logging.ServiceLogger
	Now     func() time.Time
}

// Subscription is one live stream. Events is closed once the subscription
// ends, either because its context finished or the broadcaster closed.
type Subscription struct {
	ID string
	ch chan Event
	// joined is the sequence of the last event emitted before Subscribe.
	joined uint64
}

// Events returns the receive side of the subscription.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Broadcaster delivers events to the subscribers connected when the event
// is emitted. Slow subscribers lose events instead of stalling others.
type Broadcaster struct {
	queue       chan Event
	subscribe   chan *Subscription
	unsubscribe chan *Subscription
	done        chan struct{}
	stopped     chan struct{}
	closeOnce   sync.Once

	seq        atomic.Uint64
	count      atomic.Int64
	bufferSize int
	sink       Sink
	metrics    *Metrics
	log        logging.ServiceLogger
	now        func() time.Time
}

// New starts a broadcaster. Close stops its dispatcher.
func New(opts Options) *Broadcaster {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	b := &Broadcaster{
		queue:       make(chan Event, opts.QueueSize),
		subscribe:   make(chan *Subscription),
		unsubscribe: make(chan *Subscription),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		bufferSize:  opts.SubscriberBuffer,
		sink:        opts.Sink,
		metrics:     opts.Metrics,
		log:         opts.Logger,
		now:         opts.Now,
	}
	go b.run()
	return b
}

// Emit queues a process step event for deviceID.
func (b *Broadcaster) Emit(deviceID string, step Step, data any) {
	b.EmitEvent(Event{Kind: KindProcessStep, DeviceID: deviceID, Step: step, Data: data})
}

// EmitEvent queues ev without blocking. A zero Timestamp is stamped with
// the current time and a missing Kind defaults to processStep.
func (b *Broadcaster) EmitEvent(ev Event) {
	if ev.Kind == "" {
		ev.Kind = KindProcessStep
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = nowMillis(b.now)
	}
	ev.seq = b.seq.Add(1)

	select {
	case <-b.done:
		b.metrics.drop(DropClosed)
		return
	default:
	}

	select {
	case b.queue <- ev:
	default:
		b.metrics.drop(DropQueueFull)
		b.log.Debug("Broadcast queue full, event dropped", logging.LogFields{
			"kind":      string(ev.Kind),
			"device_id": ev.DeviceID,
			"step":      string(ev.Step),
		})
	}
}

// Subscribe registers a new stream. A non-positive buffer uses the
// configured subscriber buffer. The subscription ends when ctx is done.
func (b *Broadcaster) Subscribe(ctx context.Context, buffer int) (*Subscription, error) {
	if buffer <= 0 {
		buffer = b.bufferSize
	}
	sub := &Subscription{ID: uuid.NewString(), ch: make(chan Event, buffer), joined: b.seq.Load()}

	select {
	case b.subscribe <- sub:
	case <-b.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	go func() {
		select {
		case <-ctx.Done():
			select {
			case b.unsubscribe <- sub:
			case <-b.stopped:
			}
		case <-b.stopped:
		}
	}()
	return sub, nil
}

// Subscribers reports the number of connected subscribers.
func (b *Broadcaster) Subscribers() int {
	return int(b.count.Load())
}

// Close stops the dispatcher after delivering what is already queued and
// closes every subscription. It is safe to call more than once.
func (b *Broadcaster) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	<-b.stopped
	return nil
}

func (b *Broadcaster) run() {
	defer close(b.stopped)

	subs := make(map[string]*Subscription)
	setCount := func() {
		b.count.Store(int64(len(subs)))
		b.metrics.setSubscribers(len(subs))
	}

	for {
		select {
		case sub := <-b.subscribe:
			subs[sub.ID] = sub
			setCount()
		case sub := <-b.unsubscribe:
			if _, ok := subs[sub.ID]; ok {
				delete(subs, sub.ID)
				close(sub.ch)
				setCount()
			}
		case ev := <-b.queue:
			b.dispatch(subs, ev)
		case <-b.done:
		drain:
			for {
				select {
				case ev := <-b.queue:
					b.dispatch(subs, ev)
				default:
					break drain
				}
			}
			for id, sub := range subs {
				delete(subs, id)
				close(sub.ch)
			}
			setCount()
			return
		}
	}
}

func (b *Broadcaster) dispatch(subs map[string]*Subscription, ev Event) {
	for _, sub := range subs {
		if ev.seq <= sub.joined {
			continue
		}
		select {
		case sub.ch <- ev:
			b.metrics.deliver()
		default:
			b.metrics.drop(DropSlowSubscriber)
		}
	}

	if b.sink == nil {
		return
	}
	if err := b.sink.Publish(ev); err != nil {
		b.metrics.drop(DropSinkFailed)
		b.log.Error("Broadcast sink failed", err, logging.LogFields{
			"kind":      string(ev.Kind),
			"device_id": ev.DeviceID,
		})
	}
}
