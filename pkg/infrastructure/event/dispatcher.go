package event

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"storefront/pkg/domain/service"
)

var (
	ErrQueueFull        = errors.New("event queue is full")
	ErrDispatcherClosed = errors.New("event dispatcher is closed")
)

// Handler reacts to one dispatched event.
type Handler func(ctx context.Context, event service.Event) error

// AsyncDispatcher queues events and runs their handlers on a fixed pool of
// workers, so Dispatch never waits on handler work.
type AsyncDispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	all      []Handler

	queue   chan service.Event
	wg      sync.WaitGroup
	closed  bool
	timeout time.Duration
}

func NewAsyncDispatcher(workers, queueSize int, handlerTimeout time.Duration) *AsyncDispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 128
	}
	if handlerTimeout <= 0 {
		handlerTimeout = 30 * time.Second
	}
	d := &AsyncDispatcher{
		handlers: make(map[string][]Handler),
		queue:    make(chan service.Event, queueSize),
		timeout:  handlerTimeout,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work()
	}
	return d
}

// Subscribe registers handler for events of the given type.
func (d *AsyncDispatcher) Subscribe(eventType string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// SubscribeAll registers handler for every event.
func (d *AsyncDispatcher) SubscribeAll(handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.all = append(d.all, handler)
}

func (d *AsyncDispatcher) Dispatch(event service.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events and waits until queued ones are handled.
func (d *AsyncDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *AsyncDispatcher) work() {
	defer d.wg.Done()
	for event := range d.queue {
		d.handle(event)
	}
}

func (d *AsyncDispatcher) handle(event service.Event) {
	d.mu.RLock()
	handlers := make([]Handler, 0, len(d.handlers[event.Type()])+len(d.all))
	handlers = append(handlers, d.handlers[event.Type()]...)
	handlers = append(handlers, d.all...)
	d.mu.RUnlock()

	for _, handler := range handlers {
		d.run(handler, event)
	}
}

func (d *AsyncDispatcher) run(handler Handler, event service.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			log.WithFields(log.Fields{"event": event.Type(), "panic": p}).Error("event handler panicked")
		}
	}()
	if err := handler(ctx, event); err != nil {
		log.WithError(err).WithField("event", event.Type()).Error("event handler failed")
	}
}
