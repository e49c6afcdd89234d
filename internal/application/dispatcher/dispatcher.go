package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/garyjia/expense-approval/internal/domain/event"
)

// Dispatcher routes report events to registered handlers
type Dispatcher interface {
	// Subscribe registers a handler for an event type
	Subscribe(eventType event.Type, handler Handler)

	// SubscribeNamed registers a handler with a name for debugging
	SubscribeNamed(eventType event.Type, name string, handler Handler)

	// SubscribeAll registers one named handler for every event type
	SubscribeAll(name string, handler Handler)

	// Unsubscribe removes a handler by name
	Unsubscribe(eventType event.Type, name string)

	// Dispatch runs every handler of the event in registration order.
	// A failing handler does not stop the rest; failures are joined.
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync runs the handlers in the background, one event at a time per call.
	// Handlers outlive the caller's cancellation but keep its values.
	DispatchAsync(ctx context.Context, evt *event.Event)

	// ListHandlers returns registered handlers for an event type
	ListHandlers(eventType event.Type) []HandlerInfo

	// Close shuts down the dispatcher and waits for async handlers
	Close() error
}

// Handler processes a report event
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo describes a registered subscriber
type HandlerInfo struct {
	Name        string
	EventType   event.Type
	Handler     Handler
	Description string
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type eventDispatcher struct {
	// mu guards handlers and closed; async dispatch holds it while joining wg
	mu       sync.RWMutex
	handlers map[event.Type][]HandlerInfo
	closed   bool
	logger   Logger

	wg sync.WaitGroup
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers: make(map[event.Type][]HandlerInfo),
		logger:   nopLogger{},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Subscribe registers a handler for an event type with an auto-generated name
func (d *eventDispatcher) Subscribe(eventType event.Type, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.register(eventType, fmt.Sprintf("handler-%d", len(d.handlers[eventType])), handler)
}

// SubscribeNamed registers a handler with a specific name for debugging
func (d *eventDispatcher) SubscribeNamed(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.register(eventType, name, handler)
}

// SubscribeAll registers one named handler for every event type
func (d *eventDispatcher) SubscribeAll(name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, eventType := range event.All() {
		d.register(eventType, name, handler)
	}
}

// register must be called with d.mu held
func (d *eventDispatcher) register(eventType event.Type, name string, handler Handler) {
	d.handlers[eventType] = append(d.handlers[eventType], HandlerInfo{
		Name:      name,
		EventType: eventType,
		Handler:   handler,
	})
	d.logger.Info("Handler registered", "event_type", eventType, "handler_name", name)
}

// Unsubscribe removes a handler by name
func (d *eventDispatcher) Unsubscribe(eventType event.Type, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	kept := d.handlers[eventType][:0:0]
	for _, h := range d.handlers[eventType] {
		if h.Name != name {
			kept = append(kept, h)
		}
	}
	d.handlers[eventType] = kept

	d.logger.Info("Handler unregistered", "event_type", eventType, "handler_name", name)
}

// Dispatch runs every handler synchronously and joins their failures
func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	handlers, ok := d.snapshot(evt.Type, false)
	if !ok {
		return fmt.Errorf("dispatcher is closed")
	}
	return d.run(ctx, evt, handlers)
}

// DispatchAsync runs the handlers of one event sequentially on a background goroutine
func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	handlers, ok := d.snapshot(evt.Type, true)
	if !ok {
		d.logger.Error("Cannot dispatch async event, dispatcher is closed",
			"event_type", evt.Type,
			"event_id", evt.ID,
		)
		return
	}
	if len(handlers) == 0 {
		d.wg.Done()
		return
	}

	detached := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		_ = d.run(detached, evt, handlers)
	}()
}

func (d *eventDispatcher) run(ctx context.Context, evt *event.Event, handlers []HandlerInfo) error {
	var errs []error
	for _, info := range handlers {
		if err := d.safeExecute(ctx, evt, info); err != nil {
			d.logger.Error("Handler error",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"report_id", evt.ReportID,
				"handler_name", info.Name,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("handler %s failed: %w", info.Name, err))
		}
	}
	return errors.Join(errs...)
}

// ListHandlers returns registered handlers for an event type without their functions
func (d *eventDispatcher) ListHandlers(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]HandlerInfo, 0, len(d.handlers[eventType]))
	for _, h := range d.handlers[eventType] {
		result = append(result, HandlerInfo{
			Name:        h.Name,
			EventType:   h.EventType,
			Description: h.Description,
		})
	}
	return result
}

// Close refuses further events and waits for in-flight async handlers
func (d *eventDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already closed")
	}
	d.closed = true
	d.mu.Unlock()

	d.logger.Info("Closing dispatcher, waiting for async handlers")
	d.wg.Wait()
	d.logger.Info("Dispatcher closed")

	return nil
}

// snapshot copies the handlers of eventType. With track set it also registers
// one in-flight dispatch that the caller must finish with wg.Done.
func (d *eventDispatcher) snapshot(eventType event.Type, track bool) ([]HandlerInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, false
	}
	if track {
		d.wg.Add(1)
	}
	return append([]HandlerInfo(nil), d.handlers[eventType]...), true
}

// safeExecute runs a handler with panic recovery
func (d *eventDispatcher) safeExecute(ctx context.Context, evt *event.Event, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			d.logger.Error("Handler panic recovered",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"handler_name", info.Name,
				"panic", r,
			)
		}
	}()

	return info.Handler(ctx, evt)
}
