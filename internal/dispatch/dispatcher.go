package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pm_terminal/internal/infra"

	"github.com/google/uuid"
)

// TraceKey is the Meta key carrying the per-request correlation id.
const TraceKey = "_trace_id"

const defaultQueueSize = 256

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithQueueSize bounds the queue. Submit blocks while it is full.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithKeyFunc sets how operations map to handler keys.
func WithKeyFunc(fn KeyFunc) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.keyFn = fn
		}
	}
}

// WithUnknownHandler replaces the fallback for unregistered operations.
func WithUnknownHandler(h Handler) Option {
	return func(d *Dispatcher) {
		if h != nil {
			d.unknown = h
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics records dispatch counts and latency.
func WithMetrics(m *infra.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

type subscription struct {
	id SubscriptionID
	fn Subscriber
}

// Dispatcher is a bounded FIFO queue drained by a single worker goroutine.
// Handlers run one at a time in submission order.
type Dispatcher struct {
	name      string
	queueSize int
	queue     chan *Request
	keyFn     KeyFunc
	unknown   Handler
	logger    *slog.Logger
	metrics   *infra.Metrics

	hmu      sync.RWMutex
	handlers map[string]Handler

	smu     sync.Mutex
	subs    []subscription
	nextSub SubscriptionID

	// gate serializes enqueueing with start and stop so nothing lands behind
	// a sentinel. It is a channel so waiters can give up on ctx.
	gate    chan struct{}
	running atomic.Bool
	done    chan struct{}
}

// New creates a stopped dispatcher. The worker starts on Start or the first Submit.
func New(name string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		name:      name,
		queueSize: defaultQueueSize,
		keyFn:     FirstWord,
		logger:    slog.Default(),
		handlers:  make(map[string]Handler),
		gate:      make(chan struct{}, 1),
	}
	d.unknown = d.handleUnknown
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan *Request, d.queueSize)
	d.logger = d.logger.With(slog.String("component", "dispatch"), slog.String("dispatcher", name))
	return d
}

// Name returns the dispatcher's name.
func (d *Dispatcher) Name() string { return d.name }

// RegisterHandler binds op to h, replacing any earlier handler.
func (d *Dispatcher) RegisterHandler(op string, h Handler) {
	key := d.keyFn(op)
	d.hmu.Lock()
	d.handlers[key] = h
	d.hmu.Unlock()
	d.logger.Debug("handler registered", slog.String("op", key))
}

// Handlers returns the registered handler keys, sorted.
func (d *Dispatcher) Handlers() []string {
	d.hmu.RLock()
	defer d.hmu.RUnlock()
	keys := make([]string, 0, len(d.handlers))
	for k := range d.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Subscribe registers fn to receive every Response.
func (d *Dispatcher) Subscribe(fn Subscriber) SubscriptionID {
	d.smu.Lock()
	defer d.smu.Unlock()
	d.nextSub++
	d.subs = append(d.subs, subscription{id: d.nextSub, fn: fn})
	return d.nextSub
}

// Unsubscribe removes a subscriber. Unknown ids are ignored.
func (d *Dispatcher) Unsubscribe(id SubscriptionID) {
	d.smu.Lock()
	defer d.smu.Unlock()
	for i, s := range d.subs {
		if s.id == id {
			d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
			return
		}
	}
}

// Start launches the worker. It is a no-op while the worker runs.
func (d *Dispatcher) Start() {
	d.gate <- struct{}{}
	defer d.release()
	_ = d.startLocked(context.Background())
}

func (d *Dispatcher) acquire(ctx context.Context) error {
	select {
	case d.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) release() { <-d.gate }

// startLocked must be called with the gate held.
func (d *Dispatcher) startLocked(ctx context.Context) error {
	if d.running.Load() {
		return nil
	}
	// A previous worker may still be draining up to its sentinel.
	if d.done != nil {
		select {
		case <-d.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	d.done = make(chan struct{})
	d.running.Store(true)
	go d.run(d.done)
	d.logger.Info("dispatcher started")
	return nil
}

// Stop enqueues a sentinel and waits until the worker has drained everything
// submitted before it. It returns ctx.Err() if ctx ends first. The worker
// keeps running when the sentinel could not be enqueued.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	if !d.running.Load() {
		d.release()
		return nil
	}
	select {
	case d.queue <- &Request{sentinel: true}:
	case <-ctx.Done():
		d.release()
		return ctx.Err()
	}
	d.running.Store(false)
	done := d.done
	d.release()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the worker is accepting work.
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

// QueueLen returns the number of queued requests.
func (d *Dispatcher) QueueLen() int {
	return len(d.queue)
}

// Submit enqueues an operation and returns its Future. It never fails:
// a blank operation or a ctx that ends while the queue is full yields an
// already-resolved failed Future.
func (d *Dispatcher) Submit(ctx context.Context, origin, operation string, params, meta map[string]any) *Future {
	meta = copyMeta(meta)
	if _, ok := meta[TraceKey]; !ok {
		meta[TraceKey] = uuid.NewString()
	}
	if params == nil {
		params = make(map[string]any)
	}

	if strings.TrimSpace(operation) == "" {
		d.metrics.RecordDispatch(d.name, false, 0)
		return resolvedFuture(Response{
			Origin:    origin,
			Operation: operation,
			Message:   "Empty command",
			Meta:      meta,
		})
	}

	req := &Request{
		Origin:    origin,
		Operation: operation,
		Parts:     strings.Fields(operation),
		Params:    params,
		Meta:      meta,
		ctx:       ctx,
		future:    newFuture(),
	}

	if err := d.enqueue(ctx, req); err != nil {
		req.future.resolve(Response{
			Origin:    origin,
			Operation: operation,
			Message:   fmt.Sprintf("Submit aborted: %v", err),
			Meta:      meta,
		})
		return req.future
	}
	d.logger.Debug("enqueued",
		slog.String("origin", origin),
		slog.String("op", operation),
		slog.Int("queue", len(d.queue)),
		slog.Any("trace", meta[TraceKey]))
	return req.future
}

// enqueue starts the worker if needed and queues req, all under the gate.
func (d *Dispatcher) enqueue(ctx context.Context, req *Request) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()
	if err := d.startLocked(ctx); err != nil {
		return err
	}
	select {
	case d.queue <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(done chan struct{}) {
	defer close(done)
	for req := range d.queue {
		if req.sentinel {
			return
		}
		resp := d.dispatch(req)

		if !req.future.resolve(resp) {
			d.logger.Debug("future already resolved or cancelled",
				slog.String("op", req.Operation), slog.Any("trace", req.Meta[TraceKey]))
		}
		d.publish(resp)
	}
}

func (d *Dispatcher) dispatch(req *Request) (resp Response) {
	start := time.Now()
	resp = Response{Origin: req.Origin, Operation: req.Operation, Meta: req.Meta}
	trace := req.Meta[TraceKey]

	d.hmu.RLock()
	h, ok := d.handlers[d.keyFn(req.Operation)]
	d.hmu.RUnlock()
	if !ok {
		h = d.unknown
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic",
				slog.String("op", req.Operation),
				slog.Any("trace", trace),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			resp.Success = false
			resp.Message = fmt.Sprintf("Handler error: %v", r)
		}
		d.metrics.RecordDispatch(d.name, resp.Success, time.Since(start))
	}()

	d.logger.Info("dispatching", slog.String("op", req.Operation), slog.String("origin", req.Origin), slog.Any("trace", trace))
	res, err := h(req.Context(), req)
	switch {
	case errors.Is(err, context.Canceled):
		d.logger.Warn("handler cancelled", slog.String("op", req.Operation), slog.Any("trace", trace))
		resp.Message = "Command cancelled"
	case err != nil:
		d.logger.Error("handler failed", slog.String("op", req.Operation), slog.Any("trace", trace), slog.Any("error", err))
		resp.Message = "Handler error: " + err.Error()
	case res == nil:
		d.logger.Error("handler returned invalid result", slog.String("op", req.Operation), slog.Any("trace", trace))
		resp.Message = "Handler returned invalid result"
	default:
		resp.Success = res.Success
		resp.Message = res.Message
		resp.Data = res.Data
		resp.Next = res.Next
		d.logger.Info("handled", slog.String("op", req.Operation), slog.Any("trace", trace), slog.Bool("success", res.Success))
	}
	return resp
}

func (d *Dispatcher) publish(resp Response) {
	d.smu.Lock()
	subs := make([]subscription, len(d.subs))
	copy(subs, d.subs)
	d.smu.Unlock()

	for _, s := range subs {
		d.notify(s, resp)
	}
}

func (d *Dispatcher) notify(s subscription, resp Response) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("subscriber panic", slog.Uint64("subscription", uint64(s.id)), slog.Any("panic", r))
		}
	}()
	s.fn(resp)
}

func (d *Dispatcher) handleUnknown(_ context.Context, req *Request) (*Result, error) {
	return Fail("Unknown command: " + req.Arg(0)), nil
}

func copyMeta(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	return out
}
