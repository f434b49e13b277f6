package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/keelson"
)

const TransportName = "memory"

func init() {
	if err := keelson.RegisterTransport(TransportName, func(cfg map[string]any) (keelson.Transport, error) {
		return NewTransport(ConfigFromMap(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("keelson/memory: failed to register transport: %w", err))
	}
}

var ErrClosed = errors.New("memory transport is closed")

// Config controls memory transport behavior.
type Config struct {
	// BufferSize is the per-subscription queue size (default: 1024).
	BufferSize int
	// Concurrency is the number of handler goroutines per subscription
	// (default: 1, which preserves publish order).
	Concurrency int
	// DropWhenFull drops samples for a subscription whose queue is full
	// instead of blocking Put (default: false).
	DropWhenFull bool
}

func ConfigFromMap(cfg map[string]any) Config {
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}
	getBool := func(k string, d bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return d
	}

	return Config{
		BufferSize:   max(1, getInt("buffer_size", 1024)),
		Concurrency:  max(1, getInt("concurrency", 1)),
		DropWhenFull: getBool("drop_when_full", false),
	}
}

func (c Config) toMap() map[string]any {
	return map[string]any{
		"buffer_size":    c.BufferSize,
		"concurrency":    c.Concurrency,
		"drop_when_full": c.DropWhenFull,
	}
}

// Transport implements keelson.Transport with in-process fan-out. Every
// subscription whose key expression matches receives every Put.
type Transport struct {
	cfg Config

	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64

	closed  atomic.Bool
	metrics *transportMetrics
}

type transportMetrics struct {
	put       atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

var _ keelson.Transport = (*Transport)(nil)

// NewTransport creates a new in-memory transport.
func NewTransport(cfg Config) *Transport {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1024
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Transport{
		cfg:     cfg,
		subs:    make(map[uint64]*subscriber),
		metrics: &transportMetrics{},
	}
}

// Put enqueues value for every matching subscription. Samples with no
// matching subscription are discarded.
func (t *Transport) Put(ctx context.Context, key string, value []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}

	t.mu.RLock()
	targets := make([]*subscriber, 0, len(t.subs))
	for _, s := range t.subs {
		if keelson.KeyExprMatches(s.expr, key) {
			targets = append(targets, s)
		}
	}
	t.mu.RUnlock()

	t.metrics.put.Add(1)
	if len(targets) == 0 {
		return nil
	}

	v := make([]byte, len(value))
	copy(v, value)
	smp := keelson.Sample{Key: key, Value: v}

	for _, s := range targets {
		select {
		case s.queue <- smp:
			continue
		default:
		}
		if t.cfg.DropWhenFull {
			t.metrics.dropped.Add(1)
			continue
		}
		select {
		case s.queue <- smp:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe starts Concurrency workers delivering matching samples.
func (t *Transport) Subscribe(ctx context.Context, keyExpr string, handler func(keelson.Sample)) (keelson.Subscription, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}

	innerCtx, cancel := context.WithCancel(ctx)
	s := &subscriber{
		expr:  keyExpr,
		queue: make(chan keelson.Sample, t.cfg.BufferSize),
		done:  innerCtx.Done(),
	}

	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.subs[id] = s
	t.mu.Unlock()

	wg := &sync.WaitGroup{}
	for i := 0; i < t.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.worker(innerCtx, s, handler)
		}()
	}

	var once sync.Once
	return &subscription{
		close: func() error {
			once.Do(func() {
				t.mu.Lock()
				delete(t.subs, id)
				t.mu.Unlock()
				cancel()
				wg.Wait()
			})
			return nil
		},
	}, nil
}

func (t *Transport) worker(ctx context.Context, s *subscriber, handler func(keelson.Sample)) {
	for {
		select {
		case <-ctx.Done():
			return
		case smp := <-s.queue:
			t.metrics.delivered.Add(1)
			handler(smp)
		}
	}
}

// Close rejects further Put and Subscribe calls and detaches all
// subscriptions. Subscription workers stop when their context ends or
// their subscription is closed.
func (t *Transport) Close(_ context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	t.subs = make(map[uint64]*subscriber)
	t.mu.Unlock()
	return nil
}

// Stats is transport telemetry.
type Stats struct {
	Put           uint64
	Delivered     uint64
	Dropped       uint64
	Subscriptions int
}

// Stats returns current transport metrics.
func (t *Transport) Stats() Stats {
	t.mu.RLock()
	n := len(t.subs)
	t.mu.RUnlock()
	return Stats{
		Put:           t.metrics.put.Load(),
		Delivered:     t.metrics.delivered.Load(),
		Dropped:       t.metrics.dropped.Load(),
		Subscriptions: n,
	}
}

type subscriber struct {
	expr  string
	queue chan keelson.Sample
	done  <-chan struct{}
}

type subscription struct {
	close func() error
}

func (s *subscription) Close() error {
	if s.close != nil {
		return s.close()
	}
	return nil
}
