package redisstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/keelson"
)

var ErrClosed = errors.New("redis-streams transport is closed")

// Transport implements keelson.Transport over a single Redis stream.
// Put appends with XADD; each subscription tails the stream with XREAD and
// filters entries by key expression.
type Transport struct {
	cfg    Config
	client *redis.Client

	closeOnce sync.Once
	closed    atomic.Bool

	metrics *transportMetrics
}

type transportMetrics struct {
	put        atomic.Uint64
	delivered  atomic.Uint64
	filtered   atomic.Uint64
	malformed  atomic.Uint64
	putErrors  atomic.Uint64
	readErrors atomic.Uint64
}

var _ keelson.Transport = (*Transport)(nil)

// NewTransport dials Redis and verifies the connection with PING.
func NewTransport(cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	client := redis.NewClient(opts)
	if err := ping(client); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &Transport{
		cfg:     cfg,
		client:  client,
		metrics: &transportMetrics{},
	}, nil
}

// Put appends one entry {key, value} to the stream.
func (t *Transport) Put(ctx context.Context, key string, value []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}

	args := &redis.XAddArgs{
		Stream: t.cfg.Stream,
		ID:     "*",
		Values: map[string]any{
			fieldKey:   key,
			fieldValue: value,
		},
	}
	if t.cfg.MaxLenApprox > 0 {
		args.MaxLen = t.cfg.MaxLenApprox
		args.Approx = true
	}

	if err := t.client.XAdd(ctx, args).Err(); err != nil {
		t.metrics.putErrors.Add(1)
		return fmt.Errorf("redis-streams: xadd %s: %w", t.cfg.Stream, err)
	}
	t.metrics.put.Add(1)
	return nil
}

// Subscribe tails the stream from its current end. Entries appended after
// Subscribe returns are delivered to handler when their key matches keyExpr.
func (t *Transport) Subscribe(ctx context.Context, keyExpr string, handler func(keelson.Sample)) (keelson.Subscription, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}

	// Resolve "$" to a concrete ID up front so entries added between two
	// XREAD calls are not skipped.
	start, err := t.lastID(ctx)
	if err != nil {
		return nil, err
	}

	innerCtx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}

	workers := t.cfg.Concurrency
	workCh := make(chan keelson.Sample, workers*2)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for smp := range workCh {
				handler(smp)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer func() {
			close(workCh)
			wg.Done()
		}()
		t.pollerLoop(innerCtx, keyExpr, start, workCh)
	}()

	var once sync.Once
	return &subscription{
		close: func() error {
			once.Do(func() {
				cancel()
				wg.Wait()
			})
			return nil
		},
	}, nil
}

func (t *Transport) lastID(ctx context.Context) (string, error) {
	msgs, err := t.client.XRevRangeN(ctx, t.cfg.Stream, "+", "-", 1).Result()
	if err != nil {
		return "", fmt.Errorf("redis-streams: xrevrange %s: %w", t.cfg.Stream, err)
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

// pollerLoop reads new entries with exponential backoff on errors.
func (t *Transport) pollerLoop(ctx context.Context, keyExpr, lastID string, workCh chan<- keelson.Sample) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := t.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{t.cfg.Stream, lastID},
			Count:   int64(t.cfg.BatchSize),
			Block:   t.cfg.Block,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				backoff = 100 * time.Millisecond
				continue
			}
			if ctx.Err() != nil || t.closed.Load() {
				return
			}
			t.metrics.readErrors.Add(1)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		backoff = 100 * time.Millisecond

		for _, st := range streams {
			for _, msg := range st.Messages {
				lastID = msg.ID
				smp, ok := decodeSample(msg.Values)
				if !ok {
					t.metrics.malformed.Add(1)
					continue
				}
				if !keelson.KeyExprMatches(keyExpr, smp.Key) {
					t.metrics.filtered.Add(1)
					continue
				}
				select {
				case workCh <- smp:
					t.metrics.delivered.Add(1)
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// decodeSample extracts the key and value fields of a stream entry.
// go-redis returns field values as strings.
func decodeSample(values map[string]any) (keelson.Sample, bool) {
	key, ok := values[fieldKey].(string)
	if !ok || key == "" {
		return keelson.Sample{}, false
	}
	var value []byte
	switch v := values[fieldValue].(type) {
	case string:
		value = []byte(v)
	case []byte:
		value = append([]byte(nil), v...)
	default:
		return keelson.Sample{}, false
	}
	return keelson.Sample{Key: key, Value: value}, true
}

// Close shuts the Redis client. Open subscriptions stop on their next read.
func (t *Transport) Close(_ context.Context) error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		err = t.client.Close()
	})
	return err
}

// Stats is transport telemetry.
type Stats struct {
	Put        uint64
	Delivered  uint64
	Filtered   uint64
	Malformed  uint64
	PutErrors  uint64
	ReadErrors uint64
}

// Stats returns current transport metrics.
func (t *Transport) Stats() Stats {
	return Stats{
		Put:        t.metrics.put.Load(),
		Delivered:  t.metrics.delivered.Load(),
		Filtered:   t.metrics.filtered.Load(),
		Malformed:  t.metrics.malformed.Load(),
		PutErrors:  t.metrics.putErrors.Load(),
		ReadErrors: t.metrics.readErrors.Load(),
	}
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

func ping(c *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := c.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("redis-streams: ping: %w", err)
	}
	if res != "PONG" {
		return fmt.Errorf("redis-streams: unexpected ping response %q", res)
	}
	return nil
}
