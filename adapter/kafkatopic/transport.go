package kafkatopic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/trickstertwo/keelson"
)

var ErrClosed = errors.New("kafka transport is closed")

// Transport implements keelson.Transport over a single Kafka topic.
// Put writes the sample key as the message key; each subscription reads
// every partition from its end offset at subscribe time and filters
// messages by key expression.
type Transport struct {
	cfg    Config
	dialer *kafka.Dialer
	writer *kafka.Writer

	mu   sync.Mutex
	subs map[*subscription]struct{}

	closeOnce sync.Once
	closed    atomic.Bool

	metrics *transportMetrics
}

type transportMetrics struct {
	put        atomic.Uint64
	delivered  atomic.Uint64
	filtered   atomic.Uint64
	putErrors  atomic.Uint64
	readErrors atomic.Uint64
}

var _ keelson.Transport = (*Transport)(nil)

// NewTransport validates cfg and verifies the first reachable broker.
// An empty ClientID becomes "keelson-" plus a random UUID.
func NewTransport(cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "keelson-" + uuid.NewString()
	}

	var tlsCfg *tls.Config
	if cfg.TLS {
		tlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: cfg.TLSServerName,
		}
	}

	dialer := &kafka.Dialer{
		ClientID:  cfg.ClientID,
		Timeout:   cfg.DialTimeout,
		DualStack: true,
		TLS:       tlsCfg,
	}
	if err := ping(dialer, cfg.Brokers, cfg.DialTimeout); err != nil {
		return nil, err
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		MaxAttempts:  cfg.MaxAttempts,
		BatchTimeout: cfg.BatchTimeout,
		Transport: &kafka.Transport{
			ClientID: cfg.ClientID,
			TLS:      tlsCfg,
		},
	}

	return &Transport{
		cfg:     cfg,
		dialer:  dialer,
		writer:  w,
		subs:    make(map[*subscription]struct{}),
		metrics: &transportMetrics{},
	}, nil
}

// ClientID is the client identifier sent to the brokers.
func (t *Transport) ClientID() string { return t.cfg.ClientID }

// Put writes one message {key, value} and waits for all in-sync replicas.
func (t *Transport) Put(ctx context.Context, key string, value []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}

	msg := kafka.Message{Key: []byte(key), Value: value}
	if err := t.writer.WriteMessages(ctx, msg); err != nil {
		t.metrics.putErrors.Add(1)
		return fmt.Errorf("kafka: write %s: %w", t.cfg.Topic, err)
	}
	t.metrics.put.Add(1)
	return nil
}

// Subscribe reads every partition of the topic from the offset it had when
// Subscribe was called. Messages written after Subscribe returns are
// delivered to handler when their key matches keyExpr.
func (t *Transport) Subscribe(ctx context.Context, keyExpr string, handler func(keelson.Sample)) (keelson.Subscription, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}

	offsets, err := t.endOffsets(ctx)
	if err != nil {
		return nil, err
	}

	readers := make([]*kafka.Reader, 0, len(offsets))
	closeReaders := func() {
		for _, r := range readers {
			_ = r.Close()
		}
	}
	for partition, offset := range offsets {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:   t.cfg.Brokers,
			Topic:     t.cfg.Topic,
			Partition: partition,
			Dialer:    t.dialer,
			MinBytes:  t.cfg.MinBytes,
			MaxBytes:  t.cfg.MaxBytes,
			MaxWait:   t.cfg.MaxWait,
		})
		readers = append(readers, r)
		if err := r.SetOffset(offset); err != nil {
			closeReaders()
			return nil, fmt.Errorf("kafka: set offset %s/%d: %w", t.cfg.Topic, partition, err)
		}
	}

	innerCtx, cancel := context.WithCancel(ctx)
	workers := t.cfg.Concurrency
	workCh := make(chan keelson.Sample, workers*2)

	wg := &sync.WaitGroup{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for smp := range workCh {
				handler(smp)
			}
		}()
	}

	readWG := &sync.WaitGroup{}
	for _, r := range readers {
		readWG.Add(1)
		go func() {
			defer readWG.Done()
			t.readLoop(innerCtx, r, keyExpr, workCh)
		}()
	}
	go func() {
		readWG.Wait()
		close(workCh)
	}()

	sub := &subscription{}
	sub.close = func() error {
		var err error
		sub.once.Do(func() {
			t.mu.Lock()
			delete(t.subs, sub)
			t.mu.Unlock()
			cancel()
			readWG.Wait()
			for _, r := range readers {
				if cerr := r.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}
			wg.Wait()
		})
		return err
	}

	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()
	return sub, nil
}

// endOffsets returns the next offset of every partition of the topic.
func (t *Transport) endOffsets(ctx context.Context) (map[int]int64, error) {
	var (
		partitions []kafka.Partition
		broker     string
		err        error
	)
	for _, broker = range t.cfg.Brokers {
		partitions, err = t.dialer.LookupPartitions(ctx, "tcp", broker, t.cfg.Topic)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("kafka: lookup partitions %s: %w", t.cfg.Topic, err)
	}
	if len(partitions) == 0 {
		return nil, fmt.Errorf("kafka: topic %s has no partitions", t.cfg.Topic)
	}

	offsets := make(map[int]int64, len(partitions))
	for _, p := range partitions {
		conn, err := t.dialer.DialLeader(ctx, "tcp", broker, t.cfg.Topic, p.ID)
		if err != nil {
			return nil, fmt.Errorf("kafka: dial leader %s/%d: %w", t.cfg.Topic, p.ID, err)
		}
		last, err := conn.ReadLastOffset()
		_ = conn.Close()
		if err != nil {
			return nil, fmt.Errorf("kafka: last offset %s/%d: %w", t.cfg.Topic, p.ID, err)
		}
		offsets[p.ID] = last
	}
	return offsets, nil
}

// readLoop reads one partition with exponential backoff on errors.
func (t *Transport) readLoop(ctx context.Context, r *kafka.Reader, keyExpr string, workCh chan<- keelson.Sample) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
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

		key := string(msg.Key)
		if !keelson.KeyExprMatches(keyExpr, key) {
			t.metrics.filtered.Add(1)
			continue
		}
		select {
		case workCh <- keelson.Sample{Key: key, Value: msg.Value}:
			t.metrics.delivered.Add(1)
		case <-ctx.Done():
			return
		}
	}
}

// Close closes every open subscription and then the writer.
func (t *Transport) Close(_ context.Context) error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)

		t.mu.Lock()
		subs := make([]*subscription, 0, len(t.subs))
		for s := range t.subs {
			subs = append(subs, s)
		}
		t.mu.Unlock()

		for _, s := range subs {
			_ = s.Close()
		}
		err = t.writer.Close()
	})
	return err
}

// Stats is transport telemetry.
type Stats struct {
	Put           uint64
	Delivered     uint64
	Filtered      uint64
	PutErrors     uint64
	ReadErrors    uint64
	Subscriptions int
}

// Stats returns current transport metrics.
func (t *Transport) Stats() Stats {
	t.mu.Lock()
	n := len(t.subs)
	t.mu.Unlock()
	return Stats{
		Put:           t.metrics.put.Load(),
		Delivered:     t.metrics.delivered.Load(),
		Filtered:      t.metrics.filtered.Load(),
		PutErrors:     t.metrics.putErrors.Load(),
		ReadErrors:    t.metrics.readErrors.Load(),
		Subscriptions: n,
	}
}

type subscription struct {
	once  sync.Once
	close func() error
}

func (s *subscription) Close() error {
	if s.close != nil {
		return s.close()
	}
	return nil
}

func ping(d *kafka.Dialer, brokers []string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var err error
	for _, b := range brokers {
		var conn *kafka.Conn
		conn, err = d.DialContext(ctx, "tcp", b)
		if err == nil {
			_ = conn.Close()
			return nil
		}
	}
	return fmt.Errorf("kafka: no reachable broker: %w", err)
}
