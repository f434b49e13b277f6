package keelson

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xlog"
	"google.golang.org/protobuf/proto"
)

// Handler processes one received envelope. A returned error is reported to
// observers; samples are not redelivered.
type Handler func(ctx context.Context, rx *Received) error

// Middleware composes processing concerns around a Handler.
type Middleware func(next Handler) Handler

// Received is an uncovered envelope delivered to a Handler.
type Received struct {
	Key      PubSubKey
	Envelope Envelope
	Entry    TagEntry
	// Data is the raw envelope as it arrived, for re-decoding with the
	// codec's Uncover* methods.
	Data       []byte
	ReceivedAt time.Time
}

// Latency is the time between enclosing and receipt. Clock skew between
// producer and consumer can make it negative.
func (rx *Received) Latency() time.Duration {
	return rx.ReceivedAt.Sub(rx.Envelope.EnclosedAt())
}

// SessionConfig identifies the publishing side of a session.
type SessionConfig struct {
	Realm    string
	EntityID string
	SourceID string
}

// Validate checks that every key chunk is set and that realm and entity id
// stay single chunks.
func (c SessionConfig) Validate() error {
	if c.Realm == "" || c.EntityID == "" || c.SourceID == "" {
		return fmt.Errorf("keelson: session: realm, entity_id and source_id are required")
	}
	if strings.Contains(c.Realm, "/") || strings.Contains(c.EntityID, "/") {
		return fmt.Errorf("keelson: session: realm and entity_id must not contain '/'")
	}
	return nil
}

// Session publishes and consumes enveloped payloads over a Transport. The
// subject part of every key is the envelope tag.
type Session struct {
	cfg         SessionConfig
	codec       *Codec
	transport   Transport
	middlewares []Middleware

	subsMu    sync.Mutex
	subs      map[*sessionSub]struct{}
	metrics   sessionMetrics
	closed    atomic.Bool
	closeOnce sync.Once
}

type sessionMetrics struct {
	published     atomic.Uint64
	putErrors     atomic.Uint64
	consumed      atomic.Uint64
	dropped       atomic.Uint64
	handlerErrors atomic.Uint64
}

// SessionStats is session telemetry.
type SessionStats struct {
	Published     uint64
	PutErrors     uint64
	Consumed      uint64
	Dropped       uint64
	HandlerErrors uint64
	Subscriptions int
}

// NewSession binds a codec and a transport. Middlewares wrap every
// subscription handler, inside panic recovery.
func NewSession(cfg SessionConfig, codec *Codec, tr Transport, mws ...Middleware) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if codec == nil {
		return nil, errors.New("keelson: session: codec must not be nil")
	}
	if tr == nil {
		return nil, errors.New("keelson: session: transport must not be nil")
	}
	return &Session{
		cfg:         cfg,
		codec:       codec,
		transport:   tr,
		middlewares: mws,
		subs:        make(map[*sessionSub]struct{}),
	}, nil
}

// Codec returns the session codec.
func (s *Session) Codec() *Codec { return s.codec }

// Key returns the key this session publishes subject under.
func (s *Session) Key(subject string) string {
	return ConstructPubSubKey(s.cfg.Realm, s.cfg.EntityID, subject, s.cfg.SourceID)
}

// Publish encloses already-encoded payload bytes under subject.
func (s *Session) Publish(ctx context.Context, subject string, payload []byte) error {
	return s.publish(ctx, subject, func() ([]byte, error) { return s.codec.Enclose(subject, payload) })
}

// PublishText encloses text under subject.
func (s *Session) PublishText(ctx context.Context, subject, text string) error {
	return s.publish(ctx, subject, func() ([]byte, error) { return s.codec.EncloseFromText(subject, text) })
}

// PublishJSON encloses a JSON document under subject.
func (s *Session) PublishJSON(ctx context.Context, subject string, doc []byte) error {
	return s.publish(ctx, subject, func() ([]byte, error) { return s.codec.EncloseFromJSON(subject, doc) })
}

// PublishProto encloses a protobuf message under subject.
func (s *Session) PublishProto(ctx context.Context, subject string, m proto.Message) error {
	return s.publish(ctx, subject, func() ([]byte, error) { return s.codec.EncloseProto(subject, m) })
}

func (s *Session) publish(ctx context.Context, subject string, enclose func() ([]byte, error)) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if err := validSubject(subject); err != nil {
		return err
	}
	data, err := enclose()
	if err != nil {
		return err
	}
	return s.put(ctx, subject, data)
}

func (s *Session) put(ctx context.Context, subject string, data []byte) error {
	key := s.Key(subject)
	start := s.codec.clock.Now()
	err := s.transport.Put(ctx, key, data)
	if err != nil {
		s.metrics.putErrors.Add(1)
	} else {
		s.metrics.published.Add(1)
	}
	s.codec.notify(Event{
		Type:      EventPublished,
		Operation: OpPublish,
		Tag:       subject,
		Key:       key,
		Size:      len(data),
		Duration:  s.codec.clock.Now().Sub(start),
		Err:       err,
	})
	return err
}

func validSubject(subject string) error {
	if subject == "" || strings.Contains(subject, "/") {
		return ErrInvalidSubject
	}
	return nil
}

// Subscribe delivers envelopes on keys matching keyExpr to h. Samples with
// malformed keys or envelopes, unknown tags, or a tag that disagrees with
// the key's subject are dropped and reported as EventDropped.
func (s *Session) Subscribe(ctx context.Context, keyExpr string, h Handler) (Subscription, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	if keyExpr == "" || h == nil {
		return nil, errors.New("keelson: subscribe: key expression and handler are required")
	}

	wh := Chain(RecoveryMiddleware()(h), s.middlewares...)
	hctx := injectSession(ctx, s)

	sub, err := s.transport.Subscribe(ctx, keyExpr, func(smp Sample) {
		s.deliver(hctx, smp, wh)
	})
	if err != nil {
		return nil, err
	}

	// Close flips closed before it snapshots subs, so a sub recorded here is
	// either in that snapshot or sees closed.
	ss := &sessionSub{s: s, inner: sub}
	s.subsMu.Lock()
	if s.closed.Load() {
		s.subsMu.Unlock()
		_ = sub.Close()
		return nil, ErrSessionClosed
	}
	s.subs[ss] = struct{}{}
	s.subsMu.Unlock()
	return ss, nil
}

// sessionSub detaches itself from the session on Close.
type sessionSub struct {
	s     *Session
	inner Subscription
	once  sync.Once
	err   error
}

func (ss *sessionSub) Close() error {
	ss.once.Do(func() {
		ss.s.subsMu.Lock()
		delete(ss.s.subs, ss)
		ss.s.subsMu.Unlock()
		ss.err = ss.inner.Close()
	})
	return ss.err
}

func (s *Session) deliver(ctx context.Context, smp Sample, h Handler) {
	key, err := ParsePubSubKey(smp.Key)
	if err != nil {
		s.drop(smp, "", err)
		return
	}
	u, err := s.codec.Uncover(smp.Value)
	if err != nil {
		s.drop(smp, key.Subject, err)
		return
	}
	if tag := u.Envelope.Tag(); tag != key.Subject {
		s.drop(smp, key.Subject, fmt.Errorf("keelson: envelope tag %q does not match subject %q", tag, key.Subject))
		return
	}

	rx := &Received{
		Key:        key,
		Envelope:   u.Envelope,
		Entry:      u.Entry,
		Data:       smp.Value,
		ReceivedAt: u.ReceivedAt,
	}

	start := s.codec.clock.Now()
	err = h(ctx, rx)
	s.metrics.consumed.Add(1)
	if err != nil {
		s.metrics.handlerErrors.Add(1)
	}
	s.codec.notify(Event{
		Type:      EventConsumed,
		Operation: OpConsume,
		Tag:       key.Subject,
		Key:       smp.Key,
		Size:      len(smp.Value),
		Duration:  s.codec.clock.Now().Sub(start),
		Err:       err,
	})
}

func (s *Session) drop(smp Sample, subject string, err error) {
	s.metrics.dropped.Add(1)
	s.codec.logger.With(xlog.Str("key", smp.Key)).Warn().Err(err).Msg("keelson: dropped sample")
	s.codec.notify(Event{
		Type:      EventDropped,
		Operation: OpConsume,
		Tag:       subject,
		Key:       smp.Key,
		Size:      len(smp.Value),
		Err:       err,
	})
}

// Stats returns current session metrics.
func (s *Session) Stats() SessionStats {
	s.subsMu.Lock()
	n := len(s.subs)
	s.subsMu.Unlock()
	return SessionStats{
		Published:     s.metrics.published.Load(),
		PutErrors:     s.metrics.putErrors.Load(),
		Consumed:      s.metrics.consumed.Load(),
		Dropped:       s.metrics.dropped.Load(),
		HandlerErrors: s.metrics.handlerErrors.Load(),
		Subscriptions: n,
	}
}

// Close closes every subscription opened through the session and then the
// transport. It is idempotent.
func (s *Session) Close(ctx context.Context) error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		s.subsMu.Lock()
		subs := make([]*sessionSub, 0, len(s.subs))
		for ss := range s.subs {
			subs = append(subs, ss)
		}
		s.subsMu.Unlock()

		for _, sub := range subs {
			if err := sub.Close(); err != nil && closeErr == nil {
				closeErr = err
			}
		}
		if err := s.transport.Close(ctx); err != nil {
			s.codec.logger.Error().Err(err).Msg("keelson: transport close failed")
			if closeErr == nil {
				closeErr = err
			}
		}
	})
	return closeErr
}
