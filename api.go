package keelson

import (
	"context"
	"time"

	"google.golang.org/protobuf/proto"
)

// HealthChecker provides health status for liveness and readiness probes.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// HealthStatus reports session health.
type HealthStatus struct {
	Status    string // healthy | degraded | unhealthy
	Codec     Metrics
	Session   SessionStats
	Timestamp time.Time
	Message   string
}

// API is the complete Session surface.
type API interface {
	Key(subject string) string
	Publish(ctx context.Context, subject string, payload []byte) error
	PublishText(ctx context.Context, subject, text string) error
	PublishJSON(ctx context.Context, subject string, doc []byte) error
	PublishProto(ctx context.Context, subject string, m proto.Message) error
	PublishBatch(ctx context.Context, items ...PublishItem) error
	Subscribe(ctx context.Context, keyExpr string, h Handler) (Subscription, error)
	Stats() SessionStats
	Health(ctx context.Context) HealthStatus
	Close(ctx context.Context) error
}

var (
	_ API           = (*Session)(nil)
	_ HealthChecker = (*Session)(nil)
)

// Health is unhealthy once the session or its codec is closed, and degraded
// when more than 5% of handled envelopes were dropped or failed.
func (s *Session) Health(_ context.Context) HealthStatus {
	now := s.codec.clock.Now()
	if s.closed.Load() {
		return HealthStatus{Status: "unhealthy", Timestamp: now, Message: "session is closed"}
	}
	if s.codec.closed.Load() {
		return HealthStatus{Status: "unhealthy", Timestamp: now, Message: "codec is closed"}
	}

	stats := s.Stats()
	status := "healthy"
	if seen := stats.Consumed + stats.Dropped; seen > 0 {
		if bad := stats.Dropped + stats.HandlerErrors; float64(bad)/float64(seen) > 0.05 {
			status = "degraded"
		}
	}
	return HealthStatus{
		Status:    status,
		Codec:     s.codec.GetMetrics(),
		Session:   stats,
		Timestamp: now,
	}
}
