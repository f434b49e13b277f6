package redisstream

import (
	"context"
	"fmt"

	"github.com/trickstertwo/keelson"
)

const TransportName = "redis-streams"

func init() {
	if err := keelson.RegisterTransport(TransportName, func(cfg map[string]any) (keelson.Transport, error) {
		return NewTransport(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("keelson: failed to register transport %q: %w", TransportName, err))
	}
}

// Use dials Redis through the transport registry and returns a Session
// bound to it. Closing the Session closes the Redis client.
func Use(cfg Config, sess keelson.SessionConfig, codec *keelson.Codec, mws ...keelson.Middleware) (*keelson.Session, error) {
	tr, err := keelson.NewTransport(TransportName, cfg.toMap())
	if err != nil {
		return nil, fmt.Errorf("redisstream.Use: %w", err)
	}
	s, err := keelson.NewSession(sess, codec, tr, mws...)
	if err != nil {
		_ = tr.Close(context.Background())
		return nil, fmt.Errorf("redisstream.Use: %w", err)
	}
	return s, nil
}
