package memory

import (
	"context"
	"fmt"

	"github.com/trickstertwo/keelson"
)

// Use builds a keelson Session over a fresh in-memory transport created
// through the transport registry.
//
// Example:
//
//	sess, err := memory.Use(memory.Config{BufferSize: 4096},
//	    keelson.SessionConfig{Realm: "rise", EntityID: "boatswain", SourceID: "sim/0"},
//	    codec,
//	    keelson.TimeoutMiddleware(time.Second),
//	)
func Use(cfg Config, sess keelson.SessionConfig, codec *keelson.Codec, mws ...keelson.Middleware) (*keelson.Session, error) {
	tr, err := keelson.NewTransport(TransportName, cfg.toMap())
	if err != nil {
		return nil, fmt.Errorf("memory.Use: %w", err)
	}
	s, err := keelson.NewSession(sess, codec, tr, mws...)
	if err != nil {
		_ = tr.Close(context.Background())
		return nil, fmt.Errorf("memory.Use: %w", err)
	}
	return s, nil
}
