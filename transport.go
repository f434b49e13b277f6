package keelson

import (
	"context"
	"errors"
	"sync"
)

// Sample is one value observed on a key.
type Sample struct {
	Key   string
	Value []byte
}

// Subscription represents an active subscription that can be closed.
type Subscription interface {
	Close() error
}

// Transport is the Strategy interface for pub/sub backends. Values are
// opaque envelope bytes.
type Transport interface {
	// Put publishes value on key.
	Put(ctx context.Context, key string, value []byte) error
	// Subscribe delivers every sample whose key matches keyExpr until the
	// subscription is closed or ctx is done.
	Subscribe(ctx context.Context, keyExpr string, handler func(Sample)) (Subscription, error)
	// Close releases resources.
	Close(ctx context.Context) error
}

// TransportFactory constructs transports from a config blob.
type TransportFactory func(cfg map[string]any) (Transport, error)

var (
	transportRegistryMu sync.RWMutex
	transportRegistry   = map[string]TransportFactory{}
)

// RegisterTransport registers a backend adapter.
func RegisterTransport(name string, factory TransportFactory) error {
	if name == "" {
		return errors.New("transport name must not be empty")
	}
	if factory == nil {
		return errors.New("transport factory must not be nil")
	}
	transportRegistryMu.Lock()
	transportRegistry[name] = factory
	transportRegistryMu.Unlock()
	return nil
}

// NewTransport constructs a transport by name with config.
func NewTransport(name string, cfg map[string]any) (Transport, error) {
	transportRegistryMu.RLock()
	f, ok := transportRegistry[name]
	transportRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownTransport{name: name}
	}
	return f(cfg)
}
