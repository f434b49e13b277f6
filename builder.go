package keelson

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// CodecBuilder constructs Codec instances (Builder pattern).
type CodecBuilder struct {
	registry *Registry
	lazy     *LazyRegistry

	observers   []Observer
	logger      *xlog.Logger
	clock       Clock
	poolWorkers int
	poolBuffer  int
}

// NewCodecBuilder returns a builder with default observer pool sizing.
func NewCodecBuilder() *CodecBuilder {
	return &CodecBuilder{
		poolWorkers: 2,
		poolBuffer:  1024,
	}
}

// WithRegistry sets a ready registry. It wins over WithLazyRegistry.
func (cb *CodecBuilder) WithRegistry(r *Registry) *CodecBuilder {
	cb.registry = r
	return cb
}

// WithLazyRegistry defers registry loading to Build.
func (cb *CodecBuilder) WithLazyRegistry(l *LazyRegistry) *CodecBuilder {
	cb.lazy = l
	return cb
}

func (cb *CodecBuilder) WithObserver(obs ...Observer) *CodecBuilder {
	for _, o := range obs {
		if o != nil {
			cb.observers = append(cb.observers, o)
		}
	}
	return cb
}

func (cb *CodecBuilder) WithLogger(l *xlog.Logger) *CodecBuilder {
	cb.logger = l
	return cb
}

func (cb *CodecBuilder) WithClock(c Clock) *CodecBuilder {
	cb.clock = c
	return cb
}

// WithObserverPool sizes the async observer dispatch pool.
func (cb *CodecBuilder) WithObserverPool(workers, bufferSize int) *CodecBuilder {
	if workers > 0 {
		cb.poolWorkers = workers
	}
	if bufferSize > 0 {
		cb.poolBuffer = bufferSize
	}
	return cb
}

func (cb *CodecBuilder) Build() (*Codec, error) {
	reg := cb.registry
	if reg == nil && cb.lazy != nil {
		var err error
		reg, err = cb.lazy.Get()
		if err != nil {
			return nil, err
		}
	}
	if reg == nil {
		return nil, ErrNoRegistryConfigured
	}

	var clk Clock
	if cb.clock != nil {
		clk = cb.clock
	} else {
		clk = xclock.Default()
	}
	lg := cb.logger
	if lg == nil {
		lg = xlog.Default()
	}

	c := &Codec{
		registry:     reg,
		clock:        clk,
		logger:       lg,
		observerPool: NewObserverPool(context.Background(), cb.poolWorkers, cb.poolBuffer, lg),
	}

	hasLoggingObserver := false
	for _, o := range cb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver && lg != nil {
		c.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range cb.observers {
		c.AddObserver(o)
	}

	return c, nil
}

// New constructs a Codec via the builder and returns a close func for
// convenience.
func New(init func(b *CodecBuilder)) (*Codec, func() error, error) {
	b := NewCodecBuilder()
	if init != nil {
		init(b)
	}
	c, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	return c, c.Close, nil
}
