package keelson

import (
	"github.com/trickstertwo/xlog"
)

// Observer receives codec and session lifecycle events. Implementations
// should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver emits events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("op", string(e.Operation)),
		xlog.Str("tag", e.Tag),
	)
	if e.Key != "" {
		ev = ev.With(xlog.Str("key", e.Key))
	}
	switch e.Type {
	case EventError, EventDropped:
		ev.Warn().Err(e.Err).Msg("keelson event")
	default:
		if e.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", e.Duration))
		}
		ev.Debug().Msg("keelson event")
	}
}
