package keelson

import (
	"context"

	"github.com/trickstertwo/xlog"
)

// ctxKey is the base for all context keys in keelson (prevents collisions).
type ctxKey string

const (
	codecCtxKey   ctxKey = "keelson:codec"
	loggerCtxKey  ctxKey = "keelson:logger"
	sessionCtxKey ctxKey = "keelson:session"
)

// injectSession attaches the session, its codec and logger for handlers.
func injectSession(ctx context.Context, s *Session) context.Context {
	ctx = context.WithValue(ctx, sessionCtxKey, s)
	ctx = context.WithValue(ctx, codecCtxKey, s.codec)
	if lg := s.codec.Logger(); lg != nil {
		ctx = context.WithValue(ctx, loggerCtxKey, lg)
	}
	return ctx
}

// CodecFromContext returns the codec of the session delivering to a handler.
func CodecFromContext(ctx context.Context) (*Codec, bool) {
	c, ok := ctx.Value(codecCtxKey).(*Codec)
	return c, ok && c != nil
}

// LoggerFromContext returns the logger injected for handlers.
func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	l, ok := ctx.Value(loggerCtxKey).(*xlog.Logger)
	return l, ok && l != nil
}

// SessionFromContext returns the session delivering to a handler, so it can
// publish replies.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionCtxKey).(*Session)
	return s, ok && s != nil
}
