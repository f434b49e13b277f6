package redisstream

import (
	"fmt"
	"time"
)

// Config for the Redis Streams transport.
type Config struct {
	// Connection
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// Stream every sample is appended to. Subscribers filter by key
	// expression client-side.
	Stream string
	// BatchSize is the XREAD COUNT.
	BatchSize int
	// Block is the XREAD BLOCK duration.
	Block time.Duration
	// Concurrency is the number of handler goroutines per subscription.
	// Values above 1 give up per-subscription ordering.
	Concurrency int
	// MaxLenApprox trims the stream with XADD MAXLEN ~ when > 0.
	MaxLenApprox int64
}

// Defaults returns a Config with local-development defaults.
func Defaults() Config {
	return Config{
		Addr:        "127.0.0.1:6379",
		Stream:      "keelson",
		BatchSize:   128,
		Block:       5 * time.Second,
		Concurrency: 1,
	}
}

// Validate checks Config before dialing.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.Stream == "" {
		return fmt.Errorf("config: stream required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.Block <= 0 {
		return fmt.Errorf("config: block must be > 0, got %v", c.Block)
	}
	if c.MaxLenApprox < 0 {
		return fmt.Errorf("config: max_len_approx must be >= 0, got %d", c.MaxLenApprox)
	}
	return nil
}

func (c Config) toMap() map[string]any {
	return map[string]any{
		"addr":            c.Addr,
		"username":        c.Username,
		"password":        c.Password,
		"db":              c.DB,
		"tls":             c.TLS,
		"tls_server_name": c.TLSServerName,
		"stream":          c.Stream,
		"batch_size":      c.BatchSize,
		"block":           c.Block,
		"concurrency":     c.Concurrency,
		"max_len_approx":  c.MaxLenApprox,
	}
}

// ConfigFromMap converts a generic map to Config on top of Defaults.
// Durations may be given as time.Duration or a time.ParseDuration string.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	if v, ok := m["addr"].(string); ok && v != "" {
		c.Addr = v
	}
	if v, ok := m["username"].(string); ok {
		c.Username = v
	}
	if v, ok := m["password"].(string); ok {
		c.Password = v
	}
	if v, ok := toInt(m["db"]); ok {
		c.DB = v
	}
	if v, ok := m["tls"].(bool); ok {
		c.TLS = v
	}
	if v, ok := m["tls_server_name"].(string); ok {
		c.TLSServerName = v
	}
	if v, ok := m["stream"].(string); ok && v != "" {
		c.Stream = v
	}
	if v, ok := toInt(m["batch_size"]); ok && v > 0 {
		c.BatchSize = v
	}
	if v, ok := toDuration(m["block"]); ok && v > 0 {
		c.Block = v
	}
	if v, ok := toInt(m["concurrency"]); ok && v > 0 {
		c.Concurrency = v
	}
	if v, ok := toInt(m["max_len_approx"]); ok && v > 0 {
		c.MaxLenApprox = int64(v)
	}

	return c
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func toDuration(v any) (time.Duration, bool) {
	switch d := v.(type) {
	case time.Duration:
		return d, true
	case string:
		p, err := time.ParseDuration(d)
		return p, err == nil
	}
	return 0, false
}
