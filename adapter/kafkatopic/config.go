package kafkatopic

import (
	"fmt"
	"strings"
	"time"
)

// Config for the Kafka transport.
type Config struct {
	// Connection
	Brokers       []string
	ClientID      string
	TLS           bool
	TLSServerName string
	DialTimeout   time.Duration

	// Topic every sample is written to. The sample key is the message key,
	// so all samples of one key land on one partition.
	Topic string

	// Writer
	MaxAttempts  int
	BatchTimeout time.Duration

	// Reader
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
	// Concurrency is the number of handler goroutines per subscription.
	// Values above 1 give up per-key ordering.
	Concurrency int
}

// Defaults returns a Config with local-development defaults.
func Defaults() Config {
	return Config{
		Brokers:      []string{"127.0.0.1:9092"},
		Topic:        "keelson",
		DialTimeout:  5 * time.Second,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		MinBytes:     1,
		MaxBytes:     10e6,
		MaxWait:      500 * time.Millisecond,
		Concurrency:  1,
	}
}

// Validate checks Config before dialing.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("config: at least one broker required")
	}
	for _, b := range c.Brokers {
		if b == "" {
			return fmt.Errorf("config: empty broker address")
		}
	}
	if c.Topic == "" {
		return fmt.Errorf("config: topic required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("config: max_attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.MinBytes < 1 || c.MaxBytes < c.MinBytes {
		return fmt.Errorf("config: need 1 <= min_bytes <= max_bytes, got %d and %d", c.MinBytes, c.MaxBytes)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("config: dial_timeout must be > 0, got %v", c.DialTimeout)
	}
	if c.MaxWait <= 0 {
		return fmt.Errorf("config: max_wait must be > 0, got %v", c.MaxWait)
	}
	return nil
}

func (c Config) toMap() map[string]any {
	return map[string]any{
		"brokers":         c.Brokers,
		"client_id":       c.ClientID,
		"tls":             c.TLS,
		"tls_server_name": c.TLSServerName,
		"dial_timeout":    c.DialTimeout,
		"topic":           c.Topic,
		"max_attempts":    c.MaxAttempts,
		"batch_timeout":   c.BatchTimeout,
		"min_bytes":       c.MinBytes,
		"max_bytes":       c.MaxBytes,
		"max_wait":        c.MaxWait,
		"concurrency":     c.Concurrency,
	}
}

// ConfigFromMap converts a generic map to Config on top of Defaults.
// Brokers may be a []string, a []any of strings or a comma-separated
// string. Durations may be given as time.Duration or a
// time.ParseDuration string.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	if v, ok := toStrings(m["brokers"]); ok && len(v) > 0 {
		c.Brokers = v
	}
	if v, ok := m["client_id"].(string); ok {
		c.ClientID = v
	}
	if v, ok := m["tls"].(bool); ok {
		c.TLS = v
	}
	if v, ok := m["tls_server_name"].(string); ok {
		c.TLSServerName = v
	}
	if v, ok := toDuration(m["dial_timeout"]); ok && v > 0 {
		c.DialTimeout = v
	}
	if v, ok := m["topic"].(string); ok && v != "" {
		c.Topic = v
	}
	if v, ok := toInt(m["max_attempts"]); ok && v > 0 {
		c.MaxAttempts = v
	}
	if v, ok := toDuration(m["batch_timeout"]); ok && v > 0 {
		c.BatchTimeout = v
	}
	if v, ok := toInt(m["min_bytes"]); ok && v > 0 {
		c.MinBytes = v
	}
	if v, ok := toInt(m["max_bytes"]); ok && v > 0 {
		c.MaxBytes = v
	}
	if v, ok := toDuration(m["max_wait"]); ok && v > 0 {
		c.MaxWait = v
	}
	if v, ok := toInt(m["concurrency"]); ok && v > 0 {
		c.Concurrency = v
	}

	return c
}

func toStrings(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	case string:
		var out []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
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
