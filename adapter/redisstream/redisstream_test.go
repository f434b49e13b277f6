package redisstream

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/keelson"
	"github.com/trickstertwo/keelson/payloads"
)

// liveConfig returns a Config for the Redis at KEELSON_REDIS_ADDR and skips
// the test when it is unset or unreachable.
func liveConfig(t *testing.T) Config {
	t.Helper()
	addr := os.Getenv("KEELSON_REDIS_ADDR")
	if addr == "" {
		t.Skip("KEELSON_REDIS_ADDR not set")
	}

	cfg := Defaults()
	cfg.Addr = addr
	cfg.Password = os.Getenv("KEELSON_REDIS_PASSWORD")
	cfg.Stream = fmt.Sprintf("keelson-test-%d", time.Now().UnixNano())
	cfg.Block = 200 * time.Millisecond

	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Del(ctx, cfg.Stream).Err()
		_ = client.Close()
	})
	return cfg
}

func TestConfigFromMap_Defaults(t *testing.T) {
	cfg := ConfigFromMap(nil)
	assert.Equal(t, Defaults(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestConfigFromMap_Overrides(t *testing.T) {
	cfg := ConfigFromMap(map[string]any{
		"addr":            "redis:6380",
		"username":        "vessel",
		"password":        "secret",
		"db":              int64(2),
		"tls":             true,
		"tls_server_name": "redis.local",
		"stream":          "rise",
		"batch_size":      float64(64),
		"block":           "250ms",
		"concurrency":     4,
		"max_len_approx":  10_000,
	})

	assert.Equal(t, "redis:6380", cfg.Addr)
	assert.Equal(t, "vessel", cfg.Username)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, 2, cfg.DB)
	assert.True(t, cfg.TLS)
	assert.Equal(t, "redis.local", cfg.TLSServerName)
	assert.Equal(t, "rise", cfg.Stream)
	assert.Equal(t, 64, cfg.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Block)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, int64(10_000), cfg.MaxLenApprox)
}

func TestConfig_RoundTripThroughMap(t *testing.T) {
	cfg := Defaults()
	cfg.Stream = "harbour"
	cfg.Block = time.Second
	cfg.MaxLenApprox = 500

	assert.Equal(t, cfg, ConfigFromMap(cfg.toMap()))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Addr = "" }},
		{"empty stream", func(c *Config) { c.Stream = "" }},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"zero block", func(c *Config) { c.Block = 0 }},
		{"negative max len", func(c *Config) { c.MaxLenApprox = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDecodeSample(t *testing.T) {
	smp, ok := decodeSample(map[string]any{
		fieldKey:   "rise/v0/boatswain/pubsub/rudder_angle/sim/0",
		fieldValue: "\x0a\x00\x12\x01\xff",
	})
	require.True(t, ok)
	assert.Equal(t, "rise/v0/boatswain/pubsub/rudder_angle/sim/0", smp.Key)
	assert.Equal(t, []byte{0x0a, 0x00, 0x12, 0x01, 0xff}, smp.Value)

	_, ok = decodeSample(map[string]any{fieldValue: "x"})
	assert.False(t, ok, "missing key")

	_, ok = decodeSample(map[string]any{fieldKey: "a/b", fieldValue: 12})
	assert.False(t, ok, "non-string value")
}

func TestNewTransport_RejectsInvalidConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Stream = ""
	_, err := NewTransport(cfg)
	assert.Error(t, err)
}

func TestTransport_PutAppendsToStream(t *testing.T) {
	cfg := liveConfig(t)
	cfg.MaxLenApprox = 1000

	tr, err := NewTransport(cfg)
	require.NoError(t, err)
	defer tr.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 10; i++ {
		require.NoError(t, tr.Put(ctx, fmt.Sprintf("rise/v0/boatswain/pubsub/raw/%d", i), []byte{byte(i)}))
	}

	n, err := tr.client.XLen(ctx, cfg.Stream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.Equal(t, uint64(10), tr.Stats().Put)
}

func TestTransport_SubscribeFiltersByKeyExpr(t *testing.T) {
	cfg := liveConfig(t)

	tr, err := NewTransport(cfg)
	require.NoError(t, err)
	defer tr.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Entries written before Subscribe are not replayed.
	require.NoError(t, tr.Put(ctx, "rise/v0/boatswain/pubsub/raw/old", []byte("old")))

	var (
		mu   sync.Mutex
		got  []keelson.Sample
		done = make(chan struct{})
	)
	sub, err := tr.Subscribe(ctx, "rise/v0/boatswain/pubsub/raw/**", func(s keelson.Sample) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, s)
		if len(got) == 3 {
			close(done)
		}
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, tr.Put(ctx, "rise/v0/other/pubsub/raw/0", []byte("skip")))
	for i := 0; i < 3; i++ {
		require.NoError(t, tr.Put(ctx, fmt.Sprintf("rise/v0/boatswain/pubsub/raw/sim/%d", i), []byte{byte(i)}))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for samples")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	for i, s := range got {
		assert.Equal(t, fmt.Sprintf("rise/v0/boatswain/pubsub/raw/sim/%d", i), s.Key)
		assert.Equal(t, []byte{byte(i)}, s.Value)
	}
	assert.GreaterOrEqual(t, tr.Stats().Filtered, uint64(1))
}

func TestUse_SessionRoundTrip(t *testing.T) {
	cfg := liveConfig(t)

	reg, err := payloads.Registry()
	require.NoError(t, err)
	codec, closeCodec, err := keelson.New(func(b *keelson.CodecBuilder) { b.WithRegistry(reg) })
	require.NoError(t, err)
	defer closeCodec()

	sess, err := Use(cfg, keelson.SessionConfig{Realm: "rise", EntityID: "boatswain", SourceID: "sim/0"}, codec)
	require.NoError(t, err)
	defer sess.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	received := make(chan []byte, 1)
	_, err = sess.Subscribe(ctx, "rise/v0/boatswain/pubsub/rudder_angle/**", func(ctx context.Context, rx *keelson.Received) error {
		doc, err := codec.UncoverToJSON(rx.Data)
		if err != nil {
			return err
		}
		received <- doc
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, sess.PublishJSON(ctx, "rudder_angle", []byte(`{"angle": 12.5}`)))

	select {
	case doc := <-received:
		assert.JSONEq(t, `{"angle":12.5}`, string(doc))
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for rudder_angle")
	}
}
