package kafkatopic

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/keelson"
	"github.com/trickstertwo/keelson/payloads"
)

// liveConfig returns a Config for the brokers in KEELSON_KAFKA_BROKERS with
// a fresh single-partition topic, and skips the test when the variable is
// unset or the cluster is unreachable.
func liveConfig(t *testing.T) Config {
	t.Helper()
	brokers, _ := toStrings(os.Getenv("KEELSON_KAFKA_BROKERS"))
	if len(brokers) == 0 {
		t.Skip("KEELSON_KAFKA_BROKERS not set")
	}

	cfg := Defaults()
	cfg.Brokers = brokers
	cfg.Topic = fmt.Sprintf("keelson-test-%d", time.Now().UnixNano())
	cfg.MaxWait = 100 * time.Millisecond

	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		t.Skipf("Kafka not available: %v", err)
	}
	defer conn.Close()
	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()
	require.NoError(t, cc.CreateTopics(kafka.TopicConfig{Topic: cfg.Topic, NumPartitions: 2, ReplicationFactor: 1}))

	t.Cleanup(func() {
		if c, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))); err == nil {
			_ = c.DeleteTopics(cfg.Topic)
			_ = c.Close()
		}
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
		"brokers":         "kafka-0:9092, kafka-1:9092",
		"client_id":       "boatswain",
		"tls":             true,
		"tls_server_name": "kafka.local",
		"dial_timeout":    "2s",
		"topic":           "rise",
		"max_attempts":    float64(5),
		"batch_timeout":   time.Millisecond,
		"min_bytes":       int64(1024),
		"max_bytes":       1 << 20,
		"max_wait":        "1s",
		"concurrency":     4,
	})

	assert.Equal(t, []string{"kafka-0:9092", "kafka-1:9092"}, cfg.Brokers)
	assert.Equal(t, "boatswain", cfg.ClientID)
	assert.True(t, cfg.TLS)
	assert.Equal(t, "kafka.local", cfg.TLSServerName)
	assert.Equal(t, 2*time.Second, cfg.DialTimeout)
	assert.Equal(t, "rise", cfg.Topic)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, time.Millisecond, cfg.BatchTimeout)
	assert.Equal(t, 1024, cfg.MinBytes)
	assert.Equal(t, 1<<20, cfg.MaxBytes)
	assert.Equal(t, time.Second, cfg.MaxWait)
	assert.Equal(t, 4, cfg.Concurrency)
}

func TestConfigFromMap_BrokerForms(t *testing.T) {
	cfg := ConfigFromMap(map[string]any{"brokers": []any{"a:9092", "b:9092"}})
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Brokers)

	cfg = ConfigFromMap(map[string]any{"brokers": []any{"a:9092", 7}})
	assert.Equal(t, Defaults().Brokers, cfg.Brokers, "mixed list falls back to defaults")

	cfg = ConfigFromMap(map[string]any{"brokers": " , "})
	assert.Equal(t, Defaults().Brokers, cfg.Brokers)
}

func TestConfig_RoundTripThroughMap(t *testing.T) {
	cfg := Defaults()
	cfg.Brokers = []string{"kafka:9092"}
	cfg.Topic = "harbour"
	cfg.Concurrency = 2

	assert.Equal(t, cfg, ConfigFromMap(cfg.toMap()))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no brokers", func(c *Config) { c.Brokers = nil }},
		{"empty broker", func(c *Config) { c.Brokers = []string{""} }},
		{"empty topic", func(c *Config) { c.Topic = "" }},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }},
		{"max below min bytes", func(c *Config) { c.MinBytes, c.MaxBytes = 10, 5 }},
		{"zero dial timeout", func(c *Config) { c.DialTimeout = 0 }},
		{"zero max wait", func(c *Config) { c.MaxWait = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewTransport_RejectsInvalidConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Topic = ""
	_, err := NewTransport(cfg)
	assert.Error(t, err)
}

func TestNewTransport_UnreachableBroker(t *testing.T) {
	cfg := Defaults()
	cfg.Brokers = []string{"127.0.0.1:1"}
	cfg.DialTimeout = 200 * time.Millisecond
	_, err := NewTransport(cfg)
	assert.Error(t, err)
}

func TestTransport_SubscribeFiltersByKeyExpr(t *testing.T) {
	cfg := liveConfig(t)

	tr, err := NewTransport(cfg)
	require.NoError(t, err)
	defer tr.Close(context.Background())
	assert.Contains(t, tr.ClientID(), "keelson-")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// Messages written before Subscribe are not replayed.
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
	assert.Equal(t, 1, tr.Stats().Subscriptions)

	require.NoError(t, tr.Put(ctx, "rise/v0/other/pubsub/raw/0", []byte("skip")))
	for i := 0; i < 3; i++ {
		require.NoError(t, tr.Put(ctx, "rise/v0/boatswain/pubsub/raw/sim/0", []byte{byte(i)}))
	}

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("timeout waiting for samples")
	}

	mu.Lock()
	require.Len(t, got, 3)
	for i, s := range got {
		assert.Equal(t, "rise/v0/boatswain/pubsub/raw/sim/0", s.Key)
		assert.Equal(t, []byte{byte(i)}, s.Value, "one key keeps its order")
	}
	mu.Unlock()

	require.NoError(t, sub.Close())
	assert.Equal(t, 0, tr.Stats().Subscriptions)
	assert.Equal(t, uint64(5), tr.Stats().Put)
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

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
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

	require.NoError(t, sess.PublishJSON(ctx, "rudder_angle", []byte(`{"angle": -3.5}`)))

	select {
	case doc := <-received:
		assert.JSONEq(t, `{"angle":-3.5}`, string(doc))
	case <-time.After(15 * time.Second):
		t.Fatal("timeout waiting for rudder_angle")
	}
}
