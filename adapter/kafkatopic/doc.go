// Package kafkatopic provides a Kafka transport for keelson.
//
// Transport name: "kafka"
//
// All samples share one topic. The pub/sub key is the message key and the
// raw envelope is the message value; keys are hashed to partitions, so the
// samples of one key stay ordered. A subscription opens one reader per
// partition at the partition's end offset and applies key-expression
// matching client-side. No consumer group offsets are committed.
//
// Config keys:
//   - brokers: []string or "host:port,host:port" (default "127.0.0.1:9092")
//   - client_id (default "keelson-<uuid>")
//   - tls, tls_server_name, dial_timeout (default 5s)
//   - topic (default "keelson"); it must exist before Subscribe
//   - max_attempts (default 3), batch_timeout (default 10ms)
//   - min_bytes (default 1), max_bytes (default 10e6), max_wait (default 500ms)
//   - concurrency: handler goroutines per subscription (default 1)
//
// Example:
//
//	sess, err := kafkatopic.Use(kafkatopic.Config{
//	    Brokers:     []string{"kafka-0:9092", "kafka-1:9092"},
//	    Topic:       "keelson",
//	    Concurrency: 1,
//	}, keelson.SessionConfig{Realm: "rise", EntityID: "boatswain", SourceID: "sim/0"}, codec)
package kafkatopic
