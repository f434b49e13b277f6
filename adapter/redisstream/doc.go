// Package redisstream provides a Redis Streams transport for keelson.
//
// Transport name: "redis-streams"
//
// All samples share one stream. Each entry carries two fields: "key" (the
// pub/sub key) and "value" (the raw envelope bytes). Subscriptions tail the
// stream with XREAD BLOCK and apply key-expression matching client-side,
// so every subscriber sees every entry appended after it subscribed.
//
// Config keys:
//   - addr: "host:port" (default "127.0.0.1:6379")
//   - username, password, db
//   - tls, tls_server_name
//   - stream: stream name (default "keelson")
//   - batch_size: XREAD COUNT (default 128)
//   - block: XREAD BLOCK duration (default 5s)
//   - concurrency: handler goroutines per subscription (default 1)
//   - max_len_approx: XADD MAXLEN ~ bound (default 0, no trimming)
//
// Example:
//
//	sess, err := redisstream.Use(redisstream.Config{
//	    Addr:         "localhost:6379",
//	    Stream:       "keelson",
//	    BatchSize:    256,
//	    Block:        time.Second,
//	    Concurrency:  1,
//	    MaxLenApprox: 100_000,
//	}, keelson.SessionConfig{Realm: "rise", EntityID: "boatswain", SourceID: "sim/0"}, codec)
package redisstream
