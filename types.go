package keelson

import (
	"time"
)

// Operation names a codec or session call in events and entrypoint tables.
type Operation string

const (
	OpEncloseFromText   Operation = "enclose_from_text"
	OpEncloseFromBase64 Operation = "enclose_from_base64"
	OpEncloseFromJSON   Operation = "enclose_from_json"
	OpUncoverToText     Operation = "uncover_to_text"
	OpUncoverToBase64   Operation = "uncover_to_base64"
	OpUncoverToJSON     Operation = "uncover_to_json"
	OpEnclose           Operation = "enclose"
	OpUncover           Operation = "uncover"
	OpPublish           Operation = "publish"
	OpConsume           Operation = "consume"
)

// EventType enumerates lifecycle events for the Observer pattern.
type EventType string

const (
	EventEnclosed  EventType = "enclosed"
	EventUncovered EventType = "uncovered"
	EventPublished EventType = "published"
	EventConsumed  EventType = "consumed"
	EventDropped   EventType = "dropped"
	EventError     EventType = "error"
)

// Event carries telemetry for observers.
type Event struct {
	Type      EventType
	Operation Operation
	Tag       string
	Key       string
	Size      int
	Duration  time.Duration
	Err       error

	// Internal: attached for async dispatch
	observers []Observer
}

// PoolStats returns telemetry about the observer pool.
type PoolStats struct {
	Dropped      uint64
	Processed    uint64
	Panics       uint64
	ActiveEvents int
	Workers      int
	BufferSize   int
}

// Metrics is a snapshot of codec counters.
type Metrics struct {
	Enclosed      uint64
	Uncovered     uint64
	Errors        uint64
	EventsDropped uint64
}
