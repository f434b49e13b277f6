package keelson

import (
	"context"
	"fmt"
)

// PublishItem is one envelope in a batch publish call.
type PublishItem struct {
	Subject string
	Payload []byte
}

// PublishBatch encloses every item before putting any of them, so a payload
// that fails validation publishes nothing. Puts run in order and stop at the
// first transport error.
func (s *Session) PublishBatch(ctx context.Context, items ...PublishItem) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if len(items) == 0 {
		return nil
	}

	data := make([][]byte, len(items))
	for i, it := range items {
		if err := validSubject(it.Subject); err != nil {
			return fmt.Errorf("keelson: batch item %d: %w", i, err)
		}
		b, err := s.codec.Enclose(it.Subject, it.Payload)
		if err != nil {
			return fmt.Errorf("keelson: batch item %d: %w", i, err)
		}
		data[i] = b
	}

	for i, it := range items {
		if err := s.put(ctx, it.Subject, data[i]); err != nil {
			return err
		}
	}
	return nil
}
