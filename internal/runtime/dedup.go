package runtime

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/hashicorp/golang-lru/v2/expirable"

	configpkg "github.com/drblury/xrayflow/internal/runtime/config"
)

// Deduplicator remembers the keys of successfully processed deliveries for
// a bounded window. Keys are recorded only after the handler succeeds, so a
// delivery that failed is always processed again.
type Deduplicator struct {
	policy string
	seen   *expirable.LRU[string, struct{}]
}

// NewDeduplicator returns nil for the "none" policy.
func NewDeduplicator(policy string, size int, window time.Duration) *Deduplicator {
	if policy == "" || policy == configpkg.DedupNone {
		return nil
	}
	if size <= 0 {
		size = 10000
	}
	return &Deduplicator{
		policy: policy,
		seen:   expirable.NewLRU[string, struct{}](size, nil, window),
	}
}

// Key derives the deduplication key of msg under the configured policy.
func (d *Deduplicator) Key(msg *message.Message) string {
	switch d.policy {
	case configpkg.DedupMessageID:
		return msg.UUID
	case configpkg.DedupPayloadHash:
		sum := sha256.Sum256(msg.Payload)
		return hex.EncodeToString(sum[:])
	default:
		return ""
	}
}

// Seen reports whether key was recorded within the window.
func (d *Deduplicator) Seen(key string) bool {
	return key != "" && d.seen.Contains(key)
}

// Record remembers key.
func (d *Deduplicator) Record(key string) {
	if key != "" {
		d.seen.Add(key, struct{}{})
	}
}

// Len returns the number of remembered keys.
func (d *Deduplicator) Len() int { return d.seen.Len() }

// Middleware acknowledges duplicates without calling the handler.
func (d *Deduplicator) Middleware(onDuplicate func(msg *message.Message, key string)) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			key := d.Key(msg)
			if d.Seen(key) {
				if onDuplicate != nil {
					onDuplicate(msg, key)
				}
				return nil, nil
			}
			msgs, err := h(msg)
			if err == nil {
				d.Record(key)
			}
			return msgs, err
		}
	}
}
