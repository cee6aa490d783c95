package remediation

import (
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/yairfalse/colorbot/platform"
	"github.com/yairfalse/colorbot/telemetry"
)

// DefaultDedupCapacity bounds the number of remembered keys
const DefaultDedupCapacity = 4096

// DeduplicatorConfig configures a Deduplicator
type DeduplicatorConfig struct {
	Messenger platform.DirectMessenger
	// Capacity is the maximum number of keys remembered; the oldest key is
	// evicted first. Zero means DefaultDedupCapacity.
	Capacity int
	Logger   *telemetry.Logger
	Metrics  *Metrics
}

type seenKey struct {
	seq uint64
	key AntiSpamKey
}

// Deduplicator guards the direct-message channel so a batch of identical
// failures produces at most one message per AntiSpamKey.
type Deduplicator struct {
	messenger platform.DirectMessenger
	capacity  int
	logger    *telemetry.Logger
	metrics   *Metrics

	mu    sync.Mutex
	seq   uint64
	seen  map[AntiSpamKey]uint64
	order *btree.BTreeG[seenKey] // insertion order, for eviction
}

// NewDeduplicator creates a deduplicator
func NewDeduplicator(cfg DeduplicatorConfig) *Deduplicator {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultDedupCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}

	return &Deduplicator{
		messenger: cfg.Messenger,
		capacity:  cfg.Capacity,
		logger:    cfg.Logger.Component("dedup"),
		metrics:   cfg.Metrics,
		seen:      make(map[AntiSpamKey]uint64),
		order: btree.NewG[seenKey](16, func(a, b seenKey) bool {
			return a.seq < b.seq
		}),
	}
}

// NotifyOnce sends message to userID unless key was already claimed. It
// returns true for the single caller that won the claim. Losers must still
// deliver the message through whatever synchronous channel they own.
func (d *Deduplicator) NotifyOnce(ctx context.Context, key AntiSpamKey, userID, message string) bool {
	if !d.claim(key) {
		d.metrics.RecordNotification(ctx, false)
		return false
	}
	d.metrics.RecordNotification(ctx, true)

	if d.messenger == nil || userID == "" {
		return true
	}

	if err := d.messenger.SendDirectMessage(ctx, userID, message); err != nil {
		d.logger.WithContext(ctx).Warn().
			Err(err).
			Str("user_id", userID).
			Str("key", string(key)).
			Msg("direct message failed")
	}
	return true
}

// claim is the atomic check-and-set
func (d *Deduplicator) claim(key AntiSpamKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return false
	}

	d.seq++
	d.seen[key] = d.seq
	d.order.ReplaceOrInsert(seenKey{seq: d.seq, key: key})

	for d.order.Len() > d.capacity {
		oldest, ok := d.order.DeleteMin()
		if !ok {
			break
		}
		delete(d.seen, oldest.key)
	}
	return true
}

// Seen reports whether key has been claimed
func (d *Deduplicator) Seen(key AntiSpamKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[key]
	return ok
}

// Forget releases key. Called once no caller can present it again.
func (d *Deduplicator) Forget(key AntiSpamKey) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seq, ok := d.seen[key]
	if !ok {
		return
	}
	delete(d.seen, key)
	d.order.Delete(seenKey{seq: seq, key: key})
}

// Len returns the number of remembered keys
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
