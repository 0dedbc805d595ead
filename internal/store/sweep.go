package store

import (
	"context"
	"time"

	"github.com/ticketnest/core/internal/logging"
	"github.com/ticketnest/core/internal/models"
)

// SweepConfig controls the periodic eviction sweep.
type SweepConfig struct {
	MaxEntityAge time.Duration // cached read entities older than this are evicted (default: 7 days)
	Interval     time.Duration // how often the sweep runs (default: 1 hour)
}

// DefaultSweepConfig returns default sweep configuration.
func DefaultSweepConfig() *SweepConfig {
	return &SweepConfig{
		MaxEntityAge: 7 * 24 * time.Hour,
		Interval:     time.Hour,
	}
}

// SweepOnce removes cached read entities and responses older than the max
// age, and removes queue entries that have exhausted their retries. Entries
// with sync_status = pending survive regardless of age: pending mutations
// must live until explicitly resolved.
func (s *Store) SweepOnce(ctx context.Context, cfg *SweepConfig) (int64, error) {
	if cfg == nil {
		cfg = DefaultSweepConfig()
	}
	cutoff := time.Now().Add(-cfg.MaxEntityAge).Unix()

	var removed int64

	for _, table := range []string{"events", "orders", "tickets"} {
		result, err := s.db.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE cached_at < ? AND sync_status != ?",
			cutoff, models.SyncStatePending)
		if err != nil {
			return removed, err
		}
		n, _ := result.RowsAffected()
		removed += n
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM cached_responses WHERE cached_at < ?`, cutoff)
	if err != nil {
		return removed, err
	}
	n, _ := result.RowsAffected()
	removed += n

	// Terminal queue entries are kept for inspection, not forever: drop rows
	// past their retry budget and rows rejected outright (retry count never
	// advanced) once they age out.
	result, err = s.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE status = ? AND (retry_count >= max_retries OR enqueued_at < ?)`,
		models.OpStatusFailed, cutoff)
	if err != nil {
		return removed, err
	}
	n, _ = result.RowsAffected()
	removed += n

	return removed, nil
}

// RunSweeper runs the eviction sweep on a fixed interval until the context
// is cancelled. Sweep failures are logged and the loop keeps going; storage
// errors degrade, they never crash.
func (s *Store) RunSweeper(ctx context.Context, cfg *SweepConfig) {
	if cfg == nil {
		cfg = DefaultSweepConfig()
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.SweepOnce(ctx, cfg)
			if err != nil {
				logging.Error("Eviction sweep failed", err, nil)
				continue
			}
			if removed > 0 {
				logging.Info("Eviction sweep completed",
					map[string]interface{}{"removed": removed})
			}
		}
	}
}
