package reminder

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mediremind/mediremind/internal/platform/clock"
)

// Notifier delivers one due reminder. It reports whether any channel
// plausibly succeeded; it must not panic and must not block past ctx.
type Notifier interface {
	SendReminder(ctx context.Context, due *Due) bool
}

// Dispatcher moves due reminders through the store every tick: stale rows
// age into missed, due rows are claimed into sending, and each claim is
// settled to sent or released back to pending depending on the notifier.
// Claims are conditional updates, so concurrent dispatcher instances never
// double-send.
type Dispatcher struct {
	repo     Repository
	notifier Notifier
	clock    clock.Clock
	log      zerolog.Logger

	// Interval controls how often Start runs a pass.
	Interval time.Duration
	// GracePeriod is how long a reminder may stay deliverable past its
	// scheduled time before the sweep marks it missed.
	GracePeriod time.Duration
	// ClaimTimeout is how long a sending claim is honored before another
	// run may re-claim the row (crash recovery).
	ClaimTimeout time.Duration
	// BatchSize caps how many rows one pass claims.
	BatchSize int
	// Concurrency bounds the notification fan-out within a pass.
	Concurrency int
}

// DispatchStats summarizes one dispatcher pass.
type DispatchStats struct {
	Swept    int `json:"swept"`
	Claimed  int `json:"claimed"`
	Sent     int `json:"sent"`
	Released int `json:"released"`
}

func NewDispatcher(repo Repository, notifier Notifier, c clock.Clock, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:         repo,
		notifier:     notifier,
		clock:        c,
		log:          log.With().Str("component", "dispatcher").Logger(),
		Interval:     time.Minute,
		GracePeriod:  15 * time.Minute,
		ClaimTimeout: 2 * time.Minute,
		BatchSize:    100,
		Concurrency:  8,
	}
}

// Start runs dispatch passes until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunOnce(ctx)
		}
	}
}

// RunOnce executes one dispatch pass. The sweep commits before any claim,
// so a crash mid-pass cannot resurrect already-staled rows; each claim is
// settled individually, so one bad notification never holds up the batch.
func (d *Dispatcher) RunOnce(ctx context.Context) DispatchStats {
	var stats DispatchStats
	now := d.clock.Now()

	swept, err := d.repo.SweepMissed(ctx, now.Add(-d.GracePeriod))
	if err != nil {
		d.log.Error().Err(err).Msg("staleness sweep failed")
	} else if swept > 0 {
		stats.Swept = swept
		d.log.Info().Int("count", swept).Msg("stale reminders marked missed")
	}

	due, err := d.repo.ClaimDue(ctx, now, now.Add(-d.ClaimTimeout), d.BatchSize)
	if err != nil {
		d.log.Error().Err(err).Msg("claiming due reminders failed")
		return stats
	}
	stats.Claimed = len(due)
	if len(due) == 0 {
		return stats
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, d.Concurrency)
	for _, item := range due {
		wg.Add(1)
		sem <- struct{}{}
		go func(item *Due) {
			defer wg.Done()
			defer func() { <-sem }()
			if d.dispatchOne(ctx, item) {
				mu.Lock()
				stats.Sent++
				mu.Unlock()
			} else {
				mu.Lock()
				stats.Released++
				mu.Unlock()
			}
		}(item)
	}
	wg.Wait()

	d.log.Info().
		Int("claimed", stats.Claimed).
		Int("sent", stats.Sent).
		Int("released", stats.Released).
		Msg("dispatch pass complete")
	return stats
}

func (d *Dispatcher) dispatchOne(ctx context.Context, item *Due) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Interface("panic", r).
				Str("reminder_id", item.ID.String()).
				Msg("notifier panicked")
			d.release(item)
			sent = false
		}
	}()

	if d.notifier.SendReminder(ctx, item) {
		if err := d.repo.MarkSent(ctx, item.ID, clock.Normalize(d.clock.Now())); err != nil {
			d.log.Error().Err(err).
				Str("reminder_id", item.ID.String()).
				Msg("failed to mark reminder sent")
		}
		return true
	}

	d.log.Warn().
		Str("reminder_id", item.ID.String()).
		Str("medication", item.MedicationName).
		Msg("notification failed, releasing for retry")
	d.release(item)
	return false
}

func (d *Dispatcher) release(item *Due) {
	// Detached context: the claim must be handed back even when the pass
	// context is already cancelled, or the row stays stuck in sending until
	// the claim timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.repo.Release(ctx, item.ID); err != nil {
		d.log.Error().Err(err).
			Str("reminder_id", item.ID.String()).
			Msg("failed to release claimed reminder")
	}
}
