package payout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pasar/internal/lock"
	"github.com/noah-isme/backend-pasar/internal/obs"
)

const schedulerLockKey = "payout:scheduler"

// ConfigSource reads and advances the schedule configuration. Advance is
// conditional on the previous NextProcessAt so two racing runs cannot both
// move the clock.
type ConfigSource interface {
	Active(ctx context.Context) (ScheduleConfig, error)
	Advance(ctx context.Context, id uuid.UUID, prevNext *time.Time, lastProcessedAt, nextProcessAt time.Time) (bool, error)
}

// TryLocker is the non-blocking subset of the distributed lock used by the
// scheduler: a tick that cannot acquire the lock is skipped, not queued.
type TryLocker interface {
	TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Scheduler decides when and for which sellers to run the engine, then hands
// the created payouts to the processor.
type Scheduler struct {
	Engine    *Engine
	Processor *Processor
	Configs   ConfigSource
	Lock      TryLocker
	LockTTL   time.Duration
	Now       func() time.Time
	Logger    *zerolog.Logger
}

// Tick runs one scheduling pass under the distributed lock. Overlapping
// ticks are skipped so each period executes at most once; a skipped tick
// leaves LastProcessedAt untouched. Per-seller failures are isolated: the
// loop continues and the result reports both sides.
func (s *Scheduler) Tick(ctx context.Context) (BatchResult, error) {
	var result BatchResult
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	err := s.Lock.TryWithLock(ctx, schedulerLockKey, ttl, func(ctx context.Context) error {
		var runErr error
		result, runErr = s.run(ctx)
		return runErr
	})
	if errors.Is(err, lock.ErrLockHeld) {
		s.log().Debug().Msg("payout tick skipped, previous run still in progress")
		s.countBatch("skipped")
		result.Skipped++
		return result, nil
	}
	return result, err
}

func (s *Scheduler) run(ctx context.Context) (BatchResult, error) {
	start := s.now()
	defer func() {
		if obs.PayoutBatchDuration != nil {
			obs.PayoutBatchDuration.Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	var result BatchResult
	cfg, err := s.Configs.Active(ctx)
	if err != nil {
		if errors.Is(err, ErrScheduleInactive) {
			return result, nil
		}
		s.countBatch("error")
		return result, err
	}
	now := s.now()
	if !cfg.Due(now) {
		return result, nil
	}

	sellers, err := s.Engine.Ledger.EligibleSellers(ctx, now)
	if err != nil {
		s.countBatch("error")
		return result, err
	}
	s.log().Info().Int("sellers", len(sellers)).Msg("payout run started")

	for _, sellerID := range sellers {
		created, cerr := s.Engine.ComputeForSeller(ctx, sellerID, cfg)
		if cerr != nil {
			if errors.Is(cerr, ErrBelowMinimumPayout) || errors.Is(cerr, ErrNoEligibleEarnings) {
				result.Skipped++
				continue
			}
			result.Failed = append(result.Failed, BatchFailure{ID: sellerID, Reason: cerr.Error()})
			continue
		}
		if _, perr := s.Processor.Process(ctx, created.ID); perr != nil {
			result.Failed = append(result.Failed, BatchFailure{ID: created.ID, Reason: perr.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, created.ID)
	}

	// Advance the schedule clock only after the run finished. A lost
	// conditional update means another run already advanced it.
	finished := s.now()
	if _, aerr := s.Configs.Advance(ctx, cfg.ID, cfg.NextProcessAt, finished, cfg.Next(finished)); aerr != nil {
		s.log().Error().Err(aerr).Msg("advance payout schedule")
	}

	outcome := "completed"
	if len(result.Failed) > 0 {
		outcome = "partial"
	}
	s.countBatch(outcome)
	s.log().Info().
		Int("succeeded", len(result.Succeeded)).
		Int("failed", len(result.Failed)).
		Int("skipped", result.Skipped).
		Msg("payout run finished")
	return result, nil
}

// Trigger runs the engine for one seller outside the schedule. A failed
// payout is retried this way: a fresh attempt is created rather than the
// failed row resurrected.
func (s *Scheduler) Trigger(ctx context.Context, sellerID uuid.UUID) (Payout, error) {
	cfg, err := s.Configs.Active(ctx)
	if err != nil {
		if !errors.Is(err, ErrScheduleInactive) {
			return Payout{}, err
		}
		// No active schedule: on-demand trigger with no minimum.
		cfg = ScheduleConfig{Frequency: FrequencyOnDemand}
	}
	return s.Engine.ComputeForSeller(ctx, sellerID, cfg)
}

// Run drives Tick on the given interval until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.log().Error().Err(err).Msg("payout tick")
			}
		}
	}
}

func (s *Scheduler) countBatch(result string) {
	if obs.PayoutBatchTotal != nil {
		obs.PayoutBatchTotal.WithLabelValues(result).Inc()
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) log() *zerolog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
