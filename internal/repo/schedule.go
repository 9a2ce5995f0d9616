package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-pasar/internal/money"
	"github.com/noah-isme/backend-pasar/internal/payout"
)

// ScheduleRepo stores the payout schedule configuration. At most one config
// is active; the newest active row wins.
type ScheduleRepo struct {
	Pool *pgxpool.Pool
}

const scheduleSelect = `
	SELECT id, frequency, day_of_week, day_of_month,
	       min_payout_amount::text, currency, hold_period_days, hold_policy,
	       is_automatic, is_active, last_processed_at, next_process_at
	FROM payout_schedule_config`

// Active returns the current active schedule config.
func (r ScheduleRepo) Active(ctx context.Context) (payout.ScheduleConfig, error) {
	row := r.Pool.QueryRow(ctx,
		scheduleSelect+` WHERE is_active ORDER BY created_at DESC LIMIT 1`)
	cfg, err := scanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return payout.ScheduleConfig{}, payout.ErrScheduleInactive
	}
	return cfg, err
}

// Advance stamps the run bookkeeping after a completed tick. The update is
// conditional on next_process_at still holding the value the tick started
// from, so a concurrent admin edit is never overwritten.
func (r ScheduleRepo) Advance(ctx context.Context, id uuid.UUID, prevNext *time.Time, lastProcessedAt, nextProcessAt time.Time) (bool, error) {
	tag, err := r.Pool.Exec(ctx, `
		UPDATE payout_schedule_config
		SET last_processed_at = $3, next_process_at = $4, updated_at = now()
		WHERE id = $1
		  AND (next_process_at = $2 OR (next_process_at IS NULL AND $2::timestamptz IS NULL))`,
		id, prevNext, lastProcessedAt, nextProcessAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Upsert replaces the active config. Existing rows are deactivated rather
// than deleted so prior settings stay auditable.
func (r ScheduleRepo) Upsert(ctx context.Context, cfg payout.ScheduleConfig) (payout.ScheduleConfig, error) {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return payout.ScheduleConfig{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	if _, err := tx.Exec(ctx,
		`UPDATE payout_schedule_config SET is_active = FALSE WHERE is_active AND id <> $1`,
		cfg.ID); err != nil {
		return payout.ScheduleConfig{}, err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO payout_schedule_config (
			id, frequency, day_of_week, day_of_month,
			min_payout_amount, currency, hold_period_days, hold_policy,
			is_automatic, is_active, last_processed_at, next_process_at,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5::numeric,$6,$7,$8,$9,$10,$11,$12,now(),now())
		ON CONFLICT (id) DO UPDATE SET
			frequency = EXCLUDED.frequency,
			day_of_week = EXCLUDED.day_of_week,
			day_of_month = EXCLUDED.day_of_month,
			min_payout_amount = EXCLUDED.min_payout_amount,
			currency = EXCLUDED.currency,
			hold_period_days = EXCLUDED.hold_period_days,
			hold_policy = EXCLUDED.hold_policy,
			is_automatic = EXCLUDED.is_automatic,
			is_active = EXCLUDED.is_active,
			next_process_at = EXCLUDED.next_process_at,
			updated_at = now()`,
		cfg.ID, cfg.Frequency, cfg.DayOfWeek, cfg.DayOfMonth,
		cfg.MinPayoutAmount.Amount().String(), cfg.MinPayoutAmount.Currency(),
		cfg.HoldPeriodDays, cfg.HoldPolicy, cfg.IsAutomatic, cfg.IsActive,
		cfg.LastProcessedAt, cfg.NextProcessAt)
	if err != nil {
		return payout.ScheduleConfig{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return payout.ScheduleConfig{}, err
	}
	return cfg, nil
}

func scanSchedule(row pgx.Row) (payout.ScheduleConfig, error) {
	var (
		cfg      payout.ScheduleConfig
		min      string
		currency string
	)
	err := row.Scan(&cfg.ID, &cfg.Frequency, &cfg.DayOfWeek, &cfg.DayOfMonth,
		&min, &currency, &cfg.HoldPeriodDays, &cfg.HoldPolicy,
		&cfg.IsAutomatic, &cfg.IsActive, &cfg.LastProcessedAt, &cfg.NextProcessAt)
	if err != nil {
		return payout.ScheduleConfig{}, err
	}
	if cfg.MinPayoutAmount, err = money.FromString(min, currency); err != nil {
		return payout.ScheduleConfig{}, err
	}
	return cfg, nil
}
