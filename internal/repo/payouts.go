package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-pasar/internal/money"
	"github.com/noah-isme/backend-pasar/internal/payout"
)

// eligibleAllocationsSQL selects released allocations not yet attached to a
// payout. The release instant is derived from the active schedule config:
// the hold period counts from delivery confirmation or from order placement,
// depending on the configured hold policy.
const eligibleAllocationsSQL = `
	WITH cfg AS (
		SELECT hold_period_days, hold_policy
		FROM payout_schedule_config
		WHERE is_active
		ORDER BY created_at DESC
		LIMIT 1
	)
	SELECT a.order_id, a.seller_id, a.store_id, a.total::text, a.currency,
	       CASE WHEN cfg.hold_policy = 'delivery-confirmed'
	            THEN o.delivered_at ELSE o.created_at
	       END + make_interval(days => cfg.hold_period_days) AS released_at
	FROM seller_allocations a
	JOIN orders o ON o.id = a.order_id
	CROSS JOIN cfg
	WHERE a.payout_id IS NULL
	  AND (cfg.hold_policy <> 'delivery-confirmed' OR o.delivered_at IS NOT NULL)
	  AND CASE WHEN cfg.hold_policy = 'delivery-confirmed'
	           THEN o.delivered_at ELSE o.created_at
	      END + make_interval(days => cfg.hold_period_days) <= $1`

// PayoutRepo persists payouts and reads the allocation ledger they are cut
// from.
type PayoutRepo struct {
	Pool *pgxpool.Pool
}

// EligibleAllocations lists the seller's released, unattached allocations as
// of the given instant.
func (r PayoutRepo) EligibleAllocations(ctx context.Context, sellerID uuid.UUID, asOf time.Time) ([]payout.EligibleAllocation, error) {
	rows, err := r.Pool.Query(ctx,
		eligibleAllocationsSQL+` AND a.seller_id = $2 ORDER BY released_at ASC`,
		asOf, sellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payout.EligibleAllocation
	for rows.Next() {
		var (
			a        payout.EligibleAllocation
			total    string
			currency string
		)
		if err := rows.Scan(&a.OrderID, &a.SellerID, &a.StoreID, &total, &currency, &a.ReleasedAt); err != nil {
			return nil, err
		}
		if a.Total, err = money.FromString(total, currency); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// EligibleSellers lists sellers holding at least one released, unattached
// allocation.
func (r PayoutRepo) EligibleSellers(ctx context.Context, asOf time.Time) ([]uuid.UUID, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT DISTINCT seller_id FROM (`+eligibleAllocationsSQL+`) eligible`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// PendingBalance sums the seller's released, unattached allocations in one
// currency.
func (r PayoutRepo) PendingBalance(ctx context.Context, sellerID uuid.UUID, currency string) (money.Money, error) {
	var sum string
	err := r.Pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(total::numeric), 0)::text FROM (`+eligibleAllocationsSQL+
			` AND a.seller_id = $2 AND a.currency = $3) eligible`,
		time.Now().UTC(), sellerID, currency).Scan(&sum)
	if err != nil {
		return money.Money{}, err
	}
	return money.FromString(sum, currency)
}

// CreatePayout inserts the payout row and links the consumed allocations to
// it in one transaction. An allocation already claimed by a concurrent run
// stays with its first payout; the insert is aborted so nothing is paid
// twice.
func (r PayoutRepo) CreatePayout(ctx context.Context, p payout.Payout, orderIDs []uuid.UUID) (payout.Payout, error) {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return payout.Payout{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO payouts (
			id, seller_id, store_id, currency, amount, commission_count,
			status, payment_method, period_start, period_end, scheduled_at,
			notes, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5::numeric,$6,$7,$8,$9,$10,$11,$12,now(),now())`,
		p.ID, p.SellerID, p.StoreID, p.Currency, p.Amount.Amount().String(),
		p.CommissionCount, p.Status, p.PaymentMethod,
		p.PeriodStart, p.PeriodEnd, p.ScheduledAt, p.Notes)
	if err != nil {
		return payout.Payout{}, fmt.Errorf("repo: insert payout: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE seller_allocations SET payout_id = $1
		WHERE seller_id = $2 AND order_id = ANY($3) AND payout_id IS NULL`,
		p.ID, p.SellerID, orderIDs)
	if err != nil {
		return payout.Payout{}, fmt.Errorf("repo: link allocations: %w", err)
	}
	if int(tag.RowsAffected()) != len(orderIDs) {
		return payout.Payout{}, fmt.Errorf("repo: linked %d of %d allocations, aborting payout",
			tag.RowsAffected(), len(orderIDs))
	}

	if err := tx.Commit(ctx); err != nil {
		return payout.Payout{}, err
	}
	return p, nil
}

// Get loads one payout.
func (r PayoutRepo) Get(ctx context.Context, id uuid.UUID) (payout.Payout, error) {
	row := r.Pool.QueryRow(ctx, payoutSelect+` WHERE id = $1`, id)
	p, err := scanPayout(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return payout.Payout{}, payout.ErrNotFound
	}
	return p, err
}

// UpdateStatusIf moves the payout between statuses only when it is still in
// the expected one, stamping the outcome fields in the same statement.
func (r PayoutRepo) UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to payout.Status, stamp payout.StatusStamp) (bool, error) {
	if !payout.AllowedTransition(from, to) {
		return false, payout.ErrInvalidTransition
	}
	tag, err := r.Pool.Exec(ctx, `
		UPDATE payouts
		SET status = $3,
		    payment_reference = CASE WHEN $4 <> '' THEN $4 ELSE payment_reference END,
		    processed_at = COALESCE($5, processed_at),
		    failure_reason = CASE WHEN $6 <> '' THEN $6 ELSE failure_reason END,
		    notes = CASE WHEN $7 <> '' THEN $7 ELSE notes END,
		    updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, from, to, stamp.PaymentReference, stamp.ProcessedAt,
		stamp.FailureReason, stamp.Notes)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AdjustAmount rewrites the payout amount and appends the adjustment note,
// only while the payout is still PENDING.
func (r PayoutRepo) AdjustAmount(ctx context.Context, id uuid.UUID, amount money.Money, note string) (bool, error) {
	tag, err := r.Pool.Exec(ctx, `
		UPDATE payouts
		SET amount = $2::numeric,
		    notes = trim(both E'\n' from notes || E'\n' || $3),
		    updated_at = now()
		WHERE id = $1 AND status = $4`,
		id, amount.Amount().String(), note, payout.StatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListByStatus returns payouts in one status, oldest first.
func (r PayoutRepo) ListByStatus(ctx context.Context, status payout.Status, limit int) ([]payout.Payout, error) {
	rows, err := r.Pool.Query(ctx,
		payoutSelect+` WHERE status = $1 ORDER BY scheduled_at ASC LIMIT $2`,
		status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayouts(rows)
}

// List returns a page of payouts matching the filter, newest first, plus the
// total match count.
func (r PayoutRepo) List(ctx context.Context, filter payout.ListFilter) ([]payout.Payout, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.SellerID != nil {
		args = append(args, *filter.SellerID)
		where += fmt.Sprintf(` AND seller_id = $%d`, len(args))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}

	var total int
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM payouts`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (filter.Page - 1) * filter.PerPage
	args = append(args, filter.PerPage, offset)
	rows, err := r.Pool.Query(ctx,
		payoutSelect+where+fmt.Sprintf(` ORDER BY scheduled_at DESC LIMIT $%d OFFSET $%d`,
			len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out, err := collectPayouts(rows)
	return out, total, err
}

// Statistics aggregates payout counts and amounts by status.
func (r PayoutRepo) Statistics(ctx context.Context) (payout.Statistics, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(amount), 0)::text
		FROM payouts
		GROUP BY status`)
	if err != nil {
		return payout.Statistics{}, err
	}
	defer rows.Close()

	var stats payout.Statistics
	for rows.Next() {
		var (
			status payout.Status
			bucket payout.StatusCount
		)
		if err := rows.Scan(&status, &bucket.Count, &bucket.Amount); err != nil {
			return payout.Statistics{}, err
		}
		switch status {
		case payout.StatusPending:
			stats.Pending = bucket
		case payout.StatusProcessing:
			stats.Processing = bucket
		case payout.StatusCompleted:
			stats.Completed = bucket
		case payout.StatusFailed:
			stats.Failed = bucket
		}
	}
	return stats, rows.Err()
}

const payoutSelect = `
	SELECT id, seller_id, store_id, currency, amount::text, commission_count,
	       status, payment_method, period_start, period_end, scheduled_at,
	       processed_at, payment_reference, notes, failure_reason
	FROM payouts`

func scanPayout(row pgx.Row) (payout.Payout, error) {
	var (
		p      payout.Payout
		amount string
	)
	err := row.Scan(&p.ID, &p.SellerID, &p.StoreID, &p.Currency, &amount,
		&p.CommissionCount, &p.Status, &p.PaymentMethod,
		&p.PeriodStart, &p.PeriodEnd, &p.ScheduledAt,
		&p.ProcessedAt, &p.PaymentReference, &p.Notes, &p.FailureReason)
	if err != nil {
		return payout.Payout{}, err
	}
	if p.Amount, err = money.FromString(amount, p.Currency); err != nil {
		return payout.Payout{}, err
	}
	return p, nil
}

func collectPayouts(rows pgx.Rows) ([]payout.Payout, error) {
	var out []payout.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
