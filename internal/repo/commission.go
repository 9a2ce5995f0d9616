package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pasar/internal/commission"
)

// CommissionRepo reads commission configuration. Seller overrides and store
// rates live in separate tables; the resolver applies the priority order.
type CommissionRepo struct {
	Pool *pgxpool.Pool
}

// SellerOverrides returns the seller's active override rules.
func (r CommissionRepo) SellerOverrides(ctx context.Context, sellerID uuid.UUID) ([]commission.Rate, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT rate_bps, valid_from, valid_until,
		       min_order_value::text, max_order_value::text, priority
		FROM commission_overrides
		WHERE seller_id = $1 AND is_active
		ORDER BY priority DESC`, sellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.Rate
	for rows.Next() {
		var (
			rate     commission.Rate
			minValue *string
			maxValue *string
		)
		if err := rows.Scan(&rate.Bps, &rate.ValidFrom, &rate.ValidUntil,
			&minValue, &maxValue, &rate.Priority); err != nil {
			return nil, err
		}
		if rate.MinOrderValue, err = parseBound(minValue); err != nil {
			return nil, err
		}
		if rate.MaxOrderValue, err = parseBound(maxValue); err != nil {
			return nil, err
		}
		out = append(out, rate)
	}
	return out, rows.Err()
}

func parseBound(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateOverride inserts an active per-seller override and returns its id.
// Bounds are passed as text so the numeric columns keep exact values.
func (r CommissionRepo) CreateOverride(ctx context.Context, sellerID uuid.UUID, rate commission.Rate) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO commission_overrides
			(id, seller_id, rate_bps, valid_from, valid_until,
			 min_order_value, max_order_value, priority, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, TRUE, now())`,
		id, sellerID, rate.Bps, rate.ValidFrom, rate.ValidUntil,
		boundString(rate.MinOrderValue), boundString(rate.MaxOrderValue), rate.Priority)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func boundString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

// StoreRate returns the store's configured rate, if any.
func (r CommissionRepo) StoreRate(ctx context.Context, storeID uuid.UUID) (commission.Rate, bool, error) {
	var rate commission.Rate
	err := r.Pool.QueryRow(ctx, `
		SELECT commission_bps FROM store_commission
		WHERE store_id = $1 AND is_active`, storeID).Scan(&rate.Bps)
	if errors.Is(err, pgx.ErrNoRows) {
		return commission.Rate{}, false, nil
	}
	if err != nil {
		return commission.Rate{}, false, err
	}
	return rate, true, nil
}
