package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-pasar/internal/allocation"
	"github.com/noah-isme/backend-pasar/internal/checkout"
	"github.com/noah-isme/backend-pasar/internal/money"
	"github.com/noah-isme/backend-pasar/internal/shippingtax"
)

// OrderRepo persists orders and their seller allocations.
type OrderRepo struct {
	Pool *pgxpool.Pool
}

// SaveOrder writes the order row and every seller allocation in one
// transaction. The allocation sums were reconciled by the splitter before
// this runs; a partial write would break that invariant, so it is all or
// nothing.
func (r OrderRepo) SaveOrder(ctx context.Context, order checkout.Order, allocs []allocation.SellerAllocation) (checkout.Order, error) {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return checkout.Order{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	shippingOption, err := json.Marshal(order.ShippingOption)
	if err != nil {
		return checkout.Order{}, err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO orders (
			id, buyer_id, cart_id, currency, status,
			subtotal, shipping, tax, discount, total,
			shipping_option, created_at
		) VALUES ($1,$2,$3,$4,$5,$6::numeric,$7::numeric,$8::numeric,$9::numeric,$10::numeric,$11,$12)`,
		order.ID, order.BuyerID, order.CartID, order.Currency, order.Status,
		order.Totals.Subtotal.Amount().String(), order.Totals.Shipping.Amount().String(),
		order.Totals.Tax.Amount().String(), order.Totals.Discount.Amount().String(),
		order.Totals.Total.Amount().String(), shippingOption, order.CreatedAt)
	if err != nil {
		return checkout.Order{}, fmt.Errorf("repo: insert order: %w", err)
	}

	for _, a := range allocs {
		_, err = tx.Exec(ctx, `
			INSERT INTO seller_allocations (
				id, order_id, seller_id, store_id, currency,
				subtotal, shipping_share, tax_share, discount_share, total
			) VALUES ($1,$2,$3,$4,$5,$6::numeric,$7::numeric,$8::numeric,$9::numeric,$10::numeric)`,
			uuid.New(), order.ID, a.SellerID, a.StoreID, order.Currency,
			a.Subtotal.Amount().String(), a.ShippingShare.Amount().String(),
			a.TaxShare.Amount().String(), a.DiscountShare.Amount().String(), a.Total.Amount().String())
		if err != nil {
			return checkout.Order{}, fmt.Errorf("repo: insert allocation: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return checkout.Order{}, err
	}
	return order, nil
}

// Get loads one order.
func (r OrderRepo) Get(ctx context.Context, id uuid.UUID) (checkout.Order, error) {
	row := r.Pool.QueryRow(ctx, `
		SELECT id, buyer_id, cart_id, currency, status,
		       subtotal::text, shipping::text, tax::text, discount::text, total::text,
		       shipping_option, delivered_at, created_at
		FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

// TotalForOrder reads back the persisted total. The capture path compares
// the authorized amount against this value, never against request state.
func (r OrderRepo) TotalForOrder(ctx context.Context, id uuid.UUID) (money.Money, error) {
	var raw string
	var currency string
	err := r.Pool.QueryRow(ctx,
		`SELECT total::text, currency FROM orders WHERE id = $1`, id).Scan(&raw, &currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return money.Money{}, checkout.ErrOrderNotFound
	}
	if err != nil {
		return money.Money{}, err
	}
	return money.FromString(raw, currency)
}

// MarkDelivered stamps the delivery confirmation exactly once.
func (r OrderRepo) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.Pool.Exec(ctx, `
		UPDATE orders SET delivered_at = $2, status = 'DELIVERED'
		WHERE id = $1 AND delivered_at IS NULL`, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// OrderExists answers the reconciliation sweep's question: was the order
// record durably created for this authorization?
func (r OrderRepo) OrderExists(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var exists bool
	err := r.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists)
	return exists, err
}

func scanOrder(row pgx.Row) (checkout.Order, error) {
	var (
		o                                       checkout.Order
		subtotal, shipping, tax, discount, total string
		shippingOption                          []byte
	)
	err := row.Scan(&o.ID, &o.BuyerID, &o.CartID, &o.Currency, &o.Status,
		&subtotal, &shipping, &tax, &discount, &total,
		&shippingOption, &o.DeliveredAt, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return checkout.Order{}, checkout.ErrOrderNotFound
	}
	if err != nil {
		return checkout.Order{}, err
	}
	if o.Totals.Subtotal, err = money.FromString(subtotal, o.Currency); err != nil {
		return checkout.Order{}, err
	}
	if o.Totals.Shipping, err = money.FromString(shipping, o.Currency); err != nil {
		return checkout.Order{}, err
	}
	if o.Totals.Tax, err = money.FromString(tax, o.Currency); err != nil {
		return checkout.Order{}, err
	}
	if o.Totals.Discount, err = money.FromString(discount, o.Currency); err != nil {
		return checkout.Order{}, err
	}
	if o.Totals.Total, err = money.FromString(total, o.Currency); err != nil {
		return checkout.Order{}, err
	}
	if len(shippingOption) > 0 {
		var opt shippingtax.Option
		if jerr := json.Unmarshal(shippingOption, &opt); jerr == nil {
			o.ShippingOption = opt
		}
	}
	return o, nil
}
