package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-pasar/internal/money"
	"github.com/noah-isme/backend-pasar/internal/payment"
)

// PaymentRepo persists payment authorizations. Status transitions are
// compare-and-set at the SQL level so two concurrent captures cannot both
// succeed.
type PaymentRepo struct {
	Pool *pgxpool.Pool
}

// Create inserts a fresh authorization in its initial status.
func (r PaymentRepo) Create(ctx context.Context, auth payment.Authorization) (payment.Authorization, error) {
	now := time.Now().UTC()
	auth.CreatedAt = now
	auth.UpdatedAt = now
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO payment_authorizations (
			id, order_id, currency, amount, status, gateway_reference,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4::numeric,$5,$6,$7,$8)`,
		auth.ID, auth.OrderID, auth.Amount.Currency(), auth.Amount.Amount().String(),
		auth.Status, auth.GatewayReference, auth.CreatedAt, auth.UpdatedAt)
	if err != nil {
		return payment.Authorization{}, err
	}
	return auth, nil
}

// LatestByOrder returns the most recent authorization attempt for an order.
func (r PaymentRepo) LatestByOrder(ctx context.Context, orderID uuid.UUID) (payment.Authorization, error) {
	row := r.Pool.QueryRow(ctx, `
		SELECT id, order_id, currency, amount::text, status, gateway_reference,
		       created_at, updated_at
		FROM payment_authorizations
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, orderID)
	auth, err := scanAuthorization(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return payment.Authorization{}, payment.ErrNotFound
	}
	return auth, err
}

// TransitionIf moves the authorization from one status to another only when
// it is still in the expected status. The state machine itself is enforced
// before touching the database.
func (r PaymentRepo) TransitionIf(ctx context.Context, id uuid.UUID, from, to payment.Status, gatewayRef string) (bool, error) {
	if !payment.AllowedTransition(from, to) {
		return false, payment.ErrInvalidTransition
	}
	tag, err := r.Pool.Exec(ctx, `
		UPDATE payment_authorizations
		SET status = $3,
		    gateway_reference = CASE WHEN $4 <> '' THEN $4 ELSE gateway_reference END,
		    updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, from, to, gatewayRef)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListStranded returns Authorized records older than the cutoff so the
// reconciliation sweep can resolve holds left behind by crashed checkouts.
func (r PaymentRepo) ListStranded(ctx context.Context, olderThan time.Time) ([]payment.Authorization, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT id, order_id, currency, amount::text, status, gateway_reference,
		       created_at, updated_at
		FROM payment_authorizations
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC`,
		payment.StatusAuthorized, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payment.Authorization
	for rows.Next() {
		auth, err := scanAuthorization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, auth)
	}
	return out, rows.Err()
}

func scanAuthorization(row pgx.Row) (payment.Authorization, error) {
	var (
		a        payment.Authorization
		currency string
		amount   string
	)
	err := row.Scan(&a.ID, &a.OrderID, &currency, &amount, &a.Status,
		&a.GatewayReference, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return payment.Authorization{}, err
	}
	if a.Amount, err = money.FromString(amount, currency); err != nil {
		return payment.Authorization{}, err
	}
	return a, nil
}

// InstrumentRepo stores reusable payment instrument tokens. A token lands
// here only after its first capture succeeded.
type InstrumentRepo struct {
	Pool *pgxpool.Pool
}

// SaveToken upserts the vaulted token for the order's buyer instrument.
func (r InstrumentRepo) SaveToken(ctx context.Context, orderID uuid.UUID, token string) error {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO payment_instruments (id, order_id, token, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (order_id) DO UPDATE SET token = EXCLUDED.token`,
		uuid.New(), orderID, token)
	return err
}
