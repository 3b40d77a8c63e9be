package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"sweeper/internal/types"
)

// BillingRepository provides data access for the nags and tips tables. Nags
// are append-only reminder records; tips track payment attempts whose
// paid/refunded state is driven by provider webhooks.
type BillingRepository struct {
	db DBTX
}

// NewBillingRepository creates a new BillingRepository backed by the given
// database connection (pool or transaction).
func NewBillingRepository(db DBTX) *BillingRepository {
	return &BillingRepository{db: db}
}

// CreateNag records that a reminder was sent to the user at ts.
func (r *BillingRepository) CreateNag(ctx context.Context, userID string, ts time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO nags (user_id, timestamp) VALUES ($1, $2)`,
		userID, ts.UTC(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create nag", err)
	}
	return nil
}

// LastNagAt returns the timestamp of the most recent reminder sent to the
// user, or nil when the user has never been nagged.
func (r *BillingRepository) LastNagAt(ctx context.Context, userID string) (*time.Time, error) {
	var ts time.Time
	err := r.db.QueryRow(ctx,
		`SELECT timestamp FROM nags
		 WHERE user_id = $1
		 ORDER BY timestamp DESC
		 LIMIT 1`,
		userID,
	).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to find last nag", err)
	}
	return &ts, nil
}

// HasPaidTipSince reports whether the user has a paid, unrefunded tip at or
// after since. Paying supporters are not nagged.
func (r *BillingRepository) HasPaidTipSince(ctx context.Context, userID string, since time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM tips
		   WHERE user_id = $1 AND paid = TRUE AND refunded = FALSE AND timestamp >= $2
		 )`,
		userID, since.UTC(),
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check for paid tips", err)
	}
	return exists, nil
}

// CreateTip records a new payment attempt keyed by the provider charge id.
func (r *BillingRepository) CreateTip(ctx context.Context, t *types.Tip) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO tips (user_id, charge_id, amount_cents, paid, refunded, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.UserID, t.ChargeID, t.AmountCents, t.Paid, t.Refunded, t.Timestamp.UTC(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create tip", err)
	}
	return nil
}

// MarkTipPaid flips the paid flag for the tip with the given charge id.
// Returns ErrCodeNotFoundTip when no such tip exists.
func (r *BillingRepository) MarkTipPaid(ctx context.Context, chargeID string) error {
	return r.setTipFlag(ctx, chargeID, `UPDATE tips SET paid = TRUE WHERE charge_id = $1`)
}

// MarkTipRefunded flips the refunded flag for the tip with the given charge
// id. Returns ErrCodeNotFoundTip when no such tip exists.
func (r *BillingRepository) MarkTipRefunded(ctx context.Context, chargeID string) error {
	return r.setTipFlag(ctx, chargeID, `UPDATE tips SET refunded = TRUE WHERE charge_id = $1`)
}

// ListTips returns the user's payment attempts, newest first.
func (r *BillingRepository) ListTips(ctx context.Context, userID string) ([]*types.Tip, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, charge_id, amount_cents, paid, refunded, timestamp
		 FROM tips
		 WHERE user_id = $1
		 ORDER BY timestamp DESC`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list tips", err)
	}
	defer rows.Close()

	var tips []*types.Tip
	for rows.Next() {
		var t types.Tip
		if err := rows.Scan(&t.ID, &t.UserID, &t.ChargeID, &t.AmountCents, &t.Paid, &t.Refunded, &t.Timestamp); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan tip", err)
		}
		tips = append(tips, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list tips", err)
	}
	return tips, nil
}

func (r *BillingRepository) setTipFlag(ctx context.Context, chargeID, sql string) error {
	tag, err := r.db.Exec(ctx, sql, chargeID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update tip", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTip, "tip not found", nil)
	}
	return nil
}
