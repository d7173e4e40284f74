package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/promo-core/internal/promo"
)

// PostgresLedger keeps reservations in the same database as the rules
// themselves. The conditional UPDATE on discount_rules both enforces the
// global limit and takes the row lock that serializes per-customer counting
// for that rule.
type PostgresLedger struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

func NewPostgresLedger(pool *pgxpool.Pool, ttl time.Duration) *PostgresLedger {
	return &PostgresLedger{pool: pool, ttl: ttl}
}

func (l *PostgresLedger) Reserve(ctx context.Context, rule promo.Rule, customerID, couponCode string) (Reservation, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return Reservation{}, fmt.Errorf("begin reserve tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE discount_rules
		SET current_usage = current_usage + 1
		WHERE id = $1
		  AND (usage_limit_global IS NULL OR current_usage < usage_limit_global)`,
		rule.ID)
	if err != nil {
		return Reservation{}, fmt.Errorf("claim rule capacity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Reservation{}, ErrConflict
	}

	if rule.UsageLimitPerCustomer != nil {
		var used int
		err = tx.QueryRow(ctx, `
			SELECT (SELECT COUNT(*) FROM rule_redemptions WHERE rule_id = $1 AND customer_id = $2)
			     + (SELECT COUNT(*) FROM rule_reservations WHERE rule_id = $1 AND customer_id = $2 AND status = 'pending')`,
			rule.ID, customerID).Scan(&used)
		if err != nil {
			return Reservation{}, fmt.Errorf("count customer usage: %w", err)
		}
		if used >= *rule.UsageLimitPerCustomer {
			return Reservation{}, ErrConflict
		}
	}

	token := uuid.New()
	expiresAt := time.Now().Add(l.ttl)
	_, err = tx.Exec(ctx, `
		INSERT INTO rule_reservations (token, rule_id, customer_id, coupon_code, status, expires_at)
		VALUES ($1, $2, $3, $4, 'pending', $5)`,
		token, rule.ID, customerID, couponCode, expiresAt)
	if err != nil {
		return Reservation{}, fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Reservation{}, fmt.Errorf("commit reserve tx: %w", err)
	}
	return Reservation{
		Token:      token.String(),
		RuleID:     rule.ID.String(),
		CustomerID: customerID,
		CouponCode: couponCode,
		ExpiresAt:  expiresAt,
	}, nil
}

func (l *PostgresLedger) Commit(ctx context.Context, token string) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var ruleID uuid.UUID
	var customerID, couponCode string
	err = tx.QueryRow(ctx, `
		UPDATE rule_reservations
		SET status = 'committed'
		WHERE token = $1 AND status = 'pending'
		RETURNING rule_id, customer_id, coupon_code`,
		token).Scan(&ruleID, &customerID, &couponCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO rule_redemptions (rule_id, customer_id, coupon_code)
		VALUES ($1, $2, $3)`,
		ruleID, customerID, couponCode)
	if err != nil {
		return fmt.Errorf("record redemption: %w", err)
	}

	if couponCode != "" {
		_, err = tx.Exec(ctx, `
			UPDATE coupon_codes SET usage_count = usage_count + 1 WHERE code = $1`,
			couponCode)
		if err != nil {
			return fmt.Errorf("bump coupon usage: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// PostgresRecorder writes committed redemptions for a ledger whose counters
// live elsewhere. It bumps current_usage on commit rather than on reserve,
// so rules loaded from the database reflect settled consumption while
// pending claims stay in the owning ledger.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

func NewPostgresRecorder(pool *pgxpool.Pool) *PostgresRecorder {
	return &PostgresRecorder{pool: pool}
}

func (r *PostgresRecorder) RecordRedemption(ctx context.Context, red Redemption) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin redemption tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE discount_rules SET current_usage = current_usage + 1 WHERE id = $1`,
		red.RuleID)
	if err != nil {
		return fmt.Errorf("bump rule usage: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO rule_redemptions (rule_id, customer_id, coupon_code)
		VALUES ($1, $2, $3)`,
		red.RuleID, red.CustomerID, red.CouponCode)
	if err != nil {
		return fmt.Errorf("record redemption: %w", err)
	}

	if red.CouponCode != "" {
		_, err = tx.Exec(ctx, `
			UPDATE coupon_codes SET usage_count = usage_count + 1 WHERE code = $1`,
			red.CouponCode)
		if err != nil {
			return fmt.Errorf("bump coupon usage: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit redemption tx: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Release(ctx context.Context, token string) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin release tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := releaseInTx(ctx, tx, token); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit release tx: %w", err)
	}
	return nil
}

func releaseInTx(ctx context.Context, tx pgx.Tx, token string) error {
	var ruleID uuid.UUID
	err := tx.QueryRow(ctx, `
		DELETE FROM rule_reservations
		WHERE token = $1 AND status = 'pending'
		RETURNING rule_id`,
		token).Scan(&ruleID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE discount_rules SET current_usage = current_usage - 1 WHERE id = $1`,
		ruleID)
	if err != nil {
		return fmt.Errorf("return rule capacity: %w", err)
	}
	return nil
}

func (l *PostgresLedger) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin sweep tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT token FROM rule_reservations
		WHERE status = 'pending' AND expires_at <= $1
		FOR UPDATE SKIP LOCKED`,
		now)
	if err != nil {
		return 0, fmt.Errorf("scan expired reservations: %w", err)
	}
	tokens, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return 0, fmt.Errorf("collect expired reservations: %w", err)
	}

	for _, token := range tokens {
		if err := releaseInTx(ctx, tx, token.String()); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit sweep tx: %w", err)
	}
	return len(tokens), nil
}
