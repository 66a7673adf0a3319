package repository

import (
	"context"
	"database/sql"

	"coop-settlement/internal/domain"
)

func (s *Store) FindAgentByReferralCode(ctx context.Context, code string) (*domain.Agent, error) {
	var (
		a    domain.Agent
		name sql.NullString
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, name, referral_code, active
		FROM agents
		WHERE referral_code = $1 AND active = TRUE
	`, code).Scan(&a.ID, &name, &a.ReferralCode, &a.Active)
	if err != nil {
		return nil, notFound(err)
	}
	a.Name = name.String
	return &a, nil
}

func (s *Store) CommissionExists(ctx context.Context, paymentRef string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM commission_entries WHERE payment_ref = $1)`, paymentRef).Scan(&exists)
	return exists, err
}

// InsertCommission reports false when the payment already has an entry.
func (s *Store) InsertCommission(ctx context.Context, e *domain.CommissionEntry) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO commission_entries (id, payment_ref, agent_ref, referral_code, base_amount, rate, commission_amount, earned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (payment_ref) DO NOTHING
	`, e.ID, e.PaymentRef, e.AgentRef, e.ReferralCode, e.BaseAmount, e.Rate, e.CommissionAmount, e.EarnedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) ListCommissions(ctx context.Context, agentRef string) ([]domain.CommissionEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, payment_ref, agent_ref, referral_code, base_amount, rate, commission_amount, earned_at
		FROM commission_entries
		WHERE agent_ref = $1
		ORDER BY earned_at
	`, agentRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CommissionEntry
	for rows.Next() {
		var e domain.CommissionEntry
		if err := rows.Scan(&e.ID, &e.PaymentRef, &e.AgentRef, &e.ReferralCode, &e.BaseAmount, &e.Rate, &e.CommissionAmount, &e.EarnedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
