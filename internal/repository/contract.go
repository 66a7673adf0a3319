package repository

import (
	"context"
	"database/sql"

	"coop-settlement/internal/domain"
)

func (s *Store) GetContract(ctx context.Context, id string) (*domain.Contract, error) {
	var (
		c           domain.Contract
		investorRef sql.NullString
		approval    sql.NullString
		stampRef    sql.NullString
		stampedAt   sql.NullTime
		documentKey sql.NullString
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, investor_ref, product_ref, total_amount, admin_approval_status, status, payment_completed,
		       stamped, stamp_ref, stamped_at, document_key
		FROM contracts
		WHERE id = $1
	`, id).Scan(
		&c.ID,
		&investorRef,
		&c.ProductRef,
		&c.TotalAmount,
		&approval,
		&c.Status,
		&c.PaymentCompleted,
		&c.Stamp.Stamped,
		&stampRef,
		&stampedAt,
		&documentKey,
	)
	if err != nil {
		return nil, notFound(err)
	}

	c.InvestorRef = investorRef.String
	c.AdminApprovalStatus = approval.String
	if stampRef.Valid {
		c.Stamp.StampRef = &stampRef.String
	}
	if stampedAt.Valid {
		c.Stamp.StampedAt = &stampedAt.Time
	}
	if documentKey.Valid {
		c.Stamp.DocumentKey = &documentKey.String
	}
	return &c, nil
}

func (s *Store) MarkContractPaymentCompleted(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE contracts SET payment_completed = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SaveContractStamp records the first successful stamp. A contract that is
// already stamped keeps its original reference and false is returned.
func (s *Store) SaveContractStamp(ctx context.Context, id string, st domain.StampState) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE contracts
		SET stamped = $2, stamp_ref = $3, stamped_at = $4, document_key = $5
		WHERE id = $1 AND stamped = FALSE
	`, id, st.Stamped, st.StampRef, st.StampedAt, st.DocumentKey)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := s.GetContract(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}
