package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"coop-settlement/internal/domain"
)

const paymentColumns = `order_id, chain_id, installment_number, user_ref, product_ref, amount, currency, kind,
	due_date, total_installments, installment_amount, payment_term_period, payment_method, referral_code,
	processed, status, paid_at, settlement_result, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var (
		p        domain.Payment
		number   sql.NullInt64
		total    sql.NullInt64
		dueDate  sql.NullTime
		paidAt   sql.NullTime
		referral sql.NullString
		method   sql.NullString
		period   sql.NullString
		result   []byte
	)
	if err := row.Scan(
		&p.OrderID,
		&p.ChainID,
		&number,
		&p.UserRef,
		&p.ProductRef,
		&p.Amount,
		&p.Currency,
		&p.Kind,
		&dueDate,
		&total,
		&p.InstallmentAmount,
		&period,
		&method,
		&referral,
		&p.Processed,
		&p.Status,
		&paidAt,
		&result,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	p.InstallmentNumber = int(number.Int64)
	p.TotalInstallments = int(total.Int64)
	p.PaymentTermPeriod = domain.PaymentTermPeriod(period.String)
	p.PaymentMethod = method.String
	if dueDate.Valid {
		p.DueDate = &dueDate.Time
	}
	if paidAt.Valid {
		p.PaidAt = &paidAt.Time
	}
	if referral.Valid {
		p.ReferralCode = &referral.String
	}
	if len(result) > 0 {
		var res domain.SettlementResult
		if err := json.Unmarshal(result, &res); err != nil {
			return nil, fmt.Errorf("decode settlement result of %s: %w", p.OrderID, err)
		}
		p.SettlementResult = &res
	}
	return &p, nil
}

func (s *Store) GetPayment(ctx context.Context, orderID string) (*domain.Payment, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID)
	p, err := scanPayment(row)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (s *Store) GetPaymentForUpdate(ctx context.Context, orderID string) (*domain.Payment, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 FOR UPDATE`, orderID)
	p, err := scanPayment(row)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (s *Store) FindInstallmentPayment(ctx context.Context, chainID string, number int) (*domain.Payment, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE chain_id = $1 AND installment_number = $2 ORDER BY created_at LIMIT 1`,
		chainID, number)
	p, err := scanPayment(row)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// InsertPayment reports false when a payment with the same order id or the
// same chain slot already exists.
func (s *Store) InsertPayment(ctx context.Context, p *domain.Payment) (bool, error) {
	result, err := encodeResult(p.SettlementResult)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT DO NOTHING
	`
	res, err := s.q.ExecContext(ctx, query,
		p.OrderID,
		p.ChainID,
		nullInt(p.InstallmentNumber),
		p.UserRef,
		p.ProductRef,
		p.Amount,
		p.Currency,
		p.Kind,
		p.DueDate,
		nullInt(p.TotalInstallments),
		p.InstallmentAmount,
		nullString(string(p.PaymentTermPeriod)),
		nullString(p.PaymentMethod),
		p.ReferralCode,
		p.Processed,
		p.Status,
		p.PaidAt,
		result,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	result, err := encodeResult(p.SettlementResult)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE payments
		SET processed = $2, status = $3, paid_at = $4, settlement_result = $5, updated_at = $6
		WHERE order_id = $1
	`, p.OrderID, p.Processed, p.Status, p.PaidAt, result, p.UpdatedAt)
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

func encodeResult(r *domain.SettlementResult) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	// the stamp reference lives on the contract
	stored := *r
	stored.StampRef = nil
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encode settlement result: %w", err)
	}
	return data, nil
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
