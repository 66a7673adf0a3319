package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"coop-settlement/internal/domain"
)

func (s *Store) GetPerson(ctx context.Context, id string) (*domain.Person, error) {
	var (
		p     domain.Person
		email sql.NullString
		phone sql.NullString
	)
	err := s.q.QueryRowContext(ctx, `SELECT id, name, email, phone FROM persons WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &email, &phone)
	if err != nil {
		return nil, notFound(err)
	}
	p.Email = email.String
	p.Phone = phone.String
	return &p, nil
}

func (s *Store) GetInvestor(ctx context.Context, id string) (*domain.Investor, error) {
	return s.getInvestor(ctx, id, false)
}

func (s *Store) GetInvestorForUpdate(ctx context.Context, id string) (*domain.Investor, error) {
	return s.getInvestor(ctx, id, true)
}

func (s *Store) getInvestor(ctx context.Context, id string, forUpdate bool) (*domain.Investor, error) {
	query := `
		SELECT id, name, email, phone, investments, total_capital, total_paid_in, asset_count, version, created_at, updated_at
		FROM investors
		WHERE id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		iv          domain.Investor
		email       sql.NullString
		phone       sql.NullString
		investments []byte
	)
	err := s.q.QueryRowContext(ctx, query, id).Scan(
		&iv.ID,
		&iv.Name,
		&email,
		&phone,
		&investments,
		&iv.TotalCapital,
		&iv.TotalPaidIn,
		&iv.AssetCount,
		&iv.Version,
		&iv.CreatedAt,
		&iv.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	iv.Email = email.String
	iv.Phone = phone.String

	if len(investments) > 0 {
		if err := json.Unmarshal(investments, &iv.Investments); err != nil {
			return nil, fmt.Errorf("decode investments of %s: %w", id, err)
		}
	}
	return &iv, nil
}

// SaveInvestor writes the aggregate with an optimistic version check. A
// Version of 0 inserts; otherwise the stored version must match. On success
// iv.Version is advanced to the stored value.
func (s *Store) SaveInvestor(ctx context.Context, iv *domain.Investor) error {
	investments, err := json.Marshal(iv.Investments)
	if err != nil {
		return fmt.Errorf("encode investments of %s: %w", iv.ID, err)
	}
	if iv.Investments == nil {
		investments = []byte("[]")
	}

	var res sql.Result
	if iv.Version == 0 {
		res, err = s.q.ExecContext(ctx, `
			INSERT INTO investors (id, name, email, phone, investments, total_capital, total_paid_in, asset_count, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $9)
			ON CONFLICT (id) DO NOTHING
		`, iv.ID, iv.Name, nullString(iv.Email), nullString(iv.Phone), investments,
			iv.TotalCapital, iv.TotalPaidIn, iv.AssetCount, iv.UpdatedAt)
	} else {
		res, err = s.q.ExecContext(ctx, `
			UPDATE investors
			SET investments = $2, total_capital = $3, total_paid_in = $4, asset_count = $5,
			    version = version + 1, updated_at = $6
			WHERE id = $1 AND version = $7
		`, iv.ID, investments, iv.TotalCapital, iv.TotalPaidIn, iv.AssetCount, iv.UpdatedAt, iv.Version)
	}
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("investor %s at version %d: %w", iv.ID, iv.Version, domain.ErrVersionConflict)
	}
	iv.Version++
	return nil
}
