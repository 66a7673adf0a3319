package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"coop-settlement/internal/domain"
)

func (s *Store) GetAssetByContract(ctx context.Context, contractRef string) (*domain.AssetInstance, error) {
	var (
		a       domain.AssetInstance
		history []byte
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, contract_ref, owner_ref, owner_name, category, product_ref, location, plot_ref,
		       provisioning_status, history, created_at
		FROM asset_instances
		WHERE contract_ref = $1
	`, contractRef).Scan(
		&a.ID,
		&a.ContractRef,
		&a.OwnerRef,
		&a.OwnerName,
		&a.Category,
		&a.ProductRef,
		&a.Location,
		&a.PlotRef,
		&a.ProvisioningStatus,
		&history,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &a.History); err != nil {
			return nil, fmt.Errorf("decode asset history of %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

// InsertAsset reports false when the contract already has an asset.
func (s *Store) InsertAsset(ctx context.Context, a *domain.AssetInstance) (bool, error) {
	history, err := json.Marshal(a.History)
	if err != nil {
		return false, fmt.Errorf("encode asset history: %w", err)
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO asset_instances (id, contract_ref, owner_ref, owner_name, category, product_ref, location, plot_ref,
		                             provisioning_status, history, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (contract_ref) DO NOTHING
	`, a.ID, a.ContractRef, a.OwnerRef, a.OwnerName, a.Category, a.ProductRef, a.Location, a.PlotRef,
		a.ProvisioningStatus, history, a.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
