package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"coop-settlement/internal/domain"
)

const placeholderLocation = "TBD"

var assetCategories = []struct {
	keywords []string
	category string
}{
	{[]string{"durian"}, "durian"},
	{[]string{"avocado", "alpukat"}, "avocado"},
	{[]string{"agarwood", "gaharu"}, "agarwood"},
	{[]string{"coffee", "kopi"}, "coffee"},
	{[]string{"mango", "mangga"}, "mango"},
	{[]string{"teak", "jati"}, "teak"},
	{[]string{"cocoa", "kakao"}, "cocoa"},
}

func AssetCategory(productLabel string) string {
	label := strings.ToLower(productLabel)
	for _, c := range assetCategories {
		for _, kw := range c.keywords {
			if strings.Contains(label, kw) {
				return c.category
			}
		}
	}
	return "plant"
}

type ProvisionRequest struct {
	ContractRef string
	Owner       *domain.Person
	ProductRef  string
	// Approved is the contract's administrative approval at provisioning time.
	Approved bool
}

type ProvisioningService struct {
	ids IDGenerator
	now func() time.Time
}

func NewProvisioningService(ids IDGenerator) *ProvisioningService {
	return &ProvisioningService{ids: ids, now: time.Now}
}

// ProvisionIfAbsent returns the asset for the contract, creating it on first
// call. The bool reports whether this call created it.
func (s *ProvisioningService) ProvisionIfAbsent(ctx context.Context, store AssetStore, req ProvisionRequest) (*domain.AssetInstance, bool, error) {
	existing, err := store.GetAssetByContract(ctx, req.ContractRef)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup asset for contract %s: %w", req.ContractRef, err)
	}

	now := s.now()
	status, label := domain.AssetAwaitingApproval, "Payment received, awaiting contract approval"
	if req.Approved {
		status, label = domain.AssetScheduledForPlanting, "Contract approved, planting scheduled"
	}

	asset := &domain.AssetInstance{
		ID:                 s.ids.NewID(),
		ContractRef:        req.ContractRef,
		Category:           AssetCategory(req.ProductRef),
		ProductRef:         req.ProductRef,
		Location:           placeholderLocation,
		PlotRef:            placeholderLocation,
		ProvisioningStatus: status,
		History:            []domain.AssetHistoryEntry{{Status: status, Label: label, CreatedAt: now}},
		CreatedAt:          now,
	}
	if req.Owner != nil {
		asset.OwnerRef = req.Owner.ID
		asset.OwnerName = req.Owner.Name
	}

	inserted, err := store.InsertAsset(ctx, asset)
	if err != nil {
		return nil, false, fmt.Errorf("insert asset for contract %s: %w", req.ContractRef, err)
	}
	if !inserted {
		log.Printf("[ASSET] contract %s provisioned concurrently, using existing asset", req.ContractRef)
		winner, err := store.GetAssetByContract(ctx, req.ContractRef)
		if err != nil {
			return nil, false, fmt.Errorf("reload asset for contract %s: %w", req.ContractRef, err)
		}
		return winner, false, nil
	}

	log.Printf("[ASSET] provisioned asset %s for contract %s (%s)", asset.ID, req.ContractRef, status)
	return asset, true, nil
}
