package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"coop-settlement/internal/domain"
)

const defaultStampTimeout = 30 * time.Second

var ErrStampingNotConfigured = errors.New("stamping provider not configured")

type StampingStore interface {
	GetContract(ctx context.Context, id string) (*domain.Contract, error)
	GetInvestor(ctx context.Context, id string) (*domain.Investor, error)
	GetAssetByContract(ctx context.Context, contractRef string) (*domain.AssetInstance, error)
	SaveContractStamp(ctx context.Context, id string, st domain.StampState) (bool, error)
}

type StampingService struct {
	store     StampingStore
	renderer  DocumentRenderer
	provider  StampingProvider
	docs      DocumentStore
	notifier  Notifier
	placement domain.StampPlacement
	timeout   time.Duration
	now       func() time.Time
}

func NewStampingService(
	store StampingStore,
	renderer DocumentRenderer,
	provider StampingProvider,
	docs DocumentStore,
	placement domain.StampPlacement,
	timeout time.Duration,
) *StampingService {
	if timeout <= 0 {
		timeout = defaultStampTimeout
	}
	return &StampingService{
		store:     store,
		renderer:  renderer,
		provider:  provider,
		docs:      docs,
		placement: placement,
		timeout:   timeout,
		now:       time.Now,
	}
}

func (s *StampingService) WithNotifier(n Notifier) *StampingService {
	s.notifier = n
	return s
}

// MaybeStamp stamps an approved, not yet stamped contract and returns the
// stamp reference. It returns (nil, nil) while the contract is unapproved and
// the existing reference when the contract is already stamped. A failed or
// timed out stamping attempt leaves the contract unstamped for a later retry.
func (s *StampingService) MaybeStamp(ctx context.Context, contractRef string) (*string, error) {
	contract, err := s.store.GetContract(ctx, contractRef)
	if err != nil {
		return nil, fmt.Errorf("load contract %s: %w", contractRef, err)
	}
	if contract.Stamp.Stamped {
		return contract.Stamp.StampRef, nil
	}
	if !contract.IsApproved() {
		return nil, nil
	}
	if s.renderer == nil || s.provider == nil {
		return nil, ErrStampingNotConfigured
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	doc := s.buildDocument(ctx, contract)

	pdf, err := s.renderer.Render(callCtx, doc)
	if err != nil {
		log.Printf("[STAMP] render contract %s failed: %v", contractRef, err)
		return nil, fmt.Errorf("render contract %s: %w", contractRef, err)
	}

	stamped, err := s.provider.Stamp(callCtx, pdf, s.placement)
	if err != nil {
		log.Printf("[STAMP] stamp contract %s failed: %v", contractRef, err)
		return nil, fmt.Errorf("stamp contract %s: %w", contractRef, err)
	}
	if stamped == nil || stamped.Reference == "" {
		return nil, fmt.Errorf("stamp contract %s: provider returned no reference", contractRef)
	}

	now := s.now()
	ref := stamped.Reference
	state := domain.StampState{Stamped: true, StampRef: &ref, StampedAt: &now}

	if len(stamped.Content) > 0 && s.docs != nil {
		key, err := s.docs.SaveDocument(ctx, fmt.Sprintf("contract_%s_stamped.pdf", contractRef), stamped.Content)
		if err != nil {
			log.Printf("[STAMP] archive stamped contract %s failed: %v", contractRef, err)
		} else {
			state.DocumentKey = &key
		}
	}

	saved, err := s.store.SaveContractStamp(ctx, contractRef, state)
	if err != nil {
		return nil, fmt.Errorf("save stamp for contract %s: %w", contractRef, err)
	}
	if !saved {
		current, err := s.store.GetContract(ctx, contractRef)
		if err != nil {
			return nil, fmt.Errorf("reload contract %s: %w", contractRef, err)
		}
		log.Printf("[STAMP] contract %s was stamped concurrently, discarding %s", contractRef, ref)
		return current.Stamp.StampRef, nil
	}

	log.Printf("[STAMP] contract %s stamped: %s", contractRef, ref)

	if s.notifier != nil && contract.InvestorRef != "" {
		if err := s.notifier.NotifyContractStamped(ctx, contract.InvestorRef, contractRef, ref); err != nil {
			log.Printf("[STAMP] notify investor %s failed: %v", contract.InvestorRef, err)
		}
	}

	return &ref, nil
}

func (s *StampingService) buildDocument(ctx context.Context, c *domain.Contract) domain.ContractDocument {
	doc := domain.ContractDocument{
		ContractRef: c.ID,
		ProductRef:  c.ProductRef,
		TotalAmount: c.TotalAmount,
		InvestorRef: c.InvestorRef,
		GeneratedAt: s.now(),
	}

	if c.InvestorRef != "" {
		iv, err := s.store.GetInvestor(ctx, c.InvestorRef)
		if err != nil {
			log.Printf("[STAMP] investor %s for contract %s unavailable: %v", c.InvestorRef, c.ID, err)
		} else {
			doc.InvestorName = iv.Name
			doc.InvestorEmail = iv.Email
			doc.InvestorPhone = iv.Phone
			if inv := iv.Investment(c.ID); inv != nil {
				doc.AmountPaid = inv.AmountPaid
				if doc.TotalAmount.IsZero() {
					doc.TotalAmount = inv.TotalAmount
				}
			}
		}
	}

	asset, err := s.store.GetAssetByContract(ctx, c.ID)
	if err != nil {
		log.Printf("[STAMP] asset for contract %s unavailable: %v", c.ID, err)
	} else {
		doc.AssetRef = asset.ID
		doc.AssetCategory = asset.Category
		doc.Location = asset.Location
		doc.PlotRef = asset.PlotRef
	}

	return doc
}
