package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"coop-settlement/internal/domain"

	"github.com/shopspring/decimal"
)

var CommissionRate = decimal.RequireFromString("0.02")

type CommissionService struct {
	ids IDGenerator
	now func() time.Time
}

func NewCommissionService(ids IDGenerator) *CommissionService {
	return &CommissionService{ids: ids, now: time.Now}
}

// CommissionBase is the amount a referral commission is computed on: the
// contract value for a full payment, this installment only for an installment.
// Both are the payment's own amount; commission is never taken on the
// installment contract total.
func CommissionBase(p *domain.Payment) decimal.Decimal {
	return p.Amount
}

func CommissionAmount(base decimal.Decimal) decimal.Decimal {
	return base.Mul(CommissionRate).Round(0)
}

// PostCommission inserts the commission entry for a referred payment. It
// returns nil without error when there is nothing to post: no referral code,
// no matching agent, or an entry already exists for the payment.
func (s *CommissionService) PostCommission(ctx context.Context, store CommissionStore, p *domain.Payment) (*domain.CommissionEntry, error) {
	if !p.HasReferral() || !p.Kind.EarnsCommission() {
		return nil, nil
	}

	exists, err := store.CommissionExists(ctx, p.OrderID)
	if err != nil {
		return nil, fmt.Errorf("check commission for %s: %w", p.OrderID, err)
	}
	if exists {
		return nil, nil
	}

	code := *p.ReferralCode
	agent, err := store.FindAgentByReferralCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		log.Printf("[COMMISSION] no agent for referral code %q on payment %s", code, p.OrderID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find agent %q: %w", code, err)
	}

	base := CommissionBase(p)
	entry := &domain.CommissionEntry{
		ID:               s.ids.NewID(),
		PaymentRef:       p.OrderID,
		AgentRef:         agent.ID,
		ReferralCode:     code,
		BaseAmount:       base,
		Rate:             CommissionRate,
		CommissionAmount: CommissionAmount(base),
		EarnedAt:         s.now(),
	}

	inserted, err := store.InsertCommission(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("insert commission for %s: %w", p.OrderID, err)
	}
	if !inserted {
		return nil, nil
	}

	log.Printf("[COMMISSION] posted %s to agent %s for payment %s", entry.CommissionAmount, agent.ID, p.OrderID)
	return entry, nil
}
