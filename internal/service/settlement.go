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

const defaultLockTTL = 2 * time.Minute

type Stamper interface {
	MaybeStamp(ctx context.Context, contractRef string) (*string, error)
}

type SettlementService struct {
	store       Store
	commissions *CommissionService
	assets      *ProvisioningService
	stamping    Stamper
	ids         IDGenerator
	locker      Locker
	notifier    Notifier
	lockTTL     time.Duration
	now         func() time.Time
}

func NewSettlementService(
	store Store,
	commissions *CommissionService,
	assets *ProvisioningService,
	stamping Stamper,
	ids IDGenerator,
) *SettlementService {
	return &SettlementService{
		store:       store,
		commissions: commissions,
		assets:      assets,
		stamping:    stamping,
		ids:         ids,
		lockTTL:     defaultLockTTL,
		now:         time.Now,
	}
}

func (s *SettlementService) WithLocker(l Locker, ttl time.Duration) *SettlementService {
	s.locker = l
	if ttl > 0 {
		s.lockTTL = ttl
	}
	return s
}

func (s *SettlementService) WithNotifier(n Notifier) *SettlementService {
	s.notifier = n
	return s
}

// settlement carries what the transaction decided to the post-commit steps.
type settlement struct {
	payment     *domain.Payment
	result      *domain.SettlementResult
	next        *domain.Payment
	stampTarget string
}

// Settle applies a confirmed payment to the ledger. Calling it again for a
// processed payment returns the stored result without touching the ledger.
func (s *SettlementService) Settle(ctx context.Context, orderID string) (*domain.SettlementResult, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", domain.ErrInvalidPayment)
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, "settlement:"+orderID, s.lockTTL)
		switch {
		case errors.Is(err, domain.ErrSettlementInProgress):
			return nil, err
		case err != nil:
			log.Printf("[SETTLE] lock unavailable for %s, relying on row lock: %v", orderID, err)
		default:
			defer release()
		}
	}

	var st *settlement
	err := s.store.WithinTx(ctx, func(ctx context.Context, l Ledger) error {
		p, err := l.GetPaymentForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if p.Processed {
			st = &settlement{payment: p, result: priorResult(p)}
			return s.attachStampRef(ctx, l, st)
		}
		st, err = s.apply(ctx, l, p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("settle payment %s: %w", orderID, err)
	}

	if st.result.AlreadyProcessed {
		log.Printf("[SETTLE] payment %s already processed", orderID)
		return st.result, nil
	}

	if st.stampTarget != "" && s.stamping != nil {
		ref, err := s.stamping.MaybeStamp(ctx, st.stampTarget)
		if err != nil {
			log.Printf("[SETTLE] stamping contract %s deferred: %v", st.stampTarget, err)
			st.result.Warn(fmt.Sprintf("stamping failed: %v", err))
		} else {
			st.result.StampRef = ref
		}
	}

	s.notify(ctx, st)

	log.Printf("[SETTLE] payment %s settled (asset_created=%t next=%v commission=%v)",
		orderID, st.result.AssetCreated, deref(st.result.NextInstallmentID), deref(st.result.CommissionID))

	return st.result, nil
}

func (s *SettlementService) apply(ctx context.Context, l Ledger, p *domain.Payment) (*settlement, error) {
	if err := validatePayment(p); err != nil {
		return nil, err
	}
	if !p.Status.CanTransition(domain.PaymentStatusCompleted) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, p.Status, domain.PaymentStatusCompleted)
	}

	st := &settlement{
		payment: p,
		result:  &domain.SettlementResult{PaymentID: p.OrderID},
	}

	contract, err := l.GetContract(ctx, p.ContractRef())
	switch {
	case errors.Is(err, domain.ErrNotFound):
		contract = nil
		st.result.Warn(fmt.Sprintf("contract %s not found", p.ContractRef()))
	case err != nil:
		return nil, fmt.Errorf("load contract %s: %w", p.ContractRef(), err)
	}

	person, err := l.GetPerson(ctx, p.UserRef)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		person = nil
		log.Printf("[SETTLE] data integrity: owning person %q of payment %s not found", p.UserRef, p.OrderID)
		st.result.Warn(fmt.Sprintf("owning person %q not found; ledger not updated", p.UserRef))
	case err != nil:
		return nil, fmt.Errorf("load person %s: %w", p.UserRef, err)
	}

	switch p.Kind {
	case domain.PaymentKindFull:
		err = s.settleFull(ctx, l, st, person, contract)
	case domain.PaymentKindInstallment:
		err = s.settleInstallment(ctx, l, st, person, contract)
	}
	if err != nil {
		return nil, err
	}

	if p.HasReferral() && p.Kind.EarnsCommission() {
		err := l.WithinSavepoint(ctx, "commission", func() error {
			entry, err := s.commissions.PostCommission(ctx, l, p)
			if err != nil {
				return err
			}
			if entry != nil {
				st.result.CommissionID = &entry.ID
			}
			return nil
		})
		if err != nil {
			log.Printf("[SETTLE] commission for payment %s not posted: %v", p.OrderID, err)
			st.result.Warn(fmt.Sprintf("commission not posted: %v", err))
		}
	}

	now := s.now()
	p.Processed = true
	p.Status = domain.PaymentStatusCompleted
	p.PaidAt = &now
	p.UpdatedAt = now
	p.SettlementResult = st.result
	if err := l.UpdatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("update payment %s: %w", p.OrderID, err)
	}

	return st, nil
}

func (s *SettlementService) settleFull(ctx context.Context, l Ledger, st *settlement, person *domain.Person, contract *domain.Contract) error {
	p := st.payment
	ref := p.ContractRef()
	approved := contract != nil && contract.IsApproved()

	if person != nil {
		asset, created, err := s.assets.ProvisionIfAbsent(ctx, l, ProvisionRequest{
			ContractRef: ref,
			Owner:       person,
			ProductRef:  p.ProductRef,
			Approved:    approved,
		})
		if err != nil {
			return err
		}
		st.result.AssetCreated = created

		iv, err := s.loadInvestor(ctx, l, person)
		if err != nil {
			return err
		}

		if inv := iv.Investment(ref); inv != nil {
			inv.AssetRef = asset.ID
			inv.Status = domain.InvestmentCompleted
			// a second full-payment event for the same contract must not add the amount again
			if !inv.AmountPaid.IsPositive() {
				inv.AmountPaid = p.Amount
				if !inv.TotalAmount.IsPositive() {
					inv.TotalAmount = p.Amount
				}
			}
		} else {
			iv.AddInvestment(domain.Investment{
				InvestmentID: ref,
				ProductRef:   p.ProductRef,
				Kind:         domain.PaymentKindFull,
				TotalAmount:  p.Amount,
				AmountPaid:   p.Amount,
				Status:       domain.InvestmentCompleted,
				AssetRef:     asset.ID,
			})
		}

		if err := s.saveInvestor(ctx, l, iv); err != nil {
			return err
		}
		st.result.InvestorUpdated = true
	}

	if contract != nil {
		if err := l.MarkContractPaymentCompleted(ctx, contract.ID); err != nil {
			return fmt.Errorf("mark contract %s paid: %w", contract.ID, err)
		}
		if approved {
			st.stampTarget = contract.ID
		}
	}

	return nil
}

func (s *SettlementService) settleInstallment(ctx context.Context, l Ledger, st *settlement, person *domain.Person, contract *domain.Contract) error {
	p := st.payment
	ref := p.ContractRef()
	approved := contract != nil && contract.IsApproved()
	final := p.InstallmentNumber == p.TotalInstallments
	now := s.now()
	due := s.dueDate(p)

	paid := domain.Installment{
		Number:   p.InstallmentNumber,
		Amount:   p.Amount,
		DueDate:  due,
		IsPaid:   true,
		PaidDate: &now,
		Status:   domain.InstallmentApproved,
	}

	var iv *domain.Investor
	if person != nil {
		var err error
		iv, err = s.loadInvestor(ctx, l, person)
		if err != nil {
			return err
		}
	}

	if iv != nil && p.InstallmentNumber == 1 {
		asset, created, err := s.assets.ProvisionIfAbsent(ctx, l, ProvisionRequest{
			ContractRef: ref,
			Owner:       person,
			ProductRef:  p.ProductRef,
			Approved:    approved,
		})
		if err != nil {
			return err
		}
		st.result.AssetCreated = created

		// the contract total is fixed at signing; AmountPaid tracks cash received
		total := contractTotal(p, contract)
		inv := iv.Investment(ref)
		if inv == nil {
			inv = iv.AddInvestment(domain.Investment{
				InvestmentID: ref,
				ProductRef:   p.ProductRef,
				Kind:         domain.PaymentKindInstallment,
				TotalAmount:  total,
				AmountPaid:   p.Amount,
				Status:       domain.InvestmentActive,
			})
		} else if !inv.AmountPaid.IsPositive() {
			inv.TotalAmount = total
			inv.AmountPaid = p.Amount
			inv.Status = domain.InvestmentActive
		}
		inv.AssetRef = asset.ID
		inv.PutInstallment(paid)
		if final {
			inv.Status = domain.InvestmentCompleted
		}
	} else if iv != nil {
		inv := iv.Investment(ref)
		if inv == nil {
			log.Printf("[SETTLE] data integrity: investment %s missing for installment %d of payment %s",
				ref, p.InstallmentNumber, p.OrderID)
			st.result.Warn(fmt.Sprintf("investment %s not found for installment %d", ref, p.InstallmentNumber))
		} else {
			inv.PutInstallment(paid)
			// each installment number is processed at most once, guarded by Processed
			inv.AmountPaid = inv.AmountPaid.Add(p.Amount)
			if final {
				inv.Status = domain.InvestmentCompleted
			} else if inv.Status == domain.InvestmentPending {
				inv.Status = domain.InvestmentActive
			}
		}
	}

	next, created, err := s.advanceChain(ctx, l, p, due)
	if err != nil {
		return err
	}
	if created {
		id := next.OrderID
		st.result.NextInstallmentID = &id
		st.next = next
	}

	if iv != nil {
		if next != nil {
			if inv := iv.Investment(ref); inv != nil && inv.Installment(next.InstallmentNumber) == nil {
				inv.PutInstallment(domain.Installment{
					Number:  next.InstallmentNumber,
					Amount:  next.Amount,
					DueDate: derefTime(next.DueDate),
					Status:  domain.InstallmentPending,
				})
			}
		}
		if err := s.saveInvestor(ctx, l, iv); err != nil {
			return err
		}
		st.result.InvestorUpdated = true
	}

	if final && contract != nil {
		if err := l.MarkContractPaymentCompleted(ctx, contract.ID); err != nil {
			return fmt.Errorf("mark contract %s paid: %w", contract.ID, err)
		}
	}

	// the first installment triggers stamping whether or not the owner exists
	if p.InstallmentNumber == 1 && approved {
		st.stampTarget = contract.ID
	}

	return nil
}

// advanceChain returns the successor payment of p, creating it when absent.
// The bool reports whether this call created it.
func (s *SettlementService) advanceChain(ctx context.Context, l Ledger, p *domain.Payment, due time.Time) (*domain.Payment, bool, error) {
	if p.InstallmentNumber >= p.TotalInstallments {
		return nil, false, nil
	}

	chainID := p.ContractRef()
	number := p.InstallmentNumber + 1

	existing, err := l.FindInstallmentPayment(ctx, chainID, number)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("find installment %d of %s: %w", number, chainID, err)
	}

	amount := p.InstallmentAmount
	if !amount.IsPositive() {
		amount = p.Amount
	}
	nextDue := AdvanceDueDate(due, PeriodMonths(p.PaymentTermPeriod))
	now := s.now()

	next := &domain.Payment{
		OrderID:           s.ids.NextInstallmentID(chainID, number),
		ChainID:           chainID,
		InstallmentNumber: number,
		UserRef:           p.UserRef,
		ProductRef:        p.ProductRef,
		Amount:            amount,
		Currency:          p.Currency,
		Kind:              domain.PaymentKindInstallment,
		DueDate:           &nextDue,
		TotalInstallments: p.TotalInstallments,
		InstallmentAmount: p.InstallmentAmount,
		PaymentTermPeriod: p.PaymentTermPeriod,
		PaymentMethod:     p.PaymentMethod,
		ReferralCode:      copyString(p.ReferralCode),
		Processed:         false,
		Status:            domain.PaymentStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	inserted, err := l.InsertPayment(ctx, next)
	if err != nil {
		return nil, false, fmt.Errorf("insert installment %d of %s: %w", number, chainID, err)
	}
	if !inserted {
		existing, err := l.FindInstallmentPayment(ctx, chainID, number)
		if err != nil {
			return nil, false, fmt.Errorf("reload installment %d of %s: %w", number, chainID, err)
		}
		return existing, false, nil
	}

	return next, true, nil
}

func (s *SettlementService) loadInvestor(ctx context.Context, l Ledger, person *domain.Person) (*domain.Investor, error) {
	iv, err := l.GetInvestorForUpdate(ctx, person.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewInvestor(*person), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load investor %s: %w", person.ID, err)
	}
	return iv, nil
}

func (s *SettlementService) saveInvestor(ctx context.Context, l Ledger, iv *domain.Investor) error {
	domain.RecomputeTotals(iv)
	iv.UpdatedAt = s.now()
	if err := l.SaveInvestor(ctx, iv); err != nil {
		return fmt.Errorf("save investor %s: %w", iv.ID, err)
	}
	return nil
}

func (s *SettlementService) dueDate(p *domain.Payment) time.Time {
	if p.DueDate != nil {
		return *p.DueDate
	}
	if !p.CreatedAt.IsZero() {
		return p.CreatedAt
	}
	return s.now()
}

func (s *SettlementService) notify(ctx context.Context, st *settlement) {
	if s.notifier == nil || st.payment.UserRef == "" {
		return
	}
	if err := s.notifier.NotifySettlementCompleted(ctx, st.payment.UserRef, st.result); err != nil {
		log.Printf("[SETTLE] notify settlement of %s failed: %v", st.payment.OrderID, err)
	}
	if st.next != nil {
		n := st.next
		if err := s.notifier.NotifyInstallmentScheduled(ctx, n.UserRef, n.OrderID, n.InstallmentNumber, derefTime(n.DueDate), n.Amount); err != nil {
			log.Printf("[SETTLE] notify next installment %s failed: %v", n.OrderID, err)
		}
	}
}

// contractTotal prefers the signed contract's total and falls back to
// installment amount times number of installments.
func contractTotal(p *domain.Payment, c *domain.Contract) decimal.Decimal {
	if c != nil && c.TotalAmount.IsPositive() {
		return c.TotalAmount
	}
	return p.ContractTotal()
}

func validatePayment(p *domain.Payment) error {
	if !p.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidPayment)
	}
	switch p.Kind {
	case domain.PaymentKindFull:
		return nil
	case domain.PaymentKindInstallment:
		if p.ChainID == "" {
			return fmt.Errorf("%w: installment without chain id", domain.ErrInvalidPayment)
		}
		if p.InstallmentNumber < 1 || p.TotalInstallments < 1 || p.InstallmentNumber > p.TotalInstallments {
			return fmt.Errorf("%w: installment %d of %d", domain.ErrInvalidPayment, p.InstallmentNumber, p.TotalInstallments)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidPayment, p.Kind)
	}
}

// attachStampRef fills the stamp reference of a replayed result from the
// contract, which holds it instead of the stored result.
func (s *SettlementService) attachStampRef(ctx context.Context, l Ledger, st *settlement) error {
	ref := st.payment.ContractRef()
	if ref == "" {
		return nil
	}
	c, err := l.GetContract(ctx, ref)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load contract %s: %w", ref, err)
	}
	if c.Stamp.Stamped {
		st.result.StampRef = copyString(c.Stamp.StampRef)
	}
	return nil
}

func priorResult(p *domain.Payment) *domain.SettlementResult {
	res := &domain.SettlementResult{PaymentID: p.OrderID}
	if p.SettlementResult != nil {
		copied := *p.SettlementResult
		res = &copied
	}
	res.AlreadyProcessed = true
	return res
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
