package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentKind string

const (
	PaymentKindFull        PaymentKind = "full"
	PaymentKindInstallment PaymentKind = "installment"
)

// EarnsCommission reports whether a referral on this kind of payment is paid out.
func (k PaymentKind) EarnsCommission() bool {
	return k == PaymentKindFull || k == PaymentKindInstallment
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSubmitted PaymentStatus = "submitted"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:   {PaymentStatusSubmitted, PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusSubmitted: {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusFailed:    {PaymentStatusPending},
}

// CanTransition reports whether a payment may move from s to next.
// Completed is terminal.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type PaymentTermPeriod string

const (
	PeriodMonthly    PaymentTermPeriod = "monthly"
	PeriodQuarterly  PaymentTermPeriod = "quarterly"
	PeriodSemiannual PaymentTermPeriod = "semiannual"
	PeriodAnnual     PaymentTermPeriod = "annual"
)

type Payment struct {
	OrderID           string
	ChainID           string
	InstallmentNumber int

	UserRef    string
	ProductRef string

	Amount   decimal.Decimal
	Currency string
	Kind     PaymentKind

	DueDate           *time.Time
	TotalInstallments int
	InstallmentAmount decimal.Decimal
	PaymentTermPeriod PaymentTermPeriod
	PaymentMethod     string

	ReferralCode *string

	Processed bool
	Status    PaymentStatus
	PaidAt    *time.Time

	SettlementResult *SettlementResult

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ContractRef is the id of the contract (and installment chain) the payment belongs to.
// A full payment is its own contract.
func (p *Payment) ContractRef() string {
	if p.ChainID != "" {
		return p.ChainID
	}
	return p.OrderID
}

func (p *Payment) IsInstallment() bool {
	return p.Kind == PaymentKindInstallment
}

func (p *Payment) HasReferral() bool {
	return p.ReferralCode != nil && *p.ReferralCode != ""
}

// ContractTotal is the installment contract value derived from the payment itself.
func (p *Payment) ContractTotal() decimal.Decimal {
	if p.TotalInstallments <= 0 {
		return p.Amount
	}
	return p.InstallmentAmount.Mul(decimal.NewFromInt(int64(p.TotalInstallments)))
}
