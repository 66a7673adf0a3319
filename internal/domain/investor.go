package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvestmentStatus string

const (
	InvestmentPending   InvestmentStatus = "pending"
	InvestmentActive    InvestmentStatus = "active"
	InvestmentCompleted InvestmentStatus = "completed"
)

type InstallmentStatus string

const (
	InstallmentPending   InstallmentStatus = "pending"
	InstallmentSubmitted InstallmentStatus = "submitted"
	InstallmentApproved  InstallmentStatus = "approved"
)

type Person struct {
	ID    string
	Name  string
	Email string
	Phone string
}

type Installment struct {
	Number   int               `json:"number"`
	Amount   decimal.Decimal   `json:"amount"`
	DueDate  time.Time         `json:"due_date"`
	IsPaid   bool              `json:"is_paid"`
	PaidDate *time.Time        `json:"paid_date,omitempty"`
	Status   InstallmentStatus `json:"status"`
	ProofRef *string           `json:"proof_ref,omitempty"`
}

type Investment struct {
	InvestmentID string           `json:"investment_id"`
	ProductRef   string           `json:"product_ref"`
	Kind         PaymentKind      `json:"kind"`
	TotalAmount  decimal.Decimal  `json:"total_amount"`
	AmountPaid   decimal.Decimal  `json:"amount_paid"`
	Status       InvestmentStatus `json:"status"`
	AssetRef     string           `json:"asset_ref,omitempty"`
	Installments []Installment    `json:"installments,omitempty"`
}

// Installment returns the installment record with the given number, or nil.
func (inv *Investment) Installment(number int) *Installment {
	for i := range inv.Installments {
		if inv.Installments[i].Number == number {
			return &inv.Installments[i]
		}
	}
	return nil
}

// PutInstallment replaces the record with the same number or appends it.
func (inv *Investment) PutInstallment(in Installment) {
	if existing := inv.Installment(in.Number); existing != nil {
		*existing = in
		return
	}
	inv.Installments = append(inv.Installments, in)
}

type Investor struct {
	ID    string
	Name  string
	Email string
	Phone string

	Investments []Investment

	TotalCapital decimal.Decimal
	TotalPaidIn  decimal.Decimal
	AssetCount   int

	// Version is 0 for an investor that has never been stored.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewInvestor(p Person) *Investor {
	return &Investor{
		ID:    p.ID,
		Name:  p.Name,
		Email: p.Email,
		Phone: p.Phone,
	}
}

// Investment returns the line item for the given contract, or nil.
func (iv *Investor) Investment(investmentID string) *Investment {
	for i := range iv.Investments {
		if iv.Investments[i].InvestmentID == investmentID {
			return &iv.Investments[i]
		}
	}
	return nil
}

// AddInvestment appends a line item and returns a pointer to the stored copy.
func (iv *Investor) AddInvestment(inv Investment) *Investment {
	iv.Investments = append(iv.Investments, inv)
	return &iv.Investments[len(iv.Investments)-1]
}
