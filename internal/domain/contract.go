package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const ApprovalApproved = "approved"

type StampState struct {
	Stamped     bool
	StampRef    *string
	StampedAt   *time.Time
	DocumentKey *string
}

type Contract struct {
	ID          string
	InvestorRef string
	ProductRef  string
	TotalAmount decimal.Decimal

	AdminApprovalStatus string
	Status              string
	PaymentCompleted    bool

	Stamp StampState
}

func (c *Contract) IsApproved() bool {
	return c.AdminApprovalStatus == ApprovalApproved || c.Status == ApprovalApproved
}
