package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Agent struct {
	ID           string
	Name         string
	ReferralCode string
	Active       bool
}

type CommissionEntry struct {
	ID               string
	PaymentRef       string
	AgentRef         string
	ReferralCode     string
	BaseAmount       decimal.Decimal
	Rate             decimal.Decimal
	CommissionAmount decimal.Decimal
	EarnedAt         time.Time
}
