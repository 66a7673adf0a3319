package service

import (
	"fmt"
	"time"

	"coop-settlement/internal/domain"

	"github.com/google/uuid"
)

var installmentNamespace = uuid.MustParse("8f4b7c2e-5d1a-4e3b-9c6f-2a7d8e9b0c14")

func PeriodMonths(p domain.PaymentTermPeriod) int {
	switch p {
	case domain.PeriodQuarterly:
		return 3
	case domain.PeriodSemiannual:
		return 6
	case domain.PeriodAnnual:
		return 12
	default:
		return 1
	}
}

// AdvanceDueDate moves t forward by whole calendar months. The day is clamped
// to the last day of the target month, so Jan 31 + 1 month is the end of February.
func AdvanceDueDate(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// NextInstallmentID is derived from the chain and number only, so a retried
// settlement produces the same id.
func (UUIDGenerator) NextInstallmentID(chainID string, number int) string {
	sum := uuid.NewSHA1(installmentNamespace, []byte(fmt.Sprintf("%s#%d", chainID, number)))
	return fmt.Sprintf("%s-I%d-%s", chainID, number, sum.String()[:8])
}
