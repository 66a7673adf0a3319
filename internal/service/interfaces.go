package service

import (
	"context"
	"time"

	"coop-settlement/internal/domain"

	"github.com/shopspring/decimal"
)

type PaymentStore interface {
	GetPaymentForUpdate(ctx context.Context, orderID string) (*domain.Payment, error)
	FindInstallmentPayment(ctx context.Context, chainID string, number int) (*domain.Payment, error)
	// InsertPayment reports false when a payment with the same order id or
	// the same (chain, installment number) already exists.
	InsertPayment(ctx context.Context, p *domain.Payment) (bool, error)
	UpdatePayment(ctx context.Context, p *domain.Payment) error
}

type InvestorStore interface {
	GetPerson(ctx context.Context, id string) (*domain.Person, error)
	GetInvestor(ctx context.Context, id string) (*domain.Investor, error)
	GetInvestorForUpdate(ctx context.Context, id string) (*domain.Investor, error)
	SaveInvestor(ctx context.Context, iv *domain.Investor) error
}

type AssetStore interface {
	GetAssetByContract(ctx context.Context, contractRef string) (*domain.AssetInstance, error)
	// InsertAsset reports false when the contract already has an asset.
	InsertAsset(ctx context.Context, a *domain.AssetInstance) (bool, error)
}

type ContractStore interface {
	GetContract(ctx context.Context, id string) (*domain.Contract, error)
	MarkContractPaymentCompleted(ctx context.Context, id string) error
	// SaveContractStamp reports false when the contract was already stamped,
	// leaving the earlier stamp in place.
	SaveContractStamp(ctx context.Context, id string, st domain.StampState) (bool, error)
}

type CommissionStore interface {
	FindAgentByReferralCode(ctx context.Context, code string) (*domain.Agent, error)
	CommissionExists(ctx context.Context, paymentRef string) (bool, error)
	// InsertCommission reports false when the payment already has an entry.
	InsertCommission(ctx context.Context, e *domain.CommissionEntry) (bool, error)
}

// Ledger is the set of record stores visible inside one storage transaction.
type Ledger interface {
	PaymentStore
	InvestorStore
	AssetStore
	ContractStore
	CommissionStore

	// WithinSavepoint runs fn so that a failure inside it is rolled back
	// without aborting the enclosing transaction.
	WithinSavepoint(ctx context.Context, name string, fn func() error) error
}

type Store interface {
	Ledger
	WithinTx(ctx context.Context, fn func(ctx context.Context, l Ledger) error) error
}

type DocumentRenderer interface {
	Render(ctx context.Context, doc domain.ContractDocument) ([]byte, error)
}

type StampingProvider interface {
	Stamp(ctx context.Context, document []byte, placement domain.StampPlacement) (*domain.StampedDocument, error)
}

type DocumentStore interface {
	SaveDocument(ctx context.Context, fileName string, data []byte) (string, error)
}

type IDGenerator interface {
	NewID() string
	NextInstallmentID(chainID string, number int) string
}

// Locker serializes work on one key across processes. Acquire returns
// domain.ErrSettlementInProgress when the key is already held.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

type Notifier interface {
	NotifySettlementCompleted(ctx context.Context, userRef string, result *domain.SettlementResult) error
	NotifyInstallmentScheduled(ctx context.Context, userRef, orderID string, number int, dueDate time.Time, amount decimal.Decimal) error
	NotifyContractStamped(ctx context.Context, userRef, contractRef, stampRef string) error
}
