package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"coop-settlement/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

var (
	ErrMockStorage  = errors.New("mock storage error")
	ErrMockProvider = errors.New("mock stamping provider error")
)

// memStore is an in-memory Store. WithinTx serializes transactions and
// restores a snapshot when fn fails, like a rolled back database transaction.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	payments    map[string]domain.Payment
	persons     map[string]domain.Person
	investors   map[string]domain.Investor
	assets      map[string]domain.AssetInstance
	contracts   map[string]domain.Contract
	agents      map[string]domain.Agent
	commissions map[string]domain.CommissionEntry

	failInsertCommission error
	failUpdatePayment    error
	failSaveStamp        error
}

func newMemStore() *memStore {
	return &memStore{
		payments:    map[string]domain.Payment{},
		persons:     map[string]domain.Person{},
		investors:   map[string]domain.Investor{},
		assets:      map[string]domain.AssetInstance{},
		contracts:   map[string]domain.Contract{},
		agents:      map[string]domain.Agent{},
		commissions: map[string]domain.CommissionEntry{},
	}
}

type memSnapshot struct {
	payments    map[string]domain.Payment
	investors   map[string]domain.Investor
	assets      map[string]domain.AssetInstance
	contracts   map[string]domain.Contract
	commissions map[string]domain.CommissionEntry
}

func (m *memStore) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := memSnapshot{
		payments:    make(map[string]domain.Payment, len(m.payments)),
		investors:   make(map[string]domain.Investor, len(m.investors)),
		assets:      make(map[string]domain.AssetInstance, len(m.assets)),
		contracts:   make(map[string]domain.Contract, len(m.contracts)),
		commissions: make(map[string]domain.CommissionEntry, len(m.commissions)),
	}
	for k, v := range m.payments {
		s.payments[k] = clonePayment(v)
	}
	for k, v := range m.investors {
		s.investors[k] = cloneInvestor(v)
	}
	for k, v := range m.assets {
		s.assets[k] = v
	}
	for k, v := range m.contracts {
		s.contracts[k] = v
	}
	for k, v := range m.commissions {
		s.commissions[k] = v
	}
	return s
}

func (m *memStore) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = s.payments
	m.investors = s.investors
	m.assets = s.assets
	m.contracts = s.contracts
	m.commissions = s.commissions
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, l Ledger) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(ctx, m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memStore) WithinSavepoint(ctx context.Context, name string, fn func() error) error {
	snap := m.snapshot()
	if err := fn(); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memStore) GetPaymentForUpdate(ctx context.Context, orderID string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := clonePayment(p)
	return &c, nil
}

func (m *memStore) FindInstallmentPayment(ctx context.Context, chainID string, number int) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ChainID == chainID && p.InstallmentNumber == number {
			c := clonePayment(p)
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) InsertPayment(ctx context.Context, p *domain.Payment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.OrderID]; ok {
		return false, nil
	}
	for _, existing := range m.payments {
		if p.ChainID != "" && existing.ChainID == p.ChainID && existing.InstallmentNumber == p.InstallmentNumber {
			return false, nil
		}
	}
	m.payments[p.OrderID] = clonePayment(*p)
	return true, nil
}

func (m *memStore) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdatePayment != nil {
		return m.failUpdatePayment
	}
	if _, ok := m.payments[p.OrderID]; !ok {
		return domain.ErrNotFound
	}
	m.payments[p.OrderID] = clonePayment(*p)
	return nil
}

func (m *memStore) GetPerson(ctx context.Context, id string) (*domain.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.persons[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) GetInvestor(ctx context.Context, id string) (*domain.Investor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := m.investors[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := cloneInvestor(iv)
	return &c, nil
}

func (m *memStore) GetInvestorForUpdate(ctx context.Context, id string) (*domain.Investor, error) {
	return m.GetInvestor(ctx, id)
}

func (m *memStore) SaveInvestor(ctx context.Context, iv *domain.Investor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, exists := m.investors[iv.ID]
	switch {
	case iv.Version == 0 && exists:
		return domain.ErrVersionConflict
	case iv.Version != 0 && (!exists || stored.Version != iv.Version):
		return domain.ErrVersionConflict
	}
	iv.Version++
	m.investors[iv.ID] = cloneInvestor(*iv)
	return nil
}

func (m *memStore) GetAssetByContract(ctx context.Context, contractRef string) (*domain.AssetInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[contractRef]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (m *memStore) InsertAsset(ctx context.Context, a *domain.AssetInstance) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[a.ContractRef]; ok {
		return false, nil
	}
	m.assets[a.ContractRef] = *a
	return true, nil
}

func (m *memStore) GetContract(ctx context.Context, id string) (*domain.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (m *memStore) MarkContractPaymentCompleted(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.PaymentCompleted = true
	m.contracts[id] = c
	return nil
}

func (m *memStore) SaveContractStamp(ctx context.Context, id string, st domain.StampState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSaveStamp != nil {
		return false, m.failSaveStamp
	}
	c, ok := m.contracts[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if c.Stamp.Stamped {
		return false, nil
	}
	c.Stamp = st
	m.contracts[id] = c
	return true, nil
}

func (m *memStore) FindAgentByReferralCode(ctx context.Context, code string) (*domain.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.agents {
		if a.ReferralCode == code && a.Active {
			return &a, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) CommissionExists(ctx context.Context, paymentRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.commissions[paymentRef]
	return ok, nil
}

func (m *memStore) InsertCommission(ctx context.Context, e *domain.CommissionEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsertCommission != nil {
		return false, m.failInsertCommission
	}
	if _, ok := m.commissions[e.PaymentRef]; ok {
		return false, nil
	}
	m.commissions[e.PaymentRef] = *e
	return true, nil
}

// test accessors

func (m *memStore) payment(orderID string) domain.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clonePayment(m.payments[orderID])
}

func (m *memStore) investor(id string) (domain.Investor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := m.investors[id]
	return cloneInvestor(iv), ok
}

func (m *memStore) paymentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments)
}

func (m *memStore) assetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.assets)
}

func (m *memStore) commissionList() []domain.CommissionEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CommissionEntry, 0, len(m.commissions))
	for _, e := range m.commissions {
		out = append(out, e)
	}
	return out
}

func (m *memStore) contract(id string) domain.Contract {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contracts[id]
}

func clonePayment(p domain.Payment) domain.Payment {
	if p.SettlementResult != nil {
		r := *p.SettlementResult
		r.Warnings = append([]string(nil), p.SettlementResult.Warnings...)
		p.SettlementResult = &r
	}
	return p
}

func cloneInvestor(iv domain.Investor) domain.Investor {
	invs := make([]domain.Investment, len(iv.Investments))
	for i, inv := range iv.Investments {
		inv.Installments = append([]domain.Installment(nil), inv.Installments...)
		invs[i] = inv
	}
	iv.Investments = invs
	return iv
}

// seqIDs hands out predictable ids and derives installment ids like UUIDGenerator.
type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%03d", g.n)
}

func (g *seqIDs) NextInstallmentID(chainID string, number int) string {
	return UUIDGenerator{}.NextInstallmentID(chainID, number)
}

type mockRenderer struct {
	mock.Mock
}

func (m *mockRenderer) Render(ctx context.Context, doc domain.ContractDocument) ([]byte, error) {
	args := m.Called(ctx, doc)
	if b, ok := args.Get(0).([]byte); ok {
		return b, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Stamp(ctx context.Context, document []byte, placement domain.StampPlacement) (*domain.StampedDocument, error) {
	args := m.Called(ctx, document, placement)
	if d, ok := args.Get(0).(*domain.StampedDocument); ok {
		return d, args.Error(1)
	}
	return nil, args.Error(1)
}

type memDocs struct {
	mu    sync.Mutex
	saved map[string][]byte
	err   error
}

func (d *memDocs) SaveDocument(ctx context.Context, fileName string, data []byte) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	if d.saved == nil {
		d.saved = map[string][]byte{}
	}
	key := "docs/" + fileName
	d.saved[key] = data
	return key, nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, domain.ErrSettlementInProgress
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	settled   []string
	scheduled []string
	stamped   []string
}

func (n *recordingNotifier) NotifySettlementCompleted(ctx context.Context, userRef string, result *domain.SettlementResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.settled = append(n.settled, result.PaymentID)
	return nil
}

func (n *recordingNotifier) NotifyInstallmentScheduled(ctx context.Context, userRef, orderID string, number int, dueDate time.Time, amount decimal.Decimal) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scheduled = append(n.scheduled, orderID)
	return nil
}

func (n *recordingNotifier) NotifyContractStamped(ctx context.Context, userRef, contractRef, stampRef string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stamped = append(n.stamped, contractRef)
	return nil
}
