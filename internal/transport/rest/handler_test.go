package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"coop-settlement/internal/domain"
	"coop-settlement/internal/service"
	"coop-settlement/internal/transport/auth"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettler struct {
	results map[string]*domain.SettlementResult
	err     error
}

func (f *fakeSettler) Settle(ctx context.Context, orderID string) (*domain.SettlementResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[orderID]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("settle payment %s: %w", orderID, domain.ErrNotFound)
}

type fakePayments map[string]*domain.Payment

func (f fakePayments) GetPayment(ctx context.Context, orderID string) (*domain.Payment, error) {
	if p, ok := f[orderID]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

type fakeImports struct {
	started  []byte
	userRef  string
	statuses map[string]*service.ImportStatus
	startErr error
}

func (f *fakeImports) StartImport(ctx context.Context, userRef string, data []byte) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = data
	f.userRef = userRef
	return "imports:abc-123", nil
}

func (f *fakeImports) ListImports(ctx context.Context, userRef string) ([]*service.ImportStatus, error) {
	out := []*service.ImportStatus{}
	for _, st := range f.statuses {
		if userRef == "" || st.UserRef == userRef {
			out = append(out, st)
		}
	}
	return out, nil
}

func (f *fakeImports) GetImport(ctx context.Context, importID, userRef string) (*service.ImportStatus, error) {
	st, ok := f.statuses[importID]
	if !ok || (userRef != "" && st.UserRef != userRef) {
		return nil, domain.ErrNotFound
	}
	return st, nil
}

type fakeStamper struct {
	ref *string
	err error
}

func (f *fakeStamper) MaybeStamp(ctx context.Context, contractRef string) (*string, error) {
	return f.ref, f.err
}

type fakeCommissions []domain.CommissionEntry

func (f fakeCommissions) ListCommissions(ctx context.Context, agentRef string) ([]domain.CommissionEntry, error) {
	var out []domain.CommissionEntry
	for _, e := range f {
		if e.AgentRef == agentRef {
			out = append(out, e)
		}
	}
	return out, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type dirLocator string

func (d dirLocator) Path(name string) (string, error) {
	if filepath.Base(name) != name {
		return "", errors.New("invalid name")
	}
	return filepath.Join(string(d), name), nil
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSettleEndpoint(t *testing.T) {
	next := "inst-2"
	settler := &fakeSettler{results: map[string]*domain.SettlementResult{
		"ORD-1": {PaymentID: "ORD-1", AssetCreated: true, InvestorUpdated: true, NextInstallmentID: &next},
		"ORD-2": {PaymentID: "ORD-2", AlreadyProcessed: true},
	}}
	router := NewHandler(Services{Settlements: settler}).InitRouter()

	rec := do(router, httptest.NewRequest(http.MethodPost, "/settlements/ORD-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "success", resp.Status)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, true, data["asset_created"])
	assert.Equal(t, "inst-2", data["next_installment_id"])

	rec = do(router, httptest.NewRequest(http.MethodPost, "/settlements/ORD-2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payment already processed", decode(t, rec).Message)

	rec = do(router, httptest.NewRequest(http.MethodPost, "/settlements/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(router, httptest.NewRequest(http.MethodPost, "/settlements/bad%20id", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettleEndpointErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.ErrSettlementInProgress, http.StatusConflict},
		{fmt.Errorf("wrap: %w", domain.ErrVersionConflict), http.StatusConflict},
		{fmt.Errorf("%w: amount must be positive", domain.ErrInvalidPayment), http.StatusUnprocessableEntity},
		{domain.ErrInvalidTransition, http.StatusUnprocessableEntity},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			router := NewHandler(Services{Settlements: &fakeSettler{err: tt.err}}).InitRouter()
			rec := do(router, httptest.NewRequest(http.MethodPost, "/settlements/ORD-1", nil))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.status, decode(t, rec).ErrorCode)
		})
	}
}

func TestGetPaymentEndpoint(t *testing.T) {
	due := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	payments := fakePayments{"chain-2": {
		OrderID:           "chain-2",
		ChainID:           "chain",
		InstallmentNumber: 2,
		UserRef:           "u-1",
		Kind:              domain.PaymentKindInstallment,
		Amount:            decimal.NewFromInt(1_000_000),
		Currency:          "IDR",
		DueDate:           &due,
		TotalInstallments: 12,
		Status:            domain.PaymentStatusPending,
	}}
	router := NewHandler(Services{Payments: payments}).InitRouter()

	rec := do(router, httptest.NewRequest(http.MethodGet, "/payments/chain-2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec).Data.(map[string]interface{})
	assert.Equal(t, "1000000.00", data["amount"])
	assert.Equal(t, "2026-02-10", data["due_date"])
	assert.Equal(t, float64(2), data["installment_number"])
	assert.Equal(t, "pending", data["status"])

	rec = do(router, httptest.NewRequest(http.MethodGet, "/payments/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func uploadRequest(t *testing.T, name string, content []byte) *http.Request {
	t.Helper()
	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/settlements/import", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestImportEndpoints(t *testing.T) {
	imports := &fakeImports{statuses: map[string]*service.ImportStatus{
		"imports:abc-123": {Key: "imports:abc-123", UserRef: "op-1", Total: 3, Settled: 2, Progress: 100},
	}}
	operator := &domain.AccessToken{ID: 1, OwnerRef: "op-1", Abilities: `["settlements:write"]`}
	stranger := &domain.AccessToken{ID: 2, OwnerRef: "op-2", Abilities: `["*"]`}

	router := NewHandler(Services{Imports: imports}).InitRouter()

	req := uploadRequest(t, "payments.xlsx", []byte("workbook"))
	req = req.WithContext(auth.WithPrincipal(req.Context(), "op-1", operator))
	rec := do(router, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "abc-123", decode(t, rec).Data.(map[string]interface{})["import_id"])
	assert.Equal(t, []byte("workbook"), imports.started)
	assert.Equal(t, "op-1", imports.userRef)

	rec = do(router, uploadRequest(t, "payments.csv", []byte("a,b")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/settlements/imports/abc-123", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), "op-1", operator))
	rec = do(router, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec).Data.(map[string]interface{})["settled"])

	req = httptest.NewRequest(http.MethodGet, "/settlements/imports/abc-123", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), "op-2", stranger))
	rec = do(router, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/settlements/imports", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), "op-2", stranger))
	rec = do(router, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec).Data)

	req = httptest.NewRequest(http.MethodGet, "/settlements/imports/abc-123", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), auth.ServiceRef, nil))
	rec = do(router, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestImportRejectsInvalidWorkbook(t *testing.T) {
	imports := &fakeImports{startErr: fmt.Errorf("%w: no order ids", service.ErrInvalidImport)}
	router := NewHandler(Services{Imports: imports}).InitRouter()

	rec := do(router, uploadRequest(t, "empty.xlsx", []byte("x")))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAbilityIsEnforced(t *testing.T) {
	router := NewHandler(Services{Settlements: &fakeSettler{}}).InitRouter()

	investor := &domain.AccessToken{ID: 2, OwnerRef: "inv-1", Abilities: `["notifications:read"]`}
	req := httptest.NewRequest(http.MethodPost, "/settlements/ORD-1", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), "inv-1", investor))
	rec := do(router, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStampEndpoint(t *testing.T) {
	ref := "STAMP-001"
	tests := []struct {
		name    string
		stamper *fakeStamper
		status  int
		stamped interface{}
	}{
		{"stamped", &fakeStamper{ref: &ref}, http.StatusOK, true},
		{"not approved", &fakeStamper{}, http.StatusOK, false},
		{"missing", &fakeStamper{err: fmt.Errorf("load contract: %w", domain.ErrNotFound)}, http.StatusNotFound, nil},
		{"unconfigured", &fakeStamper{err: service.ErrStampingNotConfigured}, http.StatusServiceUnavailable, nil},
		{"provider down", &fakeStamper{err: errors.New("stamp provider: unexpected status 502")}, http.StatusBadGateway, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewHandler(Services{Stamping: tt.stamper}).InitRouter()
			rec := do(router, httptest.NewRequest(http.MethodPost, "/contracts/C-1/stamp", nil))
			require.Equal(t, tt.status, rec.Code)
			if tt.stamped != nil {
				assert.Equal(t, tt.stamped, decode(t, rec).Data.(map[string]interface{})["stamped"])
			}
		})
	}
}

func TestListCommissionsEndpoint(t *testing.T) {
	commissions := fakeCommissions{
		{ID: "c-1", PaymentRef: "ORD-1", AgentRef: "a-1", ReferralCode: "AGT01",
			BaseAmount: decimal.NewFromInt(1_000_000), Rate: decimal.RequireFromString("0.02"),
			CommissionAmount: decimal.NewFromInt(20_000), EarnedAt: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)},
		{ID: "c-2", PaymentRef: "ORD-9", AgentRef: "a-2"},
	}
	router := NewHandler(Services{Commissions: commissions}).InitRouter()

	rec := do(router, httptest.NewRequest(http.MethodGet, "/agents/a-1/commissions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec).Data.([]interface{})
	require.Len(t, data, 1)
	entry := data[0].(map[string]interface{})
	assert.Equal(t, "20000.00", entry["commission_amount"])
	assert.Equal(t, "0.02", entry["rate"])

	rec = do(router, httptest.NewRequest(http.MethodGet, "/agents/a-3/commissions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec).Data)
}

func TestHealthEndpoint(t *testing.T) {
	ok := pingFunc(func(ctx context.Context) error { return nil })
	down := pingFunc(func(ctx context.Context) error { return errors.New("dial tcp: refused") })

	router := NewHandler(Services{Health: map[string]Pinger{"postgres": ok}}).InitRouterWithAuth(
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
			})
		})
	rec := do(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	router = NewHandler(Services{Health: map[string]Pinger{"postgres": ok, "redis": down}}).InitRouter()
	rec = do(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	checks := decode(t, rec).Data.(map[string]interface{})
	assert.Equal(t, "ok", checks["postgres"])
	assert.Equal(t, "dial tcp: refused", checks["redis"])
}

func TestServeDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "contract_C-1_stamped.pdf"), []byte("%PDF"), 0o644))

	router := NewHandler(Services{Files: map[string]FileLocator{"documents": dirLocator(dir)}}).InitRouter()

	rec := do(router, httptest.NewRequest(http.MethodGet, "/documents/contract_C-1_stamped.pdf", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "contract_C-1_stamped.pdf")

	rec = do(router, httptest.NewRequest(http.MethodGet, "/documents/missing.pdf", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(router, httptest.NewRequest(http.MethodGet, "/reports/contract_C-1_stamped.pdf", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
