package rest

import (
	"errors"
	"log"
	"net/http"
	"time"

	"coop-settlement/internal/domain"
)

type paymentView struct {
	OrderID           string                   `json:"order_id"`
	ChainID           string                   `json:"chain_id,omitempty"`
	InstallmentNumber int                      `json:"installment_number,omitempty"`
	UserRef           string                   `json:"user_ref"`
	ProductRef        string                   `json:"product_ref"`
	Kind              domain.PaymentKind       `json:"kind"`
	Amount            string                   `json:"amount"`
	Currency          string                   `json:"currency"`
	DueDate           *string                  `json:"due_date"`
	TotalInstallments int                      `json:"total_installments,omitempty"`
	Status            domain.PaymentStatus     `json:"status"`
	Processed         bool                     `json:"processed"`
	PaidAt            *time.Time               `json:"paid_at"`
	Result            *domain.SettlementResult `json:"settlement_result"`
}

func newPaymentView(p *domain.Payment) paymentView {
	v := paymentView{
		OrderID:           p.OrderID,
		UserRef:           p.UserRef,
		ProductRef:        p.ProductRef,
		Kind:              p.Kind,
		Amount:            p.Amount.StringFixed(2),
		Currency:          p.Currency,
		TotalInstallments: p.TotalInstallments,
		Status:            p.Status,
		Processed:         p.Processed,
		PaidAt:            p.PaidAt,
		Result:            p.SettlementResult,
	}
	if p.Kind == domain.PaymentKindInstallment {
		v.ChainID = p.ChainID
		v.InstallmentNumber = p.InstallmentNumber
	}
	if p.DueDate != nil {
		d := p.DueDate.Format("2006-01-02")
		v.DueDate = &d
	}
	return v
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathRef(r, "order_id")
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	result, err := h.svc.Settlements.Settle(r.Context(), orderID)
	if err != nil {
		writeSettleError(w, orderID, err)
		return
	}

	msg := "payment settled"
	if result.AlreadyProcessed {
		msg = "payment already processed"
	}
	Success(w, msg, result)
}

func writeSettleError(w http.ResponseWriter, orderID string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		ErrorNotFound(w, "payment or related record not found")
	case errors.Is(err, domain.ErrSettlementInProgress):
		ErrorConflict(w, "settlement already in progress")
	case errors.Is(err, domain.ErrVersionConflict):
		ErrorConflict(w, "investor was modified concurrently, retry")
	case errors.Is(err, domain.ErrInvalidPayment), errors.Is(err, domain.ErrInvalidTransition):
		ErrorUnprocessable(w, err.Error())
	default:
		log.Printf("[HTTP] settle %s error: %v", orderID, err)
		ErrorInternal(w, "failed to settle payment")
	}
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathRef(r, "order_id")
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	p, err := h.svc.Payments.GetPayment(r.Context(), orderID)
	if errors.Is(err, domain.ErrNotFound) {
		ErrorNotFound(w, "payment not found")
		return
	}
	if err != nil {
		log.Printf("[HTTP] getPayment %s error: %v", orderID, err)
		ErrorInternal(w, "failed to load payment")
		return
	}

	Success(w, "", newPaymentView(p))
}
