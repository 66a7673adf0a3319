package rest

import (
	"errors"
	"log"
	"net/http"
	"time"

	"coop-settlement/internal/domain"
	"coop-settlement/internal/service"
)

type commissionView struct {
	ID               string    `json:"id"`
	PaymentRef       string    `json:"payment_ref"`
	ReferralCode     string    `json:"referral_code"`
	BaseAmount       string    `json:"base_amount"`
	Rate             string    `json:"rate"`
	CommissionAmount string    `json:"commission_amount"`
	EarnedAt         time.Time `json:"earned_at"`
}

func (h *Handler) stampContract(w http.ResponseWriter, r *http.Request) {
	contractID, err := pathRef(r, "contract_id")
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	ref, err := h.svc.Stamping.MaybeStamp(r.Context(), contractID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		ErrorNotFound(w, "contract not found")
		return
	case errors.Is(err, service.ErrStampingNotConfigured):
		ErrorUnavailable(w, "stamping is not configured")
		return
	case err != nil:
		log.Printf("[HTTP] stamp contract %s error: %v", contractID, err)
		ErrorBadGateway(w, "stamping failed, retry later")
		return
	}

	if ref == nil {
		Success(w, "contract is not approved yet", map[string]interface{}{
			"contract_id": contractID,
			"stamped":     false,
		})
		return
	}
	Success(w, "contract stamped", map[string]interface{}{
		"contract_id": contractID,
		"stamped":     true,
		"stamp_ref":   *ref,
	})
}

func (h *Handler) listCommissions(w http.ResponseWriter, r *http.Request) {
	agentID, err := pathRef(r, "agent_id")
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	entries, err := h.svc.Commissions.ListCommissions(r.Context(), agentID)
	if err != nil {
		log.Printf("[HTTP] listCommissions %s error: %v", agentID, err)
		ErrorInternal(w, "failed to list commissions")
		return
	}

	out := make([]commissionView, 0, len(entries))
	for _, e := range entries {
		out = append(out, commissionView{
			ID:               e.ID,
			PaymentRef:       e.PaymentRef,
			ReferralCode:     e.ReferralCode,
			BaseAmount:       e.BaseAmount.StringFixed(2),
			Rate:             e.Rate.String(),
			CommissionAmount: e.CommissionAmount.StringFixed(2),
			EarnedAt:         e.EarnedAt,
		})
	}
	Success(w, "", out)
}
