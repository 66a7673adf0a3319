package domain

type SettlementResult struct {
	PaymentID         string   `json:"payment_id"`
	AlreadyProcessed  bool     `json:"already_processed"`
	AssetCreated      bool     `json:"asset_created"`
	InvestorUpdated   bool     `json:"investor_updated"`
	NextInstallmentID *string  `json:"next_installment_id"`
	CommissionID      *string  `json:"commission_id"`
	StampRef          *string  `json:"stamp_ref"`
	Warnings          []string `json:"warnings,omitempty"`
}

func (r *SettlementResult) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}
