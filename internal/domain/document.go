package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContractDocument is the data handed to the document renderer before stamping.
type ContractDocument struct {
	ContractRef string          `json:"contract_ref"`
	ProductRef  string          `json:"product_ref"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`

	InvestorRef   string `json:"investor_ref"`
	InvestorName  string `json:"investor_name"`
	InvestorEmail string `json:"investor_email,omitempty"`
	InvestorPhone string `json:"investor_phone,omitempty"`

	AssetRef      string `json:"asset_ref,omitempty"`
	AssetCategory string `json:"asset_category,omitempty"`
	Location      string `json:"location,omitempty"`
	PlotRef       string `json:"plot_ref,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
}

// StampPlacement positions the stamp on the rendered document, in PDF points.
type StampPlacement struct {
	Page   int     `json:"page"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type StampedDocument struct {
	Reference string
	Content   []byte
}
