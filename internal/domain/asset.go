package domain

import "time"

const (
	AssetAwaitingApproval     = "awaiting_approval"
	AssetScheduledForPlanting = "scheduled_for_planting"
)

type AssetHistoryEntry struct {
	Status    string    `json:"status"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

type AssetInstance struct {
	ID          string
	ContractRef string
	OwnerRef    string
	OwnerName   string

	Category   string
	ProductRef string
	Location   string
	PlotRef    string

	ProvisioningStatus string
	History            []AssetHistoryEntry

	CreatedAt time.Time
}
