package clients

import (
	"context"
	"fmt"
	"time"

	"coop-settlement/internal/domain"
	ws "coop-settlement/internal/transport/websocket"

	"github.com/shopspring/decimal"
)

// WebSocketClient pushes ledger events to the investor's live sessions.
type WebSocketClient struct {
	hub *ws.Hub
}

func NewWebSocketClient(hub *ws.Hub) *WebSocketClient {
	return &WebSocketClient{
		hub: hub,
	}
}

func (c *WebSocketClient) send(userRef, typ, channel string, data map[string]interface{}) error {
	if c.hub == nil {
		return nil
	}
	c.hub.Broadcast(userRef, &ws.Message{
		Type:    typ,
		Channel: fmt.Sprintf("%s#%s", channel, userRef),
		Data:    data,
	})
	return nil
}

func (c *WebSocketClient) NotifySettlementCompleted(ctx context.Context, userRef string, result *domain.SettlementResult) error {
	return c.send(userRef, "settlement_completed", "notify_investor_of_settlement", map[string]interface{}{
		"payment_id":          result.PaymentID,
		"asset_created":       result.AssetCreated,
		"next_installment_id": result.NextInstallmentID,
		"commission_id":       result.CommissionID,
		"stamp_ref":           result.StampRef,
	})
}

func (c *WebSocketClient) NotifyInstallmentScheduled(
	ctx context.Context,
	userRef string,
	orderID string,
	number int,
	dueDate time.Time,
	amount decimal.Decimal,
) error {
	return c.send(userRef, "installment_scheduled", "notify_investor_of_installment", map[string]interface{}{
		"order_id": orderID,
		"number":   number,
		"due_date": dueDate.Format("2006-01-02"),
		"amount":   amount.String(),
	})
}

func (c *WebSocketClient) NotifyContractStamped(ctx context.Context, userRef, contractRef, stampRef string) error {
	return c.send(userRef, "contract_stamped", "notify_investor_of_stamp", map[string]interface{}{
		"contract_id": contractRef,
		"stamp_ref":   stampRef,
	})
}

func (c *WebSocketClient) NotifyImportProgress(ctx context.Context, userRef, importID string, progress float64, stage string) error {
	data := map[string]interface{}{
		"id":       importID,
		"progress": progress,
	}
	if stage != "" {
		data["stage"] = stage
	}
	return c.send(userRef, "import_progress", "notify_user_of_progress_import", data)
}

func (c *WebSocketClient) NotifyImportComplete(ctx context.Context, userRef, importID, url string) error {
	return c.send(userRef, "import_complete", "notify_user_when_import_complete", map[string]interface{}{
		"id":  importID,
		"url": url,
	})
}

// NotifyImportFailed notifies a user that a batch import could not publish its report.
func (c *WebSocketClient) NotifyImportFailed(ctx context.Context, userRef, importID, errMsg string) error {
	return c.send(userRef, "import_failed", "notify_user_when_import_failed", map[string]interface{}{
		"id":      importID,
		"message": errMsg,
	})
}
