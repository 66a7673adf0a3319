package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coop-settlement/internal/domain"
	ws "coop-settlement/internal/transport/websocket"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

func connectInvestor(t *testing.T, userRef string) (*ws.Hub, *websocket.Conn) {
	t.Helper()
	hub := ws.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWebSocket(w, r, userRef)
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+server.URL[4:], nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// registration is asynchronous
	time.Sleep(100 * time.Millisecond)
	return hub, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) (ws.Message, map[string]interface{}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(1 * time.Second))
	var received ws.Message
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	dataBytes, _ := json.Marshal(received.Data)
	var data map[string]interface{}
	_ = json.Unmarshal(dataBytes, &data)
	return received, data
}

func TestWebSocketClient_NotifySettlementCompleted(t *testing.T) {
	hub, conn := connectInvestor(t, "inv-1")
	client := NewWebSocketClient(hub)

	next := "ORD-1-I2-abcdef01"
	err := client.NotifySettlementCompleted(context.Background(), "inv-1", &domain.SettlementResult{
		PaymentID:         "ORD-1",
		AssetCreated:      true,
		NextInstallmentID: &next,
	})
	if err != nil {
		t.Fatalf("Failed to notify: %v", err)
	}

	received, data := readMessage(t, conn)
	if received.Type != "settlement_completed" {
		t.Errorf("Expected type 'settlement_completed', got '%s'", received.Type)
	}
	if received.Channel != "notify_investor_of_settlement#inv-1" {
		t.Errorf("Unexpected channel '%s'", received.Channel)
	}
	if data["payment_id"] != "ORD-1" {
		t.Errorf("Expected payment_id 'ORD-1', got '%v'", data["payment_id"])
	}
	if data["next_installment_id"] != next {
		t.Errorf("Expected next_installment_id %s, got '%v'", next, data["next_installment_id"])
	}
	if data["commission_id"] != nil {
		t.Errorf("Expected no commission_id, got '%v'", data["commission_id"])
	}
}

func TestWebSocketClient_NotifyInstallmentScheduled(t *testing.T) {
	hub, conn := connectInvestor(t, "inv-1")
	client := NewWebSocketClient(hub)

	due := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
	if err := client.NotifyInstallmentScheduled(context.Background(), "inv-1", "ORD-1-I2", 2, due, decimal.NewFromInt(1_000_000)); err != nil {
		t.Fatalf("Failed to notify: %v", err)
	}

	received, data := readMessage(t, conn)
	if received.Type != "installment_scheduled" {
		t.Errorf("Expected type 'installment_scheduled', got '%s'", received.Type)
	}
	if data["due_date"] != "2026-02-28" {
		t.Errorf("Expected due_date 2026-02-28, got '%v'", data["due_date"])
	}
	if data["amount"] != "1000000" {
		t.Errorf("Expected amount 1000000, got '%v'", data["amount"])
	}
	if data["number"].(float64) != 2 {
		t.Errorf("Expected number 2, got %v", data["number"])
	}
}

func TestWebSocketClient_ImportProgressUpdates(t *testing.T) {
	hub, conn := connectInvestor(t, "admin")
	client := NewWebSocketClient(hub)

	for _, progress := range []float64{10, 50, 95} {
		if err := client.NotifyImportProgress(context.Background(), "admin", "imports:1", progress, "settling"); err != nil {
			t.Fatalf("Failed to notify progress: %v", err)
		}
		received, data := readMessage(t, conn)
		if received.Channel != "notify_user_of_progress_import#admin" {
			t.Errorf("Unexpected channel '%s'", received.Channel)
		}
		if data["progress"].(float64) != progress {
			t.Errorf("Expected progress %.1f, got %v", progress, data["progress"])
		}
		if data["stage"] != "settling" {
			t.Errorf("Expected stage 'settling', got '%v'", data["stage"])
		}
	}

	if err := client.NotifyImportFailed(context.Background(), "admin", "imports:1", "upload failed"); err != nil {
		t.Fatalf("Failed to notify failure: %v", err)
	}
	received, data := readMessage(t, conn)
	if received.Type != "import_failed" || data["message"] != "upload failed" {
		t.Errorf("Unexpected failure message %+v", received)
	}
}

func TestWebSocketClient_NilHub(t *testing.T) {
	client := NewWebSocketClient(nil)

	if err := client.NotifyContractStamped(context.Background(), "inv-1", "C-1", "EM-1"); err != nil {
		t.Errorf("Should not return error with nil hub, got: %v", err)
	}
	if err := client.NotifyImportComplete(context.Background(), "admin", "imports:1", "/documents/r.xlsx"); err != nil {
		t.Errorf("Should not return error with nil hub, got: %v", err)
	}
}
