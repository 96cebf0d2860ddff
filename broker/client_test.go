package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kenyonj/auto-investor/config"
	"github.com/kenyonj/auto-investor/models"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.BrokerConfig{
		APIKey:    "test-key",
		SecretKey: "test-secret",
		BaseURL:   srv.URL,
		DataURL:   srv.URL,
	}
	return NewClient(cfg), srv
}

func TestGetPortfolioSnapshot(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/account", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("APCA-API-KEY-ID") != "test-key" {
			t.Error("missing API key header")
		}
		json.NewEncoder(w).Encode(map[string]string{
			"equity":       "10500.00",
			"cash":         "4200.50",
			"buying_power": "8401.00",
			"last_equity":  "10000.00",
		})
	})
	mux.HandleFunc("/v2/positions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{
			{
				"symbol":          "AAPL",
				"qty":             "5",
				"avg_entry_price": "200.00",
				"current_price":   "210.00",
				"market_value":    "1050.00",
				"unrealized_pl":   "50.00",
				"unrealized_plpc": "0.05",
				"asset_class":     "us_equity",
			},
			{
				"symbol":          "BTCUSD",
				"qty":             "0.1",
				"avg_entry_price": "60000",
				"current_price":   "65000",
				"market_value":    "6500",
				"unrealized_pl":   "500",
				"unrealized_plpc": "0.0833",
				"asset_class":     "crypto",
			},
		})
	})
	client, _ := testClient(t, mux)

	snapshot, err := client.GetPortfolioSnapshot(context.Background())
	if err != nil {
		t.Fatalf("GetPortfolioSnapshot: %v", err)
	}
	if snapshot.Equity != 10500 || snapshot.Cash != 4200.50 {
		t.Errorf("unexpected account numbers: %+v", snapshot)
	}
	if snapshot.DailyPL != 500 {
		t.Errorf("daily P&L = %v, want 500", snapshot.DailyPL)
	}
	if len(snapshot.Positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(snapshot.Positions))
	}
	if snapshot.Positions[0].UnrealizedPLPct != 5 {
		t.Errorf("unrealized_plpc should convert to percent, got %v", snapshot.Positions[0].UnrealizedPLPct)
	}
	if snapshot.Positions[1].Symbol != "BTC/USD" {
		t.Errorf("crypto position symbol = %q, want BTC/USD", snapshot.Positions[1].Symbol)
	}
}

func TestGetOpenOrders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") != "open" {
			t.Errorf("expected status=open, got %q", r.URL.Query().Get("status"))
		}
		json.NewEncoder(w).Encode([]map[string]string{
			{"id": "o1", "symbol": "AAPL", "side": "buy", "status": "new"},
			{"id": "o2", "symbol": "ETH/USD", "side": "sell", "status": "accepted"},
		})
	})
	client, _ := testClient(t, mux)

	open, err := client.GetOpenOrders(context.Background())
	if err != nil {
		t.Fatalf("GetOpenOrders: %v", err)
	}
	if !open["AAPL"] || !open["ETH/USD"] || len(open) != 2 {
		t.Errorf("unexpected open order set: %v", open)
	}
}

func TestExecuteDecision(t *testing.T) {
	var captured orderRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode order request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"id":     "order-1",
			"symbol": captured.Symbol,
			"side":   captured.Side,
			"qty":    captured.Qty,
			"type":   captured.Type,
			"status": "accepted",
		})
	})
	client, _ := testClient(t, mux)

	decision := &models.TradeDecision{
		Symbol:   "AAPL",
		Action:   models.ActionBuy,
		Quantity: models.Float64Ptr(2.5),
	}
	order, err := client.ExecuteDecision(context.Background(), decision)
	if err != nil {
		t.Fatalf("ExecuteDecision: %v", err)
	}
	if order.Status != "accepted" || order.ID != "order-1" {
		t.Errorf("unexpected order result: %+v", order)
	}
	if captured.Qty != "2.5" {
		t.Errorf("qty serialized as %q, want 2.5", captured.Qty)
	}
	if captured.TimeInForce != "day" || captured.Type != "market" {
		t.Errorf("unexpected order shape: %+v", captured)
	}
}

func TestExecuteDecisionCryptoUsesGTC(t *testing.T) {
	var captured orderRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/orders", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]string{"id": "o", "symbol": captured.Symbol, "status": "accepted"})
	})
	client, _ := testClient(t, mux)

	decision := &models.TradeDecision{
		Symbol:   "BTC/USD",
		Action:   models.ActionSell,
		Quantity: models.Float64Ptr(0.05),
	}
	if _, err := client.ExecuteDecision(context.Background(), decision); err != nil {
		t.Fatalf("ExecuteDecision: %v", err)
	}
	if captured.TimeInForce != "gtc" {
		t.Errorf("crypto time_in_force = %q, want gtc", captured.TimeInForce)
	}
}

func TestExecuteDecisionHoldIsNoop(t *testing.T) {
	client, _ := testClient(t, http.NewServeMux())

	order, err := client.ExecuteDecision(context.Background(), &models.TradeDecision{
		Symbol: "AAPL",
		Action: models.ActionHold,
	})
	if err != nil {
		t.Fatalf("ExecuteDecision: %v", err)
	}
	if order != nil {
		t.Errorf("hold should not submit an order, got %+v", order)
	}
}

func TestExecuteDecisionMissingQuantity(t *testing.T) {
	client, _ := testClient(t, http.NewServeMux())

	_, err := client.ExecuteDecision(context.Background(), &models.TradeDecision{
		Symbol: "AAPL",
		Action: models.ActionBuy,
	})
	if err == nil {
		t.Fatal("expected error for buy without quantity")
	}
}

func TestNormalizePositionSymbol(t *testing.T) {
	tests := []struct {
		symbol     string
		assetClass string
		want       string
	}{
		{"AAPL", "us_equity", "AAPL"},
		{"BTCUSD", "crypto", "BTC/USD"},
		{"ETHUSDT", "crypto", "ETH/USDT"},
		{"BTC/USD", "crypto", "BTC/USD"},
	}
	for _, tt := range tests {
		if got := normalizePositionSymbol(tt.symbol, tt.assetClass); got != tt.want {
			t.Errorf("normalizePositionSymbol(%q, %q) = %q, want %q", tt.symbol, tt.assetClass, got, tt.want)
		}
	}
}

func TestParseNum(t *testing.T) {
	if parseNum("") != 0 || parseNum("abc") != 0 {
		t.Error("malformed input should parse as 0")
	}
	if parseNum("-12.5") != -12.5 {
		t.Error("negative numbers should parse")
	}
}
