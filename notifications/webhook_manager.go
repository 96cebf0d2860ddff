// Package notifications delivers execution and veto alerts to configured
// webhooks.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/kenyonj/auto-investor/cache"
	"github.com/kenyonj/auto-investor/database"
	"github.com/kenyonj/auto-investor/helpers"
	"github.com/kenyonj/auto-investor/models"
)

// Event names a webhook can subscribe to via its Events filter.
const (
	EventExecution = "execution"
	EventVeto      = "veto"
)

// WebhookManager handles webhook notifications
type WebhookManager struct {
	repo   *database.Repository
	redis  *cache.RedisClient
	client *http.Client
}

// WebhookPayload represents the JSON payload sent to webhooks
type WebhookPayload struct {
	Event      string    `json:"event"`
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Action     string    `json:"action"`
	Confidence string    `json:"confidence"`
	Quantity   *float64  `json:"quantity,omitempty"`
	Reasoning  string    `json:"reasoning"`
	RiskNotes  string    `json:"risk_notes,omitempty"`
	OrderID    string    `json:"order_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Message    string    `json:"message"`
}

// NewWebhookManager creates a new webhook manager
func NewWebhookManager(repo *database.Repository, redis *cache.RedisClient) *WebhookManager {
	return &WebhookManager{
		repo:  repo,
		redis: redis,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NotifyExecution sends an execution alert to matching webhooks.
func (wm *WebhookManager) NotifyExecution(d *models.TradeDecision, order *models.OrderResult) {
	payload := WebhookPayload{
		Event:      EventExecution,
		Timestamp:  time.Now(),
		Symbol:     d.Symbol,
		Action:     string(d.Action),
		Confidence: string(d.Confidence),
		Quantity:   d.Quantity,
		Reasoning:  d.Reasoning,
		OrderID:    order.ID,
		Status:     order.Status,
	}

	qty := 0.0
	if d.Quantity != nil {
		qty = *d.Quantity
	}
	payload.Message = fmt.Sprintf("✅ EXECUTED %s %g %s — %s",
		strings.ToUpper(string(d.Action)), qty, d.Symbol, order.Status)

	wm.send(payload)
}

// NotifyVeto sends a veto alert to matching webhooks.
func (wm *WebhookManager) NotifyVeto(d *models.TradeDecision) {
	payload := WebhookPayload{
		Event:      EventVeto,
		Timestamp:  time.Now(),
		Symbol:     d.Symbol,
		Action:     string(d.Action),
		Confidence: string(d.Confidence),
		Reasoning:  d.Reasoning,
		RiskNotes:  d.RiskNotes,
		Message:    fmt.Sprintf("🛑 %s: %s", d.Symbol, d.RiskNotes),
	}

	wm.send(payload)
}

// NotifySnapshot sends a daily P&L summary to matching webhooks subscribed
// to executions.
func (wm *WebhookManager) NotifySnapshot(snapshot *models.PortfolioSnapshot) {
	payload := WebhookPayload{
		Event:     EventExecution,
		Timestamp: time.Now(),
		Message: fmt.Sprintf("📊 Portfolio: %s equity, %s cash, daily P&L %+.2f%%",
			helpers.FormatUSD(snapshot.Equity), helpers.FormatUSD(snapshot.Cash), snapshot.DailyPLPct),
	}

	wm.send(payload)
}

func (wm *WebhookManager) send(payload WebhookPayload) {
	webhooks, err := wm.getActiveWebhooks()
	if err != nil {
		log.Printf("⚠️ Failed to load webhooks: %v", err)
		return
	}
	if len(webhooks) == 0 {
		return
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		log.Printf("⚠️ Failed to marshal webhook payload: %v", err)
		return
	}

	for _, hook := range webhooks {
		if shouldSend(hook, payload.Event) {
			go wm.deliver(hook, payloadBytes)
		}
	}
}

func (wm *WebhookManager) getActiveWebhooks() ([]database.Webhook, error) {
	// Try cache first
	cacheKey := "active_webhooks"
	if wm.redis != nil {
		var cached []database.Webhook
		if err := wm.redis.Get(context.Background(), cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	webhooks, err := wm.repo.ActiveWebhooks()
	if err != nil {
		return nil, err
	}

	// Update cache (expire 1 hour)
	if wm.redis != nil {
		_ = wm.redis.Set(context.Background(), cacheKey, webhooks, 1*time.Hour)
	}

	return webhooks, nil
}

// shouldSend checks a hook's event filter. An empty filter matches all
// events.
func shouldSend(hook database.Webhook, event string) bool {
	if hook.Events == "" {
		return true
	}
	for _, e := range strings.Split(hook.Events, ",") {
		if strings.TrimSpace(e) == event {
			return true
		}
	}
	return false
}

func (wm *WebhookManager) deliver(hook database.Webhook, payload []byte) {
	const maxRetries = 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequest(http.MethodPost, hook.URL, bytes.NewBuffer(payload))
		if err != nil {
			log.Printf("⚠️ Invalid webhook %s: %v", hook.Name, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "auto-investor/1.0")

		resp, err := wm.client.Do(req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			resp.Body.Close()
			return
		}
		if resp != nil {
			resp.Body.Close()
		}

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		} else {
			log.Printf("⚠️ Webhook %s delivery failed after %d attempts", hook.Name, maxRetries)
		}
	}
}

// RefreshCache reloads webhook configurations after a config change.
func (wm *WebhookManager) RefreshCache() {
	if wm.redis != nil {
		_ = wm.redis.Delete(context.Background(), "active_webhooks")
		log.Println("🔄 Webhook cache invalidated")
	}
}
