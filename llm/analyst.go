package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kenyonj/auto-investor/cache"
	"github.com/kenyonj/auto-investor/config"
	"github.com/kenyonj/auto-investor/models"
)

// analysisResponse mirrors the JSON contract in the system prompt.
type analysisResponse struct {
	MarketAssessment string `json:"market_assessment"`
	Decisions        []struct {
		Symbol     string   `json:"symbol"`
		Action     string   `json:"action"`
		Confidence string   `json:"confidence"`
		Quantity   *float64 `json:"quantity"`
		Reasoning  string   `json:"reasoning"`
		RiskNotes  string   `json:"risk_notes"`
	} `json:"decisions"`
}

// Analyst turns collected market data into trade proposals. When the
// configured model is unavailable or disabled it degrades to HOLD-everything
// so the pipeline keeps its shape.
type Analyst struct {
	client *Client
	cache  *cache.ProposalCache
	cfg    config.LLMConfig
}

// NewAnalyst creates an analyst. proposalCache may be nil.
func NewAnalyst(cfg config.LLMConfig, proposalCache *cache.ProposalCache) *Analyst {
	var client *Client
	if cfg.Enabled {
		client = NewClient(cfg.Endpoint, cfg.APIKey, cfg.Model, cfg.MaxTokens, cfg.Temperature)
	}
	return &Analyst{
		client: client,
		cache:  proposalCache,
		cfg:    cfg,
	}
}

// Enabled reports whether the analyst will actually call the model.
func (a *Analyst) Enabled() bool {
	return a.client != nil
}

// Analyze produces one decision batch for a watchlist lane. lane names the
// cache bucket ("equity" or "crypto"). Errors from the model bubble up;
// the caller decides whether to degrade.
func (a *Analyst) Analyze(ctx context.Context, lane string, in PromptInput) ([]models.TradeDecision, error) {
	if a.client == nil {
		return HoldAll(in.Watchlist, "AI analysis disabled"), nil
	}

	prompt := BuildAnalysisPrompt(in)
	inputHash := cache.HashInputs(prompt)

	if cached, ok := a.cache.Get(ctx, lane, inputHash); ok {
		log.Printf("🤖 Using cached proposals for %s lane (%d decisions)", lane, len(cached))
		return cached, nil
	}

	raw, err := a.client.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}

	decisions, assessment, err := ParseDecisions(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse analysis response: %w", err)
	}
	if assessment != "" {
		log.Printf("🤖 Market assessment (%s): %s", lane, assessment)
	}

	if a.cache != nil && a.cfg.CacheTTLMin > 0 {
		ttl := time.Duration(a.cfg.CacheTTLMin) * time.Minute
		if err := a.cache.Set(ctx, lane, inputHash, decisions, ttl); err != nil {
			log.Printf("⚠️ Failed to cache proposals: %v", err)
		}
	}

	return decisions, nil
}

// ParseDecisions extracts structured decisions from a model response,
// tolerating markdown code fences around the JSON body. Unknown actions or
// confidences normalize to HOLD / low rather than failing the batch.
func ParseDecisions(text string) ([]models.TradeDecision, string, error) {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		if idx := strings.Index(cleaned, "\n"); idx >= 0 {
			cleaned = cleaned[idx+1:]
		}
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
	}

	var resp analysisResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, "", fmt.Errorf("invalid JSON: %w", err)
	}

	now := time.Now()
	decisions := make([]models.TradeDecision, 0, len(resp.Decisions))
	for _, d := range resp.Decisions {
		action := models.Action(strings.ToLower(d.Action))
		switch action {
		case models.ActionBuy, models.ActionSell, models.ActionHold:
		default:
			log.Printf("⚠️ Unknown action %q for %s, treating as hold", d.Action, d.Symbol)
			action = models.ActionHold
		}

		confidence := models.Confidence(strings.ToLower(d.Confidence))
		switch confidence {
		case models.ConfidenceHigh, models.ConfidenceMedium, models.ConfidenceLow:
		default:
			confidence = models.ConfidenceLow
		}

		quantity := d.Quantity
		if action == models.ActionHold {
			quantity = nil
		}

		decisions = append(decisions, models.TradeDecision{
			Symbol:     d.Symbol,
			Action:     action,
			Confidence: confidence,
			Quantity:   quantity,
			Reasoning:  d.Reasoning,
			RiskNotes:  d.RiskNotes,
			Timestamp:  now,
		})
	}

	return decisions, resp.MarketAssessment, nil
}

// HoldAll builds a HOLD decision for every watchlist symbol. Used when AI
// analysis is disabled or paused so downstream stages still see a batch.
func HoldAll(watchlist []string, reason string) []models.TradeDecision {
	now := time.Now()
	decisions := make([]models.TradeDecision, 0, len(watchlist))
	for _, symbol := range watchlist {
		decisions = append(decisions, models.TradeDecision{
			Symbol:     symbol,
			Action:     models.ActionHold,
			Confidence: models.ConfidenceLow,
			Reasoning:  reason,
			Timestamp:  now,
		})
	}
	return decisions
}
