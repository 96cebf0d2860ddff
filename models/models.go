// Package models defines the domain types shared across the auto-investor
// pipeline: market data, portfolio state, and trade decisions.
package models

import (
	"strings"
	"time"
)

// Action is the trade action proposed by the analyst.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Confidence expresses how strongly the analyst believes in a decision.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// VetoPrefix marks a decision that was downgraded to HOLD by the risk
// engine. Other components match on this prefix, so it must stay stable.
const VetoPrefix = "VETOED: "

// TradeDecision is a single analyst recommendation for one symbol.
// Quantity is nil for HOLD decisions and cleared again when a veto
// downgrades a BUY/SELL back to HOLD.
type TradeDecision struct {
	Symbol     string     `json:"symbol"`
	Action     Action     `json:"action"`
	Confidence Confidence `json:"confidence"`
	Quantity   *float64   `json:"quantity,omitempty"`
	LimitPrice *float64   `json:"limit_price,omitempty"`
	Reasoning  string     `json:"reasoning"`
	RiskNotes  string     `json:"risk_notes"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Vetoed reports whether the risk engine downgraded this decision.
func (d *TradeDecision) Vetoed() bool {
	return strings.HasPrefix(d.RiskNotes, VetoPrefix)
}

// Position is a currently held portfolio position.
type Position struct {
	Symbol          string  `json:"symbol"`
	Quantity        float64 `json:"quantity"`
	AvgEntryPrice   float64 `json:"avg_entry_price"`
	CurrentPrice    float64 `json:"current_price"`
	MarketValue     float64 `json:"market_value"`
	UnrealizedPL    float64 `json:"unrealized_pl"`
	UnrealizedPLPct float64 `json:"unrealized_pl_pct"`
	AssetClass      string  `json:"asset_class"`
}

// PortfolioSnapshot is the point-in-time account state a cycle runs against.
type PortfolioSnapshot struct {
	Timestamp   time.Time  `json:"timestamp"`
	Equity      float64    `json:"equity"`
	Cash        float64    `json:"cash"`
	BuyingPower float64    `json:"buying_power"`
	Positions   []Position `json:"positions"`
	DailyPL     float64    `json:"daily_pl"`
	DailyPLPct  float64    `json:"daily_pl_pct"`
}

// FindPosition returns the held position for symbol, or nil.
func (p *PortfolioSnapshot) FindPosition(symbol string) *Position {
	for i := range p.Positions {
		if p.Positions[i].Symbol == symbol {
			return &p.Positions[i]
		}
	}
	return nil
}

// MarketQuote is the latest quote for a symbol.
type MarketQuote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Change    float64   `json:"change"`
	ChangePct float64   `json:"change_pct"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// DailyBar is a single day's OHLCV bar. Bar slices are always ordered
// oldest-first with no duplicate dates.
type DailyBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// NewsArticle is one headline used as sentiment input, from the market news
// feed or from social sources.
type NewsArticle struct {
	Headline  string    `json:"headline"`
	Source    string    `json:"source"`
	Summary   string    `json:"summary"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderResult is the broker's answer to a submitted order.
type OrderResult struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Qty      string `json:"qty"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	FilledAt string `json:"filled_at,omitempty"`
}

// IsCrypto reports whether a symbol is a crypto pair (e.g. BTC/USD).
// Crypto trades 24/7 and is exempt from equity-only guardrails.
func IsCrypto(symbol string) bool {
	return strings.Contains(symbol, "/")
}

// Float64Ptr returns a pointer to v. Used for optional quantities.
func Float64Ptr(v float64) *float64 {
	return &v
}
