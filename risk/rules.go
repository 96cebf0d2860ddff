package risk

import (
	"fmt"
	"log"
	"time"

	"github.com/kenyonj/auto-investor/models"
)

// evalContext carries the per-batch inputs a rule needs. Rules run with
// the state mutex already held by Evaluate.
type evalContext struct {
	portfolio *models.PortfolioSnapshot
	quotes    map[string]float64
	now       time.Time
}

// A rule inspects one decision and either passes or produces a veto
// reason. Rules are evaluated in registration order and the first
// failure wins, so the reported reason is always the highest-precedence
// violation.
type rule func(m *Manager, d *models.TradeDecision, ctx *evalContext) (vetoed bool, reason string)

func buyRules() []rule {
	return []rule{
		checkBuyQuantity,
		checkWashSale,
		checkSessionBudget,
		checkCashReserve,
		checkConcentration,
	}
}

func sellRules() []rule {
	return []rule{
		checkHasPosition,
		checkSellQuantity,
		checkMinHoldPeriod,
	}
}

func checkBuyQuantity(m *Manager, d *models.TradeDecision, ctx *evalContext) (bool, string) {
	if d.Quantity == nil || *d.Quantity <= 0 {
		return true, "Invalid quantity"
	}
	return false, ""
}

// checkWashSale blocks rebuying a symbol sold at a loss within the
// lookback window. Crypto is exempt.
func checkWashSale(m *Manager, d *models.TradeDecision, ctx *evalContext) (bool, string) {
	if models.IsCrypto(d.Symbol) || m.ledger == nil {
		return false, ""
	}
	record, err := m.ledger.GetRecentLossSale(d.Symbol, m.cfg.WashSaleWindowDays)
	if err != nil {
		log.Printf("⚠️  Loss-sale lookup failed for %s: %v", d.Symbol, err)
		return false, ""
	}
	if record == nil {
		return false, ""
	}
	return true, fmt.Sprintf(
		"Wash sale guard: sold at a $%.2f loss on %s (within %d-day window)",
		record.LossAmount, record.SoldAt.Format("2006-01-02"), m.cfg.WashSaleWindowDays,
	)
}

// checkSessionBudget caps the capital committed across the session. The
// reference price is the held position's current price, else the live
// quote; with neither, the check is skipped — an unopened position
// cannot be priced. (Known gap: unpriced first-time buys pass here.)
func checkSessionBudget(m *Manager, d *models.TradeDecision, ctx *evalContext) (bool, string) {
	if m.cfg.SessionBudget <= 0 {
		return false, ""
	}
	refPrice := referencePrice(d.Symbol, ctx)
	if refPrice <= 0 {
		return false, ""
	}
	cost := *d.Quantity * refPrice
	if m.state.sessionSpent+cost > m.cfg.SessionBudget {
		over := m.state.sessionSpent + cost - m.cfg.SessionBudget
		return true, fmt.Sprintf(
			"Session budget exceeded: $%.2f spent + $%.2f order is $%.2f over the $%.2f budget",
			m.state.sessionSpent, cost, over, m.cfg.SessionBudget,
		)
	}
	return false, ""
}

func checkCashReserve(m *Manager, d *models.TradeDecision, ctx *evalContext) (bool, string) {
	p := ctx.portfolio
	// Zero equity means zero buying-power headroom, not a free pass.
	bpPct := 0.0
	if p.Equity > 0 {
		bpPct = p.BuyingPower / p.Equity * 100
	}
	if bpPct <= m.cfg.MinCashReservePct {
		return true, fmt.Sprintf(
			"Cash reserve too low (%.1f%% <= %.1f%%)",
			bpPct, m.cfg.MinCashReservePct,
		)
	}
	return false, ""
}

// checkConcentration limits the prospective position value as a share of
// equity. Low-priced stocks (non-crypto) use the tighter ceiling.
func checkConcentration(m *Manager, d *models.TradeDecision, ctx *evalContext) (bool, string) {
	p := ctx.portfolio
	if p.Equity <= 0 {
		return false, ""
	}
	refPrice := referencePrice(d.Symbol, ctx)
	if refPrice <= 0 {
		return false, ""
	}

	var existingValue float64
	if pos := p.FindPosition(d.Symbol); pos != nil {
		existingValue = pos.MarketValue
	}
	prospective := existingValue + *d.Quantity*refPrice
	positionPct := prospective / p.Equity * 100

	ceiling := m.cfg.MaxPositionPct
	label := "position"
	if !models.IsCrypto(d.Symbol) && refPrice < m.cfg.LowPriceThreshold {
		ceiling = m.cfg.LowPriceMaxPositionPct
		label = "low-priced position"
	}
	if positionPct > ceiling {
		return true, fmt.Sprintf(
			"%s too large (%.1f%% > %.1f%%)", capitalize(label), positionPct, ceiling,
		)
	}
	return false, ""
}

func checkHasPosition(m *Manager, d *models.TradeDecision, ctx *evalContext) (bool, string) {
	if ctx.portfolio.FindPosition(d.Symbol) == nil {
		return true, fmt.Sprintf("No position in %s to sell", d.Symbol)
	}
	return false, ""
}

func checkSellQuantity(m *Manager, d *models.TradeDecision, ctx *evalContext) (bool, string) {
	pos := ctx.portfolio.FindPosition(d.Symbol)
	if d.Quantity != nil && *d.Quantity > pos.Quantity {
		return true, fmt.Sprintf(
			"Sell qty (%g) > position (%g)", *d.Quantity, pos.Quantity,
		)
	}
	return false, ""
}

// checkMinHoldPeriod prevents flipping a symbol bought moments ago. The
// in-memory stamp is authoritative for this process; the ledger covers
// buys executed before a restart.
func checkMinHoldPeriod(m *Manager, d *models.TradeDecision, ctx *evalContext) (bool, string) {
	minHold := time.Duration(m.cfg.MinHoldMinutes) * time.Minute
	if minHold <= 0 {
		return false, ""
	}

	boughtAt, ok := m.state.lastBuy[d.Symbol]
	if !ok && m.ledger != nil {
		t, err := m.ledger.GetLastBuyTime(d.Symbol)
		if err != nil {
			log.Printf("⚠️  Last-buy lookup failed for %s: %v", d.Symbol, err)
		}
		if t != nil {
			boughtAt = *t
			ok = true
		}
	}
	if !ok {
		return false, ""
	}

	held := ctx.now.Sub(boughtAt)
	if held < minHold {
		wait := minHold - held
		return true, fmt.Sprintf(
			"Minimum hold period: bought %.0fm ago, wait %.0fm more",
			held.Minutes(), wait.Minutes(),
		)
	}
	return false, ""
}

// referencePrice resolves the price used for sizing checks: the held
// position's current price, else the cycle's live quote, else 0.
func referencePrice(symbol string, ctx *evalContext) float64 {
	if pos := ctx.portfolio.FindPosition(symbol); pos != nil && pos.CurrentPrice > 0 {
		return pos.CurrentPrice
	}
	if price, ok := ctx.quotes[symbol]; ok && price > 0 {
		return price
	}
	return 0
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
