// Package risk implements the guardrail engine that stands between the
// analyst's trade proposals and the broker. Proposals run through an
// ordered pipeline of checks per action type; the first failing check
// downgrades the proposal to HOLD with a recorded reason. The engine
// performs no I/O itself — durable lookups go through the Ledger.
package risk

import (
	"time"

	"github.com/kenyonj/auto-investor/config"
	"github.com/kenyonj/auto-investor/models"
)

// Manager evaluates and filters trade decisions based on risk rules.
// One Manager instance (or several sharing a *State) serves all lanes
// drawing on the same account.
type Manager struct {
	cfg    config.RiskConfig
	state  *State
	ledger Ledger

	buy  []rule
	sell []rule

	quotes map[string]float64
}

// NewManager creates a risk manager over shared guardrail state. ledger
// may be nil; wash-sale and restart-surviving last-buy checks then pass.
func NewManager(cfg config.RiskConfig, state *State, ledger Ledger) *Manager {
	if state == nil {
		state = NewState()
	}
	return &Manager{
		cfg:    cfg,
		state:  state,
		ledger: ledger,
		buy:    buyRules(),
		sell:   sellRules(),
		quotes: make(map[string]float64),
	}
}

// State exposes the shared guardrail state for the orchestrator.
func (m *Manager) State() *State {
	return m.state
}

// SetQuotes refreshes the live reference prices used by the sizing
// checks for symbols without an open position. Called once per cycle
// before Evaluate.
func (m *Manager) SetQuotes(quotes []models.MarketQuote) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	m.quotes = make(map[string]float64, len(quotes))
	for _, q := range quotes {
		m.quotes[q.Symbol] = q.Price
	}
}

// Evaluate filters a batch of decisions through the guardrails. The
// result has the same length and order as the input — HOLDs pass through
// untouched and vetoed BUY/SELLs come back as HOLDs with a
// "VETOED: ..." note — except when the circuit breaker fires, in which
// case the result is empty and nothing trades this cycle.
func (m *Manager) Evaluate(decisions []models.TradeDecision, portfolio *models.PortfolioSnapshot) []models.TradeDecision {
	// One lock for the whole batch: concurrent lanes and manual triggers
	// serialize here so shared counters cannot double-count.
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	if m.circuitBreakerTriggered(portfolio) {
		return []models.TradeDecision{}
	}

	ctx := &evalContext{
		portfolio: portfolio,
		quotes:    m.quotes,
		now:       time.Now(),
	}

	approved := make([]models.TradeDecision, 0, len(decisions))
	for _, decision := range decisions {
		if decision.Action == models.ActionHold {
			approved = append(approved, decision)
			continue
		}

		vetoed, reason := m.checkDecision(&decision, ctx)
		if vetoed {
			decision.RiskNotes = models.VetoPrefix + reason
			decision.Action = models.ActionHold
			decision.Quantity = nil
		} else {
			m.state.tradesToday++
			if decision.Action == models.ActionBuy && decision.Quantity != nil {
				if price := referencePrice(decision.Symbol, ctx); price > 0 {
					m.state.sessionSpent += *decision.Quantity * price
				}
			}
		}

		approved = append(approved, decision)
	}

	return approved
}

// circuitBreakerTriggered stops all trading for the cycle once the daily
// loss limit or trade cap is hit. Checked once per batch, before any
// per-decision logic. Callers hold the state mutex.
func (m *Manager) circuitBreakerTriggered(portfolio *models.PortfolioSnapshot) bool {
	if portfolio.DailyPLPct < -m.cfg.DailyLossLimitPct {
		return true
	}
	if m.state.tradesToday >= m.cfg.MaxTradesPerDay {
		return true
	}
	return false
}

func (m *Manager) checkDecision(d *models.TradeDecision, ctx *evalContext) (bool, string) {
	var rules []rule
	switch d.Action {
	case models.ActionBuy:
		rules = m.buy
	case models.ActionSell:
		rules = m.sell
	default:
		// Unknown actions from a malformed proposal are veto-eligible,
		// never a crash.
		return true, "Invalid action " + string(d.Action)
	}

	for _, check := range rules {
		if vetoed, reason := check(m, d, ctx); vetoed {
			return true, reason
		}
	}
	return false, ""
}
