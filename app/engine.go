package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kenyonj/auto-investor/config"
	"github.com/kenyonj/auto-investor/helpers"
	"github.com/kenyonj/auto-investor/indicators"
	"github.com/kenyonj/auto-investor/llm"
	"github.com/kenyonj/auto-investor/models"
	"github.com/kenyonj/auto-investor/realtime"
	"github.com/kenyonj/auto-investor/risk"
)

// Trading lanes. Both lanes draw on the same account and share one
// guardrail state.
const (
	LaneEquity = "equity"
	LaneCrypto = "crypto"
)

// BrokerAPI is the slice of the broker client the engine uses.
type BrokerAPI interface {
	GetPortfolioSnapshot(ctx context.Context) (*models.PortfolioSnapshot, error)
	GetQuotes(ctx context.Context, symbols []string) ([]models.MarketQuote, error)
	GetBars(ctx context.Context, symbols []string, days int, crypto bool) (map[string][]models.DailyBar, error)
	GetNews(ctx context.Context, symbols []string, limit int) (map[string][]models.NewsArticle, error)
	GetOpenOrders(ctx context.Context) (map[string]bool, error)
	ExecuteDecision(ctx context.Context, d *models.TradeDecision) (*models.OrderResult, error)
}

// ProposalSource produces trade proposals for a lane.
type ProposalSource interface {
	Analyze(ctx context.Context, lane string, in llm.PromptInput) ([]models.TradeDecision, error)
}

// SocialSource provides community posts as supplemental sentiment.
type SocialSource interface {
	GetPosts(ctx context.Context, limit int) ([]models.NewsArticle, error)
}

// AuditStore records decisions, executions, and snapshots.
type AuditStore interface {
	LogDecision(d *models.TradeDecision, vetoed bool) (int64, error)
	LogExecution(decisionID int64, order *models.OrderResult) error
	LogSnapshot(s *models.PortfolioSnapshot) error
	RecordLossSale(symbol string, lossAmount float64, soldAt time.Time) error
	RecordBuy(symbol string, quantity, price float64, executedAt time.Time) error
	GetState(key string) (string, error)
	SetState(key, value string) error
}

// Notifier pushes execution and veto alerts.
type Notifier interface {
	NotifyExecution(d *models.TradeDecision, order *models.OrderResult)
	NotifyVeto(d *models.TradeDecision)
}

// EventPublisher broadcasts pipeline events to dashboard clients.
type EventPublisher interface {
	Publish(event string, payload any)
}

// CycleResult summarizes one pipeline run for logging and tests. Degraded
// lists the data sources that failed and were replaced by empty inputs.
type CycleResult struct {
	Lane      string   `json:"lane"`
	Skipped   bool     `json:"skipped"`
	Decisions int      `json:"decisions"`
	Vetoed    int      `json:"vetoed"`
	Executed  int      `json:"executed"`
	Degraded  []string `json:"degraded,omitempty"`
}

// Engine runs the analysis → risk → execution pipeline for both lanes.
type Engine struct {
	cfg      *config.Config
	broker   BrokerAPI
	analyst  ProposalSource
	social   SocialSource
	risk     *risk.Manager
	store    AuditStore
	events   EventPublisher
	notifier Notifier

	dryRun     bool
	holdAll    atomic.Bool
	pauseAI    atomic.Bool
	scheduling atomic.Bool

	// One mutex per lane: a manual run-now waits for any in-flight cycle
	// on the same lane instead of overlapping it.
	laneMu map[string]*sync.Mutex

	nextMu      sync.Mutex
	nextCycleAt time.Time

	runNow chan struct{}
}

// NewEngine wires the pipeline. social and notifier may be nil.
func NewEngine(cfg *config.Config, brokerAPI BrokerAPI, analyst ProposalSource, social SocialSource, riskMgr *risk.Manager, store AuditStore, events EventPublisher, notifier Notifier, dryRun bool) *Engine {
	return &Engine{
		cfg:      cfg,
		broker:   brokerAPI,
		analyst:  analyst,
		social:   social,
		risk:     riskMgr,
		store:    store,
		events:   events,
		notifier: notifier,
		dryRun:   dryRun,
		laneMu: map[string]*sync.Mutex{
			LaneEquity: {},
			LaneCrypto: {},
		},
		runNow: make(chan struct{}, 1),
	}
}

// DryRun reports whether orders are suppressed.
func (e *Engine) DryRun() bool { return e.dryRun }

// HoldAll reports the hold-all toggle.
func (e *Engine) HoldAll() bool { return e.holdAll.Load() }

// PauseAI reports the pause-ai toggle.
func (e *Engine) PauseAI() bool { return e.pauseAI.Load() }

// ToggleHoldAll flips hold-all and returns the new value.
func (e *Engine) ToggleHoldAll() bool {
	v := !e.holdAll.Load()
	e.holdAll.Store(v)
	log.Printf("⏸ Hold-all set to %v", v)
	if e.events != nil {
		e.events.Publish(realtime.EventControl, map[string]bool{"hold_all": v})
	}
	return v
}

// TogglePauseAI flips pause-ai and returns the new value.
func (e *Engine) TogglePauseAI() bool {
	v := !e.pauseAI.Load()
	e.pauseAI.Store(v)
	log.Printf("🤖 Pause-AI set to %v", v)
	if e.events != nil {
		e.events.Publish(realtime.EventControl, map[string]bool{"pause_ai": v})
	}
	return v
}

// RunNow requests an immediate cycle from the scheduler. It reports false
// when no scheduler is running to consume the request.
func (e *Engine) RunNow() bool {
	if !e.scheduling.Load() {
		return false
	}
	select {
	case e.runNow <- struct{}{}:
	default:
	}
	return true
}

// NextCycleAt reports when the scheduler plans the next cycle.
func (e *Engine) NextCycleAt() time.Time {
	e.nextMu.Lock()
	defer e.nextMu.Unlock()
	return e.nextCycleAt
}

func (e *Engine) setNextCycleAt(t time.Time) {
	e.nextMu.Lock()
	e.nextCycleAt = t
	e.nextMu.Unlock()
	if e.store != nil {
		if err := e.store.SetState("next_cycle_at", t.Format(time.RFC3339)); err != nil {
			log.Printf("⚠️ Failed to persist next cycle time: %v", err)
		}
	}
}

// watchlistFor returns the symbol universe for a lane, with equity symbols
// in an active hold cooldown filtered out. Crypto trades 24/7 and skips the
// cooldown.
func (e *Engine) watchlistFor(lane string, now time.Time) []string {
	if lane == LaneCrypto {
		return e.cfg.CryptoWatchlist
	}

	cooldown := time.Duration(e.cfg.Trading.HoldCooldownMinutes) * time.Minute
	state := e.risk.State()

	universe := make([]string, 0, len(e.cfg.Watchlist))
	for _, symbol := range e.cfg.Watchlist {
		if cooldown > 0 && state.InHoldCooldown(symbol, cooldown, now) {
			log.Printf("💤 %s held recently, skipping this cycle", symbol)
			continue
		}
		universe = append(universe, symbol)
	}
	return universe
}

// RunCycle runs one full pipeline pass for a lane. Portfolio fetch failure
// is fatal to the cycle; other data sources degrade to empty inputs with a
// flag on the result.
func (e *Engine) RunCycle(ctx context.Context, lane string) (*CycleResult, error) {
	mu, ok := e.laneMu[lane]
	if !ok {
		return nil, fmt.Errorf("unknown lane %q", lane)
	}
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()
	if e.risk.State().RollDayIfNeeded(now) {
		log.Println("📅 New trading day, daily counters reset")
	}

	result := &CycleResult{Lane: lane}
	e.publish(realtime.EventCycleStarted, map[string]string{"lane": lane})

	// FETCH_PORTFOLIO
	e.stage(lane, "FETCH_PORTFOLIO")
	portfolio, err := e.broker.GetPortfolioSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("portfolio fetch failed: %w", err)
	}
	if err := e.store.LogSnapshot(portfolio); err != nil {
		log.Printf("⚠️ Failed to log snapshot: %v", err)
	}
	e.publish(realtime.EventSnapshot, portfolio)
	log.Printf("💼 Equity %s | Cash %s | Daily P&L %+.2f%%",
		helpers.FormatUSD(portfolio.Equity), helpers.FormatUSD(portfolio.Cash), portfolio.DailyPLPct)

	if e.holdAll.Load() {
		log.Println("⏸ Hold-all active, snapshot only")
		result.Skipped = true
		e.publish(realtime.EventCycleComplete, result)
		return result, nil
	}

	universe := e.watchlistFor(lane, now)
	if len(universe) == 0 {
		log.Printf("💤 No symbols to analyze on %s lane", lane)
		result.Skipped = true
		e.publish(realtime.EventCycleComplete, result)
		return result, nil
	}

	// FETCH_MARKET_DATA
	e.stage(lane, "FETCH_MARKET_DATA")
	quotes, err := e.broker.GetQuotes(ctx, universe)
	if err != nil {
		log.Printf("⚠️ Quote fetch failed: %v", err)
		result.Degraded = append(result.Degraded, "quotes")
		quotes = nil
	}
	e.risk.SetQuotes(quotes)

	bars, err := e.broker.GetBars(ctx, universe, e.cfg.Trading.BarHistoryDays, lane == LaneCrypto)
	if err != nil {
		log.Printf("⚠️ Bar fetch failed: %v", err)
		result.Degraded = append(result.Degraded, "bars")
		bars = nil
	}

	news, err := e.broker.GetNews(ctx, universe, e.cfg.Trading.NewsLimit)
	if err != nil {
		log.Printf("⚠️ News fetch failed: %v", err)
		result.Degraded = append(result.Degraded, "news")
		news = nil
	}

	var social []models.NewsArticle
	if e.social != nil {
		social, err = e.social.GetPosts(ctx, e.cfg.Trading.SocialLimit)
		if err != nil {
			log.Printf("⚠️ Social fetch failed: %v", err)
			result.Degraded = append(result.Degraded, "social")
			social = nil
		}
	}

	// COMPUTE_INDICATORS
	e.stage(lane, "COMPUTE_INDICATORS")
	technicals := indicators.Compute(bars)

	// OBTAIN_PROPOSALS
	e.stage(lane, "OBTAIN_PROPOSALS")
	var proposals []models.TradeDecision
	if e.pauseAI.Load() {
		log.Println("🤖 AI paused, holding everything")
		proposals = llm.HoldAll(universe, "AI analysis paused")
	} else {
		proposals, err = e.analyst.Analyze(ctx, lane, llm.PromptInput{
			Portfolio:  portfolio,
			Quotes:     quotes,
			Watchlist:  universe,
			Bars:       bars,
			Indicators: technicals,
			News:       news,
			Social:     social,
		})
		if err != nil {
			log.Printf("⚠️ Analysis failed: %v", err)
			result.Degraded = append(result.Degraded, "proposals")
			proposals = llm.HoldAll(universe, "Analysis unavailable")
		}
	}

	// RISK_FILTER
	e.stage(lane, "RISK_FILTER")
	approved := e.risk.Evaluate(proposals, portfolio)
	if len(approved) == 0 && len(proposals) > 0 {
		log.Println("🛑 Circuit breaker tripped, dropping the whole batch")
	}

	// EXECUTE + AUDIT
	e.stage(lane, "EXECUTE")
	e.executeBatch(ctx, lane, approved, portfolio, quotes, result, now)

	e.publish(realtime.EventCycleComplete, result)
	log.Printf("✅ %s cycle complete: %d decisions, %d vetoed, %d executed",
		lane, result.Decisions, result.Vetoed, result.Executed)
	return result, nil
}

// executeBatch logs every decision and submits orders for actionable ones.
// Execution failures are per-symbol; the rest of the batch continues.
func (e *Engine) executeBatch(ctx context.Context, lane string, decisions []models.TradeDecision, portfolio *models.PortfolioSnapshot, quotes []models.MarketQuote, result *CycleResult, now time.Time) {
	quoteBySymbol := make(map[string]float64, len(quotes))
	for _, q := range quotes {
		quoteBySymbol[q.Symbol] = q.Price
	}

	openOrders := map[string]bool{}
	if !e.dryRun && len(decisions) > 0 {
		open, err := e.broker.GetOpenOrders(ctx)
		if err != nil {
			log.Printf("⚠️ Open order check failed: %v", err)
			result.Degraded = append(result.Degraded, "open_orders")
		} else {
			openOrders = open
		}
	}

	state := e.risk.State()

	for i := range decisions {
		d := &decisions[i]
		result.Decisions++

		vetoed := d.Vetoed()
		if vetoed {
			result.Vetoed++
		}

		decisionID, err := e.store.LogDecision(d, vetoed)
		if err != nil {
			log.Printf("⚠️ Failed to log decision for %s: %v", d.Symbol, err)
		}
		e.publish(realtime.EventDecision, d)

		if vetoed {
			log.Printf("🛑 %s: %s", d.Symbol, d.RiskNotes)
			e.publish(realtime.EventVeto, d)
			if e.notifier != nil {
				e.notifier.NotifyVeto(d)
			}
		}

		if d.Action == models.ActionHold {
			// Vetoes land here too; both start the cooldown clock.
			if lane != LaneCrypto {
				state.RecordHold(d.Symbol, now)
			}
			continue
		}

		if e.dryRun {
			qty := 0.0
			if d.Quantity != nil {
				qty = *d.Quantity
			}
			log.Printf("📝 DRY RUN: would %s %g %s", strings.ToUpper(string(d.Action)), qty, d.Symbol)
			continue
		}

		if openOrders[d.Symbol] {
			log.Printf("⏭ %s already has an open order, skipping", d.Symbol)
			continue
		}

		order, err := e.broker.ExecuteDecision(ctx, d)
		if err != nil {
			log.Printf("❌ %s: %v", d.Symbol, err)
			continue
		}
		if order == nil {
			continue
		}

		result.Executed++
		if err := e.store.LogExecution(decisionID, order); err != nil {
			log.Printf("⚠️ Failed to log execution for %s: %v", d.Symbol, err)
		}
		e.publish(realtime.EventExecution, order)
		if e.notifier != nil {
			e.notifier.NotifyExecution(d, order)
		}
		state.ClearHold(d.Symbol)

		qty := *d.Quantity
		log.Printf("✓ %s %g %s — %s", strings.ToUpper(string(d.Action)), qty, d.Symbol, order.Status)

		switch d.Action {
		case models.ActionBuy:
			price := quoteBySymbol[d.Symbol]
			if price == 0 {
				if pos := portfolio.FindPosition(d.Symbol); pos != nil {
					price = pos.CurrentPrice
				}
			}
			state.RecordBuy(d.Symbol, now)
			if err := e.store.RecordBuy(d.Symbol, qty, price, now); err != nil {
				log.Printf("⚠️ Failed to record buy for %s: %v", d.Symbol, err)
			}
		case models.ActionSell:
			e.recordLossIfAny(d, portfolio, qty, now)
		}
	}
}

// recordLossIfAny stamps a wash-sale record when a sell closes below the
// average entry price.
func (e *Engine) recordLossIfAny(d *models.TradeDecision, portfolio *models.PortfolioSnapshot, qty float64, now time.Time) {
	pos := portfolio.FindPosition(d.Symbol)
	if pos == nil {
		return
	}
	perShareLoss := pos.AvgEntryPrice - pos.CurrentPrice
	if perShareLoss <= 0 {
		return
	}
	loss := perShareLoss * qty
	if err := e.store.RecordLossSale(d.Symbol, loss, now); err != nil {
		log.Printf("⚠️ Failed to record loss sale for %s: %v", d.Symbol, err)
		return
	}
	log.Printf("📉 Loss sale recorded: %s at %s loss", d.Symbol, helpers.FormatUSD(loss))
}

func (e *Engine) stage(lane, stage string) {
	e.publish(realtime.EventCycleStage, map[string]string{"lane": lane, "stage": stage})
}

func (e *Engine) publish(event string, payload any) {
	if e.events != nil {
		e.events.Publish(event, payload)
	}
}
