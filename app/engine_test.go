package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kenyonj/auto-investor/config"
	"github.com/kenyonj/auto-investor/llm"
	"github.com/kenyonj/auto-investor/models"
	"github.com/kenyonj/auto-investor/risk"
)

// Fakes

type fakeBroker struct {
	portfolio    *models.PortfolioSnapshot
	portfolioErr error
	quotes       []models.MarketQuote
	quotesErr    error
	bars         map[string][]models.DailyBar
	barsErr      error
	news         map[string][]models.NewsArticle
	newsErr      error
	openOrders   map[string]bool
	executeErr   map[string]error
	executed     []models.TradeDecision
}

func (f *fakeBroker) GetPortfolioSnapshot(ctx context.Context) (*models.PortfolioSnapshot, error) {
	return f.portfolio, f.portfolioErr
}

func (f *fakeBroker) GetQuotes(ctx context.Context, symbols []string) ([]models.MarketQuote, error) {
	return f.quotes, f.quotesErr
}

func (f *fakeBroker) GetBars(ctx context.Context, symbols []string, days int, crypto bool) (map[string][]models.DailyBar, error) {
	return f.bars, f.barsErr
}

func (f *fakeBroker) GetNews(ctx context.Context, symbols []string, limit int) (map[string][]models.NewsArticle, error) {
	return f.news, f.newsErr
}

func (f *fakeBroker) GetOpenOrders(ctx context.Context) (map[string]bool, error) {
	if f.openOrders == nil {
		return map[string]bool{}, nil
	}
	return f.openOrders, nil
}

func (f *fakeBroker) ExecuteDecision(ctx context.Context, d *models.TradeDecision) (*models.OrderResult, error) {
	if err := f.executeErr[d.Symbol]; err != nil {
		return nil, err
	}
	f.executed = append(f.executed, *d)
	return &models.OrderResult{
		ID:     "order-" + d.Symbol,
		Symbol: d.Symbol,
		Side:   string(d.Action),
		Status: "accepted",
	}, nil
}

type fakeAnalyst struct {
	proposals []models.TradeDecision
	err       error
	calls     int
}

func (f *fakeAnalyst) Analyze(ctx context.Context, lane string, in llm.PromptInput) ([]models.TradeDecision, error) {
	f.calls++
	return f.proposals, f.err
}

type fakeSocial struct {
	posts []models.NewsArticle
	err   error
}

func (f *fakeSocial) GetPosts(ctx context.Context, limit int) ([]models.NewsArticle, error) {
	return f.posts, f.err
}

type fakeStore struct {
	decisions  []models.TradeDecision
	vetoed     []bool
	executions []models.OrderResult
	snapshots  int
	lossSales  map[string]float64
	buys       map[string]float64
	state      map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		lossSales: map[string]float64{},
		buys:      map[string]float64{},
		state:     map[string]string{},
	}
}

func (f *fakeStore) LogDecision(d *models.TradeDecision, vetoed bool) (int64, error) {
	f.decisions = append(f.decisions, *d)
	f.vetoed = append(f.vetoed, vetoed)
	return int64(len(f.decisions)), nil
}

func (f *fakeStore) LogExecution(decisionID int64, order *models.OrderResult) error {
	f.executions = append(f.executions, *order)
	return nil
}

func (f *fakeStore) LogSnapshot(s *models.PortfolioSnapshot) error {
	f.snapshots++
	return nil
}

func (f *fakeStore) RecordLossSale(symbol string, lossAmount float64, soldAt time.Time) error {
	f.lossSales[symbol] = lossAmount
	return nil
}

func (f *fakeStore) RecordBuy(symbol string, quantity, price float64, executedAt time.Time) error {
	f.buys[symbol] = quantity
	return nil
}

func (f *fakeStore) GetState(key string) (string, error) { return f.state[key], nil }
func (f *fakeStore) SetState(key, value string) error    { f.state[key] = value; return nil }

type nilLedger struct{}

func (nilLedger) GetRecentLossSale(symbol string, windowDays int) (*risk.LossSale, error) {
	return nil, nil
}
func (nilLedger) GetLastBuyTime(symbol string) (*time.Time, error) { return nil, nil }

// Helpers

func testConfig() *config.Config {
	return &config.Config{
		Watchlist:       []string{"AAPL", "MSFT"},
		CryptoWatchlist: []string{"BTC/USD"},
		Risk: config.RiskConfig{
			MaxPositionPct:         15,
			DailyLossLimitPct:      3,
			MaxTradesPerDay:        10,
			MinCashReservePct:      20,
			LowPriceThreshold:      10,
			LowPriceMaxPositionPct: 3,
			WashSaleWindowDays:     30,
			MinHoldMinutes:         30,
		},
		Trading: config.TradingConfig{
			IntervalMinutes:     30,
			MarketOpen:          "09:35",
			MarketClose:         "15:55",
			HoldCooldownMinutes: 20,
			BarHistoryDays:      35,
			NewsLimit:           5,
			SocialLimit:         10,
		},
	}
}

func healthyPortfolio() *models.PortfolioSnapshot {
	return &models.PortfolioSnapshot{
		Equity:      10000,
		Cash:        6000,
		BuyingPower: 8000,
		DailyPLPct:  0.5,
	}
}

func newTestEngine(cfg *config.Config, b *fakeBroker, a *fakeAnalyst, store *fakeStore, dryRun bool) *Engine {
	riskMgr := risk.NewManager(cfg.Risk, risk.NewState(), nilLedger{})
	return NewEngine(cfg, b, a, nil, riskMgr, store, nil, nil, dryRun)
}

// Tests

func TestRunCyclePortfolioFailureIsFatal(t *testing.T) {
	b := &fakeBroker{portfolioErr: errors.New("account unavailable")}
	engine := newTestEngine(testConfig(), b, &fakeAnalyst{}, newFakeStore(), true)

	if _, err := engine.RunCycle(context.Background(), LaneEquity); err == nil {
		t.Fatal("expected error when portfolio fetch fails")
	}
}

func TestRunCycleUnknownLane(t *testing.T) {
	engine := newTestEngine(testConfig(), &fakeBroker{}, &fakeAnalyst{}, newFakeStore(), true)
	if _, err := engine.RunCycle(context.Background(), "forex"); err == nil {
		t.Fatal("expected error for unknown lane")
	}
}

func TestRunCycleDryRunLogsWithoutExecuting(t *testing.T) {
	b := &fakeBroker{
		portfolio: healthyPortfolio(),
		quotes:    []models.MarketQuote{{Symbol: "AAPL", Price: 200}},
	}
	analyst := &fakeAnalyst{proposals: []models.TradeDecision{
		{Symbol: "AAPL", Action: models.ActionBuy, Confidence: models.ConfidenceHigh, Quantity: models.Float64Ptr(2), Reasoning: "Momentum"},
		{Symbol: "MSFT", Action: models.ActionHold, Confidence: models.ConfidenceLow, Reasoning: "No edge"},
	}}
	store := newFakeStore()
	engine := newTestEngine(testConfig(), b, analyst, store, true)

	result, err := engine.RunCycle(context.Background(), LaneEquity)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.Decisions != 2 || result.Executed != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(store.decisions) != 2 {
		t.Errorf("expected 2 logged decisions, got %d", len(store.decisions))
	}
	if len(b.executed) != 0 {
		t.Errorf("dry run must not submit orders, submitted %d", len(b.executed))
	}
	if store.snapshots != 1 {
		t.Errorf("expected 1 snapshot, got %d", store.snapshots)
	}
}

func TestRunCycleDegradationFlags(t *testing.T) {
	b := &fakeBroker{
		portfolio: healthyPortfolio(),
		quotesErr: errors.New("quotes down"),
		barsErr:   errors.New("bars down"),
		newsErr:   errors.New("news down"),
	}
	analyst := &fakeAnalyst{proposals: []models.TradeDecision{
		{Symbol: "AAPL", Action: models.ActionHold, Confidence: models.ConfidenceLow},
	}}
	engine := newTestEngine(testConfig(), b, analyst, newFakeStore(), true)
	engine.social = &fakeSocial{err: errors.New("all feeds down")}

	result, err := engine.RunCycle(context.Background(), LaneEquity)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	want := map[string]bool{"quotes": true, "bars": true, "news": true, "social": true}
	if len(result.Degraded) != 4 {
		t.Fatalf("degraded = %v, want quotes/bars/news/social", result.Degraded)
	}
	for _, flag := range result.Degraded {
		if !want[flag] {
			t.Errorf("unexpected degradation flag %q", flag)
		}
	}
}

func TestRunCycleAnalystFailureDegradesToHold(t *testing.T) {
	b := &fakeBroker{portfolio: healthyPortfolio()}
	analyst := &fakeAnalyst{err: errors.New("model timeout")}
	store := newFakeStore()
	engine := newTestEngine(testConfig(), b, analyst, store, true)

	result, err := engine.RunCycle(context.Background(), LaneEquity)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !containsFlag(result.Degraded, "proposals") {
		t.Errorf("degraded = %v, want proposals flag", result.Degraded)
	}
	if result.Decisions != 2 {
		t.Fatalf("expected a HOLD per watchlist symbol, got %d", result.Decisions)
	}
	for _, d := range store.decisions {
		if d.Action != models.ActionHold {
			t.Errorf("%s action = %q, want hold", d.Symbol, d.Action)
		}
	}
}

func TestRunCycleHoldAllSnapshotOnly(t *testing.T) {
	b := &fakeBroker{portfolio: healthyPortfolio()}
	analyst := &fakeAnalyst{}
	store := newFakeStore()
	engine := newTestEngine(testConfig(), b, analyst, store, true)
	engine.ToggleHoldAll()

	result, err := engine.RunCycle(context.Background(), LaneEquity)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !result.Skipped {
		t.Error("hold-all cycle should be skipped")
	}
	if store.snapshots != 1 {
		t.Errorf("hold-all should still log a snapshot, got %d", store.snapshots)
	}
	if analyst.calls != 0 {
		t.Errorf("hold-all should not call the analyst, called %d times", analyst.calls)
	}
}

func TestRunCyclePauseAIHoldsEverything(t *testing.T) {
	b := &fakeBroker{portfolio: healthyPortfolio()}
	analyst := &fakeAnalyst{}
	store := newFakeStore()
	engine := newTestEngine(testConfig(), b, analyst, store, true)
	engine.TogglePauseAI()

	result, err := engine.RunCycle(context.Background(), LaneEquity)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if analyst.calls != 0 {
		t.Errorf("pause-ai should skip the analyst, called %d times", analyst.calls)
	}
	if result.Decisions != 2 {
		t.Fatalf("expected 2 HOLD decisions, got %d", result.Decisions)
	}
	for _, d := range store.decisions {
		if d.Action != models.ActionHold {
			t.Errorf("%s action = %q, want hold", d.Symbol, d.Action)
		}
	}
}

func TestRunNowRequiresScheduler(t *testing.T) {
	engine := newTestEngine(testConfig(), &fakeBroker{}, &fakeAnalyst{}, newFakeStore(), true)

	if engine.RunNow() {
		t.Error("RunNow must report false with no scheduler running")
	}

	engine.scheduling.Store(true)
	if !engine.RunNow() {
		t.Error("RunNow should succeed while the scheduler is active")
	}
	select {
	case <-engine.runNow:
	default:
		t.Error("run-now request was not queued")
	}
}

func TestHoldCooldownFiltersEquityUniverse(t *testing.T) {
	engine := newTestEngine(testConfig(), &fakeBroker{}, &fakeAnalyst{}, newFakeStore(), true)
	now := time.Now()
	engine.risk.State().RecordHold("AAPL", now.Add(-5*time.Minute))
	engine.risk.State().RecordHold("MSFT", now.Add(-45*time.Minute))

	universe := engine.watchlistFor(LaneEquity, now)
	if len(universe) != 1 || universe[0] != "MSFT" {
		t.Errorf("universe = %v, want [MSFT]", universe)
	}
}

func TestHoldCooldownDoesNotApplyToCrypto(t *testing.T) {
	engine := newTestEngine(testConfig(), &fakeBroker{}, &fakeAnalyst{}, newFakeStore(), true)
	engine.risk.State().RecordHold("BTC/USD", time.Now())

	universe := engine.watchlistFor(LaneCrypto, time.Now())
	if len(universe) != 1 || universe[0] != "BTC/USD" {
		t.Errorf("crypto universe = %v, want [BTC/USD]", universe)
	}
}

func TestExecutionPath(t *testing.T) {
	b := &fakeBroker{
		portfolio: healthyPortfolio(),
		quotes:    []models.MarketQuote{{Symbol: "AAPL", Price: 200}},
	}
	analyst := &fakeAnalyst{proposals: []models.TradeDecision{
		{Symbol: "AAPL", Action: models.ActionBuy, Confidence: models.ConfidenceHigh, Quantity: models.Float64Ptr(2), Reasoning: "Momentum"},
	}}
	store := newFakeStore()
	engine := newTestEngine(testConfig(), b, analyst, store, false)

	result, err := engine.RunCycle(context.Background(), LaneEquity)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.Executed != 1 {
		t.Fatalf("expected 1 execution, got %d", result.Executed)
	}
	if len(store.executions) != 1 || store.executions[0].Symbol != "AAPL" {
		t.Errorf("execution not logged: %+v", store.executions)
	}
	if store.buys["AAPL"] != 2 {
		t.Errorf("buy record = %v, want quantity 2", store.buys)
	}
}

func TestVetoedDecisionIsNotExecuted(t *testing.T) {
	b := &fakeBroker{portfolio: healthyPortfolio()}
	// No quantity: the risk engine vetoes this before execution.
	analyst := &fakeAnalyst{proposals: []models.TradeDecision{
		{Symbol: "AAPL", Action: models.ActionBuy, Confidence: models.ConfidenceHigh, Reasoning: "Momentum"},
	}}
	store := newFakeStore()
	engine := newTestEngine(testConfig(), b, analyst, store, false)

	result, err := engine.RunCycle(context.Background(), LaneEquity)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.Vetoed != 1 || result.Executed != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(b.executed) != 0 {
		t.Error("vetoed decision must not reach the broker")
	}
	if len(store.vetoed) != 1 || !store.vetoed[0] {
		t.Errorf("decision should be logged as vetoed: %v", store.vetoed)
	}
	if !strings.HasPrefix(store.decisions[0].RiskNotes, models.VetoPrefix) {
		t.Errorf("risk notes = %q", store.decisions[0].RiskNotes)
	}
}

func TestOpenOrderSkipsDuplicate(t *testing.T) {
	b := &fakeBroker{
		portfolio:  healthyPortfolio(),
		quotes:     []models.MarketQuote{{Symbol: "AAPL", Price: 200}},
		openOrders: map[string]bool{"AAPL": true},
	}
	analyst := &fakeAnalyst{proposals: []models.TradeDecision{
		{Symbol: "AAPL", Action: models.ActionBuy, Confidence: models.ConfidenceHigh, Quantity: models.Float64Ptr(2)},
	}}
	store := newFakeStore()
	engine := newTestEngine(testConfig(), b, analyst, store, false)

	result, err := engine.RunCycle(context.Background(), LaneEquity)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.Executed != 0 || len(b.executed) != 0 {
		t.Error("symbol with an open order must be skipped")
	}
	// The decision itself is still logged for the audit trail.
	if len(store.decisions) != 1 {
		t.Errorf("expected decision logged despite skip, got %d", len(store.decisions))
	}
}

func TestExecutionFailureIsPerSymbol(t *testing.T) {
	b := &fakeBroker{
		portfolio: healthyPortfolio(),
		quotes: []models.MarketQuote{
			{Symbol: "AAPL", Price: 200},
			{Symbol: "MSFT", Price: 400},
		},
		executeErr: map[string]error{"AAPL": errors.New("rejected")},
	}
	analyst := &fakeAnalyst{proposals: []models.TradeDecision{
		{Symbol: "AAPL", Action: models.ActionBuy, Confidence: models.ConfidenceHigh, Quantity: models.Float64Ptr(2)},
		{Symbol: "MSFT", Action: models.ActionBuy, Confidence: models.ConfidenceMedium, Quantity: models.Float64Ptr(1)},
	}}
	store := newFakeStore()
	engine := newTestEngine(testConfig(), b, analyst, store, false)

	result, err := engine.RunCycle(context.Background(), LaneEquity)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.Executed != 1 {
		t.Fatalf("expected MSFT to execute despite AAPL failure, got %d executions", result.Executed)
	}
	if len(b.executed) != 1 || b.executed[0].Symbol != "MSFT" {
		t.Errorf("executed = %+v", b.executed)
	}
}

func TestLosingSellRecordsLossSale(t *testing.T) {
	portfolio := healthyPortfolio()
	portfolio.Positions = []models.Position{{
		Symbol:        "AAPL",
		Quantity:      5,
		AvgEntryPrice: 220,
		CurrentPrice:  200,
	}}
	b := &fakeBroker{
		portfolio: portfolio,
		quotes:    []models.MarketQuote{{Symbol: "AAPL", Price: 200}},
	}
	analyst := &fakeAnalyst{proposals: []models.TradeDecision{
		{Symbol: "AAPL", Action: models.ActionSell, Confidence: models.ConfidenceHigh, Quantity: models.Float64Ptr(5)},
	}}
	store := newFakeStore()
	engine := newTestEngine(testConfig(), b, analyst, store, false)

	// Back-date the buy so the minimum-hold guard passes.
	engine.risk.State().RecordBuy("AAPL", time.Now().Add(-2*time.Hour))

	result, err := engine.RunCycle(context.Background(), LaneEquity)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.Executed != 1 {
		t.Fatalf("expected sell to execute, got %+v", result)
	}
	if store.lossSales["AAPL"] != 100 {
		t.Errorf("loss sale = %v, want 100 (20/share × 5)", store.lossSales["AAPL"])
	}
}

func TestWinningSellDoesNotRecordLoss(t *testing.T) {
	portfolio := healthyPortfolio()
	portfolio.Positions = []models.Position{{
		Symbol:        "AAPL",
		Quantity:      5,
		AvgEntryPrice: 180,
		CurrentPrice:  200,
	}}
	b := &fakeBroker{
		portfolio: portfolio,
		quotes:    []models.MarketQuote{{Symbol: "AAPL", Price: 200}},
	}
	analyst := &fakeAnalyst{proposals: []models.TradeDecision{
		{Symbol: "AAPL", Action: models.ActionSell, Confidence: models.ConfidenceHigh, Quantity: models.Float64Ptr(5)},
	}}
	store := newFakeStore()
	engine := newTestEngine(testConfig(), b, analyst, store, false)
	engine.risk.State().RecordBuy("AAPL", time.Now().Add(-2*time.Hour))

	if _, err := engine.RunCycle(context.Background(), LaneEquity); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(store.lossSales) != 0 {
		t.Errorf("profitable sell must not record a loss sale: %v", store.lossSales)
	}
}

func containsFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}
