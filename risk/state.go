package risk

import (
	"sync"
	"time"
)

// LossSale is a recorded sale at a loss, used by the wash-sale guard.
type LossSale struct {
	Symbol     string
	LossAmount float64
	SoldAt     time.Time
}

// Ledger is the durable side of the guardrail bookkeeping. Lookups fall
// back to it when the in-memory state has no record (e.g. after a
// restart). Implemented by database.Repository.
type Ledger interface {
	GetRecentLossSale(symbol string, windowDays int) (*LossSale, error)
	GetLastBuyTime(symbol string) (*time.Time, error)
}

// State is the process-wide guardrail bookkeeping shared by every trading
// lane that draws on the same account. Counters reset only at the daily
// reset boundary; per-symbol records expire by age, never by deletion.
//
// All access goes through the mutex: concurrent lanes (and the manual
// run-now trigger) must serialize every check-and-update so the daily
// trade cap and session budget cannot be exceeded under a race.
type State struct {
	mu           sync.Mutex
	tradesToday  int
	sessionSpent float64
	lastBuy      map[string]time.Time
	lastHold     map[string]time.Time
	tradingDay   string
}

// NewState creates an empty guardrail state for the current trading day.
func NewState() *State {
	return &State{
		lastBuy:    make(map[string]time.Time),
		lastHold:   make(map[string]time.Time),
		tradingDay: time.Now().Format("2006-01-02"),
	}
}

// TradesToday returns the number of trades approved today.
func (s *State) TradesToday() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tradesToday
}

// SessionSpent returns the capital committed to buys this session.
func (s *State) SessionSpent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionSpent
}

// SetTradesToday overrides the trade counter. Used when restoring state
// and in tests.
func (s *State) SetTradesToday(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradesToday = n
}

// RecordBuy stamps the execution time of a buy for the min-hold-period
// guard on later sells.
func (s *State) RecordBuy(symbol string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBuy[symbol] = at
}

// LastBuy returns the in-memory last buy time for a symbol.
func (s *State) LastBuy(symbol string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastBuy[symbol]
	return t, ok
}

// RecordHold stamps the time a symbol's latest decision came back HOLD,
// for the universe cooldown on non-24/7 lanes.
func (s *State) RecordHold(symbol string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHold[symbol] = at
}

// ClearHold removes a symbol's hold stamp after a non-HOLD decision.
func (s *State) ClearHold(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lastHold, symbol)
}

// InHoldCooldown reports whether a symbol's most recent decision was HOLD
// within the cooldown window.
func (s *State) InHoldCooldown(symbol string, window time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.lastHold[symbol]
	return ok && now.Sub(at) < window
}

// ResetDaily resets the daily counters. Called by the scheduler at the
// trading-date boundary.
func (s *State) ResetDaily() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradesToday = 0
	s.sessionSpent = 0
	s.tradingDay = time.Now().Format("2006-01-02")
}

// RollDayIfNeeded resets the daily counters when the trading date has
// changed since the last cycle. Returns true if a reset happened.
func (s *State) RollDayIfNeeded(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := now.Format("2006-01-02")
	if day == s.tradingDay {
		return false
	}
	s.tradesToday = 0
	s.sessionSpent = 0
	s.tradingDay = day
	return true
}
