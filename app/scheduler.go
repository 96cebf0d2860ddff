package app

import (
	"context"
	"log"
	"time"

	"github.com/kenyonj/auto-investor/config"
)

// Scheduler drives the engine on a fixed interval: the equity lane only
// inside market hours Mon–Fri, the crypto lane around the clock.
type Scheduler struct {
	engine *Engine
	cfg    *config.Config

	openHour, openMin   int
	closeHour, closeMin int
}

// NewScheduler creates a scheduler for the engine. Market open/close come
// from config as "HH:MM" local time.
func NewScheduler(engine *Engine, cfg *config.Config) (*Scheduler, error) {
	s := &Scheduler{engine: engine, cfg: cfg}

	var err error
	s.openHour, s.openMin, err = parseClock(cfg.Trading.MarketOpen)
	if err != nil {
		return nil, err
	}
	s.closeHour, s.closeMin, err = parseClock(cfg.Trading.MarketClose)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func parseClock(v string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

// inMarketHours reports whether now is within the equity trading window.
func (s *Scheduler) inMarketHours(now time.Time) bool {
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}
	open := time.Date(now.Year(), now.Month(), now.Day(), s.openHour, s.openMin, 0, 0, now.Location())
	close := time.Date(now.Year(), now.Month(), now.Day(), s.closeHour, s.closeMin, 0, 0, now.Location())
	return !now.Before(open) && !now.After(close)
}

// startupDelay resumes a persisted schedule after a restart, or gives a
// short head start on a fresh one.
func (s *Scheduler) startupDelay() time.Duration {
	saved, err := s.engine.store.GetState("next_cycle_at")
	if err == nil && saved != "" {
		if next, perr := time.Parse(time.RFC3339, saved); perr == nil {
			remaining := time.Until(next)
			if remaining > 5*time.Second {
				return remaining
			}
			return 5 * time.Second
		}
	}
	return 15 * time.Second
}

// Run blocks until ctx is canceled, firing cycles on the configured
// interval and on manual run-now requests.
func (s *Scheduler) Run(ctx context.Context) {
	s.engine.scheduling.Store(true)
	defer s.engine.scheduling.Store(false)

	interval := time.Duration(s.cfg.Trading.IntervalMinutes) * time.Minute
	delay := s.startupDelay()

	log.Printf("⏰ Scheduler active: every %dmin, equities %s–%s Mon–Fri, crypto 24/7",
		s.cfg.Trading.IntervalMinutes, s.cfg.Trading.MarketOpen, s.cfg.Trading.MarketClose)
	log.Printf("⏰ First cycle in %v", delay.Round(time.Second))
	s.engine.setNextCycleAt(time.Now().Add(delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-s.engine.runNow:
			log.Println("▶ Manual cycle requested")
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		s.runLanes(ctx)

		next := s.nextWake(time.Now(), interval)
		s.engine.setNextCycleAt(next)
		timer.Reset(time.Until(next))
	}
}

// runLanes fires one cycle per active lane.
func (s *Scheduler) runLanes(ctx context.Context) {
	now := time.Now()
	equityHours := s.inMarketHours(now)

	if equityHours && len(s.cfg.Watchlist) > 0 {
		if _, err := s.engine.RunCycle(ctx, LaneEquity); err != nil {
			log.Printf("❌ Equity cycle error: %v", err)
		}
	}

	if len(s.cfg.CryptoWatchlist) > 0 {
		if _, err := s.engine.RunCycle(ctx, LaneCrypto); err != nil {
			log.Printf("❌ Crypto cycle error: %v", err)
		}
	}

	if !equityHours && len(s.cfg.CryptoWatchlist) == 0 {
		log.Printf("💤 Outside market hours (%s–%s), skipping",
			s.cfg.Trading.MarketOpen, s.cfg.Trading.MarketClose)
	}
}

// nextWake picks the next cycle time: one interval ahead while any lane is
// active, otherwise the next weekday market open.
func (s *Scheduler) nextWake(now time.Time, interval time.Duration) time.Time {
	if len(s.cfg.CryptoWatchlist) > 0 || s.inMarketHours(now) {
		return now.Add(interval)
	}
	return s.nextMarketOpen(now)
}

func (s *Scheduler) nextMarketOpen(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.openHour, s.openMin, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
