package app

import (
	"testing"
	"time"
)

func testScheduler(t *testing.T) *Scheduler {
	t.Helper()
	cfg := testConfig()
	engine := newTestEngine(cfg, &fakeBroker{}, &fakeAnalyst{}, newFakeStore(), true)
	s, err := NewScheduler(engine, cfg)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return s
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		hour    int
		minute  int
		wantErr bool
	}{
		{"09:35", 9, 35, false},
		{"15:55", 15, 55, false},
		{"00:00", 0, 0, false},
		{"9am", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, tt := range tests {
		hour, minute, err := parseClock(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseClock(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if hour != tt.hour || minute != tt.minute {
			t.Errorf("parseClock(%q) = %d:%d, want %d:%d", tt.in, hour, minute, tt.hour, tt.minute)
		}
	}
}

func TestInMarketHours(t *testing.T) {
	s := testScheduler(t) // window 09:35–15:55

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"midday Tuesday", time.Date(2025, 9, 2, 12, 0, 0, 0, time.UTC), true},
		{"at the open", time.Date(2025, 9, 2, 9, 35, 0, 0, time.UTC), true},
		{"at the close", time.Date(2025, 9, 2, 15, 55, 0, 0, time.UTC), true},
		{"before the open", time.Date(2025, 9, 2, 9, 34, 0, 0, time.UTC), false},
		{"after the close", time.Date(2025, 9, 2, 15, 56, 0, 0, time.UTC), false},
		{"Saturday midday", time.Date(2025, 9, 6, 12, 0, 0, 0, time.UTC), false},
		{"Sunday midday", time.Date(2025, 9, 7, 12, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		if got := s.inMarketHours(tt.at); got != tt.want {
			t.Errorf("%s: inMarketHours = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNextMarketOpenSkipsWeekend(t *testing.T) {
	s := testScheduler(t)

	// Friday after the close rolls to Monday 09:35.
	friday := time.Date(2025, 9, 5, 16, 30, 0, 0, time.UTC)
	next := s.nextMarketOpen(friday)
	want := time.Date(2025, 9, 8, 9, 35, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("nextMarketOpen(Friday evening) = %v, want %v", next, want)
	}

	// Early Tuesday stays on the same day.
	tuesday := time.Date(2025, 9, 2, 7, 0, 0, 0, time.UTC)
	next = s.nextMarketOpen(tuesday)
	want = time.Date(2025, 9, 2, 9, 35, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("nextMarketOpen(Tuesday morning) = %v, want %v", next, want)
	}
}

func TestNextWake(t *testing.T) {
	s := testScheduler(t) // crypto watchlist is non-empty: always interval

	outside := time.Date(2025, 9, 5, 20, 0, 0, 0, time.UTC)
	if got := s.nextWake(outside, 30*time.Minute); !got.Equal(outside.Add(30 * time.Minute)) {
		t.Errorf("crypto lane should keep the interval outside market hours, got %v", got)
	}

	// Equities only: outside hours the scheduler sleeps to the next open.
	s.cfg.CryptoWatchlist = nil
	if got := s.nextWake(outside, 30*time.Minute); !got.Equal(s.nextMarketOpen(outside)) {
		t.Errorf("equity-only schedule should wake at next open, got %v", got)
	}
}

func TestStartupDelayResumesPersistedSchedule(t *testing.T) {
	cfg := testConfig()
	store := newFakeStore()
	engine := newTestEngine(cfg, &fakeBroker{}, &fakeAnalyst{}, store, true)
	s, err := NewScheduler(engine, cfg)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	// Fresh start: fixed head start.
	if got := s.startupDelay(); got != 15*time.Second {
		t.Errorf("fresh startup delay = %v, want 15s", got)
	}

	// Persisted future cycle: resume it.
	store.state["next_cycle_at"] = time.Now().Add(10 * time.Minute).Format(time.RFC3339)
	if got := s.startupDelay(); got < 9*time.Minute || got > 10*time.Minute {
		t.Errorf("resumed delay = %v, want ~10m", got)
	}

	// Persisted cycle already due: clamp to a short floor.
	store.state["next_cycle_at"] = time.Now().Add(-time.Minute).Format(time.RFC3339)
	if got := s.startupDelay(); got != 5*time.Second {
		t.Errorf("overdue delay = %v, want 5s", got)
	}
}
