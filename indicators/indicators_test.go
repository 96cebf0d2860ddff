package indicators

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/kenyonj/auto-investor/models"
)

// seriesBars builds a bar series from closes, with a small synthetic
// intraday range and constant volume.
func seriesBars(closes []float64) []models.DailyBar {
	bars := make([]models.DailyBar, len(closes))
	for i, c := range closes {
		bars[i] = models.DailyBar{
			Date:   fmt.Sprintf("2025-01-%02d", i+1),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1_000_000,
		}
	}
	return bars
}

func constantCloses(value float64, n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = value
	}
	return closes
}

func increasingCloses(start float64, n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start + float64(i)
	}
	return closes
}

func TestComputeBelowMinimumHistory(t *testing.T) {
	bars := map[string][]models.DailyBar{
		"AAPL": seriesBars([]float64{100, 101, 102, 103}), // 4 bars < floor of 5
	}
	result := Compute(bars)
	if len(result) != 0 {
		t.Errorf("expected empty result for 4 bars, got %v", result)
	}
}

func TestRSIMonotonicIncreaseIs100(t *testing.T) {
	bars := map[string][]models.DailyBar{
		"NVDA": seriesBars(increasingCloses(100, 20)),
	}
	result := Compute(bars)

	got, ok := result["NVDA"]["RSI_14"]
	if !ok {
		t.Fatalf("expected RSI_14 for 20 increasing closes, got %v", result["NVDA"])
	}
	if got != "100.0" {
		t.Errorf("expected RSI 100.0 with zero average loss, got %s", got)
	}
	if signal := result["NVDA"]["RSI_signal"]; signal != "OVERBOUGHT" {
		t.Errorf("expected OVERBOUGHT signal, got %s", signal)
	}
}

func TestMACDConstantSeriesHasZeroHistogram(t *testing.T) {
	bars := map[string][]models.DailyBar{
		"SPY": seriesBars(constantCloses(400, 40)),
	}
	result := Compute(bars)

	hist, ok := result["SPY"]["MACD_histogram"]
	if !ok {
		t.Fatalf("expected MACD_histogram for 40 bars, got %v", result["SPY"])
	}
	value, err := strconv.ParseFloat(hist, 64)
	if err != nil {
		t.Fatalf("unparseable histogram %q: %v", hist, err)
	}
	if math.Abs(value) > 1e-9 {
		t.Errorf("expected zero histogram on constant series, got %s", hist)
	}
}

func TestSMAValues(t *testing.T) {
	// Last 10 closes are 11..20, last 20 closes are 1..20.
	bars := map[string][]models.DailyBar{
		"MSFT": seriesBars(increasingCloses(1, 20)),
	}
	result := Compute(bars)

	if got := result["MSFT"]["SMA_10"]; got != "15.50" {
		t.Errorf("SMA_10 = %s, want 15.50", got)
	}
	if got := result["MSFT"]["SMA_20"]; got != "10.50" {
		t.Errorf("SMA_20 = %s, want 10.50", got)
	}
}

func TestIndicatorGatesOnHistory(t *testing.T) {
	tests := []struct {
		name    string
		nBars   int
		present []string
		absent  []string
	}{
		{
			name:    "5 bars has VWAP and gap gates only",
			nBars:   5,
			present: []string{"VWAP", "VWAP_signal"},
			absent:  []string{"SMA_10", "SMA_20", "RSI_14", "MACD", "BB_upper", "ATR_14", "vol_ratio", "range_position"},
		},
		{
			name:    "15 bars adds RSI and ATR",
			nBars:   15,
			present: []string{"SMA_10", "RSI_14", "ATR_14", "volatility"},
			absent:  []string{"SMA_20", "MACD", "BB_upper", "vol_ratio", "range_position"},
		},
		{
			name:    "20 bars adds bollinger, volume, range",
			nBars:   20,
			present: []string{"SMA_20", "BB_upper", "BB_middle", "BB_lower", "vol_ratio", "range_position"},
			absent:  []string{"MACD"},
		},
		{
			name:    "35 bars adds MACD",
			nBars:   35,
			present: []string{"MACD", "MACD_signal", "MACD_histogram", "MACD_trend"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bars := map[string][]models.DailyBar{
				"X": seriesBars(increasingCloses(50, tt.nBars)),
			}
			got := Compute(bars)["X"]
			for _, key := range tt.present {
				if _, ok := got[key]; !ok {
					t.Errorf("expected %s with %d bars, got keys %v", key, tt.nBars, got)
				}
			}
			for _, key := range tt.absent {
				if _, ok := got[key]; ok {
					t.Errorf("did not expect %s with %d bars", key, tt.nBars)
				}
			}
		})
	}
}

func TestZeroVolumeSkipsVWAPAndVolumeOnly(t *testing.T) {
	bars := seriesBars(increasingCloses(100, 20))
	for i := range bars {
		bars[i].Volume = 0
	}
	result := Compute(map[string][]models.DailyBar{"GME": bars})

	got := result["GME"]
	for _, key := range []string{"VWAP", "VWAP_signal", "vol_ratio", "vol_signal"} {
		if _, ok := got[key]; ok {
			t.Errorf("did not expect %s with zero volume", key)
		}
	}
	// The rest of the computation must survive the division guard.
	if _, ok := got["SMA_20"]; !ok {
		t.Errorf("expected SMA_20 despite zero volume, got %v", got)
	}
}

func TestGapDetection(t *testing.T) {
	tests := []struct {
		name      string
		prevClose float64
		todayOpen float64
		want      string // "" means no gap reported
	}{
		{"gap up 2pct", 100, 102, "UP 2.0%"},
		{"gap down 1.5pct", 100, 98.5, "DOWN 1.5%"},
		{"sub-threshold gap", 100, 100.5, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			closes := increasingCloses(90, 10)
			bars := seriesBars(closes)
			bars[len(bars)-2].Close = tt.prevClose
			bars[len(bars)-1].Open = tt.todayOpen

			got := Compute(map[string][]models.DailyBar{"X": bars})["X"]
			gap, ok := got["gap"]
			if tt.want == "" {
				if ok {
					t.Errorf("expected no gap, got %s", gap)
				}
				return
			}
			if gap != tt.want {
				t.Errorf("gap = %q, want %q", gap, tt.want)
			}
		})
	}
}

func TestStreakCounting(t *testing.T) {
	tests := []struct {
		name       string
		closes     []float64
		wantStreak string
		wantSignal bool
	}{
		{"five up days flags reversal", []float64{1, 2, 3, 4, 5, 6}, "5 days UP", true},
		{"three down days", []float64{10, 9, 8, 7, 9, 8, 7, 6}, "3 days DOWN", false},
		{"flat day breaks streak", []float64{1, 2, 3, 3, 4, 5}, "2 days UP", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(map[string][]models.DailyBar{"X": seriesBars(tt.closes)})["X"]
			if got["streak"] != tt.wantStreak {
				t.Errorf("streak = %q, want %q", got["streak"], tt.wantStreak)
			}
			_, hasSignal := got["streak_signal"]
			if hasSignal != tt.wantSignal {
				t.Errorf("streak_signal present = %v, want %v", hasSignal, tt.wantSignal)
			}
		})
	}
}

func TestBollingerClassification(t *testing.T) {
	closes := constantCloses(100, 19)
	closes = append(closes, 130) // final close spikes above the band
	got := Compute(map[string][]models.DailyBar{"X": seriesBars(closes)})["X"]

	if !strings.HasPrefix(got["BB_signal"], "ABOVE_UPPER") {
		t.Errorf("BB_signal = %q, want ABOVE_UPPER prefix", got["BB_signal"])
	}
}

func TestVolumeRatioTiers(t *testing.T) {
	tests := []struct {
		name       string
		lastVolume int64
		wantSignal string
	}{
		{"surge", 2_500_000, "SURGE (2x+ avg)"},
		{"elevated", 1_600_000, "ELEVATED"},
		{"dry", 400_000, "DRY (low interest)"},
		{"normal", 1_000_000, "NORMAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bars := seriesBars(increasingCloses(100, 20))
			bars[len(bars)-1].Volume = tt.lastVolume
			got := Compute(map[string][]models.DailyBar{"X": bars})["X"]
			// The last bar shifts the 20-day average slightly; tiers are
			// chosen far enough from the boundaries to be stable.
			if got["vol_signal"] != tt.wantSignal {
				t.Errorf("vol_signal = %q (ratio %s), want %q", got["vol_signal"], got["vol_ratio"], tt.wantSignal)
			}
		})
	}
}
