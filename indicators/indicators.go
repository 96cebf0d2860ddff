// Package indicators computes technical signals from daily bar data.
//
// Compute is pure: given ordered bar series it returns a map of
// indicator name -> formatted value per symbol. Each indicator is
// independently gated on minimum history; if a symbol lacks the bars an
// indicator needs, that indicator is simply absent from the output. The
// engine never returns an error for missing data.
package indicators

import (
	"fmt"
	"math"

	"github.com/kenyonj/auto-investor/models"
)

// minBars is the floor below which a symbol produces no indicators at all.
const minBars = 5

// Compute calculates technical indicators for each symbol.
func Compute(bars map[string][]models.DailyBar) map[string]map[string]string {
	result := make(map[string]map[string]string)
	for symbol, symbolBars := range bars {
		if ind := computeSymbol(symbolBars); len(ind) > 0 {
			result[symbol] = ind
		}
	}
	return result
}

func computeSymbol(bars []models.DailyBar) map[string]string {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	if len(closes) < minBars {
		return nil
	}

	out := make(map[string]string)

	// Simple Moving Averages
	if len(closes) >= 10 {
		out["SMA_10"] = fmt.Sprintf("%.2f", mean(closes[len(closes)-10:]))
	}
	if len(closes) >= 20 {
		out["SMA_20"] = fmt.Sprintf("%.2f", mean(closes[len(closes)-20:]))
	}

	// RSI (14-period, Wilder smoothing)
	if len(closes) >= 15 {
		rsi := rsi(closes, 14)
		out["RSI_14"] = fmt.Sprintf("%.1f", rsi)
		switch {
		case rsi > 70:
			out["RSI_signal"] = "OVERBOUGHT"
		case rsi < 30:
			out["RSI_signal"] = "OVERSOLD"
		default:
			out["RSI_signal"] = "NEUTRAL"
		}
	}

	// MACD (12, 26, 9)
	if len(closes) >= 35 {
		macdLine, signalLine, histogram := macd(closes, 12, 26, 9)
		out["MACD"] = fmt.Sprintf("%.4f", macdLine)
		out["MACD_signal"] = fmt.Sprintf("%.4f", signalLine)
		out["MACD_histogram"] = fmt.Sprintf("%.4f", histogram)
		if histogram > 0 {
			out["MACD_trend"] = "BULLISH"
		} else {
			out["MACD_trend"] = "BEARISH"
		}
	}

	// Bollinger Bands (20-period, 2 std dev)
	if len(closes) >= 20 {
		upper, middle, lower := bollinger(closes, 20, 2)
		current := closes[len(closes)-1]
		out["BB_upper"] = fmt.Sprintf("%.2f", upper)
		out["BB_middle"] = fmt.Sprintf("%.2f", middle)
		out["BB_lower"] = fmt.Sprintf("%.2f", lower)
		switch {
		case current > upper:
			out["BB_signal"] = "ABOVE_UPPER (overbought)"
		case current < lower:
			out["BB_signal"] = "BELOW_LOWER (oversold)"
		case upper > lower:
			pct := (current - lower) / (upper - lower) * 100
			out["BB_signal"] = fmt.Sprintf("IN_BAND (%.0f%%)", pct)
		}
	}

	// VWAP approximation over the last 20 bars with volume
	window := bars
	if len(window) > 20 {
		window = window[len(window)-20:]
	}
	var tpVol, totalVol float64
	for _, b := range window {
		if b.Volume > 0 {
			tpVol += (b.High + b.Low + b.Close) / 3 * float64(b.Volume)
			totalVol += float64(b.Volume)
		}
	}
	if totalVol > 0 {
		vwap := tpVol / totalVol
		out["VWAP"] = fmt.Sprintf("%.2f", vwap)
		if closes[len(closes)-1] > vwap {
			out["VWAP_signal"] = "ABOVE (bullish)"
		} else {
			out["VWAP_signal"] = "BELOW (bearish)"
		}
	}

	// ATR (14-period Average True Range)
	if len(bars) >= 15 {
		atr := atr(bars, 14)
		out["ATR_14"] = fmt.Sprintf("%.2f", atr)
		atrPct := 0.0
		if current := closes[len(closes)-1]; current > 0 {
			atrPct = atr / current * 100
		}
		out["ATR_pct"] = fmt.Sprintf("%.1f%%", atrPct)
		switch {
		case atrPct > 5:
			out["volatility"] = "HIGH"
		case atrPct > 2:
			out["volatility"] = "MODERATE"
		default:
			out["volatility"] = "LOW"
		}
	}

	// Volume anomaly (current vs 20-day average)
	if len(bars) >= 20 && bars[len(bars)-1].Volume > 0 {
		var sum float64
		for _, b := range bars[len(bars)-20:] {
			sum += float64(b.Volume)
		}
		if avgVol := sum / 20; avgVol > 0 {
			ratio := float64(bars[len(bars)-1].Volume) / avgVol
			out["vol_ratio"] = fmt.Sprintf("%.1fx", ratio)
			switch {
			case ratio >= 2.0:
				out["vol_signal"] = "SURGE (2x+ avg)"
			case ratio >= 1.5:
				out["vol_signal"] = "ELEVATED"
			case ratio <= 0.5:
				out["vol_signal"] = "DRY (low interest)"
			default:
				out["vol_signal"] = "NORMAL"
			}
		}
	}

	// High/low proximity across all available bars
	if len(bars) >= 20 {
		highMax := bars[0].High
		lowMin := bars[0].Low
		for _, b := range bars {
			highMax = math.Max(highMax, b.High)
			lowMin = math.Min(lowMin, b.Low)
		}
		if span := highMax - lowMin; span > 0 {
			pctOfRange := (closes[len(closes)-1] - lowMin) / span * 100
			out["range_position"] = fmt.Sprintf("%.0f%%", pctOfRange)
			switch {
			case pctOfRange >= 90:
				out["range_signal"] = "NEAR HIGH (momentum)"
			case pctOfRange <= 10:
				out["range_signal"] = "NEAR LOW (reversal?)"
			default:
				out["range_signal"] = "MID-RANGE"
			}
		}
	}

	// Gap detection (last bar open vs previous close)
	if len(bars) >= 2 {
		prevClose := bars[len(bars)-2].Close
		todayOpen := bars[len(bars)-1].Open
		if prevClose > 0 {
			gapPct := (todayOpen - prevClose) / prevClose * 100
			if math.Abs(gapPct) >= 1.0 {
				direction := "UP"
				if gapPct < 0 {
					direction = "DOWN"
				}
				out["gap"] = fmt.Sprintf("%s %.1f%%", direction, math.Abs(gapPct))
			}
		}
	}

	// Consecutive trend counter
	if len(closes) >= 2 {
		if s := streak(closes); abs(s) >= 2 {
			direction := "UP"
			if s < 0 {
				direction = "DOWN"
			}
			out["streak"] = fmt.Sprintf("%d days %s", abs(s), direction)
			if abs(s) >= 5 {
				out["streak_signal"] = "REVERSAL LIKELY"
			}
		}
	}

	return out
}

// rsi computes the 14-period RSI with Wilder smoothing: the average
// gain/loss seeds as a simple mean of the first `period` values, then
// avg = (avg*(period-1) + new) / period for the remainder.
func rsi(closes []float64, period int) float64 {
	gains := make([]float64, 0, len(closes)-1)
	losses := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains = append(gains, delta)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -delta)
		}
	}

	avgGain := mean(gains[:period])
	avgLoss := mean(losses[:period])
	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
	}

	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// macd computes the MACD line, signal line, and histogram. The MACD
// series is the fast/slow EMA difference aligned over the tail of
// length len(closes)-slow+1.
func macd(closes []float64, fast, slow, signal int) (float64, float64, float64) {
	emaFast := ema(closes, fast)
	emaSlow := ema(closes, slow)

	macdSeries := make([]float64, len(emaSlow))
	offset := len(emaFast) - len(emaSlow)
	for i := range emaSlow {
		macdSeries[i] = emaFast[offset+i] - emaSlow[i]
	}
	signalSeries := ema(macdSeries, signal)

	macdLine := macdSeries[len(macdSeries)-1]
	signalLine := signalSeries[len(signalSeries)-1]
	return macdLine, signalLine, macdLine - signalLine
}

// ema seeds with the simple mean of the first `period` values, then
// applies ema = (v - prev) * 2/(period+1) + prev for the remainder.
// Series shorter than period are returned as-is.
func ema(values []float64, period int) []float64 {
	if len(values) < period {
		return values
	}
	multiplier := 2 / float64(period+1)
	result := make([]float64, 0, len(values)-period+1)
	result = append(result, mean(values[:period]))
	for _, v := range values[period:] {
		prev := result[len(result)-1]
		result = append(result, (v-prev)*multiplier+prev)
	}
	return result
}

// bollinger returns upper, middle, lower bands using the population
// standard deviation over the last `period` closes.
func bollinger(closes []float64, period int, numStd float64) (float64, float64, float64) {
	window := closes[len(closes)-period:]
	middle := mean(window)
	var variance float64
	for _, v := range window {
		variance += (v - middle) * (v - middle)
	}
	variance /= float64(period)
	std := math.Sqrt(variance)
	return middle + numStd*std, middle, middle - numStd*std
}

// atr computes the Wilder-smoothed Average True Range. With fewer than
// `period` true-range values it falls back to their simple mean.
func atr(bars []models.DailyBar, period int) float64 {
	trueRanges := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		highLow := bars[i].High - bars[i].Low
		highPrev := math.Abs(bars[i].High - bars[i-1].Close)
		lowPrev := math.Abs(bars[i].Low - bars[i-1].Close)
		trueRanges = append(trueRanges, math.Max(highLow, math.Max(highPrev, lowPrev)))
	}
	if len(trueRanges) == 0 {
		return 0
	}
	if len(trueRanges) < period {
		return mean(trueRanges)
	}
	value := mean(trueRanges[:period])
	for _, tr := range trueRanges[period:] {
		value = (value*float64(period-1) + tr) / float64(period)
	}
	return value
}

// streak counts consecutive strictly up or down closes ending at the most
// recent bar. Positive = up, negative = down; a flat day breaks the streak.
func streak(closes []float64) int {
	count := 0
	for i := len(closes) - 1; i > 0; i-- {
		switch {
		case closes[i] > closes[i-1]:
			if count < 0 {
				return count
			}
			count++
		case closes[i] < closes[i-1]:
			if count > 0 {
				return count
			}
			count--
		default:
			return count
		}
	}
	return count
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
