package llm

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/kenyonj/auto-investor/models"
)

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	s := strings.Repeat("日", 250)
	got := truncate(s, 200)
	if utf8.RuneCountInString(got) != 200 {
		t.Errorf("truncated to %d runes, want 200", utf8.RuneCountInString(got))
	}
	if !utf8.ValidString(got) {
		t.Error("truncation produced invalid UTF-8")
	}

	// ASCII shorter than the limit passes through.
	if got := truncate("short", 200); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
}

func TestParseDecisionsPlainJSON(t *testing.T) {
	raw := `{
		"market_assessment": "Choppy tape, defensive posture",
		"decisions": [
			{"symbol": "AAPL", "action": "buy", "confidence": "high", "quantity": 2.5, "reasoning": "Breakout on volume", "risk_notes": "Earnings next week"},
			{"symbol": "MSFT", "action": "hold", "confidence": "medium", "reasoning": "No edge"}
		]
	}`

	decisions, assessment, err := ParseDecisions(raw)
	if err != nil {
		t.Fatalf("ParseDecisions returned error: %v", err)
	}
	if assessment != "Choppy tape, defensive posture" {
		t.Errorf("assessment = %q", assessment)
	}
	if len(decisions) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(decisions))
	}
	if decisions[0].Action != models.ActionBuy || decisions[0].Quantity == nil || *decisions[0].Quantity != 2.5 {
		t.Errorf("unexpected first decision: %+v", decisions[0])
	}
	if decisions[1].Action != models.ActionHold || decisions[1].Quantity != nil {
		t.Errorf("hold decision should have nil quantity: %+v", decisions[1])
	}
}

func TestParseDecisionsStripsCodeFences(t *testing.T) {
	raw := "```json\n" + `{"market_assessment": "ok", "decisions": [{"symbol": "BTC/USD", "action": "sell", "confidence": "low", "quantity": 0.1, "reasoning": "Lower highs"}]}` + "\n```"

	decisions, _, err := ParseDecisions(raw)
	if err != nil {
		t.Fatalf("ParseDecisions returned error: %v", err)
	}
	if len(decisions) != 1 || decisions[0].Symbol != "BTC/USD" {
		t.Fatalf("unexpected decisions: %+v", decisions)
	}
}

func TestParseDecisionsNormalizesUnknowns(t *testing.T) {
	raw := `{"decisions": [{"symbol": "NVDA", "action": "accumulate", "confidence": "certain", "quantity": 3, "reasoning": "AI hype"}]}`

	decisions, _, err := ParseDecisions(raw)
	if err != nil {
		t.Fatalf("ParseDecisions returned error: %v", err)
	}
	d := decisions[0]
	if d.Action != models.ActionHold {
		t.Errorf("unknown action should normalize to hold, got %q", d.Action)
	}
	if d.Confidence != models.ConfidenceLow {
		t.Errorf("unknown confidence should normalize to low, got %q", d.Confidence)
	}
	if d.Quantity != nil {
		t.Errorf("normalized hold should clear quantity")
	}
}

func TestParseDecisionsInvalidJSON(t *testing.T) {
	if _, _, err := ParseDecisions("not json at all"); err == nil {
		t.Fatal("expected error for malformed response")
	}
}

func TestBuildAnalysisPromptDeterministic(t *testing.T) {
	in := PromptInput{
		Portfolio: &models.PortfolioSnapshot{Equity: 10000, Cash: 4000, BuyingPower: 8000, DailyPL: 120, DailyPLPct: 1.2},
		Quotes:    []models.MarketQuote{{Symbol: "AAPL", Price: 225.10}},
		Watchlist: []string{"AAPL", "MSFT"},
		Indicators: map[string]map[string]string{
			"MSFT": {"RSI_14": "55.0"},
			"AAPL": {"RSI_14": "71.2", "RSI_signal": "OVERBOUGHT"},
		},
	}

	first := BuildAnalysisPrompt(in)
	for i := 0; i < 5; i++ {
		if got := BuildAnalysisPrompt(in); got != first {
			t.Fatal("prompt output is not deterministic across calls")
		}
	}

	if !strings.Contains(first, "AAPL: RSI_14: 71.2 | RSI_signal: OVERBOUGHT") {
		t.Errorf("indicator section missing or unordered:\n%s", first)
	}
	if !strings.Contains(first, "- Equity: $10000.00") {
		t.Errorf("portfolio section missing:\n%s", first)
	}
}

func TestBuildAnalysisPromptTrimsBarHistory(t *testing.T) {
	bars := make([]models.DailyBar, 10)
	for i := range bars {
		bars[i] = models.DailyBar{Date: time.Date(2026, 8, 1+i, 0, 0, 0, 0, time.UTC).Format("2006-01-02"), Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1000}
	}
	in := PromptInput{
		Portfolio: &models.PortfolioSnapshot{},
		Watchlist: []string{"AAPL"},
		Bars:      map[string][]models.DailyBar{"AAPL": bars},
	}

	prompt := BuildAnalysisPrompt(in)
	if strings.Contains(prompt, "2026-08-05") {
		t.Error("prompt should only include the last 5 bars")
	}
	if !strings.Contains(prompt, "2026-08-06") {
		t.Error("prompt is missing the most recent bars")
	}
}

func TestHoldAll(t *testing.T) {
	decisions := HoldAll([]string{"AAPL", "ETH/USD"}, "AI analysis paused")
	if len(decisions) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(decisions))
	}
	for _, d := range decisions {
		if d.Action != models.ActionHold || d.Quantity != nil {
			t.Errorf("expected hold with nil quantity, got %+v", d)
		}
		if d.Reasoning != "AI analysis paused" {
			t.Errorf("unexpected reasoning %q", d.Reasoning)
		}
	}
}
