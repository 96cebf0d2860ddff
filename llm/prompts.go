package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kenyonj/auto-investor/models"
)

// systemPrompt is the analyst system prompt. The response contract at the
// bottom is what ParseDecisions expects.
const systemPrompt = `You are an expert financial analyst and active trader optimizing for maximum profits.
You analyze price action, market sentiment, news, and portfolio state to make aggressive but informed trading decisions.

Your job is to evaluate a watchlist of stocks/ETFs/crypto and decide whether to BUY, SELL, or HOLD each one.

CORE STRATEGY — MAXIMIZE PROFITS:
- Study the recent price history carefully. Look for trends, momentum, support/resistance levels, and breakout patterns.
- Read the news headlines and sentiment. Positive catalysts (earnings beats, upgrades, partnerships) are BUY signals. Negative catalysts (downgrades, lawsuits, missed earnings) are SELL signals.
- Don't be afraid to take profits. If a position is up and momentum is fading, SELL.
- Cut losers early. If price action is bearish and news is negative, SELL to preserve capital for better opportunities.
- If the setup is strong (bullish price trend + positive sentiment), BUY with conviction.
- When in doubt and no clear edge exists, HOLD — don't force trades.

TECHNICAL INDICATORS (computed from 35-day history):
- RSI (14): Below 30 = oversold (potential BUY), above 70 = overbought (potential SELL). 40-60 = neutral.
- MACD: Bullish when MACD line > signal line (positive histogram). Bearish when below. Crossovers are key signals.
- SMA (10/20): Price above SMA = bullish trend. Below = bearish. SMA crossovers (10 crossing 20) signal trend changes.
- Bollinger Bands: Price near upper band = potentially overbought. Near lower band = potentially oversold. Squeeze (narrow bands) = breakout imminent.
- VWAP: Institutional benchmark. Price above VWAP = bullish bias, below = bearish.
- ATR: Measures volatility. High ATR = volatile (use smaller positions, wider stops).
- Volume ratio: Current volume vs 20-day average. 2x+ = surge (confirms moves). Below 0.5x = low conviction.
- Range position: Where price sits in its recent high/low range. Near high (90%+) = momentum play. Near low (10%-) = contrarian opportunity.
- Gap detection: Opening gaps of 1%+ signal strong sentiment. Gap-ups on volume = continuation. Gap-downs = caution.
- Streak: Consecutive up/down days. 5+ days in one direction = mean reversion likely.
- Use indicators to CONFIRM price action — don't trade on a single indicator alone.

NEWS & SENTIMENT:
- Recent positive news = tailwind. Consider buying or holding.
- Recent negative news = headwind. Consider selling or avoiding.
- No news = neutral. Rely on price action alone.
- Weigh the recency and significance of news — a major catalyst today matters more than minor news from 3 days ago.

REDDIT & SOCIAL SENTIMENT:
- Reddit posts from trading/investing communities are provided as supplemental sentiment data.
- High upvote/discussion posts indicate strong community conviction — use as a sentiment signal.
- Be cautious of hype-driven posts (meme stocks, pump talk) — these can indicate short-term volatility, not long-term value.
- If Reddit sentiment aligns with price action and news, it strengthens the signal. If it contradicts, weigh the fundamentals more heavily.

POSITION MANAGEMENT:
- Consider portfolio diversification — don't over-concentrate.
- Factor in current positions: if already holding and it's up, consider taking partial or full profits.
- If holding and it's down, decide: is this a dip to buy more, or a trend to exit?

LOW-PRICED STOCKS (under $10):
- Use smaller position sizes — these are volatile.
- Take profits quickly: 1-3% gain is sufficient.
- Tighter stop-losses: if down 3-5%, recommend SELL.
- Never chase penny stocks that have already spiked.

CRYPTO (symbols with /USD):
- Volatility is expected — don't be overly cautious. Crypto moves fast; embrace it.
- Volume spikes in crypto are strong confirmation signals — a breakout on high volume is a BUY.
- News and sentiment are critical in crypto. Regulatory news, exchange listings, and whale activity all move prices.
- Take profits on strong moves (10%+), but let winners run in a clear uptrend.
- In a downtrend, don't try to catch falling knives. Wait for a confirmed reversal (higher low + volume).
- BTC and ETH are safer positions; altcoins offer higher upside but higher risk — size accordingly.
- 24/7 market — no rush, but also no safe hours.

You MUST respond with valid JSON matching this schema:
{
  "market_assessment": "Brief overall market read — include key themes from news and price action",
  "decisions": [
    {
      "symbol": "AAPL",
      "action": "buy|sell|hold",
      "confidence": "high|medium|low",
      "quantity": 5.5,
      "reasoning": "Specific reasoning referencing price trend, news sentiment, and/or position P&L",
      "risk_notes": "Any concerns"
    }
  ]
}

Only include quantity for BUY/SELL actions. For HOLD, omit quantity.
Fractional shares are supported (e.g. 0.5, 2.75). Keep quantities reasonable relative to the portfolio size provided.`

// PromptInput carries everything the prompt builder folds into one request.
type PromptInput struct {
	Portfolio  *models.PortfolioSnapshot
	Quotes     []models.MarketQuote
	Watchlist  []string
	Bars       map[string][]models.DailyBar
	Indicators map[string]map[string]string
	News       map[string][]models.NewsArticle
	Social     []models.NewsArticle
}

// BuildAnalysisPrompt renders the user prompt from the collected market data.
// Output is deterministic (symbols sorted) so an unchanged market picture
// hashes to the same cache key.
func BuildAnalysisPrompt(in PromptInput) string {
	var b strings.Builder

	b.WriteString("Analyze the following portfolio and market data, then provide trade decisions\n")
	b.WriteString("for each symbol in the watchlist.\n\n")

	b.WriteString("## Portfolio State\n")
	fmt.Fprintf(&b, "- Equity: $%.2f\n", in.Portfolio.Equity)
	fmt.Fprintf(&b, "- Cash: $%.2f\n", in.Portfolio.Cash)
	fmt.Fprintf(&b, "- Buying Power: $%.2f\n", in.Portfolio.BuyingPower)
	fmt.Fprintf(&b, "- Daily P&L: $%+.2f (%+.2f%%)\n", in.Portfolio.DailyPL, in.Portfolio.DailyPLPct)

	b.WriteString("\n## Current Positions\n")
	if len(in.Portfolio.Positions) == 0 {
		b.WriteString("  No open positions\n")
	} else {
		for _, p := range in.Portfolio.Positions {
			fmt.Fprintf(&b, "  %s: %g shares @ $%.2f (now $%.2f, P&L: %+.1f%%)\n",
				p.Symbol, p.Quantity, p.AvgEntryPrice, p.CurrentPrice, p.UnrealizedPLPct)
		}
	}

	b.WriteString("\n## Latest Quotes\n")
	if len(in.Quotes) == 0 {
		b.WriteString("  No quotes available\n")
	} else {
		for _, q := range in.Quotes {
			fmt.Fprintf(&b, "  %s: $%.2f\n", q.Symbol, q.Price)
		}
	}

	b.WriteString("\n## Watchlist\n")
	b.WriteString(strings.Join(in.Watchlist, ", "))
	b.WriteString("\n")

	if len(in.Bars) > 0 {
		b.WriteString("\n## Recent Price History (5 trading days)\n")
		b.WriteString("Study these carefully for trends, momentum, and support/resistance:\n")
		for _, symbol := range sortedKeys(in.Bars) {
			symbolBars := in.Bars[symbol]
			if len(symbolBars) == 0 {
				continue
			}
			// Only the tail goes to the model; indicators carry the full window.
			if len(symbolBars) > 5 {
				symbolBars = symbolBars[len(symbolBars)-5:]
			}
			parts := make([]string, 0, len(symbolBars))
			for _, bar := range symbolBars {
				parts = append(parts, fmt.Sprintf("%s: O:%.2f H:%.2f L:%.2f C:%.2f V:%d",
					bar.Date, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume))
			}
			fmt.Fprintf(&b, "  %s: %s\n", symbol, strings.Join(parts, " → "))
		}
	}

	if len(in.Indicators) > 0 {
		b.WriteString("\n## Technical Indicators (35-day)\n")
		b.WriteString("Use these to confirm or challenge your price action read:\n")
		for _, symbol := range sortedKeys(in.Indicators) {
			ind := in.Indicators[symbol]
			parts := make([]string, 0, len(ind))
			for _, k := range sortedKeys(ind) {
				parts = append(parts, fmt.Sprintf("%s: %s", k, ind[k]))
			}
			fmt.Fprintf(&b, "  %s: %s\n", symbol, strings.Join(parts, " | "))
		}
	}

	if len(in.News) > 0 {
		b.WriteString("\n## Recent News & Market Sentiment\n")
		b.WriteString("Use this to gauge market sentiment for each symbol:\n")
		for _, symbol := range sortedKeys(in.News) {
			articles := in.News[symbol]
			if len(articles) == 0 {
				continue
			}
			fmt.Fprintf(&b, "  %s:\n", symbol)
			for _, a := range articles {
				fmt.Fprintf(&b, "    [%s] %s (%s)\n", a.CreatedAt.Format("01/02 15:04"), a.Headline, a.Source)
				if a.Summary != "" {
					fmt.Fprintf(&b, "      %s\n", truncate(a.Summary, 200))
				}
			}
		}
	}

	if len(in.Social) > 0 {
		b.WriteString("\n## Reddit / Social Sentiment\n")
		b.WriteString("Recent posts from trading/investing communities — use for retail sentiment:\n")
		for _, post := range in.Social {
			fmt.Fprintf(&b, "  [%s] %s (%s)\n", post.CreatedAt.Format("01/02 15:04"), post.Headline, post.Source)
			if post.Summary != "" {
				fmt.Fprintf(&b, "    %s\n", truncate(post.Summary, 200))
			}
		}
	}

	b.WriteString("\nAnalyze the price history, technical indicators, news, and social sentiment for each symbol.\n")
	b.WriteString("Provide your analysis and trade decisions as JSON.")

	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
