// Package broker wraps the Alpaca trading and market data APIs.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/kenyonj/auto-investor/config"
	"github.com/kenyonj/auto-investor/models"
)

// Client talks to the Alpaca trading API (account, positions, orders) and
// the market data API (bars, quotes, news).
type Client struct {
	trading *resty.Client
	data    *resty.Client
}

// NewClient creates a broker client from config. Credentials go out as
// headers on every request.
func NewClient(cfg config.BrokerConfig) *Client {
	trading := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(30*time.Second).
		SetHeader("APCA-API-KEY-ID", cfg.APIKey).
		SetHeader("APCA-API-SECRET-KEY", cfg.SecretKey)

	data := resty.New().
		SetBaseURL(cfg.DataURL).
		SetTimeout(30*time.Second).
		SetHeader("APCA-API-KEY-ID", cfg.APIKey).
		SetHeader("APCA-API-SECRET-KEY", cfg.SecretKey)

	return &Client{trading: trading, data: data}
}

// accountResponse mirrors Alpaca's account payload. Numeric fields arrive
// as strings.
type accountResponse struct {
	Equity      string `json:"equity"`
	Cash        string `json:"cash"`
	BuyingPower string `json:"buying_power"`
	LastEquity  string `json:"last_equity"`
}

type positionResponse struct {
	Symbol         string `json:"symbol"`
	Qty            string `json:"qty"`
	AvgEntryPrice  string `json:"avg_entry_price"`
	CurrentPrice   string `json:"current_price"`
	MarketValue    string `json:"market_value"`
	UnrealizedPL   string `json:"unrealized_pl"`
	UnrealizedPLPC string `json:"unrealized_plpc"`
	AssetClass     string `json:"asset_class"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Qty      string `json:"qty"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	FilledAt string `json:"filled_at"`
}

// GetPortfolioSnapshot fetches account state and open positions in one call.
func (c *Client) GetPortfolioSnapshot(ctx context.Context) (*models.PortfolioSnapshot, error) {
	resp, err := c.trading.R().SetContext(ctx).Get("/v2/account")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("account API error %d: %s", resp.StatusCode(), resp.String())
	}

	var account accountResponse
	if err := json.Unmarshal(resp.Body(), &account); err != nil {
		return nil, fmt.Errorf("failed to parse account response: %w", err)
	}

	equity := parseNum(account.Equity)
	lastEquity := parseNum(account.LastEquity)
	dailyPL := equity - lastEquity

	positions, err := c.GetPositions(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := &models.PortfolioSnapshot{
		Timestamp:   time.Now(),
		Equity:      equity,
		Cash:        parseNum(account.Cash),
		BuyingPower: parseNum(account.BuyingPower),
		Positions:   positions,
		DailyPL:     dailyPL,
	}
	if equity != 0 {
		snapshot.DailyPLPct = dailyPL / equity * 100
	}
	return snapshot, nil
}

// GetPositions fetches all open positions.
func (c *Client) GetPositions(ctx context.Context) ([]models.Position, error) {
	resp, err := c.trading.R().SetContext(ctx).Get("/v2/positions")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch positions: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("positions API error %d: %s", resp.StatusCode(), resp.String())
	}

	var raw []positionResponse
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse positions response: %w", err)
	}

	positions := make([]models.Position, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, models.Position{
			Symbol:          normalizePositionSymbol(p.Symbol, p.AssetClass),
			Quantity:        parseNum(p.Qty),
			AvgEntryPrice:   parseNum(p.AvgEntryPrice),
			CurrentPrice:    parseNum(p.CurrentPrice),
			MarketValue:     parseNum(p.MarketValue),
			UnrealizedPL:    parseNum(p.UnrealizedPL),
			UnrealizedPLPct: parseNum(p.UnrealizedPLPC) * 100,
			AssetClass:      p.AssetClass,
		})
	}
	return positions, nil
}

// GetQuotes fetches the latest quote for each symbol. Equities and crypto
// use different data endpoints, so the input splits by symbol shape.
func (c *Client) GetQuotes(ctx context.Context, symbols []string) ([]models.MarketQuote, error) {
	var equities, crypto []string
	for _, s := range symbols {
		if models.IsCrypto(s) {
			crypto = append(crypto, s)
		} else {
			equities = append(equities, s)
		}
	}

	var quotes []models.MarketQuote

	if len(equities) > 0 {
		batch, err := c.latestQuotes(ctx, "/v2/stocks/quotes/latest", equities)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, batch...)
	}
	if len(crypto) > 0 {
		batch, err := c.latestQuotes(ctx, "/v1beta3/crypto/us/latest/quotes", crypto)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, batch...)
	}
	return quotes, nil
}

func (c *Client) latestQuotes(ctx context.Context, endpoint string, symbols []string) ([]models.MarketQuote, error) {
	resp, err := c.data.R().
		SetContext(ctx).
		SetQueryParam("symbols", strings.Join(symbols, ",")).
		Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quotes: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("quotes API error %d: %s", resp.StatusCode(), resp.String())
	}

	var payload struct {
		Quotes map[string]struct {
			AskPrice  float64   `json:"ap"`
			BidPrice  float64   `json:"bp"`
			Timestamp time.Time `json:"t"`
		} `json:"quotes"`
	}
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse quotes response: %w", err)
	}

	quotes := make([]models.MarketQuote, 0, len(payload.Quotes))
	for symbol, q := range payload.Quotes {
		price := q.AskPrice
		if price == 0 {
			price = q.BidPrice
		}
		quotes = append(quotes, models.MarketQuote{
			Symbol:    symbol,
			Price:     price,
			Timestamp: q.Timestamp,
		})
	}
	return quotes, nil
}

// GetBars fetches daily OHLCV bars for each symbol covering the last `days`
// calendar days. Bars come back oldest-first per symbol.
func (c *Client) GetBars(ctx context.Context, symbols []string, days int, crypto bool) (map[string][]models.DailyBar, error) {
	if len(symbols) == 0 {
		return map[string][]models.DailyBar{}, nil
	}

	endpoint := "/v2/stocks/bars"
	if crypto {
		endpoint = "/v1beta3/crypto/us/bars"
	}
	start := time.Now().AddDate(0, 0, -days)

	resp, err := c.data.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbols":   strings.Join(symbols, ","),
			"timeframe": "1Day",
			"start":     start.Format("2006-01-02"),
			"limit":     "10000",
		}).
		Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bars: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("bars API error %d: %s", resp.StatusCode(), resp.String())
	}

	var payload struct {
		Bars map[string][]struct {
			Timestamp time.Time `json:"t"`
			Open      float64   `json:"o"`
			High      float64   `json:"h"`
			Low       float64   `json:"l"`
			Close     float64   `json:"c"`
			Volume    float64   `json:"v"`
		} `json:"bars"`
	}
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse bars response: %w", err)
	}

	bars := make(map[string][]models.DailyBar, len(payload.Bars))
	for symbol, raw := range payload.Bars {
		series := make([]models.DailyBar, 0, len(raw))
		for _, b := range raw {
			series = append(series, models.DailyBar{
				Date:   b.Timestamp.Format("2006-01-02"),
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: int64(b.Volume),
			})
		}
		bars[symbol] = series
	}
	return bars, nil
}

// GetNews fetches recent news grouped by symbol.
func (c *Client) GetNews(ctx context.Context, symbols []string, limit int) (map[string][]models.NewsArticle, error) {
	if len(symbols) == 0 {
		return map[string][]models.NewsArticle{}, nil
	}

	resp, err := c.data.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbols": strings.Join(symbols, ","),
			"limit":   strconv.Itoa(limit),
		}).
		Get("/v1beta1/news")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch news: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("news API error %d: %s", resp.StatusCode(), resp.String())
	}

	var payload struct {
		News []struct {
			Headline  string    `json:"headline"`
			Summary   string    `json:"summary"`
			Source    string    `json:"source"`
			URL       string    `json:"url"`
			CreatedAt time.Time `json:"created_at"`
			Symbols   []string  `json:"symbols"`
		} `json:"news"`
	}
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse news response: %w", err)
	}

	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}

	news := make(map[string][]models.NewsArticle)
	for _, item := range payload.News {
		article := models.NewsArticle{
			Headline:  item.Headline,
			Summary:   item.Summary,
			Source:    item.Source,
			URL:       item.URL,
			CreatedAt: item.CreatedAt,
		}
		for _, s := range item.Symbols {
			if wanted[s] {
				news[s] = append(news[s], article)
			}
		}
	}
	return news, nil
}

// GetOpenOrders returns the symbols that currently have an open order, used
// to avoid stacking duplicate orders across cycles.
func (c *Client) GetOpenOrders(ctx context.Context) (map[string]bool, error) {
	resp, err := c.trading.R().
		SetContext(ctx).
		SetQueryParam("status", "open").
		Get("/v2/orders")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch open orders: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("orders API error %d: %s", resp.StatusCode(), resp.String())
	}

	var raw []orderResponse
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse orders response: %w", err)
	}

	open := make(map[string]bool, len(raw))
	for _, o := range raw {
		open[o.Symbol] = true
	}
	return open, nil
}

// orderRequest is the submit-order payload. Quantities and limit prices go
// out as decimal strings so fractional values survive intact.
type orderRequest struct {
	Symbol      string `json:"symbol"`
	Qty         string `json:"qty"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
	LimitPrice  string `json:"limit_price,omitempty"`
}

// ExecuteDecision submits an order for a BUY or SELL decision. Returns nil
// for HOLD.
func (c *Client) ExecuteDecision(ctx context.Context, d *models.TradeDecision) (*models.OrderResult, error) {
	if d.Action == models.ActionHold {
		return nil, nil
	}
	if d.Quantity == nil || *d.Quantity <= 0 {
		return nil, fmt.Errorf("cannot submit %s order for %s without a quantity", d.Action, d.Symbol)
	}

	req := orderRequest{
		Symbol:      d.Symbol,
		Qty:         decimal.NewFromFloat(*d.Quantity).String(),
		Side:        string(d.Action),
		Type:        "market",
		TimeInForce: "day",
	}
	if models.IsCrypto(d.Symbol) {
		// Crypto orders reject "day"
		req.TimeInForce = "gtc"
	}
	if d.LimitPrice != nil {
		req.Type = "limit"
		req.LimitPrice = decimal.NewFromFloat(*d.LimitPrice).String()
	}

	resp, err := c.trading.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post("/v2/orders")
	if err != nil {
		return nil, fmt.Errorf("failed to submit order for %s: %w", d.Symbol, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("order API error %d: %s", resp.StatusCode(), resp.String())
	}

	var order orderResponse
	if err := json.Unmarshal(resp.Body(), &order); err != nil {
		return nil, fmt.Errorf("failed to parse order response: %w", err)
	}

	return &models.OrderResult{
		ID:       order.ID,
		Symbol:   order.Symbol,
		Side:     order.Side,
		Qty:      order.Qty,
		Type:     order.Type,
		Status:   order.Status,
		FilledAt: order.FilledAt,
	}, nil
}

// parseNum converts Alpaca's string-encoded numbers. Empty or malformed
// values parse as 0.
func parseNum(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// normalizePositionSymbol maps a crypto position symbol like BTCUSD back to
// the BTC/USD form used everywhere else.
func normalizePositionSymbol(symbol, assetClass string) string {
	if assetClass != "crypto" || strings.Contains(symbol, "/") {
		return symbol
	}
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return symbol[:len(symbol)-len(quote)] + "/" + quote
		}
	}
	return symbol
}
