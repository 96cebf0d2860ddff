package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kenyonj/auto-investor/models"
	"github.com/kenyonj/auto-investor/risk"
)

// Repository handles audit-store operations for the decision pipeline.
// It implements risk.Ledger for the wash-sale and min-hold guards.
type Repository struct {
	db *Database
}

// NewRepository creates a new repository over an open database.
func NewRepository(db *Database) *Repository {
	return &Repository{db: db}
}

// InitSchema performs auto-migration of all audit tables.
func (r *Repository) InitSchema() error {
	err := r.db.db.AutoMigrate(
		&DecisionRecord{},
		&ExecutionRecord{},
		&SnapshotRecord{},
		&LossSaleRecord{},
		&BuyRecord{},
		&AppState{},
		&Webhook{},
	)
	if err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}
	return nil
}

// LogDecision records a trade decision. Returns the row ID.
func (r *Repository) LogDecision(d *models.TradeDecision, vetoed bool) (int64, error) {
	record := DecisionRecord{
		Timestamp:  d.Timestamp,
		Symbol:     d.Symbol,
		Action:     string(d.Action),
		Confidence: string(d.Confidence),
		Quantity:   d.Quantity,
		LimitPrice: d.LimitPrice,
		Reasoning:  d.Reasoning,
		RiskNotes:  d.RiskNotes,
		Vetoed:     vetoed,
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if err := r.db.db.Create(&record).Error; err != nil {
		return 0, fmt.Errorf("failed to log decision for %s: %w", d.Symbol, err)
	}
	return record.ID, nil
}

// LogExecution records a submitted broker order against its decision.
func (r *Repository) LogExecution(decisionID int64, order *models.OrderResult) error {
	record := ExecutionRecord{
		Timestamp:  time.Now(),
		DecisionID: decisionID,
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Qty:        order.Qty,
		OrderType:  order.Type,
		Status:     order.Status,
	}
	if err := r.db.db.Create(&record).Error; err != nil {
		return fmt.Errorf("failed to log execution for %s: %w", order.Symbol, err)
	}
	return nil
}

// LogSnapshot records a portfolio snapshot.
func (r *Repository) LogSnapshot(s *models.PortfolioSnapshot) error {
	positionsJSON, err := json.Marshal(s.Positions)
	if err != nil {
		return fmt.Errorf("failed to marshal positions: %w", err)
	}
	record := SnapshotRecord{
		Timestamp:     s.Timestamp,
		Equity:        s.Equity,
		Cash:          s.Cash,
		BuyingPower:   s.BuyingPower,
		DailyPL:       s.DailyPL,
		DailyPLPct:    s.DailyPLPct,
		PositionsJSON: string(positionsJSON),
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if err := r.db.db.Create(&record).Error; err != nil {
		return fmt.Errorf("failed to log snapshot: %w", err)
	}
	return nil
}

// RecordLossSale marks a sale executed at a loss for the wash-sale guard.
func (r *Repository) RecordLossSale(symbol string, lossAmount float64, soldAt time.Time) error {
	record := LossSaleRecord{Symbol: symbol, SoldAt: soldAt, LossAmount: lossAmount}
	if err := r.db.db.Create(&record).Error; err != nil {
		return fmt.Errorf("failed to record loss sale for %s: %w", symbol, err)
	}
	return nil
}

// GetRecentLossSale returns the most recent loss sale for a symbol within
// the lookback window, or nil.
func (r *Repository) GetRecentLossSale(symbol string, windowDays int) (*risk.LossSale, error) {
	cutoff := time.Now().AddDate(0, 0, -windowDays)
	var record LossSaleRecord
	err := r.db.db.
		Where("symbol = ? AND sold_at > ?", symbol, cutoff).
		Order("sold_at DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loss-sale query failed for %s: %w", symbol, err)
	}
	return &risk.LossSale{
		Symbol:     record.Symbol,
		LossAmount: record.LossAmount,
		SoldAt:     record.SoldAt,
	}, nil
}

// RecordBuy stamps an executed buy for the minimum-hold-period guard.
func (r *Repository) RecordBuy(symbol string, quantity, price float64, executedAt time.Time) error {
	record := BuyRecord{Symbol: symbol, ExecutedAt: executedAt, Quantity: quantity, Price: price}
	if err := r.db.db.Create(&record).Error; err != nil {
		return fmt.Errorf("failed to record buy for %s: %w", symbol, err)
	}
	return nil
}

// GetLastBuyTime returns the time of the most recent executed buy for a
// symbol, or nil if the symbol was never bought.
func (r *Repository) GetLastBuyTime(symbol string) (*time.Time, error) {
	var record BuyRecord
	err := r.db.db.
		Where("symbol = ?", symbol).
		Order("executed_at DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last-buy query failed for %s: %w", symbol, err)
	}
	return &record.ExecutedAt, nil
}

// RecentDecisions returns the latest decisions, newest first.
func (r *Repository) RecentDecisions(limit int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []DecisionRecord
	err := r.db.db.Order("timestamp DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("decision query failed: %w", err)
	}
	return records, nil
}

// RecentSnapshots returns the latest portfolio snapshots, newest first.
func (r *Repository) RecentSnapshots(limit int) ([]SnapshotRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []SnapshotRecord
	err := r.db.db.Order("timestamp DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("snapshot query failed: %w", err)
	}
	return records, nil
}

// RecentExecutions returns the latest submitted orders, newest first.
func (r *Repository) RecentExecutions(limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []ExecutionRecord
	err := r.db.db.Order("timestamp DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("execution query failed: %w", err)
	}
	return records, nil
}

// ExecutionsForDecision returns the orders logged for a decision.
func (r *Repository) ExecutionsForDecision(decisionID int64) ([]ExecutionRecord, error) {
	var records []ExecutionRecord
	err := r.db.db.Where("decision_id = ?", decisionID).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("execution query failed: %w", err)
	}
	return records, nil
}

// GetState reads a bookkeeping value; empty string when unset.
func (r *Repository) GetState(key string) (string, error) {
	var record AppState
	err := r.db.db.Where("key = ?", key).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("state read failed for %s: %w", key, err)
	}
	return record.Value, nil
}

// SetState upserts a bookkeeping value.
func (r *Repository) SetState(key, value string) error {
	record := AppState{Key: key, Value: value}
	err := r.db.db.Save(&record).Error
	if err != nil {
		return fmt.Errorf("state write failed for %s: %w", key, err)
	}
	return nil
}

// ActiveWebhooks returns the webhooks that should receive alerts.
func (r *Repository) ActiveWebhooks() ([]Webhook, error) {
	var hooks []Webhook
	err := r.db.db.Where("active = ?", true).Find(&hooks).Error
	if err != nil {
		return nil, fmt.Errorf("webhook query failed: %w", err)
	}
	return hooks, nil
}

// ListWebhooks returns all configured webhooks.
func (r *Repository) ListWebhooks() ([]Webhook, error) {
	var hooks []Webhook
	err := r.db.db.Order("id").Find(&hooks).Error
	if err != nil {
		return nil, fmt.Errorf("webhook query failed: %w", err)
	}
	return hooks, nil
}

// CreateWebhook registers a new webhook target.
func (r *Repository) CreateWebhook(hook *Webhook) error {
	if err := r.db.db.Create(hook).Error; err != nil {
		return fmt.Errorf("webhook create failed: %w", err)
	}
	return nil
}

// UpdateWebhook saves changes to an existing webhook.
func (r *Repository) UpdateWebhook(hook *Webhook) error {
	if err := r.db.db.Save(hook).Error; err != nil {
		return fmt.Errorf("webhook update failed: %w", err)
	}
	return nil
}

// DeleteWebhook removes a webhook target.
func (r *Repository) DeleteWebhook(id int64) error {
	if err := r.db.db.Delete(&Webhook{}, id).Error; err != nil {
		return fmt.Errorf("webhook delete failed: %w", err)
	}
	return nil
}
