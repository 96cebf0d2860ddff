package database

import "time"

// DecisionRecord is one analyst decision after risk review. Exactly one
// row is written per proposal in an evaluated batch, vetoed or not.
type DecisionRecord struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp  time.Time `gorm:"index;not null" json:"timestamp"`
	Symbol     string    `gorm:"size:10;index;not null" json:"symbol"`
	Action     string    `gorm:"size:10;not null" json:"action"` // buy, sell, hold
	Confidence string    `gorm:"size:10" json:"confidence"`
	Quantity   *float64  `gorm:"type:decimal(15,4)" json:"quantity,omitempty"`
	LimitPrice *float64  `gorm:"type:decimal(15,2)" json:"limit_price,omitempty"`
	Reasoning  string    `gorm:"type:text" json:"reasoning"`
	RiskNotes  string    `gorm:"type:text" json:"risk_notes"`
	Vetoed     bool      `gorm:"index" json:"vetoed"`
}

// ExecutionRecord is a broker order submitted for an approved decision.
type ExecutionRecord struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp  time.Time `gorm:"index;not null" json:"timestamp"`
	DecisionID int64     `gorm:"index" json:"decision_id"`
	OrderID    string    `gorm:"size:64" json:"order_id"`
	Symbol     string    `gorm:"size:10;index;not null" json:"symbol"`
	Side       string    `gorm:"size:10;not null" json:"side"`
	Qty        string    `gorm:"size:32" json:"qty"`
	OrderType  string    `gorm:"size:16" json:"order_type"`
	Status     string    `gorm:"size:24" json:"status"`
}

// SnapshotRecord is a logged point-in-time portfolio state.
type SnapshotRecord struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp     time.Time `gorm:"index;not null" json:"timestamp"`
	Equity        float64   `gorm:"type:decimal(20,2)" json:"equity"`
	Cash          float64   `gorm:"type:decimal(20,2)" json:"cash"`
	BuyingPower   float64   `gorm:"type:decimal(20,2)" json:"buying_power"`
	DailyPL       float64   `gorm:"type:decimal(20,2)" json:"daily_pl"`
	DailyPLPct    float64   `gorm:"type:decimal(10,4)" json:"daily_pl_pct"`
	PositionsJSON string    `gorm:"type:text" json:"positions_json"`
}

// LossSaleRecord marks a sale executed at a loss; the wash-sale guard
// queries these by symbol and age. Records expire by age in queries,
// never by deletion.
type LossSaleRecord struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol     string    `gorm:"size:10;index;not null" json:"symbol"`
	SoldAt     time.Time `gorm:"index;not null" json:"sold_at"`
	LossAmount float64   `gorm:"type:decimal(20,2);not null" json:"loss_amount"`
}

// BuyRecord stamps an executed buy for the minimum-hold-period guard.
type BuyRecord struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol     string    `gorm:"size:10;index;not null" json:"symbol"`
	ExecutedAt time.Time `gorm:"index;not null" json:"executed_at"`
	Quantity   float64   `gorm:"type:decimal(15,4)" json:"quantity"`
	Price      float64   `gorm:"type:decimal(15,2)" json:"price"`
}

// AppState is small key/value bookkeeping that survives restarts
// (e.g. the next scheduled cycle time).
type AppState struct {
	Key   string `gorm:"primaryKey;size:64" json:"key"`
	Value string `gorm:"type:text" json:"value"`
}

// Webhook is a notification target for execution and veto alerts.
type Webhook struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	URL       string    `gorm:"size:500;not null" json:"url"`
	Events    string    `gorm:"size:100" json:"events"` // comma-separated: execution, veto
	Active    bool      `gorm:"default:true;index" json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
