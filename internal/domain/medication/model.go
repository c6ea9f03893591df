package medication

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// ReplenishmentMonths is the number of calendar months in the trend.
	ReplenishmentMonths = 6
	// DefaultUnit labels medications stored without a dosage form.
	DefaultUnit = "units"
)

// StockQuery narrows the stock dashboard. Hospital and Class match names
// case-insensitively; empty means no filter.
type StockQuery struct {
	Hospital     string
	Class        string
	OnlyLowStock bool
}

// -- Repository rows --

// Snapshot is one row of the stock time series, joined to its hospital and
// medication.
type Snapshot struct {
	StockID          int64
	HID              int64
	MID              int64
	HospitalName     string
	MedicationName   string
	TherapeuticClass *string
	Form             string
	UnitPrice        decimal.Decimal
	Qty              int64
	ReorderLevel     int64
	Timestamp        time.Time
}

type snapshotKey struct{ hid, mid int64 }

type PricingRow struct {
	Hospital   string
	Medication string
	Avg        decimal.Decimal
	Min        decimal.Decimal
	Max        decimal.Decimal
	UpdatedAt  time.Time
}

type ReplenishmentRow struct {
	Month time.Time
	Qty   int64
	Cost  decimal.Decimal
}

// Medication is a catalogue entry.
type Medication struct {
	MID              int64
	Name             string
	Form             string
	TherapeuticClass *string
}

// -- Dashboard payload --

// Record is the client view of a medication stocked at one hospital.
type Record struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Hospital     string  `json:"hospital"`
	Qty          int64   `json:"qty"`
	ReorderLevel int64   `json:"reorderLevel"`
	Unit         string  `json:"unit"`
	Class        *string `json:"class"`
}

type PricingSummary struct {
	Hospital   string    `json:"hospital"`
	Medication string    `json:"medication"`
	Avg        float64   `json:"avg"`
	Min        float64   `json:"min"`
	Max        float64   `json:"max"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type PricePoint struct {
	Hospital     string  `json:"hospital"`
	AvgUnitPrice float64 `json:"avgUnitPrice"`
}

type ReplenishmentPoint struct {
	Month string  `json:"month"`
	Qty   float64 `json:"qty"`
	Cost  float64 `json:"cost"`
}

// Aggregates summarise the current stock position. AvgStockGapPct is on a
// 0..100 scale.
type Aggregates struct {
	CriticalAlerts        int     `json:"criticalAlerts"`
	AvgStockGapPct        float64 `json:"avgStockGapPct"`
	ProjectedMonthlySpend float64 `json:"projectedMonthlySpend"`
}

type Dashboard struct {
	LowStock           []Record             `json:"lowStock"`
	PricingSummary     []PricingSummary     `json:"pricingSummary"`
	PriceSeries        []PricePoint         `json:"priceSeries"`
	ReplenishmentTrend []ReplenishmentPoint `json:"replenishmentTrend"`
	Aggregates         Aggregates           `json:"aggregates"`
	LastSyncedAt       time.Time            `json:"lastSyncedAt"`
}

// -- Write path --

// CreateRequest registers a medication with its opening stock at one
// hospital.
type CreateRequest struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Hospital     string  `json:"hospital"`
	Qty          int64   `json:"qty"`
	ReorderLevel int64   `json:"reorderLevel"`
	Unit         string  `json:"unit"`
	Class        *string `json:"class"`
}

type StockEntryRequest struct {
	MedicationID   int64           `json:"medicationId"`
	MedicationName *string         `json:"medicationName"`
	Hospital       string          `json:"hospital"`
	QtyReceived    int64           `json:"qtyReceived"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
}

type StockEntry struct {
	MedicationID   int64   `json:"medicationId"`
	MedicationName string  `json:"medicationName"`
	Hospital       string  `json:"hospital"`
	QtyReceived    int64   `json:"qtyReceived"`
	UnitPrice      float64 `json:"unitPrice"`
}
