package medication

import (
	"context"
	"time"
)

// StockRepository reads the stock time series. Every method applies the
// hospital and class filters of q.
type StockRepository interface {
	// History returns every snapshot matching q, ordered by hospital and
	// medication name.
	History(ctx context.Context, q StockQuery) ([]Snapshot, error)
	PricingSummary(ctx context.Context, q StockQuery) ([]PricingRow, error)
	Replenishment(ctx context.Context, q StockQuery, since time.Time) ([]ReplenishmentRow, error)
}

// CatalogRepository backs the medication write paths.
type CatalogRepository interface {
	// LockMedication loads a medication and locks it for the rest of the
	// transaction. It returns nil when mid is unknown.
	LockMedication(ctx context.Context, mid int64) (*Medication, error)
	HospitalIDByName(ctx context.Context, name string) (int64, bool, error)
	LatestSnapshot(ctx context.Context, hid, mid int64) (*Snapshot, error)
	CreateMedication(ctx context.Context, m *Medication) error
	InsertSnapshot(ctx context.Context, s *Snapshot) error
}
