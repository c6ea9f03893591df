package medication

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mnhs/mnhs/internal/platform/db"
	"github.com/mnhs/mnhs/internal/platform/reporting"
	"github.com/mnhs/mnhs/internal/platform/telemetry"
)

var (
	ErrMedicationExists   = errors.New("medication with this id already exists")
	ErrMedicationNotFound = errors.New("medication not found")
	ErrHospitalNotFound   = errors.New("hospital not found")
	ErrNoStockHistory     = errors.New("no stock history for this medication")
	ErrInvalidMedication  = errors.New("invalid medication payload")
)

// latestStock keeps the current snapshot per (hospital, medication).
var latestStock = reporting.SnapshotReducer[Snapshot, snapshotKey]{
	Key:       func(s Snapshot) snapshotKey { return snapshotKey{s.HID, s.MID} },
	Timestamp: func(s Snapshot) time.Time { return s.Timestamp },
	Tiebreak:  func(s Snapshot) int64 { return s.StockID },
}

type Service struct {
	stock   StockRepository
	catalog CatalogRepository
	tx      db.Transactor
	metrics *telemetry.Provider
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(stock StockRepository, catalog CatalogRepository, tx db.Transactor, metrics *telemetry.Provider, logger zerolog.Logger) *Service {
	return &Service{
		stock:   stock,
		catalog: catalog,
		tx:      tx,
		metrics: metrics,
		logger:  logger.With().Str("component", "medication").Logger(),
		now:     time.Now,
	}
}

// Dashboard builds the stock dashboard. The current position of each
// (hospital, medication) pair is its latest snapshot; older rows only feed
// the pricing history and the replenishment trend.
func (s *Service) Dashboard(ctx context.Context, q StockQuery) (*Dashboard, error) {
	var (
		history []Snapshot
		pricing []PricingRow
		refills []ReplenishmentRow
	)
	now := s.now().UTC()

	g, gctx := errgroup.WithContext(ctx)
	s.section(g, gctx, "stock_snapshot", func(ctx context.Context) (err error) {
		history, err = s.stock.History(ctx, q)
		return err
	})
	s.section(g, gctx, "pricing_summary", func(ctx context.Context) (err error) {
		pricing, err = s.stock.PricingSummary(ctx, q)
		return err
	})
	s.section(g, gctx, "replenishment_trend", func(ctx context.Context) (err error) {
		refills, err = s.stock.Replenishment(ctx, q, ReplenishmentSince(now))
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Str("hospital", q.Hospital).Str("class", q.Class).Msg("medication dashboard failed")
		return nil, err
	}

	latest := latestStock.Reduce(history)
	return &Dashboard{
		LowStock:           lowStock(latest, q.OnlyLowStock),
		PricingSummary:     pricingSummary(pricing),
		PriceSeries:        priceSeries(latest),
		ReplenishmentTrend: replenishmentTrend(refills),
		Aggregates:         aggregate(latest),
		LastSyncedAt:       now,
	}, nil
}

func (s *Service) section(g *errgroup.Group, ctx context.Context, name string, fn func(ctx context.Context) error) {
	g.Go(func() error {
		start := time.Now()
		err := fn(ctx)
		s.metrics.ObserveAggregation("medications", name, time.Since(start), err)
		return reporting.Wrap(name, err)
	})
}

// ReplenishmentSince is the first instant of the trend window: the start of
// the month ReplenishmentMonths-1 months before now.
func ReplenishmentSince(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(ReplenishmentMonths - 1), 0)
}

func record(s Snapshot) Record {
	unit := s.Form
	if unit == "" {
		unit = DefaultUnit
	}
	return Record{
		ID:           s.MID,
		Name:         s.MedicationName,
		Hospital:     s.HospitalName,
		Qty:          s.Qty,
		ReorderLevel: s.ReorderLevel,
		Unit:         unit,
		Class:        s.TherapeuticClass,
	}
}

// lowStock lists snapshots at or below their reorder level, or at or below
// half of it when criticalOnly is set. Rows without a reorder level never
// qualify.
func lowStock(latest []Snapshot, criticalOnly bool) []Record {
	out := make([]Record, 0)
	for _, s := range latest {
		if s.ReorderLevel <= 0 {
			continue
		}
		threshold := float64(s.ReorderLevel)
		if criticalOnly {
			threshold /= 2
		}
		if float64(s.Qty) <= threshold {
			out = append(out, record(s))
		}
	}
	return out
}

func pricingSummary(rows []PricingRow) []PricingSummary {
	out := make([]PricingSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, PricingSummary{
			Hospital:   r.Hospital,
			Medication: r.Medication,
			Avg:        r.Avg.Round(2).InexactFloat64(),
			Min:        r.Min.InexactFloat64(),
			Max:        r.Max.InexactFloat64(),
			UpdatedAt:  r.UpdatedAt.UTC(),
		})
	}
	return out
}

// priceSeries averages the current unit price per hospital.
func priceSeries(latest []Snapshot) []PricePoint {
	type bucket struct {
		sum decimal.Decimal
		n   int64
	}
	buckets := make(map[string]*bucket)
	for _, s := range latest {
		if s.HospitalName == "" {
			continue
		}
		b, ok := buckets[s.HospitalName]
		if !ok {
			b = &bucket{sum: decimal.Zero}
			buckets[s.HospitalName] = b
		}
		b.sum = b.sum.Add(s.UnitPrice)
		b.n++
	}

	out := make([]PricePoint, 0, len(buckets))
	for name, b := range buckets {
		out = append(out, PricePoint{
			Hospital:     name,
			AvgUnitPrice: reporting.AverageAmount(b.sum, b.n).InexactFloat64(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].Hospital), strings.ToLower(out[j].Hospital)
		if a != b {
			return a < b
		}
		return out[i].Hospital < out[j].Hospital
	})
	return out
}

func replenishmentTrend(rows []ReplenishmentRow) []ReplenishmentPoint {
	out := make([]ReplenishmentPoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, ReplenishmentPoint{
			Month: r.Month.UTC().Format("Jan 2006"),
			Qty:   float64(r.Qty),
			Cost:  r.Cost.InexactFloat64(),
		})
	}
	return out
}

// aggregate computes the stock position KPIs over snapshots with a positive
// reorder level.
func aggregate(latest []Snapshot) Aggregates {
	var (
		a     Aggregates
		gaps  float64
		n     int64
		spend = decimal.Zero
	)
	for _, s := range latest {
		if s.ReorderLevel <= 0 {
			continue
		}
		if float64(s.Qty) <= float64(s.ReorderLevel)/2 {
			a.CriticalAlerts++
		}
		deficit := s.ReorderLevel - s.Qty
		if deficit < 0 {
			deficit = 0
		}
		gaps += reporting.ShareCount(deficit, s.ReorderLevel)
		n++
		spend = spend.Add(s.UnitPrice.Mul(decimal.NewFromInt(deficit)))
	}
	a.AvgStockGapPct = reporting.Percent(reporting.Average(gaps, n))
	a.ProjectedMonthlySpend = spend.Round(2).InexactFloat64()
	return a
}

func validateCreate(req CreateRequest) error {
	switch {
	case req.ID <= 0:
		return fmt.Errorf("%w: id must be positive", ErrInvalidMedication)
	case strings.TrimSpace(req.Name) == "" || len(req.Name) > 100:
		return fmt.Errorf("%w: name must be 1 to 100 characters", ErrInvalidMedication)
	case strings.TrimSpace(req.Hospital) == "" || len(req.Hospital) > 160:
		return fmt.Errorf("%w: hospital must be 1 to 160 characters", ErrInvalidMedication)
	case req.Qty < 0:
		return fmt.Errorf("%w: qty must not be negative", ErrInvalidMedication)
	case req.ReorderLevel < 0:
		return fmt.Errorf("%w: reorderLevel must not be negative", ErrInvalidMedication)
	case strings.TrimSpace(req.Unit) == "" || len(req.Unit) > 40:
		return fmt.Errorf("%w: unit must be 1 to 40 characters", ErrInvalidMedication)
	case req.Class != nil && (strings.TrimSpace(*req.Class) == "" || len(*req.Class) > 120):
		return fmt.Errorf("%w: class must be 1 to 120 characters", ErrInvalidMedication)
	}
	return nil
}

// Create registers a medication and its opening stock snapshot in one
// transaction.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Record, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		existing, err := s.catalog.LockMedication(ctx, req.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrMedicationExists
		}
		hid, ok, err := s.catalog.HospitalIDByName(ctx, req.Hospital)
		if err != nil {
			return err
		}
		if !ok {
			return ErrHospitalNotFound
		}
		m := &Medication{MID: req.ID, Name: req.Name, Form: req.Unit, TherapeuticClass: req.Class}
		if err := s.catalog.CreateMedication(ctx, m); err != nil {
			return err
		}
		return s.catalog.InsertSnapshot(ctx, &Snapshot{
			HID:          hid,
			MID:          req.ID,
			UnitPrice:    decimal.Zero,
			Qty:          req.Qty,
			ReorderLevel: req.ReorderLevel,
		})
	})
	s.metrics.ObserveWrite("medication", writeOutcome(err))
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("mid", req.ID).Str("hospital", req.Hospital).Msg("medication created")
	return &Record{
		ID:           req.ID,
		Name:         req.Name,
		Hospital:     req.Hospital,
		Qty:          req.Qty,
		ReorderLevel: req.ReorderLevel,
		Unit:         req.Unit,
		Class:        req.Class,
	}, nil
}

// RecordStock appends a snapshot holding the latest quantity plus the
// received amount. The reorder level carries over from the latest snapshot.
func (s *Service) RecordStock(ctx context.Context, req StockEntryRequest) (*StockEntry, error) {
	switch {
	case req.MedicationID <= 0:
		return nil, fmt.Errorf("%w: medicationId must be positive", ErrInvalidMedication)
	case strings.TrimSpace(req.Hospital) == "":
		return nil, fmt.Errorf("%w: hospital is required", ErrInvalidMedication)
	case req.QtyReceived <= 0:
		return nil, fmt.Errorf("%w: qtyReceived must be positive", ErrInvalidMedication)
	case req.UnitPrice.IsNegative():
		return nil, fmt.Errorf("%w: unitPrice must not be negative", ErrInvalidMedication)
	}

	var entry *StockEntry
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		med, err := s.catalog.LockMedication(ctx, req.MedicationID)
		if err != nil {
			return err
		}
		if med == nil {
			return ErrMedicationNotFound
		}
		hid, ok, err := s.catalog.HospitalIDByName(ctx, req.Hospital)
		if err != nil {
			return err
		}
		if !ok {
			return ErrHospitalNotFound
		}
		latest, err := s.catalog.LatestSnapshot(ctx, hid, req.MedicationID)
		if err != nil {
			return err
		}
		if latest == nil {
			return ErrNoStockHistory
		}
		if err := s.catalog.InsertSnapshot(ctx, &Snapshot{
			HID:          hid,
			MID:          req.MedicationID,
			UnitPrice:    req.UnitPrice,
			Qty:          latest.Qty + req.QtyReceived,
			ReorderLevel: latest.ReorderLevel,
		}); err != nil {
			return err
		}

		name := med.Name
		if req.MedicationName != nil && strings.TrimSpace(*req.MedicationName) != "" {
			name = *req.MedicationName
		}
		entry = &StockEntry{
			MedicationID:   req.MedicationID,
			MedicationName: name,
			Hospital:       req.Hospital,
			QtyReceived:    req.QtyReceived,
			UnitPrice:      req.UnitPrice.InexactFloat64(),
		}
		return nil
	})
	s.metrics.ObserveWrite("stock_entry", writeOutcome(err))
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("mid", req.MedicationID).Str("hospital", req.Hospital).
		Int64("qty_received", req.QtyReceived).Msg("stock entry recorded")
	return entry, nil
}

func writeOutcome(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, ErrMedicationExists):
		return "conflict"
	case errors.Is(err, ErrMedicationNotFound), errors.Is(err, ErrHospitalNotFound), errors.Is(err, ErrNoStockHistory):
		return "not_found"
	default:
		return "error"
	}
}
