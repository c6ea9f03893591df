package overview

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mnhs/mnhs/internal/platform/reporting"
	"github.com/mnhs/mnhs/internal/platform/telemetry"
)

type stockKey struct{ hid, mid int64 }

var latestStock = reporting.SnapshotReducer[StockRow, stockKey]{
	Key:       func(s StockRow) stockKey { return stockKey{s.HID, s.MID} },
	Timestamp: func(s StockRow) time.Time { return s.Timestamp },
	Tiebreak:  func(s StockRow) int64 { return s.StockID },
}

type Service struct {
	repo    Repository
	metrics *telemetry.Provider
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository, metrics *telemetry.Provider, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		metrics: metrics,
		logger:  logger.With().Str("component", "overview").Logger(),
		now:     time.Now,
	}
}

// Overview assembles the operational dashboard. rangeParam optionally
// limits the appointment list to an inclusive "YYYY-MM-DD/YYYY-MM-DD" range.
func (s *Service) Overview(ctx context.Context, rangeParam string) (*Overview, error) {
	dr, err := reporting.ParseDateRange(rangeParam)
	if err != nil {
		return nil, err
	}

	var (
		appts   []AppointmentRow
		staff   []StaffRow
		history []StockRow
		meds    []MedicationRow
		counts  SummaryCounts
	)
	today := s.now().UTC().Truncate(24 * time.Hour)

	g, gctx := errgroup.WithContext(ctx)
	s.section(g, gctx, "appointments", func(ctx context.Context) (err error) {
		appts, err = s.repo.Appointments(ctx, dr)
		return err
	})
	s.section(g, gctx, "staff", func(ctx context.Context) (err error) {
		staff, err = s.repo.Staff(ctx)
		return err
	})
	s.section(g, gctx, "stock", func(ctx context.Context) (err error) {
		history, err = s.repo.StockHistory(ctx)
		return err
	})
	s.section(g, gctx, "medications", func(ctx context.Context) (err error) {
		meds, err = s.repo.Medications(ctx)
		return err
	})
	s.section(g, gctx, "summary", func(ctx context.Context) (err error) {
		counts, err = s.repo.Summary(ctx, today)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Str("range", rangeParam).Msg("overview failed")
		return nil, err
	}

	members := staffMembers(staff)
	out := &Overview{
		Appointments:        appointments(appts),
		Staff:               members,
		StaffLeaderboard:    leaderboard(members),
		LowStockMedications: lowStock(meds, latestStock.Reduce(history)),
		Summary:             Summary(counts),
	}
	if dr != nil {
		r := dr.String()
		out.Range = &r
	}
	return out, nil
}

func (s *Service) section(g *errgroup.Group, ctx context.Context, name string, fn func(ctx context.Context) error) {
	g.Go(func() error {
		start := time.Now()
		err := fn(ctx)
		s.metrics.ObserveAggregation("overview", name, time.Since(start), err)
		return reporting.Wrap(name, err)
	})
}

func appointments(rows []AppointmentRow) []Appointment {
	out := make([]Appointment, 0, len(rows))
	for _, r := range rows {
		out = append(out, Appointment{
			ID:          r.CAID,
			PatientName: r.PatientName,
			Status:      r.Status,
			Hospital:    r.Hospital,
			Date:        r.Date.Format(time.DateOnly),
			Time:        r.Time,
			Department:  r.Department,
		})
	}
	return out
}

// role is the title prefix of a staff name, e.g. "Dr." or "Nurse".
func role(fullName string) string {
	fields := strings.Fields(fullName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func staffMembers(rows []StaffRow) []Staff {
	out := make([]Staff, 0, len(rows))
	for _, r := range rows {
		hospitals := r.Hospitals
		if hospitals == nil {
			hospitals = []string{}
		}
		out = append(out, Staff{
			ID:        r.StaffID,
			Name:      r.FullName,
			Role:      role(r.FullName),
			Hospitals: hospitals,
			Workload:  r.Workload,
			Status:    r.Status,
		})
	}
	return out
}

// leaderboard orders staff by workload, busiest first. Equal workloads keep
// their listing order.
func leaderboard(staff []Staff) []Staff {
	out := make([]Staff, len(staff))
	copy(out, staff)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Workload > out[j].Workload })
	return out
}

// lowStock sums the current snapshot of every hospital per medication and
// lists medications whose total is below the summed reorder level, or that
// have no stock at all.
func lowStock(meds []MedicationRow, latest []StockRow) []LowStockMedication {
	type totals struct{ qty, reorder int64 }
	byMed := make(map[int64]*totals)
	for _, s := range latest {
		t, ok := byMed[s.MID]
		if !ok {
			t = &totals{}
			byMed[s.MID] = t
		}
		t.qty += s.Qty
		t.reorder += s.ReorderLevel
	}

	out := make([]LowStockMedication, 0)
	for _, m := range meds {
		t, stocked := byMed[m.MID]
		if stocked && t.qty >= t.reorder {
			continue
		}
		row := LowStockMedication{ID: m.MID, Name: m.Name, Category: m.Category, Unit: m.Unit}
		if stocked {
			row.StockLevel, row.ReorderPoint = t.qty, t.reorder
		}
		out = append(out, row)
	}
	return out
}
