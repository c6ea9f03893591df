package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mnhs/mnhs/internal/platform/db"
	"github.com/mnhs/mnhs/internal/platform/reporting"
	"github.com/mnhs/mnhs/internal/platform/telemetry"
)

var (
	ErrActivityNotFound = errors.New("clinical activity not found")
	ErrExpenseExists    = errors.New("expense already captured for this activity")
	ErrInsurerNotFound  = errors.New("insurance record not found")
	ErrInvalidExpense   = errors.New("invalid expense")
)

type Service struct {
	repo     DashboardRepository
	expenses ExpenseRepository
	tx       db.Transactor
	metrics  *telemetry.Provider
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo DashboardRepository, expenses ExpenseRepository, tx db.Transactor, metrics *telemetry.Provider, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		expenses: expenses,
		tx:       tx,
		metrics:  metrics,
		logger:   logger.With().Str("component", "billing").Logger(),
		now:      time.Now,
	}
}

// Dashboard resolves req and computes every billing section concurrently.
// The first failing section cancels the others and the call returns only
// that error, wrapped in a *reporting.AggregationError.
func (s *Service) Dashboard(ctx context.Context, req reporting.FilterRequest) (*Dashboard, error) {
	f, err := reporting.ResolveFilter(req, s.now())
	if err != nil {
		return nil, err
	}

	var d Dashboard
	g, gctx := errgroup.WithContext(ctx)

	s.section(g, gctx, "kpis", func(ctx context.Context) (err error) {
		d.KPIs, err = s.kpis(ctx, f)
		return err
	})
	s.section(g, gctx, "insurance_split", func(ctx context.Context) (err error) {
		d.InsuranceSplit, err = s.insuranceSplit(ctx, f)
		return err
	})
	s.section(g, gctx, "hospital_rollup", func(ctx context.Context) (err error) {
		d.HospitalRollup, err = s.hospitalRollup(ctx, f)
		return err
	})
	s.section(g, gctx, "department_summary", func(ctx context.Context) (err error) {
		d.DepartmentSummary, err = s.departmentSummary(ctx, f)
		return err
	})
	s.section(g, gctx, "recent_expenses", func(ctx context.Context) (err error) {
		d.RecentExpenses, err = s.recentExpenses(ctx, f)
		return err
	})
	s.section(g, gctx, "medication_utilization", func(ctx context.Context) (err error) {
		d.MedicationUtilization, err = s.medicationUtilization(ctx, f)
		return err
	})

	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Interface("filters", f.Echo()).Msg("billing dashboard failed")
		return nil, err
	}

	d.Metadata = Metadata{Filters: f.Echo(), LastSyncedAt: s.now().UTC()}
	return &d, nil
}

func (s *Service) section(g *errgroup.Group, ctx context.Context, name string, fn func(ctx context.Context) error) {
	g.Go(func() error {
		start := time.Now()
		err := fn(ctx)
		s.metrics.ObserveAggregation("billing", name, time.Since(start), err)
		return reporting.Wrap(name, err)
	})
}

func (s *Service) kpis(ctx context.Context, f reporting.Filter) ([]KPI, error) {
	k, err := s.repo.KPITotals(ctx, f)
	if err != nil {
		return nil, err
	}
	cur, prev := k.Current, k.Previous

	coverage := reporting.ShareAmount(cur.Insured, cur.Total)
	prevCoverage := reporting.ShareAmount(prev.Insured, prev.Total)
	avg := reporting.AverageAmount(cur.Total, cur.Expenses).InexactFloat64()
	prevAvg := reporting.AverageAmount(prev.Total, prev.Expenses).InexactFloat64()
	total := cur.Total.InexactFloat64()

	return []KPI{
		{
			Key:     KPITotalBillings,
			Title:   fmt.Sprintf("Total Billings (%dd)", f.DaysBack),
			Value:   total,
			Unit:    UnitMAD,
			IconKey: "CreditCard",
			Trend:   trend(total, prev.Total.InexactFloat64()),
		},
		{
			Key:     KPIInsuredCoverage,
			Title:   "Insured Coverage",
			Value:   coverage,
			Unit:    UnitRatio,
			IconKey: "ShieldCheck",
			Trend:   trend(coverage, prevCoverage),
		},
		{
			Key:     KPIAverageExpense,
			Title:   "Average Expense per Activity",
			Value:   avg,
			Unit:    UnitMAD,
			IconKey: "Clock3",
			Trend:   trend(avg, prevAvg),
		},
		{
			Key:     KPIActiveHospitals,
			Title:   "Active Hospitals",
			Value:   float64(cur.Hospitals),
			Unit:    UnitCount,
			IconKey: "AlertTriangle",
			Trend:   trend(float64(cur.Hospitals), float64(prev.Hospitals)),
		},
	}, nil
}

func trend(current, previous float64) *reporting.Trend {
	t := reporting.Change(current, previous)
	return &t
}

func (s *Service) insuranceSplit(ctx context.Context, f reporting.Filter) ([]InsuranceSplit, error) {
	rows, err := s.repo.InsuranceSplit(ctx, f)
	if err != nil {
		return nil, err
	}
	whole := decimal.Zero
	for _, r := range rows {
		whole = whole.Add(r.Amount)
	}
	out := make([]InsuranceSplit, 0, len(rows))
	for _, r := range rows {
		label := r.Type
		if label == "" {
			label = SelfPayLabel
		}
		out = append(out, InsuranceSplit{
			InsID:      r.InsID,
			Type:       label,
			Amount:     r.Amount.InexactFloat64(),
			Activities: r.Activities,
			Share:      reporting.ShareAmount(r.Amount, whole),
		})
	}
	return out, nil
}

func (s *Service) hospitalRollup(ctx context.Context, f reporting.Filter) ([]HospitalRollup, error) {
	rows, err := s.repo.HospitalRollup(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]HospitalRollup, 0, len(rows))
	for _, r := range rows {
		out = append(out, HospitalRollup{
			HID:          r.HID,
			Name:         r.Name,
			Region:       r.Region,
			Total:        r.Total.InexactFloat64(),
			Activities:   r.Activities,
			InsuredShare: reporting.ShareAmount(r.Insured, r.Total),
			AvgExpense:   reporting.AverageAmount(r.Total, r.Activities).InexactFloat64(),
		})
	}
	return out, nil
}

func (s *Service) departmentSummary(ctx context.Context, f reporting.Filter) ([]DepartmentSummary, error) {
	rows, err := s.repo.DepartmentSummary(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]DepartmentSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, DepartmentSummary{
			DepID:      r.DepID,
			Hospital:   r.Hospital,
			Department: r.Department,
			Specialty:  r.Specialty,
			Total:      r.Total.InexactFloat64(),
			Activities: r.Activities,
			AvgExpense: reporting.AverageAmount(r.Total, r.Activities).InexactFloat64(),
		})
	}
	return out, nil
}

func (s *Service) recentExpenses(ctx context.Context, f reporting.Filter) ([]RecentExpense, error) {
	rows, err := s.repo.RecentExpenses(ctx, f, RecentExpenseLimit)
	if err != nil {
		return nil, err
	}

	var pids []int64
	for _, r := range rows {
		if r.PID != nil {
			pids = append(pids, *r.PID)
		}
	}
	items, err := reporting.BatchGroup(ctx, pids, s.repo.PrescriptionItems,
		func(it PrescriptionItemRow) int64 { return it.PID })
	if err != nil {
		return nil, fmt.Errorf("prescription items: %w", err)
	}

	out := make([]RecentExpense, 0, len(rows))
	for _, r := range rows {
		ins := InsuranceRef{InsID: r.InsID, Type: SelfPayLabel}
		if r.InsuranceType != nil && *r.InsuranceType != "" {
			ins.Type = *r.InsuranceType
		}
		x := RecentExpense{
			ExpID:        r.ExpID,
			CAID:         r.CAID,
			ActivityDate: r.ActivityDate.Format(time.DateOnly),
			Hospital:     HospitalRef{HID: r.HID, Name: r.HospitalName},
			Department:   DepartmentRef{DepID: r.DepID, Name: r.DepartmentName},
			Patient:      PatientRef{IID: r.IID, FullName: r.PatientName},
			Staff:        StaffRef{StaffID: r.StaffID, FullName: r.StaffName},
			Insurance:    ins,
			Total:        r.Total.InexactFloat64(),
		}
		if r.PID != nil {
			meds := make([]PrescriptionMedication, 0, len(items[*r.PID]))
			for _, it := range items[*r.PID] {
				meds = append(meds, PrescriptionMedication{MID: it.MID, Name: it.Name, Dosage: it.Dosage, Duration: it.Duration})
			}
			x.Prescription = &Prescription{PID: *r.PID, Medications: meds}
		}
		out = append(out, x)
	}
	return out, nil
}

func (s *Service) medicationUtilization(ctx context.Context, f reporting.Filter) ([]MedicationUtilization, error) {
	rows, err := s.repo.MedicationUsage(ctx, f, MedicationUtilizationLimit)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, r := range rows {
		total += r.Prescriptions
	}
	out := make([]MedicationUtilization, 0, len(rows))
	for _, r := range rows {
		out = append(out, MedicationUtilization{
			MID:              r.MID,
			Name:             r.Name,
			TherapeuticClass: r.TherapeuticClass,
			Prescriptions:    r.Prescriptions,
			Share:            reporting.ShareCount(r.Prescriptions, total),
		})
	}
	return out, nil
}

// RecordExpense attaches a new expense to an activity. Every check and the
// insert share one transaction.
func (s *Service) RecordExpense(ctx context.Context, req CreateExpenseRequest) (*Expense, error) {
	if req.CAID <= 0 {
		return nil, fmt.Errorf("%w: caid must be positive", ErrInvalidExpense)
	}
	if req.InsID != nil && *req.InsID <= 0 {
		return nil, fmt.Errorf("%w: insId must be positive", ErrInvalidExpense)
	}
	if req.Total == nil {
		return nil, fmt.Errorf("%w: total is required", ErrInvalidExpense)
	}
	if req.Total.IsNegative() {
		return nil, fmt.Errorf("%w: total must not be negative", ErrInvalidExpense)
	}

	exp := &Expense{CAID: req.CAID, InsID: req.InsID, Total: *req.Total}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := s.expenses.ActivityExists(ctx, req.CAID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrActivityNotFound
		}
		exists, err := s.expenses.ExpenseExistsForActivity(ctx, req.CAID)
		if err != nil {
			return err
		}
		if exists {
			return ErrExpenseExists
		}
		if req.InsID != nil {
			ok, err := s.expenses.InsurerExists(ctx, *req.InsID)
			if err != nil {
				return err
			}
			if !ok {
				return ErrInsurerNotFound
			}
		}
		return s.expenses.Create(ctx, exp)
	})
	if err != nil {
		s.metrics.ObserveWrite("expense", writeOutcome(err))
		return nil, err
	}

	s.metrics.ObserveWrite("expense", "created")
	s.logger.Info().Int64("exp_id", exp.ExpID).Int64("caid", exp.CAID).Msg("expense recorded")
	return exp, nil
}

func writeOutcome(err error) string {
	switch {
	case errors.Is(err, ErrExpenseExists):
		return "conflict"
	case errors.Is(err, ErrActivityNotFound), errors.Is(err, ErrInsurerNotFound):
		return "not_found"
	default:
		return "error"
	}
}
