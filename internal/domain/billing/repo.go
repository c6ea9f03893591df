package billing

import (
	"context"

	"github.com/mnhs/mnhs/internal/platform/reporting"
)

// DashboardRepository runs the read-only billing aggregations. Every method
// applies the same resolved filter.
type DashboardRepository interface {
	KPITotals(ctx context.Context, f reporting.Filter) (KPITotals, error)
	InsuranceSplit(ctx context.Context, f reporting.Filter) ([]InsuranceSplitRow, error)
	HospitalRollup(ctx context.Context, f reporting.Filter) ([]HospitalRollupRow, error)
	DepartmentSummary(ctx context.Context, f reporting.Filter) ([]DepartmentSummaryRow, error)
	RecentExpenses(ctx context.Context, f reporting.Filter, limit int) ([]RecentExpenseRow, error)
	// PrescriptionItems loads the line items of all pids in one query.
	PrescriptionItems(ctx context.Context, pids []int64) ([]PrescriptionItemRow, error)
	MedicationUsage(ctx context.Context, f reporting.Filter, limit int) ([]MedicationUsageRow, error)
}

type ExpenseRepository interface {
	ActivityExists(ctx context.Context, caid int64) (bool, error)
	ExpenseExistsForActivity(ctx context.Context, caid int64) (bool, error)
	InsurerExists(ctx context.Context, insID int64) (bool, error)
	Create(ctx context.Context, e *Expense) error
}
