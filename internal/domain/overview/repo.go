package overview

import (
	"context"
	"time"

	"github.com/mnhs/mnhs/internal/platform/reporting"
)

// Repository reads the operational overview sources.
type Repository interface {
	// Appointments lists appointments newest first, limited to r when set.
	Appointments(ctx context.Context, r *reporting.DateRange) ([]AppointmentRow, error)
	Staff(ctx context.Context) ([]StaffRow, error)
	StockHistory(ctx context.Context) ([]StockRow, error)
	Medications(ctx context.Context) ([]MedicationRow, error)
	Summary(ctx context.Context, today time.Time) (SummaryCounts, error)
}
