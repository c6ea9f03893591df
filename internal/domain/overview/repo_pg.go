package overview

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mnhs/mnhs/internal/platform/db"
	"github.com/mnhs/mnhs/internal/platform/reporting"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) Appointments(ctx context.Context, dr *reporting.DateRange) ([]AppointmentRow, error) {
	c := &db.Conditions{}
	if dr != nil {
		c.Add("ca.activity_date BETWEEN ? AND ?", dr.Start, dr.End)
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT ca.caid, p.full_name, TRIM(a.status), h.name, d.name, ca.activity_date,
			COALESCE(to_char(ca.activity_time, 'HH24:MI:SS'), '00:00:00')
		FROM appointment a
		JOIN clinical_activity ca ON ca.caid = a.caid
		JOIN patient p ON p.iid = ca.iid
		JOIN department d ON d.dep_id = ca.dep_id
		JOIN hospital h ON h.hid = d.hid
		WHERE `+c.SQL()+`
		ORDER BY ca.activity_date DESC, ca.activity_time DESC NULLS LAST, ca.caid DESC`, c.Args()...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (AppointmentRow, error) {
		var a AppointmentRow
		err := row.Scan(&a.CAID, &a.PatientName, &a.Status, &a.Hospital, &a.Department, &a.Date, &a.Time)
		return a, err
	})
}

func (r *repoPG) Staff(ctx context.Context) ([]StaffRow, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		WITH staff_hospitals AS (
			SELECT w.staff_id, array_agg(DISTINCT h.name ORDER BY h.name) AS hospitals
			FROM work_in w
			JOIN department d ON d.dep_id = w.dep_id
			JOIN hospital h ON h.hid = d.hid
			GROUP BY w.staff_id
		), staff_workload AS (
			SELECT ca.staff_id, COUNT(a.caid) AS workload
			FROM clinical_activity ca
			JOIN appointment a ON a.caid = ca.caid
			GROUP BY ca.staff_id
		)
		SELECT s.staff_id, s.full_name, TRIM(COALESCE(s.status, '')),
			COALESCE(sh.hospitals, '{}'), COALESCE(sw.workload, 0)
		FROM staff s
		LEFT JOIN staff_hospitals sh ON sh.staff_id = s.staff_id
		LEFT JOIN staff_workload sw ON sw.staff_id = s.staff_id
		ORDER BY s.staff_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (StaffRow, error) {
		var s StaffRow
		err := row.Scan(&s.StaffID, &s.FullName, &s.Status, &s.Hospitals, &s.Workload)
		return s, err
	})
}

func (r *repoPG) StockHistory(ctx context.Context) ([]StockRow, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT stock_id, hid, mid, qty, reorder_level, stock_timestamp
		FROM stock
		ORDER BY mid, hid, stock_timestamp, stock_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (StockRow, error) {
		var s StockRow
		err := row.Scan(&s.StockID, &s.HID, &s.MID, &s.Qty, &s.ReorderLevel, &s.Timestamp)
		return s, err
	})
}

func (r *repoPG) Medications(ctx context.Context) ([]MedicationRow, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT mid, name, COALESCE(therapeutic_class, ''), COALESCE(form, '')
		FROM medication
		ORDER BY mid`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (MedicationRow, error) {
		var m MedicationRow
		err := row.Scan(&m.MID, &m.Name, &m.Category, &m.Unit)
		return m, err
	})
}

func (r *repoPG) Summary(ctx context.Context, today time.Time) (SummaryCounts, error) {
	var s SummaryCounts
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM appointment),
			(SELECT COUNT(*) FROM appointment a
				JOIN clinical_activity ca ON ca.caid = a.caid
				WHERE TRIM(a.status) = $1 AND ca.activity_date >= $2),
			(SELECT COUNT(*) FROM staff WHERE TRIM(status) = $3),
			(SELECT COUNT(DISTINCT ca.iid) FROM emergency e
				JOIN clinical_activity ca ON ca.caid = e.caid
				WHERE TRIM(e.outcome) = $4)`,
		StatusScheduled, today, StaffActive, OutcomeAdmitted).
		Scan(&s.TotalAppointments, &s.UpcomingAppointments, &s.ActiveStaff, &s.AdmittedPatients)
	return s, err
}
