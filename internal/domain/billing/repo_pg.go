package billing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mnhs/mnhs/internal/platform/db"
	"github.com/mnhs/mnhs/internal/platform/reporting"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

const uniqueViolation = "23505"

// billedFrom joins every expense to its activity, department and hospital.
const billedFrom = `
	FROM expense e
	JOIN clinical_activity ca ON ca.caid = e.caid
	JOIN department d ON d.dep_id = ca.dep_id
	JOIN hospital h ON h.hid = d.hid`

// scope builds the predicates shared by every billing aggregation, with the
// date window starting at from.
func scope(f reporting.Filter, from time.Time) *db.Conditions {
	c := &db.Conditions{}
	c.Add("ca.activity_date >= ?", from)
	if f.HospitalID != nil {
		c.Add("h.hid = ?", *f.HospitalID)
	}
	if f.DepartmentID != nil {
		c.Add("d.dep_id = ?", *f.DepartmentID)
	}
	switch f.Insurance.Scope() {
	case reporting.ScopeSelf:
		c.Add("e.ins_id IS NULL")
	case reporting.ScopeInsurer:
		id, _ := f.Insurance.InsurerID()
		c.Add("e.ins_id = ?", id)
	}
	return c
}

// =========== Dashboard Repository ===========

type dashboardRepoPG struct{ pool *pgxpool.Pool }

func NewDashboardRepoPG(pool *pgxpool.Pool) DashboardRepository {
	return &dashboardRepoPG{pool: pool}
}

func (r *dashboardRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *dashboardRepoPG) KPITotals(ctx context.Context, f reporting.Filter) (KPITotals, error) {
	c := scope(f, f.PreviousStart())
	cur := c.Arg(f.Start)
	q := `SELECT
		COALESCE(SUM(e.total) FILTER (WHERE ca.activity_date >= ` + cur + `), 0),
		COALESCE(SUM(e.total) FILTER (WHERE ca.activity_date >= ` + cur + ` AND e.ins_id IS NOT NULL), 0),
		COUNT(DISTINCT e.exp_id) FILTER (WHERE ca.activity_date >= ` + cur + `),
		COUNT(DISTINCT h.hid) FILTER (WHERE ca.activity_date >= ` + cur + `),
		COALESCE(SUM(e.total) FILTER (WHERE ca.activity_date < ` + cur + `), 0),
		COALESCE(SUM(e.total) FILTER (WHERE ca.activity_date < ` + cur + ` AND e.ins_id IS NOT NULL), 0),
		COUNT(DISTINCT e.exp_id) FILTER (WHERE ca.activity_date < ` + cur + `),
		COUNT(DISTINCT h.hid) FILTER (WHERE ca.activity_date < ` + cur + `)` +
		billedFrom + `
	WHERE ` + c.SQL()

	var k KPITotals
	err := r.conn(ctx).QueryRow(ctx, q, c.Args()...).Scan(
		&k.Current.Total, &k.Current.Insured, &k.Current.Expenses, &k.Current.Hospitals,
		&k.Previous.Total, &k.Previous.Insured, &k.Previous.Expenses, &k.Previous.Hospitals)
	return k, err
}

func (r *dashboardRepoPG) InsuranceSplit(ctx context.Context, f reporting.Filter) ([]InsuranceSplitRow, error) {
	c := scope(f, f.Start)
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT e.ins_id, COALESCE(i.type, '`+SelfPayLabel+`'), COALESCE(SUM(e.total), 0), COUNT(*)`+
		billedFrom+`
		LEFT JOIN insurance i ON i.ins_id = e.ins_id
		WHERE `+c.SQL()+`
		GROUP BY e.ins_id, i.type
		ORDER BY 3 DESC, e.ins_id NULLS LAST`, c.Args()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InsuranceSplitRow
	for rows.Next() {
		var s InsuranceSplitRow
		if err := rows.Scan(&s.InsID, &s.Type, &s.Amount, &s.Activities); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *dashboardRepoPG) HospitalRollup(ctx context.Context, f reporting.Filter) ([]HospitalRollupRow, error) {
	c := scope(f, f.Start)
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT h.hid, h.name, COALESCE(h.region, ''),
			COALESCE(SUM(e.total), 0),
			COALESCE(SUM(e.total) FILTER (WHERE e.ins_id IS NOT NULL), 0),
			COUNT(*)`+
		billedFrom+`
		WHERE `+c.SQL()+`
		GROUP BY h.hid, h.name, h.region
		ORDER BY 4 DESC, h.hid`, c.Args()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HospitalRollupRow
	for rows.Next() {
		var h HospitalRollupRow
		if err := rows.Scan(&h.HID, &h.Name, &h.Region, &h.Total, &h.Insured, &h.Activities); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *dashboardRepoPG) DepartmentSummary(ctx context.Context, f reporting.Filter) ([]DepartmentSummaryRow, error) {
	c := scope(f, f.Start)
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT d.dep_id, d.name, COALESCE(d.specialty, ''), h.name,
			COALESCE(SUM(e.total), 0), COUNT(*)`+
		billedFrom+`
		WHERE `+c.SQL()+`
		GROUP BY d.dep_id, d.name, d.specialty, h.name
		ORDER BY 5 DESC, d.dep_id`, c.Args()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DepartmentSummaryRow
	for rows.Next() {
		var d DepartmentSummaryRow
		if err := rows.Scan(&d.DepID, &d.Department, &d.Specialty, &d.Hospital, &d.Total, &d.Activities); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *dashboardRepoPG) RecentExpenses(ctx context.Context, f reporting.Filter, limit int) ([]RecentExpenseRow, error) {
	c := scope(f, f.Start)
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT e.exp_id, e.total, ca.caid, ca.activity_date,
			h.hid, h.name, d.dep_id, d.name,
			p.iid, p.full_name, s.staff_id, s.full_name,
			i.ins_id, i.type, pr.pid`+
		billedFrom+`
		JOIN patient p ON p.iid = ca.iid
		JOIN staff s ON s.staff_id = ca.staff_id
		LEFT JOIN insurance i ON i.ins_id = e.ins_id
		LEFT JOIN prescription pr ON pr.caid = ca.caid
		WHERE `+c.SQL()+`
		ORDER BY ca.activity_date DESC, COALESCE(ca.activity_time, TIME '00:00') DESC, e.exp_id DESC
		LIMIT `+c.Arg(limit), c.Args()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RecentExpenseRow
	for rows.Next() {
		var x RecentExpenseRow
		if err := rows.Scan(&x.ExpID, &x.Total, &x.CAID, &x.ActivityDate,
			&x.HID, &x.HospitalName, &x.DepID, &x.DepartmentName,
			&x.IID, &x.PatientName, &x.StaffID, &x.StaffName,
			&x.InsID, &x.InsuranceType, &x.PID); err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, rows.Err()
}

func (r *dashboardRepoPG) PrescriptionItems(ctx context.Context, pids []int64) ([]PrescriptionItemRow, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT inc.pid, inc.mid, m.name, COALESCE(inc.dosage, ''), COALESCE(inc.duration, '')
		FROM includes inc
		JOIN medication m ON m.mid = inc.mid
		WHERE inc.pid = ANY($1)
		ORDER BY inc.pid, inc.mid`, pids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PrescriptionItemRow
	for rows.Next() {
		var it PrescriptionItemRow
		if err := rows.Scan(&it.PID, &it.MID, &it.Name, &it.Dosage, &it.Duration); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *dashboardRepoPG) MedicationUsage(ctx context.Context, f reporting.Filter, limit int) ([]MedicationUsageRow, error) {
	c := scope(f, f.Start)
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT m.mid, m.name, COALESCE(m.therapeutic_class, ''), COUNT(*)`+
		billedFrom+`
		JOIN prescription pr ON pr.caid = ca.caid
		JOIN includes inc ON inc.pid = pr.pid
		JOIN medication m ON m.mid = inc.mid
		WHERE `+c.SQL()+`
		GROUP BY m.mid, m.name, m.therapeutic_class
		ORDER BY 4 DESC, m.mid
		LIMIT `+c.Arg(limit), c.Args()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MedicationUsageRow
	for rows.Next() {
		var m MedicationUsageRow
		if err := rows.Scan(&m.MID, &m.Name, &m.TherapeuticClass, &m.Prescriptions); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// =========== Expense Repository ===========

type expenseRepoPG struct{ pool *pgxpool.Pool }

func NewExpenseRepoPG(pool *pgxpool.Pool) ExpenseRepository { return &expenseRepoPG{pool: pool} }

func (r *expenseRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *expenseRepoPG) exists(ctx context.Context, q string, id int64) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx, q, id).Scan(&ok)
	return ok, err
}

func (r *expenseRepoPG) ActivityExists(ctx context.Context, caid int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM clinical_activity WHERE caid = $1)`, caid)
}

// ExpenseExistsForActivity locks the activity row so two concurrent writers
// for the same caid serialize on it.
func (r *expenseRepoPG) ExpenseExistsForActivity(ctx context.Context, caid int64) (bool, error) {
	if _, err := r.conn(ctx).Exec(ctx, `SELECT 1 FROM clinical_activity WHERE caid = $1 FOR UPDATE`, caid); err != nil {
		return false, err
	}
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM expense WHERE caid = $1)`, caid)
}

func (r *expenseRepoPG) InsurerExists(ctx context.Context, insID int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM insurance WHERE ins_id = $1)`, insID)
}

func (r *expenseRepoPG) Create(ctx context.Context, e *Expense) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO expense (ins_id, caid, total)
		VALUES ($1, $2, $3)
		RETURNING exp_id`,
		e.InsID, e.CAID, e.Total,
	).Scan(&e.ExpID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrExpenseExists
	}
	return err
}
