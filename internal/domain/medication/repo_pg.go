package medication

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mnhs/mnhs/internal/platform/db"
)

const uniqueViolation = "23505"

const stockFrom = `
	FROM stock s
	JOIN hospital h ON h.hid = s.hid
	JOIN medication m ON m.mid = s.mid`

func stockScope(q StockQuery) *db.Conditions {
	c := &db.Conditions{}
	if v := strings.TrimSpace(q.Hospital); v != "" {
		c.Add("LOWER(h.name) = LOWER(?)", v)
	}
	if v := strings.TrimSpace(q.Class); v != "" {
		c.Add("LOWER(m.therapeutic_class) = LOWER(?)", v)
	}
	return c
}

// =========== Stock Repository ===========

type stockRepoPG struct{ pool *pgxpool.Pool }

func NewStockRepoPG(pool *pgxpool.Pool) StockRepository {
	return &stockRepoPG{pool: pool}
}

func (r *stockRepoPG) History(ctx context.Context, q StockQuery) ([]Snapshot, error) {
	c := stockScope(q)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT s.stock_id, s.hid, s.mid, h.name, m.name, m.therapeutic_class,
			COALESCE(m.form, ''), s.unit_price, s.qty, s.reorder_level, s.stock_timestamp`+
		stockFrom+`
		WHERE `+c.SQL()+`
		ORDER BY h.name, m.name, s.stock_timestamp, s.stock_id`, c.Args()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.StockID, &s.HID, &s.MID, &s.HospitalName, &s.MedicationName,
			&s.TherapeuticClass, &s.Form, &s.UnitPrice, &s.Qty, &s.ReorderLevel, &s.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *stockRepoPG) PricingSummary(ctx context.Context, q StockQuery) ([]PricingRow, error) {
	c := stockScope(q)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT h.name, m.name, AVG(s.unit_price), MIN(s.unit_price), MAX(s.unit_price),
			MAX(s.stock_timestamp) AS updated_at`+
		stockFrom+`
		WHERE `+c.SQL()+`
		GROUP BY h.hid, h.name, m.mid, m.name
		ORDER BY updated_at DESC, h.name, m.name`, c.Args()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PricingRow
	for rows.Next() {
		var p PricingRow
		if err := rows.Scan(&p.Hospital, &p.Medication, &p.Avg, &p.Min, &p.Max, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *stockRepoPG) Replenishment(ctx context.Context, q StockQuery, since time.Time) ([]ReplenishmentRow, error) {
	c := stockScope(q)
	c.Add("s.stock_timestamp >= ?", since)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT date_trunc('month', s.stock_timestamp) AS month,
			COALESCE(SUM(s.qty), 0), COALESCE(SUM(s.qty * s.unit_price), 0)`+
		stockFrom+`
		WHERE `+c.SQL()+`
		GROUP BY month
		ORDER BY month`, c.Args()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReplenishmentRow
	for rows.Next() {
		var p ReplenishmentRow
		if err := rows.Scan(&p.Month, &p.Qty, &p.Cost); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =========== Catalog Repository ===========

type catalogRepoPG struct{ pool *pgxpool.Pool }

func NewCatalogRepoPG(pool *pgxpool.Pool) CatalogRepository {
	return &catalogRepoPG{pool: pool}
}

func (r *catalogRepoPG) LockMedication(ctx context.Context, mid int64) (*Medication, error) {
	var m Medication
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT mid, name, COALESCE(form, ''), therapeutic_class
		FROM medication WHERE mid = $1 FOR UPDATE`, mid).
		Scan(&m.MID, &m.Name, &m.Form, &m.TherapeuticClass)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *catalogRepoPG) HospitalIDByName(ctx context.Context, name string) (int64, bool, error) {
	var hid int64
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT hid FROM hospital WHERE LOWER(name) = LOWER($1) ORDER BY hid LIMIT 1`,
		strings.TrimSpace(name)).Scan(&hid)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return hid, true, nil
}

// LatestSnapshot applies the same order as latestStock: newest timestamp,
// then highest stock_id.
func (r *catalogRepoPG) LatestSnapshot(ctx context.Context, hid, mid int64) (*Snapshot, error) {
	s := Snapshot{HID: hid, MID: mid}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT stock_id, unit_price, qty, reorder_level, stock_timestamp
		FROM stock WHERE hid = $1 AND mid = $2
		ORDER BY stock_timestamp DESC, stock_id DESC
		LIMIT 1`, hid, mid).
		Scan(&s.StockID, &s.UnitPrice, &s.Qty, &s.ReorderLevel, &s.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *catalogRepoPG) CreateMedication(ctx context.Context, m *Medication) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO medication (mid, name, form, strength, active_ingredient, therapeutic_class, manufacturer)
		VALUES ($1, $2, $3, '', '', $4, '')`,
		m.MID, m.Name, m.Form, m.TherapeuticClass)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrMedicationExists
	}
	return err
}

// InsertSnapshot stamps the row with the wall clock at insert time, not the
// transaction start, so a receipt that waited on the medication lock still
// sorts after the snapshot it was built from.
func (r *catalogRepoPG) InsertSnapshot(ctx context.Context, s *Snapshot) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO stock (hid, mid, stock_timestamp, unit_price, qty, reorder_level)
		VALUES ($1, $2, clock_timestamp(), $3, $4, $5)
		RETURNING stock_id, stock_timestamp`,
		s.HID, s.MID, s.UnitPrice, s.Qty, s.ReorderLevel).
		Scan(&s.StockID, &s.Timestamp)
}
