package integration

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mnhs/mnhs/internal/domain/overview"
)

func TestOverview_EndToEnd(t *testing.T) {
	pool := newSchemaPool(t)

	hid := createHospital(t, pool, "CHU Marrakech", "Marrakech-Safi")
	other := createHospital(t, pool, "CHU Oujda", "Oriental")
	dep := createDepartment(t, pool, hid, "Emergency")
	dep2 := createDepartment(t, pool, other, "Pediatrics")
	busy := createStaff(t, pool, "Nurse Benali", "Active", dep, dep2)
	idle := createStaff(t, pool, "Doctor Tazi", "Retired", dep)
	iid := createPatient(t, pool, "Salma Alaoui")

	day := today()
	upcoming := createActivity(t, pool, iid, busy, dep, day.AddDate(0, 0, 3))
	past := createActivity(t, pool, iid, busy, dep2, day.AddDate(0, 0, -10))
	emerg := createActivity(t, pool, iid, idle, dep, day.AddDate(0, 0, -1))
	mustExec(t, pool, `INSERT INTO appointment (caid, status) VALUES ($1, 'Scheduled'), ($2, 'Completed')`, upcoming, past)
	mustExec(t, pool, `INSERT INTO emergency (caid, outcome) VALUES ($1, 'Admitted')`, emerg)

	createMedication(t, pool, 5, "Salbutamol", "Respiratory")
	createMedication(t, pool, 6, "Heparin", "Anticoagulant")
	createStock(t, pool, hid, 5, day.AddDate(0, 0, -5), "3.00", 50, 10)
	createStock(t, pool, hid, 5, day.AddDate(0, 0, -1), "3.00", 4, 10)
	createStock(t, pool, other, 5, day.AddDate(0, 0, -1), "3.00", 3, 10)

	svc := overview.NewService(overview.NewRepoPG(pool), nil, zerolog.Nop())
	o, err := svc.Overview(context.Background(), "")
	if err != nil {
		t.Fatalf("overview: %v", err)
	}

	if len(o.Appointments) != 2 {
		t.Errorf("expected 2 appointments, got %d", len(o.Appointments))
	}
	if o.Summary.TotalAppointments != 2 || o.Summary.UpcomingAppointments != 1 {
		t.Errorf("unexpected appointment counts %+v", o.Summary)
	}
	if o.Summary.ActiveStaff != 1 || o.Summary.AdmittedPatients != 1 {
		t.Errorf("unexpected staff/admission counts %+v", o.Summary)
	}

	if len(o.StaffLeaderboard) != 2 || o.StaffLeaderboard[0].ID != busy {
		t.Fatalf("expected %d to lead the leaderboard, got %+v", busy, o.StaffLeaderboard)
	}
	if o.StaffLeaderboard[0].Workload != 2 || len(o.StaffLeaderboard[0].Hospitals) != 2 {
		t.Errorf("unexpected leader %+v", o.StaffLeaderboard[0])
	}
	if o.StaffLeaderboard[0].Role != "Nurse" {
		t.Errorf("expected role Nurse, got %q", o.StaffLeaderboard[0].Role)
	}

	// Salbutamol: latest 4 + 3 across hospitals, below 10 + 10. Heparin has no stock.
	stock := map[int64]overview.LowStockMedication{}
	for _, m := range o.LowStockMedications {
		stock[m.ID] = m
	}
	if s, ok := stock[5]; !ok || s.StockLevel != 7 || s.ReorderPoint != 20 {
		t.Errorf("unexpected salbutamol entry %+v (present=%v)", s, ok)
	}
	if h, ok := stock[6]; !ok || h.StockLevel != 0 {
		t.Errorf("expected heparin listed with no stock, got %+v (present=%v)", h, ok)
	}
	if o.Range != nil {
		t.Errorf("expected no range echo, got %q", *o.Range)
	}
}

func TestOverview_RangeFiltersAppointments(t *testing.T) {
	pool := newSchemaPool(t)
	hid := createHospital(t, pool, "CHU Tangier", "Tanger-Tetouan")
	dep := createDepartment(t, pool, hid, "Radiology")
	staff := createStaff(t, pool, "Dr Chraibi", "Active", dep)
	iid := createPatient(t, pool, "Youssef Bennani")

	in := createActivity(t, pool, iid, staff, dep, today().AddDate(0, 0, -3))
	out := createActivity(t, pool, iid, staff, dep, today().AddDate(0, 0, -40))
	mustExec(t, pool, `INSERT INTO appointment (caid, status) VALUES ($1, 'Completed'), ($2, 'Completed')`, in, out)

	rng := today().AddDate(0, 0, -7).Format("2006-01-02") + "/" + today().Format("2006-01-02")
	svc := overview.NewService(overview.NewRepoPG(pool), nil, zerolog.Nop())
	o, err := svc.Overview(context.Background(), rng)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if len(o.Appointments) != 1 || o.Appointments[0].ID != in {
		t.Errorf("expected only caid %d, got %+v", in, o.Appointments)
	}
	if o.Summary.TotalAppointments != 2 {
		t.Errorf("expected summary count to ignore the range, got %d", o.Summary.TotalAppointments)
	}
	if o.Range == nil || *o.Range != rng {
		t.Errorf("expected range echo %q, got %v", rng, o.Range)
	}
}
