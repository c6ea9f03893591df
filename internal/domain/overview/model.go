package overview

import "time"

// Appointment statuses and staff / outcome labels as stored.
const (
	StatusScheduled = "Scheduled"
	StaffActive     = "Active"
	OutcomeAdmitted = "Admitted"
)

// -- Repository rows --

type AppointmentRow struct {
	CAID        int64
	PatientName string
	Status      string
	Hospital    string
	Department  string
	Date        time.Time
	Time        string
}

type StaffRow struct {
	StaffID   int64
	FullName  string
	Status    string
	Hospitals []string
	Workload  int64
}

// StockRow is one stock snapshot with its medication attributes.
type StockRow struct {
	StockID      int64
	HID          int64
	MID          int64
	Qty          int64
	ReorderLevel int64
	Timestamp    time.Time
}

type MedicationRow struct {
	MID      int64
	Name     string
	Category string
	Unit     string
}

type SummaryCounts struct {
	TotalAppointments    int64
	UpcomingAppointments int64
	ActiveStaff          int64
	AdmittedPatients     int64
}

// -- Payload --

type Appointment struct {
	ID          int64  `json:"id"`
	PatientName string `json:"patientName"`
	Status      string `json:"status"`
	Hospital    string `json:"hospital"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Department  string `json:"department"`
}

type Staff struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Role      string   `json:"role"`
	Hospitals []string `json:"hospitals"`
	Workload  int64    `json:"workload"`
	Status    string   `json:"status"`
}

type LowStockMedication struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	StockLevel   int64  `json:"stockLevel"`
	ReorderPoint int64  `json:"reorderPoint"`
	Unit         string `json:"unit"`
}

type Summary struct {
	TotalAppointments    int64 `json:"totalAppointments"`
	UpcomingAppointments int64 `json:"upcomingAppointments"`
	ActiveStaff          int64 `json:"activeStaff"`
	AdmittedPatients     int64 `json:"admittedPatients"`
}

type Overview struct {
	Appointments        []Appointment        `json:"appointments"`
	Staff               []Staff              `json:"staff"`
	StaffLeaderboard    []Staff              `json:"staffLeaderboard"`
	LowStockMedications []LowStockMedication `json:"lowStockMedications"`
	Summary             Summary              `json:"summary"`
	Range               *string              `json:"range,omitempty"`
}
