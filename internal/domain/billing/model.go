package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mnhs/mnhs/internal/platform/reporting"
)

const (
	// RecentExpenseLimit caps the recent activity feed.
	RecentExpenseLimit = 25
	// MedicationUtilizationLimit caps the utilization ranking.
	MedicationUtilizationLimit = 10

	SelfPayLabel = "Self-Pay"
)

// -- Repository rows --

// WindowTotals are the raw KPI sums for one date window.
type WindowTotals struct {
	Total     decimal.Decimal
	Insured   decimal.Decimal
	Expenses  int64
	Hospitals int64
}

// KPITotals pairs the requested window with the window of equal length
// right before it.
type KPITotals struct {
	Current  WindowTotals
	Previous WindowTotals
}

type InsuranceSplitRow struct {
	InsID      *int64
	Type       string
	Amount     decimal.Decimal
	Activities int64
}

type HospitalRollupRow struct {
	HID        int64
	Name       string
	Region     string
	Total      decimal.Decimal
	Insured    decimal.Decimal
	Activities int64
}

type DepartmentSummaryRow struct {
	DepID      int64
	Department string
	Specialty  string
	Hospital   string
	Total      decimal.Decimal
	Activities int64
}

type RecentExpenseRow struct {
	ExpID          int64
	CAID           int64
	ActivityDate   time.Time
	HID            int64
	HospitalName   string
	DepID          int64
	DepartmentName string
	IID            int64
	PatientName    string
	StaffID        int64
	StaffName      string
	InsID          *int64
	InsuranceType  *string
	Total          decimal.Decimal
	PID            *int64
}

type PrescriptionItemRow struct {
	PID      int64
	MID      int64
	Name     string
	Dosage   string
	Duration string
}

type MedicationUsageRow struct {
	MID              int64
	Name             string
	TherapeuticClass string
	Prescriptions    int64
}

// -- Dashboard payload --

type KPIKey string

const (
	KPITotalBillings   KPIKey = "totalMonthlyBillings"
	KPIInsuredCoverage KPIKey = "insuredCoverage"
	KPIAverageExpense  KPIKey = "averageExpensePerActivity"
	KPIActiveHospitals KPIKey = "activeHospitals"
)

type KPIUnit string

const (
	UnitMAD   KPIUnit = "MAD"
	UnitRatio KPIUnit = "ratio"
	UnitCount KPIUnit = "count"
)

type KPI struct {
	Key     KPIKey           `json:"key"`
	Title   string           `json:"title"`
	Value   float64          `json:"value"`
	Unit    KPIUnit          `json:"unit"`
	IconKey string           `json:"iconKey"`
	Trend   *reporting.Trend `json:"trend,omitempty"`
}

// InsuranceSplit.Share is on a 0..1 scale.
type InsuranceSplit struct {
	InsID      *int64  `json:"insId"`
	Type       string  `json:"type"`
	Amount     float64 `json:"amount"`
	Activities int64   `json:"activities"`
	Share      float64 `json:"share"`
}

// HospitalRollup.InsuredShare is on a 0..1 scale.
type HospitalRollup struct {
	HID          int64   `json:"hid"`
	Name         string  `json:"name"`
	Region       string  `json:"region"`
	Total        float64 `json:"total"`
	Activities   int64   `json:"activities"`
	InsuredShare float64 `json:"insuredShare"`
	AvgExpense   float64 `json:"avgExpense"`
}

type DepartmentSummary struct {
	DepID      int64   `json:"depId"`
	Hospital   string  `json:"hospital"`
	Department string  `json:"department"`
	Specialty  string  `json:"specialty"`
	Total      float64 `json:"total"`
	Activities int64   `json:"activities"`
	AvgExpense float64 `json:"avgExpense"`
}

type HospitalRef struct {
	HID  int64  `json:"hid"`
	Name string `json:"name"`
}

type DepartmentRef struct {
	DepID int64  `json:"depId"`
	Name  string `json:"name"`
}

type PatientRef struct {
	IID      int64  `json:"iid"`
	FullName string `json:"fullName"`
}

type StaffRef struct {
	StaffID  int64  `json:"staffId"`
	FullName string `json:"fullName"`
}

type InsuranceRef struct {
	InsID *int64 `json:"insId"`
	Type  string `json:"type"`
}

type PrescriptionMedication struct {
	MID      int64  `json:"mid"`
	Name     string `json:"name"`
	Dosage   string `json:"dosage"`
	Duration string `json:"duration"`
}

type Prescription struct {
	PID         int64                    `json:"pid"`
	Medications []PrescriptionMedication `json:"medications"`
}

type RecentExpense struct {
	ExpID        int64         `json:"expId"`
	CAID         int64         `json:"caid"`
	ActivityDate string        `json:"activityDate"`
	Hospital     HospitalRef   `json:"hospital"`
	Department   DepartmentRef `json:"department"`
	Patient      PatientRef    `json:"patient"`
	Staff        StaffRef      `json:"staff"`
	Insurance    InsuranceRef  `json:"insurance"`
	Total        float64       `json:"total"`
	Prescription *Prescription `json:"prescription,omitempty"`
}

// MedicationUtilization.Share is on a 0..1 scale, relative to the returned
// top entries.
type MedicationUtilization struct {
	MID              int64   `json:"mid"`
	Name             string  `json:"name"`
	TherapeuticClass string  `json:"therapeuticClass"`
	Prescriptions    int64   `json:"prescriptions"`
	Share            float64 `json:"share"`
}

type Metadata struct {
	Filters      reporting.FilterEcho `json:"filters"`
	LastSyncedAt time.Time            `json:"lastSyncedAt"`
}

type Dashboard struct {
	KPIs                  []KPI                   `json:"kpis"`
	InsuranceSplit        []InsuranceSplit        `json:"insuranceSplit"`
	HospitalRollup        []HospitalRollup        `json:"hospitalRollup"`
	DepartmentSummary     []DepartmentSummary     `json:"departmentSummary"`
	RecentExpenses        []RecentExpense         `json:"recentExpenses"`
	MedicationUtilization []MedicationUtilization `json:"medicationUtilization"`
	Metadata              Metadata                `json:"metadata"`
}

// -- Expense write path --

type Expense struct {
	ExpID int64           `json:"expId"`
	CAID  int64           `json:"caid"`
	InsID *int64          `json:"insId"`
	Total decimal.Decimal `json:"total"`
}

// CreateExpenseRequest.Total is a pointer so a missing amount is told apart
// from an explicit zero.
type CreateExpenseRequest struct {
	CAID  int64            `json:"caid"`
	InsID *int64           `json:"insId"`
	Total *decimal.Decimal `json:"total"`
}
