// Package reporting holds the building blocks shared by every dashboard
// aggregation: filter resolution, zero-safe ratio math, latest-snapshot
// reduction over time series rows, and batched child fetches.
package reporting

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	MinDaysBack     = 1
	MaxDaysBack     = 365
	DefaultDaysBack = 90
)

// ErrInvalidFilter is the sentinel wrapped by every FilterError.
var ErrInvalidFilter = errors.New("invalid filter")

// FilterError reports a client-correctable query parameter.
type FilterError struct {
	Param  string
	Value  string
	Reason string
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Param, e.Value, e.Reason)
}

func (e *FilterError) Unwrap() error { return ErrInvalidFilter }

// InsuranceScope is the echo label of an InsuranceDirective.
type InsuranceScope string

const (
	ScopeAll     InsuranceScope = "all"
	ScopeSelf    InsuranceScope = "self"
	ScopeInsurer InsuranceScope = "insurer"
)

// InsuranceDirective is the resolved form of the insurer query token. The
// zero value applies no insurer filter.
type InsuranceDirective struct {
	scope     InsuranceScope
	insurerID int64
}

func NoInsuranceFilter() InsuranceDirective { return InsuranceDirective{scope: ScopeAll} }

func SelfPayOnly() InsuranceDirective { return InsuranceDirective{scope: ScopeSelf} }

func SpecificInsurer(id int64) InsuranceDirective {
	return InsuranceDirective{scope: ScopeInsurer, insurerID: id}
}

func (d InsuranceDirective) Scope() InsuranceScope {
	if d.scope == "" {
		return ScopeAll
	}
	return d.scope
}

// InsurerID returns the insurer id for a SpecificInsurer directive.
func (d InsuranceDirective) InsurerID() (int64, bool) {
	if d.scope != ScopeInsurer {
		return 0, false
	}
	return d.insurerID, true
}

func (d InsuranceDirective) String() string {
	if id, ok := d.InsurerID(); ok {
		return fmt.Sprintf("insurer(%d)", id)
	}
	return string(d.Scope())
}

// ParseInsuranceDirective interprets the raw insurer token. Empty, "none" and
// "all" disable the filter, "self", "self-pay" and "self_pay" select expenses
// without an insurer, and a positive integer selects that insurer.
func ParseInsuranceDirective(raw string) (InsuranceDirective, error) {
	token := strings.ToLower(strings.TrimSpace(raw))
	switch token {
	case "", "none", "all":
		return NoInsuranceFilter(), nil
	case "self", "self-pay", "self_pay":
		return SelfPayOnly(), nil
	}

	id, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return InsuranceDirective{}, &FilterError{
			Param:  "insurance_id",
			Value:  raw,
			Reason: "must be a positive integer, 'self', or 'none'",
		}
	}
	if id <= 0 {
		return InsuranceDirective{}, &FilterError{
			Param:  "insurance_id",
			Value:  raw,
			Reason: "must be positive when numeric",
		}
	}
	return SpecificInsurer(id), nil
}

// WindowStart returns the first calendar day of a rolling window of days
// ending today (UTC).
func WindowStart(days int, now time.Time) (time.Time, error) {
	if days < MinDaysBack || days > MaxDaysBack {
		return time.Time{}, &FilterError{
			Param:  "days_back",
			Value:  strconv.Itoa(days),
			Reason: fmt.Sprintf("must be between %d and %d", MinDaysBack, MaxDaysBack),
		}
	}
	today := truncateDay(now)
	return today.AddDate(0, 0, -(days - 1)), nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FilterRequest is the raw filter as received from a caller.
type FilterRequest struct {
	HospitalID   *int64
	DepartmentID *int64
	Insurance    string
	DaysBack     int
}

// Filter is the resolved context every billing aggregation consumes.
type Filter struct {
	HospitalID   *int64
	DepartmentID *int64
	Insurance    InsuranceDirective
	DaysBack     int
	Start        time.Time
}

// ResolveFilter validates req and resolves it against now.
func ResolveFilter(req FilterRequest, now time.Time) (Filter, error) {
	if err := positiveRef("hospital_id", req.HospitalID); err != nil {
		return Filter{}, err
	}
	if err := positiveRef("department_id", req.DepartmentID); err != nil {
		return Filter{}, err
	}
	directive, err := ParseInsuranceDirective(req.Insurance)
	if err != nil {
		return Filter{}, err
	}
	start, err := WindowStart(req.DaysBack, now)
	if err != nil {
		return Filter{}, err
	}
	return Filter{
		HospitalID:   req.HospitalID,
		DepartmentID: req.DepartmentID,
		Insurance:    directive,
		DaysBack:     req.DaysBack,
		Start:        start,
	}, nil
}

func positiveRef(param string, v *int64) error {
	if v != nil && *v <= 0 {
		return &FilterError{Param: param, Value: strconv.FormatInt(*v, 10), Reason: "must be positive"}
	}
	return nil
}

// PreviousStart is the first day of the window of equal length immediately
// before f.
func (f Filter) PreviousStart() time.Time {
	return f.Start.AddDate(0, 0, -f.DaysBack)
}

// FilterEcho is the response-safe rendering of a resolved Filter.
type FilterEcho struct {
	HospitalID     *int64         `json:"hospitalId"`
	DepartmentID   *int64         `json:"departmentId"`
	InsuranceID    *int64         `json:"insuranceId"`
	InsuranceScope InsuranceScope `json:"insuranceScope"`
	DaysBack       int            `json:"daysBack"`
}

func (f Filter) Echo() FilterEcho {
	e := FilterEcho{
		HospitalID:     f.HospitalID,
		DepartmentID:   f.DepartmentID,
		InsuranceScope: f.Insurance.Scope(),
		DaysBack:       f.DaysBack,
	}
	if id, ok := f.Insurance.InsurerID(); ok {
		e.InsuranceID = &id
	}
	return e
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDateRange parses "YYYY-MM-DD/YYYY-MM-DD". An empty string yields nil.
func ParseDateRange(raw string) (*DateRange, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	startRaw, endRaw, ok := strings.Cut(raw, "/")
	if !ok {
		return nil, &FilterError{Param: "range", Value: raw, Reason: "must contain two ISO dates separated by '/'"}
	}
	start, err := time.Parse(time.DateOnly, strings.TrimSpace(startRaw))
	if err != nil {
		return nil, &FilterError{Param: "range", Value: raw, Reason: "dates must follow YYYY-MM-DD"}
	}
	end, err := time.Parse(time.DateOnly, strings.TrimSpace(endRaw))
	if err != nil {
		return nil, &FilterError{Param: "range", Value: raw, Reason: "dates must follow YYYY-MM-DD"}
	}
	if start.After(end) {
		return nil, &FilterError{Param: "range", Value: raw, Reason: "start must be on or before end"}
	}
	return &DateRange{Start: start, End: end}, nil
}

func (r DateRange) String() string {
	return r.Start.Format(time.DateOnly) + "/" + r.End.Format(time.DateOnly)
}
