package billing

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mnhs/mnhs/internal/platform/reporting"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/billing", h.GetDashboard)
	api.POST("/billing/expense", h.CreateExpense)
}

// ErrorBody is the JSON error payload of the billing endpoints.
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func apiError(status int, code, message string) *echo.HTTPError {
	return echo.NewHTTPError(status, ErrorBody{Message: message, Code: code})
}

// bindError keeps the body limit's 413 and reports anything else as a bad
// payload.
func bindError(err error, message string) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
		return he
	}
	return apiError(http.StatusBadRequest, "BILLING_InvalidPayload", message)
}

func (h *Handler) GetDashboard(c echo.Context) error {
	req, err := filterRequestFromQuery(c)
	if err != nil {
		return apiError(http.StatusBadRequest, "BILLING_InvalidFilter", err.Error())
	}

	d, err := h.svc.Dashboard(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidFilter) {
			return apiError(http.StatusBadRequest, "BILLING_InvalidFilter", err.Error())
		}
		return apiError(http.StatusInternalServerError, "BILLING_AggregationFailed", "failed to compute billing dashboard")
	}
	return c.JSON(http.StatusOK, d)
}

func filterRequestFromQuery(c echo.Context) (reporting.FilterRequest, error) {
	req := reporting.FilterRequest{
		Insurance: c.QueryParam("insurance_id"),
		DaysBack:  reporting.DefaultDaysBack,
	}
	var err error
	if req.HospitalID, err = optionalID(c, "hospital_id"); err != nil {
		return req, err
	}
	if req.DepartmentID, err = optionalID(c, "department_id"); err != nil {
		return req, err
	}
	if raw := c.QueryParam("days_back"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return req, &reporting.FilterError{Param: "days_back", Value: raw, Reason: "must be an integer"}
		}
		req.DaysBack = n
	}
	return req, nil
}

func optionalID(c echo.Context, param string) (*int64, error) {
	raw := c.QueryParam(param)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, &reporting.FilterError{Param: param, Value: raw, Reason: "must be an integer"}
	}
	return &id, nil
}

// CreateExpenseResponse wraps the stored expense.
type CreateExpenseResponse struct {
	Expense *Expense `json:"expense"`
	Message string   `json:"message"`
}

func (h *Handler) CreateExpense(c echo.Context) error {
	var req CreateExpenseRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err, "invalid expense payload")
	}

	exp, err := h.svc.RecordExpense(c.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidExpense):
			return apiError(http.StatusBadRequest, "BILLING_InvalidPayload", err.Error())
		case errors.Is(err, ErrActivityNotFound):
			return apiError(http.StatusNotFound, "BILLING_CaidMissing", "Clinical activity not found")
		case errors.Is(err, ErrExpenseExists):
			return apiError(http.StatusConflict, "BILLING_ExpenseExists", "Expense already captured for this activity")
		case errors.Is(err, ErrInsurerNotFound):
			return apiError(http.StatusNotFound, "BILLING_InsuranceMissing", "Insurance record not found")
		default:
			return apiError(http.StatusInternalServerError, "BILLING_WriteFailed", "failed to record expense")
		}
	}
	return c.JSON(http.StatusCreated, CreateExpenseResponse{Expense: exp, Message: "Expense captured"})
}
