package medication

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/medications", h.GetDashboard)
	api.POST("/medications", h.CreateMedication)
	api.POST("/medications/stock", h.CreateStockEntry)
}

type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func apiError(status int, code, message string) *echo.HTTPError {
	return echo.NewHTTPError(status, ErrorBody{Message: message, Code: code})
}

func (h *Handler) GetDashboard(c echo.Context) error {
	q := StockQuery{
		Hospital: c.QueryParam("hospital"),
		Class:    c.QueryParam("class"),
	}
	if raw := c.QueryParam("onlyLowStock"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return apiError(http.StatusBadRequest, "MEDICATION_InvalidFilter", "onlyLowStock must be a boolean")
		}
		q.OnlyLowStock = v
	}

	d, err := h.svc.Dashboard(c.Request().Context(), q)
	if err != nil {
		return apiError(http.StatusInternalServerError, "MEDICATION_AggregationFailed", "failed to compute medication dashboard")
	}
	return c.JSON(http.StatusOK, d)
}

type CreateResponse struct {
	Medication *Record `json:"medication"`
	Message    string  `json:"message"`
}

func (h *Handler) CreateMedication(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err, "invalid medication payload")
	}
	rec, err := h.svc.Create(c.Request().Context(), req)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusCreated, CreateResponse{Medication: rec, Message: "Medication created"})
}

type StockEntryResponse struct {
	StockEntry *StockEntry `json:"stockEntry"`
	Message    string      `json:"message"`
}

func (h *Handler) CreateStockEntry(c echo.Context) error {
	var req StockEntryRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err, "invalid stock entry payload")
	}
	entry, err := h.svc.RecordStock(c.Request().Context(), req)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusCreated, StockEntryResponse{StockEntry: entry, Message: "Stock entry recorded"})
}

func bindError(err error, message string) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
		return he
	}
	return apiError(http.StatusBadRequest, "MEDICATION_InvalidPayload", message)
}

func writeError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrInvalidMedication):
		return apiError(http.StatusBadRequest, "MEDICATION_InvalidPayload", err.Error())
	case errors.Is(err, ErrMedicationExists):
		return apiError(http.StatusConflict, "MEDICATION_Exists", "Medication with this id already exists")
	case errors.Is(err, ErrMedicationNotFound):
		return apiError(http.StatusNotFound, "MEDICATION_NotFound", "Medication not found")
	case errors.Is(err, ErrHospitalNotFound):
		return apiError(http.StatusNotFound, "MEDICATION_HospitalMissing", "Hospital not found")
	case errors.Is(err, ErrNoStockHistory):
		return apiError(http.StatusNotFound, "MEDICATION_NoStockHistory", "No stock history for this medication")
	default:
		return apiError(http.StatusInternalServerError, "MEDICATION_WriteFailed", "failed to store medication data")
	}
}
