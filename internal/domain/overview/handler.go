package overview

import (
	"errors"
	"net/http"

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
	api.GET("/core-dashboard", h.GetOverview)
}

type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (h *Handler) GetOverview(c echo.Context) error {
	o, err := h.svc.Overview(c.Request().Context(), c.QueryParam("range"))
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidFilter) {
			return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Message: err.Error(), Code: "OVERVIEW_InvalidRange"})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, ErrorBody{Message: "failed to compute core dashboard", Code: "OVERVIEW_AggregationFailed"})
	}
	return c.JSON(http.StatusOK, o)
}
