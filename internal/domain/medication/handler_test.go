package medication

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/mnhs/mnhs/internal/platform/middleware"
)

func newTestHandler() (*Handler, *mockStockRepo, *mockCatalogRepo, *echo.Echo) {
	svc, stock, catalog, _ := newTestService()
	return NewHandler(svc), stock, catalog, echo.New()
}

func assertAPIError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	if he.Code != status {
		t.Errorf("expected status %d, got %d", status, he.Code)
	}
	if body, ok := he.Message.(ErrorBody); !ok || body.Code != code {
		t.Errorf("expected code %s, got %+v", code, he.Message)
	}
}

func TestHandler_GetDashboard(t *testing.T) {
	h, stock, _, e := newTestHandler()
	stock.history = []Snapshot{snap(1, 10, 1, day, 2, 10, "1.00")}

	req := httptest.NewRequest(http.MethodGet, "/api/medications?hospital=CHU%20Rabat&class=Antibiotic&onlyLowStock=true", nil)
	rec := httptest.NewRecorder()
	if err := h.GetDashboard(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	q := stock.queries[0]
	if q.Hospital != "CHU Rabat" || q.Class != "Antibiotic" || !q.OnlyLowStock {
		t.Errorf("unexpected query %+v", q)
	}

	var body struct {
		LowStock   []map[string]any `json:"lowStock"`
		Aggregates map[string]any   `json:"aggregates"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(body.LowStock) != 1 || body.LowStock[0]["reorderLevel"] != float64(10) {
		t.Errorf("unexpected lowStock %+v", body.LowStock)
	}
	if _, ok := body.Aggregates["avgStockGapPct"]; !ok {
		t.Error("missing avgStockGapPct")
	}
}

func TestHandler_GetDashboard_BadFlag(t *testing.T) {
	h, _, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/api/medications?onlyLowStock=maybe", nil)
	assertAPIError(t, h.GetDashboard(e.NewContext(req, httptest.NewRecorder())), http.StatusBadRequest, "MEDICATION_InvalidFilter")
}

func TestHandler_GetDashboard_Failure(t *testing.T) {
	h, stock, _, e := newTestHandler()
	stock.fail = true
	req := httptest.NewRequest(http.MethodGet, "/api/medications", nil)
	assertAPIError(t, h.GetDashboard(e.NewContext(req, httptest.NewRecorder())), http.StatusInternalServerError, "MEDICATION_AggregationFailed")
}

func TestHandler_CreateMedication(t *testing.T) {
	h, _, catalog, e := newTestHandler()
	body := `{"id":5,"name":"Ibuprofen","hospital":"CHU Fes","qty":30,"reorderLevel":10,"unit":"tablet","class":"NSAID"}`
	req := httptest.NewRequest(http.MethodPost, "/api/medications", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.CreateMedication(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var resp CreateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Message != "Medication created" || resp.Medication.ID != 5 || *resp.Medication.Class != "NSAID" {
		t.Errorf("unexpected response %+v", resp)
	}
	if _, ok := catalog.meds[5]; !ok {
		t.Error("expected medication to be stored")
	}
}

func TestHandler_CreateMedication_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed", `{"id":`, http.StatusBadRequest, "MEDICATION_InvalidPayload"},
		{"invalid", `{"id":5,"name":"","hospital":"CHU Fes","unit":"tablet"}`, http.StatusBadRequest, "MEDICATION_InvalidPayload"},
		{"duplicate", `{"id":1,"name":"Amox","hospital":"CHU Fes","unit":"capsule"}`, http.StatusConflict, "MEDICATION_Exists"},
		{"unknown hospital", `{"id":6,"name":"X","hospital":"Nowhere","unit":"vial"}`, http.StatusNotFound, "MEDICATION_HospitalMissing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _, e := newTestHandler()
			req := httptest.NewRequest(http.MethodPost, "/api/medications", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			assertAPIError(t, h.CreateMedication(e.NewContext(req, httptest.NewRecorder())), tt.status, tt.code)
		})
	}
}

func TestHandler_CreateStockEntry(t *testing.T) {
	h, _, catalog, e := newTestHandler()
	catalog.snapshots = []Snapshot{{StockID: 1, HID: 10, MID: 1, Qty: 4, ReorderLevel: 8, Timestamp: day}}

	req := httptest.NewRequest(http.MethodPost, "/api/medications/stock",
		strings.NewReader(`{"medicationId":1,"hospital":"CHU Rabat","qtyReceived":6,"unitPrice":"2.40"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.CreateStockEntry(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var resp StockEntryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Message != "Stock entry recorded" || resp.StockEntry.UnitPrice != 2.4 {
		t.Errorf("unexpected response %+v", resp)
	}
	if got := catalog.snapshots[1].Qty; got != 10 {
		t.Errorf("expected running quantity 10, got %d", got)
	}
}

func TestHandler_CreateStockEntry_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"zero qty", `{"medicationId":1,"hospital":"CHU Rabat","qtyReceived":0,"unitPrice":1}`, http.StatusBadRequest, "MEDICATION_InvalidPayload"},
		{"unknown medication", `{"medicationId":9,"hospital":"CHU Rabat","qtyReceived":1,"unitPrice":1}`, http.StatusNotFound, "MEDICATION_NotFound"},
		{"no history", `{"medicationId":1,"hospital":"CHU Rabat","qtyReceived":1,"unitPrice":1}`, http.StatusNotFound, "MEDICATION_NoStockHistory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _, e := newTestHandler()
			req := httptest.NewRequest(http.MethodPost, "/api/medications/stock", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			assertAPIError(t, h.CreateStockEntry(e.NewContext(req, httptest.NewRecorder())), tt.status, tt.code)
		})
	}
}

func TestHandler_OversizedChunkedBodyIs413(t *testing.T) {
	h, _, catalog, e := newTestHandler()
	before := len(catalog.snapshots)
	for name, call := range map[string]echo.HandlerFunc{
		"create":      h.CreateMedication,
		"stock entry": h.CreateStockEntry,
	} {
		t.Run(name, func(t *testing.T) {
			body := `{"id":77,"name":"` + strings.Repeat("x", 4096) + `","hospital":"CHU Rabat"}`
			req := httptest.NewRequest(http.MethodPost, "/api/medications", strings.NewReader(body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			req.ContentLength = -1

			err := middleware.BodyLimit(512)(call)(e.NewContext(req, httptest.NewRecorder()))
			var he *echo.HTTPError
			if !errors.As(err, &he) || he.Code != http.StatusRequestEntityTooLarge {
				t.Fatalf("expected 413, got %v", err)
			}
		})
	}
	if len(catalog.snapshots) != before {
		t.Errorf("expected no snapshots written, got %d new", len(catalog.snapshots)-before)
	}
}
