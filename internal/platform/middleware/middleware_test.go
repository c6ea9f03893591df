package middleware

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// serve runs h behind RequestID, Logger and Recovery in the order the server
// installs them and returns the recorder, the handler error and the log lines.
func serve(t *testing.T, req *http.Request, h echo.HandlerFunc) (*httptest.ResponseRecorder, error, []map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	chain := RequestID()(Logger(logger)(Recovery(logger)(h)))
	err := chain(c)

	var lines []map[string]any
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("log line is not JSON: %q", sc.Text())
		}
		lines = append(lines, entry)
	}
	return rec, err, lines
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		check    func(got string) bool
	}{
		{"minted when absent", "", func(got string) bool { return len(got) == 36 }},
		{"caller id kept", "dash-7f3a", func(got string) bool { return got == "dash-7f3a" }},
		{"oversized id replaced", strings.Repeat("x", 500), func(got string) bool { return len(got) == 36 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/core-dashboard", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			var seen string
			rec, err, _ := serve(t, req, func(c echo.Context) error {
				seen, _ = c.Get("request_id").(string)
				return c.NoContent(http.StatusOK)
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := rec.Header().Get(RequestIDHeader)
			if !tt.check(got) {
				t.Errorf("unexpected request id %q", got)
			}
			if seen != got {
				t.Errorf("context id %q differs from header %q", seen, got)
			}
		})
	}
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		name    string
		handler echo.HandlerFunc
		level   string
		status  float64
	}{
		{"ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, "info", 200},
		{"bad filter", func(c echo.Context) error {
			return abort(http.StatusBadRequest, "BILLING_InvalidFilter", "days_back must be an integer")
		}, "warn", 400},
		{"aggregation failure", func(c echo.Context) error {
			return abort(http.StatusInternalServerError, "BILLING_AggregationFailed", "failed")
		}, "error", 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/billing?days_back=30", nil)
			_, _, lines := serve(t, req, tt.handler)
			if len(lines) != 1 {
				t.Fatalf("expected one access log line, got %d", len(lines))
			}
			entry := lines[0]
			if entry["level"] != tt.level {
				t.Errorf("expected level %s, got %v", tt.level, entry["level"])
			}
			if entry["status"] != tt.status {
				t.Errorf("expected status %v, got %v", tt.status, entry["status"])
			}
			if entry["path"] != "/api/billing" || entry["query"] != "days_back=30" {
				t.Errorf("unexpected path/query %v?%v", entry["path"], entry["query"])
			}
			if id, _ := entry["request_id"].(string); id == "" {
				t.Error("expected request_id on the access log")
			}
		})
	}
}

func TestRecovery_PanicBecomes500(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/medications/stock", nil)
	req.Header.Set(RequestIDHeader, "panic-1")

	_, err, lines := serve(t, req, func(c echo.Context) error {
		panic("nil snapshot")
	})

	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusInternalServerError {
		t.Fatalf("expected a 500 HTTPError, got %v", err)
	}
	if msg, _ := he.Message.(string); strings.Contains(msg, "nil snapshot") {
		t.Error("panic value leaked into the response")
	}

	if len(lines) != 2 {
		t.Fatalf("expected panic and access log lines, got %d", len(lines))
	}
	panicLine := lines[0]
	if panicLine["panic"] != "nil snapshot" || panicLine["request_id"] != "panic-1" {
		t.Errorf("unexpected panic log %v", panicLine)
	}
	if stack, _ := panicLine["stack"].(string); stack == "" {
		t.Error("expected a stack trace in the panic log")
	}
	if lines[1]["status"] != float64(http.StatusInternalServerError) {
		t.Errorf("expected access log status 500, got %v", lines[1]["status"])
	}
}
