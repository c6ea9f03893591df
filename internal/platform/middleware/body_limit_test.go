package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func assertAbort(t *testing.T, err error, status int, code string) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	if he.Code != status {
		t.Errorf("expected status %d, got %d", status, he.Code)
	}
	body, ok := he.Message.(errorBody)
	if !ok {
		t.Fatalf("expected errorBody message, got %T", he.Message)
	}
	if body.Code != code {
		t.Errorf("expected code %s, got %s", code, body.Code)
	}
}

func TestBodyLimit_PassesSmallExpense(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/billing/expense", strings.NewReader(`{"caid": 7, "total": "120.50"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	var read int
	err := BodyLimit(1 << 20)(func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		read = len(b)
		return err
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if read == 0 {
		t.Error("expected the handler to read the body")
	}
}

func TestBodyLimit_RejectsDeclaredLength(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/medications", bytes.NewReader(bytes.Repeat([]byte("x"), 2048)))
	c := e.NewContext(req, httptest.NewRecorder())

	err := BodyLimit(1024)(func(c echo.Context) error {
		t.Error("handler must not run for an oversized Content-Length")
		return nil
	})(c)
	assertAbort(t, err, http.StatusRequestEntityTooLarge, codePayloadTooLarge)
	if msg := err.(*echo.HTTPError).Message.(errorBody).Message; !strings.Contains(msg, "1024 bytes") {
		t.Errorf("expected the limit in the message, got %q", msg)
	}
}

func TestBodyLimit_ExactSizeReadsToEOF(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/medications/stock", bytes.NewReader(bytes.Repeat([]byte("x"), 1024)))
	req.ContentLength = -1
	c := e.NewContext(req, httptest.NewRecorder())

	err := BodyLimit(1024)(func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		if len(b) != 1024 {
			t.Errorf("expected 1024 bytes, got %d", len(b))
		}
		return err
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBodyLimit_UnknownLengthCappedDuringRead(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/billing/expense", bytes.NewReader(bytes.Repeat([]byte("a"), 1024)))
	req.ContentLength = -1
	c := e.NewContext(req, httptest.NewRecorder())

	err := BodyLimit(512)(func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		return err
	})(c)
	assertAbort(t, err, http.StatusRequestEntityTooLarge, codePayloadTooLarge)
}

func TestBodyLimit_IgnoresBodylessRequests(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/billing?days=30", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	called := false
	if err := BodyLimit(1)(func(c echo.Context) error {
		called = true
		return nil
	})(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to run")
	}
}
