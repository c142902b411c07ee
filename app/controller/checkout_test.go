package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/vibast-solutions/ms-go-checkout/app/checkout"
	"github.com/vibast-solutions/ms-go-checkout/app/entity"
	"github.com/vibast-solutions/ms-go-checkout/app/provider"
	"github.com/vibast-solutions/ms-go-checkout/app/storage"
)

type stubDriver struct {
	method    entity.Method
	reference string
}

func (d *stubDriver) Method() entity.Method { return d.method }

func (d *stubDriver) Initiate(context.Context, *entity.PaymentAttempt, provider.Contact) (*provider.InitiateResult, error) {
	return &provider.InitiateResult{Reference: d.reference}, nil
}

func (d *stubDriver) PollOnce(context.Context, *entity.PaymentAttempt) (provider.PollOutcome, error) {
	return provider.PollPending, nil
}

func (d *stubDriver) Finalize(context.Context, *entity.PaymentAttempt, provider.Contact) (string, error) {
	return "/orders/success/99", nil
}

func newTestServer() *echo.Echo {
	rates := map[string]decimal.Decimal{
		"KES": decimal.NewFromInt(1),
		"USD": decimal.RequireFromString("0.0078"),
	}

	var infos []*provider.MethodInfo
	for _, drv := range []*stubDriver{
		{method: entity.MethodPushPayment, reference: "abc123"},
		{method: entity.MethodRedirectCapture, reference: "pp-order-1"},
	} {
		name, stages := provider.Describe(drv.method)
		infos = append(infos, &provider.MethodInfo{
			Method:      drv.method,
			DisplayName: name,
			Stages:      stages,
			Driver:      drv,
		})
	}

	manager := checkout.NewManager(checkout.ManagerConfig{
		Registry:       provider.NewRegistry(infos...),
		Store:          storage.NewFacade(nil, nil),
		Rates:          rateTable(rates),
		PollInterval:   time.Hour,
		RequestTimeout: time.Second,
		StageCadence:   time.Hour,
	})

	e := echo.New()
	NewCheckoutController(manager, nil).Register(e)
	return e
}

type rateTable map[string]decimal.Decimal

func (r rateTable) Rate(code string) (decimal.Decimal, bool) {
	rate, ok := r[code]
	return rate, ok
}

func doJSON(e *echo.Echo, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func openSession(t *testing.T, e *echo.Echo, id string) {
	t.Helper()
	rec := doJSON(e, http.MethodPost, "/checkout/"+id, map[string]interface{}{"order_id": "99", "base_amount": "1000"})
	if rec.Code != http.StatusOK {
		t.Fatalf("open returned %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	e := newTestServer()
	rec := doJSON(e, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestOpenValidation(t *testing.T) {
	e := newTestServer()

	rec := doJSON(e, http.MethodPost, "/checkout/s1", map[string]interface{}{"base_amount": "1000"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing order_id, got %d", rec.Code)
	}
	rec = doJSON(e, http.MethodPost, "/checkout/s1", map[string]interface{}{"order_id": "99", "base_amount": "0"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-positive amount, got %d", rec.Code)
	}
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	e := newTestServer()
	rec := doJSON(e, http.MethodGet, "/checkout/ghost/status", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSubmitFlowAndConflict(t *testing.T) {
	e := newTestServer()
	openSession(t, e, "s1")

	rec := doJSON(e, http.MethodPost, "/checkout/s1/contact", map[string]string{"phone": "0712345678"})
	if rec.Code != http.StatusOK {
		t.Fatalf("contact returned %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(e, http.MethodPost, "/checkout/s1/terms", map[string]bool{"accepted": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("terms returned %d", rec.Code)
	}

	rec = doJSON(e, http.MethodPost, "/checkout/s1/submit", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit returned %d: %s", rec.Code, rec.Body.String())
	}
	var submitted struct {
		Reference string `json:"reference"`
		Phase     string `json:"phase"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &submitted)
	if submitted.Reference != "abc123" || submitted.Phase != string(entity.PhaseAwaitingConfirmation) {
		t.Fatalf("unexpected submit response: %+v", submitted)
	}

	// A second submission while the first is unresolved is a conflict.
	rec = doJSON(e, http.MethodPost, "/checkout/s1/submit", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on concurrent submit, got %d", rec.Code)
	}

	rec = doJSON(e, http.MethodGet, "/checkout/s1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status returned %d", rec.Code)
	}
	var status struct {
		Phase    string `json:"phase"`
		Feedback struct {
			Busy       bool   `json:"busy"`
			StageTitle string `json:"stage_title"`
		} `json:"feedback"`
		Form struct {
			Amount string `json:"amount"`
		} `json:"form"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &status)
	if status.Phase != string(entity.PhaseAwaitingConfirmation) {
		t.Fatalf("unexpected status phase %q", status.Phase)
	}
	if !status.Feedback.Busy || status.Feedback.StageTitle == "" {
		t.Fatalf("expected busy narration, got %+v", status.Feedback)
	}
	if status.Form.Amount != "1,000.00" {
		t.Fatalf("unexpected formatted amount %q", status.Form.Amount)
	}
}

func TestSubmitValidationFailures(t *testing.T) {
	e := newTestServer()
	openSession(t, e, "s1")

	rec := doJSON(e, http.MethodPost, "/checkout/s1/submit", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without terms, got %d", rec.Code)
	}
	rec = doJSON(e, http.MethodPost, "/checkout/s1/contact", map[string]string{"phone": "12345"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad phone, got %d", rec.Code)
	}
	rec = doJSON(e, http.MethodPost, "/checkout/s1/method", map[string]string{"method": "carrier_pigeon"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown method, got %d", rec.Code)
	}
	rec = doJSON(e, http.MethodPost, "/checkout/s1/currency", map[string]string{"currency": "XXX"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown currency, got %d", rec.Code)
	}
}

func TestCaptureFlow(t *testing.T) {
	e := newTestServer()
	openSession(t, e, "s1")

	doJSON(e, http.MethodPost, "/checkout/s1/method", map[string]string{"method": "redirect_capture"})
	doJSON(e, http.MethodPost, "/checkout/s1/currency", map[string]string{"currency": "USD"})
	doJSON(e, http.MethodPost, "/checkout/s1/terms", map[string]bool{"accepted": true})

	rec := doJSON(e, http.MethodPost, "/checkout/s1/submit", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(e, http.MethodPost, "/checkout/s1/capture", map[string]string{"reference": "pp-order-1", "outcome": "maybe"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad outcome, got %d", rec.Code)
	}
	rec = doJSON(e, http.MethodPost, "/checkout/s1/capture", map[string]string{"reference": "other", "outcome": "approved"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for stale reference, got %d", rec.Code)
	}

	rec = doJSON(e, http.MethodPost, "/checkout/s1/capture", map[string]string{"reference": "pp-order-1", "outcome": "approved"})
	if rec.Code != http.StatusOK {
		t.Fatalf("capture returned %d: %s", rec.Code, rec.Body.String())
	}
	var status struct {
		Phase       string `json:"phase"`
		RedirectURL string `json:"redirect_url"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &status)
	if status.Phase != string(entity.PhaseSucceeded) || status.RedirectURL != "/orders/success/99" {
		t.Fatalf("unexpected capture status: %+v", status)
	}
}

func TestReset(t *testing.T) {
	e := newTestServer()
	openSession(t, e, "s1")

	doJSON(e, http.MethodPost, "/checkout/s1/contact", map[string]string{"phone": "0712345678"})
	doJSON(e, http.MethodPost, "/checkout/s1/terms", map[string]bool{"accepted": true})
	doJSON(e, http.MethodPost, "/checkout/s1/submit", nil)

	rec := doJSON(e, http.MethodPost, "/checkout/s1/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset returned %d", rec.Code)
	}
	rec = doJSON(e, http.MethodGet, "/checkout/s1/status", nil)
	var status struct {
		Phase string `json:"phase"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &status)
	if status.Phase != string(entity.PhaseCancelled) {
		t.Fatalf("expected cancelled after reset, got %q", status.Phase)
	}
}
