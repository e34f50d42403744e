package booking

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/hospital/outpatient/internal/platform/apperr"
	"github.com/hospital/outpatient/internal/platform/auth"
	"github.com/hospital/outpatient/internal/platform/httpx"
)

func newTestHandler(total int) (*Handler, *fixture, *echo.Echo) {
	f := newFixture(total)
	e := echo.New()
	e.Validator = httpx.NewValidator()
	return NewHandler(f.ledger), f, e
}

func asCaller(method, body string, caller auth.Caller) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, "/", nil)
	} else {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	return req.WithContext(auth.WithCaller(req.Context(), caller))
}

func TestHandler_Book_DefaultsPatientToCaller(t *testing.T) {
	h, _, e := newTestHandler(2)
	patient := auth.NewCaller(41, []string{auth.RolePatient}, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(asCaller(http.MethodPost, `{"schedule_id":1,"symptoms":"cough"}`, patient), rec)

	if err := h.Book(c); err != nil {
		t.Fatalf("book: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var resp struct {
		Message struct {
			ID          int64  `json:"order_id"`
			PatientID   int64  `json:"patient_id"`
			QueueNumber int    `json:"queue_number"`
			PayAmount   string `json:"pay_amount"`
			Status      string `json:"status"`
			SlotDate    string `json:"slot_date"`
		} `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	m := resp.Message
	if m.PatientID != 41 || m.QueueNumber != 1 || m.PayAmount != "60" || m.Status != "pending" || m.SlotDate != "2025-12-01" {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandler_Book_MissingSchedule(t *testing.T) {
	h, _, e := newTestHandler(2)
	c := e.NewContext(asCaller(http.MethodPost, `{"patient_id":11}`, front), httptest.NewRecorder())
	if err := h.Book(c); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestHandler_Cancel_WithoutBody(t *testing.T) {
	h, f, e := newTestHandler(2)
	o := f.book(t, 11)

	rec := httptest.NewRecorder()
	c := e.NewContext(asCaller(http.MethodPost, "", front), rec)
	c.SetParamNames("id")
	c.SetParamValues(strconv.FormatInt(o.ID, 10))
	if err := h.Cancel(c); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"refund_amount":null`) {
		t.Errorf("expected null refund, got %s", rec.Body.String())
	}
}

func TestHandler_ListByPatient(t *testing.T) {
	h, f, e := newTestHandler(2)
	f.book(t, 11)

	req := httptest.NewRequest(http.MethodGet, "/?status=pending", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("patient_id")
	c.SetParamValues("11")
	if err := h.ListByPatient(c); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}
