package doselog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pillara/pillara/internal/platform/auth"
)

func newTestServer(t *testing.T) (*echo.Echo, *fixture) {
	t.Helper()
	f := newFixture(t)
	e := echo.New()
	api := e.Group("/api/v1", auth.DevAuthMiddleware(nil))
	NewHandler(f.svc).RegisterRoutes(api)
	return e, f
}

func do(e *echo.Echo, method, path, user, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set(auth.DevUserHeader, user)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_LogDose(t *testing.T) {
	e, f := newTestServer(t)
	m := f.med(t, "alice", intPtr(5), nil)

	rec := do(e, http.MethodPost, "/api/v1/doses", "alice", `{"medication_id":"`+m.ID.String()+`","status":"Taken"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var got DoseEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != StatusTaken || got.MedicationID != m.ID {
		t.Errorf("unexpected event: %+v", got)
	}
	if count, _ := f.pills(t, m.ID); *count != 4 {
		t.Errorf("pill count = %d, want 4", *count)
	}
}

func TestHandler_LogDoseErrors(t *testing.T) {
	e, f := newTestServer(t)
	m := f.med(t, "alice", intPtr(5), nil)
	body := `{"medication_id":"` + m.ID.String() + `"}`

	tests := []struct {
		name string
		user string
		body string
		want int
	}{
		{"other user", "bob", body, http.StatusForbidden},
		{"bad status", "alice", `{"medication_id":"` + m.ID.String() + `","status":"Eaten"}`, http.StatusBadRequest},
		{"missing medication", "alice", `{"status":"Taken"}`, http.StatusBadRequest},
		{"malformed", "alice", `{"medication_id":`, http.StatusBadRequest},
		{"unknown medication", "alice", `{"medication_id":"4b1c3a0e-3c0e-4d5f-9a36-0c6a2f7c1e11"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, http.MethodPost, "/api/v1/doses", tt.user, tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_Adherence(t *testing.T) {
	e, f := newTestServer(t)
	m := f.med(t, "alice", nil, nil)
	ts := fixedNow.Add(-2 * time.Hour)
	if _, err := f.svc.LogDose(context.Background(), "alice", m.ID, StatusMissed, &ts); err != nil {
		t.Fatalf("LogDose: %v", err)
	}

	for _, query := range []string{"", "?days=abc", "?days=-1", "?days=7"} {
		rec := do(e, http.MethodGet, "/api/v1/doses/adherence"+query, "alice", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%q: expected 200, got %d", query, rec.Code)
		}
		var body map[string]interface{}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["adherence_percent"] != float64(0) || body["trend"] != "-100%" || body["period"] != "7 days" {
			t.Errorf("%q: unexpected report %v", query, body)
		}
		if _, ok := body["daily_breakdown"].(map[string]interface{}); !ok {
			t.Errorf("%q: daily_breakdown missing", query)
		}
	}
}

func TestHandler_UpdateAndList(t *testing.T) {
	e, f := newTestServer(t)
	m := f.med(t, "alice", nil, nil)
	logged, err := f.svc.LogDose(context.Background(), "alice", m.ID, StatusMissed, nil)
	if err != nil {
		t.Fatalf("LogDose: %v", err)
	}

	rec := do(e, http.MethodPut, "/api/v1/doses/"+logged.ID.String(), "alice", `{"status":"Taken"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(e, http.MethodPut, "/api/v1/doses/"+logged.ID.String(), "bob", `{"status":"Taken"}`); rec.Code != http.StatusForbidden {
		t.Errorf("foreign update: expected 403, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPut, "/api/v1/doses/nope", "alice", `{"status":"Taken"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", rec.Code)
	}

	rec = do(e, http.MethodGet, "/api/v1/doses?medicationId="+m.ID.String(), "alice", "")
	var page struct {
		Data  []DoseEvent `json:"data"`
		Total int         `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 1 || page.Data[0].Status != StatusTaken {
		t.Errorf("unexpected list: %+v", page)
	}
	if rec := do(e, http.MethodGet, "/api/v1/doses?medication_id=xyz", "alice", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad filter: expected 400, got %d", rec.Code)
	}

	rec = do(e, http.MethodGet, "/api/v1/doses", "bob", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 0 || page.Data == nil {
		t.Errorf("bob should see an empty list, got %+v", page)
	}
}
