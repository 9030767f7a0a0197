package account

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mediremind/mediremind/internal/platform/auth"
)

const testVAPIDKey = "BPUB_test_vapid_public_key"

func newTestHandler() (*Handler, *echo.Echo, *mockRepo) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.Nop())
	return NewHandler(svc, testVAPIDKey), echo.New(), repo
}

func authed(req *http.Request, accountID uuid.UUID) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), auth.AccountIDKey, accountID))
}

func jsonRequest(method, target, body string) *http.Request {
	if body == "" {
		body = "{}"
	}
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestHandler_VAPIDKey(t *testing.T) {
	h, e, repo := newTestHandler()
	id := seedAccount(repo, "Ada", "Obi", "ada@example.com", nil)

	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/notifications/vapid-key", nil), id)
	rec := httptest.NewRecorder()
	if err := h.VAPIDKey(e.NewContext(req, rec)); err != nil {
		t.Fatalf("VAPIDKey: %v", err)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["public_key"] != testVAPIDKey {
		t.Errorf("public_key = %q", body["public_key"])
	}
}

func TestHandler_VAPIDKey_Unconfigured(t *testing.T) {
	repo := newMockRepo()
	h := NewHandler(NewService(repo, zerolog.Nop()), "")
	e := echo.New()
	id := seedAccount(repo, "Ada", "Obi", "ada@example.com", nil)

	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/notifications/vapid-key", nil), id)
	err := h.VAPIDKey(e.NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want 503", err)
	}
}

func TestHandler_Subscribe(t *testing.T) {
	h, e, repo := newTestHandler()
	id := seedAccount(repo, "Ada", "Obi", "ada@example.com", nil)

	body := `{"endpoint":"https://push.example.com/send/abc","keys":{"p256dh":"BNcR","auth":"tBHI"}}`
	req := authed(jsonRequest(http.MethodPost, "/api/v1/notifications/subscriptions", body), id)
	rec := httptest.NewRecorder()
	if err := h.Subscribe(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	var sub PushSubscription
	if err := json.Unmarshal(rec.Body.Bytes(), &sub); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sub.AccountID != id || sub.Endpoint != "https://push.example.com/send/abc" {
		t.Errorf("sub = %+v", sub)
	}
	if len(repo.subs) != 1 {
		t.Errorf("stored %d subscriptions, want 1", len(repo.subs))
	}
}

func TestHandler_Subscribe_InvalidBody(t *testing.T) {
	h, e, repo := newTestHandler()
	id := seedAccount(repo, "Ada", "Obi", "ada@example.com", nil)

	body := `{"endpoint":"https://push.example.com/send/abc","keys":{}}`
	req := authed(jsonRequest(http.MethodPost, "/api/v1/notifications/subscriptions", body), id)
	err := h.Subscribe(e.NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400", err)
	}
}

func TestHandler_Subscribe_Unauthenticated(t *testing.T) {
	h, e, _ := newTestHandler()

	req := jsonRequest(http.MethodPost, "/api/v1/notifications/subscriptions", `{"endpoint":"https://x"}`)
	err := h.Subscribe(e.NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401", err)
	}
}

func TestHandler_Unsubscribe(t *testing.T) {
	h, e, repo := newTestHandler()
	id := seedAccount(repo, "Ada", "Obi", "ada@example.com", nil)
	svc := NewService(repo, zerolog.Nop())
	if _, err := svc.Subscribe(context.Background(), id, subscribeInput("https://push.example.com/send/abc")); err != nil {
		t.Fatalf("seed subscribe: %v", err)
	}

	body := `{"endpoint":"https://push.example.com/send/abc"}`
	req := authed(jsonRequest(http.MethodDelete, "/api/v1/notifications/subscriptions", body), id)
	rec := httptest.NewRecorder()
	if err := h.Unsubscribe(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(repo.subs) != 0 {
		t.Errorf("subscription still stored")
	}
}

func TestHandler_Unsubscribe_Unknown(t *testing.T) {
	h, e, repo := newTestHandler()
	id := seedAccount(repo, "Ada", "Obi", "ada@example.com", nil)

	body := `{"endpoint":"https://push.example.com/send/unknown"}`
	req := authed(jsonRequest(http.MethodDelete, "/api/v1/notifications/subscriptions", body), id)
	err := h.Unsubscribe(e.NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("err = %v, want 404", err)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e, _ := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	want := map[string]bool{
		"GET /api/v1/notifications/vapid-key":         false,
		"POST /api/v1/notifications/subscriptions":    false,
		"DELETE /api/v1/notifications/subscriptions":  false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for key, seen := range want {
		if !seen {
			t.Errorf("route %s not registered", key)
		}
	}
}
