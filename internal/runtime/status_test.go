package runtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandleGetHandlers(t *testing.T) {
	svc, _ := newChannelService(t, newTestConfig())
	defer svc.Close()

	err := RegisterMessageHandler(svc, MessageHandlerRegistration{
		Name:         "status-handler",
		ConsumeQueue: testQueue,
		Handler:      newRecorder().handle(func(string, int) error { return nil }),
	})
	if err != nil {
		t.Fatalf("RegisterMessageHandler failed: %v", err)
	}

	rec := httptest.NewRecorder()
	svc.handleGetHandlers(rec, httptest.NewRequest(http.MethodGet, "/status/handlers", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"name":"status-handler"`) || !strings.Contains(body, `"consume_queue":"xray_queue"`) {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestHandleGetDelivery(t *testing.T) {
	svc, _ := newChannelService(t, newTestConfig())
	defer svc.Close()
	svc.Delivery().RecordDiscarded()

	rec := httptest.NewRecorder()
	svc.handleGetDelivery(rec, httptest.NewRequest(http.MethodGet, "/status/delivery", nil))

	if !strings.Contains(rec.Body.String(), `"discarded":1`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler(func() int { return 3 }).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("unexpected content type %q", got)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"status":"ok"`) || !strings.Contains(body, `"subscribers":3`) {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS([]string{"http://dashboard.local"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/signals", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if called {
		t.Fatal("preflight must not reach the handler")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://dashboard.local" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestCORSDisallowedOrigin(t *testing.T) {
	h := CORS([]string{"http://dashboard.local"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/signals", nil)
	req.Header.Set("Origin", "http://evil.local")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected handler to run, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no allow origin, got %q", got)
	}
}

func TestAllowedCORSOriginWildcard(t *testing.T) {
	if got := allowedCORSOrigin([]string{"*"}, ""); got != "*" {
		t.Fatalf("expected wildcard, got %q", got)
	}
	if got := allowedCORSOrigin(nil, "http://a"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
