package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInitWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := Init(context.Background(), "dil-test")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if shutdown == nil {
		t.Fatalf("shutdown func required")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestHTTPMiddleware(t *testing.T) {
	called := false
	h := HTTPMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if !called {
		t.Fatalf("handler not invoked")
	}
}

func TestInstrumentClient(t *testing.T) {
	client := InstrumentClient(nil)
	if client == nil || client.Transport == nil {
		t.Fatalf("client not instrumented")
	}
	own := &http.Client{}
	if got := InstrumentClient(own); got != own {
		t.Fatalf("existing client must be returned")
	}
	if own.Transport == nil {
		t.Fatalf("transport not wrapped")
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("OTEL_TEST_INT", "11")
	if got := envInt("OTEL_TEST_INT", 5); got != 11 {
		t.Fatalf("got %d", got)
	}
	t.Setenv("OTEL_TEST_INT", "bad")
	if got := envInt("OTEL_TEST_INT", 5); got != 5 {
		t.Fatalf("got %d", got)
	}
}
