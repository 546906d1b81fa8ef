package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthChecker_CriticalFailure(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(StoreCheck(func(ctx context.Context) error {
		return errors.New("connection refused")
	}))

	resp := hc.Check(context.Background())
	if resp.Status != HealthStatusUnhealthy {
		t.Errorf("Status = %s, want unhealthy", resp.Status)
	}
	if resp.Checks["store"].Message != "connection refused" {
		t.Errorf("Message = %q", resp.Checks["store"].Message)
	}
}

func TestHealthChecker_NonCriticalFailureDegrades(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(&HealthCheck{
		Name:      "provider",
		CheckFunc: func(ctx context.Context) error { return errors.New("slow") },
	})

	if got := hc.Check(context.Background()).Status; got != HealthStatusDegraded {
		t.Errorf("Status = %s, want degraded", got)
	}
}

func TestServer_Handler(t *testing.T) {
	InitMetrics()
	RecordStep("OutlineIdea", 0)
	RecordGeneration("mock", "structured", nil, 0, 10, 5)

	srv := httptest.NewServer(NewServer(":0").Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health/live")
	if err != nil {
		t.Fatalf("GET /health/live: %v", err)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	_ = resp.Body.Close()
	if body["status"] != "alive" {
		t.Errorf("status = %q", body["status"])
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}
