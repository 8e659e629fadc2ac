package metrics

import (
	"math"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestRecorderObserveCacheOperations(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveCacheLookup(CacheLookupHit, 10*time.Millisecond)
	rec.ObserveCacheStore(CacheStoreStored, 5*time.Millisecond)

	families := gather(t, rec, "mallard_cache_operations_total", "mallard_cache_operation_duration_seconds")

	lookupMetric := findMetric(t, families["mallard_cache_operations_total"], map[string]string{
		"operation": string(CacheOperationLookup),
		"result":    string(CacheLookupHit),
	})
	if got := lookupMetric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected lookup counter 1, got %v", got)
	}

	storeMetric := findMetric(t, families["mallard_cache_operations_total"], map[string]string{
		"operation": string(CacheOperationStore),
		"result":    string(CacheStoreStored),
	})
	if got := storeMetric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected store counter 1, got %v", got)
	}

	latencyMetric := findMetric(t, families["mallard_cache_operation_duration_seconds"], map[string]string{
		"operation": string(CacheOperationStore),
		"result":    string(CacheStoreStored),
	})
	hist := latencyMetric.GetHistogram()
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	want := 0.005
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderObserveAuthAttach(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveAuthAttach(true, 120*time.Millisecond)

	families := gather(t, rec, "mallard_auth_attach_total", "mallard_auth_attach_duration_seconds")

	counter := findMetric(t, families["mallard_auth_attach_total"], map[string]string{"token_present": "true"})
	if got := counter.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected attach counter 1, got %v", got)
	}

	hist := families["mallard_auth_attach_duration_seconds"][0].GetHistogram()
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
}

func TestRecorderObserveAuthRefreshAndRetry(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveAuthRefresh(AuthRefreshSucceeded, 30*time.Millisecond)
	rec.ObserveAuthRetry(AuthRetrySucceeded)
	rec.ObserveSessionExpired()

	families := gather(t, rec, "mallard_auth_refresh_total", "mallard_auth_retry_total", "mallard_auth_session_expired_total")

	refreshCounter := findMetric(t, families["mallard_auth_refresh_total"], map[string]string{"outcome": string(AuthRefreshSucceeded)})
	if got := refreshCounter.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected refresh counter 1, got %v", got)
	}

	retryCounter := findMetric(t, families["mallard_auth_retry_total"], map[string]string{"outcome": string(AuthRetrySucceeded)})
	if got := retryCounter.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected retry counter 1, got %v", got)
	}

	if got := families["mallard_auth_session_expired_total"][0].GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected session-expired counter 1, got %v", got)
	}
}

func TestRecorderObserveNetworkFailure(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveNetworkFailure(true)
	rec.ObserveNetworkFailure(false)

	families := gather(t, rec, "mallard_network_failures_total")

	wrapped := findMetric(t, families["mallard_network_failures_total"], map[string]string{"wrapped": "true"})
	if got := wrapped.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected wrapped counter 1, got %v", got)
	}
	unwrapped := findMetric(t, families["mallard_network_failures_total"], map[string]string{"wrapped": "false"})
	if got := unwrapped.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected unwrapped counter 1, got %v", got)
	}
}

func TestRecorderHandler(t *testing.T) {
	rec := NewRecorder(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)

	rec.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200 response, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("expected response body")
	}
}

func TestRecorderNilIsSafe(t *testing.T) {
	var rec *Recorder
	rec.ObserveCacheLookup(CacheLookupHit, time.Millisecond)
	rec.ObserveAuthAttach(false, time.Millisecond)
	rec.ObserveSessionExpired()
	rec.ObserveNetworkFailure(true)
	if rec.Handler() == nil {
		t.Fatalf("expected a non-nil fallback handler")
	}
}

func gather(t *testing.T, rec *Recorder, names ...string) map[string][]*dto.Metric {
	t.Helper()
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	families, err := rec.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	collected := make(map[string][]*dto.Metric, len(names))
	for _, mf := range families {
		if !wanted[mf.GetName()] {
			continue
		}
		collected[mf.GetName()] = append(collected[mf.GetName()], mf.GetMetric()...)
	}
	for _, name := range names {
		if len(collected[name]) == 0 {
			t.Fatalf("metric %q not collected", name)
		}
	}
	return collected
}

func findMetric(t *testing.T, metrics []*dto.Metric, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, metric := range metrics {
		if matchLabels(metric, labels) {
			return metric
		}
	}
	t.Fatalf("metric with labels %v not found", labels)
	return nil
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	for key, expected := range labels {
		found := false
		for _, label := range metric.GetLabel() {
			if label.GetName() == key && label.GetValue() == expected {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
