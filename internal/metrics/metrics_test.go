package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mediaflow/internal/metrics"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	m.StageFinished("asr", "success", time.Second)
	m.CacheLookup("asr", metrics.CacheHit)
	m.JobStarted()
	m.JobFinished()
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := metrics.New()
	m.StageFinished("asr", "success", 2*time.Second)
	m.CacheLookup("asr", metrics.CacheInconsistent)
	m.SyncFields("asr", 2, 1, 0)
	m.StagesReclaimed(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		`mediaflow_stage_runs_total{stage="asr",status="success"} 1`,
		`mediaflow_cache_lookups_total{result="inconsistent",stage="asr"} 1`,
		`mediaflow_artifact_sync_fields_total{outcome="uploaded",stage="asr"} 2`,
		`mediaflow_stale_stages_reclaimed_total 3`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := metrics.New(), metrics.New()
	a.Callback("delivered")
	families, err := b.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() == "mediaflow_callbacks_total" && len(fam.GetMetric()) > 0 {
			t.Fatalf("metrics leaked across registries")
		}
	}
}
