package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mediaflow/internal/jobs"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/worker"
)

func shellWorker(t *testing.T, script string) *worker.ExecWorker {
	t.Helper()
	w, err := worker.NewExecWorker([]string{"/bin/sh", "-c", script}, map[string]string{"MODEL": "small"})
	if err != nil {
		t.Fatalf("NewExecWorker: %v", err)
	}
	return w
}

func TestExecWorkerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := shellWorker(t, `input=$(cat); echo "starting" >&2; echo "log line"; printf '{"params":%s,"dir":"%s","model":"%s"}\n' "$input" "$MEDIAFLOW_WORK_DIR" "$MODEL"`)

	out, err := w.Run(context.Background(), worker.Request{
		Stage:   "asr",
		Params:  map[string]any{"language": "en"},
		WorkDir: dir,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out["dir"] != dir || out["model"] != "small" {
		t.Fatalf("unexpected output %v", out)
	}
	params, _ := out["params"].(map[string]any)
	if params["language"] != "en" {
		t.Fatalf("params not passed on stdin: %v", out["params"])
	}
}

func TestExecWorkerFailureCarriesMessage(t *testing.T) {
	w := shellWorker(t, `echo "model not found" >&2; exit 3`)
	_, err := w.Run(context.Background(), worker.Request{Stage: "asr", WorkDir: t.TempDir()})
	var werr *worker.Error
	if !errors.As(err, &werr) {
		t.Fatalf("expected worker.Error, got %v", err)
	}
	if werr.ExitCode != 3 || werr.Message != "model not found" {
		t.Fatalf("unexpected error %+v", werr)
	}
	se := jobs.StageErrorFrom(err)
	if se.Kind != jobs.KindWorker || se.Retryable {
		t.Fatalf("unexpected classification %+v", se)
	}
}

func TestExecWorkerTimeout(t *testing.T) {
	w := shellWorker(t, `exec sleep 5`)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := w.Run(ctx, worker.Request{Stage: "render", WorkDir: t.TempDir()})
	if time.Since(start) > 3*time.Second {
		t.Fatalf("timeout not enforced")
	}
	se := jobs.StageErrorFrom(err)
	if se.Kind != jobs.KindWorkerTimeout || !se.Retryable {
		t.Fatalf("expected retryable timeout, got %+v", se)
	}
}

func TestExecWorkerRejectsNonObjectOutput(t *testing.T) {
	w := shellWorker(t, `echo '[1,2,3]'`)
	if _, err := w.Run(context.Background(), worker.Request{Stage: "x", WorkDir: t.TempDir()}); err == nil {
		t.Fatalf("expected error for array output")
	}
}

func TestHTTPWorker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req worker.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Params["fail"] == true {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":"bad input"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"stage": req.Stage, "job": req.JobID})
	}))
	defer srv.Close()

	w, err := worker.NewHTTPWorker(srv.URL, map[string]string{"X-Api-Key": "k"}, srv.Client())
	if err != nil {
		t.Fatalf("NewHTTPWorker: %v", err)
	}
	out, err := w.Run(context.Background(), worker.Request{JobID: "j1", Stage: "summarize"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out["stage"] != "summarize" || out["job"] != "j1" {
		t.Fatalf("unexpected output %v", out)
	}

	_, err = w.Run(context.Background(), worker.Request{Stage: "summarize", Params: map[string]any{"fail": true}})
	var werr *worker.Error
	if !errors.As(err, &werr) || werr.Message != "422 Unprocessable Entity: bad input" {
		t.Fatalf("unexpected error %v", err)
	}
	if err := w.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestRegistryFromCatalogAndHealth(t *testing.T) {
	catalog, err := pipeline.New(
		pipeline.Stage{Name: "ok", Worker: pipeline.Worker{Command: []string{"/bin/sh"}}},
		pipeline.Stage{Name: "missing", Worker: pipeline.Worker{Command: []string{"definitely-not-a-binary-xyz"}}},
	)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	reg, err := worker.FromCatalog(catalog, nil)
	if err != nil {
		t.Fatalf("FromCatalog: %v", err)
	}
	health := reg.Health(context.Background(), []string{"missing", "ok", "ghost"})
	if len(health) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(health))
	}
	if health[0].Ready || !health[1].Ready || health[2].Ready {
		t.Fatalf("unexpected health %+v", health)
	}
	if _, err := reg.Get("ghost"); !errors.Is(err, pipeline.ErrUnknownStage) {
		t.Fatalf("expected ErrUnknownStage, got %v", err)
	}
}
