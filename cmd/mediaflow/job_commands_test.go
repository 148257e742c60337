package main

import (
	"encoding/json"
	"strings"
	"testing"

	"mediaflow/internal/api"
	"mediaflow/internal/jobs"
)

func TestSubmitRunShowAndList(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"submit", "--stage", "greet", "--set", "name=ada", "--run", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("submit --run: %v", err)
	}
	var view jobs.View
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode run output: %v\n%s", err, out)
	}
	if view.Status != jobs.JobCompleted {
		t.Fatalf("expected completed job, got %s (%s)", view.Status, view.Error)
	}
	if len(view.Stages) != 1 || view.Stages[0].View.Output["greeting"] != "hello ada" {
		t.Fatalf("unexpected stage views %+v", view.Stages)
	}

	out, _, err = runCLI(t, []string{"show", view.JobID}, env.configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, view.JobID)
	requireContains(t, out, "greet")

	out, _, err = runCLI(t, []string{"list", "--status", "completed", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var listed api.JobListResponse
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("decode list output: %v", err)
	}
	if len(listed.Jobs) != 1 || listed.Jobs[0].JobID != view.JobID {
		t.Fatalf("unexpected list %+v", listed.Jobs)
	}

	out, _, err = runCLI(t, []string{"list", "--status", "failed"}, env.configPath)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	requireContains(t, out, "No jobs")
}

func TestRunReportsStageFailure(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"submit", "--stage", "greet", "--set", "name=bob"}, env.configPath)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	requireContains(t, out, "Submitted job")
	jobID := strings.Fields(out)[2]

	out, _, err = runCLI(t, []string{"run", jobID, "--json"}, env.configPath)
	if err == nil {
		t.Fatal("expected run to fail for unexpected input")
	}
	var view jobs.View
	if decodeErr := json.Unmarshal([]byte(out), &view); decodeErr != nil {
		t.Fatalf("decode run output: %v\n%s", decodeErr, out)
	}
	if view.Status != jobs.JobFailed {
		t.Fatalf("expected failed job, got %s", view.Status)
	}
	if view.Stages[0].View.Error == nil {
		t.Fatal("expected stage error in view")
	}

	if _, _, err := runCLI(t, []string{"cancel", jobID}, env.configPath); err == nil {
		t.Fatal("expected cancel of a failed job to be rejected")
	}
}

func TestSubmitRejectsUnknownStage(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"submit", "--stage", "nope"}, env.configPath); err == nil {
		t.Fatal("expected unknown stage to fail")
	}
}
