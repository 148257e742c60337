package stagecache_test

import (
	"context"
	"testing"

	"mediaflow/internal/jobs"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/stagecache"
	"mediaflow/internal/testsupport"
)

func TestCanReuseSentinelRule(t *testing.T) {
	cases := []struct {
		name     string
		previous map[string]any
		want     bool
	}{
		{"zero", map[string]any{"audio_path": 0}, true},
		{"false", map[string]any{"audio_path": false}, true},
		{"empty list", map[string]any{"audio_path": []any{}}, true},
		{"empty map", map[string]any{"audio_path": map[string]any{}}, true},
		{"value", map[string]any{"audio_path": "/w/a.wav"}, true},
		{"empty string", map[string]any{"audio_path": ""}, false},
		{"nil", map[string]any{"audio_path": nil}, false},
		{"missing key", map[string]any{"other": "x"}, false},
		{"nil record", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := stagecache.CanReuse([]string{"audio_path"}, tc.previous); got != tc.want {
				t.Fatalf("CanReuse(%v) = %v, want %v", tc.previous, got, tc.want)
			}
		})
	}
}

func TestCanReuseIgnoresUnrequiredFields(t *testing.T) {
	previous := map[string]any{"audio_path": "/w/a.wav", "legacy": nil}
	if !stagecache.CanReuse([]string{"audio_path"}, previous) {
		t.Fatal("fields outside the required list must not affect reuse")
	}
}

func TestFingerprintCoversDeclaredFieldsOnly(t *testing.T) {
	fields := []string{"audio_path", "language"}
	base := map[string]any{"audio_path": "/w/a.wav", "language": "en", "verbose": false}
	noisy := map[string]any{"audio_path": "/w/a.wav", "language": "en", "verbose": true}
	other := map[string]any{"audio_path": "/w/a.wav", "language": "de"}

	fp1, err := stagecache.Fingerprint("asr", base, fields)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	fp2, _ := stagecache.Fingerprint("asr", noisy, []string{"language", "audio_path"})
	fp3, _ := stagecache.Fingerprint("asr", other, fields)
	fp4, _ := stagecache.Fingerprint("tts", base, fields)
	if fp1 != fp2 {
		t.Fatal("undeclared parameters or field order must not change the fingerprint")
	}
	if fp1 == fp3 || fp1 == fp4 {
		t.Fatal("declared parameter or stage change must change the fingerprint")
	}
	if fp, _ := stagecache.Fingerprint("asr", base, nil); fp != "" {
		t.Fatalf("no cache fields should disable fingerprinting, got %q", fp)
	}
}

func TestCheckAgainstStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	stage := &pipeline.Stage{
		Name:        "asr",
		CacheFields: []string{"audio_path"},
		ReuseFields: []string{"transcript_path", "word_count"},
	}
	params := map[string]any{"audio_path": "/w/a.wav"}

	decision, err := stagecache.Check(ctx, store, stage, params)
	if err != nil || decision.Hit || decision.Fingerprint == "" {
		t.Fatalf("expected miss with fingerprint, got %#v, %v", decision, err)
	}

	if err := stagecache.Record(ctx, store, stage, decision.Fingerprint, "job-1", map[string]any{"transcript_path": "/w/t.json", "word_count": 0}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	decision, err = stagecache.Check(ctx, store, stage, params)
	if err != nil || !decision.Hit || decision.SourceJobID != "job-1" {
		t.Fatalf("expected hit, got %#v, %v", decision, err)
	}

	if err := store.RecordCache(ctx, "asr", decision.Fingerprint, "job-2", map[string]any{"transcript_path": ""}); err != nil {
		t.Fatalf("RecordCache: %v", err)
	}
	decision, err = stagecache.Check(ctx, store, stage, params)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if decision.Hit || !decision.Inconsistent || len(decision.Missing) != 2 {
		t.Fatalf("expected inconsistent miss, got %#v", decision)
	}
}

func TestCheckSkipsUncacheableStage(t *testing.T) {
	decision, err := stagecache.Check(context.Background(), nil, &pipeline.Stage{Name: "tts"}, nil)
	if err != nil || decision.Hit || decision.Fingerprint != "" {
		t.Fatalf("unexpected decision %#v, %v", decision, err)
	}
	var _ stagecache.Index = (*jobs.Store)(nil)
}
