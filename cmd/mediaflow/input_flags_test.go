package main

import (
	"reflect"
	"testing"
)

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]any
		wantErr bool
	}{
		{name: "empty", pairs: nil, want: nil},
		{name: "string", pairs: []string{"path=/media/in.mkv"}, want: map[string]any{"path": "/media/in.mkv"}},
		{name: "typed", pairs: []string{"n=3", "on=true", "langs=[\"en\"]"}, want: map[string]any{"n": float64(3), "on": true, "langs": []any{"en"}}},
		{name: "value with equals", pairs: []string{"q=a=b"}, want: map[string]any{"q": "a=b"}},
		{name: "missing equals", pairs: []string{"bare"}, wantErr: true},
		{name: "empty key", pairs: []string{" =x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAssignments(tt.pairs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParseStageParams(t *testing.T) {
	got, err := parseStageParams([]string{"asr.language=de", "asr.beam=5", "encode.crf=20"})
	if err != nil {
		t.Fatalf("parseStageParams: %v", err)
	}
	want := map[string]map[string]any{
		"asr":    {"language": "de", "beam": float64(5)},
		"encode": {"crf": float64(20)},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}

	for _, bad := range []string{"language=de", ".x=1", "asr.=1", "asr.language"} {
		if _, err := parseStageParams([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestDisplayLabel(t *testing.T) {
	cases := map[string]string{
		"extract_audio": "Extract Audio",
		"asr":           "Asr",
		"speaker-diar":  "Speaker Diar",
		"  ":            "",
	}
	for in, want := range cases {
		if got := displayLabel(in); got != want {
			t.Fatalf("displayLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
