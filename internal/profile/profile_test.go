package profile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vidmatrix/internal/model"
)

const ltxProfile = `Model:
  endpoint: lightricks/ltx-video:8c47da66
  code-nickname: ltx
pricing:
  cost_per_second: 0.05
duration_type: frames
fps: 24
duration_min: 9
duration_max: 257
duration_param_name: num_frames
prompt_prefix: "cinematic,"
params:
  resolution: 720p
  guidance:
    scale: 3.5
    steps: [1, 2]
`

func writeProfile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadValidProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "ltx.yaml", ltxProfile)

	profiles, err := Load(dir)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(profiles))
	}
	p := profiles[0]
	if p.Name != "ltx" || p.Nickname != "ltx" || p.ModelID != "lightricks/ltx-video:8c47da66" {
		t.Fatalf("unexpected identity: %+v", p)
	}
	if p.Pricing.CostPerSecond != 0.05 {
		t.Fatalf("unexpected pricing: %+v", p.Pricing)
	}
	want := model.DurationRule{Type: model.DurationFrames, FPS: 24, Min: 9, Max: 257, OutputParam: "num_frames"}
	if p.Duration != want {
		t.Fatalf("unexpected duration rule: %+v", p.Duration)
	}
	if p.ImageParam != "image" {
		t.Fatalf("expected default image param, got %q", p.ImageParam)
	}
	if p.PromptPrefix != "cinematic," || p.PromptSuffix != "" {
		t.Fatalf("unexpected prompt affixes: %q %q", p.PromptPrefix, p.PromptSuffix)
	}
	guidance, ok := p.Parameters["guidance"].(map[string]any)
	if !ok || guidance["steps"] == nil {
		t.Fatalf("expected nested params preserved, got %#v", p.Parameters)
	}
}

func TestLoadNaturalOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"p10.yaml", "p2.yml", "p1.yaml"} {
		writeProfile(t, dir, name, ltxProfile)
	}
	profiles, err := Load(dir)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	var got []string
	for _, p := range profiles {
		got = append(got, p.Name)
	}
	if strings.Join(got, ",") != "p1,p2,p10" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestLoadNoProfiles(t *testing.T) {
	if _, err := Load(t.TempDir()); !errors.Is(err, ErrNoProfiles) {
		t.Fatalf("expected ErrNoProfiles, got %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, ErrNoProfiles) {
		t.Fatalf("expected ErrNoProfiles for missing dir, got %v", err)
	}
}

func TestParseRejectsInvalidFields(t *testing.T) {
	cases := []struct {
		name  string
		edit  func(string) string
		field string
	}{
		{"missing model", func(s string) string {
			return strings.Replace(s, "Model:\n  endpoint: lightricks/ltx-video:8c47da66\n  code-nickname: ltx\n", "", 1)
		}, "Model"},
		{"empty endpoint", func(s string) string {
			return strings.Replace(s, "endpoint: lightricks/ltx-video:8c47da66", `endpoint: ""`, 1)
		}, "Model.endpoint"},
		{"negative price", func(s string) string {
			return strings.Replace(s, "cost_per_second: 0.05", "cost_per_second: -0.01", 1)
		}, "pricing.cost_per_second"},
		{"string price", func(s string) string {
			return strings.Replace(s, "cost_per_second: 0.05", `cost_per_second: "0.05"`, 1)
		}, "pricing.cost_per_second"},
		{"bad duration type", func(s string) string {
			return strings.Replace(s, "duration_type: frames", "duration_type: minutes", 1)
		}, "duration_type"},
		{"zero fps", func(s string) string { return strings.Replace(s, "fps: 24", "fps: 0", 1) }, "fps"},
		{"fractional fps", func(s string) string { return strings.Replace(s, "fps: 24", "fps: 23.976", 1) }, "fps"},
		{"min above max", func(s string) string {
			return strings.Replace(s, "duration_min: 9", "duration_min: 300", 1)
		}, "duration_min"},
		{"zero max", func(s string) string {
			return strings.Replace(s, "duration_max: 257", "duration_max: 0", 1)
		}, "duration_max"},
		{"missing param name", func(s string) string {
			return strings.Replace(s, "duration_param_name: num_frames\n", "", 1)
		}, "duration_param_name"},
		{"missing params", func(s string) string {
			return s[:strings.Index(s, "params:")]
		}, "params"},
		{"non-string prefix", func(s string) string {
			return strings.Replace(s, `prompt_prefix: "cinematic,"`, "prompt_prefix: 12", 1)
		}, "prompt_prefix"},
	}

	for _, tc := range cases {
		_, err := Parse("ltx.yaml", []byte(tc.edit(ltxProfile)))
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%s: expected *ValidationError, got %v", tc.name, err)
		}
		if ve.Field != tc.field {
			t.Fatalf("%s: expected field %q, got %q (%v)", tc.name, tc.field, ve.Field, err)
		}
		if ve.File != "ltx.yaml" {
			t.Fatalf("%s: expected file name in error, got %q", tc.name, ve.File)
		}
	}
}

func TestParseAcceptsIntegralFloatsAndEmptyParams(t *testing.T) {
	body := strings.Replace(ltxProfile, "fps: 24", "fps: 24.0", 1)
	body = body[:strings.Index(body, "params:")] + "params:\n"
	p, err := Parse("ltx.yaml", []byte(body))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if p.Duration.FPS != 24 {
		t.Fatalf("expected fps 24, got %d", p.Duration.FPS)
	}
	if p.Parameters == nil || len(p.Parameters) != 0 {
		t.Fatalf("expected empty params map, got %#v", p.Parameters)
	}
}

func TestLoadFailsWholeSetOnInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "good.yaml", ltxProfile)
	writeProfile(t, dir, "broken.yaml", "Model: [unclosed\n")
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "broken.yaml") {
		t.Fatalf("expected invalid YAML error naming the file, got %v", err)
	}
}
