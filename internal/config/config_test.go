package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultTemplateIsValid(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault("Acme hiring")))
	if err != nil {
		t.Fatalf("default template: %v", err)
	}
	if cfg.Interview.Title != "Acme hiring" || len(cfg.Questions) != MaxQuestions {
		t.Fatalf("unexpected default %+v", cfg.Interview)
	}
	prompts := cfg.Prompts()
	if prompts[4].Index != 4 || !strings.Contains(prompts[4].Text, "failed") {
		t.Fatalf("prompt %+v", prompts[4])
	}
	if d := Default(); d.Interview.Title != "Video Interview" || d.ArtifactsDir("/w") != filepath.Join("/w", "artifacts") {
		t.Fatalf("Default() %+v", d.Interview)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"no intro": `questions: [{video: a.mp4}]`,
		"no questions": `interview: {intro_video: i.mp4}`,
		"too many": `interview: {intro_video: i.mp4}
questions: [{video: a}, {video: b}, {video: c}, {video: d}, {video: e}, {video: f}]`,
		"empty video": `interview: {intro_video: i.mp4}
questions: [{text: hello}]`,
		"min over max": `interview: {intro_video: i.mp4}
questions: [{video: a}]
capture: {max_duration: 10s, min_duration: 20s}`,
		"bad webhook": `interview: {intro_video: i.mp4}
questions: [{video: a}]
webhooks: [{url: ftp://x}]`,
		"bad duration": `interview: {intro_video: i.mp4}
questions: [{video: a}]
capture: {max_duration: soon}`,
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestDurationsAndFallbackText(t *testing.T) {
	cfg, err := FromYAML([]byte(`interview: {intro_video: i.mp4}
questions: [{video: a}, {video: b, text: "Why us?"}]
capture: {max_duration: 90, min_duration: 2s}
storage: {artifacts_dir: /data/out}
webhooks: [{url: "http://hook", enabled: false}, {url: "https://hook2"}]`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Capture.MaxDuration.Std() != 90*time.Second || cfg.Capture.MinDuration.Std() != 2*time.Second {
		t.Fatalf("durations %v %v", cfg.Capture.MaxDuration.Std(), cfg.Capture.MinDuration.Std())
	}
	p := cfg.Prompts()
	if p[0].Text != "Question 1" || p[1].Text != "Why us?" {
		t.Fatalf("prompts %+v", p)
	}
	if cfg.ArtifactsDir("ws") != "/data/out" {
		t.Fatalf("artifacts dir %s", cfg.ArtifactsDir("ws"))
	}
	if cfg.Webhooks[0].Active() || !cfg.Webhooks[1].Active() {
		t.Fatalf("webhook activity")
	}
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	if cfg, err := LoadOptional(dir); err != nil || cfg != nil {
		t.Fatalf("missing file: %v %v", cfg, err)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "vinterview init") {
		t.Fatalf("expected init hint, got %v", err)
	}
	if err := os.WriteFile(Path(dir), []byte(GenerateDefault("")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Questions) != 5 {
		t.Fatalf("questions %d", len(cfg.Questions))
	}
}
