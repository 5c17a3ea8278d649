package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storyforge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
project:
  name: The Long Crossing
  author: A. Marsh
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Project.Name != "The Long Crossing" {
		t.Errorf("Name = %q", cfg.Project.Name)
	}
	if cfg.Scene.TargetWords != 1500 || cfg.Scene.MinWords != 1200 || cfg.Scene.MaxWords != 1800 {
		t.Errorf("scene defaults = %+v", cfg.Scene)
	}
	if cfg.Memory.TopK != 5 || cfg.Memory.EmbedModel != "nomic-embed-text" {
		t.Errorf("memory defaults = %+v", cfg.Memory)
	}
	if cfg.Advanced.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Advanced.MaxAttempts)
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
project:
  name: Test
scene:
  target_words: 2000
  min_words: 1600
  max_words: 2400
  max_retries: 5
models:
  prose:
    model: llama3.1:70b
    fallback: mistral-nemo
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scene.TargetWords != 2000 || cfg.Scene.MaxRetries != 5 {
		t.Errorf("scene = %+v", cfg.Scene)
	}
	if cfg.Models.Prose.Model != "llama3.1:70b" || cfg.Models.Prose.Fallback != "mistral-nemo" {
		t.Errorf("prose role = %+v", cfg.Models.Prose)
	}
}

func TestLoad_SecondaryRolesInheritProse(t *testing.T) {
	path := writeConfig(t, `
project:
  name: Test
models:
  prose:
    kind: openai
    server: https://api.example.com/v1
    model: gpt-4o
    api_key: sk-test
  summary:
    model: phi3.5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Review role is unset, so it inherits everything from prose.
	review := cfg.Models.Role("review")
	if review.Model != "gpt-4o" || review.Kind != "openai" || review.Server != "https://api.example.com/v1" {
		t.Errorf("review role = %+v, want prose inheritance", review)
	}

	// Summary sets only the model; backend still comes from prose.
	summary := cfg.Models.Role("summary")
	if summary.Model != "phi3.5" {
		t.Errorf("summary model = %q", summary.Model)
	}
	if summary.Server != "https://api.example.com/v1" {
		t.Errorf("summary server = %q, want prose server", summary.Server)
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
project:
  name: Test
scene:
  target_words: 1500
  min_words: 1800
  max_words: 1200
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for max_words < min_words")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "project: [not: a: mapping")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STORYFORGE_SERVER", "http://gpu-box:11434")
	t.Setenv("STORYFORGE_API_KEY", "sk-env")

	path := writeConfig(t, `
project:
  name: Test
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Models.Prose.Server != "http://gpu-box:11434" {
		t.Errorf("prose server = %q, want env override", cfg.Models.Prose.Server)
	}
	if cfg.Memory.Server != "http://gpu-box:11434" {
		t.Errorf("memory server = %q, want env override", cfg.Memory.Server)
	}
	if cfg.Models.Prose.APIKey != "sk-env" {
		t.Errorf("api key = %q, want env override", cfg.Models.Prose.APIKey)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "storyforge.yaml")

	cfg := Default()
	cfg.Project.Name = "Round Trip"
	cfg.Scene.TargetWords = 1700
	cfg.Scene.MaxWords = 2000
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Project.Name != "Round Trip" || loaded.Scene.TargetWords != 1700 {
		t.Errorf("round trip lost values: %+v", loaded.Project)
	}
}

func TestRoleAndParams_FallBackToProse(t *testing.T) {
	cfg := Default()

	if got := cfg.Models.Role("unknown"); got.Model != cfg.Models.Prose.Model {
		t.Errorf("unknown role = %+v, want prose", got)
	}
	if got := cfg.Generation.Params("unknown"); got != cfg.Generation.Prose {
		t.Errorf("unknown params = %+v, want prose", got)
	}
}

func TestAdvancedDurations(t *testing.T) {
	a := AdvancedConfig{RequestTimeout: 600, RetryDelay: 2}
	if a.Timeout().Seconds() != 600 {
		t.Errorf("Timeout = %v", a.Timeout())
	}
	if a.Delay().Seconds() != 2 {
		t.Errorf("Delay = %v", a.Delay())
	}
}
