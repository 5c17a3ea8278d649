package main

import (
	"strings"
	"testing"

	"github.com/ajmarsh/storyforge/internal/config"
	"github.com/ajmarsh/storyforge/internal/engine"
)

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorGreen, "hello"); strings.Contains(result, "\033") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	if result := colorize(colorGreen, "hello"); !strings.Contains(result, "\033") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestParseChapterScene(t *testing.T) {
	ch, sc, err := parseChapterScene("3", "12")
	if err != nil {
		t.Fatalf("parseChapterScene: %v", err)
	}
	if ch != 3 || sc != 12 {
		t.Errorf("got (%d, %d), want (3, 12)", ch, sc)
	}

	for _, bad := range [][2]string{{"0", "1"}, {"1", "0"}, {"x", "1"}, {"1", "-2"}} {
		if _, _, err := parseChapterScene(bad[0], bad[1]); err == nil {
			t.Errorf("parseChapterScene(%q, %q) should fail", bad[0], bad[1])
		}
	}
}

func TestBookMeta_Fallbacks(t *testing.T) {
	cfg := config.Config{}
	cfg.Project.Name = "Project Title"
	cfg.Project.Author = "Project Author"

	title, author := bookMeta(manuscriptCmd, cfg, "voyage")
	if title != "Project Title" || author != "Project Author" {
		t.Errorf("got (%q, %q), want project metadata", title, author)
	}

	title, author = bookMeta(manuscriptCmd, config.Config{}, "voyage")
	if title != "voyage" {
		t.Errorf("title = %q, want book name fallback", title)
	}
	if author != "Unknown" {
		t.Errorf("author = %q, want Unknown", author)
	}
}

func TestNewEngine_PicksBackend(t *testing.T) {
	if _, ok := newEngine(config.ModelRole{Kind: "ollama", Server: "http://localhost:11434"}, 0).(*engine.Ollama); !ok {
		t.Error("kind ollama should build an Ollama engine")
	}
	if _, ok := newEngine(config.ModelRole{Kind: "openai", Server: "https://api.example.com/v1", APIKey: "sk"}, 0).(*engine.OpenAI); !ok {
		t.Error("kind openai should build an OpenAI engine")
	}
	// Unknown kinds fall back to the local default.
	if _, ok := newEngine(config.ModelRole{Server: "http://localhost:11434"}, 0).(*engine.Ollama); !ok {
		t.Error("empty kind should build an Ollama engine")
	}
}
