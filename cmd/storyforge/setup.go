package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ajmarsh/storyforge/internal/config"
	"github.com/ajmarsh/storyforge/internal/engine"
	"github.com/ajmarsh/storyforge/internal/generation"
	"github.com/ajmarsh/storyforge/internal/memory"
	"github.com/ajmarsh/storyforge/internal/project"
)

// loadConfig reads the config file and initializes logging from it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := setupLogging(cfg.Logging); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func setupLogging(cfg config.LoggingConfig) error {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	w := os.Stderr
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		w = f
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return nil
}

// newEngine picks the backend implementation for a model role.
func newEngine(role config.ModelRole, timeout time.Duration) engine.Engine {
	if role.Kind == "openai" {
		return engine.NewOpenAI(role.Server, role.APIKey, timeout)
	}
	return engine.NewOllama(role.Server, timeout)
}

// newClient builds the generation client for one role name.
func newClient(cfg config.Config, roleName string) *generation.Client {
	role := cfg.Models.Role(roleName)
	eng := newEngine(role, cfg.Advanced.Timeout())
	return generation.NewClient(eng, role, cfg.Generation.Params(roleName), cfg.Advanced)
}

// openMemory opens the continuity store for the book. The returned
// cleanup must be called before exit.
func openMemory(cfg config.Config, paths project.Paths) (*memory.Manager, func(), error) {
	store, err := memory.Open(paths.MemoryDir(cfg.Memory.DataDir))
	if err != nil {
		return nil, nil, fmt.Errorf("opening continuity store: %w", err)
	}

	// Embeddings always go through Ollama: embed models are local even
	// when prose runs on a remote backend.
	eng := engine.NewOllama(cfg.Memory.Server, cfg.Advanced.Timeout())
	embedder := memory.NewEmbedder(eng, cfg.Memory.EmbedModel)

	cleanup := func() {
		if err := store.Close(); err != nil {
			printWarning("closing continuity store: %v", err)
		}
	}
	return memory.NewManager(store, embedder), cleanup, nil
}

// loadBookContext reads the book-level documents every scene prompt gets.
// Both are optional; generation degrades gracefully without them.
func loadBookContext(cfg config.Config, paths project.Paths) generation.BookContext {
	title := cfg.Project.Name
	if title == "" {
		title = paths.Book()
	}
	return generation.BookContext{
		Title:        title,
		BibleSummary: readOptional(filepath.Join(paths.StoryBibleDir(), "summary.md")),
		StyleGuide:   readOptional(filepath.Join(paths.StoryBibleDir(), "style_guide.md")),
	}
}

func readOptional(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
