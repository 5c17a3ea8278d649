package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ajmarsh/storyforge/internal/config"
	"github.com/ajmarsh/storyforge/internal/memory"
	"github.com/ajmarsh/storyforge/internal/project"
	"github.com/ajmarsh/storyforge/internal/prompt"
)

// BookContext is the static book-level material every scene prompt gets.
type BookContext struct {
	Title        string
	BibleSummary string
	StyleGuide   string
}

// SceneResult reports a generated scene.
type SceneResult struct {
	Path      string
	WordCount int
	Attempts  int
	Warnings  []string
}

// SceneWriter generates raw scene drafts: it assembles the prompt from
// the outline, retrieved continuity, and book context, runs the prose
// model with word-count retry, writes the draft, and feeds a summary
// back into the continuity store.
type SceneWriter struct {
	prose   *Client
	summary *Client
	prompts *prompt.Engine
	memory  *memory.Manager
	paths   project.Paths
	scene   config.SceneConfig
	mem     config.MemoryConfig
	book    BookContext
	logger  *slog.Logger
}

// NewSceneWriter wires a SceneWriter. summary may equal prose when the
// roles share a model.
func NewSceneWriter(prose, summary *Client, prompts *prompt.Engine, mem *memory.Manager, paths project.Paths, sceneCfg config.SceneConfig, memCfg config.MemoryConfig, book BookContext) *SceneWriter {
	return &SceneWriter{
		prose:   prose,
		summary: summary,
		prompts: prompts,
		memory:  mem,
		paths:   paths,
		scene:   sceneCfg,
		mem:     memCfg,
		book:    book,
		logger:  slog.Default(),
	}
}

// Generate writes the raw draft for one scene. Continuity retrieval and
// auto-summary failures degrade to warnings; only prompt assembly and
// inference failures are fatal.
func (w *SceneWriter) Generate(ctx context.Context, chapter, scene int, outlinePath string) (SceneResult, error) {
	outline, err := project.LoadOutline(outlinePath)
	if err != nil {
		return SceneResult{}, err
	}

	var warnings []string

	continuity, err := w.memory.ContextForScene(ctx, w.paths.Book(), chapter, scene, outline.Body, w.mem.TopK)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("continuity retrieval failed, generating without it: %v", err))
		w.logger.Warn("continuity retrieval failed", "chapter", chapter, "scene", scene, "error", err)
		continuity = ""
	}
	if continuity == "" {
		continuity = "(none)"
	}

	prev, err := w.memory.PreviousSceneSummary(w.paths.Book(), chapter, scene)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("previous scene lookup failed: %v", err))
		prev = ""
	}
	if prev == "" {
		prev = "(this is the first scene)"
	}

	p, err := w.prompts.Render("prose_generation", map[string]string{
		"story_title":            w.book.Title,
		"story_bible_summary":    w.book.BibleSummary,
		"retrieved_continuity":   continuity,
		"previous_scene_summary": prev,
		"chapter_number":         strconv.Itoa(chapter),
		"scene_number":           strconv.Itoa(scene),
		"scene_title":            outline.Title,
		"pov_character":          outline.POV,
		"location":               outline.Location,
		"detailed_scene_outline": outline.Body,
		"style_guide_content":    w.book.StyleGuide,
		"target_word_count":      strconv.Itoa(w.scene.TargetWords),
		"min_words":              strconv.Itoa(w.scene.MinWords),
		"max_words":              strconv.Itoa(w.scene.MaxWords),
	})
	if err != nil {
		return SceneResult{}, err
	}

	res, err := w.prose.Complete(ctx, Request{
		Prompt:      p,
		TargetWords: w.scene.TargetWords,
		MinWords:    w.scene.MinWords,
		MaxWords:    w.scene.MaxWords,
		MaxRetries:  w.scene.MaxRetries,
	})
	if err != nil {
		return SceneResult{}, err
	}
	if res.Warning != "" {
		warnings = append(warnings, res.Warning)
	}

	path := w.paths.ScenePath(project.StageRaw, chapter, scene, "raw")
	if err := project.WriteFile(path, []byte(res.Text)); err != nil {
		return SceneResult{}, err
	}
	w.logger.Info("scene generated", "chapter", chapter, "scene", scene, "words", res.WordCount, "attempts", res.Attempts)

	if w.mem.AutoSummarize {
		if warn := w.indexSummary(ctx, chapter, scene, res.Text); warn != "" {
			warnings = append(warnings, warn)
		}
	}

	return SceneResult{Path: path, WordCount: res.WordCount, Attempts: res.Attempts, Warnings: warnings}, nil
}

// indexSummary condenses the scene and stores it for future retrieval.
// Failure leaves the draft intact, so it is only a warning.
func (w *SceneWriter) indexSummary(ctx context.Context, chapter, scene int, text string) string {
	summary, err := w.summary.Summarize(ctx, w.prompts, text, w.mem.SummaryWords)
	if err != nil {
		return fmt.Sprintf("scene summary failed: %v", err)
	}
	if _, err := w.memory.AddSceneSummary(ctx, summary, w.paths.Book(), chapter, scene); err != nil {
		return fmt.Sprintf("indexing scene summary failed: %v", err)
	}
	return ""
}
