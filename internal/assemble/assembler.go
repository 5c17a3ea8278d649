// Package assemble stitches refined scenes into chapters and chapters
// into a manuscript.
package assemble

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/ajmarsh/storyforge/internal/config"
	"github.com/ajmarsh/storyforge/internal/generation"
	"github.com/ajmarsh/storyforge/internal/project"
	"github.com/ajmarsh/storyforge/internal/prompt"
)

const sceneSeparator = "\n\n---\n\n"

// MissingSceneError reports a gap in a chapter's final scenes. Assembly
// refuses to produce a chapter with a hole in it.
type MissingSceneError struct {
	Chapter int
	Scene   int
}

func (e *MissingSceneError) Error() string {
	return fmt.Sprintf("chapter %d is missing final scene %d", e.Chapter, e.Scene)
}

// Assembler builds chapter files from final scene artifacts.
type Assembler struct {
	paths   project.Paths
	client  *generation.Client
	prompts *prompt.Engine
	chapter config.ChapterConfig
	logger  *slog.Logger
}

// New creates an Assembler. client runs the smoothing pass and may be
// nil when smoothing is disabled.
func New(paths project.Paths, client *generation.Client, prompts *prompt.Engine, chapter config.ChapterConfig) *Assembler {
	return &Assembler{
		paths:   paths,
		client:  client,
		prompts: prompts,
		chapter: chapter,
		logger:  slog.Default(),
	}
}

// Chapter assembles the chapter from its final scenes, writes the raw
// assembly, and optionally smooths it. Returns the path of the best
// available chapter file and a warning when smoothing was skipped after
// a failure.
func (a *Assembler) Chapter(ctx context.Context, chapter int, smooth bool) (string, string, error) {
	text, err := a.concatenate(chapter)
	if err != nil {
		return "", "", err
	}

	rawPath := a.paths.ChapterPath(chapter, "assembled")
	if err := project.WriteFile(rawPath, []byte(text)); err != nil {
		return "", "", err
	}
	a.logger.Info("chapter assembled", "chapter", chapter, "words", generation.CountWords(text))

	if !smooth || !a.chapter.SmoothingEnabled || a.client == nil {
		return rawPath, "", nil
	}

	smoothed, err := a.smooth(ctx, text)
	if err != nil {
		warning := fmt.Sprintf("smoothing failed, keeping raw assembly: %v", err)
		a.logger.Warn("smoothing failed", "chapter", chapter, "error", err)
		return rawPath, warning, nil
	}

	finalPath := a.paths.ChapterPath(chapter, "final")
	if err := project.WriteFile(finalPath, []byte(smoothed)); err != nil {
		return "", "", err
	}
	return finalPath, "", nil
}

// concatenate joins the chapter's final scenes deterministically: a
// chapter heading, then scenes in ascending order separated by rules.
// Scenes must form a contiguous run starting at 1.
func (a *Assembler) concatenate(chapter int) (string, error) {
	entries, err := os.ReadDir(a.paths.SceneDir(project.StageFinal))
	if err != nil {
		return "", fmt.Errorf("reading final scenes: %w", err)
	}

	scenes := map[int]string{}
	for _, e := range entries {
		ch, sc, label, ok := project.ParseSceneFileName(e.Name())
		if !ok || ch != chapter || label != project.FinalLabel {
			continue
		}
		scenes[sc] = a.paths.ScenePath(project.StageFinal, ch, sc, label)
	}
	if len(scenes) == 0 {
		return "", &MissingSceneError{Chapter: chapter, Scene: 1}
	}

	nums := make([]int, 0, len(scenes))
	for n := range scenes {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	for i, n := range nums {
		if n != i+1 {
			return "", &MissingSceneError{Chapter: chapter, Scene: i + 1}
		}
	}

	parts := make([]string, 0, len(nums)+1)
	parts = append(parts, fmt.Sprintf("# Chapter %d", chapter))
	for _, n := range nums {
		data, err := os.ReadFile(scenes[n])
		if err != nil {
			return "", fmt.Errorf("reading scene %d: %w", n, err)
		}
		parts = append(parts, strings.TrimSpace(stripFrontMatter(string(data))))
	}

	return strings.Join(parts, sceneSeparator) + "\n", nil
}

func (a *Assembler) smooth(ctx context.Context, text string) (string, error) {
	p, err := a.prompts.Render("smooth_chapter", map[string]string{"chapter_content": text})
	if err != nil {
		return "", err
	}
	res, err := a.client.Complete(ctx, generation.Request{Prompt: p, NumPredict: a.chapter.SmoothNumPredict})
	if err != nil {
		return "", err
	}
	// A smoothing pass that eats most of the chapter is worse than none.
	if generation.CountWords(res.Text) < generation.CountWords(text)/2 {
		return "", fmt.Errorf("smoothed chapter lost more than half its words")
	}
	return strings.TrimSpace(res.Text) + "\n", nil
}

// Manuscript stitches every assembled chapter into one markdown file
// with a title page, preferring smoothed chapters over raw assemblies.
func (a *Assembler) Manuscript(title, author string) (string, error) {
	entries, err := os.ReadDir(a.paths.ChaptersDir())
	if err != nil {
		return "", fmt.Errorf("reading chapters: %w", err)
	}

	best := map[int]string{} // chapter -> path, final wins over assembled
	for _, e := range entries {
		var ch int
		var label string
		if _, err := fmt.Sscanf(e.Name(), "chapter_%d_%s", &ch, &label); err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(label, "final"):
			best[ch] = a.paths.ChapterPath(ch, "final")
		case strings.HasPrefix(label, "assembled"):
			if _, ok := best[ch]; !ok {
				best[ch] = a.paths.ChapterPath(ch, "assembled")
			}
		}
	}
	if len(best) == 0 {
		return "", fmt.Errorf("no assembled chapters found in %s", a.paths.ChaptersDir())
	}

	nums := make([]int, 0, len(best))
	for n := range best {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	parts := []string{fmt.Sprintf("# %s\n\nby %s", title, author)}
	for _, n := range nums {
		data, err := os.ReadFile(best[n])
		if err != nil {
			return "", fmt.Errorf("reading chapter %d: %w", n, err)
		}
		parts = append(parts, strings.TrimSpace(string(data)))
	}

	path := a.paths.ManuscriptPath()
	if err := project.WriteFile(path, []byte(strings.Join(parts, "\n\n\\newpage\n\n")+"\n")); err != nil {
		return "", err
	}
	return path, nil
}

// stripFrontMatter removes a leading YAML front-matter block so scene
// metadata never leaks into the chapter text.
func stripFrontMatter(text string) string {
	trimmed := strings.TrimLeft(text, "\n")
	if !strings.HasPrefix(trimmed, "---\n") {
		return text
	}
	rest := strings.TrimPrefix(trimmed, "---\n")
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return text
	}
	rest = rest[end+len("\n---"):]
	if i := strings.Index(rest, "\n"); i >= 0 {
		return rest[i+1:]
	}
	return ""
}
