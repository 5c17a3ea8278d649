// Package refine runs editing passes over raw scene drafts.
package refine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ajmarsh/storyforge/internal/config"
	"github.com/ajmarsh/storyforge/internal/generation"
	"github.com/ajmarsh/storyforge/internal/project"
	"github.com/ajmarsh/storyforge/internal/prompt"
)

// passOrder is the canonical pass sequence. Cohesion fixes structure
// before style touches the prose, and polish runs last so its surgical
// edits survive.
var passOrder = []string{"cohesion", "style", "polish"}

// AllPasses returns the canonical pass sequence.
func AllPasses() []string {
	return append([]string(nil), passOrder...)
}

// NormalizePasses validates the requested pass names and returns them in
// canonical order, regardless of input order. Unknown names are an error.
func NormalizePasses(input []string) ([]string, error) {
	if len(input) == 0 {
		return AllPasses(), nil
	}
	requested := make(map[string]bool, len(input))
	for _, name := range input {
		name = strings.ToLower(strings.TrimSpace(name))
		known := false
		for _, p := range passOrder {
			if p == name {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown refinement pass %q (valid: %s)", name, strings.Join(passOrder, ", "))
		}
		requested[name] = true
	}
	var out []string
	for _, p := range passOrder {
		if requested[p] {
			out = append(out, p)
		}
	}
	return out, nil
}

// Refiner drives refinement passes for one book.
type Refiner struct {
	client     *generation.Client
	prompts    *prompt.Engine
	paths      project.Paths
	scene      config.SceneConfig
	styleGuide string
	logger     *slog.Logger

	// Confirm, when set, is asked before each pass runs; returning false
	// skips the pass. Used by interactive mode.
	Confirm func(pass string) bool
}

// New creates a Refiner. styleGuide is the style-guide document content,
// may be empty.
func New(client *generation.Client, prompts *prompt.Engine, paths project.Paths, scene config.SceneConfig, styleGuide string) *Refiner {
	return &Refiner{
		client:     client,
		prompts:    prompts,
		paths:      paths,
		scene:      scene,
		styleGuide: styleGuide,
		logger:     slog.Default(),
	}
}

// Scene refines one scene through the given passes, writing one
// artifact per pass and a final artifact after the last. inputPath
// overrides the default raw draft location when non-empty. Returns the
// final text and any word-count warnings; an inference error aborts the
// scene.
func (r *Refiner) Scene(ctx context.Context, chapter, scene int, inputPath string, passes []string) (string, []string, error) {
	passes, err := NormalizePasses(passes)
	if err != nil {
		return "", nil, err
	}

	if inputPath == "" {
		inputPath = r.paths.ScenePath(project.StageRaw, chapter, scene, "raw")
	}
	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return "", nil, fmt.Errorf("reading raw scene: %w", err)
	}

	text := string(raw)
	version := r.paths.NextVersion(chapter, scene)
	var warnings []string

	for _, pass := range passes {
		if r.Confirm != nil && !r.Confirm(pass) {
			r.logger.Info("pass skipped", "pass", pass, "chapter", chapter, "scene", scene)
			continue
		}

		refined, warning, err := r.runPass(ctx, pass, text)
		if err != nil {
			return "", warnings, fmt.Errorf("%s pass for chapter %d scene %d: %w", pass, chapter, scene, err)
		}
		if warning != "" {
			warnings = append(warnings, fmt.Sprintf("%s pass: %s", pass, warning))
		}
		text = refined

		label := fmt.Sprintf("v%d_%s", version, pass)
		path := r.paths.ScenePath(project.StageRefined, chapter, scene, label)
		if err := project.WriteFile(path, []byte(text)); err != nil {
			return "", warnings, err
		}
		r.logger.Info("pass complete", "pass", pass, "chapter", chapter, "scene", scene, "words", generation.CountWords(text))
	}

	finalPath := r.paths.ScenePath(project.StageFinal, chapter, scene, project.FinalLabel)
	if err := project.WriteFile(finalPath, []byte(text)); err != nil {
		return "", warnings, err
	}
	return text, warnings, nil
}

// runPass executes one editing pass. Word-count drift is a warning, not
// a failure: an editor shortening a scene slightly is acceptable.
func (r *Refiner) runPass(ctx context.Context, pass, text string) (string, string, error) {
	vars := map[string]string{"scene_content": text}
	if pass == "style" {
		vars["style_guide_content"] = r.styleGuide
	}
	p, err := r.prompts.Render("refine_"+pass, vars)
	if err != nil {
		return "", "", err
	}

	res, err := r.client.Complete(ctx, generation.Request{Prompt: p})
	if err != nil {
		return "", "", err
	}

	var warning string
	if ok, count, verdict := generation.ValidateWordCount(res.Text, r.scene.TargetWords, r.scene.MinWords, r.scene.MaxWords); !ok {
		warning = verdict
		r.logger.Warn("refined scene drifted out of bounds", "pass", pass, "words", count)
	}
	return strings.TrimSpace(res.Text) + "\n", warning, nil
}
