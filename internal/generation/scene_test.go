package generation

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/ajmarsh/storyforge/internal/config"
	"github.com/ajmarsh/storyforge/internal/engine"
	"github.com/ajmarsh/storyforge/internal/memory"
	"github.com/ajmarsh/storyforge/internal/project"
	"github.com/ajmarsh/storyforge/internal/prompt"
)

// pipelineEngine serves prose, summaries, and embeddings for scene tests.
type pipelineEngine struct {
	sceneText   string
	summaryText string
	failEmbed   bool
	prompts     []string
}

func (e *pipelineEngine) Generate(ctx context.Context, model, p string, opts engine.Options) (string, error) {
	e.prompts = append(e.prompts, p)
	if strings.Contains(p, "Summarize the following scene") {
		return e.summaryText, nil
	}
	return e.sceneText, nil
}

func (e *pipelineEngine) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if e.failEmbed {
		return nil, errors.New("embed backend down")
	}
	v := make([]float32, 16)
	for i, r := range text {
		v[i%16] += float32(r%97) / 97
	}
	return v, nil
}

func (e *pipelineEngine) IsRunning(ctx context.Context) bool               { return true }
func (e *pipelineEngine) ListModels(ctx context.Context) ([]string, error) { return nil, nil }
func (e *pipelineEngine) HasModel(ctx context.Context, name string) bool   { return true }

func newTestWriter(t *testing.T, eng *pipelineEngine) (*SceneWriter, *memory.Manager, project.Paths) {
	t.Helper()
	paths := project.NewPaths(t.TempDir(), "voyage")
	if err := paths.EnsureStructure(); err != nil {
		t.Fatalf("EnsureStructure: %v", err)
	}

	store, err := memory.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	mgr := memory.NewManager(store, memory.NewEmbedder(eng, "test-embed"))

	client := NewClient(eng, config.ModelRole{Model: "writer"}, config.StageParams{Temperature: 0.8}, config.AdvancedConfig{MaxAttempts: 1})
	w := NewSceneWriter(client, client, prompt.New(""), mgr, paths,
		config.SceneConfig{TargetWords: 10, MinWords: 4, MaxWords: 30, MaxRetries: 1},
		config.MemoryConfig{TopK: 3, AutoSummarize: true, SummaryWords: 50},
		BookContext{Title: "The Long Crossing", BibleSummary: "A sea voyage.", StyleGuide: "Spare prose."},
	)
	return w, mgr, paths
}

func writeOutline(t *testing.T, paths project.Paths) string {
	t.Helper()
	p := paths.OutlinesDir() + "/chapter_01_scene_01.md"
	content := `---
title: Departure
pov: Mira
location: Veldt harbor
---

- Mira boards the Sable Gull
- The fleet departs at dawn
`
	if err := project.WriteFile(p, []byte(content)); err != nil {
		t.Fatalf("writing outline: %v", err)
	}
	return p
}

func TestSceneWriter_Generate(t *testing.T) {
	eng := &pipelineEngine{
		sceneText:   "Mira stepped onto the deck as the tide turned below her.",
		summaryText: "Mira boards the ship and the fleet departs.",
	}
	w, mgr, paths := newTestWriter(t, eng)
	outline := writeOutline(t, paths)

	res, err := w.Generate(context.Background(), 1, 1, outline)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}

	data, err := os.ReadFile(paths.ScenePath(project.StageRaw, 1, 1, "raw"))
	if err != nil {
		t.Fatalf("raw scene not written: %v", err)
	}
	if string(data) != eng.sceneText {
		t.Errorf("raw scene = %q", data)
	}

	// The prose prompt carries the outline metadata and book context.
	p := eng.prompts[0]
	for _, want := range []string{"The Long Crossing", "Departure", "Mira", "Veldt harbor", "Sable Gull", "Spare prose."} {
		if !strings.Contains(p, want) {
			t.Errorf("prose prompt missing %q", want)
		}
	}

	// The auto-summary was indexed for the next scene to retrieve.
	prev, err := mgr.PreviousSceneSummary("voyage", 1, 2)
	if err != nil {
		t.Fatalf("PreviousSceneSummary: %v", err)
	}
	if prev != eng.summaryText {
		t.Errorf("indexed summary = %q, want %q", prev, eng.summaryText)
	}
}

func TestSceneWriter_DegradedContinuity(t *testing.T) {
	eng := &pipelineEngine{
		sceneText: "Mira stepped onto the deck as the tide turned below her.",
		failEmbed: true,
	}
	w, _, paths := newTestWriter(t, eng)
	outline := writeOutline(t, paths)

	res, err := w.Generate(context.Background(), 1, 1, outline)
	if err != nil {
		t.Fatalf("Generate should proceed without continuity: %v", err)
	}
	if len(res.Warnings) == 0 {
		t.Error("expected a degraded-continuity warning")
	}
	if _, err := os.Stat(paths.ScenePath(project.StageRaw, 1, 1, "raw")); err != nil {
		t.Error("raw scene should still be written")
	}
}

func TestSceneWriter_MissingOutline(t *testing.T) {
	eng := &pipelineEngine{sceneText: "text"}
	w, _, paths := newTestWriter(t, eng)

	if _, err := w.Generate(context.Background(), 1, 1, paths.OutlinesDir()+"/nope.md"); err == nil {
		t.Fatal("expected error for missing outline")
	}
}
