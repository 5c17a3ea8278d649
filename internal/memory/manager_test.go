package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/ajmarsh/storyforge/internal/engine"
)

// stubEngine embeds deterministically from text content so identical
// texts map to identical vectors.
type stubEngine struct {
	failEmbed bool
}

func (s *stubEngine) Generate(ctx context.Context, model, prompt string, opts engine.Options) (string, error) {
	return "", nil
}

func (s *stubEngine) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if s.failEmbed {
		return nil, errors.New("embed backend down")
	}
	v := make([]float32, 16)
	for i, r := range text {
		v[i%16] += float32(r%97) / 97
	}
	return v, nil
}

func (s *stubEngine) IsRunning(ctx context.Context) bool               { return !s.failEmbed }
func (s *stubEngine) ListModels(ctx context.Context) ([]string, error) { return nil, nil }
func (s *stubEngine) HasModel(ctx context.Context, name string) bool   { return true }

func newTestManager(t *testing.T, eng *stubEngine) *Manager {
	t.Helper()
	store := openTestStore(t)
	return NewManager(store, NewEmbedder(eng, "test-embed"))
}

func TestIndexAndQuery_RoundTrip(t *testing.T) {
	mgr := newTestManager(t, &stubEngine{})
	ctx := context.Background()

	texts := []string{
		"Mira carries her mother's brass compass everywhere",
		"The harbor city of Veldt floods every autumn",
		"Iron is poisonous to the fen spirits",
	}
	for i, text := range texts {
		if _, err := mgr.IndexFact(ctx, Fact{
			Book:     "voyage",
			Category: CategoryWorld,
			Text:     text,
			Source:   fmt.Sprintf("doc%d", i),
		}); err != nil {
			t.Fatalf("IndexFact: %v", err)
		}
	}

	results, err := mgr.Query(ctx, texts[1], "voyage", 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Text != texts[1] {
		t.Errorf("top result = %q, want %q", results[0].Text, texts[1])
	}
}

func TestIndexFact_AssignsID(t *testing.T) {
	mgr := newTestManager(t, &stubEngine{})

	id, err := mgr.IndexFact(context.Background(), Fact{Book: "voyage", Category: CategoryPlot, Text: "the storm breaks at dawn"})
	if err != nil {
		t.Fatalf("IndexFact: %v", err)
	}
	if id == "" {
		t.Error("IndexFact returned empty ID")
	}
}

func TestIndexFact_BackendDown(t *testing.T) {
	mgr := newTestManager(t, &stubEngine{failEmbed: true})

	_, err := mgr.IndexFact(context.Background(), Fact{Book: "voyage", Category: CategoryPlot, Text: "text"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestAddContinuityNote_RejectsUnknownCategory(t *testing.T) {
	mgr := newTestManager(t, &stubEngine{})

	if _, err := mgr.AddContinuityNote(context.Background(), "text", Category("mood"), "voyage"); err == nil {
		t.Error("expected error for unknown category")
	}
	// Derived categories cannot be hand-added either.
	if _, err := mgr.AddContinuityNote(context.Background(), "text", CategorySceneSummary, "voyage"); err == nil {
		t.Error("expected error for scene_summary category")
	}
}

func TestContextForScene_Format(t *testing.T) {
	mgr := newTestManager(t, &stubEngine{})
	ctx := context.Background()

	if _, err := mgr.AddContinuityNote(ctx, "Mira fears open water", CategoryCharacter, "voyage"); err != nil {
		t.Fatalf("AddContinuityNote: %v", err)
	}
	if _, err := mgr.AddContinuityNote(ctx, "The fleet sails at first light", CategoryPlot, "voyage"); err != nil {
		t.Fatalf("AddContinuityNote: %v", err)
	}

	block, err := mgr.ContextForScene(ctx, "voyage", 2, 1, "Mira boards the flagship", 5)
	if err != nil {
		t.Fatalf("ContextForScene: %v", err)
	}
	if !strings.Contains(block, "[CHARACTER]") || !strings.Contains(block, "[PLOT]") {
		t.Errorf("context missing category headers:\n%s", block)
	}
	if !strings.Contains(block, "\n---\n") {
		t.Errorf("context blocks not separated:\n%s", block)
	}
}

func TestContextForScene_EmptyBook(t *testing.T) {
	mgr := newTestManager(t, &stubEngine{})

	block, err := mgr.ContextForScene(context.Background(), "voyage", 1, 1, "opening scene", 5)
	if err != nil {
		t.Fatalf("ContextForScene: %v", err)
	}
	if block != "" {
		t.Errorf("context = %q, want empty", block)
	}
}

func TestPreviousSceneSummary(t *testing.T) {
	mgr := newTestManager(t, &stubEngine{})
	ctx := context.Background()

	for _, s := range []struct {
		chapter, scene int
		text           string
	}{
		{1, 1, "Mira leaves home"},
		{1, 2, "Mira reaches the harbor"},
		{2, 1, "The fleet departs"},
	} {
		if _, err := mgr.AddSceneSummary(ctx, s.text, "voyage", s.chapter, s.scene); err != nil {
			t.Fatalf("AddSceneSummary: %v", err)
		}
	}

	got, err := mgr.PreviousSceneSummary("voyage", 2, 1)
	if err != nil {
		t.Fatalf("PreviousSceneSummary: %v", err)
	}
	if got != "Mira reaches the harbor" {
		t.Errorf("previous summary = %q, want %q", got, "Mira reaches the harbor")
	}

	got, err = mgr.PreviousSceneSummary("voyage", 1, 1)
	if err != nil {
		t.Fatalf("PreviousSceneSummary: %v", err)
	}
	if got != "" {
		t.Errorf("first scene should have no previous summary, got %q", got)
	}
}

func TestIngestStoryBible(t *testing.T) {
	mgr := newTestManager(t, &stubEngine{})
	dir := t.TempDir()

	writeTestFile(t, filepath.Join(dir, "world_overview.md"), "The archipelago spans forty islands.")
	writeTestFile(t, filepath.Join(dir, "magic_system.md"), "Tidecalling draws strength from moonlight.")
	writeTestFile(t, filepath.Join(dir, "character_bios", "mira.md"), "Mira, 24, navigator of the Sable Gull.")
	writeTestFile(t, filepath.Join(dir, "notes.txt"), "Working title: The Long Crossing.")
	writeTestFile(t, filepath.Join(dir, "ignore.json"), "{}")

	n, err := mgr.IngestStoryBible(context.Background(), "voyage", dir)
	if err != nil {
		t.Fatalf("IngestStoryBible: %v", err)
	}
	if n != 4 {
		t.Errorf("indexed %d facts, want 4", n)
	}

	st, err := mgr.Stats("voyage")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.BookFacts != 4 {
		t.Errorf("BookFacts = %d, want 4", st.BookFacts)
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		path string
		want Category
	}{
		{"character_bios/mira.md", CategoryCharacter},
		{"world_overview.md", CategoryWorld},
		{"magic_system.md", CategoryRule},
		{"plot_threads.md", CategoryPlot},
		{"misc.md", CategoryStoryBible},
	}
	for _, tt := range tests {
		if got := categorize("/bible", filepath.Join("/bible", tt.path)); got != tt.want {
			t.Errorf("categorize(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestSplitChunks(t *testing.T) {
	var paragraphs []string
	for i := 0; i < 10; i++ {
		paragraphs = append(paragraphs, strings.Repeat("word ", 100))
	}
	text := strings.Join(paragraphs, "\n\n")

	chunks := splitChunks(text, 300)
	if len(chunks) < 3 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i, c := range chunks {
		if n := len(strings.Fields(c)); n > 300 {
			t.Errorf("chunk %d has %d words, want <= 300", i, n)
		}
	}

	if got := splitChunks("one short paragraph", 300); len(got) != 1 {
		t.Errorf("short text: got %d chunks, want 1", len(got))
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	s := strings.Repeat("é", 300) // 2 bytes per rune

	got := truncate(s, 501)
	if !utf8.ValidString(got) {
		t.Errorf("truncate split a rune: %q", got[len(got)-4:])
	}
	if len(got) > 501 {
		t.Errorf("len = %d, want <= 501", len(got))
	}

	if got := truncate("short", 500); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}
