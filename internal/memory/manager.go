package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
)

// ErrUnavailable wraps failures to reach the embedding backend or the
// fact store. Generation may treat it as a soft failure and proceed with
// an empty continuity context.
var ErrUnavailable = errors.New("continuity store unavailable")

// maxChunkWords bounds the size of a single indexed story-bible chunk so
// retrieval returns focused facts instead of whole documents.
const maxChunkWords = 800

// factExcerptLen caps how much of a fact's text is injected into a prompt.
const factExcerptLen = 500

// Manager is the continuity store: it indexes story-bible facts and scene
// summaries as embeddings and retrieves the top-K semantically nearest
// facts for a scene's context.
type Manager struct {
	store    VectorStore
	embedder *Embedder
	logger   *slog.Logger
}

// NewManager creates a Manager over the given store and embedder.
func NewManager(store VectorStore, embedder *Embedder) *Manager {
	return &Manager{
		store:    store,
		embedder: embedder,
		logger:   slog.Default(),
	}
}

// IndexFact embeds the fact text (unless an embedding is already present)
// and inserts it. Returns the assigned fact ID.
func (m *Manager) IndexFact(ctx context.Context, f Fact) (string, error) {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if f.Embedding == nil {
		vec, err := m.embedder.Embed(ctx, f.Text)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		f.Embedding = vec
	}

	if err := m.store.Insert([]Fact{f}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return f.ID, nil
}

// AddContinuityNote indexes a single hand-authored continuity note.
func (m *Manager) AddContinuityNote(ctx context.Context, text string, category Category, book string) (string, error) {
	if !ValidCategory(category) {
		return "", fmt.Errorf("invalid category %q", category)
	}
	return m.IndexFact(ctx, Fact{
		Book:     book,
		Category: category,
		Text:     text,
		Source:   "note",
	})
}

// AddSceneSummary indexes the summary of a generated scene so later
// scenes retrieve it as continuity context.
func (m *Manager) AddSceneSummary(ctx context.Context, summary, book string, chapter, scene int) (string, error) {
	return m.IndexFact(ctx, Fact{
		Book:     book,
		Category: CategorySceneSummary,
		Text:     summary,
		Chapter:  chapter,
		Scene:    scene,
		Source:   fmt.Sprintf("chapter_%02d_scene_%02d", chapter, scene),
	})
}

// Query embeds the query text and returns the top-K most similar facts
// for the book. An empty result is not an error.
func (m *Manager) Query(ctx context.Context, text, book string, topK int) ([]ScoredFact, error) {
	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	facts, err := m.store.Search(vec, book, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return facts, nil
}

// ContextForScene retrieves the facts most relevant to the scene being
// generated and formats them as a prompt block. Returns "" with no error
// when the book has no indexed facts.
func (m *Manager) ContextForScene(ctx context.Context, book string, chapter, scene int, outline string, topK int) (string, error) {
	query := fmt.Sprintf("Chapter %d Scene %d: %s", chapter, scene, truncate(outline, factExcerptLen))

	facts, err := m.Query(ctx, query, book, topK)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(facts))
	for _, f := range facts {
		header := strings.ToUpper(string(f.Category))
		parts = append(parts, fmt.Sprintf("[%s]\n%s\n", header, truncate(f.Text, factExcerptLen)))
	}

	m.logger.Info("retrieved continuity context",
		"book", book, "chapter", chapter, "scene", scene, "facts", len(facts))

	return strings.Join(parts, "\n---\n"), nil
}

// IngestStoryBible walks the story-bible directory and indexes every
// markdown, text, and PDF document it finds, chunked to keep retrieval
// focused. Returns the number of facts indexed.
func (m *Manager) IngestStoryBible(ctx context.Context, book, dir string) (int, error) {
	var texts []string
	var sources []string
	var categories []Category

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		var content string
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".txt":
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			content = string(data)
		case ".pdf":
			text, err := extractPDFText(path)
			if err != nil {
				m.logger.Warn("skipping unreadable PDF", "path", path, "error", err)
				return nil
			}
			content = text
		default:
			return nil
		}

		if strings.TrimSpace(content) == "" {
			return nil
		}

		category := categorize(dir, path)
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = filepath.Base(path)
		}
		for _, chunk := range splitChunks(content, maxChunkWords) {
			texts = append(texts, chunk)
			sources = append(sources, rel)
			categories = append(categories, category)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walking story bible %s: %w", dir, err)
	}
	if len(texts) == 0 {
		return 0, nil
	}

	vectors, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	facts := make([]Fact, len(texts))
	now := time.Now().UTC()
	for i := range texts {
		facts[i] = Fact{
			ID:        uuid.New().String(),
			Book:      book,
			Category:  categories[i],
			Text:      texts[i],
			Source:    sources[i],
			Embedding: vectors[i],
			CreatedAt: now,
		}
	}

	if err := m.store.Insert(facts); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return len(facts), nil
}

// PreviousSceneSummary returns the summary of the latest scene indexed
// before (chapter, scene), or "" when none exists. Linear scan; the
// store holds at most a few thousand facts per book.
func (m *Manager) PreviousSceneSummary(book string, chapter, scene int) (string, error) {
	facts, err := m.store.ExportAll()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var best *Fact
	for i := range facts {
		f := &facts[i]
		if f.Book != book || f.Category != CategorySceneSummary {
			continue
		}
		if f.Chapter > chapter || (f.Chapter == chapter && f.Scene >= scene) {
			continue
		}
		if best == nil || f.Chapter > best.Chapter || (f.Chapter == best.Chapter && f.Scene > best.Scene) {
			best = f
		}
	}
	if best == nil {
		return "", nil
	}
	return best.Text, nil
}

// Stats describes the current state of the continuity store.
type Stats struct {
	TotalFacts int
	BookFacts  int
}

// Stats returns fact counts, scoped to book when non-empty.
func (m *Manager) Stats(book string) (Stats, error) {
	total, err := m.store.Count("")
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	st := Stats{TotalFacts: total}
	if book != "" {
		n, err := m.store.Count(book)
		if err != nil {
			return Stats{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		st.BookFacts = n
	}
	return st, nil
}

// categorize infers a fact category from where the file lives in the
// story-bible tree.
func categorize(root, path string) Category {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = strings.ToLower(filepath.ToSlash(rel))
	base := strings.ToLower(filepath.Base(path))

	switch {
	case strings.Contains(rel, "character"):
		return CategoryCharacter
	case strings.Contains(base, "world"):
		return CategoryWorld
	case strings.Contains(base, "magic"), strings.Contains(base, "system"), strings.Contains(base, "rule"):
		return CategoryRule
	case strings.Contains(base, "plot"), strings.Contains(base, "outline"):
		return CategoryPlot
	default:
		return CategoryStoryBible
	}
}

// splitChunks breaks text into chunks of at most maxWords, splitting on
// paragraph boundaries so no chunk cuts mid-sentence.
func splitChunks(text string, maxWords int) []string {
	paragraphs := strings.Split(text, "\n\n")

	var chunks []string
	var current []string
	words := 0

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.TrimSpace(strings.Join(current, "\n\n")))
			current = current[:0]
			words = 0
		}
	}

	for _, p := range paragraphs {
		n := len(strings.Fields(p))
		if n == 0 {
			continue
		}
		if words+n > maxWords && words > 0 {
			flush()
		}
		current = append(current, p)
		words += n
	}
	flush()

	return chunks
}

// extractPDFText pulls the plain text out of a PDF reference document.
func extractPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting PDF text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("reading PDF text: %w", err)
	}
	return buf.String(), nil
}

// truncate returns s cut to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
