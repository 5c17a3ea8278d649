package memory

import "time"

// Category classifies a continuity fact.
type Category string

const (
	CategoryCharacter Category = "character"
	CategoryWorld     Category = "world"
	CategoryItem      Category = "item"
	CategoryPlot      Category = "plot"
	CategoryRule      Category = "rule"

	// CategorySceneSummary marks facts produced by auto-summarizing
	// generated scenes, and CategoryStoryBible marks bulk-ingested
	// story-bible sections.
	CategorySceneSummary Category = "scene_summary"
	CategoryStoryBible   Category = "story_bible"
)

// ValidCategory reports whether c is a category a user may supply to
// `memory add`.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryCharacter, CategoryWorld, CategoryItem, CategoryPlot, CategoryRule:
		return true
	}
	return false
}

// Fact is one unit of world/character/plot knowledge. Facts are
// append-only: corrections are indexed as new facts that supersede old
// ones semantically, never edited in place.
type Fact struct {
	ID        string
	Book      string
	Category  Category
	Text      string
	Chapter   int // 0 when the fact has no scene provenance
	Scene     int
	Source    string // originating file or "note"
	Embedding []float32
	CreatedAt time.Time
}

// ScoredFact is a Fact with its similarity score from a query.
type ScoredFact struct {
	Fact
	Score float32
}
