// Package project knows where a book's artifacts live on disk and how
// stage outputs are named.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

// Stage names the scene directories a draft moves through.
type Stage string

const (
	StageRaw     Stage = "raw"
	StageRefined Stage = "refined"
	StageFinal   Stage = "final"
)

// FinalLabel marks the last refinement artifact of a scene.
const FinalLabel = "FINAL"

var sceneFileRe = regexp.MustCompile(`^chapter_(\d{2,})_scene_(\d{2,})_(.+)\.md$`)

// Paths resolves artifact locations for one book under the project base
// path.
type Paths struct {
	base string
	book string
}

// NewPaths creates path helpers for a book rooted at basePath.
func NewPaths(basePath, book string) Paths {
	return Paths{base: basePath, book: book}
}

func (p Paths) Book() string { return p.book }

// StoryBibleDir holds the reference documents indexed into the
// continuity store.
func (p Paths) StoryBibleDir() string { return filepath.Join(p.base, "story_bible") }

// OutlinesDir holds per-scene outline files.
func (p Paths) OutlinesDir() string { return filepath.Join(p.base, "outlines") }

// MemoryDir holds the continuity database.
func (p Paths) MemoryDir(dataDir string) string {
	if filepath.IsAbs(dataDir) {
		return dataDir
	}
	return filepath.Join(p.base, dataDir)
}

// PromptsDir holds project-level template overrides.
func (p Paths) PromptsDir() string { return filepath.Join(p.base, "prompts") }

func (p Paths) outputDir() string { return filepath.Join(p.base, "output", p.book) }

// SceneDir returns the directory for one draft stage.
func (p Paths) SceneDir(stage Stage) string {
	return filepath.Join(p.outputDir(), "scenes", string(stage))
}

// ChaptersDir holds assembled chapters and the manuscript.
func (p Paths) ChaptersDir() string { return filepath.Join(p.outputDir(), "chapters") }

// ExportsDir holds pandoc output.
func (p Paths) ExportsDir() string { return filepath.Join(p.outputDir(), "exports") }

// ScenePath names one scene artifact, e.g.
// chapter_03_scene_02_raw.md or chapter_03_scene_02_v1_style.md.
func (p Paths) ScenePath(stage Stage, chapter, scene int, label string) string {
	return filepath.Join(p.SceneDir(stage), SceneFileName(chapter, scene, label))
}

// ChapterPath names an assembled chapter file.
func (p Paths) ChapterPath(chapter int, label string) string {
	return filepath.Join(p.ChaptersDir(), fmt.Sprintf("chapter_%02d_%s.md", chapter, label))
}

// ManuscriptPath names the stitched full-book markdown.
func (p Paths) ManuscriptPath() string {
	return filepath.Join(p.ChaptersDir(), p.book+"_manuscript.md")
}

// ExportPath names an export artifact, e.g. mybook.epub.
func (p Paths) ExportPath(ext string) string {
	return filepath.Join(p.ExportsDir(), p.book+"."+ext)
}

// SceneFileName formats a scene artifact name.
func SceneFileName(chapter, scene int, label string) string {
	return fmt.Sprintf("chapter_%02d_scene_%02d_%s.md", chapter, scene, label)
}

// ParseSceneFileName extracts chapter, scene, and label from a scene
// artifact name. ok is false for files that do not follow the naming
// convention.
func ParseSceneFileName(name string) (chapter, scene int, label string, ok bool) {
	m := sceneFileRe.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, "", false
	}
	chapter, _ = strconv.Atoi(m[1])
	scene, _ = strconv.Atoi(m[2])
	return chapter, scene, m[3], true
}

// EnsureStructure creates the full directory tree for the book.
func (p Paths) EnsureStructure() error {
	dirs := []string{
		p.StoryBibleDir(),
		p.OutlinesDir(),
		p.PromptsDir(),
		p.SceneDir(StageRaw),
		p.SceneDir(StageRefined),
		p.SceneDir(StageFinal),
		p.ChaptersDir(),
		p.ExportsDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return nil
}

// NextVersion scans the refined directory for existing artifacts of the
// scene and returns the next free version number, so a rerun never
// overwrites earlier passes.
func (p Paths) NextVersion(chapter, scene int) int {
	entries, err := os.ReadDir(p.SceneDir(StageRefined))
	if err != nil {
		return 1
	}
	max := 0
	for _, e := range entries {
		ch, sc, label, ok := ParseSceneFileName(e.Name())
		if !ok || ch != chapter || sc != scene {
			continue
		}
		var v int
		if _, err := fmt.Sscanf(label, "v%d_", &v); err == nil && v > max {
			max = v
		}
	}
	return max + 1
}

// WriteFile writes data atomically: a temp file in the target directory
// followed by a rename, so a crash never leaves a half-written artifact.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
