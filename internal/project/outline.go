package project

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Outline is one scene's plan: optional front-matter metadata plus the
// beat-by-beat body handed to the prose model.
type Outline struct {
	Title    string `yaml:"title"`
	POV      string `yaml:"pov"`
	Location string `yaml:"location"`
	Body     string `yaml:"-"`
}

// LoadOutline reads a scene outline file. A leading YAML front-matter
// block supplies title/pov/location; everything after it is the outline
// body. Files without front matter are all body.
func LoadOutline(path string) (Outline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Outline{}, fmt.Errorf("reading outline %s: %w", path, err)
	}

	text := string(data)
	var o Outline

	trimmed := strings.TrimLeft(text, "\n")
	if strings.HasPrefix(trimmed, "---\n") {
		rest := strings.TrimPrefix(trimmed, "---\n")
		if end := strings.Index(rest, "\n---"); end >= 0 {
			meta := rest[:end]
			body := rest[end+len("\n---"):]
			if i := strings.Index(body, "\n"); i >= 0 {
				body = body[i+1:]
			} else {
				body = ""
			}
			if err := yaml.Unmarshal([]byte(meta), &o); err != nil {
				return Outline{}, fmt.Errorf("parsing outline front matter in %s: %w", path, err)
			}
			o.Body = strings.TrimSpace(body)
			return o, nil
		}
	}

	o.Body = strings.TrimSpace(text)
	return o, nil
}
