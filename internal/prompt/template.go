package prompt

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

//go:embed templates/*.txt
var defaultTemplates embed.FS

// ErrNotFound is returned when no template with the requested name exists.
var ErrNotFound = errors.New("template not found")

// ErrUnresolved is returned when a rendered template still contains a
// placeholder the variable map did not cover.
var ErrUnresolved = errors.New("unresolved placeholder")

// placeholderRe matches {snake_case} placeholders. Prose braces with
// spaces or capitals are left alone.
var placeholderRe = regexp.MustCompile(`\{[a-z][a-z0-9_]*\}`)

// Engine renders static text templates by placeholder substitution. There
// is no control flow: a template is a text file with {name} markers.
//
// Templates ship embedded in the binary; a project prompts directory can
// override any of them by filename.
type Engine struct {
	dir string
}

// New creates an Engine. dir is the project prompts directory and may be
// empty to use only the embedded defaults.
func New(dir string) *Engine {
	return &Engine{dir: dir}
}

// Render loads the named template and substitutes every {placeholder}
// with its value from vars. It fails if the template does not exist or if
// any placeholder remains unresolved. Extra vars are ignored.
func (e *Engine) Render(name string, vars map[string]string) (string, error) {
	text, err := e.load(name)
	if err != nil {
		return "", err
	}

	oldnew := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		oldnew = append(oldnew, "{"+k+"}", v)
	}
	rendered := strings.NewReplacer(oldnew...).Replace(text)

	if m := placeholderRe.FindString(rendered); m != "" {
		return "", fmt.Errorf("template %s: %w %s", name, ErrUnresolved, m)
	}
	return rendered, nil
}

// load returns the template text, preferring the override directory over
// the embedded defaults.
func (e *Engine) load(name string) (string, error) {
	filename := name + ".txt"

	if e.dir != "" {
		data, err := os.ReadFile(filepath.Join(e.dir, filename))
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("reading template %s: %w", filename, err)
		}
	}

	data, err := defaultTemplates.ReadFile("templates/" + filename)
	if err != nil {
		return "", fmt.Errorf("template %s: %w", name, ErrNotFound)
	}
	return string(data), nil
}

// Names lists the embedded template names, for status output.
func Names() []string {
	entries, err := defaultTemplates.ReadDir("templates")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".txt"))
	}
	return names
}
