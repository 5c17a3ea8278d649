package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the immutable settings value loaded once at startup and handed
// to each pipeline component at construction.
type Config struct {
	Project    ProjectConfig    `yaml:"project" validate:"required"`
	Models     ModelsConfig     `yaml:"models" validate:"required"`
	Generation GenerationConfig `yaml:"generation"`
	Scene      SceneConfig      `yaml:"scene"`
	Chapter    ChapterConfig    `yaml:"chapter"`
	Memory     MemoryConfig     `yaml:"memory"`
	Export     ExportConfig     `yaml:"export"`
	Advanced   AdvancedConfig   `yaml:"advanced"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ProjectConfig struct {
	Name     string `yaml:"name"`
	Author   string `yaml:"author"`
	BasePath string `yaml:"base_path" validate:"required"`
}

// ModelRole selects a model and backend for one pipeline role.
type ModelRole struct {
	// Kind is "ollama" (default) or "openai" for a remote
	// OpenAI-compatible server.
	Kind     string `yaml:"kind" validate:"omitempty,oneof=ollama openai"`
	Server   string `yaml:"server" validate:"omitempty,url"`
	Model    string `yaml:"model" validate:"required"`
	Fallback string `yaml:"fallback"`
	APIKey   string `yaml:"api_key"`
}

type ModelsConfig struct {
	Prose      ModelRole `yaml:"prose" validate:"required"`
	Outline    ModelRole `yaml:"outline"`
	Refinement ModelRole `yaml:"refinement"`
	Summary    ModelRole `yaml:"summary"`
	Review     ModelRole `yaml:"review"`
}

// StageParams are the sampling parameters for one generation stage.
type StageParams struct {
	Temperature   float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	TopP          float64 `yaml:"top_p" validate:"gte=0,lte=1"`
	TopK          int     `yaml:"top_k" validate:"gte=0"`
	RepeatPenalty float64 `yaml:"repeat_penalty" validate:"gte=0"`
	NumPredict    int     `yaml:"num_predict" validate:"gte=0"`
	NumCtx        int     `yaml:"num_ctx" validate:"gte=0"`
}

type GenerationConfig struct {
	Prose      StageParams `yaml:"prose"`
	Outline    StageParams `yaml:"outline"`
	Refinement StageParams `yaml:"refinement"`
	Summary    StageParams `yaml:"summary"`
	Review     StageParams `yaml:"review"`
}

type SceneConfig struct {
	TargetWords int `yaml:"target_words" validate:"gt=0"`
	MinWords    int `yaml:"min_words" validate:"gt=0"`
	MaxWords    int `yaml:"max_words" validate:"gtfield=MinWords"`
	MaxRetries  int `yaml:"max_retries" validate:"gte=0"`
}

type ChapterConfig struct {
	SmoothingEnabled bool `yaml:"smoothing_enabled"`
	SmoothNumPredict int  `yaml:"smooth_num_predict" validate:"gte=0"`
}

type MemoryConfig struct {
	DataDir       string `yaml:"data_dir"`
	TopK          int    `yaml:"top_k" validate:"gt=0"`
	AutoSummarize bool   `yaml:"auto_summarize"`
	SummaryWords  int    `yaml:"summary_words" validate:"gt=0"`
	EmbedModel    string `yaml:"embed_model" validate:"required"`
	Server        string `yaml:"server" validate:"omitempty,url"`
}

type ExportFormat struct {
	Enabled bool `yaml:"enabled"`
}

type PDFFormat struct {
	Enabled  bool   `yaml:"enabled"`
	Engine   string `yaml:"engine"`
	FontSize int    `yaml:"font_size" validate:"gte=0"`
	Margin   string `yaml:"margin"`
}

type ExportConfig struct {
	EPUB ExportFormat `yaml:"epub"`
	PDF  PDFFormat    `yaml:"pdf"`
}

type AdvancedConfig struct {
	// MaxAttempts bounds backend retries for a single inference call.
	MaxAttempts int `yaml:"max_attempts" validate:"gt=0"`
	// RetryDelay is the pause between backend retries, in seconds.
	RetryDelay int `yaml:"retry_delay" validate:"gte=0"`
	// RequestTimeout is the per-call deadline, in seconds. 0 disables it.
	RequestTimeout int `yaml:"request_timeout" validate:"gte=0"`
	// RequestsPerMinute rate-limits inference calls. 0 disables limiting.
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"gte=0"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	File  string `yaml:"file"`
}

const defaultOllamaURL = "http://localhost:11434"

// Default returns the built-in configuration, used by `storyforge init` to
// write a starter config file and as the base for Load.
func Default() Config {
	return Config{
		Project: ProjectConfig{
			BasePath: ".",
		},
		Models: ModelsConfig{
			Prose:      ModelRole{Kind: "ollama", Server: defaultOllamaURL, Model: "mistral-nemo"},
			Outline:    ModelRole{Kind: "ollama", Server: defaultOllamaURL, Model: "mistral-nemo"},
			Refinement: ModelRole{Kind: "ollama", Server: defaultOllamaURL, Model: "mistral-nemo"},
			Summary:    ModelRole{Kind: "ollama", Server: defaultOllamaURL, Model: "phi3.5"},
			Review:     ModelRole{Kind: "ollama", Server: defaultOllamaURL, Model: "mistral-nemo"},
		},
		Generation: GenerationConfig{
			Prose:      StageParams{Temperature: 0.8, TopP: 0.9, TopK: 40, RepeatPenalty: 1.1, NumPredict: 2400, NumCtx: 8192},
			Outline:    StageParams{Temperature: 0.7, TopP: 0.9, NumPredict: 1500, NumCtx: 8192},
			Refinement: StageParams{Temperature: 0.6, TopP: 0.9, RepeatPenalty: 1.1, NumPredict: 2400, NumCtx: 8192},
			Summary:    StageParams{Temperature: 0.5, NumPredict: 200, NumCtx: 4096},
			Review:     StageParams{Temperature: 0.7, TopP: 0.9, NumPredict: 4000, NumCtx: 16384},
		},
		Scene: SceneConfig{
			TargetWords: 1500,
			MinWords:    1200,
			MaxWords:    1800,
			MaxRetries:  3,
		},
		Chapter: ChapterConfig{
			SmoothingEnabled: true,
			SmoothNumPredict: 8000,
		},
		Memory: MemoryConfig{
			DataDir:       "memory",
			TopK:          5,
			AutoSummarize: true,
			SummaryWords:  150,
			EmbedModel:    "nomic-embed-text",
			Server:        defaultOllamaURL,
		},
		Export: ExportConfig{
			EPUB: ExportFormat{Enabled: true},
			PDF:  PDFFormat{Enabled: true, Engine: "xelatex", FontSize: 12, Margin: "1in"},
		},
		Advanced: AdvancedConfig{
			MaxAttempts:    3,
			RetryDelay:     2,
			RequestTimeout: 600,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML config at path on top of the defaults, applies
// STORYFORGE_* environment overrides, and validates the result. Any
// failure here is fatal before the pipeline makes an external call.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes cfg as YAML to path, creating parent directories.
func Save(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// applyEnvOverrides lets environment variables override backend addresses
// and credentials without editing the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STORYFORGE_SERVER"); v != "" {
		for _, r := range cfg.Models.roles() {
			r.Server = v
		}
		cfg.Memory.Server = v
	}
	if v := os.Getenv("STORYFORGE_API_KEY"); v != "" {
		for _, r := range cfg.Models.roles() {
			if r.APIKey == "" {
				r.APIKey = v
			}
		}
	}
	if v := os.Getenv("STORYFORGE_BASE_PATH"); v != "" {
		cfg.Project.BasePath = v
	}
}

// normalize fills role-level gaps: secondary roles inherit the prose
// backend, and empty kinds default to ollama.
func normalize(cfg *Config) {
	prose := &cfg.Models.Prose
	if prose.Kind == "" {
		prose.Kind = "ollama"
	}
	if prose.Server == "" {
		prose.Server = defaultOllamaURL
	}
	for _, r := range cfg.Models.roles()[1:] {
		if r.Model == "" {
			r.Model = prose.Model
		}
		if r.Server == "" {
			r.Server = prose.Server
		}
		if r.Kind == "" {
			r.Kind = prose.Kind
		}
		if r.APIKey == "" {
			r.APIKey = prose.APIKey
		}
	}
	if cfg.Memory.Server == "" {
		cfg.Memory.Server = prose.Server
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
}

// roles returns pointers to every model role, prose first.
func (m *ModelsConfig) roles() []*ModelRole {
	return []*ModelRole{&m.Prose, &m.Outline, &m.Refinement, &m.Summary, &m.Review}
}

// Role returns the model role for the given name, falling back to prose
// for unknown names.
func (m *ModelsConfig) Role(name string) ModelRole {
	switch name {
	case "prose":
		return m.Prose
	case "outline":
		return m.Outline
	case "refinement":
		return m.Refinement
	case "summary":
		return m.Summary
	case "review":
		return m.Review
	default:
		return m.Prose
	}
}

// Params returns the stage parameters for the given role name, falling
// back to prose for unknown names.
func (g *GenerationConfig) Params(name string) StageParams {
	switch name {
	case "prose":
		return g.Prose
	case "outline":
		return g.Outline
	case "refinement":
		return g.Refinement
	case "summary":
		return g.Summary
	case "review":
		return g.Review
	default:
		return g.Prose
	}
}

// Timeout returns the per-call deadline as a duration.
func (a AdvancedConfig) Timeout() time.Duration {
	return time.Duration(a.RequestTimeout) * time.Second
}

// Delay returns the pause between backend retries as a duration.
func (a AdvancedConfig) Delay() time.Duration {
	return time.Duration(a.RetryDelay) * time.Second
}
