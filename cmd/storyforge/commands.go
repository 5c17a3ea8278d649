package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ajmarsh/storyforge/internal/assemble"
	"github.com/ajmarsh/storyforge/internal/config"
	"github.com/ajmarsh/storyforge/internal/export"
	"github.com/ajmarsh/storyforge/internal/generation"
	"github.com/ajmarsh/storyforge/internal/memory"
	"github.com/ajmarsh/storyforge/internal/project"
	"github.com/ajmarsh/storyforge/internal/prompt"
	"github.com/ajmarsh/storyforge/internal/refine"
)

// --- init ---

var initCmd = &cobra.Command{
	Use:   "init <book>",
	Short: "Create the project layout for a new book",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		book := args[0]

		var cfg config.Config
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			cfg = config.Default()
			cfg.Project.Name = book
			if err := config.Save(cfg, cfgPath); err != nil {
				return err
			}
			printSuccess("Wrote starter config to %s", cfgPath)
		} else {
			loaded, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			cfg = loaded
		}

		paths := project.NewPaths(cfg.Project.BasePath, book)
		if err := paths.EnsureStructure(); err != nil {
			return err
		}

		printSuccess("Project structure created for %q", book)
		printStatus("Story bible", "%s", paths.StoryBibleDir())
		printStatus("Outlines", "%s", paths.OutlinesDir())
		printStatus("Prompts", "%s (optional template overrides)", paths.PromptsDir())
		printStep("Add story bible documents, then run: storyforge memory-init %s", book)
		return nil
	},
}

// --- memory-init ---

var memoryInitCmd = &cobra.Command{
	Use:   "memory-init <book>",
	Short: "Index the story bible into the continuity store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		book := args[0]
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		paths := project.NewPaths(cfg.Project.BasePath, book)

		mgr, cleanup, err := openMemory(cfg, paths)
		if err != nil {
			return err
		}
		defer cleanup()

		printStep("Indexing story bible from %s", paths.StoryBibleDir())
		n, err := mgr.IngestStoryBible(cmd.Context(), book, paths.StoryBibleDir())
		if err != nil {
			return err
		}
		if n == 0 {
			printWarning("No documents found in %s", paths.StoryBibleDir())
			return nil
		}

		printSuccess("Indexed %d facts for %q", n, book)
		return nil
	},
}

// --- memory ---

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Add to or query the continuity store",
}

var memoryAddCmd = &cobra.Command{
	Use:   "add <book> <text...>",
	Short: "Add a single continuity note",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		book := args[0]
		text := strings.Join(args[1:], " ")
		category, _ := cmd.Flags().GetString("category")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		paths := project.NewPaths(cfg.Project.BasePath, book)

		mgr, cleanup, err := openMemory(cfg, paths)
		if err != nil {
			return err
		}
		defer cleanup()

		id, err := mgr.AddContinuityNote(cmd.Context(), text, memory.Category(category), book)
		if err != nil {
			return err
		}
		printSuccess("Added %s fact %s", category, id[:8])
		return nil
	},
}

var memoryQueryCmd = &cobra.Command{
	Use:   "query <book> <query...>",
	Short: "Semantic search over the continuity store",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		book := args[0]
		query := strings.Join(args[1:], " ")
		topK, _ := cmd.Flags().GetInt("top-k")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		paths := project.NewPaths(cfg.Project.BasePath, book)

		mgr, cleanup, err := openMemory(cfg, paths)
		if err != nil {
			return err
		}
		defer cleanup()

		results, err := mgr.Query(cmd.Context(), query, book, topK)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range results {
			fmt.Printf("\n%s [%s, score: %.3f]\n",
				colorize(colorBold, fmt.Sprintf("Result %d", i+1)), r.Category, r.Score)
			if r.Source != "" {
				fmt.Printf("  Source: %s\n", r.Source)
			}
			fmt.Printf("  %s\n", excerpt(r.Text, 500))
		}
		return nil
	},
}

func init() {
	memoryAddCmd.Flags().String("category", "plot", "fact category (character, world, item, plot, rule)")
	memoryQueryCmd.Flags().IntP("top-k", "k", 5, "maximum number of results")
	memoryCmd.AddCommand(memoryAddCmd)
	memoryCmd.AddCommand(memoryQueryCmd)
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate <book> <chapter> <scene> <outline_path>",
	Short: "Generate the raw draft of one scene from its outline",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		book := args[0]
		chapter, scene, err := parseChapterScene(args[1], args[2])
		if err != nil {
			return err
		}
		outlinePath := args[3]

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		paths := project.NewPaths(cfg.Project.BasePath, book)

		mgr, cleanup, err := openMemory(cfg, paths)
		if err != nil {
			return err
		}
		defer cleanup()

		prompts := prompt.New(paths.PromptsDir())
		writer := generation.NewSceneWriter(
			newClient(cfg, "prose"),
			newClient(cfg, "summary"),
			prompts, mgr, paths,
			cfg.Scene, cfg.Memory,
			loadBookContext(cfg, paths),
		)

		printStep("Generating chapter %d scene %d...", chapter, scene)
		res, err := writer.Generate(cmd.Context(), chapter, scene, outlinePath)
		if err != nil {
			return err
		}
		printWarnings(res.Warnings)
		printSuccess("Scene written: %s (%d words, %d attempt(s))", res.Path, res.WordCount, res.Attempts)
		return nil
	},
}

// --- refine ---

var refineCmd = &cobra.Command{
	Use:   "refine <book> <chapter> <scene>",
	Short: "Run refinement passes over a scene draft",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		book := args[0]
		chapter, scene, err := parseChapterScene(args[1], args[2])
		if err != nil {
			return err
		}
		input, _ := cmd.Flags().GetString("input")
		passes, _ := cmd.Flags().GetStringSlice("passes")
		interactive, _ := cmd.Flags().GetBool("interactive")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		paths := project.NewPaths(cfg.Project.BasePath, book)
		prompts := prompt.New(paths.PromptsDir())
		bookCtx := loadBookContext(cfg, paths)

		refiner := refine.New(newClient(cfg, "refinement"), prompts, paths, cfg.Scene, bookCtx.StyleGuide)
		if interactive {
			reader := bufio.NewReader(os.Stdin)
			refiner.Confirm = func(pass string) bool {
				fmt.Fprintf(os.Stderr, "Run %s pass? [Y/n] ", pass)
				line, _ := reader.ReadString('\n')
				line = strings.ToLower(strings.TrimSpace(line))
				return line == "" || line == "y" || line == "yes"
			}
		}

		printStep("Refining chapter %d scene %d...", chapter, scene)
		_, warnings, err := refiner.Scene(cmd.Context(), chapter, scene, input, passes)
		if err != nil {
			return err
		}
		printWarnings(warnings)
		printArtifact("Final scene", paths.ScenePath(project.StageFinal, chapter, scene, project.FinalLabel))
		return nil
	},
}

func init() {
	refineCmd.Flags().StringP("input", "i", "", "input draft path (default: the raw scene)")
	refineCmd.Flags().StringSlice("passes", nil, "passes to run (cohesion, style, polish; default all)")
	refineCmd.Flags().Bool("interactive", false, "confirm each pass before running it")
}

// --- assemble ---

var assembleCmd = &cobra.Command{
	Use:   "assemble <book> <chapter>",
	Short: "Assemble a chapter from its final scenes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		book := args[0]
		chapter, err := strconv.Atoi(args[1])
		if err != nil || chapter < 1 {
			return fmt.Errorf("invalid chapter number %q", args[1])
		}
		noSmooth, _ := cmd.Flags().GetBool("no-smooth")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		paths := project.NewPaths(cfg.Project.BasePath, book)
		prompts := prompt.New(paths.PromptsDir())

		asm := assemble.New(paths, newClient(cfg, "review"), prompts, cfg.Chapter)

		printStep("Assembling chapter %d...", chapter)
		path, warning, err := asm.Chapter(cmd.Context(), chapter, !noSmooth)
		if err != nil {
			return err
		}
		if warning != "" {
			printWarning("%s", warning)
		}
		printArtifact("Chapter", path)
		return nil
	},
}

func init() {
	assembleCmd.Flags().Bool("no-smooth", false, "skip the chapter smoothing pass")
}

// --- manuscript ---

var manuscriptCmd = &cobra.Command{
	Use:   "manuscript <book>",
	Short: "Stitch assembled chapters into a full manuscript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		book := args[0]
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		paths := project.NewPaths(cfg.Project.BasePath, book)

		title, author := bookMeta(cmd, cfg, book)
		asm := assemble.New(paths, nil, nil, cfg.Chapter)

		path, err := asm.Manuscript(title, author)
		if err != nil {
			return err
		}
		printArtifact("Manuscript", path)
		return nil
	},
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export <book>",
	Short: "Convert the manuscript to EPUB/PDF with pandoc",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		book := args[0]
		format, _ := cmd.Flags().GetString("format")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		paths := project.NewPaths(cfg.Project.BasePath, book)

		manuscript := paths.ManuscriptPath()
		if _, err := os.Stat(manuscript); err != nil {
			return fmt.Errorf("no manuscript at %s (run: storyforge manuscript %s)", manuscript, book)
		}
		if err := export.CheckPandoc(cmd.Context()); err != nil {
			return err
		}

		title, author := bookMeta(cmd, cfg, book)
		meta := export.Metadata{Title: title, Author: author, Cover: findCover(paths)}
		exporter := export.New(cfg.Export)

		doEPUB := format == "all" && cfg.Export.EPUB.Enabled || format == "epub"
		doPDF := format == "all" && cfg.Export.PDF.Enabled || format == "pdf"
		if !doEPUB && !doPDF {
			return fmt.Errorf("nothing to export: format %q (enabled formats in config: epub=%t pdf=%t)",
				format, cfg.Export.EPUB.Enabled, cfg.Export.PDF.Enabled)
		}

		if doEPUB {
			out := paths.ExportPath("epub")
			printStep("Exporting EPUB...")
			if err := exporter.EPUB(cmd.Context(), manuscript, out, meta); err != nil {
				return err
			}
			printArtifact("EPUB", out)
		}
		if doPDF {
			out := paths.ExportPath("pdf")
			printStep("Exporting PDF...")
			if err := exporter.PDF(cmd.Context(), manuscript, out, meta); err != nil {
				return err
			}
			printArtifact("PDF", out)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{manuscriptCmd, exportCmd} {
		c.Flags().String("title", "", "book title (default: project name)")
		c.Flags().String("author", "", "author name (default: project author)")
	}
	exportCmd.Flags().String("format", "all", "export format: all, epub, or pdf")
}

// --- check-models ---

var checkModelsCmd = &cobra.Command{
	Use:   "check-models",
	Short: "Report availability of every configured model",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		missing := 0
		for _, name := range []string{"prose", "outline", "refinement", "summary", "review"} {
			role := cfg.Models.Role(name)
			eng := newEngine(role, cfg.Advanced.Timeout())
			if !eng.IsRunning(cmd.Context()) {
				printError("%s: backend %s not reachable", name, role.Server)
				missing++
				continue
			}
			if eng.HasModel(cmd.Context(), role.Model) {
				printModelFound(name, role.Model)
			} else {
				printModelMissing(name, role.Model, role.Kind != "openai")
				missing++
			}
		}

		embedEng := newEngine(config.ModelRole{Kind: "ollama", Server: cfg.Memory.Server}, cfg.Advanced.Timeout())
		if embedEng.HasModel(cmd.Context(), cfg.Memory.EmbedModel) {
			printModelFound("embedding", cfg.Memory.EmbedModel)
		} else {
			printModelMissing("embedding", cfg.Memory.EmbedModel, true)
			missing++
		}

		if missing > 0 {
			return fmt.Errorf("%d model(s) unavailable", missing)
		}
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show project, backend, and continuity store status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}

		printStatus("Config", "%s", cfgPath)
		printStatus("Project", "%s by %s", cfg.Project.Name, cfg.Project.Author)
		printStatus("Base path", "%s", cfg.Project.BasePath)

		seen := map[string]bool{}
		for _, name := range []string{"prose", "refinement", "summary", "review"} {
			role := cfg.Models.Role(name)
			if seen[role.Server] {
				continue
			}
			seen[role.Server] = true
			eng := newEngine(role, cfg.Advanced.Timeout())
			if eng.IsRunning(cmd.Context()) {
				printStatus("Backend", "%s running", role.Server)
			} else {
				printStatus("Backend", "%s not reachable", role.Server)
			}
		}

		paths := project.NewPaths(cfg.Project.BasePath, cfg.Project.Name)
		if mgr, cleanup, err := openMemory(cfg, paths); err == nil {
			if st, err := mgr.Stats(""); err == nil {
				printStatus("Continuity facts", "%d", st.TotalFacts)
			}
			cleanup()
		} else {
			printStatus("Continuity store", "unavailable: %v", err)
		}

		if err := export.CheckPandoc(cmd.Context()); err == nil {
			printStatus("Pandoc", "available")
		} else {
			printStatus("Pandoc", "not found (export disabled)")
		}

		printStatus("Templates", "%s", strings.Join(prompt.Names(), ", "))
		return nil
	},
}

// --- info ---

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Describe the pipeline stages and typical workflow",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(`storyforge turns scene outlines into a finished manuscript:

  1. init          create the project layout and starter config
  2. memory-init   index the story bible into the continuity store
  3. generate      draft one scene from its outline (RAG + word-count retry)
  4. refine        editing passes: cohesion, style, polish
  5. assemble      concatenate final scenes into a chapter, smooth transitions
  6. manuscript    stitch chapters into one markdown manuscript
  7. export        pandoc conversion to EPUB and PDF

Continuity notes can be managed at any point with "memory add" and
inspected with "memory query". Run "check-models" to verify every
configured model is available before a long generation session.
`)
	},
}

func parseChapterScene(chapterArg, sceneArg string) (int, int, error) {
	chapter, err := strconv.Atoi(chapterArg)
	if err != nil || chapter < 1 {
		return 0, 0, fmt.Errorf("invalid chapter number %q", chapterArg)
	}
	scene, err := strconv.Atoi(sceneArg)
	if err != nil || scene < 1 {
		return 0, 0, fmt.Errorf("invalid scene number %q", sceneArg)
	}
	return chapter, scene, nil
}

func bookMeta(cmd *cobra.Command, cfg config.Config, book string) (string, string) {
	title, _ := cmd.Flags().GetString("title")
	author, _ := cmd.Flags().GetString("author")
	if title == "" {
		title = cfg.Project.Name
	}
	if title == "" {
		title = book
	}
	if author == "" {
		author = cfg.Project.Author
	}
	if author == "" {
		author = "Unknown"
	}
	return title, author
}

func findCover(paths project.Paths) string {
	for _, name := range []string{"cover.jpg", "cover.png"} {
		p := filepath.Join(paths.StoryBibleDir(), name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
