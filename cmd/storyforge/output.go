package main

import (
	"fmt"
	"os"
	"unicode/utf8"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// printWarnings reports the non-fatal warnings a pipeline stage collected
// (word-count misses, degraded continuity, rejected smoothing).
func printWarnings(warnings []string) {
	for _, w := range warnings {
		printWarning("%s", w)
	}
}

// printArtifact reports a pipeline artifact written to disk, e.g.
// "✓ Chapter written: output/voyage/chapters/chapter_03_final.md".
func printArtifact(kind, path string) {
	printSuccess("%s written: %s", kind, path)
}

// printModelFound and printModelMissing format one line of check-models
// output per configured role. Local models get a pull hint.
func printModelFound(role, model string) {
	printSuccess("%s: %s", role, model)
}

func printModelMissing(role, model string, pullHint bool) {
	printError("%s: %s not found", role, model)
	if pullHint {
		printStep("  ollama pull %s", model)
	}
}

// excerpt cuts fact text for terminal display, never splitting a rune.
func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
