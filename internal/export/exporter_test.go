package export

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/ajmarsh/storyforge/internal/config"
)

func TestBuildEPUBArgs(t *testing.T) {
	args := buildEPUBArgs("book.md", "out/book.epub", Metadata{
		Title:  "The Long Crossing",
		Author: "A. Marsh",
		Cover:  "cover.jpg",
	})

	want := []string{
		"book.md",
		"-o", "out/book.epub",
		"--toc",
		"--toc-depth=2",
		"--metadata", "title=The Long Crossing",
		"--metadata", "author=A. Marsh",
		"--epub-cover-image=cover.jpg",
	}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("args = %v\nwant  %v", args, want)
	}
}

func TestBuildEPUBArgs_NoCover(t *testing.T) {
	args := buildEPUBArgs("book.md", "out/book.epub", Metadata{Title: "T", Author: "A"})
	for _, a := range args {
		if strings.HasPrefix(a, "--epub-cover-image") {
			t.Errorf("cover flag present without a cover: %v", args)
		}
	}
}

func TestBuildPDFArgs(t *testing.T) {
	pdf := config.PDFFormat{Enabled: true, Engine: "xelatex", FontSize: 12, Margin: "1in"}
	args := buildPDFArgs("book.md", "out/book.pdf", Metadata{Title: "T", Author: "A"}, pdf)

	for _, want := range []string{
		"--pdf-engine=xelatex",
		"--variable=fontsize:12pt",
		"--variable=geometry:margin=1in",
	} {
		found := false
		for _, a := range args {
			if a == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("args missing %q: %v", want, args)
		}
	}
}

func TestBuildPDFArgs_Defaults(t *testing.T) {
	args := buildPDFArgs("book.md", "out.pdf", Metadata{Title: "T", Author: "A"}, config.PDFFormat{})
	for _, a := range args {
		if strings.HasPrefix(a, "--pdf-engine") || strings.HasPrefix(a, "--variable") {
			t.Errorf("unset PDF options should add no flags, got %v", args)
		}
	}
}

func TestEPUB_WrapsPandocFailure(t *testing.T) {
	e := New(config.ExportConfig{})
	e.run = func(ctx context.Context, args []string) (string, error) {
		return "! LaTeX Error: something", errors.New("exit status 43")
	}

	err := e.EPUB(context.Background(), "book.md", "out.epub", Metadata{Title: "T", Author: "A"})
	var exportErr *ExportError
	if !errors.As(err, &exportErr) {
		t.Fatalf("error = %v, want ExportError", err)
	}
	if exportErr.Format != "epub" {
		t.Errorf("Format = %q, want epub", exportErr.Format)
	}
	if !strings.Contains(exportErr.Error(), "LaTeX Error") {
		t.Errorf("error message should carry stderr: %v", exportErr)
	}
}

func TestPDF_Success(t *testing.T) {
	var got []string
	e := New(config.ExportConfig{PDF: config.PDFFormat{Engine: "xelatex"}})
	e.run = func(ctx context.Context, args []string) (string, error) {
		got = args
		return "", nil
	}

	if err := e.PDF(context.Background(), "book.md", "out.pdf", Metadata{Title: "T", Author: "A"}); err != nil {
		t.Fatalf("PDF: %v", err)
	}
	if len(got) == 0 || got[0] != "book.md" {
		t.Errorf("pandoc not invoked with manuscript first: %v", got)
	}
}
