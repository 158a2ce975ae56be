package commands

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/54b3r/pagerag/internal/extract"
	"github.com/54b3r/pagerag/internal/ingestion"
)

func noFetch(_ context.Context, rawURL string) (*ingestion.Fetched, error) {
	return nil, errors.New("unexpected fetch of " + rawURL)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestSourceFlags_Load(t *testing.T) {
	t.Parallel()

	prose := writeFile(t, "lesson.txt", "Closures capture variables.")
	notes := writeFile(t, "notes.md", "# Scope\n\nBlocks create scope.")

	tests := []struct {
		name         string
		flags        sourceFlags
		wantText     string
		wantFileType string
		wantFileHas  string
		wantPages    int
	}{
		{name: "nothing", flags: sourceFlags{}},
		{name: "prose only", flags: sourceFlags{textFile: prose}, wantText: "Closures capture variables."},
		{
			name:         "markdown attachment by extension",
			flags:        sourceFlags{file: notes},
			wantFileType: "md",
			wantFileHas:  "Blocks create scope.",
		},
		{
			name:         "type override and page count",
			flags:        sourceFlags{textFile: prose, file: notes, fileType: "txt", pages: 3},
			wantText:     "Closures capture variables.",
			wantFileType: "txt",
			wantFileHas:  "# Scope",
			wantPages:    3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src, err := tt.flags.load(context.Background(), noFetch)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if src.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", src.Text, tt.wantText)
			}
			if src.FileType != tt.wantFileType {
				t.Errorf("FileType = %q, want %q", src.FileType, tt.wantFileType)
			}
			if !strings.Contains(src.FileText, tt.wantFileHas) {
				t.Errorf("FileText = %q, want it to contain %q", src.FileText, tt.wantFileHas)
			}
			if src.OriginalPageCount != tt.wantPages {
				t.Errorf("OriginalPageCount = %d, want %d", src.OriginalPageCount, tt.wantPages)
			}
		})
	}
}

func TestSourceFlags_LoadFetchesURL(t *testing.T) {
	t.Parallel()

	var gotURL string
	fetch := func(_ context.Context, rawURL string) (*ingestion.Fetched, error) {
		gotURL = rawURL
		return &ingestion.Fetched{Body: []byte("<html><body><p>Fetched body</p></body></html>"), FileType: "html"}, nil
	}

	src, err := sourceFlags{fileURL: "https://cdn.example.com/a"}.load(context.Background(), fetch)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if gotURL != "https://cdn.example.com/a" {
		t.Errorf("fetched %q", gotURL)
	}
	if src.FileType != "html" || !strings.Contains(src.FileText, "Fetched body") {
		t.Errorf("unexpected source: %+v", src)
	}
}

func TestSourceFlags_LoadErrors(t *testing.T) {
	t.Parallel()

	deck := writeFile(t, "deck.ppt", "legacy")

	t.Run("file and url", func(t *testing.T) {
		t.Parallel()
		_, err := sourceFlags{file: deck, fileURL: "https://x/y.pdf"}.load(context.Background(), noFetch)
		if err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("unsupported type", func(t *testing.T) {
		t.Parallel()
		_, err := sourceFlags{file: deck}.load(context.Background(), noFetch)
		if !errors.Is(err, extract.ErrUnsupported) {
			t.Fatalf("expected ErrUnsupported, got %v", err)
		}
	})
	t.Run("missing text file", func(t *testing.T) {
		t.Parallel()
		_, err := sourceFlags{textFile: filepath.Join(t.TempDir(), "absent.txt")}.load(context.Background(), noFetch)
		if !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("expected ErrNotExist, got %v", err)
		}
	})
}
