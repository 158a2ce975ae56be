package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/pagerag/internal/audit"
	"github.com/54b3r/pagerag/internal/extract"
	"github.com/54b3r/pagerag/internal/ingestion"
	"github.com/54b3r/pagerag/internal/logging"
)

// sourceFlags are the ingest flags that describe a page's content.
type sourceFlags struct {
	textFile string
	file     string
	fileURL  string
	fileType string
	pages    int
}

// fetchFunc downloads an attachment; *ingestion.Fetcher.Fetch satisfies it.
type fetchFunc func(ctx context.Context, rawURL string) (*ingestion.Fetched, error)

// load reads the page prose and attachment described by f. The attachment
// comes from --file or --file-url; its type is taken from --file-type, else
// inferred from the name or the response.
func (f sourceFlags) load(ctx context.Context, fetch fetchFunc) (ingestion.Source, error) {
	var src ingestion.Source

	if f.textFile != "" {
		b, err := os.ReadFile(f.textFile)
		if err != nil {
			return src, fmt.Errorf("read --text-file: %w", err)
		}
		src.Text = string(b)
	}

	var (
		data     []byte
		fileType = f.fileType
	)
	switch {
	case f.file != "" && f.fileURL != "":
		return src, errors.New("--file and --file-url are mutually exclusive")
	case f.file != "":
		b, err := os.ReadFile(f.file)
		if err != nil {
			return src, fmt.Errorf("read --file: %w", err)
		}
		data = b
		if fileType == "" {
			fileType = ingestion.InferFileType(f.file)
		}
	case f.fileURL != "":
		fetched, err := fetch(ctx, f.fileURL)
		if err != nil {
			return src, err
		}
		data = fetched.Body
		if fileType == "" {
			fileType = fetched.FileType
		}
	default:
		return src, nil
	}

	res, err := extract.Bytes(data, fileType)
	if err != nil {
		return src, err
	}
	src.FileText = res.Text
	src.FileType = res.FileType
	src.OriginalPageCount = res.Pages
	if f.pages > 0 {
		src.OriginalPageCount = f.pages
	}
	return src, nil
}

// NewIngestCmd constructs the `pagerag ingest` command, which (re)builds the
// embeddings of one page from local files or an attachment URL.
func NewIngestCmd() *cobra.Command {
	var pageID string
	var flags sourceFlags

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Build the embeddings of a page",
		Long: `Segment, chunk, and embed the content of one page, replacing any chunks
the page already has.

The page's authored prose is read from --text-file. An attachment can be
given as a local file (--file) or downloaded (--file-url); its text is
extracted according to --file-type or the file extension. Supported types:
pdf, pptx, docx, html, md, txt.

Examples:
  pagerag ingest --page 42 --text-file lesson.txt
  pagerag ingest --page 42 --file slides.pptx
  pagerag ingest --page 42 --text-file intro.md --file-url https://cdn.example.com/handout.pdf`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			if pageID == "" {
				return errors.New("ingest: --page is required")
			}

			fetcher := ingestion.NewFetcher(30 * time.Second)
			src, err := flags.load(ctx, fetcher.Fetch)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			ix, err := buildIndex(ctx, log, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer ix.Close()

			n, err := ix.pipeline.IngestPage(ctx, pageID, src)
			audit.LogPageMutation(ctx, log, "rebuild", pageID, n, err)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			st, err := ix.pipeline.Stats(ctx, pageID)
			if err != nil {
				log.Warn("ingest: stats unavailable", slog.Any("error", err))
				fmt.Fprintf(cmd.OutOrStdout(), "page %s: %d chunks saved\n", pageID, n)
				return nil
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}

	cmd.Flags().StringVar(&pageID, "page", "", "Page ID (required)")
	cmd.Flags().StringVar(&flags.textFile, "text-file", "", "File holding the page's authored prose")
	cmd.Flags().StringVar(&flags.file, "file", "", "Local attachment file")
	cmd.Flags().StringVar(&flags.fileURL, "file-url", "", "Attachment URL to download")
	cmd.Flags().StringVar(&flags.fileType, "file-type", "", "Attachment type override (pdf, pptx, docx, html, md, txt)")
	cmd.Flags().IntVar(&flags.pages, "pages", 0, "Attachment page count override")

	return cmd
}
