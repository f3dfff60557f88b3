package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"ragchat/config"
	"ragchat/internal/adapter/chunker"
	"ragchat/internal/adapter/loader"
	"ragchat/internal/usecase"
)

var (
	ingestSource string
	ingestPrune  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load the document into the vector store",
	Long: `Split the document into overlapping chunks, embed them and upsert them into
the configured collection under the ids doc-0, doc-1, ...

Running ingest again on the same document replaces the same records. When the
new run produces fewer chunks, the trailing records of the previous run are
kept unless --prune is given.

Examples:
  ragchat ingest
  ragchat ingest --source manual.pdf --prune`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVarP(&ingestSource, "source", "s", "", "document to ingest, relative to --dir (default from DOCUMENT_PATH or document.pdf)")
	ingestCmd.Flags().BoolVar(&ingestPrune, "prune", false, "delete records not produced by this run")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	log := getLogger()
	ctx := cmd.Context()

	source := ingestSourcePath(cfg, GetRootDir(), ingestSource)
	if err := loader.CheckSource(source); err != nil {
		return err
	}

	chk, err := chunker.NewRecursiveChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	if err != nil {
		return err
	}

	p, err := openPipeline(ctx, cfg, GetRootDir(), false, log)
	if err != nil {
		return err
	}
	defer p.Close()

	ingestUC := usecase.NewIngestUseCase(loader.New(log), chk, p.embedder, p.store, cfg.Ingest.BatchSize, log)

	var bar *progressbar.ProgressBar
	progress := func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Embedding[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
		}
		bar.Set(done)
	}

	fmt.Printf("Lendo %s...\n", source)

	result, err := ingestUC.Ingest(ctx, source, usecase.IngestOptions{
		Prune:    ingestPrune,
		Progress: progress,
	})
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	if result.NoOp {
		fmt.Println("Nenhum chunk gerado.")
		return nil
	}

	fmt.Printf("\nIngestão concluída: %d chunks → coleção '%s'.\n", result.Chunks, cfg.CollectionName())
	fmt.Printf("  Páginas:    %d\n", result.Pages)
	fmt.Printf("  Chunks:     %d\n", result.Chunks)
	if ingestPrune {
		fmt.Printf("  Removidos:  %d\n", result.Pruned)
	}
	if n, err := p.store.Count(ctx); err == nil {
		fmt.Printf("  Na coleção: %d\n", n)
	}
	fmt.Printf("  Tempo:      %s\n", formatDuration(result.Duration))
	return nil
}

// ingestSourcePath resolves the --source flag, or the configured document
// when the flag is empty. Relative paths are taken from dir in both cases.
func ingestSourcePath(cfg *config.Config, dir, flag string) string {
	if flag == "" {
		return cfg.SourcePath(dir)
	}
	if filepath.IsAbs(flag) {
		return flag
	}
	return filepath.Join(dir, flag)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
