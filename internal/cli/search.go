package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ragchat/internal/adapter/retriever"
	"ragchat/internal/domain"
)

const previewRunes = 600

var (
	searchQuery string
	searchTopK  int
	searchJSON  bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Show the chunks retrieved for a query",
	Long: `Run the retrieval step alone and print the ranked chunks with their scores.
Results without a score come from a store that cannot rank.

Examples:
  ragchat search -q "política de reembolso"
  ragchat search -q "garantia" -k 3 --json`,
	Args: cobra.NoArgs,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", "", "search query")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 5, "number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output as JSON")
	searchCmd.MarkFlagRequired("query")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	log := getLogger()
	ctx := cmd.Context()

	p, err := openPipeline(ctx, cfg, GetRootDir(), false, log)
	if err != nil {
		return err
	}
	defer p.Close()

	ret := retriever.NewSemanticRetriever(p.store, p.embedder, log)
	results, err := ret.SearchWithScores(ctx, searchQuery, searchTopK)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return writeSearchJSON(os.Stdout, results)
	}
	writeSearchResults(os.Stdout, results)
	return nil
}

func writeSearchResults(w io.Writer, results []domain.ScoredChunk) {
	fmt.Fprintf(w, "hits=%d\n", len(results))
	for i, r := range results {
		fmt.Fprintf(w, "#%d %s id=%s\n", i+1, formatScore(r.Score), r.Chunk.ID)
		fmt.Fprintln(w, preview(r.Chunk.Text))
		fmt.Fprintln(w)
	}
}

type searchHit struct {
	Rank     int            `json:"rank"`
	ID       string         `json:"id"`
	Score    *float64       `json:"score"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func writeSearchJSON(w io.Writer, results []domain.ScoredChunk) error {
	hits := make([]searchHit, 0, len(results))
	for i, r := range results {
		hits = append(hits, searchHit{
			Rank:     i + 1,
			ID:       r.Chunk.ID,
			Score:    r.Score,
			Text:     r.Chunk.Text,
			Metadata: r.Chunk.Metadata,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(hits)
}

func formatScore(score *float64) string {
	if score == nil {
		return "score=none"
	}
	return fmt.Sprintf("score=%.4f", *score)
}

// preview flattens newlines and keeps the first previewRunes characters.
func preview(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	r := []rune(text)
	if len(r) > previewRunes {
		return string(r[:previewRunes])
	}
	return text
}
