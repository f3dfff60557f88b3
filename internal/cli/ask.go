package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var askQuestion string

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Answer a single question",
	Long: `Answer one question from the ingested document and exit.

Example:
  ragchat ask -q "Qual é o prazo de garantia?"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		uc, closeFn, err := openAnswerer(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		ans, err := uc.Answer(ctx, askQuestion)
		if err != nil {
			return err
		}

		fmt.Println(ans.Text)
		if verbose {
			for i, src := range ans.Sources {
				fmt.Printf("  [%d] %s %s\n", i+1, src.Chunk.ID, formatScore(src.Score))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askQuestion, "question", "q", "", "question to answer")
	askCmd.MarkFlagRequired("question")
}
