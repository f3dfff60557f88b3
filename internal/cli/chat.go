package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"ragchat/internal/adapter/cache"
	"ragchat/internal/adapter/retriever"
	"ragchat/internal/domain"
	"ragchat/internal/port"
	"ragchat/internal/usecase"
)

var (
	questionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	answerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	errorStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// answerer is the part of the answering pipeline the chat loop drives.
type answerer interface {
	Answer(ctx context.Context, question string) (*domain.Answer, error)
	IsExit(input string) bool
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask questions interactively",
	Long: `Start an interactive session. Each question is answered from the ingested
document only. Type sair, exit or quit (or press Ctrl-D) to leave.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	uc, closeFn, err := openAnswerer(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	return runChatLoop(ctx, os.Stdin, os.Stdout, uc)
}

// openAnswerer wires the answering pipeline from the loaded configuration.
func openAnswerer(ctx context.Context) (*usecase.AnswerUseCase, func() error, error) {
	cfg := GetConfig()
	log := getLogger()

	p, err := openPipeline(ctx, cfg, GetRootDir(), true, log)
	if err != nil {
		return nil, nil, err
	}

	var emb port.Embedder = p.embedder
	if cfg.Chat.QueryCacheSize > 0 {
		emb = cache.NewCachedEmbedder(p.embedder, cache.NewQueryCache(cfg.Chat.QueryCacheSize, 0))
	}

	ret := retriever.NewSemanticRetriever(p.store, emb, log)
	uc := usecase.NewAnswerUseCase(ret, p.llm, usecase.AnswerOptions{
		TopK:         cfg.Chat.TopK,
		Refusal:      cfg.Chat.Refusal,
		ExitKeywords: cfg.Chat.ExitKeywords,
	}, log)
	return uc, p.Close, nil
}

// runChatLoop reads one question per line from in and writes the answers to
// out. It returns nil on an exit keyword or end of input, and ctx.Err() when
// ctx is cancelled while waiting for input. Failures of a single question are
// reported and the loop continues.
func runChatLoop(ctx context.Context, in io.Reader, out io.Writer, uc answerer) error {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	fmt.Fprintln(out, "Faça sua pergunta (digite 'sair' para encerrar).")

	for {
		fmt.Fprintf(out, "\n%s ", questionStyle.Render("PERGUNTA:"))

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = l
		}

		q := strings.TrimSpace(line)
		if q == "" {
			continue
		}
		if uc.IsExit(q) {
			return nil
		}

		ans, err := uc.Answer(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "%s %v\n", errorStyle.Render("ERRO:"), err)
			continue
		}

		fmt.Fprintf(out, "%s %s\n", answerStyle.Render("RESPOSTA:"), ans.Text)
	}
}
