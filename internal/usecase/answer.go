package usecase

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"ragchat/internal/domain"
	"ragchat/internal/logger"
	"ragchat/internal/port"
)

//go:embed templates/answer_prompt.txt
var templateFS embed.FS

var answerPrompt = template.Must(template.ParseFS(templateFS, "templates/answer_prompt.txt"))

// ContextSeparator separates chunk texts in the prompt context.
const ContextSeparator = "\n\n---\n\n"

// ErrEmptyQuestion is returned for blank questions.
var ErrEmptyQuestion = errors.New("question is empty")

// AnswerOptions configures the answering pipeline. Zero values fall back to
// the defaults.
type AnswerOptions struct {
	TopK         int
	Refusal      string
	ExitKeywords []string
}

// AnswerUseCase answers questions strictly from retrieved chunks.
type AnswerUseCase struct {
	retriever    port.Retriever
	llm          port.LLM
	topK         int
	refusal      string
	exitKeywords map[string]struct{}
	log          *zap.Logger
}

// NewAnswerUseCase creates a new answer use case.
func NewAnswerUseCase(retriever port.Retriever, llm port.LLM, opts AnswerOptions, log *zap.Logger) *AnswerUseCase {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.Refusal == "" {
		opts.Refusal = domain.DefaultRefusal
	}
	if opts.ExitKeywords == nil {
		opts.ExitKeywords = []string{"sair", "exit", "quit"}
	}

	exit := make(map[string]struct{}, len(opts.ExitKeywords))
	for _, k := range opts.ExitKeywords {
		exit[strings.ToLower(strings.TrimSpace(k))] = struct{}{}
	}

	return &AnswerUseCase{
		retriever:    retriever,
		llm:          llm,
		topK:         opts.TopK,
		refusal:      opts.Refusal,
		exitKeywords: exit,
		log:          logger.OrNop(log),
	}
}

// IsExit reports whether input is one of the exit keywords, ignoring case
// and surrounding whitespace.
func (u *AnswerUseCase) IsExit(input string) bool {
	_, ok := u.exitKeywords[strings.ToLower(strings.TrimSpace(input))]
	return ok
}

// Refusal returns the sentence used when the context cannot answer.
func (u *AnswerUseCase) Refusal() string {
	return u.refusal
}

// Answer retrieves the top chunks for question and asks the model to answer
// from them only. When nothing usable is retrieved the refusal is returned
// without calling the model.
func (u *AnswerUseCase) Answer(ctx context.Context, question string) (*domain.Answer, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return nil, ErrEmptyQuestion
	}

	results, err := u.retriever.SearchWithScores(ctx, q, u.topK)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	answer := &domain.Answer{Question: q, Sources: results}

	contextText := BuildContext(results)
	if contextText == "" {
		u.log.Debug("no context retrieved, refusing", zap.Int("results", len(results)))
		answer.Text = u.refusal
		answer.Refused = true
		return answer, nil
	}

	prompt, err := u.RenderPrompt(contextText, q)
	if err != nil {
		return nil, err
	}

	u.log.Debug("invoking model",
		zap.String("model", u.llm.ModelName()),
		zap.Int("chunks", len(results)),
		zap.Int("prompt_chars", len(prompt)))

	text, err := u.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("model invocation failed: %w", err)
	}

	answer.Text = strings.TrimSpace(text)
	answer.Refused = strings.Trim(answer.Text, `" `) == u.refusal
	return answer, nil
}

// BuildContext joins the trimmed, non-empty chunk texts in retrieval order.
func BuildContext(results []domain.ScoredChunk) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if text := strings.TrimSpace(r.Chunk.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, ContextSeparator)
}

// RenderPrompt fills the answer prompt template.
func (u *AnswerUseCase) RenderPrompt(contextText, question string) (string, error) {
	var buf bytes.Buffer
	err := answerPrompt.Execute(&buf, struct {
		Context  string
		Question string
		Refusal  string
	}{contextText, question, u.refusal})
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return buf.String(), nil
}
