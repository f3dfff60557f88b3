package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ragchat/internal/adapter/embedding"
	"ragchat/internal/adapter/memstore"
	"ragchat/internal/adapter/retriever"
	"ragchat/internal/domain"
)

// stubLLM echoes the prompt, or returns reply when set.
type stubLLM struct {
	reply   string
	err     error
	prompts []string
}

func (m *stubLLM) Generate(_ context.Context, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	if m.reply != "" {
		return m.reply, nil
	}
	return prompt, nil
}

func (m *stubLLM) ModelName() string { return "stub" }

// stubRetriever returns fixed results.
type stubRetriever struct {
	results []domain.ScoredChunk
	err     error
	gotK    int
}

func (r *stubRetriever) SearchWithScores(_ context.Context, _ string, k int) ([]domain.ScoredChunk, error) {
	r.gotK = k
	return r.results, r.err
}

func chunk(id, text string) domain.ScoredChunk {
	return domain.ScoredChunk{Chunk: domain.Chunk{ID: id, Text: text}}
}

func TestAnswer_RefusesWithoutModelCall(t *testing.T) {
	tests := []struct {
		name    string
		results []domain.ScoredChunk
	}{
		{"no results", nil},
		{"blank chunks", []domain.ScoredChunk{chunk("doc-0", "  "), chunk("doc-1", "\n")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &stubLLM{}
			uc := NewAnswerUseCase(&stubRetriever{results: tt.results}, llm, AnswerOptions{}, zaptest.NewLogger(t))

			ans, err := uc.Answer(context.Background(), "Qual é a capital da França?")
			require.NoError(t, err)
			assert.True(t, ans.Refused)
			assert.Equal(t, domain.DefaultRefusal, ans.Text)
			assert.Empty(t, llm.prompts)
		})
	}
}

func TestAnswer_PromptCarriesContextAndQuestion(t *testing.T) {
	llm := &stubLLM{}
	ret := &stubRetriever{results: []domain.ScoredChunk{
		chunk("doc-2", "  O prazo de garantia é de doze meses.  "),
		chunk("doc-5", "A garantia cobre defeitos de fabricação."),
	}}
	uc := NewAnswerUseCase(ret, llm, AnswerOptions{TopK: 4}, nil)

	ans, err := uc.Answer(context.Background(), "  Qual o prazo de garantia?  ")
	require.NoError(t, err)
	require.Len(t, llm.prompts, 1)
	assert.Equal(t, 4, ret.gotK)

	prompt := llm.prompts[0]
	assert.Contains(t, prompt, "O prazo de garantia é de doze meses."+ContextSeparator+"A garantia cobre defeitos de fabricação.")
	assert.Contains(t, prompt, "PERGUNTA DO USUÁRIO:\nQual o prazo de garantia?\n")
	assert.Equal(t, 4, strings.Count(prompt, domain.DefaultRefusal), "rule plus three examples")
	assert.Less(t, strings.Index(prompt, "CONTEXTO:"), strings.Index(prompt, "REGRAS:"))

	assert.Equal(t, "Qual o prazo de garantia?", ans.Question)
	assert.False(t, ans.Refused)
	assert.Len(t, ans.Sources, 2)
	assert.Equal(t, strings.TrimSpace(prompt), ans.Text, "echo model returns the prompt")
}

func TestAnswer_ModelRefusal(t *testing.T) {
	llm := &stubLLM{reply: `"` + domain.DefaultRefusal + `"`}
	uc := NewAnswerUseCase(&stubRetriever{results: []domain.ScoredChunk{chunk("doc-0", "texto")}}, llm, AnswerOptions{}, nil)

	ans, err := uc.Answer(context.Background(), "Quantos clientes temos em 2024?")
	require.NoError(t, err)
	assert.True(t, ans.Refused)
}

func TestAnswer_CustomRefusal(t *testing.T) {
	llm := &stubLLM{}
	uc := NewAnswerUseCase(&stubRetriever{}, llm, AnswerOptions{Refusal: "I don't know."}, nil)
	assert.Equal(t, "I don't know.", uc.Refusal())

	ans, err := uc.Answer(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "I don't know.", ans.Text)

	prompt, err := uc.RenderPrompt("ctx", "q")
	require.NoError(t, err)
	assert.Contains(t, prompt, `"I don't know."`)
}

func TestAnswer_Errors(t *testing.T) {
	uc := NewAnswerUseCase(&stubRetriever{}, &stubLLM{}, AnswerOptions{}, nil)
	_, err := uc.Answer(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	boom := errors.New("embedding quota")
	uc = NewAnswerUseCase(&stubRetriever{err: boom}, &stubLLM{}, AnswerOptions{}, nil)
	_, err = uc.Answer(context.Background(), "q")
	assert.ErrorIs(t, err, boom)

	timeout := errors.New("model timeout")
	uc = NewAnswerUseCase(&stubRetriever{results: []domain.ScoredChunk{chunk("doc-0", "x")}}, &stubLLM{err: timeout}, AnswerOptions{}, nil)
	_, err = uc.Answer(context.Background(), "q")
	assert.ErrorIs(t, err, timeout)
}

func TestIsExit(t *testing.T) {
	uc := NewAnswerUseCase(&stubRetriever{}, &stubLLM{}, AnswerOptions{}, nil)

	for _, in := range []string{"sair", "SAIR", " Exit ", "quit", "QuIt"} {
		assert.True(t, uc.IsExit(in), in)
	}
	for _, in := range []string{"", "sairr", "exit now", "tchau"} {
		assert.False(t, uc.IsExit(in), in)
	}

	custom := NewAnswerUseCase(&stubRetriever{}, &stubLLM{}, AnswerOptions{ExitKeywords: []string{"Tchau"}}, nil)
	assert.True(t, custom.IsExit("tchau"))
	assert.False(t, custom.IsExit("sair"))
}

func TestBuildContext(t *testing.T) {
	assert.Empty(t, BuildContext(nil))
	assert.Equal(t, "a"+ContextSeparator+"b", BuildContext([]domain.ScoredChunk{
		chunk("doc-0", " a "), chunk("doc-1", ""), chunk("doc-2", "b\n"),
	}))
}

// Seven distinct chunks are ingested and the question is answered from the
// one that covers it.
func TestIngestThenAnswer(t *testing.T) {
	ctx := context.Background()
	topics := []string{
		"A bateria deve ser carregada por oito horas antes do primeiro uso.",
		"O aparelho pesa trezentos gramas e mede quinze centímetros.",
		"A tela sensível ao toque possui resolução de alta definição.",
		"O prazo de garantia do fabricante é de doze meses a partir da compra.",
		"Para limpar o aparelho use apenas um pano seco e macio.",
		"O carregador acompanha um cabo de um metro e meio.",
		"As atualizações de software são instaladas automaticamente à noite.",
	}
	docs := make([]domain.Document, len(topics))
	for i, text := range topics {
		docs[i] = domain.Document{Content: text, Metadata: map[string]any{"page": i}}
	}

	emb := embedding.NewHashEmbedder(256)
	st := memstore.NewMemoryStore()
	ingest := newIngest(t, &stubLoader{docs: docs}, emb, st, 3)

	res, err := ingest.Ingest(ctx, "manual.pdf", IngestOptions{})
	require.NoError(t, err)
	require.Equal(t, 7, res.Chunks)

	llm := &stubLLM{}
	uc := NewAnswerUseCase(retriever.NewSemanticRetriever(st, emb, nil), llm, AnswerOptions{TopK: 3}, nil)

	ans, err := uc.Answer(ctx, "Qual é o prazo de garantia do fabricante?")
	require.NoError(t, err)
	require.NotEmpty(t, ans.Sources)
	assert.LessOrEqual(t, len(ans.Sources), 3)
	assert.Equal(t, "doc-3", ans.Sources[0].Chunk.ID, fmt.Sprintf("sources: %+v", ans.Sources))
	assert.True(t, ans.Sources[0].HasScore())

	require.Len(t, llm.prompts, 1)
	ctxStart := strings.Index(llm.prompts[0], "CONTEXTO:\n") + len("CONTEXTO:\n")
	assert.True(t, strings.HasPrefix(llm.prompts[0][ctxStart:], topics[3]))
}
