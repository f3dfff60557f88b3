package domain

// DefaultRefusal is the sentence given when the retrieved context cannot
// answer a question.
const DefaultRefusal = "Não tenho informações necessárias para responder sua pergunta."

// Document is one page of loaded source content.
type Document struct {
	Content  string
	Metadata map[string]any
}

// Chunk is a bounded slice of a Document's text, the unit of retrieval.
type Chunk struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// ScoredChunk pairs a chunk with its relevance. A nil Score means the
// backend supplied no ranking information.
type ScoredChunk struct {
	Chunk Chunk
	Score *float64
}

// HasScore reports whether the result carries a relevance score.
func (s ScoredChunk) HasScore() bool {
	return s.Score != nil
}

type Answer struct {
	Question string
	Text     string
	Refused  bool
	Sources  []ScoredChunk
}

// FilterMetadata returns a copy of md without keys whose value is nil or
// the empty string.
func FilterMetadata(md map[string]any) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// CloneMetadata returns a shallow copy of md.
func CloneMetadata(md map[string]any) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
