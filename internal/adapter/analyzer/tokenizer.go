package analyzer

import (
	"strings"
	"unicode"
)

// Tokenizer splits text into lowercase word tokens and drops stopwords.
type Tokenizer struct {
	stopwords map[string]struct{}
	minLen    int
}

// NewTokenizer creates a Tokenizer with the default Portuguese and English
// stopword list.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{
		stopwords: defaultStopwords(),
		minLen:    2,
	}
}

// Tokenize splits text into tokens.
func (t *Tokenizer) Tokenize(text string) []string {
	words := splitWords(text)
	tokens := make([]string, 0, len(words))

	for _, word := range words {
		word = strings.ToLower(word)
		if len([]rune(word)) < t.minLen {
			continue
		}
		if _, isStop := t.stopwords[word]; isStop {
			continue
		}
		tokens = append(tokens, word)
	}

	return tokens
}

// splitWords splits text on every rune that is not a letter or digit.
func splitWords(text string) []string {
	var words []string
	var current strings.Builder

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
		} else {
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
		}
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}

	return words
}

func defaultStopwords() map[string]struct{} {
	stops := []string{
		// pt
		"de", "da", "do", "das", "dos", "em", "na", "no", "nas", "nos",
		"um", "uma", "uns", "umas", "para", "por", "com", "sem", "que",
		"se", "os", "as", "ao", "aos", "ou", "mas", "como", "qual",
		"quais", "sua", "seu", "suas", "seus", "este", "esta", "isso",
		"isto", "ele", "ela", "eles", "elas", "foi", "ser", "são", "está",
		"pelo", "pela", "mais", "muito", "também", "já", "há",
		// en
		"an", "and", "are", "as", "at", "be", "by", "for", "from", "has",
		"in", "is", "it", "its", "of", "on", "that", "the", "to", "was",
		"were", "will", "with", "this", "what", "when", "where", "which",
		"who", "how", "or", "not", "do", "does", "did",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}
