// Package intent decides which backends should answer a question.
package intent

import (
	"strings"
	"unicode"

	"github.com/kalambet/hrq/internal/query"
)

// Classifier assigns an intent to question text. Implementations must be
// pure and total: no I/O, no error path.
type Classifier interface {
	Classify(text string) query.Intent
}

// KeywordClassifier routes by vocabulary membership. Any structural hit plus
// any unstructured hit is hybrid; unstructured alone is document; everything
// else, including no hit at all, is sql.
type KeywordClassifier struct {
	structural   vocabulary
	unstructured vocabulary
}

var _ Classifier = (*KeywordClassifier)(nil)

// NewKeywordClassifier builds a classifier over a copy of kw.
func NewKeywordClassifier(kw Keywords) *KeywordClassifier {
	return &KeywordClassifier{
		structural:   newVocabulary(kw.Structural),
		unstructured: newVocabulary(kw.Unstructured),
	}
}

func (c *KeywordClassifier) Classify(text string) query.Intent {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return query.IntentSQL
	}
	padded := " " + strings.Join(tokens, " ") + " "

	structural := c.structural.matches(tokens, padded)
	unstructured := c.unstructured.matches(tokens, padded)

	switch {
	case structural && unstructured:
		return query.IntentHybrid
	case unstructured:
		return query.IntentDocument
	default:
		return query.IntentSQL
	}
}

// Matched returns the structural and unstructured entries found in text.
// Used for explaining a classification; Classify does not depend on it.
func (c *KeywordClassifier) Matched(text string) (structural, unstructured []string) {
	tokens := tokenize(text)
	padded := " " + strings.Join(tokens, " ") + " "
	return c.structural.collect(tokens, padded), c.unstructured.collect(tokens, padded)
}

// vocabulary splits entries into single tokens (set lookup) and phrases
// (substring lookup over the space-joined token stream).
type vocabulary struct {
	words   map[string]struct{}
	phrases []string
}

func newVocabulary(entries []string) vocabulary {
	v := vocabulary{words: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		toks := tokenize(e)
		switch len(toks) {
		case 0:
			continue
		case 1:
			v.words[toks[0]] = struct{}{}
		default:
			v.phrases = append(v.phrases, " "+strings.Join(toks, " ")+" ")
		}
	}
	return v
}

func (v vocabulary) matches(tokens []string, padded string) bool {
	for _, t := range tokens {
		if _, ok := v.words[t]; ok {
			return true
		}
	}
	for _, p := range v.phrases {
		if strings.Contains(padded, p) {
			return true
		}
	}
	return false
}

func (v vocabulary) collect(tokens []string, padded string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range tokens {
		if _, ok := v.words[t]; ok && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, p := range v.phrases {
		if strings.Contains(padded, p) {
			out = append(out, strings.TrimSpace(p))
		}
	}
	return out
}

// tokenize lowercases text and splits it on anything that is not a letter,
// digit, '+' or '#', so "C++" and "C#" survive as tokens.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	})
}
