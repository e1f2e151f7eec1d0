package chunk

import (
	"strings"

	"github.com/clipperhouse/uax29/v2/words"
)

// Tokenize splits text into Unicode word segments, dropping pure-whitespace
// segments. Punctuation survives as its own token, which keeps the count a
// reasonable stand-in for model token budgets without a vocabulary file.
func Tokenize(text string) []string {
	var tokens []string
	segs := words.FromString(text)
	for segs.Next() {
		tok := segs.Value()
		if strings.TrimSpace(tok) == "" {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// Detokenize rejoins a token window with single spaces. Original spacing is
// not recoverable; downstream consumers only need readable text.
func Detokenize(tokens []string) string {
	return strings.Join(tokens, " ")
}

// CountTokens reports the token count of text under the same segmentation
// Tokenize uses.
func CountTokens(text string) int {
	return len(Tokenize(text))
}
