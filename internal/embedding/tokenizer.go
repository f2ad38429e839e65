package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

const (
	tokenCLS   = 101
	tokenSEP   = 102
	vocabRange = 30000
)

// SimpleTokenizer maps lower-cased terms to hashed token IDs. It does not
// reproduce a real WordPiece vocabulary.
type SimpleTokenizer struct{}

// Tokenize produces padded token IDs of length maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = tokenCLS
	attentionMask[0] = 1

	pos := 1
	for _, term := range Terms(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = int64(1000 + HashString(term)%vocabRange)
		attentionMask[pos] = 1
		pos++
	}
	if pos < maxTokens {
		inputIDs[pos] = tokenSEP
		attentionMask[pos] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// Terms lower-cases text and splits it into runs of letters and digits.
func Terms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// HashString returns a deterministic non-negative hash of s.
func HashString(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() & 0x7fffffff)
}
