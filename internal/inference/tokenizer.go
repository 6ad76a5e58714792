package inference

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	padTokenID int64 = 0
	unkTokenID int64 = 100
	clsTokenID int64 = 101
	sepTokenID int64 = 102
)

var errInvalidEncoding = errors.New("tokenize: input is not valid UTF-8")

// encoding holds one tokenized input padded to a fixed length: token ids,
// an attention mask (1 for real tokens, 0 for padding), and segment ids
// (0 for the first text, 1 for the second text of a pair).
type encoding struct {
	ids     []int64
	mask    []int64
	typeIDs []int64
}

// encodeText tokenizes a single text as [CLS] tokens [SEP], padded and
// truncated to maxLen. The empty string is valid input and encodes to
// [CLS] [SEP] alone. Text that is not valid UTF-8 is a tokenization error.
func encodeText(text string, maxLen int) (encoding, error) {
	if !utf8.ValidString(text) {
		return encoding{}, errInvalidEncoding
	}

	tokens := make([]int64, 0, maxLen)
	tokens = append(tokens, clsTokenID)
	for _, w := range splitTokens(strings.ToLower(text)) {
		if len(tokens) >= maxLen-1 {
			break
		}
		tokens = append(tokens, hashToken(w))
	}
	tokens = append(tokens, sepTokenID)

	enc := newPadded(maxLen)
	copy(enc.ids, tokens)
	for i := 0; i < len(tokens) && i < maxLen; i++ {
		enc.mask[i] = 1
	}
	return enc, nil
}

// encodePair tokenizes a text pair as [CLS] a [SEP] b [SEP] with segment ids
// marking the second text, the input layout cross-encoder models are trained
// on. The joint sequence is truncated to maxLen, trimming the longer side of
// the pair first so short queries keep their tokens.
func encodePair(a, b string, maxLen int) (encoding, error) {
	if !utf8.ValidString(a) || !utf8.ValidString(b) {
		return encoding{}, errInvalidEncoding
	}

	tokA := wordTokens(a)
	tokB := wordTokens(b)

	// Budget excludes [CLS] and the two [SEP] markers.
	budget := maxLen - 3
	if budget < 0 {
		budget = 0
	}
	for len(tokA)+len(tokB) > budget {
		if len(tokA) >= len(tokB) {
			tokA = tokA[:len(tokA)-1]
		} else {
			tokB = tokB[:len(tokB)-1]
		}
	}

	enc := newPadded(maxLen)
	pos := 0
	put := func(id int64, segment int64) {
		if pos >= maxLen {
			return
		}
		enc.ids[pos] = id
		enc.mask[pos] = 1
		enc.typeIDs[pos] = segment
		pos++
	}

	put(clsTokenID, 0)
	for _, id := range tokA {
		put(id, 0)
	}
	put(sepTokenID, 0)
	for _, id := range tokB {
		put(id, 1)
	}
	put(sepTokenID, 1)

	return enc, nil
}

func newPadded(maxLen int) encoding {
	return encoding{
		ids:     make([]int64, maxLen),
		mask:    make([]int64, maxLen),
		typeIDs: make([]int64, maxLen),
	}
}

func wordTokens(text string) []int64 {
	words := splitTokens(strings.ToLower(text))
	ids := make([]int64, len(words))
	for i, w := range words {
		ids[i] = hashToken(w)
	}
	return ids
}

// splitTokens splits text into word and punctuation tokens.
func splitTokens(text string) []string {
	var tokens []string
	var current strings.Builder

	for _, r := range text {
		if unicode.IsSpace(r) {
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			continue
		}
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			tokens = append(tokens, string(r))
			continue
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

// hashToken maps a word to a token id in the vocabulary range [1000, 30521].
// This is a deterministic hash, not a real WordPiece vocabulary lookup; it
// produces stable, non-degenerate inputs for MiniLM-family models.
func hashToken(word string) int64 {
	if word == "" {
		return unkTokenID
	}
	var h uint64
	for _, c := range word {
		h = h*31 + uint64(c)
	}
	return int64(h%29521) + 1000
}
