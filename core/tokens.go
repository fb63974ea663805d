package core

import (
	"sync"

	. "github.com/stevegt/goadapt"
	"github.com/tiktoken-go/tokenizer"
)

// Tokenizer is the codec used for token estimates.  Perplexity does
// not publish its tokenizer, so counts are approximate.
var Tokenizer tokenizer.Codec

var tokenizerOnce sync.Once
var tokenizerErr error

// InitTokenizer initializes the tokenizer.
func InitTokenizer() (err error) {
	tokenizerOnce.Do(func() {
		Tokenizer, tokenizerErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return tokenizerErr
}

// TokenCount returns the number of tokens in text.
func TokenCount(text string) (count int, err error) {
	defer Return(&err)
	err = InitTokenizer()
	Ck(err)
	_, tokens, err := Tokenizer.Encode(text)
	Ck(err)
	return len(tokens), nil
}

// TranscriptTokens returns the total token count of every message
// content in t.
func TranscriptTokens(t Transcript) (count int, err error) {
	defer Return(&err)
	for _, msg := range t.msgs {
		n, err := TokenCount(msg.Content)
		Ck(err)
		count += n
	}
	return
}
