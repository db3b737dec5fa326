package assemble

import (
	"github.com/pkoukk/tiktoken-go"
)

// fallbackCharsPerToken matches the estimator the chunker uses.
const fallbackCharsPerToken = 4

// Counter counts tokens with a tiktoken encoding, degrading to a
// character heuristic when the encoding cannot be loaded.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// NewCounter loads the named encoding. The error is non-fatal for
// callers that accept heuristic counting; they may ignore it and use
// the returned Counter as-is.
func NewCounter(encoding string) (*Counter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return &Counter{}, err
	}
	return &Counter{enc: enc}, nil
}

// Count returns the token count of s.
func (c *Counter) Count(s string) int {
	if c.enc == nil {
		return len(s) / fallbackCharsPerToken
	}
	return len(c.enc.Encode(s, nil, nil))
}

// Exact reports whether counts come from a real encoding rather than
// the heuristic.
func (c *Counter) Exact() bool {
	return c.enc != nil
}
