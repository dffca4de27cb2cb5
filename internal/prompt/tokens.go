// Package prompt assembles step prompts, compacts them into the endpoint
// token budget, and archives rendered prompts by content hash.
package prompt

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// charsPerToken is the estimation fallback when no encoder is available.
const charsPerToken = 4

// Counter counts prompt tokens with a tiktoken encoder, falling back to a
// bytes/4 estimate when the encoding cannot be loaded (offline installs).
type Counter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewCounter creates a Counter. Encoder loading is deferred to first use.
func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) encoder() *tiktoken.Tiktoken {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			c.enc = enc
		}
	})
	return c.enc
}

// Count returns the token count of text.
func (c *Counter) Count(text string) int {
	if enc := c.encoder(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return estimate(text)
}

func estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}
