// Package tokens counts prompt tokens for the agent's memory budget.
package tokens

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kailas-cloud/voxdex/internal/domain"
)

// Per-message serialization overhead of the chat format, plus the
// reply primer, per OpenAI's counting guidance.
const (
	messageOverhead = 4
	replyOverhead   = 3
)

var encodingForModel = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

const defaultEncoding = "cl100k_base"

// Counter counts tokens with the model's tiktoken encoding. Encoding data
// loads lazily on first use; if it cannot be loaded the counter degrades to
// a character-based estimate instead of failing.
type Counter struct {
	encoding string

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewCounter creates a Counter for a model name. Dated model variants match
// by longest prefix; unknown models fall back to cl100k_base.
func NewCounter(model string) *Counter {
	if enc, ok := encodingForModel[model]; ok {
		return &Counter{encoding: enc}
	}
	enc := defaultEncoding
	matched := ""
	for prefix, e := range encodingForModel {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(matched) {
			matched, enc = prefix, e
		}
	}
	return &Counter{encoding: enc}
}

func (c *Counter) init() error {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.initErr = err
			return
		}
		c.enc = enc
	})
	return c.initErr
}

// CountText returns the token count of one text.
func (c *Counter) CountText(text string) int {
	if text == "" {
		return 0
	}
	if c.init() != nil {
		return estimate(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// CountMessages returns the token footprint of an assembled prompt,
// including per-message chat format overhead and tool call payloads.
func (c *Counter) CountMessages(msgs []domain.PromptMessage) int {
	total := replyOverhead
	for _, m := range msgs {
		total += messageOverhead
		total += c.CountText(string(m.Role))
		total += c.CountText(m.Text)
		for _, tc := range m.ToolCalls {
			total += c.CountText(tc.Name)
			total += len(tc.Args) / 4
		}
		if m.ToolCallID != "" {
			total++
		}
	}
	return total
}

// estimate approximates four characters per token. Used when encoding data
// is unavailable, e.g. no network access to fetch it.
func estimate(text string) int {
	return utf8.RuneCountInString(text)/4 + 1
}
