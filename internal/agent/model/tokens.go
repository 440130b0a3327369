package model

import (
	"fmt"
	"sync"

	"github.com/cloudwego/eino/schema"
	"github.com/tiktoken-go/tokenizer"
)

// perMessageOverhead approximates the role/separator tokens chat formats add.
const perMessageOverhead = 4

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecErr  error
)

func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// CountTokens estimates the prompt size of msgs with the cl100k encoding.
func CountTokens(msgs []*schema.Message) (int, error) {
	enc, err := getCodec()
	if err != nil {
		return 0, fmt.Errorf("load tokenizer: %w", err)
	}

	total := 0
	for _, m := range msgs {
		if m == nil {
			continue
		}
		ids, _, err := enc.Encode(m.Content)
		if err != nil {
			return 0, fmt.Errorf("encode message: %w", err)
		}
		total += len(ids) + perMessageOverhead
		for _, tc := range m.ToolCalls {
			ids, _, err := enc.Encode(tc.Function.Name + tc.Function.Arguments)
			if err != nil {
				return 0, fmt.Errorf("encode tool call: %w", err)
			}
			total += len(ids)
		}
	}
	return total, nil
}

// ExceedsContext reports whether msgs no longer fit in a window of maxTokens.
// A non-positive maxTokens never overflows.
func ExceedsContext(msgs []*schema.Message, maxTokens int) bool {
	if maxTokens <= 0 {
		return false
	}
	n, err := CountTokens(msgs)
	if err != nil {
		return false
	}
	return n > maxTokens
}
