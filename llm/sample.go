package llm

import (
	"context"
	"fmt"
	"strings"
)

const sampleTemperature = 1.0

// SampleReplies issues count independent high-temperature completions and
// returns the non-empty texts. It only fails when every completion fails.
func SampleReplies(ctx context.Context, client Client, model string, msgs []Message, count int) ([]string, error) {
	if client == nil {
		return nil, fmt.Errorf("llm: client is required")
	}
	if count <= 0 {
		return nil, nil
	}

	out := make([]string, 0, count)
	var lastErr error
	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			break
		}
		res, err := client.Chat(ctx, Request{
			Model:    model,
			Messages: msgs,
			Parameters: map[string]any{
				"temperature": sampleTemperature,
			},
		})
		if err != nil {
			lastErr = err
			continue
		}
		text := strings.TrimSpace(res.Text)
		if text == "" {
			continue
		}
		out = append(out, text)
	}
	if len(out) == 0 && lastErr != nil {
		return nil, fmt.Errorf("sample replies: %w", lastErr)
	}
	return out, nil
}
