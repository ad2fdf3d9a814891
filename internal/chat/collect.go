package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Collect streams the reply of m to userMessage, calling onToken for every
// chunk, and returns the concatenated content. On error the partial content
// is returned alongside it.
func Collect(ctx context.Context, m model.BaseChatModel, userMessage string, onToken func(string) error) (string, error) {
	sr, err := m.Stream(ctx, []*schema.Message{schema.UserMessage(userMessage)})
	if err != nil {
		return "", fmt.Errorf("start response stream: %w", err)
	}
	defer sr.Close()

	var full strings.Builder
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return full.String(), nil
		}
		if err != nil {
			return full.String(), err
		}
		if chunk == nil {
			continue
		}
		full.WriteString(chunk.Content)
		if onToken != nil {
			if err := onToken(chunk.Content); err != nil {
				return full.String(), err
			}
		}
	}
}
