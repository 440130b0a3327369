package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// render substitutes the {key} tokens of tpl and passes the result through
// an eino prompt template so prompt callbacks fire. Only the listed tokens
// are replaced, which leaves JSON braces in examples untouched.
func render(ctx context.Context, name, tpl string, pairs ...string) (string, error) {
	content := tpl
	if len(pairs) > 0 {
		content = strings.NewReplacer(pairs...).Replace(tpl)
	}

	t := prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder("system_messages", false),
	)
	msgs, err := t.Format(ctx, map[string]any{
		"system_messages": []*schema.Message{schema.SystemMessage(strings.TrimSpace(content))},
	})
	if err != nil {
		return "", fmt.Errorf("%s prompt: %w", name, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("%s prompt: empty result", name)
	}
	return msgs[0].Content, nil
}

func orDefault(dialect string) string {
	if strings.TrimSpace(dialect) == "" {
		return "SQL"
	}
	return dialect
}
