package prompts

import (
	"context"
	_ "embed"
)

var (
	//go:embed template/initial_routing.txt
	initialRoutingPrompt string
	//go:embed template/post_sql_routing.txt
	postSQLRoutingPrompt string
)

func InitialRouting(ctx context.Context, dialect string) (string, error) {
	return render(ctx, "initial routing", initialRoutingPrompt, "{dialect}", orDefault(dialect))
}

func PostSQLRouting(ctx context.Context) (string, error) {
	return render(ctx, "post sql routing", postSQLRoutingPrompt)
}
