package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
)

var (
	//go:embed template/sql_agent.txt
	sqlAgentPrompt string
	//go:embed template/sql_examples.txt
	sqlExamplesPrompt string
	//go:embed template/select_datasets.txt
	selectDatasetsPrompt string
	//go:embed template/sql_check.txt
	sqlCheckPrompt string
	//go:embed template/rewrite_query.txt
	rewriteQueryPrompt string
)

// SQLAgent renders the query agent's system prompt, with the few-shot
// examples appended when there are any.
func SQLAgent(ctx context.Context, dialect string, examples []model.SQLExample) (string, error) {
	tpl := sqlAgentPrompt
	if len(examples) > 0 {
		tpl = strings.TrimRight(tpl, "\n") + "\n" + sqlExamplesPrompt
	}
	return render(ctx, "sql agent", tpl,
		"{dialect}", orDefault(dialect),
		"{examples}", FormatSQLExamples(examples),
	)
}

// FormatSQLExamples lays out question/query pairs for few-shot prompting.
func FormatSQLExamples(examples []model.SQLExample) string {
	parts := make([]string, 0, len(examples))
	for _, ex := range examples {
		parts = append(parts, fmt.Sprintf("Question: %s\nSQL Query:\n```sql\n%s\n```", ex.Question, ex.Query))
	}
	return strings.Join(parts, "\n\n")
}

func SelectDatasets(ctx context.Context) (string, error) {
	return render(ctx, "select datasets", selectDatasetsPrompt)
}

func SQLCheck(ctx context.Context, dialect string) (string, error) {
	return render(ctx, "sql check", sqlCheckPrompt, "{dialect}", orDefault(dialect))
}

func RewriteQuery(ctx context.Context) (string, error) {
	return render(ctx, "rewrite query", rewriteQueryPrompt)
}

// RewriteQueryInput lays out earlier questions and the latest one for the
// rewrite prompt.
func RewriteQueryInput(history []string, question string) string {
	var b strings.Builder
	b.WriteString("History:\n")
	if len(history) == 0 {
		b.WriteString("(empty)\n")
	}
	for i, q := range history {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}
	fmt.Fprintf(&b, "\nLatest question: %s", question)
	return b.String()
}
