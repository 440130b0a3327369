package prompts

import (
	"context"
	_ "embed"
	"strings"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
)

var (
	//go:embed template/chart_preprocess.txt
	chartPreprocessPrompt string
	//go:embed template/chart_examples.txt
	chartExamplesPrompt string
	//go:embed template/chart_metadata.txt
	chartMetadataPrompt string
	//go:embed template/rephrase_viz.txt
	rephraseVizPrompt string
	//go:embed template/validation_viz.txt
	validationVizPrompt string
)

// ChartPreprocess renders the data preparation prompt with optional examples.
func ChartPreprocess(ctx context.Context, examples []model.VizExample) (string, error) {
	tpl := chartPreprocessPrompt
	if len(examples) > 0 {
		tpl = strings.TrimRight(tpl, "\n") + "\n" + chartExamplesPrompt
	}
	return render(ctx, "chart preprocess", tpl, "{examples}", FormatVizExamples(examples))
}

// FormatVizExamples joins stored chart examples, which are kept preformatted.
func FormatVizExamples(examples []model.VizExample) string {
	parts := make([]string, 0, len(examples))
	for _, ex := range examples {
		if c := strings.TrimSpace(ex.Content); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n\n")
}

func ChartMetadata(ctx context.Context) (string, error) {
	return render(ctx, "chart metadata", chartMetadataPrompt)
}

func RephraseViz(ctx context.Context) (string, error) {
	return render(ctx, "rephrase viz", rephraseVizPrompt)
}

func ValidationViz(ctx context.Context) (string, error) {
	return render(ctx, "validation viz", validationVizPrompt)
}
