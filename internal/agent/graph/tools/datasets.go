package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

// ===================================
// list_datasets
// ===================================

// ListDatasetsTool describes every dataset available for the current question.
// The question is read from the context, see WithQuestion.
type ListDatasetsTool struct {
	provider model.ContextProvider
}

func NewListDatasetsTool(provider model.ContextProvider) *ListDatasetsTool {
	return &ListDatasetsTool{provider: provider}
}

func (t *ListDatasetsTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: ToolListDatasets,
		Desc: "List every available dataset with its description and tables. Takes no arguments.",
	}, nil
}

func (t *ListDatasetsTool) InvokableRun(ctx context.Context, _ string, _ ...tool.Option) (string, error) {
	info, err := t.provider.GetDatasetsInfo(ctx, QuestionFrom(ctx))
	if err != nil {
		logx.Warn().Err(err).Str("tool_name", ToolListDatasets).Msg("Tool failed")
		return errorf("could not list datasets: %v", err), nil
	}
	if strings.TrimSpace(info) == "" {
		return errorf("no datasets are available"), nil
	}
	return info, nil
}

// ===================================
// get_datasets_tables_info
// ===================================

type tablesInfoInput struct {
	DatasetNames string `json:"dataset_names"`
}

// TablesInfoTool returns detailed table metadata for the selected datasets.
type TablesInfoTool struct {
	provider model.ContextProvider
}

func NewTablesInfoTool(provider model.ContextProvider) *TablesInfoTool {
	return &TablesInfoTool{provider: provider}
}

func (t *TablesInfoTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: ToolTablesInfo,
		Desc: "Get the tables, columns and sample rows of one or more datasets. " +
			"Use the exact dataset names returned by list_datasets.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"dataset_names": {
				Type:     schema.String,
				Desc:     "Comma-separated dataset names, e.g. dataset_a,dataset_b.",
				Required: true,
			},
		}),
	}, nil
}

func (t *TablesInfoTool) InvokableRun(ctx context.Context, input string, _ ...tool.Option) (string, error) {
	var in tablesInfoInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return errorf("invalid arguments: %v", err), nil
	}
	names := SplitDatasetNames(in.DatasetNames)
	if len(names) == 0 {
		return errorf("dataset_names is required"), nil
	}

	info, err := t.provider.GetTablesInfo(ctx, strings.Join(names, ","))
	if err != nil {
		logx.Warn().Err(err).
			Str("tool_name", ToolTablesInfo).
			Strs("dataset_names", names).
			Msg("Tool failed")
		return errorf("%v. Check the dataset names and try again.", err), nil
	}
	return info, nil
}

var (
	_ tool.InvokableTool = (*ListDatasetsTool)(nil)
	_ tool.InvokableTool = (*TablesInfoTool)(nil)
)
