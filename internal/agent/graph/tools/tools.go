package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"

	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

const (
	ToolListDatasets = "list_datasets"
	ToolTablesInfo   = "get_datasets_tables_info"
	ToolQueryCheck   = "sql_query_check"
	ToolQueryExec    = "sql_query_exec"
)

// ErrorPrefix marks a tool output as a failure the model should correct.
const ErrorPrefix = "Error: "

// NoRowsMessage is returned by sql_query_exec when the query matched nothing.
const NoRowsMessage = "The query returned no rows."

// IsError reports whether a tool output reports a failure. Failures always
// lead with ErrorPrefix; the same text inside result rows is data.
func IsError(output string) bool {
	return strings.HasPrefix(strings.TrimSpace(output), ErrorPrefix)
}

func errorf(format string, args ...any) string {
	return ErrorPrefix + fmt.Sprintf(format, args...)
}

type questionKey struct{}

// WithQuestion stores the user question for tools that search by it.
func WithQuestion(ctx context.Context, question string) context.Context {
	return context.WithValue(ctx, questionKey{}, question)
}

// QuestionFrom returns the question stored by WithQuestion.
func QuestionFrom(ctx context.Context) string {
	q, _ := ctx.Value(questionKey{}).(string)
	return q
}

// NewToolsNode builds a tools node that tolerates hallucinated tool names
// and normalizes arguments before they reach the tools.
func NewToolsNode(ctx context.Context, ts ...tool.BaseTool) (*compose.ToolsNode, error) {
	tn, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:               ts,
		ExecuteSequentially: true,
		UnknownToolsHandler: func(ctx context.Context, name, input string) (string, error) {
			logx.Warn().
				Str("tool_name", name).
				Str("arguments", input).
				Msg("Unknown or invalid tool call; returning fallback result")
			return errorf("unknown tool %q. Use one of the tools you were given.", name), nil
		},
		ToolArgumentsHandler: func(ctx context.Context, name, arguments string) (string, error) {
			return normalizeArguments(name, arguments), nil
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Failed to create tools node")
		return nil, fmt.Errorf("failed to create tools node: %w", err)
	}
	return tn, nil
}

// normalizeArguments trims string arguments and joins a dataset_names list
// into the comma-separated form. Input that is not a JSON object is kept.
func normalizeArguments(name, arguments string) string {
	if strings.TrimSpace(arguments) == "" {
		return "{}"
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(arguments), &m); err != nil {
		return arguments
	}

	switch name {
	case ToolQueryCheck, ToolQueryExec:
		if v, ok := m["query"]; ok {
			switch vv := v.(type) {
			case string:
				m["query"] = strings.TrimSpace(vv)
			default:
				m["query"] = strings.TrimSpace(fmt.Sprint(v))
			}
		}
	case ToolTablesInfo:
		if v, ok := m["dataset_names"]; ok {
			switch vv := v.(type) {
			case string:
				m["dataset_names"] = strings.TrimSpace(vv)
			case []any:
				names := make([]string, 0, len(vv))
				for _, n := range vv {
					if s := strings.TrimSpace(fmt.Sprint(n)); s != "" {
						names = append(names, s)
					}
				}
				m["dataset_names"] = strings.Join(names, ",")
			default:
				m["dataset_names"] = strings.TrimSpace(fmt.Sprint(v))
			}
		}
	}

	b, err := json.Marshal(m)
	if err != nil {
		return arguments
	}
	return string(b)
}

// SplitDatasetNames parses a comma-separated dataset list.
func SplitDatasetNames(s string) []string {
	var names []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return names
}

// DatasetNamesFromArgs extracts dataset_names from get_datasets_tables_info arguments.
func DatasetNamesFromArgs(arguments string) []string {
	var in tablesInfoInput
	if err := json.Unmarshal([]byte(normalizeArguments(ToolTablesInfo, arguments)), &in); err != nil {
		return nil
	}
	return SplitDatasetNames(in.DatasetNames)
}

// QueryFromArgs extracts query from sql_query_check or sql_query_exec arguments.
func QueryFromArgs(arguments string) string {
	var in queryInput
	if err := json.Unmarshal([]byte(normalizeArguments(ToolQueryExec, arguments)), &in); err != nil {
		return ""
	}
	return in.Query
}
