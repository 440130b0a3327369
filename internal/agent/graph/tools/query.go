package tools

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/prompts"
	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

type queryInput struct {
	Query string `json:"query"`
}

// ===================================
// sql_query_check
// ===================================

// QueryCheckTool asks a model to review a query for common mistakes and
// returns the corrected query.
type QueryCheckTool struct {
	cm      einomodel.BaseChatModel
	dialect string
	timeout time.Duration
}

func NewQueryCheckTool(cm einomodel.BaseChatModel, dialect string, timeout time.Duration) *QueryCheckTool {
	return &QueryCheckTool{cm: cm, dialect: dialect, timeout: timeout}
}

func (t *QueryCheckTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: ToolQueryCheck,
		Desc: "Double check a SQL query for common mistakes before running it. " +
			"Returns the corrected query, or the same query when it is fine.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "The SQL query to check.",
				Required: true,
			},
		}),
	}, nil
}

func (t *QueryCheckTool) InvokableRun(ctx context.Context, input string, _ ...tool.Option) (string, error) {
	var in queryInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return errorf("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(in.Query) == "" {
		return errorf("query is required"), nil
	}

	system, err := prompts.SQLCheck(ctx, t.dialect)
	if err != nil {
		return errorf("%v", err), nil
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	out, err := t.cm.Generate(ctx, []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(in.Query),
	})
	if err != nil {
		logx.Warn().Err(err).Str("tool_name", ToolQueryCheck).Msg("Tool failed")
		return errorf("could not check the query: %v", err), nil
	}
	return StripCodeFence(out.Content), nil
}

// StripCodeFence removes a surrounding markdown code fence, if any.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = ""
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ===================================
// sql_query_exec
// ===================================

// QueryExecTool runs a read-only query and returns the rows as JSON.
type QueryExecTool struct {
	provider model.ContextProvider
}

func NewQueryExecTool(provider model.ContextProvider) *QueryExecTool {
	return &QueryExecTool{provider: provider}
}

func (t *QueryExecTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: ToolQueryExec,
		Desc: "Execute a single read-only SQL query and get the rows as JSON. " +
			"If the query is not correct an error message is returned; rewrite the query and try again.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "A detailed and correct SQL query.",
				Required: true,
			},
		}),
	}, nil
}

func (t *QueryExecTool) InvokableRun(ctx context.Context, input string, _ ...tool.Option) (string, error) {
	var in queryInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return errorf("invalid arguments: %v", err), nil
	}
	if err := CheckReadOnly(in.Query); err != nil {
		return errorf("%v", err), nil
	}

	out, err := t.provider.GetQueryResults(ctx, in.Query)
	if err != nil {
		logx.Warn().Err(err).Str("tool_name", ToolQueryExec).Msg("Query failed")
		return errorf("%v", err), nil
	}
	if strings.TrimSpace(out) == "" {
		return NoRowsMessage, nil
	}
	return out, nil
}

var (
	_ tool.InvokableTool = (*QueryCheckTool)(nil)
	_ tool.InvokableTool = (*QueryExecTool)(nil)
)

// ===================================
// read-only guard
// ===================================

type readOnlyError string

func (e readOnlyError) Error() string { return string(e) }

const (
	errEmptyQuery       = readOnlyError("query is empty")
	errMultiStatement   = readOnlyError("only one statement per query is allowed")
	errNotReadStatement = readOnlyError("only read-only statements (SELECT, WITH, SHOW, DESCRIBE, EXPLAIN, VALUES) are allowed")
)

var readOnlyKeywords = map[string]bool{
	"select":   true,
	"with":     true,
	"show":     true,
	"describe": true,
	"desc":     true,
	"explain":  true,
	"values":   true,
}

var writeKeywords = map[string]bool{
	"insert":   true,
	"update":   true,
	"delete":   true,
	"merge":    true,
	"drop":     true,
	"create":   true,
	"alter":    true,
	"truncate": true,
	"grant":    true,
	"revoke":   true,
	"attach":   true,
	"detach":   true,
	"pragma":   true,
	"vacuum":   true,
	"copy":     true,
	"call":     true,
	"set":      true,
}

// CheckReadOnly rejects empty input, multiple statements and statements
// that may write. Comments and quoted text are ignored.
func CheckReadOnly(query string) error {
	words, semicolons := scanSQL(query)
	if len(words) == 0 {
		return errEmptyQuery
	}
	if semicolons > 0 {
		return errMultiStatement
	}
	if !readOnlyKeywords[words[0]] {
		return errNotReadStatement
	}
	// WITH ... can wrap a data-modifying statement
	if words[0] == "with" || words[0] == "explain" {
		for _, w := range words[1:] {
			if writeKeywords[w] && w != "set" {
				return errNotReadStatement
			}
		}
	}
	return nil
}

// scanSQL returns the lowercase bare words of query and the number of
// statement separators that are followed by more code.
func scanSQL(query string) ([]string, int) {
	var (
		words      []string
		word       strings.Builder
		semicolons int
		pending    bool
	)
	flush := func() {
		if word.Len() > 0 {
			if pending {
				semicolons++
				pending = false
			}
			words = append(words, strings.ToLower(word.String()))
			word.Reset()
		}
	}

	r := []rune(query)
	for i := 0; i < len(r); i++ {
		c := r[i]
		switch {
		case c == '-' && i+1 < len(r) && r[i+1] == '-':
			flush()
			for i < len(r) && r[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(r) && r[i+1] == '*':
			flush()
			i += 2
			for i+1 < len(r) && !(r[i] == '*' && r[i+1] == '/') {
				i++
			}
			i++
		case c == '\'' || c == '"' || c == '`':
			flush()
			if pending {
				semicolons++
				pending = false
			}
			for i++; i < len(r); i++ {
				if r[i] == c {
					if i+1 < len(r) && r[i+1] == c {
						i++
						continue
					}
					break
				}
			}
		case c == ';':
			flush()
			pending = true
		case unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_':
			word.WriteRune(c)
		default:
			flush()
			if pending && !unicode.IsSpace(c) {
				semicolons++
				pending = false
			}
		}
	}
	flush()
	return words, semicolons
}
