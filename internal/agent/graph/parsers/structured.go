package parsers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"

	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/nodes"
	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
	errx "github.com/basedosdados/chatbot-sub000/internal/core/error"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

// basic safety limits to avoid pathological model output
const (
	maxContentLen = 256 * 1024
	maxErrSnippet = 200
)

// ErrInvalidOutput is returned when a model reply does not match the
// requested schema.
var ErrInvalidOutput = errors.New("structured output does not match schema")

var (
	schemaMu    sync.Mutex
	schemaCache = map[reflect.Type]string{}
)

var (
	columnsType   = reflect.TypeOf(model.Columns{})
	chartTypeType = reflect.TypeOf(model.ChartType(""))
)

func mapType(t reflect.Type) *jsonschema.Schema {
	switch t {
	case columnsType:
		return &jsonschema.Schema{
			Description: "Chart data, as a list of row objects or an object mapping column names to value lists.",
			AnyOf: []*jsonschema.Schema{
				{Type: "array", Items: &jsonschema.Schema{Type: "object"}},
				{Type: "object"},
				{Type: "string"},
				{Type: "null"},
			},
		}
	case chartTypeType:
		enum := make([]any, 0, len(model.ChartTypes))
		for _, ct := range model.ChartTypes {
			enum = append(enum, string(ct))
		}
		return &jsonschema.Schema{Type: "string", Enum: enum}
	}
	return nil
}

// SchemaFor returns the JSON schema of T as a string. Only fields tagged
// jsonschema:"required" are required.
func SchemaFor[T any]() (string, error) {
	var zero T
	t := reflect.TypeOf(zero)

	schemaMu.Lock()
	defer schemaMu.Unlock()
	if s, ok := schemaCache[t]; ok {
		return s, nil
	}

	r := &jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
		AllowAdditionalProperties:  true,
		Mapper:                     mapType,
	}
	s := r.Reflect(zero)
	// gojsonschema only knows drafts up to 7
	s.Version = ""

	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal schema: %w", err)
	}
	schemaCache[t] = string(b)
	return string(b), nil
}

// Instructions tells the model to answer with JSON matching T.
func Instructions[T any]() (string, error) {
	s, err := SchemaFor[T]()
	if err != nil {
		return "", err
	}
	return "Respond only with a JSON object that validates against the following JSON schema. " +
		"Do not add any text before or after it.\n\n" + s, nil
}

// Parse extracts the JSON object from content, validates it against the
// schema of T and decodes it.
func Parse[T any](content string) (*T, error) {
	if len(content) > maxContentLen {
		return nil, errx.New(fmt.Errorf("%w: content too large", ErrInvalidOutput), http.StatusUnprocessableEntity, errx.SystemErrorMessage)
	}
	doc, err := extractObject(content)
	if err != nil {
		return nil, errx.New(fmt.Errorf("%w: %v: %s", ErrInvalidOutput, err, safeSnippet(content)), http.StatusUnprocessableEntity, errx.SystemErrorMessage)
	}
	doc, err = dropNulls(doc)
	if err != nil {
		return nil, errx.New(fmt.Errorf("%w: %v", ErrInvalidOutput, err), http.StatusUnprocessableEntity, errx.SystemErrorMessage)
	}

	s, err := SchemaFor[T]()
	if err != nil {
		return nil, err
	}
	res, err := gojsonschema.Validate(gojsonschema.NewStringLoader(s), gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("validate json: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, errx.New(
			fmt.Errorf("%w: %s", ErrInvalidOutput, strings.Join(msgs, "; ")),
			http.StatusUnprocessableEntity,
			errx.SystemErrorMessage,
		)
	}

	var out T
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, errx.New(fmt.Errorf("%w: %v", ErrInvalidOutput, err), http.StatusUnprocessableEntity, errx.SystemErrorMessage)
	}
	return &out, nil
}

// Generate asks cm for a reply shaped like T and parses it. The schema
// instructions are appended to the system prompt.
func Generate[T any](ctx context.Context, cm einomodel.BaseChatModel, system string, msgs []*schema.Message, o nodes.CallOptions) (*T, error) {
	instr, err := Instructions[T]()
	if err != nil {
		return nil, err
	}
	input := make([]*schema.Message, 0, len(msgs)+1)
	input = append(input, schema.SystemMessage(strings.TrimSpace(system)+"\n\n"+instr))
	input = append(input, msgs...)

	out, err := nodes.Generate(ctx, cm, input, o)
	if err != nil {
		return nil, err
	}
	v, err := Parse[T](out.Content)
	if err != nil {
		logx.Warn().Err(err).
			Str("thread_id", o.ThreadID).
			Str("agent", o.Agent).
			Str("node", o.Node).
			Msg("Structured output rejected")
		return nil, err
	}
	return v, nil
}

// extractObject strips code fences and surrounding prose and returns the
// outermost JSON object.
func extractObject(content string) ([]byte, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return nil, errors.New("no JSON object found")
	}
	b := []byte(s[start : end+1])
	if !json.Valid(b) {
		return nil, errors.New("invalid JSON")
	}
	return b, nil
}

// dropNulls removes top-level keys whose value is null, so optional fields
// may be sent as null.
func dropNulls(doc []byte) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, err
	}
	for k, v := range m {
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			delete(m, k)
		}
	}
	return json.Marshal(m)
}

func safeSnippet(s string) string {
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet] + "..."
}
