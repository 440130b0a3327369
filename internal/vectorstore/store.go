package vectorstore

import (
	"context"
	"fmt"
	"slices"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
)

// Metadata keys of stored examples.
const (
	MetaDataset      = "dataset_name"
	MetaQuery        = "query"
	MetaQueryResults = "query_results"
	MetaPreprocessed = "query_results_preprocessed"
)

const chartExampleTemplate = `<example>
User question: %s

<query_results>
%s
</query_results>

Output: %s
</example>`

// ChartExample is a raw chart-preprocessing example as indexed.
type ChartExample struct {
	Question     string `json:"question"`
	QueryResults string `json:"query_results"`
	Output       string `json:"output"`
}

// ExampleStore implements model.ExampleProvider on top of two retrievers,
// one per example kind. Either may be nil.
type ExampleStore struct {
	sql retriever.Retriever
	viz retriever.Retriever
}

func NewExampleStore(sql, viz retriever.Retriever) *ExampleStore {
	return &ExampleStore{sql: sql, viz: viz}
}

// SQLExamples returns up to k examples, restricted to datasets when any are given.
func (s *ExampleStore) SQLExamples(ctx context.Context, question string, datasets []string, k int) ([]model.SQLExample, error) {
	if s.sql == nil || k <= 0 {
		return nil, nil
	}
	opts := []retriever.Option{retriever.WithTopK(k)}
	if len(datasets) > 0 {
		opts = append(opts, retriever.WithDSLInfo(map[string]any{
			MetaDataset: map[string]any{"$in": datasets},
		}))
	}
	docs, err := s.sql.Retrieve(ctx, question, opts...)
	if err != nil {
		return nil, fmt.Errorf("retrieve sql examples: %w", err)
	}

	// an example is indexed once per dataset; fold the copies back together
	type key struct{ question, query string }
	seen := make(map[key]int, len(docs))
	out := make([]model.SQLExample, 0, len(docs))
	for _, d := range docs {
		k := key{d.Content, metaString(d, MetaQuery)}
		ds := metaString(d, MetaDataset)
		if i, ok := seen[k]; ok {
			if ds != "" && !slices.Contains(out[i].Datasets, ds) {
				out[i].Datasets = append(out[i].Datasets, ds)
			}
			continue
		}
		ex := model.SQLExample{Question: k.question, Query: k.query}
		if ds != "" {
			ex.Datasets = []string{ds}
		}
		seen[k] = len(out)
		out = append(out, ex)
	}
	return out, nil
}

// VizExamples returns up to k chart examples rendered for the prompt.
func (s *ExampleStore) VizExamples(ctx context.Context, question string, k int) ([]model.VizExample, error) {
	if s.viz == nil || k <= 0 {
		return nil, nil
	}
	docs, err := s.viz.Retrieve(ctx, question, retriever.WithTopK(k))
	if err != nil {
		return nil, fmt.Errorf("retrieve chart examples: %w", err)
	}

	out := make([]model.VizExample, 0, len(docs))
	for _, d := range docs {
		out = append(out, model.VizExample{
			Question: d.Content,
			Content:  fmt.Sprintf(chartExampleTemplate, d.Content, metaString(d, MetaQueryResults), metaString(d, MetaPreprocessed)),
		})
	}
	return out, nil
}

// SQLDocuments lays out SQL examples for indexing, one document per dataset.
func SQLDocuments(examples []model.SQLExample) []*schema.Document {
	var docs []*schema.Document
	for _, ex := range examples {
		datasets := ex.Datasets
		if len(datasets) == 0 {
			datasets = []string{""}
		}
		for _, ds := range datasets {
			meta := map[string]any{MetaQuery: ex.Query}
			if ds != "" {
				meta[MetaDataset] = ds
			}
			docs = append(docs, &schema.Document{ID: documentID(ds, ex.Question), Content: ex.Question, MetaData: meta})
		}
	}
	return docs
}

func ChartDocuments(examples []ChartExample) []*schema.Document {
	docs := make([]*schema.Document, len(examples))
	for i, ex := range examples {
		docs[i] = &schema.Document{
			ID:      documentID("", ex.Question),
			Content: ex.Question,
			MetaData: map[string]any{
				MetaQueryResults: ex.QueryResults,
				MetaPreprocessed: ex.Output,
			},
		}
	}
	return docs
}

func documentID(dataset, question string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(dataset+"\x00"+question)).String()
}

func metaString(d *schema.Document, key string) string {
	s, _ := d.MetaData[key].(string)
	return s
}

var _ model.ExampleProvider = (*ExampleStore)(nil)
