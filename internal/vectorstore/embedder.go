// Package vectorstore retrieves few-shot SQL and chart examples by
// embedding similarity from pgvector tables.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	"google.golang.org/genai"

	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

const (
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
)

// GeminiEmbedder implements embedding.Embedder over the genai embeddings API.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int32
	taskType   string
}

func NewGeminiEmbedder(client *genai.Client, model string, dimensions int) *GeminiEmbedder {
	return &GeminiEmbedder{
		client:     client,
		model:      model,
		dimensions: int32(dimensions),
		taskType:   taskRetrievalQuery,
	}
}

// ForDocuments returns a copy that embeds texts for storage instead of lookup.
func (e *GeminiEmbedder) ForDocuments() *GeminiEmbedder {
	cp := *e
	cp.taskType = taskRetrievalDocument
	return &cp
}

func (e *GeminiEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	o := embedding.GetCommonOptions(&embedding.Options{Model: &e.model}, opts...)

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	cfg := &genai.EmbedContentConfig{TaskType: e.taskType}
	if e.dimensions > 0 {
		cfg.OutputDimensionality = genai.Ptr(e.dimensions)
	}

	resp, err := e.client.Models.EmbedContent(ctx, *o.Model, contents, cfg)
	if err != nil {
		logx.Error().Err(err).Str("model", *o.Model).Int("texts", len(texts)).Msg("Error embedding texts")
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed %d texts: got %d embeddings", len(texts), len(resp.Embeddings))
	}

	out := make([][]float64, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		vec := make([]float64, len(emb.Values))
		for j, v := range emb.Values {
			vec[j] = float64(v)
		}
		out[i] = vec
	}
	return out, nil
}

var _ embedding.Embedder = (*GeminiEmbedder)(nil)
