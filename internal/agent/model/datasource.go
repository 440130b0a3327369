package model

import "context"

// ContextProvider exposes warehouse metadata and query execution to the SQL agent.
type ContextProvider interface {
	// GetDatasetsInfo describes every dataset available for the question.
	GetDatasetsInfo(ctx context.Context, query string) (string, error)

	// GetTablesInfo describes the tables of the comma-separated datasets.
	GetTablesInfo(ctx context.Context, datasetNames string) (string, error)

	// GetQueryResults runs a read-only query and returns JSON rows, or an
	// empty string when the query returns nothing.
	GetQueryResults(ctx context.Context, query string) (string, error)

	// Dialect names the SQL flavour, e.g. PostgreSQL.
	Dialect() string
}

// SQLExample is a question paired with a known-good query.
type SQLExample struct {
	Question string   `json:"question"`
	Query    string   `json:"query"`
	Datasets []string `json:"dataset_names,omitempty"`
}

// VizExample is a preformatted chart-preprocessing example.
type VizExample struct {
	Question string `json:"question"`
	Content  string `json:"content"`
}

// ExampleProvider retrieves few-shot examples by similarity to a question.
type ExampleProvider interface {
	SQLExamples(ctx context.Context, question string, datasets []string, k int) ([]SQLExample, error)
	VizExamples(ctx context.Context, question string, k int) ([]VizExample, error)
}
