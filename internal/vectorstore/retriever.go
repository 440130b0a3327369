package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	errx "github.com/basedosdados/chatbot-sub000/internal/core/error"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

const defaultTopK = 4

// DBPool is the subset of pgxpool.Pool the retriever needs.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGRetriever implements retriever.Retriever over a pgvector table with
// columns id, content, metadata (jsonb) and embedding, ranked by cosine
// distance.
type PGRetriever struct {
	pool     DBPool
	table    string
	embedder embedding.Embedder
	topK     int
}

func NewPGRetriever(pool DBPool, table string, embedder embedding.Embedder, topK int) *PGRetriever {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &PGRetriever{pool: pool, table: table, embedder: embedder, topK: topK}
}

// Setup creates the vector extension and the example table.
func (r *PGRetriever) Setup(ctx context.Context, dimensions int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}',
	embedding vector(%d) NOT NULL
)`, r.ident(), dimensions),
	}
	for _, stmt := range stmts {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			logx.Error().Err(err).Str("table", r.table).Msg("Error creating example table")
			return errx.WrapPostgres(err)
		}
	}
	return nil
}

// Add embeds and upserts docs. Documents without an id get one derived
// from their content.
func (r *PGRetriever) Add(ctx context.Context, emb embedding.Embedder, docs []*schema.Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := emb.EmbedStrings(ctx, texts)
	if err != nil {
		return err
	}

	q := fmt.Sprintf(`INSERT INTO %s (id, content, metadata, embedding)
VALUES ($1, $2, $3, $4::vector)
ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`, r.ident())
	for i, d := range docs {
		id := d.ID
		if id == "" {
			id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(d.Content)).String()
		}
		meta := d.MetaData
		if meta == nil {
			meta = map[string]any{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode metadata of %s: %w", id, err)
		}
		if _, err := r.pool.Exec(ctx, q, id, d.Content, metaJSON, vectorLiteral(vecs[i])); err != nil {
			return errx.WrapPostgres(err)
		}
	}
	logx.Info().Str("table", r.table).Int("documents", len(docs)).Msg("Examples indexed")
	return nil
}

// Retrieve returns the documents closest to query. WithDSLInfo accepts
// metadata filters of the form {"key": value} or {"key": {"$in": [...]}}.
func (r *PGRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := r.topK
	o := retriever.GetCommonOptions(&retriever.Options{TopK: &topK, Embedding: r.embedder}, opts...)
	if o.Embedding == nil {
		return nil, fmt.Errorf("retriever %s: no embedder", r.table)
	}

	vecs, err := o.Embedding.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("retriever %s: got %d query embeddings", r.table, len(vecs))
	}

	args := []any{vectorLiteral(vecs[0]), *o.TopK}
	where, args, err := filterClause(o.DSLInfo, args)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT id, content, metadata, 1 - (embedding <=> $1::vector) AS score
FROM %s%s
ORDER BY embedding <=> $1::vector
LIMIT $2`, r.ident(), where)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		logx.Error().Err(err).Str("table", r.table).Msg("Error on similarity search")
		return nil, errx.WrapPostgres(err)
	}
	defer rows.Close()

	var docs []*schema.Document
	for rows.Next() {
		var (
			id, content string
			metaJSON    []byte
			score       float64
		)
		if err := rows.Scan(&id, &content, &metaJSON, &score); err != nil {
			return nil, errx.WrapPostgres(err)
		}
		if o.ScoreThreshold != nil && score < *o.ScoreThreshold {
			continue
		}
		meta := map[string]any{}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &meta); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", id, err)
			}
		}
		docs = append(docs, (&schema.Document{ID: id, Content: content, MetaData: meta}).WithScore(score))
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapPostgres(err)
	}

	logx.Debug().Str("table", r.table).Int("documents", len(docs)).Msg("Examples retrieved")
	return docs, nil
}

func (r *PGRetriever) ident() string {
	return pgx.Identifier{r.table}.Sanitize()
}

// filterClause turns a DSL filter into a WHERE clause whose keys and
// values are both bound as arguments.
func filterClause(dsl map[string]any, args []any) (string, []any, error) {
	if len(dsl) == 0 {
		return "", args, nil
	}
	keys := make([]string, 0, len(dsl))
	for k := range dsl {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	conds := make([]string, 0, len(keys))
	for _, k := range keys {
		values, err := filterValues(dsl[k])
		if err != nil {
			return "", nil, fmt.Errorf("filter %q: %w", k, err)
		}
		args = append(args, k, values)
		conds = append(conds, fmt.Sprintf("metadata->>$%d = ANY($%d)", len(args)-1, len(args)))
	}
	return "\nWHERE " + strings.Join(conds, " AND "), args, nil
}

func filterValues(v any) ([]string, error) {
	switch v := v.(type) {
	case string:
		return []string{v}, nil
	case map[string]any:
		in, ok := v["$in"]
		if !ok || len(v) != 1 {
			return nil, fmt.Errorf("only $in is supported")
		}
		return filterValues(in)
	case []string:
		return v, nil
	case []any:
		out := make([]string, len(v))
		for i, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", e)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}
}

// vectorLiteral renders v in pgvector's text input format.
func vectorLiteral(v []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(f, 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

var _ retriever.Retriever = (*PGRetriever)(nil)
