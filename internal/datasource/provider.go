package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

const (
	defaultCacheTTL    = time.Hour
	defaultSampleRows  = 3
	defaultConcurrency = 4
	datasetSeparator   = "\n\n---\n\n"
)

type Options struct {
	Formatter Formatter
	// CacheTTL bounds the age of the dataset metadata cache.
	CacheTTL    time.Duration
	SampleRows  int
	MaxRows     int
	Concurrency int
}

// Provider implements model.ContextProvider over a Catalog, caching the
// dataset and table listing.
type Provider struct {
	cat  Catalog
	opts Options
	now  func() time.Time

	mu       sync.RWMutex
	datasets []Dataset
	fetched  time.Time
	group    singleflight.Group
}

func NewProvider(cat Catalog, opts Options) *Provider {
	if opts.Formatter == nil {
		opts.Formatter = MarkdownFormatter{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.SampleRows <= 0 {
		opts.SampleRows = defaultSampleRows
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Provider{cat: cat, opts: opts, now: time.Now}
}

// Open builds the catalog for cfg.Driver and wraps it in a Provider.
func Open(ctx context.Context, cfg model.DatasourceConfig) (*Provider, error) {
	var (
		cat Catalog
		err error
	)
	switch cfg.Driver {
	case model.DriverPostgres:
		cat, err = OpenPostgres(ctx, cfg.DSN)
	case model.DriverMySQL:
		cat, err = OpenMySQL(cfg.DSN)
	case model.DriverSQLite:
		cat, err = OpenSQLite(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported datasource driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s datasource: %w", cfg.Driver, err)
	}
	f, err := NewFormatter(cfg.MetadataFormat)
	if err != nil {
		_ = cat.Close()
		return nil, err
	}
	return NewProvider(cat, Options{
		Formatter:   f,
		CacheTTL:    cfg.CacheTTL,
		SampleRows:  cfg.SampleRows,
		MaxRows:     cfg.MaxRows,
		Concurrency: cfg.Concurrency,
	}), nil
}

func (p *Provider) Dialect() string { return p.cat.Dialect() }

func (p *Provider) Close() error { return p.cat.Close() }

// Refresh reloads the dataset cache now.
func (p *Provider) Refresh(ctx context.Context) error {
	_, err, _ := p.group.Do("refresh", func() (any, error) {
		start := p.now()
		datasets, err := p.cat.Datasets(ctx)
		if err != nil {
			return nil, err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.opts.Concurrency)
		for i := range datasets {
			g.Go(func() error {
				tables, err := p.cat.Tables(gctx, datasets[i].Name)
				if err != nil {
					return fmt.Errorf("dataset %s: %w", datasets[i].Name, err)
				}
				datasets[i].Tables = tables
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.datasets = datasets
		p.fetched = p.now()
		p.mu.Unlock()

		logx.Info().
			Int("datasets", len(datasets)).
			Dur("took", p.now().Sub(start)).
			Msg("Datasource metadata cached")
		return nil, nil
	})
	return err
}

func (p *Provider) cached(ctx context.Context) ([]Dataset, error) {
	p.mu.RLock()
	fresh := !p.fetched.IsZero() && p.now().Sub(p.fetched) < p.opts.CacheTTL
	datasets := p.datasets
	p.mu.RUnlock()
	if fresh {
		return datasets, nil
	}

	if err := p.Refresh(ctx); err != nil {
		if datasets != nil {
			logx.Warn().Err(err).Msg("Failed to refresh datasource metadata; serving stale cache")
			return datasets, nil
		}
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.datasets, nil
}

// GetDatasetsInfo describes every dataset. The question is unused.
func (p *Provider) GetDatasetsInfo(ctx context.Context, _ string) (string, error) {
	datasets, err := p.cached(ctx)
	if err != nil {
		return "", err
	}
	out := make([]string, len(datasets))
	for i, d := range datasets {
		out[i] = p.opts.Formatter.FormatDataset(d)
	}
	return strings.Join(out, datasetSeparator), nil
}

// GetTablesInfo describes the tables of the comma-separated datasets,
// sample rows included.
func (p *Provider) GetTablesInfo(ctx context.Context, datasetNames string) (string, error) {
	datasets, err := p.cached(ctx)
	if err != nil {
		return "", err
	}
	byName := make(map[string]Dataset, len(datasets))
	for _, d := range datasets {
		byName[d.Name] = d
	}

	names := SplitNames(datasetNames)
	if len(names) == 0 {
		return "", fmt.Errorf("no dataset names given")
	}
	var out []string
	for _, name := range names {
		d, ok := byName[name]
		if !ok {
			return "", fmt.Errorf("dataset %q not found", name)
		}
		info, err := p.tablesInfo(ctx, d)
		if err != nil {
			return "", err
		}
		out = append(out, info)
	}
	return strings.Join(out, datasetSeparator), nil
}

func (p *Provider) tablesInfo(ctx context.Context, d Dataset) (string, error) {
	out := make([]string, len(d.Tables))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, t := range d.Tables {
		g.Go(func() error {
			sample, err := p.sampleRows(gctx, t)
			if err != nil {
				logx.Error().Err(err).Str("table", t.FullName()).Msg("Error on getting table info")
				return fmt.Errorf("sample rows of %s: %w", t.FullName(), err)
			}
			out[i] = p.opts.Formatter.FormatTable(t, sample)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(out, "\n\n"), nil
}

// sampleRows prefers rows without NULLs and falls back to any rows.
func (p *Provider) sampleRows(ctx context.Context, t Table) (*Rows, error) {
	from := p.cat.Quote(t.Dataset) + "." + p.cat.Quote(t.Name)
	if len(t.Columns) > 0 {
		conds := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			conds[i] = p.cat.Quote(c.Name) + " IS NOT NULL"
		}
		q := fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT %d", from, strings.Join(conds, " AND "), p.opts.SampleRows)
		rows, err := p.cat.Query(ctx, q, p.opts.SampleRows)
		if err != nil {
			return nil, err
		}
		if rows.Len() > 0 {
			return rows, nil
		}
	}
	return p.cat.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", from, p.opts.SampleRows), p.opts.SampleRows)
}

// GetQueryResults runs query and returns its rows as JSON, or an empty
// string when there are none.
func (p *Provider) GetQueryResults(ctx context.Context, query string) (string, error) {
	rows, err := p.cat.Query(ctx, query, p.opts.MaxRows)
	if err != nil {
		logx.Warn().Err(err).Msg("Error on querying table")
		return "", err
	}
	if rows.Len() == 0 {
		return "", nil
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("encode results: %w", err)
	}
	return string(b), nil
}

var _ model.ContextProvider = (*Provider)(nil)
