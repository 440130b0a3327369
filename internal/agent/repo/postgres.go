package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
	errx "github.com/basedosdados/chatbot-sub000/internal/core/error"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

// DBPool is the subset of pgxpool.Pool the repository uses.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id TEXT NOT NULL,
	checkpoint_ns TEXT NOT NULL DEFAULT '',
	checkpoint_id TEXT NOT NULL,
	parent_checkpoint_id TEXT,
	type TEXT,
	checkpoint JSONB NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}',
	PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id)
);
CREATE TABLE IF NOT EXISTS checkpoint_blobs (
	thread_id TEXT NOT NULL,
	checkpoint_ns TEXT NOT NULL DEFAULT '',
	channel TEXT NOT NULL,
	version TEXT NOT NULL,
	type TEXT NOT NULL,
	blob BYTEA,
	PRIMARY KEY (thread_id, checkpoint_ns, channel, version)
);
CREATE TABLE IF NOT EXISTS checkpoint_writes (
	thread_id TEXT NOT NULL,
	checkpoint_ns TEXT NOT NULL DEFAULT '',
	checkpoint_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	idx INTEGER NOT NULL,
	channel TEXT NOT NULL,
	type TEXT,
	blob BYTEA NOT NULL,
	PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id, task_id, idx)
);
CREATE INDEX IF NOT EXISTS checkpoints_thread_id_idx ON checkpoints (thread_id);
CREATE INDEX IF NOT EXISTS checkpoint_blobs_thread_id_idx ON checkpoint_blobs (thread_id);
CREATE INDEX IF NOT EXISTS checkpoint_writes_thread_id_idx ON checkpoint_writes (thread_id);
`

const (
	pgInsertCheckpoint = `INSERT INTO checkpoints (thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, type, checkpoint, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (thread_id, checkpoint_ns, checkpoint_id) DO UPDATE SET checkpoint = EXCLUDED.checkpoint, metadata = EXCLUDED.metadata`

	pgInsertBlob = `INSERT INTO checkpoint_blobs (thread_id, checkpoint_ns, channel, version, type, blob)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (thread_id, checkpoint_ns, channel, version) DO NOTHING`

	pgInsertWrite = `INSERT INTO checkpoint_writes (thread_id, checkpoint_ns, checkpoint_id, task_id, idx, channel, type, blob)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (thread_id, checkpoint_ns, checkpoint_id, task_id, idx) DO UPDATE SET channel = EXCLUDED.channel, type = EXCLUDED.type, blob = EXCLUDED.blob`

	pgSelectLatest = `SELECT checkpoint, metadata FROM checkpoints
WHERE thread_id = $1 AND checkpoint_ns = $2
ORDER BY checkpoint_id DESC LIMIT 1`

	pgSelectBlobs = `SELECT bl.channel, bl.version, bl.type, bl.blob
FROM jsonb_each_text($3::jsonb) AS cv
JOIN checkpoint_blobs bl ON bl.thread_id = $1 AND bl.checkpoint_ns = $2 AND bl.channel = cv.key AND bl.version = cv.value`

	pgSelectWrites = `SELECT task_id, idx, channel, type, blob FROM checkpoint_writes
WHERE thread_id = $1 AND checkpoint_ns = $2 AND checkpoint_id = $3
ORDER BY idx`
)

// deleteThreadQueries clear a thread from the three checkpoint tables.
var deleteThreadQueries = []string{
	"DELETE FROM checkpoints WHERE thread_id = $1",
	"DELETE FROM checkpoint_writes WHERE thread_id = $1",
	"DELETE FROM checkpoint_blobs WHERE thread_id = $1",
}

// PostgresCheckpointRepository stores checkpoints in the checkpoints,
// checkpoint_blobs and checkpoint_writes tables.
type PostgresCheckpointRepository struct {
	pool DBPool
}

func NewPostgresCheckpointRepository(pool DBPool) *PostgresCheckpointRepository {
	return &PostgresCheckpointRepository{pool: pool}
}

func (r *PostgresCheckpointRepository) Setup(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, pgSchema); err != nil {
		logx.Error().Err(err).Msg("failed to create checkpoint tables")
		return errx.WrapPostgres(err)
	}
	return nil
}

func (r *PostgresCheckpointRepository) Save(ctx context.Context, cp *model.Checkpoint) (err error) {
	doc, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	meta, err := json.Marshal(nonNilMetadata(cp.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		logx.Error().Err(err).Str("thread_id", cp.ThreadID).Msg("failed to begin checkpoint transaction")
		return errx.WrapPostgres(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, pgInsertCheckpoint,
		cp.ThreadID, cp.Namespace, cp.ID, nullable(cp.ParentID), checkpointType, doc, meta,
	); err != nil {
		logx.Error().Err(err).Str("thread_id", cp.ThreadID).Str("checkpoint_id", cp.ID).Msg("failed to insert checkpoint")
		return errx.WrapPostgres(err)
	}
	for _, b := range cp.Blobs {
		if _, err = tx.Exec(ctx, pgInsertBlob,
			cp.ThreadID, cp.Namespace, b.Channel, b.Version, b.Type, b.Data,
		); err != nil {
			logx.Error().Err(err).Str("thread_id", cp.ThreadID).Str("channel", b.Channel).Msg("failed to insert checkpoint blob")
			return errx.WrapPostgres(err)
		}
	}
	for _, w := range cp.Writes {
		if _, err = tx.Exec(ctx, pgInsertWrite,
			cp.ThreadID, cp.Namespace, cp.ID, w.TaskID, w.Idx, w.Channel, w.Type, w.Data,
		); err != nil {
			logx.Error().Err(err).Str("thread_id", cp.ThreadID).Str("task_id", w.TaskID).Msg("failed to insert checkpoint write")
			return errx.WrapPostgres(err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		logx.Error().Err(err).Str("thread_id", cp.ThreadID).Msg("failed to commit checkpoint")
		return errx.WrapPostgres(err)
	}
	return nil
}

func (r *PostgresCheckpointRepository) Load(ctx context.Context, threadID, namespace string) (*model.Checkpoint, error) {
	var doc, meta []byte
	err := r.pool.QueryRow(ctx, pgSelectLatest, threadID, namespace).Scan(&doc, &meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		logx.Error().Err(err).Str("thread_id", threadID).Str("checkpoint_ns", namespace).Msg("failed to load checkpoint")
		return nil, errx.WrapPostgres(err)
	}

	var cp model.Checkpoint
	if err := json.Unmarshal(doc, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &cp.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	versions, err := json.Marshal(cp.ChannelVersions)
	if err != nil {
		return nil, fmt.Errorf("marshal channel versions: %w", err)
	}
	rows, err := r.pool.Query(ctx, pgSelectBlobs, threadID, namespace, versions)
	if err != nil {
		logx.Error().Err(err).Str("checkpoint_id", cp.ID).Msg("failed to load checkpoint blobs")
		return nil, errx.WrapPostgres(err)
	}
	cp.Blobs, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CheckpointBlob, error) {
		var b model.CheckpointBlob
		err := row.Scan(&b.Channel, &b.Version, &b.Type, &b.Data)
		return b, err
	})
	if err != nil {
		return nil, errx.WrapPostgres(err)
	}

	rows, err = r.pool.Query(ctx, pgSelectWrites, threadID, namespace, cp.ID)
	if err != nil {
		logx.Error().Err(err).Str("checkpoint_id", cp.ID).Msg("failed to load checkpoint writes")
		return nil, errx.WrapPostgres(err)
	}
	cp.Writes, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CheckpointWrite, error) {
		var w model.CheckpointWrite
		err := row.Scan(&w.TaskID, &w.Idx, &w.Channel, &w.Type, &w.Data)
		return w, err
	})
	if err != nil {
		return nil, errx.WrapPostgres(err)
	}
	return &cp, nil
}

// Delete removes every row of the thread from the three tables in one transaction.
func (r *PostgresCheckpointRepository) Delete(ctx context.Context, threadID string) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errx.WrapPostgres(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, q := range deleteThreadQueries {
		if _, err = tx.Exec(ctx, q, threadID); err != nil {
			logx.Error().Err(err).Str("thread_id", threadID).Msg("failed to delete checkpoints")
			return errx.WrapPostgres(err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return errx.WrapPostgres(err)
	}
	return nil
}

var _ model.CheckpointRepository = (*PostgresCheckpointRepository)(nil)
