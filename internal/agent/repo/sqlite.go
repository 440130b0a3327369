package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
	errx "github.com/basedosdados/chatbot-sub000/internal/core/error"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS checkpoints (
		thread_id TEXT NOT NULL,
		checkpoint_ns TEXT NOT NULL DEFAULT '',
		checkpoint_id TEXT NOT NULL,
		parent_checkpoint_id TEXT,
		type TEXT,
		checkpoint TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id)
	)`,
	`CREATE TABLE IF NOT EXISTS checkpoint_blobs (
		thread_id TEXT NOT NULL,
		checkpoint_ns TEXT NOT NULL DEFAULT '',
		channel TEXT NOT NULL,
		version TEXT NOT NULL,
		type TEXT NOT NULL,
		blob BLOB,
		PRIMARY KEY (thread_id, checkpoint_ns, channel, version)
	)`,
	`CREATE TABLE IF NOT EXISTS checkpoint_writes (
		thread_id TEXT NOT NULL,
		checkpoint_ns TEXT NOT NULL DEFAULT '',
		checkpoint_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		channel TEXT NOT NULL,
		type TEXT,
		blob BLOB NOT NULL,
		PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id, task_id, idx)
	)`,
}

// SQLiteCheckpointRepository stores checkpoints in a local SQLite file.
type SQLiteCheckpointRepository struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteCheckpointRepository, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("missing sqlite path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &SQLiteCheckpointRepository{db: db}, nil
}

func (r *SQLiteCheckpointRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *SQLiteCheckpointRepository) Setup(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			logx.Error().Err(err).Msg("failed to create checkpoint tables")
			return errx.WrapSQL(err)
		}
	}
	return nil
}

func (r *SQLiteCheckpointRepository) Save(ctx context.Context, cp *model.Checkpoint) (err error) {
	doc, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	meta, err := json.Marshal(nonNilMetadata(cp.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errx.WrapSQL(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO checkpoints (thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, type, checkpoint, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cp.ThreadID, cp.Namespace, cp.ID, nullable(cp.ParentID), checkpointType, string(doc), string(meta),
	); err != nil {
		logx.Error().Err(err).Str("thread_id", cp.ThreadID).Str("checkpoint_id", cp.ID).Msg("failed to insert checkpoint")
		return errx.WrapSQL(err)
	}
	for _, b := range cp.Blobs {
		if _, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO checkpoint_blobs (thread_id, checkpoint_ns, channel, version, type, blob)
			VALUES (?, ?, ?, ?, ?, ?)`,
			cp.ThreadID, cp.Namespace, b.Channel, b.Version, b.Type, b.Data,
		); err != nil {
			return errx.WrapSQL(err)
		}
	}
	for _, w := range cp.Writes {
		if _, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO checkpoint_writes (thread_id, checkpoint_ns, checkpoint_id, task_id, idx, channel, type, blob)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			cp.ThreadID, cp.Namespace, cp.ID, w.TaskID, w.Idx, w.Channel, w.Type, w.Data,
		); err != nil {
			return errx.WrapSQL(err)
		}
	}
	if err = tx.Commit(); err != nil {
		return errx.WrapSQL(err)
	}
	return nil
}

func (r *SQLiteCheckpointRepository) Load(ctx context.Context, threadID, namespace string) (*model.Checkpoint, error) {
	var doc, meta string
	err := r.db.QueryRowContext(ctx,
		`SELECT checkpoint, metadata FROM checkpoints
		WHERE thread_id = ? AND checkpoint_ns = ?
		ORDER BY checkpoint_id DESC LIMIT 1`,
		threadID, namespace,
	).Scan(&doc, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		logx.Error().Err(err).Str("thread_id", threadID).Str("checkpoint_ns", namespace).Msg("failed to load checkpoint")
		return nil, errx.WrapSQL(err)
	}

	var cp model.Checkpoint
	if err := json.Unmarshal([]byte(doc), &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &cp.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	for ch, v := range cp.ChannelVersions {
		b := model.CheckpointBlob{Channel: ch, Version: v}
		err := r.db.QueryRowContext(ctx,
			`SELECT type, blob FROM checkpoint_blobs
			WHERE thread_id = ? AND checkpoint_ns = ? AND channel = ? AND version = ?`,
			threadID, namespace, ch, v,
		).Scan(&b.Type, &b.Data)
		if errors.Is(err, sql.ErrNoRows) {
			logx.Warn().Str("checkpoint_id", cp.ID).Str("channel", ch).Msg("checkpoint blob missing")
			continue
		}
		if err != nil {
			return nil, errx.WrapSQL(err)
		}
		cp.Blobs = append(cp.Blobs, b)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT task_id, idx, channel, type, blob FROM checkpoint_writes
		WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ?
		ORDER BY idx`,
		threadID, namespace, cp.ID,
	)
	if err != nil {
		return nil, errx.WrapSQL(err)
	}
	defer rows.Close()
	for rows.Next() {
		var w model.CheckpointWrite
		if err := rows.Scan(&w.TaskID, &w.Idx, &w.Channel, &w.Type, &w.Data); err != nil {
			return nil, errx.WrapSQL(err)
		}
		cp.Writes = append(cp.Writes, w)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapSQL(err)
	}
	return &cp, nil
}

// Delete removes every row of the thread from the three tables in one transaction.
func (r *SQLiteCheckpointRepository) Delete(ctx context.Context, threadID string) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errx.WrapSQL(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, q := range deleteThreadQueries {
		if _, err = tx.ExecContext(ctx, strings.Replace(q, "$1", "?", 1), threadID); err != nil {
			logx.Error().Err(err).Str("thread_id", threadID).Msg("failed to delete checkpoints")
			return errx.WrapSQL(err)
		}
	}
	if err = tx.Commit(); err != nil {
		return errx.WrapSQL(err)
	}
	return nil
}

var _ model.CheckpointRepository = (*SQLiteCheckpointRepository)(nil)
