package repo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
	errx "github.com/basedosdados/chatbot-sub000/internal/core/error"
)

func sampleCheckpoint() *model.Checkpoint {
	return &model.Checkpoint{
		ThreadID:        "t1",
		Namespace:       "router",
		ID:              "0192a3b4-0000-7000-8000-000000000002",
		ParentID:        "0192a3b4-0000-7000-8000-000000000001",
		Step:            2,
		CreatedAt:       time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		ChannelVersions: map[string]string{"question": "00000002", "history": "00000001"},
		Metadata:        map[string]any{"source": "loop"},
		Blobs: []model.CheckpointBlob{
			{Channel: "question", Version: "00000002", Type: "json", Data: []byte(`"how many?"`)},
		},
		Writes: []model.CheckpointWrite{
			{TaskID: "initial_router", Idx: 0, Channel: "__node__", Type: "json", Data: []byte(`{"event":"sql_agent"}`)},
		},
	}
}

func TestPostgresSetup(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS checkpoints")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, NewPostgresCheckpointRepository(mock).Setup(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSave(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cp := sampleCheckpoint()
	doc, _ := json.Marshal(cp)
	meta, _ := json.Marshal(cp.Metadata)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkpoints")).
		WithArgs("t1", "router", cp.ID, cp.ParentID, "json", doc, meta).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkpoint_blobs")).
		WithArgs("t1", "router", "question", "00000002", "json", []byte(`"how many?"`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkpoint_writes")).
		WithArgs("t1", "router", cp.ID, "initial_router", 0, "__node__", "json", []byte(`{"event":"sql_agent"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, NewPostgresCheckpointRepository(mock).Save(context.Background(), cp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveRollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkpoints")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = NewPostgresCheckpointRepository(mock).Save(context.Background(), sampleCheckpoint())
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, errx.StatusOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLoad(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cp := sampleCheckpoint()
	doc, _ := json.Marshal(cp)
	meta, _ := json.Marshal(cp.Metadata)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT checkpoint, metadata FROM checkpoints")).
		WithArgs("t1", "router").
		WillReturnRows(pgxmock.NewRows([]string{"checkpoint", "metadata"}).AddRow(doc, meta))
	mock.ExpectQuery(regexp.QuoteMeta("FROM jsonb_each_text($3::jsonb) AS cv")).
		WithArgs("t1", "router", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"channel", "version", "type", "blob"}).
			AddRow("question", "00000002", "json", []byte(`"how many?"`)).
			AddRow("history", "00000001", "json", []byte(`[]`)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT task_id, idx, channel, type, blob FROM checkpoint_writes")).
		WithArgs("t1", "router", cp.ID).
		WillReturnRows(pgxmock.NewRows([]string{"task_id", "idx", "channel", "type", "blob"}).
			AddRow("initial_router", 0, "__node__", "json", []byte(`{"event":"sql_agent"}`)))

	got, err := NewPostgresCheckpointRepository(mock).Load(context.Background(), "t1", "router")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, cp.ID, got.ID)
	assert.Equal(t, cp.ParentID, got.ParentID)
	assert.Equal(t, 2, got.Step)
	assert.Equal(t, cp.ChannelVersions, got.ChannelVersions)
	assert.Equal(t, "loop", got.Metadata["source"])
	require.Len(t, got.Blobs, 2)
	assert.Equal(t, []byte(`[]`), got.Blobs[1].Data)
	require.Len(t, got.Writes, 1)
	assert.Equal(t, "initial_router", got.Writes[0].TaskID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLoadMissingThread(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT checkpoint, metadata FROM checkpoints")).
		WithArgs("t1", "router").
		WillReturnError(pgx.ErrNoRows)

	got, err := NewPostgresCheckpointRepository(mock).Load(context.Background(), "t1", "router")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteClearsAllTables(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM checkpoints WHERE thread_id = $1")).
		WithArgs("t1").WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM checkpoint_writes WHERE thread_id = $1")).
		WithArgs("t1").WillReturnResult(pgxmock.NewResult("DELETE", 12))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM checkpoint_blobs WHERE thread_id = $1")).
		WithArgs("t1").WillReturnResult(pgxmock.NewResult("DELETE", 20))
	mock.ExpectCommit()

	require.NoError(t, NewPostgresCheckpointRepository(mock).Delete(context.Background(), "t1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM checkpoints WHERE thread_id = $1")).
		WithArgs("t1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM checkpoint_writes WHERE thread_id = $1")).
		WithArgs("t1").WillReturnError(errors.New("connection lost"))
	mock.ExpectRollback()

	err = NewPostgresCheckpointRepository(mock).Delete(context.Background(), "t1")
	assert.ErrorContains(t, err, "connection lost")
	assert.NoError(t, mock.ExpectationsWereMet())
}
