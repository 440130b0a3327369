package checkpoints

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
)

type testState struct {
	Question string       `json:"question"`
	Answer   string       `json:"answer"`
	Items    []model.Item `json:"items"`
}

func TestSaverRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	s := NewSaver(repo, "router")

	var empty testState
	cp, err := s.Load(ctx, "t1", &empty)
	require.NoError(t, err)
	assert.Nil(t, cp)

	st := testState{Question: "q1", Answer: "a1", Items: []model.Item{model.Item{ID: uuid.New(), Content: "SELECT 1"}}}
	first, err := s.Save(ctx, "t1", nil, st, []model.CheckpointWrite{{TaskID: "n", Channel: "__node__"}}, map[string]any{"source": "loop"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Step)
	assert.Empty(t, first.ParentID)
	assert.Equal(t, map[string]string{"question": "00000001", "answer": "00000001", "items": "00000001"}, first.ChannelVersions)
	assert.Len(t, first.Blobs, 3)

	var loaded testState
	got, err := s.Load(ctx, "t1", &loaded)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, st, loaded)
	assert.Len(t, got.Writes, 1)
}

func TestSaverOnlyVersionsChangedChannels(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	s := NewSaver(repo, "sql_agent")

	st := testState{Question: "q1", Answer: "a1"}
	first, err := s.Save(ctx, "t1", nil, st, nil, nil)
	require.NoError(t, err)

	st.Answer = "a2"
	second, err := s.Save(ctx, "t1", first, st, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ParentID)
	assert.Equal(t, 2, second.Step)
	assert.Equal(t, "00000001", second.ChannelVersions["question"])
	assert.Equal(t, "00000002", second.ChannelVersions["answer"])
	assert.Greater(t, second.ID, first.ID)

	_, blobs, _ := repo.Count("t1")
	// three channels plus the new answer version
	assert.Equal(t, 4, blobs)

	var loaded testState
	_, err = s.Load(ctx, "t1", &loaded)
	require.NoError(t, err)
	assert.Equal(t, "a2", loaded.Answer)
	assert.Equal(t, "q1", loaded.Question)
}

func TestSaverNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	_, err := NewSaver(repo, "router").Save(ctx, "t1", nil, testState{Question: "router"}, nil, nil)
	require.NoError(t, err)

	var st testState
	cp, err := NewSaver(repo, "viz_agent").Load(ctx, "t1", &st)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestSaverNilRepository(t *testing.T) {
	s := NewSaver(nil, "router")
	cp, err := s.Save(context.Background(), "t", nil, testState{}, nil, nil)
	assert.NoError(t, err)
	assert.Nil(t, cp)

	cp, err = s.Load(context.Background(), "t", &testState{})
	assert.NoError(t, err)
	assert.Nil(t, cp)
}

func TestSaverRejectsNonObjectState(t *testing.T) {
	s := NewSaver(NewMemoryRepository(), "router")
	_, err := s.Save(context.Background(), "t", nil, []string{"x"}, nil, nil)
	assert.Error(t, err)
}

type failingRepo struct{ MemoryRepository }

func (failingRepo) Save(context.Context, *model.Checkpoint) error { return errors.New("disk full") }

func TestSaverPropagatesRepositoryErrors(t *testing.T) {
	s := NewSaver(&failingRepo{}, "router")
	_, err := s.Save(context.Background(), "t", nil, testState{}, nil, nil)
	assert.ErrorContains(t, err, "disk full")
}

func TestMemoryRepositoryDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	for _, ns := range []string{"router", "sql_agent", "viz_agent"} {
		_, err := NewSaver(repo, ns).Save(ctx, "t1", nil, testState{Question: ns}, []model.CheckpointWrite{{TaskID: "x"}}, nil)
		require.NoError(t, err)
	}
	_, err := NewSaver(repo, "router").Save(ctx, "t2", nil, testState{Question: "keep"}, nil, nil)
	require.NoError(t, err)

	cps, blobs, writes := repo.Count("t1")
	assert.Equal(t, 3, cps)
	assert.Equal(t, 9, blobs)
	assert.Equal(t, 3, writes)

	require.NoError(t, repo.Delete(ctx, "t1"))
	cps, blobs, writes = repo.Count("t1")
	assert.Zero(t, cps+blobs+writes)

	cps, _, _ = repo.Count("t2")
	assert.Equal(t, 1, cps)
}
