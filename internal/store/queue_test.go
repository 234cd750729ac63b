package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-hq/maestrod/internal/entity"
	"github.com/maestro-hq/maestrod/internal/eventbus"
	"github.com/maestro-hq/maestrod/pkg/cerr"
)

func queueFixture(t *testing.T) (*Store, *eventRecorder, *entity.Session, *entity.Task) {
	t.Helper()
	ctx := context.Background()
	st, events, proj := taskFixture(t)
	task, err := st.CreateTask(ctx, CreateTaskInput{ProjectID: proj.ID, Title: "work"})
	require.NoError(t, err)
	sess, err := st.CreateSession(ctx, CreateSessionInput{
		ProjectID: proj.ID,
		TaskIDs:   []string{task.ID},
		Strategy:  entity.StrategyQueue,
	})
	require.NoError(t, err)
	events.reset()
	return st, events, sess, task
}

func TestCreateQueue(t *testing.T) {
	ctx := context.Background()
	st, events, sess, task := queueFixture(t)

	q, err := st.CreateQueue(ctx, sess.ID, []string{task.ID})
	require.NoError(t, err)
	assert.Equal(t, sess.ID, q.SessionID)
	require.Len(t, q.Items, 1)
	assert.Equal(t, entity.QueueItemStatusQueued, q.Items[0].Status)
	assert.Equal(t, entity.NoCurrentItem, q.CurrentIndex)
	assert.Equal(t, []string{eventbus.QueueCreated}, events.names())

	// A session has at most one queue.
	_, err = st.CreateQueue(ctx, sess.ID, []string{task.ID})
	assert.Equal(t, cerr.Conflict, cerr.CodeOf(err))
}

func TestCreateQueueValidation(t *testing.T) {
	ctx := context.Background()
	st, _, sess, _ := queueFixture(t)

	_, err := st.CreateQueue(ctx, "sess-nope", nil)
	assert.Equal(t, cerr.NotFound, cerr.CodeOf(err))

	// Queue task ids must be a subset of the session's task ids.
	proj2, err := st.CreateProject(ctx, CreateProjectInput{Name: "other", Path: "/tmp/other"})
	require.NoError(t, err)
	stray, err := st.CreateTask(ctx, CreateTaskInput{ProjectID: proj2.ID, Title: "stray"})
	require.NoError(t, err)
	_, err = st.CreateQueue(ctx, sess.ID, []string{stray.ID})
	assert.Equal(t, cerr.Validation, cerr.CodeOf(err))
}

func TestPushQueueItem(t *testing.T) {
	ctx := context.Background()
	st, _, sess, task := queueFixture(t)

	// Pushing before the queue exists is not found, linked task or not.
	_, err := st.PushQueueItem(ctx, sess.ID, task.ID)
	assert.Equal(t, cerr.NotFound, cerr.CodeOf(err))

	_, err = st.CreateQueue(ctx, sess.ID, nil)
	require.NoError(t, err)

	_, err = st.PushQueueItem(ctx, sess.ID, "task-nope")
	assert.Equal(t, cerr.NotFound, cerr.CodeOf(err))

	stray, err := st.CreateTask(ctx, CreateTaskInput{ProjectID: sess.ProjectID, Title: "stray"})
	require.NoError(t, err)
	_, err = st.PushQueueItem(ctx, sess.ID, stray.ID)
	assert.Equal(t, cerr.Validation, cerr.CodeOf(err))

	q, err := st.PushQueueItem(ctx, sess.ID, task.ID)
	require.NoError(t, err)
	require.Len(t, q.Items, 1)
	assert.Equal(t, task.ID, q.Items[0].TaskID)
	assert.Equal(t, entity.QueueItemStatusQueued, q.Items[0].Status)
}

func TestMutateQueue(t *testing.T) {
	ctx := context.Background()
	st, _, sess, task := queueFixture(t)

	created, err := st.CreateQueue(ctx, sess.ID, []string{task.ID})
	require.NoError(t, err)

	q, err := st.MutateQueue(ctx, sess.ID, func(q *entity.QueueState) error {
		q.Items[0].Status = entity.QueueItemStatusProcessing
		q.CurrentIndex = 0
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, entity.QueueItemStatusProcessing, q.Items[0].Status)
	assert.True(t, q.UpdatedAt.After(created.UpdatedAt) || q.UpdatedAt.Equal(created.UpdatedAt))

	// A failing mutation changes nothing the caller can observe.
	_, err = st.MutateQueue(ctx, sess.ID, func(q *entity.QueueState) error {
		return cerr.NewError(cerr.Conflict, "nope", nil)
	})
	assert.Equal(t, cerr.Conflict, cerr.CodeOf(err))

	_, err = st.MutateQueue(ctx, "sess-nope", func(q *entity.QueueState) error { return nil })
	assert.Equal(t, cerr.NotFound, cerr.CodeOf(err))
}
