package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-hq/maestrod/internal/entity"
	"github.com/maestro-hq/maestrod/internal/eventbus"
	"github.com/maestro-hq/maestrod/internal/store"
	"github.com/maestro-hq/maestrod/pkg/cerr"
	"github.com/maestro-hq/maestrod/pkg/storage"
)

type eventRecorder struct {
	names []string
}

func (r *eventRecorder) Publish(name string, _ any) {
	r.names = append(r.names, name)
}

type fixture struct {
	engine  *Engine
	store   *store.Store
	events  *eventRecorder
	session *entity.Session
	tasks   []*entity.Task
}

func newFixture(t *testing.T, taskCount int) *fixture {
	t.Helper()
	ctx := context.Background()
	events := &eventRecorder{}
	local, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	st := store.New(local, events)

	proj, err := st.CreateProject(ctx, store.CreateProjectInput{Name: "demo", Path: "/tmp/demo"})
	require.NoError(t, err)

	tasks := make([]*entity.Task, 0, taskCount)
	taskIDs := make([]string, 0, taskCount)
	for i := 0; i < taskCount; i++ {
		task, err := st.CreateTask(ctx, store.CreateTaskInput{ProjectID: proj.ID, Title: "work"})
		require.NoError(t, err)
		tasks = append(tasks, task)
		taskIDs = append(taskIDs, task.ID)
	}

	sess, err := st.CreateSession(ctx, store.CreateSessionInput{
		ProjectID: proj.ID,
		TaskIDs:   taskIDs,
		Strategy:  entity.StrategyQueue,
	})
	require.NoError(t, err)

	_, err = st.CreateQueue(ctx, sess.ID, taskIDs)
	require.NoError(t, err)

	events.names = nil
	return &fixture{
		engine:  NewEngine(st, events),
		store:   st,
		events:  events,
		session: sess,
		tasks:   tasks,
	}
}

func TestEngineStartPromotesOldestQueuedItem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)

	res, err := f.engine.Start(ctx, f.session.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Item)
	assert.False(t, res.Empty)
	assert.Equal(t, f.tasks[0].ID, res.Item.TaskID)
	assert.Equal(t, entity.QueueItemStatusProcessing, res.Item.Status)
	require.NotNil(t, res.Item.StartedAt)
	assert.Equal(t, []string{eventbus.QueueItemStarted}, f.events.names)

	q, err := f.store.GetQueue(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, q.CurrentIndex)
}

func TestEngineStartConflictsWhileProcessing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)

	_, err := f.engine.Start(ctx, f.session.ID)
	require.NoError(t, err)

	_, err = f.engine.Start(ctx, f.session.ID)
	require.Error(t, err)
	assert.Equal(t, cerr.Conflict, cerr.CodeOf(err))
}

func TestEngineStartOnDrainedQueueIsEmptyNotError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	_, err := f.engine.Start(ctx, f.session.ID)
	require.NoError(t, err)
	_, err = f.engine.Complete(ctx, f.session.ID)
	require.NoError(t, err)

	res, err := f.engine.Start(ctx, f.session.ID)
	require.NoError(t, err)
	assert.True(t, res.Empty)
	assert.Nil(t, res.Item)
}

func TestEngineCompleteReportsNextItem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)

	_, err := f.engine.Start(ctx, f.session.ID)
	require.NoError(t, err)

	res, err := f.engine.Complete(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.QueueItemStatusCompleted, res.Item.Status)
	require.NotNil(t, res.Item.CompletedAt)
	assert.True(t, res.HasMore)
	require.NotNil(t, res.NextItem)
	assert.Equal(t, f.tasks[1].ID, res.NextItem.TaskID)

	q, err := f.store.GetQueue(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.NoCurrentItem, q.CurrentIndex)
}

func TestEngineCompleteWithoutProcessingItemConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	_, err := f.engine.Complete(ctx, f.session.ID)
	require.Error(t, err)
	assert.Equal(t, cerr.Conflict, cerr.CodeOf(err))
}

func TestEngineFailRecordsReason(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	_, err := f.engine.Start(ctx, f.session.ID)
	require.NoError(t, err)

	res, err := f.engine.Fail(ctx, f.session.ID, "tool crashed")
	require.NoError(t, err)
	assert.Equal(t, entity.QueueItemStatusFailed, res.Item.Status)
	assert.Equal(t, "tool crashed", res.Item.FailureReason)
	assert.False(t, res.HasMore)
	assert.Equal(t, []string{eventbus.QueueItemStarted, eventbus.QueueItemFailed}, f.events.names)
}

func TestEngineSkipPrefersProcessingItem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)

	_, err := f.engine.Start(ctx, f.session.ID)
	require.NoError(t, err)

	res, err := f.engine.Skip(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, f.tasks[0].ID, res.Item.TaskID)
	assert.Equal(t, entity.QueueItemStatusSkipped, res.Item.Status)
	assert.True(t, res.HasMore)

	// No item processing now, so skip takes the oldest queued one.
	res, err = f.engine.Skip(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, f.tasks[1].ID, res.Item.TaskID)
	assert.False(t, res.HasMore)

	_, err = f.engine.Skip(ctx, f.session.ID)
	require.Error(t, err)
	assert.Equal(t, cerr.Conflict, cerr.CodeOf(err))
}

func TestEngineTerminalItemsAreNeverRevisited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)

	res, err := f.engine.Start(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, f.tasks[0].ID, res.Item.TaskID)
	_, err = f.engine.Fail(ctx, f.session.ID, "boom")
	require.NoError(t, err)

	res, err = f.engine.Start(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, f.tasks[1].ID, res.Item.TaskID)
	_, err = f.engine.Complete(ctx, f.session.ID)
	require.NoError(t, err)

	res, err = f.engine.Start(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, f.tasks[2].ID, res.Item.TaskID)
}

func TestEnginePushValidatesTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	_, err := f.engine.Push(ctx, f.session.ID, "task-missing")
	require.Error(t, err)
	assert.Equal(t, cerr.NotFound, cerr.CodeOf(err))

	// A real task that is not linked to the session is rejected too.
	unlinked, err := f.store.CreateTask(ctx, store.CreateTaskInput{ProjectID: f.tasks[0].ProjectID, Title: "stray"})
	require.NoError(t, err)
	_, err = f.engine.Push(ctx, f.session.ID, unlinked.ID)
	require.Error(t, err)
	assert.Equal(t, cerr.Validation, cerr.CodeOf(err))
}

func TestEnginePushAppendsQueuedItem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	extra, err := f.store.CreateTask(ctx, store.CreateTaskInput{ProjectID: f.tasks[0].ProjectID, Title: "extra"})
	require.NoError(t, err)
	require.NoError(t, f.store.AddTaskToSession(ctx, f.session.ID, extra.ID))

	q, err := f.engine.Push(ctx, f.session.ID, extra.ID)
	require.NoError(t, err)
	require.Len(t, q.Items, 2)
	assert.Equal(t, extra.ID, q.Items[1].TaskID)
	assert.Equal(t, entity.QueueItemStatusQueued, q.Items[1].Status)
	assert.Contains(t, f.events.names, eventbus.QueueUpdated)
}
