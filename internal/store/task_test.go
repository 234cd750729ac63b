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

func taskFixture(t *testing.T) (*Store, *eventRecorder, *entity.Project) {
	t.Helper()
	st, events, _ := newTestStore(t)
	proj, err := st.CreateProject(context.Background(), CreateProjectInput{Name: "demo", Path: "/tmp/demo"})
	require.NoError(t, err)
	events.reset()
	return st, events, proj
}

func TestCreateTaskValidation(t *testing.T) {
	ctx := context.Background()
	st, _, proj := taskFixture(t)

	_, err := st.CreateTask(ctx, CreateTaskInput{ProjectID: proj.ID, Title: "  "})
	assert.Equal(t, cerr.Validation, cerr.CodeOf(err))

	_, err = st.CreateTask(ctx, CreateTaskInput{ProjectID: "proj-nope", Title: "work"})
	assert.Equal(t, cerr.NotFound, cerr.CodeOf(err))

	missing := "task-nope"
	_, err = st.CreateTask(ctx, CreateTaskInput{ProjectID: proj.ID, Title: "work", ParentTaskID: &missing})
	assert.Equal(t, cerr.NotFound, cerr.CodeOf(err))
}

func TestCreateTaskDefaults(t *testing.T) {
	ctx := context.Background()
	st, events, proj := taskFixture(t)

	task, err := st.CreateTask(ctx, CreateTaskInput{ProjectID: proj.ID, Title: "work"})
	require.NoError(t, err)
	assert.Equal(t, entity.TaskStatusPending, task.Status)
	assert.Equal(t, entity.DefaultTaskPriority, task.Priority)
	require.Len(t, task.Timeline, 1)
	assert.Equal(t, "created", task.Timeline[0].Kind)
	assert.Equal(t, []string{eventbus.TaskCreated}, events.names())
}

func TestUpdateTaskStampsStartAndCompletionOnce(t *testing.T) {
	ctx := context.Background()
	st, _, proj := taskFixture(t)

	task, err := st.CreateTask(ctx, CreateTaskInput{ProjectID: proj.ID, Title: "work"})
	require.NoError(t, err)

	inProgress := entity.TaskStatusInProgress
	completed := entity.TaskStatusCompleted
	pending := entity.TaskStatusPending

	task, err = st.UpdateTask(ctx, task.ID, UpdateTaskInput{Status: &inProgress})
	require.NoError(t, err)
	require.NotNil(t, task.StartedAt)
	firstStart := *task.StartedAt

	task, err = st.UpdateTask(ctx, task.ID, UpdateTaskInput{Status: &completed})
	require.NoError(t, err)
	require.NotNil(t, task.CompletedAt)
	firstCompletion := *task.CompletedAt

	// Leave and re-enter both statuses; the stamps must not move.
	for _, status := range []entity.TaskStatus{pending, inProgress, completed} {
		status := status
		task, err = st.UpdateTask(ctx, task.ID, UpdateTaskInput{Status: &status})
		require.NoError(t, err)
	}
	assert.True(t, task.StartedAt.Equal(firstStart))
	assert.True(t, task.CompletedAt.Equal(firstCompletion))
}

func TestUpdateTaskMergesOnlySuppliedFields(t *testing.T) {
	ctx := context.Background()
	st, _, proj := taskFixture(t)

	task, err := st.CreateTask(ctx, CreateTaskInput{
		ProjectID:   proj.ID,
		Title:       "work",
		Description: "original",
		Priority:    "high",
	})
	require.NoError(t, err)

	title := "renamed"
	task, err = st.UpdateTask(ctx, task.ID, UpdateTaskInput{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "renamed", task.Title)
	assert.Equal(t, "original", task.Description)
	assert.Equal(t, "high", task.Priority)
}

func TestListTasksFilters(t *testing.T) {
	ctx := context.Background()
	st, _, proj := taskFixture(t)

	root, err := st.CreateTask(ctx, CreateTaskInput{ProjectID: proj.ID, Title: "root"})
	require.NoError(t, err)
	child, err := st.CreateTask(ctx, CreateTaskInput{ProjectID: proj.ID, Title: "child", ParentTaskID: &root.ID})
	require.NoError(t, err)

	inProgress := entity.TaskStatusInProgress
	_, err = st.UpdateTask(ctx, child.ID, UpdateTaskInput{Status: &inProgress})
	require.NoError(t, err)

	all := st.ListTasks(ctx, TaskFilter{ProjectID: proj.ID})
	assert.Len(t, all, 2)

	roots := st.ListTasks(ctx, TaskFilter{RootOnly: true})
	require.Len(t, roots, 1)
	assert.Equal(t, root.ID, roots[0].ID)

	children := st.ListTasks(ctx, TaskFilter{ParentTaskID: root.ID})
	require.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ID)

	active := st.ListTasks(ctx, TaskFilter{Status: entity.TaskStatusInProgress})
	require.Len(t, active, 1)
	assert.Equal(t, child.ID, active[0].ID)
}

func TestDeleteTaskUnlinksSessions(t *testing.T) {
	ctx := context.Background()
	st, _, proj := taskFixture(t)

	task, err := st.CreateTask(ctx, CreateTaskInput{ProjectID: proj.ID, Title: "work"})
	require.NoError(t, err)
	sess, err := st.CreateSession(ctx, CreateSessionInput{ProjectID: proj.ID, TaskIDs: []string{task.ID}})
	require.NoError(t, err)

	require.NoError(t, st.DeleteTask(ctx, task.ID))

	sess, err = st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.NotContains(t, sess.TaskIDs, task.ID)

	_, err = st.GetTask(ctx, task.ID)
	assert.Equal(t, cerr.NotFound, cerr.CodeOf(err))
}

func TestDeleteTaskSkipsQueueItems(t *testing.T) {
	ctx := context.Background()
	st, events, proj := taskFixture(t)

	doomed, err := st.CreateTask(ctx, CreateTaskInput{ProjectID: proj.ID, Title: "doomed"})
	require.NoError(t, err)
	kept, err := st.CreateTask(ctx, CreateTaskInput{ProjectID: proj.ID, Title: "kept"})
	require.NoError(t, err)
	sess, err := st.CreateSession(ctx, CreateSessionInput{
		ProjectID: proj.ID,
		TaskIDs:   []string{doomed.ID, kept.ID},
		Strategy:  entity.StrategyQueue,
	})
	require.NoError(t, err)
	_, err = st.CreateQueue(ctx, sess.ID, []string{doomed.ID, kept.ID})
	require.NoError(t, err)
	events.reset()

	require.NoError(t, st.DeleteTask(ctx, doomed.ID))

	q, err := st.GetQueue(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.QueueItemStatusSkipped, q.Items[0].Status)
	assert.Equal(t, entity.QueueItemStatusQueued, q.Items[1].Status)
	assert.Contains(t, events.names(), eventbus.QueueUpdated)
}
