package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func SetupDBInstance(t *testing.T) *DB {
	dbInstance, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Failed to open ledger: %v", err)
	}
	if dbInstance.getConnection() == nil {
		t.Fatal("Expected DB connection to be non-nil")
	}
	t.Cleanup(func() { _ = dbInstance.Close() })
	return dbInstance
}

func TestCreateTask(t *testing.T) {
	dbInstance := SetupDBInstance(t)

	task := &Task{
		RunID:  "run-1",
		Seq:    0,
		Stem:   "blue_widget-SK-1",
		URL:    "https://x/img.png",
		Size:   -1,
		Status: Pending,
	}

	err := dbInstance.CreateTask(task)
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	// Verify the task was created
	if task.ID == 0 {
		t.Fatal("Expected task ID to be set after creation")
	}

	// (run, seq) is unique
	dup := *task
	dup.ID = 0
	assert.Error(t, dbInstance.CreateTask(&dup))
}

func TestGetTask(t *testing.T) {
	dbInstance := SetupDBInstance(t)

	originalTask := &Task{
		RunID:  "run-1",
		Seq:    3,
		Stem:   "red_widget-SK-2",
		URL:    "https://x/red",
		Size:   -1,
		Status: Downloading,
	}
	require.NoError(t, dbInstance.CreateTask(originalTask))

	retrievedTask, err := dbInstance.GetTask("run-1", 3)
	require.NoError(t, err)
	assert.Equal(t, originalTask.Stem, retrievedTask.Stem)
	assert.Equal(t, originalTask.URL, retrievedTask.URL)
	assert.Equal(t, Downloading, retrievedTask.Status)
	assert.Equal(t, int64(-1), retrievedTask.Size)

	_, err = dbInstance.GetTask("run-1", 4)
	assert.Error(t, err)
}

func TestUpdateTask(t *testing.T) {
	dbInstance := SetupDBInstance(t)

	task := &Task{RunID: "run-1", Seq: 0, Stem: "a-1", URL: "https://x/a", Size: -1, Status: Pending}
	require.NoError(t, dbInstance.CreateTask(task))

	task.Status = Downloaded
	task.Path = "out/a-1.jpg"
	task.Extension = ".jpg"
	task.Size = 100
	task.Written = 100
	require.NoError(t, dbInstance.UpdateTask(task))

	updatedTask, err := dbInstance.GetTask("run-1", 0)
	require.NoError(t, err)
	assert.Equal(t, Downloaded, updatedTask.Status)
	assert.Equal(t, "out/a-1.jpg", updatedTask.Path)
	assert.Equal(t, int64(100), updatedTask.Written)

	assert.Error(t, dbInstance.UpdateTask(&Task{RunID: "run-1", Seq: 9}))
}

func TestListAndDeleteRun(t *testing.T) {
	dbInstance := SetupDBInstance(t)

	for _, seq := range []int{2, 0, 1} {
		require.NoError(t, dbInstance.CreateTask(&Task{RunID: "run-a", Seq: seq, Stem: "s", URL: "u", Size: -1}))
	}
	require.NoError(t, dbInstance.CreateTask(&Task{RunID: "run-b", Seq: 0, Stem: "s", URL: "u", Size: -1}))

	tasks, err := dbInstance.ListTasks("run-a")
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for i, task := range tasks {
		assert.Equal(t, i, task.Seq)
	}

	count, err := dbInstance.CountTasks()
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	latest, err := dbInstance.LatestRunID()
	require.NoError(t, err)
	assert.Equal(t, "run-b", latest)

	require.NoError(t, dbInstance.DeleteRun("run-a"))
	tasks, err = dbInstance.ListTasks("run-a")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestLatestRunIDEmpty(t *testing.T) {
	dbInstance := SetupDBInstance(t)
	_, err := dbInstance.LatestRunID()
	assert.ErrorIs(t, err, ErrNoRuns)
}

func TestSummarizeRun(t *testing.T) {
	dbInstance := SetupDBInstance(t)

	tasks := []*Task{
		{RunID: "r", Seq: 0, Stem: "a", URL: "u", Status: Downloaded, Written: 100},
		{RunID: "r", Seq: 1, Stem: "b", URL: "u", Status: Downloaded, Written: 50},
		{RunID: "r", Seq: 2, Stem: "c", URL: "u", Status: Failed},
		{RunID: "r", Seq: 3, Stem: "d", URL: "u", Status: Cancelled, Written: 7},
		{RunID: "other", Seq: 0, Stem: "e", URL: "u", Status: Downloaded, Written: 1000},
	}
	for _, task := range tasks {
		require.NoError(t, dbInstance.CreateTask(task))
	}

	summary, err := dbInstance.SummarizeRun("r")
	require.NoError(t, err)
	assert.Equal(t, StatusSummary{Count: 2, Size: 150}, summary[Downloaded])
	assert.Equal(t, StatusSummary{Count: 1, Size: 0}, summary[Failed])
	assert.Equal(t, StatusSummary{Count: 1, Size: 7}, summary[Cancelled])
	_, ok := summary[Pending]
	assert.False(t, ok)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "Downloaded", Downloaded.String())
	assert.Equal(t, "Cancelled", Cancelled.String())
	assert.Equal(t, "Unknown", Status(42).String())
}
