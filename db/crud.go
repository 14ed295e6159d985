package db

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// DBOperation defines the interface for database operations
type DBOperation interface {
	// CreateTask inserts a new task and sets its ID.
	CreateTask(task *Task) error
	// GetTask retrieves the task at position seq of a run.
	GetTask(runID string, seq int) (*Task, error)
	// UpdateTask saves every field of an existing task.
	UpdateTask(task *Task) error
	// DeleteRun deletes every task of a run.
	DeleteRun(runID string) error
	// ListTasks retrieves the tasks of a run in input order.
	ListTasks(runID string) ([]*Task, error)
	// CountTasks returns the total number of tasks in the database.
	CountTasks() (int64, error)
	// LatestRunID returns the run that most recently created a task.
	LatestRunID() (string, error)
	// SummarizeRun aggregates the tasks of a run by status.
	SummarizeRun(runID string) (map[Status]StatusSummary, error)
}

// StatusSummary is the number of tasks and bytes written for one status.
type StatusSummary struct {
	Count int64
	Size  int64
}

// ErrNoRuns is returned by LatestRunID on an empty ledger.
var ErrNoRuns = errors.New("ledger has no runs")

// DB is the concrete implementation of DBOperation
type DB struct {
	conn *gorm.DB
}

var _ DBOperation = (*DB)(nil)

func (db *DB) CreateTask(task *Task) error {
	if err := db.conn.Create(task).Error; err != nil {
		return err
	}
	return nil
}

func (db *DB) GetTask(runID string, seq int) (*Task, error) {
	var task Task
	if err := db.conn.Where("run_id = ? AND seq = ?", runID, seq).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (db *DB) UpdateTask(task *Task) error {
	if task.ID == 0 {
		return fmt.Errorf("task %s/%d has no ID", task.RunID, task.Seq)
	}
	if err := db.conn.Save(task).Error; err != nil {
		return err
	}
	return nil
}

func (db *DB) DeleteRun(runID string) error {
	if err := db.conn.Where("run_id = ?", runID).Delete(&Task{}).Error; err != nil {
		return err
	}
	return nil
}

func (db *DB) ListTasks(runID string) ([]*Task, error) {
	var tasks []*Task
	if err := db.conn.Where("run_id = ?", runID).Order("seq").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (db *DB) CountTasks() (int64, error) {
	var count int64
	if err := db.conn.Model(&Task{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (db *DB) LatestRunID() (string, error) {
	var task Task
	err := db.conn.Order("id DESC").First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNoRuns
	}
	if err != nil {
		return "", err
	}
	return task.RunID, nil
}

func (db *DB) SummarizeRun(runID string) (map[Status]StatusSummary, error) {
	var rows []struct {
		Status Status
		Count  int64
		Size   int64
	}
	err := db.conn.Model(&Task{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(written), 0) AS size").
		Where("run_id = ?", runID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	summary := make(map[Status]StatusSummary, len(rows))
	for _, r := range rows {
		summary[r.Status] = StatusSummary{Count: r.Count, Size: r.Size}
	}
	return summary, nil
}

// Close releases the underlying connection.
func (db *DB) Close() error {
	return CloseDB(db.conn)
}

func (db *DB) getConnection() *gorm.DB {
	return db.conn
}

// NewDB creates a new DB instance with the given gorm.DB connection
func NewDB(conn *gorm.DB) (*DB, error) {
	if conn == nil {
		return nil, errors.New("gorm.DB connection cannot be nil")
	}
	if err := conn.AutoMigrate(&Task{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate Task model: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Open connects to the ledger at path and migrates it.
func Open(path string) (*DB, error) {
	gdb, err := ConnectDB(path)
	if err != nil {
		return nil, err
	}
	db, err := NewDB(gdb)
	if err != nil {
		_ = CloseDB(gdb)
		return nil, err
	}
	return db, nil
}
