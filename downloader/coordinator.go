package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hrz6976/sucker/db"
	"github.com/hrz6976/sucker/naming"
	"github.com/hrz6976/sucker/progress"
	logger "github.com/sirupsen/logrus"
)

// Options configures a Coordinator.
type Options struct {
	OutDir    string
	Workers   int
	ChunkSize int
	// RateLimit caps the aggregate download rate in bytes per second; 0 is
	// unlimited.
	RateLimit int64
	// Timeout bounds connecting and waiting for response headers.
	Timeout time.Duration
	Schema  Schema
	// Mapping enables the importable_ companion table.
	Mapping bool
	// RunID identifies the run in the ledger; generated when empty.
	RunID string
}

func DefaultOptions() Options {
	return Options{
		OutDir:    "out",
		Workers:   DefaultWorkers,
		ChunkSize: DefaultChunkSize,
		Timeout:   30 * time.Second,
		Schema:    DefaultSchema(),
		Mapping:   true,
	}
}

// Ledger persists per-task state. *db.DB satisfies it.
type Ledger interface {
	CreateTask(task *db.Task) error
	UpdateTask(task *db.Task) error
}

// Summary is the outcome of a run.
type Summary struct {
	RunID      string
	Records    int
	Downloaded int
	Failed     int
	Cancelled  int
	// Files lists the downloaded files relative to the output directory, in
	// input order.
	Files       []string
	MappingPath string
}

// Coordinator turns an input table into downloads.
type Coordinator struct {
	opts    Options
	tracker *progress.Tracker
	ledger  Ledger
	fetcher *Fetcher
}

// New validates opts and returns a Coordinator. ledger may be nil.
func New(opts Options, tracker *progress.Tracker, ledger Ledger) (*Coordinator, error) {
	if opts.OutDir == "" {
		return nil, errors.New("output directory must not be empty")
	}
	if opts.Workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", opts.Workers)
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.RateLimit < 0 {
		return nil, fmt.Errorf("rate limit must not be negative, got %d", opts.RateLimit)
	}
	if opts.Schema == (Schema{}) {
		opts.Schema = DefaultSchema()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if tracker == nil {
		tracker = progress.New(io.Discard, false)
	}
	return &Coordinator{
		opts:    opts,
		tracker: tracker,
		ledger:  ledger,
		fetcher: NewFetcher(opts.OutDir, opts.ChunkSize, opts.RateLimit, opts.Timeout, opts.Workers),
	}, nil
}

func (c *Coordinator) RunID() string { return c.opts.RunID }

// Run downloads every record of the table at input into the output
// directory and blocks until all of them have finished, failed or been
// cancelled.
//
// Errors opening the input, the output directory or the mapping table are
// returned before any download starts. Individual download failures are
// logged and counted in the Summary, never returned.
func (c *Coordinator) Run(ctx context.Context, input string) (*Summary, error) {
	if err := os.MkdirAll(c.opts.OutDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", c.opts.OutDir, err)
	}

	records, err := OpenRecords(input, c.opts.Schema, c.opts.Mapping)
	if err != nil {
		return nil, err
	}
	defer records.Close()

	summary := &Summary{RunID: c.opts.RunID}
	var mapping *MappingWriter
	if c.opts.Mapping {
		summary.MappingPath = MappingPath(input)
		if mapping, err = CreateMapping(summary.MappingPath); err != nil {
			return nil, err
		}
		defer func() {
			if mapping != nil {
				mapping.Close()
			}
		}()
	}

	log := logger.WithField("run", c.opts.RunID)
	log.WithFields(logger.Fields{
		"input":   input,
		"out":     c.opts.OutDir,
		"workers": c.opts.Workers,
	}).Info("Starting run")

	var (
		results []*Result
		seen    = make(map[string]int)
		readErr error
	)
	pool := NewPool(c.opts.Workers)
	for {
		rec, err := records.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			readErr = err
			break
		}

		stem := naming.Sanitize(rec.Name, rec.SKU)
		url := strings.TrimSpace(rec.URL)
		ext := naming.URLExtension(url)
		task := &Task{
			Seq:       rec.Seq,
			Stem:      stem,
			URL:       url,
			Extension: ext,
			Progress:  c.tracker.Register(stem),
		}

		if ext != "" {
			if prev, ok := seen[stem+ext]; ok {
				log.WithFields(logger.Fields{
					"file":     stem + ext,
					"record":   rec.Seq,
					"previous": prev,
				}).Warn("Duplicate destination; the last download to finish wins")
			} else {
				seen[stem+ext] = rec.Seq
			}
		}

		if mapping != nil {
			if err := mapping.Write(rec.ID, stem+ext); err != nil {
				task.Progress.Done()
				readErr = err
				break
			}
		}

		row := c.record(task)
		// each job owns its slot; slots are read after Wait
		slot := &Result{}
		results = append(results, slot)
		pool.Submit(func() error {
			c.update(row, func(t *db.Task) { t.Status = db.Downloading })
			res := c.fetcher.Fetch(ctx, task)
			c.update(row, func(t *db.Task) {
				t.Path = res.Path
				t.Extension = res.Extension
				t.Size = res.Total
				t.Written = res.Written
				t.Digest = res.Digest
				t.Status = ledgerStatus(res.Outcome)
				if res.Err != nil {
					t.Error = res.Err.Error()
				}
			})
			*slot = *res
			return nil
		})
	}
	_ = pool.Wait()

	summary.Records = len(results)
	for _, res := range results {
		switch res.Outcome {
		case Downloaded:
			summary.Downloaded++
			rel, err := filepath.Rel(c.opts.OutDir, res.Path)
			if err != nil {
				rel = filepath.Base(res.Path)
			}
			summary.Files = append(summary.Files, rel)
		case Cancelled:
			summary.Cancelled++
		default:
			summary.Failed++
		}
	}

	if mapping != nil {
		if err := mapping.Close(); err != nil && readErr == nil {
			readErr = err
		}
		mapping = nil
	}

	log.WithFields(logger.Fields{
		"records":    summary.Records,
		"downloaded": summary.Downloaded,
		"failed":     summary.Failed,
		"cancelled":  summary.Cancelled,
	}).Info("Run finished")
	if readErr != nil {
		return summary, readErr
	}
	return summary, nil
}

// record creates the ledger row of task. Ledger errors only warn.
func (c *Coordinator) record(task *Task) *db.Task {
	if c.ledger == nil {
		return nil
	}
	row := &db.Task{
		RunID:     c.opts.RunID,
		Seq:       task.Seq,
		Stem:      task.Stem,
		URL:       task.URL,
		Extension: task.Extension,
		Size:      -1,
		Status:    db.Pending,
	}
	if err := c.ledger.CreateTask(row); err != nil {
		logger.WithError(err).WithField("file", task.Stem).Warn("Failed to record task in ledger")
		return nil
	}
	return row
}

func (c *Coordinator) update(row *db.Task, mutate func(t *db.Task)) {
	if row == nil {
		return
	}
	mutate(row)
	if err := c.ledger.UpdateTask(row); err != nil {
		logger.WithError(err).WithField("file", row.Stem).Warn("Failed to update task in ledger")
	}
}

func ledgerStatus(o Outcome) db.Status {
	switch o {
	case Downloaded:
		return db.Downloaded
	case Cancelled:
		return db.Cancelled
	default:
		return db.Failed
	}
}
