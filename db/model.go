package db

import (
	"gorm.io/gorm"
)

type Status int

const (
	Pending Status = iota
	Downloading
	Downloaded
	Cancelled
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Downloading:
		return "Downloading"
	case Downloaded:
		return "Downloaded"
	case Cancelled:
		return "Cancelled"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Task is one record of one run.
type Task struct {
	gorm.Model
	/* RunID groups the tasks started by one invocation. */
	RunID string `gorm:"uniqueIndex:idx_run_seq;not null"`
	/* Seq is the zero-based position of the record in the input table. */
	Seq int `gorm:"uniqueIndex:idx_run_seq;not null"`
	/* Stem is the sanitized file name without extension. */
	Stem string `gorm:"not null"`
	/* URL is the source the file is fetched from. */
	URL string `gorm:"type:text;not null"`
	/* Path is the destination file, known once the extension is resolved. */
	Path string
	/* Extension is the resolved suffix including the dot. */
	Extension string
	/* Size is the declared Content-Length, -1 when unknown. */
	Size int64 `gorm:"not null"`
	/* Written is the number of bytes written to Path. */
	Written int64 `gorm:"not null"`
	/* Digest is the hex MD5 of a completed download. */
	Digest string
	/* Status is the status of the task. */
	Status Status `gorm:"index;not null"`
	/* Error is the error message of a failed task. */
	Error string `gorm:"type:text"`
}
