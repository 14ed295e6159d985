package rclone

import (
	"context"
	"fmt"
	"time"

	"github.com/rclone/rclone/fs"
	"github.com/rclone/rclone/fs/operations"
)

// FileInfo describes one object of a remote.
type FileInfo struct {
	Remote  string
	Size    int64
	ModTime time.Time
}

// ListFiles lists every object below the root of f.
func ListFiles(ctx context.Context, f fs.Fs) ([]FileInfo, error) {
	var infos []FileInfo
	err := operations.ListFn(ctx, f, func(o fs.Object) {
		infos = append(infos, FileInfo{
			Remote:  o.Remote(),
			Size:    o.Size(),
			ModTime: o.ModTime(ctx),
		})
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// Usage is the object count and total size of a remote.
type Usage struct {
	Count int64
	Size  int64
}

// Summarize totals the objects below the root of f.
func Summarize(ctx context.Context, f fs.Fs) (Usage, error) {
	infos, err := ListFiles(ctx, f)
	if err != nil {
		return Usage{}, err
	}
	var u Usage
	for _, info := range infos {
		u.Count++
		u.Size += info.Size
	}
	return u, nil
}

// RemoteUsage summarizes the bucket (and prefix) uploads go to.
func RemoteUsage(ctx context.Context, cred *CloudflareR2Credentials) (Usage, error) {
	ctx = InjectConfig(ctx)
	f, err := NewR2Backend(ctx, cred)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to create R2 backend: %w", err)
	}
	return Summarize(ctx, f)
}
