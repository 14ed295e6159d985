package rclone

import (
	"context"
	"fmt"

	"github.com/rclone/rclone/fs"
	"github.com/rclone/rclone/fs/sync"
	logger "github.com/sirupsen/logrus"
)

// CopyFiles copies the listed paths, relative to fsrc's root, into fdst.
func CopyFiles(ctx context.Context, fsrc, fdst fs.Fs, files []string) error {
	if len(files) == 0 {
		return nil
	}
	ctx, err := InjectFileList(ctx, files)
	if err != nil {
		return err
	}
	return sync.CopyDir(ctx, fdst, fsrc, false)
}

// Upload copies files from the local directory dir into the R2 bucket.
func Upload(ctx context.Context, dir string, cred *CloudflareR2Credentials, files []string) error {
	ctx = InjectConfig(ctx)
	fsrc, err := fs.NewFs(ctx, dir)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", dir, err)
	}
	fdst, err := NewR2Backend(ctx, cred)
	if err != nil {
		return fmt.Errorf("failed to create R2 backend: %w", err)
	}
	logger.WithFields(logger.Fields{
		"count":  len(files),
		"bucket": cred.Bucket,
	}).Info("Uploading files to R2...")
	return Run(ctx, func() error {
		return CopyFiles(ctx, fsrc, fdst, files)
	})
}
