package rclone

import (
	"context"
	"time"

	"github.com/rclone/rclone/fs"
	"github.com/rclone/rclone/fs/accounting"
	logger "github.com/sirupsen/logrus"
)

// Run calls f up to the configured number of retries, stopping early when
// the errors rclone recorded are fatal, not retryable, or ctx is done.
func Run(ctx context.Context, f func() error) error {
	ci := fs.GetConfig(ctx)
	stats := accounting.GlobalStats()
	var err error
	for attempt := 1; attempt <= ci.Retries; attempt++ {
		err = fs.CountError(ctx, f())
		if err == nil {
			err = stats.GetLastError()
		}
		log := logger.WithFields(logger.Fields{"attempt": attempt, "retries": ci.Retries})
		if !stats.Errored() {
			if attempt > 1 {
				log.Info("Upload attempt succeeded")
			}
			return err
		}
		if stats.HadFatalError() || !stats.HadRetryError() || ctx.Err() != nil {
			log.WithError(err).Warn("Upload failed; not retrying")
			return err
		}
		log.WithError(err).WithField("errors", stats.GetErrors()).Warn("Upload attempt failed")
		if wait := time.Until(stats.RetryAfter()); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if attempt < ci.Retries {
			stats.ResetErrors()
		}
	}
	return err
}
