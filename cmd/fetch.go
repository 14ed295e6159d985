package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/hrz6976/sucker/db"
	"github.com/hrz6976/sucker/downloader"
	"github.com/hrz6976/sucker/interrupt"
	"github.com/hrz6976/sucker/logger"
	"github.com/hrz6976/sucker/metrics"
	"github.com/hrz6976/sucker/progress"
	"github.com/hrz6976/sucker/rclone"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// runFetch downloads every record of input and, when configured, uploads
// the completed files. Only startup and configuration errors are returned.
func runFetch(parent context.Context, out io.Writer, input string, cfg *runConfig) (*downloader.Summary, error) {
	if parent == nil {
		parent = context.Background()
	}

	var cred *rclone.CloudflareR2Credentials
	if cfg.UploadConfig != "" {
		var err error
		if cred, err = rclone.LoadCredentials(cfg.UploadConfig); err != nil {
			return nil, err
		}
	}

	var ledger downloader.Ledger
	if cfg.LedgerPath != "" {
		dbHandle, err := db.Open(cfg.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger: %w", err)
		}
		defer dbHandle.Close()
		ledger = dbHandle
	}

	if cfg.MetricsAddr != "" {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		srv, err := metrics.Serve(cfg.MetricsAddr, prometheus.DefaultGatherer)
		if err != nil {
			return nil, fmt.Errorf("failed to serve metrics on %s: %w", cfg.MetricsAddr, err)
		}
		defer srv.Shutdown()
	}

	render := !cfg.Quiet && logger.IsTerminal(out)
	tracker := progress.New(out, render)
	if render {
		logrus.SetOutput(tracker)
		defer logrus.SetOutput(out)
	}
	defer tracker.Close()

	coordinator, err := downloader.New(cfg.Options, tracker, ledger)
	if err != nil {
		return nil, err
	}

	ctx, stop := interrupt.WithInterrupt(parent)
	defer stop()

	summary, err := coordinator.Run(ctx, input)
	if err != nil {
		return summary, err
	}
	if ctx.Err() != nil {
		logrus.WithField("cancelled", summary.Cancelled).Warn("Run interrupted; partial files were left in place")
		return summary, nil
	}

	if cred != nil && len(summary.Files) > 0 {
		if err := rclone.Upload(ctx, cfg.Options.OutDir, cred, summary.Files); err != nil {
			logrus.WithError(err).Error("Upload failed")
		} else {
			logrus.WithField("count", len(summary.Files)).Info("Upload completed")
		}
	}
	return summary, nil
}
