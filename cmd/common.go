package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/hrz6976/sucker/downloader"
	"github.com/hrz6976/sucker/util"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// envFlags maps environment variables to the flags they provide defaults for.
var envFlags = map[string]string{
	"SUCKER_OUT_DIR": "out",
	"SUCKER_WORKERS": "workers",
	"SUCKER_LIMIT":   "limit",
	"SUCKER_LEDGER":  "ledger",
}

// loadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// applyEnv copies environment defaults into flags the user did not set.
func applyEnv(cmd *cobra.Command) error {
	for env, name := range envFlags {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || flag.Changed {
			continue
		}
		v, ok := os.LookupEnv(env)
		if !ok {
			continue
		}
		if err := cmd.Flags().Set(name, v); err != nil {
			return fmt.Errorf("invalid %s=%q: %w", env, v, err)
		}
	}
	return nil
}

// runConfig is everything a fetch run needs besides the input path.
type runConfig struct {
	Options      downloader.Options
	Quiet        bool
	LedgerPath   string
	MetricsAddr  string
	UploadConfig string
}

func configFromFlags(cmd *cobra.Command) (*runConfig, error) {
	f := cmd.Flags()
	opts := downloader.DefaultOptions()

	opts.OutDir, _ = f.GetString("out")
	opts.Workers, _ = f.GetInt("workers")
	if opts.Workers < 1 {
		return nil, fmt.Errorf("--workers must be at least 1, got %d", opts.Workers)
	}

	chunk, _ := f.GetString("chunk-size")
	chunkSize, err := util.ParseBytes(chunk)
	if err != nil {
		return nil, fmt.Errorf("--chunk-size: %w", err)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("--chunk-size must be positive")
	}
	opts.ChunkSize = int(chunkSize)

	limit, _ := f.GetString("limit")
	if opts.RateLimit, err = util.ParseBytes(limit); err != nil {
		return nil, fmt.Errorf("--limit: %w", err)
	}

	var timeout time.Duration
	if timeout, err = f.GetDuration("timeout"); err == nil {
		opts.Timeout = timeout
	}

	noMapping, _ := f.GetBool("no-mapping")
	opts.Mapping = !noMapping
	opts.Schema.Name, _ = f.GetString("name-col")
	opts.Schema.SKU, _ = f.GetString("sku-col")
	opts.Schema.URL, _ = f.GetString("url-col")
	opts.Schema.ID, _ = f.GetString("id-col")

	cfg := &runConfig{Options: opts}
	cfg.Quiet, _ = f.GetBool("quiet")
	cfg.LedgerPath, _ = f.GetString("ledger")
	cfg.MetricsAddr, _ = f.GetString("metrics-addr")
	cfg.UploadConfig, _ = f.GetString("upload-config")
	return cfg, nil
}
