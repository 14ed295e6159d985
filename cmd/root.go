package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/hrz6976/sucker/downloader"
	"github.com/hrz6976/sucker/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = NewRootCmd()

var logCloser io.Closer

// NewRootCmd builds the command tree. Tests use a fresh tree per run so flag
// state does not leak between them.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sucker CSV_FILE",
		Short: "Download every image listed in a product table",
		Long: `Sucker reads a product table, downloads the file behind each row's URL into
an output directory named after the product, and writes an importable
Id -> file name table next to the input.`,
		Version:       "<unknown>",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadDotEnv(".env"); err != nil {
				return err
			}
			if err := applyEnv(cmd); err != nil {
				return err
			}
			verbose, _ := cmd.Flags().GetCount("verbose")
			logFile, _ := cmd.Flags().GetString("log-file")
			out := cmd.OutOrStdout()
			logCloser = logger.Init(logger.Options{
				Level:  logger.LevelForVerbosity(verbose),
				Output: out,
				Colors: logger.IsTerminal(out),
				File:   logFile,
			})
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Usage: sucker CSV_FILE")
				return nil
			}
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			_, err = runFetch(cmd.Context(), cmd.OutOrStdout(), args[0], cfg)
			return err
		},
	}

	root.PersistentFlags().CountP("verbose", "v", "Verbose output (use -v, -vv, or --verbose=N)")
	root.PersistentFlags().String("log-file", "", "Also write logs to this file, rotated")

	defaults := downloader.DefaultOptions()
	schema := defaults.Schema
	f := root.Flags()
	f.StringP("out", "o", defaults.OutDir, "Directory downloaded files are written to")
	f.IntP("workers", "w", defaults.Workers, "Maximum number of concurrent downloads")
	f.String("chunk-size", "32KiB", "Read and write granularity of a download")
	f.StringP("limit", "l", "", "Aggregate bandwidth cap, e.g. 2MB (empty for unlimited)")
	f.Duration("timeout", defaults.Timeout, "Connect and response header timeout")
	f.BoolP("quiet", "q", false, "Do not render the progress bar")
	f.Bool("no-mapping", false, "Do not write the importable_ mapping table")
	f.String("name-col", schema.Name, "Column holding the product name")
	f.String("sku-col", schema.SKU, "Column holding the stock keeping unit")
	f.String("url-col", schema.URL, "Column holding the image URL")
	f.String("id-col", schema.ID, "Column holding the record Id written to the mapping table")
	f.String("ledger", "", "Record task states in this sqlite file (empty to disable)")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address while running")
	f.String("upload-config", "", "Copy downloaded files to Cloudflare R2 using this credentials file")

	root.AddCommand(newStatusCmd())
	return root
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := RootCmd.Execute()
	if logCloser != nil {
		logCloser.Close()
	}
	if err != nil {
		logrus.WithError(err).Error("sucker failed")
		os.Exit(1)
	}
}
