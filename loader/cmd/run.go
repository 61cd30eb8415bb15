package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"productrag/loader/service"
	"productrag/types"
)

var errDocumentsFailed = errors.New("some documents failed")

func runCmd(envFile *string) *cobra.Command {
	var (
		dir         string
		stopOnError bool
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest every document in the source directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			if dir != "" {
				cfg.SourceDir = dir
			}
			if cmd.Flags().Changed("stop-on-error") {
				cfg.ContinueOnError = !stopOnError
			}

			logger := cfg.Logger()
			ctx, cancel := signalContext()
			defer cancel()

			svc, closeFn, err := service.Open(ctx, cfg, logger, dryRun)
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := svc.Run(ctx)
			printReport(cmd.OutOrStdout(), report)
			if err != nil {
				return err
			}
			if len(report.Failed()) > 0 {
				return errDocumentsFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Source directory (default: PROCESSED_DIR)")
	cmd.Flags().BoolVar(&stopOnError, "stop-on-error", false, "Abort the run at the first failed document")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Embed documents but keep records in memory")

	return cmd
}

func fileCmd(envFile *string) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "file <path>...",
		Short: "Ingest the given document files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}

			logger := cfg.Logger()
			ctx, cancel := signalContext()
			defer cancel()

			svc, closeFn, err := service.Open(ctx, cfg, logger, dryRun)
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := svc.RunFiles(ctx, args, svc.StopOnError())
			printReport(cmd.OutOrStdout(), report)
			if err != nil {
				return err
			}
			if len(report.Failed()) > 0 {
				return errDocumentsFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Embed documents but keep records in memory")

	return cmd
}

func watchCmd(envFile *string) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Ingest documents as they arrive in the source directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			if dir != "" {
				cfg.SourceDir = dir
			}

			logger := cfg.Logger()
			ctx, cancel := signalContext()
			defer cancel()

			svc, closeFn, err := service.Open(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer closeFn()

			return svc.Watch(ctx)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Source directory (default: PROCESSED_DIR)")

	return cmd
}

func printReport(w io.Writer, report types.RunReport) {
	for _, res := range report.Results {
		if res.OK() {
			fmt.Fprintf(w, "ok    %s  %d chunks (%d new)  %s\n", res.Path, res.Chunks, res.Inserted, res.Duration.Round(time.Millisecond))
			continue
		}
		fmt.Fprintf(w, "FAIL  %s  %v\n", res.Path, res.Err)
	}
	for _, path := range report.Skipped {
		fmt.Fprintf(w, "skip  %s\n", path)
	}
	fmt.Fprintf(w, "\nrun %s: %d succeeded, %d failed, %d skipped, %d chunks\n",
		report.RunID, report.Succeeded(), len(report.Failed()), len(report.Skipped), report.TotalChunks())
}
