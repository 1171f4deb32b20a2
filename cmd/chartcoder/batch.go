package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyeh/chartcoder/internal/codes"
	"github.com/gyeh/chartcoder/internal/export"
	"github.com/gyeh/chartcoder/internal/output"
	"github.com/gyeh/chartcoder/internal/progress"
	"github.com/gyeh/chartcoder/internal/server"
	"github.com/gyeh/chartcoder/internal/worker"
	"github.com/gyeh/chartcoder/internal/workflow"
)

// chartFlags are shared by code and batch.
type chartFlags struct {
	analysis        codes.AnalysisOptions
	selectThreshold float64
	skipVerify      bool
	exportFormat    string
	exportDir       string
	useStdGzip      bool
}

func (f *chartFlags) register(cmd *cobra.Command) {
	analysisFlags(cmd, &f.analysis)
	cmd.Flags().Float64Var(&f.selectThreshold, "select-threshold", codes.SuggestionThreshold, "Auto-select suggestions at or above this confidence")
	cmd.Flags().BoolVar(&f.skipVerify, "skip-verify", false, "Do not verify the selected codes")
	cmd.Flags().StringVar(&f.exportFormat, "export", "", "Export each chart as csv or excel")
	cmd.Flags().StringVar(&f.exportDir, "export-dir", "", "Directory for exports (default: $EXPORT_DIR or .)")
	cmd.Flags().BoolVar(&f.useStdGzip, "std-gzip", false, "Use the standard library gzip decoder instead of pgzip")
}

func (f *chartFlags) options(a *app) (worker.ChartOptions, error) {
	opts := worker.ChartOptions{
		Analysis:        f.analysis,
		SelectThreshold: f.selectThreshold,
		SkipVerify:      f.skipVerify,
		ExportDir:       f.exportDir,
		UseStdGzip:      f.useStdGzip,
	}
	if f.exportFormat != "" {
		format, err := export.ParseFormat(f.exportFormat)
		if err != nil {
			return opts, err
		}
		opts.ExportFormat = format
	}
	if opts.ExportDir == "" {
		opts.ExportDir = a.cfg.Export.Dir
	}
	if opts.ExportFormat != "" {
		if err := os.MkdirAll(opts.ExportDir, 0o755); err != nil {
			return opts, fmt.Errorf("creating export dir: %w", err)
		}
	}
	return opts, nil
}

func newCodeCmd(a *app) *cobra.Command {
	var flags chartFlags

	cmd := &cobra.Command{
		Use:   "code FILE|URL",
		Short: "Code one chart end to end: upload, analyze, select, verify and export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(a)
			if err != nil {
				return err
			}

			wsOpts := workflow.Options{Logger: a.log}
			if s3c, err := a.archiver(cmd); err != nil {
				return err
			} else if s3c != nil {
				wsOpts.Archiver = s3c
			}

			doc := worker.NewDocument(args[0])
			tracker := progress.NewLogManagerTo(cmd.ErrOrStderr()).NewTracker(0, 1, doc.Name)
			result := worker.RunChart(cmd.Context(), a.client, doc, opts, wsOpts, tracker)
			tracker.Done()

			if a.jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), result.Entry()); err != nil {
					return err
				}
				return result.Err
			}

			out := cmd.OutOrStdout()
			snap := result.Snapshot
			if id := snap.SessionID(); id != "" {
				fmt.Fprintf(out, "%s %s\n\n", cyan("Session:"), id)
			}
			if snap.PatientData != nil {
				printPatient(out, snap.PatientData)
				fmt.Fprintln(out)
			}
			if len(snap.SelectedCodes) > 0 {
				printVerification(out, snap.SelectedCodes, snap.VerificationResults)
			}
			if result.Export != "" {
				fmt.Fprintf(out, "%s wrote %s\n", green("✓"), result.Export)
			}
			return result.Err
		},
	}

	flags.register(cmd)

	return cmd
}

func newBatchCmd(a *app) *cobra.Command {
	var (
		flags       chartFlags
		outputFile  string
		workers     int
		noProgress  bool
		logProgress bool
		uploadToS3  bool
	)

	cmd := &cobra.Command{
		Use:   "batch PATH|URL...",
		Short: "Code many charts concurrently and write a JSON report",
		Long: "Code every chart document found in the given files, directories and URLs.\n" +
			"Directories are walked for .pdf, .txt, .doc, .docx and .rtf files (optionally .gz).",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(a)
			if err != nil {
				return err
			}

			docs, err := worker.ReadDocuments(args...)
			if err != nil {
				return fmt.Errorf("reading documents: %w", err)
			}
			if len(docs) == 0 {
				return fmt.Errorf("no chart documents found")
			}

			var mgr progress.Manager
			switch {
			case noProgress:
				mgr = &progress.NoopManager{}
			case logProgress:
				mgr = progress.NewLogManagerTo(cmd.ErrOrStderr())
			default:
				mgr = progress.NewMPBManager(len(docs))
			}

			startTime := time.Now()
			pool := &worker.Pool{
				Workers:  workers,
				Backend:  a.client,
				Options:  opts,
				Logger:   a.log,
				Progress: mgr,
			}
			results := pool.Run(cmd.Context(), docs)
			mgr.Wait()

			stderr := cmd.ErrOrStderr()
			for _, r := range results {
				if r.Err != nil && !r.Canceled() {
					fmt.Fprintf(stderr, "%s %s: %v\n", red("Error"), r.Document.Name, r.Err)
				}
			}

			report := worker.BuildReport(a.client.BaseURL(), opts, results, time.Now())
			if err := output.WriteReport(outputFile, report); err != nil {
				return fmt.Errorf("writing report: %w", err)
			}

			if uploadToS3 {
				s3c, err := a.archiver(cmd)
				if err != nil {
					return err
				}
				if s3c == nil {
					return fmt.Errorf("--s3 needs EXPORT_S3_BUCKET")
				}
				name := fmt.Sprintf("reports/batch_%s.json", report.GeneratedAt.Format("2006-01-02T15-04-05"))
				if err := s3c.UploadReport(cmd.Context(), name, report); err != nil {
					return fmt.Errorf("uploading report: %w", err)
				}
				fmt.Fprintf(stderr, "Report uploaded to s3://%s/%s\n", a.cfg.Export.S3Bucket, s3c.Key(name))
			}

			t := report.Totals
			fmt.Fprintf(stderr, "\nBatch complete: %d charts, %d failed, %d codes selected in %.1fs\n",
				t.Documents, t.Failed, t.Selected, time.Since(startTime).Seconds())
			fmt.Fprintf(stderr, "Verification: %d approved, %d warnings, %d rejected, %d unverified\n",
				t.Summary.Approved, t.Summary.Warning, t.Summary.Rejected, t.Summary.Unverified)
			if outputFile != "-" {
				fmt.Fprintf(stderr, "Report written to %s\n", outputFile)
			}

			if err := cmd.Context().Err(); err != nil {
				return err
			}
			if t.Failed > 0 {
				return fmt.Errorf("%d of %d charts failed", t.Failed, t.Documents)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&outputFile, "output", "o", "report.json", "Report file path (use '-' for stdout)")
	cmd.Flags().IntVar(&workers, "workers", 3, "Number of charts coded concurrently")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress output")
	cmd.Flags().BoolVar(&logProgress, "log-progress", false, "Print progress as log lines instead of bars")
	cmd.Flags().BoolVar(&uploadToS3, "s3", false, "Also upload the report to $EXPORT_S3_BUCKET")

	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve one coding workspace over HTTP with a websocket event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != "" {
				a.cfg.App.Port = port
			}

			wsOpts := workflow.Options{Logger: a.log}
			if s3c, err := a.archiver(cmd); err != nil {
				return err
			} else if s3c != nil {
				wsOpts.Archiver = s3c
			}

			hub := server.NewHub(a.log)
			wsOpts.Notifier = hub
			ws := workflow.New(a.client, wsOpts)

			fmt.Fprintf(cmd.ErrOrStderr(), "Workspace listening on :%s (backend %s)\n", a.cfg.App.Port, a.client.BaseURL())
			return server.New(a.cfg, ws, hub, a.browser(), a.log).Run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (default: $APP_PORT or 3000)")

	return cmd
}
