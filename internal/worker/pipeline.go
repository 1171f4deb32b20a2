package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gyeh/chartcoder/internal/codes"
	"github.com/gyeh/chartcoder/internal/export"
	"github.com/gyeh/chartcoder/internal/output"
	"github.com/gyeh/chartcoder/internal/progress"
	"github.com/gyeh/chartcoder/internal/workflow"
)

// ChartOptions controls how each document is coded.
type ChartOptions struct {
	Analysis codes.AnalysisOptions

	// SelectThreshold is the confidence a suggestion needs to be selected
	// automatically. Zero means codes.SuggestionThreshold.
	SelectThreshold float64

	SkipVerify   bool
	ExportFormat export.Format // empty disables export
	ExportDir    string
	UseStdGzip   bool
}

// ChartResult holds the outcome for a single document.
type ChartResult struct {
	Document Document
	Snapshot workflow.Snapshot
	Export   string
	Duration time.Duration
	Err      error
}

// Entry converts the result for the batch report.
func (r *ChartResult) Entry() output.ChartEntry {
	e := output.ChartEntry{
		Document:       r.Document.Source,
		SessionID:      r.Snapshot.SessionID(),
		SuggestedCount: len(r.Snapshot.SuggestedCodes),
		SelectedCodes:  r.Snapshot.SelectedCodes,
		Verification:   r.Snapshot.VerificationResults,
		Summary:        r.Snapshot.Summary(),
		ExportPath:     r.Export,
		DurationMS:     r.Duration.Milliseconds(),
	}
	if e.SelectedCodes == nil {
		e.SelectedCodes = []codes.MedicalCode{}
	}
	if r.Snapshot.PatientData != nil {
		e.PatientName = r.Snapshot.PatientData.Name
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	return e
}

// RunChart codes one document through a fresh workspace:
// session → upload → analysis → auto-select → verify → export.
//
// Stages after a failure are skipped; the snapshot keeps whatever the
// earlier stages produced.
func RunChart(
	ctx context.Context,
	backend workflow.Backend,
	doc Document,
	opts ChartOptions,
	wsOpts workflow.Options,
	tracker progress.Tracker,
) *ChartResult {
	start := time.Now()
	ws := workflow.New(backend, wsOpts)
	result := &ChartResult{Document: doc}
	defer func() {
		result.Snapshot = ws.Snapshot()
		result.Duration = time.Since(start)
		if result.Err != nil {
			tracker.SetStage(progress.StageFailed)
		} else {
			tracker.SetStage(progress.StageDone)
		}
	}()

	tracker.SetStage(progress.StageSession)
	if _, err := ws.EnsureSession(ctx); err != nil {
		result.Err = fmt.Errorf("session: %w", err)
		return result
	}

	tracker.SetStage(progress.StageUpload)
	r, size, err := doc.Open(ctx, opts.UseStdGzip, nil)
	if err != nil {
		result.Err = fmt.Errorf("open %s: %w", doc.Name, err)
		return result
	}
	_, err = ws.UploadDocument(ctx, doc.Name, r, func(sent int64) {
		tracker.SetProgress(sent, size)
	})
	r.Close()
	if err != nil {
		result.Err = fmt.Errorf("upload: %w", err)
		return result
	}

	tracker.SetStage(progress.StageAnalyze)
	if _, err := ws.RunAnalysis(ctx, opts.Analysis); err != nil {
		result.Err = fmt.Errorf("analysis: %w", err)
		return result
	}

	tracker.SetStage(progress.StageSelect)
	threshold := opts.SelectThreshold
	if threshold <= 0 {
		threshold = codes.SuggestionThreshold
	}
	picked := ws.SuggestionsAbove(threshold)
	for i, c := range picked {
		if _, err := ws.Select(ctx, c); err != nil {
			result.Err = fmt.Errorf("select %s: %w", c.Code, err)
			return result
		}
		tracker.SetProgress(int64(i+1), int64(len(picked)))
	}
	tracker.SetCounter("codes_selected", int64(len(picked)))

	if !opts.SkipVerify && len(picked) > 0 {
		tracker.SetStage(progress.StageVerify)
		if _, err := ws.Verify(ctx); err != nil {
			result.Err = fmt.Errorf("verify: %w", err)
			return result
		}
	}

	if opts.ExportFormat != "" {
		tracker.SetStage(progress.StageExport)
		path, err := ws.Export(ctx, opts.ExportFormat, opts.ExportDir)
		result.Export = path
		if err != nil {
			result.Err = fmt.Errorf("export: %w", err)
			return result
		}
	}

	return result
}

// Canceled reports whether the result failed only because ctx ended.
func (r *ChartResult) Canceled() bool {
	return errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, context.DeadlineExceeded)
}

// BuildReport assembles the batch report for results.
func BuildReport(backendURL string, opts ChartOptions, results []ChartResult, now time.Time) output.Report {
	report := output.Report{
		GeneratedAt: now.UTC(),
		BackendURL:  backendURL,
		Options:     opts.Analysis,
		Charts:      make([]output.ChartEntry, 0, len(results)),
	}
	for i := range results {
		report.Charts = append(report.Charts, results[i].Entry())
	}
	report.Tally()
	return report
}
