// Package output writes batch coding reports.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gyeh/chartcoder/internal/codes"
)

// ChartEntry is the outcome for one document in a batch.
type ChartEntry struct {
	Document       string                     `json:"document"`
	SessionID      string                     `json:"session_id,omitempty"`
	PatientName    string                     `json:"patient_name,omitempty"`
	SuggestedCount int                        `json:"suggested_count"`
	SelectedCodes  []codes.MedicalCode        `json:"selected_codes"`
	Verification   []codes.VerificationResult `json:"verification_results,omitempty"`
	Summary        codes.VerificationSummary  `json:"summary"`
	ExportPath     string                     `json:"export_path,omitempty"`
	DurationMS     int64                      `json:"duration_ms"`
	Error          string                     `json:"error,omitempty"`
}

// Totals aggregates a batch.
type Totals struct {
	Documents int                       `json:"documents"`
	Succeeded int                       `json:"succeeded"`
	Failed    int                       `json:"failed"`
	Selected  int                       `json:"selected"`
	Summary   codes.VerificationSummary `json:"summary"`
}

// Report is the JSON document written after a batch run.
type Report struct {
	GeneratedAt time.Time             `json:"generated_at"`
	BackendURL  string                `json:"backend_url"`
	Options     codes.AnalysisOptions `json:"analysis_options"`
	Charts      []ChartEntry          `json:"charts"`
	Totals      Totals                `json:"totals"`
}

// Tally fills Totals from Charts.
func (r *Report) Tally() {
	t := Totals{Documents: len(r.Charts)}
	for _, c := range r.Charts {
		if c.Error != "" {
			t.Failed++
		} else {
			t.Succeeded++
		}
		t.Selected += len(c.SelectedCodes)
		t.Summary.Approved += c.Summary.Approved
		t.Summary.Warning += c.Summary.Warning
		t.Summary.Rejected += c.Summary.Rejected
		t.Summary.Unverified += c.Summary.Unverified
	}
	r.Totals = t
}

// WriteReport writes the report as indented JSON. A path of "-" writes to
// stdout.
func WriteReport(outputPath string, report Report) error {
	if report.Charts == nil {
		report.Charts = []ChartEntry{}
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	if outputPath == "-" {
		_, err = os.Stdout.Write(data)
		fmt.Fprintln(os.Stdout)
		return err
	}

	return os.WriteFile(outputPath, data, 0o644)
}
