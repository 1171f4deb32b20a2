package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/gyeh/chartcoder/internal/api"
	"github.com/gyeh/chartcoder/internal/codes"
	"github.com/gyeh/chartcoder/internal/workflow"
)

var (
	red    = color.New(color.FgRed).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// printError writes err for a human. Backend errors show the server's own
// message and status.
func printError(w io.Writer, err error) {
	var re *api.RequestError
	if errors.As(err, &re) {
		msg := re.Message()
		if msg == "" {
			msg = re.Error()
		}
		if re.StatusCode > 0 {
			fmt.Fprintf(w, "%s %s (HTTP %d)\n", red("Error:"), msg, re.StatusCode)
		} else {
			fmt.Fprintf(w, "%s %s\n", red("Error:"), msg)
		}
		if api.IsUnauthorized(err) {
			fmt.Fprintln(w, faint("Run `chartcoder login --token <token>` or set CHARTCODER_ACCESS_TOKEN."))
		}
		return
	}
	switch {
	case errors.Is(err, workflow.ErrNoSession):
		fmt.Fprintf(w, "%s no session; pass --session or run `chartcoder session create`\n", red("Error:"))
	default:
		fmt.Fprintf(w, "%s %v\n", red("Error:"), err)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// emit prints v as JSON under --json, otherwise calls human.
func (a *app) emit(w io.Writer, v interface{}, human func()) error {
	if a.jsonOut {
		return writeJSON(w, v)
	}
	human()
	return nil
}

func statusLabel(r codes.VerificationResult, ok bool) string {
	if !ok {
		return faint("unverified")
	}
	switch r.Status {
	case codes.StatusApproved:
		return green(string(r.Status))
	case codes.StatusWarning:
		return yellow(string(r.Status))
	case codes.StatusRejected:
		return red(string(r.Status))
	}
	return string(r.Status)
}

func confidence(c codes.MedicalCode) string {
	if c.Confidence == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", *c.Confidence*100)
}

// printCodes renders a code table. A nil verdicts map omits the status column.
func printCodes(w io.Writer, list []codes.MedicalCode, verdicts map[string]codes.VerificationResult) {
	if len(list) == 0 {
		fmt.Fprintln(w, faint("(no codes)"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if verdicts != nil {
		fmt.Fprintln(tw, "CODE\tTYPE\tCONF\tSTATUS\tDESCRIPTION")
	} else {
		fmt.Fprintln(tw, "CODE\tTYPE\tCONF\tDESCRIPTION")
	}
	for _, c := range list {
		if verdicts != nil {
			r, ok := verdicts[c.Code]
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", bold(c.Code), c.Type, confidence(c), statusLabel(r, ok), c.Description)
		} else {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", bold(c.Code), c.Type, confidence(c), c.Description)
		}
	}
	tw.Flush()
}

func printVerification(w io.Writer, submitted []codes.MedicalCode, results []codes.VerificationResult) {
	idx := codes.IndexVerification(results)
	printCodes(w, submitted, idx)
	for _, c := range submitted {
		r, ok := idx[c.Code]
		if !ok {
			continue
		}
		for _, s := range r.Concerns {
			fmt.Fprintf(w, "  %s %s: %s\n", yellow("!"), c.Code, s)
		}
		for _, s := range r.Recommendations {
			fmt.Fprintf(w, "  %s %s: %s\n", cyan(">"), c.Code, s)
		}
	}
	s := codes.Summarize(submitted, results)
	fmt.Fprintf(w, "\n%s approved, %s warnings, %s rejected, %s unverified\n",
		green(s.Approved), yellow(s.Warning), red(s.Rejected), faint(s.Unverified))
}

func printPatient(w io.Writer, p *codes.PatientData) {
	if p == nil {
		fmt.Fprintln(w, faint("(no patient data extracted)"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintf(tw, "%s\t%s\n", cyan(label), oneLine(value))
		}
	}
	row("Name", p.Name)
	row("Patient ID", p.PatientID)
	row("DOB", p.DateOfBirth)
	row("Gender", p.Gender)
	row("Visit", strings.TrimSpace(p.VisitDate+" "+p.VisitType))
	row("Provider", p.Provider)
	row("Facility", p.Facility)
	row("Chief complaint", p.ChiefComplaint)
	row("Assessment", p.Assessment)
	row("Plan", p.Plan)
	tw.Flush()
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 100 {
		return s[:97] + "..."
	}
	return s
}
