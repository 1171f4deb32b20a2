package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gyeh/chartcoder/internal/cloud"
	"github.com/gyeh/chartcoder/internal/codes"
	"github.com/gyeh/chartcoder/internal/export"
	"github.com/gyeh/chartcoder/internal/kb"
	"github.com/gyeh/chartcoder/internal/workflow"
	"github.com/gyeh/chartcoder/internal/worker"
)

const sessionEnv = "CHARTCODER_SESSION"

// sessionFlag registers --session, defaulting to $CHARTCODER_SESSION.
func sessionFlag(cmd *cobra.Command, sid *string) {
	cmd.Flags().StringVarP(sid, "session", "s", os.Getenv(sessionEnv), "Session ID (default: $"+sessionEnv+")")
}

func requireSession(sid string) (string, error) {
	sid = strings.TrimSpace(sid)
	if sid == "" {
		return "", workflow.ErrNoSession
	}
	return sid, nil
}

// workspace builds a workspace that logs through the CLI logger.
func (a *app) workspace(archiver export.Archiver) *workflow.Workspace {
	return workflow.New(a.client, workflow.Options{Logger: a.log, Archiver: archiver})
}

func newUploadCmd(a *app) *cobra.Command {
	var (
		sid        string
		useStdGzip bool
	)

	cmd := &cobra.Command{
		Use:   "upload FILE|URL",
		Short: "Upload a chart document (.pdf, .txt, .doc, .docx, .rtf, optionally .gz)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := worker.NewDocument(args[0])
			r, _, err := doc.Open(cmd.Context(), useStdGzip, nil)
			if err != nil {
				return err
			}
			defer r.Close()

			res, err := a.client.UploadDocument(cmd.Context(), doc.Name, r, strings.TrimSpace(sid), nil)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), res, func() {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s processed %s (%d characters)\n", green("✓"), doc.Name, res.TextLength)
				fmt.Fprintf(out, "%s %s\n\n", cyan("Session:"), res.SessionID)
				printPatient(out, res.PatientData)
			})
		},
	}

	sessionFlag(cmd, &sid)
	cmd.Flags().BoolVar(&useStdGzip, "std-gzip", false, "Use the standard library gzip decoder instead of pgzip")

	return cmd
}

func newProcessTextCmd(a *app) *cobra.Command {
	var (
		sid  string
		file string
	)

	cmd := &cobra.Command{
		Use:   "process-text [TEXT...]",
		Short: "Submit pasted chart text (from args, --file, or stdin with --file -)",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd.InOrStdin(), file, args)
			if err != nil {
				return err
			}
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("no text given")
			}

			res, err := a.client.ProcessText(cmd.Context(), text, strings.TrimSpace(sid))
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), res, func() {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s processed text (%d characters)\n", green("✓"), res.TextLength)
				fmt.Fprintf(out, "%s %s\n\n", cyan("Session:"), res.SessionID)
				printPatient(out, res.PatientData)
			})
		},
	}

	sessionFlag(cmd, &sid)
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read text from a file ('-' for stdin)")

	return cmd
}

func readText(stdin io.Reader, file string, args []string) (string, error) {
	switch file {
	case "":
		return strings.Join(args, " "), nil
	case "-":
		b, err := io.ReadAll(stdin)
		return string(b), err
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", file, err)
	}
	return string(b), nil
}

// analysisFlags registers the code-set toggles shared by analyze, code and batch.
func analysisFlags(cmd *cobra.Command, opts *codes.AnalysisOptions) {
	*opts = codes.DefaultAnalysisOptions()
	cmd.Flags().BoolVar(&opts.IncludeICD10, "icd10", opts.IncludeICD10, "Suggest ICD-10 codes")
	cmd.Flags().BoolVar(&opts.IncludeCPT, "cpt", opts.IncludeCPT, "Suggest CPT codes")
	cmd.Flags().BoolVar(&opts.IncludeHCPCS, "hcpcs", opts.IncludeHCPCS, "Suggest HCPCS codes")
	cmd.Flags().Float64Var(&opts.ConfidenceThreshold, "threshold", opts.ConfidenceThreshold, "Confidence threshold sent to the analyzer")
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		sid     string
		opts    codes.AnalysisOptions
		showAll bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run AI code suggestion on the session's document",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireSession(sid)
			if err != nil {
				return err
			}
			res, err := a.client.RunAnalysis(cmd.Context(), id, opts)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), res, func() {
				out := cmd.OutOrStdout()
				shown := res.SuggestedCodes
				if !showAll {
					shown = codes.FilterByConfidence(res.SuggestedCodes, codes.SuggestionThreshold)
				}
				printCodes(out, shown, nil)
				fmt.Fprintf(out, "\n%d suggested, %d shown", len(res.SuggestedCodes), len(shown))
				if !showAll {
					fmt.Fprintf(out, " (confidence >= %.0f%%, --all for everything)", codes.SuggestionThreshold*100)
				}
				fmt.Fprintln(out)
			})
		},
	}

	sessionFlag(cmd, &sid)
	analysisFlags(cmd, &opts)
	cmd.Flags().BoolVar(&showAll, "all", false, "Show suggestions below the display threshold")

	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	var codeType string

	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Search the code knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ct, err := codes.ParseFilterType(codeType)
			if err != nil {
				return err
			}
			res, err := a.client.SearchCodes(cmd.Context(), strings.Join(args, " "), ct)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), res, func() {
				printCodes(cmd.OutOrStdout(), res.Results, nil)
			})
		},
	}

	cmd.Flags().StringVarP(&codeType, "type", "t", "all", "Code type: ICD-10, CPT, HCPCS or all")

	return cmd
}

func (a *app) browser() *kb.Browser {
	return kb.NewBrowser(a.client, a.cfg.KB.CacheTTL, a.log)
}

func newFilterCmd(a *app) *cobra.Command {
	var (
		codeType string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "filter [QUERY...]",
		Short: "Browse the full knowledge base",
		RunE: func(cmd *cobra.Command, args []string) error {
			ct, err := codes.ParseFilterType(codeType)
			if err != nil {
				return err
			}
			res, err := a.browser().Filter(cmd.Context(), strings.Join(args, " "), ct, limit)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), res, func() {
				out := cmd.OutOrStdout()
				printCodes(out, res.Results, nil)
				fmt.Fprintf(out, "\n%d of %d codes\n", res.TotalResults, res.TotalAvailable)
			})
		},
	}

	cmd.Flags().StringVarP(&codeType, "type", "t", "all", "Code type: ICD-10, CPT, HCPCS or all")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to return")

	return cmd
}

func newKBStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "kb-stats",
		Short: "Show knowledge base size",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.browser().Stats(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), st, func() {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s %d\n", cyan("Total codes:"), st.TotalCodes)
				for t, n := range st.ByType {
					fmt.Fprintf(out, "  %-8s %d\n", t, n)
				}
				if st.LastUpdate != "" {
					fmt.Fprintf(out, "%s %s\n", cyan("Updated:"), st.LastUpdate)
				}
			})
		},
	}
}

func newSelectCmd(a *app) *cobra.Command {
	var (
		sid         string
		description string
		codeType    string
		conf        float64
		source      string
	)

	cmd := &cobra.Command{
		Use:   "select CODE",
		Short: "Add a suggested or searched code to the session's selection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireSession(sid)
			if err != nil {
				return err
			}
			var confPtr *float64
			if cmd.Flags().Changed("confidence") {
				confPtr = codes.Float(conf)
			}
			code, err := codes.ParseCode(args[0], description, codeType, confPtr, source)
			if err != nil {
				return err
			}

			sel, err := a.client.SelectCode(cmd.Context(), id, code)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), sel, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s selected %s\n", green("✓"), sel.Code)
			})
		},
	}

	sessionFlag(cmd, &sid)
	cmd.Flags().StringVarP(&description, "description", "d", "", "Code description")
	cmd.Flags().StringVarP(&codeType, "type", "t", "", "Code type: ICD-10, CPT or HCPCS")
	cmd.Flags().Float64Var(&conf, "confidence", codes.DefaultSelectConfidence, "Confidence between 0 and 1")
	cmd.Flags().StringVar(&source, "source", "", "Where the code came from (default: its type)")
	cmd.MarkFlagRequired("description")
	cmd.MarkFlagRequired("type")

	return cmd
}

func newManualAddCmd(a *app) *cobra.Command {
	var (
		sid      string
		codeType string
	)

	cmd := &cobra.Command{
		Use:   "manual-add CODE DESCRIPTION...",
		Short: "Add a hand-entered code to the session's selection",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireSession(sid)
			if err != nil {
				return err
			}
			description := strings.Join(args[1:], " ")
			if _, err := codes.ManualCode(args[0], description, codeType, 0); err != nil {
				return err
			}

			mc, err := a.client.AddManualCode(cmd.Context(), id, args[0], description,
				codes.CodeType(codeType), codes.DefaultManualConfidence)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), mc, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s added %s\n", green("✓"), mc.Code)
			})
		},
	}

	sessionFlag(cmd, &sid)
	cmd.Flags().StringVarP(&codeType, "type", "t", "", "Code type: ICD-10, CPT or HCPCS")
	cmd.MarkFlagRequired("type")

	return cmd
}

func newSelectedCmd(a *app) *cobra.Command {
	var sid string

	cmd := &cobra.Command{
		Use:   "selected",
		Short: "List the session's selected codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireSession(sid)
			if err != nil {
				return err
			}
			list, err := a.client.SelectedCodes(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), list, func() {
				printCodes(cmd.OutOrStdout(), list, nil)
			})
		},
	}

	sessionFlag(cmd, &sid)

	return cmd
}

func newRemoveCmd(a *app) *cobra.Command {
	var sid string

	cmd := &cobra.Command{
		Use:   "remove CODE",
		Short: "Remove a code from the session's selection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireSession(sid)
			if err != nil {
				return err
			}
			if err := a.client.RemoveSelectedCode(cmd.Context(), id, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s removed %s\n", green("✓"), args[0])
			return nil
		},
	}

	sessionFlag(cmd, &sid)

	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	var sid string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the session's whole selection",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireSession(sid)
			if err != nil {
				return err
			}
			ws := a.workspace(nil)
			if _, err := ws.LoadSession(cmd.Context(), id); err != nil {
				return err
			}
			if _, err := ws.ResyncSelected(cmd.Context()); err != nil {
				return err
			}
			results, err := ws.Verify(cmd.Context())
			if err != nil {
				return err
			}

			snap := ws.Snapshot()
			return a.emit(cmd.OutOrStdout(), results, func() {
				printVerification(cmd.OutOrStdout(), snap.SelectedCodes, snap.VerificationResults)
			})
		},
	}

	sessionFlag(cmd, &sid)

	return cmd
}

func newVerificationCmd(a *app) *cobra.Command {
	var sid string

	cmd := &cobra.Command{
		Use:   "verification",
		Short: "Show the session's last verification results",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireSession(sid)
			if err != nil {
				return err
			}
			res, err := a.client.Verification(cmd.Context(), id)
			if err != nil {
				return err
			}
			selected, err := a.client.SelectedCodes(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), res, func() {
				printVerification(cmd.OutOrStdout(), selected, res.VerificationResults)
			})
		},
	}

	sessionFlag(cmd, &sid)

	return cmd
}

// archiver returns the S3 archiver when EXPORT_S3_BUCKET is set.
func (a *app) archiver(cmd *cobra.Command) (*cloud.S3Client, error) {
	ec := a.cfg.Export
	if ec.S3Bucket == "" {
		return nil, nil
	}
	return cloud.NewS3Client(cmd.Context(), ec.S3Bucket, ec.S3Prefix, ec.Region)
}

func newExportCmd(a *app) *cobra.Command {
	var (
		sid    string
		dir    string
		stdout bool
	)

	cmd := &cobra.Command{
		Use:   "export csv|excel",
		Short: "Download the session's codes as CSV or Excel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := export.ParseFormat(args[0])
			if err != nil {
				return err
			}
			id, err := requireSession(sid)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = a.cfg.Export.Dir
			}

			var (
				s3c  *cloud.S3Client
				arch export.Archiver
			)
			if !stdout {
				if s3c, err = a.archiver(cmd); err != nil {
					return err
				}
				if s3c != nil {
					arch = s3c
				}
			}

			ws := a.workspace(arch)
			if _, err := ws.LoadSession(cmd.Context(), id); err != nil {
				return err
			}

			if stdout {
				_, _, err := ws.ExportTo(cmd.Context(), format, cmd.OutOrStdout())
				return err
			}
			path, err := ws.Export(cmd.Context(), format, dir)
			if err != nil {
				if path != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", green("✓"), path)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", green("✓"), path)
			if s3c != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s archived to s3://%s/%s\n", green("✓"),
					a.cfg.Export.S3Bucket, s3c.Key(filepath.Base(path)))
			}
			return nil
		},
	}

	sessionFlag(cmd, &sid)
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Directory to write into (default: $EXPORT_DIR or .)")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "Write the file to stdout instead of a directory")

	return cmd
}
