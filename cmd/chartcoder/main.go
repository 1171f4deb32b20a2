package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gyeh/chartcoder/internal/api"
	"github.com/gyeh/chartcoder/internal/auth"
	"github.com/gyeh/chartcoder/internal/config"
	"github.com/gyeh/chartcoder/internal/pkg/logger"
	"github.com/gyeh/chartcoder/internal/tracer"
)

const serviceName = "chartcoder"

// app is the state shared by every subcommand, built once flags are parsed.
type app struct {
	cfg    *config.Config
	log    logger.ILogger
	client *api.Client

	apiURL   string
	token    string
	verbose  bool
	jsonOut  bool
	shutdown func(context.Context) error
}

func main() {
	ctx, cancel := signalContext()
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "chartcoder",
		Short:         "Code medical charts against the ICD-10, CPT and HCPCS coding backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close(cmd.Context())
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.apiURL, "api-url", "", "Coding backend URL (default: $CHARTCODER_API_URL or http://localhost:8000)")
	pf.StringVar(&a.token, "token", "", "Bearer token (default: $CHARTCODER_ACCESS_TOKEN, then the saved login)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Log requests to stderr")
	pf.BoolVar(&a.jsonOut, "json", false, "Print raw JSON instead of formatted output")

	rootCmd.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newStatusCmd(a),
		newHealthCmd(a),
		newPingCmd(a),
		newSessionCmd(a),
		newUploadCmd(a),
		newProcessTextCmd(a),
		newAnalyzeCmd(a),
		newSearchCmd(a),
		newFilterCmd(a),
		newKBStatsCmd(a),
		newSelectCmd(a),
		newManualAddCmd(a),
		newSelectedCmd(a),
		newRemoveCmd(a),
		newVerifyCmd(a),
		newVerificationCmd(a),
		newExportCmd(a),
		newCodeCmd(a),
		newBatchCmd(a),
		newServeCmd(a),
	)

	return rootCmd
}

func (a *app) init() error {
	a.cfg = config.Load()
	if a.apiURL != "" {
		a.cfg.API.BaseURL = a.apiURL
	}

	a.log = logger.NewZapLogger(a.cfg.App.LogFilePath, a.cfg.IsProduction(), a.verbose)
	a.shutdown = tracer.InitTracer(serviceName, a.log)

	a.client = api.New(api.Config{
		BaseURL:    a.cfg.API.BaseURL,
		Tokens:     a.tokens(),
		Timeout:    a.cfg.API.Timeout,
		GetRetries: a.cfg.API.GetRetries,
		Logger:     a.log,
	})
	return nil
}

func (a *app) close(ctx context.Context) error {
	if a.log != nil {
		a.log.Sync()
	}
	if a.shutdown != nil {
		return a.shutdown(context.WithoutCancel(ctx))
	}
	return nil
}

// tokens resolves the bearer token per request: flag, then env, then the
// saved login file.
func (a *app) tokens() auth.TokenSource {
	return auth.Chain{
		auth.StaticToken(a.token),
		auth.EnvToken("CHARTCODER_ACCESS_TOKEN"),
		auth.FileToken(a.cfg.API.TokenFile),
	}
}
