package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyeh/chartcoder/internal/auth"
)

func newLoginCmd(a *app) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save a bearer token for later commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			token = strings.TrimSpace(token)
			if token == "" {
				return fmt.Errorf("no token given")
			}
			info, err := auth.Inspect(token)
			if err != nil {
				return err
			}
			if err := auth.SaveToken(a.cfg.API.TokenFile, token); err != nil {
				return fmt.Errorf("saving token: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s token saved to %s\n", green("✓"), a.cfg.API.TokenFile)
			if info.Expired(time.Now()) {
				fmt.Fprintf(out, "%s token expired at %s\n", yellow("Warning:"), info.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Bearer token to save")
	cmd.MarkFlagRequired("token")

	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := auth.ClearToken(a.cfg.API.TokenFile); err != nil {
				return fmt.Errorf("clearing token: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s logged out\n", green("✓"))
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the claims of the bearer token in use",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := a.tokens().Token()
			if err != nil {
				return err
			}
			if token == "" {
				return fmt.Errorf("not logged in")
			}
			info, err := auth.Inspect(token)
			if err != nil {
				return err
			}

			return a.emit(cmd.OutOrStdout(), info, func() {
				out := cmd.OutOrStdout()
				if !info.JWT {
					fmt.Fprintln(out, "opaque token (no readable claims)")
					return
				}
				if info.Subject != "" {
					fmt.Fprintf(out, "%s %s\n", cyan("Subject:"), info.Subject)
				}
				if info.UserID != "" {
					fmt.Fprintf(out, "%s %s\n", cyan("User ID:"), info.UserID)
				}
				if !info.ExpiresAt.IsZero() {
					exp := info.ExpiresAt.Format(time.RFC3339)
					if info.Expired(time.Now()) {
						exp = red(exp + " (expired)")
					}
					fmt.Fprintf(out, "%s %s\n", cyan("Expires:"), exp)
				}
			})
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show backend status and model information",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.client.SystemStatus(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), st, func() {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s %s\n", cyan("Backend:"), a.client.BaseURL())
				fmt.Fprintf(out, "%s %s\n", cyan("Status:"), st.Status)
				if st.Version != "" {
					fmt.Fprintf(out, "%s %s\n", cyan("Version:"), st.Version)
				}
				if st.Model != "" {
					loaded := red("not loaded")
					if st.ModelLoaded {
						loaded = green("loaded")
					}
					fmt.Fprintf(out, "%s %s (%s)\n", cyan("Model:"), st.Model, loaded)
				}
				if st.ActiveSession > 0 {
					fmt.Fprintf(out, "%s %d\n", cyan("Active sessions:"), st.ActiveSession)
				}
			})
		},
	}
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe backend liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.client.Health(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), h, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green("✓"), h.Status)
			})
		},
	}
}

func newPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Run the backend connectivity test",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client.Ping(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newSessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create or inspect coding sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create a new session",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.client.CreateSession(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), s, func() {
				fmt.Fprintln(cmd.OutOrStdout(), s.SessionID)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get SESSION_ID",
		Short: "Show a session's document, codes and verification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := a.client.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), data, func() {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s %s  %s %s  %s %t\n",
					cyan("Session:"), data.SessionID,
					cyan("Created:"), data.CreatedAt,
					cyan("Document:"), data.DocumentProcessed)
				fmt.Fprintln(out)
				printPatient(out, data.PatientData)
				fmt.Fprintf(out, "\n%s\n", bold("Selected codes"))
				printVerification(out, data.SelectedCodes, data.VerificationResults)
			})
		},
	})

	return cmd
}
