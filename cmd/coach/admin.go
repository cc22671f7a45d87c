package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"writingcoach/pkg/config"
	"writingcoach/pkg/metrics"
	"writingcoach/pkg/persistence"
)

func transcriptCmd(opts *rootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "transcript [SESSION_ID]",
		Short: "Show recorded model exchanges, or list sessions when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(opts)
			if err != nil {
				return err
			}
			db, err := persistence.Open(cfg.Storage.DBPath)
			if err != nil {
				return fmt.Errorf("failed to open transcript store: %w", err)
			}
			defer db.Close()
			store := persistence.NewExchangeStore(db)

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				summaries, err := store.ListSessions(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, summaries)
				}
				return printSessions(out, summaries)
			}

			exchanges, err := store.ListExchanges(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, exchanges)
			}
			printExchanges(out, exchanges)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show only the most recent N exchanges")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func printSessions(out io.Writer, summaries []persistence.SessionSummary) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tEXCHANGES\tLAST")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", s.SessionID, s.Exchanges, s.LastAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func printExchanges(out io.Writer, exchanges []persistence.Exchange) {
	for i := range exchanges {
		ex := &exchanges[i]
		fmt.Fprintf(out, "--- %s  %s  %s  (%s, %d+%d tokens)\n",
			ex.CreatedAt.Local().Format(time.DateTime), ex.Kind, ex.Model,
			ex.Duration.Round(time.Millisecond), ex.InputTokens, ex.OutputTokens)
		fmt.Fprintf(out, "%s\n\n", ex.UserPrompt)
		if ex.Error != "" {
			fmt.Fprintf(out, "ERROR: %s\n\n", ex.Error)
			continue
		}
		fmt.Fprintf(out, "=> %s\n\n", ex.Response)
	}
}

func usageCmd(opts *rootOptions) *cobra.Command {
	var (
		prometheusURL string
		byKind        bool
	)

	cmd := &cobra.Command{
		Use:   "usage SESSION_ID",
		Short: "Report a session's token usage and cost from Prometheus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(opts)
			if err != nil {
				return err
			}
			if prometheusURL == "" {
				prometheusURL = cfg.Metrics.PrometheusURL
			}
			q, err := metrics.NewQueryService(prometheusURL)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if byKind {
				usage, err := q.GetSessionUsageByKind(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printUsage(out, usage...)
			}
			usage, err := q.GetSessionUsage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printUsage(out, usage)
		},
	}
	cmd.Flags().StringVar(&prometheusURL, "prometheus", "", "Prometheus URL (overrides metrics.prometheus_url)")
	cmd.Flags().BoolVar(&byKind, "by-kind", false, "Break usage down by call kind")
	return cmd
}

func printUsage(out io.Writer, usage ...*metrics.Usage) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tKIND\tREQUESTS\tPROMPT\tCOMPLETION\tTOTAL\tCOST (USD)")
	for _, u := range usage {
		kind := u.Kind
		if kind == "" {
			kind = "all"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%.4f\n",
			u.SessionID, kind, u.Requests, u.PromptTokens, u.CompletionTokens, u.TotalTokens, u.TotalCost)
	}
	return tw.Flush()
}

func secretsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the encrypted secrets file (API keys, Ollama host)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set NAME VALUE",
		Short: "Store a secret, creating the secrets file if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			exists := config.SecretsFileExists(opts.secretsDir)
			password, err := readPassword(!exists)
			if err != nil {
				return err
			}
			if exists {
				secrets, err := config.DecryptSecretsFile(opts.secretsDir, password)
				if err != nil {
					return fmt.Errorf("failed to unlock secrets: %w", err)
				}
				config.SetDecryptedSecrets(secrets)
			}
			if err := config.SetSecret(args[0], args[1]); err != nil {
				return err
			}
			if err := config.SaveSecretsToFile(opts.secretsDir, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s to %s\n", args[0], config.SecretsPath(opts.secretsDir))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete NAME",
		Short: "Remove a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !config.SecretsFileExists(opts.secretsDir) {
				return fmt.Errorf("no secrets file in %s", opts.secretsDir)
			}
			password, err := readPassword(false)
			if err != nil {
				return err
			}
			secrets, err := config.DecryptSecretsFile(opts.secretsDir, password)
			if err != nil {
				return fmt.Errorf("failed to unlock secrets: %w", err)
			}
			config.SetDecryptedSecrets(secrets)
			if !config.DeleteSecret(args[0]) {
				return fmt.Errorf("secret %s not found", args[0])
			}
			if err := config.SaveSecretsToFile(opts.secretsDir, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the names of stored secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !config.SecretsFileExists(opts.secretsDir) {
				fmt.Fprintln(cmd.OutOrStdout(), "No secrets file.")
				return nil
			}
			password, err := readPassword(false)
			if err != nil {
				return err
			}
			secrets, err := config.DecryptSecretsFile(opts.secretsDir, password)
			if err != nil {
				return fmt.Errorf("failed to unlock secrets: %w", err)
			}
			config.SetDecryptedSecrets(secrets)

			for _, name := range config.GetDecryptedSecretNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	})
	return cmd
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
