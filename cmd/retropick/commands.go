package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/retropick/internal/app"
	"github.com/alanyoungcy/retropick/internal/config"
	"github.com/alanyoungcy/retropick/internal/crypto"
	"github.com/alanyoungcy/retropick/internal/server/middleware"
	"github.com/alanyoungcy/retropick/internal/workflow"
)

// Environment variables the keys command reads its secrets from, so they
// never appear in the process list.
const (
	envPrivateKey  = "RETROPICK_CHAIN_PRIVATE_KEY"
	envKeyPassword = "RETROPICK_CHAIN_KEY_PASSWORD"
)

type rootOptions struct {
	configPath string
	mode       string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "retropick",
		Short:         "Prediction-market workflow replica",
		Long:          "retropick creates prediction markets from data feeds, settles them with an AI oracle and finalizes sessions on chain.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.toml", "path to configuration file")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newCreateMarketCommand(opts))
	cmd.AddCommand(newSettleCommand(opts))
	cmd.AddCommand(newFinalizeSessionsCommand(opts))
	cmd.AddCommand(newExportLedgerCommand(opts))
	cmd.AddCommand(newKeysCommand())
	return cmd
}

// loadApp loads and validates the configuration and builds the App. The
// default logger is rebuilt at the configured level.
func loadApp(opts *rootOptions) (*app.App, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.mode != "" {
		cfg.Mode = opts.mode
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return app.New(cfg, logger), nil
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the replica in the configured mode until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			slog.Info("retropick starting", slog.String("config", opts.configPath))
			err = a.Run(cmd.Context())
			slog.Info("retropick stopped")
			return err
		},
	}
	cmd.Flags().StringVar(&opts.mode, "mode", "", "override the configured mode (full|cron|watch|server)")
	return cmd
}

func newCreateMarketCommand(opts *rootOptions) *cobra.Command {
	var req workflow.CreateRequest
	cmd := &cobra.Command{
		Use:   "create-market",
		Short: "Create one market from a question",
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := json.Marshal(req)
			if err != nil {
				return err
			}
			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.CreateMarket(cmd.Context(), body)
			return printResult(cmd.OutOrStdout(), res, err)
		},
	}
	cmd.Flags().StringVar(&req.Question, "question", "", "market question")
	cmd.Flags().StringVar(&req.Category, "category", "", "market category (default custom)")
	cmd.Flags().Int64Var(&req.ResolveTime, "resolve-time", 0, "resolution time as a unix timestamp")
	cmd.Flags().StringVar(&req.Source, "source", "", "source URL recorded with the market")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}

func newSettleCommand(opts *rootOptions) *cobra.Command {
	var marketID, question string
	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Settle one market as if its settlement request had been observed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, ok := new(big.Int).SetString(marketID, 0)
			if !ok {
				return fmt.Errorf("invalid --market-id %q", marketID)
			}
			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.Settle(cmd.Context(), id, question)
			return printResult(cmd.OutOrStdout(), res, err)
		},
	}
	cmd.Flags().StringVar(&marketID, "market-id", "", "market id (decimal or 0x hex)")
	cmd.Flags().StringVar(&question, "question", "", "question the oracle answers")
	_ = cmd.MarkFlagRequired("market-id")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}

func newFinalizeSessionsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize-sessions",
		Short: "Submit one report for every configured session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.FinalizeSessions(cmd.Context())
			return printResult(cmd.OutOrStdout(), res, err)
		},
	}
}

func newExportLedgerCommand(opts *rootOptions) *cobra.Command {
	var since, until string
	cmd := &cobra.Command{
		Use:   "export-ledger",
		Short: "Export submission attempts to object storage as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, to, err := exportWindow(since, until, time.Now().UTC())
			if err != nil {
				return err
			}
			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			path, n, err := a.ExportLedger(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%d attempts)\n", path, n)
			return err
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "window start, RFC3339 (default 24h before --until)")
	cmd.Flags().StringVar(&until, "until", "", "window end, RFC3339 (default now)")
	return cmd
}

// exportWindow parses the RFC3339 bounds of an export. Empty bounds default
// to the 24 hours ending at now.
func exportWindow(since, until string, now time.Time) (time.Time, time.Time, error) {
	to := now
	if until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --until: %w", err)
		}
		to = t.UTC()
	}
	from := to.Add(-24 * time.Hour)
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --since: %w", err)
		}
		from = t.UTC()
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errors.New("--since must be before --until")
	}
	return from, to, nil
}

func newKeysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the workflow signing key",
	}

	var out string
	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Seal " + envPrivateKey + " under " + envKeyPassword + " into a key file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return encryptKey(cmd.OutOrStdout(), out, os.Getenv(envPrivateKey), os.Getenv(envKeyPassword))
		},
	}
	encrypt.Flags().StringVarP(&out, "out", "o", "key.json", "path of the sealed key file")
	cmd.AddCommand(encrypt)

	var bodyPath string
	sign := &cobra.Command{
		Use:   "sign-trigger",
		Short: "Print the X-Signature header for a trigger request body, signed with " + envPrivateKey,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var body []byte
			var err error
			if bodyPath == "-" {
				body, err = io.ReadAll(cmd.InOrStdin())
			} else {
				body, err = os.ReadFile(bodyPath)
			}
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}
			return signTrigger(cmd.OutOrStdout(), body, os.Getenv(envPrivateKey))
		},
	}
	sign.Flags().StringVar(&bodyPath, "body", "-", "file holding the exact request body, - for stdin")
	cmd.AddCommand(sign)
	return cmd
}

// signTrigger signs body byte for byte; the server verifies the raw body it
// receives.
func signTrigger(w io.Writer, body []byte, privateKey string) error {
	if privateKey == "" {
		return fmt.Errorf("%s is not set", envPrivateKey)
	}
	key, err := crypto.ParseKey(privateKey)
	if err != nil {
		return err
	}
	sig, err := crypto.NewReportSigner(key).SignTrigger(body)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s: %s\n", middleware.SignatureHeader, sig)
	return err
}

func encryptKey(w io.Writer, path, privateKey, password string) error {
	if privateKey == "" {
		return fmt.Errorf("%s is not set", envPrivateKey)
	}
	blob, err := crypto.SealKey(privateKey, password)
	if err != nil {
		return err
	}
	key, err := crypto.OpenKey(blob, password)
	if err != nil {
		return fmt.Errorf("verify sealed key: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	_, err = fmt.Fprintf(w, "sealed %s into %s\n", crypto.NewReportSigner(key).Address().Hex(), path)
	return err
}

// printResult writes a handler status. Statuses that report a failure are
// returned as errors so the process exits non-zero.
func printResult(w io.Writer, res string, err error) error {
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, res); err != nil {
		return err
	}
	if strings.HasPrefix(res, "Error:") || strings.HasPrefix(res, "Missing ") {
		return fmt.Errorf("workflow: %s", res)
	}
	return nil
}
