// Package main provides the trader CLI: a single pipeline run over the
// configured watchlist, and standalone reconciliation of past runs.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"cfd-trader/internal/broker"
	"cfd-trader/internal/broker/ig"
	"cfd-trader/internal/config"
	"cfd-trader/internal/guard"
	"cfd-trader/internal/ledger"
	"cfd-trader/internal/ledger/clickhouse"
	"cfd-trader/internal/ledger/csvfile"
	"cfd-trader/internal/ledger/memory"
	"cfd-trader/internal/ledger/postgres"
	"cfd-trader/internal/pipeline"
	"cfd-trader/internal/reconcile"
	"cfd-trader/internal/sentiment"
	"cfd-trader/internal/submit"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries flag values and the objects built from them into the
// subcommand handlers.
type app struct {
	configPath string
	credsPath  string
	verbose    bool

	log zerolog.Logger
	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "trader",
		Short:         "Risk-gated CFD signal and order pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := zerolog.InfoLevel
			if a.verbose {
				level = zerolog.DebugLevel
			}
			a.log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
				Level(level).
				With().Timestamp().Logger()

			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "config.yaml", "path to the YAML configuration")
	root.PersistentFlags().StringVar(&a.credsPath, "credentials", "credentials.env", "path to the broker credentials file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newReconcileCmd(a))
	return root
}

func newRunCmd(a *app) *cobra.Command {
	var (
		live       bool
		yes        bool
		noConfirm  bool
		summaryDir string
		stateDir   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate the watchlist once and submit (or dry-run) orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			creds, err := loadCredentials(a.credsPath)
			if err != nil {
				return err
			}
			if live && !yes {
				if err := confirmLive(cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
					return err
				}
			}

			client := ig.New(creds, ig.WithLogger(a.log))
			if err := client.Login(ctx); err != nil {
				return fmt.Errorf("broker login: %w", err)
			}

			store, closeStore, err := openLedger(ctx, a.cfg.Ledger)
			if err != nil {
				return err
			}
			defer closeStore()

			var oracle sentiment.Oracle
			if a.cfg.Sentiment.Enabled {
				oracle = sentiment.NewOpenAIClient(os.Getenv("OPENAI_API_KEY"),
					sentiment.WithModel(a.cfg.Sentiment.Model),
					sentiment.WithTimeout(time.Duration(a.cfg.Sentiment.TimeoutS)*time.Second),
				)
			}

			guards := guard.New(guard.Options{
				Config:    a.cfg.RiskGuards,
				Ledger:    store,
				Broker:    client,
				Baselines: guard.NewBaselineStore(stateDir),
				Logger:    a.log,
			})

			env := strings.ToUpper(creds.AccountType)
			if env != "LIVE" {
				env = "DEMO"
			}

			pipe := pipeline.New(pipeline.Options{
				Config:     a.cfg,
				Broker:     client,
				Ledger:     store,
				Guards:     guards,
				Submitter:  submit.New(client, live),
				Oracle:     oracle,
				Env:        env,
				Live:       live,
				SummaryDir: summaryDir,
				Logger:     a.log,
			})

			res, err := pipe.Run(ctx)
			if err != nil {
				return err
			}
			a.log.Info().
				Str("run_id", res.RunID).
				Int("instruments", len(res.Outcomes)).
				Int("trades", res.TradeCount).
				Msg("run finished")

			if noConfirm {
				return nil
			}
			return reconcileRun(ctx, a, store, client, env, live, res.RunID)
		},
	}

	cmd.Flags().BoolVar(&live, "live", false, "submit real orders instead of dry-running")
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the interactive live-trading confirmation")
	cmd.Flags().BoolVar(&noConfirm, "no-confirm", false, "skip the post-run confirmation pass")
	cmd.Flags().StringVar(&summaryDir, "summary-dir", "logs", "directory for the run summary file")
	cmd.Flags().StringVar(&stateDir, "state-dir", "state", "directory for daily balance baselines")
	return cmd
}

func newReconcileCmd(a *app) *cobra.Command {
	var (
		runID string
		live  bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Resolve a run's submitted orders against broker confirmations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			creds, err := loadCredentials(a.credsPath)
			if err != nil {
				return err
			}
			client := ig.New(creds, ig.WithLogger(a.log))
			if err := client.Login(ctx); err != nil {
				return fmt.Errorf("broker login: %w", err)
			}

			store, closeStore, err := openLedger(ctx, a.cfg.Ledger)
			if err != nil {
				return err
			}
			defer closeStore()

			env := strings.ToUpper(creds.AccountType)
			if env != "LIVE" {
				env = "DEMO"
			}
			return reconcileRun(ctx, a, store, client, env, live, runID)
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "run to reconcile; empty selects the latest run with submitted orders")
	cmd.Flags().BoolVar(&live, "live", false, "mark appended confirmation rows as live")
	return cmd
}

func reconcileRun(ctx context.Context, a *app, store ledger.Store, client broker.Client, env string, live bool, runID string) error {
	rec := reconcile.New(reconcile.Options{
		Ledger: store,
		Broker: client,
		Env:    env,
		Live:   live,
		Logger: a.log,
	})
	res, err := rec.Run(ctx, runID)
	if err != nil {
		return err
	}
	a.log.Info().
		Int("confirmed", res.Confirmed).
		Int("fallback", res.Fallback).
		Int("failed", res.Failed).
		Msg("reconciliation finished")
	return nil
}

// confirmLive requires the operator to type LIVE before real orders go out.
func confirmLive(in io.Reader, out io.Writer) error {
	fmt.Fprint(out, "Live trading submits real orders. Type LIVE to continue: ")
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "LIVE" {
		return errors.New("live trading not confirmed")
	}
	return nil
}

// openLedger builds the configured ledger backend and returns it with its
// cleanup function.
func openLedger(ctx context.Context, cfg config.LedgerConfig) (ledger.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendCSV:
		return csvfile.NewStore(cfg.Path), func() {}, nil
	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewStore(pool), pool.Close, nil
	case config.BackendClickHouse:
		conn, err := clickhouse.NewConn(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return clickhouse.NewStore(conn), func() { _ = conn.Close() }, nil
	case config.BackendMemory:
		return memory.NewStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}

// loadCredentials reads broker credentials from a key=value file, letting
// environment variables of the same name override file values.
func loadCredentials(path string) (ig.Credentials, error) {
	values := map[string]string{}

	data, err := os.ReadFile(path)
	if err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			values[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	} else if !os.IsNotExist(err) {
		return ig.Credentials{}, fmt.Errorf("read credentials file: %w", err)
	}

	get := func(key string) string {
		if env := os.Getenv(key); env != "" {
			return env
		}
		return values[key]
	}

	creds := ig.Credentials{
		AccountType: get("IG_ACC_TYPE"),
		APIKey:      get("IG_API_KEY"),
		Identifier:  get("IG_IDENTIFIER"),
		Password:    get("IG_PASSWORD"),
	}
	if creds.APIKey == "" || creds.Identifier == "" || creds.Password == "" {
		return ig.Credentials{}, fmt.Errorf("incomplete credentials: need IG_API_KEY, IG_IDENTIFIER and IG_PASSWORD (file %s or environment)", path)
	}
	if creds.AccountType == "" {
		creds.AccountType = "DEMO"
	}
	return creds, nil
}
