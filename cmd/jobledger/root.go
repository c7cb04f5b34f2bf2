package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/petrijr/jobledger"
	"github.com/petrijr/jobledger/internal/config"
	"github.com/petrijr/jobledger/internal/logging"
)

// errReported is returned after a failed result has been printed, so that
// the process exits non-zero without cobra printing the error again.
var errReported = errors.New("reported")

// app holds the state shared by every subcommand for one invocation.
type app struct {
	configFile string
	envFile    string

	cfg    *config.Config
	logger *slog.Logger
	ledger *jobledger.Ledger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "jobledger",
		Short:         "Record job step callbacks and workflow tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "YAML config file (default: ./jobledger.yaml or ./config/jobledger.yaml if present)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "dev.env", "dotenv file loaded before reading JOBLEDGER_* variables")

	root.AddCommand(
		newJobCmd(a),
		newStepCmd(a),
		newArtifactCmd(a),
		newFlowCmd(a),
		newTaskCmd(a),
	)
	return root
}

func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.Load(config.Options{ConfigFile: a.configFile, EnvFile: a.envFile})
	if err != nil {
		return a.fail(cmd, err)
	}
	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return a.fail(cmd, err)
	}
	ledger, err := jobledger.Open(cmd.Context(), cfg,
		jobledger.WithLogger(logger),
		jobledger.WithObserver(jobledger.NewLoggingObserver(logger)),
	)
	if err != nil {
		return a.fail(cmd, err)
	}
	logger.Debug("ledger opened",
		slog.String("backend", cfg.Store.Backend),
		slog.String("jobs_root", cfg.Jobs.Root),
	)
	a.cfg, a.logger, a.ledger = cfg, logger, ledger
	return nil
}

func (a *app) close() error {
	if a.ledger == nil {
		return nil
	}
	err := a.ledger.Close()
	a.ledger = nil
	return err
}

// fail prints err as a failed result.
func (a *app) fail(cmd *cobra.Command, err error) error {
	_ = writeResult(cmd.OutOrStdout(), jobledger.NewResult(nil, err))
	return errReported
}

// respond prints the outcome of an operation. A failed operation also
// closes the ledger, since cobra skips the post-run hook on error.
func (a *app) respond(cmd *cobra.Command, data any, err error) error {
	if werr := writeResult(cmd.OutOrStdout(), jobledger.NewResult(data, err)); werr != nil {
		return werr
	}
	if err != nil {
		_ = a.close()
		return errReported
	}
	return nil
}

func writeResult(w io.Writer, r jobledger.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// jsonFlag validates an optional JSON document passed on the command line.
func jsonFlag(name, value string) (json.RawMessage, error) {
	if value == "" {
		return nil, nil
	}
	if !json.Valid([]byte(value)) {
		return nil, fmt.Errorf("%w: --%s is not valid JSON", jobledger.ErrInvalidRequest, name)
	}
	return json.RawMessage(value), nil
}
