// Package cli is the finctl command line: tax previews, rate publishing,
// reconciliation and reports against the finance database.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"crm-finance/internal/app"
	"crm-finance/internal/config"
	"crm-finance/internal/logger"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// env is the state shared by every subcommand of one invocation.
type env struct {
	cfg *config.Config
	log zerolog.Logger
	rt  *app.Runtime
}

// runtime connects on first use so offline commands never touch the database.
func (e *env) runtime(ctx context.Context) (*app.Runtime, error) {
	if e.rt != nil {
		return e.rt, nil
	}
	rt, err := app.Bootstrap(ctx, e.cfg, e.log)
	if err != nil {
		return nil, err
	}
	e.rt = rt
	return rt, nil
}

func (e *env) service(cmd *cobra.Command) (app.ApplicationService, error) {
	rt, err := e.runtime(cmd.Context())
	if err != nil {
		return nil, err
	}
	return rt.Service, nil
}

// NewRootCommand builds the finctl command tree.
func NewRootCommand() *cobra.Command {
	e := &env{}

	root := &cobra.Command{
		Use:   "finctl",
		Short: "Finance engine CLI: GST/TCS, exchange rates, reconciliation and reports",
		Long: `finctl drives the CRM finance engine from the command line.

Configuration is read from the environment (and .env when present):
  DATABASE_URL          Postgres connection string (required)
  SELLER_STATE          Seller's registered GST state (default Haryana)
  SETTLEMENT_TOLERANCE  Overpayment accepted as full settlement (default 1.00)
  REDIS_ADDR            Shared reference-rate cache (optional)`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			lc := cfg.GetLoggerConfig()
			// Keep stdout for command output.
			if lc.Output == "" || lc.Output == "stdout" {
				lc.Output = "stderr"
			}
			log, err := logger.Setup(lc)
			if err != nil {
				return err
			}
			e.cfg = cfg
			e.log = log.With().Str("component", "finctl").Logger()
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e.rt != nil {
				e.rt.Close()
			}
		},
	}

	root.AddCommand(
		newTaxCommand(e),
		newRatesCommand(e),
		newOrderCommand(e),
		newInvoiceCommand(e),
		newPaymentCommand(e),
		newOpenItemCommand(e, "receivables"),
		newOpenItemCommand(e, "payables"),
		newReconcileCommand(e),
		newSummaryCommand(e),
		newMigrateCommand(e),
		newSeedCommand(e),
	)
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		log := logger.WithComponent("finctl")
		log.Debug().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
