// Command recover-liquidity reports and withdraws the operator's liquidity
// position in a DAO's spot pool. It runs as a dry run unless --execute is
// given.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/ideapool/internal/config"
	"github.com/alanyoungcy/ideapool/internal/futarchy"
	"github.com/alanyoungcy/ideapool/internal/ledger"
	"github.com/alanyoungcy/ideapool/internal/recovery"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/spf13/cobra"
)

const defaultKeypair = "~/.config/solana/id.json"

type options struct {
	dao       string
	rpcURL    string
	keypair   string
	programID string
	scan      bool
	execute   bool
	verbose   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "recover-liquidity --dao <address>",
		Short: "Report or withdraw the signer's liquidity from a DAO spot pool",
		Long: `Reports the signer's liquidity position in a DAO's spot pool and, with
--scan, every position recorded for the DAO. With --execute the full
position is withdrawn to the signer's token accounts, creating them
when missing, and the balance changes are printed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.dao, "dao", "", "DAO address (required)")
	f.StringVar(&opts.dao, "pool", "", "alias for --dao")
	f.StringVar(&opts.rpcURL, "rpc", envOr("SOLANA_RPC_URL", config.Defaults().Network.Endpoint()), "RPC endpoint")
	f.StringVar(&opts.keypair, "keypair", envOr("RECOVER_KEYPAIR_PATH", defaultKeypair), "signer keypair file")
	f.StringVar(&opts.programID, "program-id", os.Getenv("FUTARCHY_PROGRAM_ID"), "futarchy program id")
	f.BoolVar(&opts.scan, "scan", false, "list every liquidity position for the DAO")
	f.BoolVar(&opts.execute, "execute", false, "withdraw the signer's full position")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log RPC activity to stderr")
	return cmd
}

func run(ctx context.Context, out io.Writer, opts options) error {
	if opts.dao == "" {
		return fmt.Errorf("--dao is required")
	}
	dao, err := solana.PublicKeyFromBase58(opts.dao)
	if err != nil {
		return fmt.Errorf("invalid dao address %q: %w", opts.dao, err)
	}
	key, err := ledger.LoadKeypairFile(opts.keypair)
	if err != nil {
		return err
	}
	programs, err := futarchy.ParsePrograms(opts.programID, "", "")
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	chain := ledger.NewClient(rpc.New(opts.rpcURL), ledger.NewKeypairWallet(key), ledger.Options{
		Commitment:  rpc.CommitmentConfirmed,
		ExplorerURL: config.Defaults().Network.ExplorerURL,
	}, logger)
	tool := recovery.New(chain, futarchy.NewClient(programs, chain), logger)

	fmt.Fprintf(out, "RPC:          %s\n", opts.rpcURL)
	fmt.Fprintf(out, "Program:      %s\n", programs.Futarchy)

	report, err := tool.Inspect(ctx, dao, opts.scan)
	if err != nil {
		return err
	}
	recovery.WriteReport(out, report)

	if !opts.execute {
		fmt.Fprintln(out, "\nDry run complete. Pass --execute to withdraw.")
		return nil
	}

	fmt.Fprintln(out)
	res, err := tool.Withdraw(ctx, dao)
	if err != nil {
		return err
	}
	recovery.WriteWithdrawal(out, res)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
