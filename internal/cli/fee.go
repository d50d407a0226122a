package cli

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var estimateFeeCmd = &cobra.Command{
	Use:   "estimate-fee [gas_units]",
	Short: "Quote the settlement-asset fee for sponsoring gas_units of gas",
	Args:  cobra.ExactArgs(1),
	Run:   runEstimateFee,
}

func init() {
	rootCmd.AddCommand(estimateFeeCmd)
}

func runEstimateFee(cmd *cobra.Command, args []string) {
	gasUnits, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		slog.Error("Invalid gas units", "error", err)
		os.Exit(1)
	}

	cfg := setup()
	ctx := context.Background()
	app := newConductor(ctx, cfg)
	defer func() {
		_ = app.Stop(ctx)
	}()

	est, err := app.Settlement.EstimateFee(ctx, gasUnits)
	if err != nil {
		exitWithError("Failed to estimate fee", err)
	}
	writeJSON(os.Stdout, est)
}
