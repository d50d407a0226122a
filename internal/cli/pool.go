package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/conductor/internal/core/consistency"
	"github.com/vietddude/conductor/internal/core/domain"
)

var checkPoolOperation string

var checkPoolCmd = &cobra.Command{
	Use:   "check-pool [pool_id]",
	Short: "Cross-check a pool's metadata, reserves and analytics",
	Long: `Cross-check a pool's metadata, reserves and analytics.
With --operation, also report whether that operation may target the pool.`,
	Args: cobra.ExactArgs(1),
	Run:  runCheckPool,
}

func init() {
	checkPoolCmd.Flags().StringVar(&checkPoolOperation, "operation", "", "swap, add-liquidity or remove-liquidity")
	rootCmd.AddCommand(checkPoolCmd)
}

type checkPoolOutput struct {
	Snapshot  domain.PoolConsistencySnapshot `json:"snapshot"`
	Operation *consistency.ValidationResult  `json:"operation,omitempty"`
}

func runCheckPool(cmd *cobra.Command, args []string) {
	cfg := setup()
	ctx := context.Background()
	app := newConductor(ctx, cfg)
	defer func() {
		_ = app.Stop(ctx)
	}()

	out := checkPoolOutput{Snapshot: app.Validator.EnsureConsistency(ctx, args[0])}
	if checkPoolOperation != "" {
		req := consistency.OperationRequest{Operation: domain.Kind(checkPoolOperation)}
		if id, err := domain.ParsePoolID(args[0]); err == nil {
			req.AssetA, req.AssetB = id.AssetA, id.AssetB
		}
		res := app.Validator.ValidateOperation(ctx, req)
		out.Operation = &res
	}

	writeJSON(os.Stdout, out)
	if !out.Snapshot.Consistent || (out.Operation != nil && !out.Operation.Valid) {
		os.Exit(2)
	}
}
