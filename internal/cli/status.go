package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/conductor/internal/core/domain"
)

var (
	statusAddress string
	statusLimit   int
	statusOffset  int
)

var statusCmd = &cobra.Command{
	Use:   "status [transaction_id]",
	Short: "Show recorded transactions by id or participant address",
	Args:  cobra.MaximumNArgs(1),
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddress, "address", "", "list transactions of this participant")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "page size")
	statusCmd.Flags().IntVar(&statusOffset, "offset", 0, "page offset")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := setup()
	ctx := context.Background()
	app := newConductor(ctx, cfg)
	defer func() {
		_ = app.Stop(ctx)
	}()

	var (
		txs     []*domain.Transaction
		hasMore bool
	)
	switch {
	case len(args) == 1:
		tx, err := app.Monitor.Get(ctx, args[0])
		if err != nil {
			exitWithError("Failed to get transaction", err)
		}
		txs = []*domain.Transaction{tx}
	case statusAddress != "":
		page, err := app.Monitor.GetByAddress(ctx, statusAddress, statusLimit, statusOffset)
		if err != nil {
			exitWithError("Failed to list transactions", err)
		}
		txs, hasMore = page.Transactions, page.HasMore
	default:
		all, err := app.Monitor.GetAll(ctx)
		if err != nil {
			exitWithError("Failed to list transactions", err)
		}
		txs = all
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tSTATUS\tSTEP\tSOURCE\tDESTINATION\tRETRIES\tUPDATED")
	for _, tx := range txs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			tx.ID, tx.Kind, tx.Status, tx.Step, tx.SourceRef, tx.DestinationRef,
			tx.RetryCount, tx.UpdatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
	if hasMore {
		fmt.Printf("more results: --offset %d\n", statusOffset+len(txs))
	}
}
