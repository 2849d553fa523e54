package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"delta-sync/feature/deltasync"
	"delta-sync/feature/deltasync/models"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	dryRunFlag   bool
	customerFlag string
	limitFlag    int
	jsonFlag     bool
	statusFlag   []string
)

// syncCmd groups the sync engine commands.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run and maintain the delta sync",
}

// syncRunCmd executes one sync run.
var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Detect changes and push them to the external API",
	Long: `Detects new and changed source rows, stages them in customer-scoped batches
and submits them. Pending batches left by an interrupted run are resumed first.
Interrupting the command finishes the batches already in flight and leaves the
rest pending for the next run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap()
		if err != nil {
			return err
		}
		defer rt.logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		summary, err := rt.syncService().Run(ctx, deltasync.RunOptions{
			DryRun:   dryRunFlag,
			Customer: customerFlag,
			Limit:    limitFlag,
		})
		if err != nil {
			return fmt.Errorf("sync run failed: %w", err)
		}

		if jsonFlag {
			return printJSON(summary)
		}
		printSummary(summary)
		if summary.Status == models.RunFailed {
			return fmt.Errorf("sync run %s finished with status %s", summary.RunID, summary.Status)
		}
		return nil
	},
}

// syncBatchesCmd lists staged batches.
var syncBatchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "List staged batches",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap()
		if err != nil {
			return err
		}
		defer rt.logger.Sync()

		var statuses []models.BatchStatus
		for _, s := range statusFlag {
			statuses = append(statuses, models.BatchStatus(strings.ToUpper(s)))
		}

		batches, err := rt.syncService().ListBatches(cmd.Context(), statuses...)
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(batches)
		}

		fmt.Printf("%-36s  %-12s  %-5s  %s\n", "BATCH", "STATUS", "ROWS", "CUSTOMER")
		for _, b := range batches {
			fmt.Printf("%-36s  %-12s  %-5d  %s\n", b.ID, b.Status, len(b.Rows), b.Customer)
		}
		return nil
	},
}

// syncResetCmd makes an errored row eligible for resubmission.
var syncResetCmd = &cobra.Command{
	Use:   "reset <row_id>",
	Short: "Reset an errored row back to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid row id %q: %w", args[0], err)
		}

		rt, err := bootstrap()
		if err != nil {
			return err
		}
		defer rt.logger.Sync()

		if err := rt.syncService().ResetRow(cmd.Context(), uint(id)); err != nil {
			return err
		}
		rt.logger.Info("Row reset", zap.Uint64("row_id", id))
		return nil
	},
}

// syncAbandonCmd gives up on a stuck batch.
var syncAbandonCmd = &cobra.Command{
	Use:   "abandon <batch_id>",
	Short: "Mark a stuck batch's open rows as errored",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap()
		if err != nil {
			return err
		}
		defer rt.logger.Sync()

		status, err := rt.syncService().AbandonBatch(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		rt.logger.Info("Batch abandoned", zap.String("batch_id", args[0]), zap.String("status", string(status)))
		return nil
	},
}

func init() {
	RootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncRunCmd, syncBatchesCmd, syncResetCmd, syncAbandonCmd)

	syncRunCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Detect and plan without staging or sending")
	syncRunCmd.Flags().StringVar(&customerFlag, "customer", "", "Only sync rows for this customer")
	syncRunCmd.Flags().IntVar(&limitFlag, "limit", 0, "Cap the number of new and changed rows taken into the run")
	syncRunCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the run summary as JSON")

	syncBatchesCmd.Flags().StringSliceVar(&statusFlag, "status", nil, "Filter by batch status (PENDING, PROCESSING, PARTIAL, SUCCESS, FAILED)")
	syncBatchesCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print batches as JSON")
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printSummary(s *models.RunSummary) {
	fmt.Println("\n=== Sync Run Summary ===")
	fmt.Printf("Run ID: %s\n", s.RunID)
	fmt.Printf("Status: %s\n", s.Status)
	fmt.Printf("New: %d  Changed: %d  Unchanged: %d  Deleted: %d\n",
		s.Detected[models.ChangeNew], s.Detected[models.ChangeChanged],
		s.Detected[models.ChangeUnchanged], s.Detected[models.ChangeDeleted])
	fmt.Printf("Batches: planned %d, staged %d, resumed %d, unstaged %d, left pending %d\n",
		s.BatchesPlanned, s.BatchesStaged, s.BatchesResumed, s.BatchesUnstaged, s.BatchesLeft)
	fmt.Printf("Rows: %d succeeded, %d failed\n", s.RowsByStatus[models.RowSuccess], s.RowsByStatus[models.RowError])
	if len(s.ReviewNames) > 0 {
		fmt.Printf("Names needing review: %s\n", strings.Join(s.ReviewNames, ", "))
	}
	if len(s.Exhausted) > 0 {
		fmt.Printf("Rows past the retry ceiling: %d\n", len(s.Exhausted))
	}
	if len(s.Deferred) > 0 {
		fmt.Printf("Rows deferred behind in-flight batches: %d\n", len(s.Deferred))
	}
	for _, e := range s.Errors {
		fmt.Printf("Error: %s\n", e)
	}
	fmt.Printf("Duration: %s\n", s.FinishedAt.Sub(s.StartedAt))
}
