package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaanihq/vaani/flow"
	"github.com/vaanihq/vaani/store"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage conversation sessions",
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <recipient>",
	Short: "Cancel any suspended flow runs for a recipient",
	Long: `Marks the recipient's suspended flow runs as cancelled so a running
node will not adopt them on the next message. In-memory session state on a
live node expires on its own idle TTL.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		recipient := args[0]
		status := flow.StatusSuspended
		runs, err := st.ListFlowRuns(ctx, &store.FindFlowRun{SessionID: &recipient, Status: &status})
		if err != nil {
			return exitf(exitPersistence, "failed to list runs: %v", err)
		}

		for _, run := range runs {
			if _, err := st.UpsertFlowRun(ctx, &store.UpsertFlowRun{
				RunID:        run.RunID,
				FlowID:       run.FlowID,
				FlowVersion:  run.FlowVersion,
				SessionID:    run.SessionID,
				UserID:       run.UserID,
				CurrentState: run.CurrentState,
				Context:      run.Context,
				Status:       flow.StatusCancelled,
				StartedTs:    run.StartedTs,
			}); err != nil {
				return exitf(exitPersistence, "failed to cancel run %s: %v", run.RunID, err)
			}
		}

		fmt.Printf("Cancelled %d suspended run(s) for %s\n", len(runs), recipient)
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionClearCmd)
}
