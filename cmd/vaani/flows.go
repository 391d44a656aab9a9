package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vaanihq/vaani/flow"
	"github.com/vaanihq/vaani/store"
)

var flowsCmd = &cobra.Command{
	Use:   "flows",
	Short: "Manage flow definitions",
}

var flowsLoadCmd = &cobra.Command{
	Use:   "load <dir>",
	Short: "Validate and upsert every *.json flow definition in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		eval, err := flow.NewEvaluator()
		if err != nil {
			return exitf(exitSchema, "failed to init condition evaluator: %v", err)
		}

		defs := flow.NewDefinitionStore(st, eval)
		loaded, err := defs.LoadDir(ctx, args[0])
		if err != nil {
			// LoadDir aborts on the first bad file with its name in the error.
			return exitf(exitSchema, "load aborted after %d definition(s): %v", loaded, err)
		}
		fmt.Printf("Loaded %d flow definition(s) from %s\n", loaded, args[0])
		return nil
	},
}

var (
	flowsListModule  string
	flowsListEnabled bool
)

var flowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deployed flow definitions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		find := &store.FindFlow{}
		if flowsListModule != "" {
			find.Module = &flowsListModule
		}
		if flowsListEnabled {
			enabled := true
			find.Enabled = &enabled
		}

		rows, err := st.ListFlows(ctx, find)
		if err != nil {
			return exitf(exitPersistence, "failed to list flows: %v", err)
		}
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].ID != rows[j].ID {
				return rows[i].ID < rows[j].ID
			}
			return rows[i].Version < rows[j].Version
		})

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tVERSION\tMODULE\tTRIGGER\tENABLED\tNAME")
		for _, row := range rows {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%t\t%s\n",
				row.ID, row.Version, row.Module, row.Trigger, row.Enabled, row.Name)
		}
		return w.Flush()
	},
}

var flowsToggleCmd = &cobra.Command{
	Use:   "toggle <flow-id>",
	Short: "Flip a flow between enabled and disabled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		id := args[0]
		rows, err := st.ListFlows(ctx, &store.FindFlow{ID: &id})
		if err != nil {
			return exitf(exitPersistence, "failed to find flow: %v", err)
		}
		if len(rows) == 0 {
			return exitf(exitSchema, "flow %q not found", id)
		}

		// Toggle off the state of the newest version; the flag applies to
		// every version of the id.
		current := rows[0]
		for _, row := range rows[1:] {
			if row.Version > current.Version {
				current = row
			}
		}
		next := !current.Enabled
		if _, err := st.UpdateFlow(ctx, &store.UpdateFlow{ID: id, Enabled: &next}); err != nil {
			return exitf(exitPersistence, "failed to update flow: %v", err)
		}

		fmt.Printf("Flow %s is now enabled=%t\n", id, next)
		return nil
	},
}

func init() {
	flowsListCmd.Flags().StringVar(&flowsListModule, "module", "", "only flows of this module")
	flowsListCmd.Flags().BoolVar(&flowsListEnabled, "enabled", false, "only enabled flows")
	flowsCmd.AddCommand(flowsLoadCmd, flowsListCmd, flowsToggleCmd)
}
