package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var submitKind string

func init() {
	kindFlag(submitCmd, &submitKind)
	rootCmd.AddCommand(submitCmd)
}

var submitCmd = &cobra.Command{
	Use:   "submit [--kind zb|yb]",
	Short: "Runs a single submission cycle right now.",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind(submitKind)
		if err != nil {
			return err
		}

		orch, store, err := current.orchestrator()
		if err != nil {
			return err
		}
		defer store.Close()

		out := orch.Run(cmd.Context(), kind)
		printOutcome(out)
		if out.Failed() {
			return fmt.Errorf("cycle %s failed", out.CycleID)
		}
		return nil
	},
}
