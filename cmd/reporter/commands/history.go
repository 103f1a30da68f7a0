package commands

import (
	"internship-reporter/internal/history"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "How many cycles to show.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [--limit n]",
	Short: "Lists the most recent submission cycles.",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.Open(current.config.HistoryDb)
		if err != nil {
			return err
		}
		defer store.Close()

		cycles, err := store.Recent(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendHeader(table.Row{"Cycle", "Kind", "Title", "State", "Started", "Took", "Error"})
		t.SetColumnConfigs([]table.ColumnConfig{
			{Name: "Error", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		})
		loc := current.clock.Location()
		for _, c := range cycles {
			t.AppendRow(table.Row{
				c.ID,
				c.Kind,
				c.Title,
				c.State,
				c.StartedAt.In(loc).Format(time.DateTime),
				c.Duration().Round(time.Millisecond).String(),
				c.Error,
			})
		}
		t.Render()
		return nil
	},
}
