package commands

import (
	"fmt"
	"internship-reporter/internal/history"
	"internship-reporter/internal/portal"
	"internship-reporter/internal/reporter"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var checkKind string

func init() {
	checkCmd.Flags().StringVarP(&checkKind, "kind", "k", "", "Also resolve the next report of this type code, nothing is submitted.")
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check [--kind zb|yb]",
	Short: "Logs in and shows the portal profile, optionally the report that would be submitted next.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		opts := current.portalOptions()

		session, err := portal.NewSession(opts)
		if err != nil {
			return err
		}
		reused := session.Load()
		err = session.Login(ctx, current.config.Credentials.Username, current.config.Credentials.Password)
		if err != nil {
			return err
		}
		profile, _ := session.Profile()

		t := newTable()
		t.AppendRow(table.Row{"User", fmt.Sprintf("%s (%s)", profile.UserName, profile.UserID)})
		for _, group := range profile.RoleGroups {
			t.AppendRow(table.Row{"Role", fmt.Sprintf("%s (%s)", group.RoleName, group.RoleID)})
		}
		t.AppendRow(table.Row{"Cookie file reused", reused})

		if checkKind != "" {
			kind := portal.Kind(checkKind)
			source, ok := current.config.Source(checkKind)
			if !ok {
				return fmt.Errorf("no reports of type %q are configured", checkKind)
			}
			contents := source.Contents()

			resolver, err := portal.NewResolver(opts)
			if err != nil {
				return err
			}
			rc, _, err := resolver.Resolve(ctx, session, kind)
			if err != nil {
				return err
			}

			store, err := history.Open(current.config.HistoryDb)
			if err != nil {
				return err
			}
			defer store.Close()
			last, found, err := store.Last(ctx, checkKind, string(reporter.StateSubmitted))
			if err != nil {
				return err
			}

			t.AppendSeparator()
			t.AppendRow(table.Row{"Placement", rc.Wid})
			t.AppendRow(table.Row{"Submitted", rc.Size})
			if found {
				t.AppendRow(table.Row{"Last submitted here", fmt.Sprintf("%s (%s)", last.Title, last.FinishedAt.Format("2006-01-02 15:04"))})
			}
			t.AppendRow(table.Row{"Next title", rc.Title})
			if rc.Size < len(contents) {
				t.AppendRow(table.Row{"Next content", contents[rc.Size]})
			} else {
				t.AppendRow(table.Row{"Next content", fmt.Sprintf("missing, only %d configured", len(contents))})
			}
		}

		t.Render()
		return nil
	},
}
