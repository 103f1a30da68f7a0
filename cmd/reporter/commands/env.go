package commands

import (
	"fmt"
	"internship-reporter/internal/config"
	"internship-reporter/internal/history"
	"internship-reporter/internal/notify"
	"internship-reporter/internal/portal"
	"internship-reporter/internal/reporter"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func (e *env) portalOptions() portal.Options {
	cfg := e.config.Portal
	return portal.Options{
		AuthUrl:           cfg.AuthUrl,
		BaseUrl:           cfg.BaseUrl,
		CookieFile:        e.config.CookieFile,
		Timeout:           cfg.Timeout(),
		RequestsPerSecond: cfg.RequestsPerSecond,
		TermYear:          cfg.TermYear,
		CloudflareBypass:  cfg.CloudflareBypass,
		Dump:              e.dump,
		Clock:             e.clock,
		Telemetry:         e.tel,
	}
}

func (e *env) notifier() portal.Notifier {
	cfg := e.config.Email
	if cfg.Receiver == "" {
		return notify.NewLog(e.tel)
	}
	return notify.NewEmail(notify.SmtpConfig{
		Server:   cfg.Server,
		Port:     cfg.Port,
		Sender:   cfg.Sender,
		Password: cfg.Password,
		Receiver: cfg.Receiver,
		Timeout:  e.config.Portal.Timeout(),
	}, e.tel)
}

func sources(cfg config.Config) map[portal.Kind][]string {
	out := map[portal.Kind][]string{}
	for _, s := range cfg.Reports {
		out[portal.Kind(s.Type)] = s.Contents()
	}
	return out
}

// monthlyKind is the type code of the first non-weekly report source.
func monthlyKind(cfg config.Config) portal.Kind {
	for _, s := range cfg.Reports {
		if !portal.Kind(s.Type).Weekly() {
			return portal.Kind(s.Type)
		}
	}
	return portal.KindMonthly
}

// orchestrator returns the orchestrator and the history store it writes
// to, the caller closes the store.
func (e *env) orchestrator() (*reporter.Orchestrator, history.Store, error) {
	store, err := history.Open(e.config.HistoryDb)
	if err != nil {
		return nil, history.Store{}, err
	}
	orch, err := reporter.New(reporter.Options{
		Portal:   e.portalOptions(),
		Username: e.config.Credentials.Username,
		Password: e.config.Credentials.Password,
		Sources:  sources(e.config),
		Notifier: e.notifier(),
		History:  store,
	})
	if err != nil {
		store.Close()
		return nil, history.Store{}, err
	}
	return orch, store, nil
}

func parseKind(value string) (portal.Kind, error) {
	if value == "" {
		return "", fmt.Errorf("kind must not be empty")
	}
	return portal.Kind(value), nil
}

func kindFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "kind", "k", string(portal.KindWeekly), `The report type code, "zb" for weekly reports, anything else is monthly.`)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func printOutcome(out reporter.Outcome) {
	t := newTable()
	t.AppendRow(table.Row{"Cycle", out.CycleID})
	t.AppendRow(table.Row{"Kind", out.Kind})
	t.AppendRow(table.Row{"State", out.State})
	if out.Title != "" {
		t.AppendRow(table.Row{"Title", out.Title})
	}
	if out.Err != nil {
		t.AppendRow(table.Row{"Reached", out.Reached})
		t.AppendRow(table.Row{"Error", out.Err.Error()})
	}
	t.Render()
}
