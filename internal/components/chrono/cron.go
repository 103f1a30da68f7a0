package chrono

import (
	"fmt"
	"internship-reporter/internal/components/telemetry"
	"time"

	"github.com/robfig/cron/v3"
)

// CronAPI is the interface that anything depending on things to happen on a cron job should use.
type CronAPI interface {
	Cron(spec string, callback func()) (cron.EntryID, error)
	Schedule(schedule cron.Schedule, callback func()) cron.EntryID
}

// StandardCron is the standard implementation of CronAPI using `github.com/robfig/cron/v3`.
//
// A job that is still running when its next activation comes around is skipped.
type StandardCron struct {
	cron *cron.Cron
}

// NewStandardCron is the constructor of StandardCron, the scheduler does not run until Start is called.
func NewStandardCron(tel telemetry.API, location *time.Location) StandardCron {
	logger := cronLogger{tel: tel}
	cronner := cron.New(
		cron.WithLogger(logger),
		cron.WithLocation(location),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return StandardCron{cron: cronner}
}

func (s StandardCron) Cron(spec string, callback func()) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, callback)
}

func (s StandardCron) Schedule(schedule cron.Schedule, callback func()) cron.EntryID {
	return s.cron.Schedule(schedule, cron.FuncJob(callback))
}

func (s StandardCron) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s StandardCron) Stop() {
	<-s.cron.Stop().Done()
}

// Next returns the next activation of a job, it is only known once the
// scheduler runs.
func (s StandardCron) Next(id cron.EntryID) time.Time {
	return s.cron.Entry(id).Next
}

// LastDayOfMonth activates on the last day of every month at Hour:Minute.
// cron/v3's parser has no `L` day-of-month so this is a cron.Schedule of its own.
type LastDayOfMonth struct {
	Hour   int
	Minute int
}

func (l LastDayOfMonth) at(year int, month time.Month, loc *time.Location) time.Time {
	// day 0 of the next month is the last day of this one
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	return time.Date(year, month, lastDay, l.Hour, l.Minute, 0, 0, loc)
}

func (l LastDayOfMonth) Next(t time.Time) time.Time {
	candidate := l.at(t.Year(), t.Month(), t.Location())
	if candidate.After(t) {
		return candidate
	}
	return l.at(t.Year(), t.Month()+1, t.Location())
}

type cronLogger struct {
	tel telemetry.API
}

func (l cronLogger) formatParams(keysAndValues []any) []any {
	params := []any{}
	for i := 0; i < len(keysAndValues)/2; i++ {
		idx := i * 2
		key := keysAndValues[idx]
		value := keysAndValues[idx+1]
		params = append(params, fmt.Sprintf("%v: %v", key, value))
	}
	return params
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.tel.ReportDebug(
		fmt.Sprintf("cron: %s", msg),
		l.formatParams(keysAndValues)...,
	)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.tel.ReportBroken(
		"cron",
		fmt.Errorf("%s: %w", msg, err),
		l.formatParams(keysAndValues),
	)
}
