package telemetry

import (
	"fmt"
	"sync"
	"testing"
)

// Report is a single call recorded by TestAPI.
type Report struct {
	Level  string
	ID     string
	Params []any
}

// TestAPI is an API that logs through testing.TB and keeps every report so
// tests can assert on what was (or was not) reported.
type TestAPI struct {
	t       testing.TB
	mu      sync.Mutex
	reports []Report
}

func NewTestAPI(t testing.TB) *TestAPI {
	return &TestAPI{t: t}
}

func (a *TestAPI) record(level, id string, params []any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reports = append(a.reports, Report{Level: level, ID: id, Params: params})
	a.t.Log(fmt.Sprintf("[%s] %s", level, id), params)
}

func (a *TestAPI) ReportBroken(id string, params ...any) {
	a.record("broken", id, params)
}

func (a *TestAPI) ReportWarning(id string, params ...any) {
	a.record("warning", id, params)
}

func (a *TestAPI) ReportDebug(msg string, params ...any) {
	a.record("debug", msg, params)
}

func (a *TestAPI) ReportCount(id string, count int64) {
	a.record("count", id, []any{count})
}

// Reports returns the recorded reports of the given level ("broken", "warning",
// "debug" or "count").
func (a *TestAPI) Reports(level string) []Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Report
	for _, r := range a.reports {
		if r.Level == level {
			out = append(out, r)
		}
	}
	return out
}
