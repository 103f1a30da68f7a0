// Package reporter runs submission cycles: log in, resolve the next report,
// submit it and tell the operator how it went.
package reporter

import (
	"context"
	"fmt"
	"internship-reporter/internal/components/assert"
	"internship-reporter/internal/components/telemetry"
	"internship-reporter/internal/history"
	"internship-reporter/internal/portal"
	"sync"
	"time"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("internship-reporter/reporter")

const (
	report_cycle         = "cycle"
	report_cycle_history = "cycle.history"
)

const (
	failureTitle  = "报告推送出错"
	failurePrefix = "程序运行出错，请前往控制台查看日志。Error: "
)

type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticated   State = "authenticated"
	StateRoleResolved    State = "role-resolved"
	StateContextResolved State = "context-resolved"
	StateSubmitted       State = "submitted"
	StateFailed          State = "failed"
)

// Outcome describes a finished cycle.
type Outcome struct {
	CycleID string
	Kind    portal.Kind
	// State is either StateSubmitted or StateFailed.
	State State
	// Reached is the last state the cycle got to before it ended.
	Reached State
	// Title is set once the report context was resolved.
	Title string
	// Receipt is set when the portal accepted the report.
	Receipt    portal.Receipt
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

func (o Outcome) Failed() bool {
	return o.State == StateFailed
}

// Recorder stores finished cycles, history.Store implements it.
type Recorder interface {
	Record(ctx context.Context, cycle history.Cycle) error
}

type Options struct {
	Portal   portal.Options
	Username string
	Password string
	// Sources holds the pre-written report contents of each kind.
	Sources  map[portal.Kind][]string
	Notifier portal.Notifier
	// History is optional.
	History Recorder
	// Meter is optional, the global meter provider is used if it is nil.
	Meter metric.Meter
}

type Orchestrator struct {
	opts      Options
	resolver  *portal.Resolver
	submitter *portal.Submitter
	tel       telemetry.API
	cycles    metric.Int64Counter

	mu sync.Mutex
}

func New(opts Options) (*Orchestrator, error) {
	assert.NotNil(opts.Notifier)
	assert.NotNil(opts.Portal.Telemetry)

	resolver, err := portal.NewResolver(opts.Portal)
	if err != nil {
		return nil, err
	}
	submitter, err := portal.NewSubmitter(opts.Portal, opts.Notifier)
	if err != nil {
		return nil, err
	}

	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter("internship-reporter/reporter")
	}
	cycles, err := meter.Int64Counter(
		"cycles",
		metric.WithDescription("finished submission cycles by kind and state"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cycles counter: %w", err)
	}

	return &Orchestrator{
		opts:      opts,
		resolver:  resolver,
		submitter: submitter,
		tel:       telemetry.NewScopedAPI("reporter", opts.Portal.Telemetry),
		cycles:    cycles,
	}, nil
}

func newCycleID(now time.Time) string {
	id, err := random.String(12)
	if err != nil {
		return fmt.Sprintf("cycle-%d", now.UnixNano())
	}
	return id
}

// Run executes one cycle for the given kind. It never retries: whatever
// fails ends the cycle and is sent to the notifier exactly once. Cycles are
// serialized, a second Run waits for the first one to finish.
func (o *Orchestrator) Run(ctx context.Context, kind portal.Kind) Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.opts.Portal.Clock.Now()
	out := Outcome{
		CycleID:   newCycleID(now),
		Kind:      kind,
		Reached:   StateUnauthenticated,
		StartedAt: now,
	}

	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("cycle.id", out.CycleID),
		attribute.String("cycle.kind", string(kind)),
	)

	o.tel.ReportDebug(report_cycle, "start", out.CycleID, string(kind))
	err := o.run(ctx, &out)
	out.FinishedAt = o.opts.Portal.Clock.Now()

	if err != nil {
		out.State = StateFailed
		out.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, "cycle failed")
		o.tel.ReportWarning(report_cycle, out.CycleID, string(kind), "failed after", string(out.Reached), err)

		o.opts.Notifier.Push(ctx, portal.Notification{
			Title:   failureTitle,
			Content: failurePrefix + err.Error(),
			URL:     o.opts.Portal.LoginUrl(),
		})
	} else {
		out.State = StateSubmitted
		o.tel.ReportDebug(report_cycle, "submitted", out.CycleID, out.Receipt.String())
	}

	o.tel.ReportCount(report_cycle+"."+string(out.State), 1)
	o.cycles.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("state", string(out.State)),
	))
	o.record(ctx, out)
	return out
}

func (o *Orchestrator) run(ctx context.Context, out *Outcome) error {
	// a fresh session per cycle, only the cookie file carries over
	session, err := portal.NewSession(o.opts.Portal)
	if err != nil {
		return err
	}
	session.Load()
	err = session.Login(ctx, o.opts.Username, o.opts.Password)
	if err != nil {
		return err
	}
	out.Reached = StateAuthenticated

	profile, _ := session.Profile()
	role, chain, err := o.resolver.ResolveRole(ctx, portal.NewChain(session.Seed()), profile)
	if err != nil {
		return err
	}
	out.Reached = StateRoleResolved

	rc, chain, err := o.resolver.ResolveReport(ctx, chain, role, out.Kind)
	if err != nil {
		return err
	}
	out.Title = rc.Title
	out.Reached = StateContextResolved

	out.Receipt, err = o.submitter.Submit(ctx, chain, rc, o.opts.Sources[out.Kind])
	if err != nil {
		return err
	}
	out.Reached = StateSubmitted
	return nil
}

func (o *Orchestrator) record(ctx context.Context, out Outcome) {
	if o.opts.History == nil {
		return
	}
	cycle := history.Cycle{
		ID:         out.CycleID,
		Kind:       string(out.Kind),
		Title:      out.Title,
		State:      string(out.State),
		StartedAt:  out.StartedAt,
		FinishedAt: out.FinishedAt,
	}
	if out.Err != nil {
		cycle.Error = out.Err.Error()
	}
	err := o.opts.History.Record(ctx, cycle)
	if err != nil {
		o.tel.ReportWarning(report_cycle_history, err)
	}
}
