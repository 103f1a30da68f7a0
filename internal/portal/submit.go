package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"internship-reporter/internal/components/assert"
	"internship-reporter/internal/components/telemetry"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const report_submitter_submit = "submitter.submit"

// draftStatus is the review status new reports are created with (未批阅).
const draftStatus = "wpy"

const timestampLayout = "2006-01-02 15:04:05"

// Notification is a message for the operator.
type Notification struct {
	Title   string
	Content string
	URL     string
}

// Notifier delivers notifications to the operator. Delivery failures are the
// notifier's own business, they never reach the caller.
type Notifier interface {
	Push(ctx context.Context, n Notification)
}

// ReportPayload is a single report as the save endpoint expects it.
type ReportPayload struct {
	Kind        Kind   `json:"LX"`
	Title       string `json:"BT"`
	Content     string `json:"XQ"`
	SubmittedAt string `json:"TJSJ"`
	Status      string `json:"PYZT"`
	Wid         string `json:"JHXSWID"`
}

// Receipt describes a report the portal accepted.
type Receipt struct {
	Title       string
	Content     string
	Wid         string
	Kind        Kind
	SubmittedAt time.Time
}

type Submitter struct {
	opts     Options
	http     *resty.Client
	notifier Notifier
	tel      telemetry.API
}

func NewSubmitter(opts Options, notifier Notifier) (*Submitter, error) {
	opts.validate()
	assert.NotNil(notifier)
	tel := telemetry.NewScopedAPI("portal", opts.Telemetry)

	httpClient := newHttpClient(opts, tel)
	httpClient.SetBaseURL(opts.BaseUrl)
	httpClient.SetCookieJar(nil)

	return &Submitter{
		opts:     opts,
		http:     httpClient,
		notifier: notifier,
		tel:      tel,
	}, nil
}

// Submit posts the report selected by rc.Size from contents, using the
// cookies at the end of the chain. The notifier is told only when the portal
// accepted the report.
func (s *Submitter) Submit(ctx context.Context, chain ChainContext, rc ReportContext, contents []string) (Receipt, error) {
	return call(ctx, s.tel, report_submitter_submit, func(ctx context.Context) (Receipt, error) {
		return s.submit(ctx, chain, rc, contents)
	})
}

const stepSaveReport = "save-report"

func (s *Submitter) submit(ctx context.Context, chain ChainContext, rc ReportContext, contents []string) (Receipt, error) {
	if rc.Wid == "" || rc.Kind == "" || chain.Empty() {
		return Receipt{}, ErrUnresolved
	}
	if rc.Size < 0 || rc.Size >= len(contents) {
		return Receipt{}, resolutionError(
			"content", CauseIndexOutOfRange,
			"report #%d of kind %q requested but only %d are configured",
			rc.Size, string(rc.Kind), len(contents),
		)
	}
	content := contents[rc.Size]

	title, err := FormatTitle(rc.Kind, rc.Size)
	if err != nil {
		return Receipt{}, err
	}

	now := s.opts.Clock.Now()
	param, err := json.Marshal([]ReportPayload{{
		Kind:        rc.Kind,
		Title:       title,
		Content:     content,
		SubmittedAt: now.Format(timestampLayout),
		Status:      draftStatus,
		Wid:         rc.Wid,
	}})
	if err != nil {
		return Receipt{}, err
	}

	res, err := send(
		s.http.R().
			SetContext(ctx).
			SetCookies(chain.Current().HTTP()).
			SetFormData(map[string]string{"param": string(param)}),
		"save report",
		http.MethodPost,
		pathSaveReport,
	)
	if err != nil {
		return Receipt{}, err
	}

	// an answer that is not an envelope says nothing about acceptance, it
	// is drift and not a rejection
	env, err := decodeEnvelope(res.Body())
	if err != nil {
		return Receipt{}, &ResolutionError{Cause: CauseSchemaDrift, Step: stepSaveReport, Err: err}
	}
	if !env.ok() {
		return Receipt{}, &SubmissionError{Title: title, Code: env.Code, Message: env.Msg}
	}

	s.tel.ReportDebug(report_submitter_submit, "submitted", title)
	s.notifier.Push(ctx, Notification{
		Title:   title,
		Content: content,
		URL:     s.opts.LoginUrl(),
	})

	return Receipt{
		Title:       title,
		Content:     content,
		Wid:         rc.Wid,
		Kind:        rc.Kind,
		SubmittedAt: now,
	}, nil
}

// String is used in logs.
func (r Receipt) String() string {
	return fmt.Sprintf("%s (wid %s, %s)", r.Title, r.Wid, r.SubmittedAt.Format(timestampLayout))
}
