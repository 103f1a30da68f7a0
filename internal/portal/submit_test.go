package portal

import (
	"context"
	"errors"
	"internship-reporter/internal/portal/portaltest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var weeklyContents = []string{"week one", "week two", "week three", "week four"}

func resolved(t *testing.T, p *portaltest.Portal, opts Options, kind Kind) (ReportContext, ChainContext) {
	session := loggedInSession(t, opts)
	resolver, err := NewResolver(opts)
	require.NoError(t, err)
	rc, chain, err := resolver.Resolve(context.Background(), session, kind)
	require.NoError(t, err)
	return rc, chain
}

func TestSubmit(t *testing.T) {
	p := newTestPortal(t)
	opts := testOptions(t, p)
	rc, chain := resolved(t, p, opts, KindWeekly)

	notifier := &recordingNotifier{}
	submitter, err := NewSubmitter(opts, notifier)
	require.NoError(t, err)

	receipt, err := submitter.Submit(context.Background(), chain, rc, weeklyContents)
	require.NoError(t, err)
	require.Equal(t, "第3周实习周报", receipt.Title)
	require.Equal(t, "week three", receipt.Content)
	require.Equal(t, testNow, receipt.SubmittedAt)

	expected := []portaltest.Submission{{
		LX:      "zb",
		BT:      "第3周实习周报",
		XQ:      "week three",
		TJSJ:    "2024-11-16 08:00:00",
		PYZT:    "wpy",
		JHXSWID: testWid,
	}}
	if diff := cmp.Diff(expected, p.Submissions()); diff != "" {
		t.Fatalf("unexpected submissions (-want +got):\n%s", diff)
	}

	save, ok := p.Last(portaltest.PathSaveReport)
	require.True(t, ok)
	require.Equal(t, portaltest.PathReports, save.Cookies[portaltest.ChainCookie], "the save carries the cookies of the last chain step")

	pushed := notifier.Pushed()
	require.Len(t, pushed, 1)
	require.Equal(t, "第3周实习周报", pushed[0].Title)
	require.Equal(t, "week three", pushed[0].Content)
	require.Equal(t, opts.LoginUrl(), pushed[0].URL)
}

func TestSubmitMonthlyFirst(t *testing.T) {
	p := newTestPortal(t)
	opts := testOptions(t, p)
	rc, chain := resolved(t, p, opts, KindMonthly)
	require.Equal(t, 0, rc.Size)

	submitter, err := NewSubmitter(opts, &recordingNotifier{})
	require.NoError(t, err)
	receipt, err := submitter.Submit(context.Background(), chain, rc, []string{"first month"})
	require.NoError(t, err)
	// the title numbers the report being submitted, so an empty history
	// gives the first month and not 零月
	require.Equal(t, "一月月报", receipt.Title)
}

func TestSubmitIndexOutOfRange(t *testing.T) {
	p := newTestPortal(t)
	opts := testOptions(t, p)
	rc, chain := resolved(t, p, opts, KindWeekly)
	before := len(p.Requests())

	notifier := &recordingNotifier{}
	submitter, err := NewSubmitter(opts, notifier)
	require.NoError(t, err)

	_, err = submitter.Submit(context.Background(), chain, rc, weeklyContents[:2])
	require.True(t, IsCause(err, CauseIndexOutOfRange), err)

	require.Len(t, p.Requests(), before, "nothing may be sent for a missing entry")
	require.Empty(t, notifier.Pushed())
}

func TestSubmitRejected(t *testing.T) {
	p := newTestPortal(t)
	opts := testOptions(t, p)
	rc, chain := resolved(t, p, opts, KindWeekly)
	p.SetConfig(func(c *portaltest.Config) {
		c.SubmitCode = "-1"
		c.SubmitMsg = "本周已提交"
	})

	notifier := &recordingNotifier{}
	submitter, err := NewSubmitter(opts, notifier)
	require.NoError(t, err)

	_, err = submitter.Submit(context.Background(), chain, rc, weeklyContents)
	var submitErr *SubmissionError
	require.True(t, errors.As(err, &submitErr), err)
	require.Equal(t, "-1", submitErr.Code)
	require.Equal(t, "本周已提交", submitErr.Message)

	require.Empty(t, p.Submissions())
	require.Empty(t, notifier.Pushed(), "a rejected report is never announced as pushed")
}

func TestSubmitUndecodableAnswer(t *testing.T) {
	p := newTestPortal(t)
	opts := testOptions(t, p)
	rc, chain := resolved(t, p, opts, KindWeekly)
	p.SetConfig(func(c *portaltest.Config) {
		c.SaveBody = "<html>系统维护中</html>"
	})

	notifier := &recordingNotifier{}
	submitter, err := NewSubmitter(opts, notifier)
	require.NoError(t, err)

	_, err = submitter.Submit(context.Background(), chain, rc, weeklyContents)
	var resErr *ResolutionError
	require.True(t, errors.As(err, &resErr), err)
	require.Equal(t, stepSaveReport, resErr.Step)
	require.Equal(t, CauseSchemaDrift, resErr.Cause)
	var submitErr *SubmissionError
	require.False(t, errors.As(err, &submitErr), "drift is not a rejection")
	require.Empty(t, notifier.Pushed())
}

func TestSubmitUnresolved(t *testing.T) {
	p := newTestPortal(t)
	opts := testOptions(t, p)

	submitter, err := NewSubmitter(opts, &recordingNotifier{})
	require.NoError(t, err)

	_, err = submitter.Submit(context.Background(), ChainContext{}, ReportContext{Kind: KindWeekly, Wid: testWid}, weeklyContents)
	require.ErrorIs(t, err, ErrUnresolved)

	_, err = submitter.Submit(context.Background(), NewChain(CookieSet{}), ReportContext{Kind: KindWeekly}, weeklyContents)
	require.ErrorIs(t, err, ErrUnresolved)
	require.Empty(t, p.Requests())
}
