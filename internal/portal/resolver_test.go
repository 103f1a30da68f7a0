package portal

import (
	"context"
	"encoding/json"
	"errors"
	"internship-reporter/internal/portal/portaltest"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// chainRequests returns the requests made to the chain endpoints, in order.
func chainRequests(p *portaltest.Portal) []portaltest.Request {
	var out []portaltest.Request
	for _, r := range p.Requests() {
		for _, path := range portaltest.ChainPaths {
			if r.Path == path {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func TestResolve(t *testing.T) {
	p := newTestPortal(t)
	opts := testOptions(t, p)
	session := loggedInSession(t, opts)

	resolver, err := NewResolver(opts)
	require.NoError(t, err)

	report, chain, err := resolver.Resolve(context.Background(), session, KindWeekly)
	require.NoError(t, err)

	expected := ReportContext{
		PlanID: testPlan,
		RoleID: testRole,
		Wid:    testWid,
		Kind:   KindWeekly,
		Size:   2,
		Title:  "第3周实习周报",
	}
	if diff := cmp.Diff(expected, report); diff != "" {
		t.Fatalf("unexpected report context (-want +got):\n%s", diff)
	}

	require.Equal(t, []string{
		"seed",
		stepMenus,
		stepDefaultDisplay,
		stepClassWeek,
		stepScores,
		stepGgxxpz,
		stepAnnouncement,
		stepEducationalProgram,
		stepAcademicStatus,
		stepScheduleDetail,
		stepAppIndex,
		stepMessages,
		stepPageLogConfig,
		stepActivateRole,
		stepPlacement,
		stepReportCount,
	}, chain.Labels())

	value, ok := chain.Current().Get(portaltest.RoleCookie)
	require.True(t, ok)
	require.Equal(t, testRole, value)

	appIndex, ok := p.Last(portaltest.PathAppIndex)
	require.True(t, ok)
	require.Equal(t, "00000"+testRole, appIndex.Query.Get("_yhz"))

	scores, ok := p.Last(portaltest.PathScores)
	require.True(t, ok)
	require.Equal(t, "2024-2024-11", scores.Query.Get("termCode"))

	academic, ok := p.Last(portaltest.PathAcademicStatus)
	require.True(t, ok)
	require.Equal(t, testPlan, academic.Query.Get("planId"))

	count, ok := p.Last(portaltest.PathReports)
	require.True(t, ok)
	require.Equal(t, testWid, count.Form.Get("JHXSWID"))
	require.Equal(t, "zb", count.Form.Get("LX"))
}

func TestResolvePropagatesCookiesStepByStep(t *testing.T) {
	p := newTestPortal(t, func(c *portaltest.Config) {
		c.RotateSessionAt = portaltest.PathScores
	})
	opts := testOptions(t, p)
	session := loggedInSession(t, opts)

	resolver, err := NewResolver(opts)
	require.NoError(t, err)
	_, _, err = resolver.Resolve(context.Background(), session, KindMonthly)
	require.NoError(t, err)

	reqs := chainRequests(p)
	require.Len(t, reqs, len(portaltest.ChainPaths))

	rotated := false
	for i, r := range reqs {
		require.Equal(t, portaltest.ChainPaths[i], r.Path)

		if i == 0 {
			_, ok := r.Cookies[portaltest.ChainCookie]
			require.False(t, ok, "the first request only carries the session cookies")
		} else {
			require.Equal(t, portaltest.ChainPaths[i-1], r.Cookies[portaltest.ChainCookie], "request to %s", r.Path)
		}

		expectedSession := portaltest.InitialSession
		if rotated {
			expectedSession = portaltest.RotatedSession
		}
		require.Equal(t, expectedSession, r.Cookies[portaltest.SessionCookie], "request to %s", r.Path)
		if r.Path == portaltest.PathScores {
			rotated = true
		}
	}

	// the chain never writes back into the session
	value, _ := session.Seed().Get(portaltest.SessionCookie)
	require.Equal(t, portaltest.InitialSession, value)
	_, ok := session.Seed().Get(portaltest.ChainCookie)
	require.False(t, ok)
}

func TestResolveReportErrors(t *testing.T) {
	cases := []struct {
		name   string
		modify func(c *portaltest.Config)
		step   string
		cause  Cause
	}{
		{
			name:   "no placement",
			modify: func(c *portaltest.Config) { c.Wid = "" },
			step:   stepPlacement,
			cause:  CauseEmptyResult,
		},
		{
			name:   "no role groups",
			modify: func(c *portaltest.Config) { c.NoUserGroups = true },
			step:   stepRole,
			cause:  CauseMissingField,
		},
		{
			name: "group without role id",
			modify: func(c *portaltest.Config) {
				c.Profile = map[string]any{
					"userId":     json.Number(testUser),
					"userGroups": []map[string]any{{"roleName": "学生"}},
				}
			},
			step:  stepRole,
			cause: CauseMissingField,
		},
		{
			name:   "role rejected",
			modify: func(c *portaltest.Config) {},
			step:   stepActivateRole,
			cause:  CauseSchemaDrift,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := newTestPortal(t, c.modify)
			opts := testOptions(t, p)
			session := loggedInSession(t, opts)
			if c.step == stepActivateRole {
				p.SetConfig(func(config *portaltest.Config) { config.RoleID = "someone-else" })
			}

			resolver, err := NewResolver(opts)
			require.NoError(t, err)
			_, _, err = resolver.Resolve(context.Background(), session, KindWeekly)

			var resErr *ResolutionError
			require.True(t, errors.As(err, &resErr), err)
			require.Equal(t, c.step, resErr.Step)
			require.Equal(t, c.cause, resErr.Cause)
			require.True(t, IsCause(err, c.cause))
		})
	}
}

func TestResolveWithNumericIds(t *testing.T) {
	p := newTestPortal(t, func(c *portaltest.Config) {
		c.Profile = map[string]any{
			"userId":     json.Number(testUser),
			"userName":   "测试学生",
			"userGroups": []map[string]any{{"roleId": json.Number(testRole)}},
		}
	})
	opts := testOptions(t, p)
	session := loggedInSession(t, opts)

	resolver, err := NewResolver(opts)
	require.NoError(t, err)
	report, _, err := resolver.Resolve(context.Background(), session, KindWeekly)
	require.NoError(t, err)
	require.Equal(t, testRole, report.RoleID)
}

func TestResolveMonthlyOverflow(t *testing.T) {
	p := newTestPortal(t, func(c *portaltest.Config) {
		c.Sizes = map[string]int{"yb": 9}
	})
	opts := testOptions(t, p)
	session := loggedInSession(t, opts)

	resolver, err := NewResolver(opts)
	require.NoError(t, err)
	_, _, err = resolver.Resolve(context.Background(), session, KindMonthly)

	var overflow *OrdinalOverflowError
	require.True(t, errors.As(err, &overflow), err)
	require.Equal(t, 10, overflow.Ordinal)
}

func TestResolveTransportError(t *testing.T) {
	p := newTestPortal(t)
	opts := testOptions(t, p)
	session := loggedInSession(t, opts)

	resolver, err := NewResolver(opts)
	require.NoError(t, err)

	// an empty chain has no session cookies, the portal refuses it with 403
	chain := NewChain(NewCookieSet([]*http.Cookie{{Name: "unrelated", Value: "1"}}))
	profile, _ := session.Profile()
	_, _, err = resolver.ResolveRole(context.Background(), chain, profile)

	require.True(t, IsCause(err, CauseTransport), err)
	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
}

func TestResolveRequiresChain(t *testing.T) {
	p := newTestPortal(t)
	resolver, err := NewResolver(testOptions(t, p))
	require.NoError(t, err)

	_, _, err = resolver.ResolveRole(context.Background(), ChainContext{}, UserProfile{})
	require.ErrorIs(t, err, ErrUnresolved)

	_, _, err = resolver.ResolveReport(context.Background(), NewChain(CookieSet{}), RoleContext{}, KindWeekly)
	require.ErrorIs(t, err, ErrUnresolved)
	require.Empty(t, p.Requests())
}
