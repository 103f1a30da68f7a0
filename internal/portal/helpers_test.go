package portal

import (
	"context"
	"internship-reporter/internal/components/chrono"
	"internship-reporter/internal/components/telemetry"
	"internship-reporter/internal/portal/portaltest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testUser     = "2021001"
	testPassword = "hunter2"
	testRole     = "20200707132031"
	testPlan     = "PLAN-1"
	testWid      = "WID-42"
)

var testNow = time.Date(2024, 11, 16, 8, 0, 0, 0, time.FixedZone("CST", 8*60*60))

func newTestPortal(t *testing.T, modify ...func(c *portaltest.Config)) *portaltest.Portal {
	config := portaltest.Config{
		Username: testUser,
		Password: testPassword,
		RoleID:   testRole,
		PlanID:   testPlan,
		Wid:      testWid,
		Sizes:    map[string]int{"zb": 2, "yb": 0},
	}
	for _, fn := range modify {
		fn(&config)
	}
	return portaltest.New(t, config)
}

func testOptions(t *testing.T, p *portaltest.Portal) Options {
	return Options{
		AuthUrl:    p.URL,
		BaseUrl:    p.URL,
		CookieFile: filepath.Join(t.TempDir(), "cookies.json"),
		Timeout:    5 * time.Second,
		TermYear:   "2024",
		Clock:      chrono.FixedTime{T: testNow},
		Telemetry:  telemetry.NewTestAPI(t),
	}
}

func loggedInSession(t *testing.T, opts Options) *Session {
	session, err := NewSession(opts)
	require.NoError(t, err)
	session.Load()
	require.NoError(t, session.Login(context.Background(), testUser, testPassword))
	return session
}

type recordingNotifier struct {
	mu     sync.Mutex
	pushed []Notification
}

func (n *recordingNotifier) Push(_ context.Context, notification Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pushed = append(n.pushed, notification)
}

func (n *recordingNotifier) Pushed() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.pushed))
	copy(out, n.pushed)
	return out
}
