package telemetry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScopedAPI(t *testing.T) {
	inner := NewTestAPI(t)
	scoped := NewScopedAPI("portal", inner)

	scoped.ReportBroken("session.login", "boom")
	scoped.ReportWarning("session.load")
	scoped.ReportCount("cycle", 2)

	broken := inner.Reports("broken")
	require.Len(t, broken, 1)
	require.Equal(t, "portal: session.login", broken[0].ID)
	require.Equal(t, []any{"boom"}, broken[0].Params)

	require.Equal(t, "portal: session.load", inner.Reports("warning")[0].ID)
	require.Equal(t, []any{int64(2)}, inner.Reports("count")[0].Params)
}

func TestSetupWithoutEndpoints(t *testing.T) {
	tel, err := Setup(context.Background(), "test:telemetry", Config{})
	require.NoError(t, err)
	require.Nil(t, tel.TracerProvider)
	require.Nil(t, tel.MeterProvider)
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestInitSlogTeesToFile(t *testing.T) {
	previous := slog.Default()
	defer slog.SetDefault(previous)

	logFile := filepath.Join(t.TempDir(), "report.log")
	closeLog, err := InitSlog(false, logFile)
	require.NoError(t, err)

	SlogAPI{}.ReportWarning("session.load", "corrupt cookie file")
	SlogAPI{}.ReportDebug("hidden below info")
	require.NoError(t, closeLog())

	contents, err := os.ReadFile(logFile)
	require.NoError(t, err)
	require.Contains(t, string(contents), "id=session.load")
	require.Contains(t, string(contents), `params.0="corrupt cookie file"`)
	require.NotContains(t, string(contents), "hidden below info")
}
