package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const baseConfig = `{
	// comments are allowed
	credentials: { username: "20210001", password: "hunter2" },
	email: { sender: "bot@qq.com", password: "secret", receiver: "me@qq.com" },
	reports: [
		{ type: "zb", report: [{ content: "week one" }, { content: "week two" }] },
		{ type: "yb", report: [{ content: "month one" }] },
	],
}`

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	err := os.WriteFile(path, []byte(contents), 0600)
	if err != nil {
		t.Fatal(err)
	}
}

func TestReadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	writeFile(t, path, baseConfig)

	cfg, err := Read(path)
	require.NoError(t, err)

	require.Equal(t, "20210001", cfg.Credentials.Username)
	require.Equal(t, "https://jwxt.hbsy.cn", cfg.Portal.BaseUrl)
	require.Equal(t, 30, cfg.Portal.TimeoutSeconds)
	require.Equal(t, "2024", cfg.Portal.TermYear)
	require.Equal(t, "smtp.qq.com", cfg.Email.Server)
	require.Equal(t, 465, cfg.Email.Port)
	require.Equal(t, "0 8 * * 6", cfg.Schedule.Weekly)

	weekly, ok := cfg.Source("zb")
	require.True(t, ok)
	require.Equal(t, []string{"week one", "week two"}, weekly.Contents())

	_, ok = cfg.Source("xx")
	require.False(t, ok)
}

func TestReadMergesLocalOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.json5"), baseConfig)
	writeFile(t, filepath.Join(dir, "config.local.json5"), `{
		credentials: { password: "local-password" },
		portal: { base_url: "http://127.0.0.1:8080" },
	}`)

	cfg, err := Read(filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.Equal(t, "20210001", cfg.Credentials.Username)
	require.Equal(t, "local-password", cfg.Credentials.Password)
	require.Equal(t, "http://127.0.0.1:8080", cfg.Portal.BaseUrl)
	require.Equal(t, "http://ids.hbsy.cn", cfg.Portal.AuthUrl)
}

func TestReadMissing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "config.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	writeFile(t, path, `{
		reports: [{ type: "zb" }, { type: "zb" }, { type: "" }],
	}`)

	_, err := Read(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "credentials.username")
	require.Contains(t, err.Error(), `"zb" is duplicated`)
	require.Contains(t, err.Error(), "reports[2].type is required")
}
