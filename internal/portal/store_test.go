package portal

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCookieStoreRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "cookies.json")
	portal, _ := url.Parse("https://jwxt.example.com/jwapp/sys/homeapp/home/index.html")
	now := time.Now()

	store, err := newCookieStore(path)
	require.NoError(t, err)
	store.SetCookies(portal, []*http.Cookie{
		{Name: "JSESSIONID", Value: "abc", Path: "/"},
		{Name: "remember", Value: "yes", Path: "/", Expires: now.Add(time.Hour)},
		{Name: "stale", Value: "old", Path: "/", Expires: now.Add(time.Minute)},
	})
	require.NoError(t, store.Save(now))

	restored, err := newCookieStore(path)
	require.NoError(t, err)
	found, err := restored.Load(now.Add(30 * time.Minute))
	require.NoError(t, err)
	require.True(t, found)

	got := NewCookieSet(restored.Cookies(portal)).Map()
	require.Equal(t, map[string]string{"JSESSIONID": "abc", "remember": "yes"}, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files may be left behind")
}

func TestCookieStoreLoad(t *testing.T) {
	dir := t.TempDir()

	store, err := newCookieStore(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	found, err := store.Load(time.Now())
	require.NoError(t, err)
	require.False(t, found)

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0600))
	store, err = newCookieStore(corrupt)
	require.NoError(t, err)
	_, err = store.Load(time.Now())
	require.Error(t, err)

	future := filepath.Join(dir, "future.json")
	require.NoError(t, os.WriteFile(future, []byte(`{"version": 99, "cookies": []}`), 0600))
	store, err = newCookieStore(future)
	require.NoError(t, err)
	_, err = store.Load(time.Now())
	require.ErrorContains(t, err, "version 99")
}
