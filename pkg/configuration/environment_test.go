package configuration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestLoadEnv_LoadsExistingFiles(t *testing.T) {
	tmp := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmp, ".env.local"), []byte("WORKTRACK_TEST_ENV_LOAD=ok\n"), 0o644))

	origWd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	require.NoError(t, os.Chdir(tmp))

	_ = os.Unsetenv("WORKTRACK_TEST_ENV_LOAD")

	n, err := LoadEnv([]string{".env", ".env.local"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "ok", os.Getenv("WORKTRACK_TEST_ENV_LOAD"))
}

func TestLoadEnv_NoFiles(t *testing.T) {
	tmp := t.TempDir()
	origWd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	require.NoError(t, os.Chdir(tmp))

	n, err := LoadEnv([]string{".env", ".env.local"})
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestRateLimitOptions_Validate(t *testing.T) {
	opts := RateLimitOptions{GlobalRPS: -1}
	require.Error(t, opts.Validate())

	opts = RateLimitOptions{GlobalRPS: 2000000}
	require.Error(t, opts.Validate())

	opts = RateLimitOptions{GlobalRPS: 100}
	require.NoError(t, opts.Validate())
}

func TestLogrusLogLevel(t *testing.T) {
	c := &Configuration{LogLevel: "debug"}
	require.Equal(t, logrus.DebugLevel, c.LogrusLogLevel())

	c.LogLevel = "garbage"
	require.Equal(t, logrus.ErrorLevel, c.LogrusLogLevel())
}
