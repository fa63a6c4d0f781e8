package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/stories/internal/captions"
	"github.com/stwalsh4118/stories/internal/config"
)

const sampleSRT = `1
00:00:00,000 --> 00:00:02,000
Hello there

2
00:00:02,500 --> 00:00:04,000
Second line
`

func execute(t *testing.T, args ...string) string {
	t.Helper()
	jsonOut = false
	captionsAt = -1
	playlistPriority = ""
	logLevel = ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func writeSRT(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.srt")
	require.NoError(t, os.WriteFile(path, []byte(sampleSRT), 0644))
	return path
}

func TestCaptionsCommand(t *testing.T) {
	path := writeSRT(t)

	t.Run("lists cues", func(t *testing.T) {
		out := execute(t, "captions", path)
		assert.Contains(t, out, "0:00 - 0:02  Hello there")
		assert.Contains(t, out, "0:02 - 0:04  Second line")
	})

	t.Run("json", func(t *testing.T) {
		out := execute(t, "captions", "--json", path)
		var track captions.Track
		require.NoError(t, json.Unmarshal([]byte(out), &track))
		require.Len(t, track, 2)
		assert.Equal(t, "Second line", track[1].Text)
	})

	t.Run("at position", func(t *testing.T) {
		out := execute(t, "captions", "--at", "3", path)
		assert.Equal(t, "Second line\n", out)
	})
}

func TestVersionCommand(t *testing.T) {
	out := execute(t, "version", "--json")

	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info["version"])
	assert.NotEmpty(t, info["go_version"])
}

func TestActivationSettings(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	s := activationSettings(cfg.Activation)
	assert.Equal(t, cfg.Activation.ActivateRatio, s.ActivateRatio)
	assert.Equal(t, cfg.Activation.ResetRatio, s.ResetRatio)
	assert.Equal(t, cfg.Activation.WindowRadius, s.WindowRadius)
	assert.Equal(t, cfg.Activation.MaxRetryAttempts, s.MaxRetryAttempts)
	assert.Equal(t, cfg.Activation.RetryDelay, s.RetryDelay)
	assert.Equal(t, cfg.Activation.StallTimeout, s.StallTimeout)
	assert.Equal(t, cfg.Activation.UnmuteHintDuration, s.UnmuteHintDuration)
}

func TestNewService(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	svc := newService(cfg)
	t.Cleanup(svc.sessions.Stop)

	w := httptest.NewRecorder()
	svc.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// no default feed is configured
	w = httptest.NewRecorder()
	svc.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApplyReload_RunsHooks(t *testing.T) {
	reloadMu.Lock()
	saved := reloadHooks
	reloadHooks = nil
	reloadMu.Unlock()
	t.Cleanup(func() {
		reloadMu.Lock()
		reloadHooks = saved
		reloadMu.Unlock()
		logLevel = ""
	})

	var seen []string
	onReload(func(c *config.Config) { seen = append(seen, "first:"+c.Logging.Level) })
	onReload(func(c *config.Config) { seen = append(seen, "second:"+c.Logging.Level) })

	next, err := config.Load()
	require.NoError(t, err)
	next.Logging.Level = "warn"

	logLevel = "error"
	applyReload(next)

	// the --log-level flag wins over the reloaded file
	assert.Equal(t, []string{"first:error", "second:error"}, seen)
}
