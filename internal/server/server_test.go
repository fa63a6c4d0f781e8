package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/stories/internal/catalog"
	"github.com/stwalsh4118/stories/internal/config"
	"github.com/stwalsh4118/stories/internal/session"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Host: "127.0.0.1", Port: 8080, ReadTimeout: time.Second},
		Logging: config.LoggingConfig{Level: "info"},
		Session: config.SessionConfig{PingInterval: time.Second},
	}
}

func TestServer_Routes(t *testing.T) {
	manager := session.NewManager(session.Options{Clock: clockwork.NewFakeClock()})
	srv := New(testConfig(), manager, catalog.NewBreaker(0, 0, clockwork.NewFakeClock()))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{name: "health", method: http.MethodGet, path: "/api/health", want: http.StatusOK},
		{name: "unknown session", method: http.MethodGet, path: "/api/sessions/nope/view", want: http.StatusNotFound},
		{name: "unknown route", method: http.MethodGet, path: "/api/feeds", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestServer_CORS(t *testing.T) {
	manager := session.NewManager(session.Options{Clock: clockwork.NewFakeClock()})
	srv := New(testConfig(), manager, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://publisher.example.com")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_ShutdownWithoutStart(t *testing.T) {
	manager := session.NewManager(session.Options{Clock: clockwork.NewFakeClock()})
	srv := New(testConfig(), manager, nil)

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.ErrorIs(t, manager.Start(), session.ErrManagerStopped)
}
