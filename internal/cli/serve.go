package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stwalsh4118/stories/internal/activation"
	"github.com/stwalsh4118/stories/internal/catalog"
	"github.com/stwalsh4118/stories/internal/config"
	"github.com/stwalsh4118/stories/internal/fetch"
	"github.com/stwalsh4118/stories/internal/logger"
	"github.com/stwalsh4118/stories/internal/netquality"
	"github.com/stwalsh4118/stories/internal/overlay"
	"github.com/stwalsh4118/stories/internal/server"
	"github.com/stwalsh4118/stories/internal/session"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the widget service",
	Long:  `Starts the HTTP API the browser adapter talks to and runs until interrupted.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// service is everything serve builds from configuration
type service struct {
	client   *catalog.Client
	breaker  *catalog.Breaker
	sessions *session.Manager
	server   *server.Server
}

func newCatalogClient(c *config.Config) (*catalog.Client, *catalog.Breaker) {
	fetcher := fetch.New(fetch.Options{
		MaxRetries: c.Fetch.MaxRetries,
		BaseDelay:  c.Fetch.BaseDelay,
		Cache:      c.Fetch.Cache,
		Client:     &http.Client{Timeout: c.Fetch.Timeout},
	})
	breaker := catalog.NewBreaker(catalog.DefaultFailureThreshold, catalog.DefaultResetTimeout, nil)
	client := catalog.NewClient(catalog.Options{
		PlaylistServiceURL: c.Playlist.ServiceURL,
		MediaServiceURL:    c.Playlist.MediaServiceURL,
		Fetcher:            fetcher,
		Breaker:            breaker,
	})
	return client, breaker
}

func activationSettings(a config.ActivationConfig) activation.Settings {
	return activation.Settings{
		ActivateRatio:      a.ActivateRatio,
		ResetRatio:         a.ResetRatio,
		ResetMinPosition:   a.ResetMinPosition,
		WindowRadius:       a.WindowRadius,
		Preload:            a.Preload,
		MaxRetryAttempts:   a.MaxRetryAttempts,
		RetryDelay:         a.RetryDelay,
		StallTimeout:       a.StallTimeout,
		UnmuteDelay:        a.UnmuteDelay,
		UnmuteHintDuration: a.UnmuteHintDuration,
	}
}

func newService(c *config.Config) *service {
	client, breaker := newCatalogClient(c)
	sessions := session.NewManager(session.Options{
		Settings:          activationSettings(c.Activation),
		Catalog:           client,
		Loader:            catalog.NewLoader(client, c.Playlist.ReloadInterval, nil),
		Advisor:           netquality.NewAdvisor(c.Network.DefaultBandwidth, c.Network.HighQualityDownlink),
		Overlay:           overlay.FromConfig(c.Overlay, c.Features),
		DefaultPlaylistID: c.Playlist.DefaultID,
		DefaultMediaID:    c.Playlist.DefaultMediaID,
		IdleTimeout:       c.Session.IdleTimeout,
		CleanupInterval:   c.Session.CleanupInterval,
	})
	return &service{
		client:   client,
		breaker:  breaker,
		sessions: sessions,
		server:   server.New(c, sessions, breaker),
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	svc := newService(Config())

	// overlay edits apply to sessions created after the change
	onReload(func(next *config.Config) {
		svc.sessions.SetOverlay(overlay.FromConfig(next.Overlay, next.Features))
	})

	errCh := make(chan error, 1)
	go func() {
		if err := svc.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err, ok := <-errCh:
		if ok {
			svc.sessions.Stop()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return svc.server.Shutdown(ctx)
}
