package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"identitysync/internal/backend"
	"identitysync/internal/config"
	"identitysync/internal/platform/logging"
	"identitysync/internal/session"
)

// The client signs in with a provider session, attaches the session token to
// backend calls and prints the synced user record.
func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	os.Exit(run(cfg, logger))
}

func run(cfg config.ClientConfig, logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher := session.NewIdPTokenFetcher(cfg.IdPAPIURL, cfg.IdPSecretKey, cfg.IdPSessionID)
	client := backend.New(cfg.BackendURL)
	feed := session.NewFeed()
	defer feed.Close()

	manager := session.NewManager(fetcher, client, feed, cfg.TokenTemplate, session.WithLogger(logger))

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	done := make(chan error, 1)
	go func() { done <- manager.Run(runCtx) }()

	code := lookupCurrentUser(ctx, manager, client, feed, logger)

	feed.Publish(session.Transition{SignedIn: false})
	cancelRun()
	if runErr := <-done; runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("session manager stopped", "error", runErr)
		code = 1
	}
	return code
}

func lookupCurrentUser(ctx context.Context, manager *session.Manager, client *backend.Client, feed *session.Feed, logger *slog.Logger) int {
	feed.Publish(session.Transition{SignedIn: true})

	readyCtx, cancelReady := context.WithTimeout(ctx, 30*time.Second)
	defer cancelReady()
	state, err := manager.WaitReady(readyCtx)
	if err != nil {
		logger.Error("session did not become ready", "error", err)
		return 1
	}
	logger.Info("session ready", "state", state.String())

	user, err := client.CurrentUser(ctx)
	switch {
	case errors.Is(err, backend.ErrNotSynced):
		logger.Warn("user has not been synced yet")
		return 0
	case errors.Is(err, backend.ErrUnauthenticated):
		logger.Error("backend rejected the session token")
		return 1
	case err != nil:
		logger.Error("failed to load current user", "error", err)
		return 1
	}
	logger.Info("current user", "id", user.ID, "subject_id", user.SubjectID, "email", user.Email)
	return 0
}
