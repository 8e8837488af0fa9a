// ABOUTME: AppContext wires every long-lived component once from configuration.
// ABOUTME: Handlers receive it explicitly; nothing is stored in package-level state.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cappelaere/wai/internal/capability"
	"github.com/cappelaere/wai/internal/config"
	"github.com/cappelaere/wai/internal/conversation"
	"github.com/cappelaere/wai/internal/dispatch"
	"github.com/cappelaere/wai/internal/mcp"
	"github.com/cappelaere/wai/internal/metrics"
	"github.com/cappelaere/wai/internal/model"
	"github.com/cappelaere/wai/internal/providers"
	"github.com/cappelaere/wai/internal/records"
	"github.com/cappelaere/wai/internal/session"
)

// AppContext holds the components shared by every transport.
type AppContext struct {
	Registry    *capability.Registry
	Dispatcher  *dispatch.Manager
	Model       model.Client
	Sessions    session.Store
	Engine      *conversation.Engine
	Records     *records.Repository
	Metrics     *metrics.Metrics
	Broadcaster *conversation.Broadcaster
	MCP         *mcp.Server
}

// Close releases the resources the context owns.
func (a *AppContext) Close() error {
	var errs []error
	if a.Broadcaster != nil {
		a.Broadcaster.Close()
	}
	if a.Records != nil {
		a.Records.Close()
	}
	if a.Sessions != nil {
		errs = appendCloseError(errs, "session store close", a.Sessions.Close())
	}
	return errors.Join(errs...)
}

// openSessions builds the configured session store and, for Redis, the
// distributed locker that shares its connection.
func openSessions(ctx context.Context, cfg config.SessionsConfig, logger *slog.Logger) (session.Store, conversation.Locker, error) {
	opts := session.Options{
		Timeout:    cfg.Timeout,
		MaxHistory: cfg.MaxHistory,
		Logger:     logger,
	}
	switch cfg.Backend {
	case config.BackendSQLite:
		s, err := session.NewSQLite(cfg.Path, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite sessions: %w", err)
		}
		return s, nil, nil
	case config.BackendRedis:
		s, err := session.NewRedisFromURL(ctx, cfg.RedisURL, cfg.RedisPrefix, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("opening redis sessions: %w", err)
		}
		if !cfg.DistributedLock {
			return s, nil, nil
		}
		return s, session.NewRedisLocker(s.Client(), cfg.RedisPrefix), nil
	default:
		return session.NewMemory(opts), nil, nil
	}
}

// NewAppContext builds and initializes every component. Provider
// initialization failure aborts boot; whatever was already opened is closed.
func NewAppContext(ctx context.Context, cfg *config.Config, version string, logger *slog.Logger) (_ *AppContext, err error) {
	app := &AppContext{Metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	store, locker, err := openSessions(ctx, cfg.Sessions, logger)
	if err != nil {
		return nil, err
	}
	app.Sessions = store

	app.Records = records.NewRepository(records.Options{
		Root:      cfg.Records.Root,
		CacheTTL:  cfg.Records.CacheTTL,
		CacheSize: cfg.Records.CacheSize,
		Logger:    logger,
	})

	set := providers.NewSet(providers.Options{
		Records:  app.Records,
		Sessions: store,
		Logger:   logger,
	})
	app.Registry = capability.NewRegistry(logger)
	app.Dispatcher = dispatch.New(dispatch.Config{
		Registry:  app.Registry,
		Providers: set.Providers(),
		Logger:    logger,
		Metrics:   app.Metrics,
		Workers:   cfg.Conversation.ToolWorkers,
		Timeout:   cfg.Conversation.ToolTimeout,
	})
	if err := app.Dispatcher.Initialize(ctx); err != nil {
		return nil, err
	}

	client := model.NewAnthropic(model.AnthropicConfig{
		APIKey:            cfg.Model.APIKey,
		Model:             cfg.Model.Name,
		MaxTokens:         cfg.Conversation.MaxTokens,
		RequestsPerMinute: cfg.Model.RequestsPerMinute,
		Timeout:           cfg.Model.Timeout,
		Logger:            logger,
	})
	if !client.Ready() {
		logger.Warn("no model API key configured; chat requests will fail until ANTHROPIC_API_KEY is set")
	}
	app.Model = client

	app.Broadcaster = conversation.NewBroadcaster(logger)
	app.Engine, err = conversation.New(conversation.Config{
		Sessions:      store,
		Dispatcher:    app.Dispatcher,
		Model:         client,
		Logger:        logger,
		Metrics:       app.Metrics,
		Broadcaster:   app.Broadcaster,
		Locker:        locker,
		LockTTL:       cfg.Conversation.LockTTL,
		MaxIterations: cfg.Conversation.MaxIterations,
		HistoryWindow: cfg.Conversation.HistoryWindow,
		MaxTokens:     cfg.Conversation.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("creating conversation engine: %w", err)
	}

	app.MCP, err = mcp.NewServer(mcp.Config{
		Dispatcher: app.Dispatcher,
		Logger:     logger,
		Version:    version,
	})
	if err != nil {
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	return app, nil
}
