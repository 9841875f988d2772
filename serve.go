package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"modalhub/internal/api"
	"modalhub/internal/config"
	"modalhub/internal/logging"
	"modalhub/internal/metrics"
	"modalhub/internal/redis"
	"modalhub/internal/service/ai"
	"modalhub/internal/service/assistant"
	"modalhub/internal/service/todo"
	"modalhub/internal/storage"
	"modalhub/internal/worker"
)

func runServe(cmd *cobra.Command, _ []string) error {
	path := configPath
	if path == "" {
		path = os.Getenv(config.ConfigPathEnv)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Fields: map[string]string{"service": "modalhub", "version": version},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	todos, closeTodos, err := openTodoStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTodos()

	m := metrics.New()
	// export every intent series from the start, zeros included
	for _, intent := range assistant.Intents() {
		m.IntentsTotal.WithLabelValues(string(intent))
	}

	sessions, closeSessions, err := openSessionStore(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer closeSessions()

	opts := assistant.Options{
		Policy: assistant.Policy{
			Timeout: cfg.Assistant.GenerateTimeout,
			Retries: cfg.Assistant.GenerateRetries,
			Backoff: cfg.Assistant.RetryBackoff,
		},
		Logger:   logger,
		Recorder: m,
	}
	if cfg.Workers.MaxWorkers > 0 {
		d := worker.NewDispatcher(worker.Config{
			MinWorkers:  cfg.Workers.MinWorkers,
			MaxWorkers:  cfg.Workers.MaxWorkers,
			QueueSize:   cfg.Workers.QueueSize,
			IdleTimeout: cfg.Workers.IdleTimeout,
		}, logger)
		defer d.Stop()
		opts.Dispatcher = d
	}
	if provider := cfg.Assistant.ConversationProvider; provider != "" {
		gen, err := newConversationGenerator(ctx, cfg, provider, todos, logger)
		if err != nil {
			return err
		}
		opts.Generators = map[assistant.Intent]assistant.Generator{assistant.IntentConversation: gen}
		logger.Info(ctx, "conversation model enabled", zap.String("provider", provider))
	}
	svc := assistant.NewService(sessions, opts)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	api.NewHandler(todos, svc, m, logger).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "server listening", zap.String("addr", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openTodoStore(ctx context.Context, cfg *config.Config) (todo.Store, func(), error) {
	backend := strings.ToLower(cfg.Storage.Backend)
	if backend == config.BackendMemory {
		return todo.NewMemoryStore(cfg.Todo.Seed...), func() {}, nil
	}

	db, err := storage.Open(backend, cfg.Storage.Databases[backend])
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	closeDB := func() { _ = db.Close() }
	if err := storage.Migrate(db, backend); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	store := todo.NewSQLStore(db)
	if err := store.Seed(ctx, cfg.Todo.Seed...); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("seed todos: %w", err)
	}
	return store, closeDB, nil
}

func openSessionStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (assistant.SessionStore, func(), error) {
	retention := assistant.Retention{TTL: cfg.Sessions.TTL, MaxHistory: cfg.Sessions.MaxHistory}
	if strings.ToLower(cfg.Sessions.Backend) == config.BackendRedis {
		client, err := redis.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("create redis client: %w", err)
		}
		return assistant.NewRedisStore(client, retention), func() { _ = client.Close() }, nil
	}

	store := assistant.NewMemoryStore(retention)
	janitorCtx, cancel := context.WithCancel(ctx)
	store.StartJanitor(janitorCtx, cfg.Sessions.CleanInterval, m.SessionsSwept)
	return store, cancel, nil
}

func newConversationGenerator(ctx context.Context, cfg *config.Config, provider string, todos todo.Store, logger *logging.Logger) (assistant.Generator, error) {
	chatModel, err := ai.NewChatModel(ctx, provider, cfg.Providers[provider])
	if err != nil {
		return nil, fmt.Errorf("init chat model: %w", err)
	}
	toolLogger := logger.Named("tools").With(zap.String("provider", provider))
	tools := ai.InitTools(ctx, cfg.Assistant.Tools, todos, toolLogger)
	gen, err := ai.NewChatGenerator(ctx, chatModel, ai.ChatOptions{
		SystemPrompt: cfg.Assistant.SystemPrompt,
		Tools:        tools,
	})
	if err != nil {
		return nil, fmt.Errorf("init chat generator: %w", err)
	}
	return gen, nil
}
