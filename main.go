package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dskvich/gemini-telegram-bot/pkg/api"
	"github.com/dskvich/gemini-telegram-bot/pkg/auth"
	"github.com/dskvich/gemini-telegram-bot/pkg/config"
	"github.com/dskvich/gemini-telegram-bot/pkg/database"
	"github.com/dskvich/gemini-telegram-bot/pkg/dispatcher"
	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
	"github.com/dskvich/gemini-telegram-bot/pkg/gemini"
	"github.com/dskvich/gemini-telegram-bot/pkg/logger"
	"github.com/dskvich/gemini-telegram-bot/pkg/metrics"
	"github.com/dskvich/gemini-telegram-bot/pkg/normalizer"
	"github.com/dskvich/gemini-telegram-bot/pkg/openai"
	"github.com/dskvich/gemini-telegram-bot/pkg/reply"
	"github.com/dskvich/gemini-telegram-bot/pkg/repository"
	"github.com/dskvich/gemini-telegram-bot/pkg/services"
	"github.com/dskvich/gemini-telegram-bot/pkg/session"
	"github.com/dskvich/gemini-telegram-bot/pkg/telegram"
	"github.com/dskvich/gemini-telegram-bot/pkg/telegram/handlers"
	"github.com/dskvich/gemini-telegram-bot/pkg/workers"
)

const (
	backendGemini = "gemini"
	backendOpenAI = "openai"

	storageMemory   = "memory"
	storagePostgres = "postgres"
	storageRedis    = "redis"
)

type Config struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN,required"`
	Backend          string `env:"BACKEND" envDefault:"gemini"`
	GeminiAPIKey     string `env:"GEMINI_API_KEY"`
	OpenAIToken      string `env:"OPEN_AI_TOKEN"`

	ConfigPath string `env:"CONFIG_PATH" envDefault:"config/config.json"`
	PromptsDir string `env:"PROMPTS_DIR" envDefault:"system"`

	Storage    string        `env:"HISTORY_STORAGE" envDefault:"memory"`
	HistoryTTL time.Duration `env:"HISTORY_TTL" envDefault:"0s"`
	PgURL      string        `env:"DATABASE_URL"`
	PgHost     string        `env:"DB_HOST" envDefault:"localhost:65432"`
	RedisURL   string        `env:"REDIS_URL"`

	RetryMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"4"`
	RetryBaseDelay   time.Duration `env:"RETRY_BASE_DELAY" envDefault:"3s"`
	RetryMultiplier  float64       `env:"RETRY_MULTIPLIER" envDefault:"2"`
	RetryMaxDelay    time.Duration `env:"RETRY_MAX_DELAY" envDefault:"60s"`
	RetryJitter      float64       `env:"RETRY_JITTER" envDefault:"0.2"`

	ReplyWindow       int    `env:"REPLY_WINDOW" envDefault:"50"`
	SessionQueueLimit int    `env:"SESSION_QUEUE_LIMIT" envDefault:"3"`
	MaxFileBytes      int    `env:"MAX_FILE_BYTES" envDefault:"20971520"`
	AdminAddr         string `env:"ADMIN_ADDR" envDefault:":8080"`
}

func (c Config) validate() error {
	switch c.Backend {
	case backendGemini:
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required for the gemini backend")
		}
	case backendOpenAI:
		if c.OpenAIToken == "" {
			return errors.New("OPEN_AI_TOKEN is required for the openai backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	switch c.Storage {
	case storageMemory, storagePostgres:
	case storageRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for redis storage")
		}
	default:
		return fmt.Errorf("unknown history storage %q", c.Storage)
	}

	if c.MaxFileBytes <= 0 {
		return errors.New("MAX_FILE_BYTES must be positive")
	}
	return c.policy().Validate()
}

func (c Config) policy() dispatcher.Policy {
	return dispatcher.Policy{
		MaxAttempts: c.RetryMaxAttempts,
		BaseDelay:   c.RetryBaseDelay,
		Multiplier:  c.RetryMultiplier,
		MaxDelay:    c.RetryMaxDelay,
		Jitter:      c.RetryJitter,
	}
}

func parseConfig() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing env config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("validating env config: %w", err)
	}
	return cfg, nil
}

type settingsStore interface {
	services.SettingsRepository
	session.SettingsRepository
}

func main() {
	slog.SetDefault(slog.New(logger.NewHandler(os.Stderr, logger.DefaultOptions)))

	if err := runMain(); err != nil {
		slog.Error("shutting down due to error", logger.Err(err))
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func runMain() error {
	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	workerGroup, err := setupWorkers(ctx)
	if err != nil {
		return err
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGHUP, syscall.SIGTERM)
		select {
		case s := <-sigCh:
			slog.Info("shutting down due to signal", "signal", s.String())
			cancelFn()
		case <-ctx.Done():
		}
	}()

	return workerGroup.Start(ctx)
}

func setupWorkers(ctx context.Context) (workers.Group, error) {
	cfg, err := parseConfig()
	if err != nil {
		return nil, err
	}

	var worker workers.Worker
	var workerGroup workers.Group

	snapshot, err := config.Load(cfg.ConfigPath, cfg.PromptsDir)
	if err != nil {
		return nil, fmt.Errorf("loading bot config: %w", err)
	}
	slog.Info("bot config loaded", "model", snapshot.ModelName, "prompts", snapshot.PromptNames(), "users", len(snapshot.AllowedUsers))
	holder := config.NewHolder(snapshot)

	if worker, err = config.NewWatcher(cfg.ConfigPath, cfg.PromptsDir, holder); err == nil {
		workerGroup = append(workerGroup, worker)
	} else {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	d, err := dispatcher.New(backend, cfg.policy(), dispatcher.WithObserver(m))
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	historyRepo, settingsRepo, err := newStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry := session.NewRegistry(
		session.WithRepository(historyRepo),
		session.WithSettings(settingsRepo),
		session.WithQueueLimit(cfg.SessionQueueLimit),
		session.WithIdleTTL(cfg.HistoryTTL),
		session.WithObserver(m),
	)

	telegramClient, err := telegram.NewClient(cfg.TelegramBotToken, int64(cfg.MaxFileBytes))
	if err != nil {
		return nil, fmt.Errorf("creating telegram client: %w", err)
	}

	responseCh := make(chan domain.Response)

	chatService := services.NewChatService(
		registry,
		normalizer.New(cfg.MaxFileBytes),
		reply.NewResolver(cfg.ReplyWindow),
		d,
		holder,
		m,
		responseCh,
	)

	commandService := services.NewCommandService(
		registry,
		settingsRepo,
		holder,
		responseCh,
	)

	handler := telegram.NewRegistry(
		handlers.NewStart(commandService),
		handlers.NewClearChat(commandService),
		handlers.NewSystemPrompt(commandService),
		handlers.NewGenerateContent(chatService, telegramClient, responseCh),
	).WithFallback(handlers.NewUnknownCommand(responseCh))

	if worker, err = workers.
		NewTelegramUpdateListener(
			telegramClient,
			auth.NewAuthenticator(holder),
			handler,
			chatService,
			responseCh,
		); err == nil {
		workerGroup = append(workerGroup, worker)
	} else {
		return nil, err
	}

	if cfg.AdminAddr != "" {
		workerGroup = append(workerGroup, workers.NewHTTPServer(cfg.AdminAddr, api.NewRouter(holder, registry, reg)))
	}

	return workerGroup, nil
}

func newBackend(ctx context.Context, cfg Config) (dispatcher.Backend, error) {
	switch cfg.Backend {
	case backendOpenAI:
		client, err := openai.NewClient(cfg.OpenAIToken)
		if err != nil {
			return nil, fmt.Errorf("creating open ai client: %w", err)
		}
		return client, nil
	default:
		client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("creating gemini client: %w", err)
		}
		return client, nil
	}
}

func newStores(ctx context.Context, cfg Config) (session.Repository, settingsStore, error) {
	switch cfg.Storage {
	case storagePostgres:
		db, err := database.NewPostgres(cfg.PgURL, cfg.PgHost)
		if err != nil {
			return nil, nil, fmt.Errorf("creating db: %w", err)
		}
		return repository.NewPostgresHistoryRepository(db), repository.NewPostgresSettingsRepository(db), nil
	case storageRedis:
		client, err := database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("creating redis client: %w", err)
		}
		return repository.NewRedisHistoryRepository(client, cfg.HistoryTTL), repository.NewRedisSettingsRepository(client), nil
	default:
		return repository.NewMemoryHistoryRepository(cfg.HistoryTTL), repository.NewMemorySettingsRepository(), nil
	}
}
