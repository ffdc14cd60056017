package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xaenox/cara/internal/bot"
	"github.com/xaenox/cara/internal/consultation"
	"github.com/xaenox/cara/internal/conversation"
	"github.com/xaenox/cara/internal/session"
	"github.com/xaenox/cara/internal/storage"
	"github.com/xaenox/cara/pkg/config"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	configPath := "config.yaml"
	if path := os.Getenv("CARA_CONFIG"); path != "" {
		configPath = path
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", configPath))
	}

	configured, err := newLogger(cfg.Log)
	if err != nil {
		logger.Fatal("Failed to build logger", zap.Error(err), zap.String("level", cfg.Log.Level))
	}
	logger = configured
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage and authentication
	authStore := session.NewAuthStore()
	gw, auth, err := newStore(cfg, authStore, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err), zap.String("driver", cfg.Store.Driver))
	}
	defer gw.Close()

	holder := session.NewHolder(auth, authStore, session.Credentials{
		Email:    cfg.Auth.Email,
		Password: cfg.Auth.Password,
		Name:     cfg.Auth.Name,
	}, logger)
	defer holder.Close()

	// A failed sign-in is not fatal; /retry can recover it.
	if err := holder.Init(ctx); err != nil {
		logger.Warn("Starting without a session", zap.Error(err))
	}
	go refreshLoop(ctx, holder, cfg.Auth.TokenTTL/2, logger)

	b, err := bot.New(cfg.Telegram.Token, cfg.Telegram.Debug, bot.Services{
		Session:    holder,
		Repository: consultation.NewRepository(gw, cfg.Consultation.Collection, logger),
		Types:      consultation.NewTypeMap(cfg.Consultation.TypeAliases, cfg.Consultation.AcceptedTypes),
		Wizard: consultation.WizardConfig{
			MaxAttachmentSize: cfg.Consultation.MaxAttachmentSize,
			MaxAttachments:    cfg.Consultation.MaxAttachments,
		},
		Backend:    newBackend(cfg, logger),
		ReplyDelay: cfg.Chat.ReplyDelay,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}
	defer b.Close()

	logger.Info("CARA bot started",
		zap.String("driver", cfg.Store.Driver),
		zap.String("chat_backend", cfg.Chat.Backend))

	if err := b.Start(ctx); err != nil {
		logger.Fatal("Bot error", zap.Error(err))
	}
	logger.Info("CARA bot stopped")
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.Development {
		zapConfig = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zapConfig.Level = level
	return zapConfig.Build()
}

func newStore(cfg *config.Config, tokens storage.TokenSource, logger *zap.Logger) (storage.Gateway, storage.Authenticator, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		logger.Info("Using PostgreSQL storage")
		pg, err := storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		auth, err := storage.NewLocalAuth(pg, cfg.Auth.UsersCollection, []byte(cfg.Auth.TokenSecret), cfg.Auth.TokenTTL)
		if err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pg, auth, nil

	case config.DriverMemory:
		logger.Info("Using in-memory storage")
		mem := storage.NewMemoryStorage()
		auth, err := storage.NewLocalAuth(mem, cfg.Auth.UsersCollection, []byte(cfg.Auth.TokenSecret), cfg.Auth.TokenTTL)
		if err != nil {
			return nil, nil, err
		}
		return mem, auth, nil

	default:
		logger.Info("Using PocketBase storage", zap.String("base_url", cfg.PocketBase.BaseURL))
		pb := storage.NewPocketBase(storage.PocketBaseConfig{
			BaseURL:         cfg.PocketBase.BaseURL,
			Timeout:         cfg.PocketBase.Timeout,
			UsersCollection: cfg.Auth.UsersCollection,
		}, tokens, logger)
		return pb, pb, nil
	}
}

func newBackend(cfg *config.Config, logger *zap.Logger) conversation.Backend {
	if cfg.Chat.Backend == config.BackendOpenAI {
		logger.Info("Using OpenAI chat backend", zap.String("model", cfg.OpenAI.Model))
		return conversation.NewOpenAIBackend(conversation.OpenAIConfig{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
			MaxHistory:  cfg.OpenAI.MaxHistory,
		}, logger)
	}
	return conversation.NewCannedBackend()
}

// refreshLoop renews the session token while the process runs.
func refreshLoop(ctx context.Context, holder *session.Holder, every time.Duration, logger *zap.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !holder.IsAuthenticated() {
				continue
			}
			if err := holder.Refresh(ctx); err != nil {
				logger.Warn("Token refresh failed", zap.Error(err))
			}
		}
	}
}
