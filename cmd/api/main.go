package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/fin-onboard/backend/internal/config"
	"github.com/zhouzirui/fin-onboard/backend/internal/handler"
	"github.com/zhouzirui/fin-onboard/backend/internal/observability"
	consentservice "github.com/zhouzirui/fin-onboard/backend/internal/service/consent"
	"github.com/zhouzirui/fin-onboard/backend/internal/service/gateway"
	"github.com/zhouzirui/fin-onboard/backend/internal/service/onboarding"
	"github.com/zhouzirui/fin-onboard/backend/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	baseLogger, err := observability.NewLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer baseLogger.Sync()
	zap.ReplaceGlobals(baseLogger)
	logger := baseLogger.Sugar()

	kv, closeStore, err := openStorage(cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("failed to open storage: %v", err)
	}
	defer closeStore()

	// Consent classifier (LLM-based with keyword fallback)
	consentCfg := consentservice.Config{Enabled: cfg.AI.ConsentLLMEnabled}
	var chatModel model.ChatModel
	if cfg.AI.Enabled() && consentCfg.Enabled {
		chatModel, err = cfg.AI.NewChatModel(ctx)
		if err != nil {
			logger.Warnf("failed to initialize Ark chat model: %v", err)
			logger.Info("continuing with keyword consent detection - 请检查 Ark 模型相关环境变量")
		}
	} else if consentCfg.Enabled {
		logger.Info("Ark 凭证未配置，同意判定使用关键词规则")
	}
	consentSvc, err := consentservice.NewService(ctx, chatModel, consentCfg, logger)
	if err != nil {
		logger.Warnf("failed to initialize consent service: %v", err)
		consentSvc = nil
	} else if consentSvc.Enabled() {
		logger.Info("Consent classifier service enabled")
	}

	gatewayCfg := gateway.Config{
		UnderstanderURL:   cfg.Services.UnderstanderURL,
		AuthURL:           cfg.Services.AuthURL,
		RecommenderURL:    cfg.Services.RecommenderURL,
		UnderstandTimeout: cfg.Services.UnderstandTimeout,
		BootstrapTimeout:  cfg.Services.BootstrapTimeout,
		ProfileTimeout:    cfg.Services.ProfileTimeout,
		RecommendTimeout:  cfg.Services.RecommendTimeout,
	}

	ctrlCfg := onboarding.DefaultConfig()
	ctrlCfg.WelcomeMessage = cfg.Chat.WelcomeMessage
	ctrlCfg.ReplyDelay = cfg.Chat.ReplyDelay
	ctrlCfg.ConfirmRecommendations = cfg.Chat.ConfirmRecommendations
	ctrlCfg.SampleData = cfg.Chat.MockData
	ctrlCfg.Deadlines = onboarding.DeadlinesFrom(gatewayCfg)

	registryCfg := onboarding.RegistryConfig{
		Controller: ctrlCfg,
		Gateway:    gatewayCfg,
		Storage:    kv,
		Logger:     logger,
	}
	if consentSvc != nil {
		registryCfg.Consent = consentSvc
	}
	registry := onboarding.NewRegistry(registryCfg)
	defer registry.Close()

	router := handler.NewRouter(registry, logger)

	startServer(ctx, cfg.Server, router, logger)
}

// openStorage returns the shared KV store and its cleanup.
func openStorage(cfg config.StorageConfig, logger *zap.SugaredLogger) (storage.KV, func(), error) {
	if cfg.InMemory() {
		logger.Info("using in-memory storage, sessions will not survive a restart")
		return storage.NewMemoryStore(), func() {}, nil
	}

	store, err := storage.NewSQLiteStore(cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	logger.Infof("using sqlite storage dsn=%s", cfg.DSN)
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Warnf("failed to close storage: %v", err)
		}
	}, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.SugaredLogger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Infof("onboarding backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		logger.Errorf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
