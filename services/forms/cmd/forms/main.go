package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"streamform/internal/actortoken"
	"streamform/internal/ratelimit"
	"streamform/internal/util"
	"streamform/pkg/steps"
	"streamform/pkg/storage"
	"streamform/pkg/store"
	"streamform/services/forms/internal/app"
	"streamform/services/forms/internal/config"
	"streamform/services/forms/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}
	tokenVerifier, err := actortoken.NewVerifier(actortoken.Config{Secret: cfg.AuthTokenSecret})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	var files storage.FileStorage
	switch cfg.StorageBackend {
	case "minio":
		files, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init minio storage: %v", err)
		}
	default:
		files, err = storage.NewFileStore(cfg.UploadDir, cfg.FilesBaseURL)
		if err != nil {
			log.Fatalf("failed to init disk storage: %v", err)
		}
	}

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init postgres store: %v", err)
	}

	engine, err := app.New(app.Config{
		Store: dataStore,
		Files: files,
		State: steps.NewRedisStateStore(cfg.RedisAddr, cfg.RedisPassword, sessionTTL),
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.SubmitRateLimitPerMinute > 0 {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "", cfg.SubmitRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	srvCfg := server.Config{
		App:               engine,
		TokenVerifier:     tokenVerifier,
		Limiter:           limiter,
		TrustedProxies:    trustedProxies,
		SessionTTL:        sessionTTL,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		AllowedExtensions: cfg.AllowedExtensions,
	}
	if cfg.StorageBackend == "" || cfg.StorageBackend == "disk" {
		srvCfg.FilesDir = cfg.UploadDir
		srvCfg.FilesBaseURL = cfg.FilesBaseURL
	}
	httpServer, err := server.New(srvCfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("forms server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
