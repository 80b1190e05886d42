package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"

	"affidblock.io/internal/affidavit"
	"affidblock.io/internal/auth"
	"affidblock.io/internal/chain"
	"affidblock.io/internal/config"
	"affidblock.io/internal/httpapi"
	"affidblock.io/internal/identity"
	"affidblock.io/internal/migrate"
	"affidblock.io/internal/obs"
	"affidblock.io/internal/storage"
	"affidblock.io/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	var cfg config.Config
	if err := config.Load(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	tokens, err := auth.NewTokenService(cfg.JWTSecret, "affidblock", auth.WithTTL(cfg.TokenTTL))
	if err != nil {
		cancel()
		log.Fatalf("token service: %v", err)
	}

	// Storage: Postgres when a DSN is configured, in-memory otherwise
	// (useful for demos and local development).
	var (
		svc       affidavit.Service
		userStore identity.Store
		db        *sql.DB
	)
	if cfg.DatabaseURL != "" {
		pgStore, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			cancel()
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		if err := migrate.NewManager(pgStore.DB(), "migrations").Up(ctx); err != nil {
			cancel()
			log.Fatalf("apply migrations: %v", err)
		}
		svc = pgStore
		userStore = pgStore
		db = pgStore.DB()
	} else {
		mem := identity.NewMemory()
		userStore = mem
		svc = affidavit.NewInMemory(mem)
		obs.Info("running with in-memory stores; set DATABASE_URL for persistence", nil)
	}

	users := identity.NewService(userStore, tokens)

	opts := []httpapi.Option{
		httpapi.WithVersion(version),
		httpapi.WithReadyProbe(httpapi.ReadyProbe{DB: db}),
		httpapi.WithCORSOrigins(cfg.CORSOrigins),
		httpapi.WithLimits(cfg.MaxBodyBytes, cfg.RateLimitRPS, cfg.RateLimitBurst),
	}

	if cfg.ChainRPCURL != "" && cfg.RegistryAddress != "" {
		chainClient, err := chain.Dial(ctx, cfg.ChainRPCURL, cfg.RegistryAddress, cfg.ChainPrivateKey)
		if err != nil {
			cancel()
			log.Fatalf("dial chain: %v", err)
		}
		defer chainClient.Close()
		if err := chainClient.Ping(ctx); err != nil {
			cancel()
			log.Fatalf("chain registry unreachable: %v", err)
		}
		opts = append(opts, httpapi.WithBridge(affidavit.NewBridge(svc, chainClient)))
		obs.Info("chain anchoring enabled", map[string]any{"registry": cfg.RegistryAddress})
	} else {
		obs.Info("chain anchoring disabled; set CHAIN_RPC_URL and REGISTRY_ADDRESS to enable", nil)
	}

	if cfg.AWSBucketName != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			cancel()
			log.Fatalf("load aws config: %v", err)
		}
		s3Client := s3.NewFromConfig(awsCfg)
		opts = append(opts, httpapi.WithObjectStore(storage.NewS3(s3Client, cfg.AWSBucketName, cfg.AWSRegion)))
		obs.Info("document uploads enabled", map[string]any{"bucket": cfg.AWSBucketName})
	}
	cancel()

	api := httpapi.New(svc, users, tokens, opts...)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // SSE connections stay open
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting affidblock-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}
