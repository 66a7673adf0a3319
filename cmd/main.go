package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coop-settlement/internal/clients"
	"coop-settlement/internal/config"
	"coop-settlement/internal/domain"
	"coop-settlement/internal/repository"
	"coop-settlement/internal/service"
	"coop-settlement/internal/transport/auth"
	"coop-settlement/internal/transport/rest"
	"coop-settlement/internal/transport/websocket"
	"coop-settlement/pkg/database/postgres"

	"github.com/joho/godotenv"
)

// documentStorage is what both the local and the S3 backends provide.
type documentStorage interface {
	SaveDocument(ctx context.Context, fileName string, data []byte) (string, error)
	DocumentURL(ctx context.Context, key string) (string, error)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system env or defaults")
	}

	// top-level context which we can cancel on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := config.Load()

	db := mustInitPostgres(cfg.Postgres)
	defer postgres.Close(db)

	store := repository.NewStore(db)
	if cfg.Postgres.Migrate {
		if err := store.Migrate(ctx); err != nil {
			log.Fatalf("migration error: %v", err)
		}
	}

	health := map[string]rest.Pinger{"postgres": store}

	var redisClient *clients.RedisClient
	if cfg.Redis.Enabled {
		redisClient = mustInitRedis(cfg.Redis)
		defer redisClient.Close()
		health["redis"] = redisClient
	}

	wsHub := websocket.NewHub()
	go wsHub.Run(ctx)
	wsClient := clients.NewWebSocketClient(wsHub)

	files := map[string]rest.FileLocator{}

	var documents, reports documentStorage
	var reportDir *clients.StorageClient
	if cfg.S3.Enabled {
		s3Client := mustInitS3(ctx, cfg.S3)
		documents, reports = s3Client, s3Client
	} else {
		docDir, err := clients.NewLocalStorage(cfg.Storage.DocumentDir, cfg.Storage.PublicPrefix, cfg.Storage.ExternalURL)
		if err != nil {
			log.Fatalf("document storage init error: %v", err)
		}
		reportDir, err = clients.NewLocalStorage(cfg.Storage.ReportDir, "/reports", cfg.Storage.ExternalURL)
		if err != nil {
			log.Fatalf("report storage init error: %v", err)
		}
		documents, reports = docDir, reportDir
		files["documents"] = docDir
		files["reports"] = reportDir
	}

	var renderer service.DocumentRenderer
	var provider service.StampingProvider
	if cfg.Stamping.BaseURL != "" && cfg.Renderer.BaseURL != "" {
		renderer = clients.NewRendererClient(clients.RendererConfig{
			BaseURL: cfg.Renderer.BaseURL,
			APIKey:  cfg.Renderer.APIKey,
			Timeout: cfg.Renderer.Timeout,
		})
		provider = clients.NewStamperClient(clients.StamperConfig{
			BaseURL: cfg.Stamping.BaseURL,
			APIKey:  cfg.Stamping.APIKey,
			Timeout: cfg.Stamping.Timeout,
		})
	} else {
		log.Println("[STAMP] renderer or stamping provider not configured, contracts stay unstamped")
	}

	ids := service.UUIDGenerator{}

	stampingSvc := service.NewStampingService(store, renderer, provider, documents, domain.StampPlacement{
		Page:   cfg.Stamping.Page,
		X:      cfg.Stamping.X,
		Y:      cfg.Stamping.Y,
		Width:  cfg.Stamping.Width,
		Height: cfg.Stamping.Height,
	}, cfg.Stamping.Timeout).WithNotifier(wsClient)

	settlementSvc := service.NewSettlementService(
		store,
		service.NewCommissionService(ids),
		service.NewProvisioningService(ids),
		stampingSvc,
		ids,
	).WithNotifier(wsClient)

	// without redis the row lock on the payment is the only guard
	var imports service.ImportStatusStore
	if redisClient != nil {
		settlementSvc.WithLocker(redisClient, cfg.Settlement.LockTTL)
		imports = redisClient
	}

	importSvc := service.NewImportService(settlementSvc, imports, reports, wsClient)

	handler := rest.NewHandler(rest.Services{
		Settlements: settlementSvc,
		Payments:    store,
		Imports:     importSvc,
		Stamping:    stampingSvc,
		Commissions: store,
		Health:      health,
		Files:       files,
		WebSocket:   wsHub.HandleWebSocket,
	})
	router := handler.InitRouterWithAuth(auth.TokenMiddleware(store, cfg.APIToken))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      withCORS(router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Run HTTP server in goroutine so we can listen for shutdown signals
	srvErr := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on :%s\n", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srvErr <- err
			return
		}
		srvErr <- nil
	}()

	if reportDir != nil {
		go cleanupReports(ctx, reportDir, cfg.Storage.ReportRetention)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-srvErr:
		if err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	case sig := <-stop:
		log.Printf("Shutdown signal received: %v", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server Shutdown error: %v", err)
		}

		// stops the websocket hub and the report cleaner
		cancel()

		log.Println("Shutdown complete")
	}
}

func cleanupReports(ctx context.Context, storage *clients.StorageClient, retention time.Duration) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := storage.CleanupOlderThan(retention); err != nil {
				log.Printf("report cleanup error: %v", err)
			}
		}
	}
}

func mustInitPostgres(cfg config.PostgresConfig) *sql.DB {
	db, err := postgres.NewPostgresConnection(postgres.ConnectionInfo{
		Host:            cfg.Host,
		Port:            cfg.Port,
		Username:        cfg.User,
		DBName:          cfg.DBName,
		SSLMode:         cfg.SSLMode,
		Password:        cfg.Password,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxOpenConns / 2,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		log.Fatalf("postgres init error: %v", err)
	}
	return db
}

func mustInitRedis(cfg config.RedisConfig) *clients.RedisClient {
	client, err := clients.NewRedisClient(clients.RedisConfig{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: time.Duration(cfg.DialTimeout) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		Prefix:      cfg.Prefix,
	})
	if err != nil {
		log.Fatalf("redis init error: %v", err)
	}
	return client
}

func mustInitS3(ctx context.Context, cfg config.S3Config) *clients.S3Client {
	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := clients.NewS3Client(initCtx, clients.S3Config{
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Bucket:          cfg.Bucket,
		UseSSL:          cfg.UseSSL,
		Region:          cfg.Region,
		Prefix:          cfg.Prefix,
		PresignTTL:      cfg.PresignTTL,
	})
	if err != nil {
		log.Fatalf("s3 init error: %v", err)
	}
	return client
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")

			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
