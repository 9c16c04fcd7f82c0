package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	clerk "github.com/clerk/clerk-sdk-go/v2"
	gorilllaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dinehub1/rewardjar-sync/handlers"
	"github.com/Dinehub1/rewardjar-sync/internal/cache"
	"github.com/Dinehub1/rewardjar-sync/internal/push"
	"github.com/Dinehub1/rewardjar-sync/internal/storage"
	"github.com/Dinehub1/rewardjar-sync/internal/tracing"
	"github.com/Dinehub1/rewardjar-sync/internal/wallet"
	"github.com/Dinehub1/rewardjar-sync/middleware"
	"github.com/Dinehub1/rewardjar-sync/services"
)

var (
	dbPool          *pgxpool.Pool
	store           *storage.Postgres
	cacheClient     cache.Cache
	appleEncoder    *wallet.AppleEncoder
	googleEncoder   *wallet.GoogleEncoder
	pwaEncoder      *wallet.PWAEncoder
	passValidator   *wallet.Validator
	progressService *services.CardProgressService
	queueService    *services.SyncQueueService
	healthService   *services.QueueHealthService
	passService     *services.PassService
	queueWorker     *services.QueueWorker
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	clerkSecretKey := os.Getenv("CLERK_SECRET_KEY")
	if clerkSecretKey == "" {
		log.Fatal("CLERK_SECRET_KEY environment variable is not set")
	}
	clerk.SetKey(clerkSecretKey)
	log.Println("Clerk initialized successfully")

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		log.Fatal("Failed to parse database URL:", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	dbPool, err = pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Fatal("Failed to create connection pool:", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		log.Fatal("Failed to ping database:", err)
	}

	log.Println("Successfully connected to Postgres")

	store = storage.NewPostgres(dbPool)

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisCache, err := cache.NewRedisCache(addr, os.Getenv("REDIS_PASSWORD"), 0)
		if err != nil {
			log.Printf("Warning: Redis unavailable, falling back to in-memory cache: %v", err)
			cacheClient = cache.NewInMemoryCache()
		} else {
			cacheClient = redisCache
			log.Println("Redis cache initialized successfully")
		}
	} else {
		cacheClient = cache.NewInMemoryCache()
	}

	if err := tracing.Init(tracing.Config{
		Enabled:     os.Getenv("TRACING_ENABLED") == "true",
		Endpoint:    os.Getenv("JAEGER_ENDPOINT"),
		ServiceName: "rewardjar-sync",
		Environment: os.Getenv("ENVIRONMENT"),
	}); err != nil {
		log.Printf("Warning: Could not initialize tracing: %v", err)
	}

	appleEncoder = &wallet.AppleEncoder{
		PassTypeIdentifier: os.Getenv("APPLE_PASS_TYPE_ID"),
		TeamIdentifier:     os.Getenv("APPLE_TEAM_ID"),
	}
	googleEncoder, err = wallet.NewGoogleEncoder(
		os.Getenv("GOOGLE_WALLET_ISSUER_ID"),
		os.Getenv("GOOGLE_WALLET_SA_EMAIL"),
		[]byte(os.Getenv("GOOGLE_WALLET_PRIVATE_KEY")),
	)
	if err != nil {
		log.Fatal("Failed to configure Google Wallet encoder:", err)
	}
	pwaEncoder = &wallet.PWAEncoder{BaseURL: os.Getenv("PWA_BASE_URL")}
	passValidator = wallet.NewValidator(appleEncoder, googleEncoder, pwaEncoder)

	progressService = services.NewCardProgressService(store, store, store, services.CooldownFromEnv())
	queueService = services.NewSyncQueueService(store, cacheClient)
	healthService = services.NewQueueHealthService(store, cacheClient)
	passService = services.NewPassService(store, store, passValidator)

	encoders := []wallet.Encoder{appleEncoder, googleEncoder, pwaEncoder}
	queueWorker = services.NewQueueWorker(store, store, store, passValidator, encoders, cacheClient)

	notifier, err := push.NewFCMNotifier(os.Getenv("FCM_SERVICE_ACCOUNT_FILE"), store)
	if err != nil {
		log.Printf("Warning: Could not initialize FCM: %v", err)
	} else {
		queueWorker.SetNotifier(notifier)
		log.Println("FCM push notifier initialized successfully")
	}

	middleware.InitPrometheus()
}

func main() {
	defer func() {
		log.Println("Closing database connection pool...")
		dbPool.Close()
	}()

	cardHandler := handlers.NewCardHandler(progressService, passService)
	queueHandler := handlers.NewQueueHandler(queueService, healthService)

	r := mux.NewRouter()

	go middleware.CleanupVisitors()

	r.Use(middleware.RateLimitMiddleware)
	r.Use(middleware.MonitorMiddleware)
	r.Use(middleware.TracingMiddleware())

	r.Handle("/metrics", middleware.BasicAuthMiddleware(promhttp.Handler()))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := dbPool.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status": "unhealthy", "error": "database connection failed"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "rewardjar-sync"}`))
	}).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.OperatorAuthMiddleware)

	protected.HandleFunc("/cards/mark-action", cardHandler.MarkAction).Methods("POST")
	protected.HandleFunc("/cards/validate", cardHandler.ValidateCard).Methods("POST")
	protected.HandleFunc("/cards/{cardId}/passes", cardHandler.GetCardPasses).Methods("GET")
	protected.HandleFunc("/queue", queueHandler.GetQueue).Methods("GET")
	protected.HandleFunc("/queue/action", queueHandler.QueueAction).Methods("POST")

	corsHandler := gorilllaHandlers.CORS(
		gorilllaHandlers.AllowedOrigins([]string{"*"}),
		gorilllaHandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		gorilllaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		gorilllaHandlers.ExposedHeaders([]string{"Content-Length", "Retry-After"}),
		gorilllaHandlers.AllowCredentials(),
	)

	queueWorker.Start()

	port := os.Getenv("PORT")
	if port == "" {
		port = "3333"
	}
	port = ":" + port

	server := http.Server{
		Addr:         port,
		Handler:      corsHandler(r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Error starting server:", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	sig := <-sigChan
	log.Println("Got signal:", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	queueWorker.Stop()

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Printf("Tracing shutdown error: %v", err)
	}

	log.Println("Server shutdown complete")
}
