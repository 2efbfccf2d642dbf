package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"groupfm/cache"
	"groupfm/config"
	"groupfm/core/charts"
	"groupfm/core/records"
	"groupfm/db"
	"groupfm/lastfm"
	"groupfm/logger"
	"groupfm/model"
	"groupfm/repository"
	"groupfm/worker"

	"github.com/gorilla/mux"
	"github.com/hibiken/asynq"
)

// jobTrigger pairs the queue client with the records trigger.
type jobTrigger struct {
	*worker.Enqueuer
	*records.Trigger
}

// Start initializes dependencies, starts the embedded background worker and
// runs the HTTP server until interrupted.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(os.Getenv("LOG_LEVEL")),
		OutputPath: os.Getenv("LOG_FILE"),
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Connect to the database
	if err := db.ConnectDB(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.DB.Close()

	if err := db.ConnectGormDB(cfg); err != nil {
		log.Fatalf("Failed to connect to database with GORM: %v", err)
	}
	defer db.CloseGormDB()

	// Initialize database schema
	if err := db.InitDB(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	if err := db.AutoMigrateModels(&model.GroupRecords{}); err != nil {
		log.Fatalf("Failed to migrate records model: %v", err)
	}

	// Connect to Redis
	if err := cache.ConnectRedis(cfg); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer cache.CloseRedis()
	log.Println("Successfully connected to Redis")

	groupRepo := repository.NewMySQLGroupRepository(db.DB)
	chartRepo := repository.NewMySQLChartRepository(db.DB)
	statsRepo := repository.NewMySQLStatsRepository(db.DB)
	recordsRepo := repository.NewGormRecordsRepository(db.GormDB)

	statsCache := cache.NewEntryStatsCache(cache.RedisClient)
	provider := lastfm.NewClient(cfg)
	locks := charts.NewLockManager(groupRepo, cfg.GenerationLockTimeout)
	recordsSvc := records.NewService(recordsRepo, chartRepo, cfg.RecordsRetryCoolDown)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	enqueuer := worker.NewEnqueuer(redisOpt, cfg.GenerationLockTimeout)
	defer enqueuer.Close()

	// The records trigger creates the calculating row before the job is
	// enqueued; handlers and the orchestrator share the same trigger surface.
	jobs := jobTrigger{
		Enqueuer: enqueuer,
		Trigger:  records.NewTrigger(recordsSvc, enqueuer),
	}

	orchestrator := charts.NewOrchestrator(charts.OrchestratorParams{
		Groups:         groupRepo,
		Charts:         chartRepo,
		Stats:          statsRepo,
		Generator:      charts.NewGenerator(provider),
		Trends:         charts.NewTrendCalculator(chartRepo),
		Locks:          locks,
		Invalidator:    statsCache,
		Records:        jobs,
		InterWeekDelay: cfg.InterWeekDelay,
		DefaultWeeks:   cfg.DefaultWeeks,
		MaxWeeks:       cfg.MaxWeeks,
	})

	stopWorker, err := worker.Start(redisOpt, orchestrator, recordsSvc)
	if err != nil {
		log.Fatalf("Failed to start background worker: %v", err)
	}
	defer stopWorker()

	apiHandler := NewAPIHandler(groupRepo, chartRepo, statsRepo, recordsRepo, recordsSvc, locks, jobs, statsCache, cfg)

	router := mux.NewRouter()

	// CORS middleware
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// Chart endpoints
	router.HandleFunc("/api/groups/{id}/charts", apiHandler.ChartWeekHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/groups/{id}/charts/status", apiHandler.GenerationStatusHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/groups/{id}/charts/generate", apiHandler.AuthMiddleware(apiHandler.GenerateHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/groups/{id}/entries/stats", apiHandler.EntryStatsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/groups/{id}/stats", apiHandler.GroupStatsHandler).Methods(http.MethodGet)

	// Records endpoints
	router.HandleFunc("/api/groups/{id}/records", apiHandler.GetRecordsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/groups/{id}/records", apiHandler.AuthMiddleware(apiHandler.RecalculateRecordsHandler)).Methods(http.MethodPost)

	srv.Handler = router

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on %s...", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
