package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docman/internal/config"
	"docman/internal/coordinator"
	"docman/internal/database"
	"docman/internal/handlers"
	"docman/internal/health"
	"docman/internal/jobs"
	"docman/internal/logging"
	"docman/internal/services"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting docman server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s)", cfg.Port)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// PostgreSQL: source of truth for sessions, documents and chunks
	relational, err := database.NewPostgresStore(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to PostgreSQL: %v", err)
	}
	defer relational.Close()
	if err := relational.Initialize(ctx); err != nil {
		log.Fatalf("❌ Failed to initialize schema: %v", err)
	}

	// MinIO: content-addressed document bytes
	blobs, err := database.NewMinioStore(ctx, cfg.MinioEndpoint,
		cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioSecure)
	if err != nil {
		log.Fatalf("❌ Failed to connect to MinIO: %v", err)
	}

	// Qdrant: chunk embeddings and similarity search
	vectors, err := database.NewQdrantStore(ctx, cfg.QdrantAddr,
		cfg.QdrantCollection, uint64(cfg.VectorDimension))
	if err != nil {
		log.Fatalf("❌ Failed to connect to Qdrant: %v", err)
	}
	defer vectors.Close()

	services.InitMetrics()

	coord := coordinator.New(relational, blobs, vectors)

	aggregator := health.NewAggregator([]health.Backend{
		health.NamedBackend{BackendName: "postgres", PingFunc: relational.Ping},
		health.NamedBackend{BackendName: "minio", PingFunc: blobs.Ping},
		health.NamedBackend{BackendName: "qdrant", PingFunc: vectors.Ping},
	}, cfg.ProbeTimeout, cfg.DegradedAfter)

	// Background jobs: expiration sweep, reconciliation, retention cleanup
	scheduler, err := jobs.NewScheduler()
	if err != nil {
		log.Fatalf("❌ Failed to create scheduler: %v", err)
	}
	mustRegister := func(err error) {
		if err != nil {
			log.Fatalf("❌ Failed to register job: %v", err)
		}
	}
	mustRegister(scheduler.RegisterInterval(
		jobs.NewSessionExpirationJob(coord, cfg.SweepBatchSize, time.Minute), cfg.SweepInterval))
	mustRegister(scheduler.RegisterInterval(
		jobs.NewReconciliationJob(coord, 5*time.Minute), cfg.ReconcileInterval))
	mustRegister(scheduler.RegisterCron(
		jobs.NewRetentionCleanupJob(coord, cfg.RetentionWindow, 50), cfg.CleanupCron))
	scheduler.Start()

	app := fiber.New(fiber.Config{
		AppName:   "docman",
		BodyLimit: coordinator.MaxUploadSize + 1024*1024,
	})
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("docman")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	registerRoutes(app, coord, aggregator, scheduler)

	// Graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("🛑 Shutting down...")
		if err := scheduler.Stop(); err != nil {
			log.Printf("⚠️  Scheduler shutdown error: %v", err)
		}
		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️  Server shutdown error: %v", err)
		}
	}()

	log.Printf("🌐 Listening on :%s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Server error: %v", err)
	}
	log.Println("✅ Server stopped")
}

func registerRoutes(app *fiber.App, coord *coordinator.Coordinator, aggregator *health.Aggregator, scheduler *jobs.Scheduler) {
	sessions := handlers.NewSessionHandler(coord)
	documents := handlers.NewDocumentHandler(coord)
	chunks := handlers.NewChunkHandler(coord)
	search := handlers.NewSearchHandler(coord)
	healthHandler := handlers.NewHealthHandler(aggregator)
	admin := handlers.NewManagementHandler(coord, scheduler)

	app.Get("/health", healthHandler.Handle)
	app.Get("/health/detailed", healthHandler.Detailed)

	api := app.Group("/api")
	api.Post("/sessions", sessions.Create)
	api.Get("/sessions/:id", sessions.Get)
	api.Patch("/sessions/:id", sessions.Update)
	api.Post("/sessions/:id/finalize", sessions.Finalize)
	api.Delete("/sessions/:id", sessions.Delete)
	api.Get("/users/:id/sessions", sessions.ListByUser)

	api.Post("/sessions/:id/documents", documents.Upload)
	api.Get("/sessions/:id/documents", documents.List)
	api.Get("/documents/:id", documents.Get)
	api.Patch("/documents/:id", documents.UpdateMetadata)
	api.Delete("/documents/:id", documents.Delete)
	api.Get("/documents/:id/content", documents.Download)

	api.Post("/documents/:id/chunks", chunks.Upsert)
	api.Get("/documents/:id/chunks", chunks.List)
	api.Delete("/documents/:id/chunks", chunks.Delete)

	api.Post("/sessions/:id/search", search.Search)

	api.Get("/admin/stats", admin.Stats)
	api.Post("/admin/sweep", admin.Sweep)
	api.Post("/admin/reconcile", admin.Reconcile)
	api.Post("/admin/jobs/:name/run", admin.RunJob)
}
