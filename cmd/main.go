package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"competency-service/internal/bkt"
	"competency-service/internal/cache"
	"competency-service/internal/config"
	"competency-service/internal/database/mongo"
	"competency-service/internal/event"
	"competency-service/internal/handlers"
	"competency-service/internal/models"
	"competency-service/internal/pipeline"
	"competency-service/internal/repository"
	"competency-service/internal/selection"
	"competency-service/internal/service"
	"competency-service/pkg/discovery"

	"github.com/gofiber/fiber/v3"
	"github.com/joho/godotenv"
)

func setupLogging() (*os.File, error) {
	logDir := filepath.Join("/evolvia", "log", "competency_service")
	err := os.MkdirAll(logDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	currentTime := time.Now()
	logFileName := fmt.Sprintf("log_%s.log", currentTime.Format("2006-01-02"))
	logFile := filepath.Join(logDir, logFileName)

	file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %v", err)
	}

	log.SetOutput(file)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	return file, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logFile, err := setupLogging()
	if err != nil {
		log.Printf("Warning: file logging unavailable (%v), logging to stderr", err)
	} else {
		defer logFile.Close()
	}

	cfg := config.ServiceConfig

	if err := mongo.InitMongo(&cfg.MongoDB); err != nil {
		log.Fatalf("Failed to initialize MongoDB: %v", err)
	}
	defer mongo.DisconnectMongo()

	stateCache := cache.NewCompetencyCache(&cfg.Redis)
	defer stateCache.Close()

	// Repositories
	competencyRepo := repository.NewCompetencyRepository(mongo.Mongo_Database)
	eventRepo := repository.NewEventRepository(mongo.Mongo_Database)
	parameterRepo := repository.NewParameterRepository(mongo.Mongo_Database)
	activityRepo := repository.NewActivityRepository(mongo.Mongo_Database)

	// Event publisher
	eventPublisher, err := event.NewEventPublisher(cfg.RabbitMQ.URI, cfg.RabbitMQ.Exchange)
	if err != nil {
		log.Printf("Warning: Failed to initialize event publisher: %v", err)
		eventPublisher, _ = event.NewEventPublisher("", "")
	}

	// Update pipeline and engines
	engine := bkt.NewEngine(&bkt.BKTConfig{
		MasteryThreshold:      cfg.Competency.MasteryThreshold,
		MinAttemptsForMastery: cfg.Competency.MinAttemptsForMastery,
		ConfidenceZ:           1.96,
		LearningThreshold:     0.3,
		ScoreCorrectThreshold: cfg.Competency.ScoreCorrectThreshold,
	})

	updatePipeline := pipeline.New(engine, stateCache, pipelineRepo{competencyRepo, eventRepo}, parameterRepo, eventPublisher, pipeline.Config{
		Workers:         cfg.Competency.WorkerPoolSize,
		UpdateBatchSize: cfg.Competency.UpdateBatchSize,
		StateCacheTTL:   cfg.Competency.StateCacheTTL,
	})

	selectorConfig := selection.DefaultSelectionConfig()
	selectorConfig.MasteryThreshold = cfg.Competency.MasteryThreshold
	selectorConfig.TargetSuccessRate = cfg.Competency.TargetSuccessRate
	selector := selection.NewEngine(selectorConfig, engine)

	// Services
	competencyService := service.NewCompetencyService(updatePipeline, engine, competencyRepo, eventRepo, parameterRepo, stateCache, cfg.Competency.StateCacheTTL)
	competencyService.Notifier = eventPublisher
	adaptationService := service.NewAdaptationService(selector, competencyRepo, parameterRepo, activityRepo, stateCache, cfg.Competency.DefaultSessionMinutes)

	// Event consumer feeding the update pipeline
	eventConsumer, err := event.NewEventConsumer(cfg.RabbitMQ.URI, cfg.RabbitMQ.QueueName, updatePipeline)
	if err != nil {
		log.Printf("Warning: Failed to initialize event consumer: %v", err)
	} else {
		if err := eventConsumer.Start(); err != nil {
			log.Printf("Warning: Failed to start event consumer: %v", err)
			eventConsumer.Close()
		} else {
			log.Println("Successfully started event consumer for quiz answers")
			defer eventConsumer.Close()
		}
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusOK).SendString("Competency Service is healthy")
	})

	competencyHandler := handlers.NewCompetencyHandler(competencyService)
	competencyHandler.RegisterRoutes(app)

	adaptationHandler := handlers.NewAdaptationHandler(adaptationService)
	adaptationHandler.RegisterRoutes(app)

	// Service discovery
	serviceRegistry, err := discovery.NewServiceRegistry(cfg)
	if err != nil {
		log.Printf("Warning: Failed to create Consul client: %v", err)
	} else if err := serviceRegistry.Register(); err != nil {
		log.Printf("Warning: Failed to register with Consul: %v", err)
	}

	shutdownChan := make(chan os.Signal, 1)
	doneChan := make(chan bool, 1)

	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := app.Listen(fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)); err != nil {
			log.Fatalf("Error starting server: %v", err)
		}
		doneChan <- true
	}()

	<-shutdownChan
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	if eventPublisher != nil {
		if err := eventPublisher.Close(); err != nil {
			log.Printf("Error closing event publisher: %v", err)
		}
	}

	if serviceRegistry != nil {
		if err := serviceRegistry.Deregister(); err != nil {
			log.Printf("Error deregistering from service discovery: %v", err)
		}
	}

	<-doneChan
	log.Println("Server shutdown complete")
}

// pipelineRepo composes the state and event repositories into the single
// boundary the pipeline writes through.
type pipelineRepo struct {
	states *repository.CompetencyRepository
	events *repository.EventRepository
}

func (r pipelineRepo) GetCompetency(ctx context.Context, userID, skillID string) (*models.CompetencyState, bool, error) {
	return r.states.GetCompetency(ctx, userID, skillID)
}

func (r pipelineRepo) SaveCompetency(ctx context.Context, state *models.CompetencyState) error {
	return r.states.SaveCompetency(ctx, state)
}

func (r pipelineRepo) SavePerformanceEvent(ctx context.Context, event *models.PerformanceEvent) error {
	return r.events.SavePerformanceEvent(ctx, event)
}
