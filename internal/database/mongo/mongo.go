package mongo

import (
	"context"
	"fmt"
	"log"
	"time"

	"competency-service/internal/config"
	"competency-service/internal/models"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var (
	Mongo_Client   *mongo.Client
	Mongo_Database *mongo.Database
)

// InitMongo connects the shared client and ensures collection indexes.
func InitMongo(cfg *config.MongoDBConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.PoolSize)

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	Mongo_Client = client
	Mongo_Database = client.Database(cfg.Database)
	log.Printf("Connected to MongoDB database %s", cfg.Database)

	if err := ensureIndexes(ctx); err != nil {
		log.Printf("Warning: failed to ensure indexes: %v", err)
	}
	return nil
}

func ensureIndexes(ctx context.Context) error {
	indexSets := map[string][]mongo.IndexModel{
		"competency_states":  models.GetCompetencyStateIndexes(),
		"performance_events": models.GetPerformanceEventIndexes(),
		"activities":         models.GetActivityIndexes(),
	}
	for collection, indexes := range indexSets {
		if _, err := Mongo_Database.Collection(collection).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", collection, err)
		}
	}
	return nil
}

func DisconnectMongo() {
	if Mongo_Client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := Mongo_Client.Disconnect(ctx); err != nil {
		log.Printf("Error disconnecting from MongoDB: %v", err)
	}
}
