package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"competency-service/internal/models"

	"github.com/rabbitmq/amqp091-go"
)

type Publisher interface {
	PublishCompetencyUpdated(result models.BKTUpdateResult) error
	PublishMasteryAchieved(result models.BKTUpdateResult) error
	PublishBatchProcessed(results []models.BKTUpdateResult) error
	Close() error
}

type EventPublisher struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	enabled      bool
}

func NewEventPublisher(rabbitURI, exchangeName string) (*EventPublisher, error) {
	if rabbitURI == "" {
		log.Println("Warning: RabbitMQ URI is empty, event publishing is disabled")
		return &EventPublisher{
			enabled: false,
		}, nil
	}

	conn, err := amqp091.Dial(rabbitURI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if exchangeName == "" {
		exchangeName = "competency.events"
	}
	err = channel.ExchangeDeclare(
		exchangeName, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &EventPublisher{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		enabled:      true,
	}, nil
}

func (p *EventPublisher) publishEvent(ctx context.Context, routingKey string, event any) error {
	if !p.enabled {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(
		pubCtx,
		p.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

func (p *EventPublisher) PublishCompetencyUpdated(result models.BKTUpdateResult) error {
	ctx := context.Background()
	return p.publishEvent(ctx, CompetencyUpdatedKey, competencyEventFromResult(CompetencyUpdatedKey, result))
}

func (p *EventPublisher) PublishMasteryAchieved(result models.BKTUpdateResult) error {
	ctx := context.Background()
	return p.publishEvent(ctx, MasteryAchievedKey, competencyEventFromResult(MasteryAchievedKey, result))
}

func (p *EventPublisher) PublishBatchProcessed(results []models.BKTUpdateResult) error {
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	ctx := context.Background()
	return p.publishEvent(ctx, BatchProcessedKey, &BatchProcessedEvent{
		EventType:   BatchProcessedKey,
		EventCount:  len(results),
		FailedCount: failed,
		Timestamp:   time.Now(),
	})
}

func (p *EventPublisher) Close() error {
	if !p.enabled {
		return nil
	}

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			log.Printf("Error closing RabbitMQ channel: %v", err)
		}
	}

	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return fmt.Errorf("error closing RabbitMQ connection: %w", err)
		}
	}

	return nil
}
