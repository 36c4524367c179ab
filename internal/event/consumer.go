package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"competency-service/internal/models"

	"github.com/rabbitmq/amqp091-go"
)

// EventSink receives the performance events extracted from upstream messages.
// The update pipeline is the production sink.
type EventSink interface {
	ProcessEvent(ctx context.Context, event *models.PerformanceEvent) (models.BKTUpdateResult, error)
}

type Consumer interface {
	Start() error
	Close() error
}

// EventConsumer turns quiz answer events into competency updates. The quiz
// service owns the upstream exchange; this service only binds a queue to it.
type EventConsumer struct {
	conn      *amqp091.Connection
	channel   *amqp091.Channel
	queueName string
	sink      EventSink
	enabled   bool
}

const (
	upstreamExchange   = "quiz.events"
	answerRoutingKey   = "quiz.answer.#"
	answerEventPattern = "quiz.answer."
)

func NewEventConsumer(rabbitURI, queueName string, sink EventSink) (*EventConsumer, error) {
	if rabbitURI == "" {
		log.Println("Warning: RabbitMQ URI is empty, event consumption is disabled")
		return &EventConsumer{
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

	err = channel.ExchangeDeclare(
		upstreamExchange, // name
		"topic",          // type
		true,             // durable
		false,            // auto-deleted
		false,            // internal
		false,            // no-wait
		nil,              // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if queueName == "" {
		queueName = "competency-service-events"
	}
	queue, err := channel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	err = channel.QueueBind(
		queue.Name,       // queue name
		answerRoutingKey, // routing key
		upstreamExchange, // exchange
		false,            // no-wait
		nil,              // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	return &EventConsumer{
		conn:      conn,
		channel:   channel,
		queueName: queue.Name,
		sink:      sink,
		enabled:   true,
	}, nil
}

func (c *EventConsumer) Start() error {
	if !c.enabled {
		log.Println("Event consumption is disabled")
		return nil
	}

	err := c.channel.Qos(
		10,    // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for msg := range msgs {
			if err := c.processMessage(msg); err != nil {
				log.Printf("Failed to process message: %v", err)
				msg.Nack(false, true) // Nack and requeue
			} else {
				msg.Ack(false)
			}
		}
	}()

	log.Println("Event consumer started, waiting for messages...")
	return nil
}

func (c *EventConsumer) processMessage(msg amqp091.Delivery) error {
	if strings.HasPrefix(msg.RoutingKey, answerEventPattern) {
		return c.handleQuizAnswerEvent(msg.Body)
	}

	log.Printf("Unknown routing key: %s", msg.RoutingKey)
	return nil // Don't requeue unknown message types
}

func (c *EventConsumer) handleQuizAnswerEvent(body []byte) error {
	var answer QuizAnswerEvent
	if err := json.Unmarshal(body, &answer); err != nil {
		return fmt.Errorf("failed to unmarshal quiz answer event: %w", err)
	}

	if answer.UserID == "" || answer.SkillID == "" {
		// Malformed upstream data; requeueing would loop forever.
		log.Printf("Dropping quiz answer event without user or skill (question %s)", answer.QuestionID)
		return nil
	}

	perf := &models.PerformanceEvent{
		UserID:         answer.UserID,
		SkillID:        answer.SkillID,
		ActivityID:     answer.QuestionID,
		Score:          answer.Score,
		ResponseTimeMs: answer.ResponseTimeMs,
		Timestamp:      answer.AnsweredAt,
	}
	if answer.IsCorrect != nil {
		perf.IsCorrect = *answer.IsCorrect
		perf.HasCorrectness = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := c.sink.ProcessEvent(ctx, perf)
	if err != nil {
		return fmt.Errorf("failed to apply quiz answer for %s/%s: %w", answer.UserID, answer.SkillID, err)
	}
	if result.LowConfidence {
		log.Printf("Low-confidence update for %s/%s: answer carried no outcome or score", answer.UserID, answer.SkillID)
	}

	return nil
}

func (c *EventConsumer) Close() error {
	if !c.enabled {
		return nil
	}

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			log.Printf("Error closing RabbitMQ channel: %v", err)
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			return fmt.Errorf("error closing RabbitMQ connection: %w", err)
		}
	}

	return nil
}
