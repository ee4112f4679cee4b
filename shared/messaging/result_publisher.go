package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// ResultPublisher публикует уведомления о завершении генерации.
type ResultPublisher interface {
	Publish(ctx context.Context, payload StoryResultPayload, correlationID string) error
	Close() error
}

// RabbitMQResultPublisher реализует ResultPublisher поверх RabbitMQ.
type RabbitMQResultPublisher struct {
	conn *amqp091.Connection
	ch   *amqp091.Channel
}

// NewRabbitMQResultPublisher создает нового издателя результатов.
// Важно: предполагается, что соединение conn уже установлено и обработка
// переподключений управляется внешним кодом.
func NewRabbitMQResultPublisher(conn *amqp091.Connection) (*RabbitMQResultPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open a channel")
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// Объявляем fanout exchange. Durable, чтобы пережил перезапуск брокера.
	err = ch.ExchangeDeclare(
		ExchangeStoryResults, // name
		"fanout",             // type
		true,                 // durable
		false,                // auto-deleted
		false,                // internal
		false,                // no-wait
		nil,                  // arguments
	)
	if err != nil {
		_ = ch.Close()
		log.Error().Err(err).Str("exchange", ExchangeStoryResults).Msg("Failed to declare exchange")
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", ExchangeStoryResults, err)
	}

	log.Info().Str("exchange", ExchangeStoryResults).Msg("Story result exchange declared successfully")

	return &RabbitMQResultPublisher{conn: conn, ch: ch}, nil
}

// Publish сериализует payload и отправляет его в exchange результатов.
func (p *RabbitMQResultPublisher) Publish(ctx context.Context, payload StoryResultPayload, correlationID string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal result payload: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.ch.PublishWithContext(pubCtx,
		ExchangeStoryResults, // exchange
		"",                   // routing key (fanout)
		false,                // mandatory
		false,                // immediate
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			CorrelationId: correlationID,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	if err != nil {
		log.Error().Err(err).Str("task_id", payload.TaskID).Msg("Failed to publish story result")
		return fmt.Errorf("failed to publish result for task '%s': %w", payload.TaskID, err)
	}

	return nil
}

// Close закрывает канал издателя.
func (p *RabbitMQResultPublisher) Close() error {
	if p.ch != nil {
		return p.ch.Close()
	}
	return nil
}
