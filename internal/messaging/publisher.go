package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"story-engine/shared/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// EpisodeEventsQueue — очередь событий о публикации эпизодов. Должна
// совпадать у publisher и consumer.
const EpisodeEventsQueue = "episode_published_events"

// rabbitEpisodePublisher отправляет события о публикации эпизодов в RabbitMQ.
type rabbitEpisodePublisher struct {
	conn      *amqp.Connection
	logger    *zap.Logger
	queueName string
}

// NewRabbitEpisodePublisher создает publisher событий публикации.
// Объявляет очередь при инициализации, чтобы падать сразу, а не на первом
// событии.
func NewRabbitEpisodePublisher(conn *amqp.Connection, logger *zap.Logger) (*rabbitEpisodePublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("RabbitMQ connection is nil")
	}

	p := &rabbitEpisodePublisher{
		conn:      conn,
		logger:    logger.Named("episode_publisher").With(zap.String("queue", EpisodeEventsQueue)),
		queueName: EpisodeEventsQueue,
	}
	if err := p.verifyQueue(); err != nil {
		return nil, fmt.Errorf("ошибка проверки очереди %s: %w", EpisodeEventsQueue, err)
	}

	p.logger.Info("Episode publisher инициализирован")
	return p, nil
}

func (p *rabbitEpisodePublisher) verifyQueue() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("не удалось открыть канал RabbitMQ: %w", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		p.queueName,
		true,  // durable (должно совпадать с consumer'ом)
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("не удалось объявить очередь '%s': %w", p.queueName, err)
	}
	return nil
}

// PublishEpisodePublished публикует событие в очередь. Сообщение помечается
// Persistent: рассылка уведомлений не должна теряться на рестарте брокера.
func (p *rabbitEpisodePublisher) PublishEpisodePublished(ctx context.Context, payload models.EpisodePublishedPayload) error {
	log := p.logger.With(
		zap.String("storyID", payload.StoryID.String()),
		zap.Int("episodeIndex", payload.EpisodeIndex),
	)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события публикации: %w", err)
	}

	ch, err := p.conn.Channel()
	if err != nil {
		log.Error("Не удалось открыть канал для публикации", zap.Error(err))
		return fmt.Errorf("не удалось открыть канал RabbitMQ: %w", err)
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx,
		"",          // exchange (default)
		p.queueName, // routing key (имя очереди)
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		log.Error("Ошибка публикации события", zap.Error(err))
		return fmt.Errorf("ошибка публикации события публикации эпизода: %w", err)
	}

	log.Info("Событие о публикации эпизода опубликовано")
	return nil
}
