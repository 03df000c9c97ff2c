package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"story-engine/shared/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// EpisodeNotifier определяет интерфейс рассылки уведомлений о публикации.
// Объявлен здесь, а не в пакете notifier, чтобы консьюмер не тянул его
// зависимости; результат фан-аута консьюмеру не нужен.
type EpisodeNotifier interface {
	NotifyPublished(ctx context.Context, payload models.EpisodePublishedPayload) error
}

// Consumer читает события о публикации эпизодов и передает их в рассылку.
type Consumer struct {
	conn        *amqp.Connection
	logger      *zap.Logger
	queueName   string
	concurrency int
	notifier    EpisodeNotifier
	stopChannel chan struct{}
	cancelFunc  context.CancelFunc
	wg          sync.WaitGroup
}

func NewConsumer(conn *amqp.Connection, logger *zap.Logger, concurrency int, notifier EpisodeNotifier) *Consumer {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Consumer{
		conn:        conn,
		logger:      logger.Named("episode_consumer"),
		queueName:   EpisodeEventsQueue,
		concurrency: concurrency,
		notifier:    notifier,
		stopChannel: make(chan struct{}),
	}
}

// Start объявляет очередь, поднимает пул воркеров и блокируется до Stop().
func (c *Consumer) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelFunc = cancel

	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("не удалось открыть канал RabbitMQ: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		c.queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("не удалось объявить очередь '%s': %w", c.queueName, err)
	}
	c.logger.Info("Очередь успешно объявлена/найдена", zap.String("queue", q.Name))

	// Ограничиваем количество сообщений в обработке размером пула
	if err := ch.Qos(c.concurrency, 0, false); err != nil {
		return fmt.Errorf("не удалось установить QoS: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"episode-events-consumer", // consumer tag
		false,                     // auto-ack = false
		false,                     // exclusive
		false,                     // no-local
		false,                     // no-wait
		nil,                       // args
	)
	if err != nil {
		return fmt.Errorf("не удалось зарегистрировать консьюмера: %w", err)
	}

	c.logger.Info("Консьюмер запущен, ожидание сообщений...", zap.Int("concurrency", c.concurrency))

	c.wg.Add(c.concurrency)
	for i := 0; i < c.concurrency; i++ {
		go func(workerID int) {
			defer c.wg.Done()
			logger := c.logger.With(zap.Int("worker_id", workerID))
			for {
				select {
				case <-ctx.Done():
					return
				case <-c.stopChannel:
					return
				case d, ok := <-msgs:
					if !ok {
						logger.Info("Канал сообщений закрыт, воркер завершает работу")
						return
					}
					c.processMessage(ctx, logger, d)
				}
			}
		}(i)
	}

	<-c.stopChannel
	c.cancelFunc()
	c.wg.Wait()
	c.logger.Info("Все воркеры консьюмера остановлены")
	return nil
}

func (c *Consumer) Stop() {
	c.logger.Info("Инициирована остановка консьюмера...")
	close(c.stopChannel)
}

func (c *Consumer) processMessage(ctx context.Context, logger *zap.Logger, d amqp.Delivery) {
	var payload models.EpisodePublishedPayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		logger.Error("Ошибка десериализации события публикации",
			zap.Error(err),
			zap.ByteString("body", d.Body),
			zap.Uint64("delivery_tag", d.DeliveryTag),
		)
		// Битое сообщение не вернется в очередь (nack, requeue=false)
		if ackErr := d.Nack(false, false); ackErr != nil {
			logger.Error("Ошибка Nack сообщения", zap.Error(ackErr))
		}
		return
	}

	log := logger.With(
		zap.String("storyID", payload.StoryID.String()),
		zap.Int("episodeIndex", payload.EpisodeIndex),
	)

	// Таймаут покрывает весь фан-аут, включая ретраи доставки
	processCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if err := c.notifier.NotifyPublished(processCtx, payload); err != nil {
		log.Error("Ошибка рассылки уведомлений", zap.Error(err))
		// Частичные ошибки доставки сюда не доходят: err означает, что
		// рассылка не началась, повтор безопасен
		if ackErr := d.Nack(false, true); ackErr != nil {
			log.Error("Ошибка Nack сообщения", zap.Error(ackErr))
		}
		return
	}

	if ackErr := d.Ack(false); ackErr != nil {
		log.Error("Ошибка Ack сообщения", zap.Error(ackErr))
	}
}
