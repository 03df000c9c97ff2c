package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"story-engine/internal/sender"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	SMTP      sender.SMTPConfig   `yaml:"smtp"`
	VAPID     sender.VAPIDConfig  `yaml:"vapid"`
	APNS      sender.APNSConfig   `yaml:"apns"`
	FCM       sender.FCMConfig    `yaml:"fcm"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Log       LogConfig       `yaml:"log"`
}

type HTTPConfig struct {
	Port            string        `yaml:"port" env:"HTTP_PORT" env-default:"8085"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

type PostgresConfig struct {
	URL string `yaml:"url" env:"DATABASE_URL" env-required:"true"`
}

// RedisConfig — подключение к Redis для durable-хранилища задач.
// Пустой Addr означает in-memory хранилище (подходит только для dev).
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// RabbitMQConfig — подключение к брокеру событий. Пустой URI отключает
// публикацию и потребление событий (рассылка зовется напрямую через HTTP).
type RabbitMQConfig struct {
	URI               string `yaml:"uri" env:"RABBITMQ_URI"`
	WorkerConcurrency int    `yaml:"worker_concurrency" env:"WORKER_CONCURRENCY" env-default:"4"`
}

type SchedulerConfig struct {
	// PublishRetryDelay — фиксированная задержка перед повтором публикации
	PublishRetryDelay time.Duration `yaml:"publish_retry_delay" env:"PUBLISH_RETRY_DELAY" env-default:"1h"`
	// MaxPublishRetries — бюджет повторов публикации на эпизод
	MaxPublishRetries int `yaml:"max_publish_retries" env:"MAX_PUBLISH_RETRIES" env-default:"24"`
	// MisfireGrace — насколько поздний триггер еще исполняется
	MisfireGrace time.Duration `yaml:"misfire_grace" env:"MISFIRE_GRACE" env-default:"5m"`
	// PollInterval — период опроса хранилища задач
	PollInterval time.Duration `yaml:"poll_interval" env:"SCHEDULER_POLL_INTERVAL" env-default:"1s"`
}

type NotifierConfig struct {
	// MaxRetries — всего попыток доставки на одну цель
	MaxRetries int `yaml:"max_retries" env:"NOTIFIER_MAX_RETRIES" env-default:"3"`
	// BaseDelay — базовая задержка экспоненциального бэкоффа
	BaseDelay time.Duration `yaml:"base_delay" env:"NOTIFIER_BASE_DELAY" env-default:"1s"`
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Encoding string `yaml:"encoding" env:"LOG_ENCODING" env-default:"json"`
}

// LoadConfig читает config.yml (путь переопределяется через CONFIG_PATH),
// переменные окружения имеют приоритет над файлом.
func LoadConfig() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yml"
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Printf("Предупреждение: не удалось прочитать файл конфигурации '%s': %v. Попытка чтения из переменных окружения.", configPath, err)
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
		}
	}

	return &cfg, nil
}
