package jobstore

import (
	"context"
	"time"
)

// Job — запись хранилища отложенных задач. ID детерминирован и строится
// планировщиком из (story id, episode index), Payload — непрозрачные
// аргументы обработчика.
type Job struct {
	ID      string    `json:"id"`
	RunAt   time.Time `json:"runAt"`
	Payload []byte    `json:"payload"`
}

// Handler вызывается хранилищем, когда наступает время запуска задачи.
// Обработчик сам отвечает за идемпотентность: задача может быть доставлена
// повторно после рестарта процесса.
type Handler func(ctx context.Context, job Job)

// Store — минимальный интерфейс хранилища задач. Одна и та же логика
// планировщика работает поверх in-memory реализации (тесты) и Redis
// (продакшен).
//
// Гарантии реализации:
//   - ScheduleAt с существующим ID заменяет запись (replace-семантика);
//   - задача исполняется не более одного раза на одно наступление срока,
//     несколько пропущенных сроков схлопываются в одно исполнение;
//   - задача старше окна misfire grace не исполняется, а отбрасывается
//     с warn-логом и метрикой.
type Store interface {
	// ScheduleAt регистрирует (или заменяет) задачу.
	ScheduleAt(ctx context.Context, job Job) error

	// Cancel удаляет задачу. Возвращает true, если задача существовала.
	Cancel(ctx context.Context, id string) (bool, error)

	// IsLive сообщает, зарегистрирована ли задача с данным ID.
	IsLive(ctx context.Context, id string) (bool, error)

	// List возвращает все зарегистрированные задачи.
	List(ctx context.Context) ([]Job, error)

	// Start запускает цикл доставки задач. Блокирует до остановки Stop
	// или отмены контекста.
	Start(ctx context.Context, handler Handler) error

	// Stop останавливает цикл доставки.
	Stop()
}
