package scheduler

import (
	"time"

	"story-engine/shared/models"
)

// NextRelease возвращает момент следующего релиза для заданной частоты.
// Чистая функция, вся арифметика в абсолютных инстантах (UTC): таймзона
// пользователя применяется один раз на границе API при разборе стартовой
// даты, дальше летнее время на интервалы не влияет.
//
// Неизвестная или фиксированная частота трактуется как ежедневная —
// задокументированный fallback, не ошибка.
func NextRelease(current time.Time, frequency models.ReleaseFrequency) time.Time {
	switch frequency {
	case models.FrequencyWeekly:
		return current.Add(7 * 24 * time.Hour)
	case models.FrequencyDaily:
		return current.Add(24 * time.Hour)
	default:
		return current.Add(24 * time.Hour)
	}
}
