package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RateLimitError - ответ внешнего API вида 429. Если сервер прислал
// Retry-After, RetryAfter переопределяет вычисленный backoff.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (retry after %v): %v", e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// PermanentError помечает ошибку как неповторяемую: политика прекращает
// попытки немедленно.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent оборачивает ошибку как неповторяемую.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Policy - политика повторов с экспоненциальным backoff'ом.
// Без состояния, безопасна для конкурентного использования.
type Policy struct {
	MaxAttempts int           // Потолок попыток, включая первую
	BaseDelay   time.Duration // Базовая задержка (1 "единица времени")
}

// DefaultMedia - политика для вызовов генерации изображений/аудио.
var DefaultMedia = Policy{MaxAttempts: 3, BaseDelay: 1 * time.Second}

// Do выполняет fn до успеха или исчерпания попыток.
// Backoff: BaseDelay * 2^(attempt-1) с джиттером +-10%; RateLimitError
// с RetryAfter > 0 переопределяет задержку. Отмена контекста прерывает
// ожидание на ближайшей контрольной точке.
func (p Policy) Do(ctx context.Context, logger *zap.Logger, op string, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	baseDelay := p.BaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var perm *PermanentError
		if errors.As(lastErr, &perm) {
			return perm.Err
		}

		if attempt == maxAttempts {
			break
		}

		delay := float64(baseDelay) * math.Pow(2, float64(attempt-1))
		jitter := delay * 0.1
		delay += jitter * (rand.Float64()*2 - 1)
		waitDuration := time.Duration(delay)
		if waitDuration < baseDelay {
			waitDuration = baseDelay
		}

		// Сервер знает лучше, когда к нему можно вернуться
		var rateLimited *RateLimitError
		if errors.As(lastErr, &rateLimited) && rateLimited.RetryAfter > 0 {
			waitDuration = rateLimited.RetryAfter
		}

		logger.Warn("Retryable call failed, backing off",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("wait", waitDuration),
			zap.Error(lastErr),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitDuration):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, maxAttempts, lastErr)
}
