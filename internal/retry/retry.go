// retry — политики задержек между повторами и ожидание с учётом контекста.
package retry

import (
	"context"
	"time"
)

// Backoff — способ роста задержки между попытками.
type Backoff int

const (
	// Exponential — base, 2*base, 4*base...
	Exponential Backoff = iota
	// Linear — base, 2*base, 3*base...
	Linear
)

// Policy — ограниченное число попыток с растущей задержкой.
type Policy struct {
	Attempts int
	Base     time.Duration
	Backoff  Backoff
}

// Delay возвращает паузу после неудачной попытки attempt (нумерация с 1).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.Base <= 0 {
		return 0
	}

	switch p.Backoff {
	case Linear:
		return p.Base * time.Duration(attempt)
	default:
		return p.Base << (attempt - 1)
	}
}

// Do выполняет fn до Attempts раз. Между попытками ждёт Delay(n) через sleep.
// Возвращает nil после первой успешной попытки, иначе последнюю ошибку.
// retryable == nil — повторяется любая ошибка.
func (p Policy) Do(ctx context.Context, sleep SleepFunc, retryable func(error) bool, fn func(attempt int) error) error {
	if sleep == nil {
		sleep = Sleep
	}

	attempts := max(p.Attempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}

		if retryable != nil && !retryable(err) {
			return err
		}

		if attempt == attempts {
			break
		}

		if sErr := sleep(ctx, p.Delay(attempt)); sErr != nil {
			return sErr
		}
	}

	return err
}

// SleepFunc — ожидание, прерываемое контекстом. Подменяется в тестах.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep ждёт d или отмены контекста; во втором случае возвращает ctx.Err().
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
