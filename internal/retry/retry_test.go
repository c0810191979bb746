package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recorder — фиктивный sleep, запоминающий запрошенные паузы.
type recorder struct{ delays []time.Duration }

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func TestPolicy_Delay(t *testing.T) {
	t.Parallel()

	exp := Policy{Attempts: 4, Base: time.Second}
	require.Equal(t, time.Duration(0), exp.Delay(0))
	require.Equal(t, time.Second, exp.Delay(1))
	require.Equal(t, 2*time.Second, exp.Delay(2))
	require.Equal(t, 4*time.Second, exp.Delay(3))

	lin := Policy{Attempts: 3, Base: 500 * time.Millisecond, Backoff: Linear}
	require.Equal(t, 500*time.Millisecond, lin.Delay(1))
	require.Equal(t, time.Second, lin.Delay(2))
}

// TestPolicy_Do_SucceedsAfterFailures — пауз на одну меньше, чем попыток.
func TestPolicy_Do_SucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	var rec recorder
	calls := 0
	err := Policy{Attempts: 3, Base: time.Second}.Do(context.Background(), rec.sleep, nil, func(int) error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

// TestPolicy_Do_Exhausted — после исчерпания попыток возвращается последняя ошибка.
func TestPolicy_Do_Exhausted(t *testing.T) {
	t.Parallel()

	var rec recorder
	last := errors.New("last")
	err := Policy{Attempts: 2, Base: time.Millisecond}.Do(context.Background(), rec.sleep, nil, func(attempt int) error {
		if attempt == 2 {
			return last
		}
		return errors.New("first")
	})

	require.ErrorIs(t, err, last)
	require.Len(t, rec.delays, 1)
}

// TestPolicy_Do_NotRetryable — неповторяемая ошибка возвращается сразу.
func TestPolicy_Do_NotRetryable(t *testing.T) {
	t.Parallel()

	fatal := errors.New("fatal")
	calls := 0
	err := Policy{Attempts: 5, Base: time.Millisecond}.Do(context.Background(), nil,
		func(err error) bool { return !errors.Is(err, fatal) },
		func(int) error { calls++; return fatal })

	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, calls)
}

// TestPolicy_Do_Cancelled — отмена контекста во время паузы прерывает повторы.
func TestPolicy_Do_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var rec recorder
	calls := 0
	err := Policy{Attempts: 3, Base: time.Second}.Do(ctx, rec.sleep, nil, func(int) error {
		calls++
		return errors.New("boom")
	})

	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestSleep(t *testing.T) {
	t.Parallel()

	require.NoError(t, Sleep(context.Background(), time.Millisecond))
	require.NoError(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
