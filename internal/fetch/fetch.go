// fetch — загрузка HTML-страниц с повторами и опциональным ограничением частоты.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pribylovaa/go-news-crawler/internal/pkg/log"
	"github.com/pribylovaa/go-news-crawler/internal/retry"

	"golang.org/x/time/rate"
)

// ErrFetch — страница не получена после всех попыток.
var ErrFetch = errors.New("fetch failed")

// maxBody — верхняя граница размера читаемой страницы.
const maxBody = 10 << 20

// Options — настройки клиента.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	// RateLimit — запросов в секунду на всех воркеров; 0 — без ограничения.
	RateLimit float64
	Retry     retry.Policy
}

// Client — потокобезопасный HTTP-загрузчик, общий для всех воркеров.
//
// Особенности:
//   - один *http.Client и одинаковые заголовки на все запросы;
//   - ответ с кодом != 200 считается ошибкой и повторяется;
//   - задержки между попытками растут экспоненциально (Retry.Base, 2*Base, ...).
type Client struct {
	http    *http.Client
	ua      string
	limiter *rate.Limiter
	policy  retry.Policy
	sleep   retry.SleepFunc
}

// New создаёт загрузчик. client == nil — создаётся клиент с Options.Timeout.
func New(client *http.Client, opts Options) *Client {
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	c := &Client{
		http:   client,
		ua:     opts.UserAgent,
		policy: opts.Retry,
		sleep:  retry.Sleep,
	}

	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	return c
}

// WithSleep подменяет функцию ожидания между попытками (для тестов).
func (c *Client) WithSleep(sleep retry.SleepFunc) *Client {
	c.sleep = sleep
	return c
}

// Fetch загружает страницу по URL. Ошибка после исчерпания попыток оборачивает ErrFetch.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	const op = "fetch.Fetch"

	lg := log.From(ctx)

	var body []byte
	err := c.policy.Do(ctx, c.sleep, retryable, func(attempt int) error {
		b, err := c.fetchOnce(ctx, url)
		if err != nil {
			lg.Warn("fetch_attempt_failed",
				slog.String("op", op),
				slog.String("url", url),
				slog.Int("attempt", attempt),
				slog.String("err", err.Error()),
			)
			return err
		}

		body = b
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return nil, fmt.Errorf("%s: %w: %w", op, ErrFetch, err)
	}

	return body, nil
}

// retryable — отмена контекста повторять бессмысленно.
func retryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new_request: %w", err)
	}

	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return nil, fmt.Errorf("status=%d", resp.StatusCode)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read_body: %w", err)
	}

	return b, nil
}
