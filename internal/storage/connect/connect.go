// connect выбирает реализацию хранилища по db.driver.
package connect

import (
	"context"
	"fmt"

	"github.com/pribylovaa/go-news-crawler/internal/config"
	"github.com/pribylovaa/go-news-crawler/internal/storage"
	"github.com/pribylovaa/go-news-crawler/internal/storage/mongo"
	"github.com/pribylovaa/go-news-crawler/internal/storage/postgres"
)

// Open подключает хранилище и проверяет соединение.
// Неизвестный драйвер — ошибка с config.ErrInvalidConfig.
func Open(ctx context.Context, cfg config.DBConfig) (storage.Storage, error) {
	const op = "storage.connect.Open"

	switch cfg.Driver {
	case config.DriverMongo:
		m, err := mongo.New(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return m, nil
	case config.DriverPostgres:
		pg, err := postgres.New(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("%s: %w: unknown db driver %q", op, config.ErrInvalidConfig, cfg.Driver)
	}
}
