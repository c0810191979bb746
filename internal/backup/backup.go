// backup сохраняет JSON-снапшоты записей перед разрушающими операциями
// и после успешной загрузки.
//
// Имя снапшота: <prefix>_YYYYMMDD_HHMMSS.json.
// file.go — снапшоты в локальный каталог;
// minio.go — снапшоты в S3-совместимый бакет.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pribylovaa/go-news-crawler/internal/config"
)

// Префиксы снапшотов.
const (
	PrefixArticles = "backup_articles"
	PrefixDatabase = "database_backup"
)

// Snapshotter сохраняет payload под именем с префиксом и возвращает его расположение.
type Snapshotter interface {
	Snapshot(ctx context.Context, prefix string, payload any) (string, error)
}

// Name формирует имя снапшота по моменту t (в локальной зоне t).
func Name(prefix string, t time.Time) string {
	return fmt.Sprintf("%s_%s.json", prefix, t.Format("20060102_150405"))
}

// encode сериализует payload с отступами и без экранирования HTML.
func encode(payload any) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")

	if err := enc.Encode(payload); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// New выбирает реализацию по backup.driver. Выключенные снапшоты — (nil, nil).
func New(ctx context.Context, cfg config.BackupConfig) (Snapshotter, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Driver {
	case config.BackupS3:
		m, err := NewMinio(ctx, cfg.S3, nil)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return NewFile(cfg.Dir, nil), nil
	}
}
