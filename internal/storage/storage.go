// storage определяет контракты доступа к хранилищу статей.
//
// Адаптеры сами решают, к какому виду относится ошибка драйвера, и оборачивают
// её в один из sentinel-ов; вызывающий код не разбирает тексты ошибок.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/pribylovaa/go-news-crawler/internal/models"
)

var (
	// ErrConflict — нарушение уникальности (натуральный ключ title).
	ErrConflict = errors.New("conflict")
	// ErrTransient — временная ошибка (сеть, таймаут, недоступность); запрос можно повторить.
	ErrTransient = errors.New("transient")
	// ErrNotFound — запись отсутствует в хранилище.
	ErrNotFound = errors.New("not found")
)

// Field — колонка записи, доступная для выборки и в качестве ключа upsert.
type Field string

const (
	FieldID          Field = "id"
	FieldTitle       Field = "title"
	FieldURL         Field = "url"
	FieldContent     Field = "content"
	FieldPublishedAt Field = "published_at"
	FieldSource      Field = "source"
)

// AllFields — полный набор колонок записи.
var AllFields = []Field{FieldID, FieldTitle, FieldURL, FieldContent, FieldPublishedAt, FieldSource}

// Kind — закрытое перечисление видов ошибок записи.
type Kind int

const (
	KindNone Kind = iota
	KindConflict
	KindTransient
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	default:
		return "other"
	}
}

// KindOf классифицирует ошибку хранилища.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindOther
	}
}

// ArticleStorage описывает операции над записями статей.
type ArticleStorage interface {
	// SelectAll возвращает все записи с заполненными полями fields
	// (пустой список — все поля). Порядок — по времени вставки.
	SelectAll(ctx context.Context, fields []Field) ([]models.Record, error)
	// Insert сохраняет одну запись и возвращает её с назначенным ID.
	// Нарушение уникальности — ErrConflict.
	Insert(ctx context.Context, rec models.Record) (models.Record, error)
	// UpsertByKey вставляет запись или обновляет существующую с тем же значением key.
	UpsertByKey(ctx context.Context, rec models.Record, key Field) (models.Record, error)
	// DeleteByIDs удаляет записи по идентификаторам и возвращает число удалённых.
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int, error)
}

// Storage задаёт контракт доступа к хранилищу для краулера.
type Storage interface {
	ArticleStorage
	Close()
}
