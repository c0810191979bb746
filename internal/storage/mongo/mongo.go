// mongo — хранилище статей поверх MongoDB (db.driver: mongo).
package mongo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/pribylovaa/go-news-crawler/internal/storage"
)

const (
	articlesCollection = "articles"
	defaultDBName      = "crawler"
)

// Mongo — тонкий адаптер для подключения и коллекции статей.
type Mongo struct {
	client   *mongodriver.Client
	articles *mongodriver.Collection
}

// New подключается к MongoDB, проверяет соединение и создаёт индексы.
func New(ctx context.Context, uri string) (*Mongo, error) {
	const op = "storage.mongo.New"

	if uri == "" {
		return nil, fmt.Errorf("%s: empty uri", op)
	}

	cli, err := mongodriver.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("%s: ping: %w", op, classify(err))
	}

	m := &Mongo{
		client:   cli,
		articles: cli.Database(databaseFromURI(uri)).Collection(articlesCollection),
	}

	if err := m.ensureIndexes(ctx); err != nil {
		m.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return m, nil
}

// Close отключает клиента.
func (m *Mongo) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = m.client.Disconnect(ctx)
}

// ensureIndexes создаёт индексы коллекции статей:
// - уникальный по title (натуральный ключ upsert);
// - по url (проверка дубликатов);
// - по created_at, _id (порядок вставки для SelectAll).
func (m *Mongo) ensureIndexes(ctx context.Context) error {
	models := []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "title", Value: 1}},
			Options: options.Index().SetName("title_unique").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "url", Value: 1}},
			Options: options.Index().SetName("url"),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("created_id"),
		},
	}

	if _, err := m.articles.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	return nil
}

// classify сопоставляет ошибку драйвера виду ошибки хранилища.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case mongodriver.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %w", storage.ErrConflict, err)
	case mongodriver.IsTimeout(err), mongodriver.IsNetworkError(err), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", storage.ErrTransient, err)
	default:
		return err
	}
}

// databaseFromURI извлекает имя базы данных из пути mongodb URI.
func databaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err == nil {
		if name := strings.Trim(u.Path, "/"); name != "" {
			return name
		}
	}

	return defaultDBName
}

var _ storage.Storage = (*Mongo)(nil)
