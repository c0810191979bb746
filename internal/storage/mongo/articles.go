package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pribylovaa/go-news-crawler/internal/models"
	"github.com/pribylovaa/go-news-crawler/internal/storage"
)

// articleDoc — представление записи в коллекции; _id — строковый UUID.
type articleDoc struct {
	ID          string     `bson:"_id"`
	Title       string     `bson:"title"`
	URL         string     `bson:"url"`
	Content     string     `bson:"content"`
	PublishedAt *time.Time `bson:"published_at,omitempty"`
	Source      string     `bson:"source"`
	CreatedAt   time.Time  `bson:"created_at"`
}

func (d articleDoc) record() (models.Record, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return models.Record{}, fmt.Errorf("bad _id %q: %w", d.ID, err)
	}

	rec := models.Record{
		ID:      id,
		Title:   d.Title,
		URL:     d.URL,
		Content: d.Content,
		Source:  d.Source,
	}
	if d.PublishedAt != nil {
		rec.PublishedAt = d.PublishedAt.UTC()
	}

	return rec, nil
}

func publishedPtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}

	u := t.UTC()
	return &u
}

// SelectAll возвращает записи в порядке вставки с проекцией на fields.
func (m *Mongo) SelectAll(ctx context.Context, fields []storage.Field) ([]models.Record, error) {
	const op = "storage.mongo.SelectAll"

	if len(fields) == 0 {
		fields = storage.AllFields
	}

	projection := bson.D{{Key: "_id", Value: 1}}
	for _, f := range fields {
		switch f {
		case storage.FieldID:
		case storage.FieldTitle, storage.FieldURL, storage.FieldContent, storage.FieldPublishedAt, storage.FieldSource:
			projection = append(projection, bson.E{Key: string(f), Value: 1})
		default:
			return nil, fmt.Errorf("%s: unknown field %q", op, f)
		}
	}

	opts := options.Find().
		SetProjection(projection).
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	cur, err := m.articles.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	defer cur.Close(ctx)

	var out []models.Record
	for cur.Next(ctx) {
		var doc articleDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%s: decode: %w", op, err)
		}

		rec, err := doc.record()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		out = append(out, rec)
	}

	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("%s: cursor: %w", op, classify(err))
	}

	return out, nil
}

// Insert сохраняет запись с новым UUID. Совпадение title — storage.ErrConflict.
func (m *Mongo) Insert(ctx context.Context, rec models.Record) (models.Record, error) {
	const op = "storage.mongo.Insert"

	rec.ID = uuid.New()
	doc := articleDoc{
		ID:          rec.ID.String(),
		Title:       rec.Title,
		URL:         rec.URL,
		Content:     rec.Content,
		PublishedAt: publishedPtr(rec.PublishedAt),
		Source:      rec.Source,
		CreatedAt:   time.Now().UTC(),
	}

	if _, err := m.articles.InsertOne(ctx, doc); err != nil {
		return models.Record{}, fmt.Errorf("%s: %w", op, classify(err))
	}

	return rec, nil
}

// UpsertByKey обновляет запись с тем же title или вставляет новую.
// id и created_at существующей записи сохраняются; published_at не затирается пустым.
func (m *Mongo) UpsertByKey(ctx context.Context, rec models.Record, key storage.Field) (models.Record, error) {
	const op = "storage.mongo.UpsertByKey"

	if key != storage.FieldTitle {
		return models.Record{}, fmt.Errorf("%s: unsupported upsert key %q", op, key)
	}

	set := bson.D{
		{Key: "url", Value: rec.URL},
		{Key: "content", Value: rec.Content},
		{Key: "source", Value: rec.Source},
	}
	if p := publishedPtr(rec.PublishedAt); p != nil {
		set = append(set, bson.E{Key: "published_at", Value: *p})
	}

	update := bson.D{
		{Key: "$set", Value: set},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "_id", Value: uuid.NewString()},
			{Key: "created_at", Value: time.Now().UTC()},
		}},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After).
		SetProjection(bson.D{{Key: "_id", Value: 1}})

	var doc struct {
		ID string `bson:"_id"`
	}
	err := m.articles.FindOneAndUpdate(ctx, bson.D{{Key: "title", Value: rec.Title}}, update, opts).Decode(&doc)
	if err != nil {
		return models.Record{}, fmt.Errorf("%s: %w", op, classify(err))
	}

	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return models.Record{}, fmt.Errorf("%s: bad _id %q: %w", op, doc.ID, err)
	}
	rec.ID = id

	return rec, nil
}

// DeleteByIDs удаляет записи по идентификаторам.
func (m *Mongo) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int, error) {
	const op = "storage.mongo.DeleteByIDs"

	if len(ids) == 0 {
		return 0, nil
	}

	keys := make(bson.A, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, id.String())
	}

	res, err := m.articles.DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: keys}}}})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, classify(err))
	}

	return int(res.DeletedCount), nil
}
