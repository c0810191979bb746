// models содержит доменные сущности краулера.
// Эти типы передаются между стадиями конвейера, слоями хранилища и транспорта.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ArticleStub — запись из страницы списка статей.
//
// Особенности:
//   - значение неизменяемо: догрузка контента создаёт новый EnrichedArticle;
//   - PublishedAt == zero означает «время публикации неизвестно»;
//   - ID — идентификатор поста у источника (может отсутствовать).
type ArticleStub struct {
	ID           string    `json:"post_id,omitempty"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	Author       string    `json:"author,omitempty"`
	AuthorURL    string    `json:"author_url,omitempty"`
	Category     string    `json:"category,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
	RelativeTime string    `json:"relative_time,omitempty"`
	PublishedAt  time.Time `json:"published_time,omitzero"`
	ScrapedAt    time.Time `json:"scraped_at"`
}

// EnrichedArticle — ArticleStub с полным текстом статьи.
// HasContent истинно, только если текст длиннее минимального порога.
type EnrichedArticle struct {
	ArticleStub
	Content       string `json:"content"`
	ContentLength int    `json:"content_length"`
	HasContent    bool   `json:"has_content"`
}

// Record — запись в хранилище.
//
// Особенности:
//   - ID назначает хранилище, краулер его не изменяет;
//   - Title — натуральный ключ для upsert;
//   - URL не уникален на уровне модели, но считается сильным признаком дубликата.
type Record struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Content     string    `json:"content"`
	PublishedAt time.Time `json:"published_at"`
	Source      string    `json:"source"`
}
