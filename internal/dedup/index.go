package dedup

import (
	"github.com/pribylovaa/go-news-crawler/internal/models"
)

// Index — состояние сравнения пачки с уже сохранёнными записями:
// множества точных заголовков и URL плюс нормализованные префиксы текста.
//
// Index не потокобезопасен: его читает и пополняет только стадия загрузки.
type Index struct {
	c        *Classifier
	titles   map[string]struct{}
	urls     map[string]struct{}
	prefixes []string
}

// NewIndex строит индекс по существующим записям.
// Префиксы не длиннее MinPrefixLength в индекс не попадают.
func (c *Classifier) NewIndex(existing []models.Record) *Index {
	idx := &Index{
		c:      c,
		titles: make(map[string]struct{}, len(existing)),
		urls:   make(map[string]struct{}, len(existing)),
	}

	for _, r := range existing {
		idx.Add(r)
	}

	return idx
}

// Match проверяет кандидата: заголовок -> URL -> сходство префикса с любым известным.
func (idx *Index) Match(candidate models.Record) Verdict {
	if candidate.Title != "" {
		if _, ok := idx.titles[candidate.Title]; ok {
			return Verdict{Reason: models.ExactTitle}
		}
	}

	if candidate.URL != "" {
		if _, ok := idx.urls[candidate.URL]; ok {
			return Verdict{Reason: models.ExactURL}
		}
	}

	prefix := idx.c.Normalize(candidate.Content)
	if !idx.c.comparable(prefix) {
		return Verdict{Reason: models.Distinct}
	}

	for _, known := range idx.prefixes {
		if score := idx.c.opts.Scorer.Score(prefix, known); score >= idx.c.opts.Scorer.Threshold {
			return Verdict{Reason: models.NearContent, Score: score}
		}
	}

	return Verdict{Reason: models.Distinct}
}

// Add добавляет запись в индекс, чтобы последующие кандидаты той же пачки
// сравнивались и с ней.
func (idx *Index) Add(r models.Record) {
	if r.Title != "" {
		idx.titles[r.Title] = struct{}{}
	}
	if r.URL != "" {
		idx.urls[r.URL] = struct{}{}
	}
	if prefix := idx.c.Normalize(r.Content); idx.c.comparable(prefix) {
		idx.prefixes = append(idx.prefixes, prefix)
	}
}

// Len возвращает размеры множеств (заголовки, URL, префиксы) — для логов.
func (idx *Index) Len() (titles, urls, prefixes int) {
	return len(idx.titles), len(idx.urls), len(idx.prefixes)
}
