package service

import (
	"slices"
	"unicode/utf8"

	"github.com/pribylovaa/go-news-crawler/internal/models"
)

const (
	summaryTop        = 5
	previewTitleLimit = 60
	unknownLabel      = "Unknown"
)

// NameCount — строка рейтинга авторов/рубрик.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// PreviewItem — строка превью прохода.
type PreviewItem struct {
	Title      string `json:"title"`
	HasContent bool   `json:"has_content"`
}

// Summary — сводка по статьям прохода.
type Summary struct {
	Total       int `json:"total"`
	WithContent int `json:"with_content"`
	// SuccessRate — доля статей с текстом, в процентах.
	SuccessRate float64 `json:"success_rate"`
	// AvgContentLength — средняя длина текста среди статей с текстом.
	AvgContentLength float64       `json:"avg_content_length"`
	TopAuthors       []NameCount   `json:"top_authors,omitempty"`
	TopCategories    []NameCount   `json:"top_categories,omitempty"`
	Preview          []PreviewItem `json:"preview,omitempty"`
}

// Summarize строит сводку: счётчики, топ-5 авторов и рубрик
// (при равенстве — в порядке первого появления) и превью первых пяти статей.
func Summarize(articles []models.EnrichedArticle) Summary {
	sum := Summary{Total: len(articles)}
	if len(articles) == 0 {
		return sum
	}

	var (
		totalLen   int
		authors    counter
		categories counter
	)

	for _, a := range articles {
		if a.HasContent {
			sum.WithContent++
			totalLen += a.ContentLength
		}
		authors.add(a.Author)
		categories.add(a.Category)
	}

	if sum.WithContent > 0 {
		sum.SuccessRate = float64(sum.WithContent) / float64(sum.Total) * 100
		sum.AvgContentLength = float64(totalLen) / float64(sum.WithContent)
	}

	sum.TopAuthors = authors.top(summaryTop)
	sum.TopCategories = categories.top(summaryTop)

	for _, a := range articles[:min(summaryTop, len(articles))] {
		sum.Preview = append(sum.Preview, PreviewItem{
			Title:      truncate(a.Title, previewTitleLimit),
			HasContent: a.HasContent,
		})
	}

	return sum
}

// counter считает вхождения, сохраняя порядок первого появления.
type counter struct {
	order []NameCount
	pos   map[string]int
}

func (c *counter) add(name string) {
	if name == "" {
		name = unknownLabel
	}
	if c.pos == nil {
		c.pos = make(map[string]int)
	}

	if i, ok := c.pos[name]; ok {
		c.order[i].Count++
		return
	}

	c.pos[name] = len(c.order)
	c.order = append(c.order, NameCount{Name: name, Count: 1})
}

func (c *counter) top(n int) []NameCount {
	out := slices.Clone(c.order)
	slices.SortStableFunc(out, func(a, b NameCount) int {
		return b.Count - a.Count
	})

	return out[:min(n, len(out))]
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	return string([]rune(s)[:n]) + "..."
}
