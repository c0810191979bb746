package service

import (
	"strings"
	"testing"

	"github.com/pribylovaa/go-news-crawler/internal/models"
	"github.com/stretchr/testify/require"
)

// TestSummarize — счётчики, топы с "Unknown" и превью с обрезкой заголовка.
func TestSummarize(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 70)
	mk := func(title, author, category string, length int) models.EnrichedArticle {
		return models.EnrichedArticle{
			ArticleStub:   models.ArticleStub{Title: title, Author: author, Category: category},
			ContentLength: length,
			HasContent:    length > 0,
		}
	}

	articles := []models.EnrichedArticle{
		mk(long, "Bob", "AI", 200),
		mk("B", "Alice", "", 0),
		mk("C", "Alice", "AI", 400),
		mk("D", "", "Fintech", 0),
		mk("E", "Bob", "Fintech", 0),
		mk("F", "Carol", "AI", 0),
	}

	sum := Summarize(articles)

	require.Equal(t, 6, sum.Total)
	require.Equal(t, 2, sum.WithContent)
	require.InDelta(t, 100.0/3.0, sum.SuccessRate, 1e-9)
	require.InDelta(t, 300.0, sum.AvgContentLength, 1e-9)

	// При равенстве сохраняется порядок первого появления.
	require.Equal(t, []NameCount{
		{Name: "Bob", Count: 2},
		{Name: "Alice", Count: 2},
		{Name: unknownLabel, Count: 1},
		{Name: "Carol", Count: 1},
	}, sum.TopAuthors)
	require.Equal(t, []NameCount{
		{Name: "AI", Count: 3},
		{Name: "Fintech", Count: 2},
		{Name: unknownLabel, Count: 1},
	}, sum.TopCategories)

	require.Len(t, sum.Preview, 5)
	require.Equal(t, strings.Repeat("x", 60)+"...", sum.Preview[0].Title)
	require.True(t, sum.Preview[0].HasContent)
	require.Equal(t, "B", sum.Preview[1].Title)
	require.False(t, sum.Preview[1].HasContent)
}

// TestSummarize_TopIsLimited — в рейтинге не больше пяти позиций.
func TestSummarize_TopIsLimited(t *testing.T) {
	t.Parallel()

	var articles []models.EnrichedArticle
	for _, a := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		articles = append(articles, models.EnrichedArticle{ArticleStub: models.ArticleStub{Author: a}})
	}

	sum := Summarize(articles)
	require.Len(t, sum.TopAuthors, 5)
	require.Equal(t, "a", sum.TopAuthors[0].Name)
	require.Zero(t, sum.SuccessRate)
	require.Zero(t, sum.AvgContentLength)
}

// TestSummarize_Empty — пустой вход.
func TestSummarize_Empty(t *testing.T) {
	t.Parallel()

	sum := Summarize(nil)
	require.Zero(t, sum.Total)
	require.Empty(t, sum.TopAuthors)
	require.Empty(t, sum.Preview)
}
