package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pribylovaa/go-news-crawler/internal/models"
	"github.com/stretchr/testify/require"
)

// Unit-тесты обхода ленты на фиктивной ленте:
//  - ранняя остановка по окну (страница 4 не запрашивается);
//  - пропуск упавших страниц, дедупликация URL, записи без даты;
//  - окно 0 -> обход всех страниц; отмена во время паузы.

const base = "https://feed.test/latest/"

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// fakeFeed — лента: тело страницы равно её URL, записи берутся из pages.
type fakeFeed struct {
	mu      sync.Mutex
	pages   map[string][]models.ArticleStub
	fail    map[string]bool
	fetched []string
}

func (f *fakeFeed) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetched = append(f.fetched, url)
	if f.fail[url] {
		return nil, errors.New("boom")
	}
	return []byte(url), nil
}

func (f *fakeFeed) ExtractList(page []byte) ([]models.ArticleStub, error) {
	return f.pages[string(page)], nil
}

// newsFeed строит ленту из n страниц по perPage записей; каждая запись на час старше предыдущей.
func newsFeed(n, perPage int) *fakeFeed {
	f := &fakeFeed{pages: map[string][]models.ArticleStub{}, fail: map[string]bool{}}
	l := New(nil, nil, Options{BaseURL: base})

	age := 0
	for p := 1; p <= n; p++ {
		var items []models.ArticleStub
		for i := 0; i < perPage; i++ {
			age++
			items = append(items, models.ArticleStub{
				Title:       fmt.Sprintf("story %d", age),
				URL:         fmt.Sprintf("https://feed.test/2025/story-%d/", age),
				PublishedAt: now.Add(-time.Duration(age) * time.Hour),
			})
		}
		f.pages[l.PageURL(p)] = items
	}

	return f
}

func newLister(f *fakeFeed, delays *[]time.Duration) *Lister {
	return New(f, f, Options{
		BaseURL:   base,
		PageDelay: 2 * time.Second,
		Now:       func() time.Time { return now },
		Sleep: func(ctx context.Context, d time.Duration) error {
			if delays != nil {
				*delays = append(*delays, d)
			}
			return ctx.Err()
		},
	})
}

func TestPageURL(t *testing.T) {
	t.Parallel()

	l := New(nil, nil, Options{BaseURL: "https://feed.test/latest"})
	require.Equal(t, "https://feed.test/latest/", l.PageURL(1))
	require.Equal(t, "https://feed.test/latest/page/2/", l.PageURL(2))
	require.Equal(t, "https://feed.test/latest/page/10/", l.PageURL(10))
}

// TestListItems_StopsAtWindow — 10 страниц по 10 записей, окно 25 часов:
// граница внутри страницы 3, страница 4 не запрашивается.
func TestListItems_StopsAtWindow(t *testing.T) {
	t.Parallel()

	f := newsFeed(10, 10)
	var delays []time.Duration

	res, err := newLister(f, &delays).ListItems(context.Background(), 10, 25*time.Hour)
	require.NoError(t, err)

	require.Equal(t, StoppedByWindow, res.Stop)
	require.Len(t, res.Items, 25)
	require.Equal(t, 3, res.Pages)
	require.Equal(t, []string{base, base + "page/2/", base + "page/3/"}, f.fetched)
	require.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, delays)

	for i, it := range res.Items {
		require.Equal(t, fmt.Sprintf("story %d", i+1), it.Title, "document order is preserved")
	}
}

// TestListItems_CutoffInclusive — запись, опубликованная ровно на границе окна, сохраняется.
func TestListItems_CutoffInclusive(t *testing.T) {
	t.Parallel()

	f := newsFeed(1, 3)
	res, err := newLister(f, nil).ListItems(context.Background(), 1, 2*time.Hour)
	require.NoError(t, err)

	require.Equal(t, StoppedByWindow, res.Stop)
	require.Len(t, res.Items, 2)
	require.True(t, res.Items[1].PublishedAt.Equal(now.Add(-2*time.Hour)))
	require.Equal(t, "story 2", res.Items[1].Title)
}

// TestListItems_WindowDisabled — окно 0: обход до maxPages.
func TestListItems_WindowDisabled(t *testing.T) {
	t.Parallel()

	f := newsFeed(4, 3)
	res, err := newLister(f, nil).ListItems(context.Background(), 4, 0)
	require.NoError(t, err)
	require.Equal(t, StoppedByExhaustion, res.Stop)
	require.Len(t, res.Items, 12)
	require.Equal(t, 4, res.Pages)
}

// TestListItems_MaxPagesBound — maxPages ограничивает обход даже внутри окна.
func TestListItems_MaxPagesBound(t *testing.T) {
	t.Parallel()

	f := newsFeed(10, 2)
	res, err := newLister(f, nil).ListItems(context.Background(), 2, 1000*time.Hour)
	require.NoError(t, err)
	require.Equal(t, StoppedByExhaustion, res.Stop)
	require.Len(t, f.fetched, 2)
	require.Len(t, res.Items, 4)
}

// TestListItems_FailedPageSkipped — упавшая страница пропускается и считается.
func TestListItems_FailedPageSkipped(t *testing.T) {
	t.Parallel()

	f := newsFeed(3, 2)
	f.fail[base+"page/2/"] = true

	res, err := newLister(f, nil).ListItems(context.Background(), 3, 0)
	require.NoError(t, err)
	require.Equal(t, 3, res.Pages)
	require.Equal(t, 1, res.FailedPages)
	require.Len(t, res.Items, 4)
}

// TestListItems_DedupAndUndated — повтор URL отбрасывается, запись без даты сохраняется.
func TestListItems_DedupAndUndated(t *testing.T) {
	t.Parallel()

	f := &fakeFeed{pages: map[string][]models.ArticleStub{
		base: {
			{Title: "a", URL: "https://feed.test/a", PublishedAt: now.Add(-time.Hour)},
			{Title: "undated", URL: "https://feed.test/u"},
		},
		base + "page/2/": {
			{Title: "a again", URL: "https://feed.test/a", PublishedAt: now.Add(-2 * time.Hour)},
			{Title: "b", URL: "https://feed.test/b", PublishedAt: now.Add(-3 * time.Hour)},
		},
	}}

	res, err := newLister(f, nil).ListItems(context.Background(), 2, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, res.Items, 3)
	require.Equal(t, "a", res.Items[0].Title)
	require.Equal(t, "undated", res.Items[1].Title)
	require.Equal(t, "b", res.Items[2].Title)
}

// TestListItems_CancelledDuringDelay — отмена во время паузы прекращает обход.
func TestListItems_CancelledDuringDelay(t *testing.T) {
	t.Parallel()

	f := newsFeed(5, 1)
	ctx, cancel := context.WithCancel(context.Background())

	l := New(f, f, Options{
		BaseURL: base,
		Now:     func() time.Time { return now },
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	})

	res, err := l.ListItems(ctx, 5, 0)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StoppedByCancel, res.Stop)
	require.Len(t, res.Items, 1)
	require.Len(t, f.fetched, 1)
}

func TestStop_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "window", StoppedByWindow.String())
	require.Equal(t, "exhausted", StoppedByExhaustion.String())
	require.Equal(t, "cancelled", StoppedByCancel.String())
}
