// extract разбирает HTML страниц ленты и статей (golang.org/x/net/html).
//
// ExtractList возвращает записи списка в порядке документа,
// ExtractContent — очищенный текст статьи по упорядоченным стратегиям.
package extract

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/pribylovaa/go-news-crawler/internal/models"
)

// Options — правила извлечения.
type Options struct {
	// ItemClass — класс элемента <li> со статьёй в списке.
	ItemClass string
	// TitleHrefContains — подстрока href ссылки-заголовка.
	TitleHrefContains string
	// MinContentLength — текст не длиннее порога считается промахом.
	MinContentLength int
	Logger           *slog.Logger
	// Now — источник времени для ScrapedAt.
	Now func() time.Time
}

// Extractor — stateless-разборщик; безопасен для конкурентного использования.
type Extractor struct {
	itemClass  string
	titleHref  string
	minContent int
	log        *slog.Logger
	now        func() time.Time
}

// New создаёт Extractor; пустые значения заменяются дефолтами.
func New(opts Options) *Extractor {
	e := &Extractor{
		itemClass:  opts.ItemClass,
		titleHref:  opts.TitleHrefContains,
		minContent: opts.MinContentLength,
		log:        opts.Logger,
		now:        opts.Now,
	}

	if e.itemClass == "" {
		e.itemClass = "wp-block-post"
	}
	if e.titleHref == "" {
		e.titleHref = "techcrunch.com/20"
	}
	if e.minContent <= 0 {
		e.minContent = 100
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}

	return e
}

// MinContentLength возвращает порог длины текста.
func (e *Extractor) MinContentLength() int {
	return e.minContent
}

// ExtractList извлекает записи со страницы списка.
// Элементы без заголовка или ссылки пропускаются.
func (e *Extractor) ExtractList(page []byte) ([]models.ArticleStub, error) {
	const op = "extract.ExtractList"

	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	scraped := e.now().UTC()

	var stubs []models.ArticleStub
	walk(doc, func(n *html.Node) bool {
		if !isElement(n, "li") || !hasClass(n, e.itemClass) {
			return true
		}

		if stub, ok := e.stub(n, scraped); ok {
			stubs = append(stubs, stub)
		}

		return false
	})

	return stubs, nil
}

func (e *Extractor) stub(item *html.Node, scraped time.Time) (models.ArticleStub, bool) {
	const op = "extract.stub"

	var s models.ArticleStub

	if a := findFirst(item, hrefContains(e.titleHref)); a != nil {
		s.Title = textOf(a)
		s.URL = strings.TrimSpace(attr(a, "href"))
	}

	if s.Title == "" || s.URL == "" {
		return s, false
	}

	if a := findFirst(item, hrefContains("/author/")); a != nil {
		s.Author = textOf(a)
		s.AuthorURL = attr(a, "href")
	}

	if t := findFirst(item, func(n *html.Node) bool { return isElement(n, "time") }); t != nil {
		s.RelativeTime = textOf(t)

		if raw := strings.TrimSpace(attr(t, "datetime")); raw != "" {
			pub, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				e.log.Warn("published_time_parse_failed",
					slog.String("op", op),
					slog.String("url", s.URL),
					slog.String("value", raw),
					slog.String("err", err.Error()),
				)
			} else {
				s.PublishedAt = pub.UTC()
			}
		}
	}

	if a := findFirst(item, hrefContains("/category/")); a != nil {
		s.Category = textOf(a)
	}

	if img := findFirst(item, func(n *html.Node) bool { return isElement(n, "img") }); img != nil {
		s.ImageURL = attr(img, "src")
	}

	for _, cls := range strings.Fields(attr(item, "class")) {
		if id, ok := strings.CutPrefix(cls, "post-"); ok && isDigits(id) {
			s.ID = id
			break
		}
	}

	s.ScrapedAt = scraped

	return s, true
}

// contentStrategies — селекторы тела статьи в порядке приоритета.
var contentStrategies = []func(*html.Node) *html.Node{
	byClass("wp-block-post-content"),
	byClass("entry-content"),
	byClass("article-content"),
	func(doc *html.Node) *html.Node {
		main := findFirst(doc, func(n *html.Node) bool { return isElement(n, "main") })
		if main == nil {
			return nil
		}
		return findFirst(main, func(n *html.Node) bool { return n.Type == html.ElementNode && hasClass(n, "wp-block-group") })
	},
}

// noiseTags — элементы, вырезаемые из тела статьи целиком.
var noiseTags = map[string]bool{
	"script": true, "style": true, "nav": true, "aside": true, "footer": true, "header": true,
}

// noiseClassParts — подстроки атрибута class у рекламных и сопутствующих блоков.
var noiseClassParts = []string{"ad", "promo", "related"}

// ExtractContent возвращает очищенный текст статьи: непустые строки текстовых
// узлов, соединённые "\n". Пустая строка — ни одна стратегия не дала текст
// длиннее MinContentLength.
func (e *Extractor) ExtractContent(page []byte) string {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return ""
	}

	for _, strategy := range contentStrategies {
		root := strategy(doc)
		if root == nil {
			continue
		}

		stripNoise(root)

		if text := linesOf(root); utf8.RuneCountInString(text) > e.minContent {
			return text
		}
	}

	return ""
}

// stripNoise удаляет из поддерева служебные и рекламные элементы.
func stripNoise(root *html.Node) {
	var doomed []*html.Node
	walk(root, func(n *html.Node) bool {
		if n == root || n.Type != html.ElementNode {
			return true
		}

		if noiseTags[n.Data] || classContainsAny(n, noiseClassParts) {
			doomed = append(doomed, n)
			return false
		}

		return true
	})

	for _, n := range doomed {
		n.Parent.RemoveChild(n)
	}
}

// linesOf собирает обрезанные текстовые узлы поддерева через "\n".
func linesOf(root *html.Node) string {
	var lines []string
	walk(root, func(n *html.Node) bool {
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				lines = append(lines, s)
			}
		}
		return true
	})

	return strings.Join(lines, "\n")
}

// textOf — текст поддерева со схлопнутыми пробелами.
func textOf(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
		return true
	})

	return strings.Join(strings.Fields(b.String()), " ")
}

// walk обходит дерево в глубину в порядке документа.
// visit возвращает false, чтобы не спускаться в потомков узла.
func walk(n *html.Node, visit func(*html.Node) bool) {
	if !visit(n) {
		return
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

// findFirst возвращает первого потомка (не сам узел), удовлетворяющего условию.
func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if match(c) {
			return c
		}
		if found := findFirst(c, match); found != nil {
			return found
		}
	}

	return nil
}

func byClass(cls string) func(*html.Node) *html.Node {
	return func(doc *html.Node) *html.Node {
		return findFirst(doc, func(n *html.Node) bool {
			return n.Type == html.ElementNode && hasClass(n, cls)
		})
	}
}

func hrefContains(sub string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return isElement(n, "a") && strings.Contains(attr(n, "href"), sub)
	}
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}

	return ""
}

func hasClass(n *html.Node, cls string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == cls {
			return true
		}
	}

	return false
}

func classContainsAny(n *html.Node, parts []string) bool {
	class := attr(n, "class")
	if class == "" {
		return false
	}

	for _, p := range parts {
		if strings.Contains(class, p) {
			return true
		}
	}

	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}
