// export сохраняет результаты прохода в JSON, CSV и читаемый текст.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pribylovaa/go-news-crawler/internal/models"
)

// Format — формат выгрузки.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatText Format = "txt"
)

// ParseFormats разбирает список форматов через запятую ("json,csv").
func ParseFormats(s string) ([]Format, error) {
	var out []Format
	for _, part := range strings.Split(s, ",") {
		switch f := Format(strings.TrimSpace(strings.ToLower(part))); f {
		case "":
			continue
		case FormatJSON, FormatCSV, FormatText:
			out = append(out, f)
		default:
			return nil, fmt.Errorf("export: unknown format %q", part)
		}
	}

	return out, nil
}

// FileName — имя файла выгрузки: <prefix>_YYYYMMDD_HHMMSS.<ext>.
// Для JSON с текстом статей префикс дополняется "_with_content", для текста — "_content".
func FileName(prefix string, f Format, articles []models.EnrichedArticle, t time.Time) string {
	switch f {
	case FormatJSON:
		if anyContent(articles) {
			prefix += "_with_content"
		}
	case FormatText:
		prefix += "_content"
	}

	return fmt.Sprintf("%s_%s.%s", prefix, t.Format("20060102_150405"), f)
}

// Write выгружает статьи в w в указанном формате.
func Write(w io.Writer, f Format, articles []models.EnrichedArticle) error {
	switch f {
	case FormatJSON:
		return JSON(w, articles)
	case FormatCSV:
		return CSV(w, articles)
	case FormatText:
		return Text(w, articles)
	default:
		return fmt.Errorf("export: unknown format %q", f)
	}
}

// WriteFile создаёт dir/name и выгружает в него статьи. Возвращает путь.
func WriteFile(dir, name string, f Format, articles []models.EnrichedArticle) (string, error) {
	const op = "export.WriteFile"

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
	}

	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if err := Write(file, f, articles); err != nil {
		_ = file.Close()
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if err := file.Close(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return path, nil
}

// JSON — массив статей с отступами, без экранирования HTML.
func JSON(w io.Writer, articles []models.EnrichedArticle) error {
	if articles == nil {
		articles = []models.EnrichedArticle{}
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")

	return enc.Encode(articles)
}

var csvHeader = []string{"title", "url", "author", "published_time", "relative_time", "category"}

// CSV — таблица статей. Колонки content_length и has_content добавляются,
// только если хотя бы у одной статьи есть текст.
func CSV(w io.Writer, articles []models.EnrichedArticle) error {
	withContent := anyContent(articles)

	header := csvHeader
	if withContent {
		header = append(append([]string(nil), csvHeader...), "content_length", "has_content")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, a := range articles {
		var published string
		if !a.PublishedAt.IsZero() {
			published = a.PublishedAt.Format(time.RFC3339)
		}

		row := []string{a.Title, a.URL, a.Author, published, a.RelativeTime, a.Category}
		if withContent {
			row = append(row, strconv.Itoa(a.ContentLength), strconv.FormatBool(a.HasContent))
		}

		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

const rule = "================================================================================"

// Text — читаемый файл: заголовок статьи, метаданные и текст для каждой статьи с текстом.
func Text(w io.Writer, articles []models.EnrichedArticle) error {
	n := 0
	for _, a := range articles {
		if a.Content == "" {
			continue
		}
		n++

		_, err := fmt.Fprintf(w, "%s\nArticle %d: %s\nAuthor: %s\nTime: %s\nCategory: %s\nURL: %s\nContent length: %d characters\n%s\n\n%s\n\n%s\n\n",
			rule, n, orNA(a.Title), orNA(a.Author), orNA(a.RelativeTime), orNA(a.Category), orNA(a.URL), a.ContentLength, rule,
			a.Content, rule)
		if err != nil {
			return err
		}
	}

	if n == 0 {
		_, err := io.WriteString(w, "No articles with content\n")
		return err
	}

	return nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func anyContent(articles []models.EnrichedArticle) bool {
	for _, a := range articles {
		if a.HasContent {
			return true
		}
	}
	return false
}
