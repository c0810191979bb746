// dedup классифицирует записи как точные/почти-дубликаты и группирует их.
//
// Порядок проверок (первое совпадение выигрывает, от дешёвых к дорогим):
// идентификатор -> [заголовок] -> URL -> сходство нормализованного префикса текста.
package dedup

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pribylovaa/go-news-crawler/internal/models"
	"github.com/pribylovaa/go-news-crawler/internal/similarity"
)

const (
	// DefaultPrefixLength — сколько символов текста участвует в сравнении.
	DefaultPrefixLength = 300
	// DefaultMinPrefixLength — префиксы не длиннее порога не сравниваются.
	DefaultMinPrefixLength = 50
)

// Verdict — результат классификации пары записей.
type Verdict struct {
	Reason models.Reason
	// Score заполняется только для NearContent.
	Score float64
}

// Duplicate сообщает, что вердикт — какой-либо вид дубликата.
func (v Verdict) Duplicate() bool {
	return v.Reason != models.Distinct
}

// Options — параметры классификатора.
type Options struct {
	// MatchTitle включает строгое сравнение заголовков перед URL.
	MatchTitle      bool
	PrefixLength    int
	MinPrefixLength int
	Scorer          similarity.Scorer
}

// Classifier решает, являются ли записи дубликатами.
type Classifier struct {
	opts Options
}

// New создаёт классификатор; нулевые значения заменяются дефолтами.
func New(opts Options) *Classifier {
	if opts.PrefixLength <= 0 {
		opts.PrefixLength = DefaultPrefixLength
	}
	if opts.MinPrefixLength <= 0 {
		opts.MinPrefixLength = DefaultMinPrefixLength
	}
	opts.Scorer = similarity.NewScorer(opts.Scorer.N, opts.Scorer.Threshold)

	return &Classifier{opts: opts}
}

// Normalize возвращает первые PrefixLength символов текста в нижнем регистре
// со схлопнутыми пробельными последовательностями.
func (c *Classifier) Normalize(content string) string {
	return NormalizePrefix(content, c.opts.PrefixLength)
}

// comparable сообщает, что префикс достаточно длинный для нечёткого сравнения.
func (c *Classifier) comparable(prefix string) bool {
	return utf8.RuneCountInString(prefix) > c.opts.MinPrefixLength
}

// Classify сравнивает кандидата с одной записью.
func (c *Classifier) Classify(candidate, other models.Record) Verdict {
	return c.classify(candidate, c.Normalize(candidate.Content), other, c.Normalize(other.Content))
}

// ClassifyAgainst сравнивает кандидата с набором записей по порядку и возвращает
// первый найденный дубликат и его индекс; -1 — совпадений нет.
func (c *Classifier) ClassifyAgainst(candidate models.Record, against []models.Record) (Verdict, int) {
	prefix := c.Normalize(candidate.Content)
	for i, other := range against {
		if v := c.classify(candidate, prefix, other, c.Normalize(other.Content)); v.Duplicate() {
			return v, i
		}
	}

	return Verdict{Reason: models.Distinct}, -1
}

func (c *Classifier) classify(candidate models.Record, prefix string, other models.Record, otherPrefix string) Verdict {
	if candidate.ID != uuid.Nil && candidate.ID == other.ID {
		return Verdict{Reason: models.ExactID}
	}

	if c.opts.MatchTitle && candidate.Title != "" && candidate.Title == other.Title {
		return Verdict{Reason: models.ExactTitle}
	}

	if candidate.URL != "" && other.URL != "" && candidate.URL == other.URL {
		return Verdict{Reason: models.ExactURL}
	}

	if candidate.Content != "" && other.Content != "" {
		if c.comparable(prefix) && c.comparable(otherPrefix) {
			score := c.opts.Scorer.Score(prefix, otherPrefix)
			if score >= c.opts.Scorer.Threshold {
				return Verdict{Reason: models.NearContent, Score: score}
			}
		}
	}

	return Verdict{Reason: models.Distinct}
}

// Groups разбивает набор на группы дубликатов.
//
// Для каждой ещё не сгруппированной записи сравниваются все более поздние
// несгруппированные записи; совпавшие присоединяются к ней как дубликаты
// и больше не сравниваются. Каноническая запись — самая ранняя во входном порядке.
// Возвращаются только группы хотя бы с одним дубликатом.
func (c *Classifier) Groups(records []models.Record) []models.DuplicateGroup {
	processed := make([]bool, len(records))
	prefixes := make([]string, len(records))
	for i, r := range records {
		prefixes[i] = c.Normalize(r.Content)
	}

	var groups []models.DuplicateGroup
	for i := range records {
		if processed[i] {
			continue
		}

		var dups []models.Duplicate
		for j := i + 1; j < len(records); j++ {
			if processed[j] {
				continue
			}

			v := c.classify(records[i], prefixes[i], records[j], prefixes[j])
			if !v.Duplicate() {
				continue
			}

			dups = append(dups, models.Duplicate{Record: records[j], Reason: v.Reason, Score: v.Score})
			processed[j] = true
		}

		if len(dups) > 0 {
			processed[i] = true
			groups = append(groups, models.DuplicateGroup{Canonical: records[i], Duplicates: dups})
		}
	}

	return groups
}

// NormalizePrefix берёт первые n символов, приводит к нижнему регистру,
// схлопывает пробельные последовательности в один пробел и обрезает края.
func NormalizePrefix(content string, n int) string {
	if content == "" {
		return ""
	}

	if n > 0 && utf8.RuneCountInString(content) > n {
		content = string([]rune(content)[:n])
	}

	return strings.Join(strings.Fields(strings.ToLower(content)), " ")
}
