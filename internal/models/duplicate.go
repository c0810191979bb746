package models

// Reason — причина, по которой запись признана дубликатом.
type Reason int

const (
	// Distinct — записи различны.
	Distinct Reason = iota
	// ExactID — совпал идентификатор.
	ExactID
	// ExactTitle — совпал заголовок (строгое сравнение).
	ExactTitle
	// ExactURL — совпал URL.
	ExactURL
	// NearContent — нормализованные префиксы текста почти совпадают.
	NearContent
)

// String возвращает машинно-читаемое имя причины (для логов и метрик).
func (r Reason) String() string {
	switch r {
	case ExactID:
		return "exact_id"
	case ExactTitle:
		return "exact_title"
	case ExactURL:
		return "exact_url"
	case NearContent:
		return "near_content"
	default:
		return "distinct"
	}
}

// Duplicate — запись, отнесённая к группе, с причиной и оценкой сходства.
type Duplicate struct {
	Record Record
	Reason Reason
	Score  float64
}

// DuplicateGroup — каноническая запись и её дубликаты в порядке обнаружения.
// Каноническая — самая ранняя во входном порядке.
type DuplicateGroup struct {
	Canonical  Record
	Duplicates []Duplicate
}
