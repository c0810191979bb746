// similarity вычисляет приблизительное сходство текстов по символьным шинглам.
package similarity

import "unicode/utf8"

const (
	// DefaultShingle — длина шингла по умолчанию.
	DefaultShingle = 3
	// DefaultThreshold — порог IsSimilar по умолчанию.
	DefaultThreshold = 0.85
	// maxLengthSkew — допустимая относительная разница длин; больше — сразу 0.
	maxLengthSkew = 0.3
)

// Similarity возвращает коэффициент Жаккара множеств n-символьных шинглов a и b в [0, 1].
//
// Правила:
//   - равные строки -> 1.0 без построения множеств;
//   - |len(a)-len(b)| / max(len(a), len(b)) > 0.3 -> 0.0 (дешёвый отсев);
//   - строка короче n даёт множество из одной целой строки;
//   - пустое множество у любой стороны -> 0.0.
//
// Длины считаются в символах (рунах). n <= 0 трактуется как DefaultShingle.
func Similarity(a, b string, n int) float64 {
	if a == b {
		return 1.0
	}

	if n <= 0 {
		n = DefaultShingle
	}

	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	if longest > 0 && float64(diff)/float64(longest) > maxLengthSkew {
		return 0.0
	}

	sa, sb := shingles(a, n), shingles(b, n)
	if len(sa) == 0 || len(sb) == 0 {
		return 0.0
	}

	// Итерируемся по меньшему множеству.
	if len(sa) > len(sb) {
		sa, sb = sb, sa
	}

	inter := 0
	for s := range sa {
		if _, ok := sb[s]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter

	return float64(inter) / float64(union)
}

// IsSimilar сообщает, что Similarity(a, b, n) >= threshold.
// Пустая строка с любой стороны никогда не считается похожей.
func IsSimilar(a, b string, n int, threshold float64) bool {
	if a == "" || b == "" {
		return false
	}

	return Similarity(a, b, n) >= threshold
}

// shingles строит множество перекрывающихся подстрок длины n (в рунах).
func shingles(s string, n int) map[string]struct{} {
	if s == "" {
		return nil
	}

	runes := []rune(s)
	if len(runes) < n {
		return map[string]struct{}{s: {}}
	}

	set := make(map[string]struct{}, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		set[string(runes[i:i+n])] = struct{}{}
	}

	return set
}

// Scorer — сконфигурированная пара (длина шингла, порог).
type Scorer struct {
	N         int
	Threshold float64
}

// NewScorer создаёт Scorer; нулевые значения заменяются дефолтами.
func NewScorer(n int, threshold float64) Scorer {
	if n <= 0 {
		n = DefaultShingle
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	return Scorer{N: n, Threshold: threshold}
}

// Score — Similarity с длиной шингла Scorer.
func (s Scorer) Score(a, b string) float64 {
	return Similarity(a, b, s.N)
}

// IsSimilar — IsSimilar с параметрами Scorer.
func (s Scorer) IsSimilar(a, b string) bool {
	return IsSimilar(a, b, s.N, s.Threshold)
}
