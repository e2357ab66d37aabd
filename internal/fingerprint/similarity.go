package fingerprint

import (
	"sort"
	"strings"

	"github.com/xela07ax/trustgate/internal/domain"
)

// Similarity: взвешенная доля совпавших атрибутов, присутствующих в обоих отпечатках.
// Скаляры дают 1 или 0, списки: отношение пересечения к объединению.
// Симметрична, в диапазоне [0,1]; 0: если сравнить нечего.
func Similarity(a, b domain.Attributes) float64 {
	var score, total float64
	for _, f := range schema {
		if f.list != nil {
			la, lb := normalizeList(f.list(&a)), normalizeList(f.list(&b))
			if len(la) == 0 || len(lb) == 0 {
				continue
			}
			score += f.weight * jaccard(la, lb)
			total += f.weight
			continue
		}
		va, vb := strings.TrimSpace(f.scalar(&a)), strings.TrimSpace(f.scalar(&b))
		if va == "" || vb == "" {
			continue
		}
		if va == vb {
			score += f.weight
		}
		total += f.weight
	}
	if total == 0 {
		return 0
	}
	return score / total
}

// jaccard ожидает нормализованные (без дублей) списки.
func jaccard(a, b []string) float64 {
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	inter := 0
	for _, v := range b {
		if _, ok := set[v]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// FindSimilar возвращает элементы корпуса (кроме самого sig) со сходством >= threshold,
// по убыванию сходства. При равенстве сохраняется порядок корпуса.
func FindSimilar(sig domain.Signature, corpus []domain.Signature, threshold float64) []domain.Match {
	var out []domain.Match
	for _, c := range corpus {
		if c.ID == sig.ID {
			continue
		}
		s := Similarity(sig.Attributes, c.Attributes)
		if s >= threshold {
			out = append(out, domain.Match{Signature: c, Similarity: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out
}
