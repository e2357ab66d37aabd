package validation

import (
	"fmt"

	"github.com/xela07ax/trustgate/internal/domain"
)

// Пороговые значения правил классификации
const (
	degradedErrorRate   = 0.5
	highRisk            = 0.7
	lowConfidence       = 0.3
	botLikelihoodCutoff = 0.8
	valueScoreCutoff    = 0.7
	valueConfidence     = 0.6
	validConfidence     = 0.5
	validRiskCeiling    = 0.5
)

// Aggregates: средние по этапам, завершившимся без ошибки.
type Aggregates struct {
	Confidence float64 `json:"confidence"`
	Risk       float64 `json:"risk"`
	ErrorRate  float64 `json:"error_rate"`
	Succeeded  int     `json:"succeeded"`
	Failed     int     `json:"failed"`
}

// Degraded: половина этапов или больше упали.
func (a Aggregates) Degraded() bool {
	return a.Succeeded+a.Failed > 0 && a.ErrorRate >= degradedErrorRate
}

func Aggregate(results []domain.StageResult) Aggregates {
	var agg Aggregates
	for _, r := range results {
		if r.Failed() {
			agg.Failed++
			continue
		}
		agg.Succeeded++
		agg.Confidence += r.Output.Confidence
		agg.Risk += r.Output.Risk
	}
	if agg.Succeeded > 0 {
		agg.Confidence /= float64(agg.Succeeded)
		agg.Risk /= float64(agg.Succeeded)
	}
	if total := agg.Succeeded + agg.Failed; total > 0 {
		agg.ErrorRate = float64(agg.Failed) / float64(total)
	}
	return agg
}

// roleScore: score первого успешного этапа с заданной ролью.
func roleScore(results []domain.StageResult, role domain.StageRole) (float64, bool) {
	for _, r := range results {
		if r.Role == role && !r.Failed() {
			return r.Output.Score, true
		}
	}
	return 0, false
}

// Classify — чистая функция. Правила применяются по порядку, первое сработавшее побеждает.
func Classify(results []domain.StageResult, agg Aggregates) domain.Classification {
	for _, r := range results {
		if !r.Failed() && r.Output.Invalid {
			return domain.ClassInvalid
		}
	}
	if agg.Degraded() {
		return domain.ClassSuspicious
	}
	if agg.Risk > highRisk {
		return domain.ClassSuspicious
	}
	if agg.Confidence < lowConfidence {
		return domain.ClassUnknown
	}
	if s, ok := roleScore(results, domain.RoleBotLikelihood); ok && s > botLikelihoodCutoff {
		return domain.ClassSuspicious
	}
	if s, ok := roleScore(results, domain.RoleValue); ok && s > valueScoreCutoff && agg.Confidence > valueConfidence {
		return domain.ClassValid
	}
	if agg.Confidence > validConfidence && agg.Risk < validRiskCeiling {
		return domain.ClassValid
	}
	return domain.ClassUnknown
}

// Recommend строит рекомендации только из классификации и выходов этапов.
func Recommend(class domain.Classification, results []domain.StageResult) []string {
	var out []string
	switch class {
	case domain.ClassValid:
		out = append(out, "accept: no further verification required")
	case domain.ClassInvalid:
		out = append(out, "reject: at least one stage marked the input as invalid")
	case domain.ClassSuspicious:
		out = append(out, "hold for manual review")
	default:
		out = append(out, "collect more signals before deciding")
	}

	for _, r := range results {
		switch {
		case r.Failed():
			out = append(out, fmt.Sprintf("re-run stage %q: %s", r.Stage, r.Error))
		case r.Output.Invalid:
			out = append(out, fmt.Sprintf("stage %q rejected the input", r.Stage))
		case r.Role == domain.RoleBotLikelihood && r.Output.Score > botLikelihoodCutoff:
			out = append(out, "require an interactive challenge: automation indicators present")
		case r.Output.Risk > highRisk:
			out = append(out, fmt.Sprintf("inspect stage %q: risk %.2f", r.Stage, r.Output.Risk))
		}
	}
	return out
}
