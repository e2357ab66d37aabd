package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xela07ax/trustgate/internal/domain"
)

func stage(role domain.StageRole, conf, risk, score float64) domain.StageResult {
	return domain.StageResult{Stage: string(role), Role: role, Output: domain.StageOutput{Confidence: conf, Risk: risk, Score: score}}
}

func failed(name string) domain.StageResult {
	return domain.StageResult{Stage: name, Role: domain.RoleGeneric, Error: "boom"}
}

func TestClassifyRulesInOrder(t *testing.T) {
	invalid := stage(domain.RoleGeneric, 0.9, 0.0, 0)
	invalid.Output.Invalid = true

	cases := []struct {
		name    string
		results []domain.StageResult
		want    domain.Classification
	}{
		{"explicit invalid wins over everything", []domain.StageResult{invalid, failed("x"), failed("y")}, domain.ClassInvalid},
		{"half of stages failed", []domain.StageResult{stage(domain.RoleGeneric, 0.9, 0.1, 0), failed("x")}, domain.ClassSuspicious},
		{"high risk", []domain.StageResult{stage(domain.RoleGeneric, 0.9, 0.8, 0)}, domain.ClassSuspicious},
		{"low confidence", []domain.StageResult{stage(domain.RoleGeneric, 0.2, 0.1, 0)}, domain.ClassUnknown},
		{"bot likelihood", []domain.StageResult{stage(domain.RoleGeneric, 0.9, 0.1, 0), stage(domain.RoleBotLikelihood, 0.9, 0.1, 0.85)}, domain.ClassSuspicious},
		{"high value with confidence", []domain.StageResult{stage(domain.RoleGeneric, 0.65, 0.6, 0), stage(domain.RoleValue, 0.65, 0.6, 0.8)}, domain.ClassValid},
		{"plain valid", []domain.StageResult{stage(domain.RoleGeneric, 0.6, 0.4, 0)}, domain.ClassValid},
		{"otherwise unknown", []domain.StageResult{stage(domain.RoleGeneric, 0.55, 0.6, 0)}, domain.ClassUnknown},
		{"no stages", nil, domain.ClassUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			agg := Aggregate(tc.results)
			assert.Equal(t, tc.want, Classify(tc.results, agg))
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	results := []domain.StageResult{
		stage(domain.RoleGeneric, 0.7, 0.3, 0),
		stage(domain.RoleBotLikelihood, 0.6, 0.4, 0.4),
		failed("lookup"),
	}
	first := Classify(results, Aggregate(results))
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Classify(results, Aggregate(results)))
	}
	assert.Equal(t, Recommend(first, results), Recommend(first, results))
}

func TestAggregateIgnoresFailedStages(t *testing.T) {
	agg := Aggregate([]domain.StageResult{stage(domain.RoleGeneric, 1, 0, 0), failed("x"), stage(domain.RoleGeneric, 0.5, 0.5, 0)})
	assert.InDelta(t, 0.75, agg.Confidence, 1e-9)
	assert.InDelta(t, 0.25, agg.Risk, 1e-9)
	assert.InDelta(t, 1.0/3.0, agg.ErrorRate, 1e-9)
	assert.False(t, agg.Degraded())
}

func TestRecommendMentionsFailedStage(t *testing.T) {
	recs := Recommend(domain.ClassSuspicious, []domain.StageResult{failed("lookup")})
	assert.Contains(t, recs, "hold for manual review")
	assert.Contains(t, recs, `re-run stage "lookup": boom`)
}
