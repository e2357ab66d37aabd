package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
)

// ValueCondition — какое поле payload считать "ценностью" и где его потолок.
type ValueCondition struct {
	Field   string  `json:"risk_field"`
	Ceiling float64 `json:"threshold"`
}

// ValueStage оценивает числовое поле payload относительно потолка.
// Score = value/ceiling (не больше 1); превышение потолка поднимает риск.
type ValueStage struct {
	cond   ValueCondition
	logger *zap.Logger
}

func NewValueStage(cond ValueCondition, logger *zap.Logger) *ValueStage {
	if cond.Field == "" {
		cond.Field = "amount"
	}
	if cond.Ceiling <= 0 {
		cond.Ceiling = 1000
	}
	return &ValueStage{cond: cond, logger: logger.Named("value_stage")}
}

func (s *ValueStage) Name() string           { return "value" }
func (s *ValueStage) Role() domain.StageRole { return domain.RoleValue }

func (s *ValueStage) Run(_ context.Context, in domain.ValidationInput) (domain.StageOutput, error) {
	if len(in.Payload) == 0 {
		return domain.StageOutput{Confidence: 0.5, Risk: 0.2, Signals: []string{"no payload"}}, nil
	}

	var requestData map[string]any
	if err := json.Unmarshal(in.Payload, &requestData); err != nil {
		return domain.StageOutput{}, fmt.Errorf("%w: payload is not a JSON object: %v", domain.ErrInvalidInput, err)
	}

	val, ok := lookupNumber(requestData, s.cond.Field)
	if !ok {
		return domain.StageOutput{Confidence: 0.5, Risk: 0.2, Signals: []string{"value field missing: " + s.cond.Field}}, nil
	}
	if val < 0 || math.IsNaN(val) || math.IsInf(val, 0) {
		return domain.StageOutput{
			Confidence: 0.9,
			Risk:       0.9,
			Invalid:    true,
			Signals:    []string{fmt.Sprintf("%s is not a valid value", s.cond.Field)},
		}, nil
	}

	out := domain.StageOutput{
		Confidence: 0.8,
		Score:      math.Min(val/s.cond.Ceiling, 1),
	}
	out.Risk = 0.3 * out.Score
	if val > s.cond.Ceiling {
		out.Risk = 0.8
		out.Signals = append(out.Signals, fmt.Sprintf("%s above ceiling", s.cond.Field))
		s.logger.Warn("value ceiling exceeded",
			zap.String("field", s.cond.Field),
			zap.Float64("value", val),
			zap.Float64("ceiling", s.cond.Ceiling),
		)
	}
	return out, nil
}

// lookupNumber достает число по пути вида "order.total". В JSON числа всегда float64.
func lookupNumber(data map[string]any, path string) (float64, bool) {
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return 0, false
		}
		if cur, ok = m[part]; !ok {
			return 0, false
		}
	}
	v, ok := cur.(float64)
	return v, ok
}
