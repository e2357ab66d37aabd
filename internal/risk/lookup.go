package risk

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/xela07ax/trustgate/internal/domain"
)

// Reputation — ответ внешнего сервиса репутации. Score от 0 (чисто) до 1 (плохо).
type Reputation struct {
	Score      float64  `json:"score"`
	Listed     bool     `json:"listed"`
	Categories []string `json:"categories,omitempty"`
}

// Lookuper: внешний источник репутации (HTTP-клиент, обернутый слоем надежности).
type Lookuper interface {
	Lookup(ctx context.Context, subject string) (Reputation, error)
}

// LookupStage спрашивает внешний сервис репутации о субъекте (или клиенте, если субъекта нет).
type LookupStage struct {
	lookup Lookuper
}

func NewLookupStage(l Lookuper) *LookupStage {
	return &LookupStage{lookup: l}
}

func (s *LookupStage) Name() string           { return "lookup" }
func (s *LookupStage) Role() domain.StageRole { return domain.RoleGeneric }

func (s *LookupStage) Run(ctx context.Context, in domain.ValidationInput) (domain.StageOutput, error) {
	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		subject = in.ClientID
	}
	rep, err := s.lookup.Lookup(ctx, subject)
	if err != nil {
		return domain.StageOutput{}, fmt.Errorf("reputation lookup: %w", err)
	}

	score := math.Max(0, math.Min(rep.Score, 1))
	out := domain.StageOutput{Confidence: 1 - score, Risk: score, Score: score, Invalid: rep.Listed}
	if rep.Listed {
		out.Signals = append(out.Signals, "subject is blocklisted")
	}
	for _, c := range rep.Categories {
		out.Signals = append(out.Signals, "category: "+c)
	}
	return out, nil
}
