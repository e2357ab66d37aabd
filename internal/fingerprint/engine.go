package fingerprint

import (
	"context"

	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
)

// Observation — новый отпечаток и найденные похожие.
type Observation struct {
	Signature domain.Signature `json:"signature"`
	Matches   []domain.Match   `json:"matches"`
}

type Engine struct {
	store     Store
	threshold float64
	logger    *zap.Logger
}

func NewEngine(store Store, threshold float64, logger *zap.Logger) *Engine {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	return &Engine{store: store, threshold: threshold, logger: logger.Named("fingerprint")}
}

func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Observe строит отпечаток, сравнивает его с историей клиента и общим корпусом
// последних наблюдений и сохраняет. Сбой хранилища не мешает вернуть отпечаток.
func (e *Engine) Observe(ctx context.Context, clientKey string, attrs domain.Attributes) Observation {
	sig := BuildSignature(clientKey, attrs)

	history, err := e.store.History(ctx, clientKey)
	if err != nil {
		e.logger.Warn("failed to load signature history", zap.String("client_key", clientKey), zap.Error(err))
	}
	recent, err := e.store.Recent(ctx)
	if err != nil {
		e.logger.Warn("failed to load recent signatures", zap.Error(err))
	}

	obs := Observation{
		Signature: sig,
		Matches:   FindSimilar(sig, mergeCorpus(history, recent), e.threshold),
	}

	if err := e.store.Append(ctx, sig); err != nil {
		e.logger.Warn("failed to store signature", zap.String("client_key", clientKey), zap.Error(err))
	}
	return obs
}

// mergeCorpus склеивает списки без повторов по ID, сохраняя порядок.
func mergeCorpus(lists ...[]domain.Signature) []domain.Signature {
	seen := make(map[string]struct{})
	var out []domain.Signature
	for _, l := range lists {
		for _, s := range l {
			if _, ok := seen[s.ID]; ok {
				continue
			}
			seen[s.ID] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
