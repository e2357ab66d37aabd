// Package risk — этапы конвейера валидации.
package risk

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/xela07ax/trustgate/internal/domain"
)

var (
	emailRe   = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	jwtRe     = regexp.MustCompile(`^[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]*$`)
	opaqueRe  = regexp.MustCompile(`^[A-Za-z0-9_\-]{20,512}$`)
	accountRe = regexp.MustCompile(`^(?:[0-9]{6,20}|[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})$`)
)

// FormatStage проверяет синтаксис субъекта (email, токен, идентификатор аккаунта).
// Непустой субъект, не похожий ни на один формат, явно помечается invalid.
type FormatStage struct{}

func (FormatStage) Name() string           { return "format" }
func (FormatStage) Role() domain.StageRole { return domain.RoleGeneric }

func (FormatStage) Run(_ context.Context, in domain.ValidationInput) (domain.StageOutput, error) {
	subject := strings.TrimSpace(in.Subject)
	switch {
	case subject == "":
		return domain.StageOutput{Confidence: 0.4, Risk: 0.3, Signals: []string{"subject missing"}}, nil
	case emailRe.MatchString(subject):
		return domain.StageOutput{Confidence: 0.8, Risk: 0.1, Signals: []string{"email"}}, nil
	case accountRe.MatchString(subject):
		return domain.StageOutput{Confidence: 0.8, Risk: 0.1, Signals: []string{"account id"}}, nil
	case jwtRe.MatchString(subject):
		return checkJWT(subject), nil
	case opaqueRe.MatchString(subject):
		return domain.StageOutput{Confidence: 0.7, Risk: 0.2, Signals: []string{"opaque token"}}, nil
	}
	return domain.StageOutput{Confidence: 0.9, Risk: 0.9, Invalid: true, Signals: []string{"unrecognized subject format"}}, nil
}

// checkJWT разбирает только заголовок: подпись здесь не проверяется.
func checkJWT(token string) domain.StageOutput {
	head := strings.SplitN(token, ".", 2)[0]
	raw, err := base64.RawURLEncoding.DecodeString(head)
	if err != nil {
		return domain.StageOutput{Confidence: 0.9, Risk: 0.9, Invalid: true, Signals: []string{"malformed token header"}}
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(raw, &hdr); err != nil || hdr.Alg == "" {
		return domain.StageOutput{Confidence: 0.9, Risk: 0.9, Invalid: true, Signals: []string{"malformed token header"}}
	}
	if strings.EqualFold(hdr.Alg, "none") {
		return domain.StageOutput{Confidence: 0.9, Risk: 0.9, Invalid: true, Signals: []string{"unsigned token"}}
	}
	return domain.StageOutput{Confidence: 0.8, Risk: 0.1, Signals: []string{"jwt " + hdr.Alg}}
}
