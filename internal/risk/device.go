package risk

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/xela07ax/trustgate/internal/domain"
)

// ConsistencyStage сравнивает отпечаток с найденными похожими.
// Совпадение с собственной историей повышает уверенность, совпадения с чужими клиентами: риск.
type ConsistencyStage struct{}

func (ConsistencyStage) Name() string           { return "consistency" }
func (ConsistencyStage) Role() domain.StageRole { return domain.RoleGeneric }

func (ConsistencyStage) Run(_ context.Context, in domain.ValidationInput) (domain.StageOutput, error) {
	if in.Signature == nil {
		return domain.StageOutput{Confidence: 0.4, Risk: 0.4, Signals: []string{"no fingerprint"}}, nil
	}

	own := 0
	foreign := make(map[string]struct{})
	for _, m := range in.Matches {
		if m.Signature.ClientKey == in.ClientID {
			own++
			continue
		}
		foreign[m.Signature.ClientKey] = struct{}{}
	}

	out := domain.StageOutput{Confidence: 0.6, Risk: 0.1}
	if own > 0 {
		out.Confidence = 0.9
		out.Signals = append(out.Signals, fmt.Sprintf("matches own history (%d)", own))
	} else {
		out.Signals = append(out.Signals, "new device")
	}
	if n := len(foreign); n > 0 {
		out.Risk = math.Min(1, 0.3+0.2*float64(n))
		out.Signals = append(out.Signals, fmt.Sprintf("device shared with %d other clients", n))
		if n >= 3 {
			out.Confidence = 0.3
		}
	}
	return out, nil
}

var automationMarkers = []string{
	"headless", "phantomjs", "selenium", "puppeteer", "playwright", "webdriver",
	"curl", "wget", "python", "go-http-client", "java/", "okhttp", "scrapy",
	"httpclient", "bot", "spider", "crawler",
}

// BotStage: вероятность автоматизации по атрибутам устройства.
type BotStage struct{}

func (BotStage) Name() string           { return "bot" }
func (BotStage) Role() domain.StageRole { return domain.RoleBotLikelihood }

func (BotStage) Run(_ context.Context, in domain.ValidationInput) (domain.StageOutput, error) {
	a := in.Attributes
	if a == nil && in.Signature != nil {
		a = &in.Signature.Attributes
	}
	if a == nil {
		return domain.StageOutput{Confidence: 0.4, Risk: 0.5, Score: 0.5, Signals: []string{"no device attributes"}}, nil
	}

	var score float64
	var signals []string
	add := func(w float64, signal string) {
		score += w
		signals = append(signals, signal)
	}

	if a.Webdriver != nil && *a.Webdriver {
		add(0.6, "webdriver flag set")
	}
	ua := strings.ToLower(a.UserAgent)
	if ua == "" {
		add(0.4, "empty user agent")
	} else {
		for _, m := range automationMarkers {
			if strings.Contains(ua, m) {
				add(0.5, "automation user agent: "+m)
				break
			}
		}
	}
	if len(a.Languages) == 0 {
		add(0.15, "no languages")
	}
	mobile := strings.Contains(ua, "mobile") || strings.Contains(ua, "android")
	if len(a.Plugins) == 0 && !mobile {
		add(0.1, "no plugins on desktop")
	}
	if a.HardwareConcurrency > 128 || a.DeviceMemory > 64 {
		add(0.2, "implausible hardware")
	}
	if a.ScreenResolution == "0x0" {
		add(0.2, "zero screen")
	}

	score = math.Min(score, 1)
	return domain.StageOutput{
		Confidence: 1 - score,
		Risk:       score,
		Score:      score,
		Signals:    signals,
	}, nil
}

// ResourceStage: репутация арендованного апстрим-ресурса.
type ResourceStage struct {
	SlowLatencyMs float64
}

func (ResourceStage) Name() string           { return "resource" }
func (ResourceStage) Role() domain.StageRole { return domain.RoleGeneric }

func (s ResourceStage) Run(_ context.Context, in domain.ValidationInput) (domain.StageOutput, error) {
	r := in.Resource
	if r == nil {
		return domain.StageOutput{Confidence: 0.5, Risk: 0.3, Signals: []string{"no resource leased"}}, nil
	}
	slow := s.SlowLatencyMs
	if slow <= 0 {
		slow = 2000
	}

	var risk float64
	var signals []string
	if !r.Healthy {
		risk += 0.6
		signals = append(signals, "resource unhealthy")
	}
	if r.FailureCount > 0 {
		risk += 0.15 * float64(r.FailureCount)
		signals = append(signals, fmt.Sprintf("resource failures: %d", r.FailureCount))
	}
	if r.AvgLatencyMs > slow {
		risk += 0.2
		signals = append(signals, "resource slow")
	}
	risk = math.Min(risk, 1)
	return domain.StageOutput{Confidence: 1 - risk/2, Risk: risk, Signals: signals}, nil
}
