// Package fingerprint строит канонические отпечатки устройств и сравнивает их между собой.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xela07ax/trustgate/internal/domain"
)

const (
	fieldDelimiter = "|"
	listDelimiter  = ","
	// Вес "дорогого" атрибута (хэш отрисовки canvas)
	canvasWeight = 2.0
)

// Разделители внутри значений экранируются: разные наборы атрибутов не склеиваются в одну строку
var valueEscaper = strings.NewReplacer(`\`, `\\`, fieldDelimiter, `\`+fieldDelimiter, listDelimiter, `\`+listDelimiter)

// field описывает один атрибут схемы. Ровно одна из функций scalar/list задана.
// Пустая строка / пустой список означают "нет значения".
type field struct {
	name     string
	weight   float64
	sentinel string
	scalar   func(a *domain.Attributes) string
	list     func(a *domain.Attributes) []string
}

func boolValue(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}

func intValue(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// schema: фиксированный порядок полей. Менять порядок нельзя: он входит в хэш.
var schema = []field{
	{name: "user_agent", weight: 1, scalar: func(a *domain.Attributes) string { return a.UserAgent }},
	{name: "platform", weight: 1, scalar: func(a *domain.Attributes) string { return a.Platform }},
	{name: "languages", weight: 1, list: func(a *domain.Attributes) []string { return a.Languages }},
	{name: "timezone", weight: 1, scalar: func(a *domain.Attributes) string { return a.Timezone }},
	{name: "screen_resolution", weight: 1, scalar: func(a *domain.Attributes) string { return a.ScreenResolution }},
	{name: "color_depth", weight: 1, sentinel: "0", scalar: func(a *domain.Attributes) string { return intValue(a.ColorDepth) }},
	{name: "hardware_concurrency", weight: 1, sentinel: "0", scalar: func(a *domain.Attributes) string { return intValue(a.HardwareConcurrency) }},
	{name: "device_memory", weight: 1, sentinel: "0", scalar: func(a *domain.Attributes) string {
		if a.DeviceMemory == 0 {
			return ""
		}
		return strconv.FormatFloat(a.DeviceMemory, 'f', -1, 64)
	}},
	{name: "plugins", weight: 1, list: func(a *domain.Attributes) []string { return a.Plugins }},
	{name: "fonts", weight: 1, list: func(a *domain.Attributes) []string { return a.Fonts }},
	{name: "canvas_hash", weight: canvasWeight, scalar: func(a *domain.Attributes) string { return a.CanvasHash }},
	{name: "webgl_vendor", weight: 1, scalar: func(a *domain.Attributes) string { return a.WebGLVendor }},
	{name: "webgl_renderer", weight: 1, scalar: func(a *domain.Attributes) string { return a.WebGLRenderer }},
	{name: "audio_hash", weight: 1, scalar: func(a *domain.Attributes) string { return a.AudioHash }},
	{name: "touch_support", weight: 1, scalar: func(a *domain.Attributes) string { return boolValue(a.TouchSupport) }},
	{name: "cookies_enabled", weight: 1, scalar: func(a *domain.Attributes) string { return boolValue(a.CookiesEnabled) }},
	{name: "do_not_track", weight: 1, scalar: func(a *domain.Attributes) string { return a.DoNotTrack }},
	{name: "webdriver", weight: 1, scalar: func(a *domain.Attributes) string { return boolValue(a.Webdriver) }},
}

// normalizeList убирает пустые значения и дубликаты, сортирует.
func normalizeList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Canonical: нормализованная строка атрибутов, из которой считается хэш.
func Canonical(attrs domain.Attributes) string {
	parts := make([]string, len(schema))
	for i, f := range schema {
		if f.list != nil {
			list := normalizeList(f.list(&attrs))
			for j, v := range list {
				list[j] = valueEscaper.Replace(v)
			}
			parts[i] = strings.Join(list, listDelimiter)
			continue
		}
		v := strings.TrimSpace(f.scalar(&attrs))
		if v == "" {
			v = f.sentinel
		}
		parts[i] = valueEscaper.Replace(v)
	}
	return strings.Join(parts, fieldDelimiter)
}

// Hash: SHA-256 (hex) от канонической строки.
func Hash(attrs domain.Attributes) string {
	sum := sha256.Sum256([]byte(Canonical(attrs)))
	return hex.EncodeToString(sum[:])
}

// BuildSignature никогда не паникует наружу: при внутреннем сбое
// хэшем становится случайный идентификатор.
func BuildSignature(clientKey string, attrs domain.Attributes) (sig domain.Signature) {
	sig = domain.Signature{
		ID:         uuid.NewString(),
		ClientKey:  clientKey,
		Attributes: attrs,
		CreatedAt:  time.Now().UTC(),
	}
	defer func() {
		if rec := recover(); rec != nil {
			sig.Hash = uuid.NewString()
		}
	}()
	sig.Hash = Hash(attrs)
	return sig
}
