package domain

import "time"

// Attributes: фиксированная схема наблюдаемых атрибутов клиентского устройства.
// Отсутствующие значения остаются нулевыми и нормализуются в пустой маркер.
type Attributes struct {
	UserAgent           string   `json:"user_agent,omitempty"`
	Platform            string   `json:"platform,omitempty"`
	Languages           []string `json:"languages,omitempty"`
	Timezone            string   `json:"timezone,omitempty"`
	ScreenResolution    string   `json:"screen_resolution,omitempty"`
	ColorDepth          int      `json:"color_depth,omitempty"`
	HardwareConcurrency int      `json:"hardware_concurrency,omitempty"`
	DeviceMemory        float64  `json:"device_memory,omitempty"`
	Plugins             []string `json:"plugins,omitempty"`
	Fonts               []string `json:"fonts,omitempty"`
	CanvasHash          string   `json:"canvas_hash,omitempty"`
	WebGLVendor         string   `json:"webgl_vendor,omitempty"`
	WebGLRenderer       string   `json:"webgl_renderer,omitempty"`
	AudioHash           string   `json:"audio_hash,omitempty"`
	TouchSupport        *bool    `json:"touch_support,omitempty"`
	CookiesEnabled      *bool    `json:"cookies_enabled,omitempty"`
	DoNotTrack          string   `json:"do_not_track,omitempty"`
	Webdriver           *bool    `json:"webdriver,omitempty"`
}

// Signature: нормализованный снимок атрибутов и производный хэш.
type Signature struct {
	ID         string     `json:"id"`
	ClientKey  string     `json:"client_key"`
	Hash       string     `json:"hash"`
	Attributes Attributes `json:"attributes"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Match: похожий отпечаток из корпуса.
type Match struct {
	Signature  Signature `json:"signature"`
	Similarity float64   `json:"similarity"`
}
