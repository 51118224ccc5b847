package speech

import "strings"

// 转写后端
const (
	ProviderVolcengine = "volcengine"
	ProviderGroq       = "groq"
)

// SpeechConfig 语音服务配置
type SpeechConfig struct {
	// Volcengine 配置
	AppID          string `json:"appId"`            // 火山引擎 APP ID
	AccessToken    string `json:"accessToken"`      // 火山引擎 Access Token
	APIKey         string `json:"apiKey,omitempty"` // 兼容旧配置的 API Key
	AccessKey      string `json:"accessKey"`
	SecretKey      string `json:"secretKey"`
	Region         string `json:"region"`
	BaseURL        string `json:"baseUrl"` // 覆盖 wss://openspeech.bytedance.com，测试时指向本地服务
	ConcurrentMode bool   `json:"concurrentMode"`

	// ASR 配置
	ASRLanguage string `json:"asrLanguage"`

	// TTS 配置
	TTSVoice    string  `json:"ttsVoice"`
	TTSSpeed    float32 `json:"ttsSpeed"`
	TTSVolume   float32 `json:"ttsVolume"`
	TTSLanguage string  `json:"ttsLanguage"`

	// 转写后端选择，空值时自动判断
	TranscribeProvider string `json:"transcribeProvider"`

	// Groq Whisper
	GroqAPIKey      string `json:"-"`
	GroqBaseURL     string `json:"groqBaseUrl,omitempty"`
	GroqSTTModel    string `json:"groqSttModel"`
	GroqSTTLanguage string `json:"groqSttLanguage"`

	// 通用配置
	Timeout int `json:"timeout"` // seconds
}

// VolcengineEnabled 是否配置了火山引擎凭证
func (c *SpeechConfig) VolcengineEnabled() bool {
	if c == nil {
		return false
	}
	token := strings.TrimSpace(c.AccessToken)
	if token == "" {
		token = strings.TrimSpace(c.APIKey)
	}
	return strings.TrimSpace(c.AppID) != "" && token != ""
}

// GroqEnabled 是否配置了 Groq 密钥
func (c *SpeechConfig) GroqEnabled() bool {
	return c != nil && strings.TrimSpace(c.GroqAPIKey) != ""
}

// ResolveTranscribeProvider 未显式指定时，优先火山引擎，其次 Groq
func (c *SpeechConfig) ResolveTranscribeProvider() string {
	if c == nil {
		return ""
	}
	if p := strings.ToLower(strings.TrimSpace(c.TranscribeProvider)); p != "" {
		return p
	}
	switch {
	case c.VolcengineEnabled():
		return ProviderVolcengine
	case c.GroqEnabled():
		return ProviderGroq
	default:
		return ""
	}
}
