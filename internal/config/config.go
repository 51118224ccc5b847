package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/viva/backend/internal/model/speech"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Viva    VivaConfig
	AI      AIConfig
	Speech  SpeechConfig
	Storage StorageConfig
	Janitor JanitorConfig
	Log     LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	viva, err := loadVivaConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	janitor, err := loadJanitorConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Viva:    viva,
		AI:      ai,
		Speech:  speech,
		Storage: storage,
		Janitor: janitor,
		Log:     loadLogConfig(),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	cfg := ServerConfig{CORSOrigins: splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		cfg.Addr = port
		return cfg, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	cfg.Addr = ":" + port
	return cfg, nil
}

// VivaConfig 答辩会话参数
type VivaConfig struct {
	MaxAudioBytes   int
	AudioChunkBytes int
	HistoryLimit    int
	TurnTimeout     time.Duration
	ReadTimeout     time.Duration
	UnknownEvents   string
	Exhaustion      string
	ScratchDir      string
	AudioFormat     string
	QuestionsFile   string
	// RandomSeed 非空时出题顺序可复现
	RandomSeed *uint64
}

func loadVivaConfig() (VivaConfig, error) {
	maxAudio, err := parseIntEnv("VIVA_MAX_AUDIO_BYTES", 32<<20)
	if err != nil {
		return VivaConfig{}, err
	}
	chunk, err := parseIntEnv("VIVA_AUDIO_CHUNK_BYTES", 512<<10)
	if err != nil {
		return VivaConfig{}, err
	}
	history, err := parseIntEnv("VIVA_HISTORY_LIMIT", 10)
	if err != nil {
		return VivaConfig{}, err
	}
	turnTimeout, err := parseIntEnv("VIVA_TURN_TIMEOUT", 120)
	if err != nil {
		return VivaConfig{}, err
	}
	readTimeout, err := parseIntEnv("VIVA_READ_TIMEOUT", 60)
	if err != nil {
		return VivaConfig{}, err
	}
	seed, err := parseOptionalUint64Env("VIVA_RANDOM_SEED")
	if err != nil {
		return VivaConfig{}, err
	}

	if maxAudio <= 0 || chunk <= 0 || history < 0 || turnTimeout <= 0 || readTimeout <= 0 {
		return VivaConfig{}, fmt.Errorf("viva limits must be positive (max_audio=%d chunk=%d history=%d turn_timeout=%d read_timeout=%d)",
			maxAudio, chunk, history, turnTimeout, readTimeout)
	}

	return VivaConfig{
		MaxAudioBytes:   maxAudio,
		AudioChunkBytes: chunk,
		HistoryLimit:    history,
		TurnTimeout:     time.Duration(turnTimeout) * time.Second,
		ReadTimeout:     time.Duration(readTimeout) * time.Second,
		UnknownEvents:   getEnvOrDefault("VIVA_UNKNOWN_EVENTS", "ignore"),
		Exhaustion:      getEnvOrDefault("VIVA_EXHAUSTION", "continue"),
		ScratchDir:      getEnvOrDefault("VIVA_SCRATCH_DIR", os.TempDir()),
		AudioFormat:     getEnvOrDefault("VIVA_AUDIO_FORMAT", "wav"),
		QuestionsFile:   getEnvOrDefault("VIVA_QUESTIONS_FILE", ""),
		RandomSeed:      seed,
	}, nil
}

// AI 后端
const (
	ProviderArk    = "ark"
	ProviderGroq   = "groq"
	ProviderClaude = "claude"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider string

	// Ark
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int

	// Groq
	GroqAPIKey      string
	GroqBaseURL     string
	GroqModel       string
	GroqTemperature float64

	// Claude
	ClaudeAPIKey string
	ClaudeModel  string
}

// ArkEnabled 表示是否提供了 Ark 必需的密钥。
func (c AIConfig) ArkEnabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// ResolveProvider 规范化 AI_PROVIDER，空值为 ark
func (c AIConfig) ResolveProvider() string {
	if p := strings.ToLower(strings.TrimSpace(c.Provider)); p != "" {
		return p
	}
	return ProviderArk
}

// Enabled 当前选中的后端是否具备凭证
func (c AIConfig) Enabled() bool {
	switch c.ResolveProvider() {
	case ProviderArk:
		return c.ArkEnabled()
	case ProviderGroq:
		return c.GroqAPIKey != ""
	case ProviderClaude:
		return c.ClaudeAPIKey != ""
	default:
		return false
	}
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	groqTemperature := 0.7
	if v, err := parseOptionalFloatEnv("GROQ_TEMPERATURE"); err != nil {
		return AIConfig{}, err
	} else if v != nil {
		groqTemperature = *v
	}

	cfg := AIConfig{
		Provider:        getEnvOrDefault("AI_PROVIDER", ProviderArk),
		APIKey:          strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:       strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:       strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:           strings.TrimSpace(os.Getenv("Model")),
		BaseURL:         getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:          getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:     temperature,
		TopP:            topP,
		MaxTokens:       maxTokens,
		GroqAPIKey:      strings.TrimSpace(os.Getenv("GROQ_API_KEY")),
		GroqBaseURL:     getEnvOrDefault("GROQ_BASE_URL", ""),
		GroqModel:       getEnvOrDefault("GROQ_MODEL", "llama-3.3-70b-versatile"),
		GroqTemperature: groqTemperature,
		ClaudeAPIKey:    strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		ClaudeModel:     getEnvOrDefault("CLAUDE_MODEL", ""),
	}

	switch cfg.ResolveProvider() {
	case ProviderArk, ProviderGroq, ProviderClaude:
	default:
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q", cfg.Provider)
	}
	return cfg, nil
}

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	AppID       string
	AccessToken string
	APIKey      string
	AccessKey   string
	SecretKey   string
	Region      string
	BaseURL     string
	ASRLanguage string
	TTSVoice    string
	TTSSpeed    float32
	TTSVolume   float32
	TTSLanguage string
	Timeout     int

	TranscribeProvider string
	GroqAPIKey         string
	GroqBaseURL        string
	GroqSTTModel       string
	GroqSTTLanguage    string
}

// Model 转换为语音服务使用的配置
func (c SpeechConfig) Model() *speech.SpeechConfig {
	return &speech.SpeechConfig{
		AppID:              c.AppID,
		AccessToken:        c.AccessToken,
		APIKey:             c.APIKey,
		AccessKey:          c.AccessKey,
		SecretKey:          c.SecretKey,
		Region:             c.Region,
		BaseURL:            c.BaseURL,
		ASRLanguage:        c.ASRLanguage,
		TTSVoice:           c.TTSVoice,
		TTSSpeed:           c.TTSSpeed,
		TTSVolume:          c.TTSVolume,
		TTSLanguage:        c.TTSLanguage,
		TranscribeProvider: c.TranscribeProvider,
		GroqAPIKey:         c.GroqAPIKey,
		GroqBaseURL:        c.GroqBaseURL,
		GroqSTTModel:       c.GroqSTTModel,
		GroqSTTLanguage:    c.GroqSTTLanguage,
		Timeout:            c.Timeout,
	}
}

func loadSpeechConfig() (SpeechConfig, error) {
	// 解析超时设置
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30 // 默认30秒
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	// 解析TTS速度和音量
	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsVolume := float32(1.0)
	if volume != nil {
		ttsVolume = *volume
	}

	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	if accessToken == "" {
		accessToken = apiKey
	}

	provider := strings.ToLower(getEnvOrDefault("TRANSCRIBE_PROVIDER", ""))
	switch provider {
	case "", speech.ProviderVolcengine, speech.ProviderGroq:
	default:
		return SpeechConfig{}, fmt.Errorf("invalid TRANSCRIBE_PROVIDER value %q", provider)
	}

	return SpeechConfig{
		AppID:              strings.TrimSpace(os.Getenv("SPEECH_APP_ID")),
		AccessToken:        accessToken,
		APIKey:             apiKey,
		AccessKey:          strings.TrimSpace(os.Getenv("SPEECH_ACCESS_KEY")),
		SecretKey:          strings.TrimSpace(os.Getenv("SPEECH_SECRET_KEY")),
		Region:             getEnvOrDefault("SPEECH_REGION", "cn-beijing"),
		BaseURL:            getEnvOrDefault("SPEECH_BASE_URL", ""),
		ASRLanguage:        getEnvOrDefault("SPEECH_ASR_LANGUAGE", "zh-CN"),
		TTSVoice:           getEnvOrDefault("SPEECH_TTS_VOICE", ""),
		TTSSpeed:           ttsSpeed,
		TTSVolume:          ttsVolume,
		TTSLanguage:        getEnvOrDefault("SPEECH_TTS_LANGUAGE", "zh-CN"),
		Timeout:            timeoutSeconds,
		TranscribeProvider: provider,
		GroqAPIKey:         strings.TrimSpace(os.Getenv("GROQ_API_KEY")),
		GroqBaseURL:        getEnvOrDefault("GROQ_BASE_URL", ""),
		GroqSTTModel:       getEnvOrDefault("GROQ_STT_MODEL", "whisper-large-v3-turbo"),
		GroqSTTLanguage:    getEnvOrDefault("GROQ_STT_LANGUAGE", "en"),
	}, nil
}

// StorageConfig MinIO 对象存储，用于持久化默认题库
type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// Enabled 端点与密钥齐全时启用
func (c StorageConfig) Enabled() bool {
	return c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != ""
}

func loadStorageConfig() (StorageConfig, error) {
	useSSL, err := parseBoolEnv("MINIO_USE_SSL", false)
	if err != nil {
		return StorageConfig{}, err
	}
	return StorageConfig{
		Endpoint:  strings.TrimSpace(os.Getenv("MINIO_ENDPOINT")),
		AccessKey: strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY")),
		SecretKey: strings.TrimSpace(os.Getenv("MINIO_SECRET_KEY")),
		UseSSL:    useSSL,
		Bucket:    getEnvOrDefault("MINIO_BUCKET", "viva-questions"),
	}, nil
}

// JanitorConfig 临时音频清理任务
type JanitorConfig struct {
	Schedule string
	MaxAge   time.Duration
}

func loadJanitorConfig() (JanitorConfig, error) {
	minutes, err := parseIntEnv("JANITOR_MAX_AGE", 60)
	if err != nil {
		return JanitorConfig{}, err
	}
	if minutes <= 0 {
		return JanitorConfig{}, fmt.Errorf("invalid JANITOR_MAX_AGE value %d: must be positive", minutes)
	}
	return JanitorConfig{
		Schedule: getEnvOrDefault("JANITOR_SCHEDULE", "@every 10m"),
		MaxAge:   time.Duration(minutes) * time.Minute,
	}, nil
}

// LogConfig 日志输出
type LogConfig struct {
	Level   string
	Format  string
	Backend string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:   getEnvOrDefault("LOG_LEVEL", "info"),
		Format:  getEnvOrDefault("LOG_FORMAT", "text"),
		Backend: getEnvOrDefault("LOG_BACKEND", "stderr"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	v, err := parseOptionalIntEnv(key)
	if err != nil || v == nil {
		return defaultValue, err
	}
	return *v, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	value, ok := lookupTrimmed(key)
	if !ok {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	value, ok := lookupTrimmed(key)
	if !ok {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalUint64Env(key string) (*uint64, error) {
	value, ok := lookupTrimmed(key)
	if !ok {
		return nil, nil
	}

	val, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	value, ok := lookupTrimmed(key)
	if !ok {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}

// lookupTrimmed 未设置或全为空白都视为缺省
func lookupTrimmed(key string) (string, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value := strings.TrimSpace(raw)
	return value, value != ""
}
