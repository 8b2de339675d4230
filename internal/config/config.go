// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for the service.
type Config struct {
	Service       ServiceConfig
	HTTP          HTTPConfig
	CORS          CORSConfig
	Storage       StorageConfig
	Transcription TranscriptionConfig
	STT           STTConfig
	WebSocket     WebSocketConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Principal string // identity stamped on published events
	Env       string // "dev" switches to console logging
	GRPCPort  string
}

// HTTPConfig holds the public API server settings.
type HTTPConfig struct {
	Port            string
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// CORSConfig holds the cross-origin policy for the public API.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool
}

// StorageConfig holds Badger settings for the transcription repository.
type StorageConfig struct {
	Dir      string
	InMemory bool
}

// TranscriptionConfig holds orchestrator settings.
type TranscriptionConfig struct {
	Language           string        // target language passed to the recognizer
	ProgressMultiplier float64       // estimated total = audio duration * multiplier
	ProgressTick       time.Duration // estimator tick
	TempDir            string        // staging dir for uploads; empty = os.TempDir()
	MaxUploadBytes     int64
	MaxConcurrent      int64 // recognitions allowed to run at once
	FFprobePath        string
	ProbeTimeout       time.Duration
	DetectLanguage     bool
}

// STTConfig selects and configures the speech recognizer.
type STTConfig struct {
	Provider string // mock, openai, google

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	GoogleAudioEncoding string
	GoogleSampleRateHz  int

	MockDelay time.Duration
}

// WebSocketConfig holds progress channel settings.
type WebSocketConfig struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
	MessageRate  float64 // inbound client frames per second echoed back
	MessageBurst int
}

// KafkaConfig holds lifecycle event publishing settings.
type KafkaConfig struct {
	Enabled   bool
	Brokers   []string
	Topic     string
	Principal string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Load reads configuration from the environment. Unparseable values fall
// back to their defaults.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-voicetotext")

	return &Config{
		Service: ServiceConfig{
			Principal: principal,
			Env:       os.Getenv("ENV"),
			GRPCPort:  envOrDefault("GRPC_PORT", "50051"),
		},
		HTTP: HTTPConfig{
			Port:            envOrDefault("HTTP_PORT", "8001"),
			ReadTimeout:     envOrDefaultDuration("HTTP_READ_TIMEOUT", 30*time.Second),
			IdleTimeout:     envOrDefaultDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: envOrDefaultDuration("HTTP_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		CORS: CORSConfig{
			AllowedOrigins:   envOrDefaultList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowCredentials: envOrDefaultBool("CORS_ALLOW_CREDENTIALS", true),
		},
		Storage: StorageConfig{
			Dir:      envOrDefault("STORAGE_DIR", "./data"),
			InMemory: envOrDefaultBool("STORAGE_IN_MEMORY", false),
		},
		Transcription: TranscriptionConfig{
			Language:           envOrDefault("TRANSCRIBE_LANGUAGE", "uk"),
			ProgressMultiplier: envOrDefaultFloat("PROGRESS_MULTIPLIER", 2),
			ProgressTick:       envOrDefaultDuration("PROGRESS_TICK", 100*time.Millisecond),
			TempDir:            os.Getenv("UPLOAD_TEMP_DIR"),
			MaxUploadBytes:     envOrDefaultInt64("MAX_UPLOAD_BYTES", 200*1024*1024),
			MaxConcurrent:      envOrDefaultInt64("MAX_CONCURRENT_TRANSCRIPTIONS", 2),
			FFprobePath:        envOrDefault("FFPROBE_PATH", "ffprobe"),
			ProbeTimeout:       envOrDefaultDuration("PROBE_TIMEOUT", 10*time.Second),
			DetectLanguage:     envOrDefaultBool("DETECT_LANGUAGE", true),
		},
		STT: STTConfig{
			Provider:            envOrDefault("STT_PROVIDER", "mock"),
			OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
			OpenAIBaseURL:       os.Getenv("OPENAI_BASE_URL"),
			OpenAIModel:         envOrDefault("OPENAI_STT_MODEL", "whisper-1"),
			GoogleAudioEncoding: envOrDefault("STT_AUDIO_ENCODING", "ENCODING_UNSPECIFIED"),
			GoogleSampleRateHz:  envOrDefaultInt("STT_SAMPLE_RATE_HZ", 0),
			MockDelay:           envOrDefaultDuration("STT_MOCK_DELAY", 2*time.Second),
		},
		WebSocket: WebSocketConfig{
			PingInterval: envOrDefaultDuration("WS_PING_INTERVAL", 20*time.Second),
			PongTimeout:  envOrDefaultDuration("WS_PONG_TIMEOUT", 20*time.Second),
			WriteTimeout: envOrDefaultDuration("WS_WRITE_TIMEOUT", 5*time.Second),
			ReadLimit:    envOrDefaultInt64("WS_READ_LIMIT", 1024*1024),
			MessageRate:  envOrDefaultFloat("WS_MESSAGE_RATE", 20),
			MessageBurst: envOrDefaultInt("WS_MESSAGE_BURST", 40),
		},
		Kafka: KafkaConfig{
			Enabled:   envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:   envOrDefaultList("KAFKA_BROKERS", nil),
			Topic:     envOrDefault("KAFKA_TOPIC", "voicetotext.transcription.events"),
			Principal: envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma-separated value, dropping empty items.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
