package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileEnv names the environment variable pointing at an optional YAML
// file. Environment variables always win over file values.
const ConfigFileEnv = "CALBOT_CONFIG"

type Config struct {
	HTTPAddr        string
	MetricsAddr     string
	LogFormat       string
	LogLevel        string
	DBDSN           string
	MQTTBrokerURL   string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string

	LLMProvider      string
	LLMModel         string
	LLMTimeout       time.Duration
	LLMMaxTokens     int
	LLMTemperature   float64
	OpenAIBaseURL    string
	OpenAIAPIKey     string
	AnthropicBaseURL string
	AnthropicAPIKey  string

	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	IntentMinConfidence      float64
	RecurrenceMaxOccurrences int
	ConversationTTL          time.Duration
	ConversationMaxUsers     int
	BatchTTL                 time.Duration
	WorkdayStartHour         int
	WorkdayEndHour           int
	DefaultTimezone          string
	DefaultLanguage          string

	CalendarBackend       string
	GoogleCredentialsFile string
	GoogleTokenFile       string
	GoogleCalendarID      string

	OTelTracesExporter string
	OTelEndpoint       string
}

func defaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":9010")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_format", "text")
	v.SetDefault("log_level", "info")
	v.SetDefault("db_dsn", "")
	v.SetDefault("mqtt_broker_url", "")
	v.SetDefault("mqtt_client_id", "calbot")
	v.SetDefault("mqtt_username", "")
	v.SetDefault("mqtt_password", "")
	v.SetDefault("mqtt_topic_prefix", "calbot")
	v.SetDefault("llm_provider", "openai")
	v.SetDefault("llm_model", "gpt-4o-mini")
	v.SetDefault("llm_timeout_seconds", 30)
	v.SetDefault("llm_max_tokens", 1024)
	v.SetDefault("llm_temperature", 0.0)
	v.SetDefault("openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("anthropic_base_url", "https://api.anthropic.com")
	v.SetDefault("anthropic_api_key", "")
	v.SetDefault("breaker_failure_threshold", 5)
	v.SetDefault("breaker_cooldown_seconds", 60)
	v.SetDefault("intent_min_confidence", 0.5)
	v.SetDefault("recurrence_max_occurrences", 366)
	v.SetDefault("conversation_ttl_minutes", 30)
	v.SetDefault("conversation_max_users", 10000)
	v.SetDefault("batch_ttl_minutes", 15)
	v.SetDefault("workday_start_hour", 9)
	v.SetDefault("workday_end_hour", 18)
	v.SetDefault("default_timezone", "UTC")
	v.SetDefault("default_language", "en")
	v.SetDefault("calendar_backend", "memory")
	v.SetDefault("google_credentials_file", "")
	v.SetDefault("google_token_file", "")
	v.SetDefault("google_calendar_id", "primary")
	v.SetDefault("otel_traces_exporter", "")
	v.SetDefault("otel_exporter_otlp_endpoint", "")
}

// Load reads configuration from the environment, layered over the file named
// by CALBOT_CONFIG when set. A missing completion key is an error.
func Load() (Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := Config{
		HTTPAddr:        v.GetString("http_addr"),
		MetricsAddr:     v.GetString("metrics_addr"),
		LogFormat:       v.GetString("log_format"),
		LogLevel:        v.GetString("log_level"),
		DBDSN:           v.GetString("db_dsn"),
		MQTTBrokerURL:   v.GetString("mqtt_broker_url"),
		MQTTClientID:    v.GetString("mqtt_client_id"),
		MQTTUsername:    v.GetString("mqtt_username"),
		MQTTPassword:    v.GetString("mqtt_password"),
		MQTTTopicPrefix: v.GetString("mqtt_topic_prefix"),

		LLMProvider:      strings.ToLower(v.GetString("llm_provider")),
		LLMModel:         v.GetString("llm_model"),
		LLMTimeout:       time.Duration(v.GetInt("llm_timeout_seconds")) * time.Second,
		LLMMaxTokens:     v.GetInt("llm_max_tokens"),
		LLMTemperature:   v.GetFloat64("llm_temperature"),
		OpenAIBaseURL:    strings.TrimRight(v.GetString("openai_base_url"), "/"),
		OpenAIAPIKey:     v.GetString("openai_api_key"),
		AnthropicBaseURL: strings.TrimRight(v.GetString("anthropic_base_url"), "/"),
		AnthropicAPIKey:  v.GetString("anthropic_api_key"),

		BreakerFailureThreshold: v.GetInt("breaker_failure_threshold"),
		BreakerCooldown:         time.Duration(v.GetInt("breaker_cooldown_seconds")) * time.Second,

		IntentMinConfidence:      v.GetFloat64("intent_min_confidence"),
		RecurrenceMaxOccurrences: v.GetInt("recurrence_max_occurrences"),
		ConversationTTL:          time.Duration(v.GetInt("conversation_ttl_minutes")) * time.Minute,
		ConversationMaxUsers:     v.GetInt("conversation_max_users"),
		BatchTTL:                 time.Duration(v.GetInt("batch_ttl_minutes")) * time.Minute,
		WorkdayStartHour:         v.GetInt("workday_start_hour"),
		WorkdayEndHour:           v.GetInt("workday_end_hour"),
		DefaultTimezone:          v.GetString("default_timezone"),
		DefaultLanguage:          v.GetString("default_language"),

		CalendarBackend:       strings.ToLower(v.GetString("calendar_backend")),
		GoogleCredentialsFile: v.GetString("google_credentials_file"),
		GoogleTokenFile:       v.GetString("google_token_file"),
		GoogleCalendarID:      v.GetString("google_calendar_id"),

		OTelTracesExporter: strings.ToLower(v.GetString("otel_traces_exporter")),
		OTelEndpoint:       v.GetString("otel_exporter_otlp_endpoint"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.LLMProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
	case "claude", "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when LLM_PROVIDER=%s", c.LLMProvider)
		}
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER: %s", c.LLMProvider)
	}

	switch c.CalendarBackend {
	case "memory":
	case "postgres":
		if c.DBDSN == "" {
			return fmt.Errorf("DB_DSN is required when CALENDAR_BACKEND=postgres")
		}
	case "google":
		if c.GoogleCredentialsFile == "" || c.GoogleTokenFile == "" {
			return fmt.Errorf("GOOGLE_CREDENTIALS_FILE and GOOGLE_TOKEN_FILE are required when CALENDAR_BACKEND=google")
		}
	default:
		return fmt.Errorf("unsupported CALENDAR_BACKEND: %s", c.CalendarBackend)
	}

	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE: %w", err)
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT_SECONDS must be positive")
	}
	if c.BreakerFailureThreshold <= 0 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be positive")
	}
	if c.WorkdayStartHour < 0 || c.WorkdayEndHour > 24 || c.WorkdayStartHour >= c.WorkdayEndHour {
		return fmt.Errorf("invalid workday hours %d-%d", c.WorkdayStartHour, c.WorkdayEndHour)
	}
	return nil
}
