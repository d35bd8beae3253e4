package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Cache       CacheConfig      `yaml:"cache"`
	Breaker     BreakerConfig    `yaml:"breaker"`
	Dispatch    DispatchConfig   `yaml:"dispatch"`
	Synth       SynthConfig      `yaml:"synth"`
	Transcribe  TranscribeConfig `yaml:"transcribe"`
	Audio       AudioConfig      `yaml:"audio"`
	EventStore  EventStoreConfig `yaml:"event_store"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type CacheConfig struct {
	Mode          string `yaml:"mode"` // redis, memory
	RedisHost     string `yaml:"redis_host"`
	RedisPort     int    `yaml:"redis_port"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPassword string `yaml:"redis_password"`
	TTLSeconds    int    `yaml:"ttl_seconds"`
	MaxEntries    int    `yaml:"max_entries"`
	OpTimeoutMS   int    `yaml:"op_timeout_ms"`
}

type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	OpenTimeoutMS    int `yaml:"open_timeout_ms"`
	SuccessThreshold int `yaml:"success_threshold"`
}

type DispatchConfig struct {
	MaxRetries       int     `yaml:"max_retries"`
	RetryMinWaitMS   int     `yaml:"retry_min_wait_ms"`
	RetryMaxWaitMS   int     `yaml:"retry_max_wait_ms"`
	RetryMultiplier  float64 `yaml:"retry_multiplier"`
	AttemptTimeoutMS int     `yaml:"attempt_timeout_ms"`
}

type SynthConfig struct {
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	Voice      string `yaml:"voice"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type TranscribeConfig struct {
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	ModelPath  string `yaml:"model_path"`
	Language   string `yaml:"language"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	RawPCM     bool   `yaml:"raw_pcm"`
}

type AudioConfig struct {
	SampleRate int     `yaml:"sample_rate"`
	Channels   int     `yaml:"channels"`
	TargetDBFS float64 `yaml:"target_dbfs"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "voicegate",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Cache: CacheConfig{
			Mode:        "memory",
			RedisHost:   "localhost",
			RedisPort:   6379,
			RedisDB:     0,
			TTLSeconds:  3600,
			MaxEntries:  4096,
			OpTimeoutMS: 5000,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			OpenTimeoutMS:    60000,
			SuccessThreshold: 2,
		},
		Dispatch: DispatchConfig{
			MaxRetries:       3,
			RetryMinWaitMS:   1000,
			RetryMaxWaitMS:   10000,
			RetryMultiplier:  2.0,
			AttemptTimeoutMS: 30000,
		},
		Synth: SynthConfig{
			Mode:       "mock",
			Voice:      "en-US",
			SampleRate: 22050,
			Channels:   1,
		},
		Transcribe: TranscribeConfig{
			Mode:       "mock",
			SampleRate: 16000,
			Channels:   1,
		},
		Audio: AudioConfig{
			SampleRate: 22050,
			Channels:   1,
			TargetDBFS: -20.0,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/voicegate-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VOICEGATE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOICEGATE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOICEGATE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOICEGATE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOICEGATE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOICEGATE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOICEGATE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOICEGATE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "VOICEGATE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VOICEGATE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOICEGATE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOICEGATE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOICEGATE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOICEGATE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOICEGATE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOICEGATE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOICEGATE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Cache.Mode, "VOICEGATE_CACHE_MODE")
	overrideString(&cfg.Cache.RedisHost, "VOICEGATE_CACHE_REDIS_HOST")
	overrideInt(&cfg.Cache.RedisPort, "VOICEGATE_CACHE_REDIS_PORT")
	overrideInt(&cfg.Cache.RedisDB, "VOICEGATE_CACHE_REDIS_DB")
	overrideString(&cfg.Cache.RedisPassword, "VOICEGATE_CACHE_REDIS_PASSWORD")
	overrideInt(&cfg.Cache.TTLSeconds, "VOICEGATE_CACHE_TTL_SECONDS")
	overrideInt(&cfg.Cache.MaxEntries, "VOICEGATE_CACHE_MAX_ENTRIES")
	overrideInt(&cfg.Cache.OpTimeoutMS, "VOICEGATE_CACHE_OP_TIMEOUT_MS")
	overrideInt(&cfg.Breaker.FailureThreshold, "VOICEGATE_BREAKER_FAILURE_THRESHOLD")
	overrideInt(&cfg.Breaker.OpenTimeoutMS, "VOICEGATE_BREAKER_OPEN_TIMEOUT_MS")
	overrideInt(&cfg.Breaker.SuccessThreshold, "VOICEGATE_BREAKER_SUCCESS_THRESHOLD")
	overrideInt(&cfg.Dispatch.MaxRetries, "VOICEGATE_DISPATCH_MAX_RETRIES")
	overrideInt(&cfg.Dispatch.RetryMinWaitMS, "VOICEGATE_DISPATCH_RETRY_MIN_WAIT_MS")
	overrideInt(&cfg.Dispatch.RetryMaxWaitMS, "VOICEGATE_DISPATCH_RETRY_MAX_WAIT_MS")
	overrideFloat(&cfg.Dispatch.RetryMultiplier, "VOICEGATE_DISPATCH_RETRY_MULTIPLIER")
	overrideInt(&cfg.Dispatch.AttemptTimeoutMS, "VOICEGATE_DISPATCH_ATTEMPT_TIMEOUT_MS")
	overrideString(&cfg.Synth.Mode, "VOICEGATE_SYNTH_MODE")
	overrideString(&cfg.Synth.Command, "VOICEGATE_SYNTH_COMMAND")
	overrideString(&cfg.Synth.Voice, "VOICEGATE_SYNTH_VOICE")
	overrideInt(&cfg.Synth.SampleRate, "VOICEGATE_SYNTH_SAMPLE_RATE")
	overrideInt(&cfg.Synth.Channels, "VOICEGATE_SYNTH_CHANNELS")
	overrideString(&cfg.Transcribe.Mode, "VOICEGATE_TRANSCRIBE_MODE")
	overrideString(&cfg.Transcribe.Command, "VOICEGATE_TRANSCRIBE_COMMAND")
	overrideString(&cfg.Transcribe.ModelPath, "VOICEGATE_TRANSCRIBE_MODEL_PATH")
	overrideString(&cfg.Transcribe.Language, "VOICEGATE_TRANSCRIBE_LANGUAGE")
	overrideInt(&cfg.Transcribe.SampleRate, "VOICEGATE_TRANSCRIBE_SAMPLE_RATE")
	overrideInt(&cfg.Transcribe.Channels, "VOICEGATE_TRANSCRIBE_CHANNELS")
	overrideBool(&cfg.Transcribe.RawPCM, "VOICEGATE_TRANSCRIBE_RAW_PCM")
	overrideInt(&cfg.Audio.SampleRate, "VOICEGATE_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "VOICEGATE_AUDIO_CHANNELS")
	overrideFloat(&cfg.Audio.TargetDBFS, "VOICEGATE_AUDIO_TARGET_DBFS")
	overrideString(&cfg.EventStore.Path, "VOICEGATE_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "VOICEGATE_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "VOICEGATE_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "VOICEGATE_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "VOICEGATE_EVENT_STORE_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Cache.Mode {
	case "redis", "memory":
		// ok
	default:
		return errors.New("cache.mode must be one of redis|memory")
	}
	if cfg.Cache.TTLSeconds <= 0 {
		return errors.New("cache.ttl_seconds must be positive")
	}
	if cfg.Cache.Mode == "redis" {
		if cfg.Cache.RedisHost == "" {
			return errors.New("cache.redis_host must not be empty when mode=redis")
		}
		if cfg.Cache.RedisPort <= 0 || cfg.Cache.RedisPort > 65535 {
			return errors.New("cache.redis_port must be between 1 and 65535")
		}
	}
	if cfg.Cache.Mode == "memory" && cfg.Cache.MaxEntries <= 0 {
		return errors.New("cache.max_entries must be positive when mode=memory")
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		return errors.New("breaker.failure_threshold must be >= 1")
	}
	if cfg.Breaker.OpenTimeoutMS <= 0 {
		return errors.New("breaker.open_timeout_ms must be positive")
	}
	if cfg.Breaker.SuccessThreshold <= 0 {
		return errors.New("breaker.success_threshold must be >= 1")
	}
	if cfg.Dispatch.MaxRetries <= 0 {
		return errors.New("dispatch.max_retries must be >= 1")
	}
	if cfg.Dispatch.RetryMinWaitMS <= 0 {
		return errors.New("dispatch.retry_min_wait_ms must be positive")
	}
	if cfg.Dispatch.RetryMaxWaitMS < cfg.Dispatch.RetryMinWaitMS {
		return errors.New("dispatch.retry_max_wait_ms must be >= retry_min_wait_ms")
	}
	if cfg.Dispatch.RetryMultiplier < 1 {
		return errors.New("dispatch.retry_multiplier must be >= 1")
	}
	if cfg.Dispatch.AttemptTimeoutMS <= 0 {
		return errors.New("dispatch.attempt_timeout_ms must be positive")
	}
	switch cfg.Synth.Mode {
	case "mock", "exec":
	default:
		return errors.New("synth.mode must be one of mock|exec")
	}
	if cfg.Synth.Mode == "exec" && cfg.Synth.Command == "" {
		return errors.New("synth.command must be set when mode=exec")
	}
	if cfg.Synth.SampleRate <= 0 {
		return errors.New("synth.sample_rate must be positive")
	}
	if cfg.Synth.Channels <= 0 {
		return errors.New("synth.channels must be positive")
	}
	switch cfg.Transcribe.Mode {
	case "mock", "exec":
	default:
		return errors.New("transcribe.mode must be one of mock|exec")
	}
	if cfg.Transcribe.Mode == "exec" && cfg.Transcribe.Command == "" {
		return errors.New("transcribe.command must be set when mode=exec")
	}
	if cfg.Transcribe.SampleRate <= 0 {
		return errors.New("transcribe.sample_rate must be positive")
	}
	if cfg.Transcribe.Channels <= 0 {
		return errors.New("transcribe.channels must be positive")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	return nil
}
