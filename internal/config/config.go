package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const envPrefix = "LIVESCRIBE_"

// History backends
const (
	HistoryNone   = "none"
	HistoryMemory = "memory"
	HistoryMongo  = "mongo"
	HistorySQLite = "sqlite"
)

// Transcription providers
const (
	ProviderAWS    = "aws"
	ProviderGoogle = "google"
	ProviderMock   = "mock"
)

type ServerConfig struct {
	Port           int      `yaml:"port"`
	JWTSecret      string   `yaml:"jwt_secret"`
	TokenTTLMS     int      `yaml:"token_ttl_ms"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// Clients maps relay client IDs to the secrets they exchange for tokens
	Clients map[string]string `yaml:"clients"`
}

type BrokerConfig struct {
	Endpoint  string `yaml:"endpoint"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type TranscriptionConfig struct {
	Provider           string `yaml:"provider"` // aws, google, mock
	LanguageCode       string `yaml:"language_code"`
	SampleRate         int    `yaml:"sample_rate"`
	MockFramesPerEvent int    `yaml:"mock_frames_per_event"`
}

type HistoryConfig struct {
	Backend       string `yaml:"backend"` // none, memory, mongo, sqlite
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
	SQLitePath    string `yaml:"sqlite_path"`
}

// BusConfig enables NATS event publishing when Servers is not empty
type BusConfig struct {
	Servers          []string `yaml:"servers"`
	Token            string   `yaml:"token"`
	SubjectPrefix    string   `yaml:"subject_prefix"`
	ConnectTimeoutMS int      `yaml:"connect_timeout_ms"`
}

// TracingConfig exports spans over OTLP gRPC, or to stdout without an endpoint
type TracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Environment  string `yaml:"environment"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Broker        BrokerConfig        `yaml:"broker"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	History       HistoryConfig       `yaml:"history"`
	Bus           BusConfig           `yaml:"bus"`
	Tracing       TracingConfig       `yaml:"tracing"`
	Log           LogConfig           `yaml:"log"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Broker: BrokerConfig{
			Endpoint:  "http://localhost:8081",
			TimeoutMS: 10000,
		},
		Transcription: TranscriptionConfig{
			Provider:           ProviderAWS,
			LanguageCode:       "en-US",
			SampleRate:         44100,
			MockFramesPerEvent: 4,
		},
		History: HistoryConfig{
			Backend:       HistoryMemory,
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "livescribe",
			SQLitePath:    "./data/livescribe.db",
		},
		Bus: BusConfig{
			SubjectPrefix:    "livescribe",
			ConnectTimeoutMS: 2000,
		},
		Tracing: TracingConfig{
			Environment: "development",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, a .env
// file in the working directory and LIVESCRIBE_ environment overrides
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

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env file: %w", err)
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideInt(&cfg.Server.Port, "SERVER_PORT")
	overrideString(&cfg.Server.JWTSecret, "SERVER_JWT_SECRET")
	overrideInt(&cfg.Server.TokenTTLMS, "SERVER_TOKEN_TTL_MS")
	overrideStringSlice(&cfg.Server.AllowedOrigins, "SERVER_ALLOWED_ORIGINS")
	overrideString(&cfg.Broker.Endpoint, "BROKER_ENDPOINT")
	overrideInt(&cfg.Broker.TimeoutMS, "BROKER_TIMEOUT_MS")
	overrideString(&cfg.Transcription.Provider, "TRANSCRIPTION_PROVIDER")
	overrideString(&cfg.Transcription.LanguageCode, "TRANSCRIPTION_LANGUAGE_CODE")
	overrideInt(&cfg.Transcription.SampleRate, "TRANSCRIPTION_SAMPLE_RATE")
	overrideInt(&cfg.Transcription.MockFramesPerEvent, "TRANSCRIPTION_MOCK_FRAMES_PER_EVENT")
	overrideString(&cfg.History.Backend, "HISTORY_BACKEND")
	overrideString(&cfg.History.MongoURI, "HISTORY_MONGO_URI")
	overrideString(&cfg.History.MongoDatabase, "HISTORY_MONGO_DATABASE")
	overrideString(&cfg.History.SQLitePath, "HISTORY_SQLITE_PATH")
	overrideStringSlice(&cfg.Bus.Servers, "BUS_SERVERS")
	overrideString(&cfg.Bus.Token, "BUS_TOKEN")
	overrideString(&cfg.Bus.SubjectPrefix, "BUS_SUBJECT_PREFIX")
	overrideBool(&cfg.Tracing.Enabled, "TRACING_ENABLED")
	overrideString(&cfg.Tracing.Environment, "TRACING_ENVIRONMENT")
	overrideString(&cfg.Tracing.OTLPEndpoint, "TRACING_OTLP_ENDPOINT")
	overrideBool(&cfg.Tracing.OTLPInsecure, "TRACING_OTLP_INSECURE")
	overrideString(&cfg.Log.Level, "LOG_LEVEL")
	overrideBool(&cfg.Log.Development, "LOG_DEVELOPMENT")
}

func overrideString(target *string, key string) {
	if value, ok := os.LookupEnv(envPrefix + key); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, key string) {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, key string) {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, key string) {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		var trimmed []string
		for _, p := range strings.Split(value, ",") {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Server.TokenTTLMS < 0 {
		return errors.New("server.token_ttl_ms must be >= 0")
	}
	if len(c.Server.Clients) > 0 && c.Server.JWTSecret == "" {
		return errors.New("server.jwt_secret must be set when server.clients are configured")
	}
	if c.Broker.Endpoint == "" {
		return errors.New("broker.endpoint must not be empty")
	}
	if u, err := url.Parse(c.Broker.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("broker.endpoint must be an http or https URL")
	}
	if c.Broker.TimeoutMS < 0 {
		return errors.New("broker.timeout_ms must be >= 0")
	}
	switch c.Transcription.Provider {
	case ProviderAWS, ProviderGoogle, ProviderMock:
	default:
		return errors.New("transcription.provider must be one of aws|google|mock")
	}
	if c.Transcription.SampleRate < 0 {
		return errors.New("transcription.sample_rate must be >= 0")
	}
	switch c.History.Backend {
	case HistoryNone, HistoryMemory:
	case HistoryMongo:
		if c.History.MongoURI == "" {
			return errors.New("history.mongo_uri must be set for the mongo backend")
		}
	case HistorySQLite:
		if c.History.SQLitePath == "" {
			return errors.New("history.sqlite_path must be set for the sqlite backend")
		}
	default:
		return errors.New("history.backend must be one of none|memory|mongo|sqlite")
	}
	if c.Bus.ConnectTimeoutMS < 0 {
		return errors.New("bus.connect_timeout_ms must be >= 0")
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level is invalid: %w", err)
	}
	return nil
}

// NewLogger builds the process logger described by the log section
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	zapConfig := zap.NewProductionConfig()
	if c.Development {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = level
	return zapConfig.Build()
}
