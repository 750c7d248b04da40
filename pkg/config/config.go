package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/pageqa/backend/internal/domain"
)

type Config struct {
	Server    ServerConfig
	Source    SourceConfig
	Chunking  ChunkingConfig
	Retrieval RetrievalConfig
	LLM       LLMConfig
	Cache     CacheConfig
	Redis     RedisConfig
	History   HistoryConfig
	RateLimit RateLimitConfig
	Metrics   MetricsConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string `validate:"required"`
	Port         int    `validate:"gt=0,lte=65535"`
	ReadTimeout  int    `validate:"gt=0"`
	WriteTimeout int    `validate:"gt=0"`
	BodyLimit    int    `validate:"gt=0"`
	CorsOrigins  string
	StaticDir    string
}

type SourceConfig struct {
	URL string `validate:"required,url"`
}

type ChunkingConfig struct {
	Size    int `validate:"gt=0"`
	Overlap int `validate:"gte=0,ltfield=Size"`
}

type RetrievalConfig struct {
	TopK            int `validate:"gte=0"`
	MaxContextChars int `validate:"gt=0"`
	MaxQuestionLen  int `validate:"gt=0"`
}

type LLMConfig struct {
	Provider           string `validate:"oneof=openai gemini ollama"`
	APIKey             string
	BaseURL            string
	Model              string
	EmbeddingModel     string
	Temperature        float32 `validate:"gte=0,lte=2"`
	MaxTokens          int     `validate:"gt=0"`
	EmbedTimeoutSec    int     `validate:"gt=0"`
	GenerateTimeoutSec int     `validate:"gt=0"`
	BatchSize          int     `validate:"gt=0"`
	MaxAttempts        int     `validate:"gt=0"`
}

type CacheConfig struct {
	Backend    string `validate:"oneof=none memory redis"`
	TTLMinutes int    `validate:"gte=0"`
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type HistoryConfig struct {
	Enabled bool
	Path    string
}

type RateLimitConfig struct {
	RequestsPerMinute int `validate:"gte=0"`
}

type MetricsConfig struct {
	Enabled bool
}

type LoggingConfig struct {
	Level      string `validate:"oneof=debug info warn error"`
	Format     string `validate:"oneof=json console"`
	OutputPath string
}

var validate = validator.New()

// Load reads .env, config.yaml and PAGEQA_* environment variables, in
// increasing order of precedence, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/pageqa")

	v.SetEnvPrefix("PAGEQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports the first invalid field wrapped in domain.ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s fails %q (value %v)", domain.ErrInvalidConfig, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	if c.Cache.Backend == "redis" && c.Redis.Host == "" {
		return fmt.Errorf("%w: redis cache requires redis.host", domain.ErrInvalidConfig)
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("%w: history requires history.path", domain.ErrInvalidConfig)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 90)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.corsOrigins", "*")
	v.SetDefault("server.staticDir", "")

	v.SetDefault("source.url", "https://en.wikipedia.org/wiki/Akahori_Gedou_Hour_Rabuge")

	v.SetDefault("chunking.size", 500)
	v.SetDefault("chunking.overlap", 50)

	v.SetDefault("retrieval.topK", 4)
	v.SetDefault("retrieval.maxContextChars", 4000)
	v.SetDefault("retrieval.maxQuestionLen", 2000)

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.embeddingModel", "")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.maxTokens", 2048)
	v.SetDefault("llm.embedTimeoutSec", 30)
	v.SetDefault("llm.generateTimeoutSec", 60)
	v.SetDefault("llm.batchSize", 100)
	v.SetDefault("llm.maxAttempts", 3)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttlMinutes", 60)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "./pageqa.db")

	v.SetDefault("rateLimit.requestsPerMinute", 30)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
