package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/dig"

	"github.com/davidbz/conduit/internal/provider/registry"
)

// Config represents the process configuration.
type Config struct {
	Server    ServerConfig
	CORS      CORSConfig
	Log       LogConfig
	Pricing   PricingConfig
	Redis     RedisConfig
	Defaults  DefaultsConfig
	Providers ProvidersConfig
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int `env:"SERVER_PORT"          envDefault:"8080"`
	ReadTimeout  int `env:"SERVER_READ_TIMEOUT"  envDefault:"30"`
	WriteTimeout int `env:"SERVER_WRITE_TIMEOUT" envDefault:"600"`
	// Echo mounts the in-process echo endpoint under /echo/v1.
	Echo bool `env:"SERVER_ECHO" envDefault:"false"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"   envSeparator:"," envDefault:"*"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS"   envSeparator:"," envDefault:"GET,POST,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS"   envSeparator:"," envDefault:"Content-Type,Authorization"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"                  envDefault:"true"`
	MaxAge           int      `env:"CORS_MAX_AGE"                            envDefault:"86400"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level       string `env:"LOG_LEVEL"       envDefault:"info"`
	Development bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

// PricingConfig contains price table settings.
type PricingConfig struct {
	SnapshotURL    string        `env:"PRICING_SNAPSHOT_URL"`
	RefreshOnStart bool          `env:"PRICING_REFRESH_ON_START" envDefault:"false"`
	FetchTimeout   time.Duration `env:"PRICING_FETCH_TIMEOUT"    envDefault:"30s"`
	StoreTTL       time.Duration `env:"PRICING_STORE_TTL"        envDefault:"24h"`
}

// RedisConfig contains the snapshot store connection. An empty address
// disables the store.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB"          envDefault:"0"`
	Key      string `env:"REDIS_PRICING_KEY" envDefault:"conduit:pricing:snapshot"`
}

// DefaultsConfig contains the request defaults used when a caller omits them.
type DefaultsConfig struct {
	Service        string        `env:"CONDUIT_SERVICE"         envDefault:"openai"`
	Model          string        `env:"CONDUIT_MODEL"           envDefault:"gpt-4o-mini"`
	MaxTokens      int           `env:"CONDUIT_MAX_TOKENS"      envDefault:"0"`
	RequestTimeout time.Duration `env:"CONDUIT_REQUEST_TIMEOUT" envDefault:"10m"`
}

// ServiceConfig holds one service's credential and endpoint override.
type ServiceConfig struct {
	APIKey  string `env:"API_KEY"`
	BaseURL string `env:"BASE_URL"`
}

// ProvidersConfig holds every built-in service's settings.
type ProvidersConfig struct {
	OpenAI     ServiceConfig `envPrefix:"OPENAI_"`
	Anthropic  ServiceConfig `envPrefix:"ANTHROPIC_"`
	Google     ServiceConfig `envPrefix:"GEMINI_"`
	Ollama     ServiceConfig `envPrefix:"OLLAMA_"`
	Groq       ServiceConfig `envPrefix:"GROQ_"`
	DeepSeek   ServiceConfig `envPrefix:"DEEPSEEK_"`
	XAI        ServiceConfig `envPrefix:"XAI_"`
	Mistral    ServiceConfig `envPrefix:"MISTRAL_"`
	Together   ServiceConfig `envPrefix:"TOGETHER_"`
	OpenRouter ServiceConfig `envPrefix:"OPENROUTER_"`
	Fireworks  ServiceConfig `envPrefix:"FIREWORKS_"`
	LMStudio   ServiceConfig `envPrefix:"LMSTUDIO_"`
	Llamafile  ServiceConfig `envPrefix:"LLAMAFILE_"`
	Echo       ServiceConfig `envPrefix:"ECHO_"`
}

// Settings returns the registry settings for a service. Unknown services
// get empty settings.
func (p *ProvidersConfig) Settings(service string) registry.Settings {
	byService := map[string]ServiceConfig{
		"openai":     p.OpenAI,
		"anthropic":  p.Anthropic,
		"google":     p.Google,
		"ollama":     p.Ollama,
		"groq":       p.Groq,
		"deepseek":   p.DeepSeek,
		"xai":        p.XAI,
		"mistral":    p.Mistral,
		"together":   p.Together,
		"openrouter": p.OpenRouter,
		"fireworks":  p.Fireworks,
		"lmstudio":   p.LMStudio,
		"llamafile":  p.Llamafile,
		"echo":       p.Echo,
	}
	svc := byService[service]
	return registry.Settings{APIKey: svc.APIKey, BaseURL: svc.BaseURL}
}

// DepConfig is used for dependency injection with dig.
type DepConfig struct {
	dig.Out
	*ServerConfig
	*CORSConfig
	*LogConfig
	*PricingConfig
	*RedisConfig
	*DefaultsConfig
	*ProvidersConfig
}

// Load loads environment files and parses configuration.
func Load() (*Config, error) {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	return &cfg, nil
}

// ParseDependenciesConfig returns pointers to sub-configs for dependency injection.
func ParseDependenciesConfig(cfg *Config) DepConfig {
	return DepConfig{
		dig.Out{},
		&cfg.Server,
		&cfg.CORS,
		&cfg.Log,
		&cfg.Pricing,
		&cfg.Redis,
		&cfg.Defaults,
		&cfg.Providers,
	}
}
