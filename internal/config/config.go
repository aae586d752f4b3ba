package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// DefaultMaxFileSize 附件大小上限（5 MiB）
const DefaultMaxFileSize = 5 << 20

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Model     ModelConfig     `mapstructure:"model"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Upload    UploadConfig    `mapstructure:"upload"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Log       LogConfig       `mapstructure:"log"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Session   SessionConfig   `mapstructure:"session"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
}

type ModelConfig struct {
	Provider string `mapstructure:"provider"` // gemini / openai
}

type GeminiConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
}

// OpenAIConfig 兼容OpenAI协议的模型端点配置
type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

type ChatConfig struct {
	SystemPrompt       string `mapstructure:"system_prompt"`
	MaxHistoryMessages int    `mapstructure:"max_history_messages"` // 0 表示不限制
}

type UploadConfig struct {
	MaxFileSize int64 `mapstructure:"max_file_size"` // 单位字节
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type SessionConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

var cfg *Config

func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CHAT")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	// 配置文件优先，未设置时回退到环境变量
	if cfg.Gemini.APIKey == "" {
		if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
			cfg.Gemini.APIKey = apiKey
		} else if apiKey := os.Getenv("GOOGLE_API_KEY"); apiKey != "" {
			cfg.Gemini.APIKey = apiKey
		}
	}
	if cfg.OpenAI.APIKey == "" {
		if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
			cfg.OpenAI.APIKey = apiKey
		}
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.Model.Provider == "" {
		c.Model.Provider = "gemini"
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = "gemini-2.0-flash"
	}
	if c.Upload.MaxFileSize <= 0 {
		c.Upload.MaxFileSize = DefaultMaxFileSize
	}
	if c.RateLimit.Enabled && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 1
	}
}

// validate 缺少模型凭证视为启动失败，不做降级
func validate(c *Config) error {
	switch c.Model.Provider {
	case "gemini":
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("gemini api key is required: set gemini.api_key or the GEMINI_API_KEY environment variable")
		}
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("openai api key is required: set openai.api_key or the OPENAI_API_KEY environment variable")
		}
	default:
		return fmt.Errorf("unsupported model provider: %s", c.Model.Provider)
	}
	return nil
}

func Get() *Config {
	return cfg
}
