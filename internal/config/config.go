package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Providers understood by the service layer.
const (
	ProviderDify   = "dify"
	ProviderOpenAI = "openai"
)

// DefaultPagePrompt is the text sent to the page workflow when none is configured.
const DefaultPagePrompt = "What's the best City for tech? What's the best college for someone living there to pursue programming on a budget, who's just starting school? I would like community college options. Also, who can I network with on campus maximize my chances? What should I do while networking in the event that the economy is not conducive towards internships? Be specific."

// Config holds the configuration for the application.
type Config struct {
	Environment string `mapstructure:"environment"`
	Provider    string `mapstructure:"provider"`
	Server      struct {
		Addr            string        `mapstructure:"addr"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Dify struct {
		BaseURL string        `mapstructure:"base_url"`
		APIKey  string        `mapstructure:"api_key"`
		Timeout time.Duration `mapstructure:"timeout"`
		User    string        `mapstructure:"user"`
	} `mapstructure:"dify"`
	OpenAI struct {
		BaseURL string        `mapstructure:"base_url"`
		APIKey  string        `mapstructure:"api_key"`
		Model   string        `mapstructure:"model"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"openai"`
	Page struct {
		Title     string `mapstructure:"title"`
		Question  string `mapstructure:"question"`
		Prompt    string `mapstructure:"prompt"`
		InputKey  string `mapstructure:"input_key"`
		OutputKey string `mapstructure:"output_key"`
	} `mapstructure:"page"`
	Choices struct {
		APIKey    string `mapstructure:"api_key"`
		OutputKey string `mapstructure:"output_key"`
	} `mapstructure:"choices"`
	Chat struct {
		APIKey string `mapstructure:"api_key"`
	} `mapstructure:"chat"`
	DB struct {
		Enable   bool   `mapstructure:"enable"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Auth struct {
		Enable   bool   `mapstructure:"enable"`
		Issuer   string `mapstructure:"issuer"`
		Audience string `mapstructure:"audience"`
	} `mapstructure:"auth"`
	MCP struct {
		Enable bool `mapstructure:"enable"`
	} `mapstructure:"mcp"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`

	// Source is the config file that was read, empty when only defaults and
	// the environment were used.
	Source string `mapstructure:"-"`
}

// Options controls where LoadConfig looks for its inputs.
type Options struct {
	// EnvFile is a .env file to load before reading the environment. When
	// empty, ./.env is loaded if present.
	EnvFile string
	// ConfigFile is an explicit config file path. When empty, config.yaml is
	// searched in . and ./config and may be absent.
	ConfigFile string
}

// LoadConfig loads the configuration from an optional file and the environment.
func LoadConfig(opts Options) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// names used by the hosted services' own tooling
	_ = v.BindEnv("dify.api_key", "DIFY_API_KEY")
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	config.Source = v.ConfigFileUsed()

	config.Provider = strings.ToLower(strings.TrimSpace(config.Provider))
	config.Dify.BaseURL = normalizeBaseURL(config.Dify.BaseURL)
	config.OpenAI.BaseURL = normalizeBaseURL(config.OpenAI.BaseURL)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks that the selected provider can be reached.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderDify:
		if c.Dify.APIKey == "" {
			return errors.New("DIFY_API_KEY must be set in the environment or .env file")
		}
		if c.Dify.BaseURL == "" {
			return errors.New("dify.base_url must not be empty")
		}
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			return errors.New("OPENAI_API_KEY must be set in the environment or .env file")
		}
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}

	if c.Page.InputKey == "" || c.Page.OutputKey == "" {
		return errors.New("page.input_key and page.output_key must not be empty")
	}
	if c.Choices.OutputKey == "" {
		return errors.New("choices.output_key must not be empty")
	}
	if c.Auth.Enable && c.Auth.Issuer == "" {
		return errors.New("auth.issuer is required when auth is enabled")
	}
	return nil
}

// ChoicesAPIKey is the key of the task extraction app, falling back to the
// default Dify key.
func (c *Config) ChoicesAPIKey() string {
	if c.Choices.APIKey != "" {
		return c.Choices.APIKey
	}
	return c.Dify.APIKey
}

// ChatAPIKey is the key of the chat app, falling back to the default Dify key.
func (c *Config) ChatAPIKey() string {
	if c.Chat.APIKey != "" {
		return c.Chat.APIKey
	}
	return c.Dify.APIKey
}

// DatabaseURL builds a libpq style connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "DEV")
	v.SetDefault("provider", ProviderDify)

	v.SetDefault("server.addr", "0.0.0.0:7878")
	v.SetDefault("server.read_timeout", 15*time.Second)
	// must outlive the remote call
	v.SetDefault("server.write_timeout", 75*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("dify.base_url", "https://api.dify.ai")
	v.SetDefault("dify.api_key", "")
	v.SetDefault("dify.timeout", 60*time.Second)
	v.SetDefault("dify.user", "Moof")

	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.timeout", 60*time.Second)

	v.SetDefault("page.title", "CS Club")
	v.SetDefault("page.question", "What's one of the best colleges for learning to program at an affordable price?")
	v.SetDefault("page.prompt", DefaultPagePrompt)
	v.SetDefault("page.input_key", "meow")
	v.SetDefault("page.output_key", "result")

	v.SetDefault("choices.api_key", "")
	v.SetDefault("choices.output_key", "json response")
	v.SetDefault("chat.api_key", "")

	v.SetDefault("db.enable", false)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "csclub")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "csclub")
	v.SetDefault("db.sslmode", "disable")

	v.SetDefault("auth.enable", false)
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")

	v.SetDefault("mcp.enable", true)

	v.SetDefault("tls.enable", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.hostnames", []string{})
}

func loadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
		return nil
	}
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
	}
	return nil
}

// normalizeBaseURL trims whitespace and any trailing slash so paths can be
// appended without doubling separators.
func normalizeBaseURL(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
