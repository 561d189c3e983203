package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendGrok   = "grok"
	BackendOpenAI = "openai"
)

const (
	HeadingModeLine       = "line"
	HeadingModeCommonMark = "commonmark"
)

// EnvPrefix is the prefix for environment overrides, e.g. ARTICLEGEN_MODEL
const EnvPrefix = "ARTICLEGEN"

// Preset describes the defaults of a chat completion provider
type Preset struct {
	Endpoint  string
	APIKeyEnv string
	Model     string
}

// Presets maps backend names to their defaults
var Presets = map[string]Preset{
	BackendGrok: {
		Endpoint:  "https://api.x.ai/v1/chat/completions",
		APIKeyEnv: "GROK_API_KEY",
		Model:     "grok-beta",
	},
	BackendOpenAI: {
		Endpoint:  "https://api.openai.com/v1/chat/completions",
		APIKeyEnv: "OPENAI_API_KEY",
		Model:     "gpt-4o-mini",
	},
}

// Config holds application configuration
type Config struct {
	Backend            string        `mapstructure:"backend"`
	Endpoint           string        `mapstructure:"endpoint"`
	APIKey             string        `mapstructure:"api_key"`
	Model              string        `mapstructure:"model"`
	Temperature        float64       `mapstructure:"temperature"`
	Proxy              string        `mapstructure:"proxy"` // used for both http and https
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	Timeout            time.Duration `mapstructure:"timeout"`
	RequestDelay       time.Duration `mapstructure:"request_delay"`

	InputDir      string `mapstructure:"input_dir"`
	OutputDir     string `mapstructure:"output_dir"`
	HeadingMode   string `mapstructure:"heading_mode"`
	FrontMatter   bool   `mapstructure:"front_matter"`
	SkipGenerated bool   `mapstructure:"skip_generated"`

	SystemPromptFile string `mapstructure:"system_prompt_file"`
	UserPromptFile   string `mapstructure:"user_prompt_file"`

	HistoryDB string `mapstructure:"history_db"` // empty disables history
	LogDir    string `mapstructure:"log_dir"`
	Debug     bool   `mapstructure:"debug"`
}

// Overrides are values set on the command line. Nil fields are left alone.
type Overrides struct {
	Backend       *string
	Model         *string
	InputDir      *string
	OutputDir     *string
	HeadingMode   *string
	FrontMatter   *bool
	SkipGenerated *bool
	Debug         *bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", BackendGrok)
	v.SetDefault("endpoint", "")
	v.SetDefault("api_key", "")
	v.SetDefault("model", "")
	v.SetDefault("temperature", 0.8)
	v.SetDefault("proxy", "http://127.0.0.1:10809")
	v.SetDefault("insecure_skip_verify", true)
	v.SetDefault("timeout", 60*time.Second)
	v.SetDefault("request_delay", 2*time.Second)
	v.SetDefault("input_dir", ".")
	v.SetDefault("output_dir", ".")
	v.SetDefault("heading_mode", HeadingModeLine)
	v.SetDefault("front_matter", false)
	v.SetDefault("skip_generated", false)
	v.SetDefault("system_prompt_file", "")
	v.SetDefault("user_prompt_file", "")
	v.SetDefault("history_db", "articlegen.db")
	v.SetDefault("log_dir", "logs")
	v.SetDefault("debug", false)
}

// Load builds the configuration from defaults, an optional .env file, an optional
// config file and ARTICLEGEN_* environment variables. When configFile is empty,
// articlegen.yaml is looked up in the current directory.
func Load(configFile string, overrides Overrides) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("articlegen")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.apply(overrides)
	cfg.fillFromPreset()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) apply(o Overrides) {
	if o.Backend != nil {
		c.Backend = *o.Backend
	}
	if o.Model != nil {
		c.Model = *o.Model
	}
	if o.InputDir != nil {
		c.InputDir = *o.InputDir
	}
	if o.OutputDir != nil {
		c.OutputDir = *o.OutputDir
	}
	if o.HeadingMode != nil {
		c.HeadingMode = *o.HeadingMode
	}
	if o.FrontMatter != nil {
		c.FrontMatter = *o.FrontMatter
	}
	if o.SkipGenerated != nil {
		c.SkipGenerated = *o.SkipGenerated
	}
	if o.Debug != nil {
		c.Debug = *o.Debug
	}
}

// fillFromPreset fills endpoint, key and model from the backend preset when unset
func (c *Config) fillFromPreset() {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	preset, ok := Presets[c.Backend]
	if !ok {
		return
	}
	if c.Endpoint == "" {
		c.Endpoint = preset.Endpoint
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv(preset.APIKeyEnv)
	}
	if c.Model == "" {
		c.Model = preset.Model
	}
}

// Validate checks the configuration for values the tool cannot work with
func (c *Config) Validate() error {
	preset, ok := Presets[c.Backend]
	if !ok {
		return fmt.Errorf("unknown backend: %s", c.Backend)
	}
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("api key not set (use %s or %s_API_KEY)", preset.APIKeyEnv, EnvPrefix)
	}
	if c.Model == "" {
		return errors.New("model is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", c.Temperature)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.RequestDelay < 0 {
		return fmt.Errorf("request_delay must not be negative, got %s", c.RequestDelay)
	}
	switch c.HeadingMode {
	case HeadingModeLine, HeadingModeCommonMark:
	default:
		return fmt.Errorf("unknown heading mode: %s", c.HeadingMode)
	}
	if c.Proxy != "" {
		u, err := url.Parse(c.Proxy)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid proxy url: %q", c.Proxy)
		}
	}
	return nil
}
