package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Image generation backends accepted in ImageConfig.Backend.
const (
	ImageBackendOpenAI  = "openai"
	ImageBackendLocalAI = "localai"
	ImageBackendSDWebUI = "sdwebui"
)

type Config struct {
	Mattermost MattermostConfig `json:"mattermost"`
	OpenAI     OpenAIConfig     `json:"openai"`
	Anthropic  AnthropicConfig  `json:"anthropic"`
	Talk       TalkConfig       `json:"talk"`
	Image      ImageConfig      `json:"image"`
	Logging    LoggingConfig    `json:"logging"`
	Errors     ErrorsConfig     `json:"errors"`
}

type MattermostConfig struct {
	ServerURL      string `json:"server_url" env:"MATTERCLAW_MATTERMOST_SERVER_URL"`
	Scheme         string `json:"scheme" env:"MATTERCLAW_MATTERMOST_SCHEME"`
	Port           int    `json:"port" env:"MATTERCLAW_MATTERMOST_PORT"`
	Username       string `json:"username" env:"MATTERCLAW_MATTERMOST_USERNAME"`
	AccessToken    string `json:"access_token" env:"MATTERCLAW_MATTERMOST_ACCESS_TOKEN"`
	LoginID        string `json:"login_id" env:"MATTERCLAW_MATTERMOST_LOGIN_ID"`
	Password       string `json:"password" env:"MATTERCLAW_MATTERMOST_PASSWORD"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"MATTERCLAW_MATTERMOST_TIMEOUT_SECONDS"`
}

type OpenAIConfig struct {
	APIKey           string  `json:"api_key" env:"MATTERCLAW_OPENAI_API_KEY"`
	APIBase          string  `json:"api_base" env:"MATTERCLAW_OPENAI_API_BASE"`
	Model            string  `json:"model" env:"MATTERCLAW_OPENAI_MODEL"`
	MaxTokens        int     `json:"max_tokens" env:"MATTERCLAW_OPENAI_MAX_TOKENS"`
	Temperature      float64 `json:"temperature" env:"MATTERCLAW_OPENAI_TEMPERATURE"`
	TopP             float64 `json:"top_p" env:"MATTERCLAW_OPENAI_TOP_P"`
	PresencePenalty  float64 `json:"presence_penalty" env:"MATTERCLAW_OPENAI_PRESENCE_PENALTY"`
	FrequencyPenalty float64 `json:"frequency_penalty" env:"MATTERCLAW_OPENAI_FREQUENCY_PENALTY"`
	ReplyCount       int     `json:"reply_count" env:"MATTERCLAW_OPENAI_REPLY_COUNT"`
	SystemPrompt     string  `json:"system_prompt" env:"MATTERCLAW_OPENAI_SYSTEM_PROMPT"`
}

type AnthropicConfig struct {
	APIKey    string `json:"api_key" env:"MATTERCLAW_ANTHROPIC_API_KEY"`
	Model     string `json:"model" env:"MATTERCLAW_ANTHROPIC_MODEL"`
	MaxTokens int    `json:"max_tokens" env:"MATTERCLAW_ANTHROPIC_MAX_TOKENS"`
}

type TalkConfig struct {
	Endpoint string `json:"endpoint" env:"MATTERCLAW_TALK_ENDPOINT"`
	Model    string `json:"model" env:"MATTERCLAW_TALK_MODEL"`
}

type ImageConfig struct {
	Backend   string `json:"backend" env:"MATTERCLAW_IMAGE_BACKEND"`
	Endpoint  string `json:"endpoint" env:"MATTERCLAW_IMAGE_ENDPOINT"`
	APIKey    string `json:"api_key" env:"MATTERCLAW_IMAGE_API_KEY"`
	Model     string `json:"model" env:"MATTERCLAW_IMAGE_MODEL"`
	Size      string `json:"size" env:"MATTERCLAW_IMAGE_SIZE"`
	Count     int    `json:"count" env:"MATTERCLAW_IMAGE_COUNT"`
	OutputDir string `json:"output_dir" env:"MATTERCLAW_IMAGE_OUTPUT_DIR"`
}

type LoggingConfig struct {
	Level       string `json:"level" env:"MATTERCLAW_LOGGING_LEVEL"`
	FileEnabled bool   `json:"file_enabled" env:"MATTERCLAW_LOGGING_FILE_ENABLED"`
	FilePath    string `json:"file_path" env:"MATTERCLAW_LOGGING_FILE_PATH"`
	MaxSizeMB   int    `json:"max_size_mb" env:"MATTERCLAW_LOGGING_MAX_SIZE_MB"`
}

type ErrorsConfig struct {
	// Verbose forwards raw backend error text to the chat. Production
	// deployments should leave this off and read the log instead.
	Verbose bool `json:"verbose" env:"MATTERCLAW_ERRORS_VERBOSE"`
}

func DefaultConfig() *Config {
	return &Config{
		Mattermost: MattermostConfig{
			Scheme:         "https",
			Port:           443,
			TimeoutSeconds: 120,
		},
		OpenAI: OpenAIConfig{
			Model:            "gpt-4o-mini",
			MaxTokens:        4000,
			Temperature:      0.8,
			TopP:             1.0,
			PresencePenalty:  0.0,
			FrequencyPenalty: 0.0,
			ReplyCount:       1,
			SystemPrompt:     "You are a helpful assistant. Respond conversationally.",
		},
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-5",
			MaxTokens: 4000,
		},
		Talk: TalkConfig{
			Model: "text-davinci-002-render-sha-mobile",
		},
		Image: ImageConfig{
			Backend:   ImageBackendOpenAI,
			Model:     "dall-e-3",
			Size:      "1024x1024",
			Count:     1,
			OutputDir: "images",
		},
		Logging: LoggingConfig{
			Level:       "info",
			FileEnabled: false,
			FilePath:    "matterclaw.log",
			MaxSizeMB:   50,
		},
		Errors: ErrorsConfig{
			Verbose: false,
		},
	}
}

// LoadConfig merges the JSON file at path (if present) and environment
// overrides over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports fatal configuration problems. A non-nil error means the
// process must exit before entering the event loop.
func (c *Config) Validate() error {
	m := c.Mattermost
	if strings.TrimSpace(m.ServerURL) == "" {
		return fmt.Errorf("mattermost server_url must be provided")
	}
	if strings.TrimSpace(m.Username) == "" {
		return fmt.Errorf("mattermost username must be provided")
	}
	if m.AccessToken == "" && (m.LoginID == "" || m.Password == "") {
		return fmt.Errorf("either access_token or login_id and password must be provided")
	}
	if m.Port <= 0 || m.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", m.Port)
	}
	switch strings.ToLower(strings.TrimSpace(m.Scheme)) {
	case "http", "https":
	default:
		return fmt.Errorf("scheme must be either http or https, got %q", m.Scheme)
	}

	switch c.Image.Backend {
	case ImageBackendOpenAI, ImageBackendLocalAI, ImageBackendSDWebUI:
	default:
		return fmt.Errorf("unsupported image backend %q", c.Image.Backend)
	}

	if c.Image.Backend != ImageBackendOpenAI && c.Image.Endpoint == "" {
		return fmt.Errorf("image backend %q requires an endpoint", c.Image.Backend)
	}

	return nil
}
