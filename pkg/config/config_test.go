package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validBase() *Config {
	cfg := DefaultConfig()
	cfg.Mattermost.ServerURL = "chat.example.com"
	cfg.Mattermost.Username = "chatgpt"
	cfg.Mattermost.AccessToken = "token"
	return cfg
}

func TestDefaultConfig_Sampling(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.OpenAI.Temperature != 0.8 {
		t.Errorf("temperature = %v, want 0.8", cfg.OpenAI.Temperature)
	}
	if cfg.OpenAI.TopP != 1.0 {
		t.Errorf("top_p = %v, want 1.0", cfg.OpenAI.TopP)
	}
	if cfg.OpenAI.MaxTokens != 4000 {
		t.Errorf("max_tokens = %d, want 4000", cfg.OpenAI.MaxTokens)
	}
	if cfg.OpenAI.ReplyCount != 1 {
		t.Errorf("reply_count = %d, want 1", cfg.OpenAI.ReplyCount)
	}
}

func TestDefaultConfig_Mattermost(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Mattermost.Scheme != "https" {
		t.Errorf("scheme = %q, want https", cfg.Mattermost.Scheme)
	}
	if cfg.Mattermost.Port != 443 {
		t.Errorf("port = %d, want 443", cfg.Mattermost.Port)
	}
	if cfg.Mattermost.TimeoutSeconds == 0 {
		t.Error("timeout should have a default value")
	}
}

func TestValidate_RequiresServerURL(t *testing.T) {
	cfg := validBase()
	cfg.Mattermost.ServerURL = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing server_url")
	}
}

func TestValidate_RequiresCredentials(t *testing.T) {
	cfg := validBase()
	cfg.Mattermost.AccessToken = ""
	cfg.Mattermost.LoginID = ""
	cfg.Mattermost.Password = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when no credentials are set")
	}

	cfg.Mattermost.LoginID = "bot@example.com"
	cfg.Mattermost.Password = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("login_id+password should be accepted: %v", err)
	}
}

func TestValidate_SchemeEnum(t *testing.T) {
	cfg := validBase()

	for _, scheme := range []string{"http", "https", "HTTPS"} {
		cfg.Mattermost.Scheme = scheme
		if err := cfg.Validate(); err != nil {
			t.Errorf("scheme %q rejected: %v", scheme, err)
		}
	}

	cfg.Mattermost.Scheme = "ftp"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for scheme ftp")
	}
}

func TestValidate_PortRange(t *testing.T) {
	cfg := validBase()
	cfg.Mattermost.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for port 0")
	}

	cfg.Mattermost.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for port 70000")
	}
}

func TestValidate_ImageBackendEnum(t *testing.T) {
	cfg := validBase()

	cfg.Image.Backend = "openai"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("openai backend rejected: %v", err)
	}

	cfg.Image.Backend = "sdwebui"
	cfg.Image.Endpoint = "http://127.0.0.1:7860"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sdwebui backend rejected: %v", err)
	}

	cfg.Image.Backend = "sdwebui"
	cfg.Image.Endpoint = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("sdwebui without endpoint should be rejected")
	}

	cfg.Image.Backend = "midjourney"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported image backend")
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OpenAI.Model == "" {
		t.Error("defaults should survive a missing config file")
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"mattermost": {"server_url": "chat.example.com", "username": "chatgpt", "access_token": "tok", "port": 8065, "scheme": "http"},
		"openai": {"api_key": "sk-test", "temperature": 0.2}
	}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mattermost.Port != 8065 {
		t.Errorf("port = %d, want 8065", cfg.Mattermost.Port)
	}
	if cfg.OpenAI.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", cfg.OpenAI.Temperature)
	}
	// Untouched keys keep their defaults.
	if cfg.OpenAI.TopP != 1.0 {
		t.Errorf("top_p = %v, want default 1.0", cfg.OpenAI.TopP)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("MATTERCLAW_OPENAI_API_KEY", "sk-env")
	t.Setenv("MATTERCLAW_MATTERMOST_PORT", "8443")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-env" {
		t.Errorf("api_key = %q, want sk-env", cfg.OpenAI.APIKey)
	}
	if cfg.Mattermost.Port != 8443 {
		t.Errorf("port = %d, want 8443", cfg.Mattermost.Port)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{nope"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
