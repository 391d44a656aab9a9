package profile

import (
	"os"
	"testing"
)

func TestFromEnvDefaults(t *testing.T) {
	clearEnvVars()

	p := &Profile{}
	p.FromEnv()

	tests := []struct {
		name     string
		expected string
		actual   string
	}{
		{"LLMProvider default", "openai", p.LLMProvider},
		{"LLMBaseURL default", "https://api.openai.com/v1", p.LLMBaseURL},
		{"LLMModel default", "gpt-4o-mini", p.LLMModel},
		{"LLMAPIKey default", "", p.LLMAPIKey},
		{"NLUBaseURL default", "", p.NLUBaseURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, tt.actual)
			}
		})
	}

	if p.LLMTimeout != 10 {
		t.Errorf("LLMTimeout default: expected 10, got %d", p.LLMTimeout)
	}
	if p.NLUTimeoutMs != 500 {
		t.Errorf("NLUTimeoutMs default: expected 500, got %d", p.NLUTimeoutMs)
	}
	if p.IsLLMEnabled() {
		t.Error("IsLLMEnabled: expected false without an API key")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		envValue string
		field    func(*Profile) string
		expected string
	}{
		{
			name:     "LLM API key",
			envVar:   "VAANI_LLM_API_KEY",
			envValue: "test-key",
			field:    func(p *Profile) string { return p.LLMAPIKey },
			expected: "test-key",
		},
		{
			name:     "deepseek provider picks its default base url",
			envVar:   "VAANI_LLM_PROVIDER",
			envValue: "deepseek",
			field:    func(p *Profile) string { return p.LLMBaseURL },
			expected: "https://api.deepseek.com",
		},
		{
			name:     "unknown provider falls back to openai",
			envVar:   "VAANI_LLM_PROVIDER",
			envValue: "frobnicator",
			field:    func(p *Profile) string { return p.LLMProvider },
			expected: "openai",
		},
		{
			name:     "telegram token",
			envVar:   "VAANI_TELEGRAM_TOKEN",
			envValue: "123:abc",
			field:    func(p *Profile) string { return p.TelegramToken },
			expected: "123:abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars()
			os.Setenv(tt.envVar, tt.envValue)
			defer os.Unsetenv(tt.envVar)

			p := &Profile{}
			p.FromEnv()

			if actual := tt.field(p); actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, actual)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Run("sqlite dsn defaults into data dir", func(t *testing.T) {
		p := &Profile{Mode: "dev", Driver: "sqlite", Data: t.TempDir()}
		if err := p.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.DSN == "" {
			t.Error("expected a default sqlite DSN")
		}
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		p := &Profile{Mode: "dev", Driver: "postgres", Data: t.TempDir()}
		if err := p.Validate(); err == nil {
			t.Error("expected an error for postgres without DSN")
		}
	})

	t.Run("invalid mode coerced to demo", func(t *testing.T) {
		p := &Profile{Mode: "bogus", Driver: "sqlite", Data: t.TempDir()}
		if err := p.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Mode != "demo" {
			t.Errorf("expected mode demo, got %q", p.Mode)
		}
	})

	t.Run("token key length enforced", func(t *testing.T) {
		p := &Profile{Mode: "dev", Driver: "sqlite", Data: t.TempDir(), TokenKey: "abcd"}
		if err := p.Validate(); err == nil {
			t.Error("expected an error for short token key")
		}
	})
}

func clearEnvVars() {
	for _, suffix := range []string{
		"LLM_PROVIDER", "LLM_API_KEY", "LLM_BASE_URL", "LLM_MODEL",
		"LLM_TIMEOUT_SECONDS", "NLU_BASE_URL", "NLU_TIMEOUT_MS",
		"TELEGRAM_TOKEN", "WHATSAPP_TOKEN",
	} {
		os.Unsetenv("VAANI_" + suffix)
	}
}
