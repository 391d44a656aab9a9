package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start main server.
type Profile struct {
	// LLM configuration (OpenAI-compatible protocol). All providers
	// (openai, deepseek, siliconflow, ollama) use the same config.
	LLMProvider string // Provider identifier: openai, deepseek, siliconflow, ollama
	LLMAPIKey   string
	LLMBaseURL  string // optional, has default per provider
	LLMModel    string
	LLMTimeout  int // request timeout in seconds (default: 10)

	// Optional backup LLM provider; routed to when the primary is benched.
	LLMBackupAPIKey  string
	LLMBackupBaseURL string
	LLMBackupModel   string

	// Intent classifier (NLU) service.
	NLUBaseURL   string
	NLUAPIKey    string
	NLUTimeoutMs int // classify budget in milliseconds (default: 500)

	// Speech-to-text service for voice notes.
	ASRBaseURL string
	ASRAPIKey  string

	// Channel credentials.
	TelegramToken         string
	WhatsAppToken         string
	WhatsAppPhoneNumberID string
	WhatsAppAppSecret     string // webhook signature validation
	WhatsAppVerifyToken   string // webhook subscription handshake
	SMSGatewayURL         string
	SMSFrom               string

	// Commerce backend endpoints used by flow executors.
	APIBaseURL  string
	AuthBaseURL string

	// JWTSecret signs session auth tokens; TokenKey (hex, 32 bytes) encrypts
	// them at rest.
	JWTSecret string
	TokenKey  string

	// Other configurations
	Mode        string // demo, dev, prod
	Addr        string
	Port        int
	Data        string
	Driver      string // sqlite, postgres
	DSN         string
	Version     string
	InstanceURL string
}

// Provider default configurations for LLM.
// Used when LLM_BASE_URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsLLMEnabled returns true if an LLM API key is configured. Without it the
// llm executor and the preference enricher are disabled; flows relying only
// on canned responses still work.
func (p *Profile) IsLLMEnabled() bool {
	return p.LLMAPIKey != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("VAANI_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("VAANI_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("VAANI_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("VAANI_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("VAANI_LLM_TIMEOUT_SECONDS", 10)

	p.LLMBackupAPIKey = getEnvOrDefault("VAANI_LLM_BACKUP_API_KEY", "")
	p.LLMBackupBaseURL = getEnvOrDefault("VAANI_LLM_BACKUP_BASE_URL", "")
	p.LLMBackupModel = getEnvOrDefault("VAANI_LLM_BACKUP_MODEL", "")

	if p.LLMProvider != "" {
		if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
			slog.Warn("unknown LLM provider, using default: openai", "provider", p.LLMProvider)
			p.LLMProvider = "openai"
		}
	}
	if p.LLMBaseURL == "" || p.LLMModel == "" {
		if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
			if p.LLMBaseURL == "" {
				p.LLMBaseURL = defaults.BaseURL
			}
			if p.LLMModel == "" {
				p.LLMModel = defaults.Model
			}
		}
	}

	p.NLUBaseURL = getEnvOrDefault("VAANI_NLU_BASE_URL", "")
	p.NLUAPIKey = getEnvOrDefault("VAANI_NLU_API_KEY", "")
	p.NLUTimeoutMs = getEnvOrDefaultInt("VAANI_NLU_TIMEOUT_MS", 500)

	p.ASRBaseURL = getEnvOrDefault("VAANI_ASR_BASE_URL", "")
	p.ASRAPIKey = getEnvOrDefault("VAANI_ASR_API_KEY", "")

	p.TelegramToken = getEnvOrDefault("VAANI_TELEGRAM_TOKEN", "")
	p.WhatsAppToken = getEnvOrDefault("VAANI_WHATSAPP_TOKEN", "")
	p.WhatsAppPhoneNumberID = getEnvOrDefault("VAANI_WHATSAPP_PHONE_NUMBER_ID", "")
	p.WhatsAppAppSecret = getEnvOrDefault("VAANI_WHATSAPP_APP_SECRET", "")
	p.WhatsAppVerifyToken = getEnvOrDefault("VAANI_WHATSAPP_VERIFY_TOKEN", "")
	p.SMSGatewayURL = getEnvOrDefault("VAANI_SMS_GATEWAY_URL", "")
	p.SMSFrom = getEnvOrDefault("VAANI_SMS_FROM", "")

	p.APIBaseURL = getEnvOrDefault("VAANI_API_BASE_URL", "")
	p.AuthBaseURL = getEnvOrDefault("VAANI_AUTH_BASE_URL", "")

	p.JWTSecret = getEnvOrDefault("VAANI_JWT_SECRET", "")
	p.TokenKey = getEnvOrDefault("VAANI_TOKEN_KEY", "")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "vaani")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/vaani"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("vaani_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("postgres driver requires a dsn")
	}

	if p.TokenKey != "" && len(p.TokenKey) != 64 {
		return errors.New("token key must be 32 bytes hex encoded")
	}

	return nil
}
