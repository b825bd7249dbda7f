package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerConfig   ServerConfig   `json:"server"`
	LoggingConfig  LoggingConfig  `json:"logging"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	VaultConfig    VaultConfig    `json:"vault"`
	AuthConfig     AuthConfig     `json:"auth"`
	AIConfig       AIConfig       `json:"ai"`
	ScannerConfig  ScannerConfig  `json:"scanner"`
	NotifyConfig   NotifyConfig   `json:"notification"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port              int    `json:"port"`
	Host              string `json:"host"`
	AllowedOrigins    string `json:"allowed_origins"` // Comma separated, "*" for any
	ProductionMode    bool   `json:"production_mode"`
	ReadTimeout       int    `json:"read_timeout"`     // Seconds
	WriteTimeout      int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout   int    `json:"shutdown_timeout"` // Seconds
	RequestsPerSecond int    `json:"requests_per_second"`
	RequestBurst      int    `json:"request_burst"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for the shared price cache
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV v2 secrets engine mount path
	SecretPath string `json:"secret_path"` // Path holding provider credentials
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// AuthConfig holds admin authentication configuration
type AuthConfig struct {
	Enabled             bool          `json:"enabled"`
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	AdminPasswordHash   string        `json:"admin_password_hash"` // bcrypt hash
}

// AIConfig holds the inference provider catalogue and call limits
type AIConfig struct {
	Providers      []ProviderConfig `json:"providers"`
	MaxAttempts    int              `json:"max_attempts"`
	MaxTokens      int              `json:"max_tokens"`      // Full analysis
	FastMaxTokens  int              `json:"fast_max_tokens"` // Per-pair scan calls
	Temperature    float64          `json:"temperature"`
	RequestTimeout int              `json:"request_timeout"` // Seconds
}

// ProviderConfig describes one LLM inference backend
type ProviderConfig struct {
	Name          string            `json:"name"`
	Protocol      string            `json:"protocol"` // "chat" or "generative"
	Endpoint      string            `json:"endpoint"`
	Model         string            `json:"model"`
	FastModel     string            `json:"fast_model"`
	CredentialKey string            `json:"credential_key"` // Env / Vault key name
	Headers       map[string]string `json:"headers,omitempty"`
	Priority      int               `json:"priority"`
	RPMLimit      int               `json:"rpm_limit"`
	RPDLimit      int               `json:"rpd_limit"`
	Enabled       bool              `json:"enabled"`
}

// ScannerConfig holds market scan settings
type ScannerConfig struct {
	Enabled          bool     `json:"enabled"`           // Run scheduled scans
	Interval         int      `json:"interval"`          // Seconds between scheduled scans
	PacingMillis     int      `json:"pacing_millis"`     // Delay between pairs
	RetentionMinutes int      `json:"retention_minutes"` // Signal retention window
	PriceCacheTTL    int      `json:"price_cache_ttl"`   // Seconds
	TopPairs         int      `json:"top_pairs"`
	DefaultPairs     []string `json:"default_pairs"`
	Exchanges        []string `json:"exchanges"` // Used when no connection table rows exist
}

// NotifyConfig holds signal alert delivery settings
type NotifyConfig struct {
	Enabled           bool   `json:"enabled"`
	MinConfidence     int    `json:"min_confidence"` // Alert on directional signals at or above this
	TelegramBotToken  string `json:"telegram_bot_token"`
	TelegramChatID    string `json:"telegram_chat_id"`
	DiscordWebhookURL string `json:"discord_webhook_url"`
}

func Load() (*Config, error) {
	// .env is optional; real environment variables still win
	_ = godotenv.Load()

	// First try to load base config from file
	cfg, err := loadFromFile(getEnvOrDefault("CONFIG_FILE", "config.json"))
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Provider credentials are never read here; they are resolved per call by name.
func applyEnvOverrides(cfg *Config) {
	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", orString(cfg.LoggingConfig.Level, "INFO"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", orString(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
	cfg.LoggingConfig.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.LoggingConfig.IncludeFile)

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)
	cfg.ServerConfig.ProductionMode = getEnvBoolOrDefault("SERVER_PRODUCTION", cfg.ServerConfig.ProductionMode)

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	// Redis config
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)
	cfg.VaultConfig.TLSEnabled = getEnvBoolOrDefault("VAULT_TLS_ENABLED", cfg.VaultConfig.TLSEnabled)
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CACERT", cfg.VaultConfig.CACert)

	// Auth config
	cfg.AuthConfig.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.AuthConfig.Enabled)
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", cfg.AuthConfig.AccessTokenDuration)
	cfg.AuthConfig.AdminPasswordHash = getEnvOrDefault("AUTH_ADMIN_PASSWORD_HASH", cfg.AuthConfig.AdminPasswordHash)

	// AI config
	cfg.AIConfig.MaxAttempts = getEnvIntOrDefault("AI_MAX_ATTEMPTS", cfg.AIConfig.MaxAttempts)
	cfg.AIConfig.RequestTimeout = getEnvIntOrDefault("AI_REQUEST_TIMEOUT", cfg.AIConfig.RequestTimeout)

	// Scanner config
	cfg.ScannerConfig.Enabled = getEnvBoolOrDefault("SCANNER_ENABLED", cfg.ScannerConfig.Enabled)
	cfg.ScannerConfig.Interval = getEnvIntOrDefault("SCANNER_INTERVAL", cfg.ScannerConfig.Interval)
	cfg.ScannerConfig.PacingMillis = getEnvIntOrDefault("SCANNER_PACING_MILLIS", cfg.ScannerConfig.PacingMillis)
	if v := os.Getenv("SCANNER_EXCHANGES"); v != "" {
		cfg.ScannerConfig.Exchanges = splitList(v)
	}

	// Notification config
	cfg.NotifyConfig.Enabled = getEnvBoolOrDefault("NOTIFY_ENABLED", cfg.NotifyConfig.Enabled)
	cfg.NotifyConfig.MinConfidence = getEnvIntOrDefault("NOTIFY_MIN_CONFIDENCE", cfg.NotifyConfig.MinConfidence)
	cfg.NotifyConfig.TelegramBotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotifyConfig.TelegramBotToken)
	cfg.NotifyConfig.TelegramChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotifyConfig.TelegramChatID)
	cfg.NotifyConfig.DiscordWebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotifyConfig.DiscordWebhookURL)
}

// applyDefaults fills every field the file and environment left unset
func applyDefaults(cfg *Config) {
	if cfg.ServerConfig.Port == 0 {
		cfg.ServerConfig.Port = 8080
	}
	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if cfg.ServerConfig.AllowedOrigins == "" {
		cfg.ServerConfig.AllowedOrigins = "*"
	}
	if cfg.ServerConfig.ReadTimeout == 0 {
		cfg.ServerConfig.ReadTimeout = 30
	}
	if cfg.ServerConfig.WriteTimeout == 0 {
		// Market scans run inside the request
		cfg.ServerConfig.WriteTimeout = 300
	}
	if cfg.ServerConfig.ShutdownTimeout == 0 {
		cfg.ServerConfig.ShutdownTimeout = 10
	}
	if cfg.ServerConfig.RequestsPerSecond == 0 {
		cfg.ServerConfig.RequestsPerSecond = 10
	}
	if cfg.ServerConfig.RequestBurst == 0 {
		cfg.ServerConfig.RequestBurst = 20
	}

	if cfg.DatabaseConfig.Host == "" {
		cfg.DatabaseConfig.Host = "localhost"
	}
	if cfg.DatabaseConfig.Port == 0 {
		cfg.DatabaseConfig.Port = 5432
	}
	if cfg.DatabaseConfig.User == "" {
		cfg.DatabaseConfig.User = "signals"
	}
	if cfg.DatabaseConfig.Database == "" {
		cfg.DatabaseConfig.Database = "signals"
	}
	if cfg.DatabaseConfig.SSLMode == "" {
		cfg.DatabaseConfig.SSLMode = "disable"
	}

	if cfg.RedisConfig.Address == "" {
		cfg.RedisConfig.Address = "localhost:6379"
	}
	if cfg.RedisConfig.PoolSize == 0 {
		cfg.RedisConfig.PoolSize = 10
	}

	if cfg.VaultConfig.Address == "" {
		cfg.VaultConfig.Address = "http://localhost:8200"
	}
	if cfg.VaultConfig.MountPath == "" {
		cfg.VaultConfig.MountPath = "secret"
	}
	if cfg.VaultConfig.SecretPath == "" {
		cfg.VaultConfig.SecretPath = "signal-engine/ai-providers"
	}

	if cfg.AuthConfig.AccessTokenDuration == 0 {
		cfg.AuthConfig.AccessTokenDuration = 12 * time.Hour
	}

	if len(cfg.AIConfig.Providers) == 0 {
		cfg.AIConfig.Providers = DefaultProviders()
	}
	if cfg.AIConfig.MaxAttempts == 0 {
		cfg.AIConfig.MaxAttempts = 3
	}
	if cfg.AIConfig.MaxTokens == 0 {
		cfg.AIConfig.MaxTokens = 800
	}
	if cfg.AIConfig.FastMaxTokens == 0 {
		cfg.AIConfig.FastMaxTokens = 300
	}
	if cfg.AIConfig.Temperature == 0 {
		cfg.AIConfig.Temperature = 0.3
	}
	if cfg.AIConfig.RequestTimeout == 0 {
		cfg.AIConfig.RequestTimeout = 30
	}

	if cfg.ScannerConfig.Interval == 0 {
		cfg.ScannerConfig.Interval = 300
	}
	if cfg.ScannerConfig.PacingMillis == 0 {
		cfg.ScannerConfig.PacingMillis = 200
	}
	if cfg.ScannerConfig.RetentionMinutes == 0 {
		cfg.ScannerConfig.RetentionMinutes = 30
	}
	if cfg.ScannerConfig.PriceCacheTTL == 0 {
		cfg.ScannerConfig.PriceCacheTTL = 5
	}
	if cfg.ScannerConfig.TopPairs == 0 {
		cfg.ScannerConfig.TopPairs = 10
	}
	if len(cfg.ScannerConfig.DefaultPairs) == 0 {
		cfg.ScannerConfig.DefaultPairs = DefaultPairs()
	}
	if len(cfg.ScannerConfig.Exchanges) == 0 {
		cfg.ScannerConfig.Exchanges = []string{"binance"}
	}

	if cfg.NotifyConfig.MinConfidence == 0 {
		cfg.NotifyConfig.MinConfidence = 80
	}
}

// DefaultProviders returns the built-in inference provider catalogue
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			Name:          "groq",
			Protocol:      "chat",
			Endpoint:      "https://api.groq.com/openai/v1/chat/completions",
			Model:         "llama-3.3-70b-versatile",
			FastModel:     "llama-3.1-8b-instant",
			CredentialKey: "GROQ_API_KEY",
			Priority:      1,
			RPMLimit:      30,
			RPDLimit:      14400,
			Enabled:       true,
		},
		{
			Name:          "gemini",
			Protocol:      "generative",
			Endpoint:      "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent",
			Model:         "gemini-1.5-pro",
			FastModel:     "gemini-1.5-flash",
			CredentialKey: "GEMINI_API_KEY",
			Priority:      2,
			RPMLimit:      15,
			RPDLimit:      1500,
			Enabled:       true,
		},
		{
			Name:          "openrouter",
			Protocol:      "chat",
			Endpoint:      "https://openrouter.ai/api/v1/chat/completions",
			Model:         "meta-llama/llama-3.3-70b-instruct",
			FastModel:     "meta-llama/llama-3.2-3b-instruct",
			CredentialKey: "OPENROUTER_API_KEY",
			Headers: map[string]string{
				"HTTP-Referer": "https://fleet-dashboard.local",
				"X-Title":      "Fleet Signal Engine",
			},
			Priority: 3,
			RPMLimit: 20,
			RPDLimit: 200,
			Enabled:  true,
		},
		{
			Name:          "deepseek",
			Protocol:      "chat",
			Endpoint:      "https://api.deepseek.com/v1/chat/completions",
			Model:         "deepseek-chat",
			CredentialKey: "DEEPSEEK_API_KEY",
			Priority:      4,
			RPMLimit:      60,
			RPDLimit:      10000,
			Enabled:       true,
		},
		{
			Name:          "mistral",
			Protocol:      "chat",
			Endpoint:      "https://api.mistral.ai/v1/chat/completions",
			Model:         "mistral-large-latest",
			FastModel:     "mistral-small-latest",
			CredentialKey: "MISTRAL_API_KEY",
			Priority:      5,
			RPMLimit:      60,
			RPDLimit:      5000,
			Enabled:       true,
		},
	}
}

// DefaultPairs is substituted when an exchange ticker endpoint is unreachable
func DefaultPairs() []string {
	return []string{
		"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT",
		"DOGEUSDT", "ADAUSDT", "AVAXUSDT", "LINKUSDT", "DOTUSDT",
	}
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true"
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func orString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Config{}
	applyDefaults(&config)
	config.LoggingConfig = LoggingConfig{
		Level:      "INFO",
		Output:     "stdout",
		JSONFormat: true,
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
