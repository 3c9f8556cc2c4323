package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Niakdashit/Tirages-jeux/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `validate:"required"`
	Server   ServerConfig   `validate:"required"`
	Paths    PathConfig     `validate:"required"`
	Campaign CampaignConfig `validate:"required"`
	Ledger   LedgerConfig
}

// AppConfig holds process-wide settings
type AppConfig struct {
	Env      string `validate:"required,oneof=development debug production test"`
	LogLevel string `validate:"omitempty,oneof=ERROR WARN INFO DEBUG"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port        string `validate:"required,numeric"`
	MaxUploadMB int    `validate:"gte=1,lte=512"`
	// MaxJobs bounds how many uploads are processed at once
	MaxJobs int `validate:"gte=1,lte=64"`
}

// PathConfig holds file system paths
type PathConfig struct {
	TemplateOpt string `validate:"required"`
	OutputDir   string `validate:"required"`
}

// LedgerConfig locates the run audit trail; an empty DSN disables it
type LedgerConfig struct {
	DSN string
}

// Enabled reports whether runs are recorded
func (l LedgerConfig) Enabled() bool {
	return l.DSN != ""
}

// CampaignConfig holds defaults applied to every batch
type CampaignConfig struct {
	Year         int `validate:"gte=2000,lte=2100"`
	DefaultQuota int `validate:"gte=1"`
}

var validate = validator.New()

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		App: AppConfig{
			Env:      strings.ToLower(getEnvOrDefault("APP_ENV", "development")),
			LogLevel: strings.ToUpper(getEnvOrDefault("LOG_LEVEL", "")),
		},
		Server: ServerConfig{
			Port:        getEnvOrDefault("PORT", "8080"),
			MaxUploadMB: getEnvIntOrDefault("MAX_UPLOAD_MB", 20),
			MaxJobs:     getEnvIntOrDefault("MAX_CONCURRENT_JOBS", 4),
		},
		Paths: PathConfig{
			TemplateOpt: getEnvOrDefault("TEMPLATE_OPT_PATH", "references/ref_opt.xlsx"),
			OutputDir:   getEnvOrDefault("OUTPUT_DIR", "."),
		},
		Campaign: CampaignConfig{
			Year:         getEnvIntOrDefault("CAMPAIGN_YEAR", 2025),
			DefaultQuota: getEnvIntOrDefault("DEFAULT_QUOTA", 10),
		},
		Ledger: LedgerConfig{
			DSN: strings.TrimSpace(os.Getenv("LEDGER_DSN")),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

// Validate checks every field against its constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return errors.ConfigInvalid(fe.Namespace() + " fails '" + fe.Tag() + "' (got " + formatValue(fe.Value()) + ")")
		}
		return errors.ConfigInvalid(err.Error())
	}
	return nil
}

// MaxUploadBytes returns the upload limit in bytes
func (s ServerConfig) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) << 20
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return strconv.Quote(t)
	case int:
		return strconv.Itoa(t)
	default:
		return "?"
	}
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault returns -1 for unparseable values so validation rejects them
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return -1
		}
		return intValue
	}
	return defaultValue
}
