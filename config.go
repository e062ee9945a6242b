package twowaysql

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// ErrConfigValidation is returned when configuration validation fails
var ErrConfigValidation = errors.New("configuration validation failed")

// Config represents the twowaysql.yaml configuration
type Config struct {
	Dialect   string              `yaml:"dialect"`
	Templates TemplatesConfig     `yaml:"templates"`
	Render    RenderConfig        `yaml:"render"`
	Databases map[string]Database `yaml:"databases"`
	Query     QueryConfig         `yaml:"query"`
	Logging   LoggingConfig       `yaml:"logging"`
}

// TemplatesConfig tells the loader where template catalogs live
type TemplatesConfig struct {
	Dir        string   `yaml:"dir"`
	Extensions []string `yaml:"extensions"`
}

// RenderConfig controls template rendering
type RenderConfig struct {
	NullPolicy         string `yaml:"null_policy"`
	NullText           string `yaml:"null_text"`
	ExpressionLanguage string `yaml:"expression_language"`
	EmbeddedGuard      *bool  `yaml:"embedded_guard"` // nil means enabled
}

// GuardEmbedded reports whether embedded values are screened for injection.
func (r RenderConfig) GuardEmbedded() bool {
	return r.EmbeddedGuard == nil || *r.EmbeddedGuard
}

// Database represents database connection configuration
type Database struct {
	Driver     string `yaml:"driver"`
	Connection string `yaml:"connection"`
	Dialect    string `yaml:"dialect"`
}

// QueryConfig represents query execution settings
type QueryConfig struct {
	Format                string `yaml:"format"`
	DefaultEnvironment    string `yaml:"default_environment"`
	Timeout               int    `yaml:"timeout"`
	MaxRows               int    `yaml:"max_rows"`
	StatementCacheSize    int    `yaml:"statement_cache_size"`
	ExecuteDangerousQuery bool   `yaml:"execute_dangerous_query"`
}

// LoggingConfig represents logging settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	RedactArgs bool   `yaml:"redact_args"`
}

// Null policies for binds inside BEGIN blocks
const (
	NullPolicySkip = "skip"
	NullPolicyBind = "bind"
)

// Expression languages for IF conditions
const (
	ExpressionNative = "native"
	ExpressionCEL    = "cel"
)

// LoadConfig loads configuration from the specified file
func LoadConfig(configPath string) (*Config, error) {
	err := loadEnvFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to load environment files: %w", err)
	}

	_, err = os.Stat(configPath)
	if os.IsNotExist(err) {
		config := DefaultConfig()
		expandConfigEnvVars(config)

		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig parses YAML configuration content
func ParseConfig(data []byte) (*Config, error) {
	var config Config

	// Strict mode so that typos in keys are reported
	err := yaml.UnmarshalWithOptions(data, &config, yaml.Strict())
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)
	expandConfigEnvVars(&config)

	return &config, nil
}

func validateConfig(config *Config) error {
	if config.Dialect != "" {
		if _, err := ParseDialect(config.Dialect); err != nil {
			return fmt.Errorf("%w: invalid dialect '%s': must be one of generic, postgres, mysql, sqlite, sqlserver", ErrConfigValidation, config.Dialect)
		}
	}

	switch config.Render.NullPolicy {
	case "", NullPolicySkip, NullPolicyBind:
	default:
		return fmt.Errorf("%w: render.null_policy '%s' is invalid: must be one of skip, bind", ErrConfigValidation, config.Render.NullPolicy)
	}

	switch config.Render.ExpressionLanguage {
	case "", ExpressionNative, ExpressionCEL:
	default:
		return fmt.Errorf("%w: render.expression_language '%s' is invalid: must be one of native, cel", ErrConfigValidation, config.Render.ExpressionLanguage)
	}

	for name, db := range config.Databases {
		if db.Driver == "" {
			return fmt.Errorf("%w: databases.%s.driver is required", ErrConfigValidation, name)
		}

		if db.Dialect != "" {
			if _, err := ParseDialect(db.Dialect); err != nil {
				return fmt.Errorf("%w: databases.%s.dialect '%s' is invalid", ErrConfigValidation, name, db.Dialect)
			}
		}
	}

	if config.Query.Timeout < 0 {
		return fmt.Errorf("%w: query.timeout must be non-negative, got %d", ErrConfigValidation, config.Query.Timeout)
	}

	if config.Query.MaxRows < 0 {
		return fmt.Errorf("%w: query.max_rows must be non-negative, got %d", ErrConfigValidation, config.Query.MaxRows)
	}

	if config.Query.StatementCacheSize < 0 {
		return fmt.Errorf("%w: query.statement_cache_size must be non-negative, got %d", ErrConfigValidation, config.Query.StatementCacheSize)
	}

	if config.Query.Format != "" {
		validFormats := map[string]bool{
			"table":    true,
			"json":     true,
			"yaml":     true,
			"csv":      true,
			"markdown": true,
		}
		if !validFormats[config.Query.Format] {
			return fmt.Errorf("%w: query.format '%s' is invalid: must be one of table, json, yaml, csv, markdown", ErrConfigValidation, config.Query.Format)
		}
	}

	switch config.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging.level '%s' is invalid: must be one of debug, info, warn, error", ErrConfigValidation, config.Logging.Level)
	}

	return nil
}

// DefaultConfig returns the configuration used when no file exists
func DefaultConfig() *Config {
	config := &Config{}
	applyDefaults(config)

	return config
}

func applyDefaults(config *Config) {
	if config.Dialect == "" {
		config.Dialect = string(DialectGeneric)
	}

	if config.Templates.Dir == "" {
		config.Templates.Dir = "./sql"
	}

	if len(config.Templates.Extensions) == 0 {
		config.Templates.Extensions = []string{".sql", ".md", ".xml"}
	}

	if config.Render.NullPolicy == "" {
		config.Render.NullPolicy = NullPolicySkip
	}

	if config.Render.ExpressionLanguage == "" {
		config.Render.ExpressionLanguage = ExpressionNative
	}

	if config.Databases == nil {
		config.Databases = make(map[string]Database)
	}

	if config.Query.Format == "" {
		config.Query.Format = "table"
	}

	if config.Query.DefaultEnvironment == "" {
		config.Query.DefaultEnvironment = "development"
	}

	if config.Query.Timeout == 0 {
		config.Query.Timeout = 30
	}

	if config.Query.MaxRows == 0 {
		config.Query.MaxRows = 1000
	}

	if config.Query.StatementCacheSize == 0 {
		config.Query.StatementCacheSize = 64
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
}

// loadEnvFiles loads .env files if they exist
func loadEnvFiles() error {
	if fileExists(".env") {
		err := godotenv.Load(".env")
		if err != nil {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	return nil
}

var (
	bracedEnvVar = regexp.MustCompile(`\$\{([^}]+)\}`)
	bareEnvVar   = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// expandEnvVars expands environment variables in the format ${VAR} or $VAR
func expandEnvVars(s string) string {
	s = bracedEnvVar.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})

	return bareEnvVar.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[1:])
	})
}

func expandConfigEnvVars(config *Config) {
	for name, db := range config.Databases {
		db.Connection = expandEnvVars(db.Connection)
		db.Driver = expandEnvVars(db.Driver)
		config.Databases[name] = db
	}

	config.Templates.Dir = expandEnvVars(config.Templates.Dir)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// DialectFor returns the dialect for a database environment, falling back to
// the driver name and then the global dialect.
func (c *Config) DialectFor(env string) Dialect {
	if db, ok := c.Databases[env]; ok {
		if d, err := ParseDialect(db.Dialect); err == nil && db.Dialect != "" {
			return d
		}

		if d, err := ParseDialect(db.Driver); err == nil {
			return d
		}
	}

	d, err := ParseDialect(c.Dialect)
	if err != nil {
		return DialectGeneric
	}

	return d
}
