// Package config loads service configuration from a .env file, the
// environment and an optional YAML datasource catalog.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"sqlagent-backend/internal/db"
)

const (
	defaultHTTPAddr       = ":8080"
	defaultAppDatabaseURL = "file:sqlagent.db?_foreign_keys=on"
	defaultLLMProvider    = "openai"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-3-5-haiku-latest"
	defaultMaxAttempts    = 5
	defaultStepTimeout    = 60 * time.Second
	defaultSampleRows     = 3
	defaultResultSizeCap  = 4096
	defaultSessionTTL     = 24 * time.Hour
	defaultSchemaCacheTTL = 5 * time.Minute
	defaultAdminUsername  = "admin"
)

type LLMConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	MaxTries    uint
}

type AgentConfig struct {
	MaxAttempts   int
	StepTimeout   time.Duration
	SampleRows    int
	ResultSizeCap int
}

type AuthConfig struct {
	AdminUsername string
	AdminPassword string
	SessionTTL    time.Duration

	// AllowedTokens are static bearer tokens accepted on the MCP endpoint.
	AllowedTokens []string

	// Disabled turns off authentication for every route.
	Disabled bool
}

type Config struct {
	HTTPAddr string

	// AppDatabaseURL holds users and sessions. sqlite and postgres are
	// supported.
	AppDatabaseURL string

	DatasourceName string
	Datasource     db.ConnectionConfig

	// ReadOnly rejects datasource statements that could modify data.
	ReadOnly bool

	LLM   LLMConfig
	Agent AgentConfig
	Auth  AuthConfig

	SchemaCacheTTL time.Duration
	Verbose        bool
}

// DatasourceFile is the YAML layout of DATASOURCES_FILE.
type DatasourceFile struct {
	Default     string                         `yaml:"default"`
	Datasources map[string]db.ConnectionConfig `yaml:"datasources"`
}

// Load reads envFile into the process environment when it exists, then
// builds the configuration from the environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds and validates a Config from getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	e := env{getenv: getenv}

	cfg := &Config{
		HTTPAddr:       e.str("HTTP_ADDR", ""),
		AppDatabaseURL: e.str("APP_DATABASE_URL", defaultAppDatabaseURL),
		DatasourceName: e.str("DATASOURCE", ""),
		ReadOnly:       e.boolean("DATASOURCE_READ_ONLY", true),
		LLM: LLMConfig{
			Provider:    strings.ToLower(e.str("LLM_PROVIDER", defaultLLMProvider)),
			APIKey:      e.str("LLM_API_KEY", ""),
			BaseURL:     e.str("LLM_BASE_URL", ""),
			Model:       e.str("LLM_MODEL", ""),
			Temperature: e.float("LLM_TEMPERATURE", 0),
			MaxTokens:   e.integer("LLM_MAX_TOKENS", 0),
			MaxTries:    uint(e.integer("LLM_MAX_TRIES", 3)),
		},
		Agent: AgentConfig{
			MaxAttempts:   e.integer("AGENT_MAX_ATTEMPTS", defaultMaxAttempts),
			StepTimeout:   e.duration("AGENT_STEP_TIMEOUT", defaultStepTimeout),
			SampleRows:    e.integer("AGENT_SAMPLE_ROWS", defaultSampleRows),
			ResultSizeCap: e.integer("AGENT_RESULT_SIZE_CAP", defaultResultSizeCap),
		},
		Auth: AuthConfig{
			AdminUsername: e.str("ADMIN_USERNAME", defaultAdminUsername),
			AdminPassword: e.str("ADMIN_PASSWORD", ""),
			SessionTTL:    e.duration("SESSION_TTL", defaultSessionTTL),
			AllowedTokens: splitCSV(e.str("MCP_ALLOWED_TOKENS", "")),
			Disabled:      e.boolean("AUTH_DISABLED", false),
		},
		SchemaCacheTTL: e.duration("SCHEMA_CACHE_TTL", defaultSchemaCacheTTL),
		Verbose:        e.boolean("VERBOSE", false),
	}
	if cfg.HTTPAddr == "" {
		if port := e.str("PORT", ""); port != "" {
			cfg.HTTPAddr = ":" + port
		}
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = firstEnv(getenv, "OPENAI_API_KEY", "DASHSCOPE_API_KEY", "ANTHROPIC_API_KEY")
	}

	if path := e.str("DATASOURCES_FILE", ""); path != "" {
		name, ds, err := LoadDatasource(path, cfg.DatasourceName)
		if err != nil {
			return nil, err
		}
		cfg.DatasourceName = name
		cfg.Datasource = ds
	} else {
		cfg.Datasource = db.ConnectionConfig{
			ConnectionString: e.str("DATABASE_URL", ""),
			Driver:           e.str("DB_DRIVER", ""),
			Host:             e.str("DB_HOST", ""),
			Port:             e.integer("DB_PORT", 0),
			Database:         e.str("DB_NAME", ""),
			Username:         e.str("DB_USER", ""),
			Password:         e.str("DB_PASSWORD", ""),
			Schema:           e.str("DB_SCHEMA", ""),
		}
		if t := e.str("DB_TYPE", ""); t != "" {
			dbType, err := db.ParseDatabaseType(t)
			if err != nil {
				return nil, err
			}
			cfg.Datasource.DatabaseType = dbType
		}
	}

	if e.err != nil {
		return nil, e.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatasource reads a datasource catalog and returns the entry called
// name, or the file's default entry when name is empty.
func LoadDatasource(path, name string) (string, db.ConnectionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", db.ConnectionConfig{}, fmt.Errorf("failed to read datasources file: %w", err)
	}

	var file DatasourceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return "", db.ConnectionConfig{}, fmt.Errorf("failed to parse datasources file %s: %w", path, err)
	}

	if name == "" {
		name = file.Default
	}
	if name == "" && len(file.Datasources) == 1 {
		for only := range file.Datasources {
			name = only
		}
	}
	ds, ok := file.Datasources[name]
	if !ok {
		return "", db.ConnectionConfig{}, fmt.Errorf("datasource %q not found in %s", name, path)
	}
	return name, ds, nil
}

// Validate fills defaults and rejects unusable values.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		c.HTTPAddr = defaultHTTPAddr
	}
	if c.AppDatabaseURL == "" {
		c.AppDatabaseURL = defaultAppDatabaseURL
	}

	if c.Datasource.ConnectionString == "" && c.Datasource.Host == "" && c.Datasource.FilePath == "" {
		return errors.New("datasource is required (set DATABASE_URL, DB_HOST or DATASOURCES_FILE)")
	}
	if c.Datasource.DatabaseType != "" {
		if _, err := db.ParseDatabaseType(string(c.Datasource.DatabaseType)); err != nil {
			return err
		}
	}

	switch c.LLM.Provider {
	case "openai":
		if c.LLM.Model == "" {
			c.LLM.Model = defaultOpenAIModel
		}
	case "anthropic":
		if c.LLM.Model == "" {
			c.LLM.Model = defaultAnthropicModel
		}
		if c.LLM.MaxTokens == 0 {
			c.LLM.MaxTokens = 4096
		}
	default:
		return fmt.Errorf("unsupported llm provider %q", c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		return errors.New("llm api key is required (set LLM_API_KEY)")
	}

	if c.Agent.MaxAttempts <= 0 {
		return fmt.Errorf("agent max attempts must be positive, got %d", c.Agent.MaxAttempts)
	}
	if c.Agent.StepTimeout <= 0 {
		c.Agent.StepTimeout = defaultStepTimeout
	}
	if c.Agent.SampleRows <= 0 {
		c.Agent.SampleRows = defaultSampleRows
	}
	if c.Agent.ResultSizeCap <= 0 {
		c.Agent.ResultSizeCap = defaultResultSizeCap
	}

	if c.Auth.SessionTTL <= 0 {
		c.Auth.SessionTTL = defaultSessionTTL
	}
	if c.SchemaCacheTTL < 0 {
		return fmt.Errorf("schema cache ttl must not be negative, got %s", c.SchemaCacheTTL)
	}
	return nil
}

// env reads typed values, keeping the first parse error.
type env struct {
	getenv func(string) string
	err    error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return f
}

func (e *env) boolean(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *env) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func firstEnv(getenv func(string) string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func splitCSV(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
