package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the ocrflow server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Pipeline  PipelineConfig
	Retry     RetryConfig
	Breaker   BreakerConfig
	Split     SplitConfig
	Storage   StorageConfig
	Providers ProvidersConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	MaxUploadBytes     int64
	RateLimitPerMinute int
	ShutdownTimeout    time.Duration
}

type DatabaseConfig struct {
	Driver          string
	URL             string
	Path            string
	MigrationsDir   string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type CacheConfig struct {
	Backend        string
	Dir            string
	MaxAge         time.Duration
	MaxSizeBytes   int64
	MaxEntries     int
	PreserveRecent int
	Schedule       string
}

type PipelineConfig struct {
	Parallelism        int
	DPI                int
	Language           string
	CallTimeout        time.Duration
	LogCap             int
	LogTrimTo          int
	PollLogEntries     int
	CorrectionProvider string
	Retention          time.Duration
	ReaperSchedule     string
}

type RetryConfig struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	Jitter          float64
	RateLimitFactor float64
}

type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
	CooldownFactor   float64
	MaxCooldown      time.Duration
}

type SplitConfig struct {
	PagesPerChunk    int
	MinPagesPerChunk int
	MaxChunkBytes    int64
	MaxMemoryBytes   int64
}

type StorageConfig struct {
	UploadDir      string
	OutputDir      string
	TerminologyDir string
	TempDir        string
}

// ProvidersConfig carries one typed record per integration. A provider is
// available when its credentials are set.
type ProvidersConfig struct {
	DashScope DashScopeConfig
	Mistral   MistralConfig
	Custom    CustomConfig
	Gemini    GeminiConfig
	Anthropic AnthropicConfig
	Tesseract TesseractConfig
}

type DashScopeConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	RequestsPerSecond float64
}

type MistralConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	RequestsPerSecond float64
}

// CustomConfig points at any OpenAI-compatible vision endpoint.
type CustomConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	RequestsPerSecond float64
}

type GeminiConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	CorrectionModel   string
	RequestsPerSecond float64
}

type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
}

type TesseractConfig struct {
	Enabled   bool
	Languages string
}

var (
	validDrivers             = map[string]bool{"postgres": true, "sqlite": true}
	validCacheBackends       = map[string]bool{"badger": true, "redis": true, "none": true}
	validCorrectionProviders = map[string]bool{"gemini": true, "anthropic": true, "none": true}
)

// Load reads configuration and returns a validated Config.
//
// If OCRFLOW_CONFIG_FILE names a TOML file it is read first. Its tables map
// onto environment variable names ([retry] max_retries is RETRY_MAX_RETRIES),
// and a variable set in the environment always wins over the file.
func Load() (*Config, error) {
	src := source{file: map[string]string{}}
	if path := os.Getenv("OCRFLOW_CONFIG_FILE"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               src.envInt("OCRFLOW_PORT", 8080),
			Env:                src.envString("OCRFLOW_ENV", "development"),
			MaxUploadBytes:     src.envInt64("OCRFLOW_MAX_UPLOAD_MB", 500) << 20,
			RateLimitPerMinute: src.envInt("OCRFLOW_RATE_LIMIT_PER_MINUTE", 0),
			ShutdownTimeout:    src.envDuration("OCRFLOW_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          src.envString("DATABASE_DRIVER", ""),
			URL:             src.envString("DATABASE_URL", ""),
			Path:            src.envString("DATABASE_PATH", "./data/ocrflow.db"),
			MigrationsDir:   src.envString("DATABASE_MIGRATIONS_DIR", "migrations"),
			MaxOpenConns:    src.envInt("DATABASE_MAX_OPEN_CONNS", 25),
			ConnMaxLifetime: src.envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: src.envString("REDIS_URL", ""),
		},
		Cache: CacheConfig{
			Backend:        src.envString("CACHE_BACKEND", "badger"),
			Dir:            src.envString("CACHE_DIR", "./data/cache"),
			MaxAge:         src.envDuration("CACHE_MAX_AGE", 30*24*time.Hour),
			MaxSizeBytes:   src.envInt64("CACHE_MAX_SIZE_MB", 5120) << 20,
			MaxEntries:     src.envInt("CACHE_MAX_ENTRIES", 1000),
			PreserveRecent: src.envInt("CACHE_PRESERVE_RECENT", 100),
			Schedule:       src.envString("CACHE_SCHEDULE", "@every 24h"),
		},
		Pipeline: PipelineConfig{
			Parallelism:        src.envInt("PIPELINE_PARALLELISM", 4),
			DPI:                src.envInt("PIPELINE_DPI", 300),
			Language:           src.envString("PIPELINE_LANGUAGE", ""),
			CallTimeout:        src.envDurationSecs("PIPELINE_CALL_TIMEOUT_SECS", 120*time.Second),
			LogCap:             src.envInt("PIPELINE_LOG_CAP", 1000),
			LogTrimTo:          src.envInt("PIPELINE_LOG_TRIM_TO", 500),
			PollLogEntries:     src.envInt("PIPELINE_POLL_LOG_ENTRIES", 50),
			CorrectionProvider: src.envString("PIPELINE_CORRECTION_PROVIDER", ""),
			Retention:          src.envDuration("PIPELINE_RETENTION", 48*time.Hour),
			ReaperSchedule:     src.envString("PIPELINE_REAPER_SCHEDULE", "@every 1h"),
		},
		Retry: RetryConfig{
			MaxRetries:      src.envInt("RETRY_MAX_RETRIES", 3),
			BaseDelay:       src.envDuration("RETRY_BASE_DELAY", time.Second),
			MaxDelay:        src.envDuration("RETRY_MAX_DELAY", 300*time.Second),
			Multiplier:      src.envFloat("RETRY_MULTIPLIER", 2),
			Jitter:          src.envFloat("RETRY_JITTER", 0.1),
			RateLimitFactor: src.envFloat("RETRY_RATE_LIMIT_FACTOR", 2),
		},
		Breaker: BreakerConfig{
			FailureThreshold: src.envInt("BREAKER_FAILURE_THRESHOLD", 5),
			Cooldown:         src.envDuration("BREAKER_COOLDOWN", 300*time.Second),
			CooldownFactor:   src.envFloat("BREAKER_COOLDOWN_FACTOR", 2),
			MaxCooldown:      src.envDuration("BREAKER_MAX_COOLDOWN", 30*time.Minute),
		},
		Split: SplitConfig{
			PagesPerChunk:    src.envInt("SPLIT_PAGES_PER_CHUNK", 50),
			MinPagesPerChunk: src.envInt("SPLIT_MIN_PAGES_PER_CHUNK", 5),
			MaxChunkBytes:    src.envInt64("SPLIT_MAX_CHUNK_MB", 100) << 20,
			MaxMemoryBytes:   src.envInt64("SPLIT_MAX_MEMORY_MB", 512) << 20,
		},
		Storage: StorageConfig{
			UploadDir:      src.envString("STORAGE_UPLOAD_DIR", "./data/uploads"),
			OutputDir:      src.envString("STORAGE_OUTPUT_DIR", "./data/output"),
			TerminologyDir: src.envString("STORAGE_TERMINOLOGY_DIR", "./data/terminology"),
			TempDir:        src.envString("STORAGE_TEMP_DIR", ""),
		},
		Providers: ProvidersConfig{
			DashScope: DashScopeConfig{
				APIKey:            src.envString("DASHSCOPE_API_KEY", ""),
				BaseURL:           src.envString("DASHSCOPE_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1"),
				Model:             src.envString("DASHSCOPE_MODEL", "qwen-vl-ocr-latest"),
				RequestsPerSecond: src.envFloat("DASHSCOPE_REQUESTS_PER_SECOND", 0),
			},
			Mistral: MistralConfig{
				APIKey:            src.envString("MISTRAL_API_KEY", ""),
				BaseURL:           src.envString("MISTRAL_BASE_URL", "https://api.mistral.ai/v1"),
				Model:             src.envString("MISTRAL_MODEL", "pixtral-12b-2409"),
				RequestsPerSecond: src.envFloat("MISTRAL_REQUESTS_PER_SECOND", 0),
			},
			Custom: CustomConfig{
				APIKey:            src.envString("CUSTOM_OCR_API_KEY", ""),
				BaseURL:           src.envString("CUSTOM_OCR_BASE_URL", ""),
				Model:             src.envString("CUSTOM_OCR_MODEL", "gpt-4-vision-preview"),
				RequestsPerSecond: src.envFloat("CUSTOM_OCR_REQUESTS_PER_SECOND", 0),
			},
			Gemini: GeminiConfig{
				APIKey:            src.envString("GEMINI_API_KEY", ""),
				BaseURL:           src.envString("GEMINI_BASE_URL", ""),
				Model:             src.envString("GEMINI_MODEL", "gemini-2.5-flash"),
				CorrectionModel:   src.envString("GEMINI_CORRECTION_MODEL", "gemini-2.5-flash"),
				RequestsPerSecond: src.envFloat("GEMINI_REQUESTS_PER_SECOND", 0),
			},
			Anthropic: AnthropicConfig{
				APIKey:    src.envString("ANTHROPIC_API_KEY", ""),
				Model:     src.envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
				MaxTokens: src.envInt("ANTHROPIC_MAX_TOKENS", 8192),
			},
			Tesseract: TesseractConfig{
				Enabled:   src.envBool("TESSERACT_ENABLED", false),
				Languages: src.envString("TESSERACT_LANGUAGES", "eng"),
			},
		},
	}

	cfg.applyDerived()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDerived fills defaults that depend on other settings.
func (c *Config) applyDerived() {
	if c.Database.Driver == "" {
		if c.Database.URL != "" {
			c.Database.Driver = "postgres"
		} else {
			c.Database.Driver = "sqlite"
		}
	}
	if c.Pipeline.CorrectionProvider == "" {
		switch {
		case c.Providers.Gemini.APIKey != "":
			c.Pipeline.CorrectionProvider = "gemini"
		case c.Providers.Anthropic.APIKey != "":
			c.Pipeline.CorrectionProvider = "anthropic"
		default:
			c.Pipeline.CorrectionProvider = "none"
		}
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("OCRFLOW_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("DATABASE_DRIVER must be one of postgres, sqlite; got %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER is postgres")
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		return fmt.Errorf("DATABASE_PATH is required when DATABASE_DRIVER is sqlite")
	}

	if !validCacheBackends[c.Cache.Backend] {
		return fmt.Errorf("CACHE_BACKEND must be one of badger, redis, none; got %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required when CACHE_BACKEND is redis")
	}
	if c.Server.RateLimitPerMinute > 0 && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required when OCRFLOW_RATE_LIMIT_PER_MINUTE is set")
	}

	if c.Pipeline.Parallelism < 1 {
		return fmt.Errorf("PIPELINE_PARALLELISM must be at least 1, got %d", c.Pipeline.Parallelism)
	}
	if c.Pipeline.CallTimeout <= 0 {
		return fmt.Errorf("PIPELINE_CALL_TIMEOUT_SECS must be positive")
	}
	if c.Pipeline.LogTrimTo <= 0 || c.Pipeline.LogTrimTo > c.Pipeline.LogCap {
		return fmt.Errorf("PIPELINE_LOG_TRIM_TO must be between 1 and PIPELINE_LOG_CAP (%d), got %d", c.Pipeline.LogCap, c.Pipeline.LogTrimTo)
	}

	if !validCorrectionProviders[c.Pipeline.CorrectionProvider] {
		return fmt.Errorf("PIPELINE_CORRECTION_PROVIDER must be one of gemini, anthropic, none; got %q", c.Pipeline.CorrectionProvider)
	}
	if c.Pipeline.CorrectionProvider == "gemini" && c.Providers.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when PIPELINE_CORRECTION_PROVIDER is gemini")
	}
	if c.Pipeline.CorrectionProvider == "anthropic" && c.Providers.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when PIPELINE_CORRECTION_PROVIDER is anthropic")
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("RETRY_MAX_RETRIES must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("RETRY_MULTIPLIER must be at least 1, got %g", c.Retry.Multiplier)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		return fmt.Errorf("RETRY_JITTER must be in [0, 1), got %g", c.Retry.Jitter)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be at least 1, got %d", c.Breaker.FailureThreshold)
	}
	if c.Split.PagesPerChunk < 1 {
		return fmt.Errorf("SPLIT_PAGES_PER_CHUNK must be at least 1, got %d", c.Split.PagesPerChunk)
	}

	if !c.Providers.AnyOCR() {
		return fmt.Errorf("no OCR provider configured: set one of DASHSCOPE_API_KEY, MISTRAL_API_KEY, CUSTOM_OCR_BASE_URL, GEMINI_API_KEY or TESSERACT_ENABLED")
	}
	for name, u := range map[string]string{
		"DASHSCOPE_BASE_URL":  c.Providers.DashScope.BaseURL,
		"MISTRAL_BASE_URL":    c.Providers.Mistral.BaseURL,
		"CUSTOM_OCR_BASE_URL": c.Providers.Custom.BaseURL,
		"GEMINI_BASE_URL":     c.Providers.Gemini.BaseURL,
	} {
		if u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("%s must start with http:// or https://, got %q", name, u)
		}
	}

	return nil
}

// AnyOCR reports whether at least one OCR provider has credentials.
func (p ProvidersConfig) AnyOCR() bool {
	return p.DashScope.APIKey != "" ||
		p.Mistral.APIKey != "" ||
		p.Custom.BaseURL != "" ||
		p.Gemini.APIKey != "" ||
		p.Tesseract.Enabled
}

// source resolves a setting from the environment, then the config file.
type source struct {
	file map[string]string
}

func (s source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

// readFile decodes a TOML file into a flat map keyed like environment
// variables. Top-level keys map directly; keys inside a table are prefixed
// with the table name.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	out := make(map[string]string, len(doc))
	for k, v := range doc {
		if table, ok := v.(map[string]any); ok {
			for k2, v2 := range table {
				out[envKey(k, k2)] = fmt.Sprint(v2)
			}
			continue
		}
		out[envKey(k)] = fmt.Sprint(v)
	}
	return out, nil
}

func envKey(parts ...string) string {
	return strings.ToUpper(strings.Join(parts, "_"))
}

func (s source) envString(key, defaultVal string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return defaultVal
}

func (s source) envInt(key string, defaultVal int) int {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func (s source) envInt64(key string, defaultVal int64) int64 {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func (s source) envFloat(key string, defaultVal float64) float64 {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func (s source) envBool(key string, defaultVal bool) bool {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func (s source) envDuration(key string, defaultVal time.Duration) time.Duration {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func (s source) envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
