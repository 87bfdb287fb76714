package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/finresearch-cli/internal/batch"
	"github.com/sells-group/finresearch-cli/internal/derive"
	"github.com/sells-group/finresearch-cli/internal/extract"
	"github.com/sells-group/finresearch-cli/internal/fetcher"
	"github.com/sells-group/finresearch-cli/internal/model"
	"github.com/sells-group/finresearch-cli/internal/resilience"
	"github.com/sells-group/finresearch-cli/internal/validate"
	"github.com/sells-group/finresearch-cli/internal/waterfall"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Perplexity   PerplexityConfig   `yaml:"perplexity" mapstructure:"perplexity"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Moneycontrol MoneycontrolConfig `yaml:"moneycontrol" mapstructure:"moneycontrol"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Extract      ExtractConfig      `yaml:"extract" mapstructure:"extract"`
	Derive       DeriveConfig       `yaml:"derive" mapstructure:"derive"`
	Validation   ValidateConfig     `yaml:"validate" mapstructure:"validate"`
	Selection    SelectionConfig    `yaml:"selection" mapstructure:"selection"`
	Batch        BatchConfig        `yaml:"batch" mapstructure:"batch"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Retry        RetryConfig        `yaml:"retry" mapstructure:"retry"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url" validate:"required"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns" validate:"gte=0"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	BaseURL      string `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`
	Model        string `yaml:"model" mapstructure:"model" validate:"required"`
	Recency      string `yaml:"recency" mapstructure:"recency" validate:"oneof=day week month year"`
	FinanceFocus bool   `yaml:"finance_focus" mapstructure:"finance_focus"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model" validate:"required"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens" validate:"min=1"`
}

// MoneycontrolConfig configures the results portal scraper.
type MoneycontrolConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"min=1"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int     `yaml:"burst" mapstructure:"burst" validate:"min=1"`
	// Companies extend the built-in directory.
	Companies []model.Company `yaml:"companies" mapstructure:"companies" validate:"dive"`
}

// CacheConfig configures the AI response cache.
type CacheConfig struct {
	Enabled  bool `yaml:"enabled" mapstructure:"enabled"`
	TTLHours int  `yaml:"ttl_hours" mapstructure:"ttl_hours" validate:"gte=0"`
}

// ExtractConfig holds the extraction confidences and sanity guards.
type ExtractConfig struct {
	TableConfidence    float64 `yaml:"table_confidence" mapstructure:"table_confidence" validate:"gte=0,lte=1"`
	KeyValueConfidence float64 `yaml:"key_value_confidence" mapstructure:"key_value_confidence" validate:"gte=0,lte=1"`
	ProseConfidence    float64 `yaml:"prose_confidence" mapstructure:"prose_confidence" validate:"gte=0,lte=1"`
	MinConfidence      float64 `yaml:"min_confidence" mapstructure:"min_confidence" validate:"gte=0,lte=1"`
	CompanyMissPenalty float64 `yaml:"company_miss_penalty" mapstructure:"company_miss_penalty" validate:"gte=0,lte=1"`
	PeriodMissPenalty  float64 `yaml:"period_miss_penalty" mapstructure:"period_miss_penalty" validate:"gte=0,lte=1"`
	PBTEpsilon         float64 `yaml:"pbt_epsilon" mapstructure:"pbt_epsilon" validate:"gte=0"`
	PATFloor           float64 `yaml:"pat_floor" mapstructure:"pat_floor" validate:"gte=0"`
	IncomeCeiling      float64 `yaml:"income_ceiling" mapstructure:"income_ceiling" validate:"gte=0"`
}

// DeriveConfig configures derived metrics.
type DeriveConfig struct {
	PrecedenceConfidence float64  `yaml:"precedence_confidence" mapstructure:"precedence_confidence" validate:"gte=0,lte=1"`
	GrowthMetrics        []string `yaml:"growth_metrics" mapstructure:"growth_metrics"`
}

// ValidateConfig holds the validator thresholds.
type ValidateConfig struct {
	RelTolerance     float64 `yaml:"rel_tolerance" mapstructure:"rel_tolerance" validate:"gte=0,lte=1"`
	AbsTolerance     float64 `yaml:"abs_tolerance" mapstructure:"abs_tolerance" validate:"gte=0"`
	MarginWarn       float64 `yaml:"margin_warn" mapstructure:"margin_warn" validate:"gt=0"`
	MarginError      float64 `yaml:"margin_error" mapstructure:"margin_error" validate:"gtefield=MarginWarn"`
	CurrencyWarnMax  float64 `yaml:"currency_warn_max" mapstructure:"currency_warn_max" validate:"gt=0"`
	CurrencyErrorMax float64 `yaml:"currency_error_max" mapstructure:"currency_error_max" validate:"gtefield=CurrencyWarnMax"`
	TrendThreshold   float64 `yaml:"trend_threshold" mapstructure:"trend_threshold" validate:"gt=0"`
}

// SelectionConfig sets source priority and the acceptance rule. File, when
// set, points at a YAML file with a top-level "selection" key that takes
// precedence.
type SelectionConfig struct {
	Sources          []string `yaml:"sources" mapstructure:"sources" validate:"min=1,dive,oneof=perplexity anthropic moneycontrol"`
	AcceptConfidence float64  `yaml:"accept_confidence" mapstructure:"accept_confidence" validate:"gte=0,lte=1"`
	Critical         []string `yaml:"critical" mapstructure:"critical"`
	File             string   `yaml:"file" mapstructure:"file"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxWorkers      int `yaml:"max_workers" mapstructure:"max_workers" validate:"min=1"`
	ItemTimeoutSecs int `yaml:"item_timeout_secs" mapstructure:"item_timeout_secs" validate:"gte=0"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// RetryConfig configures retries and the per-source breaker.
type RetryConfig struct {
	MaxAttempts         int `yaml:"max_attempts" mapstructure:"max_attempts" validate:"min=1"`
	BaseDelayMs         int `yaml:"base_delay_ms" mapstructure:"base_delay_ms" validate:"gte=0"`
	MaxDelayMs          int `yaml:"max_delay_ms" mapstructure:"max_delay_ms" validate:"gte=0"`
	BreakerThreshold    int `yaml:"breaker_threshold" mapstructure:"breaker_threshold" validate:"gte=0"`
	BreakerCooldownSecs int `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs" validate:"gte=0"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FINRESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("perplexity.key", "FINRESEARCH_PERPLEXITY_KEY", "PERPLEXITY_API_KEY")
	_ = v.BindEnv("anthropic.key", "FINRESEARCH_ANTHROPIC_KEY", "ANTHROPIC_API_KEY")

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := extract.DefaultConfig()
	der := derive.DefaultConfig()
	val := validate.DefaultConfig()
	sel := waterfall.DefaultConfig()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "finresearch.db")
	v.SetDefault("store.max_conns", 8)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("perplexity.key", "")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("perplexity.recency", "month")
	v.SetDefault("perplexity.finance_focus", true)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("moneycontrol.base_url", "https://www.moneycontrol.com")
	v.SetDefault("moneycontrol.user_agent", fetcher.DefaultUserAgent)
	v.SetDefault("moneycontrol.timeout_secs", 30)
	v.SetDefault("moneycontrol.requests_per_second", 0.5)
	v.SetDefault("moneycontrol.burst", 1)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("extract.table_confidence", def.TableConfidence)
	v.SetDefault("extract.key_value_confidence", def.KeyValueConfidence)
	v.SetDefault("extract.prose_confidence", def.ProseConfidence)
	v.SetDefault("extract.min_confidence", def.MinConfidence)
	v.SetDefault("extract.company_miss_penalty", def.CompanyMissPenalty)
	v.SetDefault("extract.period_miss_penalty", def.PeriodMissPenalty)
	v.SetDefault("extract.pbt_epsilon", def.PBTEpsilon)
	v.SetDefault("extract.pat_floor", def.PATFloor)
	v.SetDefault("extract.income_ceiling", def.IncomeCeiling)
	v.SetDefault("derive.precedence_confidence", der.PrecedenceConfidence)
	v.SetDefault("validate.rel_tolerance", val.RelTolerance)
	v.SetDefault("validate.abs_tolerance", val.AbsTolerance)
	v.SetDefault("validate.margin_warn", val.MarginWarn)
	v.SetDefault("validate.margin_error", val.MarginError)
	v.SetDefault("validate.currency_warn_max", val.CurrencyWarnMax)
	v.SetDefault("validate.currency_error_max", val.CurrencyErrorMax)
	v.SetDefault("validate.trend_threshold", val.TrendThreshold)
	v.SetDefault("selection.sources", sel.Sources)
	v.SetDefault("selection.accept_confidence", sel.AcceptConfidence)
	v.SetDefault("selection.file", "")
	v.SetDefault("batch.max_workers", 3)
	v.SetDefault("batch.item_timeout_secs", 300)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_ms", 1000)
	v.SetDefault("retry.max_delay_ms", 20000)
	v.SetDefault("retry.breaker_threshold", 5)
	v.SetDefault("retry.breaker_cooldown_secs", 120)
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return eris.Wrap(err, "config: invalid")
	}
	if _, err := c.Selection.Options(); err != nil {
		return err
	}
	for _, name := range c.Derive.GrowthMetrics {
		spec, ok := model.Lookup(model.IndicatorName(name))
		if !ok || spec.Role != model.RoleGrowth {
			return eris.Errorf("config: derive.growth_metrics: %q is not a growth indicator", name)
		}
	}
	return nil
}

// RequireCredentials checks that every AI source in sources has a key.
func (c *Config) RequireCredentials(sources []string) error {
	var missing []string
	for _, name := range sources {
		switch {
		case name == "perplexity" && c.Perplexity.Key == "":
			missing = append(missing, "perplexity.key is required")
		case name == "anthropic" && c.Anthropic.Key == "":
			missing = append(missing, "anthropic.key is required")
		}
	}
	if len(missing) > 0 {
		return eris.Errorf("config: %s", strings.Join(missing, "; "))
	}
	return nil
}

// Options converts the section into extractor settings.
func (e ExtractConfig) Options() extract.Config {
	cfg := extract.DefaultConfig()
	cfg.TableConfidence = e.TableConfidence
	cfg.KeyValueConfidence = e.KeyValueConfidence
	cfg.ProseConfidence = e.ProseConfidence
	cfg.MinConfidence = e.MinConfidence
	cfg.CompanyMissPenalty = e.CompanyMissPenalty
	cfg.PeriodMissPenalty = e.PeriodMissPenalty
	cfg.PBTEpsilon = e.PBTEpsilon
	cfg.PATFloor = e.PATFloor
	cfg.IncomeCeiling = e.IncomeCeiling
	return cfg
}

// Options converts the section into calculator settings.
func (d DeriveConfig) Options() derive.Config {
	cfg := derive.Config{PrecedenceConfidence: d.PrecedenceConfidence}
	for _, name := range d.GrowthMetrics {
		cfg.GrowthMetrics = append(cfg.GrowthMetrics, model.IndicatorName(name))
	}
	return cfg
}

// Options converts the section into validator settings. Trend metrics and
// critical fields keep their defaults.
func (v ValidateConfig) Options() validate.Config {
	cfg := validate.DefaultConfig()
	cfg.RelTolerance = v.RelTolerance
	cfg.AbsTolerance = v.AbsTolerance
	cfg.MarginWarn = v.MarginWarn
	cfg.MarginError = v.MarginError
	cfg.CurrencyWarnMax = v.CurrencyWarnMax
	cfg.CurrencyErrorMax = v.CurrencyErrorMax
	cfg.TrendThreshold = v.TrendThreshold
	return cfg
}

// Options converts the section into selector settings, reading File when
// set.
func (s SelectionConfig) Options() (waterfall.Config, error) {
	if s.File != "" {
		cfg, err := waterfall.LoadConfig(s.File)
		if err != nil {
			return waterfall.Config{}, err
		}
		return *cfg, nil
	}
	cfg := waterfall.Config{Sources: s.Sources, AcceptConfidence: s.AcceptConfidence}
	for _, name := range s.Critical {
		cfg.Critical = append(cfg.Critical, model.IndicatorName(name))
	}
	if len(cfg.Critical) == 0 {
		cfg.Critical = model.CriticalIndicators()
	}
	if err := cfg.Validate(); err != nil {
		return waterfall.Config{}, eris.Wrap(err, "config: selection")
	}
	return cfg, nil
}

// Options converts the section into orchestrator settings.
func (b BatchConfig) Options() batch.Config {
	return batch.Config{
		MaxWorkers:  b.MaxWorkers,
		ItemTimeout: time.Duration(b.ItemTimeoutSecs) * time.Second,
	}
}

// Policy converts the section into a retry policy.
func (r RetryConfig) Policy() resilience.Policy {
	p := resilience.DefaultPolicy()
	p.MaxAttempts = r.MaxAttempts
	p.BaseDelay = time.Duration(r.BaseDelayMs) * time.Millisecond
	p.MaxDelay = time.Duration(r.MaxDelayMs) * time.Millisecond
	return p
}

// BreakerCooldown returns the cooldown as a duration.
func (r RetryConfig) BreakerCooldown() time.Duration {
	return time.Duration(r.BreakerCooldownSecs) * time.Second
}

// Options converts the section into fetcher settings.
func (m MoneycontrolConfig) Options(retry resilience.Policy) fetcher.Options {
	return fetcher.Options{
		UserAgent:         m.UserAgent,
		Timeout:           time.Duration(m.TimeoutSecs) * time.Second,
		RequestsPerSecond: m.RequestsPerSecond,
		Burst:             m.Burst,
		Retry:             retry,
	}
}

// TTL returns the cache lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
