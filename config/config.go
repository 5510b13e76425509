// Package config resolves the pipeline configuration from defaults, the
// config.yml file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jz-wilson/catalog-pricer/pipeline/catalog"
	"github.com/jz-wilson/catalog-pricer/pipeline/enrich"
	"github.com/jz-wilson/catalog-pricer/pipeline/sink"
	"github.com/jz-wilson/catalog-pricer/pipeline/supplier"
	"github.com/jz-wilson/catalog-pricer/pricing"
)

const (
	DefaultRawPath       = "products_raw.json"
	DefaultOptimizedPath = "products_optimized.json"
)

// Config is the resolved runtime configuration.
type Config struct {
	Suppliers []supplier.Settings
	Query     supplier.Query
	Filter    catalog.Filter
	OpenAI    enrich.Settings
	Pricing   pricing.PricingConfig

	StrictPrices bool
	Workers      int

	RawPath       string
	OptimizedPath string
	SQLitePath    string

	RedisURL string
	RedisTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string
}

type supplierFile struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	MinOrders *int   `yaml:"min_orders"`
	Enabled   *bool  `yaml:"enabled"`
}

type tierFile struct {
	Min    float64  `yaml:"min"`
	Max    float64  `yaml:"max"`
	Margin *float64 `yaml:"margin"`
}

// configFile mirrors the YAML schema of config.yml.
type configFile struct {
	AutoDrop supplierFile `yaml:"autodrop"`
	Makhazen supplierFile `yaml:"makhazen"`
	OpenAI   struct {
		APIKey      string        `yaml:"api_key"`
		BaseURL     string        `yaml:"base_url"`
		Model       string        `yaml:"model"`
		Temperature *float64      `yaml:"temperature"`
		MaxTokens   *int          `yaml:"max_tokens"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"openai"`
	Settings struct {
		ProfitMargin  []tierFile `yaml:"profit_margin"`
		VATRate       *float64   `yaml:"vat_rate"`
		Categories    []string   `yaml:"categories"`
		MinRating     *float64   `yaml:"min_rating"`
		MinOrders     *float64   `yaml:"min_orders"`
		RequireImages bool       `yaml:"require_images"`
		Market        string     `yaml:"market"`
		Sort          string     `yaml:"sort"`
		Limit         int        `yaml:"limit"`
		StrictPrices  bool       `yaml:"strict_prices"`
		Workers       int        `yaml:"workers"`
	} `yaml:"settings"`
	Outputs struct {
		RawPath       string `yaml:"raw_path"`
		OptimizedPath string `yaml:"optimized_path"`
		SQLitePath    string `yaml:"sqlite_path"`
	} `yaml:"outputs"`
	Redis struct {
		URL string        `yaml:"url"`
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
}

// Default returns the configuration used when no file or env is present.
func Default() Config {
	return Config{
		Suppliers: []supplier.Settings{
			supplier.DefaultSettings(supplier.AutoDrop),
			supplier.DefaultSettings(supplier.Makhazen),
		},
		Query: supplier.Query{
			Categories: supplier.DefaultCategories,
			Sort:       supplier.DefaultSort,
			MinRating:  catalog.DefaultMinRating,
			Limit:      supplier.DefaultLimit,
			Market:     supplier.DefaultMarket,
		},
		Filter:        catalog.DefaultFilter(),
		OpenAI:        enrich.DefaultSettings(),
		Pricing:       pricing.NewPricingConfig(nil, pricing.DefaultVATRate),
		Workers:       1,
		RawPath:       DefaultRawPath,
		OptimizedPath: DefaultOptimizedPath,
		RedisTTL:      enrich.DefaultTTL,
		KafkaTopic:    sink.DefaultKafkaTopic,
	}
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file. Variables already set
// in the environment win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load resolves configuration in priority order: defaults -> file -> env.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		var file configFile
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
		applyFile(&cfg, file)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, file configFile) {
	for i, f := range []supplierFile{file.AutoDrop, file.Makhazen} {
		s := &cfg.Suppliers[i]
		s.APIKey = strings.TrimSpace(f.APIKey)
		if f.BaseURL != "" {
			s.BaseURL = f.BaseURL
		}
		if f.MinOrders != nil {
			s.MinOrders = *f.MinOrders
		}
		if f.Enabled != nil {
			s.Enabled = *f.Enabled
		}
	}

	o := file.OpenAI
	cfg.OpenAI.APIKey = strings.TrimSpace(o.APIKey)
	if o.BaseURL != "" {
		cfg.OpenAI.BaseURL = o.BaseURL
	}
	if o.Model != "" {
		cfg.OpenAI.Model = o.Model
	}
	if o.Temperature != nil {
		cfg.OpenAI.Temperature = *o.Temperature
	}
	if o.MaxTokens != nil {
		cfg.OpenAI.MaxTokens = *o.MaxTokens
	}
	if o.Timeout > 0 {
		cfg.OpenAI.Timeout = o.Timeout
	}

	st := file.Settings
	if len(st.ProfitMargin) > 0 {
		tiers := make([]pricing.MarginTier, 0, len(st.ProfitMargin))
		for _, t := range st.ProfitMargin {
			margin := pricing.DefaultMargin
			if t.Margin != nil {
				margin = *t.Margin
			}
			tiers = append(tiers, pricing.MarginTier{Min: t.Min, Max: t.Max, Margin: margin})
		}
		cfg.Pricing.MarginTiers = tiers
	}
	if st.VATRate != nil {
		vat := *st.VATRate
		cfg.Pricing.VATRate = &vat
	}
	if len(st.Categories) > 0 {
		cfg.Query.Categories = st.Categories
		cfg.Filter.Categories = st.Categories
	}
	if st.MinRating != nil {
		cfg.Query.MinRating = *st.MinRating
		cfg.Filter.MinRating = *st.MinRating
	}
	if st.MinOrders != nil {
		cfg.Filter.MinOrders = *st.MinOrders
	}
	cfg.Filter.RequireImages = st.RequireImages
	if st.Market != "" {
		cfg.Query.Market = st.Market
	}
	if st.Sort != "" {
		cfg.Query.Sort = st.Sort
	}
	if st.Limit > 0 {
		cfg.Query.Limit = st.Limit
	}
	cfg.StrictPrices = st.StrictPrices
	if st.Workers > 0 {
		cfg.Workers = st.Workers
	}

	if file.Outputs.RawPath != "" {
		cfg.RawPath = file.Outputs.RawPath
	}
	if file.Outputs.OptimizedPath != "" {
		cfg.OptimizedPath = file.Outputs.OptimizedPath
	}
	cfg.SQLitePath = file.Outputs.SQLitePath

	cfg.RedisURL = file.Redis.URL
	if file.Redis.TTL > 0 {
		cfg.RedisTTL = file.Redis.TTL
	}
	cfg.KafkaBrokers = file.Kafka.Brokers
	if file.Kafka.Topic != "" {
		cfg.KafkaTopic = file.Kafka.Topic
	}
}

func applyEnv(cfg *Config) error {
	for i := range cfg.Suppliers {
		s := &cfg.Suppliers[i]
		if v := os.Getenv(strings.ToUpper(s.Name) + "_API_KEY"); v != "" {
			s.APIKey = v
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.OpenAI.Model = v
	}
	if v := os.Getenv("VAT_RATE"); v != "" {
		vat, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse VAT_RATE: %w", err)
		}
		cfg.Pricing.VATRate = &vat
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.KafkaTopic = v
	}
	return nil
}

// Validate reports settings that would make a run meaningless.
func (c Config) Validate() error {
	if err := c.Pricing.Validate(); err != nil {
		return err
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.RawPath == "" || c.OptimizedPath == "" {
		return fmt.Errorf("raw and optimized output paths are required")
	}
	return nil
}

// EnabledSuppliers returns the enabled suppliers, restricted to names when
// names is non-empty, in configured order.
func (c Config) EnabledSuppliers(names []string) []supplier.Settings {
	var out []supplier.Settings
	for _, s := range c.Suppliers {
		if !s.Enabled {
			continue
		}
		if len(names) > 0 && !catalog.ContainsFold(names, s.Name) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func splitList(str string) []string {
	var out []string
	for _, part := range strings.Split(str, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
