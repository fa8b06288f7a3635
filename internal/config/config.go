package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/shopspring/decimal"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Env      string `yaml:"env" env:"ENV" env-default:"local" env-description:"Environment" env-choices:"local,dev,prod"`
	ApiPort  int    `yaml:"api_port" env:"API_PORT" env-default:"8080"`
	ApiHost  string `yaml:"api_host" env:"API_HOST" env-default:"localhost"`
	Storage  `yaml:"storage"`
	Postgres `yaml:"postgres"`
	Pricing  `yaml:"pricing"`
	Session  `yaml:"session"`
	Redis    `yaml:"redis"`
	Trading  `yaml:"trading"`
}

type Storage struct {
	Driver     string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"sqlite"`
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH" env-default:"./data/finance.db"`
}

type Postgres struct {
	URL  string `yaml:"url" env:"DATABASE_URL"`
	Host string `yaml:"host" env-default:"localhost"`
	Port string `yaml:"port" env-default:"5432"`
	User string `yaml:"user" env-default:"finance"`
	Pass string `yaml:"pass" env:"POSTGRES_PASSWORD" env-default:"finance"`
	Db   string `yaml:"db" env-default:"finance"`
}

// DSN returns the connection string, preferring an explicit URL.
func (p Postgres) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", p.User, p.Pass, p.Host, p.Port, p.Db)
}

type Pricing struct {
	BaseURL    string        `yaml:"base_url" env:"PRICING_BASE_URL" env-default:"https://cloud.iexapis.com/stable"`
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	Timeout    time.Duration `yaml:"timeout" env-default:"5s"`
	SymbolPath string        `yaml:"symbol_path" env-default:"$.symbol"`
	NamePath   string        `yaml:"name_path" env-default:"$.companyName"`
	PricePath  string        `yaml:"price_path" env-default:"$.latestPrice"`
}

type Session struct {
	Secret     string        `yaml:"secret" env:"SESSION_SECRET"`
	TTL        time.Duration `yaml:"ttl" env-default:"24h"`
	CookieName string        `yaml:"cookie_name" env-default:"session"`
}

// Redis is optional: with an empty Addr sessions are kept in memory and
// quotes are not cached.
type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env-default:"0"`
	QuoteTTL time.Duration `yaml:"quote_ttl" env-default:"15s"`
}

type Trading struct {
	StartingCash string `yaml:"starting_cash" env:"STARTING_CASH" env-default:"10000.00"`
}

// Cash parses the configured starting balance.
func (t Trading) Cash() decimal.Decimal {
	return decimal.RequireFromString(t.StartingCash)
}

func MustLoad() *Config {
	path := fetchConfigPath()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file does not exist: " + path)
	}

	cfg, err := Load(path)
	if err != nil {
		panic("Failed to read config: " + err.Error())
	}

	return cfg
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	cash, err := decimal.NewFromString(c.Trading.StartingCash)
	if err != nil {
		return fmt.Errorf("starting_cash: %w", err)
	}
	if cash.IsNegative() {
		return errors.New("starting_cash must not be negative")
	}

	if c.Session.Secret == "" {
		if c.Env == "prod" {
			return errors.New("session secret is required in prod")
		}
		c.Session.Secret = "local-development-secret"
	}

	if c.Pricing.Timeout <= 0 {
		return errors.New("pricing timeout must be positive")
	}

	return nil
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
