package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	Config struct {
		App     `json:"app"     yaml:"app"     toml:"app"`
		HTTP    `json:"http"    yaml:"http"    toml:"http"`
		DB      `json:"db"      yaml:"db"      toml:"db"`
		Auth    `json:"auth"    yaml:"auth"    toml:"auth"`
		Market  `json:"market"  yaml:"market"  toml:"market"`
		Redis   `json:"redis"   yaml:"redis"   toml:"redis"`
		Trading `json:"trading" yaml:"trading" toml:"trading"`
		Seed    `json:"seed"    yaml:"seed"    toml:"seed"`
		Log     `json:"logger"  yaml:"logger"  toml:"logger"`
	}

	App struct {
		Name        string `json:"name"        yaml:"name"        toml:"name"        env:"APP_NAME" env-default:"cryptodesk"`
		Environment string `json:"environment" yaml:"environment" toml:"environment" env:"ENV_NAME" env-default:"dev"`
		Debug       bool   `json:"debug"       yaml:"debug"       toml:"debug"       env:"DEBUG"    env-default:"false"`
	}

	HTTP struct {
		Port           string        `json:"port"             yaml:"port"             toml:"port"             env:"HTTP_PORT"          env-default:"8080"`
		ReadTimeout    time.Duration `json:"read_timeout"     yaml:"read_timeout"     toml:"read_timeout"     env:"HTTP_READ_TIMEOUT"  env-default:"10s"`
		WriteTimeout   time.Duration `json:"write_timeout"    yaml:"write_timeout"    toml:"write_timeout"    env:"HTTP_WRITE_TIMEOUT" env-default:"15s"`
		IdleTimeout    time.Duration `json:"idle_timeout"     yaml:"idle_timeout"     toml:"idle_timeout"     env:"HTTP_IDLE_TIMEOUT"  env-default:"60s"`
		AllowedOrigins []string      `json:"allowed_origins"  yaml:"allowed_origins"  toml:"allowed_origins"  env:"HTTP_ALLOWED_ORIGINS" env-default:"*" env-separator:","`
	}

	DB struct {
		DatabaseURL    string        `json:"database_url"    yaml:"database_url"    toml:"database_url"    env:"DATABASE_URL"`
		PoolMax        int32         `json:"pool_max"        yaml:"pool_max"        toml:"pool_max"        env:"PG_POOL_MAX"          env-default:"10"`
		ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout" toml:"connect_timeout" env:"PG_POOL_CONN_TIMEOUT" env-default:"5s"`
	}

	Auth struct {
		JWTSecret string        `json:"jwt_secret" yaml:"jwt_secret" toml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
		TokenTTL  time.Duration `json:"token_ttl"  yaml:"token_ttl"  toml:"token_ttl"  env:"JWT_TTL"    env-default:"24h"`
		Issuer    string        `json:"issuer"     yaml:"issuer"     toml:"issuer"     env:"JWT_ISSUER" env-default:"cryptodesk"`
	}

	Market struct {
		RESTURL         string        `json:"rest_url"           yaml:"rest_url"           toml:"rest_url"           env:"BINANCE_REST_URL"    env-default:"https://api.binance.com"`
		StreamURL       string        `json:"stream_url"         yaml:"stream_url"         toml:"stream_url"         env:"BINANCE_STREAM_URL"  env-default:"wss://stream.binance.com:9443/stream"`
		Symbols         []string      `json:"symbols"            yaml:"symbols"            toml:"symbols"            env:"MARKET_SYMBOLS"      env-default:"BTCUSDT,ETHUSDT,BNBUSDT,SOLUSDT,XRPUSDT" env-separator:","`
		QuoteMaxAge     time.Duration `json:"quote_max_age"      yaml:"quote_max_age"      toml:"quote_max_age"      env:"QUOTE_MAX_AGE"       env-default:"10s"`
		RateLimitPerMin int           `json:"rate_limit_per_min" yaml:"rate_limit_per_min" toml:"rate_limit_per_min" env:"BINANCE_RATE_LIMIT"  env-default:"1200"`
		RequestTimeout  time.Duration `json:"request_timeout"    yaml:"request_timeout"    toml:"request_timeout"    env:"BINANCE_TIMEOUT"     env-default:"10s"`
		StreamEnabled   bool          `json:"stream_enabled"     yaml:"stream_enabled"     toml:"stream_enabled"     env:"MARKET_STREAM"       env-default:"true"`
	}

	Redis struct {
		Addr      string        `json:"addr"       yaml:"addr"       toml:"addr"       env:"REDIS_ADDR"`
		Password  string        `json:"password"   yaml:"password"   toml:"password"   env:"REDIS_PASSWORD"`
		DB        int           `json:"db"         yaml:"db"         toml:"db"         env:"REDIS_DB"         env-default:"0"`
		TTL       time.Duration `json:"ttl"        yaml:"ttl"        toml:"ttl"        env:"REDIS_TTL"        env-default:"1m"`
		KeyPrefix string        `json:"key_prefix" yaml:"key_prefix" toml:"key_prefix" env:"REDIS_KEY_PREFIX" env-default:"cryptodesk:quote:"`
	}

	Trading struct {
		FeeRate        float64 `json:"fee_rate"        yaml:"fee_rate"        toml:"fee_rate"        env:"TRADING_FEE_RATE"        env-default:"0.001"`
		InitialBalance float64 `json:"initial_balance" yaml:"initial_balance" toml:"initial_balance" env:"TRADING_INITIAL_BALANCE" env-default:"10000"`
	}

	// Seed creates the admin and demo trader at startup when AdminPassword is set
	Seed struct {
		AdminPassword  string `json:"admin_password"  yaml:"admin_password"  toml:"admin_password"  env:"ADMIN_PASSWORD"`
		TraderPassword string `json:"trader_password" yaml:"trader_password" toml:"trader_password" env:"DEMO_TRADER_PASSWORD"`
	}

	Log struct {
		Level slog.Level `json:"level" yaml:"level" toml:"level" env:"LOG_LEVEL"`
	}
)

// LoadConfig reads the optional config file at path, then overlays env vars.
// An empty path reads env vars only.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("env read error: %w", err)
	}

	cfg.Market.Symbols = normalizeSymbols(cfg.Market.Symbols)
	if len(cfg.Market.Symbols) == 0 {
		return nil, fmt.Errorf("config error: at least one market symbol is required")
	}
	if cfg.Trading.FeeRate < 0 || cfg.Trading.FeeRate >= 1 {
		return nil, fmt.Errorf("config error: fee rate must be in [0, 1)")
	}

	return cfg, nil
}

// Usage describes every env var the service reads
func Usage() (string, error) {
	cfg := &Config{}
	return cleanenv.GetDescription(cfg, nil)
}

func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
