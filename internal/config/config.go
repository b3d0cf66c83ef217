package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"ai-trade-bot-go/internal/apperrors"
	"ai-trade-bot-go/internal/indicator"
	"ai-trade-bot-go/internal/market"
	"ai-trade-bot-go/internal/risk"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Binance    Binance          `mapstructure:"binance"`
	Advisory   Advisory         `mapstructure:"advisory"`
	Trading    Trading          `mapstructure:"trading"`
	Risk       risk.Limits      `mapstructure:"risk"`
	Indicators indicator.Params `mapstructure:"indicators"`
	Logger     Logger           `mapstructure:"logger"`
	Server     Server           `mapstructure:"server"`
	Database   Database         `mapstructure:"database"`
}

// Binance holds the configuration for the Binance API.
type Binance struct {
	ApiKey           string        `mapstructure:"api_key"`
	ApiSecret        string        `mapstructure:"api_secret"`
	TestnetApiKey    string        `mapstructure:"testnet_api_key"`
	TestnetApiSecret string        `mapstructure:"testnet_api_secret"`
	Testnet          bool          `mapstructure:"testnet"`
	RateLimit        float64       `mapstructure:"rate_limit" validate:"gt=0"`
	RateLimitBurst   int           `mapstructure:"rate_limit_burst" validate:"gt=0"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
}

// Credentials returns the key pair for the selected environment.
func (b Binance) Credentials() (apiKey, apiSecret string) {
	if b.Testnet {
		return b.TestnetApiKey, b.TestnetApiSecret
	}
	return b.ApiKey, b.ApiSecret
}

// Advisory holds the configuration for the chat-completions endpoint.
type Advisory struct {
	BaseURL         string        `mapstructure:"base_url" validate:"required,url"`
	ApiKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model" validate:"required"`
	Temperature     float64       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens       int           `mapstructure:"max_tokens" validate:"gt=0"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxRetries      uint64        `mapstructure:"max_retries"`
	InstructionFile string        `mapstructure:"instruction_file"`
}

// Trading holds the configuration for the scheduler and the lifecycle manager.
type Trading struct {
	Instruments       []string           `mapstructure:"instruments" validate:"required,min=1,dive,required"`
	ProductMode       market.ProductMode `mapstructure:"product_mode" validate:"oneof=SPOT MARGIN"`
	AllowShort        bool               `mapstructure:"allow_short"`
	DryRun            bool               `mapstructure:"dry_run"`
	TickInterval      time.Duration      `mapstructure:"tick_interval" validate:"gt=0"`
	CycleTimeout      time.Duration      `mapstructure:"cycle_timeout" validate:"gt=0"`
	StopGrace         time.Duration      `mapstructure:"stop_grace" validate:"gte=0"`
	TradeAmount       float64            `mapstructure:"trade_amount" validate:"gt=0"`
	RecentTradesLimit int                `mapstructure:"recent_trades_limit" validate:"gte=0"`
	Timeframes        []market.Timeframe `mapstructure:"timeframes" validate:"required,min=1,dive"`
}

// Server holds the configuration for the control surface.
type Server struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"gt=0,lte=65535"`
}

// Addr is the listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn" validate:"required"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Sandbox reports whether positions and metrics belong to a non-production
// account: the testnet or a dry run.
func (c *Config) Sandbox() bool {
	return c.Binance.Testnet || c.Trading.DryRun
}

// LoadConfig reads config.yml from path, a .env file and environment
// variables, applies defaults and validates the result.
func LoadConfig(path string) (config Config, err error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindLegacyEnv(v)
	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, apperrors.Wrap(apperrors.CodeInvalidConfig, "failed to read config file", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, apperrors.Wrap(apperrors.CodeInvalidConfig, "failed to decode config", err)
	}
	if err = config.finalize(); err != nil {
		return config, err
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("binance.testnet", true)
	v.SetDefault("binance.rate_limit", 20)      // requests per second
	v.SetDefault("binance.rate_limit_burst", 5) // burst size
	v.SetDefault("binance.request_timeout", "10s")

	v.SetDefault("advisory.base_url", "https://api.deepseek.com/v1")
	v.SetDefault("advisory.model", "deepseek-chat")
	v.SetDefault("advisory.temperature", 0.3)
	v.SetDefault("advisory.max_tokens", 800)
	v.SetDefault("advisory.timeout", "30s")
	v.SetDefault("advisory.max_retries", 3)
	v.SetDefault("advisory.instruction_file", "")

	v.SetDefault("trading.instruments", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})
	v.SetDefault("trading.product_mode", string(market.ProductSpot))
	v.SetDefault("trading.allow_short", false)
	v.SetDefault("trading.dry_run", false)
	v.SetDefault("trading.tick_interval", "300s")
	v.SetDefault("trading.cycle_timeout", "120s")
	v.SetDefault("trading.stop_grace", "30s")
	v.SetDefault("trading.trade_amount", 1)
	v.SetDefault("trading.recent_trades_limit", 10)
	v.SetDefault("trading.timeframes", []map[string]any{
		{"name": "5m", "interval": "5m", "limit": 200},
		{"name": "1h", "interval": "1h", "limit": 200},
		{"name": "4h", "interval": "4h", "limit": 100},
		{"name": "1d", "interval": "1d", "limit": 100},
	})

	v.SetDefault("risk.min_confidence", 0.6)
	v.SetDefault("risk.max_daily_trades", 10)
	v.SetDefault("risk.max_open_positions", 3)
	v.SetDefault("risk.max_pair_exposure", 20)
	v.SetDefault("risk.max_portfolio_exposure", 50)

	p := indicator.DefaultParams()
	v.SetDefault("indicators.ema_short", p.EMAShort)
	v.SetDefault("indicators.ema_long", p.EMALong)
	v.SetDefault("indicators.macd_signal", p.MACDSignal)
	v.SetDefault("indicators.rsi_period", p.RSIPeriod)
	v.SetDefault("indicators.bb_period", p.BBPeriod)
	v.SetDefault("indicators.bb_stddev", p.BBStdDev)
	v.SetDefault("indicators.atr_period", p.ATRPeriod)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("database.dsn", "trading_bot.db")
}

// bindLegacyEnv accepts the flat variable names used by existing .env files.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("binance.api_key", "BINANCE_API_KEY")
	_ = v.BindEnv("binance.api_secret", "BINANCE_API_SECRET")
	_ = v.BindEnv("binance.testnet_api_key", "BINANCE_TESTNET_API_KEY")
	_ = v.BindEnv("binance.testnet_api_secret", "BINANCE_TESTNET_API_SECRET")
	_ = v.BindEnv("binance.testnet", "BINANCE_TESTNET")
	_ = v.BindEnv("advisory.api_key", "ADVISORY_API_KEY", "DEEPSEEK_API_KEY")
	_ = v.BindEnv("advisory.instruction_file", "ADVISORY_INSTRUCTION_FILE", "DEEPSEEK_INSTRUCTION_PATH")
	_ = v.BindEnv("trading.instruments", "TRADING_INSTRUMENTS", "TRADING_PAIRS")
	_ = v.BindEnv("trading.trade_amount", "TRADING_TRADE_AMOUNT", "TRADING_AMOUNT_QUOTE")
	_ = v.BindEnv("risk.min_confidence", "RISK_MIN_CONFIDENCE", "AI_CONFIDENCE_THRESHOLD")
	_ = v.BindEnv("risk.max_daily_trades", "RISK_MAX_DAILY_TRADES", "MAX_DAILY_TRADES")
	_ = v.BindEnv("risk.max_open_positions", "RISK_MAX_OPEN_POSITIONS", "MAX_OPEN_POSITIONS")
	_ = v.BindEnv("risk.max_pair_exposure", "RISK_MAX_PAIR_EXPOSURE", "MAX_POSITION_PER_PAIR")
	_ = v.BindEnv("risk.max_portfolio_exposure", "RISK_MAX_PORTFOLIO_EXPOSURE", "MAX_PORTFOLIO_EXPOSURE")
}

// finalize resolves derived fields, orders the timeframes shortest first and
// validates everything. Missing credentials are reported as CodeInvalidConfig.
func (c *Config) finalize() error {
	for i := range c.Trading.Instruments {
		c.Trading.Instruments[i] = strings.ToUpper(strings.TrimSpace(c.Trading.Instruments[i]))
	}
	c.Trading.ProductMode = market.ProductMode(strings.ToUpper(string(c.Trading.ProductMode)))

	for i := range c.Trading.Timeframes {
		tf := &c.Trading.Timeframes[i]
		if tf.Interval == "" {
			tf.Interval = tf.Name
		}
		d, err := market.ParseInterval(tf.Interval)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidConfig, "invalid timeframe", err)
		}
		tf.Duration = d
	}
	sort.SliceStable(c.Trading.Timeframes, func(i, j int) bool {
		return c.Trading.Timeframes[i].Duration < c.Trading.Timeframes[j].Duration
	})

	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidConfig, "invalid config", err)
	}
	if err := c.Indicators.Validate(); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidConfig, "invalid indicator windows", err)
	}
	minBars := c.Indicators.MinBars()
	for _, tf := range c.Trading.Timeframes {
		if tf.Limit < minBars {
			return apperrors.Newf(apperrors.CodeInvalidConfig,
				"timeframe %s fetches %d candles, indicators need %d", tf.Name, tf.Limit, minBars)
		}
	}

	if c.Advisory.ApiKey == "" {
		return apperrors.New(apperrors.CodeInvalidConfig, "advisory api key is required")
	}
	if !c.Trading.DryRun {
		if key, secret := c.Binance.Credentials(); key == "" || secret == "" {
			env := "production"
			if c.Binance.Testnet {
				env = "testnet"
			}
			return apperrors.Newf(apperrors.CodeInvalidConfig, "binance %s credentials are required unless dry_run is set", env)
		}
	}
	return nil
}
